// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// STATS
// =============================================================================

// ModelStats holds counters for one model.
type ModelStats struct {
	Turns         int64         `json:"turns"`
	Failures      int64         `json:"failures"`
	TotalDuration time.Duration `json:"total_duration_ns"`
}

// AvgDuration returns the mean adapter time per attempt.
func (m ModelStats) AvgDuration() time.Duration {
	n := m.Turns + m.Failures
	if n == 0 {
		return 0
	}
	return m.TotalDuration / time.Duration(n)
}

// Snapshot is a point-in-time copy of Stats.
type Snapshot struct {
	StartTime   time.Time             `json:"start_time"`
	Uptime      string                `json:"uptime"`
	TotalTurns  int64                 `json:"total_turns"`
	Committed   int64                 `json:"committed"`
	Failed      int64                 `json:"failed"`
	ByModel     map[string]ModelStats `json:"by_model"`
	ByErrorKind map[string]int64      `json:"by_error_kind"`
	LastEventAt time.Time             `json:"last_event_at,omitempty"`
}

// Stats aggregates turn events in memory.
type Stats struct {
	mu          sync.Mutex
	startTime   time.Time
	committed   int64
	failed      int64
	byModel     map[string]*ModelStats
	byErrorKind map[string]int64
	lastEventAt time.Time
}

// NewStats creates an empty Stats.
func NewStats() *Stats {
	return &Stats{
		startTime:   time.Now(),
		byModel:     make(map[string]*ModelStats),
		byErrorKind: make(map[string]int64),
	}
}

// Record implements Recorder. Non-terminal events are ignored.
func (s *Stats) Record(_ context.Context, ev TurnEvent) {
	if !ev.State.Terminal() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ms := s.byModel[ev.ModelID]
	if ev.ModelID != "" && ms == nil {
		ms = &ModelStats{}
		s.byModel[ev.ModelID] = ms
	}

	if ev.OK() {
		s.committed++
		if ms != nil {
			ms.Turns++
		}
	} else {
		s.failed++
		s.byErrorKind[ev.ErrorKind]++
		if ms != nil {
			ms.Failures++
		}
	}
	if ms != nil {
		ms.TotalDuration += ev.Duration
	}
	s.lastEventAt = ev.At
}

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		StartTime:   s.startTime,
		Uptime:      time.Since(s.startTime).Round(time.Second).String(),
		TotalTurns:  s.committed + s.failed,
		Committed:   s.committed,
		Failed:      s.failed,
		ByModel:     make(map[string]ModelStats, len(s.byModel)),
		ByErrorKind: make(map[string]int64, len(s.byErrorKind)),
		LastEventAt: s.lastEventAt,
	}
	for k, v := range s.byModel {
		snap.ByModel[k] = *v
	}
	for k, v := range s.byErrorKind {
		snap.ByErrorKind[k] = v
	}
	return snap
}

// Uptime returns the time since the stats were created.
func (s *Stats) Uptime() time.Duration {
	return time.Since(s.startTime)
}
