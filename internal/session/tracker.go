// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// TRACKER
// =============================================================================

// Tracker keeps activity bookkeeping for live sessions. Idle sessions are
// swept from Touch and RecordTurn at most once per sweep interval.
type Tracker struct {
	mu            sync.Mutex
	sessions      map[string]*Info
	idleTimeout   time.Duration
	sweepInterval time.Duration
	lastSweep     time.Time
	now           func() time.Time
}

// Config holds configuration for the tracker.
type Config struct {
	// IdleTimeout is how long a session may sit idle before it is dropped.
	IdleTimeout time.Duration

	// SweepInterval is the minimum time between idle sweeps.
	SweepInterval time.Duration
}

// DefaultConfig returns the default tracker configuration.
func DefaultConfig() Config {
	return Config{IdleTimeout: time.Hour, SweepInterval: time.Minute}
}

// Info describes one session's activity.
type Info struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	StartTime    time.Time `json:"start_time"`
	LastActivity time.Time `json:"last_activity"`
	Turns        int       `json:"turns"`
	Failures     int       `json:"failures"`
}

// IdleTime returns how long since last activity.
func (i Info) IdleTime(now time.Time) time.Duration {
	return now.Sub(i.LastActivity)
}

// NewTracker creates a tracker.
func NewTracker(cfg Config) *Tracker {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultConfig().IdleTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig().SweepInterval
	}
	return &Tracker{
		sessions:      make(map[string]*Info),
		idleTimeout:   cfg.IdleTimeout,
		sweepInterval: cfg.SweepInterval,
		now:           time.Now,
	}
}

// Touch records activity for a session, creating it on first sight.
func (t *Tracker) Touch(id, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.touchLocked(id, userID)
}

func (t *Tracker) touchLocked(id, userID string) *Info {
	now := t.now()
	if now.Sub(t.lastSweep) >= t.sweepInterval {
		t.pruneLocked(now)
		t.lastSweep = now
	}
	info, ok := t.sessions[id]
	if !ok {
		info = &Info{ID: id, UserID: userID, StartTime: now}
		t.sessions[id] = info
	}
	if userID != "" {
		info.UserID = userID
	}
	info.LastActivity = now
	return info
}

// RecordTurn counts a committed or failed turn.
func (t *Tracker) RecordTurn(id string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	info := t.touchLocked(id, "")
	if ok {
		info.Turns++
	} else {
		info.Failures++
	}
}

// Forget drops a session's bookkeeping.
func (t *Tracker) Forget(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, id)
}

// Get returns a copy of a session's info.
func (t *Tracker) Get(id string) (Info, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	info, ok := t.sessions[id]
	if !ok {
		return Info{}, false
	}
	return *info, true
}

// Snapshot returns every session, most recently active first.
func (t *Tracker) Snapshot() []Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Info, 0, len(t.sessions))
	for _, info := range t.sessions {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity.After(out[j].LastActivity) })
	return out
}

// Len returns the number of sessions active within the idle timeout.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	n := 0
	for _, info := range t.sessions {
		if info.IdleTime(now) < t.idleTimeout {
			n++
		}
	}
	return n
}

// Prune drops sessions idle longer than the timeout and returns how many.
func (t *Tracker) Prune() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pruneLocked(t.now())
}

func (t *Tracker) pruneLocked(now time.Time) int {
	n := 0
	for id, info := range t.sessions {
		if info.IdleTime(now) >= t.idleTimeout {
			delete(t.sessions, id)
			n++
		}
	}
	return n
}

// =============================================================================
// HELPERS
// =============================================================================

// NewID mints a session id.
func NewID() string {
	return uuid.NewString()
}

// ValidID reports whether id is acceptable as a client-supplied session id.
func ValidID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
		default:
			return false
		}
	}
	return true
}

// FormatDuration returns a human-readable duration string.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return strconv.Itoa(int(d.Seconds())) + "s"
	}
	if d >= time.Hour {
		hours := int(d.Hours())
		mins := int(d.Minutes()) % 60
		if mins == 0 {
			return strconv.Itoa(hours) + "h"
		}
		return strconv.Itoa(hours) + "h " + strconv.Itoa(mins) + "m"
	}
	mins := int(d.Minutes())
	secs := int(d.Seconds()) % 60
	if secs == 0 {
		return strconv.Itoa(mins) + "m"
	}
	return strconv.Itoa(mins) + "m " + strconv.Itoa(secs) + "s"
}
