// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// TURN STATES
// =============================================================================

// State is a step of the turn state machine.
type State string

const (
	StateIdle                   State = "Idle"
	StateAwaitingModelSelection State = "AwaitingModelSelection"
	StateAwaitingAdapterResult  State = "AwaitingAdapterResult"
	StateCommitted              State = "Committed"
	StateFailed                 State = "Failed"
)

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateFailed
}

// =============================================================================
// TURN EVENT
// =============================================================================

// TurnEvent is the outcome of one sub-turn.
type TurnEvent struct {
	ID        string        `json:"id"`
	SessionID string        `json:"session_id"`
	UserID    string        `json:"user_id"`
	ModelID   string        `json:"model_id,omitempty"`
	Index     int           `json:"index"`
	State     State         `json:"state"`
	ErrorKind string        `json:"error_kind,omitempty"`
	Status    int           `json:"status,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
	At        time.Time     `json:"at"`
}

// NewTurnEvent stamps an event with a fresh id and the current time.
func NewTurnEvent(sessionID, userID string, index int) TurnEvent {
	return TurnEvent{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		UserID:    userID,
		Index:     index,
		State:     StateIdle,
		At:        time.Now().UTC(),
	}
}

// OK reports whether the sub-turn committed.
func (e TurnEvent) OK() bool {
	return e.State == StateCommitted
}

// =============================================================================
// RECORDERS
// =============================================================================

// Recorder receives turn events. Implementations must be safe for concurrent use
// and must not block the caller for long.
type Recorder interface {
	Record(ctx context.Context, ev TurnEvent)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, ev TurnEvent)

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, ev TurnEvent) {
	f(ctx, ev)
}

// Nop discards events.
type Nop struct{}

// Record implements Recorder.
func (Nop) Record(context.Context, TurnEvent) {}

// Multi fans an event out to every non-nil recorder in order.
type Multi []Recorder

// Record implements Recorder.
func (m Multi) Record(ctx context.Context, ev TurnEvent) {
	for _, r := range m {
		if r != nil {
			r.Record(ctx, ev)
		}
	}
}
