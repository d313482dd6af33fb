// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package scheduler decides which model answers the next turn.
//
// The built-in policy is round-robin keyed on how many assistant messages the
// conversation already holds, so the rotation survives restarts and resets
// to the first roster entry whenever the conversation is cleared.
package scheduler

import (
	"github.com/jeranaias/backroom/internal/model"
	"github.com/jeranaias/backroom/internal/turnerr"
)

// ErrEmptyRoster is returned when there is no model to choose from.
var ErrEmptyRoster = turnerr.New(turnerr.ConfigError, "model roster is empty")

// Scheduler picks the model for the next assistant turn.
type Scheduler interface {
	Next(roster []string, conv *model.Conversation) (string, error)
}

// Func adapts a plain function to the Scheduler interface.
type Func func(roster []string, conv *model.Conversation) (string, error)

// Next calls f.
func (f Func) Next(roster []string, conv *model.Conversation) (string, error) {
	return f(roster, conv)
}

// RoundRobin selects roster[assistantCount % len(roster)].
type RoundRobin struct{}

// Next implements Scheduler.
func (RoundRobin) Next(roster []string, conv *model.Conversation) (string, error) {
	if len(roster) == 0 {
		return "", ErrEmptyRoster
	}
	n := 0
	if conv != nil {
		n = conv.AssistantCount()
	}
	return roster[n%len(roster)], nil
}
