// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package scheduler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/backroom/internal/model"
	"github.com/jeranaias/backroom/internal/turnerr"
)

func conversationWith(assistants int) *model.Conversation {
	conv := model.NewConversation()
	conv.SeedSystem("sys")
	for i := 0; i < assistants; i++ {
		conv.AppendUser("q")
		conv.AppendAssistant("a", "m")
	}
	return conv
}

func TestRoundRobin_IndexAfterKTurns(t *testing.T) {
	roster := []string{"a", "b", "c"}
	for k := 0; k < 10; k++ {
		got, err := RoundRobin{}.Next(roster, conversationWith(k))
		require.NoError(t, err)
		assert.Equal(t, roster[k%3], got, "after %d turns", k)
	}
}

func TestRoundRobin_ClearResetsToFirst(t *testing.T) {
	roster := []string{"gpt-4o", "gpt-4o-mini"}
	conv := conversationWith(3)

	got, _ := RoundRobin{}.Next(roster, conv)
	assert.Equal(t, "gpt-4o-mini", got)

	conv.Clear()
	got, err := RoundRobin{}.Next(roster, conv)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", got)
}

func TestRoundRobin_EmptyRoster(t *testing.T) {
	_, err := RoundRobin{}.Next(nil, conversationWith(0))
	assert.True(t, errors.Is(err, ErrEmptyRoster))
	assert.Equal(t, turnerr.ConfigError, turnerr.KindOf(err))
}

func TestRoundRobin_NilConversation(t *testing.T) {
	got, err := RoundRobin{}.Next([]string{"only"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "only", got)
}

func TestFunc(t *testing.T) {
	var s Scheduler = Func(func(roster []string, conv *model.Conversation) (string, error) {
		return roster[len(roster)-1], nil
	})
	got, err := s.Next([]string{"a", "b"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "b", got)
}
