// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// HELPERS
// =============================================================================

func committed(model string, d time.Duration) TurnEvent {
	ev := NewTurnEvent("s1", "u1", 0)
	ev.ModelID = model
	ev.State = StateCommitted
	ev.Duration = d
	return ev
}

func failed(model, kind string) TurnEvent {
	ev := NewTurnEvent("s1", "u1", 1)
	ev.ModelID = model
	ev.State = StateFailed
	ev.ErrorKind = kind
	return ev
}

type fakeChannel struct {
	mu        sync.Mutex
	published []amqp.Publishing
	keys      []string
	err       error
	closed    bool
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.keys = append(f.keys, key)
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

// =============================================================================
// STATS TESTS
// =============================================================================

func TestStats_Record(t *testing.T) {
	s := NewStats()
	ctx := context.Background()

	s.Record(ctx, committed("gpt-4o", 100*time.Millisecond))
	s.Record(ctx, committed("gpt-4o", 300*time.Millisecond))
	s.Record(ctx, failed("claude-3-opus-20240229", "HTTPError"))
	s.Record(ctx, NewTurnEvent("s1", "u1", 2)) // Idle, ignored

	snap := s.Snapshot()
	assert.Equal(t, int64(3), snap.TotalTurns)
	assert.Equal(t, int64(2), snap.Committed)
	assert.Equal(t, int64(1), snap.Failed)
	assert.Equal(t, int64(1), snap.ByErrorKind["HTTPError"])
	assert.Equal(t, int64(2), snap.ByModel["gpt-4o"].Turns)
	assert.Equal(t, 200*time.Millisecond, snap.ByModel["gpt-4o"].AvgDuration())
	assert.Equal(t, int64(1), snap.ByModel["claude-3-opus-20240229"].Failures)
}

func TestStats_FailureWithoutModel(t *testing.T) {
	s := NewStats()
	s.Record(context.Background(), failed("", "InvalidInput"))

	snap := s.Snapshot()
	assert.Empty(t, snap.ByModel)
	assert.Equal(t, int64(1), snap.ByErrorKind["InvalidInput"])
}

func TestStats_SnapshotIsCopy(t *testing.T) {
	s := NewStats()
	s.Record(context.Background(), committed("gpt-4o", 0))
	snap := s.Snapshot()
	snap.ByModel["gpt-4o"] = ModelStats{Turns: 99}

	assert.Equal(t, int64(1), s.Snapshot().ByModel["gpt-4o"].Turns)
}

// =============================================================================
// MULTI TESTS
// =============================================================================

func TestMulti(t *testing.T) {
	var got []string
	a := RecorderFunc(func(_ context.Context, ev TurnEvent) { got = append(got, "a:"+ev.ModelID) })
	b := RecorderFunc(func(_ context.Context, ev TurnEvent) { got = append(got, "b:"+ev.ModelID) })

	Multi{a, nil, b, Nop{}}.Record(context.Background(), committed("m", 0))
	assert.Equal(t, []string{"a:m", "b:m"}, got)
}

func TestState_Terminal(t *testing.T) {
	assert.True(t, StateCommitted.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateIdle.Terminal())
	assert.False(t, StateAwaitingAdapterResult.Terminal())
}

// =============================================================================
// AMQP TESTS
// =============================================================================

func TestAMQPPublisher_Publish(t *testing.T) {
	ch := &fakeChannel{}
	p := newAMQPPublisher(ch, "turns")

	ev := committed("gpt-4o", time.Second)
	p.Record(context.Background(), ev)

	require.Len(t, ch.published, 1)
	msg := ch.published[0]
	assert.Equal(t, "turns", ch.keys[0])
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, ev.ID, msg.MessageId)

	var decoded TurnEvent
	require.NoError(t, json.Unmarshal(msg.Body, &decoded))
	assert.Equal(t, ev.ModelID, decoded.ModelID)
	assert.Equal(t, StateCommitted, decoded.State)
	assert.Equal(t, time.Second, decoded.Duration)
}

func TestAMQPPublisher_SkipsNonTerminal(t *testing.T) {
	ch := &fakeChannel{}
	newAMQPPublisher(ch, "turns").Record(context.Background(), NewTurnEvent("s", "u", 0))
	assert.Empty(t, ch.published)
}

func TestAMQPPublisher_FailureIsNotFatal(t *testing.T) {
	ch := &fakeChannel{err: errors.New("broker gone")}
	p := newAMQPPublisher(ch, "turns")

	assert.NotPanics(t, func() { p.Record(context.Background(), failed("m", "TransportError")) })
	assert.Error(t, p.Publish(context.Background(), failed("m", "TransportError")))
}

func TestAMQPPublisher_Close(t *testing.T) {
	ch := &fakeChannel{}
	require.NoError(t, newAMQPPublisher(ch, "q").Close())
	assert.True(t, ch.closed)

	var nilPub *AMQPPublisher
	assert.NoError(t, nilPub.Close())
}

func TestDialAMQP_EmptyURL(t *testing.T) {
	_, err := DialAMQP("", "")
	assert.Error(t, err)
}
