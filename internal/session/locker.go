// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"sync"
)

// ErrBusy is returned by TryAcquire when another turn holds the session.
var ErrBusy = errors.New("session is busy")

// =============================================================================
// LOCKER
// =============================================================================

// Locker grants at most one holder per session id.
// Idle entries are reference counted and freed when nobody holds or waits.
type Locker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewLocker creates an empty locker.
func NewLocker() *Locker {
	return &Locker{slots: make(map[string]*slot)}
}

// TryAcquire takes the session without waiting, or returns ErrBusy.
func (l *Locker) TryAcquire(id string) (release func(), err error) {
	s := l.ref(id)
	select {
	case s.ch <- struct{}{}:
		return l.releaser(id, s), nil
	default:
		l.unref(id)
		return nil, ErrBusy
	}
}

// Acquire waits for the session until ctx is done.
func (l *Locker) Acquire(ctx context.Context, id string) (release func(), err error) {
	s := l.ref(id)
	select {
	case s.ch <- struct{}{}:
		return l.releaser(id, s), nil
	case <-ctx.Done():
		l.unref(id)
		return nil, ctx.Err()
	}
}

// Held returns how many sessions currently have a holder or waiter.
func (l *Locker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}

func (l *Locker) ref(id string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[id]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[id] = s
	}
	s.refs++
	return s
}

func (l *Locker) unref(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[id]
	if !ok {
		return
	}
	s.refs--
	if s.refs <= 0 {
		delete(l.slots, id)
	}
}

// releaser returns an idempotent release func.
func (l *Locker) releaser(id string, s *slot) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.unref(id)
		})
	}
}
