// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package credentials

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when no key exists for a (user, model) pair.
	ErrNotFound = errors.New("credential not found")

	// ErrReadOnly is returned by stores that cannot be written to.
	ErrReadOnly = errors.New("credential store is read-only")

	// ErrInvalidKey is returned for empty user, model or secret values.
	ErrInvalidKey = errors.New("user id, model id and key are required")
)

// =============================================================================
// STORE INTERFACE
// =============================================================================

// Store holds API keys scoped to (user, model).
type Store interface {
	// Get returns the key, or ErrNotFound.
	Get(ctx context.Context, userID, modelID string) (string, error)

	// Put inserts or replaces a key.
	Put(ctx context.Context, userID, modelID, secret string) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, userID, modelID string) error

	// List returns the keys a user has, without secrets.
	List(ctx context.Context, userID string) ([]Entry, error)
}

// Entry describes a stored key without revealing it.
type Entry struct {
	UserID    string    `json:"user_id"`
	ModelID   string    `json:"model_id"`
	Source    string    `json:"source"`
	UpdatedAt time.Time `json:"updated_at"`
}

func validate(userID, modelID, secret string) error {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(modelID) == "" || strings.TrimSpace(secret) == "" {
		return ErrInvalidKey
	}
	return nil
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].ModelID < entries[j].ModelID })
}

// =============================================================================
// MEMORY STORE
// =============================================================================

// MemoryStore keeps keys in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	keys map[string]map[string]memoryEntry
}

type memoryEntry struct {
	secret    string
	updatedAt time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string]map[string]memoryEntry)}
}

// Get implements Store.
func (m *MemoryStore) Get(ctx context.Context, userID, modelID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.keys[userID][modelID]
	if !ok {
		return "", ErrNotFound
	}
	return e.secret, nil
}

// Put implements Store.
func (m *MemoryStore) Put(ctx context.Context, userID, modelID, secret string) error {
	if err := validate(userID, modelID, secret); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys[userID] == nil {
		m.keys[userID] = make(map[string]memoryEntry)
	}
	m.keys[userID][modelID] = memoryEntry{secret: secret, updatedAt: time.Now().UTC()}
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(ctx context.Context, userID, modelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys[userID], modelID)
	return nil
}

// List implements Store.
func (m *MemoryStore) List(ctx context.Context, userID string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]Entry, 0, len(m.keys[userID]))
	for modelID, e := range m.keys[userID] {
		entries = append(entries, Entry{UserID: userID, ModelID: modelID, Source: "memory", UpdatedAt: e.updatedAt})
	}
	sortEntries(entries)
	return entries, nil
}

// =============================================================================
// CHAIN
// =============================================================================

// Chain consults stores in order. Reads fall through on ErrNotFound;
// writes go to the first store.
type Chain []Store

// Get implements Store.
func (c Chain) Get(ctx context.Context, userID, modelID string) (string, error) {
	for _, s := range c {
		secret, err := s.Get(ctx, userID, modelID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		return secret, err
	}
	return "", ErrNotFound
}

// Put implements Store.
func (c Chain) Put(ctx context.Context, userID, modelID, secret string) error {
	if len(c) == 0 {
		return ErrReadOnly
	}
	return c[0].Put(ctx, userID, modelID, secret)
}

// Delete implements Store.
func (c Chain) Delete(ctx context.Context, userID, modelID string) error {
	if len(c) == 0 {
		return ErrReadOnly
	}
	return c[0].Delete(ctx, userID, modelID)
}

// List merges entries from every store; earlier stores win on duplicates.
func (c Chain) List(ctx context.Context, userID string) ([]Entry, error) {
	seen := make(map[string]bool)
	var out []Entry
	for _, s := range c {
		entries, err := s.List(ctx, userID)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if !seen[e.ModelID] {
				seen[e.ModelID] = true
				out = append(out, e)
			}
		}
	}
	sortEntries(out)
	return out, nil
}
