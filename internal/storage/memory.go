// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"sync"
	"time"

	"github.com/jeranaias/backroom/internal/model"
)

// MemoryStore keeps conversations in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]memorySlot
}

type memorySlot struct {
	messages  []model.Message
	updatedAt time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]memorySlot)}
}

// Load implements Store.
func (m *MemoryStore) Load(ctx context.Context, sessionID string) (*model.Conversation, error) {
	if err := checkID(sessionID); err != nil {
		return nil, err
	}
	m.mu.RLock()
	slot, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return model.NewConversation(), nil
	}
	return model.FromMessages(slot.messages)
}

// Save implements Store.
func (m *MemoryStore) Save(ctx context.Context, sessionID string, conv *model.Conversation) error {
	if err := checkID(sessionID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionID] = memorySlot{messages: conv.Messages(), updatedAt: time.Now().UTC()}
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

// List implements Store.
func (m *MemoryStore) List(ctx context.Context) ([]Meta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	metas := make([]Meta, 0, len(m.sessions))
	for id, slot := range m.sessions {
		conv, err := model.FromMessages(slot.messages)
		if err != nil {
			continue
		}
		metas = append(metas, metaOf(id, slot.updatedAt, conv))
	}
	sortMetas(metas)
	return metas, nil
}
