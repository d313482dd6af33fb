// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jeranaias/backroom/internal/model"
)

// =============================================================================
// STORE INTERFACE
// =============================================================================

// Store is a durable read/replace slot per session.
type Store interface {
	// Load returns the stored conversation, or an empty one if the session is new.
	Load(ctx context.Context, sessionID string) (*model.Conversation, error)

	// Save replaces the stored conversation.
	Save(ctx context.Context, sessionID string, conv *model.Conversation) error

	// Delete removes the session. Deleting a missing session is not an error.
	Delete(ctx context.Context, sessionID string) error

	// List returns metadata for stored sessions, most recently updated first.
	List(ctx context.Context) ([]Meta, error)
}

// Meta describes a stored session for listings.
type Meta struct {
	SessionID      string    `json:"session_id"`
	MessageCount   int       `json:"message_count"`
	AssistantCount int       `json:"assistant_count"`
	UpdatedAt      time.Time `json:"updated_at"`
	Preview        string    `json:"preview"`
}

// previewLen is the rune length of Meta.Preview.
const previewLen = 80

// =============================================================================
// ERRORS
// =============================================================================

// ErrInvalidSessionID is returned for ids that cannot be used as a storage key.
var ErrInvalidSessionID = &StoreError{Message: "invalid session id"}

// ErrCorrupt is returned when a stored conversation cannot be decoded.
var ErrCorrupt = &StoreError{Message: "stored conversation is corrupt"}

// StoreError represents a storage error. Compare with errors.Is.
type StoreError struct {
	Message string
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return e.Message
}

// Is implements errors.Is support for comparing store errors.
func (e *StoreError) Is(target error) bool {
	t, ok := target.(*StoreError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

// =============================================================================
// SHARED ENCODING
// =============================================================================

// record is the JSON form used by the file and redis backends.
type record struct {
	SessionID string          `json:"session_id"`
	UpdatedAt time.Time       `json:"updated_at"`
	Messages  []model.Message `json:"messages"`
}

func encode(sessionID string, conv *model.Conversation) ([]byte, error) {
	rec := record{
		SessionID: sessionID,
		UpdatedAt: time.Now().UTC(),
		Messages:  conv.Messages(),
	}
	return json.MarshalIndent(rec, "", "  ")
}

func decode(data []byte) (record, *model.Conversation, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return record{}, nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	conv, err := model.FromMessages(rec.Messages)
	if err != nil {
		return record{}, nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return rec, conv, nil
}

func metaOf(sessionID string, updated time.Time, conv *model.Conversation) Meta {
	return Meta{
		SessionID:      sessionID,
		MessageCount:   conv.Len(),
		AssistantCount: conv.AssistantCount(),
		UpdatedAt:      updated,
		Preview:        strings.ReplaceAll(conv.Preview(previewLen), "\n", " "),
	}
}

func sortMetas(metas []Meta) {
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
	})
}

// maxKeyLen bounds storage keys: a user-scoped prefix plus a session id.
const maxKeyLen = 160

// checkID rejects ids that are empty, too long, or unsafe as file names and keys.
func checkID(id string) error {
	if id == "" || len(id) > maxKeyLen || id == "." || id == ".." {
		return ErrInvalidSessionID
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
		default:
			return ErrInvalidSessionID
		}
	}
	return nil
}
