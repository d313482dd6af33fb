// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jeranaias/backroom/internal/model"
	"github.com/jeranaias/backroom/internal/util"
)

// =============================================================================
// FILE STORE
// =============================================================================

// FileStore keeps one JSON file per session.
type FileStore struct {
	// BaseDir is the directory for session files.
	// Default: ~/.backroom/sessions/
	BaseDir string

	// MaxSessions limits stored sessions (0 = unlimited). The least recently
	// updated sessions are removed first.
	MaxSessions int
}

// DefaultSessionDir returns ~/.backroom/sessions.
func DefaultSessionDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".backroom", "sessions"), nil
}

// NewFileStore creates a store rooted at baseDir.
func NewFileStore(baseDir string) (*FileStore, error) {
	if baseDir == "" {
		dir, err := DefaultSessionDir()
		if err != nil {
			return nil, err
		}
		baseDir = dir
	}
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, err
	}
	return &FileStore{BaseDir: baseDir}, nil
}

// Load implements Store.
func (s *FileStore) Load(ctx context.Context, sessionID string) (*model.Conversation, error) {
	if err := checkID(sessionID); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.filePath(sessionID))
	if errors.Is(err, os.ErrNotExist) {
		return model.NewConversation(), nil
	}
	if err != nil {
		return nil, err
	}
	_, conv, err := decode(data)
	return conv, err
}

// Save implements Store.
func (s *FileStore) Save(ctx context.Context, sessionID string, conv *model.Conversation) error {
	if err := checkID(sessionID); err != nil {
		return err
	}
	data, err := encode(sessionID, conv)
	if err != nil {
		return err
	}
	if err := util.AtomicWriteFile(s.filePath(sessionID), data, 0600); err != nil {
		return err
	}
	if s.MaxSessions > 0 {
		s.enforceLimit(ctx)
	}
	return nil
}

// Delete implements Store.
func (s *FileStore) Delete(ctx context.Context, sessionID string) error {
	if err := checkID(sessionID); err != nil {
		return err
	}
	err := os.Remove(s.filePath(sessionID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// List implements Store. Unreadable files are skipped.
func (s *FileStore) List(ctx context.Context) ([]Meta, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if errors.Is(err, os.ErrNotExist) {
		return []Meta{}, nil
	}
	if err != nil {
		return nil, err
	}

	metas := make([]Meta, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.BaseDir, entry.Name()))
		if err != nil {
			continue
		}
		rec, conv, err := decode(data)
		if err != nil {
			continue
		}
		id := rec.SessionID
		if id == "" {
			id = strings.TrimSuffix(entry.Name(), ".json")
		}
		metas = append(metas, metaOf(id, rec.UpdatedAt, conv))
	}
	sortMetas(metas)
	return metas, nil
}

// enforceLimit removes the oldest sessions when over MaxSessions.
func (s *FileStore) enforceLimit(ctx context.Context) {
	metas, err := s.List(ctx)
	if err != nil || len(metas) <= s.MaxSessions {
		return
	}
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.Before(metas[j].UpdatedAt)
	})
	excess := len(metas) - s.MaxSessions
	for i := 0; i < excess; i++ {
		s.Delete(ctx, metas[i].SessionID)
	}
}

// filePath returns the file path for a session id.
func (s *FileStore) filePath(id string) string {
	return filepath.Join(s.BaseDir, id+".json")
}
