// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package credentials

import (
	"context"
	"os"
	"strings"

	"github.com/jeranaias/backroom/internal/model"
)

// EnvStore reads keys from the environment variable named by each model's
// api_key_env. The same key serves every user.
type EnvStore struct {
	vars   map[string]string
	getenv func(string) string
}

// NewEnvStore creates a store for the given model catalog.
func NewEnvStore(models []model.ModelConfig) *EnvStore {
	vars := make(map[string]string, len(models))
	for _, m := range models {
		if m.APIKeyEnv != "" {
			vars[m.ModelID] = m.APIKeyEnv
		}
	}
	return &EnvStore{vars: vars, getenv: os.Getenv}
}

// WithGetenv replaces the environment lookup, for tests.
func (e *EnvStore) WithGetenv(fn func(string) string) *EnvStore {
	e.getenv = fn
	return e
}

// Get implements Store.
func (e *EnvStore) Get(ctx context.Context, userID, modelID string) (string, error) {
	name, ok := e.vars[modelID]
	if !ok {
		return "", ErrNotFound
	}
	secret := strings.TrimSpace(e.getenv(name))
	if secret == "" {
		return "", ErrNotFound
	}
	return secret, nil
}

// Put implements Store.
func (e *EnvStore) Put(ctx context.Context, userID, modelID, secret string) error {
	return ErrReadOnly
}

// Delete implements Store.
func (e *EnvStore) Delete(ctx context.Context, userID, modelID string) error {
	return ErrReadOnly
}

// List reports which models have a key in the environment.
func (e *EnvStore) List(ctx context.Context, userID string) ([]Entry, error) {
	var entries []Entry
	for modelID, name := range e.vars {
		if strings.TrimSpace(e.getenv(name)) != "" {
			entries = append(entries, Entry{UserID: userID, ModelID: modelID, Source: "env:" + name})
		}
	}
	sortEntries(entries)
	return entries, nil
}
