// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package registry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/backroom/internal/adapter"
	"github.com/jeranaias/backroom/internal/credentials"
	"github.com/jeranaias/backroom/internal/model"
	"github.com/jeranaias/backroom/internal/turnerr"
)

type failingStore struct{ *credentials.MemoryStore }

func (failingStore) Get(ctx context.Context, userID, modelID string) (string, error) {
	return "", errors.New("database is locked")
}

func newTestRegistry(t *testing.T, creds credentials.Store) *Registry {
	t.Helper()
	r, err := New(model.DefaultModels(), model.DefaultRoster(), creds)
	require.NoError(t, err)
	return r
}

// =============================================================================
// RESOLVE
// =============================================================================

func TestResolve(t *testing.T) {
	r := newTestRegistry(t, credentials.NewMemoryStore())

	a, cfg, err := r.Resolve("gpt-4o")
	require.NoError(t, err)
	assert.IsType(t, &adapter.OpenAI{}, a)
	assert.Equal(t, model.FamilyOpenAI, cfg.ProviderFamily)

	a, _, err = r.Resolve("claude-3-5-sonnet-latest")
	require.NoError(t, err)
	assert.IsType(t, &adapter.Anthropic{}, a)

	_, _, err = r.Resolve("gpt-5-turbo-ultra")
	assert.True(t, errors.Is(err, turnerr.ErrUnsupportedModel))
}

func TestResolve_UnknownFamilyFailsClosed(t *testing.T) {
	models := []model.ModelConfig{{
		ModelID:        "local",
		ProviderFamily: "ollama",
		EndpointURL:    "http://localhost:11434/api/chat",
	}}
	r, err := New(models, nil, nil)
	require.NoError(t, err)

	_, _, err = r.Resolve("local")
	assert.Equal(t, turnerr.UnsupportedModel, turnerr.KindOf(err))

	r.RegisterAdapter("ollama", adapter.Func(func(context.Context, model.ModelConfig, []model.Message, model.Credential, model.GenerationParams) (string, error) {
		return "ok", nil
	}))
	_, _, err = r.Resolve("local")
	assert.NoError(t, err)
	assert.Contains(t, r.Families(), "ollama")
}

// =============================================================================
// CREDENTIALS
// =============================================================================

func TestResolveCredential(t *testing.T) {
	ctx := context.Background()
	store := credentials.NewMemoryStore()
	require.NoError(t, store.Put(ctx, "u1", "gpt-4o", " sk-test "))
	r := newTestRegistry(t, store)

	cred, err := r.ResolveCredential(ctx, "u1", "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cred.Secret())
	assert.Equal(t, "gpt-4o", cred.ModelID)

	_, err = r.ResolveCredential(ctx, "u1", "gpt-4o-mini")
	assert.Equal(t, turnerr.MissingCredential, turnerr.KindOf(err))

	_, err = r.ResolveCredential(ctx, "u2", "gpt-4o")
	assert.Equal(t, turnerr.MissingCredential, turnerr.KindOf(err))
}

func TestResolveCredential_StoreFailure(t *testing.T) {
	r := newTestRegistry(t, failingStore{credentials.NewMemoryStore()})
	_, err := r.ResolveCredential(context.Background(), "u1", "gpt-4o")
	assert.Equal(t, turnerr.StorageFailure, turnerr.KindOf(err))

	r = newTestRegistry(t, nil)
	_, err = r.ResolveCredential(context.Background(), "u1", "gpt-4o")
	assert.Equal(t, turnerr.MissingCredential, turnerr.KindOf(err))
}

// =============================================================================
// REPLACE
// =============================================================================

func TestReplace(t *testing.T) {
	r := newTestRegistry(t, nil)

	err := r.Replace(model.DefaultModels(), []string{"gpt-4o", "missing"})
	assert.Equal(t, turnerr.ConfigError, turnerr.KindOf(err))
	assert.Equal(t, model.DefaultRoster(), r.Roster(), "failed replace keeps the old roster")

	dup := append(model.DefaultModels(), model.DefaultModels()[0])
	assert.Error(t, r.Replace(dup, nil))

	require.NoError(t, r.Replace(model.DefaultModels(), model.ClaudeRoster()))
	assert.Equal(t, model.ClaudeRoster(), r.Roster())
	assert.Len(t, r.Models(), 6)
	assert.Equal(t, "gpt-4", r.Models()[0].ModelID, "models keep declaration order")
}

func TestRoster_ReturnsCopy(t *testing.T) {
	r := newTestRegistry(t, nil)
	roster := r.Roster()
	roster[0] = "changed"
	assert.Equal(t, "gpt-4o", r.Roster()[0])
}

func TestRegistry_ConcurrentReplaceAndResolve(t *testing.T) {
	r := newTestRegistry(t, nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _, _ = r.Resolve("gpt-4o")
			_ = r.Roster()
		}()
		go func(i int) {
			defer wg.Done()
			roster := model.DefaultRoster()
			if i%2 == 0 {
				roster = model.ClaudeRoster()
			}
			_ = r.Replace(model.DefaultModels(), roster)
		}(i)
	}
	wg.Wait()
	assert.True(t, r.Has("gpt-4o"))
}
