// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/jeranaias/backroom/internal/adapter"
	"github.com/jeranaias/backroom/internal/credentials"
	"github.com/jeranaias/backroom/internal/model"
	"github.com/jeranaias/backroom/internal/turnerr"
)

// Registry maps model ids to their configuration and adapter.
// Safe for concurrent use; Replace swaps the catalog atomically.
type Registry struct {
	mu       sync.RWMutex
	models   map[string]model.ModelConfig
	order    []string
	roster   []string
	adapters map[string]adapter.Adapter
	creds    credentials.Store
}

// New creates a registry with the built-in adapters for every provider family.
func New(models []model.ModelConfig, roster []string, creds credentials.Store) (*Registry, error) {
	r := &Registry{
		adapters: map[string]adapter.Adapter{
			model.FamilyOpenAI:    adapter.NewOpenAI(),
			model.FamilyAnthropic: adapter.NewAnthropic(),
		},
		creds: creds,
	}
	if err := r.Replace(models, roster); err != nil {
		return nil, err
	}
	return r, nil
}

// RegisterAdapter installs or replaces the adapter for a provider family.
func (r *Registry) RegisterAdapter(family string, a adapter.Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[family] = a
}

// Replace swaps the model catalog and roster. Every roster entry must be a
// known model; on error the previous catalog stays in place.
func (r *Registry) Replace(models []model.ModelConfig, roster []string) error {
	next := make(map[string]model.ModelConfig, len(models))
	order := make([]string, 0, len(models))
	for _, m := range models {
		if err := m.Validate(); err != nil {
			return turnerr.Wrap(turnerr.ConfigError, err, "invalid model config")
		}
		if _, dup := next[m.ModelID]; dup {
			return turnerr.New(turnerr.ConfigError, "duplicate model id %q", m.ModelID)
		}
		next[m.ModelID] = m
		order = append(order, m.ModelID)
	}
	for _, id := range roster {
		if _, ok := next[id]; !ok {
			return turnerr.New(turnerr.ConfigError, "roster model %q is not configured", id)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.models = next
	r.order = order
	r.roster = append([]string(nil), roster...)
	log.Printf("REGISTRY_LOADED | models=%d roster=%s", len(next), strings.Join(roster, ","))
	return nil
}

// Resolve returns the adapter and config for modelID, or UnsupportedModel.
func (r *Registry) Resolve(modelID string) (adapter.Adapter, model.ModelConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, ok := r.models[modelID]
	if !ok {
		return nil, model.ModelConfig{}, turnerr.New(turnerr.UnsupportedModel, "unsupported model: %s", modelID)
	}
	a, ok := r.adapters[cfg.ProviderFamily]
	if !ok {
		return nil, model.ModelConfig{}, turnerr.New(turnerr.UnsupportedModel, "no adapter for provider family %q", cfg.ProviderFamily)
	}
	return a, cfg, nil
}

// Has reports whether modelID is configured.
func (r *Registry) Has(modelID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.models[modelID]
	return ok
}

// ResolveCredential fetches the key for (userID, modelID).
func (r *Registry) ResolveCredential(ctx context.Context, userID, modelID string) (model.Credential, error) {
	if r.creds == nil {
		return model.Credential{}, turnerr.New(turnerr.MissingCredential, "no credential store configured")
	}
	secret, err := r.creds.Get(ctx, userID, modelID)
	if errors.Is(err, credentials.ErrNotFound) || (err == nil && strings.TrimSpace(secret) == "") {
		return model.Credential{}, turnerr.New(turnerr.MissingCredential, "API key not found for model %s", modelID)
	}
	if err != nil {
		return model.Credential{}, turnerr.Wrap(turnerr.StorageFailure, err, "credential lookup failed")
	}
	return model.NewCredential(userID, modelID, strings.TrimSpace(secret)), nil
}

// Roster returns a copy of the configured roster.
func (r *Registry) Roster() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.roster...)
}

// Models returns the configured models in declaration order.
func (r *Registry) Models() []model.ModelConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.ModelConfig, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.models[id])
	}
	return out
}

// Families returns the provider families with a registered adapter.
func (r *Registry) Families() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.adapters))
	for f := range r.adapters {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// String summarizes the registry for logs.
func (r *Registry) String() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return fmt.Sprintf("Registry(models=%d roster=%v)", len(r.models), r.roster)
}
