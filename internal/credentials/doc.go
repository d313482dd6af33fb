// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package credentials stores provider API keys scoped to a user and a model.
//
// # Key Types
//
//   - Store: Get/Put/Delete/List interface consumed by the model registry
//   - SQLStore: api_keys table on SQLite (modernc) or MySQL (go-sql-driver)
//   - EnvStore: read-only keys from each model's api_key_env variable
//   - MemoryStore: process-local keys, for tests and one-off runs
//   - Chain: ordered fallback across stores
//   - Sealer: optional AES-256-GCM sealing of stored keys
//
// # Usage
//
//	store, err := credentials.OpenSQLite(ctx, "~/.backroom/credentials.db")
//	store.Put(ctx, "alice", "gpt-4o", "sk-...")
//	key, err := store.Get(ctx, "alice", "gpt-4o")
//	if errors.Is(err, credentials.ErrNotFound) {
//	    // no key configured
//	}
package credentials
