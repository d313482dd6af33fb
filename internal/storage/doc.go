// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists conversations keyed by session id.
//
// Every backend is a read/replace slot: Load returns the whole conversation
// and Save overwrites it. A session that was never saved loads as an empty
// conversation.
//
// # Key Types
//
//   - Store: Backend interface
//   - MemoryStore: Process-local, lost on exit
//   - FileStore: One JSON file per session under ~/.backroom/sessions/
//   - SQLiteStore: Message rows in a SQLite database
//   - RedisStore: JSON values with an optional TTL
//   - Meta: Lightweight listing entry
//
// # Usage
//
//	store, err := storage.NewFileStore("")
//	conv, err := store.Load(ctx, sessionID)
//	conv.AppendUser("hello")
//	err = store.Save(ctx, sessionID, conv)
//
//	metas, err := store.List(ctx)
package storage
