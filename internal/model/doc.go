// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// This package defines the domain types shared by the engine, the adapters
// and the storage backends.
//
// # Key Types
//
//   - Conversation: ordered message log with the system message pinned at position 0
//   - Message: single entry with role, content, timestamp and the producing model
//   - ModelConfig: static description of one backend (family, endpoint, defaults)
//   - GenerationParams: per-request max tokens, temperature and system override
//   - Credential: API key wrapper that redacts itself when printed
//
// # Usage
//
// Build a conversation:
//
//	conv := model.NewConversation()
//	conv.SeedSystem(model.DefaultSystemMessage)
//	conv.AppendUser("hello")
//	conv.AppendAssistant("hi there", "gpt-4o")
//
// Resolve request parameters against a model:
//
//	params := model.GenerationParams{MaxTokens: 300}.Resolve(cfg)
package model
