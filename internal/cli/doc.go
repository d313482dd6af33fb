// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the backroom command tree.
//
// # Key Types
//
//   - Runtime: storage, credentials, registry and engine built from one config
//
// # Usage
//
//	os.Exit(cli.Run(ctx, os.Args))
//
// # Commands
//
//   - serve: HTTP API with graceful shutdown and config hot reload
//   - turn: run turns once and print them (--json for machine output)
//   - chat: interactive REPL with /turns, /model, /history, /clear
//   - keys set|list|delete: per-user API keys
//   - sessions list|show|clear: stored conversations
//   - config show|validate|init
//   - version
package cli
