// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package engine drives conversation turns between one or more models.
//
// A request runs one or more sub-turns against a session's conversation.
// Each sub-turn appends the input as a user message, asks the scheduler which
// model answers, calls that model's adapter, and commits the reply as an
// assistant message. A sub-turn either commits both messages and persists the
// conversation, or changes nothing.
//
// In the multi-model variant the roster comes from the registry and each
// reply becomes the next sub-turn's input. In the single-model variant the
// caller names the model and every sub-turn repeats the operator's text.
//
// # Key Types
//
//   - Engine: Turn orchestration facade
//   - TurnRequest: One call to RunTurns
//   - TurnReport: Committed turns, returned even on failure
//   - Catalog: Model and credential lookup (satisfied by *registry.Registry)
//
// # Usage
//
//	eng := engine.New(reg, store).
//	    WithConfig(engine.Config{TurnTimeout: time.Minute}).
//	    WithRecorder(stats)
//
//	report, err := eng.RunTurns(ctx, engine.TurnRequest{
//	    SessionID: sid,
//	    UserID:    "local",
//	    UserText:  "hello",
//	    TurnCount: 3,
//	})
package engine
