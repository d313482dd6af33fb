// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package adapter normalizes requests and responses for each LLM provider family.
//
// An adapter turns the engine's provider-neutral message list into exactly
// one HTTP request and turns the reply back into plain text. Adapters never
// retry; every failure is returned as a *turnerr.Error so callers can branch
// on its kind.
//
// # Key Types
//
//   - Adapter: the interface the registry hands to the engine
//   - OpenAI: chat completions over net/http (Bearer auth)
//   - Anthropic: Messages API through anthropic-sdk-go
//   - Func: adapts a function to Adapter, mostly for tests
//
// # Usage
//
//	a := adapter.NewOpenAI()
//	reply, err := a.Generate(ctx, cfg, conv.Outgoing(""), cred, params)
//	if errors.Is(err, turnerr.ErrHTTP) {
//	    log.Printf("provider said %d", turnerr.StatusOf(err))
//	}
package adapter
