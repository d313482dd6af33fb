// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package registry resolves model ids to adapters, configs and credentials.
//
// Lookups fail closed: an unknown model is UnsupportedModel, a missing key is
// MissingCredential. Nothing falls back to a default model.
//
// # Usage
//
//	reg, err := registry.New(cfg.Models, cfg.Engine.Roster, credStore)
//	a, modelCfg, err := reg.Resolve("gpt-4o")
//	cred, err := reg.ResolveCredential(ctx, userID, "gpt-4o")
package registry
