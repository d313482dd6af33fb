// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package turnerr defines the error taxonomy shared by adapters, the model
// registry, the engine and the HTTP API.
//
// Every failure that reaches a caller carries a stable Kind plus a
// human-readable message. HTTP failures also carry the upstream status code.
//
// # Key Types
//
//   - Kind: stable error classification (InvalidInput, HTTPError, ...)
//   - Error: the concrete error value, matched by kind with errors.Is
//   - Attributes: retry and HTTP status defaults per kind
//
// # Usage
//
//	err := turnerr.HTTP(429, "rate limited")
//	if errors.Is(err, turnerr.ErrHTTP) {
//	    fmt.Println(turnerr.StatusOf(err)) // 429
//	}
package turnerr
