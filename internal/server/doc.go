// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the turn engine over HTTP.
//
// # Endpoints
//
//   - POST /v1/turns         - Run one or more turns for the caller's session
//   - POST /v1/conversation  - Clear the session ({"action":"clear"})
//   - GET  /v1/conversation  - Stored transcript for the session
//   - GET  /v1/models        - Roster and configured models
//   - GET  /health           - Health check (never authenticated)
//   - GET  /stats            - Turn statistics
//
// The session is taken from the X-Session-Id header, then the backroom_session
// cookie. When neither is present a new id is minted and returned in both.
// Sessions belong to the authenticated user: two users sending the same id
// see separate transcripts. Without auth every caller is LocalUser.
//
// Failed turns answer {ok:false, error_kind, message, status, turns} where
// turns lists the sub-turns committed before the failure. The HTTP status
// follows the error kind (turnerr.AttributesOf).
//
// # Middleware
//
//   - Bearer token authentication mapping tokens to user ids
//   - CORS for configured origins
//   - Per-client token bucket rate limiting (golang.org/x/time/rate)
//   - Security headers, request logging and panic recovery
//
// # Usage
//
//	srv := server.NewServer(cfg.Server.Addr, eng).
//	    WithCatalog(reg).
//	    WithStats(stats).
//	    WithAuth(&server.AuthConfig{Enabled: true, Tokens: cfg.Server.Tokens})
//	go srv.Start()
//	defer srv.Shutdown(context.Background())
package server
