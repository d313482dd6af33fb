// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session provides per-session exclusivity and activity bookkeeping.
//
// A conversation may have at most one turn in flight. The Locker enforces
// that; the Tracker records when each session was last used and how many
// turns it has run.
//
// # Key Types
//
//   - Locker: one holder per session id, with TryAcquire and context-aware Acquire
//   - Tracker: last activity, turn and failure counts per session; idle
//     sessions are swept as new activity arrives
//   - Key: storage key scoping a session id to its user
//   - Info: snapshot of one session
//
// # Usage
//
//	release, err := locker.TryAcquire(sessionID)
//	if errors.Is(err, session.ErrBusy) {
//	    // another turn is running
//	}
//	defer release()
package session
