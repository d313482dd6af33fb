// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// DefaultUser owns sessions when no user is known.
const DefaultUser = "local"

// Key returns the storage key for userID's session. Keys of different users
// never collide, whatever session ids clients choose.
func Key(userID, sessionID string) string {
	return keyPrefix(userID) + sessionID
}

// SessionOf returns the session id stored under key if key belongs to userID.
func SessionOf(userID, key string) (string, bool) {
	return strings.CutPrefix(key, keyPrefix(userID))
}

// keyPrefix is "u" plus 16 hex digits of the user's hash and a dot. Session
// ids cannot start a key on their own because every key carries a prefix.
func keyPrefix(userID string) string {
	if userID == "" {
		userID = DefaultUser
	}
	sum := blake2b.Sum256([]byte(userID))
	return "u" + hex.EncodeToString(sum[:8]) + "."
}
