// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/backroom/internal/model"
)

// =============================================================================
// HELPERS
// =============================================================================

func sampleConversation(t *testing.T) *model.Conversation {
	t.Helper()
	conv := model.NewConversation()
	_, err := conv.SeedSystem("You are a helpful assistant.")
	require.NoError(t, err)
	conv.AppendUser("Name three primes.")
	_, err = conv.AppendAssistant("2, 3 and 5.", "gpt-4o")
	require.NoError(t, err)
	return conv
}

func assertSameMessages(t *testing.T, want, got *model.Conversation) {
	t.Helper()
	w, g := want.Messages(), got.Messages()
	require.Len(t, g, len(w))
	for i := range w {
		assert.Equal(t, w[i].ID, g[i].ID, "message %d id", i)
		assert.Equal(t, w[i].Role, g[i].Role, "message %d role", i)
		assert.Equal(t, w[i].Content, g[i].Content, "message %d content", i)
		assert.Equal(t, w[i].ModelID, g[i].ModelID, "message %d model", i)
		assert.True(t, w[i].Timestamp.Equal(g[i].Timestamp), "message %d timestamp %v != %v", i, w[i].Timestamp, g[i].Timestamp)
	}
}

// exerciseStore runs the behavior every backend must share.
func exerciseStore(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("missing session loads empty", func(t *testing.T) {
		conv, err := store.Load(ctx, "never-saved")
		require.NoError(t, err)
		assert.True(t, conv.IsEmpty())
	})

	t.Run("round trip", func(t *testing.T) {
		conv := sampleConversation(t)
		require.NoError(t, store.Save(ctx, "s1", conv))

		got, err := store.Load(ctx, "s1")
		require.NoError(t, err)
		assertSameMessages(t, conv, got)
	})

	t.Run("save replaces", func(t *testing.T) {
		conv := sampleConversation(t)
		require.NoError(t, store.Save(ctx, "s2", conv))
		conv.Clear()
		conv.AppendUser("fresh start")
		require.NoError(t, store.Save(ctx, "s2", conv))

		got, err := store.Load(ctx, "s2")
		require.NoError(t, err)
		assert.Equal(t, 1, got.Len())
		assert.Equal(t, "fresh start", got.Messages()[0].Content)
	})

	t.Run("list newest first", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, "s3", sampleConversation(t)))
		time.Sleep(5 * time.Millisecond)
		require.NoError(t, store.Save(ctx, "s4", sampleConversation(t)))

		metas, err := store.List(ctx)
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(metas), 2)
		assert.Equal(t, "s4", metas[0].SessionID)

		var s3 Meta
		for _, m := range metas {
			if m.SessionID == "s3" {
				s3 = m
			}
		}
		assert.Equal(t, 3, s3.MessageCount)
		assert.Equal(t, 1, s3.AssistantCount)
		assert.Equal(t, "Name three primes.", s3.Preview)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, "s5", sampleConversation(t)))
		require.NoError(t, store.Delete(ctx, "s5"))
		require.NoError(t, store.Delete(ctx, "s5"))

		conv, err := store.Load(ctx, "s5")
		require.NoError(t, err)
		assert.True(t, conv.IsEmpty())
	})

	t.Run("invalid id", func(t *testing.T) {
		for _, id := range []string{"", "../etc", "a/b", ".."} {
			_, err := store.Load(ctx, id)
			assert.ErrorIs(t, err, ErrInvalidSessionID, "id %q", id)
			assert.ErrorIs(t, store.Save(ctx, id, model.NewConversation()), ErrInvalidSessionID, "id %q", id)
		}
	})
}

// =============================================================================
// BACKENDS
// =============================================================================

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	exerciseStore(t, store)
}

func TestSQLiteStore(t *testing.T) {
	store, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "db", "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	exerciseStore(t, store)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := OpenRedis(context.Background(), mr.Addr(), "", 0, 0)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	exerciseStore(t, store)
}

// =============================================================================
// BACKEND SPECIFICS
// =============================================================================

func TestFileStore_SkipsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "good", sampleConversation(t)))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{not json"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0600))

	metas, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, "good", metas[0].SessionID)

	_, err = store.Load(ctx, "bad")
	assert.True(t, errors.Is(err, ErrCorrupt))
}

func TestFileStore_MaxSessions(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	store.MaxSessions = 2
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Save(ctx, id, sampleConversation(t)))
		time.Sleep(5 * time.Millisecond)
	}

	metas, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, metas, 2)
	assert.Equal(t, "c", metas[0].SessionID)
	assert.Equal(t, "b", metas[1].SessionID)
}

func TestRedisStore_TTLAndPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client, time.Hour).WithPrefix("test:")
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "s1", sampleConversation(t)))
	assert.True(t, mr.Exists("test:s1"))
	assert.Equal(t, time.Hour, mr.TTL("test:s1"))

	mr.FastForward(2 * time.Hour)
	conv, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, conv.IsEmpty())
}

func TestRedisStore_CorruptValue(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := OpenRedis(context.Background(), mr.Addr(), "", 0, 0)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, mr.Set(DefaultRedisPrefix+"x", "garbage"))
	_, err = store.Load(context.Background(), "x")
	assert.ErrorIs(t, err, ErrCorrupt)

	metas, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, metas)
}

func TestOpenRedis_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := OpenRedis(ctx, "127.0.0.1:1", "", 0, 0)
	assert.Error(t, err)
}

func TestSQLiteStore_RejectsBadRoleOrder(t *testing.T) {
	store, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "s.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()

	_, err = store.db.ExecContext(ctx,
		`INSERT INTO messages (session_id, seq, msg_id, role, content, model_id, created_at) VALUES ('x', 0, 'm1', 'user', 'hi', '', 0), ('x', 1, 'm2', 'system', 'late', '', 0)`)
	require.NoError(t, err)

	_, err = store.Load(ctx, "x")
	assert.ErrorIs(t, err, ErrCorrupt)
}
