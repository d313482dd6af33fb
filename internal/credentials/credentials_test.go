// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package credentials

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/backroom/internal/model"
)

// =============================================================================
// CONTRACT TESTS
// =============================================================================

// exerciseStore runs the read/write contract every writable store must meet.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "u1", "gpt-4o")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, "u1", "gpt-4o", "sk-one"))
	require.NoError(t, s.Put(ctx, "u1", "gpt-4o", "sk-two"))
	require.NoError(t, s.Put(ctx, "u1", "claude-3-5-sonnet-latest", "sk-ant"))
	require.NoError(t, s.Put(ctx, "u2", "gpt-4o", "sk-other"))

	got, err := s.Get(ctx, "u1", "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "sk-two", got, "put must upsert")

	entries, err := s.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "claude-3-5-sonnet-latest", entries[0].ModelID)
	assert.Equal(t, "gpt-4o", entries[1].ModelID)

	require.NoError(t, s.Delete(ctx, "u1", "gpt-4o"))
	require.NoError(t, s.Delete(ctx, "u1", "gpt-4o"), "delete must be idempotent")
	_, err = s.Get(ctx, "u1", "gpt-4o")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err = s.Get(ctx, "u2", "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "sk-other", got, "keys are scoped per user")

	assert.ErrorIs(t, s.Put(ctx, "u1", "gpt-4o", " "), ErrInvalidKey)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	store, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "keys.db"))
	require.NoError(t, err)
	defer store.Close()

	exerciseStore(t, store)
}

func TestSQLiteStore_Sealed(t *testing.T) {
	ctx := context.Background()
	store, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "keys.db"))
	require.NoError(t, err)
	defer store.Close()

	sealer, err := newSealer("passphrase", []byte("salt"), 1000)
	require.NoError(t, err)
	store.WithSealer(sealer)

	require.NoError(t, store.Put(ctx, "u1", "gpt-4o", "sk-secret"))

	var raw string
	require.NoError(t, store.db.QueryRowContext(ctx, selectKeySQL, "u1", "gpt-4o").Scan(&raw))
	assert.True(t, IsSealed(raw))
	assert.NotContains(t, raw, "sk-secret")

	got, err := store.Get(ctx, "u1", "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "sk-secret", got)
}

// =============================================================================
// MYSQL DIALECT
// =============================================================================

func TestMySQLStore_Upsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewSQLStore(db, DialectMySQL)
	store.now = func() time.Time { return time.Unix(1700000000, 0) }

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS api_keys")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("ON DUPLICATE KEY UPDATE api_key = VALUES(api_key)")).
		WithArgs("u1", "gpt-4o", "sk-test", int64(1700000000)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta(selectKeySQL)).
		WithArgs("u1", "gpt-4o").
		WillReturnRows(sqlmock.NewRows([]string{"api_key"}).AddRow("sk-test"))

	ctx := context.Background()
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Put(ctx, "u1", "gpt-4o", "sk-test"))

	got, err := store.Get(ctx, "u1", "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "sk-test", got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStore_NotFoundAndMissingTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewSQLStore(db, DialectMySQL)
	mock.ExpectQuery(regexp.QuoteMeta(selectKeySQL)).
		WithArgs("u1", "gpt-4o").
		WillReturnRows(sqlmock.NewRows([]string{"api_key"}))
	mock.ExpectQuery(regexp.QuoteMeta(selectKeySQL)).
		WithArgs("u1", "gpt-4o").
		WillReturnError(&mysql.MySQLError{Number: 1146, Message: "Table 'backroom.api_keys' doesn't exist"})

	ctx := context.Background()
	_, err = store.Get(ctx, "u1", "gpt-4o")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Get(ctx, "u1", "gpt-4o")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "run migrations")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenMySQL_RejectsBadDSN(t *testing.T) {
	_, err := OpenMySQL(context.Background(), "")
	assert.Error(t, err)
	_, err = OpenMySQL(context.Background(), "user:pass@tcp(localhost:3306")
	assert.Error(t, err)
}

// =============================================================================
// ENV AND CHAIN
// =============================================================================

func TestEnvStore(t *testing.T) {
	env := map[string]string{"OPENAI_API_KEY": " sk-env "}
	store := NewEnvStore(model.DefaultModels()).WithGetenv(func(k string) string { return env[k] })
	ctx := context.Background()

	got, err := store.Get(ctx, "anyone", "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "sk-env", got)

	_, err = store.Get(ctx, "anyone", "claude-3-5-sonnet-latest")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, store.Put(ctx, "u", "gpt-4o", "x"), ErrReadOnly)

	entries, err := store.List(ctx, "u")
	require.NoError(t, err)
	assert.Len(t, entries, 3, "gpt-4, gpt-4o and gpt-4o-mini share OPENAI_API_KEY")
}

func TestChain(t *testing.T) {
	ctx := context.Background()
	primary := NewMemoryStore()
	fallback := NewMemoryStore()
	require.NoError(t, fallback.Put(ctx, "u1", "gpt-4o", "sk-fallback"))
	require.NoError(t, fallback.Put(ctx, "u1", "gpt-4o-mini", "sk-mini"))

	chain := Chain{primary, fallback}

	got, err := chain.Get(ctx, "u1", "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "sk-fallback", got)

	require.NoError(t, chain.Put(ctx, "u1", "gpt-4o", "sk-primary"))
	got, err = chain.Get(ctx, "u1", "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "sk-primary", got)

	entries, err := chain.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "memory", entries[0].Source)

	_, err = chain.Get(ctx, "u1", "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, Chain{}.Put(ctx, "u", "m", "k"), ErrReadOnly)
}

// =============================================================================
// SEALER
// =============================================================================

func TestSealer_RoundTrip(t *testing.T) {
	s, err := newSealer("correct horse", []byte("salt"), 1000)
	require.NoError(t, err)

	sealed, err := s.Seal("sk-live-123")
	require.NoError(t, err)
	assert.True(t, IsSealed(sealed))

	again, err := s.Seal("sk-live-123")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonces must differ")

	plain, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "sk-live-123", plain)

	passthrough, err := s.Open("sk-legacy")
	require.NoError(t, err)
	assert.Equal(t, "sk-legacy", passthrough)
}

func TestSealer_WrongPassphrase(t *testing.T) {
	a, err := newSealer("one", []byte("salt"), 1000)
	require.NoError(t, err)
	b, err := newSealer("two", []byte("salt"), 1000)
	require.NoError(t, err)

	sealed, err := a.Seal("sk")
	require.NoError(t, err)

	_, err = b.Open(sealed)
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	_, err = a.Open(SealedPrefix + "!!!")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)

	_, err = a.Open(SealedPrefix + "AAAA")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)

	_, err = newSealer("", nil, 1)
	assert.Error(t, err)
}
