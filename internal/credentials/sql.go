// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Dialect selects the SQL flavor of the api_keys table.
type Dialect string

const (
	DialectSQLite Dialect = "sqlite"
	DialectMySQL  Dialect = "mysql"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS api_keys (
	user_id    TEXT    NOT NULL,
	model      TEXT    NOT NULL,
	api_key    TEXT    NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (user_id, model)
)`

const mysqlSchema = `CREATE TABLE IF NOT EXISTS api_keys (
	user_id    VARCHAR(191) NOT NULL,
	model      VARCHAR(191) NOT NULL,
	api_key    TEXT         NOT NULL,
	updated_at BIGINT       NOT NULL,
	PRIMARY KEY (user_id, model)
)`

const (
	selectKeySQL  = `SELECT api_key FROM api_keys WHERE user_id = ? AND model = ?`
	deleteKeySQL  = `DELETE FROM api_keys WHERE user_id = ? AND model = ?`
	listKeysSQL   = `SELECT model, updated_at FROM api_keys WHERE user_id = ? ORDER BY model`
	sqliteUpsert  = `INSERT INTO api_keys (user_id, model, api_key, updated_at) VALUES (?, ?, ?, ?) ON CONFLICT(user_id, model) DO UPDATE SET api_key = excluded.api_key, updated_at = excluded.updated_at`
	mysqlUpsert   = `INSERT INTO api_keys (user_id, model, api_key, updated_at) VALUES (?, ?, ?, ?) ON DUPLICATE KEY UPDATE api_key = VALUES(api_key), updated_at = VALUES(updated_at)`
	mysqlNoSuchTb = 1146
)

// =============================================================================
// SQL STORE
// =============================================================================

// SQLStore keeps keys in an api_keys table on SQLite or MySQL.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	sealer  *Sealer
	now     func() time.Time
}

// NewSQLStore wraps an open database. Call Migrate before first use.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, now: time.Now}
}

// OpenSQLite opens (or creates) a SQLite credential database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create credential directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential database: %w", err)
	}

	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	store := NewSQLStore(db, DialectSQLite)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// OpenMySQL connects to MySQL using dsn and creates the api_keys table if needed.
func OpenMySQL(ctx context.Context, dsn string) (*SQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("mysql dsn is empty")
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid mysql dsn: %w", err)
	}
	cfg.ParseTime = true

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to mysql: %w", err)
	}

	store := NewSQLStore(db, DialectMySQL)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// WithSealer encrypts keys on write and decrypts them on read.
func (s *SQLStore) WithSealer(sealer *Sealer) *SQLStore {
	s.sealer = sealer
	return s
}

// Migrate creates the api_keys table.
func (s *SQLStore) Migrate(ctx context.Context) error {
	schema := sqliteSchema
	if s.dialect == DialectMySQL {
		schema = mysqlSchema
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create api_keys table: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Get implements Store.
func (s *SQLStore) Get(ctx context.Context, userID, modelID string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, selectKeySQL, userID, modelID).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", s.wrap("get", err)
	}
	if s.sealer != nil {
		return s.sealer.Open(value)
	}
	return value, nil
}

// Put upserts the key, replacing any existing one for the pair.
func (s *SQLStore) Put(ctx context.Context, userID, modelID, secret string) error {
	if err := validate(userID, modelID, secret); err != nil {
		return err
	}
	value := secret
	if s.sealer != nil {
		sealed, err := s.sealer.Seal(secret)
		if err != nil {
			return err
		}
		value = sealed
	}

	stmt := sqliteUpsert
	if s.dialect == DialectMySQL {
		stmt = mysqlUpsert
	}
	if _, err := s.db.ExecContext(ctx, stmt, userID, modelID, value, s.now().Unix()); err != nil {
		return s.wrap("put", err)
	}
	return nil
}

// Delete implements Store.
func (s *SQLStore) Delete(ctx context.Context, userID, modelID string) error {
	if _, err := s.db.ExecContext(ctx, deleteKeySQL, userID, modelID); err != nil {
		return s.wrap("delete", err)
	}
	return nil
}

// List implements Store.
func (s *SQLStore) List(ctx context.Context, userID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, listKeysSQL, userID)
	if err != nil {
		return nil, s.wrap("list", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var modelID string
		var updated int64
		if err := rows.Scan(&modelID, &updated); err != nil {
			return nil, s.wrap("list", err)
		}
		entries = append(entries, Entry{
			UserID:    userID,
			ModelID:   modelID,
			Source:    string(s.dialect),
			UpdatedAt: time.Unix(updated, 0).UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("list", err)
	}
	return entries, nil
}

// wrap adds operation context and flags a missing table on MySQL.
func (s *SQLStore) wrap(op string, err error) error {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlNoSuchTb {
		return fmt.Errorf("credential %s: api_keys table missing, run migrations: %w", op, err)
	}
	return fmt.Errorf("credential %s: %w", op, err)
}
