// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package entitlement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// Dialect is an SQL flavour supported by [SQLStore].
type Dialect string

const (
	// SQLite uses modernc.org/sqlite.
	SQLite Dialect = "sqlite"
	// Postgres uses github.com/jackc/pgx/v5/stdlib.
	Postgres Dialect = "postgres"
)

// SQLStore is a [Store] backed by an SQL database. Every mutation is a single
// statement, so the database serialises concurrent changes of the same user.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	logger  zerolog.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS entitlements (
	user_id TEXT PRIMARY KEY,
	granted_at BIGINT NOT NULL
)`

// NewSQLStore wraps db, creating the entitlements table if needed.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect Dialect, logger zerolog.Logger) (*SQLStore, error) {
	if dialect != SQLite && dialect != Postgres {
		return nil, fmt.Errorf("unsupported SQL dialect %q", dialect)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("creating entitlements table: %w", err)
	}
	return &SQLStore{db: db, dialect: dialect, logger: logger}, nil
}

// OpenSQLite opens (or creates) the SQLite database described by dsn.
func OpenSQLite(ctx context.Context, dsn string, logger zerolog.Logger) (*SQLStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer at a time anyway.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	s, err := NewSQLStore(ctx, db, SQLite, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenPostgres connects to the PostgreSQL database at databaseURL.
func OpenPostgres(ctx context.Context, databaseURL string, logger zerolog.Logger) (*SQLStore, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	s, err := NewSQLStore(ctx, db, Postgres, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// rebind rewrites ? placeholders into the dialect's form.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var (
		sb strings.Builder
		n  int
	)
	for _, c := range query {
		if c == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteRune(c)
	}
	return sb.String()
}

// IsEntitled implements [Store].
func (s *SQLStore) IsEntitled(ctx context.Context, id UserID) bool {
	var one int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM entitlements WHERE user_id = ?`), string(id)).Scan(&one)
	switch {
	case err == nil:
		return true
	case errors.Is(err, sql.ErrNoRows):
		return false
	default:
		s.logger.Error().Err(err).Str("user_id", string(id)).Msg("entitlement lookup failed, treating user as not entitled")
		return false
	}
}

// Grant implements [Store].
func (s *SQLStore) Grant(ctx context.Context, id UserID) error {
	if id.IsZero() {
		return ErrEmptyUserID
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO entitlements (user_id, granted_at)
		VALUES (?, ?)
		ON CONFLICT (user_id) DO NOTHING`), string(id), time.Now().Unix())
	if err != nil {
		return &StoreWriteError{Op: "grant", User: id, Err: err}
	}
	return nil
}

// Revoke implements [Store].
func (s *SQLStore) Revoke(ctx context.Context, id UserID) error {
	if id.IsZero() {
		return ErrEmptyUserID
	}
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM entitlements WHERE user_id = ?`), string(id)); err != nil {
		return &StoreWriteError{Op: "revoke", User: id, Err: err}
	}
	return nil
}

// List implements [Store].
func (s *SQLStore) List(ctx context.Context) ([]UserID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM entitlements ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []UserID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, UserID(id))
	}
	return ids, rows.Err()
}

// Ping implements [Pinger].
func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close implements [Store].
func (s *SQLStore) Close() error { return s.db.Close() }
