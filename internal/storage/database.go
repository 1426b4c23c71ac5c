// Package storage is the on-device row store: an embedded SQLite database
// holding users, decks, cards, statistics and practices together with the
// per-row sync metadata the sync engine works from.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // Registers the sqlite driver
)

// ErrNotFound is returned by mutations that address a row which does not
// exist or is already soft-deleted.
var ErrNotFound = errors.New("row not found")

// DB represents a wrapper around the SQL database connection.
type DB struct {
	conn *sqlx.DB
}

// Row is a single result row keyed by column name.
type Row map[string]any

// Result reports the outcome of a Run statement.
type Result struct {
	InsertedID int64
	Affected   int64
}

// Open creates a new database connection and ensures the schema is up to date.
// dsn is a file path or ":memory:".
func Open(dsn string) (*DB, error) {
	if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps the pragmas below in force and serialises
	// writers, which SQLite requires anyway.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	db := &DB{conn: conn}
	if err := db.migrate(context.Background()); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping verifies the database is still reachable.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

// SchemaVersion returns the number of applied migrations.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := db.conn.GetContext(ctx, &version, "PRAGMA user_version"); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

func (db *DB) migrate(ctx context.Context) error {
	version, err := db.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	for i := version; i < len(migrations); i++ {
		tx, err := db.conn.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to apply migration %d: %w", i+1, err)
		}
		// PRAGMA does not accept bound parameters.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", i+1, err)
		}
	}
	return nil
}

// Execute runs a statement that returns no rows.
func (db *DB) Execute(ctx context.Context, query string, args ...any) error {
	if _, err := db.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to execute statement: %w", err)
	}
	return nil
}

// Run executes a statement and reports the inserted id and affected row count.
func (db *DB) Run(ctx context.Context, query string, args ...any) (Result, error) {
	res, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return Result{}, fmt.Errorf("failed to run statement: %w", err)
	}
	var out Result
	if out.InsertedID, err = res.LastInsertId(); err != nil {
		return Result{}, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	if out.Affected, err = res.RowsAffected(); err != nil {
		return Result{}, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return out, nil
}

// QueryOne returns the first row of the query, or nil if there is none.
func (db *DB) QueryOne(ctx context.Context, query string, args ...any) (Row, error) {
	rows, err := db.QueryAll(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// QueryAll returns every row of the query. Rows are fully read before
// returning so the single connection is free for the caller's next statement.
func (db *DB) QueryAll(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := db.conn.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		r := make(map[string]any)
		if err := rows.MapScan(r); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		for k, v := range r {
			if b, ok := v.([]byte); ok {
				r[k] = string(b)
			}
		}
		out = append(out, Row(r))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return out, nil
}

// String returns the column as a string, or "" when NULL or absent.
func (r Row) String(col string) string {
	switch v := r[col].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// NullString returns the column as *string, nil when NULL or absent.
func (r Row) NullString(col string) *string {
	if r[col] == nil {
		return nil
	}
	s := r.String(col)
	return &s
}

// Int64 returns the column as an int64, 0 when NULL or not numeric.
func (r Row) Int64(col string) int64 {
	switch v := r[col].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

// notFound maps sql.ErrNoRows to a nil result, the same way the lookups
// below report a missing row.
func notFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
