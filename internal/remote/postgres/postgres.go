// Package postgres implements remote.Store on a PostgreSQL database.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/conorfennell/cardsync/internal/domain"
	"github.com/conorfennell/cardsync/internal/remote"
)

// Store is a remote.Store backed by PostgreSQL.
type Store struct {
	conn *sqlx.DB
}

// Open connects to dsn.
func Open(ctx context.Context, dsn string) (*Store, error) {
	conn, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to remote database: %w", err)
	}
	return &Store{conn: conn}, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.conn.Close()
}

// EnsureSchema creates the remote tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create remote schema: %w", err)
	}
	return nil
}

func (s *Store) Select(ctx context.Context, table string, filter remote.Filter, since string) ([]remote.Row, error) {
	query, args := selectStatement(table, filter, since)
	rows, err := s.conn.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select %s: %w", table, err)
	}
	defer rows.Close()

	var out []remote.Row
	for rows.Next() {
		row := make(map[string]any)
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", table, err)
		}
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
		out = append(out, remote.Row(row))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s rows: %w", table, err)
	}
	return out, nil
}

// written is what Insert and Upsert read back from RETURNING.
type written struct {
	ID        string    `db:"id"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (s *Store) Insert(ctx context.Context, table string, payload remote.Row) (string, string, error) {
	if id, _ := payload["id"].(string); id == "" {
		generated, err := gonanoid.New()
		if err != nil {
			return "", "", fmt.Errorf("failed to generate id: %w", err)
		}
		payload = with(payload, "id", generated)
	}
	query, args := insertStatement(table, payload)

	var w written
	if err := s.conn.GetContext(ctx, &w, query, args...); err != nil {
		return "", "", fmt.Errorf("failed to insert into %s: %w", table, err)
	}
	return w.ID, domain.FormatTime(w.UpdatedAt), nil
}

func (s *Store) Upsert(ctx context.Context, table string, payload remote.Row) (string, error) {
	id, _ := payload["id"].(string)
	if id == "" {
		return "", fmt.Errorf("upsert into %s without id", table)
	}
	query, args := upsertStatement(table, payload)

	var w written
	err := s.conn.GetContext(ctx, &w, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%s %s: %w", table, id, remote.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to upsert %s %s: %w", table, id, err)
	}
	return domain.FormatTime(w.UpdatedAt), nil
}

func (s *Store) Delete(ctx context.Context, table, id string) error {
	tx, err := s.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete of %s %s: %w", table, id, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := tombstone(ctx, tx, table, "id", id); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete of %s %s: %w", table, id, err)
	}
	return nil
}

func tombstone(ctx context.Context, tx *sqlx.Tx, table, column, value string) error {
	if _, err := tx.ExecContext(ctx, tombstoneStatement(table, column), value); err != nil {
		return fmt.Errorf("failed to tombstone %s where %s = %s: %w", table, column, value, err)
	}
	// Child tables reference the parent by id.
	if column != "id" {
		return nil
	}
	for _, child := range remote.Children[table] {
		if err := tombstone(ctx, tx, child.Table, child.Column, value); err != nil {
			return err
		}
	}
	return nil
}

// stamp is the server clock at the precision of domain.TimeFormat, so a
// stamp read back and compared again matches exactly.
const stamp = `date_trunc('milliseconds', clock_timestamp())`

func tombstoneStatement(table, column string) string {
	return fmt.Sprintf(`UPDATE %s SET is_deleted = true, updated_at = %s WHERE %s = $1 AND NOT is_deleted`,
		pq.QuoteIdentifier(table), stamp, pq.QuoteIdentifier(column))
}

func selectStatement(table string, filter remote.Filter, since string) (string, []any) {
	owner := "user_id"
	if table == "users" {
		owner = "id"
	}
	query := fmt.Sprintf(`SELECT * FROM %s WHERE %s = $1`, pq.QuoteIdentifier(table), pq.QuoteIdentifier(owner))
	args := []any{filter.UserID}
	if since != "" {
		query += ` AND updated_at > $2`
		args = append(args, since)
	}
	return query + ` ORDER BY updated_at`, args
}

// insertStatement stamps updated_at on the server. A replayed client_key
// returns the stored row untouched.
func insertStatement(table string, payload remote.Row) (string, []any) {
	cols, args := columns(payload)
	return fmt.Sprintf(`INSERT INTO %s (%s, "updated_at") VALUES (%s, %s)
ON CONFLICT (client_key) DO UPDATE SET client_key = EXCLUDED.client_key
RETURNING id, updated_at`, pq.QuoteIdentifier(table), quoted(cols), placeholders(len(cols)), stamp), args
}

// upsertStatement writes every payload column except id and stamps
// updated_at. A tombstoned row is left alone and returns nothing.
func upsertStatement(table string, payload remote.Row) (string, []any) {
	cols, args := columns(payload)
	sets := make([]string, 0, len(cols)+1)
	for _, c := range cols {
		if c == "id" {
			continue
		}
		q := pq.QuoteIdentifier(c)
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", q, q))
	}
	sets = append(sets, `"updated_at" = EXCLUDED."updated_at"`)
	t := pq.QuoteIdentifier(table)
	return fmt.Sprintf(`INSERT INTO %s (%s, "updated_at") VALUES (%s, %s)
ON CONFLICT (id) DO UPDATE SET %s
WHERE NOT %s.is_deleted
RETURNING id, updated_at`, t, quoted(cols), placeholders(len(cols)), stamp, strings.Join(sets, ", "), t), args
}

// columns lists the payload's columns in a stable order. updated_at is
// left out; the statements stamp it.
func columns(payload remote.Row) ([]string, []any) {
	cols := make([]string, 0, len(payload))
	for c := range payload {
		if c == "updated_at" {
			continue
		}
		cols = append(cols, c)
	}
	sort.Strings(cols)
	args := make([]any, len(cols))
	for i, c := range cols {
		args[i] = payload[c]
	}
	return cols, args
}

func quoted(cols []string) string {
	q := make([]string, len(cols))
	for i, c := range cols {
		q[i] = pq.QuoteIdentifier(c)
	}
	return strings.Join(q, ", ")
}

func placeholders(n int) string {
	p := make([]string, n)
	for i := range p {
		p[i] = fmt.Sprintf("$%d", i+1)
	}
	return strings.Join(p, ", ")
}

func with(row remote.Row, key string, value any) remote.Row {
	out := make(remote.Row, len(row)+1)
	for k, v := range row {
		out[k] = v
	}
	out[key] = value
	return out
}
