// Package memory is an in-process remote.Store. It backs the offline
// "memory" driver and the sync tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/conorfennell/cardsync/internal/domain"
	"github.com/conorfennell/cardsync/internal/remote"
)

// Store keeps remote tables in maps keyed by row id.
type Store struct {
	mu     sync.Mutex
	tables map[string]map[string]remote.Row
	calls  map[string]int
	last   time.Time

	// Fail, when set, is consulted before every operation, outside the
	// store's lock; a non-nil result is returned instead of performing it.
	Fail func(op, table string, payload remote.Row) error
}

// New returns an empty store.
func New() *Store {
	return &Store{
		tables: make(map[string]map[string]remote.Row),
		calls:  make(map[string]int),
	}
}

// Calls returns how many times op ("select", "insert", "upsert",
// "delete") was invoked on table.
func (s *Store) Calls(op, table string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op+":"+table]
}

// Get returns a copy of a row, tombstones included.
func (s *Store) Get(table, id string) (remote.Row, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.tables[table][id]
	if !ok {
		return nil, false
	}
	return clone(row), true
}

// Rows returns copies of every row in table ordered by id.
func (s *Store) Rows(table string) []remote.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]remote.Row, 0, len(s.tables[table]))
	for _, row := range s.tables[table] {
		out = append(out, clone(row))
	}
	sort.Slice(out, func(i, j int) bool { return str(out[i]["id"]) < str(out[j]["id"]) })
	return out
}

// Put stores row as is, replacing any row with the same id. It stands in
// for a write made by another device.
func (s *Store) Put(table string, row remote.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table(table)[str(row["id"])] = clone(row)
}

func (s *Store) Select(ctx context.Context, table string, filter remote.Filter, since string) ([]remote.Row, error) {
	if err := s.begin("select", table, nil); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	owner := "user_id"
	if table == "users" {
		owner = "id"
	}
	var out []remote.Row
	for _, row := range s.tables[table] {
		if str(row[owner]) != filter.UserID {
			continue
		}
		if since != "" && str(row["updated_at"]) <= since {
			continue
		}
		out = append(out, clone(row))
	}
	sort.Slice(out, func(i, j int) bool {
		return str(out[i]["updated_at"]) < str(out[j]["updated_at"])
	})
	return out, nil
}

func (s *Store) Insert(ctx context.Context, table string, payload remote.Row) (string, string, error) {
	if err := s.begin("insert", table, payload); err != nil {
		return "", "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.table(table)
	if key := str(payload["client_key"]); key != "" {
		for id, row := range rows {
			if str(row["client_key"]) == key {
				return id, str(row["updated_at"]), nil
			}
		}
	}

	id := str(payload["id"])
	if id == "" {
		var err error
		if id, err = gonanoid.New(); err != nil {
			return "", "", fmt.Errorf("failed to generate id: %w", err)
		}
	}
	row := clone(payload)
	row["id"] = id
	row["is_deleted"] = false
	row["updated_at"] = s.stamp()
	rows[id] = row
	return id, str(row["updated_at"]), nil
}

func (s *Store) Upsert(ctx context.Context, table string, payload remote.Row) (string, error) {
	if err := s.begin("upsert", table, payload); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := str(payload["id"])
	if id == "" {
		return "", fmt.Errorf("upsert into %s without id", table)
	}
	rows := s.table(table)
	row, ok := rows[id]
	if !ok {
		row = remote.Row{"id": id, "is_deleted": false}
		rows[id] = row
	}
	if row["is_deleted"] == true {
		return "", fmt.Errorf("%s %s: %w", table, id, remote.ErrNotFound)
	}
	for k, v := range payload {
		row[k] = v
	}
	row["updated_at"] = s.stamp()
	return str(row["updated_at"]), nil
}

func (s *Store) Delete(ctx context.Context, table, id string) error {
	if err := s.begin("delete", table, remote.Row{"id": id}); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tombstone(table, id, s.stamp())
	return nil
}

// stamp returns the store's clock, advanced by at least a millisecond per
// write so that no two writes share an updated_at.
func (s *Store) stamp() string {
	now := time.Now().UTC().Truncate(time.Millisecond)
	if !now.After(s.last) {
		now = s.last.Add(time.Millisecond)
	}
	s.last = now
	return domain.FormatTime(now)
}

func (s *Store) tombstone(table, id, now string) {
	row, ok := s.tables[table][id]
	if !ok || row["is_deleted"] == true {
		return
	}
	row["is_deleted"] = true
	row["updated_at"] = now
	for _, child := range remote.Children[table] {
		for childID, childRow := range s.tables[child.Table] {
			if str(childRow[child.Column]) == id {
				s.tombstone(child.Table, childID, now)
			}
		}
	}
}

func (s *Store) begin(op, table string, payload remote.Row) error {
	s.mu.Lock()
	s.calls[op+":"+table]++
	fail := s.Fail
	s.mu.Unlock()
	if fail != nil {
		return fail(op, table, payload)
	}
	return nil
}

func (s *Store) table(name string) map[string]remote.Row {
	rows, ok := s.tables[name]
	if !ok {
		rows = make(map[string]remote.Row)
		s.tables[name] = rows
	}
	return rows
}

func clone(row remote.Row) remote.Row {
	out := make(remote.Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

func str(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
