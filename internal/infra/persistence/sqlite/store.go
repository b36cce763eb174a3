// Package sqlite provides a SQLite-backed persistent store. The working set
// lives in the in-memory store; every committed transaction is snapshotted
// into a single bucket table as JSON blobs.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"workassign/internal/infra/persistence/memory"
	"workassign/internal/infra/persistence/sqlbundle"
	"workassign/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

// DefaultPath is used when no database path is configured.
const DefaultPath = "workassign.db"

// Store persists the in-memory state to SQLite after every successful transaction.
type Store struct {
	*memory.Store
	db   *sql.DB
	path string
}

type bucket struct {
	name   string
	target func(*memory.Snapshot) any
}

var sqliteBuckets = []bucket{
	{name: "positions", target: func(s *memory.Snapshot) any { return &s.Positions }},
	{name: "workers", target: func(s *memory.Snapshot) any { return &s.Workers }},
	{name: "tasks", target: func(s *memory.Snapshot) any { return &s.Tasks }},
	{name: "assignments", target: func(s *memory.Snapshot) any { return &s.Assignments }},
	{name: "sequences", target: func(s *memory.Snapshot) any { return &s.Sequences }},
}

// NewStore constructs a snapshotting SQLite-backed persistent store.
func NewStore(path string, engine *domain.RulesEngine) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	ctx := context.Background()
	for _, stmt := range sqlbundle.SplitStatements(sqlbundle.SQLite()) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("execute ddl: %w", err)
		}
	}
	s := &Store{db: db, path: path}
	s.Store = memory.NewStore(engine, memory.WithCommitHook(s.persist))
	snapshot, found, err := s.load(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if found {
		s.ImportState(snapshot)
	}
	return s, nil
}

func (s *Store) load(ctx context.Context) (memory.Snapshot, bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return memory.Snapshot{}, false, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var snapshot memory.Snapshot
	found := false
	for rows.Next() {
		var name string
		var payload []byte
		if err := rows.Scan(&name, &payload); err != nil {
			return memory.Snapshot{}, false, fmt.Errorf("scan: %w", err)
		}
		for _, b := range sqliteBuckets {
			if b.name != name {
				continue
			}
			if err := json.Unmarshal(payload, b.target(&snapshot)); err != nil {
				return memory.Snapshot{}, false, fmt.Errorf("decode %s: %w", name, err)
			}
			found = true
		}
	}
	if err := rows.Err(); err != nil {
		return memory.Snapshot{}, false, fmt.Errorf("iterate state: %w", err)
	}
	return snapshot, found, nil
}

func (s *Store) persist(ctx context.Context, snapshot memory.Snapshot) (retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, b := range sqliteBuckets {
		data, err := json.Marshal(b.target(&snapshot))
		if err != nil {
			return fmt.Errorf("encode %s: %w", b.name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, b.name, data); err != nil {
			return fmt.Errorf("upsert %s: %w", b.name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }
