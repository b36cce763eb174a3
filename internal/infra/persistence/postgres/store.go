// Package postgres provides a Postgres-backed persistent store that mirrors the
// in-memory semantics while keeping normalized tables in sync on every commit.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"workassign/internal/infra/persistence/memory"
	"workassign/internal/infra/persistence/sqlbundle"
	"workassign/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/workassign?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists state to Postgres while reusing the in-memory implementation for transactions.
type Store struct {
	*memory.Store
	db *sql.DB
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back to defaultDSN).
// It applies the schema DDL and hydrates the in-memory store from the tables.
func NewStore(dsn string, engine *domain.RulesEngine) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := applyDDLStatements(ctx, db, sqlbundle.Postgres()); err != nil {
		_ = db.Close()
		return nil, err
	}
	snapshot, err := loadNormalized(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &Store{db: db}
	s.Store = memory.NewStore(engine, memory.WithCommitHook(s.persist))
	s.ImportState(snapshot)
	return s, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func applyDDLStatements(ctx context.Context, db execer, ddl string) error {
	for _, stmt := range sqlbundle.SplitStatements(ddl) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}

func (s *Store) persist(ctx context.Context, snapshot memory.Snapshot) error {
	return persistNormalized(ctx, s.db, snapshot)
}

func persistNormalized(ctx context.Context, db *sql.DB, snapshot memory.Snapshot) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, `TRUNCATE TABLE assignments, tasks, workers, positions`); err != nil {
		return fmt.Errorf("truncate: %w", err)
	}
	for _, id := range sortedIDs(snapshot.Positions) {
		p := snapshot.Positions[id]
		if _, err := tx.ExecContext(ctx, `INSERT INTO positions (id, name) VALUES ($1, $2)`, p.ID, p.Name); err != nil {
			return fmt.Errorf("insert position %d: %w", p.ID, err)
		}
	}
	for _, id := range sortedIDs(snapshot.Workers) {
		w := snapshot.Workers[id]
		if _, err := tx.ExecContext(ctx, `INSERT INTO workers (id, name, position_id) VALUES ($1, $2, $3)`, w.ID, w.Name, w.PositionID); err != nil {
			return fmt.Errorf("insert worker %d: %w", w.ID, err)
		}
	}
	for _, id := range sortedIDs(snapshot.Tasks) {
		t := snapshot.Tasks[id]
		if _, err := tx.ExecContext(ctx, `INSERT INTO tasks (id, position_id, date, duration) VALUES ($1, $2, $3, $4)`, t.ID, t.PositionID, t.Date, t.Duration); err != nil {
			return fmt.Errorf("insert task %d: %w", t.ID, err)
		}
	}
	for _, id := range sortedIDs(snapshot.Assignments) {
		a := snapshot.Assignments[id]
		if _, err := tx.ExecContext(ctx, `INSERT INTO assignments (id, task_id, worker_id) VALUES ($1, $2, $3)`, a.ID, a.TaskID, a.WorkerID); err != nil {
			return fmt.Errorf("insert assignment %d: %w", a.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

func loadNormalized(ctx context.Context, db *sql.DB) (memory.Snapshot, error) {
	snapshot := memory.Snapshot{
		Positions:   map[int64]domain.Position{},
		Workers:     map[int64]domain.Worker{},
		Tasks:       map[int64]domain.Task{},
		Assignments: map[int64]domain.Assignment{},
	}
	err := queryRows(ctx, db, `SELECT id, name FROM positions ORDER BY id`, func(rows *sql.Rows) error {
		var p domain.Position
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			return err
		}
		snapshot.Positions[p.ID] = p
		return nil
	})
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("load positions: %w", err)
	}
	err = queryRows(ctx, db, `SELECT id, name, position_id FROM workers ORDER BY id`, func(rows *sql.Rows) error {
		var w domain.Worker
		var pos sql.NullInt64
		if err := rows.Scan(&w.ID, &w.Name, &pos); err != nil {
			return err
		}
		w.PositionID = nullableRef(pos)
		snapshot.Workers[w.ID] = w
		return nil
	})
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("load workers: %w", err)
	}
	err = queryRows(ctx, db, `SELECT id, position_id, date, duration FROM tasks ORDER BY id`, func(rows *sql.Rows) error {
		var t domain.Task
		var pos sql.NullInt64
		if err := rows.Scan(&t.ID, &pos, &t.Date, &t.Duration); err != nil {
			return err
		}
		t.PositionID = nullableRef(pos)
		snapshot.Tasks[t.ID] = t
		return nil
	})
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("load tasks: %w", err)
	}
	err = queryRows(ctx, db, `SELECT id, task_id, worker_id FROM assignments ORDER BY id`, func(rows *sql.Rows) error {
		var a domain.Assignment
		if err := rows.Scan(&a.ID, &a.TaskID, &a.WorkerID); err != nil {
			return err
		}
		snapshot.Assignments[a.ID] = a
		return nil
	})
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("load assignments: %w", err)
	}
	return snapshot, nil
}

func queryRows(ctx context.Context, db *sql.DB, query string, scan func(*sql.Rows) error) error {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func nullableRef(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	id := v.Int64
	return &id
}

func sortedIDs[V any](m map[int64]V) []int64 {
	return slices.Sorted(maps.Keys(m))
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
