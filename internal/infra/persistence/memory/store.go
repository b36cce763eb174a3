// Package memory provides an in-memory implementation of the core persistence
// store used for tests, ephemeral environments, and as the working set of the
// durable backends.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"workassign/pkg/domain"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Position aliases domain.Position for in-memory persistence operations.
	Position = domain.Position
	// Worker aliases domain.Worker.
	Worker = domain.Worker
	// Task aliases domain.Task.
	Task = domain.Task
	// Assignment aliases domain.Assignment.
	Assignment = domain.Assignment
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

// Sequences holds the last identifier issued per entity.
type Sequences struct {
	Position   int64 `json:"position"`
	Worker     int64 `json:"worker"`
	Task       int64 `json:"task"`
	Assignment int64 `json:"assignment"`
}

type memoryState struct {
	positions   map[int64]Position
	workers     map[int64]Worker
	tasks       map[int64]Task
	assignments map[int64]Assignment
	seq         Sequences
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Positions   map[int64]Position   `json:"positions"`
	Workers     map[int64]Worker     `json:"workers"`
	Tasks       map[int64]Task       `json:"tasks"`
	Assignments map[int64]Assignment `json:"assignments"`
	Sequences   Sequences            `json:"sequences"`
}

// CommitHook runs inside the store's write lock after rules pass and before
// the new state becomes visible. A returned error aborts the commit.
type CommitHook func(ctx context.Context, snapshot Snapshot) error

// Option customises a Store.
type Option func(*Store)

// WithCommitHook registers a hook invoked for every transaction that changed state.
func WithCommitHook(hook CommitHook) Option {
	return func(s *Store) { s.hook = hook }
}

func newMemoryState() memoryState {
	return memoryState{
		positions:   make(map[int64]Position),
		workers:     make(map[int64]Worker),
		tasks:       make(map[int64]Task),
		assignments: make(map[int64]Assignment),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	c := state.clone()
	return Snapshot{
		Positions:   c.positions,
		Workers:     c.workers,
		Tasks:       c.tasks,
		Assignments: c.assignments,
		Sequences:   c.seq,
	}
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Positions {
		v.ID = k
		state.positions[k] = v
	}
	for k, v := range s.Workers {
		v.ID = k
		state.workers[k] = cloneWorker(v)
	}
	for k, v := range s.Tasks {
		v.ID = k
		state.tasks[k] = cloneTask(v)
	}
	for k, v := range s.Assignments {
		v.ID = k
		state.assignments[k] = v
	}
	state.seq = s.Sequences
	state.reconcileSequences()
	return state
}

// reconcileSequences keeps sequences ahead of every stored identifier so
// snapshots written without sequence data still allocate fresh IDs.
func (s *memoryState) reconcileSequences() {
	for id := range s.positions {
		s.seq.Position = max(s.seq.Position, id)
	}
	for id := range s.workers {
		s.seq.Worker = max(s.seq.Worker, id)
	}
	for id := range s.tasks {
		s.seq.Task = max(s.seq.Task, id)
	}
	for id := range s.assignments {
		s.seq.Assignment = max(s.seq.Assignment, id)
	}
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.positions {
		cloned.positions[k] = v
	}
	for k, v := range s.workers {
		cloned.workers[k] = cloneWorker(v)
	}
	for k, v := range s.tasks {
		cloned.tasks[k] = cloneTask(v)
	}
	for k, v := range s.assignments {
		cloned.assignments[k] = v
	}
	cloned.seq = s.seq
	return cloned
}

func cloneRef(ref *int64) *int64 {
	if ref == nil {
		return nil
	}
	v := *ref
	return &v
}

func cloneWorker(w Worker) Worker {
	w.PositionID = cloneRef(w.PositionID)
	return w
}

func cloneTask(t Task) Task {
	t.PositionID = cloneRef(t.PositionID)
	return t
}

// Store provides an in-memory transactional store for the core domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	hook   CommitHook
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine, opts ...Option) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	s := &Store{
		state:  newMemoryState(),
		engine: engine,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot. It does
// not invoke the commit hook.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// RunInTransaction executes fn within a transactional copy of the store state.
// The copy replaces the live state only when fn succeeds, no rule blocks, and
// the commit hook (if any) accepts the snapshot.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{state: s.state.clone()}
	tx.transactionView = transactionView{state: &tx.state}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		res, err := s.engine.Evaluate(ctx, tx.transactionView, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	if s.hook != nil && len(tx.changes) > 0 {
		if err := s.hook(ctx, snapshotFromMemoryState(tx.state)); err != nil {
			return result, fmt.Errorf("commit: %w", err)
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(ctx context.Context, fn func(TransactionView) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()
	return fn(transactionView{state: &snapshot})
}

// ListPositions returns all positions ordered by id.
func (s *Store) ListPositions() []Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.listPositions()
}

// ListWorkers returns the workers in scope ordered by id.
func (s *Store) ListWorkers(scope domain.PositionScope) []Worker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.listWorkers(scope)
}

// ListTasks returns the tasks passing filter ordered by date, then id.
func (s *Store) ListTasks(filter domain.TaskFilter) []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.listTasks(filter)
}

// ListAssignments returns all assignments ordered by id.
func (s *Store) ListAssignments() []Assignment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.listAssignments()
}

func sortedKeys[V any](m map[int64]V) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func (s *memoryState) listPositions() []Position {
	out := make([]Position, 0, len(s.positions))
	for _, id := range sortedKeys(s.positions) {
		out = append(out, s.positions[id])
	}
	return out
}

func (s *memoryState) listWorkers(scope domain.PositionScope) []Worker {
	out := make([]Worker, 0, len(s.workers))
	for _, id := range sortedKeys(s.workers) {
		w := s.workers[id]
		if scope.Matches(w.PositionID) {
			out = append(out, cloneWorker(w))
		}
	}
	return out
}

func (s *memoryState) listTasks(filter domain.TaskFilter) []Task {
	out := make([]Task, 0, len(s.tasks))
	for _, id := range sortedKeys(s.tasks) {
		t := s.tasks[id]
		if filter.Matches(t) {
			out = append(out, cloneTask(t))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

func (s *memoryState) listDistinctTaskDates() []domain.Date {
	seen := make(map[domain.Date]struct{})
	for _, t := range s.tasks {
		seen[t.Date] = struct{}{}
	}
	out := make([]domain.Date, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func (s *memoryState) listAssignments() []Assignment {
	out := make([]Assignment, 0, len(s.assignments))
	for _, id := range sortedKeys(s.assignments) {
		out = append(out, s.assignments[id])
	}
	return out
}

func (s *memoryState) assignedTaskIDs() map[int64]struct{} {
	ids := make(map[int64]struct{}, len(s.assignments))
	for _, a := range s.assignments {
		ids[a.TaskID] = struct{}{}
	}
	return ids
}

func (s *memoryState) sumTaskDuration(q domain.DurationQuery) []domain.DateTotal {
	totals := domain.Totals{}
	if q.WorkerID != nil {
		if q.Presence == domain.Unassigned {
			return totals.Sorted()
		}
		for _, a := range s.assignments {
			if a.WorkerID != *q.WorkerID {
				continue
			}
			t, ok := s.tasks[a.TaskID]
			if !ok || !q.Position.Matches(t.PositionID) {
				continue
			}
			totals.Add(t.Date, t.Duration)
		}
		return totals.Sorted()
	}
	assigned := s.assignedTaskIDs()
	for _, t := range s.tasks {
		if !q.Position.Matches(t.PositionID) {
			continue
		}
		_, has := assigned[t.ID]
		switch q.Presence {
		case domain.Assigned:
			if !has {
				continue
			}
		case domain.Unassigned:
			if has {
				continue
			}
		}
		totals.Add(t.Date, t.Duration)
	}
	return totals.Sorted()
}
