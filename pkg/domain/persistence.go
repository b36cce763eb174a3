package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope. Reads observe the transaction's own
// uncommitted writes.
type Transaction interface {
	TransactionView
	Snapshot() TransactionView
	CreatePosition(Position) (Position, error)
	UpdatePosition(id int64, mutator func(*Position) error) (Position, error)
	DeletePosition(id int64) error
	CreateWorker(Worker) (Worker, error)
	UpdateWorker(id int64, mutator func(*Worker) error) (Worker, error)
	DeleteWorker(id int64) error
	CreateTask(Task) (Task, error)
	UpdateTask(id int64, mutator func(*Task) error) (Task, error)
	DeleteTask(id int64) error
	CreateAssignment(taskID, workerID int64) (Assignment, error)
	// PutAssignment inserts a with its supplied ID, replacing any existing
	// assignment with that ID. A zero ID allocates the next one.
	PutAssignment(a Assignment) (Assignment, error)
	DeleteAssignment(id int64) error
	DeleteAllAssignments() (int, error)
}

// TransactionView provides read-only access to snapshot data. List results
// are ordered by id ascending unless noted otherwise.
type TransactionView interface {
	ListPositions() []Position
	ListWorkers(scope PositionScope) []Worker
	// ListTasks orders by date, then id.
	ListTasks(filter TaskFilter) []Task
	ListDistinctTaskDates() []Date
	ListAssignments() []Assignment
	SumTaskDuration(query DurationQuery) []DateTotal
	FindPosition(id int64) (Position, bool)
	FindWorker(id int64) (Worker, bool)
	FindTask(id int64) (Task, bool)
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	ListPositions() []Position
	ListWorkers(scope PositionScope) []Worker
	ListTasks(filter TaskFilter) []Task
	ListAssignments() []Assignment
}
