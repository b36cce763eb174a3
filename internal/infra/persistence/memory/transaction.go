package memory

import (
	"fmt"

	"workassign/pkg/domain"
)

// transactionView exposes a read-only snapshot of state to rules and readers.
type transactionView struct {
	state *memoryState
}

func (v transactionView) ListPositions() []Position { return v.state.listPositions() }

func (v transactionView) ListWorkers(scope domain.PositionScope) []Worker {
	return v.state.listWorkers(scope)
}

func (v transactionView) ListTasks(filter domain.TaskFilter) []Task {
	return v.state.listTasks(filter)
}

func (v transactionView) ListDistinctTaskDates() []domain.Date {
	return v.state.listDistinctTaskDates()
}

func (v transactionView) ListAssignments() []Assignment { return v.state.listAssignments() }

func (v transactionView) SumTaskDuration(q domain.DurationQuery) []domain.DateTotal {
	return v.state.sumTaskDuration(q)
}

func (v transactionView) FindPosition(id int64) (Position, bool) {
	p, ok := v.state.positions[id]
	return p, ok
}

func (v transactionView) FindWorker(id int64) (Worker, bool) {
	w, ok := v.state.workers[id]
	if !ok {
		return Worker{}, false
	}
	return cloneWorker(w), true
}

func (v transactionView) FindTask(id int64) (Task, bool) {
	t, ok := v.state.tasks[id]
	if !ok {
		return Task{}, false
	}
	return cloneTask(t), true
}

// transaction represents a mutation set applied to a private copy of state.
type transaction struct {
	transactionView
	state   memoryState
	changes []Change
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return tx.transactionView
}

// claimID returns id when it is free, or the next sequence value when id is zero.
func claimID(entity domain.EntityType, id int64, seq *int64, exists func(int64) bool) (int64, error) {
	if id < 0 {
		return 0, fmt.Errorf("%s id %d must not be negative: %w", entity, id, domain.ErrInvalid)
	}
	if id == 0 {
		*seq++
		return *seq, nil
	}
	if exists(id) {
		return 0, fmt.Errorf("%s %d already exists: %w", entity, id, domain.ErrConflict)
	}
	*seq = max(*seq, id)
	return id, nil
}

func (tx *transaction) checkPositionRef(ref *int64) error {
	if ref == nil {
		return nil
	}
	if _, ok := tx.state.positions[*ref]; !ok {
		return domain.NotFound(domain.EntityPosition, *ref)
	}
	return nil
}

// CreatePosition stores a new position.
func (tx *transaction) CreatePosition(p Position) (Position, error) {
	if err := p.Validate(); err != nil {
		return Position{}, err
	}
	id, err := claimID(domain.EntityPosition, p.ID, &tx.state.seq.Position, func(id int64) bool {
		_, ok := tx.state.positions[id]
		return ok
	})
	if err != nil {
		return Position{}, err
	}
	p.ID = id
	tx.state.positions[id] = p
	tx.recordChange(Change{Entity: domain.EntityPosition, Action: domain.ActionCreate, After: p})
	return p, nil
}

// UpdatePosition mutates a position using the provided mutator function.
func (tx *transaction) UpdatePosition(id int64, mutator func(*Position) error) (Position, error) {
	current, ok := tx.state.positions[id]
	if !ok {
		return Position{}, domain.NotFound(domain.EntityPosition, id)
	}
	before := current
	if err := mutator(&current); err != nil {
		return Position{}, err
	}
	current.ID = id
	if err := current.Validate(); err != nil {
		return Position{}, err
	}
	tx.state.positions[id] = current
	tx.recordChange(Change{Entity: domain.EntityPosition, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// DeletePosition removes a position together with its workers and tasks.
func (tx *transaction) DeletePosition(id int64) error {
	current, ok := tx.state.positions[id]
	if !ok {
		return domain.NotFound(domain.EntityPosition, id)
	}
	for _, wid := range sortedKeys(tx.state.workers) {
		if tx.state.workers[wid].InPosition(id) {
			if err := tx.DeleteWorker(wid); err != nil {
				return err
			}
		}
	}
	for _, tid := range sortedKeys(tx.state.tasks) {
		if tx.state.tasks[tid].InPosition(id) {
			if err := tx.DeleteTask(tid); err != nil {
				return err
			}
		}
	}
	delete(tx.state.positions, id)
	tx.recordChange(Change{Entity: domain.EntityPosition, Action: domain.ActionDelete, Before: current})
	return nil
}

// CreateWorker stores a new worker.
func (tx *transaction) CreateWorker(w Worker) (Worker, error) {
	if err := w.Validate(); err != nil {
		return Worker{}, err
	}
	if err := tx.checkPositionRef(w.PositionID); err != nil {
		return Worker{}, fmt.Errorf("worker %q: %w", w.Name, err)
	}
	id, err := claimID(domain.EntityWorker, w.ID, &tx.state.seq.Worker, func(id int64) bool {
		_, ok := tx.state.workers[id]
		return ok
	})
	if err != nil {
		return Worker{}, err
	}
	w.ID = id
	tx.state.workers[id] = cloneWorker(w)
	tx.recordChange(Change{Entity: domain.EntityWorker, Action: domain.ActionCreate, After: cloneWorker(w)})
	return cloneWorker(w), nil
}

// UpdateWorker mutates a worker using the provided mutator function.
func (tx *transaction) UpdateWorker(id int64, mutator func(*Worker) error) (Worker, error) {
	current, ok := tx.state.workers[id]
	if !ok {
		return Worker{}, domain.NotFound(domain.EntityWorker, id)
	}
	before := cloneWorker(current)
	current = cloneWorker(current)
	if err := mutator(&current); err != nil {
		return Worker{}, err
	}
	current.ID = id
	if err := current.Validate(); err != nil {
		return Worker{}, err
	}
	if err := tx.checkPositionRef(current.PositionID); err != nil {
		return Worker{}, fmt.Errorf("worker %d: %w", id, err)
	}
	tx.state.workers[id] = cloneWorker(current)
	tx.recordChange(Change{Entity: domain.EntityWorker, Action: domain.ActionUpdate, Before: before, After: cloneWorker(current)})
	return cloneWorker(current), nil
}

// DeleteWorker removes a worker and the assignments it holds.
func (tx *transaction) DeleteWorker(id int64) error {
	current, ok := tx.state.workers[id]
	if !ok {
		return domain.NotFound(domain.EntityWorker, id)
	}
	tx.deleteAssignmentsWhere(func(a Assignment) bool { return a.WorkerID == id })
	delete(tx.state.workers, id)
	tx.recordChange(Change{Entity: domain.EntityWorker, Action: domain.ActionDelete, Before: cloneWorker(current)})
	return nil
}

// CreateTask stores a new task.
func (tx *transaction) CreateTask(t Task) (Task, error) {
	if err := t.Validate(); err != nil {
		return Task{}, err
	}
	if err := tx.checkPositionRef(t.PositionID); err != nil {
		return Task{}, fmt.Errorf("task on %s: %w", t.Date, err)
	}
	id, err := claimID(domain.EntityTask, t.ID, &tx.state.seq.Task, func(id int64) bool {
		_, ok := tx.state.tasks[id]
		return ok
	})
	if err != nil {
		return Task{}, err
	}
	t.ID = id
	tx.state.tasks[id] = cloneTask(t)
	tx.recordChange(Change{Entity: domain.EntityTask, Action: domain.ActionCreate, After: cloneTask(t)})
	return cloneTask(t), nil
}

// UpdateTask mutates a task using the provided mutator function.
func (tx *transaction) UpdateTask(id int64, mutator func(*Task) error) (Task, error) {
	current, ok := tx.state.tasks[id]
	if !ok {
		return Task{}, domain.NotFound(domain.EntityTask, id)
	}
	before := cloneTask(current)
	current = cloneTask(current)
	if err := mutator(&current); err != nil {
		return Task{}, err
	}
	current.ID = id
	if err := current.Validate(); err != nil {
		return Task{}, err
	}
	if err := tx.checkPositionRef(current.PositionID); err != nil {
		return Task{}, fmt.Errorf("task %d: %w", id, err)
	}
	tx.state.tasks[id] = cloneTask(current)
	tx.recordChange(Change{Entity: domain.EntityTask, Action: domain.ActionUpdate, Before: before, After: cloneTask(current)})
	return cloneTask(current), nil
}

// DeleteTask removes a task and its assignments.
func (tx *transaction) DeleteTask(id int64) error {
	current, ok := tx.state.tasks[id]
	if !ok {
		return domain.NotFound(domain.EntityTask, id)
	}
	tx.deleteAssignmentsWhere(func(a Assignment) bool { return a.TaskID == id })
	delete(tx.state.tasks, id)
	tx.recordChange(Change{Entity: domain.EntityTask, Action: domain.ActionDelete, Before: cloneTask(current)})
	return nil
}

func (tx *transaction) checkAssignmentRefs(a Assignment) error {
	if _, ok := tx.state.tasks[a.TaskID]; !ok {
		return fmt.Errorf("assignment: %w", domain.NotFound(domain.EntityTask, a.TaskID))
	}
	if _, ok := tx.state.workers[a.WorkerID]; !ok {
		return fmt.Errorf("assignment: %w", domain.NotFound(domain.EntityWorker, a.WorkerID))
	}
	return nil
}

// CreateAssignment binds a task to a worker. Both must exist.
func (tx *transaction) CreateAssignment(taskID, workerID int64) (Assignment, error) {
	return tx.PutAssignment(Assignment{TaskID: taskID, WorkerID: workerID})
}

// PutAssignment inserts a, replacing any assignment with the same ID.
func (tx *transaction) PutAssignment(a Assignment) (Assignment, error) {
	if err := tx.checkAssignmentRefs(a); err != nil {
		return Assignment{}, err
	}
	if a.ID < 0 {
		return Assignment{}, fmt.Errorf("assignment id %d must not be negative: %w", a.ID, domain.ErrInvalid)
	}
	if before, ok := tx.state.assignments[a.ID]; ok && a.ID != 0 {
		tx.state.assignments[a.ID] = a
		tx.recordChange(Change{Entity: domain.EntityAssignment, Action: domain.ActionUpdate, Before: before, After: a})
		return a, nil
	}
	id, err := claimID(domain.EntityAssignment, a.ID, &tx.state.seq.Assignment, func(int64) bool { return false })
	if err != nil {
		return Assignment{}, err
	}
	a.ID = id
	tx.state.assignments[id] = a
	tx.recordChange(Change{Entity: domain.EntityAssignment, Action: domain.ActionCreate, After: a})
	return a, nil
}

// DeleteAssignment removes a single assignment.
func (tx *transaction) DeleteAssignment(id int64) error {
	current, ok := tx.state.assignments[id]
	if !ok {
		return domain.NotFound(domain.EntityAssignment, id)
	}
	delete(tx.state.assignments, id)
	tx.recordChange(Change{Entity: domain.EntityAssignment, Action: domain.ActionDelete, Before: current})
	return nil
}

// DeleteAllAssignments clears every assignment and reports how many were removed.
func (tx *transaction) DeleteAllAssignments() (int, error) {
	return tx.deleteAssignmentsWhere(func(Assignment) bool { return true }), nil
}

func (tx *transaction) deleteAssignmentsWhere(match func(Assignment) bool) int {
	removed := 0
	for _, id := range sortedKeys(tx.state.assignments) {
		a := tx.state.assignments[id]
		if !match(a) {
			continue
		}
		delete(tx.state.assignments, id)
		tx.recordChange(Change{Entity: domain.EntityAssignment, Action: domain.ActionDelete, Before: a})
		removed++
	}
	return removed
}
