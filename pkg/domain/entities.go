// Package domain defines the persistent entities, query value types, and
// rule evaluation primitives shared by the allocator, the report builder and
// the storage backends.
package domain

// EntityType identifies the type of record stored in the domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityPosition identifies a role grouping workers and tasks.
	EntityPosition EntityType = "position"
	// EntityWorker identifies a person available for assignment.
	EntityWorker EntityType = "worker"
	// EntityTask identifies a dated unit of work.
	EntityTask EntityType = "task"
	// EntityAssignment identifies the binding of a task to a worker.
	EntityAssignment EntityType = "assignment"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Base contains common fields for all domain records.
type Base struct {
	ID int64 `json:"id"`
}

// Position is a role, e.g. "Supervisor" or "Cook".
type Position struct {
	Base
	Name string `json:"name"`
}

// Worker is a person who can be assigned tasks. PositionID is nil for the
// general pool.
type Worker struct {
	Base
	Name       string `json:"name"`
	PositionID *int64 `json:"position_id"`
}

// Task is work needed on Date for a position (or no position). Duration is
// in whole hours and must be positive.
type Task struct {
	Base
	PositionID *int64 `json:"position_id"`
	Date       Date   `json:"date"`
	Duration   int    `json:"duration"`
}

// Assignment records that TaskID is done by WorkerID.
type Assignment struct {
	Base
	TaskID   int64 `json:"task_id"`
	WorkerID int64 `json:"worker_id"`
}

// HasPosition reports whether the worker belongs to a position.
func (w Worker) HasPosition() bool { return w.PositionID != nil }

// InPosition reports whether the worker belongs to position id.
func (w Worker) InPosition(id int64) bool { return w.PositionID != nil && *w.PositionID == id }

// HasPosition reports whether the task requires a position.
func (t Task) HasPosition() bool { return t.PositionID != nil }

// InPosition reports whether the task requires position id.
func (t Task) InPosition(id int64) bool { return t.PositionID != nil && *t.PositionID == id }

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported mutations captured in the change log.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string     `json:"rule"`
	Severity Severity   `json:"severity"`
	Message  string     `json:"message"`
	Entity   EntityType `json:"entity,omitempty"`
	EntityID int64      `json:"entity_id,omitempty"`
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// Warnings returns the non-blocking violations.
func (r Result) Warnings() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity != SeverityBlock {
			out = append(out, v)
		}
	}
	return out
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			return "transaction blocked by rules: " + v.Message
		}
	}
	return "transaction blocked by rules"
}
