package domain

import "sort"

type scopeKind uint8

const (
	scopeAny scopeKind = iota
	scopeNone
	scopeOne
)

// PositionScope selects records by position membership. The zero value
// matches every record.
type PositionScope struct {
	kind scopeKind
	id   int64
}

// AnyPosition matches records regardless of position.
func AnyPosition() PositionScope { return PositionScope{} }

// NoPosition matches records without a position.
func NoPosition() PositionScope { return PositionScope{kind: scopeNone} }

// InPosition matches records belonging to position id.
func InPosition(id int64) PositionScope { return PositionScope{kind: scopeOne, id: id} }

// Matches reports whether a record with the given position reference is in scope.
func (s PositionScope) Matches(positionID *int64) bool {
	switch s.kind {
	case scopeNone:
		return positionID == nil
	case scopeOne:
		return positionID != nil && *positionID == s.id
	default:
		return true
	}
}

func (s PositionScope) String() string {
	switch s.kind {
	case scopeNone:
		return "none"
	case scopeOne:
		return "position"
	default:
		return "any"
	}
}

// TaskFilter narrows ListTasks. A nil Date matches all dates.
type TaskFilter struct {
	Date     *Date
	Position PositionScope
}

// Matches reports whether t passes the filter.
func (f TaskFilter) Matches(t Task) bool {
	if f.Date != nil && t.Date != *f.Date {
		return false
	}
	return f.Position.Matches(t.PositionID)
}

// AssignmentPresence filters tasks by whether they have an assignment.
type AssignmentPresence uint8

const (
	// AnyAssignment ignores assignment state.
	AnyAssignment AssignmentPresence = iota
	// Assigned keeps tasks with at least one assignment.
	Assigned
	// Unassigned keeps tasks with no assignment.
	Unassigned
)

// DurationQuery describes a grouped duration rollup.
//
// With WorkerID nil the rollup is task-level: every task in Position scope
// whose assignment state matches Presence contributes its duration once.
// With WorkerID set it is assignment-level: every assignment held by that
// worker contributes its task's duration, so duplicate assignments count
// twice. Position and Presence then apply to the assigned task.
type DurationQuery struct {
	Position PositionScope
	WorkerID *int64
	Presence AssignmentPresence
}

// DateTotal is one bucket of a duration rollup.
type DateTotal struct {
	Date  Date `json:"date"`
	Hours int  `json:"hours"`
}

// Totals accumulates hours per date and returns them as an ordered sequence.
type Totals map[Date]int

// Add accumulates hours for d.
func (t Totals) Add(d Date, hours int) { t[d] += hours }

// Sorted returns the buckets ordered by date ascending.
func (t Totals) Sorted() []DateTotal {
	out := make([]DateTotal, 0, len(t))
	for d, h := range t {
		out = append(out, DateTotal{Date: d, Hours: h})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// SumHours returns the total across all buckets.
func SumHours(totals []DateTotal) int {
	sum := 0
	for _, t := range totals {
		sum += t.Hours
	}
	return sum
}
