package core

import (
	"context"
	"strings"
	"testing"

	"workassign/pkg/domain"
)

// fakeView serves rule evaluation from plain slices so tests can express
// states the stores refuse to build.
type fakeView struct {
	positions   []Position
	workers     []Worker
	tasks       []Task
	assignments []Assignment
}

func (v fakeView) ListPositions() []Position { return v.positions }
func (v fakeView) ListWorkers(scope domain.PositionScope) []Worker {
	var out []Worker
	for _, w := range v.workers {
		if scope.Matches(w.PositionID) {
			out = append(out, w)
		}
	}
	return out
}
func (v fakeView) ListTasks(filter domain.TaskFilter) []Task {
	var out []Task
	for _, t := range v.tasks {
		if filter.Matches(t) {
			out = append(out, t)
		}
	}
	return out
}
func (v fakeView) ListAssignments() []Assignment { return v.assignments }
func (v fakeView) FindPosition(id int64) (Position, bool) {
	for _, p := range v.positions {
		if p.ID == id {
			return p, true
		}
	}
	return Position{}, false
}
func (v fakeView) FindWorker(id int64) (Worker, bool) {
	for _, w := range v.workers {
		if w.ID == id {
			return w, true
		}
	}
	return Worker{}, false
}
func (v fakeView) FindTask(id int64) (Task, bool) {
	for _, t := range v.tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

func ref(id int64) *int64 { return &id }

var assignmentChange = []Change{{Entity: EntityAssignment, Action: ActionCreate}}

func TestDailyCapacityRuleWarnsPerWorkerDay(t *testing.T) {
	day := domain.NewDate(2025, 1, 11)
	view := fakeView{
		workers: []Worker{{Base: Base{ID: 1}, Name: "Ann"}, {Base: Base{ID: 2}, Name: "Bob"}},
		tasks: []Task{
			{Base: Base{ID: 1}, Date: day, Duration: 6},
			{Base: Base{ID: 2}, Date: day, Duration: 3},
			{Base: Base{ID: 3}, Date: domain.NewDate(2025, 1, 12), Duration: 8},
		},
		assignments: []Assignment{
			{Base: Base{ID: 1}, TaskID: 1, WorkerID: 1},
			{Base: Base{ID: 2}, TaskID: 2, WorkerID: 1},
			{Base: Base{ID: 3}, TaskID: 3, WorkerID: 2},
		},
	}
	res, err := NewDailyCapacityRule(8).Evaluate(context.Background(), view, assignmentChange)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(res.Violations) != 1 {
		t.Fatalf("expected one violation, got %+v", res.Violations)
	}
	v := res.Violations[0]
	if v.Severity != SeverityWarn || v.EntityID != 1 || !strings.Contains(v.Message, "9/8") {
		t.Fatalf("unexpected violation %+v", v)
	}
	if res.HasBlocking() {
		t.Fatalf("capacity overrun must not block")
	}

	res, _ = NewDailyCapacityRule(0).Evaluate(context.Background(), view, []Change{{Entity: EntityPosition}})
	if len(res.Violations) != 0 {
		t.Fatalf("position-only changes are not checked")
	}
}

func TestPositionReferenceRuleBlocksDanglingRefs(t *testing.T) {
	view := fakeView{
		positions: []Position{{Base: Base{ID: 1}, Name: "Cook"}},
		workers: []Worker{
			{Base: Base{ID: 1}, Name: "Ann", PositionID: ref(1)},
			{Base: Base{ID: 2}, Name: "Bob", PositionID: ref(9)},
			{Base: Base{ID: 3}, Name: "Pool"},
		},
		tasks: []Task{{Base: Base{ID: 4}, PositionID: ref(7), Date: domain.NewDate(2025, 1, 11), Duration: 1}},
	}
	res, err := NewPositionReferenceRule().Evaluate(context.Background(), view, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(res.Violations) != 2 || !res.HasBlocking() {
		t.Fatalf("expected two blocking violations, got %+v", res.Violations)
	}
	if res.Violations[0].Entity != EntityWorker || res.Violations[1].Entity != EntityTask {
		t.Fatalf("unexpected violation order %+v", res.Violations)
	}
}

func TestAssignmentIntegrityRule(t *testing.T) {
	day := domain.NewDate(2025, 1, 11)
	view := fakeView{
		workers: []Worker{{Base: Base{ID: 1}, Name: "Ann"}},
		tasks:   []Task{{Base: Base{ID: 1}, Date: day, Duration: 2}},
		assignments: []Assignment{
			{Base: Base{ID: 1}, TaskID: 1, WorkerID: 1},
			{Base: Base{ID: 2}, TaskID: 1, WorkerID: 1},
			{Base: Base{ID: 3}, TaskID: 1, WorkerID: 1},
			{Base: Base{ID: 4}, TaskID: 5, WorkerID: 1},
			{Base: Base{ID: 5}, TaskID: 1, WorkerID: 8},
		},
	}
	res, err := NewAssignmentIntegrityRule().Evaluate(context.Background(), view, assignmentChange)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if warnings := res.Warnings(); len(warnings) != 1 || warnings[0].EntityID != 1 {
		t.Fatalf("expected one duplicate warning for task 1, got %+v", warnings)
	}
	blocking := 0
	for _, v := range res.Violations {
		if v.Severity == SeverityBlock {
			blocking++
		}
	}
	if blocking != 2 {
		t.Fatalf("expected two dangling assignments, got %+v", res.Violations)
	}
}

func TestDefaultRulesEngineRegistersBuiltins(t *testing.T) {
	names := NewDefaultRulesEngine(8).Rules()
	want := []string{"position_reference", "assignment_integrity", "daily_capacity"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, names)
	}
	if len(NewRulesEngine().Rules()) != 0 {
		t.Fatalf("expected empty engine")
	}
}
