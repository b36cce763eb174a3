package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"workassign/pkg/domain"
)

func ref(id int64) *int64 { return &id }

var (
	jan11 = domain.NewDate(2025, 1, 11)
	jan12 = domain.NewDate(2025, 1, 12)
)

// seed creates two positions, three workers (one unpositioned) and four tasks.
func seed(t *testing.T, store *Store) {
	t.Helper()
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreatePosition(Position{Name: "Supervisor"}); err != nil {
			return err
		}
		if _, err := tx.CreatePosition(Position{Name: "Cook"}); err != nil {
			return err
		}
		for _, w := range []Worker{{Name: "Ann", PositionID: ref(1)}, {Name: "Bob", PositionID: ref(2)}, {Name: "Cy"}} {
			if _, err := tx.CreateWorker(w); err != nil {
				return err
			}
		}
		for _, task := range []Task{
			{PositionID: ref(1), Date: jan12, Duration: 3},
			{PositionID: ref(1), Date: jan11, Duration: 5},
			{PositionID: ref(2), Date: jan11, Duration: 2},
			{Date: jan12, Duration: 4},
		} {
			if _, err := tx.CreateTask(task); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestStoreRunInTransactionAndSnapshots(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, ok := tx.FindPosition(99); ok {
			t.Fatalf("expected missing position lookup")
		}
		created, err := tx.CreatePosition(Position{Name: "Supervisor"})
		if err != nil {
			return err
		}
		if created.ID != 1 {
			t.Fatalf("expected first sequence id, got %d", created.ID)
		}
		if len(tx.Snapshot().ListPositions()) != 1 {
			t.Fatalf("snapshot should observe uncommitted write")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run transaction: %v", err)
	}
	if len(store.ListPositions()) != 1 {
		t.Fatalf("expected persisted position")
	}
	snapshot := store.ExportState()
	store.ImportState(Snapshot{})
	if len(store.ListPositions()) != 0 {
		t.Fatalf("expected cleared state")
	}
	store.ImportState(snapshot)
	if len(store.ListPositions()) != 1 {
		t.Fatalf("expected restored state")
	}
	if store.RulesEngine() == nil {
		t.Fatalf("expected rules engine")
	}
}

func TestStoreRollsBackOnError(t *testing.T) {
	store := NewStore(nil)
	seed(t, store)
	boom := errors.New("boom")
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreateAssignment(1, 1); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if len(store.ListAssignments()) != 0 {
		t.Fatalf("expected rollback to discard assignment")
	}
}

func TestStoreRuleViolation(t *testing.T) {
	store := NewStore(domain.NewRulesEngine())
	store.RulesEngine().Register(blockingRule{})
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, e := tx.CreatePosition(Position{Name: "Fail"})
		return e
	})
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected rule violation error, got %v", err)
	}
	if len(store.ListPositions()) != 0 {
		t.Fatalf("blocked transaction must not commit")
	}
}

type blockingRule struct{}

func (blockingRule) Name() string { return "block" }

func (blockingRule) Evaluate(context.Context, domain.RuleView, []domain.Change) (domain.Result, error) {
	return domain.Result{Violations: []domain.Violation{{Rule: "block", Severity: domain.SeverityBlock}}}, nil
}

func TestCommitHookFailureLeavesStateUntouched(t *testing.T) {
	fail := false
	var seen []Snapshot
	store := NewStore(nil, WithCommitHook(func(_ context.Context, s Snapshot) error {
		if fail {
			return fmt.Errorf("disk full")
		}
		seen = append(seen, s)
		return nil
	}))
	seed(t, store)
	if len(seen) != 1 || len(seen[0].Tasks) != 4 {
		t.Fatalf("expected hook to receive committed snapshot, got %d", len(seen))
	}
	fail = true
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateAssignment(1, 1)
		return err
	})
	if err == nil {
		t.Fatalf("expected hook failure")
	}
	if len(store.ListAssignments()) != 0 {
		t.Fatalf("failed hook must not publish state")
	}
	// read-only transactions skip the hook
	if _, err := store.RunInTransaction(context.Background(), func(domain.Transaction) error { return nil }); err != nil {
		t.Fatalf("no-op transaction should not invoke hook: %v", err)
	}
}

func TestCreateValidatesReferences(t *testing.T) {
	store := NewStore(nil)
	seed(t, store)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreateWorker(Worker{Name: "Ghost", PositionID: ref(42)}); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected missing position, got %v", err)
		}
		if _, err := tx.CreateTask(Task{Date: jan11, Duration: 0}); !errors.Is(err, domain.ErrInvalid) {
			t.Fatalf("expected invalid duration, got %v", err)
		}
		if _, err := tx.CreateTask(Task{Date: jan11, Duration: -2}); !errors.Is(err, domain.ErrInvalid) {
			t.Fatalf("expected invalid duration, got %v", err)
		}
		if _, err := tx.CreatePosition(Position{Base: domain.Base{ID: 1}, Name: "Dup"}); !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("expected id conflict, got %v", err)
		}
		if _, err := tx.CreateAssignment(99, 1); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected missing task, got %v", err)
		}
		if _, err := tx.CreateAssignment(1, 99); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected missing worker, got %v", err)
		}
		if _, err := tx.UpdateTask(1, func(task *Task) error { task.PositionID = ref(77); return nil }); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected missing position on update, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
}

func TestExplicitIDsAdvanceSequence(t *testing.T) {
	store := NewStore(nil)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreatePosition(Position{Base: domain.Base{ID: 10}, Name: "Ten"}); err != nil {
			return err
		}
		next, err := tx.CreatePosition(Position{Name: "Next"})
		if err != nil {
			return err
		}
		if next.ID != 11 {
			t.Fatalf("expected sequence to continue after explicit id, got %d", next.ID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	snap := store.ExportState()
	snap.Sequences = Sequences{}
	store.ImportState(snap)
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		p, err := tx.CreatePosition(Position{Name: "After import"})
		if err == nil && p.ID != 12 {
			t.Fatalf("expected reconciled sequence, got %d", p.ID)
		}
		return err
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
}

func TestListOrderingAndScopes(t *testing.T) {
	store := NewStore(nil)
	seed(t, store)
	err := store.View(context.Background(), func(v domain.TransactionView) error {
		if got := v.ListWorkers(domain.NoPosition()); len(got) != 1 || got[0].Name != "Cy" {
			t.Fatalf("unexpected unpositioned workers %+v", got)
		}
		if got := v.ListWorkers(domain.InPosition(2)); len(got) != 1 || got[0].Name != "Bob" {
			t.Fatalf("unexpected cook workers %+v", got)
		}
		tasks := v.ListTasks(domain.TaskFilter{})
		if len(tasks) != 4 || tasks[0].ID != 2 || tasks[1].ID != 3 || tasks[2].ID != 1 || tasks[3].ID != 4 {
			t.Fatalf("expected date then id ordering, got %+v", tasks)
		}
		filtered := v.ListTasks(domain.TaskFilter{Date: &jan11, Position: domain.InPosition(1)})
		if len(filtered) != 1 || filtered[0].Duration != 5 {
			t.Fatalf("unexpected filtered tasks %+v", filtered)
		}
		dates := v.ListDistinctTaskDates()
		if len(dates) != 2 || dates[0] != jan11 || dates[1] != jan12 {
			t.Fatalf("unexpected dates %v", dates)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestSumTaskDuration(t *testing.T) {
	store := NewStore(nil)
	seed(t, store)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreateAssignment(1, 1); err != nil {
			return err
		}
		// duplicate on purpose: assignment-level sums count it twice
		if _, err := tx.CreateAssignment(1, 1); err != nil {
			return err
		}
		_, err := tx.CreateAssignment(3, 2)
		return err
	})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	err = store.View(context.Background(), func(v domain.TransactionView) error {
		byPosition := v.SumTaskDuration(domain.DurationQuery{Position: domain.InPosition(1)})
		if len(byPosition) != 2 || byPosition[0].Hours != 5 || byPosition[1].Hours != 3 {
			t.Fatalf("unexpected task-level totals %+v", byPosition)
		}
		worker := int64(1)
		byWorker := v.SumTaskDuration(domain.DurationQuery{WorkerID: &worker})
		if len(byWorker) != 1 || byWorker[0].Date != jan12 || byWorker[0].Hours != 6 {
			t.Fatalf("unexpected assignment-level totals %+v", byWorker)
		}
		unassigned := v.SumTaskDuration(domain.DurationQuery{Presence: domain.Unassigned})
		if len(unassigned) != 2 || unassigned[0].Hours != 5 || unassigned[1].Hours != 4 {
			t.Fatalf("unexpected unassigned totals %+v", unassigned)
		}
		noPosition := v.SumTaskDuration(domain.DurationQuery{Position: domain.NoPosition()})
		if len(noPosition) != 1 || noPosition[0].Hours != 4 {
			t.Fatalf("unexpected no-position totals %+v", noPosition)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestCascadingDeletes(t *testing.T) {
	store := NewStore(nil)
	seed(t, store)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		for _, pair := range [][2]int64{{1, 1}, {2, 1}, {3, 2}, {4, 3}} {
			if _, err := tx.CreateAssignment(pair[0], pair[1]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if err := tx.DeletePosition(1); err != nil {
			return err
		}
		return tx.DeleteTask(4)
	})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := store.ListWorkers(domain.AnyPosition()); len(got) != 2 {
		t.Fatalf("expected position workers removed, got %+v", got)
	}
	if got := store.ListTasks(domain.TaskFilter{}); len(got) != 1 || got[0].ID != 3 {
		t.Fatalf("expected only cook task left, got %+v", got)
	}
	if got := store.ListAssignments(); len(got) != 1 || got[0].TaskID != 3 {
		t.Fatalf("expected cascaded assignments, got %+v", got)
	}
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		n, _ := tx.DeleteAllAssignments()
		if n != 1 {
			t.Fatalf("expected one assignment removed, got %d", n)
		}
		if err := tx.DeleteAssignment(1); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("delete all: %v", err)
	}
}

func TestPutAssignmentReplacesByID(t *testing.T) {
	store := NewStore(nil)
	seed(t, store)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.PutAssignment(Assignment{Base: domain.Base{ID: 5}, TaskID: 1, WorkerID: 1}); err != nil {
			return err
		}
		if _, err := tx.PutAssignment(Assignment{Base: domain.Base{ID: 5}, TaskID: 2, WorkerID: 1}); err != nil {
			return err
		}
		next, err := tx.CreateAssignment(3, 2)
		if err == nil && next.ID != 6 {
			t.Fatalf("expected sequence after explicit id, got %d", next.ID)
		}
		return err
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	got := store.ListAssignments()
	if len(got) != 2 || got[0].ID != 5 || got[0].TaskID != 2 {
		t.Fatalf("unexpected assignments %+v", got)
	}
}

func TestViewIsolation(t *testing.T) {
	store := NewStore(nil)
	seed(t, store)
	err := store.View(context.Background(), func(v domain.TransactionView) error {
		w, _ := v.FindWorker(1)
		*w.PositionID = 2
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if got := store.ListWorkers(domain.InPosition(1)); len(got) != 1 {
		t.Fatalf("view mutation leaked into store")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := store.View(ctx, func(domain.TransactionView) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled view, got %v", err)
	}
}
