package fixtures

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"workassign/internal/infra/persistence/memory"
	"workassign/pkg/domain"
)

func applyNamed(t *testing.T, store *memory.Store, name string) Summary {
	t.Helper()
	ds, err := Named(name)
	if err != nil {
		t.Fatalf("named %s: %v", name, err)
	}
	var sum Summary
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		sum, err = ds.Apply(tx)
		return err
	})
	if err != nil {
		t.Fatalf("apply %s: %v", name, err)
	}
	return sum
}

func TestNamesListsEmbeddedDatasets(t *testing.T) {
	want := []string{"empty_position", "kpi", "sample", "tiny", "unassigned_tasks"}
	got := Names()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for _, name := range got {
		if _, err := Named(name); err != nil {
			t.Fatalf("dataset %s does not parse: %v", name, err)
		}
	}
	if _, err := Named("missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestApplyTinyKeepsIDs(t *testing.T) {
	store := memory.NewStore(nil)
	sum := applyNamed(t, store, "tiny")
	if sum != (Summary{Positions: 2, Workers: 2, Tasks: 3, Assignments: 2}) {
		t.Fatalf("unexpected summary %+v", sum)
	}
	positions := store.ListPositions()
	if len(positions) != 2 || positions[0].ID != 1 || positions[0].Name != "Supervisor" {
		t.Fatalf("unexpected positions %+v", positions)
	}
	tasks := store.ListTasks(domain.TaskFilter{})
	if len(tasks) != 3 || tasks[2].Date != domain.NewDate(2025, 1, 12) || tasks[2].Duration != 3 {
		t.Fatalf("unexpected tasks %+v", tasks)
	}
}

func TestApplyIsAnUpsert(t *testing.T) {
	store := memory.NewStore(nil)
	applyNamed(t, store, "sample")
	second := applyNamed(t, store, "sample")
	if second.Assignments != 0 {
		t.Fatalf("expected existing assignment pairs to be skipped, got %d", second.Assignments)
	}
	if len(store.ListAssignments()) != 7 || len(store.ListWorkers(domain.AnyPosition())) != 4 {
		t.Fatalf("reapplying must not duplicate records")
	}

	doc := []byte(`
positions:
  - {id: 1, name: Renamed}
workers:
  - {id: 4, name: Worker 4, position_id: null}
tasks:
  - {id: 7, position_id: 2, date: "2025-01-13", duration: 6}
  - {position_id: 1, date: "2025-01-13", duration: 2}
`)
	ds, err := Parse(doc)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := ds.Apply(tx)
		return err
	})
	if err != nil {
		t.Fatalf("apply update: %v", err)
	}
	if p := store.ListPositions()[0]; p.Name != "Renamed" {
		t.Fatalf("expected renamed position, got %+v", p)
	}
	if w := store.ListWorkers(domain.NoPosition()); len(w) != 1 || w[0].ID != 4 {
		t.Fatalf("expected worker 4 moved to the pool, got %+v", w)
	}
	tasks := store.ListTasks(domain.TaskFilter{Date: ptr(domain.NewDate(2025, 1, 13))})
	if len(tasks) != 2 || tasks[0].ID != 7 || tasks[1].ID != 8 {
		t.Fatalf("expected task 7 moved and task 8 created, got %+v", tasks)
	}
}

func ptr[T any](v T) *T { return &v }

func TestApplyRejectsBadData(t *testing.T) {
	cases := map[string]string{
		"bad date":         "tasks:\n  - {id: 1, date: \"11 Jan\", duration: 2}\n",
		"zero duration":    "tasks:\n  - {id: 1, date: \"2025-01-11\", duration: 0}\n",
		"missing position": "workers:\n  - {id: 1, name: Ann, position_id: 9}\n",
		"dangling task":    "positions:\n  - {id: 1, name: P}\nworkers:\n  - {id: 1, name: Ann, position_id: 1}\nassignments:\n  - {task_id: 5, worker_id: 1}\n",
	}
	for name, doc := range cases {
		ds, err := Parse([]byte(doc))
		if err != nil {
			t.Fatalf("%s: parse: %v", name, err)
		}
		store := memory.NewStore(nil)
		_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
			_, err := ds.Apply(tx)
			return err
		})
		if err == nil {
			t.Fatalf("%s: expected apply error", name)
		}
		if len(store.ListPositions())+len(store.ListWorkers(domain.AnyPosition())) != 0 {
			t.Fatalf("%s: failed apply must roll back", name)
		}
	}
}

func TestParseAndLoadFile(t *testing.T) {
	if _, err := Parse([]byte("positions:\n  - {id: 1, title: nope}\n")); err == nil {
		t.Fatalf("expected unknown field error")
	}
	ds, err := Parse(nil)
	if err != nil || len(ds.Tasks) != 0 {
		t.Fatalf("empty document should parse to an empty dataset: %v", err)
	}
	path := filepath.Join(t.TempDir(), "data.json")
	if err := os.WriteFile(path, []byte(`{"positions":[{"id":3,"name":"Baker"}]}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	ds, err = LoadFile(path)
	if err != nil || len(ds.Positions) != 1 || ds.Positions[0].Name != "Baker" {
		t.Fatalf("load file: %v %+v", err, ds)
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected missing file error")
	}
}
