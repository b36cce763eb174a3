// Package fixtures loads positions, workers, tasks and assignments from YAML
// or JSON documents and upserts them by id.
package fixtures

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"workassign/pkg/domain"
)

//go:embed datasets/*
var datasets embed.FS

// PositionRecord is a position row in a dataset.
type PositionRecord struct {
	ID   int64  `yaml:"id"`
	Name string `yaml:"name"`
}

// WorkerRecord is a worker row. A null or missing position_id puts the
// worker in the general pool.
type WorkerRecord struct {
	ID         int64  `yaml:"id"`
	Name       string `yaml:"name"`
	PositionID *int64 `yaml:"position_id"`
}

// TaskRecord is a task row. Date uses the YYYY-MM-DD layout.
type TaskRecord struct {
	ID         int64  `yaml:"id"`
	PositionID *int64 `yaml:"position_id"`
	Date       string `yaml:"date"`
	Duration   int    `yaml:"duration"`
}

// AssignmentRecord binds a task to a worker. ID is optional.
type AssignmentRecord struct {
	ID       int64 `yaml:"id"`
	TaskID   int64 `yaml:"task_id"`
	WorkerID int64 `yaml:"worker_id"`
}

// Dataset is one fixture document.
type Dataset struct {
	Positions   []PositionRecord   `yaml:"positions"`
	Workers     []WorkerRecord     `yaml:"workers"`
	Tasks       []TaskRecord       `yaml:"tasks"`
	Assignments []AssignmentRecord `yaml:"assignments"`
}

// Summary counts what Apply wrote.
type Summary struct {
	Positions   int `json:"positions"`
	Workers     int `json:"workers"`
	Tasks       int `json:"tasks"`
	Assignments int `json:"assignments"`
}

// Parse decodes a YAML or JSON document. Unknown fields are rejected.
func Parse(data []byte) (Dataset, error) {
	var ds Dataset
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&ds); err != nil && !errors.Is(err, io.EOF) {
		return Dataset{}, fmt.Errorf("decode dataset: %w", err)
	}
	return ds, nil
}

// LoadFile reads and parses the dataset at path.
func LoadFile(p string) (Dataset, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return Dataset{}, fmt.Errorf("read dataset: %w", err)
	}
	ds, err := Parse(data)
	if err != nil {
		return Dataset{}, fmt.Errorf("%s: %w", p, err)
	}
	return ds, nil
}

// Names lists the embedded datasets in lexical order.
func Names() []string {
	entries, _ := datasets.ReadDir("datasets")
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), path.Ext(e.Name())))
	}
	sort.Strings(names)
	return names
}

// Named returns an embedded dataset such as "tiny" or "kpi".
func Named(name string) (Dataset, error) {
	for _, ext := range []string{".yaml", ".json"} {
		data, err := datasets.ReadFile("datasets/" + name + ext)
		if err != nil {
			continue
		}
		ds, err := Parse(data)
		if err != nil {
			return Dataset{}, fmt.Errorf("dataset %s: %w", name, err)
		}
		return ds, nil
	}
	return Dataset{}, fmt.Errorf("dataset %q: %w", name, domain.ErrNotFound)
}

// Apply upserts the dataset into tx in dependency order. Records with an id
// that already exists are updated in place; the rest are created with the
// given id (or the next sequence value when the id is zero). An assignment
// whose task and worker pair is already present is skipped.
func (d Dataset) Apply(tx domain.Transaction) (Summary, error) {
	var sum Summary
	for _, rec := range d.Positions {
		p := domain.Position{Base: domain.Base{ID: rec.ID}, Name: rec.Name}
		if _, err := upsert(rec.ID, tx.FindPosition, tx.CreatePosition, func() error {
			_, err := tx.UpdatePosition(rec.ID, func(cur *domain.Position) error {
				cur.Name = rec.Name
				return nil
			})
			return err
		}, p); err != nil {
			return Summary{}, fmt.Errorf("position %d: %w", rec.ID, err)
		}
		sum.Positions++
	}
	for _, rec := range d.Workers {
		w := domain.Worker{Base: domain.Base{ID: rec.ID}, Name: rec.Name, PositionID: rec.PositionID}
		if _, err := upsert(rec.ID, tx.FindWorker, tx.CreateWorker, func() error {
			_, err := tx.UpdateWorker(rec.ID, func(cur *domain.Worker) error {
				cur.Name = rec.Name
				cur.PositionID = rec.PositionID
				return nil
			})
			return err
		}, w); err != nil {
			return Summary{}, fmt.Errorf("worker %d: %w", rec.ID, err)
		}
		sum.Workers++
	}
	for _, rec := range d.Tasks {
		date, err := domain.ParseDate(rec.Date)
		if err != nil {
			return Summary{}, fmt.Errorf("task %d: %w", rec.ID, err)
		}
		t := domain.Task{Base: domain.Base{ID: rec.ID}, PositionID: rec.PositionID, Date: date, Duration: rec.Duration}
		if _, err := upsert(rec.ID, tx.FindTask, tx.CreateTask, func() error {
			_, err := tx.UpdateTask(rec.ID, func(cur *domain.Task) error {
				cur.PositionID = rec.PositionID
				cur.Date = date
				cur.Duration = rec.Duration
				return nil
			})
			return err
		}, t); err != nil {
			return Summary{}, fmt.Errorf("task %d: %w", rec.ID, err)
		}
		sum.Tasks++
	}

	type pair struct{ task, worker int64 }
	existing := make(map[pair]bool)
	for _, a := range tx.ListAssignments() {
		existing[pair{a.TaskID, a.WorkerID}] = true
	}
	for _, rec := range d.Assignments {
		key := pair{rec.TaskID, rec.WorkerID}
		if existing[key] {
			continue
		}
		if _, err := tx.PutAssignment(domain.Assignment{Base: domain.Base{ID: rec.ID}, TaskID: rec.TaskID, WorkerID: rec.WorkerID}); err != nil {
			return Summary{}, fmt.Errorf("assignment task %d worker %d: %w", rec.TaskID, rec.WorkerID, err)
		}
		existing[key] = true
		sum.Assignments++
	}
	return sum, nil
}

func upsert[T any](id int64, find func(int64) (T, bool), create func(T) (T, error), update func() error, record T) (T, error) {
	if id != 0 {
		if _, ok := find(id); ok {
			return record, update()
		}
	}
	return create(record)
}
