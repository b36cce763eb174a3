// Package report rolls task and assignment hours up into a table of named
// rows by date column.
//
// Rows come in a fixed order: each staffed position (task-level rollup)
// followed by its workers (assignment-level rollup), then a "(No Position)"
// group when pool workers exist, then a final "Unassigned" row when any task
// has no assignment. Every row carries every date column, zero-filled.
package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"workassign/pkg/domain"
)

// Synthetic row labels.
const (
	NoPositionLabel = "(No Position)"
	UnassignedLabel = "Unassigned"
)

// RowKind tells consumers how a row was computed.
type RowKind string

const (
	KindPosition   RowKind = "position"
	KindWorker     RowKind = "worker"
	KindNoPosition RowKind = "no_position"
	KindUnassigned RowKind = "unassigned"
)

// Row is one line of the table. Hours is aligned with Report.Columns.
type Row struct {
	Name  string
	Kind  RowKind
	Hours []int
}

// Total returns the row's hours across all columns.
func (r Row) Total() int {
	sum := 0
	for _, h := range r.Hours {
		sum += h
	}
	return sum
}

// Report is the complete table.
type Report struct {
	Columns []domain.Date
	Rows    []Row
}

// Labels returns the column headers. Dates are shown as "02 Jan"; when two
// columns would share a label the year is appended to every column.
func (r Report) Labels() []string {
	labels := make([]string, len(r.Columns))
	seen := make(map[string]bool, len(r.Columns))
	clash := false
	for i, d := range r.Columns {
		labels[i] = d.Label()
		if seen[labels[i]] {
			clash = true
		}
		seen[labels[i]] = true
	}
	if clash {
		for i, d := range r.Columns {
			labels[i] = d.Time().Format(domain.LabelLayout + " 2006")
		}
	}
	return labels
}

// Row returns the first row with the given name.
func (r Report) Row(name string) (Row, bool) {
	for _, row := range r.Rows {
		if row.Name == name {
			return row, true
		}
	}
	return Row{}, false
}

// Hours returns the value of the labelled column in the named row.
func (r Report) Hours(name, label string) (int, bool) {
	row, ok := r.Row(name)
	if !ok {
		return 0, false
	}
	for i, l := range r.Labels() {
		if l == label {
			return row.Hours[i], true
		}
	}
	return 0, false
}

// MarshalJSON renders the table as a list of objects whose first key is
// "name" followed by one key per column in chronological order.
func (r Report) MarshalJSON() ([]byte, error) {
	labels := r.Labels()
	keys := make([][]byte, len(labels))
	for i, l := range labels {
		k, err := json.Marshal(l)
		if err != nil {
			return nil, err
		}
		keys[i] = k
	}
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, row := range r.Rows {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(row.Name)
		if err != nil {
			return nil, err
		}
		buf.WriteString(`{"name":`)
		buf.Write(name)
		for j, h := range row.Hours {
			buf.WriteByte(',')
			buf.Write(keys[j])
			buf.WriteByte(':')
			buf.WriteString(strconv.Itoa(h))
		}
		buf.WriteByte('}')
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// WriteCSV writes a header of "name" plus the column labels, then one
// record per row.
func (r Report) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{"name"}, r.Labels()...)); err != nil {
		return err
	}
	record := make([]string, len(r.Columns)+1)
	for _, row := range r.Rows {
		record[0] = row.Name
		for i, h := range row.Hours {
			record[i+1] = strconv.Itoa(h)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Viewer is the read-only store surface the aggregator needs.
type Viewer interface {
	View(ctx context.Context, fn func(domain.TransactionView) error) error
}

// Aggregator builds reports from a consistent store snapshot.
type Aggregator struct {
	store Viewer
}

// NewAggregator returns an Aggregator reading from store.
func NewAggregator(store Viewer) *Aggregator {
	return &Aggregator{store: store}
}

// Build renders the report. It never writes to the store.
func (a *Aggregator) Build(ctx context.Context) (Report, error) {
	var rep Report
	err := a.store.View(ctx, func(view domain.TransactionView) error {
		rep = Build(view)
		return nil
	})
	if err != nil {
		return Report{}, fmt.Errorf("build report: %w", err)
	}
	return rep, nil
}

// Build computes the report from view.
func Build(view domain.TransactionView) Report {
	rep := Report{Columns: view.ListDistinctTaskDates()}
	index := make(map[domain.Date]int, len(rep.Columns))
	for i, d := range rep.Columns {
		index[d] = i
	}
	row := func(name string, kind RowKind, totals []domain.DateTotal) {
		hours := make([]int, len(rep.Columns))
		for _, t := range totals {
			if i, ok := index[t.Date]; ok {
				hours[i] = t.Hours
			}
		}
		rep.Rows = append(rep.Rows, Row{Name: name, Kind: kind, Hours: hours})
	}
	workerRows := func(workers []domain.Worker) {
		for _, w := range workers {
			id := w.ID
			row(w.Name, KindWorker, view.SumTaskDuration(domain.DurationQuery{WorkerID: &id}))
		}
	}

	for _, pos := range view.ListPositions() {
		workers := view.ListWorkers(domain.InPosition(pos.ID))
		if len(workers) == 0 {
			continue
		}
		row(pos.Name, KindPosition, view.SumTaskDuration(domain.DurationQuery{Position: domain.InPosition(pos.ID)}))
		workerRows(workers)
	}
	if pool := view.ListWorkers(domain.NoPosition()); len(pool) > 0 {
		row(NoPositionLabel, KindNoPosition, view.SumTaskDuration(domain.DurationQuery{Position: domain.NoPosition()}))
		workerRows(pool)
	}
	if hasUnassigned(view) {
		row(UnassignedLabel, KindUnassigned, view.SumTaskDuration(domain.DurationQuery{Presence: domain.Unassigned}))
	}
	return rep
}

// hasUnassigned reports whether any task lacks an assignment. Presence is
// what counts; duplicate assignments do not matter here.
func hasUnassigned(view domain.TransactionView) bool {
	assigned := make(map[int64]bool)
	for _, a := range view.ListAssignments() {
		assigned[a.TaskID] = true
	}
	for _, t := range view.ListTasks(domain.TaskFilter{}) {
		if !assigned[t.ID] {
			return true
		}
	}
	return false
}
