// Package allocator assigns dated tasks to workers of the matching position
// under a per-worker daily hour cap.
//
// A run wipes every assignment and rebuilds the set inside one store
// transaction. Dates are walked in ascending order, positions and workers by
// ascending id, and each position's tasks for the day longest first. A task
// goes to the first worker with room for it. Tasks that fit nobody, tasks
// without a position and tasks with a non-positive duration stay unplaced.
package allocator

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math"
	"slices"

	"workassign/pkg/domain"
)

// DefaultDailyCapacity is the most hours a worker may be given on one date.
const DefaultDailyCapacity = 8

// ErrCapacityExceeded reports that a rebuilt assignment set broke the daily
// cap. The run is rolled back when it is returned.
var ErrCapacityExceeded = errors.New("daily capacity exceeded")

// Store is the transactional surface the allocator writes through.
type Store interface {
	RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error)
}

// WorkerDay is the number of hours a worker received on one date.
type WorkerDay struct {
	WorkerID int64       `json:"worker_id"`
	Date     domain.Date `json:"date"`
	Hours    int         `json:"hours"`
}

// Result summarises a run.
type Result struct {
	Placed             int         `json:"placed"`
	Unplaced           int         `json:"unplaced"`
	AverageUtilization float64     `json:"average_utilization"`
	WorkerDays         []WorkerDay `json:"worker_days"`
	// Rules holds non-blocking rule findings reported at commit.
	Rules domain.Result `json:"-"`
}

// Total returns the number of tasks considered.
func (r Result) Total() int { return r.Placed + r.Unplaced }

// UtilizationStdDev returns the sample standard deviation of hours across
// worker-days, or 0 when fewer than two worker-days were used.
func (r Result) UtilizationStdDev() float64 {
	n := len(r.WorkerDays)
	if n < 2 {
		return 0
	}
	mean := 0.0
	for _, wd := range r.WorkerDays {
		mean += float64(wd.Hours)
	}
	mean /= float64(n)
	variance := 0.0
	for _, wd := range r.WorkerDays {
		d := float64(wd.Hours) - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(n-1))
}

// Option customises an Allocator.
type Option func(*Allocator)

// WithDailyCapacity overrides the per-worker daily cap. Non-positive values
// are ignored.
func WithDailyCapacity(hours int) Option {
	return func(a *Allocator) {
		if hours > 0 {
			a.capacity = hours
		}
	}
}

// Allocator rebuilds assignments on demand. Runs are serialised by the
// store's transaction lock.
type Allocator struct {
	store    Store
	capacity int
}

// New returns an Allocator writing through store.
func New(store Store, opts ...Option) *Allocator {
	a := &Allocator{store: store, capacity: DefaultDailyCapacity}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Capacity returns the configured daily cap.
func (a *Allocator) Capacity() int { return a.capacity }

// Run deletes all assignments and places every task it can. Nothing is
// committed unless the whole run succeeds.
func (a *Allocator) Run(ctx context.Context) (Result, error) {
	var res Result
	rules, err := a.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		var err error
		res, err = Allocate(tx, a.capacity)
		return err
	})
	if err != nil {
		return Result{}, fmt.Errorf("allocate: %w", err)
	}
	res.Rules = rules
	return res, nil
}

type workerDayKey struct {
	worker int64
	date   domain.Date
}

// Allocate performs one wipe-and-rebuild pass inside tx with the given cap.
func Allocate(tx domain.Transaction, capacity int) (Result, error) {
	if capacity <= 0 {
		return Result{}, fmt.Errorf("capacity must be positive, got %d: %w", capacity, domain.ErrInvalid)
	}
	if _, err := tx.DeleteAllAssignments(); err != nil {
		return Result{}, fmt.Errorf("clear assignments: %w", err)
	}

	var res Result
	used := make(map[workerDayKey]int)
	positions := tx.ListPositions()
	for _, date := range tx.ListDistinctTaskDates() {
		day := date
		for _, pos := range positions {
			workers := tx.ListWorkers(domain.InPosition(pos.ID))
			tasks := tx.ListTasks(domain.TaskFilter{Date: &day, Position: domain.InPosition(pos.ID)})
			longestFirst(tasks)
			for _, task := range tasks {
				worker, ok := firstFit(workers, used, day, task.Duration, capacity)
				if !ok {
					continue
				}
				if _, err := tx.CreateAssignment(task.ID, worker); err != nil {
					return Result{}, fmt.Errorf("assign task %d to worker %d: %w", task.ID, worker, err)
				}
				used[workerDayKey{worker: worker, date: day}] += task.Duration
				res.Placed++
			}
		}
	}
	res.Unplaced = len(tx.ListTasks(domain.TaskFilter{})) - res.Placed

	res.WorkerDays = workerDays(used)
	if err := checkCapacity(tx, res.WorkerDays, capacity); err != nil {
		return Result{}, err
	}
	placedHours := 0
	for _, wd := range res.WorkerDays {
		placedHours += wd.Hours
	}
	if n := len(res.WorkerDays); n > 0 {
		res.AverageUtilization = float64(placedHours) / float64(n*capacity)
	}
	return res, nil
}

// longestFirst orders tasks by duration descending, keeping id order on ties.
func longestFirst(tasks []domain.Task) {
	slices.SortStableFunc(tasks, func(a, b domain.Task) int {
		return cmp.Or(cmp.Compare(b.Duration, a.Duration), cmp.Compare(a.ID, b.ID))
	})
}

func firstFit(workers []domain.Worker, used map[workerDayKey]int, day domain.Date, duration, capacity int) (int64, bool) {
	if duration <= 0 {
		return 0, false
	}
	for _, w := range workers {
		if used[workerDayKey{worker: w.ID, date: day}]+duration <= capacity {
			return w.ID, true
		}
	}
	return 0, false
}

func workerDays(used map[workerDayKey]int) []WorkerDay {
	out := make([]WorkerDay, 0, len(used))
	for k, hours := range used {
		out = append(out, WorkerDay{WorkerID: k.worker, Date: k.date, Hours: hours})
	}
	slices.SortFunc(out, func(a, b WorkerDay) int {
		return cmp.Or(a.Date.Compare(b.Date), cmp.Compare(a.WorkerID, b.WorkerID))
	})
	return out
}

// checkCapacity re-reads the rebuilt assignments through the store rollup so
// a placement bug can never commit an over-cap worker-day.
func checkCapacity(view domain.TransactionView, days []WorkerDay, capacity int) error {
	seen := make(map[int64]bool)
	for _, wd := range days {
		if seen[wd.WorkerID] {
			continue
		}
		seen[wd.WorkerID] = true
		id := wd.WorkerID
		for _, total := range view.SumTaskDuration(domain.DurationQuery{WorkerID: &id}) {
			if total.Hours > capacity {
				return fmt.Errorf("worker %d on %s has %dh over %dh: %w", id, total.Date, total.Hours, capacity, ErrCapacityExceeded)
			}
		}
	}
	return nil
}
