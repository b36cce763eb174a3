package core

import (
	"context"
	"fmt"
	"sort"

	"workassign/internal/allocator"
	"workassign/pkg/domain"
)

// NewDailyCapacityRule warns when a worker holds more than capacity hours of
// assigned tasks on a single date.
func NewDailyCapacityRule(capacity int) domain.Rule {
	if capacity <= 0 {
		capacity = allocator.DefaultDailyCapacity
	}
	return dailyCapacityRule{capacity: capacity}
}

type dailyCapacityRule struct {
	capacity int
}

func (dailyCapacityRule) Name() string { return "daily_capacity" }

type workerDate struct {
	worker int64
	date   domain.Date
}

func (r dailyCapacityRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	if !touches(changes, domain.EntityAssignment, domain.EntityTask) {
		return domain.Result{}, nil
	}
	load := make(map[workerDate]int)
	for _, a := range view.ListAssignments() {
		task, ok := view.FindTask(a.TaskID)
		if !ok {
			continue
		}
		load[workerDate{worker: a.WorkerID, date: task.Date}] += task.Duration
	}

	keys := make([]workerDate, 0, len(load))
	for k, hours := range load {
		if hours > r.capacity {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].date != keys[j].date {
			return keys[i].date.Before(keys[j].date)
		}
		return keys[i].worker < keys[j].worker
	})

	res := domain.Result{}
	for _, k := range keys {
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "daily_capacity",
			Severity: domain.SeverityWarn,
			Message:  fmt.Sprintf("worker %d has %d/%d hours on %s", k.worker, load[k], r.capacity, k.date),
			Entity:   domain.EntityWorker,
			EntityID: k.worker,
		})
	}
	return res, nil
}

// touches reports whether any change concerns one of the given entities.
func touches(changes []domain.Change, entities ...domain.EntityType) bool {
	for _, c := range changes {
		for _, e := range entities {
			if c.Entity == e {
				return true
			}
		}
	}
	return false
}
