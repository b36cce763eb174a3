package core

import (
	"context"
	"fmt"

	"workassign/pkg/domain"
)

// NewPositionReferenceRule blocks commits that leave a worker or task
// pointing at a position that does not exist.
func NewPositionReferenceRule() domain.Rule {
	return positionReferenceRule{}
}

type positionReferenceRule struct{}

func (positionReferenceRule) Name() string { return "position_reference" }

func (positionReferenceRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	missing := func(ref *int64) bool {
		if ref == nil {
			return false
		}
		_, ok := view.FindPosition(*ref)
		return !ok
	}
	for _, w := range view.ListWorkers(domain.AnyPosition()) {
		if missing(w.PositionID) {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "position_reference",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("worker %s (%d) references missing position %d", w.Name, w.ID, *w.PositionID),
				Entity:   domain.EntityWorker,
				EntityID: w.ID,
			})
		}
	}
	for _, t := range view.ListTasks(domain.TaskFilter{}) {
		if missing(t.PositionID) {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "position_reference",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("task %d on %s references missing position %d", t.ID, t.Date, *t.PositionID),
				Entity:   domain.EntityTask,
				EntityID: t.ID,
			})
		}
	}
	return res, nil
}
