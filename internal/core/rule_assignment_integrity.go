package core

import (
	"context"
	"fmt"

	"workassign/pkg/domain"
)

// NewAssignmentIntegrityRule blocks assignments whose task or worker is gone
// and warns when a task is held by more than one assignment.
func NewAssignmentIntegrityRule() domain.Rule {
	return assignmentIntegrityRule{}
}

type assignmentIntegrityRule struct{}

func (assignmentIntegrityRule) Name() string { return "assignment_integrity" }

func (assignmentIntegrityRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	if !touches(changes, domain.EntityAssignment, domain.EntityTask, domain.EntityWorker) {
		return domain.Result{}, nil
	}
	res := domain.Result{}
	held := make(map[int64]int)
	for _, a := range view.ListAssignments() {
		if _, ok := view.FindTask(a.TaskID); !ok {
			res.Violations = append(res.Violations, blockAssignment(a, fmt.Sprintf("assignment %d references missing task %d", a.ID, a.TaskID)))
			continue
		}
		if _, ok := view.FindWorker(a.WorkerID); !ok {
			res.Violations = append(res.Violations, blockAssignment(a, fmt.Sprintf("assignment %d references missing worker %d", a.ID, a.WorkerID)))
			continue
		}
		held[a.TaskID]++
		if held[a.TaskID] == 2 {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "assignment_integrity",
				Severity: domain.SeverityWarn,
				Message:  fmt.Sprintf("task %d has more than one assignment", a.TaskID),
				Entity:   domain.EntityTask,
				EntityID: a.TaskID,
			})
		}
	}
	return res, nil
}

func blockAssignment(a domain.Assignment, msg string) domain.Violation {
	return domain.Violation{
		Rule:     "assignment_integrity",
		Severity: domain.SeverityBlock,
		Message:  msg,
		Entity:   domain.EntityAssignment,
		EntityID: a.ID,
	}
}
