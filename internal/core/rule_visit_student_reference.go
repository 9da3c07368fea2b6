package core

import (
	"context"
	"fmt"

	"hujra/pkg/domain"
)

// NewVisitStudentReferenceRule blocks visits whose student does not exist at
// commit time.
func NewVisitStudentReferenceRule() domain.Rule {
	return visitStudentReferenceRule{}
}

type visitStudentReferenceRule struct{}

func (visitStudentReferenceRule) Name() string { return "visit_student_reference" }

func (r visitStudentReferenceRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityVisit || change.After == nil {
			continue
		}
		visit, ok := change.After.(domain.VisitEvent)
		if !ok {
			continue
		}
		if _, stillThere := view.FindVisit(visit.ID); !stillThere {
			continue
		}
		if _, found := view.FindStudent(visit.StudentID); found {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     r.Name(),
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("visit %s references missing student %s", visit.ID, visit.StudentID),
			Entity:   domain.EntityVisit,
			EntityID: visit.ID,
		})
	}
	return res, nil
}
