package core

import (
	"context"
	"fmt"

	"hujra/pkg/domain"
)

// NewBookSetExclusivityRule blocks a commit that leaves a book name in both
// the in-progress and the completed set of one student.
func NewBookSetExclusivityRule() domain.Rule {
	return bookSetExclusivityRule{}
}

type bookSetExclusivityRule struct{}

func (bookSetExclusivityRule) Name() string { return "book_set_exclusivity" }

func (r bookSetExclusivityRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	checked := make(map[string]struct{})
	for _, change := range changes {
		if change.Entity != domain.EntityStudent || change.After == nil {
			continue
		}
		student, ok := change.After.(domain.Student)
		if !ok {
			continue
		}
		if _, done := checked[student.ID]; done {
			continue
		}
		checked[student.ID] = struct{}{}
		// the committed value, so a later change in the same transaction wins
		student, found := view.FindStudent(student.ID)
		if !found {
			continue
		}
		completed := make(map[string]struct{}, len(student.PreviousBooks))
		for _, book := range student.PreviousBooks {
			completed[book.Name] = struct{}{}
		}
		for _, book := range student.CurrentBooks {
			if _, dup := completed[book.Name]; !dup {
				continue
			}
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     r.Name(),
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("student %s has book %q both in progress and completed", student.ID, book.Name),
				Entity:   domain.EntityStudent,
				EntityID: student.ID,
			})
		}
	}
	return res, nil
}
