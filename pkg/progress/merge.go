// Package progress folds a recorded visit and its curriculum updates into a
// student's long-lived curriculum state.
//
// Merge is a pure function: it never performs I/O and never mutates its
// inputs. Book records move between the in-progress and completed sets; the
// study and financial logs only ever grow at the front.
package progress

import (
	"fmt"
	"strings"

	"hujra/pkg/domain"

	"github.com/google/uuid"
)

// DefaultFinanceSource labels a contribution recorded without a source.
const DefaultFinanceSource = "visit-time contribution"

// UpdateItem is one curriculum update submitted with a visit.
type UpdateItem struct {
	BookName        string `json:"bookName" validate:"required"`
	CurrentPage     string `json:"currentPage" validate:"omitempty,number"`
	TeacherName     string `json:"teacherName,omitempty"`
	IsNewBook       bool   `json:"isNewBook"`
	IsBookCompleted bool   `json:"isBookCompleted"`
}

// FinanceItem is an optional contribution recorded with a visit.
type FinanceItem struct {
	Amount string `json:"amount" validate:"omitempty,number"`
	Source string `json:"source,omitempty"`
	Notes  string `json:"notes,omitempty"`
}

// Outcome is the merged student plus the names of updates that referenced a
// book missing from the in-progress set. Stale references are tolerated and
// only leave a history entry behind.
type Outcome struct {
	Student domain.Student
	Stale   []string
}

type options struct {
	newID func() string
}

// Option customises Merge.
type Option func(*options)

// WithIDGenerator overrides the id source used for new books and log entries.
func WithIDGenerator(fn func() string) Option {
	return func(o *options) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// Merge applies updates in order, then the finance item, and returns the new
// student value.
func Merge(student domain.Student, visit domain.VisitEvent, updates []UpdateItem, finance *FinanceItem, opts ...Option) domain.Student {
	return MergeWithOutcome(student, visit, updates, finance, opts...).Student
}

// MergeWithOutcome is Merge that also reports stale book references.
func MergeWithOutcome(student domain.Student, visit domain.VisitEvent, updates []UpdateItem, finance *FinanceItem, opts ...Option) Outcome {
	o := options{newID: uuid.NewString}
	for _, opt := range opts {
		opt(&o)
	}

	out := student
	current := cloneList(student.CurrentBooks)
	previous := cloneList(student.PreviousBooks)
	history := cloneList(student.StudyHistory)
	finances := cloneList(student.FinancialHistory)
	var stale []string

	for _, item := range updates {
		teacher := item.TeacherName
		if teacher == "" {
			teacher = visit.TeacherName
		}

		history = prepend(history, domain.StudyLogEntry{
			ID:          o.newID(),
			Date:        visit.VisitDate,
			BookName:    item.BookName,
			CurrentPage: item.CurrentPage,
			TeacherName: teacher,
			Note:        RenderNote(item),
		})

		if item.IsNewBook {
			book := domain.BookProgress{
				ID:          o.newID(),
				Name:        item.BookName,
				PageCount:   item.CurrentPage,
				TeacherName: teacher,
				IsCompleted: item.IsBookCompleted,
			}
			if item.IsBookCompleted {
				current = removeByName(current, item.BookName)
				previous = prepend(previous, book)
			} else {
				previous = removeByName(previous, item.BookName)
				current = prepend(current, book)
			}
			continue
		}

		idx := indexByName(current, item.BookName)
		if idx < 0 {
			stale = append(stale, item.BookName)
			continue
		}
		book := current[idx]
		book.PageCount = item.CurrentPage
		book.TeacherName = teacher
		if item.IsBookCompleted {
			book.IsCompleted = true
			// duplicates of the name left by repeated "new" updates close too
			current = removeByName(current, item.BookName)
			previous = prepend(previous, book)
			continue
		}
		current[idx] = book
	}

	if finance != nil && strings.TrimSpace(finance.Amount) != "" {
		source := strings.TrimSpace(finance.Source)
		if source == "" {
			source = DefaultFinanceSource
		}
		finances = prepend(finances, domain.FinancialLogEntry{
			ID:     o.newID(),
			Date:   visit.VisitDate,
			Amount: strings.TrimSpace(finance.Amount),
			Source: source,
			Notes:  finance.Notes,
		})
	}

	out.CurrentBooks = current
	out.PreviousBooks = previous
	out.StudyHistory = history
	out.FinancialHistory = finances
	return Outcome{Student: out, Stale: stale}
}

// RenderNote produces the human readable text stored on a study log entry.
func RenderNote(item UpdateItem) string {
	if item.IsBookCompleted {
		return fmt.Sprintf("Completed %s at page %s", item.BookName, pageOrUnknown(item.CurrentPage))
	}
	return fmt.Sprintf("Reached page %s of %s", pageOrUnknown(item.CurrentPage), item.BookName)
}

// FilterUpdates drops items without a book name and trims the names of the
// rest. Callers run it before Merge.
func FilterUpdates(updates []UpdateItem) []UpdateItem {
	out := make([]UpdateItem, 0, len(updates))
	for _, item := range updates {
		item.BookName = strings.TrimSpace(item.BookName)
		if item.BookName == "" {
			continue
		}
		item.CurrentPage = strings.TrimSpace(item.CurrentPage)
		out = append(out, item)
	}
	return out
}

func pageOrUnknown(page string) string {
	if page == "" {
		return "?"
	}
	return page
}

func prepend[T any](list []T, v T) []T {
	out := make([]T, 0, len(list)+1)
	out = append(out, v)
	return append(out, list...)
}

// cloneList copies list into a fresh, never nil slice so empty sets still
// encode as [].
func cloneList[T any](list []T) []T {
	return append(make([]T, 0, len(list)), list...)
}

func indexByName(books []domain.BookProgress, name string) int {
	for i, b := range books {
		if b.Name == name {
			return i
		}
	}
	return -1
}

func removeByName(books []domain.BookProgress, name string) []domain.BookProgress {
	if indexByName(books, name) < 0 {
		return books
	}
	out := make([]domain.BookProgress, 0, len(books))
	for _, b := range books {
		if b.Name != name {
			out = append(out, b)
		}
	}
	return out
}
