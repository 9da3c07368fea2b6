// Package session keeps a read-side copy of both record collections so
// callers can render lists without touching the store on every read.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"hujra/pkg/domain"

	"github.com/pkg/errors"
)

// Source is the store view the cache reloads from.
type Source interface {
	View(ctx context.Context, fn func(domain.TransactionView) error) error
}

// Cache holds the last successfully loaded snapshot. It is safe for
// concurrent use. Every getter returns copies.
type Cache struct {
	src Source
	now func() time.Time

	mu       sync.RWMutex
	students []domain.Student
	visits   []domain.VisitEvent
	index    map[string]int
	loadedAt time.Time
}

// New returns an empty cache over src. Call Refresh to populate it.
func New(src Source) *Cache {
	return &Cache{src: src, now: time.Now, index: map[string]int{}}
}

// Refresh reloads both collections from one consistent store view. On
// failure the previous contents are kept and the error is returned.
func (c *Cache) Refresh(ctx context.Context) error {
	var (
		students []domain.Student
		visits   []domain.VisitEvent
	)
	err := c.src.View(ctx, func(v domain.TransactionView) error {
		students = v.ListStudents()
		visits = v.ListVisits()
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "refresh session cache")
	}
	index := make(map[string]int, len(students))
	for i, s := range students {
		index[s.ID] = i
	}

	c.mu.Lock()
	c.students = students
	c.visits = visits
	c.index = index
	c.loadedAt = c.now()
	c.mu.Unlock()
	return nil
}

// LoadedAt reports when the cache was last refreshed successfully. The zero
// time means never.
func (c *Cache) LoadedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loadedAt
}

// Students returns every cached student, newest first.
func (c *Cache) Students() []domain.Student {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Student, 0, len(c.students))
	for _, s := range c.students {
		out = append(out, cloneStudent(s))
	}
	return out
}

// Visits returns every cached visit, most recent visit date first.
func (c *Cache) Visits() []domain.VisitEvent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]domain.VisitEvent{}, c.visits...)
}

// Student looks a student up by id.
func (c *Cache) Student(id string) (domain.Student, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.index[id]
	if !ok {
		return domain.Student{}, false
	}
	return cloneStudent(c.students[i]), true
}

// Visit looks a visit up by id.
func (c *Cache) Visit(id string) (domain.VisitEvent, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, v := range c.visits {
		if v.ID == id {
			return v, true
		}
	}
	return domain.VisitEvent{}, false
}

// VisitsFor returns the visits of one student in cache order.
func (c *Cache) VisitsFor(studentID string) []domain.VisitEvent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := []domain.VisitEvent{}
	for _, v := range c.visits {
		if v.StudentID == studentID {
			out = append(out, v)
		}
	}
	return out
}

// Search matches term case-insensitively against student names. An empty
// term matches everyone.
func (c *Cache) Search(term string) []domain.Student {
	needle := strings.ToLower(strings.TrimSpace(term))
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := []domain.Student{}
	for _, s := range c.students {
		if needle == "" || strings.Contains(strings.ToLower(s.FullName), needle) {
			out = append(out, cloneStudent(s))
		}
	}
	return out
}

func cloneStudent(s domain.Student) domain.Student {
	s.CurrentBooks = append(make([]domain.BookProgress, 0, len(s.CurrentBooks)), s.CurrentBooks...)
	s.PreviousBooks = append(make([]domain.BookProgress, 0, len(s.PreviousBooks)), s.PreviousBooks...)
	s.StudyHistory = append(make([]domain.StudyLogEntry, 0, len(s.StudyHistory)), s.StudyHistory...)
	s.FinancialHistory = append(make([]domain.FinancialLogEntry, 0, len(s.FinancialHistory)), s.FinancialHistory...)
	return s
}
