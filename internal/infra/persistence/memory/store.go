// Package memory provides the in-memory transactional record store. Durable
// backends embed it and persist its snapshots through a commit hook.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"hujra/pkg/domain"

	"github.com/google/uuid"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Student aliases domain.Student for in-memory persistence operations.
	Student = domain.Student
	// VisitEvent aliases domain.VisitEvent.
	VisitEvent = domain.VisitEvent
	// Snapshot aliases domain.Snapshot.
	Snapshot = domain.Snapshot
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

// CommitHook is invoked with the state about to be committed while the
// store's write lock is held. A non-nil error aborts the commit and leaves
// the previously committed state in place.
type CommitHook func(ctx context.Context, snapshot Snapshot) error

type memoryState struct {
	students map[string]Student
	visits   map[string]VisitEvent
}

func newMemoryState() memoryState {
	return memoryState{
		students: make(map[string]Student),
		visits:   make(map[string]VisitEvent),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		Students: make(map[string]Student, len(state.students)),
		Visits:   make(map[string]VisitEvent, len(state.visits)),
	}
	for k, v := range state.students {
		s.Students[k] = cloneStudent(v)
	}
	for k, v := range state.visits {
		s.Visits[k] = v
	}
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Students {
		state.students[k] = cloneStudent(v)
	}
	for k, v := range s.Visits {
		state.visits[k] = v
	}
	return state
}

// MigrateSnapshot normalises a snapshot loaded from an older or hand-edited
// source: nil maps and nil book/log slices become empty, map keys are
// realigned with record ids, and visits whose student is missing are dropped.
func MigrateSnapshot(snapshot Snapshot) Snapshot {
	out := Snapshot{
		Students: make(map[string]Student, len(snapshot.Students)),
		Visits:   make(map[string]VisitEvent, len(snapshot.Visits)),
	}
	for key, student := range snapshot.Students {
		if student.ID == "" {
			student.ID = key
		}
		out.Students[student.ID] = normalizeStudent(student)
	}
	for key, visit := range snapshot.Visits {
		if visit.ID == "" {
			visit.ID = key
		}
		if _, ok := out.Students[visit.StudentID]; !ok {
			continue
		}
		out.Visits[visit.ID] = visit
	}
	return out
}

func normalizeStudent(s Student) Student {
	if s.CurrentBooks == nil {
		s.CurrentBooks = []domain.BookProgress{}
	}
	if s.PreviousBooks == nil {
		s.PreviousBooks = []domain.BookProgress{}
	}
	if s.StudyHistory == nil {
		s.StudyHistory = []domain.StudyLogEntry{}
	}
	if s.FinancialHistory == nil {
		s.FinancialHistory = []domain.FinancialLogEntry{}
	}
	return s
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.students {
		cloned.students[k] = cloneStudent(v)
	}
	for k, v := range s.visits {
		cloned.visits[k] = v
	}
	return cloned
}

// cloneStudent deep-copies the book sets and logs. The copies are never nil,
// so an empty set reads back as [] rather than null.
func cloneStudent(s Student) Student {
	cp := s
	cp.CurrentBooks = append(make([]domain.BookProgress, 0, len(s.CurrentBooks)), s.CurrentBooks...)
	cp.PreviousBooks = append(make([]domain.BookProgress, 0, len(s.PreviousBooks)), s.PreviousBooks...)
	cp.StudyHistory = append(make([]domain.StudyLogEntry, 0, len(s.StudyHistory)), s.StudyHistory...)
	cp.FinancialHistory = append(make([]domain.FinancialLogEntry, 0, len(s.FinancialHistory)), s.FinancialHistory...)
	return cp
}

// sortStudents orders newest first, breaking ties by id.
func sortStudents(list []Student) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
}

// sortVisits orders by visit date descending, breaking ties by id.
func sortVisits(list []VisitEvent) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].VisitDate != list[j].VisitDate {
			return list[i].VisitDate > list[j].VisitDate
		}
		return list[i].ID < list[j].ID
	})
}

// Store provides an in-memory transactional store for students and visits.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
	idFn   func() string
	hook   CommitHook
}

// Option customises a Store.
type Option func(*Store)

// WithClock overrides the time source used for creation timestamps.
func WithClock(fn func() time.Time) Option {
	return func(s *Store) {
		if fn != nil {
			s.nowFn = fn
		}
	}
}

// WithIDGenerator overrides the id source used for records saved without one.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		if fn != nil {
			s.idFn = fn
		}
	}
}

// WithCommitHook installs a hook run before every commit and state replacement.
func WithCommitHook(hook CommitHook) Option {
	return func(s *Store) { s.hook = hook }
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine, opts ...Option) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	s := &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
		idFn:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetCommitHook installs the commit hook after construction. Durable stores
// call it once hydration has finished.
func (s *Store) SetCommitHook(hook CommitHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = hook
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot without
// running the commit hook. It is used to hydrate from durable storage.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(MigrateSnapshot(snapshot))
}

// ReplaceState atomically swaps the whole dataset. The commit hook sees the
// new state first; if it fails the previous state is kept.
func (s *Store) ReplaceState(ctx context.Context, snapshot Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := memoryStateFromSnapshot(MigrateSnapshot(snapshot))
	if s.hook != nil {
		if err := s.hook(ctx, snapshotFromMemoryState(next)); err != nil {
			return err
		}
	}
	s.state = next
	return nil
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }

type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// ListStudents returns all students within the snapshot.
func (v transactionView) ListStudents() []Student {
	out := make([]Student, 0, len(v.state.students))
	for _, st := range v.state.students {
		out = append(out, cloneStudent(st))
	}
	sortStudents(out)
	return out
}

// ListVisits returns all visits within the snapshot.
func (v transactionView) ListVisits() []VisitEvent {
	out := make([]VisitEvent, 0, len(v.state.visits))
	for _, visit := range v.state.visits {
		out = append(out, visit)
	}
	sortVisits(out)
	return out
}

// FindStudent retrieves a student by ID from the snapshot.
func (v transactionView) FindStudent(id string) (Student, bool) {
	st, ok := v.state.students[id]
	if !ok {
		return Student{}, false
	}
	return cloneStudent(st), true
}

// FindVisit retrieves a visit by ID from the snapshot.
func (v transactionView) FindVisit(id string) (VisitEvent, bool) {
	visit, ok := v.state.visits[id]
	return visit, ok
}

// VisitsForStudent returns every visit referencing the student.
func (v transactionView) VisitsForStudent(studentID string) []VisitEvent {
	var out []VisitEvent
	for _, visit := range v.state.visits {
		if visit.StudentID == studentID {
			out = append(out, visit)
		}
	}
	sortVisits(out)
	return out
}

// RunInTransaction executes fn within a transactional copy of the store state.
// Nothing becomes visible unless fn, the rules and the commit hook all succeed.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	if s.hook != nil && len(tx.changes) > 0 {
		if err := s.hook(ctx, snapshotFromMemoryState(tx.state)); err != nil {
			return result, err
		}
	}

	s.state = tx.state
	return result, nil
}

// DeleteStudentCascade removes a student and all of its visits in one
// transaction and reports how many visits went with it.
func (s *Store) DeleteStudentCascade(ctx context.Context, studentID string) (int, error) {
	removed := 0
	_, err := s.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		removed, err = tx.DeleteStudent(studentID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	view := newTransactionView(&snapshot)
	return fn(view)
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// FindStudent exposes student lookup within the transaction scope.
func (tx *transaction) FindStudent(id string) (Student, bool) {
	st, ok := tx.state.students[id]
	if !ok {
		return Student{}, false
	}
	return cloneStudent(st), true
}

// FindVisit exposes visit lookup within the transaction scope.
func (tx *transaction) FindVisit(id string) (VisitEvent, bool) {
	visit, ok := tx.state.visits[id]
	return visit, ok
}

// PutStudent inserts or replaces a student. A replaced student keeps the
// creation timestamp of the stored record.
func (tx *transaction) PutStudent(st Student) (Student, error) {
	if st.ID == "" {
		st.ID = tx.store.idFn()
	}
	st = normalizeStudent(st)
	before, exists := tx.state.students[st.ID]
	action := domain.ActionCreate
	if exists {
		action = domain.ActionUpdate
		if !before.CreatedAt.IsZero() {
			st.CreatedAt = before.CreatedAt
		}
	}
	if st.CreatedAt.IsZero() {
		st.CreatedAt = tx.now
	}
	tx.state.students[st.ID] = cloneStudent(st)
	change := Change{Entity: domain.EntityStudent, Action: action, After: cloneStudent(st)}
	if exists {
		change.Before = cloneStudent(before)
	}
	tx.recordChange(change)
	return cloneStudent(st), nil
}

// PutVisit inserts or replaces a visit.
func (tx *transaction) PutVisit(v VisitEvent) (VisitEvent, error) {
	if v.ID == "" {
		v.ID = tx.store.idFn()
	}
	if v.StudentID == "" {
		return VisitEvent{}, fmt.Errorf("visit %q has no student reference", v.ID)
	}
	before, exists := tx.state.visits[v.ID]
	action := domain.ActionCreate
	if exists {
		action = domain.ActionUpdate
	}
	tx.state.visits[v.ID] = v
	change := Change{Entity: domain.EntityVisit, Action: action, After: v}
	if exists {
		change.Before = before
	}
	tx.recordChange(change)
	return v, nil
}

// DeleteStudent removes a student together with every visit referencing it.
func (tx *transaction) DeleteStudent(id string) (int, error) {
	removed := 0
	for visitID, visit := range tx.state.visits {
		if visit.StudentID != id {
			continue
		}
		delete(tx.state.visits, visitID)
		tx.recordChange(Change{Entity: domain.EntityVisit, Action: domain.ActionDelete, Before: visit})
		removed++
	}
	current, ok := tx.state.students[id]
	if ok {
		delete(tx.state.students, id)
		tx.recordChange(Change{Entity: domain.EntityStudent, Action: domain.ActionDelete, Before: cloneStudent(current)})
	}
	return removed, nil
}

// DeleteVisit removes a visit from the transaction state.
func (tx *transaction) DeleteVisit(id string) error {
	current, ok := tx.state.visits[id]
	if !ok {
		return nil
	}
	delete(tx.state.visits, id)
	tx.recordChange(Change{Entity: domain.EntityVisit, Action: domain.ActionDelete, Before: current})
	return nil
}

// Read helpers ---------------------------------------------------------------

// GetStudent retrieves a student by ID from committed state.
func (s *Store) GetStudent(id string) (Student, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.state.students[id]
	if !ok {
		return Student{}, false
	}
	return cloneStudent(st), true
}

// ListStudents returns all students from committed state.
func (s *Store) ListStudents() []Student {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListStudents()
}

// GetVisit retrieves a visit by ID.
func (s *Store) GetVisit(id string) (VisitEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.state.visits[id]
	return v, ok
}

// ListVisits returns all visits from committed state.
func (s *Store) ListVisits() []VisitEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListVisits()
}
