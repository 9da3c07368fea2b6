package domain

import "context"

// Transaction exposes the record operations a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	// PutStudent inserts or replaces a student by id.
	PutStudent(Student) (Student, error)
	// PutVisit inserts or replaces a visit by id.
	PutVisit(VisitEvent) (VisitEvent, error)
	// DeleteStudent removes a student and every visit referencing it. It
	// reports how many visits were removed and is a no-op when absent.
	DeleteStudent(id string) (int, error)
	// DeleteVisit removes one visit; no-op when absent.
	DeleteVisit(id string) error
	FindStudent(id string) (Student, bool)
	FindVisit(id string) (VisitEvent, bool)
}

// TransactionView provides read-only access to snapshot data for rules.
type TransactionView interface {
	ListStudents() []Student
	ListVisits() []VisitEvent
	FindStudent(id string) (Student, bool)
	FindVisit(id string) (VisitEvent, bool)
	VisitsForStudent(studentID string) []VisitEvent
}

// PersistentStore is the abstraction over durable backends used by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	// DeleteStudentCascade removes a student and its visits atomically.
	DeleteStudentCascade(ctx context.Context, studentID string) (int, error)
	GetStudent(id string) (Student, bool)
	ListStudents() []Student
	GetVisit(id string) (VisitEvent, bool)
	ListVisits() []VisitEvent
	// ExportState returns a deep copy of both collections.
	ExportState() Snapshot
	// ReplaceState atomically swaps the whole dataset for the snapshot.
	ReplaceState(ctx context.Context, snapshot Snapshot) error
	Close() error
}
