// Package domain defines the persistent records, value types, and rule
// evaluation primitives shared by the hujra store, merge engine, and service.
package domain

import "time"

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityStudent identifies a student record.
	EntityStudent EntityType = "student"
	// EntityVisit identifies a tutor visit record.
	EntityVisit EntityType = "visit"
)

// Collection names the persisted record collections. The names double as
// the backup document field names and the durable bucket keys.
type Collection string

const (
	CollectionStudents Collection = "students"
	CollectionVisits   Collection = "visits"
)

// Collections lists every persisted collection in a stable order.
var Collections = []Collection{CollectionStudents, CollectionVisits}

// BookProgress tracks one book or subject a student is studying or has finished.
// PageCount is the current position encoded as a decimal string.
type BookProgress struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	PageCount   string `json:"pageCount"`
	TeacherName string `json:"teacherName"`
	IsCompleted bool   `json:"isCompleted"`
}

// StudyLogEntry is one progress update recorded against a book during a visit.
type StudyLogEntry struct {
	ID          string `json:"id"`
	Date        string `json:"date"`
	BookName    string `json:"bookName"`
	CurrentPage string `json:"currentPage"`
	TeacherName string `json:"teacherName"`
	Note        string `json:"note,omitempty"`
}

// FinancialLogEntry is one recorded contribution. Amount is a decimal string
// without a minor unit.
type FinancialLogEntry struct {
	ID     string `json:"id"`
	Date   string `json:"date"`
	Amount string `json:"amount"`
	Source string `json:"source"`
	Notes  string `json:"notes,omitempty"`
}

// Student is a curriculum-tracked individual. The book sets and both history
// logs are owned exclusively by the student record.
type Student struct {
	ID            string `json:"id"`
	FullName      string `json:"fullName"`
	Phone         string `json:"phone"`
	Address       string `json:"address"`
	GuardianName  string `json:"guardianName"`
	GuardianPhone string `json:"guardianPhone"`
	Photo         string `json:"photo,omitempty"`

	EducationLevel string `json:"educationLevel"`

	PreviousFinancialAid  string `json:"previousFinancialAid"`
	AidSource             string `json:"aidSource"`
	AidDuration           string `json:"aidDuration"`
	FamilyFinancialStatus string `json:"familyFinancialStatus"`
	IncomeSource          string `json:"incomeSource"`

	FamilyStatus    string `json:"familyStatus"`
	HealthStatus    string `json:"healthStatus"`
	ChronicDiseases string `json:"chronicDiseases"`

	PreviousMosque  string         `json:"previousMosque"`
	PreviousTeacher string         `json:"previousTeacher"`
	PreviousBooks   []BookProgress `json:"previousBooks"`

	CurrentMosque  string         `json:"currentMosque"`
	CurrentTeacher string         `json:"currentTeacher"`
	CurrentBooks   []BookProgress `json:"currentBooks"`

	StudyHistory     []StudyLogEntry     `json:"studyHistory"`
	FinancialHistory []FinancialLogEntry `json:"financialHistory"`

	CreatedAt time.Time `json:"createdAt"`
}

// VisitEvent is a single dated tutor visit. StudentID references the owning
// student; the visit lives in its own collection.
type VisitEvent struct {
	ID           string `json:"id"`
	StudentID    string `json:"studentId"`
	TeacherName  string `json:"teacherName"`
	VisitDate    string `json:"visitDate"`
	Location     string `json:"location"`
	StudentNotes string `json:"studentNotes"`
	HujraNotes   string `json:"hujraNotes"`
	Suggestions  string `json:"suggestions"`
}

// Snapshot captures a point-in-time copy of both collections keyed by id.
type Snapshot struct {
	Students map[string]Student    `json:"students"`
	Visits   map[string]VisitEvent `json:"visits"`
}

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Change describes a mutation applied within a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string     `json:"rule"`
	Severity Severity   `json:"severity"`
	Message  string     `json:"message"`
	Entity   EntityType `json:"entity"`
	EntityID string     `json:"entityId,omitempty"`
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}
