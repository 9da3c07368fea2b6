// Package core wires the record store, the progress merge engine, backups and
// the read-side session cache into the operations the rest of the program
// calls.
package core

import (
	"context"
	"time"

	"hujra/internal/analysis"
	"hujra/internal/backup"
	"hujra/internal/blob"
	"hujra/internal/session"
	"hujra/pkg/domain"
	"hujra/pkg/progress"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

// ErrArchiveUnavailable is returned by archive operations when no blob store
// was configured.
var ErrArchiveUnavailable = errors.New("backup archive not configured")

// Service exposes the record-keeping operations. Every mutation runs in one
// store transaction and then refreshes the session cache.
type Service struct {
	store      domain.PersistentStore
	cache      *session.Cache
	logger     *zap.Logger
	metrics    MetricsRecorder
	summarizer analysis.Summarizer
	archiver   *backup.Archiver
	strict     bool
	reports    ReportOptions
	now        func() time.Time
	newID      func() string
}

// Option customises a Service.
type Option func(*Service)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithSummarizer sets the analysis collaborator.
func WithSummarizer(sum analysis.Summarizer) Option {
	return func(s *Service) {
		if sum != nil {
			s.summarizer = sum
		}
	}
}

// WithArchiver enables the archive operations.
func WithArchiver(a *backup.Archiver) Option {
	return func(s *Service) { s.archiver = a }
}

// WithStrictNumbers toggles numeric validation of visit updates.
func WithStrictNumbers(strict bool) Option {
	return func(s *Service) { s.strict = strict }
}

// WithReportOptions sets report classification.
func WithReportOptions(opts ReportOptions) Option {
	return func(s *Service) { s.reports = opts }
}

// WithClock overrides the service clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides the id source for records and merge entries.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// NewService builds a service over store and loads the session cache.
func NewService(ctx context.Context, store domain.PersistentStore, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("core: nil store")
	}
	s := &Service{
		store:      store,
		cache:      session.New(store),
		logger:     zap.NewNop(),
		metrics:    noopMetrics{},
		summarizer: analysis.Disabled{},
		strict:     true,
		reports:    ReportOptions{HealthyMarker: "healthy", AlertStatuses: []string{"bad", "poor"}},
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.cache.Refresh(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Store returns the underlying record store.
func (s *Service) Store() domain.PersistentStore { return s.store }

// Cache returns the read-side session cache.
func (s *Service) Cache() *session.Cache { return s.cache }

func (s *Service) observe(ctx context.Context, op string, fn func() error, fields ...zap.Field) error {
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)
	s.metrics.Observe(ctx, op, err == nil, elapsed)
	fields = append(fields, zap.String("operation", op), zap.Duration("elapsed", elapsed))
	if err != nil {
		s.logger.Warn("operation failed", append(fields, zap.Error(err))...)
		return err
	}
	s.logger.Debug("operation completed", fields...)
	return nil
}

// refresh reloads the cache after a committed write. A refresh failure does
// not undo the write; the cache keeps its previous contents.
func (s *Service) refresh(ctx context.Context) {
	if err := s.cache.Refresh(ctx); err != nil {
		s.logger.Warn("session cache refresh failed", zap.Error(err))
	}
}

func (s *Service) mutate(ctx context.Context, op string, fn func(domain.Transaction) error, fields ...zap.Field) error {
	return s.observe(ctx, op, func() error {
		if _, err := s.store.RunInTransaction(ctx, fn); err != nil {
			return err
		}
		s.refresh(ctx)
		return nil
	}, fields...)
}

// Refresh reloads the session cache from the store.
func (s *Service) Refresh(ctx context.Context) error {
	return s.observe(ctx, "refresh", func() error { return s.cache.Refresh(ctx) })
}

// Students lists cached students, newest first.
func (s *Service) Students() []domain.Student { return s.cache.Students() }

// Visits lists cached visits, most recent first.
func (s *Service) Visits() []domain.VisitEvent { return s.cache.Visits() }

// Search matches student names case-insensitively.
func (s *Service) Search(term string) []domain.Student { return s.cache.Search(term) }

// Student returns one cached student.
func (s *Service) Student(id string) (domain.Student, error) {
	st, ok := s.cache.Student(id)
	if !ok {
		return domain.Student{}, domain.NotFoundError{Entity: domain.EntityStudent, ID: id}
	}
	return st, nil
}

// Visit returns one cached visit.
func (s *Service) Visit(id string) (domain.VisitEvent, error) {
	v, ok := s.cache.Visit(id)
	if !ok {
		return domain.VisitEvent{}, domain.NotFoundError{Entity: domain.EntityVisit, ID: id}
	}
	return v, nil
}

// VisitsFor lists the visits of one student.
func (s *Service) VisitsFor(studentID string) ([]domain.VisitEvent, error) {
	if _, ok := s.cache.Student(studentID); !ok {
		return nil, domain.NotFoundError{Entity: domain.EntityStudent, ID: studentID}
	}
	return s.cache.VisitsFor(studentID), nil
}

// SaveStudent inserts or replaces a student. A new student gets an id; the
// creation time of an existing one is preserved.
func (s *Service) SaveStudent(ctx context.Context, student domain.Student) (domain.Student, error) {
	if student.ID == "" {
		student.ID = s.newID()
	}
	var saved domain.Student
	err := s.mutate(ctx, "save_student", func(tx domain.Transaction) error {
		var err error
		saved, err = tx.PutStudent(student)
		return err
	}, zap.String("student_id", student.ID))
	if err != nil {
		return domain.Student{}, err
	}
	return saved, nil
}

// DeleteStudent removes a student and every visit that references it.
func (s *Service) DeleteStudent(ctx context.Context, id string) (int, error) {
	var removed int
	err := s.observe(ctx, "delete_student", func() error {
		n, err := s.store.DeleteStudentCascade(ctx, id)
		if err != nil {
			return err
		}
		removed = n
		s.refresh(ctx)
		return nil
	}, zap.String("student_id", id))
	return removed, err
}

// SaveVisit inserts or replaces a visit without touching the student's
// curriculum. The referenced student must exist.
func (s *Service) SaveVisit(ctx context.Context, visit domain.VisitEvent) (domain.VisitEvent, error) {
	if visit.ID == "" {
		visit.ID = s.newID()
	}
	var saved domain.VisitEvent
	err := s.mutate(ctx, "save_visit", func(tx domain.Transaction) error {
		if _, ok := tx.FindStudent(visit.StudentID); !ok {
			return domain.NotFoundError{Entity: domain.EntityStudent, ID: visit.StudentID}
		}
		var err error
		saved, err = tx.PutVisit(visit)
		return err
	}, zap.String("visit_id", visit.ID))
	if err != nil {
		return domain.VisitEvent{}, err
	}
	return saved, nil
}

// DeleteVisit removes one visit; absent ids are a no-op.
func (s *Service) DeleteVisit(ctx context.Context, id string) error {
	return s.mutate(ctx, "delete_visit", func(tx domain.Transaction) error {
		return tx.DeleteVisit(id)
	}, zap.String("visit_id", id))
}

// RecordVisitInput is a visit plus the curriculum updates made during it.
type RecordVisitInput struct {
	Visit   domain.VisitEvent     `json:"visit"`
	Updates []progress.UpdateItem `json:"updates"`
	Finance *progress.FinanceItem `json:"finance,omitempty"`
}

// RecordVisitResult is what RecordVisit committed.
type RecordVisitResult struct {
	Visit   domain.VisitEvent `json:"visit"`
	Student domain.Student    `json:"student"`
	// Stale lists update book names that matched no in-progress book.
	Stale []string `json:"stale,omitempty"`
}

// RecordVisit merges the updates into the student and stores the visit and
// the student together. Either both are written or neither is.
func (s *Service) RecordVisit(ctx context.Context, in RecordVisitInput) (RecordVisitResult, error) {
	visit := in.Visit
	if visit.ID == "" {
		visit.ID = s.newID()
	}
	if visit.VisitDate == "" {
		visit.VisitDate = s.now().Format(dateLayout)
	}
	updates := progress.FilterUpdates(in.Updates)
	var out RecordVisitResult
	err := s.observe(ctx, "record_visit", func() error {
		if s.strict {
			if err := progress.Validate(updates, in.Finance); err != nil {
				return err
			}
		}
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			student, ok := tx.FindStudent(visit.StudentID)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntityStudent, ID: visit.StudentID}
			}
			outcome := progress.MergeWithOutcome(student, visit, updates, in.Finance, progress.WithIDGenerator(s.newID))
			savedVisit, err := tx.PutVisit(visit)
			if err != nil {
				return err
			}
			savedStudent, err := tx.PutStudent(outcome.Student)
			if err != nil {
				return err
			}
			out = RecordVisitResult{Visit: savedVisit, Student: savedStudent, Stale: outcome.Stale}
			return nil
		})
		if err != nil {
			return err
		}
		s.refresh(ctx)
		return nil
	}, zap.String("visit_id", visit.ID), zap.String("student_id", visit.StudentID), zap.Int("updates", len(updates)))
	if err != nil {
		return RecordVisitResult{}, err
	}
	if len(out.Stale) > 0 {
		s.logger.Info("visit referenced books not in progress",
			zap.String("visit_id", visit.ID), zap.Strings("books", out.Stale))
	}
	return out, nil
}

// ExportBackup captures the whole dataset as a backup document.
func (s *Service) ExportBackup(ctx context.Context) (backup.Document, error) {
	var doc backup.Document
	err := s.observe(ctx, "export_backup", func() error {
		var err error
		doc, err = backup.Export(ctx, s.store)
		return err
	})
	return doc, err
}

// ImportBackup replaces the whole dataset with doc. It is destructive:
// records missing from doc are removed.
func (s *Service) ImportBackup(ctx context.Context, doc backup.Document) error {
	return s.observe(ctx, "import_backup", func() error {
		if err := backup.Import(ctx, s.store, doc); err != nil {
			return err
		}
		s.refresh(ctx)
		return nil
	}, zap.Int("students", len(doc.Students)), zap.Int("visits", len(doc.Visits)))
}

// ArchiveBackup exports the dataset into the configured archive store.
func (s *Service) ArchiveBackup(ctx context.Context) (blob.Info, error) {
	var info blob.Info
	err := s.observe(ctx, "archive_backup", func() error {
		if s.archiver == nil {
			return ErrArchiveUnavailable
		}
		doc, err := backup.Export(ctx, s.store)
		if err != nil {
			return err
		}
		info, err = s.archiver.Archive(ctx, doc)
		return err
	})
	return info, err
}

// ListArchives lists stored archives, newest first.
func (s *Service) ListArchives(ctx context.Context) ([]blob.Info, error) {
	var infos []blob.Info
	err := s.observe(ctx, "list_archives", func() error {
		if s.archiver == nil {
			return ErrArchiveUnavailable
		}
		var err error
		infos, err = s.archiver.List(ctx)
		return err
	})
	return infos, err
}

// RestoreArchive imports a stored archive, replacing the dataset.
func (s *Service) RestoreArchive(ctx context.Context, key string) error {
	return s.observe(ctx, "restore_archive", func() error {
		if s.archiver == nil {
			return ErrArchiveUnavailable
		}
		doc, err := s.archiver.Load(ctx, key)
		if err != nil {
			return err
		}
		if err := backup.Import(ctx, s.store, doc); err != nil {
			return err
		}
		s.refresh(ctx)
		return nil
	}, zap.String("key", key))
}

// Report summarises the cached dataset.
func (s *Service) Report(ctx context.Context) (Report, error) {
	var rep Report
	err := s.observe(ctx, "report", func() error {
		rep = BuildReport(s.cache.Students(), s.cache.Visits(), s.reports, s.now())
		return nil
	})
	return rep, err
}

// Analyze asks the summarizer for an assessment of one student. Only an
// unknown student is an error; summarizer failures yield placeholder text.
func (s *Service) Analyze(ctx context.Context, studentID string) (string, error) {
	var text string
	err := s.observe(ctx, "analyze", func() error {
		st, ok := s.cache.Student(studentID)
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityStudent, ID: studentID}
		}
		text = s.summarizer.Summarize(ctx, st)
		return nil
	}, zap.String("student_id", studentID))
	return text, err
}
