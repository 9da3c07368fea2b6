// Package backup converts the record store to and from the portable backup
// document and archives encoded documents in a blob store.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"time"

	"hujra/pkg/domain"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

// Version is written into every exported document.
const Version = "2.0"

const (
	fileNamePrefix = "hujra_backup_"
	dayLayout      = "2006-01-02"
)

// Document is the backup file layout: {"students": [...], "visits": [...], "version": "2.0"}.
type Document struct {
	Students []domain.Student    `json:"students"`
	Visits   []domain.VisitEvent `json:"visits"`
	Version  string              `json:"version"`
}

// Source is the read side of the record store needed for export.
type Source interface {
	View(ctx context.Context, fn func(domain.TransactionView) error) error
}

// Target is the write side of the record store needed for import.
type Target interface {
	ReplaceState(ctx context.Context, snapshot domain.Snapshot) error
}

// FileName returns the conventional download name for a backup taken at t.
func FileName(t time.Time) string {
	return fileNamePrefix + t.UTC().Format(dayLayout) + ".json"
}

// Export captures both collections from one consistent view. The document
// holds copies; later store mutations do not affect it.
func Export(ctx context.Context, src Source) (Document, error) {
	doc := Document{Version: Version, Students: []domain.Student{}, Visits: []domain.VisitEvent{}}
	err := src.View(ctx, func(v domain.TransactionView) error {
		doc.Students = append(doc.Students, v.ListStudents()...)
		doc.Visits = append(doc.Visits, v.ListVisits()...)
		return nil
	})
	if err != nil {
		return Document{}, errors.Wrap(err, "export view")
	}
	return doc, nil
}

// Encode writes doc as indented JSON.
func Encode(w io.Writer, doc Document) error {
	if doc.Version == "" {
		doc.Version = Version
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(doc), "encode backup")
}

// EncodeBytes is Encode into a fresh buffer.
func EncodeBytes(doc Document) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses and structurally validates a backup document. Every failure
// matches domain.ErrInvalidBackupFormat.
func Decode(r io.Reader) (Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Document{}, invalid("read: %v", err)
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return Document{}, invalid("top level must be a JSON object: %v", err)
	}
	var doc Document
	if err := decodeArray(top, "students", &doc.Students); err != nil {
		return Document{}, err
	}
	if err := decodeArray(top, "visits", &doc.Visits); err != nil {
		return Document{}, err
	}
	if raw, ok := top["version"]; ok && string(raw) != "null" {
		if err := json.Unmarshal(raw, &doc.Version); err != nil {
			return Document{}, invalid("version must be a string")
		}
	}
	if err := Validate(doc); err != nil {
		return Document{}, err
	}
	doc, _ = doc.DropOrphanVisits()
	return doc, nil
}

func decodeArray(top map[string]json.RawMessage, field string, target any) error {
	raw, ok := top[field]
	trimmed := bytes.TrimSpace(raw)
	if !ok || len(trimmed) == 0 || string(trimmed) == "null" {
		return invalid("missing %q array", field)
	}
	if trimmed[0] != '[' {
		return invalid("%q must be an array", field)
	}
	if err := json.Unmarshal(trimmed, target); err != nil {
		return invalid("decode %s: %v", field, err)
	}
	return nil
}

type studentRef struct {
	ID string `validate:"required"`
}

type visitRef struct {
	ID        string `validate:"required"`
	StudentID string `validate:"required"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks record identity: every student has an id and every visit
// has an id and a studentId. The version string is informational only.
func Validate(doc Document) error {
	for i, s := range doc.Students {
		if err := validate.Struct(studentRef{ID: s.ID}); err != nil {
			return invalid("students[%d]: id is required", i)
		}
	}
	for i, v := range doc.Visits {
		if err := validate.Struct(visitRef{ID: v.ID, StudentID: v.StudentID}); err != nil {
			return invalid("visits[%d]: id and studentId are required", i)
		}
	}
	return nil
}

// DropOrphanVisits returns doc without the visits whose student is absent
// from it, plus how many were dropped.
func (d Document) DropOrphanVisits() (Document, int) {
	students := make(map[string]struct{}, len(d.Students))
	for _, s := range d.Students {
		students[s.ID] = struct{}{}
	}
	kept := make([]domain.VisitEvent, 0, len(d.Visits))
	for _, v := range d.Visits {
		if _, ok := students[v.StudentID]; ok {
			kept = append(kept, v)
		}
	}
	dropped := len(d.Visits) - len(kept)
	d.Visits = kept
	return d, dropped
}

// Snapshot converts the document into the store's keyed representation.
// Duplicate ids resolve to the last occurrence.
func (d Document) Snapshot() domain.Snapshot {
	snap := domain.Snapshot{
		Students: make(map[string]domain.Student, len(d.Students)),
		Visits:   make(map[string]domain.VisitEvent, len(d.Visits)),
	}
	for _, s := range d.Students {
		snap.Students[s.ID] = s
	}
	for _, v := range d.Visits {
		snap.Visits[v.ID] = v
	}
	return snap
}

// Import validates doc and then replaces the whole dataset with it. This is
// a destructive full replace: records absent from doc are gone afterwards.
// Visits of students missing from doc are skipped. On validation failure
// the store is not touched.
func Import(ctx context.Context, dst Target, doc Document) error {
	if err := Validate(doc); err != nil {
		return err
	}
	doc, _ = doc.DropOrphanVisits()
	return dst.ReplaceState(ctx, doc.Snapshot())
}

func invalid(format string, args ...any) error {
	return errors.Wrapf(domain.ErrInvalidBackupFormat, format, args...)
}
