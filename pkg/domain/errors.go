package domain

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrStorageUnavailable is matched by every failure to open or write the
	// underlying persistence layer.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrInvalidBackupFormat is returned when an import document fails
	// structural validation. The store is left untouched.
	ErrInvalidBackupFormat = errors.New("invalid backup format")
	// ErrMalformedValue flags a numeric field (page count, amount) that does
	// not hold a non-negative decimal integer.
	ErrMalformedValue = errors.New("malformed value")
	// ErrNotFound is matched by NotFoundError.
	ErrNotFound = errors.New("not found")
)

// StorageError wraps a persistence failure while matching ErrStorageUnavailable.
type StorageError struct {
	Op  string
	Err error
}

// NewStorageError wraps err for operation op; nil in, nil out.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage unavailable: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is reports ErrStorageUnavailable equivalence.
func (e *StorageError) Is(target error) bool { return target == ErrStorageUnavailable }

// NotFoundError is returned when a referenced record does not exist.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// Is reports ErrNotFound equivalence.
func (e NotFoundError) Is(target error) bool { return target == ErrNotFound }

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	if len(e.Result.Violations) == 0 {
		return "transaction blocked by rules"
	}
	v := e.Result.Violations[0]
	return fmt.Sprintf("transaction blocked by rules: %s: %s", v.Rule, v.Message)
}
