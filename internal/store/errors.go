package store

import (
	"errors"
	"fmt"
)

// ErrNotFound reports that the requested row does not exist. Handlers map it
// to a 404; the chat resolver treats it as "create one".
var ErrNotFound = errors.New("store: not found")

// StorageError wraps a connectivity or query failure. It is never retried
// automatically; retry policy belongs to the caller.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Storage wraps err as a StorageError unless it is nil or already part of
// the taxonomy (not-found and validation outcomes keep their meaning).
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return err
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// ValidationError reports malformed input rejected before it reaches
// storage.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return "validation: " + e.Msg }

// Invalid builds a ValidationError from a format string.
func Invalid(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}
