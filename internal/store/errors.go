package store

import (
	"errors"
	"fmt"
)

// ErrorKind classifies persistence failures.
type ErrorKind string

// Persistence error kinds.
const (
	KindIOFailure     ErrorKind = "io_failure"
	KindCorruptRecord ErrorKind = "corrupt_record"
)

// Sentinels matched by PersistenceError.Is.
var (
	ErrIOFailure     = errors.New("io failure")
	ErrCorruptRecord = errors.New("corrupt record")
)

// PersistenceError wraps a failed read or write of the archive.
type PersistenceError struct {
	Kind  ErrorKind
	Path  string
	Op    string
	Cause error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Path, e.Kind, e.Cause)
}

// Unwrap exposes the underlying cause.
func (e *PersistenceError) Unwrap() error { return e.Cause }

// Is matches the kind sentinel.
func (e *PersistenceError) Is(target error) bool {
	switch e.Kind {
	case KindIOFailure:
		return target == ErrIOFailure
	case KindCorruptRecord:
		return target == ErrCorruptRecord
	}
	return false
}

// ErrorKind returns the kind label recorded in run summaries.
func (e *PersistenceError) ErrorKind() string { return "persistence." + string(e.Kind) }

func ioErr(op, path string, err error) error {
	return &PersistenceError{Kind: KindIOFailure, Op: op, Path: path, Cause: err}
}
