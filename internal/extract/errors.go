package extract

import (
	"errors"
	"fmt"
)

// ErrorKind classifies extraction failures.
type ErrorKind string

// Extraction error kinds.
const (
	KindMalformedPage  ErrorKind = "malformed_page"
	KindMissingContent ErrorKind = "missing_content"
	KindSkipped        ErrorKind = "skipped"
)

// Sentinels matched by ExtractError.Is.
var (
	ErrMalformedPage  = errors.New("malformed page")
	ErrMissingContent = errors.New("missing content")
	ErrSkipped        = errors.New("skipped")
)

// ExtractError reports why a tab produced no content.
type ExtractError struct {
	Kind  ErrorKind
	TabID string
	URL   string
	Cause error
}

func (e *ExtractError) Error() string {
	msg := fmt.Sprintf("extract tab %s: %s", e.TabID, e.Kind)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes the underlying cause.
func (e *ExtractError) Unwrap() error { return e.Cause }

// Is matches the kind sentinel.
func (e *ExtractError) Is(target error) bool {
	switch e.Kind {
	case KindMalformedPage:
		return target == ErrMalformedPage
	case KindMissingContent:
		return target == ErrMissingContent
	case KindSkipped:
		return target == ErrSkipped
	}
	return false
}

// ErrorKind returns the kind label recorded in run summaries.
func (e *ExtractError) ErrorKind() string { return "extract." + string(e.Kind) }
