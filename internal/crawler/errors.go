package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// FetchErrorKind classifies fetch failures.
type FetchErrorKind string

// Fetch error kinds.
const (
	KindTimeout     FetchErrorKind = "timeout"
	KindNetwork     FetchErrorKind = "network"
	KindServerError FetchErrorKind = "server_error"
	KindNotFound    FetchErrorKind = "not_found"
	KindClientError FetchErrorKind = "client_error"
	KindExhausted   FetchErrorKind = "exhausted"
)

// Sentinels matched by FetchError.Is, so callers can write
// errors.Is(err, crawler.ErrNotFound).
var (
	ErrTimeout     = errors.New("fetch timed out")
	ErrNetwork     = errors.New("network failure")
	ErrServerError = errors.New("server error")
	ErrNotFound    = errors.New("not found")
	ErrClientError = errors.New("client error")
	ErrExhausted   = errors.New("retries exhausted")
	// ErrNotReady reports that the readiness marker never appeared.
	ErrNotReady = errors.New("page content not ready")
)

var kindSentinels = map[FetchErrorKind]error{
	KindTimeout:     ErrTimeout,
	KindNetwork:     ErrNetwork,
	KindServerError: ErrServerError,
	KindNotFound:    ErrNotFound,
	KindClientError: ErrClientError,
	KindExhausted:   ErrExhausted,
}

// FetchError is the terminal or per-attempt failure of a fetch.
type FetchError struct {
	Kind       FetchErrorKind
	URL        string
	StatusCode int
	Attempts   int
	Cause      error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Attempts > 0 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes the underlying cause.
func (e *FetchError) Unwrap() error { return e.Cause }

// Is matches the kind sentinel.
func (e *FetchError) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// ErrorKind returns the kind label recorded in run summaries.
func (e *FetchError) ErrorKind() string { return "fetch." + string(e.Kind) }

// ErrorKind labels err for error records. Errors that carry their own kind
// (fetch, extract and persistence errors) report it; anything else is
// "unknown".
func ErrorKind(err error) string {
	var kinded interface{ ErrorKind() string }
	if errors.As(err, &kinded) {
		return kinded.ErrorKind()
	}
	switch {
	case errors.Is(err, ErrNotReady):
		return "fetch.not_ready"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "fetch.timeout"
	}
	return "unknown"
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks a loader error that retrying cannot fix.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// classifyLoadError turns a loader error into a FetchError. Cancellation of
// the caller's context is returned untouched so it is never retried.
func classifyLoadError(ctx context.Context, url string, err error) error {
	var perm permanentError
	if ctx.Err() != nil || errors.Is(err, ErrNotReady) || errors.As(err, &perm) {
		return err
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &FetchError{Kind: KindTimeout, URL: url, Cause: err}
	}
	return &FetchError{Kind: KindNetwork, URL: url, Cause: err}
}

// classifyStatus maps a response status to a FetchError, or nil on success.
func classifyStatus(url string, resp FetchResponse) error {
	code := resp.StatusCode
	switch {
	case resp.Redirected, code >= 300 && code < 400:
		return &FetchError{Kind: KindNotFound, URL: url, StatusCode: code}
	case code == http.StatusNotFound, code == http.StatusGone:
		return &FetchError{Kind: KindNotFound, URL: url, StatusCode: code}
	case code >= 500:
		return &FetchError{Kind: KindServerError, URL: url, StatusCode: code}
	case code >= 400:
		return &FetchError{Kind: KindClientError, URL: url, StatusCode: code}
	}
	return nil
}
