package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Input error sentinels. A unit that fails with one of these is skipped and
// its siblings continue.
var (
	ErrPayloadTooLarge     = errors.New("payload too large")
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrMalformedManifest   = errors.New("malformed manifest")
	ErrUnreadable          = errors.New("unreadable input")
	ErrInvalidRepository   = errors.New("invalid repository")
)

// ErrUnsafeArchiveEntry marks an archive that tries to escape its extraction
// root. It always aborts the whole scan.
var ErrUnsafeArchiveEntry = errors.New("unsafe archive entry")

// InputError describes a problem with one unit of caller-supplied input.
type InputError struct {
	Unit string
	Err  error
	// Detail is a human readable hint on how to fix the input.
	Detail string
}

func (e *InputError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %v: %s", e.Unit, e.Err, e.Detail)
	}
	return fmt.Sprintf("%s: %v", e.Unit, e.Err)
}

func (e *InputError) Unwrap() error { return e.Err }

// NewInputError wraps one of the input sentinels with the unit it applies to.
func NewInputError(unit string, err error, detail string) *InputError {
	return &InputError{Unit: unit, Err: err, Detail: detail}
}

// UnsafeInputError reports an adversarial archive entry.
type UnsafeInputError struct {
	Entry  string
	Reason string
}

func (e *UnsafeInputError) Error() string {
	return fmt.Sprintf("unsafe archive entry %q: %s", e.Entry, e.Reason)
}

func (e *UnsafeInputError) Unwrap() error { return ErrUnsafeArchiveEntry }

// CollaboratorError is a failure of an external service (advisory feed, AI
// provider, notification endpoint).
type CollaboratorError struct {
	Service    string
	StatusCode int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *CollaboratorError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("%s error (status %d): %s", e.Service, e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s error (status %d)", e.Service, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s unavailable: %v", e.Service, e.Err)
	default:
		return fmt.Sprintf("%s unavailable: %s", e.Service, e.Message)
	}
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient: rate limiting, server
// errors, timeouts and transport failures.
func (e *CollaboratorError) Retryable() bool {
	if e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout {
		return true
	}
	if e.StatusCode >= 500 && e.StatusCode < 600 {
		return true
	}
	if e.StatusCode != 0 {
		return false
	}
	return e.Err == nil || isTransient(e.Err)
}

// NewStatusError builds a CollaboratorError from an HTTP response status and
// body. The Retry-After header, if present, is honoured.
func NewStatusError(service string, resp *http.Response, body []byte) *CollaboratorError {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	return &CollaboratorError{
		Service:    service,
		StatusCode: resp.StatusCode,
		Message:    msg,
		RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
	}
}

// ParseRetryAfter accepts the delay-seconds form of the Retry-After header.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// IsRetryable classifies any error returned by a collaborator call.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var collabErr *CollaboratorError
	if errors.As(err, &collabErr) {
		return collabErr.Retryable()
	}
	return isTransient(err)
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr interface{ Temporary() bool }
	if errors.As(err, &opErr) && opErr.Temporary() {
		return true
	}
	return false
}

// DetectorFault records a detector that panicked on some input.
type DetectorFault struct {
	Detector string
	Path     string
	Panic    any
}

func (e *DetectorFault) Error() string {
	return fmt.Sprintf("detector %s failed on %s: %v", e.Detector, e.Path, e.Panic)
}
