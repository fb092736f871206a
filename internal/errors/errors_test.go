package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInputErrorUnwrap(t *testing.T) {
	err := fmt.Errorf("collect: %w", NewInputError("big.bin", ErrPayloadTooLarge, "limit is 1 MiB"))

	assert.ErrorIs(t, err, ErrPayloadTooLarge)
	assert.NotErrorIs(t, err, ErrUnsafeArchiveEntry)
	assert.Contains(t, err.Error(), "big.bin")
	assert.Contains(t, err.Error(), "limit is 1 MiB")

	var inErr *InputError
	assert.True(t, errors.As(err, &inErr))
	assert.Equal(t, "big.bin", inErr.Unit)
}

func TestUnsafeInputError(t *testing.T) {
	err := &UnsafeInputError{Entry: "../../etc/passwd", Reason: "escapes extraction root"}
	assert.ErrorIs(t, err, ErrUnsafeArchiveEntry)
	assert.Contains(t, err.Error(), "../../etc/passwd")
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", &CollaboratorError{Service: "osv", StatusCode: 429}, true},
		{"server error", &CollaboratorError{Service: "osv", StatusCode: 503}, true},
		{"client error", &CollaboratorError{Service: "osv", StatusCode: 400}, false},
		{"not found", &CollaboratorError{Service: "gemini", StatusCode: 404}, false},
		{"wrapped server error", fmt.Errorf("lookup: %w", &CollaboratorError{StatusCode: 502}), true},
		{"network timeout", &net.OpError{Op: "dial", Err: timeoutErr{}}, true},
		{"transport failure", &CollaboratorError{Service: "osv", Err: timeoutErr{}}, true},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestNewStatusError(t *testing.T) {
	resp := &http.Response{StatusCode: 429, Header: http.Header{"Retry-After": []string{"7"}}}
	err := NewStatusError("osv", resp, []byte("slow down\n"))

	assert.Equal(t, 7*time.Second, err.RetryAfter)
	assert.Equal(t, "osv error (status 429): slow down", err.Error())
	assert.True(t, err.Retryable())
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, time.Duration(0), ParseRetryAfter(""))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("Wed, 21 Oct 2015 07:28:00 GMT"))
	assert.Equal(t, 3*time.Second, ParseRetryAfter(" 3 "))
}

func TestDetectorFault(t *testing.T) {
	err := &DetectorFault{Detector: "regex_dos", Path: "a.js", Panic: "index out of range"}
	assert.Equal(t, "detector regex_dos failed on a.js: index out of range", err.Error())
}
