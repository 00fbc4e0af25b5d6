package capture

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies capture failures for retry and reporting decisions.
type ErrorKind string

// Error kinds surfaced by the capture pipeline.
const (
	KindInvalidInput     ErrorKind = "invalid_input"
	KindNavigationFailed ErrorKind = "navigation_failed"
	KindRenderTimeout    ErrorKind = "render_timeout"
	KindHeightDetection  ErrorKind = "height_detection_failed"
	KindCaptureWrite     ErrorKind = "capture_write_failed"
	KindRetriesExhausted ErrorKind = "retries_exhausted"
)

// Error is the structured failure type produced by capture attempts.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds an Error wrapping an optional cause.
func NewError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// KindOf extracts the ErrorKind from err, or empty if err carries none.
func KindOf(err error) ErrorKind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// Retryable reports whether another attempt could plausibly succeed.
// Bad input never becomes good input, and a canceled context means the
// caller has given up.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return KindOf(err) != KindInvalidInput
}

// classify wraps a raw error from the rendering session into a capture
// Error, promoting deadline expiry to a render timeout.
func classify(kind ErrorKind, message string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(KindRenderTimeout, message, err)
	}
	return NewError(kind, message, err)
}
