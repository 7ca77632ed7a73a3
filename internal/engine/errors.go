package engine

import (
	"errors"
	"fmt"
)

// Error represents a typed engine failure.
//
// User-visible failures (a forbidden check-in, an access lockout) are
// returned as these typed values so callers can render a precise response.
// Transient failures (transport timeouts, version conflicts) are retried
// inside the engine and never carry these codes to a caller.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// MessageID identifies the affected message, when known.
	MessageID string

	// Err is the underlying cause, when one exists.
	Err error
}

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeNotFound indicates the referenced entity does not exist.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeForbidden indicates the acting user may not perform the
	// operation (not the owner, or a wrong password).
	ErrCodeForbidden ErrorCode = "FORBIDDEN"

	// ErrCodeInvalidState indicates the message status does not permit the
	// requested transition.
	ErrCodeInvalidState ErrorCode = "INVALID_STATE"

	// ErrCodeConcurrentModification indicates compare-and-swap retries were
	// exhausted. Individual conflicts are retried internally; this code
	// only appears when contention persists across every retry.
	ErrCodeConcurrentModification ErrorCode = "CONCURRENT_MODIFICATION"

	// ErrCodeTransportFailure indicates a delivery attempt failed; it
	// drives retry accounting and never escalates to callers.
	ErrCodeTransportFailure ErrorCode = "TRANSPORT_FAILURE"

	// ErrCodeCipherFailure indicates content that cannot be decrypted.
	// Fatal for that message's release; the message is expired with an
	// error flag rather than silently lost.
	ErrCodeCipherFailure ErrorCode = "CIPHER_FAILURE"

	// ErrCodeLocked indicates the access gate lockout has engaged.
	ErrCodeLocked ErrorCode = "LOCKED"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.MessageID != "" {
		return fmt.Sprintf("%s: %s (message=%s)", e.Code, e.Message, e.MessageID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf extracts the engine error code from err, or "" when err is not an
// engine error. Uses errors.As to handle wrapped errors.
func CodeOf(err error) ErrorCode {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}

// IsNotFound reports whether err carries ErrCodeNotFound.
func IsNotFound(err error) bool { return CodeOf(err) == ErrCodeNotFound }

// IsForbidden reports whether err carries ErrCodeForbidden.
func IsForbidden(err error) bool { return CodeOf(err) == ErrCodeForbidden }

// IsLocked reports whether err carries ErrCodeLocked.
func IsLocked(err error) bool { return CodeOf(err) == ErrCodeLocked }

// IsInvalidState reports whether err carries ErrCodeInvalidState.
func IsInvalidState(err error) bool { return CodeOf(err) == ErrCodeInvalidState }

func newError(code ErrorCode, messageID, format string, args ...any) *Error {
	return &Error{
		Code:      code,
		Message:   fmt.Sprintf(format, args...),
		MessageID: messageID,
	}
}
