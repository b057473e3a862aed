package core

import (
	"errors"
	"fmt"
)

// SessionExpiredMessage is the user-facing text of a normalized session failure.
const SessionExpiredMessage = "Session expired. Please sign in again."

var (
	// ErrSessionExpired matches every normalized session failure and the
	// gateway's "no session" pre-check.
	ErrSessionExpired = errors.New("session expired")

	// ErrSessionInvalid is raised by transports when the server rejects the
	// credentials of an otherwise present session (expired or revoked token).
	ErrSessionInvalid = errors.New("session invalid")

	ErrTransient  = errors.New("transient failure")
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned by transports for missing rows. The gateway turns
	// it into a found=false result for single-row lookups.
	ErrNotFound = errors.New("not found")

	// ErrAggregationUnsupported signals a missing aggregation capability. It is
	// consumed by the summary resolver and never reaches the UI.
	ErrAggregationUnsupported = errors.New("aggregation unsupported")

	// ErrMutationPending rejects a mutation for a bill that already has one in flight.
	ErrMutationPending = errors.New("mutation already pending")
)

// TransientError wraps network and timeout failures. Callers may retry; the
// core never does it on its own.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func (e *TransientError) Is(target error) bool { return target == ErrTransient }

// SessionExpiredError is the normalized form of any session failure.
type SessionExpiredError struct {
	Message string
	Err     error
}

func NewSessionExpiredError(cause error) *SessionExpiredError {
	return &SessionExpiredError{Message: SessionExpiredMessage, Err: cause}
}

func (e *SessionExpiredError) Error() string {
	if e.Message == "" {
		return SessionExpiredMessage
	}
	return e.Message
}

func (e *SessionExpiredError) Unwrap() error { return e.Err }

func (e *SessionExpiredError) Is(target error) bool { return target == ErrSessionExpired }

// ValidationError rejects malformed input before any network call.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// CategoryInUse refuses to delete a category still referenced by bills.
type CategoryInUse struct {
	Name  string
	Bills int
}

func CategoryInUseError(name string, bills int) error {
	return &CategoryInUse{Name: name, Bills: bills}
}

func (e *CategoryInUse) Error() string {
	return fmt.Sprintf("category %q is used by %d bill(s)", e.Name, e.Bills)
}

func (e *CategoryInUse) Is(target error) bool { return target == ErrValidation }

// IsSessionError reports whether err carries any session failure signal.
func IsSessionError(err error) bool {
	return errors.Is(err, ErrSessionExpired) || errors.Is(err, ErrSessionInvalid)
}

// UserMessage maps an error to a sentence fit for a toast or status line.
// Raw transport errors are never shown.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var sessionErr *SessionExpiredError
	if errors.As(err, &sessionErr) {
		return sessionErr.Error()
	}
	if IsSessionError(err) {
		return SessionExpiredMessage
	}

	var inUse *CategoryInUse
	if errors.As(err, &inUse) {
		return fmt.Sprintf("Cannot delete category %s because %d bill(s) are associated with it.", inUse.Name, inUse.Bills)
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return fmt.Sprintf("Invalid %s: %v.", validationErr.Field, validationErr.Err)
	}

	switch {
	case errors.Is(err, ErrMutationPending):
		return "This bill is still being saved. Please wait a moment and try again."
	case errors.Is(err, ErrTransient):
		return "Could not reach the server. Please check your connection and try again."
	case errors.Is(err, ErrNotFound):
		return "The bill no longer exists."
	default:
		return "Something went wrong. Please try again."
	}
}
