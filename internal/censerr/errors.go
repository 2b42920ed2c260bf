package censerr

import (
	"errors"
	"fmt"
)

// ErrKind is the closed taxonomy of error kinds the daemon can surface,
// per the error-handling design: these are kinds, not Go error types, so
// callers branch on Kind() rather than type-asserting.
type ErrKind int

const (
	ErrKindInvalidArgument ErrKind = iota
	ErrKindPluginFailure
	ErrKindPluginNotFound
	ErrKindVerificationError
	ErrKindTimeout
	ErrKindBug
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindInvalidArgument:
		return "invalid_argument"
	case ErrKindPluginFailure:
		return "plugin_failure"
	case ErrKindPluginNotFound:
		return "plugin_not_found"
	case ErrKindVerificationError:
		return "verification_error"
	case ErrKindTimeout:
		return "timeout"
	case ErrKindBug:
		return "bug"
	default:
		return fmt.Sprintf("err_kind(%d)", int(k))
	}
}

// Error wraps a Kind, a human-readable message, and an optional cause.
// Retry eligibility is a property of the kind (only VerificationError is
// retried by the Commander's verification loop), not of this type.
type Error struct {
	Kind    ErrKind
	Message string
	Cause   error
}

func NewError(kind ErrKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func WrapError(kind ErrKind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is supports errors.Is(err, NewError(ErrKindTimeout, "")) and similar
// kind-only targets via kind comparison, so callers can test for a kind without caring about
// the wrapped message or cause.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// KindOf extracts the ErrKind from err, defaulting to ErrKindBug when err
// does not carry one (an invariant violation: every error that reaches
// the Commander's workflow layer must already be classified).
func KindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrKindBug
}
