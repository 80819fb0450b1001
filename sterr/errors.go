// Package sterr defines the closed error taxonomy the façade surfaces to
// callers (spec §7/§4.9). Every failure mode the core can produce is one
// Kind carried by a single *Error type, rather than one struct per failure
// the way an ad-hoc error hierarchy would grow; callers pattern-match with
// errors.Is against the package's sentinel values.
package sterr

import (
	"errors"
	"fmt"
)

// Kind enumerates the closed error taxonomy from spec §7.
type Kind string

const (
	KindGeneric              Kind = "generic-engine-error"
	KindNotNullViolation     Kind = "not-null-violation"
	KindUniqueViolation      Kind = "unique-violation"
	KindConstraintViolation  Kind = "generic-constraint-violation"
	KindWriteLockTimeout     Kind = "write-lock-timeout"
	KindRetryExhausted       Kind = "retry-exhausted"
	KindAlreadyInTransaction Kind = "already-in-transaction"
	KindBadSavepoint         Kind = "bad-savepoint"
	KindUnsupportedOperation Kind = "unsupported-operation"
	KindUnsupportedBinding   Kind = "unsupported-binding"
	KindNotFound             Kind = "not-found"
	KindFatalCorruption      Kind = "fatal-corruption"
	KindDisposed             Kind = "disposed"
	KindInvalidArgument      Kind = "invalid-argument"
)

// Error is the one carrier type for every Kind in the taxonomy. SQL,
// PrimaryCode and ExtendedCode are populated when the failure originated
// from an engine result code (spec §4.9); Column is populated only for
// unique/not-null violations when a column name could be inferred from the
// engine's error text.
type Error struct {
	Kind         Kind
	Message      string
	SQL          string
	PrimaryCode  int
	ExtendedCode int
	Column       string
	Cause        error

	// BusyOrLocked marks a KindGeneric failure whose primary code was
	// SQLITE_BUSY/SQLITE_LOCKED (§4.4's "transient (retryable)" row).
	// It is its own field rather than a distinct Kind because busy/locked
	// classification only matters to the retry loop, never to a caller's
	// switch over Kind.
	BusyOrLocked bool
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.SQL != "" {
		return fmt.Sprintf("%s: %s", msg, e.SQL)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches against the Kind-keyed sentinel values below, so
// errors.Is(err, sterr.ErrNotFound) works regardless of the Message/SQL
// payload, the same pattern the teacher's RecoverableError structs used
// with a single hand-written Is method per struct.
func (e *Error) Is(target error) bool {
	var sentinel *sentinelError
	if errors.As(target, &sentinel) {
		return e.Kind == sentinel.kind
	}
	return false
}

// ErrorCode returns the taxonomy Kind as a stable machine-readable string.
func (e *Error) ErrorCode() string { return string(e.Kind) }

// Context returns structured fields for diagnostics/logging.
func (e *Error) Context() map[string]string {
	ctx := map[string]string{"kind": string(e.Kind)}
	if e.SQL != "" {
		ctx["sql"] = e.SQL
	}
	if e.Column != "" {
		ctx["column"] = e.Column
	}
	if e.PrimaryCode != 0 {
		ctx["primary_code"] = fmt.Sprintf("%d", e.PrimaryCode)
	}
	if e.ExtendedCode != 0 {
		ctx["extended_code"] = fmt.Sprintf("%d", e.ExtendedCode)
	}
	return ctx
}

// SuggestedAction gives a human remediation hint per Kind.
func (e *Error) SuggestedAction() string {
	switch e.Kind {
	case KindWriteLockTimeout:
		return "retry the call, or increase DatabaseWriteLockTimeout"
	case KindRetryExhausted:
		return "the operation was retried and still failed; inspect the wrapped cause"
	case KindUniqueViolation:
		return "the row conflicts with an existing unique value; use InsertOrReplace or change the key"
	case KindNotNullViolation:
		return "supply a value for the offending column"
	case KindAlreadyInTransaction:
		return "commit or rollback the current transaction before beginning a new one"
	case KindBadSavepoint:
		return "use the name returned by SaveTransactionPoint"
	case KindNotFound:
		return "verify the primary key exists before calling Get"
	case KindFatalCorruption:
		return "if this surfaced while opening, the database files were deleted; reopen to recreate them"
	default:
		return "inspect the wrapped cause"
	}
}

// sentinelError is a comparable marker used only for errors.Is matching
// against one of the Err* values below; it carries no payload.
type sentinelError struct{ kind Kind }

func (s *sentinelError) Error() string { return string(s.kind) }

// Sentinels for errors.Is(err, sterr.ErrXxx) comparisons.
var (
	ErrGeneric              = &sentinelError{KindGeneric}
	ErrNotNullViolation     = &sentinelError{KindNotNullViolation}
	ErrUniqueViolation      = &sentinelError{KindUniqueViolation}
	ErrConstraintViolation  = &sentinelError{KindConstraintViolation}
	ErrWriteLockTimeout     = &sentinelError{KindWriteLockTimeout}
	ErrRetryExhausted       = &sentinelError{KindRetryExhausted}
	ErrAlreadyInTransaction = &sentinelError{KindAlreadyInTransaction}
	ErrBadSavepoint         = &sentinelError{KindBadSavepoint}
	ErrUnsupportedOperation = &sentinelError{KindUnsupportedOperation}
	ErrUnsupportedBinding   = &sentinelError{KindUnsupportedBinding}
	ErrNotFound             = &sentinelError{KindNotFound}
	ErrFatalCorruption      = &sentinelError{KindFatalCorruption}
	ErrDisposed             = &sentinelError{KindDisposed}
	ErrInvalidArgument      = &sentinelError{KindInvalidArgument}
)

// New constructs an *Error of the given Kind with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error of the given Kind wrapping cause, carrying sql
// text when available (§4.9: "every error carries the SQL text").
func Wrap(kind Kind, sql string, cause error) *Error {
	return &Error{Kind: kind, Message: cause.Error(), SQL: sql, Cause: cause}
}

// IsRetryable reports whether a failure is transient per §7/§8.6:
// write-lock timeouts and busy/locked engine errors are retried by the
// connection manager; everything else, including constraint violations,
// is not.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case KindWriteLockTimeout:
		return true
	case KindGeneric:
		// A generic engine error is only retryable when it carries a
		// busy/locked primary code; engine.Classify keeps such errors
		// as KindGeneric and sets BusyOrLocked on them.
		return e.BusyOrLocked
	}
	return false
}
