// Package workrailerr implements the closed-set, data-not-exceptions error
// model described in spec.md §7: every component returns a small sum of
// named codes through a single concrete error type, and no component ever
// panics or throws across a port boundary.
package workrailerr

import "fmt"

// Code is a closed-set error code. Families are grouped by the component
// that raises them, matching the BUNDLE_*, SESSION_STORE_*, SESSION_LOCK_*,
// SNAPSHOT_STORE_*, KEYRING_*, TOKEN_*, PROJECTION_*, SCHEMA_*, BINARY_*,
// BECH32M_* families spec.md §7 names.
type Code string

const (
	// Canonical codec / binary encoding
	CodeBinaryInvalidLength Code = "BINARY_INVALID_LENGTH"
	CodeBech32mChecksumFail Code = "BECH32M_CHECKSUM_FAILED"
	CodeBech32mInvalidHRP   Code = "BECH32M_INVALID_HRP"

	// Event/snapshot/blocker schemas (C3). Raised by the schema package's own
	// Validate/FromData methods; a caller in another component's family
	// (SESSION_STORE_*, SNAPSHOT_STORE_*, ...) that needs its own code for
	// the identical condition translates this into that code instead of
	// letting it pass through unchanged.
	CodeSchemaInvariantViolation Code = "SCHEMA_INVARIANT_VIOLATION"

	// Keyring (C2)
	CodeKeyringCorruption Code = "KEYRING_CORRUPTION_DETECTED"

	// Tokens (C2)
	CodeTokenInvalidFormat Code = "TOKEN_INVALID_FORMAT"
	CodeTokenBadSignature  Code = "TOKEN_BAD_SIGNATURE"
	CodeTokenKindMismatch  Code = "TOKEN_KIND_MISMATCH"

	// ID factory (C2)
	CodeEntropyExhausted Code = "ENTROPY_EXHAUSTED"

	// Session event-log store (C4)
	CodeSessionStoreInvariantViolation Code = "SESSION_STORE_INVARIANT_VIOLATION"
	CodeSessionStoreCorruption         Code = "SESSION_STORE_CORRUPTION_DETECTED"

	// Snapshot / pinned workflow stores (C5/C6)
	CodeSnapshotStoreCorruption Code = "SNAPSHOT_STORE_CORRUPTION_DETECTED"

	// Session gate (C7)
	CodeSessionLockReentrant Code = "SESSION_LOCK_REENTRANT"
	CodeSessionLocked        Code = "SESSION_LOCKED"
	CodeSessionNotHealthy    Code = "SESSION_NOT_HEALTHY"

	// Projections (C8)
	CodeProjectionInvariantViolation Code = "PROJECTION_INVARIANT_VIOLATION"

	// Bundle build/validate (C9)
	CodeBundleInvalidFormat           Code = "BUNDLE_INVALID_FORMAT"
	CodeBundleUnsupportedVersion      Code = "BUNDLE_UNSUPPORTED_VERSION"
	CodeBundleIntegrityFailed         Code = "BUNDLE_INTEGRITY_FAILED"
	CodeBundleEventOrderInvalid       Code = "BUNDLE_EVENT_ORDER_INVALID"
	CodeBundleManifestOrderInvalid    Code = "BUNDLE_MANIFEST_ORDER_INVALID"
	CodeBundleMissingSnapshot         Code = "BUNDLE_MISSING_SNAPSHOT"
	CodeBundleMissingPinnedWorkflow   Code = "BUNDLE_MISSING_PINNED_WORKFLOW"
)

// RetryKind is the closed set the RPC error envelope (spec.md §6) expects.
type RetryKind string

const (
	RetryNotRetryable    RetryKind = "not_retryable"
	RetryRetryableAfter  RetryKind = "retryable_after_ms"
)

// Retry carries the retry hint attached to some errors, e.g. SESSION_LOCKED.
type Retry struct {
	Kind    RetryKind
	AfterMs int
}

// Error is the single concrete error type every core component returns.
// It is data: constructed with New/Newf and compared by Code, never by
// identity or by string-matching Error().
type Error struct {
	Code    Code
	Message string
	Retry   *Retry
	Details map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New builds an Error with no retry hint.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithRetry attaches a retry hint and returns the same error for chaining.
func (e *Error) WithRetry(kind RetryKind, afterMs int) *Error {
	e.Retry = &Retry{Kind: kind, AfterMs: afterMs}
	return e
}

// WithDetail attaches a detail key/value and returns the same error for chaining.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Is reports whether err is a *Error with the given code; it is shorthand
// for CodeOf(err) == code. Wrapped errors are not unwrapped.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// CodeOf extracts the Code from err, or "" if err is not a *Error.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}
