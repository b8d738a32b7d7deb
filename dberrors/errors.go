// Package dberrors defines the error taxonomy from spec.md §7: structured
// sentinel errors with stable codes for SDK-style programmatic handling,
// in the same shape as atomicbase's api/database/errors.go.
package dberrors

import (
	"errors"
	"fmt"
)

// Error codes are stable identifiers for SDK consumption.
const (
	CodeMalformedDocument   = "MALFORMED_DOCUMENT"
	CodeMalformedQuery      = "MALFORMED_QUERY"
	CodeUnsupportedOp       = "UNSUPPORTED_OPERATION"
	CodeStorageError        = "STORAGE_ERROR"
	CodeIntegrityError      = "INTEGRITY_ERROR"
	CodeTableNotFound       = "COLLECTION_NOT_FOUND"
	CodeInvalidIdentifier   = "INVALID_IDENTIFIER"
	CodeNoFTSIndex          = "NO_FTS_INDEX"
	CodeQueryTooDeep        = "QUERY_TOO_DEEP"
)

// APIError is a structured, client-visible error.
// Code is a stable identifier; Message describes the failure; Hint (if
// set) suggests a resolution.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

func (e *APIError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Sentinel errors, one per spec.md §7 category.
var (
	ErrMalformedDocument = errors.New("insertion input is not a document")
	ErrMalformedQuery    = errors.New("malformed query")
	ErrUnsupportedOp     = errors.New("operation unsupported in this mode")
	ErrStorageError      = errors.New("storage engine error")
	ErrIntegrityError    = errors.New("unique index violation")
	ErrCollectionMissing = errors.New("collection not found")
	ErrInvalidIdentifier = errors.New("invalid identifier")
	ErrNoFTSIndex        = errors.New("no FTS index exists for collection")
	ErrQueryTooDeep      = errors.New("query nesting exceeds maximum depth")
	ErrMissingWhereOnDel = errors.New("delete_many with an empty filter requires explicit confirmation")
)

// MalformedQuery wraps ErrMalformedQuery with context, matching the
// teacher's FooErr(...) constructor style.
func MalformedQuery(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedQuery, fmt.Sprintf(format, args...))
}

// MalformedDocument wraps ErrMalformedDocument with context.
func MalformedDocument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedDocument, fmt.Sprintf(format, args...))
}

// Unsupported wraps ErrUnsupportedOp with context (used by cursor-mode
// incompatibilities like sort/index-access under quez).
func Unsupported(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnsupportedOp, fmt.Sprintf(format, args...))
}

// Storage re-wraps an underlying driver error unchanged in code/message,
// preserving it via %w so errors.Is/errors.As still reach the original.
func Storage(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrStorageError, err)
}

// CollectionNotFound returns an error indicating a collection was not found.
func CollectionNotFound(name string) error {
	return fmt.Errorf("%w: %s", ErrCollectionMissing, name)
}

// InvalidIdentifier returns an error indicating a collection/field/index
// name failed validation.
func InvalidIdentifier(name, reason string) error {
	return fmt.Errorf("%w: %q: %s", ErrInvalidIdentifier, name, reason)
}

// AsAPIError converts any error produced by this package into the
// client-visible APIError shape, for callers that need a stable code.
func AsAPIError(err error) *APIError {
	if err == nil {
		return nil
	}
	code := CodeStorageError
	switch {
	case errors.Is(err, ErrMalformedDocument):
		code = CodeMalformedDocument
	case errors.Is(err, ErrMalformedQuery):
		code = CodeMalformedQuery
	case errors.Is(err, ErrUnsupportedOp):
		code = CodeUnsupportedOp
	case errors.Is(err, ErrIntegrityError):
		code = CodeIntegrityError
	case errors.Is(err, ErrCollectionMissing):
		code = CodeTableNotFound
	case errors.Is(err, ErrInvalidIdentifier):
		code = CodeInvalidIdentifier
	case errors.Is(err, ErrNoFTSIndex):
		code = CodeNoFTSIndex
	case errors.Is(err, ErrQueryTooDeep):
		code = CodeQueryTooDeep
	}
	return &APIError{Code: code, Message: err.Error()}
}

// IsIntegrityViolation reports whether err represents a unique/foreign-key
// constraint violation from any of the three supported drivers — both
// first-party (ErrIntegrityError) and adapter-native classes are treated
// as equivalent by callers, per spec.md §7.
func IsIntegrityViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrIntegrityError) {
		return true
	}
	msg := err.Error()
	return containsAny(msg, "UNIQUE constraint failed", "constraint failed: UNIQUE",
		"SQLITE_CONSTRAINT", "FOREIGN KEY constraint failed")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if indexOf(s, sub) >= 0 {
			return true
		}
	}
	return false
}

func indexOf(s, sub string) int {
	n, m := len(s), len(sub)
	if m == 0 {
		return 0
	}
	for i := 0; i+m <= n; i++ {
		if s[i:i+m] == sub {
			return i
		}
	}
	return -1
}
