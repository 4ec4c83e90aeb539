// Package qerror defines the stable error taxonomy surfaced by the Lotus
// query pipeline. The message strings are part of the external contract:
// callers match on them, so they must not change.
package qerror

import (
	"errors"
	"fmt"
	"strings"
)

// Kind discriminates pipeline errors.
type Kind int

const (
	// KindUnknown is the zero value; it is never produced by the pipeline.
	KindUnknown Kind = iota
	// KindReadOnlyViolation is returned when the deny-list validator matches
	// a write statement.
	KindReadOnlyViolation
	// KindMultipleStatements is returned when more than one statement is
	// submitted in a single request.
	KindMultipleStatements
	// KindBlockedTable is returned when preflight authorization finds a
	// query touching a relation denied by the visibility rules.
	KindBlockedTable
	// KindBlockedColumn is returned when a selected column carries the
	// "error" policy.
	KindBlockedColumn
	// KindMissingVariable is returned when a {{var}} has neither a bound
	// value nor a declared default.
	KindMissingVariable
	// KindInvalidValue is returned when a bound value cannot be cast to the
	// variable's declared or inferred type.
	KindInvalidValue
	// KindUnknownBackend is returned when the requested data repo is not
	// configured.
	KindUnknownBackend
	// KindTimeout is returned when the caller deadline fires and the engine
	// cancels the statement.
	KindTimeout
	// KindBackend wraps driver errors formatted by the dialect adapter.
	KindBackend
)

// String returns the kind name, for logging and metrics labels.
func (k Kind) String() string {
	switch k {
	case KindReadOnlyViolation:
		return "read_only_violation"
	case KindMultipleStatements:
		return "multiple_statements"
	case KindBlockedTable:
		return "blocked_table"
	case KindBlockedColumn:
		return "blocked_column"
	case KindMissingVariable:
		return "missing_variable"
	case KindInvalidValue:
		return "invalid_value"
	case KindUnknownBackend:
		return "unknown_backend"
	case KindTimeout:
		return "timeout"
	case KindBackend:
		return "backend_error"
	default:
		return "unknown"
	}
}

// Error is a pipeline error with a discriminated kind and optional payload.
type Error struct {
	Kind    Kind
	Message string
	// Names carries the offending identifiers: blocked relations for
	// KindBlockedTable, the variable name for KindMissingVariable, the
	// column for KindBlockedColumn.
	Names []string
	// Err is the underlying driver error, if any.
	Err error
}

func (e *Error) Error() string { return e.Message }

// Unwrap exposes the underlying driver error to errors.Is/As.
func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the Kind from err, or KindUnknown if err is not a
// pipeline error.
func KindOf(err error) Kind {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Kind
	}
	return KindUnknown
}

// ReadOnlyViolation reports a deny-list match.
func ReadOnlyViolation() *Error {
	return &Error{Kind: KindReadOnlyViolation, Message: "Only read-only queries are allowed"}
}

// MultipleStatements reports a multi-statement submission.
func MultipleStatements() *Error {
	return &Error{Kind: KindMultipleStatements, Message: "Only a single statement is allowed"}
}

// BlockedTable reports relations denied by the visibility rules.
func BlockedTable(relations []string) *Error {
	return &Error{
		Kind:    KindBlockedTable,
		Message: fmt.Sprintf("Query touches blocked table(s): %s", strings.Join(relations, ", ")),
		Names:   relations,
	}
}

// BlockedColumn reports a column carrying the "error" policy.
func BlockedColumn(column string) *Error {
	return &Error{
		Kind:    KindBlockedColumn,
		Message: fmt.Sprintf("Column '%s' is not selectable", column),
		Names:   []string{column},
	}
}

// MissingVariable reports an unbound variable without a default.
func MissingVariable(name string) *Error {
	return &Error{
		Kind:    KindMissingVariable,
		Message: fmt.Sprintf("Missing required variable: %s", name),
		Names:   []string{name},
	}
}

// InvalidValue reports a failed type cast. typ is the variable type name,
// value the offending input.
func InvalidValue(name, typ string, value any, reason string) *Error {
	msg := fmt.Sprintf("Invalid %s format: '%v'", typ, value)
	if reason != "" {
		msg += " " + reason
	}
	return &Error{Kind: KindInvalidValue, Message: msg, Names: []string{name}}
}

// UnknownBackend reports an unconfigured data repo.
func UnknownBackend(name string) *Error {
	return &Error{
		Kind:    KindUnknownBackend,
		Message: fmt.Sprintf("Data repo '%s' not configured", name),
		Names:   []string{name},
	}
}

// Timeout reports engine-side cancellation caused by the caller deadline.
func Timeout(err error) *Error {
	return &Error{
		Kind:    KindTimeout,
		Message: "SQL error: canceling statement due to user request",
		Err:     err,
	}
}

// Backend wraps a driver error with the dialect-formatted message.
func Backend(message string, err error) *Error {
	return &Error{Kind: KindBackend, Message: message, Err: err}
}
