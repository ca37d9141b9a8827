// Package errs defines the error taxonomy shared by every layer of the
// mapper (§7 of the design spec): structural, schema, connection,
// transaction, conflict, conversion and query errors all wrap down to the
// same Error type so callers can branch with errors.As regardless of which
// layer raised them.
package errs

import "fmt"

// Kind classifies an Error so callers can branch on failure category
// without string-matching messages.
type Kind int

const (
	// Structural marks a bad entity declaration: missing role, duplicate
	// id/name, or a type that is simultaneously a table and a view.
	Structural Kind = iota
	// Schema marks a failure to create or alter a live database object.
	Schema
	// Connection marks a missing driver connection or a transaction that
	// already exists.
	Connection
	// Transaction marks a commit/rollback failure.
	Transaction
	// Conflict marks an optimistic-concurrency violation on save.
	Conflict
	// Conversion marks a to_db/from_db marshalling failure.
	Conversion
	// Query marks malformed query-builder usage.
	Query
)

func (k Kind) String() string {
	switch k {
	case Structural:
		return "structural"
	case Schema:
		return "schema"
	case Connection:
		return "connection"
	case Transaction:
		return "transaction"
	case Conflict:
		return "conflict"
	case Conversion:
		return "conversion"
	case Query:
		return "query"
	default:
		return "unknown"
	}
}

// Error is the concrete error type returned across package boundaries.
// Op names the failing operation (e.g. "registry.Register", "orm.Save").
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, so that
// errors.Is(err, errs.Conflict) style checks are not possible directly
// (Kind is not an error) but errors.Is(err, &Error{Kind: Conflict}) is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	if t.Op != "" && t.Op != e.Op {
		return false
	}
	return true
}

// New builds an *Error for the given kind/op, wrapping cause if non-nil.
func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Structuralf builds a Structural error with a formatted message.
func Structuralf(op, format string, args ...any) *Error {
	return New(Structural, op, fmt.Errorf(format, args...))
}

// Schemaf builds a Schema error with a formatted message.
func Schemaf(op, format string, args ...any) *Error {
	return New(Schema, op, fmt.Errorf(format, args...))
}

// Queryf builds a Query error with a formatted message.
func Queryf(op, format string, args ...any) *Error {
	return New(Query, op, fmt.Errorf(format, args...))
}

// Conversionf builds a Conversion error with a formatted message.
func Conversionf(op, format string, args ...any) *Error {
	return New(Conversion, op, fmt.Errorf(format, args...))
}
