package errors

import stderrors "errors"

// Kind classifies ledger failures so callers can decide whether to re-read
// state, wait for replenishment, or give up.
type Kind uint8

const (
	// KindInternal covers storage and wiring faults.
	KindInternal Kind = iota
	// KindValidation marks malformed input rejected before any mutation.
	KindValidation
	// KindPrecondition marks requests made against stale state.
	KindPrecondition
	// KindResource marks exhausted budgets and balances.
	KindResource
	// KindAuthorization marks missing capabilities and bad signatures.
	KindAuthorization
)

// String returns the lowercase label used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindPrecondition:
		return "precondition"
	case KindResource:
		return "resource"
	case KindAuthorization:
		return "authorization"
	default:
		return "internal"
	}
}

// Error is a sentinel error tagged with a Kind.
type Error struct {
	kind Kind
	msg  string
}

// New returns a sentinel error of the supplied kind.
func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

func (e *Error) Error() string { return e.msg }

// Kind returns the classification of the error.
func (e *Error) Kind() Kind { return e.kind }

// KindOf walks the wrap chain and returns the kind of the first classified
// error. Unclassified errors are internal.
func KindOf(err error) Kind {
	var classified *Error
	if stderrors.As(err, &classified) {
		return classified.kind
	}
	return KindInternal
}

// Is reports whether err has the supplied kind.
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}
