package domain

import (
	"errors"
	"fmt"
)

// Kind classifies failures at the function boundary.
type Kind int

const (
	// KindInternal covers anything that could not be classified.
	KindInternal Kind = iota
	KindNotFound
	KindValidation
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Error is a classified collection failure.
type Error struct {
	Kind Kind
	Op   string
	ID   string
	Err  error
}

func (e *Error) Error() string {
	// The wrapped store error is kept for errors.As but not echoed back to
	// callers for classified kinds.
	var msg string
	switch e.Kind {
	case KindNotFound:
		msg = fmt.Sprintf("todo %q not found", e.ID)
	case KindConflict:
		msg = fmt.Sprintf("todo %q already exists", e.ID)
	case KindValidation:
		msg = "invalid todo"
		if e.Err != nil {
			msg = e.Err.Error()
		}
	default:
		msg = "internal error"
		if e.Err != nil {
			msg = e.Err.Error()
		}
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

func (e *Error) Unwrap() error { return e.Err }

// NotFound reports that no document exists for id.
func NotFound(op, id string, err error) error {
	return &Error{Kind: KindNotFound, Op: op, ID: id, Err: err}
}

// Conflict reports that a document already exists for id.
func Conflict(op, id string, err error) error {
	return &Error{Kind: KindConflict, Op: op, ID: id, Err: err}
}

// Invalid reports a document the collection refuses to store.
func Invalid(op, reason string) error {
	return &Error{Kind: KindValidation, Op: op, Err: errors.New(reason)}
}

// KindOf extracts the classification of err. Unclassified errors are
// reported as KindInternal.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// IsClassified reports whether err carries a kind other than KindInternal.
func IsClassified(err error) bool {
	return err != nil && KindOf(err) != KindInternal
}
