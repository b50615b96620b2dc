// Package apperr holds the error taxonomy shared by the coordinators and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	// Transaction is the zero value: anything not classified is a storage/tx failure.
	Transaction Kind = iota
	Validation
	NotFound
	Conflict
	InsufficientResource
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case InsufficientResource:
		return "insufficient_resource"
	default:
		return "transaction"
	}
}

// Sentinel dari layer storage. Coordinator menerjemahkan ke Error dengan pesan yang jelas.
var (
	ErrNoRecord     = errors.New("record not found")
	ErrDuplicateKey = errors.New("duplicate key")
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newf(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...)}
}

func Validationf(format string, args ...any) *Error { return newf(Validation, format, args...) }
func NotFoundf(format string, args ...any) *Error   { return newf(NotFound, format, args...) }
func Conflictf(format string, args ...any) *Error   { return newf(Conflict, format, args...) }
func Insufficientf(format string, args ...any) *Error {
	return newf(InsufficientResource, format, args...)
}

// KindOf returns the kind of the first *Error in err's chain, Transaction otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Transaction
}

// IsKind reports whether err carries kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}

// Message returns a client-safe message: the Error message for classified errors,
// a generic text otherwise.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != Transaction {
		return e.Message
	}
	return "internal error"
}
