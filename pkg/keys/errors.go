package keys

import "errors"

// ErrInvalidFormat is returned by ParseKey for credentials that do not
// match the wire form. It collapses into KindInvalidKey at the API layer.
var ErrInvalidFormat = errors.New("invalid api key format")

// Kind is the closed set of failure kinds surfaced to callers.
// The values double as the error codes of the HTTP envelope.
type Kind string

const (
	KindInvalidKey      Kind = "invalid_key"
	KindKeyNotFound     Kind = "key_not_found"
	KindProjectExists   Kind = "project_exists"
	KindProjectNotFound Kind = "project_not_found"
	KindStorageError    Kind = "storage_error"
	KindInternal        Kind = "internal_error"
)

// Error is a failure with a classified kind. The engine returns *Error
// for every failure path so the HTTP boundary can match exhaustively.
type Error struct {
	Kind    Kind
	Message string
	Err     error // wrapped cause, if any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// E constructs an *Error with the given kind and message.
func E(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error carrying a cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf classifies an arbitrary error. Unclassified errors are internal.
func KindOf(err error) Kind {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Kind
	}
	if errors.Is(err, ErrInvalidFormat) {
		return KindInvalidKey
	}
	return KindInternal
}
