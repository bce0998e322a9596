package apperr

import (
	"errors"
	"io/fs"
)

// Kind classifies a failure for the HTTP boundary.
type Kind int

const (
	Internal Kind = iota
	Forbidden
	NotFound
	BadRequest
	Conflict
)

func (k Kind) String() string {
	switch k {
	case Forbidden:
		return "forbidden"
	case NotFound:
		return "not found"
	case BadRequest:
		return "bad request"
	case Conflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Error is a classified failure. Msg is safe to show to callers.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Msg == "" {
			return e.Err.Error()
		}
		return e.Msg + ": " + e.Err.Error()
	}
	if e.Msg == "" {
		return e.Kind.String()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, err error) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf reports the Kind of err. Unclassified errors wrapping fs.ErrNotExist
// or fs.ErrExist map to NotFound and Conflict; anything else is Internal.
func KindOf(err error) Kind {
	if err == nil {
		return Internal
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return NotFound
	case errors.Is(err, fs.ErrExist):
		return Conflict
	default:
		return Internal
	}
}

// Message returns the caller-facing message for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
