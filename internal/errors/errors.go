package errors

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// Kind classifies an engine error. The session layer absorbs Validation and
// Conflict; NotFound, Permission and exhausted Transient errors surface to the
// presentation layer as user-visible text.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindPermission
	KindTransient
)

// Error carries a kind, a user-safe message and an optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

func NotFound(msg string) error {
	return &Error{Kind: KindNotFound, Msg: msg}
}

func Conflict(msg string) error {
	return &Error{Kind: KindConflict, Msg: msg}
}

func Permission(msg string) error {
	return &Error{Kind: KindPermission, Msg: msg}
}

func Transient(err error) error {
	return &Error{Kind: KindTransient, Msg: "storage temporarily unavailable", Err: err}
}

func Internal(err error) error {
	return &Error{Kind: KindInternal, Msg: "internal error", Err: err}
}

// KindOf extracts the Kind from an error chain. Unclassified errors are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func IsKind(err error, k Kind) bool { return err != nil && KindOf(err) == k }

// Message returns the user-safe message for surfacing to the presentation layer.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return "something went wrong, try again later"
}

// FromStorage converts storage-layer failures into the engine taxonomy.
func FromStorage(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return NotFound("no longer available")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return Transient(err)
	default:
		return Internal(err)
	}
}
