package vm

import (
	"errors"
	"fmt"
)

// Throwable is an exception raised by generated code or by a conversion.
// It travels through Go code as an error and is matched by exception
// handler tables by type.
type Throwable struct {
	Type    *Type
	Message string
	Cause   error
}

// NewThrowable creates a throwable of the given class.
func NewThrowable(t *Type, format string, args ...any) *Throwable {
	return &Throwable{Type: t, Message: fmt.Sprintf(format, args...)}
}

func (e *Throwable) Error() string {
	if e.Message == "" {
		return e.Type.Name()
	}
	return e.Type.Name() + ": " + e.Message
}

func (e *Throwable) Unwrap() error { return e.Cause }

// AsThrowable returns the throwable carried by err, if any.
func AsThrowable(err error) (*Throwable, bool) {
	var t *Throwable
	if errors.As(err, &t) {
		return t, true
	}
	return nil, false
}

// IsThrowableOf reports whether err carries a throwable assignable to t.
func IsThrowableOf(err error, t *Type) bool {
	thr, ok := AsThrowable(err)
	return ok && t.IsAssignableFrom(thr.Type)
}

// catches reports whether a handler with catch type t (nil catches all)
// intercepts err.
func catches(t *Type, err error) bool {
	if t == nil {
		return true
	}
	return IsThrowableOf(err, t)
}
