package lambda

import (
	"errors"
	"fmt"
	"strings"

	"github.com/chazu/linkage/vm"
)

// Validation failure kinds. Every *ConversionError unwraps to one of them.
var (
	ErrArityMismatch                = errors.New("arity mismatch")
	ErrReceiverTypeMismatch         = errors.New("receiver type mismatch")
	ErrCapturedArgumentTypeMismatch = errors.New("captured argument type mismatch")
	ErrArgumentTypeMismatch         = errors.New("argument type mismatch")
	ErrReturnTypeMismatch           = errors.New("return type mismatch")
	ErrDescriptorTypeMismatch       = errors.New("descriptor type mismatch")
	ErrIllegalMemberName            = errors.New("illegal member name")
	ErrNotAnInterface               = errors.New("not an interface")
	ErrIncompleteDescriptor         = errors.New("incomplete descriptor")
)

// ConversionError describes a rejected lambda descriptor. Index is the
// offending parameter or marker position, or -1 when the failure is not
// about a single position. Expected and Actual are nil when they do not
// apply.
type ConversionError struct {
	Kind     error
	Index    int
	Expected *vm.Type
	Actual   *vm.Type
	Detail   string
}

func (e *ConversionError) Error() string {
	var sb strings.Builder
	sb.WriteString("lambda: ")
	sb.WriteString(e.Kind.Error())
	if e.Index >= 0 {
		fmt.Fprintf(&sb, " at %d", e.Index)
	}
	if e.Expected != nil || e.Actual != nil {
		fmt.Fprintf(&sb, ": expected %s, got %s", typeString(e.Expected), typeString(e.Actual))
	}
	if e.Detail != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Detail)
	}
	return sb.String()
}

func (e *ConversionError) Unwrap() error { return e.Kind }

func typeString(t *vm.Type) string {
	if t == nil {
		return "-"
	}
	return t.Name()
}

func mismatch(kind error, index int, expected, actual *vm.Type) *ConversionError {
	return &ConversionError{Kind: kind, Index: index, Expected: expected, Actual: actual}
}

func failf(kind error, index int, format string, args ...any) *ConversionError {
	return &ConversionError{Kind: kind, Index: index, Detail: fmt.Sprintf(format, args...)}
}
