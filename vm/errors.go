package vm

import (
	"errors"
	"fmt"
)

var (
	// ErrBadType reports an invalid type definition.
	ErrBadType = errors.New("bad type")

	// ErrBadDescriptor reports a malformed type or method descriptor.
	ErrBadDescriptor = errors.New("bad descriptor")

	// ErrDuplicateDefinition reports an attempt to define a unit under a
	// name that is already registered.
	ErrDuplicateDefinition = errors.New("duplicate unit definition")

	// ErrVerify reports a unit rejected by the verifier.
	ErrVerify = errors.New("verification failed")

	// ErrNoSuchField and ErrNoSuchMethod report failed reflective lookups.
	ErrNoSuchField  = errors.New("no such field")
	ErrNoSuchMethod = errors.New("no such method")
)

// DefinitionError is returned when the registry rejects a binary unit.
type DefinitionError struct {
	Name string
	Err  error
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("define %s: %v", e.Name, e.Err)
}

func (e *DefinitionError) Unwrap() error { return e.Err }

func defineErr(name string, err error) error {
	return &DefinitionError{Name: name, Err: err}
}

func verifyErr(name string, format string, args ...any) error {
	return defineErr(name, fmt.Errorf("%w: %s", ErrVerify, fmt.Sprintf(format, args...)))
}
