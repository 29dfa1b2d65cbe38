package species

import (
	"errors"
	"fmt"
)

// ErrInternal matches every *InternalError with errors.Is.
var ErrInternal = errors.New("species: internal consistency error")

// InternalError reports a broken invariant of the cache or the link
// protocol. It indicates a bug in the engine, not bad input, and is never
// retried. Error() is deliberately generic; Op and Detail are for
// engineers.
type InternalError struct {
	Op     string
	Detail string
}

func (e *InternalError) Error() string {
	return "species: internal consistency error in " + e.Op
}

func (e *InternalError) Is(target error) bool { return target == ErrInternal }

func internalErr(op, format string, args ...any) error {
	err := &InternalError{Op: op, Detail: fmt.Sprintf(format, args...)}
	log.Errorf("%s: %s", op, err.Detail)
	return err
}

var (
	// ErrBadKey reports a shape key the policy cannot turn into field types.
	ErrBadKey = errors.New("species: bad shape key")

	// ErrBadTransform reports a transform index or helper that does not fit
	// the engine's transform table.
	ErrBadTransform = errors.New("species: bad transform")

	// ErrConfig reports an invalid engine configuration.
	ErrConfig = errors.New("species: invalid configuration")
)
