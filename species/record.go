package species

import (
	"fmt"
	"sync/atomic"

	"github.com/chazu/linkage/vm"
)

// Record describes one species: the key it was built for, its field
// types, the unit generated for it and the handles reflected from that
// unit. A record becomes reachable from other goroutines only after it is
// resolved, through the cache or the unit's metadata cell.
type Record[K comparable] struct {
	key        K
	fieldTypes []*vm.Type
	engine     *Specializer[K]

	unit      *vm.Unit
	factories []*vm.Handle
	getters   []*vm.Handle

	helpers []atomic.Pointer[vm.Handle]
}

func newRecord[K comparable](s *Specializer[K], key K, fieldTypes []*vm.Type) *Record[K] {
	return &Record[K]{
		key:        key,
		fieldTypes: fieldTypes,
		engine:     s,
		helpers:    make([]atomic.Pointer[vm.Handle], len(s.transforms)),
	}
}

// Key returns the shape key the record was built for.
func (r *Record[K]) Key() K { return r.key }

// FieldTypes returns a copy of the ordered field types.
func (r *Record[K]) FieldTypes() []*vm.Type {
	out := make([]*vm.Type, len(r.fieldTypes))
	copy(out, r.fieldTypes)
	return out
}

// Unit returns the generated unit, nil while unresolved.
func (r *Record[K]) Unit() *vm.Unit { return r.unit }

// Factory returns the primary factory: the unit's static make method.
func (r *Record[K]) Factory() *vm.Handle {
	if len(r.factories) == 0 {
		return nil
	}
	return r.factories[0]
}

// Factories returns every construction entry point: make, then the
// constructor.
func (r *Record[K]) Factories() []*vm.Handle { return append([]*vm.Handle(nil), r.factories...) }

// Getters returns one field getter per field type, in field order.
func (r *Record[K]) Getters() []*vm.Handle { return append([]*vm.Handle(nil), r.getters...) }

// Getter returns the getter of field i.
func (r *Record[K]) Getter(i int) *vm.Handle { return r.getters[i] }

// IsResolved reports whether the record is linked to its unit and carries
// its handles.
func (r *Record[K]) IsResolved() bool {
	return r.unit != nil && len(r.factories) > 0 && len(r.getters) == len(r.fieldTypes)
}

// Engine returns the specializer that owns the record.
func (r *Record[K]) Engine() *Specializer[K] { return r.engine }

// HelperType is the exact type the generated transform method which uses
// to invoke its helper.
func (r *Record[K]) HelperType(which int) (*vm.MethodType, error) {
	return r.engine.helperType(r.fieldTypes, which)
}

// TransformHelper returns the helper handle of transform which, computing
// it through the engine's policy the first time. Concurrent first calls
// may compute it more than once; the first stored handle is returned to
// every caller.
func (r *Record[K]) TransformHelper(which int) (*vm.Handle, error) {
	if which < 0 || which >= len(r.helpers) {
		return nil, fmt.Errorf("%w: %d of %d", ErrBadTransform, which, len(r.helpers))
	}
	slot := &r.helpers[which]
	if h := slot.Load(); h != nil {
		return h, nil
	}
	h, err := r.engine.computeHelper(r, which)
	if err != nil {
		return nil, err
	}
	if slot.CompareAndSwap(nil, h) {
		return h, nil
	}
	return slot.Load(), nil
}

func (r *Record[K]) String() string {
	name := "<unresolved>"
	if r.unit != nil {
		name = r.unit.Name()
	}
	return fmt.Sprintf("species %v -> %s", r.key, name)
}
