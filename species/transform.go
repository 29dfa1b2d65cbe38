package species

import (
	"fmt"

	"github.com/chazu/linkage/vm"
	"github.com/chazu/linkage/vm/emit"
)

// TransformSpec declares one transform method generated into every unit of
// an engine. Type excludes the receiver; its return type is normally the
// engine's top type.
type TransformSpec struct {
	Name  string
	Type  *vm.MethodType
	Flags emit.Flags
}

// Operand selects one value passed to a transform helper: either argument
// Index of the transform method or field Index of the receiving unit.
type Operand struct {
	Field bool
	Index int
}

// Arg selects transform argument i.
func Arg(i int) Operand { return Operand{Index: i} }

// Field selects field j of the receiver.
func Field(j int) Operand { return Operand{Field: true, Index: j} }

func (o Operand) String() string {
	if o.Field {
		return fmt.Sprintf("field%d", o.Index)
	}
	return fmt.Sprintf("arg%d", o.Index)
}

// Policy supplies the shape-specific decisions of an engine.
type Policy[K comparable] interface {
	// FieldTypes maps a key to the ordered field types of its species.
	FieldTypes(key K) ([]*vm.Type, error)

	// TransformHelper computes the handle transform which delegates to for
	// a resolved record. Its type must be adaptable to the record's
	// HelperType(which). It is called at most once per record and slot
	// under sequential access; concurrent callers may compute it twice.
	TransformHelper(r *Record[K], which int) (*vm.Handle, error)

	// TransformOperands lists, in order, the values the generated transform
	// method passes to its helper.
	TransformOperands(fieldTypes []*vm.Type, which int) []Operand
}

// operandTypes resolves the static types of a transform's operands.
func operandTypes(spec TransformSpec, fieldTypes []*vm.Type, ops []Operand) ([]*vm.Type, error) {
	types := make([]*vm.Type, len(ops))
	for i, o := range ops {
		switch {
		case o.Field && o.Index >= 0 && o.Index < len(fieldTypes):
			types[i] = fieldTypes[o.Index]
		case !o.Field && o.Index >= 0 && o.Index < spec.Type.ParamCount():
			types[i] = spec.Type.Param(o.Index)
		default:
			return nil, fmt.Errorf("%w: %s operand %d (%s) out of range", ErrBadTransform, spec.Name, i, o)
		}
	}
	return types, nil
}
