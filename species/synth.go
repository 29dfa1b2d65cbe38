package species

import (
	"fmt"
	"strings"

	"github.com/chazu/linkage/vm"
	"github.com/chazu/linkage/vm/emit"
)

// ---------------------------------------------------------------------------
// Unit synthesis
// ---------------------------------------------------------------------------

const (
	// MakeMethod is the static factory generated into every species.
	MakeMethod = "make"

	// SpeciesDataMethod returns the unit's published record.
	SpeciesDataMethod = "speciesData"
)

func descriptor(types []*vm.Type) string {
	var sb strings.Builder
	for _, t := range types {
		sb.WriteString(t.Descriptor())
	}
	return sb.String()
}

// ctorParams is (base..., fields...).
func (s *Specializer[K]) ctorParams(fieldTypes []*vm.Type) []*vm.Type {
	p := make([]*vm.Type, 0, len(s.baseParams)+len(fieldTypes))
	p = append(p, s.baseParams...)
	return append(p, fieldTypes...)
}

// FactoryType is the type of the make method of a species with the given
// field types: the constructor parameters, returning the top type.
func (s *Specializer[K]) FactoryType(fieldTypes []*vm.Type) *vm.MethodType {
	return vm.MethodTypeOf(s.top.Type(), s.ctorParams(fieldTypes)...)
}

// Blueprint assembles the unit for a species named name. The result only
// depends on the engine's configuration, name and fieldTypes.
func (s *Specializer[K]) Blueprint(name string, fieldTypes []*vm.Type) (*emit.Blueprint, error) {
	bp := emit.NewBlueprint(name, s.top.Name())
	for i, t := range fieldTypes {
		bp.AddField(FieldName(i, t), t.Descriptor(), emit.FlagPrivate|emit.FlagFinal)
	}

	builders := []func(*emit.Blueprint, []*vm.Type) error{
		s.emitConstructor,
		s.emitFactory,
		s.emitSpeciesData,
	}
	for _, b := range builders {
		if err := b(bp, fieldTypes); err != nil {
			return nil, fmt.Errorf("synthesize %s: %w", name, err)
		}
	}
	for which := range s.transforms {
		if err := s.emitTransform(bp, fieldTypes, which); err != nil {
			return nil, fmt.Errorf("synthesize %s: %w", name, err)
		}
	}
	return bp, nil
}

// <init>(base..., fields...): super.<init>(base...), then each field in
// order.
func (s *Specializer[K]) emitConstructor(bp *emit.Blueprint, fieldTypes []*vm.Type) error {
	nb := len(s.baseParams)
	c := emit.NewCode(1 + nb + len(fieldTypes))
	c.Load(0)
	for i := range s.baseParams {
		c.Load(1 + i)
	}
	c.InvokeSpecial(s.top.Name(), "<init>", "("+descriptor(s.baseParams)+")V")
	for i, t := range fieldTypes {
		c.Load(0).Load(1 + nb + i).PutField(FieldName(i, t))
	}
	c.ReturnVoid()
	md, err := c.Finish("<init>", "("+descriptor(s.ctorParams(fieldTypes))+")V", emit.FlagPublic)
	if err != nil {
		return err
	}
	bp.AddMethod(md)
	return nil
}

// static make(base..., fields...) returns new instance as the top type.
func (s *Specializer[K]) emitFactory(bp *emit.Blueprint, fieldTypes []*vm.Type) error {
	params := s.ctorParams(fieldTypes)
	c := emit.NewCode(len(params))
	c.New(bp.Name).Dup()
	for i := range params {
		c.Load(i)
	}
	c.InvokeSpecial(bp.Name, "<init>", "("+descriptor(params)+")V")
	c.Return()
	md, err := c.Finish(MakeMethod, s.FactoryType(fieldTypes).Descriptor(), emit.FlagPublic|emit.FlagStatic)
	if err != nil {
		return err
	}
	bp.AddMethod(md)
	return nil
}

func (s *Specializer[K]) emitSpeciesData(bp *emit.Blueprint, _ []*vm.Type) error {
	c := emit.NewCode(1)
	c.GetMeta().Return()
	md, err := c.Finish(SpeciesDataMethod, "()"+vm.Object.Descriptor(), emit.FlagPublic|emit.FlagFinal)
	if err != nil {
		return err
	}
	bp.AddMethod(md)
	return nil
}

// A transform method fetches its helper from the published record and
// invokes it with the policy's mix of arguments and fields.
func (s *Specializer[K]) emitTransform(bp *emit.Blueprint, fieldTypes []*vm.Type, which int) error {
	spec := s.transforms[which]
	helper, err := s.helperType(fieldTypes, which)
	if err != nil {
		return err
	}
	c := emit.NewCode(1 + spec.Type.ParamCount())
	c.GetMeta().TransformHelper(which)
	for _, o := range s.policy.TransformOperands(fieldTypes, which) {
		if o.Field {
			c.Load(0).GetField(FieldName(o.Index, fieldTypes[o.Index]))
		} else {
			c.Load(1 + o.Index)
		}
	}
	c.InvokeHandle(helper.Descriptor())
	c.ReturnFor(spec.Type.Return().Descriptor())
	md, err := c.Finish(spec.Name, spec.Type.Descriptor(), (spec.Flags|emit.FlagPublic|emit.FlagFinal)&^(emit.FlagStatic|emit.FlagAbstract))
	if err != nil {
		return err
	}
	bp.AddMethod(md)
	return nil
}
