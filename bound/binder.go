// Package bound implements bound method handles on top of the species
// engine. A bound handle stores a target handle and a prefix of its
// arguments in the fields of a generated unit; the unit's shape is the
// basic-type string of those fields ("LI", "JD", ...).
package bound

import (
	"context"
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/chazu/linkage/species"
	"github.com/chazu/linkage/vm"
	"github.com/chazu/linkage/vm/emit"
)

var log = commonlog.GetLogger("linkage.bound")

// Options configures a Binder.
type Options struct {
	Emitter        species.Emitter
	Archive        species.Archive
	PrewarmWorkers int
}

// Binder creates bound handles. Binders sharing a registry share the
// BoundHandle unit and every generated species.
type Binder struct {
	top    *vm.Unit
	engine *species.Specializer[string]

	typeGetter   *vm.Handle
	targetGetter *vm.Handle
	copyWith     *vm.Handle
	extend       map[byte]*vm.Handle
}

// NewBinder prepares a binder over loader, defining BoundHandle if the
// registry does not have it yet.
func NewBinder(loader species.Loader, opts Options) (*Binder, error) {
	emitter := opts.Emitter
	if emitter == nil {
		emitter = emit.Encoder{}
	}
	top, err := defineTop(loader, emitter)
	if err != nil {
		return nil, err
	}
	b := &Binder{top: top, extend: make(map[byte]*vm.Handle, len(extensionChars))}

	specs := transforms(top.Type())
	engine, err := species.New(species.Config[string]{
		BaseName:       TopName,
		Top:            top,
		BaseParams:     []*vm.Type{vm.MethodTypeClass, vm.MethodHandleClass},
		Transforms:     specs,
		Policy:         policy{b: b},
		Loader:         loader,
		Emitter:        emitter,
		Archive:        opts.Archive,
		PrewarmWorkers: opts.PrewarmWorkers,
	})
	if err != nil {
		return nil, err
	}
	b.engine = engine

	if b.typeGetter, err = top.FindGetter("type", vm.MethodTypeClass); err != nil {
		return nil, err
	}
	if b.targetGetter, err = top.FindGetter("target", vm.MethodHandleClass); err != nil {
		return nil, err
	}
	if b.copyWith, err = top.FindVirtual(specs[0].Name, specs[0].Type); err != nil {
		return nil, err
	}
	for i, spec := range specs[1:] {
		h, err := top.FindVirtual(spec.Name, spec.Type)
		if err != nil {
			return nil, err
		}
		b.extend[extensionChars[i]] = h
	}
	return b, nil
}

// Specializer exposes the underlying engine.
func (b *Binder) Specializer() *species.Specializer[string] { return b.engine }

// Top returns the BoundHandle unit.
func (b *Binder) Top() *vm.Unit { return b.top }

// Prewarm generates the species for the given shapes ahead of use.
func (b *Binder) Prewarm(ctx context.Context, shapes []string) error {
	return b.engine.Prewarm(ctx, shapes)
}

// Bind binds values to the leading parameters of target.
func (b *Binder) Bind(target *vm.Handle, values ...vm.Value) (*Bound, error) {
	tt := target.Type()
	if len(values) > tt.ParamCount() {
		return nil, fmt.Errorf("bound: %d values for %s", len(values), tt)
	}
	shape := Shape(tt.Params()[:len(values)]...)
	rec, err := b.engine.FindOrCreate(shape)
	if err != nil {
		return nil, err
	}
	args := make([]vm.Value, 0, 2+len(values))
	args = append(args, tt.DropParams(0, len(values)), target)
	for i, v := range values {
		fv, err := toField(v, tt.Param(i))
		if err != nil {
			return nil, fmt.Errorf("bound: value %d: %w", i, err)
		}
		args = append(args, fv)
	}
	obj, err := rec.Factory().Invoke(args...)
	if err != nil {
		return nil, err
	}
	return b.wrap(obj)
}

// toField converts v to parameter type p and then to the storage type of
// its shape character.
func toField(v vm.Value, p *vm.Type) (vm.Value, error) {
	pv, err := vm.ConvertValue(v, p)
	if err != nil {
		return nil, err
	}
	ft, _ := fieldType(BasicChar(p))
	return vm.Convert(pv, p, ft)
}

func (b *Binder) wrap(obj vm.Value) (*Bound, error) {
	inst, ok := obj.(*vm.Instance)
	if !ok {
		return nil, fmt.Errorf("bound: %T is not a %s", obj, TopName)
	}
	md, _ := inst.Unit().Metadata()
	rec, ok := md.(*species.Record[string])
	if !ok {
		return nil, fmt.Errorf("bound: %s is not a linked species", inst.Unit().Name())
	}
	typ, err := b.typeGetter.Invoke(inst)
	if err != nil {
		return nil, err
	}
	target, err := b.targetGetter.Invoke(inst)
	if err != nil {
		return nil, err
	}
	bh := &Bound{
		binder: b,
		obj:    inst,
		rec:    rec,
		typ:    typ.(*vm.MethodType),
		target: target.(*vm.Handle),
	}
	bh.handle = vm.NewHandle("bound "+bh.target.Name(), bh.typ, bh.invoke)
	return bh, nil
}

// ---------------------------------------------------------------------------
// Species policy
// ---------------------------------------------------------------------------

type policy struct{ b *Binder }

func (p policy) FieldTypes(shape string) ([]*vm.Type, error) {
	types := make([]*vm.Type, len(shape))
	for i := 0; i < len(shape); i++ {
		t, ok := fieldType(shape[i])
		if !ok {
			return nil, fmt.Errorf("shape %q: bad character %q", shape, shape[i])
		}
		types[i] = t
	}
	return types, nil
}

// Transform operands: type, target, every field, then for the extending
// transforms the new value.
func (p policy) TransformOperands(fieldTypes []*vm.Type, which int) []species.Operand {
	ops := []species.Operand{species.Arg(0), species.Arg(1)}
	for j := range fieldTypes {
		ops = append(ops, species.Field(j))
	}
	if which > 0 {
		ops = append(ops, species.Arg(2))
	}
	return ops
}

// copyWith delegates to the record's own factory, copyWithExtendX to the
// factory of the species one X longer.
func (p policy) TransformHelper(r *species.Record[string], which int) (*vm.Handle, error) {
	if which == 0 {
		return r.Factory(), nil
	}
	ext := r.Key() + string(extensionChars[which-1])
	next, err := p.b.engine.FindOrCreate(ext)
	if err != nil {
		return nil, err
	}
	log.Debugf("species %q extends to %q", r.Key(), ext)
	return next.Factory(), nil
}

// ---------------------------------------------------------------------------
// Bound
// ---------------------------------------------------------------------------

// Bound is a target handle with a prefix of its arguments bound.
type Bound struct {
	binder *Binder
	obj    *vm.Instance
	rec    *species.Record[string]
	typ    *vm.MethodType
	target *vm.Handle
	handle *vm.Handle
}

func (bh *Bound) Shape() string                    { return bh.rec.Key() }
func (bh *Bound) Type() *vm.MethodType             { return bh.typ }
func (bh *Bound) Target() *vm.Handle               { return bh.target }
func (bh *Bound) Handle() *vm.Handle               { return bh.handle }
func (bh *Bound) Instance() *vm.Instance           { return bh.obj }
func (bh *Bound) Species() *species.Record[string] { return bh.rec }

// Values reads the bound values back out of the instance, in storage form.
func (bh *Bound) Values() ([]vm.Value, error) {
	vals := make([]vm.Value, 0, len(bh.rec.Getters()))
	for _, g := range bh.rec.Getters() {
		v, err := g.Invoke(bh.obj)
		if err != nil {
			return nil, err
		}
		vals = append(vals, v)
	}
	return vals, nil
}

// Invoke calls the target with the bound values followed by args.
func (bh *Bound) Invoke(args ...vm.Value) (vm.Value, error) {
	return bh.handle.Invoke(args...)
}

func (bh *Bound) invoke(args []vm.Value) (vm.Value, error) {
	vals, err := bh.Values()
	if err != nil {
		return nil, err
	}
	tt := bh.target.Type()
	full := make([]vm.Value, 0, len(vals)+len(args))
	for i, v := range vals {
		p := tt.Param(i)
		ft, _ := fieldType(BasicChar(p))
		pv, err := vm.Convert(v, ft, p)
		if err != nil {
			return nil, err
		}
		full = append(full, pv)
	}
	full = append(full, args...)
	return bh.target.Invoke(full...)
}

// BindNext binds v to the first remaining parameter through the generated
// copyWithExtend transform.
func (bh *Bound) BindNext(v vm.Value) (*Bound, error) {
	if bh.typ.ParamCount() == 0 {
		return nil, fmt.Errorf("bound: %s has no parameter left to bind", bh.typ)
	}
	p := bh.typ.Param(0)
	c := BasicChar(p)
	fv, err := toField(v, p)
	if err != nil {
		return nil, err
	}
	obj, err := bh.binder.extend[c].Invoke(bh.obj, bh.typ.DropParams(0, 1), bh.target, fv)
	if err != nil {
		return nil, err
	}
	return bh.binder.wrap(obj)
}

// Rebind returns a handle with the same bound values and a new target of
// the same type, through the generated copyWith transform.
func (bh *Bound) Rebind(target *vm.Handle) (*Bound, error) {
	if !target.Type().Equal(bh.target.Type()) {
		return nil, fmt.Errorf("bound: rebind %s to %s", bh.target.Type(), target.Type())
	}
	obj, err := bh.binder.copyWith.Invoke(bh.obj, bh.typ, target)
	if err != nil {
		return nil, err
	}
	return bh.binder.wrap(obj)
}

func (bh *Bound) String() string {
	return fmt.Sprintf("%s[%s] -> %s", bh.obj.Unit().Name(), bh.rec.Key(), bh.target)
}
