package vm

import (
	"fmt"

	"github.com/chazu/linkage/vm/emit"
)

// ---------------------------------------------------------------------------
// Reflective lookup
// ---------------------------------------------------------------------------

// FindConstructor returns a handle that allocates an instance of u and runs
// its <init> with parameters mt. The handle has mt's parameters and returns
// the unit's type; mt's return type must be void.
func (u *Unit) FindConstructor(mt *MethodType) (*Handle, error) {
	if mt.Return() != Void {
		return nil, fmt.Errorf("%s.<init>%s: %w: constructor type must return void", u.name, mt.Descriptor(), ErrNoSuchMethod)
	}
	if u.flags.Has(emit.FlagAbstract) {
		return nil, fmt.Errorf("%s is abstract: %w", u.name, ErrNoSuchMethod)
	}
	ctor, ok := u.DeclaredMethod("<init>", mt)
	if !ok {
		return nil, fmt.Errorf("%s.<init>%s: %w", u.name, mt.Descriptor(), ErrNoSuchMethod)
	}
	return NewHandle(u.name+".<init>", mt.ChangeReturn(u.typ), func(args []Value) (Value, error) {
		obj := u.NewInstance()
		full := make([]Value, 0, len(args)+1)
		full = append(full, obj)
		full = append(full, args...)
		if _, err := ctor.Invoke(full); err != nil {
			return nil, err
		}
		return obj, nil
	}), nil
}

// FindStatic returns a handle for a static method of u or its supers.
func (u *Unit) FindStatic(name string, mt *MethodType) (*Handle, error) {
	m, ok := u.LookupMethod(name, mt.Descriptor())
	if !ok || !m.Static() {
		return nil, fmt.Errorf("%s.%s%s: %w", u.name, name, mt.Descriptor(), ErrNoSuchMethod)
	}
	return NewHandle(m.String(), mt, m.Invoke), nil
}

// FindVirtual returns a handle for an instance method. The handle takes
// the receiver first and dispatches on the receiver's unit.
func (u *Unit) FindVirtual(name string, mt *MethodType) (*Handle, error) {
	desc := mt.Descriptor()
	m, ok := u.LookupMethod(name, desc)
	if !ok || m.Static() || name == "<init>" {
		return nil, fmt.Errorf("%s.%s%s: %w", u.name, name, desc, ErrNoSuchMethod)
	}
	return NewHandle(m.String(), mt.InsertParams(0, u.typ), func(args []Value) (Value, error) {
		target, err := dispatch(args[0], name, desc)
		if err != nil {
			return nil, err
		}
		return target.Invoke(args)
	}), nil
}

// FindGetter returns a handle of type (u)t reading an instance field.
func (u *Unit) FindGetter(name string, t *Type) (*Handle, error) {
	f, ok := u.LookupField(name)
	if !ok || f.Static() || f.Type != t {
		return nil, fmt.Errorf("%s.%s:%s: %w", u.name, name, t, ErrNoSuchField)
	}
	return NewHandle(u.name+"."+name, MethodTypeOf(t, u.typ), func(args []Value) (Value, error) {
		obj, err := fieldOwner(args[0], f)
		if err != nil {
			return nil, err
		}
		return obj.fields[f.slot], nil
	}), nil
}

// FindStaticGetter returns a handle of type ()t reading a static field.
func (u *Unit) FindStaticGetter(name string, t *Type) (*Handle, error) {
	f, ok := u.LookupField(name)
	if !ok || !f.Static() || f.Type != t {
		return nil, fmt.Errorf("%s.%s:%s: %w", u.name, name, t, ErrNoSuchField)
	}
	return NewHandle(u.name+"."+name, MethodTypeOf(t), func([]Value) (Value, error) {
		return f.unit.getStatic(f), nil
	}), nil
}

// InvokeVirtual calls method name of type mt on recv, dispatching on the
// receiver's unit. Arguments are converted to the parameter types.
func InvokeVirtual(recv Value, name string, mt *MethodType, args ...Value) (Value, error) {
	m, err := dispatch(recv, name, mt.Descriptor())
	if err != nil {
		return nil, err
	}
	if len(args) != mt.ParamCount() {
		return nil, NewThrowable(WrongMethodTypeException, "%s expects %d arguments, got %d", m, mt.ParamCount(), len(args))
	}
	full := make([]Value, 0, len(args)+1)
	full = append(full, recv)
	for i, a := range args {
		v, err := ConvertValue(a, mt.Param(i))
		if err != nil {
			return nil, err
		}
		full = append(full, v)
	}
	return m.Invoke(full)
}
