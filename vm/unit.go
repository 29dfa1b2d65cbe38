package vm

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/chazu/linkage/vm/emit"
)

// ---------------------------------------------------------------------------
// Unit: a defined executable unit
// ---------------------------------------------------------------------------

// NativeFunc implements a method in Go. For instance methods args[0] is the
// receiver.
type NativeFunc func(args []Value) (Value, error)

// Field is a resolved field of a unit.
type Field struct {
	Name  string
	Type  *Type
	Flags emit.Flags
	slot  int
	unit  *Unit
}

func (f *Field) Static() bool { return f.Flags.Has(emit.FlagStatic) }
func (f *Field) Final() bool  { return f.Flags.Has(emit.FlagFinal) }
func (f *Field) Unit() *Unit  { return f.unit }

// Method is a resolved method of a unit. Type excludes the receiver.
type Method struct {
	Name  string
	Type  *MethodType
	Flags emit.Flags

	unit      *Unit
	decl      *emit.MethodDecl
	code      []inst
	handlers  []handler
	maxLocals int
	native    NativeFunc
}

func (m *Method) Static() bool   { return m.Flags.Has(emit.FlagStatic) }
func (m *Method) Abstract() bool { return m.Flags.Has(emit.FlagAbstract) }
func (m *Method) Unit() *Unit    { return m.unit }

// ArgCount is the number of values Invoke expects, receiver included.
func (m *Method) ArgCount() int {
	if m.Static() {
		return m.Type.ParamCount()
	}
	return m.Type.ParamCount() + 1
}

func (m *Method) key() string { return m.Name + m.Type.Descriptor() }

func (m *Method) String() string {
	return fmt.Sprintf("%s.%s%s", m.unit.name, m.Name, m.Type.Descriptor())
}

// Invoke runs the method. Arguments are not type checked here; handles do
// that at the boundary.
func (m *Method) Invoke(args []Value) (Value, error) {
	if len(args) != m.ArgCount() {
		return nil, NewThrowable(WrongMethodTypeException, "%s expects %d arguments, got %d", m, m.ArgCount(), len(args))
	}
	if m.native != nil {
		return m.native(args)
	}
	if m.Abstract() {
		return nil, NewThrowable(AbstractMethodError, "%s", m)
	}
	return m.execute(args)
}

// Unit is a defined executable unit. Everything but the metadata cell and
// the static slots is immutable once the registry returns it.
type Unit struct {
	name      string
	typ       *Type
	super     *Unit
	flags     emit.Flags
	fields    []*Field
	allFields []*Field // instance fields, inherited first, in slot order
	methods   map[string]*Method
	classData []Value
	blob      []byte
	registry  *Registry

	staticsMu sync.RWMutex
	statics   []Value

	meta atomic.Pointer[metaCell]
}

type metaCell struct{ v any }

func (u *Unit) Name() string        { return u.name }
func (u *Unit) Type() *Type         { return u.typ }
func (u *Unit) Super() *Unit        { return u.super }
func (u *Unit) Flags() emit.Flags   { return u.flags }
func (u *Unit) Registry() *Registry { return u.registry }

// Blob returns the binary the unit was defined from (nil for native units).
func (u *Unit) Blob() []byte { return u.blob }

// Fields returns the fields declared by this unit, in declaration order.
func (u *Unit) Fields() []*Field {
	out := make([]*Field, len(u.fields))
	copy(out, u.fields)
	return out
}

// InstanceFields returns every instance field, inherited ones first.
func (u *Unit) InstanceFields() []*Field {
	out := make([]*Field, len(u.allFields))
	copy(out, u.allFields)
	return out
}

// ClassData returns class data object i.
func (u *Unit) ClassData(i int) (Value, bool) {
	if i < 0 || i >= len(u.classData) {
		return nil, false
	}
	return u.classData[i], true
}

// DeclaredMethod returns a method declared by this unit itself.
func (u *Unit) DeclaredMethod(name string, mt *MethodType) (*Method, bool) {
	m, ok := u.methods[name+mt.Descriptor()]
	return m, ok
}

// Methods returns the methods declared by this unit.
func (u *Unit) Methods() []*Method {
	out := make([]*Method, 0, len(u.methods))
	for _, m := range u.methods {
		out = append(out, m)
	}
	return out
}

// LookupMethod finds a method by name and descriptor in this unit or its
// supers.
func (u *Unit) LookupMethod(name, desc string) (*Method, bool) {
	key := name + desc
	for c := u; c != nil; c = c.super {
		if m, ok := c.methods[key]; ok {
			return m, true
		}
	}
	return nil, false
}

// LookupField finds a field by name in this unit or its supers.
func (u *Unit) LookupField(name string) (*Field, bool) {
	for c := u; c != nil; c = c.super {
		for _, f := range c.fields {
			if f.Name == name {
				return f, true
			}
		}
	}
	return nil, false
}

// IsSubunitOf reports whether u is other or extends it.
func (u *Unit) IsSubunitOf(other *Unit) bool {
	for c := u; c != nil; c = c.super {
		if c == other {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Metadata cell
// ---------------------------------------------------------------------------
//
// Every unit carries one single-assignment metadata cell. A generator
// defines the unit first and publishes its descriptor record afterwards.
// atomic.Pointer operations are sequentially consistent, so a reader that
// observes the cell also observes every write made before the publishing
// store.

// PublishMetadata stores v in the metadata cell if it is still empty and
// reports whether this call performed the store.
func (u *Unit) PublishMetadata(v any) bool {
	return u.meta.CompareAndSwap(nil, &metaCell{v: v})
}

// Metadata returns the published metadata, if any.
func (u *Unit) Metadata() (any, bool) {
	c := u.meta.Load()
	if c == nil {
		return nil, false
	}
	return c.v, true
}

// ---------------------------------------------------------------------------
// Statics
// ---------------------------------------------------------------------------

func (u *Unit) getStatic(f *Field) Value {
	u.staticsMu.RLock()
	defer u.staticsMu.RUnlock()
	return u.statics[f.slot]
}

func (u *Unit) putStatic(f *Field, v Value) {
	u.staticsMu.Lock()
	u.statics[f.slot] = v
	u.staticsMu.Unlock()
}

// ---------------------------------------------------------------------------
// Instance
// ---------------------------------------------------------------------------

// Instance is an object created from a unit.
type Instance struct {
	unit   *Unit
	fields []Value
}

// NewInstance allocates an instance with every field at its zero value.
// Constructors are not run.
func (u *Unit) NewInstance() *Instance {
	vals := make([]Value, len(u.allFields))
	for i, f := range u.allFields {
		vals[i] = Zero(f.Type)
	}
	return &Instance{unit: u, fields: vals}
}

func (i *Instance) Unit() *Unit { return i.unit }

// Get reads an instance field.
func (i *Instance) Get(f *Field) Value { return i.fields[f.slot] }

// FieldNamed reads an instance field by name.
func (i *Instance) FieldNamed(name string) (Value, bool) {
	f, ok := i.unit.LookupField(name)
	if !ok || f.Static() {
		return nil, false
	}
	return i.fields[f.slot], true
}

func (i *Instance) String() string {
	return fmt.Sprintf("%s@%p", i.unit.name, i)
}
