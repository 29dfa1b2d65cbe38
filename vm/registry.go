package vm

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/tliron/commonlog"

	"github.com/chazu/linkage/vm/emit"
)

var log = commonlog.GetLogger("linkage.vm")

// ---------------------------------------------------------------------------
// Registry: the unit namespace
// ---------------------------------------------------------------------------

// Registry defines units from binary blobs and resolves them by name. It
// owns the TypeTable that descriptors inside those blobs resolve against.
type Registry struct {
	types *TypeTable

	mu    sync.RWMutex
	units map[string]*Unit

	object  *Unit
	defines atomic.Uint64
}

// NewRegistry creates a registry containing the root Object unit.
func NewRegistry() *Registry {
	r := &Registry{
		types: NewTypeTable(),
		units: make(map[string]*Unit),
	}
	r.object = r.bootstrapObject()
	r.units[r.object.name] = r.object
	return r
}

func (r *Registry) bootstrapObject() *Unit {
	u := &Unit{
		name:     Object.name,
		typ:      Object,
		flags:    emit.FlagPublic,
		methods:  make(map[string]*Method),
		registry: r,
	}
	ctor := &Method{
		Name:   "<init>",
		Type:   MethodTypeOf(Void),
		Flags:  emit.FlagPublic,
		unit:   u,
		native: func(args []Value) (Value, error) { return nil, nil },
	}
	u.methods[ctor.key()] = ctor
	return u
}

// Types returns the registry's type table.
func (r *Registry) Types() *TypeTable { return r.types }

// ObjectUnit returns the root unit.
func (r *Registry) ObjectUnit() *Unit { return r.object }

// Defines returns how many units have been defined from blobs.
func (r *Registry) Defines() uint64 { return r.defines.Load() }

// LookupByName returns the unit registered under name.
func (r *Registry) LookupByName(name string) (*Unit, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.units[name]
	return u, ok
}

// Names returns the names of all registered units, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.units))
	for n := range r.units {
		names = append(names, n)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Define decodes, verifies and registers a unit. classData objects become
// reachable from the unit's code through CLASS_DATA. Errors are
// *DefinitionError values; a name that is already taken yields one wrapping
// ErrDuplicateDefinition.
func (r *Registry) Define(name string, blob []byte, classData ...Value) (*Unit, error) {
	if _, exists := r.LookupByName(name); exists {
		return nil, defineErr(name, ErrDuplicateDefinition)
	}
	bp, err := emit.Decode(blob)
	if err != nil {
		return nil, defineErr(name, err)
	}
	if bp.Name != name {
		return nil, verifyErr(name, "blob declares unit %s", bp.Name)
	}
	if !validTypeName(name) {
		return nil, defineErr(name, fmt.Errorf("%w: illegal unit name %q", ErrBadType, name))
	}
	u, err := r.build(bp, blob, classData)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.units[name]; exists {
		return nil, defineErr(name, ErrDuplicateDefinition)
	}
	if err := r.types.insert(u.typ); err != nil {
		return nil, defineErr(name, err)
	}
	r.units[name] = u
	r.defines.Add(1)
	log.Debugf("defined unit %s (%d bytes, %d methods)", name, len(blob), len(u.methods))
	return u, nil
}

// build turns a decoded blueprint into a linked, verified unit. The unit is
// not yet visible in the registry.
func (r *Registry) build(bp *emit.Blueprint, blob []byte, classData []Value) (*Unit, error) {
	super, ok := r.LookupByName(bp.Super)
	if !ok {
		return nil, verifyErr(bp.Name, "unknown super unit %s", bp.Super)
	}
	if super.flags.Has(emit.FlagFinal) {
		return nil, verifyErr(bp.Name, "cannot extend final unit %s", bp.Super)
	}
	var ifaces []*Type
	for _, in := range bp.Interfaces {
		t, ok := r.types.Lookup(in)
		if !ok || !t.IsInterface() {
			return nil, verifyErr(bp.Name, "%s is not an interface", in)
		}
		ifaces = append(ifaces, t)
	}

	u := &Unit{
		name:      bp.Name,
		typ:       newClass(bp.Name, super.typ, ifaces...),
		super:     super,
		flags:     bp.Flags,
		methods:   make(map[string]*Method, len(bp.Methods)),
		classData: classData,
		blob:      blob,
		registry:  r,
	}
	res := &resolver{types: r.types, self: u}

	u.allFields = append(u.allFields, super.allFields...)
	for _, fd := range bp.Fields {
		t, err := res.typeOf(fd.Desc)
		if err != nil {
			return nil, verifyErr(bp.Name, "field %s: %v", fd.Name, err)
		}
		if t == Void {
			return nil, verifyErr(bp.Name, "field %s has type void", fd.Name)
		}
		f := &Field{Name: fd.Name, Type: t, Flags: fd.Flags, unit: u}
		if f.Static() {
			f.slot = len(u.statics)
			u.statics = append(u.statics, Zero(t))
		} else {
			if _, shadow := super.LookupField(fd.Name); shadow {
				return nil, verifyErr(bp.Name, "field %s shadows an inherited field", fd.Name)
			}
			f.slot = len(u.allFields)
			u.allFields = append(u.allFields, f)
		}
		u.fields = append(u.fields, f)
	}

	// Method shells first so bodies can refer to any method of the unit.
	for i := range bp.Methods {
		md := &bp.Methods[i]
		mt, err := res.methodType(md.Desc)
		if err != nil {
			return nil, verifyErr(bp.Name, "method %s: %v", md.Name, err)
		}
		m := &Method{Name: md.Name, Type: mt, Flags: md.Flags, unit: u, decl: md, maxLocals: md.MaxLocals}
		if md.Name == "<init>" && (m.Static() || mt.Return() != Void) {
			return nil, verifyErr(bp.Name, "constructor must be an instance method returning void")
		}
		u.methods[m.key()] = m
	}
	for _, m := range u.methods {
		if m.Abstract() {
			continue
		}
		if err := res.compile(m); err != nil {
			return nil, err
		}
	}
	return u, nil
}

func (tt *TypeTable) insert(t *Type) error {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	if _, exists := tt.types[t.name]; exists {
		return fmt.Errorf("%w: type %s already defined", ErrBadType, t.name)
	}
	tt.types[t.name] = t
	return nil
}
