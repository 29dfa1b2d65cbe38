package vm

import (
	"fmt"
	"strings"
	"sync"
)

// ---------------------------------------------------------------------------
// Type: primitives, classes and interfaces
// ---------------------------------------------------------------------------

// Kind classifies a Type.
type Kind uint8

const (
	KindPrimitive Kind = iota // void, boolean, byte, short, char, int, long, float, double
	KindClass                 // reference type with single inheritance
	KindInterface             // capability set implemented by classes
)

func (k Kind) String() string {
	switch k {
	case KindPrimitive:
		return "primitive"
	case KindClass:
		return "class"
	case KindInterface:
		return "interface"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Type is a runtime type. Types are compared by identity: every name
// resolves to exactly one *Type within a TypeTable.
type Type struct {
	name       string
	kind       Kind
	desc       byte // descriptor character for primitives
	super      *Type
	interfaces []*Type

	wrapper   *Type // primitive -> wrapper class
	primitive *Type // wrapper class -> primitive
}

// Name returns the simple name of the type ("int", "String").
func (t *Type) Name() string { return t.name }

// Kind returns the type's kind.
func (t *Type) Kind() Kind { return t.kind }

// Super returns the superclass, or nil for primitives, interfaces and Object.
func (t *Type) Super() *Type { return t.super }

// Interfaces returns the directly implemented (or extended) interfaces.
func (t *Type) Interfaces() []*Type {
	out := make([]*Type, len(t.interfaces))
	copy(out, t.interfaces)
	return out
}

func (t *Type) IsPrimitive() bool { return t.kind == KindPrimitive }
func (t *Type) IsInterface() bool { return t.kind == KindInterface }
func (t *Type) IsReference() bool { return t.kind != KindPrimitive }
func (t *Type) IsVoid() bool      { return t == Void }

// Wrapper returns the boxed wrapper class of a primitive, or nil.
func (t *Type) Wrapper() *Type { return t.wrapper }

// Unwrapped returns the primitive for a wrapper class, or nil if t is not
// a wrapper.
func (t *Type) Unwrapped() *Type { return t.primitive }

// IsWrapper reports whether t is the boxed form of some primitive.
func (t *Type) IsWrapper() bool { return t.primitive != nil }

// Descriptor returns the type descriptor: the primitive's character, or
// "L<name>;" for references.
func (t *Type) Descriptor() string {
	if t.kind == KindPrimitive {
		return string(t.desc)
	}
	return "L" + t.name + ";"
}

// DescriptorChar returns the primitive descriptor character, or 'L' for
// reference types.
func (t *Type) DescriptorChar() byte {
	if t.kind == KindPrimitive {
		return t.desc
	}
	return 'L'
}

// BasicType returns the erased calling-convention character of t: 'L' for
// references, 'I' for int and the subword primitives, and 'J', 'F', 'D',
// 'V' for the rest.
func (t *Type) BasicType() byte {
	if t.kind != KindPrimitive {
		return 'L'
	}
	switch t.desc {
	case 'Z', 'B', 'S', 'C', 'I':
		return 'I'
	}
	return t.desc
}

func (t *Type) String() string { return t.name }

// IsAssignableFrom reports whether a value of type other can be stored in
// a variable of type t without conversion. For primitives this is identity.
func (t *Type) IsAssignableFrom(other *Type) bool {
	if t == other {
		return true
	}
	if t.kind == KindPrimitive || other.kind == KindPrimitive {
		return false
	}
	if t == Object {
		return true
	}
	return other.inherits(t)
}

func (t *Type) inherits(target *Type) bool {
	for c := t; c != nil; c = c.super {
		if c == target {
			return true
		}
		for _, i := range c.interfaces {
			if i.inherits(target) {
				return true
			}
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Primitive widening lattice
// ---------------------------------------------------------------------------

// widenings maps a primitive descriptor to the primitives it widens to.
var widenings = map[byte]string{
	'B': "SIJFD",
	'S': "IJFD",
	'C': "IJFD",
	'I': "JFD",
	'J': "FD",
	'F': "D",
}

// WidensTo reports whether primitive t converts to primitive to by a
// widening primitive conversion. Identity counts as widening.
func (t *Type) WidensTo(to *Type) bool {
	if t.kind != KindPrimitive || to.kind != KindPrimitive {
		return false
	}
	if t == to {
		return true
	}
	return strings.IndexByte(widenings[t.desc], to.desc) >= 0
}

// ---------------------------------------------------------------------------
// Builtin types
// ---------------------------------------------------------------------------

func newPrimitive(name string, desc byte) *Type {
	return &Type{name: name, kind: KindPrimitive, desc: desc}
}

func newClass(name string, super *Type, interfaces ...*Type) *Type {
	return &Type{name: name, kind: KindClass, super: super, interfaces: interfaces}
}

func newInterface(name string, supers ...*Type) *Type {
	return &Type{name: name, kind: KindInterface, interfaces: supers}
}

var (
	Void    = newPrimitive("void", 'V')
	Boolean = newPrimitive("boolean", 'Z')
	Byte    = newPrimitive("byte", 'B')
	Short   = newPrimitive("short", 'S')
	Char    = newPrimitive("char", 'C')
	Int     = newPrimitive("int", 'I')
	Long    = newPrimitive("long", 'J')
	Float   = newPrimitive("float", 'F')
	Double  = newPrimitive("double", 'D')

	Object       = &Type{name: "Object", kind: KindClass}
	Comparable   = newInterface("Comparable")
	CharSequence = newInterface("CharSequence")
	Runnable     = newInterface("Runnable")
	Serializable = newInterface("Serializable")
	String       = newClass("String", Object, CharSequence, Comparable, Serializable)
	Number       = newClass("Number", Object, Serializable)

	BooleanBox   = newClass("Boolean", Object, Comparable, Serializable)
	ByteBox      = newClass("Byte", Number, Comparable)
	ShortBox     = newClass("Short", Number, Comparable)
	CharacterBox = newClass("Character", Object, Comparable, Serializable)
	IntegerBox   = newClass("Integer", Number, Comparable)
	LongBox      = newClass("Long", Number, Comparable)
	FloatBox     = newClass("Float", Number, Comparable)
	DoubleBox    = newClass("Double", Number, Comparable)
	VoidBox      = newClass("Void", Object)

	MethodTypeClass   = newClass("MethodType", Object, Serializable)
	MethodHandleClass = newClass("MethodHandle", Object)

	ThrowableClass           = newClass("Throwable", Object, Serializable)
	ExceptionClass           = newClass("Exception", ThrowableClass)
	ErrorClass               = newClass("Error", ThrowableClass)
	RuntimeExceptionClass    = newClass("RuntimeException", ExceptionClass)
	ClassCastException       = newClass("ClassCastException", RuntimeExceptionClass)
	NullPointerException     = newClass("NullPointerException", RuntimeExceptionClass)
	IllegalArgumentException = newClass("IllegalArgumentException", RuntimeExceptionClass)
	WrongMethodTypeException = newClass("WrongMethodTypeException", RuntimeExceptionClass)
	AbstractMethodError      = newClass("AbstractMethodError", ErrorClass)
)

func init() {
	pairs := []struct{ prim, box *Type }{
		{Boolean, BooleanBox}, {Byte, ByteBox}, {Short, ShortBox}, {Char, CharacterBox},
		{Int, IntegerBox}, {Long, LongBox}, {Float, FloatBox}, {Double, DoubleBox},
		{Void, VoidBox},
	}
	for _, p := range pairs {
		p.prim.wrapper = p.box
		p.box.primitive = p.prim
	}
}

// builtinTypes lists every type seeded into a new TypeTable.
var builtinTypes = []*Type{
	Void, Boolean, Byte, Short, Char, Int, Long, Float, Double,
	Object, Comparable, CharSequence, Runnable, Serializable, String, Number,
	BooleanBox, ByteBox, ShortBox, CharacterBox, IntegerBox, LongBox, FloatBox, DoubleBox, VoidBox,
	MethodTypeClass, MethodHandleClass,
	ThrowableClass, ExceptionClass, ErrorClass, RuntimeExceptionClass,
	ClassCastException, NullPointerException, IllegalArgumentException,
	WrongMethodTypeException, AbstractMethodError,
}

// primitivesByDesc maps descriptor characters to primitive types.
var primitivesByDesc = map[byte]*Type{
	'V': Void, 'Z': Boolean, 'B': Byte, 'S': Short, 'C': Char,
	'I': Int, 'J': Long, 'F': Float, 'D': Double,
}

// PrimitiveFor returns the primitive type for a descriptor character.
func PrimitiveFor(c byte) (*Type, bool) {
	t, ok := primitivesByDesc[c]
	return t, ok
}

// ---------------------------------------------------------------------------
// TypeTable: name and descriptor resolution
// ---------------------------------------------------------------------------

// TypeTable owns the set of reference types known to one registry.
type TypeTable struct {
	mu    sync.RWMutex
	types map[string]*Type
}

// NewTypeTable returns a table seeded with the builtin types.
func NewTypeTable() *TypeTable {
	tt := &TypeTable{types: make(map[string]*Type, len(builtinTypes))}
	for _, t := range builtinTypes {
		tt.types[t.name] = t
	}
	return tt
}

// Lookup returns the type with the given name.
func (tt *TypeTable) Lookup(name string) (*Type, bool) {
	tt.mu.RLock()
	defer tt.mu.RUnlock()
	t, ok := tt.types[name]
	return t, ok
}

// DefineClass creates and registers a class type.
func (tt *TypeTable) DefineClass(name string, super *Type, interfaces ...*Type) (*Type, error) {
	if super == nil {
		super = Object
	}
	if !super.IsReference() || super.IsInterface() {
		return nil, fmt.Errorf("%w: superclass of %s must be a class, got %s", ErrBadType, name, super)
	}
	for _, i := range interfaces {
		if !i.IsInterface() {
			return nil, fmt.Errorf("%w: %s is not an interface", ErrBadType, i)
		}
	}
	return tt.add(newClass(name, super, interfaces...))
}

// DefineInterface creates and registers an interface type.
func (tt *TypeTable) DefineInterface(name string, supers ...*Type) (*Type, error) {
	for _, i := range supers {
		if !i.IsInterface() {
			return nil, fmt.Errorf("%w: %s is not an interface", ErrBadType, i)
		}
	}
	return tt.add(newInterface(name, supers...))
}

func (tt *TypeTable) add(t *Type) (*Type, error) {
	if !validTypeName(t.name) {
		return nil, fmt.Errorf("%w: illegal type name %q", ErrBadType, t.name)
	}
	tt.mu.Lock()
	defer tt.mu.Unlock()
	if _, exists := tt.types[t.name]; exists {
		return nil, fmt.Errorf("%w: type %s already defined", ErrBadType, t.name)
	}
	tt.types[t.name] = t
	return t, nil
}

func validTypeName(name string) bool {
	if name == "" {
		return false
	}
	if _, prim := primitiveNames[name]; prim {
		return false
	}
	return !strings.ContainsAny(name, ";()[")
}

var primitiveNames = map[string]struct{}{
	"void": {}, "boolean": {}, "byte": {}, "short": {}, "char": {},
	"int": {}, "long": {}, "float": {}, "double": {},
}

// ParseDescriptor resolves a single type descriptor.
func (tt *TypeTable) ParseDescriptor(desc string) (*Type, error) {
	return tt.parseDescriptor(desc, nil)
}

// parseDescriptor resolves desc; pending is a type not yet in the table
// (the unit being defined) that descriptors may name.
func (tt *TypeTable) parseDescriptor(desc string, pending *Type) (*Type, error) {
	t, rest, err := tt.parseOne(desc, pending)
	if err != nil {
		return nil, err
	}
	if rest != "" {
		return nil, fmt.Errorf("%w: trailing characters in %q", ErrBadDescriptor, desc)
	}
	return t, nil
}

func (tt *TypeTable) parseOne(s string, pending *Type) (*Type, string, error) {
	if s == "" {
		return nil, "", fmt.Errorf("%w: empty descriptor", ErrBadDescriptor)
	}
	if s[0] == 'L' {
		end := strings.IndexByte(s, ';')
		if end < 2 {
			return nil, "", fmt.Errorf("%w: unterminated reference in %q", ErrBadDescriptor, s)
		}
		name := s[1:end]
		if pending != nil && name == pending.name {
			return pending, s[end+1:], nil
		}
		t, ok := tt.Lookup(name)
		if !ok {
			return nil, "", fmt.Errorf("%w: unknown type %s", ErrBadDescriptor, name)
		}
		return t, s[end+1:], nil
	}
	if p, ok := primitivesByDesc[s[0]]; ok {
		return p, s[1:], nil
	}
	return nil, "", fmt.Errorf("%w: bad descriptor character %q", ErrBadDescriptor, s[0])
}

// ParseMethodDescriptor resolves a method descriptor "(params)ret".
func (tt *TypeTable) ParseMethodDescriptor(desc string) (*MethodType, error) {
	return tt.parseMethodDescriptor(desc, nil)
}

func (tt *TypeTable) parseMethodDescriptor(desc string, pending *Type) (*MethodType, error) {
	if !strings.HasPrefix(desc, "(") {
		return nil, fmt.Errorf("%w: method descriptor %q must start with '('", ErrBadDescriptor, desc)
	}
	rest := desc[1:]
	var params []*Type
	for {
		if rest == "" {
			return nil, fmt.Errorf("%w: unterminated parameter list in %q", ErrBadDescriptor, desc)
		}
		if rest[0] == ')' {
			rest = rest[1:]
			break
		}
		t, r, err := tt.parseOne(rest, pending)
		if err != nil {
			return nil, err
		}
		if t == Void {
			return nil, fmt.Errorf("%w: void parameter in %q", ErrBadDescriptor, desc)
		}
		params = append(params, t)
		rest = r
	}
	ret, err := tt.parseDescriptor(rest, pending)
	if err != nil {
		return nil, err
	}
	return MethodTypeOf(ret, params...), nil
}
