package vm

import "fmt"

// Value is a runtime value. Primitives are carried as their Go
// counterparts:
//
//	boolean bool     byte  int8    short int16    char   uint16
//	int     int32    long  int64   float float32  double float64
//
// References are nil, string, *Boxed, *Instance, *Handle, *MethodType
// or *Throwable.
type Value = any

// Boxed is a primitive value in its wrapper form (Integer, Long, ...).
type Boxed struct {
	prim *Type
	v    Value
}

// Box wraps a primitive value. prim must be the value's primitive type.
func Box(v Value, prim *Type) *Boxed {
	return &Boxed{prim: prim, v: v}
}

// Primitive returns the primitive type of the boxed value.
func (b *Boxed) Primitive() *Type { return b.prim }

// Value returns the unboxed primitive.
func (b *Boxed) Value() Value { return b.v }

func (b *Boxed) String() string { return fmt.Sprint(b.v) }

// TypeOf returns the runtime type of a value. nil has no type.
func TypeOf(v Value) *Type {
	switch x := v.(type) {
	case nil:
		return nil
	case bool:
		return Boolean
	case int8:
		return Byte
	case int16:
		return Short
	case uint16:
		return Char
	case int32:
		return Int
	case int64:
		return Long
	case float32:
		return Float
	case float64:
		return Double
	case string:
		return String
	case *Boxed:
		return x.prim.wrapper
	case *Instance:
		return x.unit.typ
	case *Handle:
		return MethodHandleClass
	case *MethodType:
		return MethodTypeClass
	case *Throwable:
		return x.Type
	case error:
		return ThrowableClass
	}
	return Object
}

// IsInstance reports whether v is a legal value for a variable of type t.
// nil is an instance of every reference type.
func IsInstance(t *Type, v Value) bool {
	if t.IsPrimitive() {
		return v != nil && TypeOf(v) == t
	}
	if v == nil {
		return true
	}
	vt := TypeOf(v)
	return vt.IsReference() && t.IsAssignableFrom(vt)
}

// Zero returns the default value of a type.
func Zero(t *Type) Value {
	switch t {
	case Boolean:
		return false
	case Byte:
		return int8(0)
	case Short:
		return int16(0)
	case Char:
		return uint16(0)
	case Int:
		return int32(0)
	case Long:
		return int64(0)
	case Float:
		return float32(0)
	case Double:
		return float64(0)
	}
	return nil
}
