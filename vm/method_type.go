package vm

import "strings"

// MethodType is an immutable call signature: a return type and an ordered
// list of parameter types.
type MethodType struct {
	ret    *Type
	params []*Type
}

// MethodTypeOf builds a MethodType. The params slice is copied.
func MethodTypeOf(ret *Type, params ...*Type) *MethodType {
	p := make([]*Type, len(params))
	copy(p, params)
	return &MethodType{ret: ret, params: p}
}

func (mt *MethodType) Return() *Type     { return mt.ret }
func (mt *MethodType) ParamCount() int   { return len(mt.params) }
func (mt *MethodType) Param(i int) *Type { return mt.params[i] }

// Params returns a copy of the parameter types.
func (mt *MethodType) Params() []*Type {
	out := make([]*Type, len(mt.params))
	copy(out, mt.params)
	return out
}

// Equal reports structural equality.
func (mt *MethodType) Equal(other *MethodType) bool {
	if mt == other {
		return true
	}
	if other == nil || mt.ret != other.ret || len(mt.params) != len(other.params) {
		return false
	}
	for i, p := range mt.params {
		if p != other.params[i] {
			return false
		}
	}
	return true
}

// Descriptor returns the method descriptor, e.g. "(ILString;)V".
func (mt *MethodType) Descriptor() string {
	var sb strings.Builder
	sb.WriteByte('(')
	for _, p := range mt.params {
		sb.WriteString(p.Descriptor())
	}
	sb.WriteByte(')')
	sb.WriteString(mt.ret.Descriptor())
	return sb.String()
}

// String renders the type as "(int,String)void".
func (mt *MethodType) String() string {
	var sb strings.Builder
	sb.WriteByte('(')
	for i, p := range mt.params {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(p.Name())
	}
	sb.WriteByte(')')
	sb.WriteString(mt.ret.Name())
	return sb.String()
}

// ChangeReturn returns a copy with a different return type.
func (mt *MethodType) ChangeReturn(ret *Type) *MethodType {
	return &MethodType{ret: ret, params: mt.params}
}

// ChangeParam returns a copy with parameter i replaced.
func (mt *MethodType) ChangeParam(i int, t *Type) *MethodType {
	p := mt.Params()
	p[i] = t
	return &MethodType{ret: mt.ret, params: p}
}

// InsertParams returns a copy with types inserted before position pos.
func (mt *MethodType) InsertParams(pos int, types ...*Type) *MethodType {
	p := make([]*Type, 0, len(mt.params)+len(types))
	p = append(p, mt.params[:pos]...)
	p = append(p, types...)
	p = append(p, mt.params[pos:]...)
	return &MethodType{ret: mt.ret, params: p}
}

// AppendParams returns a copy with types appended.
func (mt *MethodType) AppendParams(types ...*Type) *MethodType {
	return mt.InsertParams(len(mt.params), types...)
}

// DropParams returns a copy without the parameters in [start, end).
func (mt *MethodType) DropParams(start, end int) *MethodType {
	p := make([]*Type, 0, len(mt.params)-(end-start))
	p = append(p, mt.params[:start]...)
	p = append(p, mt.params[end:]...)
	return &MethodType{ret: mt.ret, params: p}
}

// Erase replaces every reference type with Object.
func (mt *MethodType) Erase() *MethodType {
	p := make([]*Type, len(mt.params))
	for i, t := range mt.params {
		p[i] = erase(t)
	}
	return &MethodType{ret: erase(mt.ret), params: p}
}

func erase(t *Type) *Type {
	if t.IsReference() {
		return Object
	}
	return t
}
