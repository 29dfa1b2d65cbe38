// Package emit defines the declarative plan of a generated unit (a
// Blueprint), a builder for method bodies, and the binary encoding the
// registry consumes.
//
// Types inside a blueprint are referenced by descriptor string ("I",
// "LString;", "(ILString;)V") so that an encoded blueprint is
// self-contained; the registry resolves descriptors when the unit is
// defined.
package emit

import (
	"fmt"
	"strings"
)

// Flags are access and property modifiers of units, fields and methods.
type Flags uint16

const (
	FlagPublic Flags = 1 << iota
	FlagPrivate
	FlagStatic
	FlagFinal
	FlagAbstract
	FlagSynthetic
	FlagBridge
)

func (f Flags) Has(x Flags) bool { return f&x == x }

func (f Flags) String() string {
	names := []string{"public", "private", "static", "final", "abstract", "synthetic", "bridge"}
	var parts []string
	for i, n := range names {
		if f&(1<<i) != 0 {
			parts = append(parts, n)
		}
	}
	return strings.Join(parts, " ")
}

// Blueprint is the plan for one generated unit.
type Blueprint struct {
	Name       string       `cbor:"1,keyasint"`
	Super      string       `cbor:"2,keyasint"`
	Interfaces []string     `cbor:"3,keyasint,omitempty"`
	Flags      Flags        `cbor:"4,keyasint,omitempty"`
	Fields     []FieldDecl  `cbor:"5,keyasint,omitempty"`
	Methods    []MethodDecl `cbor:"6,keyasint,omitempty"`
}

// FieldDecl declares an instance or static field.
type FieldDecl struct {
	Name  string `cbor:"1,keyasint"`
	Desc  string `cbor:"2,keyasint"`
	Flags Flags  `cbor:"3,keyasint,omitempty"`
}

// MethodDecl declares a method and, unless abstract, its body.
type MethodDecl struct {
	Name      string    `cbor:"1,keyasint"`
	Desc      string    `cbor:"2,keyasint"`
	Flags     Flags     `cbor:"3,keyasint,omitempty"`
	MaxLocals int       `cbor:"4,keyasint,omitempty"`
	Code      []Inst    `cbor:"5,keyasint,omitempty"`
	Handlers  []Handler `cbor:"6,keyasint,omitempty"`
}

// Inst is one instruction. Operand use depends on the opcode; see the
// opcode table.
type Inst struct {
	Op    Opcode `cbor:"1,keyasint"`
	A     int32  `cbor:"2,keyasint,omitempty"`
	B     int32  `cbor:"3,keyasint,omitempty"`
	Owner string `cbor:"4,keyasint,omitempty"`
	Name  string `cbor:"5,keyasint,omitempty"`
	Desc  string `cbor:"6,keyasint,omitempty"`
}

// Handler routes throwables raised in [Start, End) to Target. An empty
// Catch intercepts everything.
type Handler struct {
	Start  int    `cbor:"1,keyasint"`
	End    int    `cbor:"2,keyasint"`
	Target int    `cbor:"3,keyasint"`
	Catch  string `cbor:"4,keyasint,omitempty"`
}

// NewBlueprint starts a blueprint for a unit extending super.
func NewBlueprint(name, super string, interfaces ...string) *Blueprint {
	return &Blueprint{Name: name, Super: super, Interfaces: interfaces, Flags: FlagPublic | FlagFinal | FlagSynthetic}
}

// AddField appends a field declaration.
func (bp *Blueprint) AddField(name, desc string, flags Flags) {
	bp.Fields = append(bp.Fields, FieldDecl{Name: name, Desc: desc, Flags: flags})
}

// AddMethod appends a method declaration.
func (bp *Blueprint) AddMethod(m MethodDecl) {
	bp.Methods = append(bp.Methods, m)
}

// Method returns the declared method with the given name and descriptor.
func (bp *Blueprint) Method(name, desc string) (*MethodDecl, bool) {
	for i := range bp.Methods {
		if bp.Methods[i].Name == name && bp.Methods[i].Desc == desc {
			return &bp.Methods[i], true
		}
	}
	return nil, false
}

// Field returns the declared field with the given name.
func (bp *Blueprint) Field(name string) (*FieldDecl, bool) {
	for i := range bp.Fields {
		if bp.Fields[i].Name == name {
			return &bp.Fields[i], true
		}
	}
	return nil, false
}

func (in Inst) String() string {
	var sb strings.Builder
	sb.WriteString(in.Op.String())
	info, _ := in.Op.Info()
	switch {
	case info.Branch:
		fmt.Fprintf(&sb, " ->%d", in.A)
	case in.Op == OpIInc:
		fmt.Fprintf(&sb, " %d %+d", in.A, in.B)
	case in.Op == OpLoad || in.Op == OpStore || in.Op == OpPushInt ||
		in.Op == OpClassData || in.Op == OpTransformHelper:
		fmt.Fprintf(&sb, " %d", in.A)
	}
	if in.Owner != "" {
		sb.WriteString(" " + in.Owner)
		if in.Name != "" {
			sb.WriteString(".")
		}
	} else if in.Name != "" {
		sb.WriteString(" ")
	}
	sb.WriteString(in.Name)
	if in.Desc != "" {
		sb.WriteString(" " + in.Desc)
	}
	return sb.String()
}

// Disassemble renders a method body, one instruction per line.
func (m *MethodDecl) Disassemble() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s%s [%s] locals=%d\n", m.Name, m.Desc, m.Flags, m.MaxLocals)
	for pc, in := range m.Code {
		fmt.Fprintf(&sb, "  %04d  %s\n", pc, in)
	}
	for _, h := range m.Handlers {
		catch := h.Catch
		if catch == "" {
			catch = "any"
		}
		fmt.Fprintf(&sb, "  try [%d,%d) -> %d catch %s\n", h.Start, h.End, h.Target, catch)
	}
	return sb.String()
}
