package vm

import (
	"fmt"

	"github.com/chazu/linkage/vm/emit"
)

// ---------------------------------------------------------------------------
// Linking and verification
// ---------------------------------------------------------------------------
//
// Decoded instructions carry symbolic references (unit names, field names,
// descriptors). The resolver binds each one to the registry's live objects
// and rejects bodies that would misbehave structurally: bad jump targets,
// out-of-range locals, missing members, illegal final stores, conversions
// involving void, and bodies that fall off their end.

// inst is a linked instruction.
type inst struct {
	op     emit.Opcode
	a, b   int
	field  *Field
	method *Method
	name   string
	desc   string
	mtype  *MethodType
	typ    *Type
	from   *Type
	to     *Type
	unit   *Unit
	str    string
}

// handler is a linked exception table entry. A nil catch catches all.
type handler struct {
	start, end, target int
	catch              *Type
}

type resolver struct {
	types *TypeTable
	self  *Unit
}

func (r *resolver) typeOf(desc string) (*Type, error) {
	return r.types.parseDescriptor(desc, r.self.typ)
}

func (r *resolver) methodType(desc string) (*MethodType, error) {
	return r.types.parseMethodDescriptor(desc, r.self.typ)
}

func (r *resolver) unitNamed(name string) (*Unit, bool) {
	if name == r.self.name {
		return r.self, true
	}
	return r.self.registry.LookupByName(name)
}

// compile links and verifies the body of m.
func (r *resolver) compile(m *Method) error {
	md := m.decl
	fail := func(pc int, format string, args ...any) error {
		return verifyErr(r.self.name, "%s at %d: %s", m, pc, fmt.Sprintf(format, args...))
	}
	if md.MaxLocals < m.ArgCount() {
		return verifyErr(r.self.name, "%s: %d locals cannot hold %d arguments", m, md.MaxLocals, m.ArgCount())
	}
	n := len(md.Code)
	if n == 0 {
		return verifyErr(r.self.name, "%s has an empty body", m)
	}
	last, _ := md.Code[n-1].Op.Info()
	if !last.Terminal {
		return fail(n-1, "control falls off the end of the body")
	}

	code := make([]inst, n)
	for pc, src := range md.Code {
		info, known := src.Op.Info()
		if !known {
			return fail(pc, "unknown opcode %s", src.Op)
		}
		in := inst{op: src.Op, a: int(src.A), b: int(src.B), name: src.Name, desc: src.Desc}
		if info.Branch && (in.a < 0 || in.a >= n) {
			return fail(pc, "jump target %d out of range", in.a)
		}
		switch src.Op {
		case emit.OpPushString:
			in.str = src.Name

		case emit.OpLoad, emit.OpStore, emit.OpIInc:
			if in.a < 0 || in.a >= md.MaxLocals {
				return fail(pc, "local %d out of range", in.a)
			}

		case emit.OpGetField, emit.OpPutField, emit.OpGetStatic, emit.OpPutStatic:
			f, ok := r.self.LookupField(src.Name)
			if !ok {
				return fail(pc, "%v %s", ErrNoSuchField, src.Name)
			}
			wantStatic := src.Op == emit.OpGetStatic || src.Op == emit.OpPutStatic
			if f.Static() != wantStatic {
				return fail(pc, "%s used with the wrong static-ness", f.Name)
			}
			if f.Final() && src.Op == emit.OpPutStatic {
				return fail(pc, "store to final static %s", f.Name)
			}
			if f.Final() && src.Op == emit.OpPutField && (m.Name != "<init>" || f.unit != r.self) {
				return fail(pc, "store to final field %s outside its constructor", f.Name)
			}
			in.field = f

		case emit.OpClassData:
			if in.a < 0 || in.a >= len(r.self.classData) {
				return fail(pc, "class data %d out of range (have %d)", in.a, len(r.self.classData))
			}

		case emit.OpNew:
			u, ok := r.unitNamed(src.Owner)
			if !ok {
				return fail(pc, "unknown unit %s", src.Owner)
			}
			if u.flags.Has(emit.FlagAbstract) {
				return fail(pc, "cannot instantiate abstract unit %s", u.name)
			}
			in.unit = u

		case emit.OpInvokeSpecial, emit.OpInvokeStatic:
			u, ok := r.unitNamed(src.Owner)
			if !ok {
				return fail(pc, "unknown unit %s", src.Owner)
			}
			target, ok := u.LookupMethod(src.Name, src.Desc)
			if !ok {
				return fail(pc, "%v %s.%s%s", ErrNoSuchMethod, src.Owner, src.Name, src.Desc)
			}
			if target.Static() != (src.Op == emit.OpInvokeStatic) {
				return fail(pc, "%s invoked with the wrong static-ness", target)
			}
			in.method = target
			in.mtype = target.Type

		case emit.OpInvokeVirtual, emit.OpInvokeHandle:
			mt, err := r.methodType(src.Desc)
			if err != nil {
				return fail(pc, "%v", err)
			}
			if src.Op == emit.OpInvokeVirtual && (src.Name == "" || src.Name == "<init>") {
				return fail(pc, "bad virtual method name %q", src.Name)
			}
			in.mtype = mt

		case emit.OpTransformHelper:
			if in.a < 0 {
				return fail(pc, "negative transform index %d", in.a)
			}

		case emit.OpConvert:
			mt, err := r.methodType(src.Desc)
			if err != nil || mt.ParamCount() != 1 {
				return fail(pc, "bad conversion descriptor %q", src.Desc)
			}
			in.from, in.to = mt.Param(0), mt.Return()
			if in.from == Void || in.to == Void {
				return fail(pc, "conversion %s involves void", src.Desc)
			}
			if Classify(in.from, in.to) == AdaptIllegal {
				return fail(pc, "%s is not convertible to %s", in.from, in.to)
			}

		case emit.OpCheckCast, emit.OpInstanceOf:
			t, err := r.typeOf(src.Desc)
			if err != nil {
				return fail(pc, "%v", err)
			}
			if !t.IsReference() {
				return fail(pc, "%s of primitive %s", src.Op, t)
			}
			in.typ = t

		case emit.OpReturn:
			if m.Type.Return() == Void {
				return fail(pc, "value return from void method")
			}

		case emit.OpReturnVoid:
			if m.Type.Return() != Void {
				return fail(pc, "void return from %s method", m.Type.Return())
			}
		}
		code[pc] = in
	}

	handlers := make([]handler, 0, len(md.Handlers))
	for _, h := range md.Handlers {
		lh := handler{start: h.Start, end: h.End, target: h.Target}
		if h.Catch != "" {
			t, ok := r.types.Lookup(h.Catch)
			if !ok || !ThrowableClass.IsAssignableFrom(t) {
				return verifyErr(r.self.name, "%s: bad catch type %s", m, h.Catch)
			}
			lh.catch = t
		}
		handlers = append(handlers, lh)
	}

	m.code = code
	m.handlers = handlers
	m.maxLocals = md.MaxLocals
	return nil
}
