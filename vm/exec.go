package vm

import (
	"fmt"

	"github.com/chazu/linkage/vm/emit"
)

// TransformHelperSource is implemented by unit metadata that can produce
// transform helper handles for TRANSFORM_HELPER.
type TransformHelperSource interface {
	TransformHelper(which int) (*Handle, error)
}

// ---------------------------------------------------------------------------
// Interpreter
// ---------------------------------------------------------------------------

type frame struct {
	method *Method
	locals []Value
	stack  []Value
	pc     int
}

func (fr *frame) push(v Value) { fr.stack = append(fr.stack, v) }

func (fr *frame) pop() Value {
	n := len(fr.stack) - 1
	v := fr.stack[n]
	fr.stack[n] = nil
	fr.stack = fr.stack[:n]
	return v
}

func (fr *frame) popN(n int) []Value {
	base := len(fr.stack) - n
	out := make([]Value, n)
	copy(out, fr.stack[base:])
	clear(fr.stack[base:])
	fr.stack = fr.stack[:base]
	return out
}

// execute interprets a bytecode method. A throwable raised at pc is routed
// to the first handler whose range covers pc and whose catch type matches;
// the handler starts with only the throwable on the stack.
func (m *Method) execute(args []Value) (Value, error) {
	fr := &frame{
		method: m,
		locals: make([]Value, max(m.maxLocals, len(args))),
		stack:  make([]Value, 0, 8),
	}
	copy(fr.locals, args)
	for {
		ret, err := fr.run()
		if err == nil {
			return ret, nil
		}
		h, ok := m.findHandler(fr.pc, err)
		if !ok {
			return nil, err
		}
		clear(fr.stack)
		fr.stack = append(fr.stack[:0], err)
		fr.pc = h.target
	}
}

func (m *Method) findHandler(pc int, err error) (handler, bool) {
	for _, h := range m.handlers {
		if pc >= h.start && pc < h.end && catches(h.catch, err) {
			return h, true
		}
	}
	return handler{}, false
}

// run executes from fr.pc until a return or a throwable. On error fr.pc is
// the faulting instruction. Go runtime panics (stack underflow, bad
// operand types) surface as RuntimeException throwables.
func (fr *frame) run() (ret Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &Throwable{
				Type:    RuntimeExceptionClass,
				Message: fmt.Sprintf("%s at %d: %v", fr.method, fr.pc, r),
			}
		}
	}()

	m := fr.method
	for {
		in := &m.code[fr.pc]
		next := fr.pc + 1

		switch in.op {
		case emit.OpNop:

		case emit.OpPop:
			fr.pop()

		case emit.OpDup:
			fr.push(fr.stack[len(fr.stack)-1])

		case emit.OpSwap:
			n := len(fr.stack)
			fr.stack[n-1], fr.stack[n-2] = fr.stack[n-2], fr.stack[n-1]

		case emit.OpPushNull:
			fr.push(nil)

		case emit.OpPushInt:
			fr.push(int32(in.a))

		case emit.OpPushString:
			fr.push(in.str)

		case emit.OpLoad:
			fr.push(fr.locals[in.a])

		case emit.OpStore:
			fr.locals[in.a] = fr.pop()

		case emit.OpIInc:
			fr.locals[in.a] = fr.locals[in.a].(int32) + int32(in.b)

		case emit.OpGetField:
			obj, err := fieldOwner(fr.pop(), in.field)
			if err != nil {
				return nil, err
			}
			fr.push(obj.fields[in.field.slot])

		case emit.OpPutField:
			v := fr.pop()
			obj, err := fieldOwner(fr.pop(), in.field)
			if err != nil {
				return nil, err
			}
			if !IsInstance(in.field.Type, v) {
				return nil, NewThrowable(ClassCastException, "%s cannot be stored in %s field %s", typeName(v), in.field.Type, in.field.Name)
			}
			obj.fields[in.field.slot] = v

		case emit.OpGetStatic:
			fr.push(in.field.unit.getStatic(in.field))

		case emit.OpPutStatic:
			v := fr.pop()
			if !IsInstance(in.field.Type, v) {
				return nil, NewThrowable(ClassCastException, "%s cannot be stored in %s static %s", typeName(v), in.field.Type, in.field.Name)
			}
			in.field.unit.putStatic(in.field, v)

		case emit.OpGetMeta:
			md, ok := m.unit.Metadata()
			if !ok {
				return nil, NewThrowable(RuntimeExceptionClass, "%s has no published metadata", m.unit.name)
			}
			fr.push(md)

		case emit.OpClassData:
			fr.push(m.unit.classData[in.a])

		case emit.OpNew:
			fr.push(in.unit.NewInstance())

		case emit.OpInvokeSpecial, emit.OpInvokeStatic:
			args := fr.popN(in.method.ArgCount())
			if in.op == emit.OpInvokeSpecial && args[0] == nil {
				return nil, NewThrowable(NullPointerException, "receiver of %s is null", in.method)
			}
			r, err := in.method.Invoke(args)
			if err != nil {
				return nil, err
			}
			if in.mtype.Return() != Void {
				fr.push(r)
			}

		case emit.OpInvokeVirtual:
			args := fr.popN(in.mtype.ParamCount() + 1)
			target, err := dispatch(args[0], in.name, in.desc)
			if err != nil {
				return nil, err
			}
			r, err := target.Invoke(args)
			if err != nil {
				return nil, err
			}
			if in.mtype.Return() != Void {
				fr.push(r)
			}

		case emit.OpInvokeHandle:
			args := fr.popN(in.mtype.ParamCount())
			h, err := asHandle(fr.pop())
			if err != nil {
				return nil, err
			}
			r, err := h.InvokeExact(in.mtype, args...)
			if err != nil {
				return nil, err
			}
			if in.mtype.Return() != Void {
				fr.push(r)
			}

		case emit.OpTransformHelper:
			md := fr.pop()
			src, ok := md.(TransformHelperSource)
			if !ok {
				return nil, NewThrowable(ClassCastException, "%s metadata %T has no transform helpers", m.unit.name, md)
			}
			h, err := src.TransformHelper(in.a)
			if err != nil {
				return nil, err
			}
			fr.push(h)

		case emit.OpConvert:
			v, err := Convert(fr.pop(), in.from, in.to)
			if err != nil {
				return nil, err
			}
			fr.push(v)

		case emit.OpCheckCast:
			v, err := CheckCast(fr.pop(), in.typ)
			if err != nil {
				return nil, err
			}
			fr.push(v)

		case emit.OpInstanceOf:
			v := fr.pop()
			fr.push(v != nil && IsInstance(in.typ, v))

		case emit.OpJump:
			next = in.a

		case emit.OpJumpIfTrue:
			if fr.pop().(bool) {
				next = in.a
			}

		case emit.OpJumpIfFalse:
			if !fr.pop().(bool) {
				next = in.a
			}

		case emit.OpJumpIfNull:
			if fr.pop() == nil {
				next = in.a
			}

		case emit.OpJumpIfNonNull:
			if fr.pop() != nil {
				next = in.a
			}

		case emit.OpJumpIfIGE:
			b := fr.pop().(int32)
			a := fr.pop().(int32)
			if a >= b {
				next = in.a
			}

		case emit.OpReturn:
			v := fr.pop()
			if !IsInstance(m.Type.Return(), v) {
				return nil, NewThrowable(ClassCastException, "%s returned %s, want %s", m, typeName(v), m.Type.Return())
			}
			return v, nil

		case emit.OpReturnVoid:
			return nil, nil

		case emit.OpThrow:
			return nil, toThrowable(fr.pop())

		default:
			return nil, NewThrowable(RuntimeExceptionClass, "unknown opcode %s", in.op)
		}
		fr.pc = next
	}
}

func fieldOwner(v Value, f *Field) (*Instance, error) {
	if v == nil {
		return nil, NewThrowable(NullPointerException, "field %s of null", f.Name)
	}
	obj, ok := v.(*Instance)
	if !ok || !obj.unit.IsSubunitOf(f.unit) {
		return nil, NewThrowable(ClassCastException, "%s has no field %s.%s", typeName(v), f.unit.name, f.Name)
	}
	return obj, nil
}

// dispatch selects the implementation of name+desc for a receiver.
func dispatch(recv Value, name, desc string) (*Method, error) {
	if recv == nil {
		return nil, NewThrowable(NullPointerException, "invoke %s%s on null", name, desc)
	}
	obj, ok := recv.(*Instance)
	if !ok {
		return nil, NewThrowable(AbstractMethodError, "%s cannot receive %s%s", typeName(recv), name, desc)
	}
	m, ok := obj.unit.LookupMethod(name, desc)
	if !ok || m.Static() {
		return nil, NewThrowable(AbstractMethodError, "%s has no method %s%s", obj.unit.name, name, desc)
	}
	return m, nil
}

func asHandle(v Value) (*Handle, error) {
	switch h := v.(type) {
	case *Handle:
		return h, nil
	case nil:
		return nil, NewThrowable(NullPointerException, "invoke of null handle")
	}
	return nil, NewThrowable(ClassCastException, "%s is not a MethodHandle", typeName(v))
}

func toThrowable(v Value) error {
	switch e := v.(type) {
	case error:
		return e
	case nil:
		return NewThrowable(NullPointerException, "throw of null")
	}
	return NewThrowable(ClassCastException, "%s is not a Throwable", typeName(v))
}
