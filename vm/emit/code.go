package emit

import (
	"errors"
	"fmt"
)

// ErrUnboundLabel is returned by Finish when a referenced label was never
// marked.
var ErrUnboundLabel = errors.New("unbound label")

// Label names a code position that may be referenced before it is marked.
type Label int

type fixup struct {
	pc    int
	label Label
}

type handlerFixup struct {
	start, end, target Label
	catch              string
}

// Code assembles one method body. Jump targets and handler ranges are
// expressed with labels and resolved by Finish.
type Code struct {
	insts     []Inst
	labels    []int
	fixups    []fixup
	handlers  []handlerFixup
	maxLocals int
}

// NewCode starts a body whose first params locals hold the receiver (for
// instance methods) and the arguments.
func NewCode(params int) *Code {
	return &Code{maxLocals: params}
}

// PC returns the index of the next instruction.
func (c *Code) PC() int { return len(c.insts) }

// NewLocal reserves a fresh local variable slot.
func (c *Code) NewLocal() int {
	n := c.maxLocals
	c.maxLocals++
	return n
}

// NewLabel creates an unbound label.
func (c *Code) NewLabel() Label {
	c.labels = append(c.labels, -1)
	return Label(len(c.labels) - 1)
}

// Mark binds l to the next instruction.
func (c *Code) Mark(l Label) {
	c.labels[l] = len(c.insts)
}

// Here creates a label bound to the next instruction.
func (c *Code) Here() Label {
	l := c.NewLabel()
	c.Mark(l)
	return l
}

// Emit appends a raw instruction.
func (c *Code) Emit(in Inst) *Code {
	c.insts = append(c.insts, in)
	return c
}

func (c *Code) op(op Opcode) *Code { return c.Emit(Inst{Op: op}) }

func (c *Code) branch(op Opcode, l Label) *Code {
	c.fixups = append(c.fixups, fixup{pc: len(c.insts), label: l})
	return c.Emit(Inst{Op: op})
}

func (c *Code) Pop() *Code      { return c.op(OpPop) }
func (c *Code) Dup() *Code      { return c.op(OpDup) }
func (c *Code) Swap() *Code     { return c.op(OpSwap) }
func (c *Code) PushNull() *Code { return c.op(OpPushNull) }
func (c *Code) GetMeta() *Code  { return c.op(OpGetMeta) }

func (c *Code) PushInt(v int32) *Code       { return c.Emit(Inst{Op: OpPushInt, A: v}) }
func (c *Code) PushString(s string) *Code   { return c.Emit(Inst{Op: OpPushString, Name: s}) }
func (c *Code) Load(local int) *Code        { return c.Emit(Inst{Op: OpLoad, A: int32(local)}) }
func (c *Code) Store(local int) *Code       { return c.Emit(Inst{Op: OpStore, A: int32(local)}) }
func (c *Code) GetField(name string) *Code  { return c.Emit(Inst{Op: OpGetField, Name: name}) }
func (c *Code) PutField(name string) *Code  { return c.Emit(Inst{Op: OpPutField, Name: name}) }
func (c *Code) GetStatic(name string) *Code { return c.Emit(Inst{Op: OpGetStatic, Name: name}) }
func (c *Code) PutStatic(name string) *Code { return c.Emit(Inst{Op: OpPutStatic, Name: name}) }
func (c *Code) ClassData(i int) *Code       { return c.Emit(Inst{Op: OpClassData, A: int32(i)}) }
func (c *Code) New(owner string) *Code      { return c.Emit(Inst{Op: OpNew, Owner: owner}) }
func (c *Code) CheckCast(desc string) *Code { return c.Emit(Inst{Op: OpCheckCast, Desc: desc}) }

func (c *Code) InstanceOf(desc string) *Code { return c.Emit(Inst{Op: OpInstanceOf, Desc: desc}) }

func (c *Code) InvokeSpecial(owner, name, desc string) *Code {
	return c.Emit(Inst{Op: OpInvokeSpecial, Owner: owner, Name: name, Desc: desc})
}

func (c *Code) InvokeVirtual(name, desc string) *Code {
	return c.Emit(Inst{Op: OpInvokeVirtual, Name: name, Desc: desc})
}

func (c *Code) InvokeStatic(owner, name, desc string) *Code {
	return c.Emit(Inst{Op: OpInvokeStatic, Owner: owner, Name: name, Desc: desc})
}

// InvokeHandle invokes the handle below the desc's arguments on the stack.
func (c *Code) InvokeHandle(desc string) *Code {
	return c.Emit(Inst{Op: OpInvokeHandle, Desc: desc})
}

// TransformHelper replaces the metadata on top of the stack with its
// transform helper number which.
func (c *Code) TransformHelper(which int) *Code {
	return c.Emit(Inst{Op: OpTransformHelper, A: int32(which)})
}

// Convert converts the top of stack between two type descriptors. Identical
// descriptors emit nothing.
func (c *Code) Convert(from, to string) *Code {
	if from == to {
		return c
	}
	return c.Emit(Inst{Op: OpConvert, Desc: "(" + from + ")" + to})
}

func (c *Code) IInc(local int, delta int32) *Code {
	return c.Emit(Inst{Op: OpIInc, A: int32(local), B: delta})
}

func (c *Code) Jump(l Label) *Code          { return c.branch(OpJump, l) }
func (c *Code) JumpIfTrue(l Label) *Code    { return c.branch(OpJumpIfTrue, l) }
func (c *Code) JumpIfFalse(l Label) *Code   { return c.branch(OpJumpIfFalse, l) }
func (c *Code) JumpIfNull(l Label) *Code    { return c.branch(OpJumpIfNull, l) }
func (c *Code) JumpIfNonNull(l Label) *Code { return c.branch(OpJumpIfNonNull, l) }
func (c *Code) JumpIfIGE(l Label) *Code     { return c.branch(OpJumpIfIGE, l) }

func (c *Code) Return() *Code     { return c.op(OpReturn) }
func (c *Code) ReturnVoid() *Code { return c.op(OpReturnVoid) }
func (c *Code) Throw() *Code      { return c.op(OpThrow) }

// ReturnFor emits the return matching a return descriptor.
func (c *Code) ReturnFor(desc string) *Code {
	if desc == "V" {
		return c.ReturnVoid()
	}
	return c.Return()
}

// Terminated reports whether control cannot reach the next instruction:
// the last instruction never falls through and no jump targets the
// current position.
func (c *Code) Terminated() bool {
	if len(c.insts) == 0 {
		return false
	}
	info, _ := c.insts[len(c.insts)-1].Op.Info()
	if !info.Terminal {
		return false
	}
	for _, f := range c.fixups {
		if c.labels[f.label] == len(c.insts) {
			return false
		}
	}
	return true
}

func (c *Code) jumpUnlessTerminated(l Label) {
	if !c.Terminated() {
		c.Jump(l)
	}
}

// Protect routes throwables of type catch (or any, if empty) raised in
// [start, end) to target.
func (c *Code) Protect(start, end, target Label, catch string) {
	c.handlers = append(c.handlers, handlerFixup{start: start, end: end, target: target, catch: catch})
}

// ---------------------------------------------------------------------------
// Control-flow idioms
// ---------------------------------------------------------------------------

// GuardWithTest emits: test (leaving a boolean); if true run target,
// otherwise run fallback. Both branches must leave the same stack shape.
func (c *Code) GuardWithTest(test, target, fallback func(*Code)) {
	otherwise := c.NewLabel()
	end := c.NewLabel()
	test(c)
	c.JumpIfFalse(otherwise)
	target(c)
	c.jumpUnlessTerminated(end)
	c.Mark(otherwise)
	fallback(c)
	c.Mark(end)
}

// Catch emits body guarded by a handler for throwables of type catch (any,
// if empty). The handler starts with the throwable on the stack.
func (c *Code) Catch(catch string, body, handler func(*Code)) {
	start := c.Here()
	body(c)
	end := c.Here()
	done := c.NewLabel()
	c.jumpUnlessTerminated(done)
	target := c.Here()
	handler(c)
	c.Mark(done)
	c.Protect(start, end, target, catch)
}

// TryFinally emits body followed by finally on the normal path; on the
// exceptional path finally runs and the throwable is re-raised. finally
// itself is not protected. body must fall through rather than return.
func (c *Code) TryFinally(body, finally func(*Code)) {
	exc := c.NewLocal()
	start := c.Here()
	body(c)
	end := c.Here()
	done := c.NewLabel()
	if !c.Terminated() {
		finally(c)
		c.jumpUnlessTerminated(done)
	}
	target := c.Here()
	c.Store(exc)
	finally(c)
	c.Load(exc)
	c.Throw()
	c.Mark(done)
	c.Protect(start, end, target, "")
}

// CountedLoop emits: counter = 0; while counter < limit { body; counter++ }.
// counter and limit are int locals.
func (c *Code) CountedLoop(counter, limit int, body func(*Code)) {
	c.PushInt(0).Store(counter)
	top := c.Here()
	end := c.NewLabel()
	c.Load(counter).Load(limit).JumpIfIGE(end)
	body(c)
	c.IInc(counter, 1)
	c.Jump(top)
	c.Mark(end)
}

// Finish resolves labels and returns the method declaration.
func (c *Code) Finish(name, desc string, flags Flags) (MethodDecl, error) {
	insts := make([]Inst, len(c.insts))
	copy(insts, c.insts)
	for _, f := range c.fixups {
		pc := c.labels[f.label]
		if pc < 0 {
			return MethodDecl{}, fmt.Errorf("%s%s: %w %d", name, desc, ErrUnboundLabel, f.label)
		}
		insts[f.pc].A = int32(pc)
	}
	var handlers []Handler
	for _, h := range c.handlers {
		start, end, target := c.labels[h.start], c.labels[h.end], c.labels[h.target]
		if start < 0 || end < 0 || target < 0 {
			return MethodDecl{}, fmt.Errorf("%s%s: %w in handler", name, desc, ErrUnboundLabel)
		}
		if start == end {
			continue
		}
		handlers = append(handlers, Handler{Start: start, End: end, Target: target, Catch: h.catch})
	}
	return MethodDecl{
		Name:      name,
		Desc:      desc,
		Flags:     flags,
		MaxLocals: c.maxLocals,
		Code:      insts,
		Handlers:  handlers,
	}, nil
}
