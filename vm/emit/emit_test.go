package emit

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func pointBlueprint(t *testing.T) *Blueprint {
	t.Helper()
	bp := NewBlueprint("Point", "Object")
	bp.AddField("x", "I", FlagPrivate|FlagFinal)
	bp.AddField("y", "I", FlagPrivate|FlagFinal)

	c := NewCode(3)
	c.Load(0).InvokeSpecial("Object", "<init>", "()V")
	c.Load(0).Load(1).PutField("x")
	c.Load(0).Load(2).PutField("y")
	c.ReturnVoid()
	ctor, err := c.Finish("<init>", "(II)V", FlagPublic)
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	bp.AddMethod(ctor)
	return bp
}

func TestEmitDecodeRoundTrip(t *testing.T) {
	bp := pointBlueprint(t)
	blob, err := Encoder{}.Emit(bp)
	if err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	if !bytes.HasPrefix(blob, []byte("SPCU")) {
		t.Errorf("blob starts with %q, want SPCU", blob[:4])
	}

	got, err := Decode(blob)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got.Name != "Point" || got.Super != "Object" {
		t.Errorf("decoded %s extends %s, want Point extends Object", got.Name, got.Super)
	}
	if len(got.Fields) != 2 || got.Fields[1].Name != "y" {
		t.Errorf("decoded fields = %v", got.Fields)
	}
	m, ok := got.Method("<init>", "(II)V")
	if !ok {
		t.Fatal("constructor missing after decode")
	}
	if len(m.Code) != 9 || m.MaxLocals != 3 {
		t.Errorf("constructor has %d instructions, %d locals; want 9, 3", len(m.Code), m.MaxLocals)
	}

	again, err := Encoder{}.Emit(got)
	if err != nil {
		t.Fatalf("re-Emit failed: %v", err)
	}
	if !bytes.Equal(blob, again) {
		t.Error("encoding is not deterministic")
	}
}

func TestDecodeRejects(t *testing.T) {
	if _, err := Decode([]byte("nope")); !errors.Is(err, ErrBadMagic) {
		t.Errorf("short blob: err = %v, want ErrBadMagic", err)
	}

	blob, err := Encoder{}.Emit(pointBlueprint(t))
	if err != nil {
		t.Fatal(err)
	}
	bad := append([]byte(nil), blob...)
	bad[5] = 9
	if _, err := Decode(bad); !errors.Is(err, ErrVersion) {
		t.Errorf("version 9: err = %v, want ErrVersion", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Blueprint)
	}{
		{"no name", func(bp *Blueprint) { bp.Name = "" }},
		{"no super", func(bp *Blueprint) { bp.Super = "" }},
		{"duplicate field", func(bp *Blueprint) { bp.AddField("x", "J", 0) }},
		{"duplicate method", func(bp *Blueprint) { bp.AddMethod(bp.Methods[0]) }},
		{"abstract with code", func(bp *Blueprint) { bp.Methods[0].Flags |= FlagAbstract }},
		{"concrete without code", func(bp *Blueprint) {
			bp.AddMethod(MethodDecl{Name: "run", Desc: "()V", Flags: FlagPublic})
		}},
		{"handler out of range", func(bp *Blueprint) {
			bp.Methods[0].Handlers = []Handler{{Start: 0, End: 50, Target: 1}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bp := pointBlueprint(t)
			tt.mutate(bp)
			if err := Validate(bp); !errors.Is(err, ErrMalformed) {
				t.Errorf("Validate = %v, want ErrMalformed", err)
			}
			if _, err := (Encoder{}).Emit(bp); err == nil {
				t.Error("Emit accepted a malformed blueprint")
			}
		})
	}
}

func TestUnboundLabel(t *testing.T) {
	c := NewCode(0)
	c.Jump(c.NewLabel())
	if _, err := c.Finish("m", "()V", 0); !errors.Is(err, ErrUnboundLabel) {
		t.Errorf("Finish = %v, want ErrUnboundLabel", err)
	}
}

func TestGuardWithTestLayout(t *testing.T) {
	c := NewCode(1)
	c.GuardWithTest(
		func(c *Code) { c.Load(0) },
		func(c *Code) { c.PushInt(1).Return() },
		func(c *Code) { c.PushInt(2).Return() },
	)
	m, err := c.Finish("pick", "(Z)I", FlagStatic)
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	// LOAD, JUMP_IF_FALSE, PUSH 1, RETURN, PUSH 2, RETURN: no jump is
	// needed after a branch that returns.
	ops := []Opcode{OpLoad, OpJumpIfFalse, OpPushInt, OpReturn, OpPushInt, OpReturn}
	if len(m.Code) != len(ops) {
		t.Fatalf("got %d instructions, want %d:\n%s", len(m.Code), len(ops), m.Disassemble())
	}
	for i, op := range ops {
		if m.Code[i].Op != op {
			t.Errorf("instruction %d = %s, want %s", i, m.Code[i].Op, op)
		}
	}
	if m.Code[1].A != 4 {
		t.Errorf("JUMP_IF_FALSE target = %d, want 4", m.Code[1].A)
	}
}

func TestCatchAndTryFinallyHandlers(t *testing.T) {
	c := NewCode(0)
	c.Catch("RuntimeException",
		func(c *Code) { c.PushNull().Throw() },
		func(c *Code) { c.Return() },
	)
	m, err := c.Finish("catching", "()LObject;", FlagStatic)
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if len(m.Handlers) != 1 {
		t.Fatalf("got %d handlers, want 1", len(m.Handlers))
	}
	h := m.Handlers[0]
	if h.Start != 0 || h.End != 2 || h.Target != 2 || h.Catch != "RuntimeException" {
		t.Errorf("handler = %+v, want [0,2)->2 RuntimeException", h)
	}

	c = NewCode(0)
	c.TryFinally(
		func(c *Code) { c.PushInt(1).Pop() },
		func(c *Code) { c.Emit(Inst{Op: OpNop}) },
	)
	c.ReturnVoid()
	m, err = c.Finish("finally", "()V", FlagStatic)
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if len(m.Handlers) != 1 || m.Handlers[0].Catch != "" {
		t.Fatalf("handlers = %+v, want one catch-all", m.Handlers)
	}
	if m.MaxLocals != 1 {
		t.Errorf("MaxLocals = %d, want 1 for the saved throwable", m.MaxLocals)
	}
	dis := m.Disassemble()
	if strings.Count(dis, "NOP") != 2 {
		t.Errorf("finally body should appear on both paths:\n%s", dis)
	}
	if !strings.Contains(dis, "catch any") {
		t.Errorf("disassembly lacks the catch-all handler:\n%s", dis)
	}
}
