package lambda

import (
	"errors"
	"testing"

	"github.com/chazu/linkage/vm"
	"github.com/chazu/linkage/vm/emit"
)

// function defines Function { Object apply(Object) } in r's type table.
func function(t *testing.T, r *vm.Registry) *vm.Type {
	t.Helper()
	fn, err := r.Types().DefineInterface("Function")
	if err != nil {
		t.Fatalf("DefineInterface failed: %v", err)
	}
	return fn
}

var applyType = vm.MethodTypeOf(vm.Object, vm.Object)

func length() *vm.Handle {
	return vm.NewHandle("length", vm.MethodTypeOf(vm.Int, vm.String), func(args []vm.Value) (vm.Value, error) {
		return int32(len(args[0].(string))), nil
	})
}

func concat() *vm.Handle {
	return vm.NewHandle("concat", vm.MethodTypeOf(vm.String, vm.String, vm.String), func(args []vm.Value) (vm.Value, error) {
		return args[0].(string) + args[1].(string), nil
	})
}

func TestRunnableWithoutCaptures(t *testing.T) {
	r := vm.NewRegistry()
	m := NewMetafactory(r, nil)
	calls := 0
	impl := vm.NewHandle("tick", vm.MethodTypeOf(vm.Void), func([]vm.Value) (vm.Value, error) { calls++; return nil, nil })

	cs, err := m.Metafactory(&Descriptor{
		Interface:    vm.Runnable,
		Name:         "run",
		SAMType:      vm.MethodTypeOf(vm.Void),
		Instantiated: vm.MethodTypeOf(vm.Void),
		Impl:         impl,
	})
	if err != nil {
		t.Fatalf("Metafactory failed: %v", err)
	}
	a, err := cs.New()
	if err != nil {
		t.Fatal(err)
	}
	b, err := cs.New()
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("a lambda without captures should be a single instance")
	}
	if !vm.IsInstance(vm.Runnable, a) {
		t.Errorf("%v is not a Runnable", a)
	}
	if _, err := vm.InvokeVirtual(a, "run", vm.MethodTypeOf(vm.Void)); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("impl called %d times, want 1", calls)
	}
}

func TestFunctionAdaptsArgumentsAndReturn(t *testing.T) {
	r := vm.NewRegistry()
	fn := function(t, r)
	m := NewMetafactory(r, nil)

	cs, err := m.Metafactory(&Descriptor{
		Interface:    fn,
		Markers:      []*vm.Type{vm.Serializable},
		Name:         "apply",
		SAMType:      applyType,
		Instantiated: vm.MethodTypeOf(vm.IntegerBox, vm.String),
		Impl:         length(),
		Bridges:      []*vm.MethodType{vm.MethodTypeOf(vm.Object, vm.String), applyType},
	})
	if err != nil {
		t.Fatalf("Metafactory failed: %v", err)
	}
	obj, err := cs.New()
	if err != nil {
		t.Fatal(err)
	}
	if !vm.IsInstance(vm.Serializable, obj) {
		t.Error("marker interface not implemented")
	}

	v, err := vm.InvokeVirtual(obj, "apply", applyType, "hello")
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if b, ok := v.(*vm.Boxed); !ok || b.Value() != int32(5) {
		t.Errorf("apply(hello) = %v, want Integer 5", v)
	}
	v, err = vm.InvokeVirtual(obj, "apply", vm.MethodTypeOf(vm.Object, vm.String), "hey")
	if err != nil {
		t.Fatalf("bridge failed: %v", err)
	}
	if b, ok := v.(*vm.Boxed); !ok || b.Value() != int32(3) {
		t.Errorf("bridge apply(hey) = %v, want Integer 3", v)
	}
	if _, err := vm.InvokeVirtual(obj, "apply", applyType, 1.5); !vm.IsThrowableOf(err, vm.ClassCastException) {
		t.Errorf("apply(1.5) = %v, want ClassCastException", err)
	}

	md, ok := cs.Unit().DeclaredMethod("apply", vm.MethodTypeOf(vm.Object, vm.String))
	if !ok || !md.Flags.Has(emit.FlagBridge) {
		t.Error("bridge method missing or not flagged as a bridge")
	}
}

func TestCapturedReceiver(t *testing.T) {
	r := vm.NewRegistry()
	fn := function(t, r)
	m := NewMetafactory(r, nil)
	d := &Descriptor{
		Interface:    fn,
		Name:         "apply",
		SAMType:      applyType,
		Instantiated: vm.MethodTypeOf(vm.String, vm.String),
		Captured:     []*vm.Type{vm.String},
		Impl:         concat(),
		ImplKind:     ImplVirtual,
		ImplOwner:    vm.String,
	}
	cs, err := m.Metafactory(d)
	if err != nil {
		t.Fatalf("Metafactory failed: %v", err)
	}
	pre, err := cs.New("pre-")
	if err != nil {
		t.Fatal(err)
	}
	other, err := cs.New("other-")
	if err != nil {
		t.Fatal(err)
	}
	if pre == other {
		t.Error("capturing lambdas should be distinct instances")
	}
	for obj, want := range map[vm.Value]string{pre: "pre-x", other: "other-x"} {
		if v, err := vm.InvokeVirtual(obj, "apply", applyType, "x"); err != nil || v != want {
			t.Errorf("apply(x) = %v, %v; want %s", v, err, want)
		}
	}

	again, err := m.Metafactory(d)
	if err != nil {
		t.Fatal(err)
	}
	if again != cs || m.Spun() != 1 || m.Len() != 1 {
		t.Errorf("repeated Metafactory: same site %v, spun %d, len %d; want true, 1, 1", again == cs, m.Spun(), m.Len())
	}

	// A different implementation of the same shape gets its own unit.
	d2 := *d
	d2.Impl = concat()
	cs2, err := m.Metafactory(&d2)
	if err != nil {
		t.Fatal(err)
	}
	if cs2.Unit() == cs.Unit() || m.Spun() != 2 {
		t.Errorf("second implementation shares a unit or spun %d, want 2", m.Spun())
	}
}

func TestValidate(t *testing.T) {
	r := vm.NewRegistry()
	fn := function(t, r)
	threeInts := vm.NewHandle("sum3", vm.MethodTypeOf(vm.Int, vm.Int, vm.Int, vm.Int), func([]vm.Value) (vm.Value, error) { return int32(0), nil })
	longString := vm.NewHandle("ls", vm.MethodTypeOf(vm.String, vm.Long, vm.String), func([]vm.Value) (vm.Value, error) { return "", nil })
	intString := vm.NewHandle("is", vm.MethodTypeOf(vm.String, vm.Int, vm.String), func([]vm.Value) (vm.Value, error) { return "", nil })
	toLong := vm.NewHandle("tl", vm.MethodTypeOf(vm.Long, vm.String), func([]vm.Value) (vm.Value, error) { return int64(0), nil })
	takesInt := vm.NewHandle("ti", vm.MethodTypeOf(vm.Object, vm.Int), func([]vm.Value) (vm.Value, error) { return nil, nil })

	base := func() *Descriptor {
		return &Descriptor{
			Interface:    fn,
			Name:         "apply",
			SAMType:      applyType,
			Instantiated: vm.MethodTypeOf(vm.IntegerBox, vm.String),
			Impl:         length(),
		}
	}

	tests := []struct {
		name   string
		mutate func(*Descriptor)
		want   error
		index  int
	}{
		{"no impl", func(d *Descriptor) { d.Impl = nil }, ErrIncompleteDescriptor, -1},
		{"no sam type", func(d *Descriptor) { d.SAMType = nil }, ErrIncompleteDescriptor, -1},
		{"class as interface", func(d *Descriptor) { d.Interface = vm.String }, ErrNotAnInterface, -1},
		{"class as marker", func(d *Descriptor) { d.Markers = []*vm.Type{vm.Runnable, vm.Number} }, ErrNotAnInterface, 1},
		{"empty name", func(d *Descriptor) { d.Name = "" }, ErrIllegalMemberName, -1},
		{"dotted name", func(d *Descriptor) { d.Name = "a.b" }, ErrIllegalMemberName, -1},
		{"angle name", func(d *Descriptor) { d.Name = "<init>" }, ErrIllegalMemberName, -1},
		{"arity", func(d *Descriptor) {
			d.Impl = threeInts
			d.Captured = []*vm.Type{vm.Int}
			d.Instantiated = vm.MethodTypeOf(vm.IntegerBox, vm.Int)
		}, ErrArityMismatch, -1},
		{"instantiated arity", func(d *Descriptor) {
			d.Instantiated = vm.MethodTypeOf(vm.IntegerBox, vm.String, vm.String)
		}, ErrArityMismatch, -1},
		{"bridge arity", func(d *Descriptor) {
			d.Bridges = []*vm.MethodType{vm.MethodTypeOf(vm.Object)}
		}, ErrArityMismatch, 0},
		{"receiver", func(d *Descriptor) {
			d.Impl = intString
			d.Captured = []*vm.Type{vm.Int}
			d.Instantiated = vm.MethodTypeOf(vm.String, vm.String)
			d.ImplKind = ImplVirtual
			d.ImplOwner = vm.String
		}, ErrReceiverTypeMismatch, 0},
		{"captured", func(d *Descriptor) {
			d.Impl = longString
			d.Captured = []*vm.Type{vm.Int}
			d.Instantiated = vm.MethodTypeOf(vm.String, vm.String)
		}, ErrCapturedArgumentTypeMismatch, 0},
		{"argument", func(d *Descriptor) {
			d.Impl = takesInt
			d.Instantiated = vm.MethodTypeOf(vm.Object, vm.Long)
			d.SAMType = vm.MethodTypeOf(vm.Object, vm.Long)
		}, ErrArgumentTypeMismatch, 0},
		{"return", func(d *Descriptor) {
			d.Impl = toLong
			d.Instantiated = vm.MethodTypeOf(vm.Int, vm.String)
		}, ErrReturnTypeMismatch, -1},
		{"descriptor", func(d *Descriptor) {
			d.Bridges = []*vm.MethodType{vm.MethodTypeOf(vm.Object, vm.IntegerBox)}
		}, ErrDescriptorTypeMismatch, 0},
		{"constructor without owner", func(d *Descriptor) {
			d.ImplKind = ImplNewInvokeSpecial
		}, ErrReturnTypeMismatch, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := base()
			tt.mutate(d)
			err := Validate(d)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Validate = %v, want %v", err, tt.want)
			}
			var ce *ConversionError
			if !errors.As(err, &ce) || ce.Index != tt.index {
				t.Errorf("Validate = %#v, want a ConversionError at %d", err, tt.index)
			}
		})
	}

	if err := Validate(base()); err != nil {
		t.Errorf("Validate(valid) = %v", err)
	}
}

func TestRejectedDescriptorSpinsNothing(t *testing.T) {
	r := vm.NewRegistry()
	fn := function(t, r)
	m := NewMetafactory(r, nil)
	threeInts := vm.NewHandle("sum3", vm.MethodTypeOf(vm.Int, vm.Int, vm.Int, vm.Int), func([]vm.Value) (vm.Value, error) { return int32(0), nil })

	defines := r.Defines()
	_, err := m.Metafactory(&Descriptor{
		Interface:    fn,
		Name:         "apply",
		SAMType:      applyType,
		Instantiated: applyType,
		Captured:     []*vm.Type{vm.Int},
		Impl:         threeInts,
	})
	if !errors.Is(err, ErrArityMismatch) {
		t.Fatalf("Metafactory = %v, want ErrArityMismatch", err)
	}
	if m.Spun() != 0 || r.Defines() != defines {
		t.Errorf("rejected descriptor spun %d units", m.Spun())
	}
}

func TestConversionErrorMessage(t *testing.T) {
	err := mismatch(ErrArgumentTypeMismatch, 2, vm.Int, vm.Long)
	if got, want := err.Error(), "lambda: argument type mismatch at 2: expected int, got long"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	err = failf(ErrArityMismatch, -1, "too many")
	if got, want := err.Error(), "lambda: arity mismatch: too many"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
