package forms

import (
	"fmt"

	"github.com/chazu/linkage/vm"
	"github.com/chazu/linkage/vm/emit"
)

func invokeType(handles int, erased *vm.MethodType) *vm.MethodType {
	return erased.InsertParams(0, handleParams(handles)...)
}

func adaptAll(pairs ...any) ([]*vm.Handle, error) {
	out := make([]*vm.Handle, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		h, err := pairs[i].(*vm.Handle).AsType(pairs[i+1].(*vm.MethodType))
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

// GuardWithTest returns a handle that calls test with the leading
// arguments and then target or fallback with all of them. target and
// fallback must have the same type; test returns boolean.
func (c *Compiler) GuardWithTest(test, target, fallback *vm.Handle) (*vm.Handle, error) {
	typ := target.Type()
	if !fallback.Type().Equal(typ) || test.Type().Return() != vm.Boolean {
		return nil, fmt.Errorf("%w: guard %s, target %s, fallback %s", ErrBadForm, test.Type(), typ, fallback.Type())
	}
	k, ok := leadingArgs(test.Type(), 0, typ)
	if !ok {
		return nil, fmt.Errorf("%w: guard %s does not take a prefix of %s", ErrBadForm, test.Type(), typ)
	}

	erased, testErased := typ.Erase(), test.Type().Erase()
	n, ret := erased.ParamCount(), erased.Return().Descriptor()
	key := formKey{kind: KindGuardWithTest, desc: erased.Descriptor(), extra: fmt.Sprint(k)}
	form, err := c.form(key, invokeType(3, erased), func(code *emit.Code) error {
		code.GuardWithTest(
			func(code *emit.Code) {
				code.Load(0)
				loadArgs(code, 3, 0, k)
				code.InvokeHandle(testErased.Descriptor())
			},
			func(code *emit.Code) {
				code.Load(1)
				loadArgs(code, 3, 0, n)
				code.InvokeHandle(erased.Descriptor()).ReturnFor(ret)
			},
			func(code *emit.Code) {
				code.Load(2)
				loadArgs(code, 3, 0, n)
				code.InvokeHandle(erased.Descriptor()).ReturnFor(ret)
			},
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	parts, err := adaptAll(test, testErased, target, erased, fallback, erased)
	if err != nil {
		return nil, err
	}
	return bind(form, typ, parts...)
}

// CatchException returns a handle that calls target and, if it raises a
// throwable of type exType, returns handler's result instead. handler
// takes the throwable followed by a prefix of target's parameters and
// returns the same type as target.
func (c *Compiler) CatchException(target *vm.Handle, exType *vm.Type, handler *vm.Handle) (*vm.Handle, error) {
	typ, ht := target.Type(), handler.Type()
	if !vm.ThrowableClass.IsAssignableFrom(exType) {
		return nil, fmt.Errorf("%w: %s is not a throwable type", ErrBadForm, exType)
	}
	if ht.ParamCount() == 0 || ht.Param(0) != exType || ht.Return() != typ.Return() {
		return nil, fmt.Errorf("%w: handler %s for %s catching %s", ErrBadForm, ht, typ, exType)
	}
	k, ok := leadingArgs(ht, 1, typ)
	if !ok {
		return nil, fmt.Errorf("%w: handler %s does not take a prefix of %s", ErrBadForm, ht, typ)
	}

	erased, handlerErased := typ.Erase(), ht.Erase()
	n, ret := erased.ParamCount(), erased.Return().Descriptor()
	key := formKey{kind: KindCatchException, desc: erased.Descriptor(), extra: fmt.Sprintf("%s/%d", exType.Name(), k)}
	form, err := c.form(key, invokeType(2, erased), func(code *emit.Code) error {
		exc := code.NewLocal()
		code.Catch(exType.Name(),
			func(code *emit.Code) {
				code.Load(0)
				loadArgs(code, 2, 0, n)
				code.InvokeHandle(erased.Descriptor()).ReturnFor(ret)
			},
			func(code *emit.Code) {
				code.Store(exc)
				code.Load(1).Load(exc)
				loadArgs(code, 2, 0, k)
				code.InvokeHandle(handlerErased.Descriptor()).ReturnFor(ret)
			},
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	parts, err := adaptAll(target, erased, handler, handlerErased)
	if err != nil {
		return nil, err
	}
	return bind(form, typ, parts...)
}

// TryFinally returns a handle that calls target and then cleanup with a
// prefix of the arguments, whether target returned or raised. A throwable
// from target is re-raised after cleanup; target's result is returned
// otherwise.
func (c *Compiler) TryFinally(target, cleanup *vm.Handle) (*vm.Handle, error) {
	typ, ct := target.Type(), cleanup.Type()
	if ct.Return() != vm.Void {
		return nil, fmt.Errorf("%w: cleanup %s must return void", ErrBadForm, ct)
	}
	k, ok := leadingArgs(ct, 0, typ)
	if !ok {
		return nil, fmt.Errorf("%w: cleanup %s does not take a prefix of %s", ErrBadForm, ct, typ)
	}

	erased, cleanupErased := typ.Erase(), ct.Erase()
	n := erased.ParamCount()
	void := erased.Return() == vm.Void
	key := formKey{kind: KindTryFinally, desc: erased.Descriptor(), extra: fmt.Sprint(k)}
	form, err := c.form(key, invokeType(2, erased), func(code *emit.Code) error {
		var result int
		if !void {
			result = code.NewLocal()
		}
		code.TryFinally(
			func(code *emit.Code) {
				code.Load(0)
				loadArgs(code, 2, 0, n)
				code.InvokeHandle(erased.Descriptor())
				if !void {
					code.Store(result)
				}
			},
			func(code *emit.Code) {
				code.Load(1)
				loadArgs(code, 2, 0, k)
				code.InvokeHandle(cleanupErased.Descriptor())
			},
		)
		if void {
			code.ReturnVoid()
		} else {
			code.Load(result).Return()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	parts, err := adaptAll(target, erased, cleanup, cleanupErased)
	if err != nil {
		return nil, err
	}
	return bind(form, typ, parts...)
}

// CountedLoop returns a handle that computes n = iterations(a...), v =
// init(a...), then runs v = body(v, i, a...) for i in [0, n) and returns
// v. With a void loop variable, body is (i, a...) and nothing is
// returned. Each component may take a prefix of the loop parameters, and
// the longest parameter list defines them. A nil init starts v at its
// zero value.
func (c *Compiler) CountedLoop(iterations, init, body *vm.Handle) (*vm.Handle, error) {
	bt := body.Type()
	v := bt.Return()
	skip := 1
	if v != vm.Void {
		skip = 2
	}
	if bt.ParamCount() < skip || bt.Param(skip-1) != vm.Int || (v != vm.Void && bt.Param(0) != v) {
		return nil, fmt.Errorf("%w: loop body %s", ErrBadForm, bt)
	}
	if iterations.Type().Return() != vm.Int {
		return nil, fmt.Errorf("%w: iteration count %s must return int", ErrBadForm, iterations.Type())
	}
	if init == nil {
		var err error
		if init, err = zeroInit(v); err != nil {
			return nil, err
		}
	}
	if init.Type().Return() != v {
		return nil, fmt.Errorf("%w: init %s for loop variable %s", ErrBadForm, init.Type(), v)
	}

	typ := loopType(v, iterations.Type(), init.Type(), bt.DropParams(0, skip))
	k1, ok1 := leadingArgs(iterations.Type(), 0, typ)
	k2, ok2 := leadingArgs(init.Type(), 0, typ)
	k3, ok3 := leadingArgs(bt, skip, typ)
	if !ok1 || !ok2 || !ok3 {
		return nil, fmt.Errorf("%w: loop components %s, %s, %s disagree on parameters", ErrBadForm, iterations.Type(), init.Type(), bt)
	}

	erased := typ.Erase()
	itErased, initErased, bodyErased := iterations.Type().Erase(), init.Type().Erase(), bt.Erase()
	hasVar := v != vm.Void
	key := formKey{kind: KindCountedLoop, desc: erased.Descriptor(), extra: fmt.Sprintf("%d/%d/%d", k1, k2, k3)}
	form, err := c.form(key, invokeType(3, erased), func(code *emit.Code) error {
		limit, counter := code.NewLocal(), code.NewLocal()
		acc := -1
		if hasVar {
			acc = code.NewLocal()
		}
		code.Load(0)
		loadArgs(code, 3, 0, k1)
		code.InvokeHandle(itErased.Descriptor()).Store(limit)
		code.Load(1)
		loadArgs(code, 3, 0, k2)
		code.InvokeHandle(initErased.Descriptor())
		if hasVar {
			code.Store(acc)
		}
		code.CountedLoop(counter, limit, func(code *emit.Code) {
			code.Load(2)
			if hasVar {
				code.Load(acc)
			}
			code.Load(counter)
			loadArgs(code, 3, 0, k3)
			code.InvokeHandle(bodyErased.Descriptor())
			if hasVar {
				code.Store(acc)
			}
		})
		if hasVar {
			code.Load(acc).Return()
		} else {
			code.ReturnVoid()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	parts, err := adaptAll(iterations, itErased, init, initErased, body, bodyErased)
	if err != nil {
		return nil, err
	}
	return bind(form, typ, parts...)
}

// zeroInit returns a no-argument handle producing the zero value of v, or
// doing nothing for void.
func zeroInit(v *vm.Type) (*vm.Handle, error) {
	if v == vm.Void {
		return vm.NewHandle("noop", vm.MethodTypeOf(vm.Void), func([]vm.Value) (vm.Value, error) { return nil, nil }), nil
	}
	return vm.Constant(v, vm.Zero(v))
}

// loopType is (longest parameter list)v.
func loopType(v *vm.Type, lists ...*vm.MethodType) *vm.MethodType {
	longest := lists[0]
	for _, l := range lists[1:] {
		if l.ParamCount() > longest.ParamCount() {
			longest = l
		}
	}
	return vm.MethodTypeOf(v, longest.Params()...)
}
