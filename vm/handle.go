package vm

import (
	"fmt"
)

// HandleFunc is the Go body of a handle. args has exactly one value per
// parameter of the handle's type, each already an instance of it.
type HandleFunc func(args []Value) (Value, error)

// Handle is a typed, directly invocable reference to behavior: a unit
// method, a constructor, a field getter or an arbitrary Go function.
// Handles are immutable; combinators return new handles.
type Handle struct {
	name string
	typ  *MethodType
	fn   HandleFunc
}

// NewHandle wraps fn as a handle of type typ.
func NewHandle(name string, typ *MethodType, fn HandleFunc) *Handle {
	return &Handle{name: name, typ: typ, fn: fn}
}

func (h *Handle) Type() *MethodType { return h.typ }
func (h *Handle) Name() string      { return h.name }

func (h *Handle) String() string {
	return fmt.Sprintf("MethodHandle%s %s", h.typ, h.name)
}

// Invoke calls the handle. Every argument must already be an instance of
// the corresponding parameter type; the result is checked against the
// return type. Void handles return nil.
func (h *Handle) Invoke(args ...Value) (Value, error) {
	if len(args) != h.typ.ParamCount() {
		return nil, NewThrowable(WrongMethodTypeException, "%s expects %d arguments, got %d", h, h.typ.ParamCount(), len(args))
	}
	for i, a := range args {
		if p := h.typ.Param(i); !IsInstance(p, a) {
			return nil, NewThrowable(WrongMethodTypeException, "%s argument %d: %s is not a %s", h, i, typeName(a), p)
		}
	}
	r, err := h.fn(args)
	if err != nil {
		return nil, err
	}
	ret := h.typ.Return()
	if ret == Void {
		return nil, nil
	}
	if !IsInstance(ret, r) {
		return nil, NewThrowable(ClassCastException, "%s returned %s, want %s", h, typeName(r), ret)
	}
	return r, nil
}

// InvokeExact calls the handle after checking that the caller's view of
// its type is exactly the handle's type.
func (h *Handle) InvokeExact(mt *MethodType, args ...Value) (Value, error) {
	if !mt.Equal(h.typ) {
		return nil, NewThrowable(WrongMethodTypeException, "expected %s but found %s", mt, h.typ)
	}
	return h.Invoke(args...)
}

// InvokeWithArguments calls the handle, converting each argument from its
// run-time type to the parameter type first.
func (h *Handle) InvokeWithArguments(args ...Value) (Value, error) {
	if len(args) != h.typ.ParamCount() {
		return nil, NewThrowable(WrongMethodTypeException, "%s expects %d arguments, got %d", h, h.typ.ParamCount(), len(args))
	}
	conv := make([]Value, len(args))
	for i, a := range args {
		v, err := ConvertValue(a, h.typ.Param(i))
		if err != nil {
			return nil, err
		}
		conv[i] = v
	}
	return h.Invoke(conv...)
}

// ConvertValue adapts a value of unknown static type to t, using the
// value's run-time type as the source type.
func ConvertValue(v Value, t *Type) (Value, error) {
	from := TypeOf(v)
	if from == nil {
		from = Object
	}
	if Classify(from, t) == AdaptIllegal {
		return nil, NewThrowable(ClassCastException, "%s cannot be converted to %s", typeName(v), t)
	}
	return Convert(v, from, t)
}

// ---------------------------------------------------------------------------
// Combinators
// ---------------------------------------------------------------------------

// AsType adapts h to newType. Each new parameter must be adaptable to the
// old one and the old return to the new one, non-strictly; conversions that
// can fail are deferred to invocation.
func (h *Handle) AsType(newType *MethodType) (*Handle, error) {
	if newType.Equal(h.typ) {
		return h, nil
	}
	if newType.ParamCount() != h.typ.ParamCount() {
		return nil, NewThrowable(WrongMethodTypeException, "cannot convert %s to %s", h.typ, newType)
	}
	for i := 0; i < newType.ParamCount(); i++ {
		if !IsAdaptable(newType.Param(i), h.typ.Param(i), false) {
			return nil, NewThrowable(WrongMethodTypeException, "cannot convert %s to %s: parameter %d", h.typ, newType, i)
		}
	}
	oldRet, newRet := h.typ.Return(), newType.Return()
	if !IsAdaptableReturn(oldRet, newRet, false) && !(oldRet == Void && newRet.IsReference()) {
		return nil, NewThrowable(WrongMethodTypeException, "cannot convert %s to %s: return", h.typ, newType)
	}
	target := h
	return NewHandle(h.name, newType, func(args []Value) (Value, error) {
		conv := make([]Value, len(args))
		for i, a := range args {
			v, err := Convert(a, newType.Param(i), target.typ.Param(i))
			if err != nil {
				return nil, err
			}
			conv[i] = v
		}
		r, err := target.Invoke(conv...)
		if err != nil {
			return nil, err
		}
		return Convert(r, oldRet, newRet)
	}), nil
}

// InsertArguments binds vals to the parameters starting at pos.
func (h *Handle) InsertArguments(pos int, vals ...Value) (*Handle, error) {
	if pos < 0 || pos+len(vals) > h.typ.ParamCount() {
		return nil, fmt.Errorf("insert %d arguments at %d into %s: %w", len(vals), pos, h.typ, ErrBadType)
	}
	bound := make([]Value, len(vals))
	for i, v := range vals {
		p := h.typ.Param(pos + i)
		cv, err := ConvertValue(v, p)
		if err != nil {
			return nil, err
		}
		bound[i] = cv
	}
	target := h
	return NewHandle(h.name, h.typ.DropParams(pos, pos+len(vals)), func(args []Value) (Value, error) {
		full := make([]Value, 0, len(args)+len(bound))
		full = append(full, args[:pos]...)
		full = append(full, bound...)
		full = append(full, args[pos:]...)
		return target.fn(full)
	}), nil
}

// BindTo binds a receiver to the first parameter, which must be a
// reference type.
func (h *Handle) BindTo(v Value) (*Handle, error) {
	if h.typ.ParamCount() == 0 || !h.typ.Param(0).IsReference() {
		return nil, fmt.Errorf("bind to %s: %w: no leading reference parameter", h.typ, ErrBadType)
	}
	return h.InsertArguments(0, v)
}

// DropArguments returns a handle that accepts and ignores extra parameters
// of the given types at pos.
func (h *Handle) DropArguments(pos int, types ...*Type) (*Handle, error) {
	if pos < 0 || pos > h.typ.ParamCount() {
		return nil, fmt.Errorf("drop at %d from %s: %w", pos, h.typ, ErrBadType)
	}
	n := len(types)
	target := h
	return NewHandle(h.name, h.typ.InsertParams(pos, types...), func(args []Value) (Value, error) {
		kept := make([]Value, 0, len(args)-n)
		kept = append(kept, args[:pos]...)
		kept = append(kept, args[pos+n:]...)
		return target.fn(kept)
	}), nil
}

// Permute returns a handle of type newType whose i-th target argument is
// the reorder[i]-th incoming argument. Types must match exactly.
func (h *Handle) Permute(newType *MethodType, reorder ...int) (*Handle, error) {
	if len(reorder) != h.typ.ParamCount() || newType.Return() != h.typ.Return() {
		return nil, fmt.Errorf("permute %s to %s: %w", h.typ, newType, ErrBadType)
	}
	for i, src := range reorder {
		if src < 0 || src >= newType.ParamCount() || newType.Param(src) != h.typ.Param(i) {
			return nil, fmt.Errorf("permute %s to %s: %w: argument %d", h.typ, newType, ErrBadType, i)
		}
	}
	order := append([]int(nil), reorder...)
	target := h
	return NewHandle(h.name, newType, func(args []Value) (Value, error) {
		perm := make([]Value, len(order))
		for i, src := range order {
			perm[i] = args[src]
		}
		return target.fn(perm)
	}), nil
}

// Constant returns a handle of type ()t that always returns v.
func Constant(t *Type, v Value) (*Handle, error) {
	if t == Void {
		return nil, fmt.Errorf("constant of void: %w", ErrBadType)
	}
	cv, err := ConvertValue(v, t)
	if err != nil {
		return nil, err
	}
	return NewHandle("constant", MethodTypeOf(t), func([]Value) (Value, error) { return cv, nil }), nil
}

// Identity returns a handle of type (t)t.
func Identity(t *Type) *Handle {
	return NewHandle("identity", MethodTypeOf(t, t), func(args []Value) (Value, error) { return args[0], nil })
}
