package vm

// ---------------------------------------------------------------------------
// Run-time conversions
// ---------------------------------------------------------------------------

// Convert moves v from type from to type to, applying the conversion that
// Classify selects. Conversions that can fail at run time (unboxing, casts)
// return a *Throwable.
func Convert(v Value, from, to *Type) (Value, error) {
	switch Classify(from, to) {
	case AdaptNone:
		return v, nil
	case AdaptDiscard:
		return nil, nil
	case AdaptZero:
		return Zero(to), nil
	case AdaptWiden:
		return Widen(v, to)
	case AdaptBox:
		if !IsInstance(from, v) {
			return nil, NewThrowable(ClassCastException, "%T is not a %s", v, from)
		}
		return Box(v, from), nil
	case AdaptUnbox:
		return Unbox(v, to)
	case AdaptCast:
		return CheckCast(v, to)
	}
	return nil, NewThrowable(WrongMethodTypeException, "cannot convert %s to %s", from, to)
}

// CheckCast verifies that v may be stored as type to.
func CheckCast(v Value, to *Type) (Value, error) {
	if v == nil && to.IsReference() {
		return nil, nil
	}
	if IsInstance(to, v) {
		return v, nil
	}
	return nil, NewThrowable(ClassCastException, "%s cannot be cast to %s", typeName(v), to)
}

// Unbox extracts a primitive from a wrapper and widens it to to.
func Unbox(v Value, to *Type) (Value, error) {
	if v == nil {
		return nil, NewThrowable(NullPointerException, "cannot unbox null to %s", to)
	}
	b, ok := v.(*Boxed)
	if !ok {
		return nil, NewThrowable(ClassCastException, "%s cannot be unboxed to %s", typeName(v), to)
	}
	if !b.prim.WidensTo(to) {
		return nil, NewThrowable(ClassCastException, "%s cannot be converted to %s", b.prim.wrapper, to)
	}
	return Widen(b.v, to)
}

// Widen applies a widening primitive conversion to v.
func Widen(v Value, to *Type) (Value, error) {
	if TypeOf(v) == to {
		return v, nil
	}
	if to == Boolean || to == Byte || to == Char {
		return nil, widenErr(v, to)
	}
	if to == Short {
		if x, ok := v.(int8); ok {
			return int16(x), nil
		}
		return nil, widenErr(v, to)
	}
	if f, ok := v.(float32); ok {
		if to == Double {
			return float64(f), nil
		}
		return nil, widenErr(v, to)
	}
	n, ok := integral(v)
	if !ok {
		return nil, widenErr(v, to)
	}
	switch to {
	case Int:
		if _, isLong := v.(int64); !isLong {
			return int32(n), nil
		}
	case Long:
		return n, nil
	case Float:
		return float32(n), nil
	case Double:
		return float64(n), nil
	}
	return nil, widenErr(v, to)
}

func integral(v Value) (int64, bool) {
	switch x := v.(type) {
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case uint16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	}
	return 0, false
}

func widenErr(v Value, to *Type) error {
	return NewThrowable(ClassCastException, "cannot widen %s to %s", typeName(v), to)
}

func typeName(v Value) string {
	if t := TypeOf(v); t != nil {
		return t.Name()
	}
	return "null"
}
