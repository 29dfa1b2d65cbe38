package vm

// ---------------------------------------------------------------------------
// Type adaptation rules
// ---------------------------------------------------------------------------
//
// These decide, without looking at any value, whether a value of one type
// may be supplied where another is expected. Strict adaptation must be
// provable from the types alone; non-strict adaptation may defer a cast or
// an unboxing to run time.

// IsAdaptable reports whether a value of type from can be passed where
// type to is expected.
func IsAdaptable(from, to *Type, strict bool) bool {
	if from == to {
		return true
	}
	if from == Void || to == Void {
		return false
	}
	if from.IsPrimitive() {
		if to.IsPrimitive() {
			return from.WidensTo(to)
		}
		return to.IsAssignableFrom(from.Wrapper())
	}
	if to.IsPrimitive() {
		if p := from.Unwrapped(); p != nil && p != Void {
			return p.WidensTo(to)
		}
		return !strict
	}
	return !strict || to.IsAssignableFrom(from)
}

// IsAdaptableReturn reports whether a value returned as type from may be
// delivered to a caller expecting type to. In non-strict mode a void
// target discards any value; in strict mode void only matches void.
func IsAdaptableReturn(from, to *Type, strict bool) bool {
	if strict {
		if from == Void || to == Void {
			return from == to
		}
		return IsAdaptable(from, to, true)
	}
	return to == Void || (from != Void && IsAdaptable(from, to, false))
}

// Adaptation classifies the conversion needed to move a value between two
// types.
type Adaptation uint8

const (
	AdaptNone    Adaptation = iota // identical or statically assignable
	AdaptWiden                     // primitive widening
	AdaptBox                       // primitive to reference
	AdaptUnbox                     // reference to primitive
	AdaptCast                      // checked reference cast
	AdaptDiscard                   // value dropped (void target)
	AdaptZero                      // void source, zero value produced
	AdaptIllegal                   // not adaptable
)

// Classify returns the conversion Convert will perform from one type to
// another under non-strict rules.
func Classify(from, to *Type) Adaptation {
	switch {
	case from == to:
		return AdaptNone
	case to == Void:
		return AdaptDiscard
	case from == Void:
		return AdaptZero
	case !IsAdaptable(from, to, false):
		return AdaptIllegal
	case from.IsPrimitive() && to.IsPrimitive():
		return AdaptWiden
	case from.IsPrimitive():
		return AdaptBox
	case to.IsPrimitive():
		return AdaptUnbox
	case to.IsAssignableFrom(from):
		return AdaptNone
	}
	return AdaptCast
}
