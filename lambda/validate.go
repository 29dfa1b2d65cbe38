package lambda

import (
	"strings"

	"github.com/chazu/linkage/vm"
)

// ImplKind says how the implementation handle was obtained, which decides
// whether its first parameter is a receiver.
type ImplKind uint8

const (
	ImplStatic ImplKind = iota
	ImplVirtual
	ImplInterface
	ImplSpecial
	ImplNewInvokeSpecial
)

var implKindNames = [...]string{"static", "virtual", "interface", "special", "newInvokeSpecial"}

func (k ImplKind) String() string {
	if int(k) < len(implKindNames) {
		return implKindNames[k]
	}
	return "unknown"
}

// HasReceiver reports whether the implementation takes a receiver first.
func (k ImplKind) HasReceiver() bool {
	return k == ImplVirtual || k == ImplInterface || k == ImplSpecial
}

// Descriptor is everything needed to turn an implementation handle into
// an instance of a functional interface.
type Descriptor struct {
	// Interface is implemented by the generated unit, together with
	// Markers.
	Interface *vm.Type
	Markers   []*vm.Type

	// Name and SAMType identify the single abstract method. Instantiated
	// is SAMType with its type variables filled in; it may be narrower.
	Name         string
	SAMType      *vm.MethodType
	Instantiated *vm.MethodType

	// Captured are the types of the values stored in the instance and
	// passed first to Impl.
	Captured []*vm.Type

	// Impl is called with the captured values followed by the SAM
	// arguments. For receiver kinds its first parameter is the receiver;
	// for ImplNewInvokeSpecial it returns ImplOwner.
	Impl      *vm.Handle
	ImplKind  ImplKind
	ImplOwner *vm.Type

	// Bridges are additional descriptors of the SAM to implement.
	Bridges []*vm.MethodType
}

const illegalNameChars = ".;[/<>"

// Validate checks d before anything is generated. Checks run in a fixed
// order and the first failure is returned as a *ConversionError.
func Validate(d *Descriptor) error {
	switch {
	case d.Interface == nil:
		return failf(ErrIncompleteDescriptor, -1, "no interface")
	case d.SAMType == nil:
		return failf(ErrIncompleteDescriptor, -1, "no sam type")
	case d.Instantiated == nil:
		return failf(ErrIncompleteDescriptor, -1, "no instantiated type")
	case d.Impl == nil:
		return failf(ErrIncompleteDescriptor, -1, "no implementation")
	}
	if !d.Interface.IsInterface() {
		return mismatch(ErrNotAnInterface, -1, nil, d.Interface)
	}
	for i, m := range d.Markers {
		if m == nil || !m.IsInterface() {
			return mismatch(ErrNotAnInterface, i, nil, m)
		}
	}

	if d.Name == "" || strings.ContainsAny(d.Name, illegalNameChars) {
		return failf(ErrIllegalMemberName, -1, "%q", d.Name)
	}

	impl := d.Impl.Type()
	capturedArity, samArity, implArity := len(d.Captured), d.SAMType.ParamCount(), impl.ParamCount()
	if implArity != capturedArity+samArity {
		return failf(ErrArityMismatch, -1, "implementation takes %d, captured %d + sam %d", implArity, capturedArity, samArity)
	}
	if d.Instantiated.ParamCount() != samArity {
		return failf(ErrArityMismatch, -1, "instantiated type takes %d, sam %d", d.Instantiated.ParamCount(), samArity)
	}
	for i, b := range d.Bridges {
		if b.ParamCount() != samArity {
			return failf(ErrArityMismatch, i, "bridge %s takes %d, sam %d", b, b.ParamCount(), samArity)
		}
	}

	// The receiver is the first captured value or, with nothing captured,
	// the first call argument. Either way it is not checked again below.
	capturedStart, samStart := 0, 0
	if d.ImplKind.HasReceiver() {
		if implArity == 0 {
			return failf(ErrReceiverTypeMismatch, 0, "%s implementation without a receiver", d.ImplKind)
		}
		var recv *vm.Type
		if capturedArity > 0 {
			recv, capturedStart = d.Captured[0], 1
		} else {
			recv, samStart = d.Instantiated.Param(0), 1
		}
		if d.ImplOwner == nil || !d.ImplOwner.IsAssignableFrom(recv) {
			return mismatch(ErrReceiverTypeMismatch, 0, d.ImplOwner, recv)
		}
	}

	for i := capturedStart; i < capturedArity; i++ {
		if d.Captured[i] != impl.Param(i) {
			return mismatch(ErrCapturedArgumentTypeMismatch, i, impl.Param(i), d.Captured[i])
		}
	}

	for i := samStart; i < samArity; i++ {
		want, got := impl.Param(capturedArity+i), d.Instantiated.Param(i)
		if !vm.IsAdaptable(got, want, false) {
			return mismatch(ErrArgumentTypeMismatch, i, want, got)
		}
	}

	ret := impl.Return()
	if d.ImplKind == ImplNewInvokeSpecial {
		ret = d.ImplOwner
		if ret == nil {
			return failf(ErrReturnTypeMismatch, -1, "constructor implementation without an owner")
		}
	}
	if !vm.IsAdaptableReturn(ret, d.Instantiated.Return(), false) {
		return mismatch(ErrReturnTypeMismatch, -1, d.Instantiated.Return(), ret)
	}

	if err := checkDescriptor(d.Instantiated, d.SAMType); err != nil {
		return err
	}
	for _, b := range d.Bridges {
		if err := checkDescriptor(d.Instantiated, b); err != nil {
			return err
		}
	}
	return nil
}

// checkDescriptor requires every parameter of desc to accept the
// instantiated parameter and the instantiated return to be strictly
// returnable as desc's.
func checkDescriptor(inst, desc *vm.MethodType) error {
	for i := 0; i < desc.ParamCount(); i++ {
		if !vm.IsAdaptable(inst.Param(i), desc.Param(i), true) {
			return &ConversionError{
				Kind: ErrDescriptorTypeMismatch, Index: i,
				Expected: desc.Param(i), Actual: inst.Param(i),
				Detail: "in " + desc.String(),
			}
		}
	}
	if !vm.IsAdaptableReturn(inst.Return(), desc.Return(), true) {
		return &ConversionError{
			Kind: ErrDescriptorTypeMismatch, Index: -1,
			Expected: desc.Return(), Actual: inst.Return(),
			Detail: "return of " + desc.String(),
		}
	}
	return nil
}
