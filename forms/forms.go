// Package forms compiles method-handle combinators into generated units.
// Each combinator shape (kind plus erased method type) is compiled once
// into a unit with a static invoke method that takes the component handles
// followed by the call arguments; concrete combinators bind their handles
// to that method and adapt it back to the caller's type.
package forms

import (
	"errors"
	"fmt"

	"github.com/tliron/commonlog"
	"github.com/zeebo/xxh3"

	"github.com/chazu/linkage/species"
	"github.com/chazu/linkage/vm"
	"github.com/chazu/linkage/vm/emit"
)

var log = commonlog.GetLogger("linkage.forms")

// Kind identifies a combinator.
type Kind uint8

const (
	KindGuardWithTest Kind = iota + 1
	KindCatchException
	KindTryFinally
	KindCountedLoop
)

var kindNames = map[Kind]string{
	KindGuardWithTest:  "GuardWithTest",
	KindCatchException: "CatchException",
	KindTryFinally:     "TryFinally",
	KindCountedLoop:    "CountedLoop",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// ErrBadForm reports component handles whose types do not fit the
// combinator.
var ErrBadForm = errors.New("forms: incompatible handle types")

// InvokeMethod is the static entry point of every form unit.
const InvokeMethod = "invoke"

// formKey identifies one compiled form. desc is the erased type of the
// combinator; extra distinguishes shapes with the same erased type (guard
// arity, catch type).
type formKey struct {
	kind  Kind
	desc  string
	extra string
}

func (k formKey) String() string { return k.kind.String() + k.desc + "/" + k.extra }

// unitName is stable for a key, so compilers sharing a registry reuse each
// other's units.
func (k formKey) unitName() string {
	return fmt.Sprintf("Form$%s_%016x", k.kind, xxh3.HashString(k.String()))
}

// Compiler compiles and caches form units.
type Compiler struct {
	loader  species.Loader
	emitter species.Emitter
	forms   species.Cache[formKey, *vm.Handle]
}

// NewCompiler returns a compiler defining units through loader. A nil
// emitter means emit.Encoder.
func NewCompiler(loader species.Loader, emitter species.Emitter) *Compiler {
	if emitter == nil {
		emitter = emit.Encoder{}
	}
	return &Compiler{loader: loader, emitter: emitter}
}

// Len returns the number of compiled forms.
func (c *Compiler) Len() int { return c.forms.Len() }

// form returns the invoke handle of the unit for key, compiling it on
// first use. mt is the invoke method's type.
func (c *Compiler) form(key formKey, mt *vm.MethodType, body func(*emit.Code) error) (*vm.Handle, error) {
	return c.forms.FindOrCreate(key, func(key formKey) (*vm.Handle, error) {
		name := key.unitName()
		u, ok := c.loader.LookupByName(name)
		if !ok {
			var err error
			if u, err = c.define(name, mt, body); err != nil {
				if !errors.Is(err, vm.ErrDuplicateDefinition) {
					return nil, err
				}
				if u, ok = c.loader.LookupByName(name); !ok {
					return nil, err
				}
			}
		}
		return u.FindStatic(InvokeMethod, mt)
	})
}

func (c *Compiler) define(name string, mt *vm.MethodType, body func(*emit.Code) error) (*vm.Unit, error) {
	code := emit.NewCode(mt.ParamCount())
	if err := body(code); err != nil {
		return nil, err
	}
	md, err := code.Finish(InvokeMethod, mt.Descriptor(), emit.FlagPublic|emit.FlagStatic)
	if err != nil {
		return nil, err
	}
	bp := emit.NewBlueprint(name, vm.Object.Name())
	bp.AddMethod(md)
	blob, err := c.emitter.Emit(bp)
	if err != nil {
		return nil, fmt.Errorf("forms: emit %s: %w", name, err)
	}
	u, err := c.loader.Define(name, blob)
	if err != nil {
		return nil, err
	}
	log.Debugf("compiled %s\n%s", name, md.Disassemble())
	return u, nil
}

// bind inserts the component handles into the form's invoke handle and
// adapts the result to the caller's type.
func bind(form *vm.Handle, typ *vm.MethodType, parts ...*vm.Handle) (*vm.Handle, error) {
	vals := make([]vm.Value, len(parts))
	for i, p := range parts {
		vals[i] = p
	}
	h, err := form.InsertArguments(0, vals...)
	if err != nil {
		return nil, err
	}
	return h.AsType(typ)
}

// handleParams returns n MethodHandle parameter types.
func handleParams(n int) []*vm.Type {
	p := make([]*vm.Type, n)
	for i := range p {
		p[i] = vm.MethodHandleClass
	}
	return p
}

// loadArgs pushes call arguments [from, to) which live after base handle
// locals.
func loadArgs(c *emit.Code, base, from, to int) {
	for i := from; i < to; i++ {
		c.Load(base + i)
	}
}

// leadingArgs reports whether the parameters of h after the first skip
// are a prefix of typ's parameters, and returns how many there are.
func leadingArgs(h *vm.MethodType, skip int, typ *vm.MethodType) (int, bool) {
	n := h.ParamCount() - skip
	if n < 0 || n > typ.ParamCount() {
		return 0, false
	}
	for i := 0; i < n; i++ {
		if h.Param(skip+i) != typ.Param(i) {
			return 0, false
		}
	}
	return n, true
}
