// Package lambda turns implementation handles into instances of
// functional interfaces. A Descriptor is validated up front; the
// Metafactory then generates a unit implementing the interface whose
// single abstract method forwards to the implementation handle, carried
// as the unit's class data.
package lambda

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/tliron/commonlog"
	"github.com/zeebo/xxh3"

	"github.com/chazu/linkage/species"
	"github.com/chazu/linkage/vm"
	"github.com/chazu/linkage/vm/emit"
)

var log = commonlog.GetLogger("linkage.lambda")

// FactoryMethod is the static method of a lambda unit that captures its
// arguments into a new instance.
const FactoryMethod = "get$Lambda"

type siteKey struct {
	sig  string
	impl *vm.Handle
}

// Metafactory spins lambda units. Units are cached per descriptor and
// implementation handle.
type Metafactory struct {
	loader  species.Loader
	emitter species.Emitter
	sites   species.Cache[siteKey, *CallSite]
	seq     atomic.Uint64
	spun    atomic.Uint64
}

// NewMetafactory returns a metafactory defining units through loader. A
// nil emitter means emit.Encoder.
func NewMetafactory(loader species.Loader, emitter species.Emitter) *Metafactory {
	if emitter == nil {
		emitter = emit.Encoder{}
	}
	return &Metafactory{loader: loader, emitter: emitter}
}

// Spun returns how many units this metafactory has generated.
func (m *Metafactory) Spun() uint64 { return m.spun.Load() }

// Len returns the number of cached call sites.
func (m *Metafactory) Len() int { return m.sites.Len() }

// CallSite is the linked result for one descriptor: a factory taking the
// captured values and returning an instance of the interface.
type CallSite struct {
	desc    *Descriptor
	unit    *vm.Unit
	factory *vm.Handle
}

func (cs *CallSite) Descriptor() *Descriptor { return cs.desc }
func (cs *CallSite) Unit() *vm.Unit          { return cs.unit }

// Factory has type (captured...)Interface. For lambdas that capture
// nothing it returns the same instance every time.
func (cs *CallSite) Factory() *vm.Handle { return cs.factory }

// New captures values and returns a new instance.
func (cs *CallSite) New(captured ...vm.Value) (vm.Value, error) {
	return cs.factory.Invoke(captured...)
}

// Metafactory validates d and returns its call site, generating the unit
// on first use.
func (m *Metafactory) Metafactory(d *Descriptor) (*CallSite, error) {
	if err := Validate(d); err != nil {
		return nil, err
	}
	return m.sites.FindOrCreate(siteKey{sig: d.signature(), impl: d.Impl}, func(k siteKey) (*CallSite, error) {
		return m.spin(d, k.sig)
	})
}

func (m *Metafactory) spin(d *Descriptor, sig string) (*CallSite, error) {
	hash := xxh3.HashString(sig + "/" + d.Impl.Name())
	for {
		name := fmt.Sprintf("Lambda$%016x$%d", hash, m.seq.Add(1))
		if _, taken := m.loader.LookupByName(name); taken {
			continue
		}
		bp, err := blueprint(name, d)
		if err != nil {
			return nil, err
		}
		blob, err := m.emitter.Emit(bp)
		if err != nil {
			return nil, fmt.Errorf("lambda: emit %s: %w", name, err)
		}
		u, err := m.loader.Define(name, blob, d.Impl)
		if errors.Is(err, vm.ErrDuplicateDefinition) {
			continue
		}
		if err != nil {
			return nil, err
		}
		m.spun.Add(1)
		log.Debugf("spun %s for %s.%s via %s", name, d.Interface, d.Name, d.Impl)
		return link(d, u)
	}
}

func link(d *Descriptor, u *vm.Unit) (*CallSite, error) {
	get, err := u.FindStatic(FactoryMethod, vm.MethodTypeOf(d.Interface, d.Captured...))
	if err != nil {
		return nil, err
	}
	cs := &CallSite{desc: d, unit: u, factory: get}
	if len(d.Captured) == 0 {
		obj, err := get.Invoke()
		if err != nil {
			return nil, err
		}
		if cs.factory, err = vm.Constant(d.Interface, obj); err != nil {
			return nil, err
		}
	}
	return cs, nil
}

// signature identifies everything about d except the implementation
// handle.
func (d *Descriptor) signature() string {
	var sb strings.Builder
	sb.WriteString(d.Interface.Name())
	for _, m := range d.Markers {
		sb.WriteString("+" + m.Name())
	}
	fmt.Fprintf(&sb, ".%s%s/%s/", d.Name, d.SAMType.Descriptor(), d.Instantiated.Descriptor())
	for _, t := range d.Captured {
		sb.WriteString(t.Descriptor())
	}
	fmt.Fprintf(&sb, "/%s", d.ImplKind)
	if d.ImplOwner != nil {
		sb.WriteString(":" + d.ImplOwner.Name())
	}
	for _, b := range d.Bridges {
		sb.WriteString("|" + b.Descriptor())
	}
	return sb.String()
}

// ---------------------------------------------------------------------------
// Unit synthesis
// ---------------------------------------------------------------------------

func capturedField(i int) string { return fmt.Sprintf("arg$%d", i+1) }

func typesDescriptor(types []*vm.Type) string {
	var sb strings.Builder
	for _, t := range types {
		sb.WriteString(t.Descriptor())
	}
	return sb.String()
}

func blueprint(name string, d *Descriptor) (*emit.Blueprint, error) {
	ifaces := make([]string, 0, 1+len(d.Markers))
	ifaces = append(ifaces, d.Interface.Name())
	for _, m := range d.Markers {
		ifaces = append(ifaces, m.Name())
	}
	bp := emit.NewBlueprint(name, vm.Object.Name(), ifaces...)
	for i, t := range d.Captured {
		bp.AddField(capturedField(i), t.Descriptor(), emit.FlagPrivate|emit.FlagFinal)
	}

	ctorDesc := "(" + typesDescriptor(d.Captured) + ")V"
	c := emit.NewCode(1 + len(d.Captured))
	c.Load(0).InvokeSpecial(vm.Object.Name(), "<init>", "()V")
	for i := range d.Captured {
		c.Load(0).Load(1 + i).PutField(capturedField(i))
	}
	c.ReturnVoid()
	ctor, err := c.Finish("<init>", ctorDesc, emit.FlagPrivate)
	if err != nil {
		return nil, err
	}
	bp.AddMethod(ctor)

	c = emit.NewCode(len(d.Captured))
	c.New(name).Dup()
	for i := range d.Captured {
		c.Load(i)
	}
	c.InvokeSpecial(name, "<init>", ctorDesc).Return()
	get, err := c.Finish(FactoryMethod, vm.MethodTypeOf(d.Interface, d.Captured...).Descriptor(), emit.FlagPrivate|emit.FlagStatic)
	if err != nil {
		return nil, err
	}
	bp.AddMethod(get)

	seen := map[string]bool{}
	descs := append([]*vm.MethodType{d.SAMType}, d.Bridges...)
	for i, mt := range descs {
		if seen[mt.Descriptor()] {
			continue
		}
		seen[mt.Descriptor()] = true
		flags := emit.FlagPublic
		if i > 0 {
			flags |= emit.FlagBridge | emit.FlagSynthetic
		}
		md, err := forwarder(d, mt, flags)
		if err != nil {
			return nil, err
		}
		bp.AddMethod(md)
	}
	return bp, nil
}

// forwarder implements one descriptor of the SAM: push the implementation
// handle, the captured fields and the converted arguments, invoke, and
// convert the result back.
func forwarder(d *Descriptor, mt *vm.MethodType, flags emit.Flags) (emit.MethodDecl, error) {
	impl := d.Impl.Type()
	nc := len(d.Captured)
	c := emit.NewCode(1 + mt.ParamCount())
	c.ClassData(0)
	for i, t := range d.Captured {
		c.Load(0).GetField(capturedField(i))
		convert(c, t, t, impl.Param(i))
	}
	for i := 0; i < mt.ParamCount(); i++ {
		c.Load(1 + i)
		convert(c, mt.Param(i), d.Instantiated.Param(i), impl.Param(nc+i))
	}
	c.InvokeHandle(impl.Descriptor())

	ret := mt.Return()
	switch {
	case ret == vm.Void:
		if impl.Return() != vm.Void {
			c.Pop()
		}
		c.ReturnVoid()
	default:
		convert(c, impl.Return(), d.Instantiated.Return(), ret)
		c.Return()
	}
	return c.Finish(d.Name, mt.Descriptor(), flags)
}

// convert emits from -> via -> to for the value on top of the stack. When
// either step is not a legal conversion on its own, it converts directly.
func convert(c *emit.Code, from, via, to *vm.Type) {
	if vm.Classify(from, via) < vm.AdaptDiscard && vm.Classify(via, to) < vm.AdaptDiscard {
		c.Convert(from.Descriptor(), via.Descriptor())
		c.Convert(via.Descriptor(), to.Descriptor())
		return
	}
	c.Convert(from.Descriptor(), to.Descriptor())
}
