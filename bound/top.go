package bound

import (
	"fmt"

	"github.com/chazu/linkage/species"
	"github.com/chazu/linkage/vm"
	"github.com/chazu/linkage/vm/emit"
)

// TopName is the abstract unit every bound species extends.
const TopName = "BoundHandle"

// Basic-type characters of bound fields, in transform order.
const extensionChars = "LIJFD"

const (
	copyWithName       = "copyWith"
	copyWithExtendName = "copyWithExtend"
)

// fieldType maps a basic-type character to the storage type of a field.
func fieldType(c byte) (*vm.Type, bool) {
	switch c {
	case 'L':
		return vm.Object, true
	case 'I':
		return vm.Int, true
	case 'J':
		return vm.Long, true
	case 'F':
		return vm.Float, true
	case 'D':
		return vm.Double, true
	}
	return nil, false
}

// BasicChar returns the shape character used to store a value of type t:
// int, long, float and double keep their own; everything else, including
// the sub-int primitives, is stored as a reference.
func BasicChar(t *vm.Type) byte {
	switch t {
	case vm.Int:
		return 'I'
	case vm.Long:
		return 'J'
	case vm.Float:
		return 'F'
	case vm.Double:
		return 'D'
	}
	return 'L'
}

// Shape returns the shape string for a list of parameter types.
func Shape(types ...*vm.Type) string {
	b := make([]byte, len(types))
	for i, t := range types {
		b[i] = BasicChar(t)
	}
	return string(b)
}

// transforms lists copyWith then one copyWithExtend per extension char.
func transforms(top *vm.Type) []species.TransformSpec {
	specs := []species.TransformSpec{{
		Name: copyWithName,
		Type: vm.MethodTypeOf(top, vm.MethodTypeClass, vm.MethodHandleClass),
	}}
	for i := 0; i < len(extensionChars); i++ {
		t, _ := fieldType(extensionChars[i])
		specs = append(specs, species.TransformSpec{
			Name: copyWithExtendName + string(extensionChars[i]),
			Type: vm.MethodTypeOf(top, vm.MethodTypeClass, vm.MethodHandleClass, t),
		})
	}
	return specs
}

// topBlueprint describes BoundHandle: the type and target fields, their
// constructor, and abstract speciesData and transform methods that every
// species implements.
func topBlueprint() (*emit.Blueprint, error) {
	bp := emit.NewBlueprint(TopName, vm.Object.Name())
	bp.Flags = emit.FlagPublic | emit.FlagAbstract | emit.FlagSynthetic
	bp.AddField("type", vm.MethodTypeClass.Descriptor(), emit.FlagFinal)
	bp.AddField("target", vm.MethodHandleClass.Descriptor(), emit.FlagFinal)

	c := emit.NewCode(3)
	c.Load(0).InvokeSpecial(vm.Object.Name(), "<init>", "()V")
	c.Load(0).Load(1).PutField("type")
	c.Load(0).Load(2).PutField("target")
	c.ReturnVoid()
	ctor, err := c.Finish("<init>", topCtorType().Descriptor(), emit.FlagPublic)
	if err != nil {
		return nil, err
	}
	bp.AddMethod(ctor)

	abstract := emit.FlagPublic | emit.FlagAbstract
	bp.AddMethod(emit.MethodDecl{Name: species.SpeciesDataMethod, Desc: "()" + vm.Object.Descriptor(), Flags: abstract})
	// The top type is not registered yet, so spell its descriptor by name.
	self := "L" + TopName + ";"
	bp.AddMethod(emit.MethodDecl{
		Name:  copyWithName,
		Desc:  "(" + vm.MethodTypeClass.Descriptor() + vm.MethodHandleClass.Descriptor() + ")" + self,
		Flags: abstract,
	})
	for i := 0; i < len(extensionChars); i++ {
		t, _ := fieldType(extensionChars[i])
		bp.AddMethod(emit.MethodDecl{
			Name:  copyWithExtendName + string(extensionChars[i]),
			Desc:  "(" + vm.MethodTypeClass.Descriptor() + vm.MethodHandleClass.Descriptor() + t.Descriptor() + ")" + self,
			Flags: abstract,
		})
	}
	return bp, nil
}

func topCtorType() *vm.MethodType {
	return vm.MethodTypeOf(vm.Void, vm.MethodTypeClass, vm.MethodHandleClass)
}

// defineTop returns the registry's BoundHandle unit, defining it on first
// use.
func defineTop(loader species.Loader, emitter species.Emitter) (*vm.Unit, error) {
	if u, ok := loader.LookupByName(TopName); ok {
		return u, nil
	}
	bp, err := topBlueprint()
	if err != nil {
		return nil, fmt.Errorf("bound: %w", err)
	}
	blob, err := emitter.Emit(bp)
	if err != nil {
		return nil, fmt.Errorf("bound: emit %s: %w", TopName, err)
	}
	u, err := loader.Define(TopName, blob)
	if err != nil {
		if u, ok := loader.LookupByName(TopName); ok {
			return u, nil
		}
		return nil, err
	}
	return u, nil
}
