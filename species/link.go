package species

import (
	"errors"
	"fmt"

	"github.com/chazu/linkage/vm"
)

// ---------------------------------------------------------------------------
// Link and publish
// ---------------------------------------------------------------------------

// UnitName returns the deterministic unit name for a species of this
// engine.
func (s *Specializer[K]) UnitName(fieldTypes []*vm.Type) string {
	return UnitName(s.baseName, fieldTypes)
}

// archiveKey namespaces name by engine and by unit layout, so engines that
// share a base name but differ in top, base parameters or transforms never
// see each other's blobs.
func (s *Specializer[K]) archiveKey(name string) string {
	return s.baseName + "/" + s.layout + "/" + name
}

// resolve links r to a unit, reusing one already defined under the
// species name when there is one.
func (s *Specializer[K]) resolve(r *Record[K]) (*Record[K], error) {
	name := s.UnitName(r.fieldTypes)
	if u, ok := s.loader.LookupByName(name); ok {
		return s.salvage(r, u)
	}
	u, err := s.define(r, name)
	if err != nil {
		if errors.Is(err, vm.ErrDuplicateDefinition) {
			if u, ok := s.loader.LookupByName(name); ok {
				return s.salvage(r, u)
			}
		}
		return nil, err
	}
	return s.link(r, u)
}

// define produces the unit for r, from the archive when it has a usable
// blob and by synthesis otherwise.
func (s *Specializer[K]) define(r *Record[K], name string) (*vm.Unit, error) {
	if s.archive != nil {
		blob, ok, err := s.archive.Find(s.archiveKey(name))
		switch {
		case err != nil:
			log.Warningf("archive lookup for %s failed: %s", name, err)
		case ok:
			u, err := s.loader.Define(name, blob)
			if err == nil {
				s.stats.archiveHits.Add(1)
				log.Debugf("defined %s from archive", name)
				return u, nil
			}
			if errors.Is(err, vm.ErrDuplicateDefinition) {
				return nil, err
			}
			log.Warningf("archived %s rejected, synthesizing: %s", name, err)
		}
	}

	bp, err := s.Blueprint(name, r.fieldTypes)
	if err != nil {
		return nil, err
	}
	blob, err := s.emitter.Emit(bp)
	if err != nil {
		return nil, fmt.Errorf("emit %s: %w", name, err)
	}
	u, err := s.loader.Define(name, blob)
	if err != nil {
		return nil, err
	}
	s.stats.builds.Add(1)
	log.Debugf("synthesized %s (%d bytes)", name, len(blob))

	if s.archive != nil {
		if err := s.archive.Register(s.archiveKey(name), blob); err != nil {
			log.Warningf("archive register for %s failed: %s", name, err)
		}
	}
	return u, nil
}

// salvage adopts a unit found by name. A unit that already carries an
// equal-key record yields that record; an unlinked unit is linked to r.
func (s *Specializer[K]) salvage(r *Record[K], u *vm.Unit) (*Record[K], error) {
	s.stats.salvages.Add(1)
	if md, ok := u.Metadata(); ok {
		return s.adopt(r, u, md)
	}
	log.Infof("salvaging unlinked unit %s", u.Name())
	return s.link(r, u)
}

// link reflects r's handles from u and publishes r into u's metadata
// cell. Everything r carries is written before the publishing store.
func (s *Specializer[K]) link(r *Record[K], u *vm.Unit) (*Record[K], error) {
	if !u.IsSubunitOf(s.top) {
		return nil, internalErr("link", "%s does not extend %s", u.Name(), s.top.Name())
	}
	factory, err := u.FindStatic(MakeMethod, s.FactoryType(r.fieldTypes))
	if err != nil {
		return nil, fmt.Errorf("link %s: %w", u.Name(), err)
	}
	ctor, err := u.FindConstructor(vm.MethodTypeOf(vm.Void, s.ctorParams(r.fieldTypes)...))
	if err != nil {
		return nil, fmt.Errorf("link %s: %w", u.Name(), err)
	}
	getters := make([]*vm.Handle, len(r.fieldTypes))
	for i, t := range r.fieldTypes {
		g, err := u.FindGetter(FieldName(i, t), t)
		if err != nil {
			return nil, fmt.Errorf("link %s: %w", u.Name(), err)
		}
		getters[i] = g
	}

	r.unit = u
	r.factories = []*vm.Handle{factory, ctor}
	r.getters = getters
	if !r.IsResolved() {
		return nil, internalErr("link", "%s not resolved after linking", r)
	}
	if !u.PublishMetadata(r) {
		md, _ := u.Metadata()
		return s.adopt(r, u, md)
	}
	return r, nil
}

func (s *Specializer[K]) adopt(r *Record[K], u *vm.Unit, md any) (*Record[K], error) {
	other, ok := md.(*Record[K])
	if !ok || other.key != r.key || !other.IsResolved() {
		return nil, internalErr("link", "%s is linked to %v, not to key %v", u.Name(), md, r.key)
	}
	return other, nil
}
