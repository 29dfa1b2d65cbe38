// Package species builds, caches and links specialized units. A
// Specializer turns a shape key into a Record whose generated unit stores
// one field per field type of the shape, and keeps exactly one such record
// per key for its lifetime.
package species

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/tliron/commonlog"
	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/linkage/vm"
	"github.com/chazu/linkage/vm/emit"
)

var log = commonlog.GetLogger("linkage.species")

// Emitter turns a blueprint into a binary unit.
type Emitter interface {
	Emit(bp *emit.Blueprint) ([]byte, error)
}

// Loader defines units and finds them by name. *vm.Registry implements it.
type Loader interface {
	Define(name string, blob []byte, classData ...vm.Value) (*vm.Unit, error)
	LookupByName(name string) (*vm.Unit, bool)
}

// Archive is an optional pre-population overlay keyed by composite unit
// key. It never affects correctness: misses and failures fall through to
// synthesis.
type Archive interface {
	Find(key string) ([]byte, bool, error)
	Register(key string, blob []byte) error
}

// Config describes an engine.
type Config[K comparable] struct {
	// BaseName prefixes every generated unit name and namespaces archive
	// keys.
	BaseName string

	// Top is the unit every species extends. It must have a constructor
	// taking BaseParams.
	Top        *vm.Unit
	BaseParams []*vm.Type

	Transforms []TransformSpec
	Policy     Policy[K]

	Loader  Loader
	Emitter Emitter // default emit.Encoder
	Archive Archive // optional

	// PrewarmWorkers bounds Prewarm's parallelism; 0 means 4.
	PrewarmWorkers int
}

// Stats counts engine activity.
type Stats struct {
	Requests           uint64
	Hits               uint64
	Builds             uint64
	Salvages           uint64
	ArchiveHits        uint64
	HelperComputations uint64
}

type counters struct {
	requests, hits, builds, salvages, archiveHits, helpers atomic.Uint64
}

// Specializer is a specialization engine for shape keys of type K.
type Specializer[K comparable] struct {
	baseName   string
	top        *vm.Unit
	baseParams []*vm.Type
	transforms []TransformSpec
	policy     Policy[K]
	loader     Loader
	emitter    Emitter
	archive    Archive
	workers    int

	// layout fingerprints everything besides the field types that shapes
	// a generated unit; archive keys carry it.
	layout string

	cache Cache[K, *Record[K]]
	stats counters
}

// New validates cfg and creates an engine.
func New[K comparable](cfg Config[K]) (*Specializer[K], error) {
	if cfg.BaseName == "" || cfg.Top == nil || cfg.Policy == nil || cfg.Loader == nil {
		return nil, fmt.Errorf("%w: BaseName, Top, Policy and Loader are required", ErrConfig)
	}
	ctorType := vm.MethodTypeOf(vm.Void, cfg.BaseParams...)
	if _, ok := cfg.Top.DeclaredMethod("<init>", ctorType); !ok {
		return nil, fmt.Errorf("%w: %s has no constructor %s", ErrConfig, cfg.Top.Name(), ctorType.Descriptor())
	}
	seen := make(map[string]bool, len(cfg.Transforms))
	for _, t := range cfg.Transforms {
		key := t.Name + t.Type.Descriptor()
		if t.Name == "" || seen[key] {
			return nil, fmt.Errorf("%w: transform %q is unnamed or duplicated", ErrConfig, key)
		}
		seen[key] = true
	}
	s := &Specializer[K]{
		baseName:   cfg.BaseName,
		top:        cfg.Top,
		baseParams: append([]*vm.Type(nil), cfg.BaseParams...),
		transforms: append([]TransformSpec(nil), cfg.Transforms...),
		policy:     cfg.Policy,
		loader:     cfg.Loader,
		emitter:    cfg.Emitter,
		archive:    cfg.Archive,
		workers:    cfg.PrewarmWorkers,
	}
	if s.emitter == nil {
		s.emitter = emit.Encoder{}
	}
	if s.workers <= 0 {
		s.workers = 4
	}
	s.layout = layoutFingerprint(s.top, s.baseParams, s.transforms)
	return s, nil
}

func layoutFingerprint(top *vm.Unit, baseParams []*vm.Type, transforms []TransformSpec) string {
	var sb strings.Builder
	sb.WriteString(top.Name())
	sb.WriteString("(" + descriptor(baseParams) + ")")
	for _, t := range transforms {
		fmt.Fprintf(&sb, ";%s%s#%d", t.Name, t.Type.Descriptor(), t.Flags)
	}
	return fmt.Sprintf("%016x", xxh3.HashString(sb.String()))
}

func (s *Specializer[K]) BaseName() string                { return s.baseName }
func (s *Specializer[K]) Top() *vm.Unit                   { return s.top }
func (s *Specializer[K]) Transforms() []TransformSpec     { return append([]TransformSpec(nil), s.transforms...) }
func (s *Specializer[K]) Cached(key K) (*Record[K], bool) { return s.cache.Get(key) }

// Len returns the number of resolved species.
func (s *Specializer[K]) Len() int { return s.cache.Len() }

// Stats returns a snapshot of the engine's counters.
func (s *Specializer[K]) Stats() Stats {
	return Stats{
		Requests:           s.stats.requests.Load(),
		Hits:               s.stats.hits.Load(),
		Builds:             s.stats.builds.Load(),
		Salvages:           s.stats.salvages.Load(),
		ArchiveHits:        s.stats.archiveHits.Load(),
		HelperComputations: s.stats.helpers.Load(),
	}
}

// FindOrCreate returns the resolved record for key, generating and linking
// its unit on first request.
func (s *Specializer[K]) FindOrCreate(key K) (*Record[K], error) {
	s.stats.requests.Add(1)
	if r, ok := s.cache.Get(key); ok {
		s.stats.hits.Add(1)
		return r, nil
	}
	return s.cache.FindOrCreate(key, s.create)
}

// Request resolves key and returns its factory and field getters.
func (s *Specializer[K]) Request(key K) (*vm.Handle, []*vm.Handle, error) {
	r, err := s.FindOrCreate(key)
	if err != nil {
		return nil, nil, err
	}
	return r.Factory(), r.Getters(), nil
}

// Prewarm resolves keys in parallel. It stops at the first error or when
// ctx is done.
func (s *Specializer[K]) Prewarm(ctx context.Context, keys []K) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, key := range keys {
		key := key
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			_, err := s.FindOrCreate(key)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	log.Infof("%s: prewarmed %d species", s.baseName, len(keys))
	return nil
}

func (s *Specializer[K]) create(key K) (*Record[K], error) {
	fieldTypes, err := s.policy.FieldTypes(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v: %w", ErrBadKey, key, err)
	}
	for i, t := range fieldTypes {
		if t == nil || t == vm.Void {
			return nil, fmt.Errorf("%w: %v: field %d has no storable type", ErrBadKey, key, i)
		}
	}
	return s.resolve(newRecord(s, key, append([]*vm.Type(nil), fieldTypes...)))
}

// helperType is the exact call type of transform which's helper.
func (s *Specializer[K]) helperType(fieldTypes []*vm.Type, which int) (*vm.MethodType, error) {
	if which < 0 || which >= len(s.transforms) {
		return nil, fmt.Errorf("%w: %d of %d", ErrBadTransform, which, len(s.transforms))
	}
	spec := s.transforms[which]
	params, err := operandTypes(spec, fieldTypes, s.policy.TransformOperands(fieldTypes, which))
	if err != nil {
		return nil, err
	}
	return vm.MethodTypeOf(spec.Type.Return(), params...), nil
}

func (s *Specializer[K]) computeHelper(r *Record[K], which int) (*vm.Handle, error) {
	want, err := s.helperType(r.fieldTypes, which)
	if err != nil {
		return nil, err
	}
	h, err := s.policy.TransformHelper(r, which)
	if err != nil {
		return nil, fmt.Errorf("%s transform %s: %w", r, s.transforms[which].Name, err)
	}
	if h == nil {
		return nil, fmt.Errorf("%w: policy returned no helper for %s", ErrBadTransform, s.transforms[which].Name)
	}
	s.stats.helpers.Add(1)
	if !h.Type().Equal(want) {
		if h, err = h.AsType(want); err != nil {
			return nil, fmt.Errorf("%w: helper for %s: %w", ErrBadTransform, s.transforms[which].Name, err)
		}
	}
	log.Debugf("%s: computed helper %d (%s)", r, which, want)
	return h, nil
}
