package species

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/chazu/linkage/archive"
	"github.com/chazu/linkage/vm"
	"github.com/chazu/linkage/vm/emit"
)

// testPolicy maps one character per field (I int, J long, S String,
// O Object) and implements describe by joining every field with '/'.
type testPolicy struct {
	fieldTypes func(string) ([]*vm.Type, error)
}

func (p *testPolicy) FieldTypes(key string) ([]*vm.Type, error) {
	if p.fieldTypes != nil {
		return p.fieldTypes(key)
	}
	return shapeTypes(key)
}

func shapeTypes(key string) ([]*vm.Type, error) {
	types := make([]*vm.Type, len(key))
	for i := 0; i < len(key); i++ {
		switch key[i] {
		case 'I':
			types[i] = vm.Int
		case 'J':
			types[i] = vm.Long
		case 'S':
			types[i] = vm.String
		case 'O':
			types[i] = vm.Object
		default:
			return nil, fmt.Errorf("bad character %q", key[i])
		}
	}
	return types, nil
}

func (p *testPolicy) TransformOperands(fieldTypes []*vm.Type, which int) []Operand {
	ops := make([]Operand, len(fieldTypes))
	for j := range fieldTypes {
		ops[j] = Field(j)
	}
	return ops
}

func (p *testPolicy) TransformHelper(r *Record[string], which int) (*vm.Handle, error) {
	return vm.NewHandle("describe", vm.MethodTypeOf(vm.String, r.FieldTypes()...), func(args []vm.Value) (vm.Value, error) {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = fmt.Sprint(a)
		}
		return strings.Join(parts, "/"), nil
	}), nil
}

var describe = TransformSpec{Name: "describe", Type: vm.MethodTypeOf(vm.String)}

type countingEmitter struct {
	n    atomic.Int32
	fail atomic.Int32 // fail this many calls first
}

func (e *countingEmitter) Emit(bp *emit.Blueprint) ([]byte, error) {
	e.n.Add(1)
	if e.fail.Add(-1) >= 0 {
		return nil, errors.New("emitter unavailable")
	}
	return emit.Encoder{}.Emit(bp)
}

func newEngine(t *testing.T, r *vm.Registry, mutate ...func(*Config[string])) *Specializer[string] {
	t.Helper()
	cfg := Config[string]{
		BaseName:   "Test",
		Top:        r.ObjectUnit(),
		Transforms: []TransformSpec{describe},
		Policy:     &testPolicy{},
		Loader:     r,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s
}

func TestNewRejectsBadConfig(t *testing.T) {
	r := vm.NewRegistry()
	tests := []struct {
		name string
		cfg  Config[string]
	}{
		{"no top", Config[string]{BaseName: "T", Policy: &testPolicy{}, Loader: r}},
		{"no base name", Config[string]{Top: r.ObjectUnit(), Policy: &testPolicy{}, Loader: r}},
		{"no constructor", Config[string]{
			BaseName: "T", Top: r.ObjectUnit(), BaseParams: []*vm.Type{vm.Int}, Policy: &testPolicy{}, Loader: r,
		}},
		{"duplicate transform", Config[string]{
			BaseName: "T", Top: r.ObjectUnit(), Transforms: []TransformSpec{describe, describe}, Policy: &testPolicy{}, Loader: r,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); !errors.Is(err, ErrConfig) {
				t.Errorf("New = %v, want ErrConfig", err)
			}
		})
	}
}

func TestRequestEndToEnd(t *testing.T) {
	r := vm.NewRegistry()
	s := newEngine(t, r)

	factory, getters, err := s.Request("IS")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if want := vm.MethodTypeOf(vm.Object, vm.Int, vm.String); !factory.Type().Equal(want) {
		t.Errorf("factory type = %s, want %s", factory.Type(), want)
	}
	if len(getters) != 2 {
		t.Fatalf("got %d getters, want 2", len(getters))
	}

	obj, err := factory.Invoke(int32(42), "x")
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}
	inst := obj.(*vm.Instance)
	if inst.Unit().Name() != "Test_ILString$" {
		t.Errorf("unit name = %q, want Test_ILString$", inst.Unit().Name())
	}
	if v, err := getters[0].Invoke(obj); err != nil || v != int32(42) {
		t.Errorf("field 0 = %v, %v; want 42", v, err)
	}
	if v, err := getters[1].Invoke(obj); err != nil || v != "x" {
		t.Errorf("field 1 = %v, %v; want x", v, err)
	}

	rec, ok := s.Cached("IS")
	if !ok || !rec.IsResolved() {
		t.Fatal("record not cached after Request")
	}
	if md, ok := inst.Unit().Metadata(); !ok || md != rec {
		t.Errorf("unit metadata = %v, want the cached record", md)
	}
	sd, err := vm.InvokeVirtual(obj, SpeciesDataMethod, vm.MethodTypeOf(vm.Object))
	if err != nil || sd != rec {
		t.Errorf("speciesData() = %v, %v; want the record", sd, err)
	}
	if len(rec.Factories()) != 2 {
		t.Errorf("got %d factories, want make and the constructor", len(rec.Factories()))
	}
}

func TestFindOrCreateIsIdempotent(t *testing.T) {
	s := newEngine(t, vm.NewRegistry())
	a, err := s.FindOrCreate("IJ")
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.FindOrCreate("IJ")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("second request returned a different record")
	}
	st := s.Stats()
	if st.Requests != 2 || st.Hits != 1 || st.Builds != 1 {
		t.Errorf("stats = %+v, want 2 requests, 1 hit, 1 build", st)
	}
}

func TestConcurrentRequestsBuildOnce(t *testing.T) {
	em := &countingEmitter{}
	s := newEngine(t, vm.NewRegistry(), func(c *Config[string]) { c.Emitter = em })

	recs := make([]*Record[string], 32)
	var wg sync.WaitGroup
	for i := range recs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := s.FindOrCreate("SOJ")
			if err != nil {
				t.Errorf("FindOrCreate failed: %v", err)
			}
			recs[i] = rec
		}(i)
	}
	wg.Wait()

	for i, rec := range recs {
		if rec != recs[0] {
			t.Errorf("caller %d got a different record", i)
		}
	}
	if n := em.n.Load(); n != 1 {
		t.Errorf("emitter ran %d times, want 1", n)
	}
	if b := s.Stats().Builds; b != 1 {
		t.Errorf("Builds = %d, want 1", b)
	}
}

func TestFailedBuildIsRetried(t *testing.T) {
	em := &countingEmitter{}
	em.fail.Store(1)
	s := newEngine(t, vm.NewRegistry(), func(c *Config[string]) { c.Emitter = em })

	if _, err := s.FindOrCreate("I"); err == nil {
		t.Fatal("first request succeeded with a failing emitter")
	}
	if _, ok := s.Cached("I"); ok {
		t.Fatal("failed build was cached")
	}
	rec, err := s.FindOrCreate("I")
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if !rec.IsResolved() {
		t.Error("retried record is not resolved")
	}
}

func TestBadKey(t *testing.T) {
	s := newEngine(t, vm.NewRegistry())
	if _, err := s.FindOrCreate("IQ"); !errors.Is(err, ErrBadKey) {
		t.Errorf("FindOrCreate(IQ) = %v, want ErrBadKey", err)
	}
}

func TestRecursiveRequestIsInternalError(t *testing.T) {
	p := &testPolicy{}
	s := newEngine(t, vm.NewRegistry(), func(c *Config[string]) { c.Policy = p })
	p.fieldTypes = func(key string) ([]*vm.Type, error) {
		if _, err := s.FindOrCreate(key); err != nil {
			return nil, err
		}
		return shapeTypes(key)
	}
	if _, err := s.FindOrCreate("I"); !errors.Is(err, ErrInternal) {
		t.Errorf("recursive request = %v, want ErrInternal", err)
	}
}

func TestSalvageFromAnotherEngine(t *testing.T) {
	r := vm.NewRegistry()
	first := newEngine(t, r)
	want, err := first.FindOrCreate("JS")
	if err != nil {
		t.Fatal(err)
	}

	second := newEngine(t, r)
	got, err := second.FindOrCreate("JS")
	if err != nil {
		t.Fatalf("second engine failed: %v", err)
	}
	if got != want {
		t.Error("second engine did not adopt the published record")
	}
	st := second.Stats()
	if st.Salvages != 1 || st.Builds != 0 {
		t.Errorf("stats = %+v, want 1 salvage and no build", st)
	}
}

func TestSalvageUnlinkedUnit(t *testing.T) {
	r := vm.NewRegistry()
	s := newEngine(t, r)

	types := []*vm.Type{vm.Int, vm.Object}
	name := s.UnitName(types)
	bp, err := s.Blueprint(name, types)
	if err != nil {
		t.Fatal(err)
	}
	blob, err := emit.Encoder{}.Emit(bp)
	if err != nil {
		t.Fatal(err)
	}
	u, err := r.Define(name, blob)
	if err != nil {
		t.Fatalf("Define failed: %v", err)
	}

	rec, err := s.FindOrCreate("IO")
	if err != nil {
		t.Fatalf("FindOrCreate failed: %v", err)
	}
	if rec.Unit() != u {
		t.Error("record is not linked to the existing unit")
	}
	if md, _ := u.Metadata(); md != rec {
		t.Error("record was not published into the existing unit")
	}
	if st := s.Stats(); st.Salvages != 1 || st.Builds != 0 {
		t.Errorf("stats = %+v, want 1 salvage and no build", st)
	}
}

func TestTransformHelperComputedOnce(t *testing.T) {
	s := newEngine(t, vm.NewRegistry())
	rec, err := s.FindOrCreate("IS")
	if err != nil {
		t.Fatal(err)
	}
	ht, err := rec.HelperType(0)
	if err != nil {
		t.Fatal(err)
	}
	if got := ht.Descriptor(); got != "(ILString;)LString;" {
		t.Errorf("helper type = %s, want (ILString;)LString;", got)
	}

	obj, err := rec.Factory().Invoke(int32(7), "seven")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		v, err := vm.InvokeVirtual(obj, describe.Name, describe.Type)
		if err != nil {
			t.Fatalf("describe failed: %v", err)
		}
		if v != "7/seven" {
			t.Errorf("describe = %v, want 7/seven", v)
		}
	}
	if n := s.Stats().HelperComputations; n != 1 {
		t.Errorf("HelperComputations = %d, want 1", n)
	}
	if _, err := rec.TransformHelper(1); !errors.Is(err, ErrBadTransform) {
		t.Errorf("TransformHelper(1) = %v, want ErrBadTransform", err)
	}
}

func TestArchiveAcrossRegistries(t *testing.T) {
	arch := archive.NewMemory()
	withArchive := func(c *Config[string]) { c.Archive = arch }

	first := newEngine(t, vm.NewRegistry(), withArchive)
	if _, err := first.FindOrCreate("IJS"); err != nil {
		t.Fatal(err)
	}
	if arch.Len() != 1 {
		t.Fatalf("archive holds %d units, want 1", arch.Len())
	}

	second := newEngine(t, vm.NewRegistry(), withArchive)
	rec, err := second.FindOrCreate("IJS")
	if err != nil {
		t.Fatalf("archived request failed: %v", err)
	}
	st := second.Stats()
	if st.ArchiveHits != 1 || st.Builds != 0 {
		t.Errorf("stats = %+v, want 1 archive hit and no build", st)
	}
	obj, err := rec.Factory().Invoke(int32(1), int64(2), "three")
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := rec.Getter(2).Invoke(obj); v != "three" {
		t.Errorf("field 2 = %v, want three", v)
	}
}

func TestCorruptArchiveEntryFallsBack(t *testing.T) {
	arch := archive.NewMemory()
	r := vm.NewRegistry()
	s := newEngine(t, r, func(c *Config[string]) { c.Archive = arch })
	if err := arch.Register(s.archiveKey(s.UnitName([]*vm.Type{vm.Int})), []byte("garbage")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.FindOrCreate("I"); err != nil {
		t.Fatalf("FindOrCreate failed: %v", err)
	}
	if st := s.Stats(); st.ArchiveHits != 0 || st.Builds != 1 {
		t.Errorf("stats = %+v, want a synthesized build", st)
	}
}

func TestArchiveKeyedByLayout(t *testing.T) {
	arch := archive.NewMemory()
	plain := newEngine(t, vm.NewRegistry(), func(c *Config[string]) {
		c.Archive = arch
		c.Transforms = nil
	})
	if _, err := plain.FindOrCreate("I"); err != nil {
		t.Fatal(err)
	}

	s := newEngine(t, vm.NewRegistry(), func(c *Config[string]) { c.Archive = arch })
	rec, err := s.FindOrCreate("I")
	if err != nil {
		t.Fatalf("FindOrCreate failed: %v", err)
	}
	if st := s.Stats(); st.ArchiveHits != 0 || st.Builds != 1 {
		t.Errorf("stats = %+v, want the unit synthesized rather than taken from another layout", st)
	}
	obj, err := rec.Factory().Invoke(int32(4))
	if err != nil {
		t.Fatal(err)
	}
	if v, err := vm.InvokeVirtual(obj, describe.Name, describe.Type); err != nil || v != "4" {
		t.Errorf("describe = %v, %v; want 4", v, err)
	}
	if arch.Len() != 2 {
		t.Errorf("archive holds %d units, want one per layout", arch.Len())
	}

	again := newEngine(t, vm.NewRegistry(), func(c *Config[string]) { c.Archive = arch })
	if _, err := again.FindOrCreate("I"); err != nil {
		t.Fatal(err)
	}
	if st := again.Stats(); st.ArchiveHits != 1 || st.Builds != 0 {
		t.Errorf("same layout stats = %+v, want 1 archive hit", st)
	}
}

func TestPrewarm(t *testing.T) {
	s := newEngine(t, vm.NewRegistry(), func(c *Config[string]) { c.PrewarmWorkers = 2 })
	keys := []string{"I", "J", "IS", "O", "OO"}
	if err := s.Prewarm(context.Background(), keys); err != nil {
		t.Fatalf("Prewarm failed: %v", err)
	}
	if s.Len() != len(keys) {
		t.Errorf("Len = %d, want %d", s.Len(), len(keys))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Prewarm(ctx, []string{"JJ"}); !errors.Is(err, context.Canceled) {
		t.Errorf("Prewarm with a canceled context = %v, want context.Canceled", err)
	}
	if err := s.Prewarm(context.Background(), []string{"X"}); !errors.Is(err, ErrBadKey) {
		t.Errorf("Prewarm with a bad key = %v, want ErrBadKey", err)
	}
}
