// ABOUTME: Tests for edge enumeration and reference classification
// ABOUTME: Covers every class shape, reference strength and the slow path

package scan

import (
	"errors"
	"math/rand"
	"reflect"
	"sync"
	"testing"

	"github.com/prateek/heapscan/heap"
	"github.com/prateek/heapscan/object"
	"github.com/prateek/heapscan/opaque"
)

type candidate struct {
	t   object.ReferenceType
	ref heap.ObjectReference
}

type recordingRegistry struct {
	mu   sync.Mutex
	seen []candidate
}

func (r *recordingRegistry) AddCandidate(t object.ReferenceType, ref heap.ObjectReference) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, candidate{t, ref})
}

func (r *recordingRegistry) count(t object.ReferenceType, ref heap.ObjectReference) int {
	n := 0
	for _, c := range r.seen {
		if c.t == t && c.ref == ref {
			n++
		}
	}
	return n
}

type env struct {
	model object.Model
	refs  *recordingRegistry
}

func newEnv(t *testing.T) *env {
	t.Helper()
	space, err := heap.NewSpace(0x200000, 1<<18)
	if err != nil {
		t.Fatalf("NewSpace failed: %v", err)
	}
	e := &env{
		model: object.Model{Space: space, Classes: object.NewClassTable()},
		refs:  &recordingRegistry{},
	}

	classes := []*object.Class{
		object.NewClass("Pair", object.Instance{Size: 40, Maps: []object.OopMapBlock{{Offset: 8, Count: 1}, {Offset: 24, Count: 2}}}),
		object.NewClass("Sparse", object.Instance{Size: 48, Maps: []object.OopMapBlock{{Offset: 24, Count: 1}, {Offset: 40, Count: 1}}}),
		object.NewClass("Loader", object.ClassLoaderInstance{Instance: object.Instance{Size: 32, Maps: []object.OopMapBlock{{Offset: 16, Count: 2}}}}),
		object.NewClass("Class", object.MirrorInstance{
			Instance:           object.Instance{Size: 32, Maps: []object.OopMapBlock{{Offset: 16, Count: 1}}},
			StaticFieldsOffset: 32,
			StaticCountOffset:  24,
		}),
		object.NewClass("Object[]", object.ObjArray{}),
		object.NewClass("long[]", object.TypeArray{Elem: object.TLong}),
	}
	for rt := object.RefOther; rt <= object.RefPhantom; rt++ {
		classes = append(classes, object.NewClass(rt.String()+"Reference", object.RefInstance{
			Instance:         object.Instance{Size: 48, Maps: []object.OopMapBlock{{Offset: 24, Count: 2}}},
			Type:             rt,
			ReferentOffset:   16,
			DiscoveredOffset: 40,
		}))
	}
	for _, c := range classes {
		if _, err := e.model.Classes.Register(c); err != nil {
			t.Fatalf("Register %q failed: %v", c.Name, err)
		}
	}
	return e
}

func (e *env) scanner(track bool) *Scanner {
	return New(Config{Model: e.model, Candidates: e.refs, TrackReferences: track})
}

func (e *env) alloc(t *testing.T, class string, n uint32) heap.ObjectReference {
	t.Helper()
	obj, err := e.model.NewNamed(class, n)
	if err != nil {
		t.Fatalf("NewNamed %q failed: %v", class, err)
	}
	return obj
}

func edgesOf(s *Scanner, obj heap.ObjectReference) []heap.Address {
	var c EdgeCollector
	s.EnumerateEdges(obj, &c)
	return c.Edges
}

func offsets(obj heap.ObjectReference, offs ...uintptr) []heap.Address {
	out := make([]heap.Address, len(offs))
	for i, off := range offs {
		out[i] = obj.Field(off)
	}
	return out
}

func TestPlainInstanceFieldMap(t *testing.T) {
	e := newEnv(t)
	s := e.scanner(true)

	// Field map [(8,1), (24,2)] yields base+8, base+24, base+32 in order
	obj := e.alloc(t, "Pair", 0)
	if got, want := edgesOf(s, obj), offsets(obj, 8, 24, 32); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected edges %v, got %v", want, got)
	}

	// Gaps in the map are skipped
	sparse := e.alloc(t, "Sparse", 0)
	if got, want := edgesOf(s, sparse), offsets(sparse, 24, 40); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected edges %v, got %v", want, got)
	}
}

func TestFieldMapOverHeaderRejected(t *testing.T) {
	e := newEnv(t)
	c := object.NewClass("Bad", object.Instance{Size: 40, Maps: []object.OopMapBlock{{Offset: 0, Count: 2}}})
	if _, err := e.model.Classes.Register(c); !errors.Is(err, object.ErrInvalidClass) {
		t.Errorf("Expected ErrInvalidClass for map over the header, got %v", err)
	}
}

func TestClassLoaderScansLikeInstance(t *testing.T) {
	e := newEnv(t)
	s := e.scanner(true)
	obj := e.alloc(t, "Loader", 0)

	if k := s.Classify(obj); k != object.KindInstanceClassLoader {
		t.Errorf("Expected InstanceClassLoader, got %s", k)
	}
	if got, want := edgesOf(s, obj), offsets(obj, 16, 24); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected edges %v, got %v", want, got)
	}
}

func TestMirrorStaticsArePerObject(t *testing.T) {
	e := newEnv(t)
	s := e.scanner(true)

	small := e.alloc(t, "Class", 1)
	large := e.alloc(t, "Class", 4)

	if got, want := edgesOf(s, small), offsets(small, 16, 32); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected edges %v, got %v", want, got)
	}
	if got, want := edgesOf(s, large), offsets(large, 16, 32, 40, 48, 56); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected edges %v, got %v", want, got)
	}

	none := e.alloc(t, "Class", 0)
	if got, want := edgesOf(s, none), offsets(none, 16); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected edges %v, got %v", want, got)
	}
}

func TestObjectArrayEdges(t *testing.T) {
	e := newEnv(t)
	s := e.scanner(true)

	for _, n := range []uint32{0, 1, 7, 100} {
		arr := e.alloc(t, "Object[]", n)
		got := edgesOf(s, arr)
		if len(got) != int(n) {
			t.Fatalf("length %d: expected %d edges, got %d", n, n, len(got))
		}
		for i, edge := range got {
			if want := arr.Field(object.ArrayBaseOffset + uintptr(i)*8); edge != want {
				t.Errorf("length %d: edge %d = %s, want %s", n, i, edge, want)
			}
			if i > 0 && edge <= got[i-1] {
				t.Errorf("length %d: edges not ascending at %d", n, i)
			}
		}
	}
}

func TestPrimitiveArrayHasNoEdges(t *testing.T) {
	e := newEnv(t)
	s := e.scanner(true)

	for _, n := range []uint32{0, 1, 64} {
		arr := e.alloc(t, "long[]", n)
		// Fill the payload with values that look like pointers
		for i := uint32(0); i < n; i++ {
			e.model.Space.StoreWord(object.ElementSlot(arr, i), uint64(arr))
		}
		if got := edgesOf(s, arr); len(got) != 0 {
			t.Errorf("length %d: expected no edges, got %v", n, got)
		}
	}
}

func TestReferenceClassification(t *testing.T) {
	tests := []struct {
		class    string
		rt       object.ReferenceType
		deferred bool
	}{
		{"weakReference", object.RefWeak, true},
		{"softReference", object.RefSoft, true},
		{"phantomReference", object.RefPhantom, true},
		{"finalReference", object.RefFinal, false},
		{"otherReference", object.RefOther, false},
	}

	for _, tt := range tests {
		t.Run(tt.class, func(t *testing.T) {
			e := newEnv(t)
			s := e.scanner(true)
			ref := e.alloc(t, tt.class, 0)

			got := edgesOf(s, ref)
			if tt.deferred {
				if want := offsets(ref, 24, 32); !reflect.DeepEqual(got, want) {
					t.Errorf("Expected only oop-map edges %v, got %v", want, got)
				}
				if n := e.refs.count(tt.rt, ref); n != 1 {
					t.Errorf("Expected reference once in %s registry, got %d", tt.rt, n)
				}
				if len(e.refs.seen) != 1 {
					t.Errorf("Expected exactly one registration, got %v", e.refs.seen)
				}
			} else {
				if want := offsets(ref, 24, 32, 16, 40); !reflect.DeepEqual(got, want) {
					t.Errorf("Expected referent and discovered as edges %v, got %v", want, got)
				}
				if len(e.refs.seen) != 0 {
					t.Errorf("Expected no registrations, got %v", e.refs.seen)
				}
			}
		})
	}
}

func TestReferenceTrackingDisabled(t *testing.T) {
	e := newEnv(t)
	s := New(Config{Model: e.model, TrackReferences: false})

	for _, class := range []string{"weakReference", "softReference", "phantomReference"} {
		ref := e.alloc(t, class, 0)
		if got, want := edgesOf(s, ref), offsets(ref, 24, 32, 16, 40); !reflect.DeepEqual(got, want) {
			t.Errorf("%s: expected strong scan %v, got %v", class, want, got)
		}
	}
	if len(e.refs.seen) != 0 {
		t.Errorf("Expected no registrations with tracking disabled, got %v", e.refs.seen)
	}
}

func TestReferenceTypeNoneAborts(t *testing.T) {
	e := newEnv(t)
	s := e.scanner(true)
	ref := e.alloc(t, "weakReference", 0)

	_, c, _ := e.model.Classes.ByName("weakReference")
	sh := c.Shape.(object.RefInstance)
	sh.Type = object.RefNone
	c.Shape = sh

	le := expectLayoutError(t, func() { edgesOf(s, ref) })
	if le.Object != ref || le.Discriminant != int64(object.RefNone) {
		t.Errorf("Unexpected diagnostic %v", le)
	}
}

func TestCorruptDiscriminantAborts(t *testing.T) {
	e := newEnv(t)
	s := e.scanner(true)
	obj := e.alloc(t, "Pair", 0)

	_, c, _ := e.model.Classes.ByName("Pair")
	c.ID = 42
	le := expectLayoutError(t, func() { edgesOf(s, obj) })
	if le.Discriminant != 42 {
		t.Errorf("Expected discriminant 42 in diagnostic, got %d", le.Discriminant)
	}
}

// Property: scanning has no side effect on the object, so rescans agree
func TestPropertyRescanIdempotent(t *testing.T) {
	classes := []string{"Pair", "Sparse", "Loader", "Class", "Object[]", "long[]",
		"weakReference", "finalReference", "otherReference"}

	for i := 0; i < 50; i++ {
		rng := rand.New(rand.NewSource(int64(i)))
		e := newEnv(t)
		s := e.scanner(true)

		objs := make([]heap.ObjectReference, 20)
		for j := range objs {
			objs[j] = e.alloc(t, classes[rng.Intn(len(classes))], uint32(rng.Intn(10)))
		}
		for _, obj := range objs {
			before := make([]uint64, 8)
			for w := range before {
				before[w] = e.model.Space.LoadWord(obj.Field(uintptr(w) * 8))
			}

			first := edgesOf(s, obj)
			second := edgesOf(s, obj)
			if !reflect.DeepEqual(first, second) {
				t.Errorf("seed %d: rescan of %s differs: %v vs %v", i, obj, first, second)
			}

			seen := make(map[heap.Address]bool)
			for _, edge := range first {
				if seen[edge] {
					t.Errorf("seed %d: edge %s visited twice", i, edge)
				}
				seen[edge] = true
				size := e.model.SizeOf(obj)
				if edge < obj.Field(object.HeaderSize) || edge >= obj.Field(size) {
					t.Errorf("seed %d: edge %s outside object %s of size %d", i, edge, obj, size)
				}
			}

			for w := range before {
				if got := e.model.Space.LoadWord(obj.Field(uintptr(w) * 8)); got != before[w] {
					t.Errorf("seed %d: scanning modified word %d of %s", i, w, obj)
				}
			}
		}
	}
}

func TestSlowPath(t *testing.T) {
	e := newEnv(t)
	obj := e.alloc(t, "Pair", 0)

	var calls int
	slow := func(v EdgeVisitor, o heap.ObjectReference, tls opaque.WorkerThread) {
		calls++
		if tls.Thread != 7 {
			t.Errorf("Expected worker token 7, got %d", tls.Thread)
		}
		// The runtime reports fields in its own order
		v.VisitEdge(o.Field(32))
		v.VisitEdge(o.Field(8))
		v.VisitEdge(o.Field(24))
	}

	s := New(Config{Model: e.model, SlowScan: slow, ForceSlowPath: true})
	var c EdgeCollector
	s.ScanObject(opaque.WorkerThread{Thread: 7}, obj, &c)
	if calls != 1 {
		t.Errorf("Expected one runtime call, got %d", calls)
	}

	fast := edgesOf(e.scanner(false), obj)
	if !sameSet(fast, c.Edges) {
		t.Errorf("Slow path edges %v differ from fast path %v", c.Edges, fast)
	}

	var d EdgeCollector
	e.scanner(false).ScanObject(opaque.WorkerThread{}, obj, &d)
	if !reflect.DeepEqual(d.Edges, fast) {
		t.Errorf("Expected ScanObject to use the fast path by default")
	}
}

func sameSet(a, b []heap.Address) bool {
	if len(a) != len(b) {
		return false
	}
	m := make(map[heap.Address]int)
	for _, x := range a {
		m[x]++
	}
	for _, x := range b {
		m[x]--
	}
	for _, n := range m {
		if n != 0 {
			return false
		}
	}
	return true
}

func expectLayoutError(t *testing.T, fn func()) *object.LayoutError {
	t.Helper()
	var got *object.LayoutError
	func() {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			err, ok := r.(error)
			if !ok || !errors.As(err, &got) {
				t.Fatalf("Expected LayoutError panic, got %v", r)
			}
		}()
		fn()
	}()
	if got == nil {
		t.Fatal("Expected a LayoutError panic, got none")
	}
	return got
}
