// ABOUTME: Edge enumerator walking each class shape and reporting reference slots
// ABOUTME: Also provides the slow path that delegates object scanning to the runtime

package scan

import (
	"github.com/prateek/heapscan/heap"
	"github.com/prateek/heapscan/object"
	"github.com/prateek/heapscan/opaque"
)

// SlowScan asks the runtime to report the reference slots of obj to v
type SlowScan func(v EdgeVisitor, obj heap.ObjectReference, tls opaque.WorkerThread)

// Config wires a Scanner to its collaborators. It is read once by New.
type Config struct {
	Model      object.Model
	Candidates CandidateRegistry
	// TrackReferences routes Weak, Soft and Phantom references to Candidates.
	// When false every reference-holding instance is scanned as strong.
	TrackReferences bool
	// SlowScan is the runtime's out-of-line object scanner, if any
	SlowScan SlowScan
	// ForceSlowPath makes ScanObject always use SlowScan
	ForceSlowPath bool
}

// Scanner enumerates the outgoing edges of objects. It holds no mutable state
// and may be used from many workers at once.
type Scanner struct {
	model      object.Model
	candidates CandidateRegistry
	trackRefs  bool
	slow       SlowScan
	forceSlow  bool
}

// New creates a Scanner. Reference tracking needs a candidate registry.
func New(cfg Config) *Scanner {
	if cfg.TrackReferences && cfg.Candidates == nil {
		panic("scan: reference tracking enabled without a candidate registry")
	}
	if cfg.ForceSlowPath && cfg.SlowScan == nil {
		panic("scan: slow path forced without a runtime scanner")
	}
	return &Scanner{
		model:      cfg.Model,
		candidates: cfg.Candidates,
		trackRefs:  cfg.TrackReferences,
		slow:       cfg.SlowScan,
		forceSlow:  cfg.ForceSlowPath,
	}
}

// Model returns the object model the scanner reads
func (s *Scanner) Model() object.Model { return s.model }

// TracksReferences reports whether weak-style references are deferred
func (s *Scanner) TracksReferences() bool { return s.trackRefs }

// Classify returns the class-shape kind of obj
func (s *Scanner) Classify(obj heap.ObjectReference) object.Kind {
	return s.model.Classify(obj)
}

// ScanObject reports every edge of obj to v, on the fast path unless the
// scanner was configured to defer to the runtime
func (s *Scanner) ScanObject(tls opaque.WorkerThread, obj heap.ObjectReference, v EdgeVisitor) {
	if s.forceSlow {
		s.EnumerateEdgesSlow(obj, v, tls)
		return
	}
	s.EnumerateEdges(obj, v)
}

// EnumerateEdges reports every reference slot of obj to v exactly once, in
// ascending address order within each region
func (s *Scanner) EnumerateEdges(obj heap.ObjectReference, v EdgeVisitor) {
	_, shape := s.model.Decode(obj)
	switch sh := shape.(type) {
	case object.Instance:
		iterateInstance(obj, sh, v)
	case object.ClassLoaderInstance:
		iterateInstance(obj, sh.Instance, v)
	case object.MirrorInstance:
		iterateInstance(obj, sh.Instance, v)
		s.iterateStatics(obj, sh, v)
	case object.ObjArray:
		s.iterateObjArray(obj, v)
	case object.TypeArray:
	case object.RefInstance:
		iterateInstance(obj, sh.Instance, v)
		s.classifyAndRoute(obj, sh, v)
	default:
		object.Throw(obj, int64(shape.Kind()), "no scanner for shape %T", shape)
	}
}

// EnumerateEdgesSlow has the runtime report obj's edges, trading a call into
// the runtime for independence from the descriptor layout
func (s *Scanner) EnumerateEdgesSlow(obj heap.ObjectReference, v EdgeVisitor, tls opaque.WorkerThread) {
	if s.slow == nil {
		panic("scan: no runtime object scanner configured")
	}
	s.slow(v, obj, tls)
}

func iterateMap(obj heap.ObjectReference, m object.OopMapBlock, v EdgeVisitor) {
	start := obj.Field(m.Offset)
	for i := uint32(0); i < m.Count; i++ {
		v.VisitEdge(start.Add(uintptr(i) << heap.LogBytesInAddress))
	}
}

func iterateInstance(obj heap.ObjectReference, in object.Instance, v EdgeVisitor) {
	for _, m := range in.Maps {
		iterateMap(obj, m, v)
	}
}

func (s *Scanner) iterateStatics(obj heap.ObjectReference, sh object.MirrorInstance, v EdgeVisitor) {
	n := s.model.StaticFieldCount(obj, sh)
	for i := uint32(0); i < n; i++ {
		v.VisitEdge(object.StaticSlot(obj, sh, i))
	}
}

func (s *Scanner) iterateObjArray(obj heap.ObjectReference, v EdgeVisitor) {
	n := s.model.ArrayLength(obj)
	for i := uint32(0); i < n; i++ {
		v.VisitEdge(object.ElementSlot(obj, i))
	}
}
