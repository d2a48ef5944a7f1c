// ABOUTME: Candidate registries for soft, weak and phantom references plus the finalizer queue
// ABOUTME: Processing steps clear dead referents and resurrect dead finalizable objects

package refproc

import (
	"sync"

	"github.com/prateek/heapscan/heap"
	"github.com/prateek/heapscan/object"
)

// Tracer is the collector's view of reachability during reference processing
type Tracer interface {
	// IsLive reports whether obj has been reached in the current trace
	IsLive(obj heap.ObjectReference) bool
	// Retain makes obj and everything reachable from it live
	Retain(obj heap.ObjectReference)
}

type registry struct {
	refs []heap.ObjectReference
	seen map[heap.ObjectReference]struct{}
}

func (r *registry) add(ref heap.ObjectReference) {
	if _, dup := r.seen[ref]; dup {
		return
	}
	if r.seen == nil {
		r.seen = make(map[heap.ObjectReference]struct{})
	}
	r.seen[ref] = struct{}{}
	r.refs = append(r.refs, ref)
}

func (r *registry) reset() {
	r.refs = nil
	r.seen = nil
}

// Processor holds the per-cycle reference candidates and the finalizer state.
// Scanners append candidates concurrently; processing runs after tracing.
type Processor struct {
	glue Glue

	mu          sync.Mutex
	soft        registry
	weak        registry
	phantom     registry
	finalizable []heap.ObjectReference
	ready       []heap.ObjectReference
	cycles      int
}

// NewProcessor creates a processor reading referents through glue
func NewProcessor(glue Glue) *Processor {
	return &Processor{glue: glue}
}

// Glue returns the referent accessor
func (p *Processor) Glue() Glue { return p.glue }

func (p *Processor) registry(t object.ReferenceType) *registry {
	switch t {
	case object.RefSoft:
		return &p.soft
	case object.RefWeak:
		return &p.weak
	case object.RefPhantom:
		return &p.phantom
	}
	return nil
}

// AddCandidate records ref in the registry for t. A reference added twice in
// one cycle is recorded once.
func (p *Processor) AddCandidate(t object.ReferenceType, ref heap.ObjectReference) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r := p.registry(t)
	if r == nil {
		object.Throw(ref, int64(t), "reference type %s has no candidate registry", t)
	}
	r.add(ref)
}

// Candidates returns a copy of the registry for t
func (p *Processor) Candidates(t object.ReferenceType) []heap.ObjectReference {
	p.mu.Lock()
	defer p.mu.Unlock()
	r := p.registry(t)
	if r == nil {
		return nil
	}
	return append([]heap.ObjectReference(nil), r.refs...)
}

// BeginCycle starts a collection cycle. Candidates added since the last
// cycle ended are kept and processed with the ones this cycle discovers.
func (p *Processor) BeginCycle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cycles++
}

// EndCycle drains the candidate registries
func (p *Processor) EndCycle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.soft.reset()
	p.weak.reset()
	p.phantom.reset()
}

// Cycles returns the number of cycles begun
func (p *Processor) Cycles() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cycles
}

// AddFinalizer registers obj to be finalized once it becomes unreachable
func (p *Processor) AddFinalizer(obj heap.ObjectReference) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finalizable = append(p.finalizable, obj)
}

// GetFinalizedObject pops the next object ready for finalization
func (p *Processor) GetFinalizedObject() (heap.ObjectReference, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.ready) == 0 {
		return heap.Null, false
	}
	obj := p.ready[0]
	p.ready[0] = heap.Null
	p.ready = p.ready[1:]
	return obj, true
}

// ReadyForFinalization returns the objects awaiting GetFinalizedObject. They
// stay reachable until popped, so collectors treat them as roots.
func (p *Processor) ReadyForFinalization() []heap.ObjectReference {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]heap.ObjectReference(nil), p.ready...)
}

// PendingFinalizers returns the number of registered objects not yet finalized
func (p *Processor) PendingFinalizers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.finalizable)
}

// RetainSoft keeps the referents of live soft references alive. It returns
// the number of referents retained.
func (p *Processor) RetainSoft(t Tracer) int {
	retained := 0
	for _, ref := range p.Candidates(object.RefSoft) {
		if !t.IsLive(ref) {
			continue
		}
		if referent := p.glue.GetReferent(ref); !referent.IsNull() {
			t.Retain(referent)
			retained++
		}
	}
	return retained
}

// ScanSoft clears soft references whose referents died. It returns the
// number of references cleared.
func (p *Processor) ScanSoft(t Tracer) int {
	return p.scan(t, object.RefSoft)
}

// ScanWeak clears weak references whose referents died
func (p *Processor) ScanWeak(t Tracer) int {
	return p.scan(t, object.RefWeak)
}

// ScanPhantom clears phantom references whose referents died
func (p *Processor) ScanPhantom(t Tracer) int {
	return p.scan(t, object.RefPhantom)
}

func (p *Processor) scan(t Tracer, rt object.ReferenceType) int {
	cleared := 0
	for _, ref := range p.Candidates(rt) {
		// A dead reference object is reclaimed with its referent slot
		if !t.IsLive(ref) {
			continue
		}
		referent := p.glue.GetReferent(ref)
		if referent.IsNull() || t.IsLive(referent) {
			continue
		}
		p.glue.ClearReferent(ref)
		cleared++
	}
	return cleared
}

// ScanFinalizable resurrects every unreachable finalizable object and queues
// it for GetFinalizedObject. It returns the number of objects resurrected.
func (p *Processor) ScanFinalizable(t Tracer) int {
	p.mu.Lock()
	var dead, live []heap.ObjectReference
	for _, obj := range p.finalizable {
		if t.IsLive(obj) {
			live = append(live, obj)
		} else {
			dead = append(dead, obj)
		}
	}
	p.finalizable = live
	p.ready = append(p.ready, dead...)
	p.mu.Unlock()

	for _, obj := range dead {
		t.Retain(obj)
	}
	return len(dead)
}
