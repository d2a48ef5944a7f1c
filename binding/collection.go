// ABOUTME: Collection handshakes with the runtime plus the reference and finalizer API
// ABOUTME: Also answers heap-bounds and liveness queries for the runtime

package binding

import (
	"github.com/prateek/heapscan/heap"
	"github.com/prateek/heapscan/object"
	"github.com/prateek/heapscan/opaque"
)

// StopAllMutators asks the runtime to bring every mutator to a safepoint
func (b *Binding) StopAllMutators(tls opaque.WorkerThread) {
	if b.upcalls.StopAllMutators != nil {
		b.upcalls.StopAllMutators(tls)
	}
}

// ResumeMutators releases the mutators stopped by StopAllMutators
func (b *Binding) ResumeMutators(tls opaque.WorkerThread) {
	if b.upcalls.ResumeMutators != nil {
		b.upcalls.ResumeMutators(tls)
	}
}

// BlockForGC parks the calling mutator until the collection finishes
func (b *Binding) BlockForGC(tls opaque.MutatorThread) {
	if b.upcalls.BlockForGC != nil {
		b.upcalls.BlockForGC()
	}
}

// PrepareMutator is not provided by this binding
func (b *Binding) PrepareMutator(worker opaque.WorkerThread, mutator opaque.MutatorThread, m *Mutator) {
	unimplemented("PrepareMutator")
}

// AddWeakCandidate registers a weak reference for the current or next cycle
func (b *Binding) AddWeakCandidate(ref heap.ObjectReference) {
	b.refs.AddCandidate(object.RefWeak, ref)
}

// AddSoftCandidate registers a soft reference for the current or next cycle
func (b *Binding) AddSoftCandidate(ref heap.ObjectReference) {
	b.refs.AddCandidate(object.RefSoft, ref)
}

// AddPhantomCandidate registers a phantom reference for the current or next cycle
func (b *Binding) AddPhantomCandidate(ref heap.ObjectReference) {
	b.refs.AddCandidate(object.RefPhantom, ref)
}

// AddFinalizer registers obj for finalization
func (b *Binding) AddFinalizer(obj heap.ObjectReference) {
	b.refs.AddFinalizer(obj)
}

// GetFinalizedObject pops an object whose finalizer should run
func (b *Binding) GetFinalizedObject() (heap.ObjectReference, bool) {
	return b.refs.GetFinalizedObject()
}

// StartingHeapAddress returns the lowest heap address
func (b *Binding) StartingHeapAddress() heap.Address { return b.model.Space.Start() }

// LastHeapAddress returns the address one past the heap
func (b *Binding) LastHeapAddress() heap.Address { return b.model.Space.End() }

// TotalBytes returns the heap capacity
func (b *Binding) TotalBytes() uintptr { return b.model.Space.Size() }

// UsedBytes returns the bytes allocated so far
func (b *Binding) UsedBytes() uintptr { return b.model.Space.Used() }

// FreeBytes returns the bytes still available for allocation
func (b *Binding) FreeBytes() uintptr { return b.TotalBytes() - b.UsedBytes() }

// IsInHeap reports whether addr lies in the binding's heap
func (b *Binding) IsInHeap(addr heap.Address) bool { return b.model.Space.Contains(addr) }

// IsLiveObject reports whether obj was marked by the last trace
func (b *Binding) IsLiveObject(obj heap.ObjectReference) bool {
	return b.meta.IsMarked(obj)
}
