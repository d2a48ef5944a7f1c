// ABOUTME: Scanning entry points the collector calls: objects, thread roots and runtime roots
// ABOUTME: Root enumeration goes through the runtime's upcalls with an EdgesClosure

package binding

import (
	"github.com/prateek/heapscan/heap"
	"github.com/prateek/heapscan/opaque"
	"github.com/prateek/heapscan/scan"
	"github.com/prateek/heapscan/work"
)

// ScanObject reports every edge of obj to v
func (b *Binding) ScanObject(tls opaque.WorkerThread, obj heap.ObjectReference, v scan.EdgeVisitor) {
	b.scanner.ScanObject(tls, obj, v)
}

func (b *Binding) closure(factory work.RootsWorkFactory) work.EdgesClosure {
	return work.NewEdgesClosure(factory, b.opts.PacketCapacity)
}

// ScanThreadRoots asks the runtime for the roots of every thread
func (b *Binding) ScanThreadRoots(tls opaque.WorkerThread, factory work.RootsWorkFactory) {
	b.upcalls.ScanAllThreadRoots(b.closure(factory))
}

// ScanThreadRoot asks the runtime for the roots of the thread bound to m
func (b *Binding) ScanThreadRoot(tls opaque.WorkerThread, m *Mutator, factory work.RootsWorkFactory) {
	b.upcalls.ScanThreadRoots(b.closure(factory), m.TLS)
}

// ScanVMSpecificRoots queues one Prepare packet per runtime root set. Each
// packet runs the root upcall on the worker that picks it up.
func (b *Binding) ScanVMSpecificRoots(tls opaque.WorkerThread, factory work.RootsWorkFactory) {
	b.queue.Add(work.Prepare, work.PacketFunc(func(w *work.Worker) {
		b.upcalls.ComputeStaticRoots(b.closure(factory), w.TLS)
	}))
	b.queue.Add(work.Prepare, work.PacketFunc(func(w *work.Worker) {
		b.upcalls.ComputeGlobalRoots(b.closure(factory), w.TLS)
	}))
}

// NotifyInitialThreadScanComplete is called after the first thread root scan
func (b *Binding) NotifyInitialThreadScanComplete(partialScan bool, tls opaque.WorkerThread) {}

// SupportsReturnBarrier is not provided by this binding
func (b *Binding) SupportsReturnBarrier() bool {
	unimplemented("SupportsReturnBarrier")
	return false
}

// PrepareForRootsReScanning tells the runtime roots are about to be scanned again
func (b *Binding) PrepareForRootsReScanning() {
	if b.upcalls.PrepareForRootsReScanning != nil {
		b.upcalls.PrepareForRootsReScanning()
	}
}

// DumpObject describes obj through the runtime, or the object model when the
// runtime has no dumper
func (b *Binding) DumpObject(obj heap.ObjectReference) string {
	if b.upcalls.DumpObject != nil {
		return b.upcalls.DumpObject(obj)
	}
	c := b.model.ClassOf(obj)
	return c.Name + "@" + obj.String()
}

// ObjectSize returns the runtime's size of obj in bytes
func (b *Binding) ObjectSize(obj heap.ObjectReference) uintptr {
	return b.upcalls.GetObjectSize(obj)
}
