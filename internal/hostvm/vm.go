// ABOUTME: Host runtime stand-in serving the binding's upcalls over a loaded heap image
// ABOUTME: One mutator per image thread; root sets are handed over through edge closures

// Package hostvm plays the runtime side of the binding for tools and tests.
// It owns no collector logic: it only reports roots, object slots and sizes
// from a heap image and counts the handshakes it receives.
package hostvm

import (
	"fmt"
	"sync/atomic"

	"github.com/prateek/heapscan/binding"
	"github.com/prateek/heapscan/heap"
	"github.com/prateek/heapscan/heapdump"
	"github.com/prateek/heapscan/object"
	"github.com/prateek/heapscan/opaque"
	"github.com/prateek/heapscan/scan"
	"github.com/prateek/heapscan/work"
)

// Stats counts the handshakes the collector made with the runtime
type Stats struct {
	Stops     int64
	Resumes   int64
	Blocks    int64
	Rescans   int64
	RootScans int64
}

// VM is a runtime whose heap is a loaded image
type VM struct {
	img      *heapdump.Image
	model    object.Model
	mutators []*binding.Mutator
	// cursor is only touched through the binding, which serialises it
	cursor int

	stops, resumes, blocks, rescans, rootScans atomic.Int64
}

// New creates a runtime over img with one mutator per image thread. Thread
// tokens start at 1; 0 is never a mutator.
func New(img *heapdump.Image) *VM {
	vm := &VM{img: img, model: img.Model()}
	for i := range img.Threads {
		vm.mutators = append(vm.mutators, &binding.Mutator{
			TLS: opaque.MutatorThread{Thread: opaque.Thread(i + 1)},
		})
	}
	return vm
}

// Image returns the image the runtime serves
func (vm *VM) Image() *heapdump.Image { return vm.img }

// Mutators returns the runtime's mutators in thread order
func (vm *VM) Mutators() []*binding.Mutator { return vm.mutators }

// Stats returns the handshake counters
func (vm *VM) Stats() Stats {
	return Stats{
		Stops:     vm.stops.Load(),
		Resumes:   vm.resumes.Load(),
		Blocks:    vm.blocks.Load(),
		Rescans:   vm.rescans.Load(),
		RootScans: vm.rootScans.Load(),
	}
}

// Config returns a binding config for the image's heap served by vm
func (vm *VM) Config(opts binding.Options) binding.Config {
	return binding.Config{
		Options: opts,
		Upcalls: vm.Upcalls(),
		Space:   vm.img.Space,
		Classes: vm.img.Classes,
	}
}

// Upcalls returns the runtime's upcall table
func (vm *VM) Upcalls() binding.Upcalls {
	return binding.Upcalls{
		StopAllMutators:           func(opaque.WorkerThread) { vm.stops.Add(1) },
		ResumeMutators:            func(opaque.WorkerThread) { vm.resumes.Add(1) },
		BlockForGC:                func() { vm.blocks.Add(1) },
		GetNextMutator:            vm.nextMutator,
		ResetMutatorIterator:      func() { vm.cursor = 0 },
		ScanAllThreadRoots:        vm.scanAllThreadRoots,
		ScanThreadRoots:           vm.scanThreadRoots,
		ComputeStaticRoots:        func(c work.EdgesClosure, _ opaque.WorkerThread) { vm.report(c, vm.img.StaticRoots) },
		ComputeGlobalRoots:        func(c work.EdgesClosure, _ opaque.WorkerThread) { vm.report(c, vm.img.GlobalRoots) },
		ScanObject:                vm.scanObject,
		DumpObject:                vm.dumpObject,
		GetObjectSize:             vm.model.SizeOf,
		GetMutator:                vm.mutator,
		IsMutator:                 vm.isMutator,
		PrepareForRootsReScanning: func() { vm.rescans.Add(1) },
	}
}

func (vm *VM) nextMutator() *binding.Mutator {
	if vm.cursor >= len(vm.mutators) {
		return nil
	}
	m := vm.mutators[vm.cursor]
	vm.cursor++
	return m
}

func (vm *VM) thread(t opaque.Thread) (int, bool) {
	i := int(t) - 1
	return i, i >= 0 && i < len(vm.mutators)
}

func (vm *VM) isMutator(t opaque.Thread) bool {
	_, ok := vm.thread(t)
	return ok
}

func (vm *VM) mutator(tls opaque.MutatorThread) *binding.Mutator {
	i, ok := vm.thread(tls.Thread)
	if !ok {
		panic(fmt.Sprintf("hostvm: thread %d is not a mutator", tls.Thread))
	}
	return vm.mutators[i]
}

// report hands slots to the collector in buffers obtained from closure
func (vm *VM) report(closure work.EdgesClosure, slots []heap.Address) {
	vm.rootScans.Add(1)
	buf := closure(nil)
	for _, s := range slots {
		if buf.Full() {
			buf = closure(buf)
		}
		buf.Push(s)
	}
	closure(buf).Discard()
}

func (vm *VM) scanAllThreadRoots(closure work.EdgesClosure) {
	var slots []heap.Address
	for _, th := range vm.img.Threads {
		slots = append(slots, th.Roots...)
	}
	vm.report(closure, slots)
}

func (vm *VM) scanThreadRoots(closure work.EdgesClosure, tls opaque.MutatorThread) {
	i, ok := vm.thread(tls.Thread)
	if !ok {
		panic(fmt.Sprintf("hostvm: thread %d is not a mutator", tls.Thread))
	}
	vm.report(closure, vm.img.Threads[i].Roots)
}

// scanObject reports every reference slot of obj, referent and discovered
// included. It is the runtime's own walk and does not consult the scanner.
func (vm *VM) scanObject(v scan.EdgeVisitor, obj heap.ObjectReference, _ opaque.WorkerThread) {
	maps := func(in object.Instance) {
		for _, m := range in.Maps {
			for i := uint32(0); i < m.Count; i++ {
				v.VisitEdge(obj.Field(m.Offset + uintptr(i)<<heap.LogBytesInAddress))
			}
		}
	}
	_, shape := vm.model.Decode(obj)
	switch s := shape.(type) {
	case object.Instance:
		maps(s)
	case object.ClassLoaderInstance:
		maps(s.Instance)
	case object.MirrorInstance:
		maps(s.Instance)
		for i, n := uint32(0), vm.model.StaticFieldCount(obj, s); i < n; i++ {
			v.VisitEdge(object.StaticSlot(obj, s, i))
		}
	case object.RefInstance:
		maps(s.Instance)
		v.VisitEdge(obj.Field(s.ReferentOffset))
		v.VisitEdge(obj.Field(s.DiscoveredOffset))
	case object.ObjArray:
		for i, n := uint32(0), vm.model.ArrayLength(obj); i < n; i++ {
			v.VisitEdge(object.ElementSlot(obj, i))
		}
	case object.TypeArray:
	}
}

func (vm *VM) dumpObject(obj heap.ObjectReference) string {
	c := vm.model.ClassOf(obj)
	if id := vm.img.Name(obj); id != "" {
		return fmt.Sprintf("%s#%s@%s", c.Name, id, obj)
	}
	return fmt.Sprintf("%s@%s", c.Name, obj)
}
