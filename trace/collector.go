// ABOUTME: Parallel mark-only collector driving a binding through one full trace
// ABOUTME: Roots, transitive closure, then soft, weak, final and phantom processing in that order

// Package trace is a small non-moving collector built on the binding. It marks
// everything reachable from the runtime's roots, processes the reference
// candidates found while marking, and reports what it saw.
package trace

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prateek/heapscan/binding"
	"github.com/prateek/heapscan/graph"
	"github.com/prateek/heapscan/heap"
	"github.com/prateek/heapscan/object"
	"github.com/prateek/heapscan/opaque"
	"github.com/prateek/heapscan/work"
)

// ErrLayout wraps a layout violation raised while tracing
var ErrLayout = errors.New("heap layout violation")

// Stats summarises one collection
type Stats struct {
	Cycle          int
	Roots          int
	Edges          int
	Marked         int
	Packets        int
	SoftRetained   int
	SoftCleared    int
	WeakCleared    int
	PhantomCleared int
	Finalized      int
	Emergency      bool
	Duration       time.Duration
}

func (s Stats) String() string {
	return fmt.Sprintf("cycle %d: %d roots, %d edges, %d marked, %d packets; soft %d retained %d cleared, weak %d cleared, phantom %d cleared, %d finalized in %v",
		s.Cycle, s.Roots, s.Edges, s.Marked, s.Packets,
		s.SoftRetained, s.SoftCleared, s.WeakCleared, s.PhantomCleared, s.Finalized, s.Duration)
}

// Collector traces the heap of one binding. Collections are serialised.
type Collector struct {
	b *binding.Binding

	mu     sync.Mutex
	record *graph.LiveGraph
	marked []heap.ObjectReference
	cycles int
}

// New creates a collector for b
func New(b *binding.Binding) *Collector {
	return &Collector{b: b}
}

// Record makes later collections record the live graph into g. A nil g
// stops recording.
func (c *Collector) Record(g *graph.LiveGraph) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record = g
}

// Live returns the objects marked by the last collection in address order
func (c *Collector) Live() []heap.ObjectReference {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]heap.ObjectReference(nil), c.marked...)
}

// tracer adapts a cycle to reference processing
type tracer struct {
	c    *cycle
	q    *work.Queue
	kind graph.RootKind
}

func (t tracer) IsLive(obj heap.ObjectReference) bool {
	return t.c.b.Metadata().IsMarked(obj)
}

func (t tracer) Retain(obj heap.ObjectReference) {
	t.q.Add(work.Closure, &scanObjects{c: t.c, objs: []heap.ObjectReference{obj}, kind: t.kind})
}

// Collect runs one full trace on behalf of the worker tls. An emergency
// collection does not retain soft referents. A layout violation aborts the
// trace and is returned wrapped in ErrLayout; the heap's marks are then
// incomplete.
func (c *Collector) Collect(tls opaque.WorkerThread, emergency bool) (st Stats, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	b := c.b
	opts := b.Options()
	refs := b.References()
	q := b.Queue()
	logger := b.Logger()

	for _, obj := range c.marked {
		b.Metadata().ClearMark(obj)
	}
	c.marked = nil
	if c.record != nil {
		c.record.Reset()
	}

	cy := &cycle{b: b, space: b.Model().Space, capacity: opts.PacketCapacity, record: c.record}
	c.cycles++
	st.Cycle = c.cycles
	st.Emergency = emergency

	refs.BeginCycle()
	b.StopAllMutators(tls)
	defer func() {
		c.marked = cy.sortedMarked()
		refs.EndCycle()
		b.ResumeMutators(tls)

		if r := recover(); r != nil {
			le, ok := r.(*object.LayoutError)
			if !ok {
				panic(r)
			}
			err = fmt.Errorf("cycle %d: %v: %w", st.Cycle, le, ErrLayout)
			logger.Printf("trace aborted: %v", err)
		}
	}()

	run := func() {
		st.Packets += q.Run(opts.Threads)
	}

	b.ResetMutatorIterator()
	for m, ok := b.NextMutator(); ok; m, ok = b.NextMutator() {
		b.ScanThreadRoot(tls, m, cy.factory(q, true, graph.RootThread))
	}
	b.ScanVMSpecificRoots(tls, cy.factory(q, true, graph.RootRuntime))
	if ready := refs.ReadyForFinalization(); len(ready) > 0 {
		q.Add(work.Closure, &scanObjects{c: cy, objs: ready, kind: graph.RootFinalizer})
	}
	run()

	if !emergency {
		st.SoftRetained = refs.RetainSoft(tracer{c: cy, q: q, kind: graph.RootSoft})
		run()
	}
	st.SoftCleared = refs.ScanSoft(tracer{c: cy, q: q})
	st.WeakCleared = refs.ScanWeak(tracer{c: cy, q: q})
	if !opts.NoFinalizer {
		st.Finalized = refs.ScanFinalizable(tracer{c: cy, q: q, kind: graph.RootFinalizer})
		run()
		// Resurrected objects may reach soft and weak references that were
		// not yet discovered when those registries were scanned
		st.SoftCleared += refs.ScanSoft(tracer{c: cy, q: q})
		st.WeakCleared += refs.ScanWeak(tracer{c: cy, q: q})
	}
	st.PhantomCleared = refs.ScanPhantom(tracer{c: cy, q: q})

	st.Roots = int(cy.roots.Load())
	st.Edges = int(cy.edges.Load())
	st.Marked = len(cy.sortedMarked())
	st.Duration = time.Since(start)
	logger.Printf("trace %s", st)
	return st, nil
}
