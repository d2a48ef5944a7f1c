// ABOUTME: Work packets of one trace: marking root and field slots, scanning retained objects
// ABOUTME: Newly marked objects are scanned on the worker that marked them

package trace

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/prateek/heapscan/binding"
	"github.com/prateek/heapscan/graph"
	"github.com/prateek/heapscan/heap"
	"github.com/prateek/heapscan/scan"
	"github.com/prateek/heapscan/work"
)

// cycle is the state shared by the packets of one collection
type cycle struct {
	b        *binding.Binding
	space    *heap.Space
	capacity int
	record   *graph.LiveGraph

	mu     sync.Mutex
	marked []heap.ObjectReference

	roots atomic.Int64
	edges atomic.Int64
}

func (c *cycle) noteMarked(obj heap.ObjectReference) {
	c.mu.Lock()
	c.marked = append(c.marked, obj)
	c.mu.Unlock()
}

// packetSink is where new packets go: the queue itself or a running worker
type packetSink interface {
	Add(stage work.Stage, p work.Packet)
}

// factory returns a roots-work factory queuing edge packets on q. Root packets
// also record the roots they read when a graph is kept.
func (c *cycle) factory(q packetSink, root bool, kind graph.RootKind) work.RootsWorkFactory {
	return work.FactoryFunc(func(edges []heap.Address) {
		q.Add(work.Closure, &processEdges{c: c, edges: edges, root: root, kind: kind})
	})
}

// processEdges marks the objects held in a batch of slots
type processEdges struct {
	c     *cycle
	edges []heap.Address
	root  bool
	kind  graph.RootKind
}

func (p *processEdges) Do(w *work.Worker) {
	c := p.c
	if p.root {
		c.roots.Add(int64(len(p.edges)))
	} else {
		c.edges.Add(int64(len(p.edges)))
	}

	out := work.NewEdgeBuffer(c.factory(w, false, 0), c.capacity)
	for _, slot := range p.edges {
		target := c.space.LoadReference(slot)
		if target.IsNull() {
			continue
		}
		if p.root && c.record != nil {
			c.record.AddRoot(graph.Root{Kind: p.kind, Slot: slot, Target: target})
		}
		c.mark(w, target, out)
	}
	out.Flush()
}

// scanObjects marks objects retained directly rather than read from a slot
type scanObjects struct {
	c    *cycle
	objs []heap.ObjectReference
	kind graph.RootKind
}

func (p *scanObjects) Do(w *work.Worker) {
	c := p.c
	out := work.NewEdgeBuffer(c.factory(w, false, 0), c.capacity)
	for _, obj := range p.objs {
		if c.record != nil {
			c.record.AddRoot(graph.Root{Kind: p.kind, Target: obj})
		}
		c.mark(w, obj, out)
	}
	out.Flush()
}

// mark sets obj's mark bit and, if this worker set it, scans obj into out
func (c *cycle) mark(w *work.Worker, obj heap.ObjectReference, out *work.EdgeBuffer) {
	if !c.b.Metadata().TestAndMark(obj) {
		return
	}
	c.noteMarked(obj)

	if c.record == nil {
		c.b.ScanObject(w.TLS, obj, out)
		return
	}
	n := &graph.Node{
		Ref:   obj,
		Class: c.b.Model().ClassOf(obj).Name,
		Size:  c.b.ObjectSize(obj),
	}
	c.b.ScanObject(w.TLS, obj, scan.EdgeVisitorFunc(func(slot heap.Address) {
		n.Edges = append(n.Edges, graph.Edge{Slot: slot, Target: c.space.LoadReference(slot)})
		out.VisitEdge(slot)
	}))
	c.record.AddNode(n)
}

// sortedMarked returns the marked objects in address order
func (c *cycle) sortedMarked() []heap.ObjectReference {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := append([]heap.ObjectReference(nil), c.marked...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
