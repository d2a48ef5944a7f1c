// ABOUTME: Adapts the one-edge-at-a-time visitor to buffered work-packet handoff
// ABOUTME: Full buffers go to a RootsWorkFactory and a fresh buffer replaces them

package work

import "github.com/prateek/heapscan/heap"

// RootsWorkFactory turns a batch of root edges into schedulable work.
// The factory owns edges once the call returns.
type RootsWorkFactory interface {
	CreateProcessEdgeRootsWork(edges []heap.Address)
}

// FactoryFunc adapts a function to RootsWorkFactory
type FactoryFunc func(edges []heap.Address)

// CreateProcessEdgeRootsWork calls f
func (f FactoryFunc) CreateProcessEdgeRootsWork(edges []heap.Address) {
	f(edges)
}

// EdgeBuffer is an edge visitor that batches edges into buffers of a fixed
// capacity. It is owned by a single worker.
type EdgeBuffer struct {
	factory  RootsWorkFactory
	capacity int
	cur      *Buffer
	handed   int
}

// NewEdgeBuffer creates an edge buffer handing packets of capacity edges to factory
func NewEdgeBuffer(factory RootsWorkFactory, capacity int) *EdgeBuffer {
	return &EdgeBuffer{factory: factory, capacity: capacity, cur: NewBuffer(capacity)}
}

// VisitEdge appends edge, handing the buffer off first if it is full
func (e *EdgeBuffer) VisitEdge(edge heap.Address) {
	if e.cur.Full() {
		e.handOff()
	}
	e.cur.Push(edge)
}

// Flush hands off the in-flight buffer if it holds any edges
func (e *EdgeBuffer) Flush() {
	if e.cur.Len() > 0 {
		e.handOff()
	}
}

func (e *EdgeBuffer) handOff() {
	edges := e.cur.Take()
	e.cur = NewBuffer(e.capacity)
	e.handed++
	e.factory.CreateProcessEdgeRootsWork(edges)
}

// Handed returns the number of buffers handed to the factory
func (e *EdgeBuffer) Handed() int { return e.handed }

// Pending returns the number of edges in the in-flight buffer
func (e *EdgeBuffer) Pending() int { return e.cur.Len() }

// EdgesClosure is the handle the runtime fills root edges through. Called with
// nil it returns a fresh buffer. Called with a buffer it takes ownership,
// hands any edges to the factory, and returns a fresh buffer.
type EdgesClosure func(b *Buffer) *Buffer

// NewEdgesClosure creates a closure handing edges to factory in buffers of capacity
func NewEdgesClosure(factory RootsWorkFactory, capacity int) EdgesClosure {
	return func(b *Buffer) *Buffer {
		if b != nil {
			if edges := b.Take(); len(edges) > 0 {
				factory.CreateProcessEdgeRootsWork(edges)
			}
		}
		return NewBuffer(capacity)
	}
}
