// ABOUTME: Graph interface and the in-memory live graph filled by tracing workers
// ABOUTME: Safe for concurrent recording; queries run after the trace completes

package graph

import (
	"sync"

	"github.com/prateek/heapscan/heap"
)

// Graph is a recorded live-object graph
type Graph interface {
	// Node returns the node for ref, or nil if ref was not reached
	Node(ref heap.ObjectReference) *Node

	// Len returns the number of live nodes
	Len() int

	// ForEachNode calls fn for every node in unspecified order
	ForEachNode(fn func(*Node))

	// Roots returns the roots in the order they were recorded
	Roots() []Root
}

// LiveGraph is an in-memory Graph. Workers add nodes and roots concurrently.
type LiveGraph struct {
	mu    sync.RWMutex
	nodes map[heap.ObjectReference]*Node
	roots []Root
}

// NewLiveGraph creates an empty graph
func NewLiveGraph() *LiveGraph {
	return &LiveGraph{
		nodes: make(map[heap.ObjectReference]*Node),
	}
}

// AddNode records n, replacing any node with the same reference
func (g *LiveGraph) AddNode(n *Node) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes[n.Ref] = n
}

// AddRoot records a root
func (g *LiveGraph) AddRoot(r Root) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.roots = append(g.roots, r)
}

// Node returns the node for ref
func (g *LiveGraph) Node(ref heap.ObjectReference) *Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[ref]
}

// Len returns the number of nodes
func (g *LiveGraph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// ForEachNode calls fn for every node
func (g *LiveGraph) ForEachNode(fn func(*Node)) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, n := range g.nodes {
		fn(n)
	}
}

// Roots returns a copy of the recorded roots
func (g *LiveGraph) Roots() []Root {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]Root(nil), g.roots...)
}

// Reset drops every node and root
func (g *LiveGraph) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes = make(map[heap.ObjectReference]*Node)
	g.roots = nil
}
