// ABOUTME: Edge visitor contract and the candidate registry used for deferred references
// ABOUTME: Visitors receive slot addresses; they never receive the referenced objects

package scan

import (
	"github.com/prateek/heapscan/heap"
	"github.com/prateek/heapscan/object"
)

// EdgeVisitor receives the address of every reference slot found in an object
type EdgeVisitor interface {
	VisitEdge(edge heap.Address)
}

// EdgeVisitorFunc adapts a function to EdgeVisitor
type EdgeVisitorFunc func(edge heap.Address)

// VisitEdge calls f(edge)
func (f EdgeVisitorFunc) VisitEdge(edge heap.Address) { f(edge) }

// EdgeCollector records edges in visit order
type EdgeCollector struct {
	Edges []heap.Address
}

// VisitEdge appends edge
func (c *EdgeCollector) VisitEdge(edge heap.Address) {
	c.Edges = append(c.Edges, edge)
}

// CandidateRegistry receives reference-holding instances whose referents are
// deferred to reference processing. Implementations must accept concurrent
// calls from many scanning workers.
type CandidateRegistry interface {
	AddCandidate(t object.ReferenceType, ref heap.ObjectReference)
}
