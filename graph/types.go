// ABOUTME: Node, edge and root types of the live-object graph a trace records
// ABOUTME: Nodes are keyed by object reference; edges keep the slot they were read from

package graph

import (
	"fmt"

	"github.com/prateek/heapscan/heap"
)

// Edge is one reference read out of a node: the slot and the object it held
type Edge struct {
	Slot   heap.Address
	Target heap.ObjectReference
}

// Node is one live object as the tracer saw it
type Node struct {
	Ref   heap.ObjectReference
	Class string
	Size  uintptr
	Edges []Edge
}

// RootKind says where a root slot came from
type RootKind int

const (
	RootThread RootKind = iota
	// RootRuntime covers the runtime's static and global root sets
	RootRuntime
	RootFinalizer
	RootSoft
)

func (k RootKind) String() string {
	switch k {
	case RootThread:
		return "thread"
	case RootRuntime:
		return "runtime"
	case RootFinalizer:
		return "finalizer"
	case RootSoft:
		return "soft"
	}
	return fmt.Sprintf("root(%d)", int(k))
}

// Root is a reference that seeded the trace. Slot is zero for objects retained
// directly rather than read out of a root slot.
type Root struct {
	Kind   RootKind
	Slot   heap.Address
	Target heap.ObjectReference
}
