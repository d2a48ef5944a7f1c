// ABOUTME: Move-only buffer of edge addresses handed to the scheduler as one work packet
// ABOUTME: Take transfers the edges out exactly once; the buffer is dead afterwards

package work

import (
	"fmt"

	"github.com/prateek/heapscan/heap"
)

// PacketCapacity is the default number of edges per work packet
const PacketCapacity = 4096

// Buffer collects edges up to a target capacity. After Take or Discard the
// buffer is dead and every further use panics.
type Buffer struct {
	edges    []heap.Address
	capacity int
	dead     bool
}

// NewBuffer allocates an empty buffer with room for capacity edges
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		panic(fmt.Sprintf("work: buffer capacity %d must be positive", capacity))
	}
	return &Buffer{edges: make([]heap.Address, 0, capacity), capacity: capacity}
}

func (b *Buffer) live(op string) {
	if b.dead {
		panic("work: " + op + " on a buffer that was already handed off")
	}
}

// Push appends an edge. Pushing into a full buffer panics.
func (b *Buffer) Push(edge heap.Address) {
	b.live("Push")
	if len(b.edges) == b.capacity {
		panic(fmt.Sprintf("work: Push on a full buffer (capacity %d)", b.capacity))
	}
	b.edges = append(b.edges, edge)
}

// Len returns the number of buffered edges
func (b *Buffer) Len() int {
	b.live("Len")
	return len(b.edges)
}

// Cap returns the target capacity
func (b *Buffer) Cap() int {
	return b.capacity
}

// Full reports whether the buffer has reached its capacity
func (b *Buffer) Full() bool {
	b.live("Full")
	return len(b.edges) == b.capacity
}

// Take moves the edges out of the buffer. The caller owns the returned slice.
func (b *Buffer) Take() []heap.Address {
	b.live("Take")
	edges := b.edges
	b.edges = nil
	b.dead = true
	return edges
}

// Discard drops the buffered edges and kills the buffer
func (b *Buffer) Discard() {
	b.live("Discard")
	b.edges = nil
	b.dead = true
}
