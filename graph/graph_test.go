// ABOUTME: Tests for the live graph and reverse edges
// ABOUTME: Covers concurrent recording and referrer ordering

package graph

import (
	"reflect"
	"sync"
	"testing"

	"github.com/prateek/heapscan/heap"
)

// node builds a node whose edges come from consecutive slots after the header
func node(ref heap.ObjectReference, class string, targets ...heap.ObjectReference) *Node {
	n := &Node{Ref: ref, Class: class, Size: 8 + uintptr(len(targets))*8}
	for i, t := range targets {
		n.Edges = append(n.Edges, Edge{Slot: ref.Field(8 + uintptr(i)*8), Target: t})
	}
	return n
}

func TestLiveGraph(t *testing.T) {
	g := NewLiveGraph()
	g.AddNode(node(0x100, "Root", 0x200))
	g.AddNode(node(0x200, "Leaf"))
	g.AddRoot(Root{Kind: RootRuntime, Slot: 0x10, Target: 0x100})

	if g.Len() != 2 {
		t.Errorf("Expected 2 nodes, got %d", g.Len())
	}
	if n := g.Node(0x100); n == nil || n.Class != "Root" || len(n.Edges) != 1 || n.Edges[0].Target != 0x200 {
		t.Errorf("Unexpected node %+v", n)
	}
	if g.Node(0x300) != nil {
		t.Error("Expected nil for an unrecorded object")
	}

	count := 0
	g.ForEachNode(func(*Node) { count++ })
	if count != 2 {
		t.Errorf("Expected to visit 2 nodes, got %d", count)
	}

	roots := g.Roots()
	if len(roots) != 1 || roots[0].Kind != RootRuntime || roots[0].Target != 0x100 {
		t.Errorf("Unexpected roots %v", roots)
	}
	roots[0].Target = 0
	if g.Roots()[0].Target != 0x100 {
		t.Error("Roots should return a copy")
	}

	// Re-adding a node replaces it
	g.AddNode(node(0x200, "Leaf2"))
	if g.Len() != 2 || g.Node(0x200).Class != "Leaf2" {
		t.Error("Expected replacement on duplicate reference")
	}

	g.Reset()
	if g.Len() != 0 || len(g.Roots()) != 0 {
		t.Error("Expected empty graph after Reset")
	}
}

func TestConcurrentRecording(t *testing.T) {
	g := NewLiveGraph()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				ref := heap.ObjectReference(0x1000 + (w*100+i)*16)
				g.AddNode(node(ref, "Node"))
				if i%10 == 0 {
					g.AddRoot(Root{Kind: RootThread, Target: ref})
				}
			}
		}(w)
	}
	wg.Wait()

	if g.Len() != 800 {
		t.Errorf("Expected 800 nodes, got %d", g.Len())
	}
	if len(g.Roots()) != 80 {
		t.Errorf("Expected 80 roots, got %d", len(g.Roots()))
	}
}

func TestBuildReferrers(t *testing.T) {
	g := NewLiveGraph()
	g.AddNode(node(0x300, "B", 0x400, 0x400))
	g.AddNode(node(0x100, "A", 0x400))
	g.AddNode(node(0x400, "Shared", 0x400))

	rev := BuildReferrers(g)
	want := []heap.ObjectReference{0x100, 0x300, 0x400}
	if got := rev[0x400]; !reflect.DeepEqual(got, want) {
		t.Errorf("Expected referrers %v, got %v", want, got)
	}
	if len(rev[0x100]) != 0 {
		t.Errorf("Expected no referrers for A, got %v", rev[0x100])
	}
}

func TestRootKindString(t *testing.T) {
	for k, want := range map[RootKind]string{
		RootThread: "thread", RootRuntime: "runtime",
		RootFinalizer: "finalizer", RootSoft: "soft", RootKind(9): "root(9)",
	} {
		if k.String() != want {
			t.Errorf("%d.String() = %q, want %q", int(k), k.String(), want)
		}
	}
}
