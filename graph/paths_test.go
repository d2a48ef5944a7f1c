// ABOUTME: Tests for the paths-to-roots search
// ABOUTME: Validates shortest-first ordering, cycles and multiple root slots

package graph

import (
	"reflect"
	"testing"

	"github.com/prateek/heapscan/heap"
)

func refs(rs ...heap.ObjectReference) []heap.ObjectReference { return rs }

func TestPathsToRoots(t *testing.T) {
	// 0x100 (static root) -> 0x200 -> 0x300
	//                              -> 0x400
	g := NewLiveGraph()
	g.AddNode(node(0x100, "Root", 0x200))
	g.AddNode(node(0x200, "Middle", 0x300, 0x400))
	g.AddNode(node(0x300, "Leaf"))
	g.AddNode(node(0x400, "Leaf"))
	root := Root{Kind: RootRuntime, Slot: 0x10, Target: 0x100}
	g.AddRoot(root)

	tests := []struct {
		name string
		from heap.ObjectReference
		want []Path
	}{
		{"root itself", 0x100, []Path{{Objects: refs(0x100), Root: root}}},
		{"one hop", 0x200, []Path{{Objects: refs(0x200, 0x100), Root: root}}},
		{"two hops", 0x300, []Path{{Objects: refs(0x300, 0x200, 0x100), Root: root}}},
		{"sibling", 0x400, []Path{{Objects: refs(0x400, 0x200, 0x100), Root: root}}},
		{"not recorded", 0x500, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PathsToRoots(g, tt.from, 5); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("PathsToRoots = %v, want %v", got, tt.want)
			}
		})
	}

	if got := PathsToRoots(g, 0x300, 0); got != nil {
		t.Errorf("Expected nil for maxPaths 0, got %v", got)
	}
}

func TestPathsWithCycles(t *testing.T) {
	// 0x100 (root) -> 0x200 <-> 0x300, and 0x300 -> 0x300
	g := NewLiveGraph()
	g.AddNode(node(0x100, "Root", 0x200))
	g.AddNode(node(0x200, "A", 0x300))
	g.AddNode(node(0x300, "B", 0x200, 0x300))
	g.AddRoot(Root{Kind: RootRuntime, Slot: 0x10, Target: 0x100})

	got := PathsToRoots(g, 0x300, 5)
	if len(got) != 1 || !reflect.DeepEqual(got[0].Objects, refs(0x300, 0x200, 0x100)) {
		t.Errorf("Expected one acyclic path, got %v", got)
	}
}

func TestPathsThroughSeveralRoots(t *testing.T) {
	// Two root objects share a child; one root object is held by two slots
	g := NewLiveGraph()
	g.AddNode(node(0x100, "R1", 0x300))
	g.AddNode(node(0x200, "R2", 0x300))
	g.AddNode(node(0x300, "Shared"))
	g.AddRoot(Root{Kind: RootThread, Slot: 0x10, Target: 0x100})
	g.AddRoot(Root{Kind: RootRuntime, Slot: 0x18, Target: 0x200})
	g.AddRoot(Root{Kind: RootFinalizer, Slot: 0x20, Target: 0x200})

	got := PathsToRoots(g, 0x300, 10)
	if len(got) != 3 {
		t.Fatalf("Expected 3 paths, got %v", got)
	}
	kinds := map[RootKind]heap.ObjectReference{}
	for _, p := range got {
		if len(p.Objects) != 2 || p.Objects[0] != 0x300 {
			t.Errorf("Unexpected path %v", p)
		}
		kinds[p.Root.Kind] = p.Objects[1]
	}
	want := map[RootKind]heap.ObjectReference{RootThread: 0x100, RootRuntime: 0x200, RootFinalizer: 0x200}
	if !reflect.DeepEqual(kinds, want) {
		t.Errorf("Expected paths through %v, got %v", want, kinds)
	}

	if got := PathsToRoots(g, 0x300, 2); len(got) != 2 {
		t.Errorf("Expected maxPaths to cap results at 2, got %d", len(got))
	}
}

func TestPathsShortestFirst(t *testing.T) {
	// 0x100 (root) -> 0x500 directly and via 0x200 -> 0x300
	g := NewLiveGraph()
	g.AddNode(node(0x100, "Root", 0x200, 0x500))
	g.AddNode(node(0x200, "A", 0x300))
	g.AddNode(node(0x300, "B", 0x500))
	g.AddNode(node(0x500, "Target"))
	g.AddRoot(Root{Kind: RootThread, Slot: 0x10, Target: 0x100})

	got := PathsToRoots(g, 0x500, 5)
	if len(got) != 2 {
		t.Fatalf("Expected 2 paths, got %v", got)
	}
	if len(got[0].Objects) != 2 || len(got[1].Objects) != 4 {
		t.Errorf("Expected shortest path first, got %v", got)
	}
}
