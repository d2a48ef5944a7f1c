// ABOUTME: Breadth-first search from an object back to the roots that keep it alive
// ABOUTME: Returns up to maxPaths shortest-first chains without revisiting a chain's own nodes

package graph

import "github.com/prateek/heapscan/heap"

// Path is a chain of objects from a target back to a root object. Objects[0]
// is the target; the last element is referenced directly by Root.
type Path struct {
	Objects []heap.ObjectReference
	Root    Root
}

type step struct {
	ref  heap.ObjectReference
	prev *step
	n    int
}

func (s *step) contains(ref heap.ObjectReference) bool {
	for p := s; p != nil; p = p.prev {
		if p.ref == ref {
			return true
		}
	}
	return false
}

func (s *step) objects() []heap.ObjectReference {
	out := make([]heap.ObjectReference, s.n)
	for p, i := s, s.n-1; p != nil; p, i = p.prev, i-1 {
		out[i] = p.ref
	}
	return out
}

// PathsToRoots finds up to maxPaths paths from ref to the roots, shortest
// first. A root object held by several root slots yields one path per slot.
// The search stops at root objects rather than looking past them.
func PathsToRoots(g Graph, ref heap.ObjectReference, maxPaths int) []Path {
	if maxPaths <= 0 || g.Node(ref) == nil {
		return nil
	}

	rootsOf := make(map[heap.ObjectReference][]Root)
	for _, r := range g.Roots() {
		rootsOf[r.Target] = append(rootsOf[r.Target], r)
	}
	referrers := BuildReferrers(g)

	var out []Path
	queue := []*step{{ref: ref, n: 1}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if roots := rootsOf[cur.ref]; len(roots) > 0 {
			for _, r := range roots {
				out = append(out, Path{Objects: cur.objects(), Root: r})
				if len(out) == maxPaths {
					return out
				}
			}
			continue
		}
		for _, from := range referrers[cur.ref] {
			if cur.contains(from) {
				continue
			}
			queue = append(queue, &step{ref: from, prev: cur, n: cur.n + 1})
		}
	}
	return out
}
