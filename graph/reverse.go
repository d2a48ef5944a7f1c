// ABOUTME: Builds reverse edges for walking from an object back to its referrers
// ABOUTME: Used by paths-to-roots

package graph

import (
	"sort"

	"github.com/prateek/heapscan/heap"
)

// Referrers maps each object to the nodes holding a reference to it
type Referrers map[heap.ObjectReference][]heap.ObjectReference

// BuildReferrers inverts the edges of g. A node referencing the same target
// from several slots is listed once; referrers are sorted by address.
func BuildReferrers(g Graph) Referrers {
	rev := make(Referrers)
	g.ForEachNode(func(n *Node) {
		seen := make(map[heap.ObjectReference]bool, len(n.Edges))
		for _, e := range n.Edges {
			if seen[e.Target] {
				continue
			}
			seen[e.Target] = true
			rev[e.Target] = append(rev[e.Target], n.Ref)
		}
	})
	for _, refs := range rev {
		sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })
	}
	return rev
}
