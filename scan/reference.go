// ABOUTME: Reference classifier for reference-holding instances
// ABOUTME: Defers weak, soft and phantom referents; treats final and other as strong

package scan

import (
	"github.com/prateek/heapscan/heap"
	"github.com/prateek/heapscan/object"
)

// classifyAndRoute handles the referent of a reference-holding instance ref
func (s *Scanner) classifyAndRoute(ref heap.ObjectReference, sh object.RefInstance, v EdgeVisitor) {
	if !s.trackRefs {
		processRefAsStrong(ref, sh, v)
		return
	}

	switch sh.Type {
	case object.RefNone:
		object.Throw(ref, int64(sh.Type), "reference-holding instance with reference type none")
	case object.RefWeak, object.RefSoft, object.RefPhantom:
		s.candidates.AddCandidate(sh.Type, ref)
	case object.RefFinal, object.RefOther:
		// Final references are chained through the discovered slot and
		// handled by finalization, so both slots are traced.
		processRefAsStrong(ref, sh, v)
	default:
		object.Throw(ref, int64(sh.Type), "unknown reference type")
	}
}

func processRefAsStrong(ref heap.ObjectReference, sh object.RefInstance, v EdgeVisitor) {
	v.VisitEdge(ref.Field(sh.ReferentOffset))
	v.VisitEdge(ref.Field(sh.DiscoveredOffset))
}
