// ABOUTME: Referent access for reference-holding instances
// ABOUTME: Reads and writes the referent slot named by the class descriptor

package refproc

import (
	"github.com/prateek/heapscan/heap"
	"github.com/prateek/heapscan/object"
)

// Glue reads and writes referent slots
type Glue struct {
	Model object.Model
}

func (g Glue) referentSlot(ref heap.ObjectReference) heap.Address {
	_, shape := g.Model.Decode(ref)
	sh, ok := shape.(object.RefInstance)
	if !ok {
		object.Throw(ref, int64(shape.Kind()), "referent access on a %s object", shape.Kind())
	}
	return ref.Field(sh.ReferentOffset)
}

// GetReferent returns the object ref points to, or heap.Null once cleared
func (g Glue) GetReferent(ref heap.ObjectReference) heap.ObjectReference {
	return g.Model.Space.LoadReference(g.referentSlot(ref))
}

// SetReferent points ref at referent
func (g Glue) SetReferent(ref, referent heap.ObjectReference) {
	g.Model.Space.StoreReference(g.referentSlot(ref), referent)
}

// ClearReferent nulls ref's referent
func (g Glue) ClearReferent(ref heap.ObjectReference) {
	g.SetReferent(ref, heap.Null)
}

// TypeOf returns the reference type of a reference-holding instance
func (g Glue) TypeOf(ref heap.ObjectReference) object.ReferenceType {
	_, shape := g.Model.Decode(ref)
	if sh, ok := shape.(object.RefInstance); ok {
		return sh.Type
	}
	return object.RefNone
}
