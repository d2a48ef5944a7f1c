// ABOUTME: Object-kind classifier reading the class id from an object header
// ABOUTME: Layout-consistency violations abort the scan with a LayoutError panic

package object

import (
	"fmt"

	"github.com/prateek/heapscan/heap"
)

// LayoutError reports that an object does not match the layout this package
// was built against. It is raised with panic: there is no safe way to continue
// scanning a heap whose format has drifted or been corrupted.
type LayoutError struct {
	Object       heap.ObjectReference
	Discriminant int64
	Reason       string
}

func (e *LayoutError) Error() string {
	return fmt.Sprintf("layout violation at object %s (discriminant %d): %s", e.Object, e.Discriminant, e.Reason)
}

// Throw aborts with a LayoutError
func Throw(obj heap.ObjectReference, discriminant int64, format string, args ...any) {
	panic(&LayoutError{Object: obj, Discriminant: discriminant, Reason: fmt.Sprintf(format, args...)})
}

// Model reads objects out of a space using the descriptors in a class table
type Model struct {
	Space   *heap.Space
	Classes *ClassTable
}

// ClassID returns the class id stored in obj's header word
func (m Model) ClassID(obj heap.ObjectReference) ClassID {
	return ClassID(m.Space.LoadWord(obj.Field(MarkWordOffset)) & ClassIDMask)
}

// ClassOf returns the descriptor of obj, aborting if the class id is unknown
func (m Model) ClassOf(obj heap.ObjectReference) *Class {
	if obj.IsNull() {
		Throw(obj, -1, "null object handle")
	}
	id := m.ClassID(obj)
	c, ok := m.Classes.Lookup(id)
	if !ok {
		Throw(obj, int64(id), "unknown class id %d", id)
	}
	return c
}

// Classify returns the class-shape kind of obj. An out-of-range discriminant,
// or one that disagrees with the descriptor's shape, aborts.
func (m Model) Classify(obj heap.ObjectReference) Kind {
	_, shape := m.Decode(obj)
	return shape.Kind()
}

// Decode returns the descriptor and validated shape of obj
func (m Model) Decode(obj heap.ObjectReference) (*Class, Shape) {
	c := m.ClassOf(obj)
	if !c.ID.Valid() {
		Throw(obj, int64(c.ID), "invalid class-shape discriminant for class %q", c.Name)
	}
	if c.Shape == nil || c.Shape.Kind() != c.ID {
		Throw(obj, int64(c.ID), "discriminant %s disagrees with descriptor of class %q", c.ID, c.Name)
	}
	return c, c.Shape
}

// ArrayLength returns the element count of an array object
func (m Model) ArrayLength(obj heap.ObjectReference) uint32 {
	return m.Space.LoadUint32(obj.Field(ArrayLengthOffset))
}

// StaticFieldCount returns the number of static reference fields held by a mirror
func (m Model) StaticFieldCount(obj heap.ObjectReference, s MirrorInstance) uint32 {
	return m.Space.LoadUint32(obj.Field(s.StaticCountOffset))
}

// SizeOf returns the size of obj in bytes
func (m Model) SizeOf(obj heap.ObjectReference) uintptr {
	_, shape := m.Decode(obj)
	switch s := shape.(type) {
	case Instance:
		return s.Size
	case ClassLoaderInstance:
		return s.Size
	case RefInstance:
		return s.Size
	case MirrorInstance:
		return s.StaticFieldsOffset + uintptr(m.StaticFieldCount(obj, s))<<heap.LogBytesInAddress
	case ObjArray:
		return ArrayBaseOffset + uintptr(m.ArrayLength(obj))<<heap.LogBytesInAddress
	case TypeArray:
		return heap.AlignUp(ArrayBaseOffset+uintptr(m.ArrayLength(obj))*s.Elem.Size(), heap.BytesInAddress)
	}
	Throw(obj, int64(shape.Kind()), "no size rule for shape %T", shape)
	return 0
}
