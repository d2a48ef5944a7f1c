// ABOUTME: Object construction in a space: header initialisation and length fields
// ABOUTME: Used by heap-image loaders and test fixtures to lay out runtime objects

package object

import (
	"fmt"

	"github.com/prateek/heapscan/heap"
)

// New allocates an object of class id. n is the element count for
// arrays and the static reference field count for mirrors; it is ignored for
// other shapes.
func (m Model) New(id ClassID, n uint32) (heap.ObjectReference, error) {
	c, ok := m.Classes.Lookup(id)
	if !ok {
		return heap.Null, fmt.Errorf("allocate: unknown class id %d", id)
	}

	var size uintptr
	switch s := c.Shape.(type) {
	case Instance:
		size = s.Size
	case ClassLoaderInstance:
		size = s.Size
	case RefInstance:
		size = s.Size
	case MirrorInstance:
		size = s.StaticFieldsOffset + uintptr(n)<<heap.LogBytesInAddress
	case ObjArray:
		size = ArrayBaseOffset + uintptr(n)<<heap.LogBytesInAddress
	case TypeArray:
		size = ArrayBaseOffset + uintptr(n)*s.Elem.Size()
	default:
		return heap.Null, fmt.Errorf("allocate %q: unsupported shape %T", c.Name, c.Shape)
	}

	addr, err := m.Space.Alloc(size)
	if err != nil {
		return heap.Null, fmt.Errorf("allocate %q: %w", c.Name, err)
	}
	obj := heap.ObjectReference(addr)
	m.Space.StoreWord(obj.Field(MarkWordOffset), uint64(id))

	switch s := c.Shape.(type) {
	case MirrorInstance:
		m.Space.StoreUint32(obj.Field(s.StaticCountOffset), n)
	case ObjArray, TypeArray:
		m.Space.StoreUint32(obj.Field(ArrayLengthOffset), n)
	}
	return obj, nil
}

// NewNamed allocates an object of the class registered under name
func (m Model) NewNamed(name string, n uint32) (heap.ObjectReference, error) {
	id, _, ok := m.Classes.ByName(name)
	if !ok {
		return heap.Null, fmt.Errorf("allocate: unknown class %q", name)
	}
	return m.New(id, n)
}

// ElementSlot returns the address of element i of an object array
func ElementSlot(obj heap.ObjectReference, i uint32) heap.Address {
	return obj.Field(ArrayBaseOffset + uintptr(i)<<heap.LogBytesInAddress)
}

// StaticSlot returns the address of static reference field i of a mirror
func StaticSlot(obj heap.ObjectReference, s MirrorInstance, i uint32) heap.Address {
	return obj.Field(s.StaticFieldsOffset + uintptr(i)<<heap.LogBytesInAddress)
}
