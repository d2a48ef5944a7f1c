// ABOUTME: Class descriptors as a closed set of shape variants
// ABOUTME: Each variant carries only the layout data its kind needs for scanning

package object

import (
	"errors"
	"fmt"

	"github.com/prateek/heapscan/heap"
)

// Header layout shared by every object. The single header word holds the
// class id in its low ClassIDBits bits; the runtime's flags sit above it and
// the top byte is reserved for collector metadata.
const (
	MarkWordOffset    uintptr = 0
	HeaderSize        uintptr = heap.BytesInAddress
	ArrayLengthOffset uintptr = HeaderSize
	ArrayBaseOffset   uintptr = HeaderSize + heap.BytesInAddress

	ClassIDBits        = 32
	ClassIDMask uint64 = 1<<ClassIDBits - 1
)

// ErrInvalidClass is returned when a class descriptor is internally inconsistent
var ErrInvalidClass = errors.New("invalid class descriptor")

// OopMapBlock describes Count consecutive reference slots starting at Offset
type OopMapBlock struct {
	Offset uintptr
	Count  uint32
}

// End returns the offset one past the last slot of the block
func (b OopMapBlock) End() uintptr {
	return b.Offset + uintptr(b.Count)<<heap.LogBytesInAddress
}

// Shape is the kind-specific layout of a class. The set of implementations is
// closed; scanning dispatches on it with a type switch.
type Shape interface {
	Kind() Kind
	isShape()
}

// Instance is a plain record-like object
type Instance struct {
	Size uintptr
	Maps []OopMapBlock
}

// ClassLoaderInstance is an instance of a class loader. It scans exactly like
// Instance; the kind exists for other runtime subsystems.
type ClassLoaderInstance struct {
	Instance
}

// MirrorInstance is a class object. Besides its instance fields it holds a
// per-object region of static reference fields whose length is stored in the
// object itself.
type MirrorInstance struct {
	Instance
	StaticFieldsOffset uintptr
	StaticCountOffset  uintptr
}

// RefInstance is a reference-holding instance. Its referent and discovered
// slots are not part of Maps.
type RefInstance struct {
	Instance
	Type             ReferenceType
	ReferentOffset   uintptr
	DiscoveredOffset uintptr
}

// ObjArray is an array of references
type ObjArray struct{}

// TypeArray is an array of primitive elements
type TypeArray struct {
	Elem BasicType
}

func (Instance) Kind() Kind            { return KindInstance }
func (ClassLoaderInstance) Kind() Kind { return KindInstanceClassLoader }
func (MirrorInstance) Kind() Kind      { return KindInstanceMirror }
func (RefInstance) Kind() Kind         { return KindInstanceRef }
func (ObjArray) Kind() Kind            { return KindObjArray }
func (TypeArray) Kind() Kind           { return KindTypeArray }

func (Instance) isShape()            {}
func (ClassLoaderInstance) isShape() {}
func (MirrorInstance) isShape()      {}
func (RefInstance) isShape()         {}
func (ObjArray) isShape()            {}
func (TypeArray) isShape()           {}

// Class is the descriptor shared by all objects of one class.
// ID is the raw discriminant as the runtime stores it; Shape is its decoded
// layout. Descriptors are immutable once registered.
type Class struct {
	Name  string
	ID    Kind
	Shape Shape
}

// NewClass builds a descriptor whose discriminant matches shape
func NewClass(name string, shape Shape) *Class {
	return &Class{Name: name, ID: shape.Kind(), Shape: shape}
}

// FieldRanges returns the byte ranges [start, end) the runtime uses at a fixed
// offset past the header in every object of the class: reference slots and
// length fields. Per-object regions (mirror statics, array elements) are
// reported from their fixed start with zero length.
func (c *Class) FieldRanges() [][2]uintptr {
	var out [][2]uintptr
	appendMaps := func(in Instance) {
		for _, m := range in.Maps {
			out = append(out, [2]uintptr{m.Offset, m.End()})
		}
	}
	switch s := c.Shape.(type) {
	case Instance:
		appendMaps(s)
	case ClassLoaderInstance:
		appendMaps(s.Instance)
	case MirrorInstance:
		appendMaps(s.Instance)
		out = append(out, [2]uintptr{s.StaticFieldsOffset, s.StaticFieldsOffset})
	case RefInstance:
		appendMaps(s.Instance)
		out = append(out,
			[2]uintptr{s.ReferentOffset, s.ReferentOffset + heap.BytesInAddress},
			[2]uintptr{s.DiscoveredOffset, s.DiscoveredOffset + heap.BytesInAddress})
	case ObjArray:
		out = append(out, [2]uintptr{ArrayLengthOffset, ArrayLengthOffset + 4})
		out = append(out, [2]uintptr{ArrayBaseOffset, ArrayBaseOffset})
	case TypeArray:
		out = append(out, [2]uintptr{ArrayLengthOffset, ArrayLengthOffset + 4})
	}
	return out
}

// Validate checks that the descriptor can be scanned without leaving the
// object's extent or visiting a slot twice
func (c *Class) Validate() error {
	if c.Shape == nil {
		return fmt.Errorf("class %q: no shape: %w", c.Name, ErrInvalidClass)
	}
	if c.ID != c.Shape.Kind() {
		return fmt.Errorf("class %q: discriminant %d does not match %s shape: %w",
			c.Name, int32(c.ID), c.Shape.Kind(), ErrInvalidClass)
	}

	switch s := c.Shape.(type) {
	case Instance:
		return validateInstance(c.Name, s)
	case ClassLoaderInstance:
		return validateInstance(c.Name, s.Instance)
	case MirrorInstance:
		if err := validateInstance(c.Name, s.Instance); err != nil {
			return err
		}
		if s.StaticFieldsOffset < s.Size || !aligned(s.StaticFieldsOffset) {
			return fmt.Errorf("class %q: static fields at %d must be word aligned and follow the instance (size %d): %w",
				c.Name, s.StaticFieldsOffset, s.Size, ErrInvalidClass)
		}
		if s.StaticCountOffset < HeaderSize || s.StaticCountOffset+4 > s.Size || s.StaticCountOffset%4 != 0 {
			return fmt.Errorf("class %q: static count at %d outside instance: %w",
				c.Name, s.StaticCountOffset, ErrInvalidClass)
		}
		if overlapsMaps(s.Maps, s.StaticCountOffset, s.StaticCountOffset+4) {
			return fmt.Errorf("class %q: static count overlaps a reference slot: %w", c.Name, ErrInvalidClass)
		}
	case RefInstance:
		if err := validateInstance(c.Name, s.Instance); err != nil {
			return err
		}
		if !s.Type.Valid() || s.Type == RefNone {
			return fmt.Errorf("class %q: reference type %s: %w", c.Name, s.Type, ErrInvalidClass)
		}
		for _, off := range []uintptr{s.ReferentOffset, s.DiscoveredOffset} {
			if off < HeaderSize || off+heap.BytesInAddress > s.Size || !aligned(off) {
				return fmt.Errorf("class %q: reference slot at %d outside instance: %w", c.Name, off, ErrInvalidClass)
			}
			if overlapsMaps(s.Maps, off, off+heap.BytesInAddress) {
				return fmt.Errorf("class %q: reference slot at %d also covered by an oop map: %w", c.Name, off, ErrInvalidClass)
			}
		}
		if s.ReferentOffset == s.DiscoveredOffset {
			return fmt.Errorf("class %q: referent and discovered share offset %d: %w", c.Name, s.ReferentOffset, ErrInvalidClass)
		}
	case TypeArray:
		if s.Elem.Size() == 0 {
			return fmt.Errorf("class %q: element type %s: %w", c.Name, s.Elem, ErrInvalidClass)
		}
	case ObjArray:
	}
	return nil
}

func validateInstance(name string, in Instance) error {
	if in.Size < HeaderSize || !aligned(in.Size) {
		return fmt.Errorf("class %q: instance size %d: %w", name, in.Size, ErrInvalidClass)
	}
	for i, m := range in.Maps {
		if m.Count == 0 {
			return fmt.Errorf("class %q: oop map %d is empty: %w", name, i, ErrInvalidClass)
		}
		if m.Offset < HeaderSize || !aligned(m.Offset) || m.End() > in.Size {
			return fmt.Errorf("class %q: oop map %d [%d, %d) outside fields [%d, %d): %w",
				name, i, m.Offset, m.End(), HeaderSize, in.Size, ErrInvalidClass)
		}
		if overlapsMaps(in.Maps[:i], m.Offset, m.End()) {
			return fmt.Errorf("class %q: oop map %d overlaps an earlier map: %w", name, i, ErrInvalidClass)
		}
	}
	return nil
}

func overlapsMaps(maps []OopMapBlock, start, end uintptr) bool {
	for _, m := range maps {
		if start < m.End() && m.Offset < end {
			return true
		}
	}
	return false
}

func aligned(off uintptr) bool {
	return off&(heap.BytesInAddress-1) == 0
}
