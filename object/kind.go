// ABOUTME: Class-shape kinds, reference strength categories and primitive element types
// ABOUTME: Discriminant values match the runtime's compiled class descriptor format

package object

import "fmt"

// Kind is the class-shape discriminant stored in every class descriptor
type Kind int32

const (
	KindInstance Kind = iota
	KindInstanceRef
	KindInstanceMirror
	KindInstanceClassLoader
	KindTypeArray
	KindObjArray

	numKinds
)

// Valid reports whether k is one of the six known kinds
func (k Kind) Valid() bool {
	return k >= 0 && k < numKinds
}

func (k Kind) String() string {
	switch k {
	case KindInstance:
		return "Instance"
	case KindInstanceRef:
		return "InstanceRef"
	case KindInstanceMirror:
		return "InstanceMirror"
	case KindInstanceClassLoader:
		return "InstanceClassLoader"
	case KindTypeArray:
		return "TypeArray"
	case KindObjArray:
		return "ObjArray"
	}
	return fmt.Sprintf("Kind(%d)", int32(k))
}

// ReferenceType is the strength category of a reference-holding instance
type ReferenceType uint8

const (
	RefNone ReferenceType = iota
	RefOther
	RefSoft
	RefWeak
	RefFinal
	RefPhantom

	numRefTypes
)

// Valid reports whether t is a known category
func (t ReferenceType) Valid() bool {
	return t < numRefTypes
}

// Deferred reports whether the referent of t is handed to reference processing
// instead of being traced
func (t ReferenceType) Deferred() bool {
	return t == RefWeak || t == RefSoft || t == RefPhantom
}

func (t ReferenceType) String() string {
	switch t {
	case RefNone:
		return "none"
	case RefOther:
		return "other"
	case RefSoft:
		return "soft"
	case RefWeak:
		return "weak"
	case RefFinal:
		return "final"
	case RefPhantom:
		return "phantom"
	}
	return fmt.Sprintf("ReferenceType(%d)", uint8(t))
}

// ParseReferenceType maps a category name to its value
func ParseReferenceType(s string) (ReferenceType, error) {
	for t := RefNone; t < numRefTypes; t++ {
		if t.String() == s {
			return t, nil
		}
	}
	return RefNone, fmt.Errorf("unknown reference type %q", s)
}

// BasicType is the element type of a primitive array
type BasicType uint8

const (
	TBoolean BasicType = iota + 4
	TChar
	TFloat
	TDouble
	TByte
	TShort
	TInt
	TLong
)

var basicTypes = map[BasicType]struct {
	name string
	size uintptr
}{
	TBoolean: {"boolean", 1},
	TChar:    {"char", 2},
	TFloat:   {"float", 4},
	TDouble:  {"double", 8},
	TByte:    {"byte", 1},
	TShort:   {"short", 2},
	TInt:     {"int", 4},
	TLong:    {"long", 8},
}

// Size returns the element size in bytes, or 0 for an unknown type
func (b BasicType) Size() uintptr {
	return basicTypes[b].size
}

func (b BasicType) String() string {
	if info, ok := basicTypes[b]; ok {
		return info.name
	}
	return fmt.Sprintf("BasicType(%d)", uint8(b))
}

// ParseBasicType maps a primitive type name to its value
func ParseBasicType(s string) (BasicType, error) {
	for b, info := range basicTypes {
		if info.name == s {
			return b, nil
		}
	}
	return 0, fmt.Errorf("unknown element type %q", s)
}
