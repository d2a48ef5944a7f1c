// ABOUTME: Address and object handle types for the scanned heap
// ABOUTME: Defines word size constants shared by every layout computation

package heap

import "fmt"

const (
	// LogBytesInAddress is log2 of the size of a reference slot
	LogBytesInAddress = 3
	// BytesInAddress is the size of a reference slot in bytes
	BytesInAddress = 1 << LogBytesInAddress
	// LogBitsInByte is log2 of the number of bits in a byte
	LogBitsInByte = 3
	// BitsInWord is the number of bits in a machine word
	BitsInWord = BytesInAddress << LogBitsInByte
)

// Address is a raw address inside a Space
type Address uint64

// Add returns a+off
func (a Address) Add(off uintptr) Address {
	return a + Address(off)
}

// Sub returns the distance in bytes from b to a
func (a Address) Sub(b Address) uintptr {
	return uintptr(a - b)
}

// IsZero reports whether a is the null address
func (a Address) IsZero() bool {
	return a == 0
}

// IsAligned reports whether a is aligned to align bytes; align must be a power of two
func (a Address) IsAligned(align uintptr) bool {
	return uintptr(a)&(align-1) == 0
}

func (a Address) String() string {
	return fmt.Sprintf("0x%x", uint64(a))
}

// ObjectReference is an opaque handle identifying a heap object.
// It carries no type information; the class pointer in the object header does.
type ObjectReference Address

// Null is the null object reference
const Null ObjectReference = 0

// ToAddress returns the start address of the object
func (o ObjectReference) ToAddress() Address {
	return Address(o)
}

// IsNull reports whether o is the null reference
func (o ObjectReference) IsNull() bool {
	return o == Null
}

// Field returns the address of the slot at offset bytes from the object start
func (o ObjectReference) Field(offset uintptr) Address {
	return Address(o).Add(offset)
}

func (o ObjectReference) String() string {
	return Address(o).String()
}

// AlignUp rounds n up to a multiple of align; align must be a power of two
func AlignUp(n, align uintptr) uintptr {
	return (n + align - 1) &^ (align - 1)
}
