// ABOUTME: Metadata bit specs describing where per-object collector metadata lives
// ABOUTME: A spec is either a bit range in the object header or a side-table region

package layout

import (
	"fmt"

	"github.com/prateek/heapscan/heap"
)

// Storage says where a piece of metadata is kept
type Storage int

const (
	// InHeader metadata lives in the object's mark word
	InHeader Storage = iota
	// OnSide metadata lives in a side table indexed by object address
	OnSide
)

func (s Storage) String() string {
	if s == InHeader {
		return "header"
	}
	return "side"
}

// Table names a side-metadata address space. Global specs are shared by every
// space of the collector; local specs belong to one policy's space.
type Table int

const (
	Local Table = iota
	Global
)

func (t Table) String() string {
	if t == Global {
		return "global"
	}
	return "local"
}

// Spec describes one piece of per-object metadata.
//
// Header specs occupy NumBits bits starting at BitOffset from the object start.
// Side specs occupy NumBits bits per 1<<LogGranule bytes of heap, in a region
// starting Offset bytes into their side table.
type Spec struct {
	Name       string
	Storage    Storage
	NumBits    int
	BitOffset  int
	Table      Table
	LogGranule uint
	Offset     uintptr
}

// DefaultLogGranule is one side-metadata entry per object alignment unit
const DefaultLogGranule = heap.LogBytesInAddress

// InHeaderSpec returns a header spec at bitOffset
func InHeaderSpec(name string, bitOffset, numBits int) Spec {
	return Spec{Name: name, Storage: InHeader, NumBits: numBits, BitOffset: bitOffset}
}

// SideSpec returns an unplaced side spec; Chain assigns its Offset
func SideSpec(name string, table Table, numBits int) Spec {
	return Spec{Name: name, Storage: OnSide, NumBits: numBits, Table: table, LogGranule: DefaultLogGranule}
}

// IsHeader reports whether the spec is stored in the object header
func (s Spec) IsHeader() bool {
	return s.Storage == InHeader
}

// Mask returns the low NumBits bits set
func (s Spec) Mask() uint64 {
	if s.NumBits >= heap.BitsInWord {
		return ^uint64(0)
	}
	return 1<<uint(s.NumBits) - 1
}

// RegionBytes returns the size of the side-table region covering capacity
// bytes of heap, rounded up to whole words
func (s Spec) RegionBytes(capacity uintptr) uintptr {
	entries := capacity >> s.LogGranule
	bits := entries * uintptr(s.NumBits)
	bytes := (bits + 7) >> heap.LogBitsInByte
	return heap.AlignUp(bytes, heap.BytesInAddress)
}

// BitRange returns the half-open bit range [start, end) the spec claims in its
// side table for a heap of capacity bytes
func (s Spec) BitRange(capacity uintptr) (start, end uint64) {
	start = uint64(s.Offset) << heap.LogBitsInByte
	return start, start + uint64(s.RegionBytes(capacity))<<heap.LogBitsInByte
}

// HeaderBytes returns the byte range [start, end) a header spec touches
func (s Spec) HeaderBytes() (start, end uintptr) {
	return uintptr(s.BitOffset) >> heap.LogBitsInByte, uintptr(s.BitOffset+s.NumBits+7) >> heap.LogBitsInByte
}

func (s Spec) String() string {
	if s.IsHeader() {
		return fmt.Sprintf("%s(header bits %d..%d)", s.Name, s.BitOffset, s.BitOffset+s.NumBits)
	}
	return fmt.Sprintf("%s(%s side +%d, %d bits/%dB)", s.Name, s.Table, s.Offset, s.NumBits, 1<<s.LogGranule)
}
