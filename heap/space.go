// ABOUTME: Word-addressed simulated heap space with atomic loads and stores
// ABOUTME: Backs objects, root slots and collector metadata during scanning

package heap

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	// ErrOutOfSpace is returned when a bump allocation does not fit
	ErrOutOfSpace = errors.New("heap space exhausted")
	// ErrBadRange is returned when a space is created with an unaligned start or size
	ErrBadRange = errors.New("space range must be non-zero and word aligned")
)

// Space is a contiguous, word-aligned address range.
// All word accesses are atomic so collector workers may read objects while
// other workers update header metadata in place.
type Space struct {
	start Address
	words []uint64

	mu  sync.Mutex
	top Address
}

// NewSpace creates a zeroed space covering [start, start+size)
func NewSpace(start Address, size uintptr) (*Space, error) {
	if start == 0 || size == 0 || !start.IsAligned(BytesInAddress) || size&(BytesInAddress-1) != 0 {
		return nil, fmt.Errorf("new space at %s size %d: %w", start, size, ErrBadRange)
	}
	return &Space{
		start: start,
		words: make([]uint64, size>>LogBytesInAddress),
		top:   start,
	}, nil
}

// Start returns the first address of the space
func (s *Space) Start() Address { return s.start }

// End returns the address one past the last byte of the space
func (s *Space) End() Address {
	return s.start.Add(uintptr(len(s.words)) << LogBytesInAddress)
}

// Size returns the capacity of the space in bytes
func (s *Space) Size() uintptr {
	return uintptr(len(s.words)) << LogBytesInAddress
}

// Contains reports whether addr lies inside the space
func (s *Space) Contains(addr Address) bool {
	return addr >= s.start && addr < s.End()
}

// Used returns the number of bytes handed out by Alloc
func (s *Space) Used() uintptr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.top.Sub(s.start)
}

// Alloc bump-allocates size bytes rounded up to the word size and returns the
// zeroed region's start address
func (s *Space) Alloc(size uintptr) (Address, error) {
	size = AlignUp(size, BytesInAddress)
	s.mu.Lock()
	defer s.mu.Unlock()
	if size == 0 || s.top.Add(size) > s.End() {
		return 0, fmt.Errorf("alloc %d bytes: %w", size, ErrOutOfSpace)
	}
	addr := s.top
	s.top = s.top.Add(size)
	return addr, nil
}

func (s *Space) index(addr Address) int {
	if !addr.IsAligned(BytesInAddress) || !s.Contains(addr) {
		panic(fmt.Sprintf("heap: word access at %s outside [%s, %s) or unaligned", addr, s.start, s.End()))
	}
	return int(addr.Sub(s.start) >> LogBytesInAddress)
}

// LoadWord atomically reads the word at addr
func (s *Space) LoadWord(addr Address) uint64 {
	return atomic.LoadUint64(&s.words[s.index(addr)])
}

// StoreWord atomically writes the word at addr
func (s *Space) StoreWord(addr Address, v uint64) {
	atomic.StoreUint64(&s.words[s.index(addr)], v)
}

// CompareAndSwapWord atomically replaces old with new at addr
func (s *Space) CompareAndSwapWord(addr Address, old, new uint64) bool {
	return atomic.CompareAndSwapUint64(&s.words[s.index(addr)], old, new)
}

// LoadReference reads the reference stored in the slot at addr
func (s *Space) LoadReference(slot Address) ObjectReference {
	return ObjectReference(s.LoadWord(slot))
}

// StoreReference writes ref into the slot at addr
func (s *Space) StoreReference(slot Address, ref ObjectReference) {
	s.StoreWord(slot, uint64(ref))
}

// LoadUint32 reads a little-endian 32-bit value at a 4-byte aligned addr
func (s *Space) LoadUint32(addr Address) uint32 {
	if !addr.IsAligned(4) {
		panic(fmt.Sprintf("heap: unaligned 32-bit load at %s", addr))
	}
	word := s.LoadWord(addr &^ (BytesInAddress - 1))
	return uint32(word >> (uint(addr&4) << LogBitsInByte))
}

// StoreUint32 writes a little-endian 32-bit value at a 4-byte aligned addr
func (s *Space) StoreUint32(addr Address, v uint32) {
	if !addr.IsAligned(4) {
		panic(fmt.Sprintf("heap: unaligned 32-bit store at %s", addr))
	}
	waddr := addr &^ (BytesInAddress - 1)
	shift := uint(addr&4) << LogBitsInByte
	mask := uint64(0xffffffff) << shift
	for {
		old := s.LoadWord(waddr)
		if s.CompareAndSwapWord(waddr, old, old&^mask|uint64(v)<<shift) {
			return
		}
	}
}
