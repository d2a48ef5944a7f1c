// ABOUTME: Reads and writes per-object collector metadata wherever its spec places it
// ABOUTME: Provides atomic mark-bit and forwarding-state transitions for collector workers

package layout

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/prateek/heapscan/heap"
	"github.com/prateek/heapscan/object"
)

// Forwarding states stored in the forwarding bits
const (
	NotForwarded   uint64 = 0b00
	BeingForwarded uint64 = 0b10
	Forwarded      uint64 = 0b11
)

// Metadata gives access to the metadata of objects in one space
type Metadata struct {
	layout *Layout
	space  *heap.Space
	local  []uint64
	global []uint64
}

// NewMetadata allocates side tables for space according to l
func NewMetadata(l *Layout, space *heap.Space) (*Metadata, error) {
	if space.Size() > l.Capacity {
		return nil, fmt.Errorf("space of %d bytes exceeds layout capacity %d: %w", space.Size(), l.Capacity, ErrInvalidSpec)
	}
	return &Metadata{
		layout: l,
		space:  space,
		local:  make([]uint64, l.SideBytes(Local)>>heap.LogBytesInAddress),
		global: make([]uint64, l.SideBytes(Global)>>heap.LogBytesInAddress),
	}, nil
}

// Layout returns the layout the metadata follows
func (m *Metadata) Layout() *Layout { return m.layout }

// locate returns the word holding the spec's bits for obj and their shift
func (m *Metadata) locate(s Spec, obj heap.ObjectReference) (*uint64, uint) {
	if s.IsHeader() {
		return nil, uint(s.BitOffset)
	}
	addr := obj.ToAddress()
	if !m.space.Contains(addr) {
		panic(fmt.Sprintf("layout: %s lookup for %s outside space", s.Name, obj))
	}
	entry := uint64(addr.Sub(m.space.Start()) >> s.LogGranule)
	bit := uint64(s.Offset)<<heap.LogBitsInByte + entry*uint64(s.NumBits)
	table := m.local
	if s.Table == Global {
		table = m.global
	}
	return &table[bit/heap.BitsInWord], uint(bit % heap.BitsInWord)
}

func (m *Metadata) loadWord(obj heap.ObjectReference, w *uint64) uint64 {
	if w == nil {
		return m.space.LoadWord(obj.Field(object.MarkWordOffset))
	}
	return atomic.LoadUint64(w)
}

func (m *Metadata) casWord(obj heap.ObjectReference, w *uint64, old, new uint64) bool {
	if w == nil {
		return m.space.CompareAndSwapWord(obj.Field(object.MarkWordOffset), old, new)
	}
	return atomic.CompareAndSwapUint64(w, old, new)
}

// Load returns the value of spec s for obj
func (m *Metadata) Load(s Spec, obj heap.ObjectReference) uint64 {
	w, shift := m.locate(s, obj)
	return m.loadWord(obj, w) >> shift & s.Mask()
}

// Store sets the value of spec s for obj, leaving neighbouring bits intact
func (m *Metadata) Store(s Spec, obj heap.ObjectReference, v uint64) {
	for {
		old := m.Load(s, obj)
		if m.CompareExchange(s, obj, old, v) {
			return
		}
	}
}

// CompareExchange atomically replaces old with new for spec s of obj
func (m *Metadata) CompareExchange(s Spec, obj heap.ObjectReference, old, new uint64) bool {
	w, shift := m.locate(s, obj)
	mask := s.Mask() << shift
	for {
		word := m.loadWord(obj, w)
		if word>>shift&s.Mask() != old&s.Mask() {
			return false
		}
		next := word&^mask | (new&s.Mask())<<shift
		if m.casWord(obj, w, word, next) {
			return true
		}
	}
}

// TestAndMark sets the mark bit of obj and reports whether this call set it
func (m *Metadata) TestAndMark(obj heap.ObjectReference) bool {
	return m.CompareExchange(m.layout.MarkBit, obj, 0, 1)
}

// IsMarked reports whether obj's mark bit is set
func (m *Metadata) IsMarked(obj heap.ObjectReference) bool {
	return m.Load(m.layout.MarkBit, obj) == 1
}

// ClearMark clears obj's mark bit
func (m *Metadata) ClearMark(obj heap.ObjectReference) {
	m.Store(m.layout.MarkBit, obj, 0)
}

// ClearSide zeroes the whole side-table region of a side spec
func (m *Metadata) ClearSide(s Spec) {
	if s.IsHeader() {
		return
	}
	table := m.local
	if s.Table == Global {
		table = m.global
	}
	first := s.Offset >> heap.LogBytesInAddress
	last := first + s.RegionBytes(m.layout.Capacity)>>heap.LogBytesInAddress
	for i := first; i < last && i < uintptr(len(table)); i++ {
		atomic.StoreUint64(&table[i], 0)
	}
}

// ForwardingState returns the forwarding bits of obj
func (m *Metadata) ForwardingState(obj heap.ObjectReference) uint64 {
	return m.Load(m.layout.ForwardingBits, obj)
}

// AttemptToForward claims obj for copying. It returns true if the caller won
// the race and must copy the object; otherwise it returns the state observed.
func (m *Metadata) AttemptToForward(obj heap.ObjectReference) (uint64, bool) {
	if m.CompareExchange(m.layout.ForwardingBits, obj, NotForwarded, BeingForwarded) {
		return BeingForwarded, true
	}
	return m.ForwardingState(obj), false
}

// pointerMask hides the forwarding bits when they share the forwarding pointer's word
func (m *Metadata) pointerMask() uint64 {
	fp, fb := m.layout.ForwardingPointer, m.layout.ForwardingBits
	if fp.IsHeader() && fb.IsHeader() {
		return fp.Mask() &^ (fb.Mask() << uint(fb.BitOffset-fp.BitOffset))
	}
	return fp.Mask()
}

// ForwardingPointer returns the new location of a forwarded object
func (m *Metadata) ForwardingPointer(obj heap.ObjectReference) heap.ObjectReference {
	return heap.ObjectReference(m.Load(m.layout.ForwardingPointer, obj) & m.pointerMask())
}

// SetForwarded records that obj now lives at to
func (m *Metadata) SetForwarded(obj, to heap.ObjectReference) {
	fp, fb := m.layout.ForwardingPointer, m.layout.ForwardingBits
	if fp.IsHeader() && fb.IsHeader() {
		word := uint64(to)&m.pointerMask() | Forwarded<<uint(fb.BitOffset-fp.BitOffset)
		m.space.StoreWord(obj.Field(object.MarkWordOffset), word)
		return
	}
	m.Store(fp, obj, uint64(to))
	m.Store(fb, obj, Forwarded)
}

// WaitForwarded spins until another worker finishes forwarding obj and returns
// its new location
func (m *Metadata) WaitForwarded(obj heap.ObjectReference) heap.ObjectReference {
	for m.ForwardingState(obj) == BeingForwarded {
		runtime.Gosched()
	}
	return m.ForwardingPointer(obj)
}

// Forward copies size bytes of obj to the fresh allocation at to, clears the
// forwarding bits in the copy and installs the forwarding pointer in obj.
// The caller must have won AttemptToForward.
func (m *Metadata) Forward(obj, to heap.ObjectReference, size uintptr) {
	for off := uintptr(0); off < size; off += heap.BytesInAddress {
		m.space.StoreWord(to.Field(off), m.space.LoadWord(obj.Field(off)))
	}
	m.Store(m.layout.ForwardingBits, to, NotForwarded)
	m.SetForwarded(obj, to)
}
