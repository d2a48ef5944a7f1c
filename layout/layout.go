// ABOUTME: Computes and validates the collector metadata layout for a heap
// ABOUTME: Chains side-table specs so each region starts right after the previous one

package layout

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/prateek/heapscan/heap"
	"github.com/prateek/heapscan/object"
)

var (
	// ErrInvalidSpec is returned for a spec that cannot be stored where it claims
	ErrInvalidSpec = errors.New("invalid metadata spec")
	// ErrOverlap is returned when two specs claim the same storage
	ErrOverlap = errors.New("metadata specs overlap")
)

// Header bit positions fixed by the runtime's mark word format
const (
	ForwardingPointerBitOffset = 0
	ForwardingBitsBitOffset    = 56
	ForwardingBitsNumBits      = 2
)

// Config selects where movable metadata is stored
type Config struct {
	// Capacity is the number of heap bytes side tables must cover
	Capacity uintptr
	// MarkBitInHeader stores the mark bit in the mark word instead of a side table
	MarkBitInHeader bool
}

// Layout is the validated placement of every metadata spec
type Layout struct {
	Capacity          uintptr
	ForwardingPointer Spec
	ForwardingBits    Spec
	MarkBit           Spec
	LOSMarkNursery    Spec
	GlobalLogBit      Spec
}

// Compute places the metadata specs for cfg and validates the result
func Compute(cfg Config) (*Layout, error) {
	if cfg.Capacity == 0 {
		return nil, fmt.Errorf("compute layout: zero capacity: %w", ErrInvalidSpec)
	}

	l := &Layout{
		Capacity:          cfg.Capacity,
		ForwardingPointer: InHeaderSpec("forwarding-pointer", ForwardingPointerBitOffset, heap.BitsInWord),
		ForwardingBits:    InHeaderSpec("forwarding-bits", ForwardingBitsBitOffset, ForwardingBitsNumBits),
	}

	global, err := Chain(cfg.Capacity, SideSpec("global-log-bit", Global, 1))
	if err != nil {
		return nil, err
	}
	l.GlobalLogBit = global[0]

	if cfg.MarkBitInHeader {
		l.MarkBit = InHeaderSpec("mark-bit", ForwardingBitsBitOffset, 1)
		local, err := Chain(cfg.Capacity, SideSpec("los-mark-nursery", Local, 2))
		if err != nil {
			return nil, err
		}
		l.LOSMarkNursery = local[0]
	} else {
		local, err := Chain(cfg.Capacity,
			SideSpec("los-mark-nursery", Local, 2),
			SideSpec("mark-bit", Local, 1))
		if err != nil {
			return nil, err
		}
		l.LOSMarkNursery, l.MarkBit = local[0], local[1]
	}

	if err := Validate(cfg.Capacity, l.Specs()...); err != nil {
		return nil, err
	}
	for _, s := range []Spec{l.ForwardingBits, l.MarkBit} {
		if err := CheckHeaderBits(s); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// CheckHeaderBits asserts that a header spec kept on live objects leaves the
// class id bits of the header word alone. The forwarding pointer is exempt:
// it only ever replaces the header of an object that has been copied away.
func CheckHeaderBits(s Spec) error {
	if !s.IsHeader() {
		return nil
	}
	if s.BitOffset < object.ClassIDBits {
		return fmt.Errorf("spec %s: overlaps class id bits [0, %d): %w", s, object.ClassIDBits, ErrOverlap)
	}
	return nil
}

// Specs returns every spec of the layout
func (l *Layout) Specs() []Spec {
	return []Spec{l.ForwardingPointer, l.ForwardingBits, l.MarkBit, l.LOSMarkNursery, l.GlobalLogBit}
}

// SideBytes returns the size of the side table needed for table
func (l *Layout) SideBytes(table Table) uintptr {
	var end uintptr
	for _, s := range l.Specs() {
		if !s.IsHeader() && s.Table == table {
			end = max(end, s.Offset+s.RegionBytes(l.Capacity))
		}
	}
	return end
}

// Chain assigns offsets to side specs in order: within each table, a spec's
// region starts where the previous spec's region ends. Offsets already set on
// the inputs are ignored, so chaining is recomputed from scratch every time.
func Chain(capacity uintptr, specs ...Spec) ([]Spec, error) {
	next := map[Table]uintptr{}
	out := make([]Spec, len(specs))
	for i, s := range specs {
		if s.IsHeader() {
			return nil, fmt.Errorf("chain %s: header spec in side chain: %w", s.Name, ErrInvalidSpec)
		}
		if err := validateSide(s); err != nil {
			return nil, err
		}
		s.Offset = next[s.Table]
		next[s.Table] = s.Offset + s.RegionBytes(capacity)
		out[i] = s
	}
	return out, nil
}

// Validate checks each spec on its own and that no two side specs in the same
// table claim overlapping bit ranges. Header specs may share mark word bits
// with each other; they are never live for the same object at the same time.
func Validate(capacity uintptr, specs ...Spec) error {
	for _, s := range specs {
		if s.IsHeader() {
			if err := validateHeader(s); err != nil {
				return err
			}
			continue
		}
		if err := validateSide(s); err != nil {
			return err
		}
		if s.Offset&(heap.BytesInAddress-1) != 0 {
			return fmt.Errorf("spec %s: side offset %d not word aligned: %w", s.Name, s.Offset, ErrInvalidSpec)
		}
	}

	for i, a := range specs {
		if a.IsHeader() {
			continue
		}
		aStart, aEnd := a.BitRange(capacity)
		for _, b := range specs[i+1:] {
			if b.IsHeader() || b.Table != a.Table {
				continue
			}
			bStart, bEnd := b.BitRange(capacity)
			if aStart < bEnd && bStart < aEnd {
				return fmt.Errorf("%s and %s: %w", a, b, ErrOverlap)
			}
		}
	}
	return nil
}

func validateHeader(s Spec) error {
	if s.NumBits <= 0 || s.BitOffset < 0 || s.BitOffset+s.NumBits > heap.BitsInWord {
		return fmt.Errorf("spec %s: header bits must lie in the mark word: %w", s, ErrInvalidSpec)
	}
	return nil
}

func validateSide(s Spec) error {
	if s.NumBits <= 0 || s.NumBits > 8 || bits.OnesCount(uint(s.NumBits)) != 1 {
		return fmt.Errorf("spec %s: side entries must be 1, 2, 4 or 8 bits: %w", s.Name, ErrInvalidSpec)
	}
	if s.LogGranule < heap.LogBytesInAddress {
		return fmt.Errorf("spec %s: granule smaller than object alignment: %w", s.Name, ErrInvalidSpec)
	}
	return nil
}

// CheckClasses asserts that no header spec overlaps a field the runtime uses
// at a fixed offset in any registered class
func (l *Layout) CheckClasses(classes *object.ClassTable) error {
	var err error
	classes.ForEachClass(func(_ object.ClassID, c *object.Class) {
		if err != nil {
			return
		}
		err = l.CheckClass(c)
	})
	return err
}

// CheckClass asserts that no header spec overlaps a fixed field of c
func (l *Layout) CheckClass(c *object.Class) error {
	for _, s := range l.Specs() {
		if !s.IsHeader() {
			continue
		}
		hStart, hEnd := s.HeaderBytes()
		for _, r := range c.FieldRanges() {
			start, end := r[0], r[1]
			if end == start {
				end = start + 1
			}
			if hStart < end && start < hEnd {
				return fmt.Errorf("%s overlaps field bytes [%d, %d) of class %q: %w", s, r[0], r[1], c.Name, ErrOverlap)
			}
		}
	}
	return nil
}
