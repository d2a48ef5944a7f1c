// ABOUTME: Tests for metadata spec placement and validation
// ABOUTME: Includes a property test that chained side specs never overlap

package layout

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/prateek/heapscan/object"
)

func TestComputeDefaultLayout(t *testing.T) {
	l, err := Compute(Config{Capacity: 1 << 20})
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	if !l.ForwardingPointer.IsHeader() || l.ForwardingPointer.BitOffset != 0 || l.ForwardingPointer.NumBits != 64 {
		t.Errorf("Unexpected forwarding pointer spec %s", l.ForwardingPointer)
	}
	if !l.ForwardingBits.IsHeader() || l.ForwardingBits.BitOffset != 56 || l.ForwardingBits.NumBits != 2 {
		t.Errorf("Unexpected forwarding bits spec %s", l.ForwardingBits)
	}
	if l.LOSMarkNursery.IsHeader() || l.LOSMarkNursery.Offset != 0 {
		t.Errorf("Expected LOS bits first in the local side table, got %s", l.LOSMarkNursery)
	}
	if l.MarkBit.IsHeader() {
		t.Fatalf("Expected side mark bit, got %s", l.MarkBit)
	}

	// 1MiB / 8B granules * 2 bits = 32KiB
	if want := l.LOSMarkNursery.RegionBytes(1 << 20); want != 32<<10 || l.MarkBit.Offset != want {
		t.Errorf("Expected mark bit to start right after LOS region (%d), got offset %d", want, l.MarkBit.Offset)
	}
	if l.GlobalLogBit.Table != Global || l.GlobalLogBit.Offset != 0 {
		t.Errorf("Expected log bit first in the global side table, got %s", l.GlobalLogBit)
	}
	if got, want := l.SideBytes(Local), uintptr(32<<10+16<<10); got != want {
		t.Errorf("Expected %d local side bytes, got %d", want, got)
	}
}

func TestComputeMarkBitInHeader(t *testing.T) {
	l, err := Compute(Config{Capacity: 1 << 16, MarkBitInHeader: true})
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if !l.MarkBit.IsHeader() || l.MarkBit.BitOffset != ForwardingBitsBitOffset {
		t.Errorf("Expected mark bit in header at forwarding bits, got %s", l.MarkBit)
	}
	if l.SideBytes(Local) != l.LOSMarkNursery.RegionBytes(1<<16) {
		t.Errorf("Expected only LOS bits in local side table, got %d bytes", l.SideBytes(Local))
	}
}

func TestComputeZeroCapacity(t *testing.T) {
	if _, err := Compute(Config{}); !errors.Is(err, ErrInvalidSpec) {
		t.Errorf("Expected ErrInvalidSpec, got %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	a := SideSpec("a", Local, 1)
	b := SideSpec("b", Local, 2)
	b.Offset = 8

	tests := []struct {
		name  string
		specs []Spec
		want  error
	}{
		{"header past mark word", []Spec{InHeaderSpec("x", 60, 8)}, ErrInvalidSpec},
		{"header zero bits", []Spec{InHeaderSpec("x", 0, 0)}, ErrInvalidSpec},
		{"side three bits", []Spec{SideSpec("x", Local, 3)}, ErrInvalidSpec},
		{"side sixteen bits", []Spec{SideSpec("x", Local, 16)}, ErrInvalidSpec},
		{"side overlap", []Spec{a, b}, ErrOverlap},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Validate(1024, tt.specs...); !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}

	// Same offsets in different tables do not collide
	g := SideSpec("g", Global, 1)
	if err := Validate(1024, a, g); err != nil {
		t.Errorf("Expected specs in different tables to validate, got %v", err)
	}
}

func TestChainRecomputesStaleOffsets(t *testing.T) {
	stale := SideSpec("mark", Local, 1)
	stale.Offset = 4096

	out, err := Chain(1<<12, SideSpec("los", Local, 2), stale)
	if err != nil {
		t.Fatalf("Chain failed: %v", err)
	}
	if out[1].Offset != out[0].RegionBytes(1<<12) {
		t.Errorf("Expected stale offset to be recomputed, got %d", out[1].Offset)
	}

	// Reordering recomputes the chain consistently
	out, err = Chain(1<<12, stale, SideSpec("los", Local, 2))
	if err != nil {
		t.Fatalf("Chain failed: %v", err)
	}
	if out[0].Offset != 0 || out[1].Offset != out[0].RegionBytes(1<<12) {
		t.Errorf("Unexpected offsets after reorder: %d, %d", out[0].Offset, out[1].Offset)
	}

	if _, err := Chain(1<<12, InHeaderSpec("h", 0, 1)); !errors.Is(err, ErrInvalidSpec) {
		t.Errorf("Expected header spec to be rejected from chain, got %v", err)
	}
}

// Property: chained side specs claim pairwise disjoint bit ranges for any
// capacity, spec widths and order
func TestPropertyChainedSideSpecsDisjoint(t *testing.T) {
	widths := []int{1, 2, 4, 8}
	for i := 0; i < 200; i++ {
		rng := rand.New(rand.NewSource(int64(i)))
		capacity := uintptr(rng.Intn(1<<20)+1) &^ 7
		if capacity == 0 {
			capacity = 8
		}

		n := rng.Intn(6) + 1
		specs := make([]Spec, n)
		for j := range specs {
			table := Local
			if rng.Intn(2) == 0 {
				table = Global
			}
			specs[j] = SideSpec("s", table, widths[rng.Intn(len(widths))])
			specs[j].LogGranule = uint(3 + rng.Intn(3))
		}

		chained, err := Chain(capacity, specs...)
		if err != nil {
			t.Fatalf("seed %d: Chain failed: %v", i, err)
		}
		if err := Validate(capacity, chained...); err != nil {
			t.Fatalf("seed %d: chained specs failed validation: %v", i, err)
		}

		for a := range chained {
			aStart, aEnd := chained[a].BitRange(capacity)
			entries := uint64(capacity >> chained[a].LogGranule)
			if aEnd-aStart < entries*uint64(chained[a].NumBits) {
				t.Errorf("seed %d: spec %d region too small for %d entries", i, a, entries)
			}
			for b := a + 1; b < len(chained); b++ {
				if chained[a].Table != chained[b].Table {
					continue
				}
				bStart, bEnd := chained[b].BitRange(capacity)
				if aStart < bEnd && bStart < aEnd {
					t.Errorf("seed %d: specs %d and %d overlap: [%d,%d) [%d,%d)", i, a, b, aStart, aEnd, bStart, bEnd)
				}
			}
		}
	}
}

func TestCheckClasses(t *testing.T) {
	l, err := Compute(Config{Capacity: 1 << 16, MarkBitInHeader: true})
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	classes := object.NewClassTable()
	for _, c := range []*object.Class{
		object.NewClass("Node", object.Instance{Size: 32, Maps: []object.OopMapBlock{{Offset: 16, Count: 2}}}),
		object.NewClass("Object[]", object.ObjArray{}),
		object.NewClass("byte[]", object.TypeArray{Elem: object.TByte}),
	} {
		if _, err := classes.Register(c); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}
	if err := l.CheckClasses(classes); err != nil {
		t.Errorf("Expected default header specs to avoid all fields, got %v", err)
	}

	// A header spec reaching past the header word collides with the array length
	bad := *l
	bad.ForwardingBits = InHeaderSpec("forwarding-bits", 64, 2)
	if err := bad.CheckClasses(classes); !errors.Is(err, ErrOverlap) {
		t.Errorf("Expected ErrOverlap, got %v", err)
	}
}

func TestCheckHeaderBits(t *testing.T) {
	tests := []struct {
		spec Spec
		ok   bool
	}{
		{InHeaderSpec("mark", 56, 1), true},
		{InHeaderSpec("flags", 32, 8), true},
		{InHeaderSpec("low", 0, 2), false},
		{InHeaderSpec("straddle", 31, 2), false},
		{SideSpec("side", Local, 1), true},
	}
	for _, tt := range tests {
		err := CheckHeaderBits(tt.spec)
		if tt.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tt.spec.Name, err)
		}
		if !tt.ok && !errors.Is(err, ErrOverlap) {
			t.Errorf("%s: expected ErrOverlap, got %v", tt.spec.Name, err)
		}
	}
}
