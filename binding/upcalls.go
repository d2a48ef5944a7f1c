// ABOUTME: The table of entry points the host runtime supplies to the binding
// ABOUTME: Root enumeration, mutator iteration, object size and is-mutator are required

package binding

import (
	"errors"
	"fmt"
	"strings"

	"github.com/prateek/heapscan/heap"
	"github.com/prateek/heapscan/opaque"
	"github.com/prateek/heapscan/scan"
	"github.com/prateek/heapscan/work"
)

// ErrMissingUpcall is returned when a required upcall is nil
var ErrMissingUpcall = errors.New("missing upcall")

// Mutator is the collector-side context bound to one runtime thread
type Mutator struct {
	TLS opaque.MutatorThread
}

// Upcalls are the functions the runtime supplies. Root enumerators receive an
// EdgesClosure and hand filled buffers back through it.
type Upcalls struct {
	StopAllMutators           func(tls opaque.WorkerThread)
	ResumeMutators            func(tls opaque.WorkerThread)
	BlockForGC                func()
	GetNextMutator            func() *Mutator
	ResetMutatorIterator      func()
	ScanAllThreadRoots        func(closure work.EdgesClosure)
	ScanThreadRoots           func(closure work.EdgesClosure, tls opaque.MutatorThread)
	ComputeStaticRoots        func(closure work.EdgesClosure, tls opaque.WorkerThread)
	ComputeGlobalRoots        func(closure work.EdgesClosure, tls opaque.WorkerThread)
	ScanObject                func(v scan.EdgeVisitor, obj heap.ObjectReference, tls opaque.WorkerThread)
	DumpObject                func(obj heap.ObjectReference) string
	GetObjectSize             func(obj heap.ObjectReference) uintptr
	GetMutator                func(tls opaque.MutatorThread) *Mutator
	IsMutator                 func(tls opaque.Thread) bool
	PrepareForRootsReScanning func()
}

func (u *Upcalls) validate() error {
	var missing []string
	required := []struct {
		name string
		set  bool
	}{
		{"GetNextMutator", u.GetNextMutator != nil},
		{"ResetMutatorIterator", u.ResetMutatorIterator != nil},
		{"ScanAllThreadRoots", u.ScanAllThreadRoots != nil},
		{"ScanThreadRoots", u.ScanThreadRoots != nil},
		{"ComputeStaticRoots", u.ComputeStaticRoots != nil},
		{"ComputeGlobalRoots", u.ComputeGlobalRoots != nil},
		{"GetObjectSize", u.GetObjectSize != nil},
		{"IsMutator", u.IsMutator != nil},
	}
	for _, r := range required {
		if !r.set {
			missing = append(missing, r.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s: %w", strings.Join(missing, ", "), ErrMissingUpcall)
	}
	return nil
}
