// ABOUTME: Mutator queries and the process-wide mutator iteration cursor
// ABOUTME: NextMutator calls are serialized by one mutex per binding

package binding

import "github.com/prateek/heapscan/opaque"

// IsMutator reports whether tls is a mutator thread
func (b *Binding) IsMutator(tls opaque.Thread) bool {
	return b.upcalls.IsMutator(tls)
}

// Mutator returns the mutator bound to tls
func (b *Binding) Mutator(tls opaque.MutatorThread) *Mutator {
	if b.upcalls.GetMutator == nil {
		unimplemented("Mutator without a GetMutator upcall")
	}
	return b.upcalls.GetMutator(tls)
}

// ResetMutatorIterator rewinds the mutator cursor
func (b *Binding) ResetMutatorIterator() {
	b.mutatorMu.Lock()
	defer b.mutatorMu.Unlock()
	b.upcalls.ResetMutatorIterator()
}

// NextMutator advances the mutator cursor. It returns false once every
// mutator has been returned.
func (b *Binding) NextMutator() (*Mutator, bool) {
	b.mutatorMu.Lock()
	defer b.mutatorMu.Unlock()
	m := b.upcalls.GetNextMutator()
	if m == nil {
		return nil, false
	}
	return m, true
}

// NumberOfMutators is not provided by this binding
func (b *Binding) NumberOfMutators() int {
	unimplemented("NumberOfMutators")
	return 0
}
