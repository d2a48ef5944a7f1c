// ABOUTME: Opaque execution-context tokens passed between the collector and the runtime
// ABOUTME: The binding never interprets them; it only hands them back to upcalls

// Package opaque defines the execution-context tokens exchanged with the host
// runtime. Their values are owned by the runtime.
package opaque

// Thread identifies any runtime thread
type Thread uintptr

// Uninitialized is the token used before the runtime has attached a thread
const Uninitialized Thread = 0

// MutatorThread identifies a thread that allocates in the heap
type MutatorThread struct {
	Thread Thread
}

// WorkerThread identifies a collector worker thread
type WorkerThread struct {
	Thread Thread
}
