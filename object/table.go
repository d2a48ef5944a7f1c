// ABOUTME: Registry mapping class ids found in object headers to descriptors
// ABOUTME: Written during bootstrap and class loading, read concurrently by scanners

package object

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrDuplicateClass is returned when a class name is registered twice
	ErrDuplicateClass = errors.New("class already registered")
	// ErrClassIDsExhausted is returned when no class id fits in the header
	ErrClassIDsExhausted = errors.New("class ids exhausted")
)

// ClassID identifies a class in object headers. Zero is never assigned.
type ClassID uint32

// ClassTable holds the descriptors of every loaded class
type ClassTable struct {
	mu     sync.RWMutex
	byID   map[ClassID]*Class
	byName map[string]ClassID
	next   ClassID
}

// NewClassTable creates an empty class table
func NewClassTable() *ClassTable {
	return &ClassTable{
		byID:   make(map[ClassID]*Class),
		byName: make(map[string]ClassID),
		next:   1,
	}
}

// Register validates c and assigns it a class id
func (t *ClassTable) Register(c *Class) (ClassID, error) {
	if err := c.Validate(); err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.byName[c.Name]; exists {
		return 0, fmt.Errorf("register %q: %w", c.Name, ErrDuplicateClass)
	}
	if uint64(t.next) > ClassIDMask || t.next == 0 {
		return 0, fmt.Errorf("register %q: %w", c.Name, ErrClassIDsExhausted)
	}
	id := t.next
	t.next++
	t.byID[id] = c
	t.byName[c.Name] = id
	return id, nil
}

// Lookup returns the descriptor for a class id
func (t *ClassTable) Lookup(id ClassID) (*Class, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.byID[id]
	return c, ok
}

// ByName returns the id and descriptor registered under name
func (t *ClassTable) ByName(name string) (ClassID, *Class, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.byName[name]
	if !ok {
		return 0, nil, false
	}
	return id, t.byID[id], true
}

// Len returns the number of registered classes
func (t *ClassTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}

// ForEachClass calls fn for every registered class
func (t *ClassTable) ForEachClass(fn func(id ClassID, c *Class)) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for id, c := range t.byID {
		fn(id, c)
	}
}
