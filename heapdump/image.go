// ABOUTME: Loaded heap image: a space laid out with runtime objects plus its root slots
// ABOUTME: Objects keep the ids they had in the image so tools can name them

package heapdump

import (
	"errors"
	"sort"

	"github.com/prateek/heapscan/heap"
	"github.com/prateek/heapscan/object"
)

// ErrBadImage is returned when an image is malformed or inconsistent
var ErrBadImage = errors.New("bad heap image")

// Default heap placement for images that do not name one
const (
	DefaultHeapStart heap.Address = 0x100000
	DefaultHeapSize  uintptr      = 4 << 20
	// MaxHeapSize bounds the space an image may ask for
	MaxHeapSize uintptr = 64 << 20
)

// Thread is a mutator thread and the stack slots it holds
type Thread struct {
	Name  string
	Roots []heap.Address
}

// Image is a heap laid out in a space, ready to be traced
type Image struct {
	Space   *heap.Space
	Classes *object.ClassTable

	// StaticRoots and GlobalRoots are the addresses of root slots holding
	// static and global references
	StaticRoots []heap.Address
	GlobalRoots []heap.Address
	Threads     []Thread
	// Finalizable objects have finalizers registered
	Finalizable []heap.ObjectReference

	objects map[string]heap.ObjectReference
	names   map[heap.ObjectReference]string
}

func newImage(space *heap.Space, classes *object.ClassTable) *Image {
	return &Image{
		Space:   space,
		Classes: classes,
		objects: make(map[string]heap.ObjectReference),
		names:   make(map[heap.ObjectReference]string),
	}
}

// Model returns the object model over the image's heap
func (img *Image) Model() object.Model {
	return object.Model{Space: img.Space, Classes: img.Classes}
}

// Ref returns the object the image called id
func (img *Image) Ref(id string) (heap.ObjectReference, bool) {
	ref, ok := img.objects[id]
	return ref, ok
}

// Name returns the image id of ref, or "" for objects the image did not name
func (img *Image) Name(ref heap.ObjectReference) string {
	return img.names[ref]
}

// Len returns the number of objects in the image
func (img *Image) Len() int {
	return len(img.objects)
}

// IDs returns every object id in address order
func (img *Image) IDs() []string {
	ids := make([]string, 0, len(img.objects))
	for id := range img.objects {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return img.objects[ids[i]] < img.objects[ids[j]] })
	return ids
}

func (img *Image) add(id string, ref heap.ObjectReference) {
	img.objects[id] = ref
	img.names[ref] = id
}

// rootSlots allocates one slot per target and stores the targets in them
func (img *Image) rootSlots(targets []heap.ObjectReference) ([]heap.Address, error) {
	if len(targets) == 0 {
		return nil, nil
	}
	base, err := img.Space.Alloc(uintptr(len(targets)) << heap.LogBytesInAddress)
	if err != nil {
		return nil, err
	}
	slots := make([]heap.Address, len(targets))
	for i, t := range targets {
		slots[i] = base.Add(uintptr(i) << heap.LogBytesInAddress)
		img.Space.StoreReference(slots[i], t)
	}
	return slots, nil
}
