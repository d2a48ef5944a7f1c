// ABOUTME: JSON heap image parser: class descriptors, objects, root sets and finalizers
// ABOUTME: Objects are allocated in file order and linked by id in a second pass

package heapdump

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/prateek/heapscan/heap"
	"github.com/prateek/heapscan/object"
)

// JSONImage is a parser for JSON heap images
type JSONImage struct{}

// jsonImage represents the JSON image format
type jsonImage struct {
	Heap        *jsonHeap    `json:"heap"`
	Classes     []jsonClass  `json:"classes"`
	Objects     []jsonObject `json:"objects"`
	Roots       jsonRoots    `json:"roots"`
	Finalizable []string     `json:"finalizable"`
}

type jsonHeap struct {
	Start uint64 `json:"start"`
	Size  uint64 `json:"size"`
}

type jsonMap struct {
	Offset uint64 `json:"offset"`
	Count  uint32 `json:"count"`
}

// jsonClass describes one class. Which fields apply depends on Kind.
type jsonClass struct {
	Name               string    `json:"name"`
	Kind               string    `json:"kind"`
	Size               uint64    `json:"size"`
	Maps               []jsonMap `json:"maps"`
	StaticFieldsOffset uint64    `json:"static_fields_offset"`
	StaticCountOffset  uint64    `json:"static_count_offset"`
	ReferenceType      string    `json:"reference_type"`
	ReferentOffset     uint64    `json:"referent_offset"`
	DiscoveredOffset   uint64    `json:"discovered_offset"`
	Elem               string    `json:"elem"`
}

// jsonObject describes one object. References are object ids; "" is null.
type jsonObject struct {
	ID       string            `json:"id"`
	Class    string            `json:"class"`
	Length   uint32            `json:"length"`
	Fields   map[uint64]string `json:"fields"`
	Elements []string          `json:"elements"`
	Statics  []string          `json:"statics"`
	Referent string            `json:"referent"`
}

type jsonThread struct {
	Name  string   `json:"name"`
	Roots []string `json:"roots"`
}

type jsonRoots struct {
	Static  []string     `json:"static"`
	Global  []string     `json:"global"`
	Threads []jsonThread `json:"threads"`
}

var imageKeys = map[string]bool{
	"heap": true, "classes": true, "objects": true, "roots": true, "finalizable": true,
}

// CanParse checks that the input is a JSON object whose first key belongs to
// the image format. Only the first tokens are read, so a truncated preview of
// a large image is still recognised.
func (p *JSONImage) CanParse(r io.Reader) bool {
	dec := json.NewDecoder(r)
	tok, err := dec.Token()
	if err != nil || tok != json.Delim('{') {
		return false
	}
	tok, err = dec.Token()
	if err != nil {
		return false
	}
	key, ok := tok.(string)
	return ok && imageKeys[key]
}

// Parse reads the JSON image and lays it out in a new space
func (p *JSONImage) Parse(r io.Reader) (*Image, error) {
	var doc jsonImage

	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode JSON: %w", err)
	}
	return build(&doc)
}

// ParseBytes parses a JSON image held in memory
func ParseBytes(data []byte) (*Image, error) {
	return (&JSONImage{}).Parse(bytes.NewReader(data))
}

func build(doc *jsonImage) (*Image, error) {
	start, size := DefaultHeapStart, DefaultHeapSize
	if doc.Heap != nil {
		start, size = heap.Address(doc.Heap.Start), uintptr(doc.Heap.Size)
	}
	if size > MaxHeapSize {
		return nil, fmt.Errorf("heap size %d exceeds %d: %w", size, MaxHeapSize, ErrBadImage)
	}
	space, err := heap.NewSpace(start, size)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrBadImage)
	}

	classes := object.NewClassTable()
	for i, jc := range doc.Classes {
		c, err := jc.decode()
		if err != nil {
			return nil, fmt.Errorf("class %d: %w", i, err)
		}
		if _, err := classes.Register(c); err != nil {
			return nil, fmt.Errorf("class %d: %v: %w", i, err, ErrBadImage)
		}
	}

	img := newImage(space, classes)
	model := img.Model()

	// First pass: allocate every object so references can point forward
	for i, jo := range doc.Objects {
		if jo.ID == "" {
			return nil, fmt.Errorf("object at index %d missing ID: %w", i, ErrBadImage)
		}
		if _, dup := img.objects[jo.ID]; dup {
			return nil, fmt.Errorf("object %q defined twice: %w", jo.ID, ErrBadImage)
		}
		id, c, ok := classes.ByName(jo.Class)
		if !ok {
			return nil, fmt.Errorf("object %q: unknown class %q: %w", jo.ID, jo.Class, ErrBadImage)
		}
		n, err := jo.count(c)
		if err != nil {
			return nil, err
		}
		ref, err := model.New(id, n)
		if err != nil {
			return nil, fmt.Errorf("object %q: %w", jo.ID, err)
		}
		img.add(jo.ID, ref)
	}

	// Second pass: store references
	for _, jo := range doc.Objects {
		if err := img.link(jo); err != nil {
			return nil, err
		}
	}

	if err := img.loadRoots(doc); err != nil {
		return nil, err
	}
	return img, nil
}

func (jc jsonClass) decode() (*object.Class, error) {
	if jc.Name == "" {
		return nil, fmt.Errorf("missing name: %w", ErrBadImage)
	}
	in := object.Instance{Size: uintptr(jc.Size)}
	for _, m := range jc.Maps {
		in.Maps = append(in.Maps, object.OopMapBlock{Offset: uintptr(m.Offset), Count: m.Count})
	}

	var shape object.Shape
	switch jc.Kind {
	case "instance":
		shape = in
	case "classloader":
		shape = object.ClassLoaderInstance{Instance: in}
	case "mirror":
		shape = object.MirrorInstance{
			Instance:           in,
			StaticFieldsOffset: uintptr(jc.StaticFieldsOffset),
			StaticCountOffset:  uintptr(jc.StaticCountOffset),
		}
	case "reference":
		rt, err := object.ParseReferenceType(jc.ReferenceType)
		if err != nil {
			return nil, fmt.Errorf("class %q: %v: %w", jc.Name, err, ErrBadImage)
		}
		shape = object.RefInstance{
			Instance:         in,
			Type:             rt,
			ReferentOffset:   uintptr(jc.ReferentOffset),
			DiscoveredOffset: uintptr(jc.DiscoveredOffset),
		}
	case "objarray":
		shape = object.ObjArray{}
	case "typearray":
		elem, err := object.ParseBasicType(jc.Elem)
		if err != nil {
			return nil, fmt.Errorf("class %q: %v: %w", jc.Name, err, ErrBadImage)
		}
		shape = object.TypeArray{Elem: elem}
	default:
		return nil, fmt.Errorf("class %q: unknown kind %q: %w", jc.Name, jc.Kind, ErrBadImage)
	}
	return object.NewClass(jc.Name, shape), nil
}

// count returns the per-object length New needs and checks that the object
// only uses the parts of the image format its class has
func (jo jsonObject) count(c *object.Class) (uint32, error) {
	bad := func(what string) (uint32, error) {
		return 0, fmt.Errorf("object %q: %s not allowed for %s class %q: %w", jo.ID, what, c.Shape.Kind(), c.Name, ErrBadImage)
	}
	_, isRef := c.Shape.(object.RefInstance)
	if jo.Referent != "" && !isRef {
		return bad("referent")
	}

	switch c.Shape.(type) {
	case object.ObjArray:
		if len(jo.Fields) > 0 || len(jo.Statics) > 0 {
			return bad("fields")
		}
		if jo.Length == 0 {
			return uint32(len(jo.Elements)), nil
		}
		if uint64(jo.Length) < uint64(len(jo.Elements)) {
			return 0, fmt.Errorf("object %q: %d elements exceed length %d: %w", jo.ID, len(jo.Elements), jo.Length, ErrBadImage)
		}
		return jo.Length, nil
	case object.TypeArray:
		if len(jo.Fields) > 0 || len(jo.Statics) > 0 || len(jo.Elements) > 0 {
			return bad("references")
		}
		return jo.Length, nil
	case object.MirrorInstance:
		if len(jo.Elements) > 0 || jo.Length != 0 {
			return bad("elements")
		}
		return uint32(len(jo.Statics)), nil
	default:
		if len(jo.Elements) > 0 || len(jo.Statics) > 0 || jo.Length != 0 {
			return bad("elements")
		}
		return 0, nil
	}
}

func (img *Image) resolve(owner, id string) (heap.ObjectReference, error) {
	if id == "" {
		return heap.Null, nil
	}
	ref, ok := img.objects[id]
	if !ok {
		return heap.Null, fmt.Errorf("%s: unknown object %q: %w", owner, id, ErrBadImage)
	}
	return ref, nil
}

func (img *Image) link(jo jsonObject) error {
	obj := img.objects[jo.ID]
	_, c, _ := img.Classes.ByName(jo.Class)

	for off, id := range jo.Fields {
		if !fieldSlot(c.Shape, uintptr(off)) {
			return fmt.Errorf("object %q: offset %d is not a reference field of %q: %w", jo.ID, off, c.Name, ErrBadImage)
		}
		target, err := img.resolve("object "+jo.ID, id)
		if err != nil {
			return err
		}
		img.Space.StoreReference(obj.Field(uintptr(off)), target)
	}

	for i, id := range jo.Elements {
		target, err := img.resolve("object "+jo.ID, id)
		if err != nil {
			return err
		}
		img.Space.StoreReference(object.ElementSlot(obj, uint32(i)), target)
	}

	if s, ok := c.Shape.(object.MirrorInstance); ok {
		for i, id := range jo.Statics {
			target, err := img.resolve("object "+jo.ID, id)
			if err != nil {
				return err
			}
			img.Space.StoreReference(object.StaticSlot(obj, s, uint32(i)), target)
		}
	}

	if s, ok := c.Shape.(object.RefInstance); ok {
		target, err := img.resolve("object "+jo.ID, jo.Referent)
		if err != nil {
			return err
		}
		img.Space.StoreReference(obj.Field(s.ReferentOffset), target)
	}
	return nil
}

// fieldSlot reports whether off is a slot named by one of the shape's oop maps
func fieldSlot(shape object.Shape, off uintptr) bool {
	var maps []object.OopMapBlock
	switch s := shape.(type) {
	case object.Instance:
		maps = s.Maps
	case object.ClassLoaderInstance:
		maps = s.Maps
	case object.MirrorInstance:
		maps = s.Maps
	case object.RefInstance:
		maps = s.Maps
	}
	for _, m := range maps {
		if off >= m.Offset && off < m.End() && (off-m.Offset)%heap.BytesInAddress == 0 {
			return true
		}
	}
	return false
}

func (img *Image) refs(owner string, ids []string) ([]heap.ObjectReference, error) {
	out := make([]heap.ObjectReference, 0, len(ids))
	for _, id := range ids {
		ref, err := img.resolve(owner, id)
		if err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, nil
}

func (img *Image) loadRoots(doc *jsonImage) error {
	load := func(owner string, ids []string) ([]heap.Address, error) {
		targets, err := img.refs(owner, ids)
		if err != nil {
			return nil, err
		}
		slots, err := img.rootSlots(targets)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", owner, err)
		}
		return slots, nil
	}

	var err error
	if img.StaticRoots, err = load("static roots", doc.Roots.Static); err != nil {
		return err
	}
	if img.GlobalRoots, err = load("global roots", doc.Roots.Global); err != nil {
		return err
	}
	for i, jt := range doc.Roots.Threads {
		name := jt.Name
		if name == "" {
			name = fmt.Sprintf("thread-%d", i)
		}
		slots, err := load("thread "+name, jt.Roots)
		if err != nil {
			return err
		}
		img.Threads = append(img.Threads, Thread{Name: name, Roots: slots})
	}

	for _, id := range doc.Finalizable {
		ref, err := img.resolve("finalizable", id)
		if err != nil {
			return err
		}
		if ref.IsNull() {
			return fmt.Errorf("finalizable: null object: %w", ErrBadImage)
		}
		img.Finalizable = append(img.Finalizable, ref)
	}
	return nil
}

// init registers the JSON parser
func init() {
	Register(&JSONImage{})
}
