// ABOUTME: Binding construction and the process-wide single-initialization state
// ABOUTME: Wires layout, metadata, reference processing and the scanner from one config

package binding

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"

	"github.com/prateek/heapscan"
	"github.com/prateek/heapscan/heap"
	"github.com/prateek/heapscan/layout"
	"github.com/prateek/heapscan/object"
	"github.com/prateek/heapscan/refproc"
	"github.com/prateek/heapscan/scan"
	"github.com/prateek/heapscan/work"
)

var (
	// ErrAlreadyInitialized is returned when Init is called a second time
	ErrAlreadyInitialized = errors.New("binding already initialized")
	// ErrInvalidConfig is returned when a config lacks a heap or class table
	ErrInvalidConfig = errors.New("invalid binding config")
	// ErrUnimplemented is the panic value for capabilities the binding does not provide
	ErrUnimplemented = errors.New("unimplemented")
)

func unimplemented(what string) {
	panic(fmt.Errorf("%s: %w", what, ErrUnimplemented))
}

// Config holds everything a binding is built from
type Config struct {
	Options Options
	Upcalls Upcalls
	Space   *heap.Space
	Classes *object.ClassTable
	// Queue receives root packets; a fresh queue is used when nil
	Queue *work.Queue
	// Logger receives progress messages; output is discarded when nil
	Logger *log.Logger
}

// Binding connects one runtime heap to the collector
type Binding struct {
	opts    Options
	upcalls Upcalls
	model   object.Model
	layout  *layout.Layout
	meta    *layout.Metadata
	refs    *refproc.Processor
	scanner *scan.Scanner
	queue   *work.Queue
	logger  *log.Logger

	mutatorMu sync.Mutex
}

// New validates cfg and builds a binding. The layout is checked against every
// class registered so far.
func New(cfg Config) (*Binding, error) {
	if cfg.Space == nil || cfg.Classes == nil {
		return nil, fmt.Errorf("heap space and class table are required: %w", ErrInvalidConfig)
	}
	if err := cfg.Upcalls.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Options.validate(); err != nil {
		return nil, err
	}

	l, err := layout.Compute(layout.Config{Capacity: cfg.Space.Size(), MarkBitInHeader: cfg.Options.MarkBitInHeader})
	if err != nil {
		return nil, fmt.Errorf("compute metadata layout: %w", err)
	}
	if err := l.CheckClasses(cfg.Classes); err != nil {
		return nil, fmt.Errorf("check metadata layout: %w", err)
	}
	meta, err := layout.NewMetadata(l, cfg.Space)
	if err != nil {
		return nil, err
	}

	model := object.Model{Space: cfg.Space, Classes: cfg.Classes}
	refs := refproc.NewProcessor(refproc.Glue{Model: model})
	b := &Binding{
		opts:    cfg.Options,
		upcalls: cfg.Upcalls,
		model:   model,
		layout:  l,
		meta:    meta,
		refs:    refs,
		queue:   cfg.Queue,
		logger:  cfg.Logger,
	}
	if b.queue == nil {
		b.queue = work.NewQueue()
	}
	if b.logger == nil {
		b.logger = log.New(io.Discard, "", 0)
	}

	slow := scan.SlowScan(cfg.Upcalls.ScanObject)
	if cfg.Options.SlowScan && slow == nil {
		return nil, fmt.Errorf("slow_scan requires the ScanObject upcall: %w", ErrMissingUpcall)
	}
	b.scanner = scan.New(scan.Config{
		Model:           model,
		Candidates:      refs,
		TrackReferences: !cfg.Options.NoReferenceTypes,
		SlowScan:        slow,
		ForceSlowPath:   cfg.Options.SlowScan,
	})

	b.logger.Printf("heapscan %s: heap %s-%s, %d classes, %s", Version(), cfg.Space.Start(), cfg.Space.End(), cfg.Classes.Len(), cfg.Options)
	return b, nil
}

// Version returns the binding version string
func Version() string {
	return heapscan.Version
}

// Options returns the options the binding was built with
func (b *Binding) Options() Options { return b.opts }

// Model returns the object model over the binding's heap
func (b *Binding) Model() object.Model { return b.model }

// Layout returns the metadata layout
func (b *Binding) Layout() *layout.Layout { return b.layout }

// Metadata returns metadata access over the binding's heap
func (b *Binding) Metadata() *layout.Metadata { return b.meta }

// References returns the reference processor
func (b *Binding) References() *refproc.Processor { return b.refs }

// Scanner returns the object scanner
func (b *Binding) Scanner() *scan.Scanner { return b.scanner }

// Queue returns the queue root packets are added to
func (b *Binding) Queue() *work.Queue { return b.queue }

// Logger returns the binding's logger
func (b *Binding) Logger() *log.Logger { return b.logger }

var current atomic.Pointer[Binding]

// Init makes b the process-wide binding. It succeeds once.
func Init(b *Binding) error {
	if b == nil {
		return fmt.Errorf("nil binding: %w", ErrInvalidConfig)
	}
	if !current.CompareAndSwap(nil, b) {
		return ErrAlreadyInitialized
	}
	b.logger.Printf("heapscan %s initialized", Version())
	return nil
}

// Current returns the process-wide binding, or nil before Init
func Current() *Binding {
	return current.Load()
}

// IsInitialized reports whether Init has succeeded
func IsInitialized() bool {
	return current.Load() != nil
}
