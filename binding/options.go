// ABOUTME: Binding options with defaults, name=value setting and environment overrides
// ABOUTME: Names follow the collector's snake_case option names

package binding

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/prateek/heapscan/work"
)

// ErrBadOption is returned for an unknown option name or an unparsable value
var ErrBadOption = errors.New("bad option")

// EnvPrefix prefixes option names read from the environment
const EnvPrefix = "HEAPSCAN_"

// Options configures a binding
type Options struct {
	// NoReferenceTypes scans every reference-holding instance as strong
	NoReferenceTypes bool
	// NoFinalizer disables finalization processing
	NoFinalizer bool
	// MarkBitInHeader keeps the mark bit in the header word
	MarkBitInHeader bool
	// SlowScan scans every object through the runtime's ScanObject upcall
	SlowScan bool
	// PacketCapacity is the number of edges per root work packet
	PacketCapacity int
	// Threads is the number of collector workers
	Threads int
}

// DefaultOptions returns the options a binding starts from
func DefaultOptions() Options {
	return Options{
		PacketCapacity: work.PacketCapacity,
		Threads:        4,
	}
}

// Set assigns one option by name
func (o *Options) Set(name, value string) error {
	switch name {
	case "no_reference_types":
		return setBool(&o.NoReferenceTypes, name, value)
	case "no_finalizer":
		return setBool(&o.NoFinalizer, name, value)
	case "mark_bit_in_header":
		return setBool(&o.MarkBitInHeader, name, value)
	case "slow_scan":
		return setBool(&o.SlowScan, name, value)
	case "packet_capacity":
		return setPositive(&o.PacketCapacity, name, value)
	case "threads":
		return setPositive(&o.Threads, name, value)
	}
	return fmt.Errorf("option %q: unknown name: %w", name, ErrBadOption)
}

// ProcessBulk applies whitespace-separated name=value pairs in order. It stops
// at the first bad pair.
func (o *Options) ProcessBulk(options string) error {
	for _, pair := range strings.Fields(options) {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("option %q: expected name=value: %w", pair, ErrBadOption)
		}
		if err := o.Set(name, value); err != nil {
			return err
		}
	}
	return nil
}

// OptionsFromEnv returns the defaults overridden by HEAPSCAN_<NAME> variables
// found through lookup, for example HEAPSCAN_THREADS=8
func OptionsFromEnv(lookup func(string) (string, bool)) (Options, error) {
	o := DefaultOptions()
	for _, name := range optionNames {
		value, ok := lookup(EnvPrefix + strings.ToUpper(name))
		if !ok {
			continue
		}
		if err := o.Set(name, value); err != nil {
			return o, err
		}
	}
	return o, nil
}

var optionNames = []string{
	"no_reference_types",
	"no_finalizer",
	"mark_bit_in_header",
	"slow_scan",
	"packet_capacity",
	"threads",
}

func (o Options) validate() error {
	if o.PacketCapacity <= 0 {
		return fmt.Errorf("packet_capacity %d: %w", o.PacketCapacity, ErrBadOption)
	}
	if o.Threads <= 0 {
		return fmt.Errorf("threads %d: %w", o.Threads, ErrBadOption)
	}
	return nil
}

// String renders the options in ProcessBulk syntax
func (o Options) String() string {
	return fmt.Sprintf("no_reference_types=%t no_finalizer=%t mark_bit_in_header=%t slow_scan=%t packet_capacity=%d threads=%d",
		o.NoReferenceTypes, o.NoFinalizer, o.MarkBitInHeader, o.SlowScan, o.PacketCapacity, o.Threads)
}

func setBool(dst *bool, name, value string) error {
	v, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("option %q=%q: %w", name, value, ErrBadOption)
	}
	*dst = v
	return nil
}

func setPositive(dst *int, name, value string) error {
	v, err := strconv.Atoi(value)
	if err != nil || v <= 0 {
		return fmt.Errorf("option %q=%q: want a positive integer: %w", name, value, ErrBadOption)
	}
	*dst = v
	return nil
}
