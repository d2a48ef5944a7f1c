// ABOUTME: gcscan loads a heap image, traces it through the binding and reports the result
// ABOUTME: Prints trace statistics, a live-class histogram and retention paths on request

package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"runtime/pprof"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/prateek/heapscan/binding"
	"github.com/prateek/heapscan/graph"
	"github.com/prateek/heapscan/heapdump"
	"github.com/prateek/heapscan/internal/hostvm"
	"github.com/prateek/heapscan/opaque"
	"github.com/prateek/heapscan/trace"
)

// config holds the command-line settings
type config struct {
	image      string
	options    string
	emergency  bool
	cycles     int
	paths      []string
	maxPaths   int
	histo      bool
	verbose    bool
	cpuProfile string
	// global installs the binding as the process-wide binding
	global bool
}

func parseArgs(args []string) (*config, error) {
	fs := flag.NewFlagSet("gcscan", flag.ContinueOnError)
	cfg := &config{}
	fs.StringVar(&cfg.options, "options", "", "binding options as space-separated name=value pairs")
	fs.BoolVar(&cfg.emergency, "emergency", false, "run an emergency collection (soft referents are not retained)")
	fs.IntVar(&cfg.cycles, "cycles", 1, "number of collections to run")
	paths := fs.String("paths", "", "comma-separated object ids to explain with paths to roots")
	fs.IntVar(&cfg.maxPaths, "max-paths", 3, "maximum paths reported per object")
	fs.BoolVar(&cfg.histo, "histo", false, "print a histogram of live objects by class")
	fs.BoolVar(&cfg.verbose, "v", false, "log binding and trace progress to stderr")
	fs.StringVar(&cfg.cpuProfile, "cpuprofile", "", "write cpu profile to file")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	switch {
	case fs.NArg() == 0:
		return nil, fmt.Errorf("missing heap image filename")
	case fs.NArg() > 1:
		return nil, fmt.Errorf("extra args following heap image filename")
	}
	cfg.image = fs.Arg(0)
	if *paths != "" {
		cfg.paths = strings.Split(*paths, ",")
	}
	if cfg.cycles < 1 {
		return nil, fmt.Errorf("-cycles must be at least 1")
	}
	return cfg, nil
}

func main() {
	log.SetFlags(0)
	log.SetPrefix("gcscan: ")

	cfg, err := parseArgs(os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}
	cfg.global = true

	stop, err := startProfile(cfg.cpuProfile)
	if err != nil {
		log.Fatal(err)
	}
	err = run(cfg, os.LookupEnv, os.Stdout, os.Stderr)
	if perr := stop(); perr != nil {
		log.Print(perr)
	}
	if err != nil {
		log.Fatalf("%s: %v", cfg.image, err)
	}
}

// startProfile starts a CPU profile written to path. The returned function
// stops it and closes the file. An empty path profiles nothing.
func startProfile(path string) (func() error, error) {
	if path == "" {
		return func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("cpu profile: %w", err)
	}
	return func() error {
		pprof.StopCPUProfile()
		return f.Close()
	}, nil
}

// run loads the image, traces it and writes the report to out
func run(cfg *config, lookup func(string) (string, bool), out, errOut io.Writer) error {
	opts, err := binding.OptionsFromEnv(lookup)
	if err != nil {
		return err
	}
	if err := opts.ProcessBulk(cfg.options); err != nil {
		return err
	}

	img, err := heapdump.OpenFile(cfg.image)
	if err != nil {
		return err
	}

	vm := hostvm.New(img)
	bc := vm.Config(opts)
	if cfg.verbose {
		bc.Logger = log.New(errOut, "heapscan: ", 0)
	}
	b, err := binding.New(bc)
	if err != nil {
		return err
	}
	if cfg.global {
		if err := binding.Init(b); err != nil {
			return err
		}
	}
	for _, obj := range img.Finalizable {
		b.AddFinalizer(obj)
	}

	c := trace.New(b)
	var g *graph.LiveGraph
	if len(cfg.paths) > 0 {
		g = graph.NewLiveGraph()
		c.Record(g)
	}

	tls := opaque.WorkerThread{Thread: 1}
	for i := 0; i < cfg.cycles; i++ {
		st, err := c.Collect(tls, cfg.emergency)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, st)
	}

	live := c.Live()
	fmt.Fprintf(out, "%d of %d objects live, %d bytes used of %d\n", len(live), img.Len(), b.UsedBytes(), b.TotalBytes())
	for obj, ok := b.GetFinalizedObject(); ok; obj, ok = b.GetFinalizedObject() {
		fmt.Fprintf(out, "finalize %s\n", b.DumpObject(obj))
	}

	if cfg.histo {
		printHisto(out, b, c)
	}
	for _, id := range cfg.paths {
		if err := printPaths(out, b, img, g, id, cfg.maxPaths); err != nil {
			return err
		}
	}
	return nil
}

type histoRow struct {
	class string
	count int
	bytes uintptr
}

func printHisto(out io.Writer, b *binding.Binding, c *trace.Collector) {
	rows := map[string]*histoRow{}
	for _, obj := range c.Live() {
		name := b.Model().ClassOf(obj).Name
		r, ok := rows[name]
		if !ok {
			r = &histoRow{class: name}
			rows[name] = r
		}
		r.count++
		r.bytes += b.ObjectSize(obj)
	}

	sorted := make([]*histoRow, 0, len(rows))
	for _, r := range rows {
		sorted = append(sorted, r)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].bytes != sorted[j].bytes {
			return sorted[i].bytes > sorted[j].bytes
		}
		return sorted[i].class < sorted[j].class
	})

	tw := tabwriter.NewWriter(out, 0, 8, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "count\tbytes\tclass\t")
	for _, r := range sorted {
		fmt.Fprintf(tw, "%d\t%d\t%s\t\n", r.count, r.bytes, r.class)
	}
	tw.Flush()
}

func printPaths(out io.Writer, b *binding.Binding, img *heapdump.Image, g *graph.LiveGraph, id string, maxPaths int) error {
	ref, ok := img.Ref(id)
	if !ok {
		return fmt.Errorf("no object %q in image", id)
	}
	if !b.IsLiveObject(ref) {
		fmt.Fprintf(out, "%s is not live\n", b.DumpObject(ref))
		return nil
	}

	paths := graph.PathsToRoots(g, ref, maxPaths)
	fmt.Fprintf(out, "%s: %d path(s) to roots\n", b.DumpObject(ref), len(paths))
	for _, p := range paths {
		names := make([]string, len(p.Objects))
		for i, obj := range p.Objects {
			names[i] = b.DumpObject(obj)
		}
		fmt.Fprintf(out, "  %s <- %s root\n", strings.Join(names, " <- "), p.Root.Kind)
	}
	return nil
}
