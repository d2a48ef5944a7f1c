// ABOUTME: Integration tests for the complete heapscan pipeline
// ABOUTME: Loads heap images, traces them through the binding and checks retention paths

package heapscan_test

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prateek/heapscan/binding"
	"github.com/prateek/heapscan/graph"
	"github.com/prateek/heapscan/heap"
	"github.com/prateek/heapscan/heapdump"
	"github.com/prateek/heapscan/internal/hostvm"
	"github.com/prateek/heapscan/opaque"
	"github.com/prateek/heapscan/trace"
)

// traced loads path, traces it once with the live graph recorded and returns
// the pieces tests inspect
func traced(t *testing.T, path string) (*heapdump.Image, *binding.Binding, *graph.LiveGraph) {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open test file: %v", err)
	}
	defer file.Close()

	img, err := heapdump.Open(file)
	if err != nil {
		t.Fatalf("Failed to load image: %v", err)
	}
	b, err := binding.New(hostvm.New(img).Config(binding.DefaultOptions()))
	if err != nil {
		t.Fatalf("binding.New: %v", err)
	}
	for _, obj := range img.Finalizable {
		b.AddFinalizer(obj)
	}

	g := graph.NewLiveGraph()
	c := trace.New(b)
	c.Record(g)
	if _, err := c.Collect(opaque.WorkerThread{Thread: 1}, false); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	return img, b, g
}

func TestEndToEndTrace(t *testing.T) {
	img, b, g := traced(t, "testdata/simple.json")

	if img.Len() != 15 {
		t.Errorf("Expected 15 objects, got %d", img.Len())
	}
	if g.Len() != 12 {
		t.Errorf("Expected 12 live objects, got %d", g.Len())
	}
	for _, id := range []string{"weakOnly", "garbage", "garbage2"} {
		ref, _ := img.Ref(id)
		if b.IsLiveObject(ref) || g.Node(ref) != nil {
			t.Errorf("Expected %s to be dead", id)
		}
	}
	if b.UsedBytes() == 0 || b.FreeBytes() != b.TotalBytes()-b.UsedBytes() {
		t.Errorf("Unexpected heap usage %d of %d", b.UsedBytes(), b.TotalBytes())
	}
}

func TestPathFindingIntegration(t *testing.T) {
	img, _, g := traced(t, "testdata/simple.json")
	ref := func(id string) heap.ObjectReference {
		r, ok := img.Ref(id)
		if !ok {
			t.Fatalf("Object %q not found", id)
		}
		return r
	}

	tests := []struct {
		name    string
		from    string
		wantLen int
		end     string
		kind    graph.RootKind
	}{
		{"child of a thread root", "child", 2, "root", graph.RootThread},
		{"primitive array", "ints", 3, "root", graph.RootThread},
		{"static field", "config", 2, "mirror", graph.RootRuntime},
		{"thread root itself", "root", 1, "root", graph.RootThread},
		{"soft referent", "softOnly", 1, "softOnly", graph.RootSoft},
		{"resurrected object", "doomed", 1, "doomed", graph.RootFinalizer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			paths := graph.PathsToRoots(g, ref(tt.from), 5)
			if len(paths) == 0 {
				t.Fatal("No paths found")
			}

			path := paths[0]
			if len(path.Objects) != tt.wantLen {
				t.Errorf("Path length = %d, want %d", len(path.Objects), tt.wantLen)
			}
			if path.Objects[0] != ref(tt.from) {
				t.Errorf("Path starts at %s, want %s", img.Name(path.Objects[0]), tt.from)
			}
			if last := path.Objects[len(path.Objects)-1]; last != ref(tt.end) {
				t.Errorf("Path ends at %s, want %s", img.Name(last), tt.end)
			}
			if path.Root.Kind != tt.kind {
				t.Errorf("Root kind %s, want %s", path.Root.Kind, tt.kind)
			}
		})
	}
}

func TestLongChainIntegration(t *testing.T) {
	// A chain of n nodes hanging off one global root, plus an unreachable tail
	const n = 500
	var objs []string
	for i := 0; i < n; i++ {
		next := ""
		if i+1 < n {
			next = fmt.Sprintf("n%d", i+1)
		}
		objs = append(objs, fmt.Sprintf(`{"id": "n%d", "class": "Link", "fields": {"8": %q}}`, i, next))
	}
	objs = append(objs, `{"id": "lost", "class": "Link", "fields": {"8": "n0"}}`)
	doc := fmt.Sprintf(`{
		"classes": [{"name": "Link", "kind": "instance", "size": 16, "maps": [{"offset": 8, "count": 1}]}],
		"objects": [%s],
		"roots": {"global": ["n0"]}
	}`, strings.Join(objs, ",\n"))

	path := filepath.Join(t.TempDir(), "chain.json")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	img, b, g := traced(t, path)
	if g.Len() != n {
		t.Errorf("Expected %d live links, got %d", n, g.Len())
	}
	lost, _ := img.Ref("lost")
	if b.IsLiveObject(lost) {
		t.Error("Expected the unreachable link to be dead")
	}

	last, _ := img.Ref(fmt.Sprintf("n%d", n-1))
	paths := graph.PathsToRoots(g, last, 1)
	if len(paths) != 1 || len(paths[0].Objects) != n || paths[0].Root.Kind != graph.RootRuntime {
		t.Errorf("Expected one path through all %d links", n)
	}
}
