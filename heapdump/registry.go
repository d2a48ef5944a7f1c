// ABOUTME: Registry for heap image parsers
// ABOUTME: Manages parser plugins and selects the parser for an image

package heapdump

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

var (
	// ErrNoParser is returned when no parser can handle the image format
	ErrNoParser = errors.New("no parser found for image format")
)

// detectSize is how much of an image parsers see when detecting the format
const detectSize = 4096

// parserRegistry holds registered parsers
type parserRegistry struct {
	mu      sync.RWMutex
	parsers []Parser
}

// Global registry instance
var registry = &parserRegistry{
	parsers: make([]Parser, 0),
}

// Register adds a parser to the registry
func Register(p Parser) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.parsers = append(registry.parsers, p)
}

// Open reads a heap image with the first registered parser that recognises it
func Open(r io.Reader) (*Image, error) {
	detect := make([]byte, detectSize)
	n, err := io.ReadFull(r, detect)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("read image header: %w", err)
	}
	detect = detect[:n]

	registry.mu.RLock()
	defer registry.mu.RUnlock()

	for _, parser := range registry.parsers {
		if parser.CanParse(bytes.NewReader(detect)) {
			return parser.Parse(io.MultiReader(bytes.NewReader(detect), r))
		}
	}

	return nil, ErrNoParser
}

// OpenFile opens the image stored at path
func OpenFile(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := Open(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}
