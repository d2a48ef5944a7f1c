// ABOUTME: Parser interface for heap image formats
// ABOUTME: Defines the contract for pluggable image loaders

package heapdump

import "io"

// Parser is the interface for heap image loaders
type Parser interface {
	// CanParse checks if this parser can handle the given image format.
	// The reader is a preview of the start of the image; implementations
	// should not assume it holds the whole image.
	CanParse(r io.Reader) bool

	// Parse reads the image and lays its objects out in a fresh heap.
	// The reader is positioned at the start of the image.
	Parse(r io.Reader) (*Image, error)
}
