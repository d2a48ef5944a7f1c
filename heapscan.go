// ABOUTME: Root heapscan package carrying version information and package documentation
// ABOUTME: The engine lives in subpackages; this package has no code of its own

// Package heapscan scans a managed runtime's heap on behalf of a tracing
// collector. It enumerates the reference slots of every object shape,
// routes weak, soft and phantom references to reference processing, and lays
// out the collector's per-object metadata without disturbing the runtime's
// object format.
package heapscan

// Version is the semantic version of heapscan
const Version = "0.1.0-dev"
