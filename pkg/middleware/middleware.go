package middleware

import (
	"github.com/drover-io/drover/pkg/protocol"
)

// Middleware is the out-of-band bulk exchange channel between
// learners and collectors. Payloads are stored under an opaque
// handle; only the handle and its metadata travel through the
// control plane.
type Middleware interface {
	// Store a payload and return its handle metadata.
	Publish(kind protocol.PayloadKind, payload []byte) (*Meta, error)

	// Fetch the payload stored under the given handle.
	Fetch(handle string) ([]byte, error)

	// Remove the payload stored under the given handle.
	Discard(handle string) error

	// Returns statistics about the store.
	Statistics() StoreStats

	// Release the store and its resources.
	Close() error
}

// Meta is the handle metadata returned by Publish.
type Meta struct {
	// Opaque handle identifying the payload.
	Handle string `json:"handle"`

	// Kind of the stored payload.
	Kind protocol.PayloadKind `json:"kind"`

	// Stored size in bytes. May be smaller than the payload
	// if the store compresses.
	Size int64 `json:"size"`
}

// Store statistics
type StoreStats struct {
	// Number of payloads in the store.
	Payloads int64

	// Total number of fetch hits.
	Hits int64

	// Total number of fetch misses.
	Misses int64

	// Total number of evicted payloads.
	Evictions int64

	// Total stored size in bytes.
	Size int64
}

// StoreConfig is the configuration of a payload store.
type StoreConfig interface {
	// Maximum allowed size of the store in bytes.
	// If the store grows beyond this, the least recently used
	// payloads are evicted. Zero means unbounded.
	MaxSize() int64
}
