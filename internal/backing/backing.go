// Package backing implements ShmBacking: the platform seam spec.md treats
// as an external collaborator. The core (internal/layout, internal/wire,
// internal/ring, internal/readertable, and the root shmx package) never
// imports syscall/unix directly — everything platform-specific to naming
// and mapping a region lives here.
package backing

import "errors"

// ErrUnsupportedPlatform is returned by the fallback Backing when no
// concrete platform implementation is compiled in.
var ErrUnsupportedPlatform = errors.New("backing: unsupported platform")

// Region is a mapped shared-memory region: a base slice over the whole
// mapping plus whatever platform state Unmap and Destroy need.
type Region struct {
	Mem []byte
}

// Backing creates, opens, destroys and unmaps named shared-memory regions.
// It is the only capability the core needs from the platform; a Windows
// file-mapping implementation would satisfy the same interface.
type Backing interface {
	// Create allocates and zero-fills a new region of the given size,
	// failing if a region of that name already exists.
	Create(name string, size uint64) (*Region, error)
	// Open maps an existing region for read/write access; size is
	// whatever the creator sized it to.
	Open(name string) (*Region, error)
	// Unmap releases this process's mapping of region without affecting
	// other processes still holding it open.
	Unmap(r *Region) error
	// Destroy unmaps region and removes the underlying name so no future
	// Open call can find it. Only the owning server calls Destroy.
	Destroy(name string, r *Region) error
}
