package shmx

import (
	"fmt"

	"github.com/richinsley/shmx/internal/backing"
	"github.com/richinsley/shmx/internal/layout"
	"github.com/richinsley/shmx/internal/readertable"
	"github.com/richinsley/shmx/internal/ring"
	"github.com/richinsley/shmx/internal/wire"
)

// Inspector attaches to a region read-only for diagnostics. Unlike
// Client, it never claims a reader slot and never touches
// readers_connected: a running Inspector must be invisible to
// ReapStaleReaders and to any reader-count-based backpressure.
type Inspector struct {
	back   backing.Backing
	region *backing.Region
	name   string
	header *wire.GlobalHeader
	l      layout.Layout
	ring   *ring.FrameRing
	table  *readertable.Table
}

// OpenInspector maps the region the same way Open does and verifies
// magic/version exactly as Open does, but never writes to it (no slot
// claim, no readers_connected bump).
func OpenInspector(name string) (*Inspector, error) {
	back := backing.Posix{}
	region, err := back.Open(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShmBackingFailed, err)
	}

	header := wire.HeaderView(region.Mem)
	if !header.MagicOK() {
		back.Unmap(region)
		return nil, fmt.Errorf("%w: bad magic", ErrVersionMismatch)
	}
	if !header.VersionCompatible() {
		back.Unmap(region)
		return nil, fmt.Errorf("%w: server major %d, client major %d", ErrVersionMismatch, header.VerMajor, wire.VerMajor)
	}

	l := layout.FromHeader(header)
	return &Inspector{
		back:   back,
		region: region,
		name:   name,
		header: header,
		l:      l,
		ring:   ring.New(region.Mem, l, nil),
		table:  readertable.New(region.Mem, l),
	}, nil
}

// Header returns the region's GlobalHeader.
func (ins *Inspector) Header() *wire.GlobalHeader {
	return ins.header
}

// Layout returns the region's derived offsets, for tooling that wants to
// print a memory map.
func (ins *Inspector) Layout() layout.Layout {
	return ins.l
}

// StaticDir decodes the current static stream directory.
func (ins *Inspector) StaticDir() ([]wire.StaticDirEntry, error) {
	buf := ins.region.Mem[ins.l.StaticOffset : ins.l.StaticOffset+uint64(ins.header.StaticUsed)]
	entries, err := wire.DecodeStaticDir(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStaticOverflow, err)
	}
	return entries, nil
}

// SnapshotReaders returns a non-atomic per-field snapshot of every reader
// slot.
func (ins *Inspector) SnapshotReaders() []ReaderInfo {
	return ins.table.Snapshot()
}

// Latest runs the same Observe protocol as Client.Latest, without
// claiming a slot or updating any heartbeat.
func (ins *Inspector) Latest() (Frame, error) {
	observed, ok := ins.ring.Observe()
	if !ok {
		return Frame{}, ErrTransientRace
	}
	if observed.SessionID != ins.header.SessionID {
		return observed, ErrSessionChanged
	}
	return observed, nil
}

// Decode walks an observed frame's TLV records.
func (ins *Inspector) Decode(f Frame) ([]TLV, error) {
	return ring.Decode(f)
}

// SlotView inspects ring slot i directly, bypassing the retry state
// machine: it reports whatever is there right now, including a fresh
// CRC32C verification, for frame-by-frame diagnostics (spec.md §4.4).
func (ins *Inspector) SlotView(i uint32) SlotView {
	return ins.ring.SlotView(i)
}

// Close unmaps the region.
func (ins *Inspector) Close() error {
	return ins.back.Unmap(ins.region)
}
