// Package layout computes the byte-exact region layout from a Config. It
// is pure: no I/O, no shared memory, no atomics. Both a server and any
// client, built independently, must reach the identical Layout for the
// same Config so they agree on every offset in the mapped region.
package layout

import (
	"errors"
	"fmt"

	"github.com/richinsley/shmx/internal/wire"
)

// ErrInvalidConfig is returned by Compute when Config is out of range.
var ErrInvalidConfig = errors.New("layout: invalid config")

// MaxRegionSize is the implementation-defined ceiling on total region
// size; spec.md recommends at least 1 GiB.
const MaxRegionSize = 4 << 30 // 4 GiB

// Config mirrors spec.md's Config: the inputs to Server.create.
type Config struct {
	Name             string
	Slots            uint32
	ReaderSlots      uint32
	StaticBytesCap   uint32
	FrameBytesCap    uint32
	ControlPerReader uint32 // 0 disables control rings
}

// minFrameBytesCap is the smallest payload budget that can ever hold a
// single non-empty TLV record (the record header alone).
const minFrameBytesCap = wire.TLVHeaderSize

// Layout is the pure, deterministic derivation of Config into region
// offsets and strides. See spec.md §3 for field meanings.
type Layout struct {
	StaticOffset     uint64
	StaticCap        uint64
	ReadersOffset    uint64
	ReaderStride     uint64
	ReaderSlots      uint32
	ControlOffset    uint64
	ControlPerReader uint32
	ControlStride    uint64
	SlotsOffset      uint64
	FrameBytesCap    uint32
	Slots            uint32
	TotalSize        uint64
}

// Compute derives a Layout from cfg, failing with ErrInvalidConfig when
// slots, reader_slots or frame_bytes_cap are out of range, or when the
// derived total size exceeds MaxRegionSize.
func Compute(cfg Config) (Layout, error) {
	if cfg.Slots == 0 {
		return Layout{}, fmt.Errorf("%w: slots must be >= 1", ErrInvalidConfig)
	}
	if cfg.ReaderSlots == 0 {
		return Layout{}, fmt.Errorf("%w: reader_slots must be >= 1", ErrInvalidConfig)
	}
	if cfg.FrameBytesCap < minFrameBytesCap {
		return Layout{}, fmt.Errorf("%w: frame_bytes_cap must be >= %d", ErrInvalidConfig, minFrameBytesCap)
	}

	l := Layout{
		ReaderSlots:      cfg.ReaderSlots,
		ControlPerReader: cfg.ControlPerReader,
		FrameBytesCap:    cfg.FrameBytesCap,
		Slots:            cfg.Slots,
	}

	l.StaticOffset = wire.AlignUp(uint64(wire.GlobalHeaderSize), wire.SegmentAlign)
	l.StaticCap = wire.AlignUp(uint64(cfg.StaticBytesCap), wire.SegmentAlign)

	l.ReadersOffset = l.StaticOffset + l.StaticCap
	l.ReaderStride = wire.AlignUp(uint64(wire.ReaderSlotSize), wire.SegmentAlign)

	l.ControlOffset = l.ReadersOffset + l.ReaderStride*uint64(cfg.ReaderSlots)
	l.ControlStride = wire.AlignUp(uint64(cfg.ControlPerReader), wire.SegmentAlign)

	l.SlotsOffset = l.ControlOffset + l.ControlStride*uint64(cfg.ReaderSlots)
	slotStride := wire.AlignUp(uint64(wire.FrameHeaderSize)+uint64(cfg.FrameBytesCap), wire.SegmentAlign)

	l.TotalSize = l.SlotsOffset + slotStride*uint64(cfg.Slots)

	if l.TotalSize > MaxRegionSize {
		return Layout{}, fmt.Errorf("%w: total size %d exceeds max %d", ErrInvalidConfig, l.TotalSize, MaxRegionSize)
	}

	return l, nil
}

// SlotStride returns the per-slot stride implied by this layout (not
// stored directly since it's derivable from FrameBytesCap).
func (l Layout) SlotStride() uint64 {
	return wire.AlignUp(uint64(wire.FrameHeaderSize)+uint64(l.FrameBytesCap), wire.SegmentAlign)
}

// FromHeader reconstructs a Layout from a mapped region's GlobalHeader,
// the echoed form clients use to interpret a region they didn't create.
func FromHeader(h *wire.GlobalHeader) Layout {
	return Layout{
		StaticOffset:     h.StaticOffset,
		StaticCap:        h.StaticCap,
		ReadersOffset:    h.ReadersOffset,
		ReaderStride:     h.ReaderStride,
		ReaderSlots:      h.ReaderSlots,
		ControlOffset:    h.ControlOffset,
		ControlPerReader: h.ControlPerReader,
		ControlStride:    h.ControlStride,
		SlotsOffset:      h.SlotsOffset,
		FrameBytesCap:    h.FrameBytesCap,
		Slots:            h.Slots,
	}
}

// WriteToHeader echoes every Layout field except TotalSize into h;
// TotalSize has no header field, and FromHeader leaves it zero.
func (l Layout) WriteToHeader(h *wire.GlobalHeader) {
	h.StaticOffset = l.StaticOffset
	h.StaticCap = l.StaticCap
	h.ReadersOffset = l.ReadersOffset
	h.ReaderStride = l.ReaderStride
	h.ReaderSlots = l.ReaderSlots
	h.ControlOffset = l.ControlOffset
	h.ControlPerReader = l.ControlPerReader
	h.ControlStride = l.ControlStride
	h.SlotsOffset = l.SlotsOffset
	h.FrameBytesCap = l.FrameBytesCap
	h.Slots = l.Slots
}
