package wire

import (
	"sync/atomic"
	"unsafe"
)

// Magic identifies a shmx region. Written once at create, checked on every
// open.
var Magic = [4]byte{'S', 'H', 'M', 'X'}

const (
	VerMajor = uint8(1)
	VerMinor = uint8(0)
)

// GlobalHeaderSize is the fixed, versioned size of GlobalHeader. Layout's
// static_offset is align_up(GlobalHeaderSize, SegmentAlign).
const GlobalHeaderSize = 128

// GlobalHeader is the fixed-offset metadata block at offset 0 of a shmx
// region. Field order follows the wire contract's literal declared
// sequence (magic, versions, flags, session_id, layout echo, static_gen,
// static_used, write_index, readers_connected, reserved) rather than
// being reordered for Go-compiler padding avoidance; padding the wire
// format introduces is spelled out with explicit `_` fields, the way the
// teacher's SegmentHeader spells out its own `pad uint32` between
// `closed` and `reserved`. The Layout echo fields are declared in
// internal/layout.Layout's own field order.
type GlobalHeader struct {
	Magic    [4]byte // 0x00
	VerMajor uint8   // 0x04
	VerMinor uint8   // 0x05
	_        [2]byte // 0x06: pad to 4
	Flags    uint32  // 0x08

	_         [4]byte // 0x0C: pad to 8
	SessionID uint64  // 0x10: nonzero, assigned at create, never atomic (write-once)

	StaticOffset  uint64  // 0x18
	StaticCap     uint64  // 0x20
	ReadersOffset uint64  // 0x28
	ReaderStride  uint64  // 0x30
	ReaderSlots   uint32  // 0x38
	_             [4]byte // 0x3C: pad to 8
	ControlOffset uint64  // 0x40

	ControlPerReader uint32  // 0x48
	_                [4]byte // 0x4C: pad to 8
	ControlStride    uint64  // 0x50
	SlotsOffset      uint64  // 0x58
	FrameBytesCap    uint32  // 0x60
	Slots            uint32  // 0x64

	StaticGen  uint32 // 0x68: atomic
	StaticUsed uint32 // 0x6C

	WriteIndex uint64 // 0x70: atomic, total frames ever published

	ReadersConnected uint32  // 0x78: atomic, relaxed/informational
	Reserved         [4]byte // 0x7C-0x7F
}

// HeaderView returns a typed pointer to the GlobalHeader at the base of a
// mapped region. Callers must ensure mem is at least GlobalHeaderSize
// bytes and 8-byte aligned, which any Backing implementation guarantees.
func HeaderView(mem []byte) *GlobalHeader {
	return (*GlobalHeader)(unsafe.Pointer(&mem[0]))
}

// LoadWriteIndex atomically loads the publish counter (acquire).
func (h *GlobalHeader) LoadWriteIndex() uint64 {
	return atomic.LoadUint64(&h.WriteIndex)
}

// StoreWriteIndex atomically stores the publish counter (release). This is
// the publish point: after this store, readers may observe the frame.
func (h *GlobalHeader) StoreWriteIndex(v uint64) {
	atomic.StoreUint64(&h.WriteIndex, v)
}

func (h *GlobalHeader) LoadStaticGen() uint32 {
	return atomic.LoadUint32(&h.StaticGen)
}

func (h *GlobalHeader) StoreStaticGen(v uint32) {
	atomic.StoreUint32(&h.StaticGen, v)
}

func (h *GlobalHeader) LoadReadersConnected() uint32 {
	return atomic.LoadUint32(&h.ReadersConnected)
}

func (h *GlobalHeader) IncReadersConnected() uint32 {
	return atomic.AddUint32(&h.ReadersConnected, 1)
}

func (h *GlobalHeader) DecReadersConnected() uint32 {
	return atomic.AddUint32(&h.ReadersConnected, ^uint32(0))
}

// MagicOK reports whether the header's magic bytes match shmx's.
func (h *GlobalHeader) MagicOK() bool {
	return h.Magic == Magic
}

// VersionCompatible implements spec.md's exact-major, any-minor rule.
func (h *GlobalHeader) VersionCompatible() bool {
	return h.VerMajor == VerMajor
}
