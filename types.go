package shmx

import (
	"github.com/richinsley/shmx/internal/layout"
	"github.com/richinsley/shmx/internal/ring"
	"github.com/richinsley/shmx/internal/wire"
)

// ElemType and LayoutCode are re-exported from internal/wire so callers
// never need to import the internal package.
type ElemType = wire.ElemType
type LayoutCode = wire.LayoutCode

const (
	DTU8  = wire.DTU8
	DTI8  = wire.DTI8
	DTU16 = wire.DTU16
	DTI16 = wire.DTI16
	DTU32 = wire.DTU32
	DTI32 = wire.DTI32
	DTU64 = wire.DTU64
	DTI64 = wire.DTI64
	DTF32 = wire.DTF32
	DTF64 = wire.DTF64
)

const LayoutSOAScalar = wire.LayoutSOAScalar

// Control message codes the core reserves the space for but does not
// interpret; the demo CLIs use these three.
const (
	CtrlHello     = uint32(0x48454C4F)
	CtrlHeartbeat = uint32(0x48425254)
	CtrlBye       = uint32(0x4259455F)
)

// Config mirrors spec.md's Config: the inputs to Create.
type Config struct {
	Name             string
	Slots            uint32
	ReaderSlots      uint32
	StaticBytesCap   uint32
	FrameBytesCap    uint32
	ControlPerReader uint32
}

func (c Config) toLayoutConfig() layout.Config {
	return layout.Config{
		Name:             c.Name,
		Slots:            c.Slots,
		ReaderSlots:      c.ReaderSlots,
		StaticBytesCap:   c.StaticBytesCap,
		FrameBytesCap:    c.FrameBytesCap,
		ControlPerReader: c.ControlPerReader,
	}
}

// StreamDesc describes one entry of the static stream directory, written
// once at Create and never changed (Non-goal: dynamic schema changes).
type StreamDesc struct {
	StreamID     uint32
	Name         string
	ElemType     ElemType
	Components   uint32
	Layout       LayoutCode
	BytesPerElem uint32
	Extra        []byte
}

func (d StreamDesc) toWireEntry() wire.StaticDirEntry {
	return wire.StaticDirEntry{
		StreamID:     d.StreamID,
		ElemType:     d.ElemType,
		Components:   d.Components,
		Layout:       d.Layout,
		BytesPerElem: d.BytesPerElem,
		Name:         d.Name,
		Extra:        d.Extra,
	}
}

// FrameMut is an in-progress frame returned by Server.BeginFrame.
type FrameMut = ring.FrameMut

// Frame is a validated, borrowed snapshot of an observed frame, as
// returned by Client.Latest and Inspector.Latest. Its Payload slice (and
// the TLVs Decode returns from it) is only valid until the next Latest call.
type Frame = ring.Observed

// TLV is one decoded stream record inside a Frame.
type TLV = wire.TLV

// ReaderInfo is a point-in-time snapshot of one ReaderTable slot, as
// returned by SnapshotReaders.
type ReaderInfo = wire.Snapshot

// ControlMsg is one decoded reader->server control record, as returned by
// Server.PollControl.
type ControlMsg struct {
	ReaderID uint64
	Type     uint32
	Data     []byte
}

// SlotView is a diagnostic, non-retried view of one frame ring slot, as
// returned by Inspector.SlotView.
type SlotView = ring.SlotView
