package wire

import (
	"sync/atomic"
	"unsafe"
)

// ReaderSlotSize is the unaligned struct size; readers_table strides are
// align_up(ReaderSlotSize, SegmentAlign) per Layout.
const ReaderSlotSize = 48

// ReaderSlot is one element of the ReaderTable. Field order follows the
// wire contract's literal declared sequence (in_use, reader_id,
// last_frame_seen, heartbeat_ticks, control_head, control_tail, pad); the
// 4-byte gap that sequence leaves between in_use and reader_id is spelled
// out as an explicit `_` field rather than reordered away. Every field is
// accessed atomically: in_use/reader_id/heartbeat_ticks/last_frame_seen/
// control_head are owned by the claiming reader, control_tail is owned by
// the server.
type ReaderSlot struct {
	InUse uint32  // 0x00: atomic, 0 or 1
	_     [4]byte // 0x04: pad to 8

	ReaderID       uint64 // 0x08: atomic
	LastFrameSeen  uint64 // 0x10: atomic
	HeartbeatTicks uint64 // 0x18: atomic

	ControlHead uint32 // 0x20: atomic, reader-write cursor
	ControlTail uint32 // 0x24: atomic, server-write cursor
	_           uint32 // 0x28: pad
}

// SlotView returns a typed pointer to reader slot i within the mapped
// region, given the readers_offset and reader_stride from Layout.
func SlotView(mem []byte, readersOffset, readerStride uint64, i uint32) *ReaderSlot {
	off := readersOffset + readerStride*uint64(i)
	return (*ReaderSlot)(unsafe.Pointer(&mem[off]))
}

func (r *ReaderSlot) LoadInUse() bool {
	return atomic.LoadUint32(&r.InUse) != 0
}

// CASInUse attempts an atomic in_use transition old->new, returning
// whether it succeeded. Used both for claim (0->1) and reap/release (1->0).
func (r *ReaderSlot) CASInUse(old, new uint32) bool {
	return atomic.CompareAndSwapUint32(&r.InUse, old, new)
}

func (r *ReaderSlot) LoadReaderID() uint64 {
	return atomic.LoadUint64(&r.ReaderID)
}

func (r *ReaderSlot) StoreReaderID(id uint64) {
	atomic.StoreUint64(&r.ReaderID, id)
}

func (r *ReaderSlot) LoadLastFrameSeen() uint64 {
	return atomic.LoadUint64(&r.LastFrameSeen)
}

func (r *ReaderSlot) StoreLastFrameSeen(v uint64) {
	atomic.StoreUint64(&r.LastFrameSeen, v)
}

func (r *ReaderSlot) LoadHeartbeatTicks() uint64 {
	return atomic.LoadUint64(&r.HeartbeatTicks)
}

func (r *ReaderSlot) StoreHeartbeatTicks(v uint64) {
	atomic.StoreUint64(&r.HeartbeatTicks, v)
}

func (r *ReaderSlot) LoadControlHead() uint32 {
	return atomic.LoadUint32(&r.ControlHead)
}

func (r *ReaderSlot) StoreControlHead(v uint32) {
	atomic.StoreUint32(&r.ControlHead, v)
}

func (r *ReaderSlot) LoadControlTail() uint32 {
	return atomic.LoadUint32(&r.ControlTail)
}

func (r *ReaderSlot) StoreControlTail(v uint32) {
	atomic.StoreUint32(&r.ControlTail, v)
}

// Snapshot is a non-atomic, point-in-time copy of a reader slot's fields,
// used by Server.snapshot_readers and Inspector diagnostics.
type Snapshot struct {
	InUse          bool
	ReaderID       uint64
	LastFrameSeen  uint64
	HeartbeatTicks uint64
	ControlHead    uint32
	ControlTail    uint32
}

func (r *ReaderSlot) Snapshot() Snapshot {
	return Snapshot{
		InUse:          r.LoadInUse(),
		ReaderID:       r.LoadReaderID(),
		LastFrameSeen:  r.LoadLastFrameSeen(),
		HeartbeatTicks: r.LoadHeartbeatTicks(),
		ControlHead:    r.LoadControlHead(),
		ControlTail:    r.LoadControlTail(),
	}
}
