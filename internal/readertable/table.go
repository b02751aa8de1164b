// Package readertable manages the ReaderTable (claim/heartbeat/reap of
// ReaderSlot entries) and the per-reader ControlRing SPSC byte rings
// described in spec.md §3-§5.
package readertable

import (
	"github.com/richinsley/shmx/internal/layout"
	"github.com/richinsley/shmx/internal/wire"
)

// Table is a typed view over a region's reader table.
type Table struct {
	mem []byte
	l   layout.Layout
}

func New(mem []byte, l layout.Layout) *Table {
	return &Table{mem: mem, l: l}
}

func (t *Table) Slot(i uint32) *wire.ReaderSlot {
	return wire.SlotView(t.mem, t.l.ReadersOffset, t.l.ReaderStride, i)
}

// Claim scans the table for a free slot, CASes it to in_use, and stores
// readerID. It returns the claimed index and true, or ErrNoSlotAvailable
// semantics (ok=false) if every slot is taken.
func (t *Table) Claim(readerID uint64) (uint32, bool) {
	for i := uint32(0); i < t.l.ReaderSlots; i++ {
		slot := t.Slot(i)
		if slot.LoadInUse() {
			continue
		}
		if !slot.CASInUse(0, 1) {
			continue // lost the race to another claimer
		}
		slot.StoreReaderID(readerID)
		slot.StoreLastFrameSeen(0)
		slot.StoreHeartbeatTicks(0)
		slot.StoreControlHead(0)
		slot.StoreControlTail(0)
		return i, true
	}
	return 0, false
}

// Release clears a slot the owning reader claimed (idempotent: a second
// call on an already-free slot is a no-op CAS failure, not an error).
func (t *Table) Release(i uint32) {
	slot := t.Slot(i)
	if slot.CASInUse(1, 0) {
		slot.StoreReaderID(0)
		slot.StoreControlHead(0)
		slot.StoreControlTail(0)
	}
}

// Heartbeat is called by the owning reader after a successful observe.
func (t *Table) Heartbeat(i uint32, nowTicks, lastFrameSeen uint64) {
	slot := t.Slot(i)
	slot.StoreLastFrameSeen(lastFrameSeen)
	slot.StoreHeartbeatTicks(nowTicks)
}

// ReapStale clears every in_use slot whose heartbeat age exceeds
// timeoutTicks, returning the indices it reaped. Idempotent: slots that
// are already free, or that get re-claimed mid-sweep by a new reader
// (the CAS below fails), are left alone.
func (t *Table) ReapStale(nowTicks, timeoutTicks uint64) []uint32 {
	var reaped []uint32
	for i := uint32(0); i < t.l.ReaderSlots; i++ {
		slot := t.Slot(i)
		if !slot.LoadInUse() {
			continue
		}
		age := nowTicks - slot.LoadHeartbeatTicks()
		if age <= timeoutTicks {
			continue
		}
		if slot.CASInUse(1, 0) {
			slot.StoreReaderID(0)
			slot.StoreControlHead(0)
			slot.StoreControlTail(0)
			reaped = append(reaped, i)
		}
	}
	return reaped
}

// Snapshot returns a non-atomic per-field snapshot of every slot, for
// Server.snapshot_readers and Inspector diagnostics.
func (t *Table) Snapshot() []wire.Snapshot {
	out := make([]wire.Snapshot, t.l.ReaderSlots)
	for i := uint32(0); i < t.l.ReaderSlots; i++ {
		out[i] = t.Slot(i).Snapshot()
	}
	return out
}
