package readertable

import (
	"github.com/richinsley/shmx/internal/wire"
)

// ControlRing is the SPSC byte ring backing one reader slot's
// reader-to-server control channel. One owning reader writes (control_head),
// the server reads (control_tail); both cursors are free-running byte
// counters interpreted mod capacity.
type ControlRing struct {
	data []byte // capacity bytes, starting at control_offset + stride*i
	slot *wire.ReaderSlot
	cap  uint32
}

// ControlRing returns the control ring for reader slot i, or ok=false if
// control rings are disabled (control_per_reader == 0).
func (t *Table) ControlRing(i uint32) (*ControlRing, bool) {
	if t.l.ControlPerReader == 0 {
		return nil, false
	}
	off := t.l.ControlOffset + t.l.ControlStride*uint64(i)
	return &ControlRing{
		data: t.mem[off : off+uint64(t.l.ControlPerReader)],
		slot: t.Slot(i),
		cap:  t.l.ControlPerReader,
	}, true
}

func (r *ControlRing) writeAt(pos uint32, b []byte) {
	n := copy(r.data[pos:], b)
	if n < len(b) {
		copy(r.data, b[n:])
	}
}

func (r *ControlRing) readAt(pos uint32, n int) []byte {
	out := make([]byte, n)
	first := copy(out, r.data[pos:])
	if first < n {
		copy(out[first:], r.data[:n-first])
	}
	return out
}

// Send enqueues one control record. It never blocks: it returns false if
// the ring lacks free space for the record (wrap-aware, not requiring
// contiguity).
func (r *ControlRing) Send(msgType uint32, payload []byte) bool {
	record := wire.EncodeControlRecord(msgType, payload)

	head := r.slot.LoadControlHead()
	tail := r.slot.LoadControlTail() // acquire: server's consumed position
	used := head - tail
	available := uint64(r.cap) - uint64(used)
	if uint64(len(record)) > available {
		return false
	}

	r.writeAt(head%r.cap, record)
	r.slot.StoreControlHead(head + uint32(len(record))) // release
	return true
}

// ControlMsg is one decoded reader->server control record.
type ControlMsg struct {
	ReaderID uint64
	Type     uint32
	Data     []byte
}

// PoisonedError marks a ring where the server found a malformed
// record; per spec.md the ring is reset (control_tail = control_head)
// rather than the reader being torn down.
type PoisonedError struct{}

func (PoisonedError) Error() string { return "readertable: control ring poisoned" }

// Drain reads up to max records from the ring, decoding
// {type, length, payload}. A record whose declared length would exceed
// the ring's capacity poisons the ring: control_tail jumps to
// control_head and draining for this ring stops. Drain never blocks.
func (r *ControlRing) Drain(max int) ([]ControlMsg, error) {
	readerID := r.slot.LoadReaderID()
	head := r.slot.LoadControlHead() // acquire: reader's write position
	tail := r.slot.LoadControlTail()

	var out []ControlMsg
	var poisoned error

	for len(out) < max {
		used := head - tail
		if used == 0 {
			break
		}
		if used < wire.ControlRecordHeaderSize {
			// A partial header can't happen for a well-formed writer;
			// treat as poisoned rather than looping forever.
			tail = head
			poisoned = PoisonedError{}
			break
		}
		hdr := r.readAt(tail%r.cap, wire.ControlRecordHeaderSize)
		msgType, length := wire.DecodeControlRecordHeader(hdr)
		recordSize := wire.ControlRecordSize(int(length))
		if length > r.cap || uint32(recordSize) > used {
			tail = head
			poisoned = PoisonedError{}
			break
		}
		payload := r.readAt((tail+wire.ControlRecordHeaderSize)%r.cap, int(length))
		out = append(out, ControlMsg{ReaderID: readerID, Type: msgType, Data: payload})
		tail += uint32(recordSize)
	}

	r.slot.StoreControlTail(tail) // release
	return out, poisoned
}
