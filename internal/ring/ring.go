// Package ring implements the FrameRing publish/observe engine: the
// lock-free state machine described in spec.md §4.5 layered over a mapped
// region. Every operation here is wait-free with respect to the other
// side of the ring, per spec.md §5.
package ring

import (
	"errors"

	"github.com/richinsley/shmx/internal/layout"
	"github.com/richinsley/shmx/internal/wire"
)

var (
	// ErrUnknownStream is returned by Append when stream_id is absent
	// from the static directory, or when the caller's bytes_per_elem
	// disagrees with the directory entry for it — spec.md's error
	// taxonomy has a single UnknownStream kind for both.
	ErrUnknownStream = errors.New("ring: unknown stream")
	// ErrFrameTooLarge is returned by Append when the TLV would not fit
	// within frame_bytes_cap.
	ErrFrameTooLarge = errors.New("ring: frame too large")
)

// FrameRing is a typed view over a region's frame ring segment. Server
// constructs one with its stream directory to publish frames; Client and
// Inspector construct one without a directory (nil streams) to observe.
type FrameRing struct {
	mem        []byte
	header     *wire.GlobalHeader
	l          layout.Layout
	slotStride uint64
	streams    map[uint32]wire.StaticDirEntry
}

// New builds a FrameRing over mem using l's derived offsets. streams may
// be nil for read-only observers that never call BeginFrame/Append.
func New(mem []byte, l layout.Layout, streams map[uint32]wire.StaticDirEntry) *FrameRing {
	return &FrameRing{
		mem:        mem,
		header:     wire.HeaderView(mem),
		l:          l,
		slotStride: l.SlotStride(),
		streams:    streams,
	}
}

// FrameMut is an in-progress frame returned by BeginFrame. It must be
// followed by Publish or discarded; a discarded FrameMut is silently
// reused (overwritten) by the next BeginFrame on the same slot index.
type FrameMut struct {
	slotIndex uint32
	buf       []byte // capacity-sized payload view
	used      int
	tlvCount  uint32
}

// BeginFrame selects slot i = write_index mod slots and returns a mutable
// view with its logical tlv_count/payload_bytes reset to zero. Append
// writes TLV bytes straight into that slot's payload area; the slot's
// FrameHeader and frame_id are not touched until Publish.
func (r *FrameRing) BeginFrame() *FrameMut {
	wi := r.header.LoadWriteIndex()
	slotIdx := uint32(wi % uint64(r.l.Slots))
	buf := wire.SlotPayload(r.mem, r.l.SlotsOffset, r.slotStride, slotIdx, r.l.FrameBytesCap)
	return &FrameMut{slotIndex: slotIdx, buf: buf, used: 0, tlvCount: 0}
}

// Append encodes one TLV record into fm, leaving fm unmodified and
// returning ErrUnknownStream if stream_id isn't in the directory (or
// bytesPerElem disagrees with it), or ErrFrameTooLarge if the record
// would exceed frame_bytes_cap.
func (r *FrameRing) Append(fm *FrameMut, streamID uint32, data []byte, elemCount, bytesPerElem uint32) error {
	entry, ok := r.streams[streamID]
	if !ok || entry.BytesPerElem != bytesPerElem {
		return ErrUnknownStream
	}
	need := wire.EncodedTLVSize(len(data))
	if fm.used+need > len(fm.buf) {
		return ErrFrameTooLarge
	}
	// fm.buf has spare capacity for need bytes, so this appends in place
	// without reallocating fm.buf's backing array.
	encoded := wire.AppendTLV(fm.buf[:fm.used], streamID, elemCount, data)
	fm.used = len(encoded)
	fm.tlvCount++
	return nil
}

// Publish performs the two-phase release described in spec.md §4.2:
// non-atomic header body writes, a release fence, then the per-slot
// frame_id release store, then the global write_index release store
// (the publish point). It returns the newly published frame_id.
func (r *FrameRing) Publish(fm *FrameMut, sessionID uint64, simTime float64) uint64 {
	fh := wire.SlotHeaderView(r.mem, r.l.SlotsOffset, r.slotStride, fm.slotIndex)

	crc := wire.ChecksumPayload(fm.buf[:fm.used])

	fh.SessionID = sessionID
	fh.SimTime = simTime
	fh.TLVCount = fm.tlvCount
	fh.PayloadBytes = uint32(fm.used)
	fh.CRC32C = crc

	wi := r.header.LoadWriteIndex()
	frameID := wi + 1

	fh.StoreFrameID(frameID)          // per-slot release store
	r.header.StoreWriteIndex(frameID) // global release store: the publish point

	return frameID
}

// Observed is a validated, borrowed snapshot of the latest frame. Payload
// is a view into shared memory valid only until the next Observe call.
type Observed struct {
	FrameID      uint64
	SessionID    uint64
	SimTime      float64
	TLVCount     uint32
	PayloadBytes uint32
	Payload      []byte
}

// retryHeadroom is added to the minimum of 2*slots observe attempts, as
// headroom for scheduling jitter.
const retryHeadroom = 4

// Observe implements spec.md §4.3's latest() protocol: read write_index,
// compute the newest slot, acquire-load its frame_id, and recheck
// write_index to detect a concurrent overwrite. Returns false if the ring
// is empty, if the read kept racing an overwrite past the retry budget,
// or if the payload fails CRC validation.
func (r *FrameRing) Observe() (Observed, bool) {
	slots := uint64(r.l.Slots)
	maxRetries := 2*slots + retryHeadroom

	for attempt := uint64(0); attempt < maxRetries; attempt++ {
		wi := r.header.LoadWriteIndex()
		if wi == 0 {
			return Observed{}, false
		}
		slotIdx := uint32((wi - 1) % slots)
		fh := wire.SlotHeaderView(r.mem, r.l.SlotsOffset, r.slotStride, slotIdx)

		frameID := fh.LoadFrameID()
		if frameID == 0 {
			return Observed{}, false
		}

		// Post-read recheck #1: did the ring wrap past this slot while we
		// were reading frame_id?
		wi2 := r.header.LoadWriteIndex()
		if wi2 >= wi+slots {
			continue
		}

		sessionID := fh.SessionID
		simTime := fh.SimTime
		tlvCount := fh.TLVCount
		payloadBytes := fh.PayloadBytes
		crcWant := fh.CRC32C

		if uint64(payloadBytes) > uint64(r.l.FrameBytesCap) {
			continue // torn read of a header mid-overwrite; retry
		}

		payload := wire.SlotPayload(r.mem, r.l.SlotsOffset, r.slotStride, slotIdx, r.l.FrameBytesCap)[:payloadBytes]

		// Post-read recheck #2: did the ring wrap past this frame while we
		// were reading its header/payload?
		wi3 := r.header.LoadWriteIndex()
		if wi3 >= frameID+slots {
			continue
		}

		if wire.ChecksumPayload(payload) != crcWant {
			return Observed{}, false
		}

		return Observed{
			FrameID:      frameID,
			SessionID:    sessionID,
			SimTime:      simTime,
			TLVCount:     tlvCount,
			PayloadBytes: payloadBytes,
			Payload:      payload,
		}, true
	}
	return Observed{}, false
}

// Decode walks an Observed frame's TLV records.
func Decode(o Observed) ([]wire.TLV, error) {
	return wire.DecodeTLVs(o.Payload, o.TLVCount)
}

// SlotView exposes slot i for out-of-band inspection (Inspector.slot_view),
// including a checksum verification that does not go through the retry
// state machine — the inspector reports whatever is there right now.
type SlotView struct {
	FrameID      uint64
	SessionID    uint64
	SimTime      float64
	TLVCount     uint32
	PayloadBytes uint32
	ChecksumOK   bool
}

func (r *FrameRing) SlotView(i uint32) SlotView {
	fh := wire.SlotHeaderView(r.mem, r.l.SlotsOffset, r.slotStride, i)
	frameID := fh.LoadFrameID()
	payloadBytes := fh.PayloadBytes
	ok := false
	if frameID != 0 && uint64(payloadBytes) <= uint64(r.l.FrameBytesCap) {
		payload := wire.SlotPayload(r.mem, r.l.SlotsOffset, r.slotStride, i, r.l.FrameBytesCap)[:payloadBytes]
		ok = wire.ChecksumPayload(payload) == fh.CRC32C
	}
	return SlotView{
		FrameID:      frameID,
		SessionID:    fh.SessionID,
		SimTime:      fh.SimTime,
		TLVCount:     fh.TLVCount,
		PayloadBytes: payloadBytes,
		ChecksumOK:   ok,
	}
}
