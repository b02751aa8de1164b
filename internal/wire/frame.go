package wire

import (
	"encoding/binary"
	"errors"
	"sync/atomic"
	"unsafe"
)

// FrameHeaderSize is the unaligned struct size. Slot stride is
// align_up(FrameHeaderSize+frame_bytes_cap, SegmentAlign) per Layout.
const FrameHeaderSize = 40

// FrameHeader sits at the start of every FrameSlot, followed by
// payload_bytes bytes of TLV stream.
type FrameHeader struct {
	FrameID      uint64 // atomic; publisher's post-increment write_index; 0 == empty
	SessionID    uint64
	SimTime      float64
	TLVCount     uint32
	PayloadBytes uint32
	CRC32C       uint32
	_            uint32 // pad
}

// SlotHeaderView returns a typed pointer to the FrameHeader of slot i.
func SlotHeaderView(mem []byte, slotsOffset, slotStride uint64, i uint32) *FrameHeader {
	off := slotsOffset + slotStride*uint64(i)
	return (*FrameHeader)(unsafe.Pointer(&mem[off]))
}

// SlotPayload returns the payload byte range for slot i, sized to the
// slot's full capacity (frame_bytes_cap); callers slice to PayloadBytes.
func SlotPayload(mem []byte, slotsOffset, slotStride uint64, i uint32, frameBytesCap uint32) []byte {
	off := slotsOffset + slotStride*uint64(i) + FrameHeaderSize
	return mem[off : off+uint64(frameBytesCap)]
}

func (f *FrameHeader) LoadFrameID() uint64 {
	return atomic.LoadUint64(&f.FrameID)
}

// StoreFrameID is the per-slot publish store (release ordering is provided
// by the caller's fence/ordering discipline in internal/ring).
func (f *FrameHeader) StoreFrameID(v uint64) {
	atomic.StoreUint64(&f.FrameID, v)
}

// TLV record header: { u32 stream_id; u32 elem_count; u32 bytes; u32 pad }
// followed by bytes of data, padded to 8.
const TLVHeaderSize = 16

var ErrTLVTruncated = errors.New("wire: tlv record truncated")

// TLV is a decoded view into a frame's payload bytes. Data borrows the
// underlying slice; callers that need it to outlive the next latest() call
// must copy it.
type TLV struct {
	StreamID  uint32
	ElemCount uint32
	Data      []byte
}

// AppendTLV encodes a TLV onto the end of dst and returns the extended
// slice. It writes the 16-byte header, the payload, and pads the
// record to an 8-byte boundary with zero bytes.
func AppendTLV(dst []byte, streamID, elemCount uint32, data []byte) []byte {
	var hdr [TLVHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], streamID)
	binary.LittleEndian.PutUint32(hdr[4:8], elemCount)
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(data)))
	dst = append(dst, hdr[:]...)
	dst = append(dst, data...)
	if pad := int(AlignUp(uint64(len(data)), RecordAlign)) - len(data); pad > 0 {
		var zero [RecordAlign]byte
		dst = append(dst, zero[:pad]...)
	}
	return dst
}

// EncodedTLVSize returns the total record size (header + payload + pad)
// AppendTLV would produce for a data length of n bytes.
func EncodedTLVSize(n int) int {
	return TLVHeaderSize + int(AlignUp(uint64(n), RecordAlign))
}

// DecodeTLVs walks tlvCount records starting at the front of payload.
func DecodeTLVs(payload []byte, tlvCount uint32) ([]TLV, error) {
	out := make([]TLV, 0, tlvCount)
	off := 0
	for i := uint32(0); i < tlvCount; i++ {
		if len(payload)-off < TLVHeaderSize {
			return nil, ErrTLVTruncated
		}
		streamID := binary.LittleEndian.Uint32(payload[off : off+4])
		elemCount := binary.LittleEndian.Uint32(payload[off+4 : off+8])
		n := binary.LittleEndian.Uint32(payload[off+8 : off+12])
		off += TLVHeaderSize
		if uint64(len(payload)-off) < AlignUp(uint64(n), RecordAlign) {
			return nil, ErrTLVTruncated
		}
		out = append(out, TLV{StreamID: streamID, ElemCount: elemCount, Data: payload[off : off+int(n)]})
		off += int(AlignUp(uint64(n), RecordAlign))
	}
	return out, nil
}
