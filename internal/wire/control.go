package wire

import "encoding/binary"

// ControlRecordHeaderSize is the size of a control ring record header:
// { u32 type; u32 length }. Payload follows, padded to 4 bytes.
const ControlRecordHeaderSize = 8

// ControlAlign is the alignment control records are padded to inside the
// ring; spec.md specifies 4-byte alignment for control records (looser
// than the 8-byte RecordAlign used elsewhere).
const ControlAlign = 4

// EncodeControlRecord returns the header+payload+pad bytes for one control
// message, ready to be copied into a ControlRing.
func EncodeControlRecord(msgType uint32, payload []byte) []byte {
	padded := int(AlignUp(uint64(len(payload)), ControlAlign))
	out := make([]byte, ControlRecordHeaderSize+padded)
	binary.LittleEndian.PutUint32(out[0:4], msgType)
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(payload)))
	copy(out[ControlRecordHeaderSize:], payload)
	return out
}

// DecodeControlRecordHeader parses the 8-byte record header.
func DecodeControlRecordHeader(b []byte) (msgType, length uint32) {
	return binary.LittleEndian.Uint32(b[0:4]), binary.LittleEndian.Uint32(b[4:8])
}

// ControlRecordSize returns the total ring footprint (header + padded
// payload) for a payload of length n bytes.
func ControlRecordSize(n int) int {
	return ControlRecordHeaderSize + int(AlignUp(uint64(n), ControlAlign))
}
