package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ElemType codes for StaticDirEntry.elem_type.
type ElemType uint32

const (
	DTU8  ElemType = 1
	DTI8  ElemType = 2
	DTU16 ElemType = 3
	DTI16 ElemType = 4
	DTU32 ElemType = 5
	DTI32 ElemType = 6
	DTU64 ElemType = 7
	DTI64 ElemType = 8
	DTF32 ElemType = 9
	DTF64 ElemType = 10
)

// BytesPerElem returns the canonical element width for a type code, or 0
// for an unrecognized code.
func (t ElemType) BytesPerElem() uint32 {
	switch t {
	case DTU8, DTI8:
		return 1
	case DTU16, DTI16:
		return 2
	case DTU32, DTI32, DTF32:
		return 4
	case DTU64, DTI64, DTF64:
		return 8
	default:
		return 0
	}
}

// Layout codes for StaticDirEntry.layout. Only SOA_SCALAR is implemented;
// the others are reserved by spec.md for future AOS/vector layouts.
type LayoutCode uint32

const LayoutSOAScalar LayoutCode = 1

// StaticDirEntry describes one stream in the static directory.
type StaticDirEntry struct {
	StreamID     uint32
	ElemType     ElemType
	Components   uint32
	Layout       LayoutCode
	BytesPerElem uint32
	Name         string
	Extra        []byte
}

var (
	ErrStaticTruncated = errors.New("wire: static directory truncated")
	ErrStaticOverflow  = errors.New("wire: static directory exceeds cap")
)

// EncodeStaticDir encodes the directory as
// { u32 entry_count; entries... } and returns an error if the encoding
// exceeds cap bytes.
func EncodeStaticDir(entries []StaticDirEntry, cap uint64) ([]byte, error) {
	if cap < 4 {
		return nil, ErrStaticOverflow
	}
	buf := make([]byte, 4, cap)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(entries)))
	for _, e := range entries {
		var fixed [20]byte
		binary.LittleEndian.PutUint32(fixed[0:4], e.StreamID)
		binary.LittleEndian.PutUint32(fixed[4:8], uint32(e.ElemType))
		binary.LittleEndian.PutUint32(fixed[8:12], e.Components)
		binary.LittleEndian.PutUint32(fixed[12:16], uint32(e.Layout))
		binary.LittleEndian.PutUint32(fixed[16:20], e.BytesPerElem)
		buf = append(buf, fixed[:]...)

		var nameLen [2]byte
		binary.LittleEndian.PutUint16(nameLen[:], uint16(len(e.Name)))
		buf = append(buf, nameLen[:]...)
		buf = append(buf, []byte(e.Name)...)
		if pad := int(AlignUp(uint64(len(buf)), RecordAlign)) - len(buf); pad > 0 {
			var zero [RecordAlign]byte
			buf = append(buf, zero[:pad]...)
		}

		buf = append(buf, byte(len(e.Extra)))
		buf = append(buf, e.Extra...)
		if pad := int(AlignUp(uint64(len(buf)), RecordAlign)) - len(buf); pad > 0 {
			var zero [RecordAlign]byte
			buf = append(buf, zero[:pad]...)
		}

		if uint64(len(buf)) > cap {
			return nil, ErrStaticOverflow
		}
	}
	return buf, nil
}

// DecodeStaticDir decodes a directory previously written by EncodeStaticDir.
func DecodeStaticDir(buf []byte) ([]StaticDirEntry, error) {
	if len(buf) < 4 {
		return nil, ErrStaticTruncated
	}
	count := binary.LittleEndian.Uint32(buf[0:4])
	off := 4
	entries := make([]StaticDirEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(buf)-off < 20+2 {
			return nil, ErrStaticTruncated
		}
		var e StaticDirEntry
		e.StreamID = binary.LittleEndian.Uint32(buf[off : off+4])
		e.ElemType = ElemType(binary.LittleEndian.Uint32(buf[off+4 : off+8]))
		e.Components = binary.LittleEndian.Uint32(buf[off+8 : off+12])
		e.Layout = LayoutCode(binary.LittleEndian.Uint32(buf[off+12 : off+16]))
		e.BytesPerElem = binary.LittleEndian.Uint32(buf[off+16 : off+20])
		off += 20
		nameLen := int(binary.LittleEndian.Uint16(buf[off : off+2]))
		off += 2
		if len(buf)-off < nameLen {
			return nil, ErrStaticTruncated
		}
		e.Name = string(buf[off : off+nameLen])
		off += nameLen
		aligned := int(AlignUp(uint64(off), RecordAlign))
		off = aligned

		if len(buf)-off < 1 {
			return nil, ErrStaticTruncated
		}
		extraLen := int(buf[off])
		off++
		if len(buf)-off < extraLen {
			return nil, ErrStaticTruncated
		}
		if extraLen > 0 {
			e.Extra = append([]byte(nil), buf[off:off+extraLen]...)
		}
		off += extraLen
		off = int(AlignUp(uint64(off), RecordAlign))

		entries = append(entries, e)
	}
	return entries, nil
}

// FindStream returns the entry for streamID, or false if absent.
func FindStream(entries []StaticDirEntry, streamID uint32) (StaticDirEntry, bool) {
	for _, e := range entries {
		if e.StreamID == streamID {
			return e, true
		}
	}
	return StaticDirEntry{}, false
}

func (e StaticDirEntry) String() string {
	return fmt.Sprintf("stream{id=%d name=%q type=%d components=%d bpe=%d}",
		e.StreamID, e.Name, e.ElemType, e.Components, e.BytesPerElem)
}
