package shmx

import (
	"errors"
	"fmt"
	"time"

	"github.com/richinsley/shmx/internal/backing"
	"github.com/richinsley/shmx/internal/layout"
	"github.com/richinsley/shmx/internal/readertable"
	"github.com/richinsley/shmx/internal/ring"
	"github.com/richinsley/shmx/internal/wire"
)

// Server owns a shmx region: it is the exclusive writer of every
// FrameSlot and the sole party that may Destroy the region.
type Server struct {
	back    backing.Backing
	region  *backing.Region
	name    string
	header  *wire.GlobalHeader
	l       layout.Layout
	ring    *ring.FrameRing
	table   *readertable.Table
	streams map[uint32]wire.StaticDirEntry
}

// Create asks a Backing for a region sized by Compute(cfg), zeroes it,
// writes the GlobalHeader with a freshly assigned nonzero session_id, and
// encodes the static stream directory.
func Create(cfg Config, streams []StreamDesc) (*Server, error) {
	l, err := layout.Compute(cfg.toLayoutConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	back := backing.Posix{}
	region, err := back.Create(cfg.Name, l.TotalSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShmBackingFailed, err)
	}

	header := wire.HeaderView(region.Mem)
	header.Magic = wire.Magic
	header.VerMajor = wire.VerMajor
	header.VerMinor = wire.VerMinor
	header.SessionID = newSessionID()
	l.WriteToHeader(header)

	entries := make([]wire.StaticDirEntry, 0, len(streams))
	streamMap := make(map[uint32]wire.StaticDirEntry, len(streams))
	for _, s := range streams {
		e := s.toWireEntry()
		entries = append(entries, e)
		streamMap[e.StreamID] = e
	}

	staticBuf, err := wire.EncodeStaticDir(entries, l.StaticCap)
	if err != nil {
		back.Destroy(cfg.Name, region)
		return nil, fmt.Errorf("%w: %v", ErrStaticOverflow, err)
	}
	copy(region.Mem[l.StaticOffset:], staticBuf)
	header.StaticUsed = uint32(len(staticBuf))
	header.StoreStaticGen(1)

	s := &Server{
		back:    back,
		region:  region,
		name:    cfg.Name,
		header:  header,
		l:       l,
		ring:    ring.New(region.Mem, l, streamMap),
		table:   readertable.New(region.Mem, l),
		streams: streamMap,
	}
	return s, nil
}

// newSessionID assigns a fresh nonzero session identifier: monotonic
// wall-clock nanoseconds, matching spec.md's suggested scheme.
func newSessionID() uint64 {
	id := uint64(time.Now().UnixNano())
	if id == 0 {
		id = 1
	}
	return id
}

// Header returns the region's GlobalHeader.
func (s *Server) Header() *wire.GlobalHeader {
	return s.header
}

// BeginFrame selects the next slot in the ring and returns a mutable view
// to build a frame into via AppendStream, followed by PublishFrame.
func (s *Server) BeginFrame() *FrameMut {
	return s.ring.BeginFrame()
}

// AppendStream appends one TLV to fm. It returns ErrUnknownStream if
// streamID isn't in the directory (or bytesPerElem disagrees with the
// directory's recorded width), or ErrFrameTooLarge if doing so would
// exceed frame_bytes_cap.
func (s *Server) AppendStream(fm *FrameMut, streamID uint32, data []byte, elemCount, bytesPerElem uint32) error {
	switch err := s.ring.Append(fm, streamID, data, elemCount, bytesPerElem); {
	case err == nil:
		return nil
	case errors.Is(err, ring.ErrUnknownStream):
		return fmt.Errorf("%w: stream %d", ErrUnknownStream, streamID)
	case errors.Is(err, ring.ErrFrameTooLarge):
		return fmt.Errorf("%w: stream %d", ErrFrameTooLarge, streamID)
	default:
		return err
	}
}

// PublishFrame computes the frame's CRC32C, writes its header fields, and
// performs the release-ordered frame_id/write_index stores that make it
// visible to readers. It returns the newly published frame_id.
func (s *Server) PublishFrame(fm *FrameMut, simTime float64) uint64 {
	return s.ring.Publish(fm, s.header.SessionID, simTime)
}

// PollControl sweeps every in-use reader slot's ControlRing in index
// order, draining up to maxMsgs records split evenly across active rings,
// and returns every decoded message it collected. A malformed record on
// any ring is reset in place by ControlRing.Drain and does not stop the
// sweep; PollControl still reports it, joined into a single
// ErrControlPoisoned-wrapping error naming every affected reader slot.
func (s *Server) PollControl(maxMsgs int) ([]ControlMsg, error) {
	if maxMsgs <= 0 {
		return nil, nil
	}

	active := make([]uint32, 0, s.l.ReaderSlots)
	for i := uint32(0); i < s.l.ReaderSlots; i++ {
		if s.table.Slot(i).LoadInUse() {
			active = append(active, i)
		}
	}
	if len(active) == 0 {
		return nil, nil
	}

	perRing := maxMsgs / len(active)
	if perRing == 0 {
		perRing = 1
	}

	var out []ControlMsg
	var poisonErr error
	budget := maxMsgs
	for _, idx := range active {
		if budget <= 0 {
			break
		}
		cr, ok := s.table.ControlRing(idx)
		if !ok {
			continue
		}
		want := perRing
		if want > budget {
			want = budget
		}
		msgs, err := cr.Drain(want)
		if err != nil {
			poisonErr = errors.Join(poisonErr, fmt.Errorf("%w: reader slot %d", ErrControlPoisoned, idx))
		}
		for _, m := range msgs {
			out = append(out, ControlMsg{ReaderID: m.ReaderID, Type: m.Type, Data: m.Data})
		}
		budget -= len(msgs)
	}
	return out, poisonErr
}

// ReapStaleReaders clears every claimed reader slot whose heartbeat age
// exceeds timeoutTicks, decrementing readers_connected for each.
func (s *Server) ReapStaleReaders(nowTicks, timeoutTicks uint64) []uint32 {
	reaped := s.table.ReapStale(nowTicks, timeoutTicks)
	for range reaped {
		s.header.DecReadersConnected()
	}
	return reaped
}

// SnapshotReaders returns a non-atomic per-field snapshot of every reader
// slot for diagnostics.
func (s *Server) SnapshotReaders() []ReaderInfo {
	return s.table.Snapshot()
}

// ReadersConnected echoes the informational, relaxed reader count.
func (s *Server) ReadersConnected() uint32 {
	return s.header.LoadReadersConnected()
}

// Destroy releases the region. After this, clients must tolerate stale
// reads and eventually fail to reopen.
func (s *Server) Destroy() error {
	return s.back.Destroy(s.name, s.region)
}
