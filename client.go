package shmx

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/richinsley/shmx/internal/backing"
	"github.com/richinsley/shmx/internal/layout"
	"github.com/richinsley/shmx/internal/readertable"
	"github.com/richinsley/shmx/internal/ring"
	"github.com/richinsley/shmx/internal/wire"
)

// Client opens a shmx region read-only, lazily claims a reader slot on
// its first Latest or ControlSend call, and observes the latest published
// frame.
type Client struct {
	back   backing.Backing
	region *backing.Region
	name   string
	header *wire.GlobalHeader
	l      layout.Layout
	ring   *ring.FrameRing
	table  *readertable.Table

	sessionID uint64

	hasSlot  bool
	slotIdx  uint32
	readerID uint64
	control  *readertable.ControlRing

	staticGen     uint32
	staticEntries []wire.StaticDirEntry
}

// Open maps the region, verifies magic and exact-major version
// compatibility, and records the session id the region was created with.
func Open(name string) (*Client, error) {
	back := backing.Posix{}
	region, err := back.Open(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShmBackingFailed, err)
	}

	header := wire.HeaderView(region.Mem)
	if !header.MagicOK() {
		back.Unmap(region)
		return nil, fmt.Errorf("%w: bad magic", ErrVersionMismatch)
	}
	if !header.VersionCompatible() {
		back.Unmap(region)
		return nil, fmt.Errorf("%w: server major %d, client major %d", ErrVersionMismatch, header.VerMajor, wire.VerMajor)
	}

	l := layout.FromHeader(header)

	c := &Client{
		back:      back,
		region:    region,
		name:      name,
		header:    header,
		l:         l,
		ring:      ring.New(region.Mem, l, nil),
		table:     readertable.New(region.Mem, l),
		sessionID: header.SessionID,
	}
	if _, err := c.RefreshStatic(); err != nil {
		back.Unmap(region)
		return nil, err
	}
	return c, nil
}

// Header returns the region's GlobalHeader.
func (c *Client) Header() *wire.GlobalHeader {
	return c.header
}

// RefreshStatic re-reads the static directory when the cached generation
// differs from the header's, returning whether it refreshed.
func (c *Client) RefreshStatic() (bool, error) {
	gen := c.header.LoadStaticGen()
	if gen == c.staticGen && c.staticEntries != nil {
		return false, nil
	}
	buf := c.region.Mem[c.l.StaticOffset : c.l.StaticOffset+uint64(c.header.StaticUsed)]
	entries, err := wire.DecodeStaticDir(buf)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStaticOverflow, err)
	}
	c.staticEntries = entries
	c.staticGen = gen
	return true, nil
}

// Streams returns the cached static directory (see RefreshStatic).
func (c *Client) Streams() []wire.StaticDirEntry {
	return c.staticEntries
}

// newReaderID mints a well-distributed nonzero 64-bit reader id by
// folding a random UUID down to 64 bits, the way stream-capture mints its
// capture-session ids.
func newReaderID() uint64 {
	u := uuid.New()
	var b [16]byte
	copy(b[:], u[:])
	hi := binary.BigEndian.Uint64(b[0:8])
	lo := binary.BigEndian.Uint64(b[8:16])
	id := hi ^ lo
	if id == 0 {
		id = 1
	}
	return id
}

func (c *Client) ensureClaimed() error {
	if c.hasSlot {
		return nil
	}
	readerID := newReaderID()
	idx, ok := c.table.Claim(readerID)
	if !ok {
		return ErrNoSlotAvailable
	}
	c.slotIdx = idx
	c.readerID = readerID
	c.hasSlot = true
	c.header.IncReadersConnected()
	if cr, ok := c.table.ControlRing(idx); ok {
		c.control = cr
	}
	return nil
}

// Latest observes the most recently published frame. It returns
// ErrSessionChanged (non-fatal: the frame itself is still valid) when the
// region's session_id no longer matches the one recorded at Open, and
// ErrNoSlotAvailable if no reader slot could be claimed.
func (c *Client) Latest() (Frame, error) {
	if err := c.ensureClaimed(); err != nil {
		return Frame{}, err
	}

	observed, ok := c.ring.Observe()
	if !ok {
		return Frame{}, ErrTransientRace
	}

	now := uint64(time.Now().UnixNano())
	c.table.Heartbeat(c.slotIdx, now, observed.FrameID)

	if observed.SessionID != c.sessionID {
		return observed, ErrSessionChanged
	}
	return observed, nil
}

// Decode walks an observed frame's TLV records.
func (c *Client) Decode(f Frame) ([]TLV, error) {
	return ring.Decode(f)
}

// ControlSend enqueues a control record on this client's ControlRing. It
// never blocks; it returns ErrControlRingFull if there is insufficient
// space.
func (c *Client) ControlSend(msgType uint32, payload []byte) error {
	if err := c.ensureClaimed(); err != nil {
		return err
	}
	if c.control == nil {
		return ErrControlRingFull
	}
	if !c.control.Send(msgType, payload) {
		return ErrControlRingFull
	}
	return nil
}

// Close releases the claimed reader slot, if any, and unmaps the region.
func (c *Client) Close() error {
	if c.hasSlot {
		// A slot the server already reaped was counted down by the reap.
		slot := c.table.Slot(c.slotIdx)
		if slot.LoadInUse() && slot.LoadReaderID() == c.readerID {
			c.table.Release(c.slotIdx)
			c.header.DecReadersConnected()
		}
		c.hasSlot = false
	}
	return c.back.Unmap(c.region)
}

// Reopen drops the claimed slot and reattaches, the recovery path spec.md
// prescribes for ErrSessionChanged.
func (c *Client) Reopen() error {
	name := c.name
	if err := c.Close(); err != nil {
		return err
	}
	fresh, err := Open(name)
	if err != nil {
		return err
	}
	*c = *fresh
	return nil
}
