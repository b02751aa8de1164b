package shmx_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/richinsley/shmx"
	"github.com/richinsley/shmx/internal/backing"
	"github.com/richinsley/shmx/internal/layout"
	"github.com/richinsley/shmx/internal/wire"
)

func testStreams() []shmx.StreamDesc {
	return []shmx.StreamDesc{
		{StreamID: 1, Name: "tick_seq", ElemType: shmx.DTU64, Components: 1, Layout: shmx.LayoutSOAScalar, BytesPerElem: 8},
		{StreamID: 2, Name: "tick_sim", ElemType: shmx.DTF64, Components: 1, Layout: shmx.LayoutSOAScalar, BytesPerElem: 8},
	}
}

func testConfig(name string) shmx.Config {
	return shmx.Config{
		Name:             name,
		Slots:            8,
		ReaderSlots:      4,
		StaticBytesCap:   1024,
		FrameBytesCap:    64,
		ControlPerReader: 256,
	}
}

var regionCounter int

func uniqueName(t *testing.T) string {
	t.Helper()
	regionCounter++
	return fmt.Sprintf("shmx-test-%d-%d", time.Now().UnixNano(), regionCounter)
}

func publishTick(t *testing.T, srv *shmx.Server, seq uint64, simTime float64) uint64 {
	t.Helper()
	fm := srv.BeginFrame()
	seqBytes := make([]byte, 8)
	for i := 0; i < 8; i++ {
		seqBytes[i] = byte(seq >> (8 * i))
	}
	if err := srv.AppendStream(fm, 1, seqBytes, 1, 8); err != nil {
		t.Fatalf("AppendStream(tick_seq): %v", err)
	}
	simBytes := make([]byte, 8)
	simBits := uint64(simTime)
	for i := 0; i < 8; i++ {
		simBytes[i] = byte(simBits >> (8 * i))
	}
	if err := srv.AppendStream(fm, 2, simBytes, 1, 8); err != nil {
		t.Fatalf("AppendStream(tick_sim): %v", err)
	}
	return srv.PublishFrame(fm, simTime)
}

// Scenario 1: basic publish/observe round trip.
func TestBasicPublishObserve(t *testing.T) {
	name := uniqueName(t)
	srv, err := shmx.Create(testConfig(name), testStreams())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer srv.Destroy()

	publishTick(t, srv, 1, 0.1)

	c, err := shmx.Open(name)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	frame, err := c.Latest()
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if frame.FrameID != 1 {
		t.Fatalf("frame_id = %d, want 1", frame.FrameID)
	}
	tlvs, err := c.Decode(frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(tlvs) != 2 {
		t.Fatalf("got %d tlvs, want 2", len(tlvs))
	}
}

// Scenario 2: ring wraparound — a slow reader still observes a valid,
// internally consistent latest frame after many more publishes than slots.
func TestRingWraparound(t *testing.T) {
	name := uniqueName(t)
	cfg := testConfig(name)
	cfg.Slots = 4
	srv, err := shmx.Create(cfg, testStreams())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer srv.Destroy()

	var lastID uint64
	for i := uint64(1); i <= 40; i++ {
		lastID = publishTick(t, srv, i, float64(i))
	}

	c, err := shmx.Open(name)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	frame, err := c.Latest()
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if frame.FrameID != lastID {
		t.Fatalf("frame_id = %d, want latest %d", frame.FrameID, lastID)
	}
}

// Scenario 3: a reader that stops heartbeating gets reaped and its slot
// freed for reuse.
func TestReaderReap(t *testing.T) {
	name := uniqueName(t)
	srv, err := shmx.Create(testConfig(name), testStreams())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer srv.Destroy()
	publishTick(t, srv, 1, 0)

	c, err := shmx.Open(name)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := c.Latest(); err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if srv.ReadersConnected() != 1 {
		t.Fatalf("readers_connected = %d, want 1", srv.ReadersConnected())
	}

	// Simulate a frozen reader: reap as if a long time has passed, without
	// the reader calling Latest again to refresh its heartbeat.
	reaped := srv.ReapStaleReaders(uint64(time.Now().Add(time.Hour).UnixNano()), uint64(time.Second))
	if len(reaped) != 1 {
		t.Fatalf("reaped %v, want exactly one slot", reaped)
	}
	if srv.ReadersConnected() != 0 {
		t.Fatalf("readers_connected = %d, want 0 after reap", srv.ReadersConnected())
	}

	// Close on an already-reaped client must not double-decrement.
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

// Scenario 4: a client that recreates its session (server restart) must
// observe ErrSessionChanged rather than silently trusting stale state.
func TestSessionChanged(t *testing.T) {
	name := uniqueName(t)
	srv, err := shmx.Create(testConfig(name), testStreams())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	publishTick(t, srv, 1, 0)

	c, err := shmx.Open(name)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()
	if _, err := c.Latest(); err != nil {
		t.Fatalf("Latest: %v", err)
	}

	srv.Destroy()

	srv2, err := shmx.Create(testConfig(name), testStreams())
	if err != nil {
		t.Fatalf("re-Create: %v", err)
	}
	defer srv2.Destroy()
	publishTick(t, srv2, 1, 0)

	_, err = c.Latest()
	if !errors.Is(err, shmx.ErrSessionChanged) {
		t.Fatalf("err = %v, want ErrSessionChanged", err)
	}

	if err := c.Reopen(); err != nil {
		t.Fatalf("Reopen: %v", err)
	}
	if _, err := c.Latest(); err != nil {
		t.Fatalf("Latest after Reopen: %v", err)
	}
}

// Scenario 5: control message round trip from client to server.
func TestControlRoundTrip(t *testing.T) {
	name := uniqueName(t)
	srv, err := shmx.Create(testConfig(name), testStreams())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer srv.Destroy()

	c, err := shmx.Open(name)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	if err := c.ControlSend(shmx.CtrlHello, []byte("hi")); err != nil {
		t.Fatalf("ControlSend: %v", err)
	}

	msgs, err := srv.PollControl(16)
	if err != nil {
		t.Fatalf("PollControl: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d control messages, want 1", len(msgs))
	}
	if msgs[0].Type != shmx.CtrlHello || string(msgs[0].Data) != "hi" {
		t.Fatalf("msg = %+v", msgs[0])
	}
}

// corruptSlotPayload flips a byte in the payload of the slot that holds
// frameID, mapping the region a second time the way an external agent
// with no knowledge of shmx's public API would.
func corruptSlotPayload(t *testing.T, name string, slots uint32, frameID uint64) {
	t.Helper()
	back := backing.Posix{}
	region, err := back.Open(name)
	if err != nil {
		t.Fatalf("backing.Open: %v", err)
	}
	defer back.Unmap(region)

	header := wire.HeaderView(region.Mem)
	l := layout.FromHeader(header)
	slotIdx := uint32((frameID - 1) % uint64(slots))
	payload := wire.SlotPayload(region.Mem, l.SlotsOffset, l.SlotStride(), slotIdx, l.FrameBytesCap)
	payload[0] ^= 0xFF
}

// Scenario 6: a reader observing a frame with a corrupted CRC must not
// receive that frame as valid, whether through Client.Latest or
// Inspector.SlotView.
func TestCRCCorruptionRejected(t *testing.T) {
	name := uniqueName(t)
	cfg := testConfig(name)
	srv, err := shmx.Create(cfg, testStreams())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer srv.Destroy()

	frameID := publishTick(t, srv, 1, 1.0)

	corruptSlotPayload(t, name, cfg.Slots, frameID)

	c, err := shmx.Open(name)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()
	if _, err := c.Latest(); !errors.Is(err, shmx.ErrTransientRace) {
		t.Fatalf("Latest err = %v, want ErrTransientRace (CRC mismatch)", err)
	}

	ins, err := shmx.OpenInspector(name)
	if err != nil {
		t.Fatalf("OpenInspector: %v", err)
	}
	defer ins.Close()
	slotIdx := uint32((frameID - 1) % uint64(cfg.Slots))
	if sv := ins.SlotView(slotIdx); sv.ChecksumOK {
		t.Fatal("expected SlotView.ChecksumOK to be false after payload corruption")
	}
}

// Boundary: frame_bytes_cap below the minimum TLV header size is rejected
// at Create.
func TestCreateRejectsUndersizedFrameBytesCap(t *testing.T) {
	cfg := testConfig(uniqueName(t))
	cfg.FrameBytesCap = 4
	_, err := shmx.Create(cfg, testStreams())
	if !errors.Is(err, shmx.ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
}

// Boundary: a single-slot ring still publishes and observes correctly; it
// just has no history beyond the latest frame.
func TestSingleSlotRing(t *testing.T) {
	name := uniqueName(t)
	cfg := testConfig(name)
	cfg.Slots = 1
	srv, err := shmx.Create(cfg, testStreams())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer srv.Destroy()

	publishTick(t, srv, 1, 1)
	publishTick(t, srv, 2, 2)

	c, err := shmx.Open(name)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	frame, err := c.Latest()
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if frame.FrameID != 2 {
		t.Fatalf("frame_id = %d, want 2", frame.FrameID)
	}
}

// Boundary: exhausting every reader slot surfaces ErrNoSlotAvailable
// instead of blocking.
func TestReaderSlotsExhausted(t *testing.T) {
	name := uniqueName(t)
	cfg := testConfig(name)
	cfg.ReaderSlots = 1
	srv, err := shmx.Create(cfg, testStreams())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer srv.Destroy()
	publishTick(t, srv, 1, 0)

	c1, err := shmx.Open(name)
	if err != nil {
		t.Fatalf("Open c1: %v", err)
	}
	defer c1.Close()
	if _, err := c1.Latest(); err != nil {
		t.Fatalf("c1.Latest: %v", err)
	}

	c2, err := shmx.Open(name)
	if err != nil {
		t.Fatalf("Open c2: %v", err)
	}
	defer c2.Close()
	if _, err := c2.Latest(); !errors.Is(err, shmx.ErrNoSlotAvailable) {
		t.Fatalf("c2.Latest err = %v, want ErrNoSlotAvailable", err)
	}
}

func TestInspectorDoesNotClaimSlotOrCount(t *testing.T) {
	name := uniqueName(t)
	srv, err := shmx.Create(testConfig(name), testStreams())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer srv.Destroy()
	publishTick(t, srv, 1, 0)

	ins, err := shmx.OpenInspector(name)
	if err != nil {
		t.Fatalf("OpenInspector: %v", err)
	}
	defer ins.Close()

	if _, err := ins.Latest(); err != nil {
		t.Fatalf("Inspector.Latest: %v", err)
	}
	if srv.ReadersConnected() != 0 {
		t.Fatalf("readers_connected = %d, want 0 (inspector must not claim a slot)", srv.ReadersConnected())
	}

	dir, err := ins.StaticDir()
	if err != nil {
		t.Fatalf("StaticDir: %v", err)
	}
	if len(dir) != 2 {
		t.Fatalf("got %d stream entries, want 2", len(dir))
	}

	sv := ins.SlotView(0)
	if !sv.ChecksumOK {
		t.Fatal("expected slot 0's checksum to verify")
	}
}
