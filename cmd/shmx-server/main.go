// Command shmx-server publishes tick_seq/tick_sim/tick_owner_pid frames
// onto a named shmx region at a fixed rate, printing every control
// message it receives from attached readers.
package main

import (
	"encoding/binary"
	"flag"
	"log"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/richinsley/shmx"
)

type helloPayload struct {
	VerMajor uint8
	VerMinor uint8
	PID      int32
}

type byePayload struct {
	Reason string
}

func main() {
	name := flag.String("name", "demo", "shared memory region name")
	slots := flag.Uint("slots", 64, "ring slot count")
	readerSlots := flag.Uint("reader-slots", 16, "reader table capacity")
	rate := flag.Duration("rate", 16*time.Millisecond, "publish interval")
	controlBytes := flag.Uint("control-bytes", 1024, "per-reader control ring bytes")
	flag.Parse()

	streams := []shmx.StreamDesc{
		{StreamID: 1, Name: "tick_seq", ElemType: shmx.DTU64, Components: 1, Layout: shmx.LayoutSOAScalar, BytesPerElem: 8},
		{StreamID: 2, Name: "tick_sim", ElemType: shmx.DTF64, Components: 1, Layout: shmx.LayoutSOAScalar, BytesPerElem: 8},
		{StreamID: 3, Name: "tick_owner_pid", ElemType: shmx.DTU32, Components: 1, Layout: shmx.LayoutSOAScalar, BytesPerElem: 4},
	}

	srv, err := shmx.Create(shmx.Config{
		Name:             *name,
		Slots:            uint32(*slots),
		ReaderSlots:      uint32(*readerSlots),
		StaticBytesCap:   4096,
		FrameBytesCap:    256,
		ControlPerReader: uint32(*controlBytes),
	}, streams)
	if err != nil {
		log.Fatalf("shmx-server: create: %v", err)
	}
	defer srv.Destroy()

	log.Printf("shmx-server: region %q ready, session_id=%d, pid=%d", *name, srv.Header().SessionID, os.Getpid())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(*rate)
	defer ticker.Stop()

	pid := uint32(os.Getpid())
	var seq uint64
	start := time.Now()

	for {
		select {
		case <-sigCh:
			log.Printf("shmx-server: shutting down")
			return
		case <-ticker.C:
			seq++
			simTime := time.Since(start).Seconds()

			var seqBuf [8]byte
			binary.LittleEndian.PutUint64(seqBuf[:], seq)
			var simBuf [8]byte
			binary.LittleEndian.PutUint64(simBuf[:], math.Float64bits(simTime))
			var pidBuf [4]byte
			binary.LittleEndian.PutUint32(pidBuf[:], pid)

			fm := srv.BeginFrame()
			if err := srv.AppendStream(fm, 1, seqBuf[:], 1, 8); err != nil {
				log.Printf("shmx-server: append tick_seq: %v", err)
			}
			if err := srv.AppendStream(fm, 2, simBuf[:], 1, 8); err != nil {
				log.Printf("shmx-server: append tick_sim: %v", err)
			}
			if err := srv.AppendStream(fm, 3, pidBuf[:], 1, 4); err != nil {
				log.Printf("shmx-server: append tick_owner_pid: %v", err)
			}
			srv.PublishFrame(fm, simTime)

			msgs, err := srv.PollControl(32)
			if err != nil {
				log.Printf("shmx-server: %v", err)
			}
			for _, msg := range msgs {
				logControl(msg)
			}

			if seq%256 == 0 {
				reaped := srv.ReapStaleReaders(uint64(time.Now().UnixNano()), uint64(5*time.Second))
				for _, idx := range reaped {
					log.Printf("shmx-server: reaped stale reader slot %d", idx)
				}
			}
		}
	}
}

func logControl(msg shmx.ControlMsg) {
	switch msg.Type {
	case shmx.CtrlHello:
		var hp helloPayload
		if err := msgpack.Unmarshal(msg.Data, &hp); err != nil {
			log.Printf("shmx-server: reader %d sent malformed hello: %v", msg.ReaderID, err)
			return
		}
		log.Printf("shmx-server: reader %d hello (client v%d.%d, pid=%d)", msg.ReaderID, hp.VerMajor, hp.VerMinor, hp.PID)
	case shmx.CtrlBye:
		var bp byePayload
		if err := msgpack.Unmarshal(msg.Data, &bp); err != nil {
			log.Printf("shmx-server: reader %d sent malformed bye: %v", msg.ReaderID, err)
			return
		}
		log.Printf("shmx-server: reader %d bye (%s)", msg.ReaderID, bp.Reason)
	case shmx.CtrlHeartbeat:
		log.Printf("shmx-server: reader %d heartbeat", msg.ReaderID)
	default:
		log.Printf("shmx-server: reader %d unknown control type %#x (%d bytes)", msg.ReaderID, msg.Type, len(msg.Data))
	}
}
