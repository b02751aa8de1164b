// Command shmx-inspector attaches read-only to a shmx region and prints
// its layout, static directory, reader table and current ring slot state
// without claiming a reader slot.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/richinsley/shmx"
)

func main() {
	name := flag.String("name", "demo", "shared memory region name")
	watch := flag.Bool("watch", false, "keep polling and reprinting readers/latest frame")
	interval := flag.Duration("interval", 500*time.Millisecond, "poll interval when -watch is set")
	flag.Parse()

	ins, err := shmx.OpenInspector(*name)
	if err != nil {
		log.Fatalf("shmx-inspector: open: %v", err)
	}
	defer ins.Close()

	l := ins.Layout()
	h := ins.Header()
	fmt.Printf("region %q: session_id=%d slots=%d reader_slots=%d frame_bytes_cap=%d total_size=%d\n",
		*name, h.SessionID, l.Slots, l.ReaderSlots, l.FrameBytesCap, l.SlotsOffset+l.SlotStride()*uint64(l.Slots))

	dir, err := ins.StaticDir()
	if err != nil {
		log.Fatalf("shmx-inspector: static dir: %v", err)
	}
	for _, e := range dir {
		fmt.Printf("  %s\n", e)
	}

	printOnce(ins)
	if !*watch {
		return
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for range ticker.C {
		printOnce(ins)
	}
}

func printOnce(ins *shmx.Inspector) {
	readers := ins.SnapshotReaders()
	connected := 0
	for _, r := range readers {
		if r.InUse {
			connected++
			fmt.Printf("  reader[id=%d] last_frame_seen=%d heartbeat_ticks=%d control_head=%d control_tail=%d\n",
				r.ReaderID, r.LastFrameSeen, r.HeartbeatTicks, r.ControlHead, r.ControlTail)
		}
	}
	fmt.Printf("  readers_connected=%d\n", connected)

	frame, err := ins.Latest()
	switch {
	case err == shmx.ErrTransientRace:
		fmt.Println("  latest: transient race, no stable frame observed")
		return
	case err == shmx.ErrSessionChanged:
		fmt.Printf("  latest: frame_id=%d (stale session)\n", frame.FrameID)
		return
	case err != nil:
		fmt.Printf("  latest: error: %v\n", err)
		return
	}
	fmt.Printf("  latest: frame_id=%d tlv_count=%d payload_bytes=%d sim_time=%.3f\n",
		frame.FrameID, frame.TLVCount, frame.PayloadBytes, frame.SimTime)
}
