// Command shmx-client attaches to a shmx region, prints each newly
// observed frame's tick_seq/tick_sim/tick_owner_pid values, and sends a
// hello/bye control handshake around its run.
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
	poll := flag.Duration("poll", 8*time.Millisecond, "poll interval")
	flag.Parse()

	c, err := shmx.Open(*name)
	if err != nil {
		log.Fatalf("shmx-client: open: %v", err)
	}
	defer c.Close()

	log.Printf("shmx-client: attached to %q, session_id=%d, %d streams", *name, c.Header().SessionID, len(c.Streams()))

	hello, err := msgpack.Marshal(helloPayload{VerMajor: 1, VerMinor: 0, PID: int32(os.Getpid())})
	if err != nil {
		log.Fatalf("shmx-client: marshal hello: %v", err)
	}
	if err := c.ControlSend(shmx.CtrlHello, hello); err != nil {
		log.Printf("shmx-client: send hello: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(*poll)
	defer ticker.Stop()

	var lastSeen uint64

	for {
		select {
		case <-sigCh:
			sayBye(c, "interrupted")
			return
		case <-ticker.C:
			frame, err := c.Latest()
			switch {
			case err == shmx.ErrTransientRace:
				continue
			case err == shmx.ErrSessionChanged:
				log.Printf("shmx-client: session changed, reopening")
				if rerr := c.Reopen(); rerr != nil {
					log.Fatalf("shmx-client: reopen: %v", rerr)
				}
				continue
			case err != nil:
				log.Fatalf("shmx-client: latest: %v", err)
			}
			if frame.FrameID == lastSeen {
				continue
			}
			lastSeen = frame.FrameID

			tlvs, err := c.Decode(frame)
			if err != nil {
				log.Printf("shmx-client: decode: %v", err)
				continue
			}

			var seq uint64
			var simTime float64
			var pid uint32
			for _, t := range tlvs {
				switch t.StreamID {
				case 1:
					seq = binary.LittleEndian.Uint64(t.Data)
				case 2:
					simTime = math.Float64frombits(binary.LittleEndian.Uint64(t.Data))
				case 3:
					pid = binary.LittleEndian.Uint32(t.Data)
				}
			}
			log.Printf("shmx-client: frame_id=%d seq=%d sim_time=%.3f owner_pid=%d", frame.FrameID, seq, simTime, pid)
		}
	}
}

func sayBye(c *shmx.Client, reason string) {
	bye, err := msgpack.Marshal(byePayload{Reason: reason})
	if err != nil {
		log.Printf("shmx-client: marshal bye: %v", err)
		return
	}
	if err := c.ControlSend(shmx.CtrlBye, bye); err != nil {
		log.Printf("shmx-client: send bye: %v", err)
	}
}
