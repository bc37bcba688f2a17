package video

import (
	"github.com/pion/rtp"
)

// maxAccessUnit bounds a single reassembled frame.
const maxAccessUnit = 4 * 1024 * 1024

// Assembler joins RTP payloads into access units. A packet with the marker
// bit set closes the current unit. Units with a sequence gap are dropped.
type Assembler struct {
	buf     []byte
	lastSeq uint16
	started bool
	broken  bool

	Completed uint64
	Dropped   uint64
}

// Push adds one packet and returns a completed unit, or nil.
func (a *Assembler) Push(pkt *rtp.Packet) []byte {
	if a.started && pkt.SequenceNumber != a.lastSeq+1 {
		a.broken = true
	}
	a.started = true
	a.lastSeq = pkt.SequenceNumber

	if len(a.buf)+len(pkt.Payload) > maxAccessUnit {
		a.broken = true
	} else if !a.broken {
		a.buf = append(a.buf, pkt.Payload...)
	}

	if !pkt.Marker {
		return nil
	}

	defer a.reset()
	if a.broken || len(a.buf) == 0 {
		a.Dropped++
		return nil
	}
	a.Completed++
	return append([]byte(nil), a.buf...)
}

func (a *Assembler) reset() {
	a.buf = a.buf[:0]
	a.broken = false
}
