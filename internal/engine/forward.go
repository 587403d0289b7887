package engine

import (
	"errors"
	"io"

	"github.com/pion/rtp"
)

// rtpPacketView carries one packet read off a Producer's remote track on
// its way out to every attached Consumer.
type rtpPacketView struct {
	packet *rtp.Packet
}

// forwardRTP pumps RTP packets from a Producer's bound remote track to
// every Consumer attached to it, for as long as the track stays readable.
// Grounded on the teacher's internal/rtc/mediatrack.go forwardRTP loop,
// filled in with the actual read/fan-out the teacher left as a stub.
func forwardRTP(p *Producer) {
	p.mu.Lock()
	track := p.track
	p.mu.Unlock()
	if track == nil {
		return
	}

	for {
		if p.isClosed() {
			return
		}

		packet, _, err := track.ReadRTP()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			return
		}

		view := &rtpPacketView{packet: packet}
		for _, c := range p.snapshotConsumers() {
			if c.isClosed() {
				continue
			}
			c.write(view)
		}
	}
}
