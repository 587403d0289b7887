package engine

import (
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"

	"github.com/vulcan-relay/vulcan-relay/internal/telemetry"
)

// Consumer is a single outbound media sink created by Transport.Consume
// (spec §4.1). It is created paused and must be resumed explicitly via
// consumer_resume before any forwarded RTP reaches it, matching mediasoup's
// "consumer starts paused" contract referenced in spec §4.4.
type Consumer struct {
	ID       ConsumerID
	Producer *Producer

	mu     sync.Mutex
	local  *webrtc.TrackLocalStaticRTP
	sender *webrtc.RTPSender
	paused bool
	closed bool

	onClose []func()
}

func newConsumer(id ConsumerID, producer *Producer, local *webrtc.TrackLocalStaticRTP, sender *webrtc.RTPSender) *Consumer {
	telemetry.ConsumersTotal.WithLabelValues(string(producer.Kind)).Inc()
	c := &Consumer{
		ID:       id,
		Producer: producer,
		local:    local,
		sender:   sender,
		paused:   true,
	}
	go c.readRTCP()
	return c
}

// readRTCP drains the RTP sender's incoming RTCP feed. A downstream PLI or
// FIR is a keyframe request from the receiving client (or the SFU's own
// negotiated codec's loss-recovery path); it is forwarded to the owning
// producer's transport so the original publisher re-sends a keyframe.
func (c *Consumer) readRTCP() {
	for {
		packets, _, err := c.sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range packets {
			switch pkt.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				c.Producer.requestKeyFrame()
			}
		}
	}
}

// Resume lifts the initial pause so forwarded RTP starts reaching the
// consumer's local track.
func (c *Consumer) Resume() {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
}

// Pause stops RTP from reaching the consumer's local track without
// tearing it down.
func (c *Consumer) Pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
}

func (c *Consumer) write(pkt *rtpPacketView) {
	c.mu.Lock()
	paused := c.paused
	local := c.local
	c.mu.Unlock()

	if paused || local == nil {
		return
	}
	_ = local.WriteRTP(pkt.packet)
}

// Close detaches this consumer from its producer. Safe to call more than
// once.
func (c *Consumer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	callbacks := c.onClose
	c.onClose = nil
	sender := c.sender
	c.mu.Unlock()

	telemetry.ConsumersTotal.WithLabelValues(string(c.Producer.Kind)).Dec()
	c.Producer.removeConsumer(c.ID)
	if sender != nil {
		_ = sender.Stop()
	}

	for _, cb := range callbacks {
		cb()
	}
	return nil
}

// OnClose registers a callback invoked when the consumer closes.
func (c *Consumer) OnClose(cb func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cb()
		return
	}
	c.onClose = append(c.onClose, cb)
	c.mu.Unlock()
}

func (c *Consumer) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
