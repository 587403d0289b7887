package engine

import (
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"

	"github.com/vulcan-relay/vulcan-relay/internal/telemetry"
)

// Producer is a single inbound media source created by Transport.Produce
// (spec §4.1). It starts with no bound track; the track arrives once the
// producing side's device actually begins sending RTP that matches the
// transceiver negotiated at transport creation.
type Producer struct {
	ID            ProducerID
	Kind          MediaKind
	rtpParameters RawScalar
	transport     *Transport

	mu        sync.Mutex
	track     *webrtc.TrackRemote
	closed    bool
	consumers map[ConsumerID]*Consumer
	onClose   []func()
}

func newProducer(id ProducerID, kind MediaKind, rtpParameters RawScalar, transport *Transport) *Producer {
	telemetry.ProducersTotal.WithLabelValues(string(kind)).Inc()
	return &Producer{
		ID:            id,
		Kind:          kind,
		rtpParameters: rtpParameters,
		transport:     transport,
		consumers:     make(map[ConsumerID]*Consumer),
	}
}

// bind attaches the live remote track and starts forwarding to every
// consumer already attached, and to any attached afterward.
func (p *Producer) bind(track *webrtc.TrackRemote) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.track = track
	p.mu.Unlock()

	go forwardRTP(p)
}

// requestKeyFrame asks the producing side to emit a fresh keyframe, in
// response to a consumer's downstream PLI/FIR. A not-yet-bound producer
// has nothing to ask.
func (p *Producer) requestKeyFrame() {
	p.mu.Lock()
	track := p.track
	transport := p.transport
	p.mu.Unlock()

	if track == nil || transport == nil {
		return
	}
	_ = transport.pc.WriteRTCP([]rtcp.Packet{
		&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())},
	})
}

func (p *Producer) codecCapability() webrtc.RTPCodecCapability {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.track == nil {
		return webrtc.RTPCodecCapability{}
	}
	return p.track.Codec().RTPCodecCapability
}

func (p *Producer) addConsumer(c *Consumer) {
	p.mu.Lock()
	p.consumers[c.ID] = c
	p.mu.Unlock()
}

func (p *Producer) removeConsumer(id ConsumerID) {
	p.mu.Lock()
	delete(p.consumers, id)
	p.mu.Unlock()
}

func (p *Producer) snapshotConsumers() []*Consumer {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Consumer, 0, len(p.consumers))
	for _, c := range p.consumers {
		out = append(out, c)
	}
	return out
}

// Close marks the producer closed; any forwardRTP loop reading from its
// track exits on the next read error once the underlying transport tears
// down the track.
func (p *Producer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	callbacks := p.onClose
	p.onClose = nil
	p.mu.Unlock()

	telemetry.ProducersTotal.WithLabelValues(string(p.Kind)).Dec()

	for _, cb := range callbacks {
		cb()
	}
	return nil
}

// OnClose registers a callback invoked when the producer closes.
func (p *Producer) OnClose(cb func()) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		cb()
		return
	}
	p.onClose = append(p.onClose, cb)
	p.mu.Unlock()
}

func (p *Producer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
