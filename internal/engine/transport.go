package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
)

// negotiationBlob is the concrete JSON shape tunneled through the opaque
// IceParameters/IceCandidates/DtlsParameters scalar fields of
// TransportOptions and through the DtlsParameters argument of Connect. The
// spec declares these fields opaque JSON blobs "defined by the Media
// Engine" (spec §6); this facade defines them, internally, as a full SDP
// so it can drive pion's ordinary offer/answer machinery instead of
// reimplementing ICE-lite/DTLS role negotiation by hand.
type negotiationBlob struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

// Transport is a WebRTC (or plain-RTP) endpoint over which producers and
// consumers are created (spec §4.1, Glossary).
type Transport struct {
	ID   TransportID
	pc   *webrtc.PeerConnection
	api  *webrtc.API
	plain bool

	mu        sync.Mutex
	connected bool
	closed    bool

	producers      map[ProducerID]*Producer
	consumers      map[ConsumerID]*Consumer
	dataProducers  map[DataProducerID]*DataProducer
	dataConsumers  map[DataConsumerID]*DataConsumer

	pendingAudio []chan *Producer
	pendingVideo []chan *Producer

	onClose []func()
}

func newTransport(id TransportID, pc *webrtc.PeerConnection, subscriberAPI *webrtc.API, _ webrtc.Configuration, plain bool) *Transport {
	t := &Transport{
		ID:            id,
		pc:            pc,
		api:           subscriberAPI,
		plain:         plain,
		producers:     make(map[ProducerID]*Producer),
		consumers:     make(map[ConsumerID]*Consumer),
		dataProducers: make(map[DataProducerID]*DataProducer),
		dataConsumers: make(map[DataConsumerID]*DataConsumer),
	}

	if !plain {
		_, _ = pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionSendrecv})
		_, _ = pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionSendrecv})
	}

	pc.OnTrack(t.onTrack)

	return t
}

// Options negotiates a non-trickle local offer and returns it wrapped in
// TransportOptions, per spec §4.4's create_webrtc_transport.
func (t *Transport) Options(ctx context.Context) (TransportOptions, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return TransportOptions{}, fmt.Errorf("engine: create offer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(t.pc)
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return TransportOptions{}, fmt.Errorf("engine: set local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return TransportOptions{}, ctx.Err()
	case <-time.After(10 * time.Second):
		return TransportOptions{}, fmt.Errorf("engine: ICE gathering timed out")
	}

	local := t.pc.LocalDescription()
	blob, err := json.Marshal(negotiationBlob{SDP: local.SDP, Type: "offer"})
	if err != nil {
		return TransportOptions{}, err
	}

	return TransportOptions{
		ID:             t.ID,
		IceParameters:  blob,
		IceCandidates:  nil,
		DtlsParameters: blob,
	}, nil
}

// Connect completes the handshake using the client's answer, delivered as
// an opaque DtlsParameters blob (spec §4.4's connect_webrtc_transport). A
// transport may only be connected once.
func (t *Transport) Connect(dtlsParameters RawScalar) error {
	t.mu.Lock()
	if t.connected {
		t.mu.Unlock()
		return fmt.Errorf("%w", errTransportAlreadyConnected)
	}
	t.connected = true
	t.mu.Unlock()

	var blob negotiationBlob
	if err := json.Unmarshal(dtlsParameters, &blob); err != nil {
		return fmt.Errorf("engine: invalid dtls parameters: %w", err)
	}

	return t.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  blob.SDP,
	})
}

// Produce registers a pending Producer of the given kind and returns it
// immediately; the caller (client device) is expected to start sending RTP
// matching rtpParameters shortly after, at which point the transport's
// already-negotiated transceiver delivers a matching OnTrack event that
// binds the live pion track to this Producer.
func (t *Transport) Produce(kind MediaKind, rtpParameters RawScalar) (*Producer, error) {
	p := newProducer(newProducerID(), kind, rtpParameters, t)

	t.mu.Lock()
	t.producers[p.ID] = p
	ready := make(chan *Producer, 1)
	if kind == KindAudio {
		t.pendingAudio = append(t.pendingAudio, ready)
	} else {
		t.pendingVideo = append(t.pendingVideo, ready)
	}
	t.mu.Unlock()

	go func() {
		select {
		case bound := <-ready:
			if bound != nil {
				p.bind(bound.track)
			}
		case <-time.After(30 * time.Second):
		}
	}()

	return p, nil
}

func (t *Transport) onTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	t.mu.Lock()
	var queue *[]chan *Producer
	if track.Kind() == webrtc.RTPCodecTypeAudio {
		queue = &t.pendingAudio
	} else {
		queue = &t.pendingVideo
	}
	var ready chan *Producer
	if len(*queue) > 0 {
		ready = (*queue)[0]
		*queue = (*queue)[1:]
	}
	t.mu.Unlock()

	if ready == nil {
		return
	}
	ready <- &Producer{track: track}
}

// Consume creates a paused Consumer forwarding the given Producer's media
// onto this transport (spec §4.4). The Producer must still exist.
func (t *Transport) Consume(producer *Producer) (*Consumer, error) {
	local, err := webrtc.NewTrackLocalStaticRTP(producer.codecCapability(), string(producer.ID), "vulcan-relay")
	if err != nil {
		return nil, fmt.Errorf("engine: create local track: %w", err)
	}

	sender, err := t.pc.AddTrack(local)
	if err != nil {
		return nil, fmt.Errorf("engine: add track: %w", err)
	}

	c := newConsumer(newConsumerID(), producer, local, sender)

	t.mu.Lock()
	t.consumers[c.ID] = c
	t.mu.Unlock()

	producer.addConsumer(c)

	return c, nil
}

// ProduceData opens a new SCTP data channel on this transport and wraps it
// as a DataProducer (spec §4.4's produce_data).
func (t *Transport) ProduceData(sctpStreamParameters RawScalar) (*DataProducer, error) {
	dc, err := t.pc.CreateDataChannel(string(newDataProducerID()), nil)
	if err != nil {
		return nil, fmt.Errorf("engine: create data channel: %w", err)
	}
	dp := newDataProducer(DataProducerID(dc.Label()), sctpStreamParameters, dc)

	t.mu.Lock()
	t.dataProducers[dp.ID] = dp
	t.mu.Unlock()

	return dp, nil
}

// ConsumeData opens a new SCTP data channel on this transport that mirrors
// every message sent by the given DataProducer (spec §4.4's consume_data).
func (t *Transport) ConsumeData(dataProducer *DataProducer) (*DataConsumer, error) {
	dc, err := t.pc.CreateDataChannel(string(newDataConsumerID()), nil)
	if err != nil {
		return nil, fmt.Errorf("engine: create data channel: %w", err)
	}
	consumer := newDataConsumer(DataConsumerID(dc.Label()), dataProducer, dc)

	t.mu.Lock()
	t.dataConsumers[consumer.ID] = consumer
	t.mu.Unlock()

	dataProducer.addConsumer(consumer)

	return consumer, nil
}

// Close runs the transport's OnClose callbacks and closes the underlying
// peer connection, which ends every track on it. It does not call Close on
// the producers, consumers, data producers or data consumers created on
// this transport; their owning Session closes those. Safe to call more
// than once.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	callbacks := t.onClose
	t.onClose = nil
	t.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
	return t.pc.Close()
}

// OnClose registers a callback invoked when the transport closes.
func (t *Transport) OnClose(cb func()) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		cb()
		return
	}
	t.onClose = append(t.onClose, cb)
	t.mu.Unlock()
}

var errTransportAlreadyConnected = fmt.Errorf("transport already connected")
