package engine

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"

	"github.com/vulcan-relay/vulcan-relay/internal/config"
)

// Router multiplexes every transport created within one Room (spec §4.1).
// It is created on room registration and destroyed on room unregistration;
// destroying it cascades into closing every transport it created.
type Router struct {
	publisherAPI  *webrtc.API
	subscriberAPI *webrtc.API

	subscriberEngine *webrtc.MediaEngine
	webrtcCfg        *config.WebRTCConfig

	mu         sync.Mutex
	transports map[TransportID]*Transport
	closed     bool
}

// rtpCapabilities is the JSON shape handed back by RTPCapabilities: the
// finalized set of codecs this router negotiates, shaped after mediasoup's
// Router.rtpCapabilities(). RTPCapabilities fills in Codecs only;
// HeaderExtensions is never set and so is omitted from the JSON.
type rtpCapabilities struct {
	Codecs             []webrtc.RTPCodecParameters `json:"codecs"`
	HeaderExtensions   []string                    `json:"headerExtensions,omitempty"`
}

// RTPCapabilities reports the codecs this router negotiates, as an opaque
// JSON blob the client's device consumes verbatim.
func (r *Router) RTPCapabilities() (RawScalar, error) {
	codecs := r.subscriberEngine.GetCodecsByKind(webrtc.RTPCodecTypeAudio)
	codecs = append(codecs, r.subscriberEngine.GetCodecsByKind(webrtc.RTPCodecTypeVideo)...)
	return json.Marshal(rtpCapabilities{Codecs: codecs})
}

// CreateWebRTCTransport builds a new browser-facing transport. The relay
// does not enforce a send/recv split (spec §9's Open Question is resolved
// permissively): a Session may create as many transports as it likes.
func (r *Router) CreateWebRTCTransport() (*Transport, error) {
	return r.newTransport(false)
}

// CreatePlainTransport builds a transport intended for non-browser RTP
// sources such as the ffmpeg streaming helper (spec §4.1, §4.4's
// produce_plain).
func (r *Router) CreatePlainTransport() (*Transport, error) {
	return r.newTransport(true)
}

func (r *Router) newTransport(plain bool) (*Transport, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, fmt.Errorf("engine: router closed")
	}
	r.mu.Unlock()

	pc, err := r.publisherAPI.NewPeerConnection(r.webrtcCfg.Configuration)
	if err != nil {
		return nil, fmt.Errorf("engine: create peer connection: %w", err)
	}

	t := newTransport(newTransportID(), pc, r.subscriberAPI, r.webrtcCfg.Configuration, plain)

	r.mu.Lock()
	r.transports[t.ID] = t
	r.mu.Unlock()

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			r.removeTransport(t.ID)
		}
	})

	return t, nil
}

func (r *Router) removeTransport(id TransportID) {
	r.mu.Lock()
	delete(r.transports, id)
	r.mu.Unlock()
}

// Close tears down every transport the router ever created. Safe to call
// more than once.
func (r *Router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	transports := make([]*Transport, 0, len(r.transports))
	for _, t := range r.transports {
		transports = append(transports, t)
	}
	r.transports = make(map[TransportID]*Transport)
	r.mu.Unlock()

	for _, t := range transports {
		_ = t.Close()
	}
	return nil
}
