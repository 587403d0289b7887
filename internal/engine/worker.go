package engine

import (
	"fmt"

	"github.com/pion/webrtc/v3"

	"github.com/vulcan-relay/vulcan-relay/internal/config"
)

// Worker is the process-wide handle to the media engine. It mints Routers;
// spec §4.1 gives it exactly one operation, CreateRouter.
type Worker struct {
	webrtcCfg *config.WebRTCConfig
	peerCfg   config.PeerConfig
}

// NewWorker constructs the facade's single process-wide Worker. There is no
// real subprocess to crash here (spec explicitly treats worker crashes as
// an external failure mode this facade could surface via WorkerCrashed);
// pion runs in-process.
func NewWorker(webrtcCfg *config.WebRTCConfig, peerCfg config.PeerConfig) *Worker {
	return &Worker{webrtcCfg: webrtcCfg, peerCfg: peerCfg}
}

// CreateRouter builds a new Router with its own isolated codec/interceptor
// registry, so that one room's negotiated payload types never collide with
// another's.
func (w *Worker) CreateRouter() (*Router, error) {
	publisherEngine, publisherInterceptors, err := newMediaEngine(w.peerCfg.EnabledCodecs, w.webrtcCfg.Publisher)
	if err != nil {
		return nil, fmt.Errorf("engine: create publisher media engine: %w", err)
	}
	subscriberEngine, subscriberInterceptors, err := newMediaEngine(w.peerCfg.EnabledCodecs, w.webrtcCfg.Subscriber)
	if err != nil {
		return nil, fmt.Errorf("engine: create subscriber media engine: %w", err)
	}

	publisherAPI := webrtc.NewAPI(
		webrtc.WithMediaEngine(publisherEngine),
		webrtc.WithInterceptorRegistry(publisherInterceptors),
		webrtc.WithSettingEngine(w.webrtcCfg.SettingEngine),
	)
	subscriberAPI := webrtc.NewAPI(
		webrtc.WithMediaEngine(subscriberEngine),
		webrtc.WithInterceptorRegistry(subscriberInterceptors),
		webrtc.WithSettingEngine(w.webrtcCfg.SettingEngine),
	)

	return &Router{
		publisherAPI:     publisherAPI,
		subscriberAPI:    subscriberAPI,
		subscriberEngine: subscriberEngine,
		webrtcCfg:        w.webrtcCfg,
		transports:       make(map[TransportID]*Transport),
	}, nil
}
