// Package config builds the runtime configuration for the relay from CLI
// flags, and translates it into the pion/webrtc settings the Media Engine
// Facade needs.
package config

import (
	"net"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v3"
)

const frameMarking = "urn:ietf:params:rtp-hdrext:framemarking"

// Config is the fully parsed set of CLI flags described in spec §6.
type Config struct {
	SignalAddr  string
	ControlAddr string

	CertPath string
	KeyPath  string
	NoTLS    bool

	RTC  RTCConfig
	Peer PeerConfig
}

// RTCConfig carries the ICE/port-range knobs handed to pion's SettingEngine.
type RTCConfig struct {
	RTCIP         string
	RTCAnnounceIP string
	PortRangeMin  uint16
	PortRangeMax  uint16
}

// CodecSpec is a single codec registration, enough to build a
// webrtc.RTPCodecParameters directly: which payload type to advertise it
// under, its clock rate, and (for codecs that need one) its fmtp line. The
// registered codec set is exactly this list — there is no separate
// hardcoded table it filters against.
type CodecSpec struct {
	Mime        string
	ClockRate   uint32
	Channels    uint16
	FmtpLine    string
	PayloadType webrtc.PayloadType
}

// PeerConfig is the set of codecs every Router in the process is built with.
type PeerConfig struct {
	EnabledCodecs []CodecSpec
}

// WebRTCConfig is the materialized pion configuration derived from Config,
// handed to every Router the Media Engine Facade creates.
type WebRTCConfig struct {
	Configuration webrtc.Configuration
	SettingEngine webrtc.SettingEngine
	Publisher     DirectionConfig
	Subscriber    DirectionConfig
}

type RTPHeaderExtensionConfig struct {
	Audio []string
	Video []string
}

type RTCPFeedbackConfig struct {
	Audio []webrtc.RTCPFeedback
	Video []webrtc.RTCPFeedback
}

type DirectionConfig struct {
	RTPHeaderExtension RTPHeaderExtensionConfig
	RTCPFeedback       RTCPFeedbackConfig
}

// New returns a Config populated with the relay's default listen addresses,
// default port range (spec §6: 10000-59999), and default codec set. CLI
// flag parsing overrides fields on the returned value before the services
// are built from it.
func New() *Config {
	return &Config{
		SignalAddr:  "127.0.0.1:9000",
		ControlAddr: "127.0.0.1:9001",
		RTC: RTCConfig{
			RTCIP:        "127.0.0.1",
			PortRangeMin: 10000,
			PortRangeMax: 59999,
		},
		Peer: PeerConfig{
			EnabledCodecs: []CodecSpec{
				{Mime: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2, FmtpLine: "minptime=10;useinbandfec=1", PayloadType: 111},
				{Mime: webrtc.MimeTypeVP8, ClockRate: 90000, PayloadType: 96},
				{Mime: webrtc.MimeTypeH264, ClockRate: 90000, FmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f", PayloadType: 125},
			},
		},
	}
}

// NewWebRTCConfig builds the pion SettingEngine and direction-specific
// RTP header extension / RTCP feedback configuration used by every Router.
func NewWebRTCConfig(cfg *Config) (*WebRTCConfig, error) {
	c := webrtc.Configuration{
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlan,
	}

	s := webrtc.SettingEngine{}
	if err := s.SetEphemeralUDPPortRange(cfg.RTC.PortRangeMin, cfg.RTC.PortRangeMax); err != nil {
		return nil, err
	}
	s.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4, webrtc.NetworkTypeUDP6})

	// A wildcard (or unparsable) --rtc-ip installs no filter, so candidates
	// are gathered on every interface.
	if rtcIP := net.ParseIP(cfg.RTC.RTCIP); rtcIP != nil && !rtcIP.IsUnspecified() {
		s.SetIPFilter(func(ip net.IP) bool { return ip.Equal(rtcIP) })
	}

	if cfg.RTC.RTCAnnounceIP != "" {
		s.SetNAT1To1IPs([]string{cfg.RTC.RTCAnnounceIP}, webrtc.ICECandidateTypeHost)
	}

	publisher := DirectionConfig{
		RTPHeaderExtension: RTPHeaderExtensionConfig{
			Audio: []string{
				sdp.SDESMidURI,
				sdp.SDESRTPStreamIDURI,
				sdp.AudioLevelURI,
			},
			Video: []string{
				sdp.SDESMidURI,
				sdp.SDESRTPStreamIDURI,
				sdp.TransportCCURI,
				frameMarking,
			},
		},
		RTCPFeedback: RTCPFeedbackConfig{
			Video: []webrtc.RTCPFeedback{
				{Type: webrtc.TypeRTCPFBGoogREMB},
				{Type: webrtc.TypeRTCPFBTransportCC},
				{Type: webrtc.TypeRTCPFBCCM, Parameter: "fir"},
				{Type: webrtc.TypeRTCPFBNACK},
				{Type: webrtc.TypeRTCPFBNACK, Parameter: "pli"},
			},
		},
	}

	subscriber := DirectionConfig{
		RTCPFeedback: RTCPFeedbackConfig{
			Video: []webrtc.RTCPFeedback{
				{Type: webrtc.TypeRTCPFBCCM, Parameter: "fir"},
				{Type: webrtc.TypeRTCPFBNACK},
				{Type: webrtc.TypeRTCPFBNACK, Parameter: "pli"},
			},
		},
	}

	return &WebRTCConfig{
		Configuration: c,
		SettingEngine: s,
		Publisher:     publisher,
		Subscriber:    subscriber,
	}, nil
}
