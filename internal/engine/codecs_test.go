package engine

import (
	"testing"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulcan-relay/vulcan-relay/internal/config"
)

func TestNewMediaEngine_RegistersOnlyEnabledCodecs(t *testing.T) {
	peerCfg := config.PeerConfig{
		EnabledCodecs: []config.CodecSpec{
			{Mime: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2, PayloadType: 111},
			{Mime: webrtc.MimeTypeVP8, ClockRate: 90000, PayloadType: 96},
		},
	}
	me, ir, err := newMediaEngine(peerCfg.EnabledCodecs, config.DirectionConfig{})
	require.NoError(t, err)
	require.NotNil(t, ir)

	audio := me.GetCodecsByKind(webrtc.RTPCodecTypeAudio)
	require.Len(t, audio, 1)
	assert.Equal(t, webrtc.MimeTypeOpus, audio[0].MimeType)

	video := me.GetCodecsByKind(webrtc.RTPCodecTypeVideo)
	require.Len(t, video, 1)
	assert.Equal(t, webrtc.MimeTypeVP8, video[0].MimeType)
}

func TestNewMediaEngine_CarriesDirectionSpecificRTCPFeedback(t *testing.T) {
	direction := config.DirectionConfig{
		RTCPFeedback: config.RTCPFeedbackConfig{
			Video: []webrtc.RTCPFeedback{{Type: webrtc.TypeRTCPFBNACK, Parameter: "pli"}},
		},
	}
	me, _, err := newMediaEngine([]config.CodecSpec{
		{Mime: webrtc.MimeTypeVP8, ClockRate: 90000, PayloadType: 96},
	}, direction)
	require.NoError(t, err)

	video := me.GetCodecsByKind(webrtc.RTPCodecTypeVideo)
	require.Len(t, video, 1)
	assert.Equal(t, direction.RTCPFeedback.Video, video[0].RTCPFeedback)
}

func TestWorker_CreateRouter_IsolatesCodecRegistriesPerRoom(t *testing.T) {
	cfg := config.New()
	webrtcCfg, err := config.NewWebRTCConfig(cfg)
	require.NoError(t, err)
	worker := NewWorker(webrtcCfg, cfg.Peer)

	r1, err := worker.CreateRouter()
	require.NoError(t, err)
	r2, err := worker.CreateRouter()
	require.NoError(t, err)

	caps1, err := r1.RTPCapabilities()
	require.NoError(t, err)
	caps2, err := r2.RTPCapabilities()
	require.NoError(t, err)

	assert.JSONEq(t, string(caps1), string(caps2), "two rooms built from the same config negotiate the same codec set")
	assert.NotSame(t, r1, r2)
}
