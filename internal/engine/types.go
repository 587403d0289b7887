// Package engine is the Media Engine Facade (spec §4.1): a narrow,
// asynchronous-shaped wrapper around pion/webrtc that the core consumes
// without ever inspecting codec parameters. Every operation that the spec
// calls "asynchronous" is a plain Go function returning error; callers that
// want concurrency run the facade from their own goroutine.
//
// The opaque scalar types named by spec §6 (RtpCapabilities, DtlsParameters,
// RtpParameters, SctpStreamParameters, ConsumerOptions, DataConsumerOptions,
// *TransportOptions) are represented here as json.RawMessage or structs
// whose fields are themselves json.RawMessage. The core never unmarshals
// them; only this package and its paired client understand their contents.
package engine

import (
	"encoding/json"

	"github.com/google/uuid"
)

// TransportID, ProducerID, ConsumerID, DataProducerID and DataConsumerID are
// opaque values minted by the Media Engine; the core stores and compares
// them but never interprets their contents (spec §3).
type TransportID string
type ProducerID string
type ConsumerID string
type DataProducerID string
type DataConsumerID string

func newTransportID() TransportID       { return TransportID(uuid.NewString()) }
func newProducerID() ProducerID         { return ProducerID(uuid.NewString()) }
func newConsumerID() ConsumerID         { return ConsumerID(uuid.NewString()) }
func newDataProducerID() DataProducerID { return DataProducerID(uuid.NewString()) }
func newDataConsumerID() DataConsumerID { return DataConsumerID(uuid.NewString()) }

// MediaKind is audio or video, matching the two kinds a Vulcast produces.
type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

// RawScalar is the JSON-blob representation shared by every opaque
// Media-Engine-defined scalar the spec names (RtpCapabilities,
// DtlsParameters, RtpParameters, SctpStreamParameters, IceCandidate,
// IceParameters). The relay passes these through verbatim; only the facade
// and its paired client agree on their internal shape.
type RawScalar = json.RawMessage

// TransportOptions is returned by CreateWebRTCTransport/CreatePlainTransport
// and handed to the client's device so it can construct its side of the
// transport (spec §6).
type TransportOptions struct {
	ID             TransportID `json:"id"`
	IceParameters  RawScalar   `json:"iceParameters"`
	IceCandidates  []RawScalar `json:"iceCandidates"`
	DtlsParameters RawScalar   `json:"dtlsParameters"`
}

// ConsumerOptions is returned by Consume; the Consumer it describes is
// created paused (spec §4.1) and must be resumed explicitly.
type ConsumerOptions struct {
	ID            ConsumerID `json:"id"`
	ProducerID    ProducerID `json:"producerId"`
	Kind          MediaKind  `json:"kind"`
	RtpParameters RawScalar  `json:"rtpParameters"`
}

// DataConsumerOptions is returned by ConsumeData.
type DataConsumerOptions struct {
	ID                   DataConsumerID `json:"id"`
	DataProducerID       DataProducerID `json:"dataProducerId"`
	SctpStreamParameters RawScalar      `json:"sctpStreamParameters"`
}
