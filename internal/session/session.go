// Package session implements spec §4.4's Session: the per-connection state
// machine that owns one role-scoped set of transports and the
// producer/consumer objects created on them.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/vulcan-relay/vulcan-relay/internal/core"
	"github.com/vulcan-relay/vulcan-relay/internal/engine"
	"github.com/vulcan-relay/vulcan-relay/internal/room"
)

// State is one position in the Unregistered → Registered → Connected →
// Closed lifecycle (spec §3).
type State int

const (
	Unregistered State = iota
	Registered
	Connected
	Closed
)

func (s State) String() string {
	switch s {
	case Unregistered:
		return "unregistered"
	case Registered:
		return "registered"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// RoomLookup resolves a Session's RoomID to its live Room. SharedState
// supplies this; Session never holds a direct Room reference across calls,
// per spec §9's cycle-avoidance note.
type RoomLookup func(core.RoomID) (*room.Room, error)

// Session is a logical client endpoint bound to one role within one Room
// (spec §3, §4.4).
type Session struct {
	ID     core.SessionID
	Role   core.Role
	RoomID core.RoomID

	lookupRoom RoomLookup

	mu    sync.Mutex
	state State
	token core.Token

	clientRTPCapabilities engine.RawScalar

	transports    map[engine.TransportID]*engine.Transport
	producers     map[engine.ProducerID]*engine.Producer
	consumers     map[engine.ConsumerID]*engine.Consumer
	dataProducers map[engine.DataProducerID]*engine.DataProducer
	dataConsumers map[engine.DataConsumerID]*engine.DataConsumer

	onClosed []func(core.SessionID)
}

// New constructs a Session in the Registered state, bound 1:1 to token.
func New(id core.SessionID, role core.Role, roomID core.RoomID, token core.Token, lookup RoomLookup) *Session {
	return &Session{
		ID:            id,
		Role:          role,
		RoomID:        roomID,
		lookupRoom:    lookup,
		state:         Registered,
		token:         token,
		transports:    make(map[engine.TransportID]*engine.Transport),
		producers:     make(map[engine.ProducerID]*engine.Producer),
		consumers:     make(map[engine.ConsumerID]*engine.Consumer),
		dataProducers: make(map[engine.DataProducerID]*engine.DataProducer),
		dataConsumers: make(map[engine.DataConsumerID]*engine.DataConsumer),
	}
}

// Token reports the credential this session was registered with.
func (s *Session) Token() core.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// State reports the session's current lifecycle position.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect binds the session to a live WebSocket. Only a Registered session
// may connect; an already-Connected session redeeming its token again is
// rejected with AlreadyConnected (spec §4.2's redeem_token, §8's
// token-single-use property).
func (s *Session) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case Registered:
		s.state = Connected
		return nil
	case Connected:
		return core.ErrAlreadyConnected
	default:
		return core.ErrInvalidToken
	}
}

// Disconnect handles a WebSocket drop: it installs the teardown guard
// required on every exit from Connected (spec §4.4) — releasing every
// media object in order consumers → producers → data consumers → data
// producers → transports — but, unlike Close, returns the session to
// Registered with its token still live rather than removing it from
// SharedState (spec §3: "dropping the connection returns the session to
// Registered with the same token").
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.state != Connected {
		s.mu.Unlock()
		return
	}
	s.state = Registered
	objects := s.detachMediaObjects()
	s.mu.Unlock()

	closeMediaObjects(objects)
}

// mediaObjects is a snapshot of everything a session owns, released in the
// order spec §4.4 requires.
type mediaObjects struct {
	consumers     []*engine.Consumer
	producers     []*engine.Producer
	dataConsumers []*engine.DataConsumer
	dataProducers []*engine.DataProducer
	transports    []*engine.Transport
}

// detachMediaObjects must be called with s.mu held. It empties every
// tracking map and returns what was in them.
func (s *Session) detachMediaObjects() mediaObjects {
	objects := mediaObjects{
		consumers:     snapshot(s.consumers),
		producers:     snapshot(s.producers),
		dataConsumers: snapshot(s.dataConsumers),
		dataProducers: snapshot(s.dataProducers),
		transports:    snapshot(s.transports),
	}
	s.consumers = make(map[engine.ConsumerID]*engine.Consumer)
	s.producers = make(map[engine.ProducerID]*engine.Producer)
	s.dataConsumers = make(map[engine.DataConsumerID]*engine.DataConsumer)
	s.dataProducers = make(map[engine.DataProducerID]*engine.DataProducer)
	s.transports = make(map[engine.TransportID]*engine.Transport)
	return objects
}

func closeMediaObjects(objects mediaObjects) {
	for _, c := range objects.consumers {
		_ = c.Close()
	}
	for _, p := range objects.producers {
		_ = p.Close()
	}
	for _, c := range objects.dataConsumers {
		_ = c.Close()
	}
	for _, p := range objects.dataProducers {
		_ = p.Close()
	}
	for _, t := range objects.transports {
		_ = t.Close()
	}
}

func (s *Session) room() (*room.Room, error) {
	rm, err := s.lookupRoom(s.RoomID)
	if err != nil {
		return nil, err
	}
	return rm, nil
}

// ServerRTPCapabilities proxies to the Room's Router (spec §4.4).
func (s *Session) ServerRTPCapabilities() (engine.RawScalar, error) {
	rm, err := s.room()
	if err != nil {
		return nil, err
	}
	return rm.Router().RTPCapabilities()
}

// SetClientRTPCapabilities records the remote device's capabilities.
// Idempotent: a second call replaces the first (spec §4.4).
func (s *Session) SetClientRTPCapabilities(caps engine.RawScalar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clientRTPCapabilities = caps
}

func (s *Session) hasClientRTPCapabilities() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientRTPCapabilities != nil
}

// CreateWebRTCTransport creates a new browser-facing transport owned by
// this session (spec §4.4). The session may create any number of
// transports; the relay does not enforce a send/recv split (spec §9's
// Open Question, resolved permissively).
func (s *Session) CreateWebRTCTransport(ctx context.Context) (engine.TransportOptions, error) {
	return s.createTransport(ctx, false)
}

// CreatePlainTransport is CreateWebRTCTransport's analogue for the
// non-browser RTP path used by produce_plain.
func (s *Session) CreatePlainTransport(ctx context.Context) (engine.TransportOptions, error) {
	return s.createTransport(ctx, true)
}

func (s *Session) createTransport(ctx context.Context, plain bool) (engine.TransportOptions, error) {
	rm, err := s.room()
	if err != nil {
		return engine.TransportOptions{}, err
	}

	var t *engine.Transport
	if plain {
		t, err = rm.Router().CreatePlainTransport()
	} else {
		t, err = rm.Router().CreateWebRTCTransport()
	}
	if err != nil {
		return engine.TransportOptions{}, fmt.Errorf("%w: %v", core.ErrInternal, err)
	}

	s.mu.Lock()
	s.transports[t.ID] = t
	s.mu.Unlock()

	t.OnClose(func() {
		s.mu.Lock()
		delete(s.transports, t.ID)
		s.mu.Unlock()
	})

	return t.Options(ctx)
}

func (s *Session) getTransport(id engine.TransportID) (*engine.Transport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transports[id]
	if !ok {
		return nil, core.ErrNoSuchTransport
	}
	return t, nil
}

// ConnectTransport completes DTLS negotiation for a transport this session
// owns (spec §4.4). A transport may only be connected once.
func (s *Session) ConnectTransport(id engine.TransportID, dtlsParameters engine.RawScalar) error {
	t, err := s.getTransport(id)
	if err != nil {
		return err
	}
	if err := t.Connect(dtlsParameters); err != nil {
		return fmt.Errorf("%w: %v", core.ErrTransportAlreadyConnected, err)
	}
	return nil
}

// Produce creates a media Producer on a transport this session owns.
// Allowed only for role=Vulcast (spec §4.4's role policy table). On
// success the Room publishes the new ProducerId to all subscribers.
func (s *Session) Produce(transportID engine.TransportID, kind engine.MediaKind, rtpParameters engine.RawScalar) (engine.ProducerID, error) {
	if s.Role != core.RoleVulcast {
		return "", core.ErrUnauthorized
	}
	return s.produce(transportID, kind, rtpParameters)
}

// ProducePlain is Produce's analogue for the non-browser RTP path. Same
// role rules as Produce (spec §4.4).
func (s *Session) ProducePlain(transportID engine.TransportID, kind engine.MediaKind, rtpParameters engine.RawScalar) (engine.ProducerID, error) {
	if s.Role != core.RoleVulcast {
		return "", core.ErrUnauthorized
	}
	return s.produce(transportID, kind, rtpParameters)
}

func (s *Session) produce(transportID engine.TransportID, kind engine.MediaKind, rtpParameters engine.RawScalar) (engine.ProducerID, error) {
	t, err := s.getTransport(transportID)
	if err != nil {
		return "", err
	}
	rm, err := s.room()
	if err != nil {
		return "", err
	}

	p, err := t.Produce(kind, rtpParameters)
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrInvalidParameters, err)
	}

	s.mu.Lock()
	s.producers[p.ID] = p
	s.mu.Unlock()

	p.OnClose(func() {
		s.mu.Lock()
		delete(s.producers, p.ID)
		s.mu.Unlock()
		rm.ForgetProducer(p.ID)
	})

	rm.AnnounceProducer(s.ID, p)

	return p.ID, nil
}

// ProduceData creates a DataProducer on a transport this session owns.
// Allowed only for role=WebClient (spec §4.4).
func (s *Session) ProduceData(transportID engine.TransportID, sctpStreamParameters engine.RawScalar) (engine.DataProducerID, error) {
	if s.Role != core.RoleWebClient {
		return "", core.ErrUnauthorized
	}

	t, err := s.getTransport(transportID)
	if err != nil {
		return "", err
	}
	rm, err := s.room()
	if err != nil {
		return "", err
	}

	dp, err := t.ProduceData(sctpStreamParameters)
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrInvalidParameters, err)
	}

	s.mu.Lock()
	s.dataProducers[dp.ID] = dp
	s.mu.Unlock()

	dp.OnClose(func() {
		s.mu.Lock()
		delete(s.dataProducers, dp.ID)
		s.mu.Unlock()
		rm.ForgetDataProducer(dp.ID)
	})

	rm.AnnounceDataProducer(s.ID, dp)

	return dp.ID, nil
}

// Consume creates a paused Consumer on a transport this session owns,
// forwarding the named Producer's media. Requires a prior
// SetClientRTPCapabilities call. Allowed only for role=WebClient (spec
// §4.4).
func (s *Session) Consume(transportID engine.TransportID, producerID engine.ProducerID) (engine.ConsumerOptions, error) {
	if s.Role != core.RoleWebClient {
		return engine.ConsumerOptions{}, core.ErrUnauthorized
	}
	if !s.hasClientRTPCapabilities() {
		return engine.ConsumerOptions{}, core.ErrCannotConsume
	}

	t, err := s.getTransport(transportID)
	if err != nil {
		return engine.ConsumerOptions{}, err
	}
	rm, err := s.room()
	if err != nil {
		return engine.ConsumerOptions{}, err
	}

	producer, owner, ok := rm.Producer(producerID)
	if !ok {
		return engine.ConsumerOptions{}, core.ErrNoSuchProducer
	}
	if owner == s.ID {
		return engine.ConsumerOptions{}, core.ErrCannotConsume
	}

	c, err := t.Consume(producer)
	if err != nil {
		return engine.ConsumerOptions{}, fmt.Errorf("%w: %v", core.ErrInternal, err)
	}

	s.mu.Lock()
	s.consumers[c.ID] = c
	s.mu.Unlock()

	c.OnClose(func() {
		s.mu.Lock()
		delete(s.consumers, c.ID)
		s.mu.Unlock()
	})

	return engine.ConsumerOptions{
		ID:         c.ID,
		ProducerID: producerID,
		Kind:       producer.Kind,
	}, nil
}

// ConsumeData creates a DataConsumer on a transport this session owns,
// mirroring the named DataProducer's messages. Vulcast-only (spec §4.4):
// clients do not consume each other's controller streams.
func (s *Session) ConsumeData(transportID engine.TransportID, dataProducerID engine.DataProducerID) (engine.DataConsumerOptions, error) {
	if s.Role != core.RoleVulcast {
		return engine.DataConsumerOptions{}, core.ErrUnauthorized
	}

	t, err := s.getTransport(transportID)
	if err != nil {
		return engine.DataConsumerOptions{}, err
	}
	rm, err := s.room()
	if err != nil {
		return engine.DataConsumerOptions{}, err
	}

	dataProducer, _, ok := rm.DataProducer(dataProducerID)
	if !ok {
		return engine.DataConsumerOptions{}, core.ErrNoSuchProducer
	}

	c, err := t.ConsumeData(dataProducer)
	if err != nil {
		return engine.DataConsumerOptions{}, fmt.Errorf("%w: %v", core.ErrInternal, err)
	}

	s.mu.Lock()
	s.dataConsumers[c.ID] = c
	s.mu.Unlock()

	c.OnClose(func() {
		s.mu.Lock()
		delete(s.dataConsumers, c.ID)
		s.mu.Unlock()
	})

	return engine.DataConsumerOptions{
		ID:             c.ID,
		DataProducerID: dataProducerID,
	}, nil
}

// ConsumerResume resumes a Consumer this session created. Idempotent: a
// resume of an already-resumed consumer no-ops successfully (spec §8).
// Only the creating session may resume it — the consumer id is only ever
// handed to the session that created it, so this is enforced by scoping
// the lookup to s.consumers.
func (s *Session) ConsumerResume(id engine.ConsumerID) error {
	s.mu.Lock()
	c, ok := s.consumers[id]
	s.mu.Unlock()
	if !ok {
		return core.ErrNoSuchConsumer
	}
	c.Resume()
	return nil
}

// SubscribeProducerAvailable subscribes to the room's producer-available
// stream (spec §4.4: WebClient subscription).
func (s *Session) SubscribeProducerAvailable() (<-chan engine.ProducerID, func(), error) {
	rm, err := s.room()
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := rm.SubscribeProducers()
	return ch, cancel, nil
}

// SubscribeDataProducerAvailable subscribes to the room's
// data-producer-available stream (spec §4.4: Vulcast subscription).
func (s *Session) SubscribeDataProducerAvailable() (<-chan engine.DataProducerID, func(), error) {
	rm, err := s.room()
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := rm.SubscribeDataProducers()
	return ch, cancel, nil
}

// OnClosed registers a callback invoked with this session's id when it
// closes, so the owning Room can drop it from its membership.
func (s *Session) OnClosed(cb func(core.SessionID)) {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		cb(s.ID)
		return
	}
	s.onClosed = append(s.onClosed, cb)
	s.mu.Unlock()
}

// Close releases every media object this session owns, in the order
// consumers → producers → data consumers → data producers → transports
// (spec §4.4: this order prevents the Media Engine from emitting spurious
// producer-closed notifications to dead consumers within the same room).
// Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return nil
	}
	s.state = Closed
	objects := s.detachMediaObjects()
	callbacks := s.onClosed
	s.onClosed = nil
	s.mu.Unlock()

	closeMediaObjects(objects)

	for _, cb := range callbacks {
		cb(s.ID)
	}

	return nil
}

// TransportIDs, ProducerIDs, ConsumerIDs, DataProducerIDs and
// DataConsumerIDs report the media objects this session currently owns,
// for the Control plane's stats(sessionId) query (spec §4.2).
func (s *Session) TransportIDs() []engine.TransportID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshotKeys(s.transports)
}

func (s *Session) ProducerIDs() []engine.ProducerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshotKeys(s.producers)
}

func (s *Session) ConsumerIDs() []engine.ConsumerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshotKeys(s.consumers)
}

func (s *Session) DataProducerIDs() []engine.DataProducerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshotKeys(s.dataProducers)
}

func (s *Session) DataConsumerIDs() []engine.DataConsumerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshotKeys(s.dataConsumers)
}

func snapshotKeys[K comparable, V any](m map[K]V) []K {
	out := make([]K, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func snapshot[K comparable, V any](m map[K]V) []V {
	out := make([]V, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}
