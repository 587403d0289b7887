// Package state implements spec §4.2's SharedState: the process-wide
// registry of rooms, sessions and tokens, and the single place where
// uniqueness invariants (one Vulcast per room, globally unique SessionIds,
// single-use tokens) are enforced.
package state

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/vulcan-relay/vulcan-relay/internal/core"
	"github.com/vulcan-relay/vulcan-relay/internal/engine"
	"github.com/vulcan-relay/vulcan-relay/internal/room"
	"github.com/vulcan-relay/vulcan-relay/internal/session"
	"github.com/vulcan-relay/vulcan-relay/internal/telemetry"
)

// SessionStats is the JSON shape returned by Stats: the session's role and
// state plus the ids of the Media Engine handles it owns. It carries no
// per-object statistics from the Media Engine.
type SessionStats struct {
	SessionID     core.SessionID          `json:"sessionId"`
	Role          core.Role               `json:"role"`
	State         string                  `json:"state"`
	Transports    []engine.TransportID    `json:"transports"`
	Producers     []engine.ProducerID     `json:"producers"`
	Consumers     []engine.ConsumerID     `json:"consumers"`
	DataProducers []engine.DataProducerID `json:"dataProducers"`
	DataConsumers []engine.DataConsumerID `json:"dataConsumers"`
}

// SharedState is the registry described in spec §4.2. All maps are guarded
// by a single mutex; Media Engine calls that can take meaningful time
// (router creation) are performed outside the lock and committed with a
// recheck, per spec §5's suspension-point discipline.
type SharedState struct {
	worker *engine.Worker

	mu             sync.Mutex
	rooms          map[core.RoomID]*room.Room
	sessions       map[core.SessionID]*session.Session
	tokens         map[core.Token]core.SessionID
	pendingVulcast map[core.SessionID]core.Token
}

// New constructs an empty SharedState backed by the given Worker.
func New(worker *engine.Worker) *SharedState {
	return &SharedState{
		worker:         worker,
		rooms:          make(map[core.RoomID]*room.Room),
		sessions:       make(map[core.SessionID]*session.Session),
		tokens:         make(map[core.Token]core.SessionID),
		pendingVulcast: make(map[core.SessionID]core.Token),
	}
}

func (ss *SharedState) lookupRoom(id core.RoomID) (*room.Room, error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	rm, ok := ss.rooms[id]
	if !ok {
		return nil, core.ErrNoSuchRoom
	}
	return rm, nil
}

// RegisterRoom creates the room's Router via the Media Engine and, once it
// exists, atomically publishes the Room and promotes its Vulcast session
// out of the pending set (spec §4.2).
func (ss *SharedState) RegisterRoom(roomID core.RoomID, vulcastSessionID core.SessionID) (*room.Room, error) {
	ss.mu.Lock()
	if _, exists := ss.rooms[roomID]; exists {
		ss.mu.Unlock()
		return nil, core.ErrRoomAlreadyExists
	}
	token, pending := ss.pendingVulcast[vulcastSessionID]
	if !pending {
		_, bound := ss.sessions[vulcastSessionID]
		ss.mu.Unlock()
		if bound {
			return nil, core.ErrVulcastSessionAlreadyBound
		}
		return nil, core.ErrNoSuchSession
	}
	ss.mu.Unlock()

	router, err := ss.worker.CreateRouter()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInternal, err)
	}

	rm := room.New(roomID, vulcastSessionID, router)
	sess := session.New(vulcastSessionID, core.RoleVulcast, roomID, token, ss.lookupRoom)

	ss.mu.Lock()
	if _, exists := ss.rooms[roomID]; exists {
		ss.mu.Unlock()
		_ = router.Close()
		return nil, core.ErrRoomAlreadyExists
	}
	if _, stillPending := ss.pendingVulcast[vulcastSessionID]; !stillPending {
		ss.mu.Unlock()
		_ = router.Close()
		return nil, core.ErrVulcastSessionAlreadyBound
	}
	ss.rooms[roomID] = rm
	ss.sessions[vulcastSessionID] = sess
	delete(ss.pendingVulcast, vulcastSessionID)
	ss.mu.Unlock()

	telemetry.RoomsTotal.Inc()
	telemetry.SessionsTotal.WithLabelValues(string(core.RoleVulcast), "registered").Inc()

	sess.OnClosed(func(id core.SessionID) { rm.ClearVulcastSession(id) })

	return rm, nil
}

// UnregisterRoom removes the room and cascades teardown into every session
// bound to it, before closing the Router itself (spec §4.2).
func (ss *SharedState) UnregisterRoom(roomID core.RoomID) (core.RoomID, error) {
	ss.mu.Lock()
	rm, ok := ss.rooms[roomID]
	if !ok {
		ss.mu.Unlock()
		return "", core.ErrNoSuchRoom
	}
	delete(ss.rooms, roomID)

	var bound []*session.Session
	for _, id := range rm.SessionIDs() {
		sess, ok := ss.sessions[id]
		if !ok {
			continue
		}
		delete(ss.sessions, id)
		delete(ss.tokens, sess.Token())
		bound = append(bound, sess)
	}
	ss.mu.Unlock()

	for _, sess := range bound {
		_ = sess.Close()
		telemetry.SessionsTotal.WithLabelValues(string(sess.Role), "registered").Dec()
	}
	_ = rm.Close()
	telemetry.RoomsTotal.Dec()

	return roomID, nil
}

// RegisterVulcastSession reserves a SessionId and issues its one-shot
// token before any room references it (spec §4.2).
func (ss *SharedState) RegisterVulcastSession(sessionID core.SessionID) (core.SessionID, core.Token, error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if _, exists := ss.sessions[sessionID]; exists {
		return "", "", core.ErrSessionAlreadyExists
	}
	if _, exists := ss.pendingVulcast[sessionID]; exists {
		return "", "", core.ErrSessionAlreadyExists
	}

	token := core.Token(uuid.NewString())
	ss.pendingVulcast[sessionID] = token
	ss.tokens[token] = sessionID
	return sessionID, token, nil
}

// RegisterClientSession admits a WebClient session to an existing room and
// issues its one-shot token (spec §4.2).
func (ss *SharedState) RegisterClientSession(sessionID core.SessionID, roomID core.RoomID) (core.SessionID, core.Token, error) {
	ss.mu.Lock()
	if _, exists := ss.sessions[sessionID]; exists {
		ss.mu.Unlock()
		return "", "", core.ErrSessionAlreadyExists
	}
	if _, exists := ss.pendingVulcast[sessionID]; exists {
		ss.mu.Unlock()
		return "", "", core.ErrSessionAlreadyExists
	}
	rm, ok := ss.rooms[roomID]
	if !ok {
		ss.mu.Unlock()
		return "", "", core.ErrNoSuchRoom
	}

	token := core.Token(uuid.NewString())
	sess := session.New(sessionID, core.RoleWebClient, roomID, token, ss.lookupRoom)
	ss.sessions[sessionID] = sess
	ss.tokens[token] = sessionID
	ss.mu.Unlock()

	telemetry.SessionsTotal.WithLabelValues(string(core.RoleWebClient), "registered").Inc()

	rm.AddClientSession(sessionID)
	sess.OnClosed(func(id core.SessionID) { rm.RemoveClientSession(id) })

	return sessionID, token, nil
}

// UnregisterSession revokes the session's token and, if it was Connected,
// forces its teardown (spec §4.2).
func (ss *SharedState) UnregisterSession(sessionID core.SessionID) (core.SessionID, error) {
	ss.mu.Lock()
	if sess, ok := ss.sessions[sessionID]; ok {
		delete(ss.sessions, sessionID)
		delete(ss.tokens, sess.Token())
		ss.mu.Unlock()
		_ = sess.Close()
		telemetry.SessionsTotal.WithLabelValues(string(sess.Role), "registered").Dec()
		return sessionID, nil
	}
	if token, ok := ss.pendingVulcast[sessionID]; ok {
		delete(ss.pendingVulcast, sessionID)
		delete(ss.tokens, token)
		ss.mu.Unlock()
		return sessionID, nil
	}
	ss.mu.Unlock()
	return "", core.ErrNoSuchSession
}

// RedeemToken redeems a session's token at WebSocket connection-init and
// binds the WebSocket lifetime to the resolved Session (spec §4.2, §4.6).
// The token stays registered: redeeming it while the session is Connected
// fails with AlreadyConnected, and it can be redeemed again once that
// connection drops.
func (ss *SharedState) RedeemToken(token core.Token) (*session.Session, error) {
	ss.mu.Lock()
	sessionID, ok := ss.tokens[token]
	if !ok {
		ss.mu.Unlock()
		return nil, core.ErrInvalidToken
	}
	sess, ok := ss.sessions[sessionID]
	ss.mu.Unlock()
	if !ok {
		return nil, core.ErrInvalidToken
	}

	if err := sess.Connect(); err != nil {
		return nil, err
	}
	return sess, nil
}

// Stats reports the ids of every transport/producer/consumer/data
// producer/data consumer the named session currently owns (spec §4.2). It
// does not query the Media Engine for per-object statistics.
func (ss *SharedState) Stats(sessionID core.SessionID) (SessionStats, error) {
	ss.mu.Lock()
	sess, ok := ss.sessions[sessionID]
	ss.mu.Unlock()
	if !ok {
		return SessionStats{}, core.ErrNoSuchSession
	}

	return SessionStats{
		SessionID:     sess.ID,
		Role:          sess.Role,
		State:         sess.State().String(),
		Transports:    sess.TransportIDs(),
		Producers:     sess.ProducerIDs(),
		Consumers:     sess.ConsumerIDs(),
		DataProducers: sess.DataProducerIDs(),
		DataConsumers: sess.DataConsumerIDs(),
	}, nil
}

// Session looks up a bound session by id, for Control-plane queries that
// need to report its Room or role without mutating anything.
func (ss *SharedState) Session(sessionID core.SessionID) (*session.Session, bool) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	sess, ok := ss.sessions[sessionID]
	return sess, ok
}

// Room looks up a registered room by id.
func (ss *SharedState) Room(roomID core.RoomID) (*room.Room, bool) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	rm, ok := ss.rooms[roomID]
	return rm, ok
}
