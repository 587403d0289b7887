// Package room implements spec §4.3's Room: the container that owns one
// media Router plus the two broadcast channels publishing newly created
// producers and data producers to every subscriber.
package room

import (
	"fmt"
	"sync"

	"github.com/vulcan-relay/vulcan-relay/internal/core"
	"github.com/vulcan-relay/vulcan-relay/internal/engine"
)

// Room aggregates one Vulcast session and N WebClient sessions around a
// single Router (spec §3, §4.3). It never holds Session objects, only
// SessionIds — Sessions are looked up by id through SharedState, per
// spec §9's cycle-avoidance note.
type Room struct {
	ID     core.RoomID
	router *engine.Router

	mu              sync.Mutex
	vulcastSession  core.SessionID
	clientSessions  map[core.SessionID]struct{}
	closed          bool

	producers     map[engine.ProducerID]producerEntry
	dataProducers map[engine.DataProducerID]dataProducerEntry

	liveProducers     []engine.ProducerID
	liveDataProducers []engine.DataProducerID
	producerSubs      []*idQueue[engine.ProducerID]
	dataProducerSubs  []*idQueue[engine.DataProducerID]
}

type producerEntry struct {
	Owner    core.SessionID
	Producer *engine.Producer
}

type dataProducerEntry struct {
	Owner        core.SessionID
	DataProducer *engine.DataProducer
}

// New creates a Room already bound to its Router and Vulcast session. The
// Router must already exist (spec §4.2: registerRoom creates the Router
// before the Room becomes observable).
func New(id core.RoomID, vulcastSessionID core.SessionID, router *engine.Router) *Room {
	return &Room{
		ID:             id,
		router:         router,
		vulcastSession: vulcastSessionID,
		clientSessions: make(map[core.SessionID]struct{}),
		producers:      make(map[engine.ProducerID]producerEntry),
		dataProducers:  make(map[engine.DataProducerID]dataProducerEntry),
	}
}

// Router returns the media Router this room multiplexes transports through.
func (r *Room) Router() *engine.Router {
	return r.router
}

// VulcastSessionID reports the one Vulcast session bound to this room.
func (r *Room) VulcastSessionID() core.SessionID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.vulcastSession
}

// AddClientSession admits a WebClient session id to the room.
func (r *Room) AddClientSession(id core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clientSessions[id] = struct{}{}
}

// RemoveClientSession removes a WebClient session id on teardown.
func (r *Room) RemoveClientSession(id core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clientSessions, id)
}

// ClearVulcastSession drops the room's Vulcast binding when that session
// closes independently of unregisterRoom, leaving the room with zero live
// Vulcast sessions (spec §3's invariant 5).
func (r *Room) ClearVulcastSession(id core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.vulcastSession == id {
		r.vulcastSession = ""
	}
}

// HasSession reports whether id is the room's Vulcast or one of its
// WebClients.
func (r *Room) HasSession(id core.SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.vulcastSession == id {
		return true
	}
	_, ok := r.clientSessions[id]
	return ok
}

// SessionIDs returns every session id bound to this room (Vulcast first),
// used to cascade teardown when the room is unregistered.
func (r *Room) SessionIDs() []core.SessionID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.SessionID, 0, len(r.clientSessions)+1)
	if r.vulcastSession != "" {
		out = append(out, r.vulcastSession)
	}
	for id := range r.clientSessions {
		out = append(out, id)
	}
	return out
}

// AnnounceProducer registers a newly created Producer under its owning
// session and publishes its id to every current and future subscriber, in
// creation order (spec §4.3, §5 ordering guarantee #2).
func (r *Room) AnnounceProducer(owner core.SessionID, producer *engine.Producer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.producers[producer.ID] = producerEntry{Owner: owner, Producer: producer}
	r.liveProducers = append(r.liveProducers, producer.ID)
	for _, sub := range r.producerSubs {
		sub.push(producer.ID)
	}
}

// AnnounceDataProducer is AnnounceProducer's analogue for data producers.
func (r *Room) AnnounceDataProducer(owner core.SessionID, dataProducer *engine.DataProducer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.dataProducers[dataProducer.ID] = dataProducerEntry{Owner: owner, DataProducer: dataProducer}
	r.liveDataProducers = append(r.liveDataProducers, dataProducer.ID)
	for _, sub := range r.dataProducerSubs {
		sub.push(dataProducer.ID)
	}
}

// Producer resolves a ProducerId to its live engine handle and owning
// session, for consume() (spec §4.4). Returns false once the producer has
// closed.
func (r *Room) Producer(id engine.ProducerID) (*engine.Producer, core.SessionID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.producers[id]
	if !ok {
		return nil, "", false
	}
	return entry.Producer, entry.Owner, true
}

// DataProducer is Producer's analogue for data producers.
func (r *Room) DataProducer(id engine.DataProducerID) (*engine.DataProducer, core.SessionID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.dataProducers[id]
	if !ok {
		return nil, "", false
	}
	return entry.DataProducer, entry.Owner, true
}

// ForgetProducer drops a closed producer from the live snapshot so future
// subscribers never receive a dead id (spec §4.3's snapshot contract).
func (r *Room) ForgetProducer(id engine.ProducerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.producers, id)
	r.liveProducers = removeID(r.liveProducers, id)
}

// ForgetDataProducer is ForgetProducer's analogue for data producers.
func (r *Room) ForgetDataProducer(id engine.DataProducerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.dataProducers, id)
	r.liveDataProducers = removeID(r.liveDataProducers, id)
}

func removeID[T comparable](ids []T, target T) []T {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// SubscribeProducers returns a channel that first yields every currently
// live ProducerId, in creation order, then every subsequently announced
// one, with no duplicates and no reordering across the boundary (spec
// §4.3, §5 ordering guarantee #2, §9's monotonic-sequence design note).
// The returned cancel function must be called once the subscriber is done.
func (r *Room) SubscribeProducers() (<-chan engine.ProducerID, func()) {
	r.mu.Lock()
	snapshot := append([]engine.ProducerID(nil), r.liveProducers...)
	q := newIDQueue(snapshot)
	if r.closed {
		q.closeQueue()
	} else {
		r.producerSubs = append(r.producerSubs, q)
	}
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		for i, sub := range r.producerSubs {
			if sub == q {
				r.producerSubs = append(r.producerSubs[:i], r.producerSubs[i+1:]...)
				break
			}
		}
		r.mu.Unlock()
		q.closeQueue()
	}
	return q.channel(), cancel
}

// SubscribeDataProducers is SubscribeProducers' analogue for data producers.
func (r *Room) SubscribeDataProducers() (<-chan engine.DataProducerID, func()) {
	r.mu.Lock()
	snapshot := append([]engine.DataProducerID(nil), r.liveDataProducers...)
	q := newIDQueue(snapshot)
	if r.closed {
		q.closeQueue()
	} else {
		r.dataProducerSubs = append(r.dataProducerSubs, q)
	}
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		for i, sub := range r.dataProducerSubs {
			if sub == q {
				r.dataProducerSubs = append(r.dataProducerSubs[:i], r.dataProducerSubs[i+1:]...)
				break
			}
		}
		r.mu.Unlock()
		q.closeQueue()
	}
	return q.channel(), cancel
}

// Close tears down the Router, which closes every transport it created,
// and ends every subscription stream
// cleanly (spec §4.2's unregister_room, §4.4's subscription contract).
// Safe to call more than once.
func (r *Room) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	producerSubs := r.producerSubs
	dataProducerSubs := r.dataProducerSubs
	r.producerSubs = nil
	r.dataProducerSubs = nil
	r.mu.Unlock()

	for _, sub := range producerSubs {
		sub.closeQueue()
	}
	for _, sub := range dataProducerSubs {
		sub.closeQueue()
	}

	if err := r.router.Close(); err != nil {
		return fmt.Errorf("room: close router: %w", err)
	}
	return nil
}
