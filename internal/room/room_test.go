package room

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulcan-relay/vulcan-relay/internal/config"
	"github.com/vulcan-relay/vulcan-relay/internal/core"
	"github.com/vulcan-relay/vulcan-relay/internal/engine"
)

func newTestRouter(t *testing.T) *engine.Router {
	t.Helper()
	cfg := config.New()
	webrtcCfg, err := config.NewWebRTCConfig(cfg)
	require.NoError(t, err)
	router, err := engine.NewWorker(webrtcCfg, cfg.Peer).CreateRouter()
	require.NoError(t, err)
	return router
}

func newTestRoom() *Room {
	return New("room-1", "vulcast-1", nil)
}

func recvProducerID(t *testing.T, ch <-chan engine.ProducerID) engine.ProducerID {
	t.Helper()
	select {
	case id := <-ch:
		return id
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for producer id")
		return ""
	}
}

func TestRoom_SubscribeProducers_SnapshotThenLive(t *testing.T) {
	r := newTestRoom()

	existing := &engine.Producer{ID: "p-existing", Kind: engine.KindVideo}
	r.AnnounceProducer("vulcast-1", existing)

	ch, cancel := r.SubscribeProducers()
	defer cancel()

	assert.Equal(t, engine.ProducerID("p-existing"), recvProducerID(t, ch))

	fresh := &engine.Producer{ID: "p-fresh", Kind: engine.KindAudio}
	r.AnnounceProducer("vulcast-1", fresh)

	assert.Equal(t, engine.ProducerID("p-fresh"), recvProducerID(t, ch))
}

func TestRoom_SubscribeProducers_MultipleSubscribersEachSeeEverything(t *testing.T) {
	r := newTestRoom()
	p := &engine.Producer{ID: "p1", Kind: engine.KindVideo}
	r.AnnounceProducer("vulcast-1", p)

	ch1, cancel1 := r.SubscribeProducers()
	defer cancel1()
	ch2, cancel2 := r.SubscribeProducers()
	defer cancel2()

	assert.Equal(t, engine.ProducerID("p1"), recvProducerID(t, ch1))
	assert.Equal(t, engine.ProducerID("p1"), recvProducerID(t, ch2))
}

func TestRoom_ForgetProducer_RemovesFromFutureSnapshots(t *testing.T) {
	r := newTestRoom()
	p := &engine.Producer{ID: "p1", Kind: engine.KindVideo}
	r.AnnounceProducer("vulcast-1", p)
	r.ForgetProducer(p.ID)

	_, _, ok := r.Producer(p.ID)
	assert.False(t, ok)

	ch, cancel := r.SubscribeProducers()
	defer cancel()

	select {
	case id := <-ch:
		t.Fatalf("expected no producer in snapshot, got %v", id)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRoom_Producer_ResolvesOwner(t *testing.T) {
	r := newTestRoom()
	p := &engine.Producer{ID: "p1", Kind: engine.KindAudio}
	r.AnnounceProducer("vulcast-1", p)

	got, owner, ok := r.Producer("p1")
	require.True(t, ok)
	assert.Equal(t, p, got)
	assert.Equal(t, core.SessionID("vulcast-1"), owner)

	_, _, ok = r.Producer("no-such-id")
	assert.False(t, ok)
}

func TestRoom_ClientSessionMembership(t *testing.T) {
	r := newTestRoom()
	assert.True(t, r.HasSession("vulcast-1"))
	assert.False(t, r.HasSession("client-1"))

	r.AddClientSession("client-1")
	assert.True(t, r.HasSession("client-1"))

	r.RemoveClientSession("client-1")
	assert.False(t, r.HasSession("client-1"))
}

func TestRoom_ClearVulcastSession_OnlyClearsMatchingID(t *testing.T) {
	r := newTestRoom()
	r.ClearVulcastSession("someone-else")
	assert.Equal(t, core.SessionID("vulcast-1"), r.VulcastSessionID())

	r.ClearVulcastSession("vulcast-1")
	assert.Equal(t, core.SessionID(""), r.VulcastSessionID())
}

func TestRoom_SessionIDs_VulcastFirst(t *testing.T) {
	r := newTestRoom()
	r.AddClientSession("client-1")
	r.AddClientSession("client-2")

	ids := r.SessionIDs()
	require.Len(t, ids, 3)
	assert.Equal(t, core.SessionID("vulcast-1"), ids[0])
}

func TestRoom_SubscribeProducers_ClosedRoomYieldsClosedChannel(t *testing.T) {
	r := New("room-1", "vulcast-1", newTestRouter(t))
	require.NoError(t, r.Close())

	ch, cancel := r.SubscribeProducers()
	defer cancel()

	_, ok := <-ch
	assert.False(t, ok)
}
