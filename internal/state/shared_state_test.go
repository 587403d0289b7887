package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulcan-relay/vulcan-relay/internal/config"
	"github.com/vulcan-relay/vulcan-relay/internal/core"
	"github.com/vulcan-relay/vulcan-relay/internal/engine"
)

func newTestSharedState(t *testing.T) *SharedState {
	t.Helper()
	cfg := config.New()
	webrtcCfg, err := config.NewWebRTCConfig(cfg)
	require.NoError(t, err)
	return New(engine.NewWorker(webrtcCfg, cfg.Peer))
}

func TestSharedState_RegisterRoom_RequiresPendingVulcastSession(t *testing.T) {
	ss := newTestSharedState(t)
	_, err := ss.RegisterRoom("room-1", "no-such-session")
	assert.ErrorIs(t, err, core.ErrNoSuchSession)
}

func TestSharedState_RegisterRoom_Success(t *testing.T) {
	ss := newTestSharedState(t)
	_, _, err := ss.RegisterVulcastSession("vulcast-1")
	require.NoError(t, err)

	rm, err := ss.RegisterRoom("room-1", "vulcast-1")
	require.NoError(t, err)
	assert.Equal(t, core.RoomID("room-1"), rm.ID)
	assert.Equal(t, core.SessionID("vulcast-1"), rm.VulcastSessionID())

	_, bound := ss.Session("vulcast-1")
	assert.True(t, bound, "vulcast session should be promoted out of the pending set")
}

func TestSharedState_RegisterRoom_AlreadyExists(t *testing.T) {
	ss := newTestSharedState(t)
	_, _, err := ss.RegisterVulcastSession("vulcast-1")
	require.NoError(t, err)
	_, err = ss.RegisterRoom("room-1", "vulcast-1")
	require.NoError(t, err)

	_, _, err = ss.RegisterVulcastSession("vulcast-2")
	require.NoError(t, err)
	_, err = ss.RegisterRoom("room-1", "vulcast-2")
	assert.ErrorIs(t, err, core.ErrRoomAlreadyExists)
}

func TestSharedState_RegisterRoom_VulcastAlreadyBoundElsewhere(t *testing.T) {
	ss := newTestSharedState(t)
	_, _, err := ss.RegisterVulcastSession("vulcast-1")
	require.NoError(t, err)
	_, err = ss.RegisterRoom("room-1", "vulcast-1")
	require.NoError(t, err)

	_, err = ss.RegisterRoom("room-2", "vulcast-1")
	assert.ErrorIs(t, err, core.ErrVulcastSessionAlreadyBound)
}

func TestSharedState_RegisterVulcastSession_DuplicateRejected(t *testing.T) {
	ss := newTestSharedState(t)
	_, _, err := ss.RegisterVulcastSession("vulcast-1")
	require.NoError(t, err)

	_, _, err = ss.RegisterVulcastSession("vulcast-1")
	assert.ErrorIs(t, err, core.ErrSessionAlreadyExists)
}

func TestSharedState_RegisterClientSession_RequiresExistingRoom(t *testing.T) {
	ss := newTestSharedState(t)
	_, _, err := ss.RegisterClientSession("client-1", "no-such-room")
	assert.ErrorIs(t, err, core.ErrNoSuchRoom)
}

func TestSharedState_RegisterClientSession_Success(t *testing.T) {
	ss := newTestSharedState(t)
	_, _, err := ss.RegisterVulcastSession("vulcast-1")
	require.NoError(t, err)
	rm, err := ss.RegisterRoom("room-1", "vulcast-1")
	require.NoError(t, err)

	id, token, err := ss.RegisterClientSession("client-1", "room-1")
	require.NoError(t, err)
	assert.Equal(t, core.SessionID("client-1"), id)
	assert.NotEmpty(t, token)
	assert.True(t, rm.HasSession("client-1"))
}

func TestSharedState_RedeemToken_InvalidToken(t *testing.T) {
	ss := newTestSharedState(t)
	_, err := ss.RedeemToken("does-not-exist")
	assert.ErrorIs(t, err, core.ErrInvalidToken)
}

func TestSharedState_RedeemToken_ConnectsSessionOnce(t *testing.T) {
	ss := newTestSharedState(t)
	_, token, err := ss.RegisterVulcastSession("vulcast-1")
	require.NoError(t, err)
	_, err = ss.RegisterRoom("room-1", "vulcast-1")
	require.NoError(t, err)

	sess, err := ss.RedeemToken(token)
	require.NoError(t, err)
	assert.Equal(t, core.SessionID("vulcast-1"), sess.ID)

	_, err = ss.RedeemToken(token)
	assert.ErrorIs(t, err, core.ErrAlreadyConnected)
}

func TestSharedState_UnregisterSession_PendingVulcast(t *testing.T) {
	ss := newTestSharedState(t)
	_, _, err := ss.RegisterVulcastSession("vulcast-1")
	require.NoError(t, err)

	_, err = ss.UnregisterSession("vulcast-1")
	require.NoError(t, err)

	_, _, err = ss.RegisterVulcastSession("vulcast-1")
	assert.NoError(t, err, "id should be free again once unregistered")
}

func TestSharedState_UnregisterSession_NoSuchSession(t *testing.T) {
	ss := newTestSharedState(t)
	_, err := ss.UnregisterSession("does-not-exist")
	assert.ErrorIs(t, err, core.ErrNoSuchSession)
}

func TestSharedState_UnregisterRoom_ClosesBoundSessions(t *testing.T) {
	ss := newTestSharedState(t)
	_, _, err := ss.RegisterVulcastSession("vulcast-1")
	require.NoError(t, err)
	_, err = ss.RegisterRoom("room-1", "vulcast-1")
	require.NoError(t, err)
	_, _, err = ss.RegisterClientSession("client-1", "room-1")
	require.NoError(t, err)

	_, err = ss.UnregisterRoom("room-1")
	require.NoError(t, err)

	_, ok := ss.Room("room-1")
	assert.False(t, ok)
	_, ok = ss.Session("vulcast-1")
	assert.False(t, ok)
	_, ok = ss.Session("client-1")
	assert.False(t, ok)
}

func TestSharedState_Stats_NoSuchSession(t *testing.T) {
	ss := newTestSharedState(t)
	_, err := ss.Stats("does-not-exist")
	assert.ErrorIs(t, err, core.ErrNoSuchSession)
}

func TestSharedState_Stats_ReportsRoleAndState(t *testing.T) {
	ss := newTestSharedState(t)
	_, _, err := ss.RegisterVulcastSession("vulcast-1")
	require.NoError(t, err)
	_, err = ss.RegisterRoom("room-1", "vulcast-1")
	require.NoError(t, err)

	stats, err := ss.Stats("vulcast-1")
	require.NoError(t, err)
	assert.Equal(t, core.RoleVulcast, stats.Role)
	assert.Equal(t, "registered", stats.State)
	assert.Empty(t, stats.Transports)
}
