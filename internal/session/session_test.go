package session

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulcan-relay/vulcan-relay/internal/core"
	"github.com/vulcan-relay/vulcan-relay/internal/room"
)

var errLookupNotExpected = errors.New("lookupRoom should not have been called")

func failLookup(core.RoomID) (*room.Room, error) { return nil, errLookupNotExpected }

func newTestSession(role core.Role) *Session {
	return New("session-1", role, "room-1", "token-1", failLookup)
}

func TestSession_Connect_RegisteredToConnected(t *testing.T) {
	s := newTestSession(core.RoleWebClient)
	require.Equal(t, Registered, s.State())

	require.NoError(t, s.Connect())
	assert.Equal(t, Connected, s.State())
}

func TestSession_Connect_AlreadyConnected(t *testing.T) {
	s := newTestSession(core.RoleWebClient)
	require.NoError(t, s.Connect())

	err := s.Connect()
	assert.ErrorIs(t, err, core.ErrAlreadyConnected)
}

func TestSession_Connect_ClosedSessionRejected(t *testing.T) {
	s := newTestSession(core.RoleWebClient)
	require.NoError(t, s.Close())

	err := s.Connect()
	assert.ErrorIs(t, err, core.ErrInvalidToken)
}

func TestSession_Disconnect_ReturnsToRegisteredNotUnregistered(t *testing.T) {
	s := newTestSession(core.RoleWebClient)
	require.NoError(t, s.Connect())

	s.Disconnect()
	assert.Equal(t, Registered, s.State())
	assert.Equal(t, core.Token("token-1"), s.Token(), "token must still be valid after a disconnect")
}

func TestSession_Disconnect_NoopWhenNotConnected(t *testing.T) {
	s := newTestSession(core.RoleWebClient)
	s.Disconnect()
	assert.Equal(t, Registered, s.State())
}

func TestSession_Disconnect_CanReconnectAfterwards(t *testing.T) {
	s := newTestSession(core.RoleWebClient)
	require.NoError(t, s.Connect())
	s.Disconnect()

	require.NoError(t, s.Connect())
	assert.Equal(t, Connected, s.State())
}

func TestSession_Close_Idempotent(t *testing.T) {
	s := newTestSession(core.RoleWebClient)
	require.NoError(t, s.Close())
	assert.Equal(t, Closed, s.State())
	require.NoError(t, s.Close(), "closing twice must not error")
}

func TestSession_Close_FiresOnClosedCallbacks(t *testing.T) {
	s := newTestSession(core.RoleWebClient)

	var gotID core.SessionID
	calls := 0
	s.OnClosed(func(id core.SessionID) {
		gotID = id
		calls++
	})

	require.NoError(t, s.Close())
	assert.Equal(t, core.SessionID("session-1"), gotID)
	assert.Equal(t, 1, calls)
}

func TestSession_OnClosed_FiresImmediatelyIfAlreadyClosed(t *testing.T) {
	s := newTestSession(core.RoleWebClient)
	require.NoError(t, s.Close())

	calls := 0
	s.OnClosed(func(core.SessionID) { calls++ })
	assert.Equal(t, 1, calls)
}

func TestSession_Produce_RoleGating(t *testing.T) {
	webClient := newTestSession(core.RoleWebClient)
	_, err := webClient.Produce("t1", "video", nil)
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	_, err = webClient.ProducePlain("t1", "video", nil)
	assert.ErrorIs(t, err, core.ErrUnauthorized)
}

func TestSession_ProduceData_RoleGating(t *testing.T) {
	vulcast := newTestSession(core.RoleVulcast)
	_, err := vulcast.ProduceData("t1", nil)
	assert.ErrorIs(t, err, core.ErrUnauthorized)
}

func TestSession_Consume_RoleGating(t *testing.T) {
	vulcast := newTestSession(core.RoleVulcast)
	_, err := vulcast.Consume("t1", "p1")
	assert.ErrorIs(t, err, core.ErrUnauthorized)
}

func TestSession_Consume_RequiresClientRTPCapabilities(t *testing.T) {
	webClient := newTestSession(core.RoleWebClient)
	_, err := webClient.Consume("t1", "p1")
	assert.ErrorIs(t, err, core.ErrCannotConsume)
}

func TestSession_ConsumeData_RoleGating(t *testing.T) {
	webClient := newTestSession(core.RoleWebClient)
	_, err := webClient.ConsumeData("t1", "dp1")
	assert.ErrorIs(t, err, core.ErrUnauthorized)
}

func TestSession_ConsumerResume_NoSuchConsumer(t *testing.T) {
	s := newTestSession(core.RoleWebClient)
	err := s.ConsumerResume("does-not-exist")
	assert.ErrorIs(t, err, core.ErrNoSuchConsumer)
}

func TestSession_GetTransport_NoSuchTransport(t *testing.T) {
	s := newTestSession(core.RoleVulcast)
	_, err := s.getTransport("does-not-exist")
	assert.ErrorIs(t, err, core.ErrNoSuchTransport)
}

func TestSession_IDSnapshots_EmptyByDefault(t *testing.T) {
	s := newTestSession(core.RoleWebClient)
	assert.Empty(t, s.TransportIDs())
	assert.Empty(t, s.ProducerIDs())
	assert.Empty(t, s.ConsumerIDs())
	assert.Empty(t, s.DataProducerIDs())
	assert.Empty(t, s.DataConsumerIDs())
}
