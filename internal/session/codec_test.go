package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeSessionMatchesWireFormat(t *testing.T) {
	created := time.UnixMilli(1700000000000)
	raw, err := encodeSession(Session{
		Room:         RoomPublic,
		ConnectionID: "conn-1",
		CreatedAt:    created,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"room":"PUBLIC","session":"conn-1","created":1700000000000}`, raw)
}

func TestDecodeSessionRoundTrip(t *testing.T) {
	created := time.UnixMilli(1700000000000)
	raw, err := encodeSession(Session{
		Room:         RoomPrivate,
		ConnectionID: "conn-2",
		CreatedAt:    created,
	})
	require.NoError(t, err)

	sess, err := decodeSession(raw)
	require.NoError(t, err)
	assert.Equal(t, RoomPrivate, sess.Room)
	assert.Equal(t, "conn-2", sess.ConnectionID)
	assert.True(t, sess.CreatedAt.Equal(created))
}

func TestDecodeSessionMalformed(t *testing.T) {
	for _, raw := range []string{
		"not json",
		`{"room":"LOBBY","session":"x","created":1}`,
		`{"room":"PUBLIC","created":1}`,
	} {
		_, err := decodeSession(raw)
		assert.ErrorIs(t, err, ErrMalformedRecord, "raw=%s", raw)
	}
}

func TestPointerRoundTrip(t *testing.T) {
	raw, err := encodePointer(Pointer{UserID: "alice", Room: RoomPrivate})
	require.NoError(t, err)
	assert.JSONEq(t, `{"userId":"ALICE","room":"PRIVATE"}`, raw)

	ptr, err := decodePointer(raw)
	require.NoError(t, err)
	assert.Equal(t, "ALICE", ptr.UserID)
	assert.Equal(t, RoomPrivate, ptr.Room)
}

func TestDecodePointerMalformed(t *testing.T) {
	_, err := decodePointer(`{"userId":"","room":"PRIVATE"}`)
	assert.ErrorIs(t, err, ErrMalformedRecord)
}

func TestParseRoom(t *testing.T) {
	room, err := ParseRoom("PRIVATE")
	require.NoError(t, err)
	assert.Equal(t, RoomPrivate, room)

	_, err = ParseRoom("lobby")
	assert.ErrorIs(t, err, ErrInvalidRoom)
}
