package session

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Room is a broadcast scope. Private rooms deliver per-user targeted
// notifications; the public room delivers to every subscriber.
type Room string

const (
	RoomPrivate Room = "private"
	RoomPublic  Room = "public"
)

// AllUsers is the reserved pseudo-identity meaning "every public-room
// session". It is not a real user and never appears in stored pointers.
const AllUsers = "ALL"

var (
	// ErrInvalidRoom reports a room value other than private/public.
	ErrInvalidRoom = errors.New("session: invalid room")

	// ErrStoreUnavailable reports that the backing store could not be
	// reached. Callers must not treat this as "session absent".
	ErrStoreUnavailable = errors.New("session: store unavailable")

	// ErrMalformedRecord reports a stored entry that fails to deserialize.
	ErrMalformedRecord = errors.New("session: malformed record")
)

// ParseRoom validates and normalizes a caller-supplied room name.
func ParseRoom(s string) (Room, error) {
	switch Room(strings.ToLower(s)) {
	case RoomPrivate:
		return RoomPrivate, nil
	case RoomPublic:
		return RoomPublic, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRoom, s)
	}
}

// Session is one live client connection, scoped to a user and a room.
// Identity is the connection ID.
type Session struct {
	Room         Room
	ConnectionID string
	CreatedAt    time.Time
}

// Pointer is the reverse mapping from a connection ID back to the
// (user, room) pair owning its session list.
type Pointer struct {
	UserID string
	Room   Room
}

// RemoveResult reports the outcome of removing a session by connection ID.
// A missing session is a negative result, not an error: disconnects for
// already-expired sessions are expected.
type RemoveResult struct {
	Removed bool
	Reason  string
}

// RoomStat is a per-room count of stored sessions.
type RoomStat struct {
	Room  string
	Count int64
}

// Key schema, shared with the original deployment:
//
//	session:<connectionId>       -> serialized pointer, TTL = timeToLive
//	sessions:<USERID>:<ROOM>     -> list of serialized sessions
//	active:sessions              -> tracking set of pointer keys
//	active:sessionlists          -> tracking set of list keys
const (
	pointerKeyPrefix = "session:"
	listKeyPrefix    = "sessions:"
)

func pointerKey(connectionID string) string {
	return pointerKeyPrefix + connectionID
}

func listKey(userID string, room Room) string {
	return listKeyPrefix + strings.ToUpper(userID) + ":" + strings.ToUpper(string(room))
}

// roomFromListKey extracts the room segment from a sessions:<USER>:<ROOM> key.
func roomFromListKey(key string) (string, bool) {
	parts := strings.Split(key, ":")
	if len(parts) < 3 {
		return "", false
	}
	return parts[len(parts)-1], true
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}
