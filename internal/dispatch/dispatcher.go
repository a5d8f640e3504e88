package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/trakwell-ai/websocket-notify/internal/session"
)

// Notification is the payload delivered to clients, matching the wire shape
// the original clients expect.
type Notification struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Message  string `json:"message"`
	Time     string `json:"time"`
	OptParam string `json:"optparam"`
}

// Target is a resolved delivery target. The reserved ALL/public
// pseudo-identity and the public room both resolve to AllPublic here, once,
// so no string sentinel propagates into the store layer.
type Target struct {
	AllPublic bool
	UserID    string
	Room      session.Room
}

// ResolveTarget validates caller-supplied userid/room strings into a Target.
// Any room other than private/public is a caller error.
func ResolveTarget(userID, room string) (Target, error) {
	r, err := session.ParseRoom(room)
	if err != nil {
		return Target{}, err
	}
	if r == session.RoomPublic {
		// Public delivery is implicit room membership; the user id (ALL or
		// otherwise) does not narrow it.
		return Target{AllPublic: true, Room: r}, nil
	}
	if userID == "" || strings.EqualFold(userID, session.AllUsers) {
		return Target{}, fmt.Errorf("dispatch: invalid user id %q for private room", userID)
	}
	return Target{UserID: userID, Room: r}, nil
}

// Group is the transport's live-connection capability for one room. The
// dispatcher never reaches into transport internals, only this interface.
type Group interface {
	// Send hands the payload to one connection; false means the connection
	// is not currently known to this process.
	Send(connectionID string, payload []byte) bool
	// Broadcast hands the payload to every connection in the group and
	// returns how many were handed to.
	Broadcast(payload []byte) int
	// Count reports currently connected sessions.
	Count() int
}

// SessionSource is the slice of the session store the dispatcher needs.
type SessionSource interface {
	Lookup(ctx context.Context, userID string, room session.Room) ([]session.Session, error)
}

// Outcome reports how many deliveries one dispatch produced.
type Outcome struct {
	Delivered int
}

// Dispatcher turns a resolved target into concrete deliveries. Delivery is
// fire-and-forget: no client acknowledgment, no retry. A connection that
// disconnects between lookup and send simply misses the payload.
type Dispatcher struct {
	sessions SessionSource
	private  Group
	public   Group
}

// New builds a Dispatcher. A nil group disables that room: dispatches to it
// become successful no-ops.
func New(sessions SessionSource, private, public Group) *Dispatcher {
	return &Dispatcher{sessions: sessions, private: private, public: public}
}

// Dispatch delivers a notification to the target. Zero matching sessions is
// a successful no-op, not an error.
func (d *Dispatcher) Dispatch(ctx context.Context, target Target, n Notification) (Outcome, error) {
	payload, err := json.Marshal(n)
	if err != nil {
		return Outcome{}, fmt.Errorf("dispatch: failed to marshal notification: %w", err)
	}

	if target.AllPublic {
		if d.public == nil {
			return Outcome{}, nil
		}
		return Outcome{Delivered: d.public.Broadcast(payload)}, nil
	}

	if d.private == nil {
		return Outcome{}, nil
	}

	sessions, err := d.sessions.Lookup(ctx, target.UserID, target.Room)
	if err != nil {
		return Outcome{}, err
	}

	delivered := 0
	for _, sess := range sessions {
		if d.private.Send(sess.ConnectionID, payload) {
			delivered++
		}
	}
	return Outcome{Delivered: delivered}, nil
}

// Counts reports connected sessions per room for the status endpoint.
func (d *Dispatcher) Counts() (private, public int) {
	if d.private != nil {
		private = d.private.Count()
	}
	if d.public != nil {
		public = d.public.Count()
	}
	return private, public
}
