package session

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Wire records match the original deployment byte-for-byte: rooms and user
// IDs are stored upper-cased, created is epoch milliseconds.

type sessionRecord struct {
	Room    string `json:"room"`
	Session string `json:"session"`
	Created int64  `json:"created"`
}

type pointerRecord struct {
	UserID string `json:"userId"`
	Room   string `json:"room"`
}

func encodeSession(s Session) (string, error) {
	data, err := json.Marshal(sessionRecord{
		Room:    strings.ToUpper(string(s.Room)),
		Session: s.ConnectionID,
		Created: s.CreatedAt.UnixMilli(),
	})
	if err != nil {
		return "", fmt.Errorf("session: failed to marshal: %w", err)
	}
	return string(data), nil
}

func decodeSession(raw string) (Session, error) {
	var rec sessionRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	room, err := ParseRoom(rec.Room)
	if err != nil {
		return Session{}, fmt.Errorf("%w: room %q", ErrMalformedRecord, rec.Room)
	}
	if rec.Session == "" {
		return Session{}, fmt.Errorf("%w: missing session id", ErrMalformedRecord)
	}
	return Session{
		Room:         room,
		ConnectionID: rec.Session,
		CreatedAt:    time.UnixMilli(rec.Created),
	}, nil
}

func encodePointer(p Pointer) (string, error) {
	data, err := json.Marshal(pointerRecord{
		UserID: strings.ToUpper(p.UserID),
		Room:   strings.ToUpper(string(p.Room)),
	})
	if err != nil {
		return "", fmt.Errorf("session: failed to marshal: %w", err)
	}
	return string(data), nil
}

func decodePointer(raw string) (Pointer, error) {
	var rec pointerRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return Pointer{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	room, err := ParseRoom(rec.Room)
	if err != nil {
		return Pointer{}, fmt.Errorf("%w: room %q", ErrMalformedRecord, rec.Room)
	}
	if rec.UserID == "" {
		return Pointer{}, fmt.Errorf("%w: missing user id", ErrMalformedRecord)
	}
	return Pointer{UserID: rec.UserID, Room: room}, nil
}
