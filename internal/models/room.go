package models

import "time"

// Extra is the free-form metadata a client attaches to itself.
type Extra map[string]any

// BroadcastID returns extra.broadcastId when the client set one.
func (e Extra) BroadcastID() string {
	if e == nil {
		return ""
	}
	id, _ := e["broadcastId"].(string)
	return id
}

// Clone returns a shallow copy so callers can hand it out without sharing the map.
func (e Extra) Clone() Extra {
	if e == nil {
		return Extra{}
	}
	out := make(Extra, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// SessionParams are the session flags requested by the room creator.
type SessionParams struct {
	Audio     bool `json:"audio,omitempty"`
	Video     bool `json:"video,omitempty"`
	Data      bool `json:"data,omitempty"`
	Screen    bool `json:"screen,omitempty"`
	OneWay    bool `json:"oneway,omitempty"`
	Broadcast bool `json:"broadcast,omitempty"`
	Scalable  bool `json:"scalable,omitempty"`
}

// FanIn reports whether joiners only signal the owner.
func (s SessionParams) FanIn() bool {
	return s.OneWay || s.Broadcast
}

// SessionBinding is what a peer most recently opened or joined.
type SessionBinding struct {
	SessionID        string        `json:"sessionid"`
	Session          SessionParams `json:"session"`
	Extra            Extra         `json:"extra,omitempty"`
	MediaConstraints any           `json:"mediaConstraints,omitempty"`
	SDPConstraints   any           `json:"sdpConstraints,omitempty"`
	Streams          any           `json:"streams,omitempty"`
}

// RoomSummary is the public view of a room.
type RoomSummary struct {
	SessionID              string        `json:"sessionid"`
	Owner                  string        `json:"owner"`
	Participants           []string      `json:"participants"`
	MaxParticipantsAllowed int           `json:"maxParticipantsAllowed"`
	Extra                  Extra         `json:"extra"`
	Session                SessionParams `json:"session"`
	Identifier             string        `json:"identifier,omitempty"`
	IsRoomFull             bool          `json:"isRoomFull"`
	IsPasswordProtected    bool          `json:"isPasswordProtected"`
	CreatedAt              time.Time     `json:"createdAt"`
}

// RoomState is the live fullness/protection state attached to presence replies.
type RoomState struct {
	IsFull              bool `json:"isFull"`
	IsPasswordProtected bool `json:"isPasswordProtected"`
}

// PresenceInfo answers check-presence without exposing the password.
type PresenceInfo struct {
	Exists    bool      `json:"exists"`
	SessionID string    `json:"sessionid"`
	Extra     Extra     `json:"extra,omitempty"`
	Room      RoomState `json:"_room"`
}
