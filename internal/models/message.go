package models

import (
	"strconv"
	"strings"
)

// Inbound events (peer -> server).
const (
	EventRegisterPeer          = "register-peer"
	EventExtraDataUpdated      = "extra-data-updated"
	EventGetRemoteExtra        = "get-remote-user-extra-data"
	EventChangedUUID           = "changed-uuid"
	EventSetPassword           = "set-password"
	EventDisconnectWith        = "disconnect-with"
	EventCloseEntireSession    = "close-entire-session"
	EventCheckPresence         = "check-presence"
	EventIsValidPassword       = "is-valid-password"
	EventGetPublicRooms        = "get-public-rooms"
	EventOpenRoom              = "open-room"
	EventJoinRoom              = "join-room"
	EventJoinBroadcast         = "join-broadcast"
	EventScalableBroadcastMsg  = "scalable-broadcast-message"
	EventCanRelayBroadcast     = "can-relay-broadcast"
	EventCanNotRelayBroadcast  = "can-not-relay-broadcast"
	EventCheckBroadcastPresent = "check-broadcast-presence"
	EventGetBroadcastViewers   = "get-number-of-users-in-specific-broadcast"
	EventAdminAuthenticate     = "admin-authenticate"
	EventAdmin                 = "admin"
)

// Outbound events (server -> peer).
const (
	EventUserIDAlreadyTaken   = "userid-already-taken"
	EventUserConnected        = "user-connected"
	EventUserDisconnected     = "user-disconnected"
	EventUserNotFound         = "user-not-found"
	EventSetIsInitiatorTrue   = "set-isInitiator-true"
	EventRejoinBroadcast      = "rejoin-broadcast"
	EventJoinBroadcaster      = "join-broadcaster"
	EventStartBroadcasting    = "start-broadcasting"
	EventBroadcastStopped     = "broadcast-stopped"
	EventBroadcastViewerCount = "number-of-broadcast-viewers-updated"
	EventAck                  = "ack"
	EventError                = "error"
)

const (
	SystemRemoteUserID        = "system"
	AdminUserID               = "admin"
	DefaultSocketMessageEvent = "RTCMultiConnection-Message"
)

// Handle is the outbound side of one peer connection. Send must never block
// the caller; delivery is best effort.
type Handle interface {
	Send(event string, payload any)
	Close()
}

// Envelope is the frame exchanged over the websocket. Ack is non-zero when the
// sender expects a reply frame carrying the same Ack.
type Envelope struct {
	Event string `json:"event"`
	Ack   uint64 `json:"ack,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// RegisterRequest carries the connection parameters of a peer.
type RegisterRequest struct {
	UserID                  string `json:"userid,omitempty"`
	SessionID               string `json:"sessionid,omitempty"`
	Extra                   Extra  `json:"extra,omitempty"`
	MaxParticipantsAllowed  any    `json:"maxParticipantsAllowed,omitempty"`
	EnableScalableBroadcast bool   `json:"enableScalableBroadcast,omitempty"`
	MaxRelayLimitPerUser    any    `json:"maxRelayLimitPerUser,omitempty"`
	AutoCloseEntireSession  bool   `json:"autoCloseEntireSession,omitempty"`
	MsgEvent                string `json:"msgEvent,omitempty"`
	AdminUserName           string `json:"adminUserName,omitempty"`
	AdminPassword           string `json:"adminPassword,omitempty"`
}

// RoomRequest is shared by open-room and join-room.
type RoomRequest struct {
	SessionID              string        `json:"sessionid"`
	Session                SessionParams `json:"session"`
	Extra                  Extra         `json:"extra,omitempty"`
	Password               string        `json:"password,omitempty"`
	Identifier             string        `json:"identifier,omitempty"`
	MaxParticipantsAllowed any           `json:"maxParticipantsAllowed,omitempty"`
	MediaConstraints       any           `json:"mediaConstraints,omitempty"`
	SDPConstraints         any           `json:"sdpConstraints,omitempty"`
	Streams                any           `json:"streams,omitempty"`
}

// SessionMessage is the generic peer-to-peer signaling payload.
type SessionMessage struct {
	RemoteUserID string         `json:"remoteUserId"`
	Sender       string         `json:"sender"`
	Message      map[string]any `json:"message"`
	Extra        Extra          `json:"extra,omitempty"`
}

func (m SessionMessage) Flag(name string) bool {
	if m.Message == nil {
		return false
	}
	v, _ := m.Message[name].(bool)
	return v
}

func (m SessionMessage) String(name string) string {
	if m.Message == nil {
		return ""
	}
	v, _ := m.Message[name].(string)
	return v
}

type PasswordRequest struct {
	Password  string `json:"password"`
	SessionID string `json:"sessionid,omitempty"`
}

type StreamTypes struct {
	Audio  bool `json:"audio"`
	Video  bool `json:"video"`
	Screen bool `json:"screen,omitempty"`
}

type JoinBroadcastRequest struct {
	UserID        string       `json:"userid"`
	BroadcastID   string       `json:"broadcastId"`
	TypeOfStreams *StreamTypes `json:"typeOfStreams,omitempty"`
}

type AdminRequest struct {
	AdminUserName string `json:"adminUserName,omitempty"`
	AdminPassword string `json:"adminPassword,omitempty"`
	All           bool   `json:"all,omitempty"`
	UserInfo      bool   `json:"userinfo,omitempty"`
	UserID        string `json:"userid,omitempty"`
	ClearLogs     bool   `json:"clearLogs,omitempty"`
	DeleteUser    bool   `json:"deleteUser,omitempty"`
	DeleteRoom    bool   `json:"deleteRoom,omitempty"`
	RoomID        string `json:"roomid,omitempty"`
}

// Result is the generic reply for operations that succeed or fail with a reason.
type Result struct {
	OK        bool   `json:"ok"`
	SessionID string `json:"sessionid,omitempty"`
	Code      string `json:"code,omitempty"`
	Error     string `json:"error,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// Outbound payloads.

type UserIDTaken struct {
	OldUserID string `json:"oldUserId"`
	NewUserID string `json:"newUserId"`
}

type ExtraUpdate struct {
	UserID string `json:"userid"`
	Extra  Extra  `json:"extra"`
}

type JoinBroadcaster struct {
	TypeOfStreams StreamTypes `json:"typeOfStreams"`
	UserID        string      `json:"userid"`
	BroadcastID   string      `json:"broadcastId"`
}

type ViewerCount struct {
	NumberOfBroadcastViewers int    `json:"numberOfBroadcastViewers"`
	BroadcastID              string `json:"broadcastId"`
}

// IntOr converts loosely typed numeric input (numbers or numeric strings, as
// sent by browsers in query strings) to a positive int, falling back to def.
func IntOr(v any, def int) int {
	var n int
	switch t := v.(type) {
	case int:
		n = t
	case int8:
		n = int(t)
	case int16:
		n = int(t)
	case int32:
		n = int(t)
	case int64:
		n = int(t)
	case uint8:
		n = int(t)
	case uint16:
		n = int(t)
	case uint32:
		n = int(t)
	case uint64:
		n = int(t)
	case float32:
		n = int(t)
	case float64:
		n = int(t)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return def
		}
		n = parsed
	default:
		return def
	}
	if n <= 0 {
		return def
	}
	return n
}
