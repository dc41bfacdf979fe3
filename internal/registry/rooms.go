package registry

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mossy-p/signaling-relay/internal/models"
)

// RoomParams are fixed by the creator when a room is opened.
type RoomParams struct {
	Session              models.SessionParams
	Extra                models.Extra
	Password             string
	Identifier           string
	MaxParticipants      int
	AutoCloseOnOwnerExit bool
	MessageEvent         string

	MediaConstraints any
	SDPConstraints   any
	Streams          any
}

// LeaveResult describes what happened to a room when a peer left it.
type LeaveResult struct {
	SessionID string
	Left      bool
	Deleted   bool
	NewOwner  string
}

// JoinResult is returned by Open and Join. Previous reports the room the peer
// was implicitly removed from, if any.
type JoinResult struct {
	Room     models.RoomSummary
	Previous LeaveResult
}

type room struct {
	mu sync.Mutex

	id              string
	owner           string
	participants    []string
	maxParticipants int
	password        string
	identifier      string
	session         models.SessionParams
	extra           models.Extra
	autoClose       bool
	messageEvent    string
	createdAt       time.Time

	// closed is set once the room has been removed from the registry map.
	closed bool
}

func (rm *room) protected() bool {
	return strings.TrimSpace(rm.password) != ""
}

func (rm *room) has(peerID string) bool {
	for _, pid := range rm.participants {
		if pid == peerID {
			return true
		}
	}
	return false
}

func (rm *room) without(peerID string) []string {
	out := make([]string, 0, len(rm.participants))
	for _, pid := range rm.participants {
		if pid != peerID {
			out = append(out, pid)
		}
	}
	return out
}

func (rm *room) summary() models.RoomSummary {
	return models.RoomSummary{
		SessionID:              rm.id,
		Owner:                  rm.owner,
		Participants:           append([]string(nil), rm.participants...),
		MaxParticipantsAllowed: rm.maxParticipants,
		Extra:                  rm.extra.Clone(),
		Session:                rm.session,
		Identifier:             rm.identifier,
		IsRoomFull:             len(rm.participants) >= rm.maxParticipants,
		IsPasswordProtected:    rm.protected(),
		CreatedAt:              rm.createdAt,
	}
}

// RoomRegistry owns every open room. Each room carries its own lock; the
// registry lock only guards the map. Lock order is registry, then room, then
// the peer registry.
type RoomRegistry struct {
	mu    sync.RWMutex
	rooms map[string]*room

	peers               *PeerRegistry
	defaultMaxPeers     int
	defaultMessageEvent string
}

func NewRoomRegistry(peers *PeerRegistry, defaultMaxParticipants int) *RoomRegistry {
	if defaultMaxParticipants <= 0 {
		defaultMaxParticipants = 1000
	}
	return &RoomRegistry{
		rooms:               make(map[string]*room),
		peers:               peers,
		defaultMaxPeers:     defaultMaxParticipants,
		defaultMessageEvent: models.DefaultSocketMessageEvent,
	}
}

func (r *RoomRegistry) lookup(sessionID string) *room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[sessionID]
}

// drop removes rm from the map if the map still points at it.
func (r *RoomRegistry) drop(rm *room) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rooms[rm.id] == rm {
		delete(r.rooms, rm.id)
	}
}

// pruneLocked removes participants that are no longer registered and keeps the
// owner invariant. It reports whether the room is now empty.
func (r *RoomRegistry) pruneLocked(rm *room) bool {
	live := rm.participants[:0:0]
	for _, pid := range rm.participants {
		if r.peers.Exists(pid) {
			live = append(live, pid)
		}
	}
	rm.participants = live
	if len(live) == 0 {
		return true
	}
	if !rm.has(rm.owner) {
		rm.owner = live[0]
	}
	return false
}

// Open creates sessionID with ownerID as its owner and only participant. It
// fails only when the room exists and still has participants. Any room the
// owner was in before is left first.
func (r *RoomRegistry) Open(sessionID, ownerID string, params RoomParams) (JoinResult, error) {
	if strings.TrimSpace(sessionID) == "" {
		return JoinResult{}, NewError(CodeInvalidRequest, ReasonSessionIDMissing)
	}
	if !r.peers.Exists(ownerID) {
		return JoinResult{}, NewError(CodeNotFound, ReasonUserIDNotAvailable)
	}

	var result JoinResult
	if binding, ok := r.peers.Binding(ownerID); ok {
		result.Previous = r.leave(ownerID, binding.SessionID, false)
	}

	maxPeers := params.MaxParticipants
	if maxPeers <= 0 {
		maxPeers = r.defaultMaxPeers
	}
	messageEvent := params.MessageEvent
	if messageEvent == "" {
		messageEvent = r.defaultMessageEvent
	}

	fresh := &room{
		id:              sessionID,
		owner:           ownerID,
		participants:    []string{ownerID},
		maxParticipants: maxPeers,
		password:        params.Password,
		identifier:      strings.TrimSpace(params.Identifier),
		session:         params.Session,
		extra:           params.Extra.Clone(),
		autoClose:       params.AutoCloseOnOwnerExit || params.Session.FanIn(),
		messageEvent:    messageEvent,
		createdAt:       time.Now(),
	}

	r.mu.Lock()
	if existing, ok := r.rooms[sessionID]; ok {
		existing.mu.Lock()
		occupied := !existing.closed && !r.pruneLocked(existing)
		if !occupied {
			existing.closed = true
		}
		existing.mu.Unlock()
		if occupied {
			r.mu.Unlock()
			return result, NewError(CodeAlreadyOccupied, ReasonRoomNotAvailable)
		}
	}
	r.rooms[sessionID] = fresh
	summary := fresh.summary()
	r.mu.Unlock()

	_ = r.peers.Bind(ownerID, &models.SessionBinding{
		SessionID:        sessionID,
		Session:          params.Session,
		Extra:            params.Extra,
		MediaConstraints: params.MediaConstraints,
		SDPConstraints:   params.SDPConstraints,
		Streams:          params.Streams,
	})

	result.Room = summary
	return result, nil
}

// JoinParams are the per-joiner values recorded in the peer's session binding.
type JoinParams struct {
	Password         string
	Session          models.SessionParams
	Extra            models.Extra
	MediaConstraints any
	SDPConstraints   any
	Streams          any
}

// Join adds peerID to sessionID. Checks run in order: existence, password,
// capacity. Joining a room the peer already belongs to is a no-op.
func (r *RoomRegistry) Join(sessionID, peerID string, params JoinParams) (JoinResult, error) {
	if !r.peers.Exists(peerID) {
		return JoinResult{}, NewError(CodeNotFound, ReasonUserIDNotAvailable)
	}

	rm := r.lookup(sessionID)
	if rm == nil {
		return JoinResult{}, NewError(CodeNotFound, ReasonRoomNotAvailable)
	}

	rm.mu.Lock()
	if rm.closed {
		rm.mu.Unlock()
		return JoinResult{}, NewError(CodeNotFound, ReasonRoomNotAvailable)
	}
	if r.pruneLocked(rm) {
		rm.closed = true
		rm.mu.Unlock()
		r.drop(rm)
		return JoinResult{}, NewError(CodeNotFound, ReasonRoomNotAvailable)
	}
	if rm.protected() && rm.password != params.Password {
		rm.mu.Unlock()
		return JoinResult{}, NewError(CodeWrongPassword, ReasonInvalidPassword)
	}
	if !rm.has(peerID) {
		if len(rm.participants) >= rm.maxParticipants {
			rm.mu.Unlock()
			return JoinResult{}, NewError(CodeFull, ReasonRoomFull)
		}
		rm.participants = append(rm.participants, peerID)
	}
	summary := rm.summary()
	rm.mu.Unlock()

	var result JoinResult
	if binding, ok := r.peers.Binding(peerID); ok && binding.SessionID != sessionID {
		result.Previous = r.leave(peerID, binding.SessionID, false)
	}
	_ = r.peers.Bind(peerID, &models.SessionBinding{
		SessionID:        sessionID,
		Session:          params.Session,
		Extra:            params.Extra,
		MediaConstraints: params.MediaConstraints,
		SDPConstraints:   params.SDPConstraints,
		Streams:          params.Streams,
	})

	result.Room = summary
	return result, nil
}

// SetPassword lets the owner of the peer's current room change its password.
// It returns the session id the change applied to.
func (r *RoomRegistry) SetPassword(peerID, password string) (string, error) {
	binding, ok := r.peers.Binding(peerID)
	if !ok {
		return "", NewError(CodeNotInRoom, ReasonDidNotJoinAnyRoom)
	}

	rm := r.lookup(binding.SessionID)
	if rm == nil {
		return binding.SessionID, NewError(CodeNotOwner, ReasonRoomPermissionDenied)
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.closed || rm.owner != peerID {
		return binding.SessionID, NewError(CodeNotOwner, ReasonRoomPermissionDenied)
	}
	rm.password = password
	return binding.SessionID, nil
}

// ValidatePassword checks a password without ever revealing how close a wrong
// guess was.
func (r *RoomRegistry) ValidatePassword(password, sessionID string) error {
	if strings.TrimSpace(password) == "" {
		return NewError(CodeInvalidRequest, ReasonPasswordMissing)
	}
	if strings.TrimSpace(sessionID) == "" {
		return NewError(CodeInvalidRequest, ReasonRoomIDMissing)
	}

	rm := r.lookup(sessionID)
	if rm == nil {
		return NewError(CodeNotFound, ReasonRoomNotAvailable)
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	switch {
	case rm.closed:
		return NewError(CodeNotFound, ReasonRoomNotAvailable)
	case !rm.protected():
		return NewError(CodeWrongPassword, ReasonNoPasswordSet)
	case rm.password != password:
		return NewError(CodeWrongPassword, ReasonInvalidPassword)
	}
	return nil
}

// CloseOrLeave removes peerID from the room it is bound to. A non-owner simply
// leaves. An owner closes the room when forceClose or the room's auto-close
// flag is set or nobody else is left, otherwise ownership moves to the first
// remaining live participant in join order.
func (r *RoomRegistry) CloseOrLeave(peerID string, forceClose bool) (LeaveResult, error) {
	binding, ok := r.peers.Binding(peerID)
	if !ok {
		return LeaveResult{}, NewError(CodeNotInRoom, ReasonDidNotJoinAnyRoom)
	}
	result := r.leave(peerID, binding.SessionID, forceClose)
	_ = r.peers.Bind(peerID, nil)
	return result, nil
}

// Rename re-keys a peer together with its membership in its current room, so
// the room never sees the new id before the peer registry does.
func (r *RoomRegistry) Rename(oldID, newID string) error {
	var rm *room
	if binding, ok := r.peers.Binding(oldID); ok {
		rm = r.lookup(binding.SessionID)
	}
	if rm != nil {
		rm.mu.Lock()
		defer rm.mu.Unlock()
	}

	if err := r.peers.Rename(oldID, newID); err != nil {
		return err
	}
	if rm == nil || rm.closed || oldID == newID {
		return nil
	}
	for i, pid := range rm.participants {
		if pid == oldID {
			rm.participants[i] = newID
		}
	}
	if rm.owner == oldID {
		rm.owner = newID
	}
	return nil
}

// Close is the owner-only explicit close of the peer's current room.
func (r *RoomRegistry) Close(peerID string) (LeaveResult, error) {
	if !r.peers.Exists(peerID) {
		return LeaveResult{}, NewError(CodeNotFound, ReasonUserIDNotAvailable)
	}
	binding, ok := r.peers.Binding(peerID)
	if !ok {
		return LeaveResult{}, NewError(CodeNotInRoom, ReasonRoomNotAvailable)
	}
	rm := r.lookup(binding.SessionID)
	if rm == nil {
		return LeaveResult{}, NewError(CodeNotFound, ReasonRoomNotAvailable)
	}
	rm.mu.Lock()
	owner, closed := rm.owner, rm.closed
	rm.mu.Unlock()
	if closed {
		return LeaveResult{}, NewError(CodeNotFound, ReasonRoomNotAvailable)
	}
	if owner != peerID {
		return LeaveResult{}, NewError(CodeNotOwner, ReasonRoomPermissionDenied)
	}
	return r.CloseOrLeave(peerID, true)
}

func (r *RoomRegistry) leave(peerID, sessionID string, forceClose bool) LeaveResult {
	result := LeaveResult{SessionID: sessionID}

	rm := r.lookup(sessionID)
	if rm == nil {
		return result
	}

	rm.mu.Lock()
	if rm.closed {
		rm.mu.Unlock()
		return result
	}

	result.Left = rm.has(peerID)
	if rm.owner == peerID {
		successor := ""
		for _, pid := range rm.participants {
			if pid != peerID && r.peers.Exists(pid) {
				successor = pid
				break
			}
		}
		if forceClose || rm.autoClose || successor == "" {
			rm.closed = true
			result.Deleted = true
		} else {
			rm.owner = successor
			rm.participants = rm.without(peerID)
			r.pruneLocked(rm)
			result.NewOwner = successor
		}
	} else {
		rm.participants = rm.without(peerID)
		prevOwner := rm.owner
		if r.pruneLocked(rm) {
			rm.closed = true
			result.Deleted = true
		} else if rm.owner != prevOwner {
			result.NewOwner = rm.owner
		}
	}
	deleted := rm.closed
	rm.mu.Unlock()

	if deleted {
		r.drop(rm)
	}
	return result
}

// ListPublic returns the rooms advertised under identifier, with fullness and
// password protection computed from the current state.
func (r *RoomRegistry) ListPublic(identifier string) ([]models.RoomSummary, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, NewError(CodeInvalidRequest, ReasonPublicIdentifierMissing)
	}

	var out []models.RoomSummary
	for _, rm := range r.all() {
		summary, ok := r.liveSummary(rm)
		if !ok || summary.Identifier != identifier {
			continue
		}
		out = append(out, summary)
	}
	return out, nil
}

// CheckPresence never reports password protection for a room that does not exist.
func (r *RoomRegistry) CheckPresence(sessionID string) models.PresenceInfo {
	info := models.PresenceInfo{SessionID: sessionID}

	rm := r.lookup(sessionID)
	if rm == nil {
		return info
	}
	summary, ok := r.liveSummary(rm)
	if !ok {
		return info
	}
	info.Exists = true
	info.Extra = summary.Extra
	info.Room = models.RoomState{
		IsFull:              summary.IsRoomFull,
		IsPasswordProtected: summary.IsPasswordProtected,
	}
	return info
}

// Get returns the live state of one room.
func (r *RoomRegistry) Get(sessionID string) (models.RoomSummary, bool) {
	rm := r.lookup(sessionID)
	if rm == nil {
		return models.RoomSummary{}, false
	}
	return r.liveSummary(rm)
}

// MessageEvent returns the generic message event name the room was opened with.
func (r *RoomRegistry) MessageEvent(sessionID string) string {
	rm := r.lookup(sessionID)
	if rm == nil {
		return ""
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.messageEvent
}

// UpdateOwnerExtra mirrors the owner's extra onto the room it owns and returns
// the participants of the peer's current room.
func (r *RoomRegistry) UpdateOwnerExtra(peerID string, extra models.Extra) []string {
	binding, ok := r.peers.Binding(peerID)
	if !ok {
		return nil
	}
	rm := r.lookup(binding.SessionID)
	if rm == nil {
		return nil
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.closed {
		return nil
	}
	if rm.owner == peerID {
		rm.extra = extra.Clone()
	}
	return append([]string(nil), rm.participants...)
}

// Delete removes a room regardless of its state and returns its participants.
func (r *RoomRegistry) Delete(sessionID string) ([]string, bool) {
	rm := r.lookup(sessionID)
	if rm == nil {
		return nil, false
	}

	rm.mu.Lock()
	if rm.closed {
		rm.mu.Unlock()
		return nil, false
	}
	rm.closed = true
	participants := append([]string(nil), rm.participants...)
	rm.mu.Unlock()

	r.drop(rm)
	return participants, true
}

// Snapshot returns every open room sorted by session id.
func (r *RoomRegistry) Snapshot() []models.RoomSummary {
	var out []models.RoomSummary
	for _, rm := range r.all() {
		if summary, ok := r.liveSummary(rm); ok {
			out = append(out, summary)
		}
	}
	return out
}

func (r *RoomRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

func (r *RoomRegistry) all() []*room {
	r.mu.RLock()
	rooms := make([]*room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	r.mu.RUnlock()

	sort.Slice(rooms, func(i, j int) bool { return rooms[i].id < rooms[j].id })
	return rooms
}

// liveSummary prunes stale participants before reporting; a room that turns
// out to be empty is deleted.
func (r *RoomRegistry) liveSummary(rm *room) (models.RoomSummary, bool) {
	rm.mu.Lock()
	if rm.closed {
		rm.mu.Unlock()
		return models.RoomSummary{}, false
	}
	if r.pruneLocked(rm) {
		rm.closed = true
		rm.mu.Unlock()
		r.drop(rm)
		return models.RoomSummary{}, false
	}
	summary := rm.summary()
	rm.mu.Unlock()
	return summary, true
}
