package signaling

import (
	"context"
	"sort"

	"github.com/mossy-p/signaling-relay/internal/admin"
	"github.com/mossy-p/signaling-relay/internal/metrics"
	"github.com/mossy-p/signaling-relay/internal/models"
	"github.com/mossy-p/signaling-relay/internal/registry"
)

func (h *Hub) onRegisterPeer(ctx context.Context, conn *ConnectionContext, decode Decoder, reply Reply) {
	if conn.Registered() {
		h.reject(reply, "", registry.NewError(registry.CodeInvalidRequest, "already registered as "+conn.PeerID()))
		return
	}
	var req models.RegisterRequest
	if err := decode(&req); err != nil {
		h.malformed(reply, models.EventRegisterPeer, err)
		return
	}
	if err := h.register(ctx, conn, req); err != nil {
		reply(failure("", err))
		return
	}
	reply(success("", conn.PeerID()))
}

func (h *Hub) onAdminAuthenticate(ctx context.Context, conn *ConnectionContext, decode Decoder, reply Reply) {
	var req models.AdminRequest
	if err := decode(&req); err != nil {
		h.malformed(reply, models.EventAdminAuthenticate, err)
		return
	}
	creds := admin.Credentials{Username: req.AdminUserName, Password: req.AdminPassword}
	if err := h.connectAdmin(ctx, conn, creds); err != nil {
		reply(failure("", err))
		return
	}
	reply(success("", nil))
}

func (h *Hub) onAdmin(ctx context.Context, conn *ConnectionContext, decode Decoder, reply Reply) {
	var req models.AdminRequest
	decodeErr := decode(&req)
	if !conn.IsAdmin() {
		h.metrics.Inc(metrics.EventAdminAuthFailed)
		h.admin.RecordFailedLogin(ctx, admin.Credentials{Username: req.AdminUserName, Password: req.AdminPassword})
		h.reject(reply, "", registry.NewError(registry.CodeUnauthorized, registry.ReasonInvalidAdminCredential))
		conn.handle.Close()
		return
	}
	if decodeErr != nil {
		h.malformed(reply, models.EventAdmin, decodeErr)
		return
	}
	data, err := h.admin.Handle(ctx, conn.handle, conn.credentials(), req)
	if err != nil {
		if registry.IsCode(err, registry.CodeUnauthorized) {
			h.metrics.Inc(metrics.EventAdminAuthFailed)
		}
		reply(failure("", err))
		return
	}
	reply(success("", data))
}

// onExtraDataUpdated stores the new metadata and pushes it to every linked
// peer and every member of the sender's room.
func (h *Hub) onExtraDataUpdated(_ context.Context, conn *ConnectionContext, decode Decoder, reply Reply) {
	var extra models.Extra
	if err := decode(&extra); err != nil {
		h.malformed(reply, models.EventExtraDataUpdated, err)
		return
	}
	self := conn.PeerID()
	linked, err := h.peers.UpdateExtra(self, extra)
	if err != nil {
		h.reject(reply, "", err)
		return
	}

	targets := make(map[string]struct{}, len(linked))
	for _, id := range linked {
		targets[id] = struct{}{}
	}
	for _, id := range h.rooms.UpdateOwnerExtra(self, extra) {
		targets[id] = struct{}{}
	}
	delete(targets, self)

	ids := make([]string, 0, len(targets))
	for id := range targets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	update := models.ExtraUpdate{UserID: self, Extra: extra.Clone()}
	for _, id := range ids {
		h.send(id, models.EventExtraDataUpdated, update)
	}

	h.admin.Publish()
	reply(success("", nil))
}

func (h *Hub) onGetRemoteExtra(_ context.Context, _ *ConnectionContext, decode Decoder, reply Reply) {
	remoteID, err := decodeString(decode, "remoteUserId", "userid")
	if err != nil {
		h.malformed(reply, models.EventGetRemoteExtra, err)
		return
	}
	extra, ok := h.peers.Extra(remoteID)
	if !ok {
		h.reject(reply, "", registry.NewError(registry.CodeNotFound, registry.ReasonUserIDNotAvailable))
		return
	}
	reply(success("", extra))
}

// onChangedUUID renames the peer. Room membership and the peer's relay node
// follow the new id.
func (h *Hub) onChangedUUID(_ context.Context, conn *ConnectionContext, decode Decoder, reply Reply) {
	newID, err := decodeString(decode, "newUserId", "userid")
	if err != nil {
		h.malformed(reply, models.EventChangedUUID, err)
		return
	}
	oldID := conn.PeerID()
	if err := h.rooms.Rename(oldID, newID); err != nil {
		h.reject(reply, "", err)
		return
	}
	h.broadcasts.Rename(oldID, newID)

	h.mu.Lock()
	if h.conns[oldID] == conn {
		delete(h.conns, oldID)
	}
	h.conns[newID] = conn
	h.mu.Unlock()
	conn.setPeerID(newID)

	h.logger.Info("peer renamed", "old_peer_id", oldID, "peer_id", newID)
	h.admin.Publish()
	reply(success("", newID))
}

// onDisconnectWith tears down the link in both directions and tells each side
// whose link existed.
func (h *Hub) onDisconnectWith(_ context.Context, conn *ConnectionContext, decode Decoder, reply Reply) {
	remoteID, err := decodeString(decode, "remoteUserId", "userid")
	if err != nil {
		h.malformed(reply, models.EventDisconnectWith, err)
		return
	}
	self := conn.PeerID()
	if h.peers.Unlink(self, remoteID) {
		conn.handle.Send(models.EventUserDisconnected, remoteID)
	}
	if h.peers.Unlink(remoteID, self) {
		h.send(remoteID, models.EventUserDisconnected, self)
	}
	h.admin.Publish()
	reply(success("", nil))
}

// onSessionMessage relays the generic signaling message (offers, answers,
// candidates, participation requests) between peers.
func (h *Hub) onSessionMessage(ctx context.Context, conn *ConnectionContext, decode Decoder, reply Reply) {
	var msg models.SessionMessage
	if err := decode(&msg); err != nil {
		h.malformed(reply, conn.MessageEvent(), err)
		return
	}
	self := conn.PeerID()
	msg.Sender = self
	if msg.RemoteUserID == "" || msg.RemoteUserID == self {
		return
	}

	if msg.RemoteUserID != models.SystemRemoteUserID && msg.Flag("newParticipationRequest") {
		if conn.options().scalable {
			h.send(msg.RemoteUserID, h.messageEventFor(msg.RemoteUserID), msg)
			return
		}
		if _, ok := h.rooms.Get(msg.RemoteUserID); ok {
			h.joinARoom(conn, msg)
			return
		}
	}

	if msg.RemoteUserID == models.SystemRemoteUserID {
		if msg.Flag("detectPresence") {
			uid := msg.String("userid")
			exists := uid != self && h.peers.Exists(uid)
			reply(models.Result{OK: exists, Data: uid})
			return
		}
	}

	h.relay(conn, msg)
}

// relay links sender and remote on first contact, then forwards the message
// over the link.
func (h *Hub) relay(conn *ConnectionContext, msg models.SessionMessage) {
	self := conn.PeerID()
	remoteID := msg.RemoteUserID

	remoteHandle, remoteOK := h.peers.Handle(remoteID)
	if !remoteOK {
		conn.handle.Send(models.EventUserNotFound, remoteID)
		return
	}

	if !msg.Flag("userLeft") && !h.peers.Linked(self, remoteID) {
		_ = h.peers.Link(self, remoteID, remoteHandle)
		conn.handle.Send(models.EventUserConnected, remoteID)
		_ = h.peers.Link(remoteID, self, conn.handle)
		remoteHandle.Send(models.EventUserConnected, self)
		h.admin.Publish()
	}

	link, ok := h.peers.LinkHandle(self, remoteID)
	if !ok {
		return
	}
	if extra, ok := h.peers.Extra(self); ok {
		msg.Extra = extra
	}
	link.Send(h.messageEventFor(remoteID), msg)
}

// joinARoom forwards a participation request to the members of the sender's
// room: only the owner for fan-in sessions, everyone else otherwise.
func (h *Hub) joinARoom(conn *ConnectionContext, msg models.SessionMessage) {
	self := conn.PeerID()
	binding, ok := h.peers.Binding(self)
	if !ok || binding.SessionID == "" {
		return
	}
	room, ok := h.rooms.Get(binding.SessionID)
	if !ok {
		return
	}
	member := false
	for _, pid := range room.Participants {
		if pid == self {
			member = true
			break
		}
	}
	if !member && len(room.Participants) >= room.MaxParticipantsAllowed {
		return
	}

	event := h.rooms.MessageEvent(room.SessionID)
	if room.Session.FanIn() {
		msg.RemoteUserID = room.Owner
		h.send(room.Owner, event, msg)
		return
	}
	for _, pid := range room.Participants {
		if pid == self {
			continue
		}
		out := msg
		out.RemoteUserID = pid
		h.send(pid, event, out)
	}
}
