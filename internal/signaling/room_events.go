package signaling

import (
	"context"

	"github.com/mossy-p/signaling-relay/internal/models"
	"github.com/mossy-p/signaling-relay/internal/registry"
)

func (h *Hub) onSetPassword(_ context.Context, conn *ConnectionContext, decode Decoder, reply Reply) {
	password, err := decodeString(decode, "password")
	if err != nil {
		h.malformed(reply, models.EventSetPassword, err)
		return
	}
	sessionID, err := h.rooms.SetPassword(conn.PeerID(), password)
	if err != nil {
		h.reject(reply, sessionID, err)
		return
	}
	reply(success(sessionID, nil))
}

func (h *Hub) onCloseEntireSession(_ context.Context, conn *ConnectionContext, _ Decoder, reply Reply) {
	res, err := h.rooms.Close(conn.PeerID())
	if err != nil {
		h.reject(reply, res.SessionID, err)
		return
	}
	h.afterLeave(res)
	h.admin.Publish()
	reply(success(res.SessionID, nil))
}

func (h *Hub) onCheckPresence(_ context.Context, _ *ConnectionContext, decode Decoder, reply Reply) {
	sessionID, err := decodeString(decode, "sessionid", "roomid")
	if err != nil {
		h.malformed(reply, models.EventCheckPresence, err)
		return
	}
	info := h.rooms.CheckPresence(sessionID)
	reply(models.Result{OK: info.Exists, SessionID: sessionID, Data: info})
}

func (h *Hub) onIsValidPassword(_ context.Context, _ *ConnectionContext, decode Decoder, reply Reply) {
	var req models.PasswordRequest
	if err := decode(&req); err != nil {
		h.malformed(reply, models.EventIsValidPassword, err)
		return
	}
	if err := h.rooms.ValidatePassword(req.Password, req.SessionID); err != nil {
		reply(failure(req.SessionID, err))
		return
	}
	reply(success(req.SessionID, nil))
}

func (h *Hub) onGetPublicRooms(_ context.Context, _ *ConnectionContext, decode Decoder, reply Reply) {
	identifier, err := decodeString(decode, "identifier")
	if err != nil {
		h.malformed(reply, models.EventGetPublicRooms, err)
		return
	}
	rooms, err := h.rooms.ListPublic(identifier)
	if err != nil {
		h.reject(reply, "", err)
		return
	}
	if rooms == nil {
		rooms = []models.RoomSummary{}
	}
	reply(success("", rooms))
}

// roomRequest decodes an open-room or join-room payload and applies the
// connection's scalable-broadcast rewrite: the room is keyed by the broadcast
// id carried in extra.
func (h *Hub) roomRequest(conn *ConnectionContext, decode Decoder) (models.RoomRequest, connOptions, error) {
	var req models.RoomRequest
	if err := decode(&req); err != nil {
		return req, connOptions{}, err
	}
	opts := conn.options()
	if opts.scalable {
		req.Session.Scalable = true
		if id := req.Extra.BroadcastID(); id != "" {
			req.SessionID = id
		}
	}
	return req, opts, nil
}

func (h *Hub) onOpenRoom(_ context.Context, conn *ConnectionContext, decode Decoder, reply Reply) {
	req, opts, err := h.roomRequest(conn, decode)
	if err != nil {
		h.malformed(reply, models.EventOpenRoom, err)
		return
	}
	self := conn.PeerID()
	if req.Extra != nil {
		_, _ = h.peers.UpdateExtra(self, req.Extra)
	}

	res, err := h.rooms.Open(req.SessionID, self, registry.RoomParams{
		Session:              req.Session,
		Extra:                req.Extra,
		Password:             req.Password,
		Identifier:           req.Identifier,
		MaxParticipants:      models.IntOr(req.MaxParticipantsAllowed, opts.maxParticipants),
		AutoCloseOnOwnerExit: opts.autoClose,
		MessageEvent:         opts.msgEvent,
		MediaConstraints:     req.MediaConstraints,
		SDPConstraints:       req.SDPConstraints,
		Streams:              req.Streams,
	})
	h.afterLeave(res.Previous)
	if err != nil {
		h.reject(reply, req.SessionID, err)
		return
	}

	h.logger.Info("room opened", "session_id", req.SessionID, "owner", self)
	h.admin.Publish()
	reply(success(req.SessionID, res.Room))
}

func (h *Hub) onJoinRoom(_ context.Context, conn *ConnectionContext, decode Decoder, reply Reply) {
	req, _, err := h.roomRequest(conn, decode)
	if err != nil {
		h.malformed(reply, models.EventJoinRoom, err)
		return
	}
	self := conn.PeerID()
	if req.Extra != nil {
		_, _ = h.peers.UpdateExtra(self, req.Extra)
	}

	res, err := h.rooms.Join(req.SessionID, self, registry.JoinParams{
		Password:         req.Password,
		Session:          req.Session,
		Extra:            req.Extra,
		MediaConstraints: req.MediaConstraints,
		SDPConstraints:   req.SDPConstraints,
		Streams:          req.Streams,
	})
	if err != nil {
		h.reject(reply, req.SessionID, err)
		return
	}
	h.afterLeave(res.Previous)

	h.logger.Info("room joined", "session_id", req.SessionID, "peer_id", self)
	h.admin.Publish()
	reply(success(req.SessionID, res.Room))
}
