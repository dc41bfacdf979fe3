package signaling

import (
	"context"

	"github.com/mossy-p/signaling-relay/internal/models"
	"github.com/mossy-p/signaling-relay/internal/registry"
)

// onJoinBroadcast places the sender into a relay tree. The peer joins as
// itself regardless of the userid in the payload.
func (h *Hub) onJoinBroadcast(_ context.Context, conn *ConnectionContext, decode Decoder, reply Reply) {
	var req models.JoinBroadcastRequest
	if err := decode(&req); err != nil {
		h.malformed(reply, models.EventJoinBroadcast, err)
		return
	}
	self := conn.PeerID()
	broadcastID := req.BroadcastID
	if broadcastID == "" {
		if extra, ok := h.peers.Extra(self); ok {
			broadcastID = extra.BroadcastID()
		}
	}

	res, err := h.broadcasts.Join(self, broadcastID, req.TypeOfStreams, conn.options().maxRelays, conn.handle)
	if err != nil {
		h.reject(reply, broadcastID, err)
		return
	}
	h.logger.Debug("broadcast join", "peer_id", self, "broadcast_id", broadcastID,
		"role", res.Role, "parent", res.Parent, "overflow", res.Overflow)
	h.admin.Publish()
	reply(success(broadcastID, res))
}

// onScalableBroadcastMessage fans the payload out to the other members of the
// sender's broadcast tree.
func (h *Hub) onScalableBroadcastMessage(_ context.Context, conn *ConnectionContext, decode Decoder, reply Reply) {
	var payload any
	if err := decode(&payload); err != nil {
		h.malformed(reply, models.EventScalableBroadcastMsg, err)
		return
	}
	peers := h.broadcasts.Peers(conn.PeerID())
	for _, p := range peers {
		p.Send(models.EventScalableBroadcastMsg, payload)
	}
	reply(success("", len(peers)))
}

func (h *Hub) onCanRelay(canRelay bool) handlerFunc {
	return func(_ context.Context, conn *ConnectionContext, _ Decoder, reply Reply) {
		if !h.broadcasts.SetCanRelay(conn.PeerID(), canRelay) {
			h.reject(reply, "", registry.NewError(registry.CodeNotFound, "not in a broadcast"))
			return
		}
		reply(success("", canRelay))
	}
}

func (h *Hub) onCheckBroadcastPresence(_ context.Context, _ *ConnectionContext, decode Decoder, reply Reply) {
	peerID, err := decodeString(decode, "userid", "broadcastId")
	if err != nil {
		h.malformed(reply, models.EventCheckBroadcastPresent, err)
		return
	}
	live := h.broadcasts.IsBroadcasting(peerID)
	reply(models.Result{OK: live, Data: live})
}

func (h *Hub) onGetBroadcastViewers(_ context.Context, _ *ConnectionContext, decode Decoder, reply Reply) {
	broadcastID, err := decodeString(decode, "broadcastId")
	if err != nil {
		h.malformed(reply, models.EventGetBroadcastViewers, err)
		return
	}
	if broadcastID == "" {
		h.reject(reply, "", registry.NewError(registry.CodeInvalidRequest, registry.ReasonSessionIDMissing))
		return
	}
	reply(success(broadcastID, h.broadcasts.ViewerCount(broadcastID)))
}
