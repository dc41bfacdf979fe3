// Package signaling routes peer events to the registries and fans the
// resulting notifications out to the affected peers.
package signaling

import (
	"context"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/mossy-p/signaling-relay/config"
	"github.com/mossy-p/signaling-relay/internal/admin"
	"github.com/mossy-p/signaling-relay/internal/broadcast"
	"github.com/mossy-p/signaling-relay/internal/errlog"
	"github.com/mossy-p/signaling-relay/internal/metrics"
	"github.com/mossy-p/signaling-relay/internal/models"
	"github.com/mossy-p/signaling-relay/internal/registry"
)

// Decoder decodes the payload of one inbound event into dst.
type Decoder func(dst any) error

// Reply delivers the response to one inbound event.
type Reply func(payload any)

type handlerFunc func(ctx context.Context, conn *ConnectionContext, decode Decoder, reply Reply)

type Options struct {
	DefaultMaxParticipants int
	DefaultMaxRelays       int
	MessageEvent           string
	Admin                  config.AdminConfig

	Errors  errlog.Recorder
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Hub is the signaling orchestrator shared by every connection.
type Hub struct {
	peers      *registry.PeerRegistry
	rooms      *registry.RoomRegistry
	broadcasts *broadcast.Manager
	admin      *admin.Channel

	errors  errlog.Recorder
	metrics *metrics.Metrics
	logger  *slog.Logger
	opts    Options

	handlers map[string]handlerFunc

	mu    sync.Mutex
	conns map[string]*ConnectionContext
}

func NewHub(opts Options) *Hub {
	if opts.DefaultMaxParticipants <= 0 {
		opts.DefaultMaxParticipants = config.DefaultMaxParticipants
	}
	if opts.DefaultMaxRelays <= 0 {
		opts.DefaultMaxRelays = broadcast.DefaultMaxRelays
	}
	if opts.MessageEvent == "" {
		opts.MessageEvent = models.DefaultSocketMessageEvent
	}
	if opts.Errors == nil {
		opts.Errors = errlog.Discard{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	peers := registry.NewPeerRegistry()
	h := &Hub{
		peers:      peers,
		rooms:      registry.NewRoomRegistry(peers, opts.DefaultMaxParticipants),
		broadcasts: broadcast.NewManager(opts.Logger, peers.Exists),
		errors:     opts.Errors,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		opts:       opts,
		conns:      make(map[string]*ConnectionContext),
	}
	h.admin = admin.New(opts.Admin, h.peers, h.rooms, h.broadcasts, h.errors, h, opts.Logger)
	h.handlers = map[string]handlerFunc{
		models.EventExtraDataUpdated:      h.onExtraDataUpdated,
		models.EventGetRemoteExtra:        h.onGetRemoteExtra,
		models.EventChangedUUID:           h.onChangedUUID,
		models.EventSetPassword:           h.onSetPassword,
		models.EventDisconnectWith:        h.onDisconnectWith,
		models.EventCloseEntireSession:    h.onCloseEntireSession,
		models.EventCheckPresence:         h.onCheckPresence,
		models.EventIsValidPassword:       h.onIsValidPassword,
		models.EventGetPublicRooms:        h.onGetPublicRooms,
		models.EventOpenRoom:              h.onOpenRoom,
		models.EventJoinRoom:              h.onJoinRoom,
		models.EventJoinBroadcast:         h.onJoinBroadcast,
		models.EventScalableBroadcastMsg:  h.onScalableBroadcastMessage,
		models.EventCanRelayBroadcast:     h.onCanRelay(true),
		models.EventCanNotRelayBroadcast:  h.onCanRelay(false),
		models.EventCheckBroadcastPresent: h.onCheckBroadcastPresence,
		models.EventGetBroadcastViewers:   h.onGetBroadcastViewers,
	}
	return h
}

func (h *Hub) Peers() *registry.PeerRegistry { return h.peers }
func (h *Hub) Rooms() *registry.RoomRegistry { return h.rooms }
func (h *Hub) Broadcasts() *broadcast.Manager { return h.broadcasts }
func (h *Hub) Admin() *admin.Channel { return h.admin }

// Connect registers a new connection with the parameters it opened with. A
// rejected registration leaves the connection open and unregistered so the
// client can retry with register-peer.
func (h *Hub) Connect(ctx context.Context, handle models.Handle, req models.RegisterRequest) *ConnectionContext {
	conn := newConnectionContext(handle)
	h.metrics.Inc(metrics.EventConnections)
	if err := h.register(ctx, conn, req); err != nil {
		h.logger.Info("registration rejected", "peer_id", req.UserID, "err", err)
	}
	return conn
}

// Dispatch runs the handler for event. A panic inside a handler is logged,
// recorded and otherwise treated as a no-op for that one request.
func (h *Hub) Dispatch(ctx context.Context, conn *ConnectionContext, event string, decode Decoder, reply Reply) {
	if reply == nil {
		reply = func(any) {}
	}
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			err := errlog.FromPanic(r, stack)
			h.logger.Error("recovered panic in event handler",
				"event", event, "peer_id", conn.PeerID(), "err", err, "stack", string(stack))
			h.errors.Record(ctx, event, err)
			h.metrics.Inc(metrics.EventRecoveredPanics)
		}
	}()

	h.metrics.Inc(metrics.EventFramesIn)
	h.dispatch(ctx, conn, event, decode, reply)
}

func (h *Hub) dispatch(ctx context.Context, conn *ConnectionContext, event string, decode Decoder, reply Reply) {
	switch event {
	case models.EventRegisterPeer:
		h.onRegisterPeer(ctx, conn, decode, reply)
		return
	case models.EventAdminAuthenticate:
		h.onAdminAuthenticate(ctx, conn, decode, reply)
		return
	case models.EventAdmin:
		h.onAdmin(ctx, conn, decode, reply)
		return
	}

	if !conn.Registered() {
		h.reject(reply, "", registry.NewError(registry.CodeNotFound, registry.ReasonUserIDNotAvailable))
		return
	}
	if event == conn.MessageEvent() {
		h.onSessionMessage(ctx, conn, decode, reply)
		return
	}
	handler, ok := h.handlers[event]
	if !ok {
		h.logger.Debug("unknown event", "event", event, "peer_id", conn.PeerID())
		h.reject(reply, "", registry.NewError(registry.CodeInvalidRequest, "unknown event "+event))
		return
	}
	handler(ctx, conn, decode, reply)
}

// Disconnect runs the cleanup for a closed connection exactly once: links are
// torn down, the room is left or closed, the peer is removed, and the peer
// leaves its broadcast tree.
func (h *Hub) Disconnect(ctx context.Context, conn *ConnectionContext) {
	conn.closeOnce.Do(func() {
		h.metrics.Inc(metrics.EventDisconnects)
		if conn.IsAdmin() {
			h.admin.Disconnect(conn.handle)
		}

		peerID := conn.PeerID()
		if peerID == "" || !h.peers.OwnedBy(peerID, conn.handle) {
			return
		}

		for _, remoteID := range h.peers.Links(peerID) {
			h.peers.Unlink(peerID, remoteID)
			h.peers.Unlink(remoteID, peerID)
			h.send(remoteID, models.EventUserDisconnected, peerID)
		}

		if res, err := h.rooms.CloseOrLeave(peerID, false); err == nil {
			h.afterLeave(res)
		}
		h.peers.RemoveIfHandle(peerID, conn.handle)
		h.broadcasts.Leave(peerID)

		h.mu.Lock()
		if h.conns[peerID] == conn {
			delete(h.conns, peerID)
		}
		h.mu.Unlock()

		h.logger.Info("peer disconnected", "peer_id", peerID)
		h.admin.Publish()
	})
}

// Kick force-disconnects peerID: its cleanup runs immediately and its
// transport is closed.
func (h *Hub) Kick(peerID string) bool {
	h.mu.Lock()
	conn := h.conns[peerID]
	h.mu.Unlock()
	if conn == nil {
		return false
	}
	h.Disconnect(context.Background(), conn)
	conn.handle.Close()
	return true
}

func (h *Hub) register(ctx context.Context, conn *ConnectionContext, req models.RegisterRequest) error {
	msgEvent := strings.TrimSpace(req.MsgEvent)
	if msgEvent == "" {
		msgEvent = h.opts.MessageEvent
	}

	conn.mu.Lock()
	conn.opts = connOptions{
		msgEvent:        msgEvent,
		maxParticipants: models.IntOr(req.MaxParticipantsAllowed, h.opts.DefaultMaxParticipants),
		scalable:        req.EnableScalableBroadcast,
		maxRelays:       models.IntOr(req.MaxRelayLimitPerUser, h.opts.DefaultMaxRelays),
		autoClose:       req.AutoCloseEntireSession,
	}
	conn.mu.Unlock()

	if req.UserID == models.AdminUserID {
		return h.connectAdmin(ctx, conn, admin.Credentials{Username: req.AdminUserName, Password: req.AdminPassword})
	}

	peerID := strings.TrimSpace(req.UserID)
	if peerID == "" {
		peerID = h.peers.SuggestID()
	}
	if _, err := h.peers.Register(peerID, conn.handle, req.Extra); err != nil {
		if registry.IsCode(err, registry.CodeAlreadyTaken) {
			conn.handle.Send(models.EventUserIDAlreadyTaken, models.UserIDTaken{
				OldUserID: peerID,
				NewUserID: h.peers.SuggestID(),
			})
		}
		h.metrics.Inc(metrics.EventRejected)
		return err
	}

	conn.setPeerID(peerID)
	h.mu.Lock()
	h.conns[peerID] = conn
	h.mu.Unlock()

	h.logger.Info("peer registered", "peer_id", peerID, "scalable", req.EnableScalableBroadcast)
	h.admin.Publish()
	return nil
}

func (h *Hub) connectAdmin(ctx context.Context, conn *ConnectionContext, creds admin.Credentials) error {
	if err := h.admin.Connect(ctx, conn.handle, creds); err != nil {
		h.metrics.Inc(metrics.EventAdminAuthFailed)
		return err
	}

	conn.mu.Lock()
	conn.isAdmin = true
	conn.adminCreds = creds
	conn.mu.Unlock()
	return nil
}

func (h *Hub) connection(peerID string) *ConnectionContext {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conns[peerID]
}

// send delivers to a live peer. Peers that are gone are skipped silently.
func (h *Hub) send(peerID, event string, payload any) {
	if handle, ok := h.peers.Handle(peerID); ok {
		handle.Send(event, payload)
	}
}

// messageEventFor is the generic message event name peerID listens on.
func (h *Hub) messageEventFor(peerID string) string {
	if conn := h.connection(peerID); conn != nil {
		return conn.MessageEvent()
	}
	return h.opts.MessageEvent
}

func (h *Hub) afterLeave(res registry.LeaveResult) {
	if res.NewOwner != "" {
		h.send(res.NewOwner, models.EventSetIsInitiatorTrue, res.SessionID)
	}
	if res.Deleted {
		h.logger.Info("room closed", "session_id", res.SessionID)
	}
}

func (h *Hub) reject(reply Reply, sessionID string, err error) {
	h.metrics.Inc(metrics.EventRejected)
	reply(failure(sessionID, err))
}

func success(sessionID string, data any) models.Result {
	return models.Result{OK: true, SessionID: sessionID, Data: data}
}

func failure(sessionID string, err error) models.Result {
	return models.Result{
		OK:        false,
		SessionID: sessionID,
		Code:      string(registry.CodeOf(err)),
		Error:     err.Error(),
	}
}

// decodeString accepts either a bare string payload or an object carrying the
// value under one of keys.
func decodeString(decode Decoder, keys ...string) (string, error) {
	var s string
	if err := decode(&s); err == nil {
		return strings.TrimSpace(s), nil
	}
	var obj map[string]any
	if err := decode(&obj); err != nil {
		return "", err
	}
	for _, k := range keys {
		if v, ok := obj[k].(string); ok {
			return strings.TrimSpace(v), nil
		}
	}
	return "", nil
}

func (h *Hub) malformed(reply Reply, event string, err error) {
	h.metrics.Inc(metrics.EventDecodeErrors)
	h.logger.Debug("malformed payload", "event", event, "err", err)
	h.reject(reply, "", registry.NewError(registry.CodeInvalidRequest, "malformed payload"))
}
