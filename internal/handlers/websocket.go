package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/mossy-p/signaling-relay/internal/codec"
	"github.com/mossy-p/signaling-relay/internal/metrics"
	"github.com/mossy-p/signaling-relay/internal/models"
	"github.com/mossy-p/signaling-relay/internal/signaling"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// Client is one websocket connection. It implements models.Handle: Send
// queues a frame without blocking and drops it when the queue is full.
type Client struct {
	conn  *websocket.Conn
	codec codec.Codec
	send  chan []byte
	done  chan struct{}

	closeOnce sync.Once
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func newClient(conn *websocket.Conn, c codec.Codec, m *metrics.Metrics, logger *slog.Logger) *Client {
	return &Client{
		conn:    conn,
		codec:   c,
		send:    make(chan []byte, sendBufferSize),
		done:    make(chan struct{}),
		metrics: m,
		logger:  logger,
	}
}

func (c *Client) Send(event string, payload any) {
	c.enqueue(models.Envelope{Event: event, Data: payload})
}

// Close stops the write pump, which closes the underlying connection.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) enqueue(env models.Envelope) {
	frame, err := c.codec.Marshal(env)
	if err != nil {
		c.logger.Error("failed to marshal frame", "event", env.Event, "err", err)
		return
	}

	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.send <- frame:
	default:
		c.metrics.Inc(metrics.EventFramesDropped)
		c.logger.Warn("send buffer full, dropping frame", "event", env.Event)
	}
}

func (c *Client) reply(ack uint64) signaling.Reply {
	if ack == 0 {
		return nil
	}
	return func(payload any) {
		c.enqueue(models.Envelope{Event: models.EventAck, Ack: ack, Data: payload})
	}
}

func (c *Client) readPump(ctx context.Context, hub *signaling.Hub, session *signaling.ConnectionContext) {
	defer func() {
		hub.Disconnect(ctx, session)
		c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Info("websocket closed unexpectedly", "peer_id", session.PeerID(), "err", err)
			}
			return
		}

		var env models.Envelope
		if err := c.codec.Unmarshal(frame, &env); err != nil || env.Event == "" {
			c.metrics.Inc(metrics.EventDecodeErrors)
			c.logger.Debug("failed to parse frame", "peer_id", session.PeerID(), "err", err)
			continue
		}

		data := env.Data
		decode := func(dst any) error { return codec.Convert(c.codec, data, dst) }
		hub.Dispatch(ctx, session, env.Event, decode, c.reply(env.Ack))
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(c.codec.MessageType(), frame); err != nil {
				c.logger.Debug("failed to write frame", "err", err)
				c.Close()
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			c.flush()
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes whatever is still queued so a rejection notice reaches the
// client before the close frame.
func (c *Client) flush() {
	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(c.codec.MessageType(), frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

// SignalingHandler upgrades /ws requests and wires each connection to the hub.
type SignalingHandler struct {
	hub     *signaling.Hub
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewSignalingHandler(hub *signaling.Hub, m *metrics.Metrics, logger *slog.Logger) *SignalingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SignalingHandler{hub: hub, metrics: m, logger: logger}
}

// HandleSignaling registers the peer described by the query string and starts
// its pumps.
func (s *SignalingHandler) HandleSignaling(c *gin.Context) {
	query := c.Request.URL.Query()

	frameCodec, err := codec.ForName(query.Get("codec"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req, err := registerRequestFromQuery(query)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("failed to upgrade connection", "err", err)
		return
	}

	// The request context ends when this handler returns; the connection outlives it.
	ctx := context.WithoutCancel(c.Request.Context())

	client := newClient(conn, frameCodec, s.metrics, s.logger)
	go client.writePump()

	session := s.hub.Connect(ctx, client, req)
	s.logger.Debug("websocket connected", "peer_id", session.PeerID(), "codec", frameCodec.Name())

	go client.readPump(ctx, s.hub, session)
}

// registerRequestFromQuery reads the connection parameters browsers pass on
// the socket URL. extra is a JSON object.
func registerRequestFromQuery(q url.Values) (models.RegisterRequest, error) {
	req := models.RegisterRequest{
		UserID:                  strings.TrimSpace(q.Get("userid")),
		SessionID:               strings.TrimSpace(q.Get("sessionid")),
		MsgEvent:                strings.TrimSpace(q.Get("msgEvent")),
		EnableScalableBroadcast: queryBool(q, "enableScalableBroadcast"),
		AutoCloseEntireSession:  queryBool(q, "autoCloseEntireSession"),
		AdminUserName:           q.Get("adminUserName"),
		AdminPassword:           q.Get("adminPassword"),
	}
	if v := q.Get("maxParticipantsAllowed"); v != "" {
		req.MaxParticipantsAllowed = v
	}
	if v := q.Get("maxRelayLimitPerUser"); v != "" {
		req.MaxRelayLimitPerUser = v
	}
	if raw := strings.TrimSpace(q.Get("extra")); raw != "" {
		var extra models.Extra
		if err := json.Unmarshal([]byte(raw), &extra); err != nil {
			return req, fmt.Errorf("invalid extra parameter: %w", err)
		}
		req.Extra = extra
	}
	return req, nil
}

func queryBool(q url.Values, key string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(q.Get(key)))
	return err == nil && v
}
