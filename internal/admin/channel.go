// Package admin is the privileged view over the registries: snapshots, peer
// inspection, forced disconnects and error log maintenance.
package admin

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mossy-p/signaling-relay/config"
	"github.com/mossy-p/signaling-relay/internal/broadcast"
	"github.com/mossy-p/signaling-relay/internal/errlog"
	"github.com/mossy-p/signaling-relay/internal/models"
	"github.com/mossy-p/signaling-relay/internal/registry"
)

const (
	reasonCredentialsMissing = `Please pass "adminUserName" and "adminPassword" via socket parameters.`
	reasonCredentialsInvalid = "Invalid admin username or password."
)

// Kicker force-disconnects a peer and runs its disconnect cleanup.
type Kicker interface {
	Kick(peerID string) bool
}

// Credentials are the admin user name and password presented by a client.
type Credentials struct {
	Username string
	Password string
}

// Snapshot is the state pushed to admin connections.
type Snapshot struct {
	NewUpdates             bool                 `json:"newUpdates"`
	ListOfRooms            []models.RoomSummary `json:"listOfRooms"`
	ListOfUsers            int                  `json:"listOfUsers"`
	Users                  []registry.Peer      `json:"users,omitempty"`
	ScalableBroadcastUsers int                  `json:"scalableBroadcastUsers"`
	Broadcasts             []broadcast.Node     `json:"broadcasts,omitempty"`
}

type Channel struct {
	cfg        config.AdminConfig
	peers      *registry.PeerRegistry
	rooms      *registry.RoomRegistry
	broadcasts *broadcast.Manager
	errors     errlog.Recorder
	kicker     Kicker
	logger     *slog.Logger

	mu          sync.Mutex
	subscribers map[models.Handle]struct{}
}

func New(cfg config.AdminConfig, peers *registry.PeerRegistry, rooms *registry.RoomRegistry,
	broadcasts *broadcast.Manager, recorder errlog.Recorder, kicker Kicker, logger *slog.Logger) *Channel {
	if recorder == nil {
		recorder = errlog.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		cfg:         cfg,
		peers:       peers,
		rooms:       rooms,
		broadcasts:  broadcasts,
		errors:      recorder,
		kicker:      kicker,
		logger:      logger,
		subscribers: make(map[models.Handle]struct{}),
	}
}

func (c *Channel) Enabled() bool {
	return c.cfg.Active()
}

// Authorize compares creds against the configured admin account in constant time.
func (c *Channel) Authorize(creds Credentials) error {
	if !c.Enabled() || creds.Username == "" || creds.Password == "" {
		return registry.NewError(registry.CodeUnauthorized, reasonCredentialsMissing)
	}
	userOK := subtle.ConstantTimeCompare([]byte(creds.Username), []byte(c.cfg.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(creds.Password), []byte(c.cfg.Password)) == 1
	if !userOK || !passOK {
		return registry.NewError(registry.CodeUnauthorized, reasonCredentialsInvalid)
	}
	return nil
}

// Connect authenticates an admin connection and subscribes it to updates. A
// failed attempt is told why and disconnected.
func (c *Channel) Connect(ctx context.Context, h models.Handle, creds Credentials) error {
	if err := c.Authorize(creds); err != nil {
		c.reject(ctx, h, creds, err)
		return err
	}

	c.mu.Lock()
	c.subscribers[h] = struct{}{}
	c.mu.Unlock()

	h.Send(models.EventAdmin, map[string]any{"connected": true})
	c.logger.Info("admin connected", "admin", creds.Username)
	return nil
}

func (c *Channel) Disconnect(h models.Handle) {
	c.mu.Lock()
	delete(c.subscribers, h)
	c.mu.Unlock()
}

// RecordFailedLogin logs a rejected admin login and keeps it in the error log.
func (c *Channel) RecordFailedLogin(ctx context.Context, creds Credentials) {
	c.logger.Warn("admin authentication failed", "admin", creds.Username)
	c.errors.Record(ctx, "invalid-admin", fmt.Errorf("%s: name %q", registry.ReasonInvalidAdminCredential, creds.Username))
}

func (c *Channel) reject(ctx context.Context, h models.Handle, creds Credentials, err error) {
	c.RecordFailedLogin(ctx, creds)
	c.Disconnect(h)
	if h != nil {
		h.Send(models.EventAdmin, map[string]any{"error": err.Error()})
		h.Close()
	}
}

// Handle runs one admin message. Credentials are re-verified on every message;
// a failure disconnects h.
func (c *Channel) Handle(ctx context.Context, h models.Handle, creds Credentials, req models.AdminRequest) (any, error) {
	if req.AdminUserName != "" || req.AdminPassword != "" {
		creds = Credentials{Username: req.AdminUserName, Password: req.AdminPassword}
	}
	if err := c.Authorize(creds); err != nil {
		c.reject(ctx, h, creds, err)
		return nil, err
	}

	var data any = true
	if req.All {
		snap := c.Snapshot(true)
		if h != nil {
			h.Send(models.EventAdmin, snap)
		}
		data = snap
	}
	if req.UserInfo && req.UserID != "" {
		peer, err := c.UserInfo(req.UserID)
		if err != nil {
			return nil, err
		}
		data = peer
	}
	if req.ClearLogs {
		if err := c.ClearLogs(ctx); err != nil {
			return nil, err
		}
	}
	if req.DeleteUser {
		if err := c.DeleteUser(req.UserID); err != nil {
			return nil, err
		}
	}
	if req.DeleteRoom {
		if err := c.DeleteRoom(req.RoomID); err != nil {
			return nil, err
		}
	}
	return data, nil
}

// Snapshot reports the registry sizes. With all set it includes every room,
// peer and broadcast node.
func (c *Channel) Snapshot(all bool) Snapshot {
	snap := Snapshot{
		NewUpdates:             !all,
		ListOfRooms:            []models.RoomSummary{},
		ListOfUsers:            c.peers.Count(),
		ScalableBroadcastUsers: c.broadcasts.Count(),
	}
	if all {
		if rooms := c.rooms.Snapshot(); rooms != nil {
			snap.ListOfRooms = rooms
		}
		snap.Users = c.peers.All()
		snap.Broadcasts = c.broadcasts.Snapshot()
	}
	return snap
}

func (c *Channel) UserInfo(peerID string) (registry.Peer, error) {
	peer, ok := c.peers.Get(peerID)
	if !ok {
		return registry.Peer{}, registry.NewError(registry.CodeNotFound, registry.ReasonUserIDNotAvailable)
	}
	return peer, nil
}

// DeleteUser force-disconnects peerID.
func (c *Channel) DeleteUser(peerID string) error {
	if strings.TrimSpace(peerID) == "" {
		return registry.NewError(registry.CodeInvalidRequest, registry.ReasonPeerIDMissing)
	}
	if !c.peers.Exists(peerID) {
		return registry.NewError(registry.CodeNotFound, registry.ReasonUserIDNotAvailable)
	}
	if c.kicker == nil || !c.kicker.Kick(peerID) {
		c.peers.Remove(peerID)
	}
	c.logger.Info("admin deleted peer", "peer_id", peerID)
	c.Publish()
	return nil
}

// DeleteRoom removes the room and disconnects every participant.
func (c *Channel) DeleteRoom(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return registry.NewError(registry.CodeInvalidRequest, registry.ReasonRoomIDMissing)
	}
	participants, ok := c.rooms.Delete(sessionID)
	if !ok {
		return registry.NewError(registry.CodeNotFound, registry.ReasonRoomNotAvailable)
	}
	for _, pid := range participants {
		if c.kicker == nil || !c.kicker.Kick(pid) {
			c.peers.Remove(pid)
		}
	}
	c.logger.Info("admin deleted room", "session_id", sessionID, "participants", len(participants))
	c.Publish()
	return nil
}

func (c *Channel) Logs(ctx context.Context) ([]errlog.Entry, error) {
	return c.errors.Entries(ctx)
}

func (c *Channel) ClearLogs(ctx context.Context) error {
	if err := c.errors.Clear(ctx); err != nil {
		c.logger.Error("failed to clear error log", "err", err)
		return errors.Join(registry.NewError(registry.CodeInternal, "Unable to clear logs."), err)
	}
	return nil
}

// Publish pushes a size-only snapshot to every subscribed admin connection.
func (c *Channel) Publish() {
	if !c.Enabled() {
		return
	}
	c.mu.Lock()
	subs := make([]models.Handle, 0, len(c.subscribers))
	for h := range c.subscribers {
		subs = append(subs, h)
	}
	c.mu.Unlock()
	if len(subs) == 0 {
		return
	}

	snap := c.Snapshot(false)
	for _, h := range subs {
		h.Send(models.EventAdmin, snap)
	}
}

func (c *Channel) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscribers)
}
