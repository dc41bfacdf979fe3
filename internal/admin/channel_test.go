package admin

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/mossy-p/signaling-relay/config"
	"github.com/mossy-p/signaling-relay/internal/broadcast"
	"github.com/mossy-p/signaling-relay/internal/errlog"
	"github.com/mossy-p/signaling-relay/internal/models"
	"github.com/mossy-p/signaling-relay/internal/registry"
)

type fakeHandle struct {
	mu     sync.Mutex
	events []string
	last   any
	closed bool
}

func (h *fakeHandle) Send(event string, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	h.last = payload
}

func (h *fakeHandle) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
}

type fakeKicker struct {
	peers  *registry.PeerRegistry
	kicked []string
}

func (k *fakeKicker) Kick(peerID string) bool {
	k.kicked = append(k.kicked, peerID)
	return k.peers.Remove(peerID)
}

type fixture struct {
	channel *Channel
	peers   *registry.PeerRegistry
	rooms   *registry.RoomRegistry
	errors  *errlog.MemoryRecorder
	kicker  *fakeKicker
}

var goodCreds = Credentials{Username: "root", Password: "hunter2"}

func newFixture(t *testing.T, enabled bool) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	peers := registry.NewPeerRegistry()
	rooms := registry.NewRoomRegistry(peers, 10)
	recorder := errlog.NewMemoryRecorder(10)
	kicker := &fakeKicker{peers: peers}
	cfg := config.AdminConfig{Enabled: enabled, Username: goodCreds.Username, Password: goodCreds.Password}
	ch := New(cfg, peers, rooms, broadcast.NewManager(logger, peers.Exists), recorder, kicker, logger)
	return &fixture{channel: ch, peers: peers, rooms: rooms, errors: recorder, kicker: kicker}
}

func (f *fixture) register(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if _, err := f.peers.Register(id, &fakeHandle{}, nil); err != nil {
			t.Fatalf("Register(%q) error = %v", id, err)
		}
	}
}

func TestConnectRejectsBadCredentials(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		creds   Credentials
	}{
		{name: "disabled", enabled: false, creds: goodCreds},
		{name: "missing", enabled: true, creds: Credentials{}},
		{name: "wrong password", enabled: true, creds: Credentials{Username: "root", Password: "nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.enabled)
			h := &fakeHandle{}

			err := f.channel.Connect(context.Background(), h, tt.creds)
			if !registry.IsCode(err, registry.CodeUnauthorized) {
				t.Fatalf("Connect error = %v, want %s", err, registry.CodeUnauthorized)
			}
			if !h.closed {
				t.Fatalf("connection left open after failed auth")
			}
			if f.channel.Subscribers() != 0 {
				t.Fatalf("Subscribers = %d, want 0", f.channel.Subscribers())
			}
			if entries, _ := f.errors.Entries(context.Background()); len(entries) != 1 || entries[0].Name != "invalid-admin" {
				t.Fatalf("error log = %+v, want one invalid-admin entry", entries)
			}
		})
	}
}

func TestHandleReverifiesEveryMessage(t *testing.T) {
	f := newFixture(t, true)
	h := &fakeHandle{}
	if err := f.channel.Connect(context.Background(), h, goodCreds); err != nil {
		t.Fatalf("Connect error = %v", err)
	}

	_, err := f.channel.Handle(context.Background(), h, goodCreds, models.AdminRequest{
		All:           true,
		AdminUserName: "root",
		AdminPassword: "stale",
	})
	if !registry.IsCode(err, registry.CodeUnauthorized) {
		t.Fatalf("Handle error = %v, want %s", err, registry.CodeUnauthorized)
	}
	if !h.closed || f.channel.Subscribers() != 0 {
		t.Fatalf("admin connection not dropped after failed re-verification")
	}
}

func TestHandleSnapshotAndUserInfo(t *testing.T) {
	f := newFixture(t, true)
	f.register(t, "alice", "bob")
	_, _ = f.rooms.Open("r1", "alice", registry.RoomParams{})
	h := &fakeHandle{}

	data, err := f.channel.Handle(context.Background(), h, goodCreds, models.AdminRequest{All: true})
	if err != nil {
		t.Fatalf("Handle(all) error = %v", err)
	}
	snap, ok := data.(Snapshot)
	if !ok || snap.NewUpdates || snap.ListOfUsers != 2 || len(snap.ListOfRooms) != 1 || len(snap.Users) != 2 {
		t.Fatalf("snapshot = %+v", data)
	}
	if len(h.events) != 1 || h.events[0] != models.EventAdmin {
		t.Fatalf("events = %v, want one admin push", h.events)
	}

	data, err = f.channel.Handle(context.Background(), h, goodCreds, models.AdminRequest{UserInfo: true, UserID: "alice"})
	if err != nil {
		t.Fatalf("Handle(userinfo) error = %v", err)
	}
	peer, ok := data.(registry.Peer)
	if !ok || peer.ID != "alice" || peer.Binding == nil || peer.Binding.SessionID != "r1" {
		t.Fatalf("userinfo = %+v", data)
	}

	_, err = f.channel.Handle(context.Background(), h, goodCreds, models.AdminRequest{UserInfo: true, UserID: "ghost"})
	if !registry.IsCode(err, registry.CodeNotFound) {
		t.Fatalf("Handle(userinfo ghost) error = %v, want %s", err, registry.CodeNotFound)
	}
}

func TestDeleteUserKicksPeer(t *testing.T) {
	f := newFixture(t, true)
	f.register(t, "alice")

	if err := f.channel.DeleteUser("alice"); err != nil {
		t.Fatalf("DeleteUser error = %v", err)
	}
	if len(f.kicker.kicked) != 1 || f.peers.Exists("alice") {
		t.Fatalf("kicked = %v, alice exists = %v", f.kicker.kicked, f.peers.Exists("alice"))
	}
	if err := f.channel.DeleteUser("alice"); !registry.IsCode(err, registry.CodeNotFound) {
		t.Fatalf("second DeleteUser error = %v, want %s", err, registry.CodeNotFound)
	}
}

func TestDeleteRoomDisconnectsParticipants(t *testing.T) {
	f := newFixture(t, true)
	f.register(t, "alice", "bob", "carol")
	_, _ = f.rooms.Open("r1", "alice", registry.RoomParams{})
	_, _ = f.rooms.Join("r1", "bob", registry.JoinParams{})

	sub := &fakeHandle{}
	if err := f.channel.Connect(context.Background(), sub, goodCreds); err != nil {
		t.Fatalf("Connect error = %v", err)
	}

	if err := f.channel.DeleteRoom("r1"); err != nil {
		t.Fatalf("DeleteRoom error = %v", err)
	}
	if len(f.kicker.kicked) != 2 {
		t.Fatalf("kicked = %v, want alice and bob", f.kicker.kicked)
	}
	if !f.peers.Exists("carol") {
		t.Fatalf("bystander carol was disconnected")
	}
	if _, ok := f.rooms.Get("r1"); ok {
		t.Fatalf("room r1 still present")
	}
	if snap, ok := sub.last.(Snapshot); !ok || !snap.NewUpdates || snap.ListOfUsers != 1 {
		t.Fatalf("pushed update = %+v", sub.last)
	}
	if err := f.channel.DeleteRoom("r1"); !registry.IsCode(err, registry.CodeNotFound) {
		t.Fatalf("second DeleteRoom error = %v, want %s", err, registry.CodeNotFound)
	}
}

func TestClearLogs(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.errors.Record(ctx, "join-room", errors.New("boom"))

	if _, err := f.channel.Handle(ctx, &fakeHandle{}, goodCreds, models.AdminRequest{ClearLogs: true}); err != nil {
		t.Fatalf("Handle(clearLogs) error = %v", err)
	}
	if entries, _ := f.channel.Logs(ctx); len(entries) != 0 {
		t.Fatalf("entries = %d, want 0", len(entries))
	}
}
