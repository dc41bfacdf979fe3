package broadcast

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/mossy-p/signaling-relay/internal/models"
	"github.com/mossy-p/signaling-relay/internal/registry"
)

// Manager owns every broadcast relay tree, keyed by broadcast id. Each tree
// has its own lock; the manager lock only guards the two indexes and is never
// held while a tree lock is taken.
type Manager struct {
	mu      sync.Mutex
	trees   map[string]*tree
	members map[string]*tree

	alive  func(peerID string) bool
	logger *slog.Logger
}

// NewManager returns an empty manager. alive is consulted before a cached
// node is trusted as a relay parent; nil treats every node as live.
func NewManager(logger *slog.Logger, alive func(peerID string) bool) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if alive == nil {
		alive = func(string) bool { return true }
	}
	return &Manager{
		trees:   make(map[string]*tree),
		members: make(map[string]*tree),
		alive:   alive,
		logger:  logger,
	}
}

// Join places peerID into the tree of broadcastID. The peer whose id equals
// broadcastID becomes the root and creates the tree with maxRelays as its
// fan-out cap. Viewers of a broadcast with no root are told to rejoin.
func (m *Manager) Join(peerID, broadcastID string, streams *models.StreamTypes, maxRelays int, handle models.Handle) (JoinResult, error) {
	if strings.TrimSpace(peerID) == "" {
		return JoinResult{}, registry.NewError(registry.CodeInvalidRequest, registry.ReasonPeerIDMissing)
	}
	if strings.TrimSpace(broadcastID) == "" {
		return JoinResult{}, registry.NewError(registry.CodeInvalidRequest, registry.ReasonSessionIDMissing)
	}

	m.mu.Lock()
	current := m.members[peerID]
	m.mu.Unlock()
	if current != nil && current.broadcastID() != broadcastID {
		m.Leave(peerID)
	}

	m.mu.Lock()
	t := m.trees[broadcastID]
	if t == nil && peerID == broadcastID {
		t = newTree(broadcastID, maxRelays)
		m.trees[broadcastID] = t
	}
	m.mu.Unlock()

	if t == nil {
		deliver([]notice{{to: handle, event: models.EventRejoinBroadcast, payload: broadcastID}})
		return JoinResult{Role: RoleRejected, BroadcastID: broadcastID}, nil
	}

	result, notes := t.join(peerID, streams, handle, m.alive)
	switch result.Role {
	case RoleDuplicate:
		m.logger.Warn("peer already in broadcast, ignoring join",
			"peer_id", peerID, "broadcast_id", broadcastID)
	case RoleRoot, RoleViewer:
		m.mu.Lock()
		m.members[peerID] = t
		m.mu.Unlock()
	}
	deliver(notes)
	return result, nil
}

// Leave removes peerID from its tree and repairs it. It is a no-op for peers
// that never joined a broadcast.
func (m *Manager) Leave(peerID string) {
	m.mu.Lock()
	t := m.members[peerID]
	m.mu.Unlock()
	if t == nil {
		return
	}

	removed, notes := t.leave(peerID)
	broadcastID := t.broadcastID()

	m.mu.Lock()
	for _, id := range removed {
		if m.members[id] == t {
			delete(m.members, id)
		}
	}
	if m.members[peerID] == t {
		delete(m.members, peerID)
	}
	if peerID == broadcastID && m.trees[broadcastID] == t {
		delete(m.trees, broadcastID)
	}
	m.mu.Unlock()

	if peerID == broadcastID {
		m.logger.Info("broadcast stopped", "broadcast_id", broadcastID, "viewers", len(removed)-1)
	}
	deliver(notes)
}

// Rename moves peerID's node to newID. A renamed root takes its broadcast
// along, so viewers stay attached and the broadcast id becomes newID. If the
// node cannot be re-keyed the peer leaves under its old id instead.
func (m *Manager) Rename(oldID, newID string) {
	if oldID == newID {
		return
	}
	m.mu.Lock()
	t := m.members[oldID]
	m.mu.Unlock()
	if t == nil {
		return
	}

	root, ok := t.rename(oldID, newID)
	if !ok {
		m.Leave(oldID)
		return
	}

	m.mu.Lock()
	if m.members[oldID] == t {
		delete(m.members, oldID)
	}
	m.members[newID] = t
	if root && m.trees[oldID] == t {
		delete(m.trees, oldID)
		m.trees[newID] = t
	}
	m.mu.Unlock()

	m.logger.Info("broadcast member renamed", "old_peer_id", oldID, "peer_id", newID, "root", root)
}

// SetCanRelay toggles whether peerID accepts relay children.
func (m *Manager) SetCanRelay(peerID string, canRelay bool) bool {
	t := m.treeOf(peerID)
	if t == nil {
		return false
	}
	return t.setCanRelay(peerID, canRelay)
}

// IsBroadcasting reports whether peerID is the live root of a broadcast.
func (m *Manager) IsBroadcasting(peerID string) bool {
	t := m.treeOf(peerID)
	return t != nil && t.isInitiator(peerID)
}

// ViewerCount is the number of peers in the broadcast other than the root.
func (m *Manager) ViewerCount(broadcastID string) int {
	m.mu.Lock()
	t := m.trees[broadcastID]
	m.mu.Unlock()
	if t == nil {
		return 0
	}
	return t.viewers()
}

// Peers returns the handles of every other member of peerID's tree.
func (m *Manager) Peers(peerID string) []models.Handle {
	t := m.treeOf(peerID)
	if t == nil {
		return nil
	}
	return t.handlesExcept(peerID)
}

func (m *Manager) Node(peerID string) (Node, bool) {
	t := m.treeOf(peerID)
	if t == nil {
		return Node{}, false
	}
	return t.node(peerID)
}

// Snapshot lists every node of every tree, grouped by broadcast id.
func (m *Manager) Snapshot() []Node {
	m.mu.Lock()
	trees := make([]*tree, 0, len(m.trees))
	for _, t := range m.trees {
		trees = append(trees, t)
	}
	m.mu.Unlock()

	sort.Slice(trees, func(i, j int) bool { return trees[i].broadcastID() < trees[j].broadcastID() })
	var out []Node
	for _, t := range trees {
		out = append(out, t.snapshot()...)
	}
	return out
}

// Count is the number of peers in all broadcast trees.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.members)
}

func (m *Manager) treeOf(peerID string) *tree {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.members[peerID]
}

func deliver(notes []notice) {
	for _, n := range notes {
		if n.to != nil {
			n.to.Send(n.event, n.payload)
		}
	}
}
