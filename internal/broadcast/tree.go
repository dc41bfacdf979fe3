package broadcast

import (
	"sync"

	"github.com/mossy-p/signaling-relay/internal/models"
)

// DefaultMaxRelays is the fan-out cap used when a broadcast does not set one.
const DefaultMaxRelays = 2

var defaultStreams = models.StreamTypes{Audio: true, Video: true}

// Role describes how a join-broadcast request was handled.
type Role string

const (
	RoleRoot      Role = "root"
	RoleViewer    Role = "viewer"
	RoleDuplicate Role = "duplicate"
	RoleRejected  Role = "rejected"
)

// JoinResult reports where a peer was placed in its broadcast tree.
type JoinResult struct {
	Role        Role
	BroadcastID string
	Parent      string
	// Overflow is set when every node was full and the root took the viewer anyway.
	Overflow bool
}

// Node is a read-only view of one relay node.
type Node struct {
	UserID        string             `json:"userid"`
	BroadcastID   string             `json:"broadcastId"`
	IsInitiator   bool               `json:"isBroadcastInitiator"`
	MaxRelays     int                `json:"maxRelayLimitPerUser"`
	Children      []string           `json:"relayReceivers"`
	Parent        string             `json:"receivingFrom,omitempty"`
	CanRelay      bool               `json:"canRelay"`
	TypeOfStreams models.StreamTypes `json:"typeOfStreams"`
}

type node struct {
	id        string
	initiator bool
	parent    string
	children  []string
	canRelay  bool
	streams   models.StreamTypes
	handle    models.Handle

	// lastChildID is only maintained on the root: the relay most recently
	// chosen as a parent.
	lastChildID string
}

type notice struct {
	to      models.Handle
	event   string
	payload any
}

// tree is the relay tree of one broadcast. The root's id is the broadcast id.
type tree struct {
	mu sync.Mutex

	id        string
	maxRelays int
	nodes     map[string]*node
	order     []string
	closed    bool
}

func newTree(broadcastID string, maxRelays int) *tree {
	if maxRelays <= 0 {
		maxRelays = DefaultMaxRelays
	}
	return &tree{
		id:        broadcastID,
		maxRelays: maxRelays,
		nodes:     make(map[string]*node),
	}
}

func (t *tree) root() *node {
	return t.nodes[t.id]
}

// attached reports whether following parent links from n reaches the root
// without passing through avoid.
func (t *tree) attached(n *node, avoid string) bool {
	cur := n
	for steps := 0; cur != nil && steps <= len(t.nodes); steps++ {
		if cur.id == avoid {
			return false
		}
		if cur.id == t.id {
			return true
		}
		cur = t.nodes[cur.parent]
	}
	return false
}

func (t *tree) hasRoom(n *node) bool {
	return len(n.children) < t.maxRelays
}

// selectParent picks the relay joiner should receive from. The boolean is true
// when the root was chosen past its cap.
func (t *tree) selectParent(joiner *node, alive func(string) bool) (*node, bool) {
	root := t.root()
	if t.hasRoom(root) {
		return root, false
	}

	eligible := func(c *node) bool {
		return c != nil && c != joiner && c != root &&
			t.hasRoom(c) && alive(c.id) && t.attached(c, joiner.id)
	}

	if last := t.nodes[root.lastChildID]; eligible(last) {
		return last, false
	}
	for _, id := range t.order {
		if c := t.nodes[id]; c.canRelay && eligible(c) {
			return c, false
		}
	}
	return root, true
}

func (t *tree) join(peerID string, streams *models.StreamTypes, handle models.Handle, alive func(string) bool) (JoinResult, []notice) {
	t.mu.Lock()
	defer t.mu.Unlock()

	result := JoinResult{BroadcastID: t.id}
	if t.closed || (peerID != t.id && t.root() == nil) {
		result.Role = RoleRejected
		return result, []notice{{to: handle, event: models.EventRejoinBroadcast, payload: t.id}}
	}

	n, exists := t.nodes[peerID]
	if exists && (n.initiator || n.parent != "") {
		result.Role = RoleDuplicate
		result.Parent = n.parent
		return result, nil
	}
	if !exists {
		n = &node{id: peerID, streams: defaultStreams}
		t.nodes[peerID] = n
		t.order = append(t.order, peerID)
	}
	n.handle = handle
	if streams != nil {
		n.streams = *streams
	}

	var notes []notice
	if peerID == t.id {
		n.initiator = true
		result.Role = RoleRoot
		notes = append(notes, notice{to: handle, event: models.EventStartBroadcasting, payload: n.streams})
	} else {
		parent, overflow := t.selectParent(n, alive)
		n.parent = parent.id
		parent.children = append(parent.children, peerID)
		t.root().lastChildID = parent.id

		result.Role = RoleViewer
		result.Parent = parent.id
		result.Overflow = overflow
		notes = append(notes, notice{to: handle, event: models.EventJoinBroadcaster, payload: models.JoinBroadcaster{
			TypeOfStreams: parent.streams,
			UserID:        parent.id,
			BroadcastID:   t.id,
		}})
	}
	return result, append(notes, t.viewerCountLocked()...)
}

// leave removes peerID. When the root leaves the tree is closed and every id
// that was in it is returned.
func (t *tree) leave(peerID string) ([]string, []notice) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.nodes[peerID]
	if !ok || t.closed {
		return nil, nil
	}

	if n.initiator {
		t.closed = true
		removed := make([]string, 0, len(t.order))
		notes := make([]notice, 0, len(t.order))
		for _, id := range t.order {
			removed = append(removed, id)
			if h := t.nodes[id].handle; h != nil {
				notes = append(notes, notice{to: h, event: models.EventBroadcastStopped, payload: t.id})
			}
		}
		t.nodes = map[string]*node{}
		t.order = nil
		return removed, notes
	}

	if parent, ok := t.nodes[n.parent]; ok {
		parent.children = without(parent.children, peerID)
	}

	var notes []notice
	for _, childID := range n.children {
		child, ok := t.nodes[childID]
		if !ok || child.parent != peerID {
			continue
		}
		child.parent = ""
		child.canRelay = false
		if child.handle != nil {
			notes = append(notes, notice{to: child.handle, event: models.EventRejoinBroadcast, payload: t.id})
		}
	}

	delete(t.nodes, peerID)
	t.order = without(t.order, peerID)
	if root := t.root(); root != nil && root.lastChildID == peerID {
		root.lastChildID = ""
	}
	return []string{peerID}, append(notes, t.viewerCountLocked()...)
}

// rename re-keys peerID to newID and fixes the parent and child links that
// point at it. Renaming the root renames the broadcast. It reports whether the
// root was renamed and whether anything changed.
func (t *tree) rename(oldID, newID string) (root bool, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, found := t.nodes[oldID]
	if !found || t.closed {
		return false, false
	}
	if _, taken := t.nodes[newID]; taken {
		return false, false
	}

	delete(t.nodes, oldID)
	n.id = newID
	t.nodes[newID] = n
	for i, id := range t.order {
		if id == oldID {
			t.order[i] = newID
		}
	}
	if parent, ok := t.nodes[n.parent]; ok {
		for i, id := range parent.children {
			if id == oldID {
				parent.children[i] = newID
			}
		}
	}
	for _, childID := range n.children {
		if child, ok := t.nodes[childID]; ok && child.parent == oldID {
			child.parent = newID
		}
	}
	if n.initiator {
		t.id = newID
	}
	if r := t.root(); r != nil && r.lastChildID == oldID {
		r.lastChildID = newID
	}
	return n.initiator, true
}

func (t *tree) broadcastID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.id
}

func (t *tree) setCanRelay(peerID string, canRelay bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.nodes[peerID]
	if !ok {
		return false
	}
	n.canRelay = canRelay
	return true
}

func (t *tree) viewersLocked() int {
	if len(t.nodes) == 0 {
		return 0
	}
	return len(t.nodes) - 1
}

func (t *tree) viewerCountLocked() []notice {
	root := t.root()
	if root == nil || root.handle == nil {
		return nil
	}
	return []notice{{to: root.handle, event: models.EventBroadcastViewerCount, payload: models.ViewerCount{
		NumberOfBroadcastViewers: t.viewersLocked(),
		BroadcastID:              t.id,
	}}}
}

func (t *tree) viewers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.viewersLocked()
}

func (t *tree) isInitiator(peerID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.nodes[peerID]
	return ok && n.initiator && !t.closed
}

func (t *tree) handlesExcept(peerID string) []models.Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]models.Handle, 0, len(t.order))
	for _, id := range t.order {
		if id == peerID {
			continue
		}
		if h := t.nodes[id].handle; h != nil {
			out = append(out, h)
		}
	}
	return out
}

func (t *tree) node(peerID string) (Node, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.nodes[peerID]
	if !ok {
		return Node{}, false
	}
	return t.snapshotLocked(n), true
}

func (t *tree) snapshot() []Node {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Node, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.snapshotLocked(t.nodes[id]))
	}
	return out
}

func (t *tree) snapshotLocked(n *node) Node {
	return Node{
		UserID:        n.id,
		BroadcastID:   t.id,
		IsInitiator:   n.initiator,
		MaxRelays:     t.maxRelays,
		Children:      append([]string{}, n.children...),
		Parent:        n.parent,
		CanRelay:      n.canRelay,
		TypeOfStreams: n.streams,
	}
}

func without(ids []string, drop string) []string {
	out := ids[:0:0]
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}
