package broadcast

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/mossy-p/signaling-relay/internal/models"
	"github.com/mossy-p/signaling-relay/internal/registry"
)

type recorder struct {
	mu     sync.Mutex
	events []string
	last   map[string]any
}

func (r *recorder) Send(event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		r.last = map[string]any{}
	}
	r.events = append(r.events, event)
	r.last[event] = payload
}

func (r *recorder) Close() {}

func (r *recorder) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == event {
			n++
		}
	}
	return n
}

func (r *recorder) payload(event string) any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last[event]
}

func newTestManager() *Manager {
	return NewManager(slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
}

func join(t *testing.T, m *Manager, peerID, broadcastID string, maxRelays int) (*recorder, JoinResult) {
	t.Helper()
	h := &recorder{}
	res, err := m.Join(peerID, broadcastID, nil, maxRelays, h)
	if err != nil {
		t.Fatalf("Join(%q) error = %v", peerID, err)
	}
	return h, res
}

func assertTree(t *testing.T, m *Manager, maxRelays int, allowOverflowRoot bool) {
	t.Helper()
	nodes := m.Snapshot()
	byID := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		byID[n.UserID] = n
	}
	for _, n := range nodes {
		if len(n.Children) > maxRelays && !(allowOverflowRoot && n.IsInitiator) {
			t.Fatalf("node %s has %d children, cap %d", n.UserID, len(n.Children), maxRelays)
		}
		if n.Parent == "" {
			continue
		}
		seen := map[string]bool{}
		cur := n
		for cur.Parent != "" {
			if seen[cur.UserID] {
				t.Fatalf("cycle through %s", cur.UserID)
			}
			seen[cur.UserID] = true
			next, ok := byID[cur.Parent]
			if !ok {
				t.Fatalf("node %s has missing parent %s", cur.UserID, cur.Parent)
			}
			cur = next
		}
		if !cur.IsInitiator {
			t.Fatalf("node %s does not reach the root", n.UserID)
		}
	}
}

func TestRootStartsBroadcasting(t *testing.T) {
	m := newTestManager()
	h, res := join(t, m, "show1", "show1", 2)

	if res.Role != RoleRoot {
		t.Fatalf("Role = %s, want %s", res.Role, RoleRoot)
	}
	if h.count(models.EventStartBroadcasting) != 1 {
		t.Fatalf("events = %v, want start-broadcasting", h.events)
	}
	if !m.IsBroadcasting("show1") {
		t.Fatalf("IsBroadcasting = false, want true")
	}
}

func TestViewersAttachToRootThenRelays(t *testing.T) {
	m := newTestManager()
	root, _ := join(t, m, "show1", "show1", 2)
	_, r1 := join(t, m, "v1", "show1", 0)
	_, r2 := join(t, m, "v2", "show1", 0)

	if r1.Parent != "show1" || r2.Parent != "show1" {
		t.Fatalf("parents = %q, %q, want show1", r1.Parent, r2.Parent)
	}
	n, _ := m.Node("show1")
	if len(n.Children) != 2 || n.Children[0] != "v1" || n.Children[1] != "v2" {
		t.Fatalf("root children = %v, want [v1 v2]", n.Children)
	}

	m.SetCanRelay("v2", true)
	v3, r3 := join(t, m, "v3", "show1", 0)
	if r3.Parent != "v2" || r3.Overflow {
		t.Fatalf("v3 = %+v, want parent v2 without overflow", r3)
	}
	hint, ok := v3.payload(models.EventJoinBroadcaster).(models.JoinBroadcaster)
	if !ok || hint.UserID != "v2" || hint.BroadcastID != "show1" {
		t.Fatalf("join-broadcaster payload = %#v", v3.payload(models.EventJoinBroadcaster))
	}

	count, ok := root.payload(models.EventBroadcastViewerCount).(models.ViewerCount)
	if !ok || count.NumberOfBroadcastViewers != 3 {
		t.Fatalf("viewer count = %#v, want 3", root.payload(models.EventBroadcastViewerCount))
	}
	assertTree(t, m, 2, false)
}

func TestRootOverflowWhenNoRelayCapacity(t *testing.T) {
	m := newTestManager()
	join(t, m, "show1", "show1", 2)
	join(t, m, "v1", "show1", 0)
	join(t, m, "v2", "show1", 0)

	_, res := join(t, m, "v3", "show1", 0)
	if res.Parent != "show1" || !res.Overflow {
		t.Fatalf("v3 = %+v, want overflow onto root", res)
	}
	n, _ := m.Node("show1")
	if len(n.Children) != 3 {
		t.Fatalf("root children = %v, want 3", n.Children)
	}
	assertTree(t, m, 2, true)
}

func TestLastChosenRelayIsPreferred(t *testing.T) {
	m := newTestManager()
	join(t, m, "b", "b", 2)
	join(t, m, "v1", "b", 0)
	join(t, m, "v2", "b", 0)
	m.SetCanRelay("v2", true)
	_, r3 := join(t, m, "v3", "b", 0)
	if r3.Parent != "v2" {
		t.Fatalf("v3 parent = %q, want v2", r3.Parent)
	}

	// v2 still has spare capacity, so it wins over the earlier v1 even
	// though only v1 advertises relaying now.
	m.SetCanRelay("v2", false)
	m.SetCanRelay("v1", true)
	_, r4 := join(t, m, "v4", "b", 0)
	if r4.Parent != "v2" {
		t.Fatalf("v4 parent = %q, want v2", r4.Parent)
	}

	_, r5 := join(t, m, "v5", "b", 0)
	if r5.Parent != "v1" {
		t.Fatalf("v5 parent = %q, want v1", r5.Parent)
	}
	assertTree(t, m, 2, false)
}

func TestRelayDepartureAsksChildrenToRejoin(t *testing.T) {
	m := newTestManager()
	root, _ := join(t, m, "show1", "show1", 2)
	join(t, m, "v1", "show1", 0)
	join(t, m, "v2", "show1", 0)
	m.SetCanRelay("v1", true)
	v3, r3 := join(t, m, "v3", "show1", 0)
	if r3.Parent != "v1" {
		t.Fatalf("v3 parent = %q, want v1", r3.Parent)
	}

	m.Leave("v1")

	if v3.count(models.EventRejoinBroadcast) != 1 {
		t.Fatalf("v3 events = %v, want rejoin-broadcast", v3.events)
	}
	rootNode, _ := m.Node("show1")
	if len(rootNode.Children) != 1 || rootNode.Children[0] != "v2" {
		t.Fatalf("root children = %v, want [v2]", rootNode.Children)
	}
	orphan, _ := m.Node("v3")
	if orphan.Parent != "" || orphan.CanRelay {
		t.Fatalf("v3 = %+v, want detached and not relaying", orphan)
	}
	count, _ := root.payload(models.EventBroadcastViewerCount).(models.ViewerCount)
	if count.NumberOfBroadcastViewers != 2 {
		t.Fatalf("viewer count = %d, want 2", count.NumberOfBroadcastViewers)
	}

	// The evicted child re-enters selection instead of being ignored.
	_, again := join(t, m, "v3", "show1", 0)
	if again.Role != RoleViewer || again.Parent != "show1" {
		t.Fatalf("rejoin = %+v, want viewer under show1", again)
	}
	assertTree(t, m, 2, false)
}

func TestDetachedSubtreeNeverBecomesItsOwnParent(t *testing.T) {
	m := newTestManager()
	join(t, m, "b", "b", 1)
	join(t, m, "a", "b", 0)
	m.SetCanRelay("a", true)
	join(t, m, "c", "b", 0)
	m.SetCanRelay("c", true)
	join(t, m, "d", "b", 0)
	m.SetCanRelay("d", true)

	// a leaves: c is detached but keeps d as its child.
	m.Leave("a")
	// Root has room again; fill it so c must search.
	join(t, m, "e", "b", 0)

	_, res := join(t, m, "c", "b", 0)
	if res.Parent == "d" {
		t.Fatalf("c attached below its own child d")
	}
	assertTree(t, m, 1, true)
}

func TestRootDepartureStopsBroadcast(t *testing.T) {
	m := newTestManager()
	root, _ := join(t, m, "show1", "show1", 2)
	v1, _ := join(t, m, "v1", "show1", 0)
	v2, _ := join(t, m, "v2", "show1", 0)

	m.Leave("show1")

	for name, h := range map[string]*recorder{"root": root, "v1": v1, "v2": v2} {
		if h.count(models.EventBroadcastStopped) != 1 {
			t.Fatalf("%s events = %v, want broadcast-stopped", name, h.events)
		}
	}
	if m.IsBroadcasting("show1") || m.ViewerCount("show1") != 0 || m.Count() != 0 {
		t.Fatalf("tree not discarded: count=%d", m.Count())
	}
}

func TestRenamedRelayKeepsItsLinks(t *testing.T) {
	m := newTestManager()
	join(t, m, "show1", "show1", 2)
	join(t, m, "v1", "show1", 0)
	join(t, m, "v2", "show1", 0)
	m.SetCanRelay("v1", true)
	v3, _ := join(t, m, "v3", "show1", 0)

	m.Rename("v1", "v1x")

	if _, ok := m.Node("v1"); ok {
		t.Fatalf("old id still in tree")
	}
	relay, ok := m.Node("v1x")
	if !ok || relay.Parent != "show1" || len(relay.Children) != 1 || relay.Children[0] != "v3" {
		t.Fatalf("renamed relay = %+v", relay)
	}
	if child, _ := m.Node("v3"); child.Parent != "v1x" {
		t.Fatalf("v3 parent = %q, want v1x", child.Parent)
	}
	rootNode, _ := m.Node("show1")
	if len(rootNode.Children) != 2 || rootNode.Children[0] != "v1x" {
		t.Fatalf("root children = %v", rootNode.Children)
	}
	assertTree(t, m, 2, false)

	m.Leave("v1x")
	if v3.count(models.EventRejoinBroadcast) != 1 {
		t.Fatalf("v3 events = %v, want rejoin-broadcast", v3.events)
	}
	if m.Count() != 3 {
		t.Fatalf("members = %d, want 3", m.Count())
	}
}

func TestRenamedRootCarriesBroadcast(t *testing.T) {
	m := newTestManager()
	join(t, m, "show1", "show1", 2)
	v1, _ := join(t, m, "v1", "show1", 0)

	m.Rename("show1", "show2")

	if m.IsBroadcasting("show1") || !m.IsBroadcasting("show2") {
		t.Fatalf("broadcast not re-keyed")
	}
	if m.ViewerCount("show1") != 0 || m.ViewerCount("show2") != 1 {
		t.Fatalf("viewer counts old=%d new=%d", m.ViewerCount("show1"), m.ViewerCount("show2"))
	}
	if node, _ := m.Node("v1"); node.Parent != "show2" || node.BroadcastID != "show2" {
		t.Fatalf("viewer = %+v", node)
	}

	m.Leave("show2")
	if v1.count(models.EventBroadcastStopped) != 1 {
		t.Fatalf("v1 events = %v, want broadcast-stopped", v1.events)
	}
	if m.Count() != 0 || m.IsBroadcasting("show2") {
		t.Fatalf("tree survived root departure: count=%d", m.Count())
	}
	if _, res := join(t, m, "v9", "show1", 0); res.Role != RoleRejected {
		t.Fatalf("join under old id = %+v, want rejected", res)
	}
}

func TestViewerWithoutRootIsAskedToRejoin(t *testing.T) {
	m := newTestManager()
	h, res := join(t, m, "v1", "nobody", 0)

	if res.Role != RoleRejected {
		t.Fatalf("Role = %s, want %s", res.Role, RoleRejected)
	}
	if h.payload(models.EventRejoinBroadcast) != "nobody" {
		t.Fatalf("events = %v, want rejoin-broadcast", h.events)
	}
	if m.Count() != 0 {
		t.Fatalf("Count = %d, want 0", m.Count())
	}
}

func TestDuplicateJoinIsIgnored(t *testing.T) {
	m := newTestManager()
	join(t, m, "b", "b", 2)
	join(t, m, "v1", "b", 0)
	_, res := join(t, m, "v1", "b", 0)

	if res.Role != RoleDuplicate {
		t.Fatalf("Role = %s, want %s", res.Role, RoleDuplicate)
	}
	n, _ := m.Node("b")
	if len(n.Children) != 1 {
		t.Fatalf("root children = %v, want [v1]", n.Children)
	}
}

func TestStaleRelayIsSkipped(t *testing.T) {
	gone := map[string]bool{}
	m := NewManager(slog.New(slog.NewTextHandler(io.Discard, nil)), func(id string) bool { return !gone[id] })
	join(t, m, "b", "b", 1)
	join(t, m, "v1", "b", 0)
	m.SetCanRelay("v1", true)
	gone["v1"] = true

	_, res := join(t, m, "v2", "b", 0)
	if res.Parent != "b" || !res.Overflow {
		t.Fatalf("v2 = %+v, want overflow onto root instead of stale v1", res)
	}
}

func TestPeersScopedToTree(t *testing.T) {
	m := newTestManager()
	join(t, m, "a", "a", 2)
	join(t, m, "a1", "a", 0)
	join(t, m, "b", "b", 2)

	if got := len(m.Peers("a1")); got != 1 {
		t.Fatalf("Peers(a1) = %d handles, want 1", got)
	}
	if got := len(m.Peers("b")); got != 0 {
		t.Fatalf("Peers(b) = %d handles, want 0", got)
	}
}

func TestJoinValidation(t *testing.T) {
	m := newTestManager()
	if _, err := m.Join("", "b", nil, 0, &recorder{}); !registry.IsCode(err, registry.CodeInvalidRequest) {
		t.Fatalf("Join(blank peer) error = %v", err)
	}
	if _, err := m.Join("p", " ", nil, 0, &recorder{}); !registry.IsCode(err, registry.CodeInvalidRequest) {
		t.Fatalf("Join(blank broadcast) error = %v", err)
	}
}

func TestConcurrentJoinsKeepTreeValid(t *testing.T) {
	m := newTestManager()
	join(t, m, "root", "root", 2)

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("v%d", i)
			_, _ = m.Join(id, "root", nil, 0, &recorder{})
			m.SetCanRelay(id, true)
		}(i)
	}
	wg.Wait()

	if got := m.ViewerCount("root"); got != 30 {
		t.Fatalf("ViewerCount = %d, want 30", got)
	}
	assertTree(t, m, 2, true)
}
