package registry

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mossy-p/signaling-relay/internal/models"
)

// Peer is a read-only snapshot of a connected peer.
type Peer struct {
	ID            string                 `json:"userid"`
	Extra         models.Extra           `json:"extra"`
	ConnectedWith []string               `json:"connectedWith"`
	Binding       *models.SessionBinding `json:"admininfo,omitempty"`
	ConnectedAt   time.Time              `json:"connectedAt"`
}

type peerRecord struct {
	id            string
	handle        models.Handle
	connectedWith map[string]models.Handle
	extra         models.Extra
	binding       *models.SessionBinding
	connectedAt   time.Time
}

func (p *peerRecord) snapshot() Peer {
	links := make([]string, 0, len(p.connectedWith))
	for id := range p.connectedWith {
		links = append(links, id)
	}
	sort.Strings(links)

	var binding *models.SessionBinding
	if p.binding != nil {
		b := *p.binding
		b.Extra = b.Extra.Clone()
		binding = &b
	}
	return Peer{
		ID:            p.id,
		Extra:         p.extra.Clone(),
		ConnectedWith: links,
		Binding:       binding,
		ConnectedAt:   p.connectedAt,
	}
}

// PeerRegistry tracks the peers currently connected to this server.
type PeerRegistry struct {
	mu    sync.RWMutex
	peers map[string]*peerRecord
}

func NewPeerRegistry() *PeerRegistry {
	return &PeerRegistry{peers: make(map[string]*peerRecord)}
}

// Register adds a peer. A live peer with the same id is never overwritten.
func (r *PeerRegistry) Register(peerID string, handle models.Handle, extra models.Extra) (Peer, error) {
	if strings.TrimSpace(peerID) == "" {
		return Peer{}, NewError(CodeInvalidRequest, ReasonPeerIDMissing)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.peers[peerID]; exists {
		return Peer{}, NewError(CodeAlreadyTaken, ReasonUserIDTaken)
	}
	rec := &peerRecord{
		id:            peerID,
		handle:        handle,
		connectedWith: make(map[string]models.Handle),
		extra:         extra.Clone(),
		connectedAt:   time.Now(),
	}
	r.peers[peerID] = rec
	return rec.snapshot(), nil
}

// SuggestID returns an id that is not in use right now.
func (r *PeerRegistry) SuggestID() string {
	for {
		id := uuid.NewString()
		if !r.Exists(id) {
			return id
		}
	}
}

// Rename re-keys a peer in place. Links held by other peers are re-keyed too
// so both directions of every link survive the rename.
func (r *PeerRegistry) Rename(oldID, newID string) error {
	if strings.TrimSpace(newID) == "" {
		return NewError(CodeInvalidRequest, ReasonPeerIDMissing)
	}
	if oldID == newID {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.peers[oldID]
	if !ok {
		return NewError(CodeNotFound, ReasonUserIDNotAvailable)
	}
	if _, taken := r.peers[newID]; taken {
		return NewError(CodeAlreadyTaken, ReasonUserIDTaken)
	}

	delete(r.peers, oldID)
	rec.id = newID
	r.peers[newID] = rec

	for remoteID := range rec.connectedWith {
		remote, ok := r.peers[remoteID]
		if !ok {
			continue
		}
		if h, linked := remote.connectedWith[oldID]; linked {
			delete(remote.connectedWith, oldID)
			remote.connectedWith[newID] = h
		}
	}
	return nil
}

// UpdateExtra replaces the peer's metadata and returns the peers linked with it.
func (r *PeerRegistry) UpdateExtra(peerID string, extra models.Extra) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.peers[peerID]
	if !ok {
		return nil, NewError(CodeNotFound, ReasonUserIDNotAvailable)
	}
	rec.extra = extra.Clone()
	if rec.binding != nil {
		rec.binding.Extra = extra.Clone()
	}

	linked := make([]string, 0, len(rec.connectedWith))
	for id := range rec.connectedWith {
		linked = append(linked, id)
	}
	sort.Strings(linked)
	return linked, nil
}

func (r *PeerRegistry) Extra(peerID string) (models.Extra, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.peers[peerID]
	if !ok {
		return nil, false
	}
	return rec.extra.Clone(), true
}

// Link records a directed signaling link from peerID to remoteID. The caller
// links the reverse direction explicitly.
func (r *PeerRegistry) Link(peerID, remoteID string, handle models.Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.peers[peerID]
	if !ok {
		return NewError(CodeNotFound, ReasonUserIDNotAvailable)
	}
	rec.connectedWith[remoteID] = handle
	return nil
}

// Unlink removes the directed link and reports whether one existed.
func (r *PeerRegistry) Unlink(peerID, remoteID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.peers[peerID]
	if !ok {
		return false
	}
	if _, linked := rec.connectedWith[remoteID]; !linked {
		return false
	}
	delete(rec.connectedWith, remoteID)
	return true
}

// LinkHandle returns the handle stored on the peerID -> remoteID link.
func (r *PeerRegistry) LinkHandle(peerID, remoteID string) (models.Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.peers[peerID]
	if !ok {
		return nil, false
	}
	h, linked := rec.connectedWith[remoteID]
	return h, linked
}

func (r *PeerRegistry) Linked(peerID, remoteID string) bool {
	_, ok := r.LinkHandle(peerID, remoteID)
	return ok
}

// Links returns the remote ids peerID is linked with, sorted.
func (r *PeerRegistry) Links(peerID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.peers[peerID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(rec.connectedWith))
	for id := range rec.connectedWith {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Bind records the session the peer most recently opened or joined. A nil
// binding clears it.
func (r *PeerRegistry) Bind(peerID string, binding *models.SessionBinding) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.peers[peerID]
	if !ok {
		return NewError(CodeNotFound, ReasonUserIDNotAvailable)
	}
	if binding == nil {
		rec.binding = nil
		return nil
	}
	b := *binding
	b.Extra = b.Extra.Clone()
	rec.binding = &b
	return nil
}

func (r *PeerRegistry) Binding(peerID string) (models.SessionBinding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.peers[peerID]
	if !ok || rec.binding == nil {
		return models.SessionBinding{}, false
	}
	b := *rec.binding
	b.Extra = b.Extra.Clone()
	return b, true
}

func (r *PeerRegistry) Handle(peerID string) (models.Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.peers[peerID]
	if !ok {
		return nil, false
	}
	return rec.handle, rec.handle != nil
}

func (r *PeerRegistry) Exists(peerID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.peers[peerID]
	return ok
}

func (r *PeerRegistry) Get(peerID string) (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.peers[peerID]
	if !ok {
		return Peer{}, false
	}
	return rec.snapshot(), true
}

// Remove deletes the peer record. It does not touch rooms or broadcast trees.
func (r *PeerRegistry) Remove(peerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.peers[peerID]; !ok {
		return false
	}
	delete(r.peers, peerID)
	return true
}

// RemoveIfHandle deletes the peer only while it is still owned by handle, so a
// stale connection can never remove a peer that re-registered the same id.
func (r *PeerRegistry) RemoveIfHandle(peerID string, handle models.Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.peers[peerID]
	if !ok || rec.handle != handle {
		return false
	}
	delete(r.peers, peerID)
	return true
}

// OwnedBy reports whether peerID is currently registered to handle.
func (r *PeerRegistry) OwnedBy(peerID string, handle models.Handle) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.peers[peerID]
	return ok && rec.handle == handle
}

func (r *PeerRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// IDs returns every live peer id, sorted.
func (r *PeerRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.peers))
	for id := range r.peers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// All returns a snapshot of every peer, sorted by id.
func (r *PeerRegistry) All() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Peer, 0, len(r.peers))
	for _, rec := range r.peers {
		out = append(out, rec.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
