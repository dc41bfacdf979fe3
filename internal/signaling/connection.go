package signaling

import (
	"sync"

	"github.com/mossy-p/signaling-relay/internal/admin"
	"github.com/mossy-p/signaling-relay/internal/models"
)

// ConnectionContext is the per-connection session state: who the connection
// is registered as and the parameters it connected with.
type ConnectionContext struct {
	handle models.Handle

	mu         sync.Mutex
	peerID     string
	registered bool
	isAdmin    bool
	adminCreds admin.Credentials

	opts connOptions

	closeOnce sync.Once
}

// connOptions are the parameters a connection registered with.
type connOptions struct {
	msgEvent        string
	maxParticipants int
	scalable        bool
	maxRelays       int
	autoClose       bool
}

func newConnectionContext(handle models.Handle) *ConnectionContext {
	return &ConnectionContext{handle: handle}
}

func (c *ConnectionContext) Handle() models.Handle {
	return c.handle
}

// PeerID returns the id the connection is registered as, or "" before
// registration succeeds.
func (c *ConnectionContext) PeerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.registered {
		return ""
	}
	return c.peerID
}

func (c *ConnectionContext) Registered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registered
}

// MessageEvent is the event name generic session messages use on this connection.
func (c *ConnectionContext) MessageEvent() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts.msgEvent
}

func (c *ConnectionContext) options() connOptions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts
}

func (c *ConnectionContext) IsAdmin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isAdmin
}

func (c *ConnectionContext) credentials() admin.Credentials {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.adminCreds
}

func (c *ConnectionContext) setPeerID(id string) {
	c.mu.Lock()
	c.peerID = id
	c.registered = true
	c.mu.Unlock()
}
