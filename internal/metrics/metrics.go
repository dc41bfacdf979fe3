package metrics

import "sync"

// Event counter names.
const (
	EventConnections     = "connections"
	EventDisconnects     = "disconnects"
	EventFramesIn        = "frames_in"
	EventFramesDropped   = "frames_dropped"
	EventDecodeErrors    = "decode_errors"
	EventRejected        = "rejected"
	EventRecoveredPanics = "recovered_panics"
	EventAdminAuthFailed = "admin_auth_failed"
)

// Metrics is a concurrency-safe counter registry with optional gauges that
// are sampled at scrape time.
type Metrics struct {
	mu     sync.Mutex
	m      map[string]uint64
	gauges map[string]func() int
}

func New() *Metrics {
	return &Metrics{
		m:      make(map[string]uint64),
		gauges: make(map[string]func() int),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Gauge registers fn to be sampled under name on every scrape.
func (m *Metrics) Gauge(name string, fn func() int) {
	m.mu.Lock()
	m.gauges[name] = fn
	m.mu.Unlock()
}

func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}

func (m *Metrics) sampleGauges() map[string]int {
	m.mu.Lock()
	fns := make(map[string]func() int, len(m.gauges))
	for k, fn := range m.gauges {
		fns[k] = fn
	}
	m.mu.Unlock()

	out := make(map[string]int, len(fns))
	for k, fn := range fns {
		out[k] = fn()
	}
	return out
}
