package metrics

import "sync"

// Relay counter names.
const (
	ConnectionsOpened  = "connections_opened"
	ConnectionsClosed  = "connections_closed"
	Joins              = "joins"
	MessagesReceived   = "messages_received"
	MessagesDelivered  = "messages_delivered"
	DeliveriesDropped  = "deliveries_dropped"
	RoomlessBroadcasts = "roomless_broadcasts"
	RoomlessRejected   = "roomless_rejected"
	InvalidFrames      = "invalid_frames"
)

// Metrics is a concurrency-safe counter registry.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
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

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return map[string]uint64{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
