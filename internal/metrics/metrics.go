package metrics

import "sync"

// Counter names used by the signaling server.
const (
	Registers             = "registers"
	MintedIDs             = "minted_ids"
	Forwards              = "forwards"
	ForwardMisses         = "forward_misses"
	Broadcasts            = "peer_list_broadcasts"
	MalformedMessages     = "malformed_messages"
	RelayAuthOK           = "relay_auth_ok"
	RelayAuthFailed       = "relay_auth_failed"
	RelayPairsCreated     = "relay_pairs_created"
	RelayPairsRemoved     = "relay_pairs_removed"
	RelayFrames           = "relay_frames"
	RelayFrameMisses      = "relay_frame_misses"
	RelayUnauthorized     = "relay_unauthorized"
	DropReasonRateLimited = "rate_limited"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// A deployment that wants a real metrics backend can scrape the counters via
// PrometheusHandler; the registry exists to keep routing and relay policy
// observable and testable without a metrics dependency in the hot path.
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
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Add(name string, delta uint64) {
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
