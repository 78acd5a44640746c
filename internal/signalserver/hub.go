// Package signalserver implements the WebSocket signaling service: the peer
// registry, control-envelope routing, the password-gated relay fabric, and
// disconnect cleanup.
package signalserver

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/peerlink/peerlink/internal/metrics"
	"github.com/peerlink/peerlink/internal/protocol"
	"github.com/peerlink/peerlink/internal/ratelimit"
	"github.com/peerlink/peerlink/internal/relay"
)

// Config wires together the runtime dependencies of the signaling hub.
type Config struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// RelaySecret gates relay pair creation. Empty disables relay
	// authentication entirely (every attempt fails).
	RelaySecret string

	// Inbound signaling hardening. Zero values fall back to defaults.
	MaxMessageBytes   int64
	MessagesPerSecond int

	// Clock drives the per-connection rate limiter; nil means wall clock.
	Clock ratelimit.Clock
}

const (
	defaultMaxMessageBytes   = 64 * 1024
	defaultMessagesPerSecond = 100
)

// Hub owns the peer registry and the relay pair table.
//
// Both live under one mutex: register, forward-lookup, pair insert/erase and
// the disconnect janitor all acquire it, so a forward racing a disconnect
// either finds a live session or fails with "not found" — it never writes to
// a session that has been erased. Sends happen outside the lock, on handles
// captured while it was held.
type Hub struct {
	log   *slog.Logger
	met   *metrics.Metrics
	gate  *relay.Gate
	clock ratelimit.Clock

	maxMessageBytes   int64
	messagesPerSecond int

	upgrader websocket.Upgrader

	mu      sync.Mutex
	peers   map[string]*clientSession
	pairs   *relay.PairTable
	counter int
}

func New(cfg Config) *Hub {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	met := cfg.Metrics
	if met == nil {
		met = metrics.New()
	}
	maxBytes := cfg.MaxMessageBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxMessageBytes
	}
	rate := cfg.MessagesPerSecond
	if rate <= 0 {
		rate = defaultMessagesPerSecond
	}
	clock := cfg.Clock
	if clock == nil {
		clock = ratelimit.RealClock{}
	}

	return &Hub{
		log:   log,
		met:   met,
		gate:  relay.NewGate(cfg.RelaySecret),
		clock: clock,

		maxMessageBytes:   maxBytes,
		messagesPerSecond: rate,

		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},

		peers: make(map[string]*clientSession),
		pairs: relay.NewPairTable(),
	}
}

// RegisterRoutes mounts the signaling endpoint. Clients may dial either the
// root path or /ws.
func (h *Hub) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.handleWebSocket)
	mux.HandleFunc("GET /ws", h.handleWebSocket)
}

func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	sess := newClientSession(conn, h.log)
	defer h.teardown(sess)
	defer sess.closeWith(websocket.CloseNormalClosure, "")

	conn.SetReadLimit(h.maxMessageBytes)
	limiter := ratelimit.NewTokenBucket(h.clock, int64(h.messagesPerSecond), int64(h.messagesPerSecond))

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			sess.closeWith(websocket.CloseUnsupportedData, "expected text message")
			return
		}
		if !limiter.Allow(1) {
			h.met.Inc(metrics.DropReasonRateLimited)
			sess.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		env, err := protocol.Decode(data)
		if err != nil {
			// Malformed envelopes are dropped without closing the socket.
			h.met.Inc(metrics.MalformedMessages)
			h.log.Warn("dropping malformed signaling message", "err", err, "peer", h.idOf(sess))
			continue
		}

		h.dispatch(sess, env)
	}
}

func (h *Hub) dispatch(sess *clientSession, env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeRegister:
		h.handleRegister(sess, env.Payload)
	case protocol.TypePeerList:
		h.handlePeerList(sess)
	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeCandidate:
		h.forward(sess, env)
	case protocol.TypeConnect:
		// Legacy connect hint: the target gets a fixed-payload notification.
		env.Payload = "connect_request"
		h.forward(sess, env)
	case protocol.TypeRelayAuth:
		h.handleRelayAuth(sess, env.Payload)
	case protocol.TypeRelayConnect:
		h.handleRelayConnect(sess, env.To)
	case protocol.TypeRelayData:
		h.handleRelayData(sess, env)
	case protocol.TypeRelayDisconnect:
		h.handleRelayDisconnect(sess, env.To)
	default:
		// chat rides the data channel; error and the server-to-client tags
		// have no meaning inbound.
		h.log.Debug("ignoring unexpected signaling message", "type", string(env.Type), "peer", h.idOf(sess))
	}
}

// handleRegister binds an identifier to the socket. An empty or already-taken
// requested identifier gets a minted replacement rather than an error. A
// repeat register on the same socket replaces the previous binding and tears
// down its relay pairs as if the old identifier had disconnected.
func (h *Hub) handleRegister(sess *clientSession, requested string) {
	h.mu.Lock()
	notices := h.detachLocked(sess)

	id := requested
	minted := false
	if id == "" || h.peers[id] != nil {
		for {
			h.counter++
			id = fmt.Sprintf("peer_%d", h.counter)
			if h.peers[id] == nil {
				break
			}
		}
		minted = true
	}
	sess.id = id
	h.peers[id] = sess
	h.mu.Unlock()

	h.deliverRelayDisconnects(notices)

	h.met.Inc(metrics.Registers)
	if minted {
		h.met.Inc(metrics.MintedIDs)
	}
	h.log.Info("client registered", "peer", id, "minted", minted)

	err := sess.send(protocol.Envelope{Type: protocol.TypeRegister, To: id, Payload: id})
	if err != nil {
		h.log.Warn("register reply failed", "peer", id, "err", err)
	}

	h.broadcastPeerList()
}

func (h *Hub) handlePeerList(sess *clientSession) {
	h.mu.Lock()
	self := sess.id
	ids := make([]string, 0, len(h.peers))
	for id := range h.peers {
		if id != self {
			ids = append(ids, id)
		}
	}
	h.mu.Unlock()

	sort.Strings(ids)
	err := sess.send(protocol.Envelope{
		Type:    protocol.TypePeerList,
		To:      self,
		Payload: protocol.EncodePeerList(ids),
	})
	if err != nil {
		h.log.Warn("peer list reply failed", "peer", self, "err", err)
	}
}

// broadcastPeerList pushes a fresh directory to every registered client,
// excluding each recipient from its own copy.
func (h *Hub) broadcastPeerList() {
	type entry struct {
		id   string
		sess *clientSession
	}

	h.mu.Lock()
	entries := make([]entry, 0, len(h.peers))
	for id, s := range h.peers {
		entries = append(entries, entry{id: id, sess: s})
	}
	h.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].id < entries[j].id })

	all := make([]string, len(entries))
	for i, e := range entries {
		all[i] = e.id
	}

	for i, e := range entries {
		filtered := make([]string, 0, len(all)-1)
		filtered = append(filtered, all[:i]...)
		filtered = append(filtered, all[i+1:]...)

		err := e.sess.send(protocol.Envelope{
			Type:    protocol.TypePeerList,
			To:      e.id,
			Payload: protocol.EncodePeerList(filtered),
		})
		if err != nil {
			h.log.Debug("peer list broadcast send failed", "peer", e.id, "err", err)
		}
	}

	h.met.Inc(metrics.Broadcasts)
}

// forward routes an envelope to its addressee, stamping from with the
// sender's registered identifier so forwarded origins cannot be spoofed.
func (h *Hub) forward(sess *clientSession, env protocol.Envelope) {
	h.mu.Lock()
	from := sess.id
	target := h.peers[env.To]
	h.mu.Unlock()

	if from == "" {
		sess.sendError("", "Not registered")
		return
	}
	if target == nil {
		h.met.Inc(metrics.ForwardMisses)
		sess.sendError(from, "Peer not found: "+env.To)
		return
	}

	env.From = from
	if err := target.send(env); err != nil {
		h.log.Warn("forward failed", "type", string(env.Type), "from", from, "to", env.To, "err", err)
		return
	}
	h.met.Inc(metrics.Forwards)
	h.log.Debug("forwarded", "type", string(env.Type), "from", from, "to", env.To)
}

func (h *Hub) handleRelayAuth(sess *clientSession, secret string) {
	verifyErr := h.gate.Verify(secret)

	h.mu.Lock()
	sess.relayAuthed = verifyErr == nil
	self := sess.id
	h.mu.Unlock()

	result := protocol.RelayAuthResult{Success: verifyErr == nil}
	switch {
	case verifyErr == nil:
		h.met.Inc(metrics.RelayAuthOK)
		h.log.Info("relay authenticated", "peer", self)
	case errors.Is(verifyErr, relay.ErrNotConfigured):
		h.met.Inc(metrics.RelayAuthFailed)
		result.Message = "Relay not configured"
	default:
		h.met.Inc(metrics.RelayAuthFailed)
		result.Message = "Invalid relay credentials"
	}

	err := sess.send(protocol.Envelope{
		Type:    protocol.TypeRelayAuthResult,
		To:      self,
		Payload: result.Encode(),
	})
	if err != nil {
		h.log.Warn("relay auth reply failed", "peer", self, "err", err)
	}
}

// handleRelayConnect establishes the unordered pair {sender, target}. Only
// the initiator needs to have authenticated; the target may use the pair
// without ever presenting the secret.
func (h *Hub) handleRelayConnect(sess *clientSession, target string) {
	h.mu.Lock()
	from := sess.id
	authed := sess.relayAuthed

	if !authed {
		h.mu.Unlock()
		h.met.Inc(metrics.RelayUnauthorized)
		sess.sendError(from, "Relay not authenticated")
		return
	}
	if target == "" {
		h.mu.Unlock()
		sess.sendError(from, "Missing relay target")
		return
	}
	targetSess := h.peers[target]
	if targetSess == nil {
		h.mu.Unlock()
		sess.sendError(from, "Peer not found: "+target)
		return
	}
	created := h.pairs.Add(from, target)
	h.mu.Unlock()

	if created {
		h.met.Inc(metrics.RelayPairsCreated)
		h.log.Info("relay pair created", "a", from, "b", target)
	}

	err := targetSess.send(protocol.Envelope{Type: protocol.TypeRelayConnect, From: from, To: target})
	if err != nil {
		h.log.Warn("relay connect notify failed", "from", from, "to", target, "err", err)
	}
}

// handleRelayData forwards an application frame if and only if the pair
// {sender, target} is active. The sender's authentication flag is not
// re-checked here: pair membership is the sole authorization for data.
func (h *Hub) handleRelayData(sess *clientSession, env protocol.Envelope) {
	h.mu.Lock()
	from := sess.id
	paired := from != "" && h.pairs.Has(from, env.To)
	targetSess := h.peers[env.To]
	h.mu.Unlock()

	if !paired || targetSess == nil {
		h.met.Inc(metrics.RelayFrameMisses)
		sess.sendError(from, "No relay connection with "+env.To)
		return
	}

	env.From = from
	if err := targetSess.send(env); err != nil {
		h.log.Warn("relay data forward failed", "from", from, "to", env.To, "err", err)
		return
	}
	h.met.Inc(metrics.RelayFrames)
}

func (h *Hub) handleRelayDisconnect(sess *clientSession, target string) {
	h.mu.Lock()
	from := sess.id
	removed := from != "" && h.pairs.Remove(from, target)
	targetSess := h.peers[target]
	h.mu.Unlock()

	if removed {
		h.met.Inc(metrics.RelayPairsRemoved)
		h.log.Info("relay pair removed", "a", from, "b", target)
	}
	if targetSess != nil {
		err := targetSess.send(protocol.Envelope{Type: protocol.TypeRelayDisconnect, From: from, To: target})
		if err != nil {
			h.log.Warn("relay disconnect notify failed", "from", from, "to", target, "err", err)
		}
	}
}

type relayNotice struct {
	target *clientSession
	from   string
	to     string
}

// detachLocked removes the session's registry entry and every relay pair
// containing its identifier. It returns the relay_disconnect notices owed to
// the other ends, to be delivered after the lock is released.
func (h *Hub) detachLocked(sess *clientSession) []relayNotice {
	id := sess.id
	if id == "" {
		return nil
	}
	sess.id = ""
	sess.relayAuthed = false

	if h.peers[id] == sess {
		delete(h.peers, id)
	}

	var notices []relayNotice
	for _, other := range h.pairs.RemovePeer(id) {
		if t := h.peers[other]; t != nil {
			notices = append(notices, relayNotice{target: t, from: id, to: other})
		}
	}
	return notices
}

func (h *Hub) deliverRelayDisconnects(notices []relayNotice) {
	for _, n := range notices {
		h.met.Inc(metrics.RelayPairsRemoved)
		err := n.target.send(protocol.Envelope{Type: protocol.TypeRelayDisconnect, From: n.from, To: n.to})
		if err != nil {
			h.log.Warn("relay disconnect notify failed", "from", n.from, "to", n.to, "err", err)
		}
	}
}

// teardown is the janitor run when a socket closes.
func (h *Hub) teardown(sess *clientSession) {
	h.mu.Lock()
	id := sess.id
	notices := h.detachLocked(sess)
	h.mu.Unlock()

	if id == "" {
		return
	}

	h.log.Info("client disconnected", "peer", id)
	h.deliverRelayDisconnects(notices)
	h.broadcastPeerList()
}

// Peers returns the registered identifiers, sorted.
func (h *Hub) Peers() []string {
	h.mu.Lock()
	ids := make([]string, 0, len(h.peers))
	for id := range h.peers {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	sort.Strings(ids)
	return ids
}

// RelayPairs returns the active relay pairs, sorted.
func (h *Hub) RelayPairs() []relay.PairKey {
	h.mu.Lock()
	keys := h.pairs.Keys()
	h.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Lo != keys[j].Lo {
			return keys[i].Lo < keys[j].Lo
		}
		return keys[i].Hi < keys[j].Hi
	})
	return keys
}

// Close shuts every connected session down. Read loops observe the closed
// sockets and run the janitor on their own goroutines.
func (h *Hub) Close() {
	h.mu.Lock()
	sessions := make([]*clientSession, 0, len(h.peers))
	for _, s := range h.peers {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.closeWith(websocket.CloseGoingAway, "server shutting down")
	}
}

func (h *Hub) idOf(sess *clientSession) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return sess.id
}
