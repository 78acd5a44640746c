// Package client is the peer library: it speaks the signaling protocol,
// orchestrates WebRTC negotiation per remote peer, and exposes a uniform
// send/receive surface across direct data channels and the server-side relay.
package client

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/peerlink/peerlink/internal/protocol"
)

// State is the signaling transport lifecycle.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateFailed       State = "failed"
)

// RelayAuthState tracks the session's standing with the relay gate.
type RelayAuthState string

const (
	AuthStateNone           RelayAuthState = "not_authenticated"
	AuthStateAuthenticating RelayAuthState = "authenticating"
	AuthStateAuthenticated  RelayAuthState = "authenticated"
	AuthStateFailed         RelayAuthState = "failed"
)

// Message is a received application payload, direct or relayed.
type Message struct {
	IsBinary bool
	Text     string
	Data     []byte
}

// PeerInfo is a point-in-time view of one peer relationship.
type PeerInfo struct {
	ID      string
	Channel ChannelState
	// RelayMode reports that the peer is reachable only through the relay
	// fabric: a relay pair exists and no direct channel is open.
	RelayMode bool
}

const signalingWriteWait = 5 * time.Second

// Client connects to one signaling server and manages any number of peer
// sessions on top of it. All methods are safe for concurrent use.
type Client struct {
	cfg Config
	cb  Callbacks
	log *slog.Logger

	api       *webrtc.API
	rtcConfig webrtc.Configuration

	// writeMu serializes writes to the signaling socket.
	writeMu sync.Mutex

	mu         sync.Mutex
	conn       *websocket.Conn
	state      State
	authState  RelayAuthState
	localID    string
	peers      map[string]*peerSession
	relayPeers map[string]struct{}
	registered chan string
	authCh     chan protocol.RelayAuthResult
}

func New(cfg Config) (*Client, error) {
	cfg.withDefaults()
	if cfg.SignalingURL == "" {
		return nil, newError(InvalidData, "signaling URL is required")
	}

	servers, err := cfg.iceServers()
	if err != nil {
		return nil, newError(InvalidData, "%v", err)
	}

	api := cfg.WebRTCAPI
	if api == nil {
		se := webrtc.SettingEngine{
			LoggerFactory: slogLoggerFactory{log: cfg.Logger.With("component", "webrtc")},
		}
		api = webrtc.NewAPI(webrtc.WithSettingEngine(se))
	}

	return &Client{
		cfg:        cfg,
		cb:         cfg.Callbacks,
		log:        cfg.Logger,
		api:        api,
		rtcConfig:  webrtc.Configuration{ICEServers: servers},
		state:      StateDisconnected,
		authState:  AuthStateNone,
		peers:      make(map[string]*peerSession),
		relayPeers: make(map[string]struct{}),
	}, nil
}

// Connect opens the signaling transport, registers, and blocks until the
// server echoes the assigned identifier or the timeout elapses.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateConnected {
		c.mu.Unlock()
		return newError(InternalError, "already connected")
	}
	c.state = StateConnecting
	registered := make(chan string, 1)
	c.registered = registered
	c.mu.Unlock()
	c.fireStateChange(StateConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.cfg.SignalingURL, nil)
	if err != nil {
		cerr := newError(ConnectionFailed, "dial %s: %v", c.cfg.SignalingURL, err)
		c.failConnect(cerr)
		return cerr
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn)

	if err := c.sendEnvelope(protocol.Envelope{Type: protocol.TypeRegister, Payload: c.cfg.PeerID}); err != nil {
		conn.Close()
		cerr := newError(SignalingError, "register: %v", err)
		c.failConnect(cerr)
		return cerr
	}

	select {
	case id := <-registered:
		c.mu.Lock()
		c.localID = id
		c.state = StateConnected
		c.mu.Unlock()
		c.log.Info("connected to signaling server", "peer", id)
		c.fireStateChange(StateConnected)
		if cb := c.cb.OnConnected; cb != nil {
			cb()
		}
		return nil
	case <-dialCtx.Done():
		conn.Close()
		cerr := newError(Timeout, "timed out waiting for registration")
		c.failConnect(cerr)
		return cerr
	}
}

func (c *Client) failConnect(err Error) {
	c.mu.Lock()
	c.state = StateFailed
	c.conn = nil
	c.mu.Unlock()
	c.fireStateChange(StateFailed)
	c.emitError(err)
}

// Disconnect tears down every peer session, clears relay state, and closes
// the signaling transport. It is idempotent and safe from any goroutine.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	peers := c.peers
	c.peers = make(map[string]*peerSession)
	c.relayPeers = make(map[string]struct{})
	c.authState = AuthStateNone
	c.localID = ""
	already := c.state == StateDisconnected
	c.state = StateDisconnected
	c.mu.Unlock()

	for _, ps := range peers {
		ps.close()
	}

	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(signalingWriteWait))
		c.writeMu.Unlock()
		_ = conn.Close()
	}

	if !already {
		c.fireStateChange(StateDisconnected)
		if cb := c.cb.OnDisconnected; cb != nil {
			cb()
		}
	}
}

// LocalID returns the server-assigned identifier, empty before Connect
// completes.
func (c *Client) LocalID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localID
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) RelayAuthState() RelayAuthState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authState
}

func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// RequestPeerList asks the server for the current directory; the response
// arrives through OnPeerList.
func (c *Client) RequestPeerList() error {
	return c.sendEnvelope(protocol.Envelope{Type: protocol.TypePeerList})
}

// ConnectToPeer starts direct negotiation with the target as initiator. It
// returns as soon as the offer is on the wire; OnPeerConnected signals
// completion.
func (c *Client) ConnectToPeer(peerID string) error {
	if !c.IsConnected() {
		return newError(ConnectionFailed, "not connected to signaling server")
	}
	if peerID == "" {
		return newError(InvalidData, "empty peer identifier")
	}

	ps, err := c.newPeerSession(peerID, roleInitiator)
	if err != nil {
		return err
	}

	offer, err := ps.pc.CreateOffer(nil)
	if err == nil {
		err = ps.pc.SetLocalDescription(offer)
	}
	if err != nil {
		c.teardownPeer(ps)
		return newError(InternalError, "create offer for %s: %v", peerID, err)
	}

	payload := protocol.Description{Type: "offer", SDP: offer.SDP}.Encode()
	if err := c.sendEnvelope(protocol.Envelope{Type: protocol.TypeOffer, To: peerID, Payload: payload}); err != nil {
		c.teardownPeer(ps)
		return err
	}
	return nil
}

// ConnectToPeerWait is ConnectToPeer plus a bounded wait for the data channel
// to open.
func (c *Client) ConnectToPeerWait(ctx context.Context, peerID string) error {
	if err := c.ConnectToPeer(peerID); err != nil {
		return err
	}

	c.mu.Lock()
	ps := c.peers[peerID]
	c.mu.Unlock()
	if ps == nil {
		return newError(InternalError, "session for %s vanished", peerID)
	}

	select {
	case <-ps.opened:
		return nil
	case <-ctx.Done():
		return newError(Timeout, "timed out connecting to %s", peerID)
	}
}

// DisconnectFromPeer closes the direct session with the target, if any.
func (c *Client) DisconnectFromPeer(peerID string) {
	c.mu.Lock()
	ps := c.peers[peerID]
	c.mu.Unlock()
	if ps != nil {
		c.teardownPeer(ps)
	}
}

// ConnectedPeers returns the identifiers with an open data channel, sorted.
func (c *Client) ConnectedPeers() []string {
	c.mu.Lock()
	sessions := make([]*peerSession, 0, len(c.peers))
	for _, ps := range c.peers {
		sessions = append(sessions, ps)
	}
	c.mu.Unlock()

	var ids []string
	for _, ps := range sessions {
		if ps.channelOpen() {
			ids = append(ids, ps.id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (c *Client) IsPeerConnected(peerID string) bool {
	c.mu.Lock()
	ps := c.peers[peerID]
	c.mu.Unlock()
	return ps != nil && ps.channelOpen()
}

// GetPeerInfo reports the session and relay standing of one peer. The second
// return is false when the peer is neither negotiated nor relay-connected.
func (c *Client) GetPeerInfo(peerID string) (PeerInfo, bool) {
	c.mu.Lock()
	ps := c.peers[peerID]
	_, relayed := c.relayPeers[peerID]
	c.mu.Unlock()

	if ps == nil && !relayed {
		return PeerInfo{}, false
	}
	info := PeerInfo{ID: peerID, Channel: ChannelClosed}
	if ps != nil {
		info.Channel = ps.channelState()
	}
	info.RelayMode = relayed && info.Channel != ChannelOpen
	return info, true
}

// SendText delivers text over the direct data channel. It reports false and
// emits ChannelNotOpen when the channel is missing or not open.
func (c *Client) SendText(peerID, text string) bool {
	dc, ok := c.openChannel(peerID)
	if !ok {
		return false
	}
	if err := dc.SendText(text); err != nil {
		c.emitError(newError(InternalError, "send to %s: %v", peerID, err))
		return false
	}
	return true
}

// SendBinary delivers bytes over the direct data channel.
func (c *Client) SendBinary(peerID string, data []byte) bool {
	dc, ok := c.openChannel(peerID)
	if !ok {
		return false
	}
	if err := dc.Send(data); err != nil {
		c.emitError(newError(InternalError, "send to %s: %v", peerID, err))
		return false
	}
	return true
}

func (c *Client) openChannel(peerID string) (*webrtc.DataChannel, bool) {
	c.mu.Lock()
	ps := c.peers[peerID]
	c.mu.Unlock()
	if ps == nil || !ps.channelOpen() {
		c.emitError(newError(ChannelNotOpen, "channel not open to %s", peerID))
		return nil, false
	}
	return ps.channel(), true
}

// BroadcastText sends to every peer with an open channel and returns how many
// sends succeeded.
func (c *Client) BroadcastText(text string) int {
	return c.broadcast(func(dc *webrtc.DataChannel) error { return dc.SendText(text) })
}

func (c *Client) BroadcastBinary(data []byte) int {
	return c.broadcast(func(dc *webrtc.DataChannel) error { return dc.Send(data) })
}

func (c *Client) broadcast(send func(*webrtc.DataChannel) error) int {
	c.mu.Lock()
	sessions := make([]*peerSession, 0, len(c.peers))
	for _, ps := range c.peers {
		sessions = append(sessions, ps)
	}
	c.mu.Unlock()

	count := 0
	for _, ps := range sessions {
		if !ps.channelOpen() {
			continue
		}
		if err := send(ps.channel()); err == nil {
			count++
		}
	}
	return count
}

// AuthenticateRelay presents the shared secret and blocks until the server's
// verdict or the timeout. A false return with a nil error never happens: the
// error always explains the failure.
func (c *Client) AuthenticateRelay(ctx context.Context, secret string) (bool, error) {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return false, newError(ConnectionFailed, "not connected to signaling server")
	}
	c.authState = AuthStateAuthenticating
	authCh := make(chan protocol.RelayAuthResult, 1)
	c.authCh = authCh
	c.mu.Unlock()

	if err := c.sendEnvelope(protocol.Envelope{Type: protocol.TypeRelayAuth, Payload: secret}); err != nil {
		c.setAuthState(AuthStateFailed)
		return false, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.RelayAuthTimeout)
	defer cancel()

	select {
	case res := <-authCh:
		if res.Success {
			return true, nil
		}
		err := newError(RelayAuthFailed, "%s", res.Message)
		c.emitError(err)
		return false, err
	case <-waitCtx.Done():
		c.setAuthState(AuthStateFailed)
		err := newError(Timeout, "relay authentication timed out")
		c.emitError(err)
		return false, err
	}
}

// ConnectToPeerViaRelay registers the pair {self, target} at the server. The
// relay set is updated optimistically; the target learns of the pair through
// its own OnRelayConnected.
func (c *Client) ConnectToPeerViaRelay(peerID string) error {
	if peerID == "" {
		return newError(InvalidData, "empty peer identifier")
	}

	c.mu.Lock()
	authed := c.authState == AuthStateAuthenticated
	c.mu.Unlock()
	if !authed {
		err := newError(RelayNotAuthenticated, "relay authentication required before connecting to %s", peerID)
		c.emitError(err)
		return err
	}

	if err := c.sendEnvelope(protocol.Envelope{Type: protocol.TypeRelayConnect, To: peerID}); err != nil {
		return err
	}

	c.mu.Lock()
	c.relayPeers[peerID] = struct{}{}
	c.mu.Unlock()
	if cb := c.cb.OnRelayConnected; cb != nil {
		cb(peerID)
	}
	return nil
}

// DisconnectFromPeerViaRelay removes the pair and notifies the target.
func (c *Client) DisconnectFromPeerViaRelay(peerID string) error {
	c.mu.Lock()
	_, known := c.relayPeers[peerID]
	delete(c.relayPeers, peerID)
	c.mu.Unlock()

	if err := c.sendEnvelope(protocol.Envelope{Type: protocol.TypeRelayDisconnect, To: peerID}); err != nil {
		return err
	}
	if known {
		if cb := c.cb.OnRelayDisconnected; cb != nil {
			cb(peerID)
		}
	}
	return nil
}

// SendTextViaRelay forwards text through the server. Unlike
// ConnectToPeerViaRelay, it does not require local relay authentication:
// membership in the relay set is the only requirement, matching the server's
// authorization rule, so an invited peer may answer without ever holding the
// secret.
func (c *Client) SendTextViaRelay(peerID, text string) bool {
	return c.sendRelayData(peerID, protocol.NewTextRelayData(text))
}

func (c *Client) SendBinaryViaRelay(peerID string, data []byte) bool {
	return c.sendRelayData(peerID, protocol.NewBinaryRelayData(data))
}

func (c *Client) sendRelayData(peerID string, data protocol.RelayData) bool {
	c.mu.Lock()
	_, paired := c.relayPeers[peerID]
	c.mu.Unlock()
	if !paired {
		c.emitError(newError(SignalingError, "no relay connection with %s", peerID))
		return false
	}

	err := c.sendEnvelope(protocol.Envelope{
		Type:    protocol.TypeRelayData,
		To:      peerID,
		Payload: data.Encode(),
	})
	if err != nil {
		c.emitError(newError(SignalingError, "relay send to %s: %v", peerID, err))
		return false
	}
	return true
}

// RelayPeers returns the identifiers in the relay set, sorted.
func (c *Client) RelayPeers() []string {
	c.mu.Lock()
	ids := make([]string, 0, len(c.relayPeers))
	for id := range c.relayPeers {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	sort.Strings(ids)
	return ids
}

func (c *Client) sendEnvelope(env protocol.Envelope) error {
	c.mu.Lock()
	conn := c.conn
	if env.From == "" {
		env.From = c.localID
	}
	c.mu.Unlock()

	if conn == nil {
		return newError(ConnectionFailed, "signaling transport is not open")
	}

	data, err := env.Encode()
	if err != nil {
		return newError(InternalError, "encode %s: %v", string(env.Type), err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(signalingWriteWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return newError(SignalingError, "write %s: %v", string(env.Type), err)
	}
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.signalingClosed(conn)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := protocol.Decode(data)
		if err != nil {
			c.emitError(newError(InvalidData, "%v", err))
			continue
		}
		c.handleEnvelope(env)
	}
}

// signalingClosed runs when the read loop exits. If the socket is still the
// current one, the close came from the server side.
func (c *Client) signalingClosed(conn *websocket.Conn) {
	c.mu.Lock()
	current := c.conn == conn
	if current {
		c.conn = nil
	}
	wasConnected := c.state == StateConnected
	if current && wasConnected {
		c.state = StateDisconnected
		c.authState = AuthStateNone
	}
	c.mu.Unlock()

	if current && wasConnected {
		c.log.Info("signaling server closed the connection")
		c.fireStateChange(StateDisconnected)
		if cb := c.cb.OnDisconnected; cb != nil {
			cb()
		}
	}
}

func (c *Client) handleEnvelope(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeRegister:
		c.handleRegistered(env.Payload)
	case protocol.TypePeerList:
		peers, err := protocol.DecodePeerList(env.Payload)
		if err != nil {
			c.emitError(newError(InvalidData, "%v", err))
			return
		}
		if cb := c.cb.OnPeerList; cb != nil {
			cb(peers)
		}
	case protocol.TypeOffer:
		c.handleOffer(env)
	case protocol.TypeAnswer:
		c.handleAnswer(env)
	case protocol.TypeCandidate:
		c.handleCandidate(env)
	case protocol.TypeConnect:
		c.log.Debug("connect hint", "from", env.From)
	case protocol.TypeError:
		c.emitError(classifyServerError(env.Payload))
	case protocol.TypeRelayAuthResult:
		c.handleRelayAuthResult(env.Payload)
	case protocol.TypeRelayConnect:
		c.mu.Lock()
		c.relayPeers[env.From] = struct{}{}
		c.mu.Unlock()
		c.log.Info("relay pair established", "peer", env.From)
		if cb := c.cb.OnRelayConnected; cb != nil {
			cb(env.From)
		}
	case protocol.TypeRelayData:
		c.handleRelayData(env)
	case protocol.TypeRelayDisconnect:
		c.mu.Lock()
		_, known := c.relayPeers[env.From]
		delete(c.relayPeers, env.From)
		c.mu.Unlock()
		if known {
			c.log.Info("relay pair removed", "peer", env.From)
			if cb := c.cb.OnRelayDisconnected; cb != nil {
				cb(env.From)
			}
		}
	default:
		c.log.Debug("ignoring signaling message", "type", string(env.Type))
	}
}

func classifyServerError(message string) Error {
	switch {
	case strings.HasPrefix(message, "Peer not found"):
		return Error{Code: PeerNotFound, Message: message}
	case message == "Relay not authenticated":
		return Error{Code: RelayNotAuthenticated, Message: message}
	default:
		return Error{Code: SignalingError, Message: message}
	}
}

func (c *Client) handleRegistered(id string) {
	c.mu.Lock()
	c.localID = id
	registered := c.registered
	c.mu.Unlock()

	if registered != nil {
		select {
		case registered <- id:
		default:
		}
	}

	// Fetch the directory right away so OnPeerList fires without an explicit
	// request.
	_ = c.RequestPeerList()
}

func (c *Client) handleRelayAuthResult(payload string) {
	res, err := protocol.DecodeRelayAuthResult(payload)
	if err != nil {
		c.emitError(newError(InvalidData, "%v", err))
		return
	}

	c.mu.Lock()
	if res.Success {
		c.authState = AuthStateAuthenticated
	} else {
		c.authState = AuthStateFailed
	}
	authCh := c.authCh
	c.mu.Unlock()

	if authCh != nil {
		select {
		case authCh <- res:
		default:
		}
	}
}

func (c *Client) handleRelayData(env protocol.Envelope) {
	data, err := protocol.DecodeRelayData(env.Payload)
	if err != nil {
		c.emitError(newError(InvalidData, "%v", err))
		return
	}
	raw, err := data.Bytes()
	if err != nil {
		c.emitError(newError(InvalidData, "%v", err))
		return
	}

	// A relayed frame implies an active pair even if the local set missed the
	// relay_connect notification.
	c.mu.Lock()
	c.relayPeers[env.From] = struct{}{}
	c.mu.Unlock()

	if data.IsBinary {
		if cb := c.cb.OnBinaryMessage; cb != nil {
			cb(env.From, raw)
		}
		if cb := c.cb.OnMessage; cb != nil {
			cb(env.From, Message{IsBinary: true, Data: raw})
		}
		return
	}
	if cb := c.cb.OnTextMessage; cb != nil {
		cb(env.From, string(raw))
	}
	if cb := c.cb.OnMessage; cb != nil {
		cb(env.From, Message{Text: string(raw)})
	}
}

func (c *Client) handleOffer(env protocol.Envelope) {
	desc, err := protocol.DecodeDescription(env.Payload)
	if err != nil {
		c.emitError(newError(InvalidData, "offer from %s: %v", env.From, err))
		return
	}

	ps, err := c.newPeerSession(env.From, roleResponder)
	if err != nil {
		c.emitError(newError(InternalError, "%v", err))
		return
	}

	if err := ps.setRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: desc.SDP}); err != nil {
		c.emitError(newError(InternalError, "set offer from %s: %v", env.From, err))
		c.teardownPeer(ps)
		return
	}

	answer, err := ps.pc.CreateAnswer(nil)
	if err == nil {
		err = ps.pc.SetLocalDescription(answer)
	}
	if err != nil {
		c.emitError(newError(InternalError, "answer for %s: %v", env.From, err))
		c.teardownPeer(ps)
		return
	}

	payload := protocol.Description{Type: "answer", SDP: answer.SDP}.Encode()
	if err := c.sendEnvelope(protocol.Envelope{Type: protocol.TypeAnswer, To: env.From, Payload: payload}); err != nil {
		c.emitError(newError(SignalingError, "answer to %s: %v", env.From, err))
		c.teardownPeer(ps)
	}
}

func (c *Client) handleAnswer(env protocol.Envelope) {
	c.mu.Lock()
	ps := c.peers[env.From]
	c.mu.Unlock()
	if ps == nil {
		// No matching session; stale answer.
		return
	}

	desc, err := protocol.DecodeDescription(env.Payload)
	if err != nil {
		c.emitError(newError(InvalidData, "answer from %s: %v", env.From, err))
		return
	}
	if err := ps.setRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: desc.SDP}); err != nil {
		c.emitError(newError(InternalError, "set answer from %s: %v", env.From, err))
	}
}

func (c *Client) handleCandidate(env protocol.Envelope) {
	c.mu.Lock()
	ps := c.peers[env.From]
	c.mu.Unlock()
	if ps == nil {
		return
	}

	cand, err := protocol.DecodeCandidate(env.Payload)
	if err != nil {
		c.emitError(newError(InvalidData, "candidate from %s: %v", env.From, err))
		return
	}

	mid := cand.Mid
	init := webrtc.ICECandidateInit{Candidate: cand.Candidate, SDPMid: &mid}
	if err := ps.addRemoteCandidate(init); err != nil {
		c.emitError(newError(InternalError, "candidate from %s: %v", env.From, err))
	}
}

// newPeerSession builds a peer connection for the target and installs the
// signaling hooks. An existing session for the same identifier is replaced.
func (c *Client) newPeerSession(peerID string, r role) (*peerSession, error) {
	pc, err := c.api.NewPeerConnection(c.rtcConfig)
	if err != nil {
		return nil, newError(InternalError, "new peer connection: %v", err)
	}

	ps := &peerSession{
		id:     peerID,
		role:   r,
		pc:     pc,
		opened: make(chan struct{}),
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		init := cand.ToJSON()
		mid := ""
		if init.SDPMid != nil {
			mid = *init.SDPMid
		}
		payload := protocol.Candidate{Candidate: init.Candidate, Mid: mid}.Encode()
		if err := c.sendEnvelope(protocol.Envelope{Type: protocol.TypeCandidate, To: peerID, Payload: payload}); err != nil {
			c.log.Debug("candidate send failed", "peer", peerID, "err", err)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			c.teardownPeer(ps)
		}
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		c.attachChannel(ps, dc)
	})

	if r == roleInitiator {
		// Created before the offer so the SDP negotiates the channel.
		dc, err := pc.CreateDataChannel(DataChannelLabel, nil)
		if err != nil {
			_ = pc.Close()
			return nil, newError(InternalError, "create data channel: %v", err)
		}
		c.attachChannel(ps, dc)
	}

	c.mu.Lock()
	old := c.peers[peerID]
	c.peers[peerID] = ps
	c.mu.Unlock()
	if old != nil {
		old.close()
	}

	return ps, nil
}

func (c *Client) attachChannel(ps *peerSession, dc *webrtc.DataChannel) {
	ps.mu.Lock()
	ps.dc = dc
	ps.mu.Unlock()

	dc.OnOpen(func() {
		ps.connectedOnce.Do(func() {
			close(ps.opened)
			c.log.Info("data channel open", "peer", ps.id)
			if cb := c.cb.OnPeerConnected; cb != nil {
				cb(ps.id)
			}
		})
	})

	dc.OnClose(func() {
		c.teardownPeer(ps)
	})

	dc.OnError(func(err error) {
		c.emitError(newError(InternalError, "data channel with %s: %v", ps.id, err))
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if msg.IsString {
			text := string(msg.Data)
			if cb := c.cb.OnTextMessage; cb != nil {
				cb(ps.id, text)
			}
			if cb := c.cb.OnMessage; cb != nil {
				cb(ps.id, Message{Text: text})
			}
			return
		}
		// Copy because pion reuses internal buffers.
		data := append([]byte(nil), msg.Data...)
		if cb := c.cb.OnBinaryMessage; cb != nil {
			cb(ps.id, data)
		}
		if cb := c.cb.OnMessage; cb != nil {
			cb(ps.id, Message{IsBinary: true, Data: data})
		}
	})
}

// teardownPeer removes the session and fires OnPeerDisconnected at most once.
func (c *Client) teardownPeer(ps *peerSession) {
	c.mu.Lock()
	if c.peers[ps.id] == ps {
		delete(c.peers, ps.id)
	}
	c.mu.Unlock()

	ps.disconnectedOnce.Do(func() {
		c.log.Info("peer session ended", "peer", ps.id)
		if cb := c.cb.OnPeerDisconnected; cb != nil {
			cb(ps.id)
		}
	})
	ps.close()
}

func (c *Client) setAuthState(s RelayAuthState) {
	c.mu.Lock()
	c.authState = s
	c.mu.Unlock()
}

func (c *Client) fireStateChange(s State) {
	if cb := c.cb.OnStateChange; cb != nil {
		cb(s)
	}
}

func (c *Client) emitError(err Error) {
	c.log.Debug("client error", "code", string(err.Code), "message", err.Message)
	if cb := c.cb.OnError; cb != nil {
		cb(err)
	}
}
