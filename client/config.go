package client

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

// DefaultSTUNServers is used when Config.STUNServers is empty.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

const (
	defaultConnectTimeout   = 10 * time.Second
	defaultRelayAuthTimeout = 5 * time.Second

	turnDefaultPort    = 3478
	turnTLSDefaultPort = 5349
)

// TURNServer configures one TURN relay. URL uses turn:host[:port] or
// turns:host[:port] syntax; the port defaults to 3478 (plain) or 5349 (TLS).
type TURNServer struct {
	URL        string
	Username   string
	Credential string
}

// Callbacks are invoked from library goroutines; implementations must not
// block and must not call back into the client while holding their own locks
// that a callback-triggering call path may also want.
type Callbacks struct {
	OnConnected    func()
	OnDisconnected func()
	OnStateChange  func(State)

	OnPeerConnected    func(peerID string)
	OnPeerDisconnected func(peerID string)

	OnTextMessage   func(peerID, text string)
	OnBinaryMessage func(peerID string, data []byte)
	OnMessage       func(peerID string, msg Message)
	OnPeerList      func(peers []string)
	OnError         func(err Error)

	OnRelayConnected    func(peerID string)
	OnRelayDisconnected func(peerID string)
}

type Config struct {
	// SignalingURL is the ws:// or wss:// endpoint of the signaling server.
	SignalingURL string

	// PeerID is the requested identifier; empty lets the server mint one.
	PeerID string

	STUNServers []string
	TURNServers []TURNServer

	// ConnectTimeout bounds Connect's wait for the registration echo.
	ConnectTimeout time.Duration
	// RelayAuthTimeout bounds AuthenticateRelay's wait for the server verdict.
	RelayAuthTimeout time.Duration

	// WebRTCAPI overrides the pion API used to build peer connections. Leave
	// nil outside of tests that need custom transport settings.
	WebRTCAPI *webrtc.API

	Logger *slog.Logger

	Callbacks Callbacks
}

func (cfg *Config) withDefaults() {
	if len(cfg.STUNServers) == 0 {
		cfg.STUNServers = DefaultSTUNServers
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.RelayAuthTimeout <= 0 {
		cfg.RelayAuthTimeout = defaultRelayAuthTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
}

type turnURL struct {
	scheme string // "turn" or "turns"
	host   string
	port   int
}

func (u turnURL) String() string {
	return u.scheme + ":" + net.JoinHostPort(u.host, strconv.Itoa(u.port))
}

// parseTURNURL accepts turn:host[:port] and turns:host[:port]. A port that is
// present but unparsable falls back to the scheme default rather than failing,
// matching lenient real-world configs; a missing host is an error.
func parseTURNURL(raw string) (turnURL, error) {
	var u turnURL
	rest := raw
	switch {
	case strings.HasPrefix(rest, "turns:"):
		u.scheme = "turns"
		u.port = turnTLSDefaultPort
		rest = strings.TrimPrefix(rest, "turns:")
	case strings.HasPrefix(rest, "turn:"):
		u.scheme = "turn"
		u.port = turnDefaultPort
		rest = strings.TrimPrefix(rest, "turn:")
	default:
		return turnURL{}, fmt.Errorf("invalid TURN URL %q: expected turn: or turns: scheme", raw)
	}

	if idx := strings.LastIndex(rest, ":"); idx >= 0 {
		u.host = rest[:idx]
		if p, err := strconv.Atoi(rest[idx+1:]); err == nil && p > 0 && p < 65536 {
			u.port = p
		}
	} else {
		u.host = rest
	}

	if u.host == "" {
		return turnURL{}, fmt.Errorf("invalid TURN URL %q: missing host", raw)
	}
	return u, nil
}

// iceServers translates the configured STUN and TURN entries into the pion
// representation.
func (cfg Config) iceServers() ([]webrtc.ICEServer, error) {
	servers := make([]webrtc.ICEServer, 0, len(cfg.STUNServers)+len(cfg.TURNServers))
	for _, stun := range cfg.STUNServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{stun}})
	}
	for _, turn := range cfg.TURNServers {
		u, err := parseTURNURL(turn.URL)
		if err != nil {
			return nil, err
		}
		servers = append(servers, webrtc.ICEServer{
			URLs:       []string{u.String()},
			Username:   turn.Username,
			Credential: turn.Credential,
		})
	}
	return servers, nil
}
