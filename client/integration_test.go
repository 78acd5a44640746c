package client_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v4/vnet"
	"github.com/pion/webrtc/v4"

	"github.com/peerlink/peerlink/client"
)

// newVNetAPI binds a pion API to a virtual network so the direct-connection
// test runs hermetically, without touching real interfaces or STUN.
func newVNetAPI(t *testing.T, router *vnet.Router, ip string) *webrtc.API {
	t.Helper()
	n, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{ip}})
	if err != nil {
		t.Fatalf("new net %s: %v", ip, err)
	}
	if err := router.AddNet(n); err != nil {
		t.Fatalf("add net %s: %v", ip, err)
	}

	se := webrtc.SettingEngine{}
	se.SetNet(n)
	return webrtc.NewAPI(webrtc.WithSettingEngine(se))
}

func TestDirectRoundTrip(t *testing.T) {
	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "10.0.0.0/24",
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	t.Cleanup(func() { _ = router.Stop() })

	apiA := newVNetAPI(t, router, "10.0.0.1")
	apiB := newVNetAPI(t, router, "10.0.0.2")

	if err := router.Start(); err != nil {
		t.Fatalf("start router: %v", err)
	}

	url := startServer(t, "")

	type textMsg struct {
		from, text string
	}
	var aConnected, bConnected atomic.Int32
	var aDisconnected atomic.Int32
	bTexts := make(chan textMsg, 4)
	aBinary := make(chan []byte, 4)
	aPeerUp := make(chan struct{}, 2)
	aPeerDown := make(chan struct{}, 2)

	a := connect(t, client.Config{
		SignalingURL: url,
		// The virtual network has no resolver for public STUN hosts; host
		// candidates are all the test needs.
		STUNServers: []string{"stun:10.0.0.250:3478"},
		WebRTCAPI:   apiA,
		Callbacks: client.Callbacks{
			OnPeerConnected: func(string) {
				aConnected.Add(1)
				aPeerUp <- struct{}{}
			},
			OnPeerDisconnected: func(string) {
				aDisconnected.Add(1)
				aPeerDown <- struct{}{}
			},
			OnBinaryMessage: func(_ string, data []byte) { aBinary <- data },
		},
	})
	b := connect(t, client.Config{
		SignalingURL: url,
		PeerID:       "bob",
		STUNServers:  []string{"stun:10.0.0.250:3478"},
		WebRTCAPI:    apiB,
		Callbacks: client.Callbacks{
			OnPeerConnected: func(string) { bConnected.Add(1) },
			OnTextMessage:   func(from, text string) { bTexts <- textMsg{from, text} },
		},
	})

	aID := a.LocalID()
	if aID != "peer_1" {
		t.Fatalf("a id = %q, want peer_1", aID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.ConnectToPeerWait(ctx, "bob"); err != nil {
		t.Fatalf("connect to bob: %v", err)
	}

	select {
	case <-aPeerUp:
	case <-time.After(5 * time.Second):
		t.Fatal("OnPeerConnected did not fire on a")
	}
	if !a.IsPeerConnected("bob") {
		t.Fatal("a does not report bob connected")
	}

	if !a.SendText("bob", "hi") {
		t.Fatal("direct send failed")
	}
	select {
	case msg := <-bTexts:
		if msg.from != aID || msg.text != "hi" {
			t.Fatalf("b received %+v", msg)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("b never received the direct text")
	}

	// Both directions work once the single negotiated channel is open.
	payload := []byte{1, 2, 3}
	if !b.SendBinary(aID, payload) {
		t.Fatal("reverse send failed")
	}
	select {
	case data := <-aBinary:
		if len(data) != 3 || data[0] != 1 || data[2] != 3 {
			t.Fatalf("a received %v", data)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("a never received the binary reply")
	}

	if n := a.BroadcastText("all"); n != 1 {
		t.Fatalf("broadcast reached %d peers, want 1", n)
	}

	peers := a.ConnectedPeers()
	if len(peers) != 1 || peers[0] != "bob" {
		t.Fatalf("connected peers = %v", peers)
	}

	a.DisconnectFromPeer("bob")
	select {
	case <-aPeerDown:
	case <-time.After(5 * time.Second):
		t.Fatal("OnPeerDisconnected did not fire")
	}

	// Connection events fire exactly once per session end.
	if got := aConnected.Load(); got != 1 {
		t.Fatalf("a OnPeerConnected fired %d times", got)
	}
	if got := bConnected.Load(); got != 1 {
		t.Fatalf("b OnPeerConnected fired %d times", got)
	}
	if got := aDisconnected.Load(); got != 1 {
		t.Fatalf("a OnPeerDisconnected fired %d times", got)
	}
}

func TestPeerInfo_RelayModeRequiresNoOpenChannel(t *testing.T) {
	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "10.0.1.0/24",
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	t.Cleanup(func() { _ = router.Stop() })

	apiA := newVNetAPI(t, router, "10.0.1.1")
	apiB := newVNetAPI(t, router, "10.0.1.2")

	if err := router.Start(); err != nil {
		t.Fatalf("start router: %v", err)
	}

	url := startServer(t, "secret")

	a := connect(t, client.Config{
		SignalingURL: url,
		STUNServers:  []string{"stun:10.0.1.250:3478"},
		WebRTCAPI:    apiA,
	})
	connect(t, client.Config{
		SignalingURL: url,
		PeerID:       "bob",
		STUNServers:  []string{"stun:10.0.1.250:3478"},
		WebRTCAPI:    apiB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.ConnectToPeerWait(ctx, "bob"); err != nil {
		t.Fatalf("connect to bob: %v", err)
	}

	if ok, err := a.AuthenticateRelay(context.Background(), "secret"); !ok {
		t.Fatalf("auth: %v", err)
	}
	if err := a.ConnectToPeerViaRelay("bob"); err != nil {
		t.Fatalf("relay connect: %v", err)
	}

	// Both paths are active; the open direct channel wins the report.
	info, ok := a.GetPeerInfo("bob")
	if !ok {
		t.Fatal("peer info missing")
	}
	if info.Channel != client.ChannelOpen {
		t.Fatalf("channel = %q, want open", info.Channel)
	}
	if info.RelayMode {
		t.Fatal("RelayMode must be false while the direct channel is open")
	}

	// With the direct session gone, the surviving relay pair is reported.
	a.DisconnectFromPeer("bob")
	info, ok = a.GetPeerInfo("bob")
	if !ok {
		t.Fatal("relay-only peer info missing")
	}
	if !info.RelayMode {
		t.Fatal("RelayMode must be true once only the relay pair remains")
	}
}
