package client

import "testing"

func TestParseTURNURL(t *testing.T) {
	cases := []struct {
		in     string
		scheme string
		host   string
		port   int
	}{
		{"turn:relay.example.com", "turn", "relay.example.com", 3478},
		{"turn:relay.example.com:9000", "turn", "relay.example.com", 9000},
		{"turns:relay.example.com", "turns", "relay.example.com", 5349},
		{"turns:relay.example.com:443", "turns", "relay.example.com", 443},
		// An unparsable port falls back to the scheme default.
		{"turn:relay.example.com:nope", "turn", "relay.example.com", 3478},
	}
	for _, tc := range cases {
		u, err := parseTURNURL(tc.in)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.in, err)
		}
		if u.scheme != tc.scheme || u.host != tc.host || u.port != tc.port {
			t.Fatalf("parse %q = %+v, want %s host %s port %d", tc.in, u, tc.scheme, tc.host, tc.port)
		}
	}
}

func TestParseTURNURL_Rejects(t *testing.T) {
	for _, in := range []string{"stun:host", "relay.example.com", "turn:", "turns:"} {
		if _, err := parseTURNURL(in); err == nil {
			t.Fatalf("parse %q should fail", in)
		}
	}
}

func TestConfig_ICEServers(t *testing.T) {
	cfg := Config{
		TURNServers: []TURNServer{{URL: "turn:relay.example.com", Username: "u", Credential: "p"}},
	}
	cfg.withDefaults()

	servers, err := cfg.iceServers()
	if err != nil {
		t.Fatalf("ice servers: %v", err)
	}
	if len(servers) != len(DefaultSTUNServers)+1 {
		t.Fatalf("got %d servers", len(servers))
	}

	turn := servers[len(servers)-1]
	if turn.URLs[0] != "turn:relay.example.com:3478" {
		t.Fatalf("turn url = %q", turn.URLs[0])
	}
	if turn.Username != "u" || turn.Credential != "p" {
		t.Fatalf("turn credentials not carried: %+v", turn)
	}
}

func TestNew_RejectsBadConfig(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("missing signaling URL should fail")
	}
	_, err := New(Config{
		SignalingURL: "ws://localhost:8080/ws",
		TURNServers:  []TURNServer{{URL: "http://not-turn"}},
	})
	if err == nil {
		t.Fatal("invalid TURN URL should fail")
	}
}
