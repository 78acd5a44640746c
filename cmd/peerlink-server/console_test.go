package main

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/peerlink/peerlink/internal/signalserver"
)

func newConsoleHub() *signalserver.Hub {
	return signalserver.New(signalserver.Config{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestConsole_ListAndRelayEmpty(t *testing.T) {
	var out bytes.Buffer
	runConsole(newConsoleHub(), strings.NewReader("list\nrelay\n"), &out, func() {
		t.Fatal("quit must not fire")
	})

	got := out.String()
	if !strings.Contains(got, "0 peer(s) registered") {
		t.Fatalf("list output missing: %q", got)
	}
	if !strings.Contains(got, "0 relay pair(s)") {
		t.Fatalf("relay output missing: %q", got)
	}
}

func TestConsole_QuitStopsReading(t *testing.T) {
	var out bytes.Buffer
	quits := 0
	runConsole(newConsoleHub(), strings.NewReader("quit\nlist\n"), &out, func() { quits++ })

	if quits != 1 {
		t.Fatalf("quit fired %d times", quits)
	}
	if strings.Contains(out.String(), "peer(s) registered") {
		t.Fatal("console kept reading after quit")
	}
}

func TestConsole_UnknownAndHelp(t *testing.T) {
	var out bytes.Buffer
	runConsole(newConsoleHub(), strings.NewReader("bogus\nhelp\n"), &out, func() {})

	got := out.String()
	if !strings.Contains(got, `unknown command "bogus"`) {
		t.Fatalf("unknown command not reported: %q", got)
	}
	if !strings.Contains(got, "shut the server down") {
		t.Fatalf("help not printed: %q", got)
	}
}
