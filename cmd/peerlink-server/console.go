package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/peerlink/peerlink/internal/signalserver"
)

// runConsole reads operator commands from r until EOF or the quit command.
// quit is invoked at most once to trigger a graceful shutdown.
func runConsole(hub *signalserver.Hub, r io.Reader, w io.Writer, quit func()) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		switch cmd := strings.TrimSpace(scanner.Text()); cmd {
		case "":
		case "list":
			peers := hub.Peers()
			fmt.Fprintf(w, "%d peer(s) registered\n", len(peers))
			for _, id := range peers {
				fmt.Fprintf(w, "  %s\n", id)
			}
		case "relay":
			pairs := hub.RelayPairs()
			fmt.Fprintf(w, "%d relay pair(s)\n", len(pairs))
			for _, p := range pairs {
				fmt.Fprintf(w, "  %s <-> %s\n", p.Lo, p.Hi)
			}
		case "help":
			fmt.Fprint(w, consoleHelp)
		case "quit", "exit":
			quit()
			return
		default:
			fmt.Fprintf(w, "unknown command %q (try help)\n", cmd)
		}
	}
}

const consoleHelp = `commands:
  list   show registered peers
  relay  show active relay pairs
  help   show this help
  quit   shut the server down
`
