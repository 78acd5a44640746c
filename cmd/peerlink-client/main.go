// Command peerlink-client is an interactive shell around the client library,
// useful for poking at a signaling server by hand.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/peerlink/peerlink/client"
)

func main() {
	server := flag.String("server", "ws://localhost:8080/ws", "signaling server URL")
	peerID := flag.String("id", "", "requested peer identifier (empty lets the server mint one)")
	logLevel := flag.String("log-level", "warn", "log level: debug, info, warn or error")
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %q\n", *logLevel)
		os.Exit(2)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	c, err := client.New(client.Config{
		SignalingURL: *server,
		PeerID:       *peerID,
		Logger:       logger,
		Callbacks: client.Callbacks{
			OnConnected: func() {
				fmt.Println("* connected to signaling server")
			},
			OnDisconnected: func() {
				fmt.Println("* disconnected from signaling server")
			},
			OnPeerList: func(peers []string) {
				fmt.Printf("* peers: %s\n", strings.Join(peers, ", "))
			},
			OnPeerConnected: func(peer string) {
				fmt.Printf("* direct channel open with %s\n", peer)
			},
			OnPeerDisconnected: func(peer string) {
				fmt.Printf("* direct channel closed with %s\n", peer)
			},
			OnRelayConnected: func(peer string) {
				fmt.Printf("* relay pair established with %s\n", peer)
			},
			OnRelayDisconnected: func(peer string) {
				fmt.Printf("* relay pair removed with %s\n", peer)
			},
			OnTextMessage: func(from, text string) {
				fmt.Printf("<%s> %s\n", from, text)
			},
			OnBinaryMessage: func(from string, data []byte) {
				fmt.Printf("<%s> [%d binary bytes]\n", from, len(data))
			},
			OnError: func(err client.Error) {
				fmt.Printf("! %s: %s\n", err.Code, err.Message)
			},
		},
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = c.Connect(ctx)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer c.Disconnect()

	fmt.Printf("registered as %s (type help for commands)\n", c.LocalID())
	repl(c, os.Stdin)
}

func repl(c *client.Client, in *os.File) {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		cmd, args := fields[0], fields[1:]

		switch cmd {
		case "list":
			if err := c.RequestPeerList(); err != nil {
				fmt.Println("!", err)
			}
		case "connect":
			if len(args) != 1 {
				fmt.Println("usage: connect <peer>")
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			err := c.ConnectToPeerWait(ctx, args[0])
			cancel()
			if err != nil {
				fmt.Println("!", err)
			}
		case "send":
			if len(args) < 2 {
				fmt.Println("usage: send <peer> <text>")
				continue
			}
			if !c.SendText(args[0], strings.Join(args[1:], " ")) {
				fmt.Println("! send failed")
			}
		case "broadcast":
			if len(args) < 1 {
				fmt.Println("usage: broadcast <text>")
				continue
			}
			n := c.BroadcastText(strings.Join(args, " "))
			fmt.Printf("sent to %d peer(s)\n", n)
		case "peers":
			fmt.Printf("connected: %s\n", strings.Join(c.ConnectedPeers(), ", "))
		case "disconnect":
			if len(args) != 1 {
				fmt.Println("usage: disconnect <peer>")
				continue
			}
			c.DisconnectFromPeer(args[0])
		case "auth":
			if len(args) != 1 {
				fmt.Println("usage: auth <secret>")
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			ok, err := c.AuthenticateRelay(ctx, args[0])
			cancel()
			if err != nil {
				fmt.Println("!", err)
			} else if ok {
				fmt.Println("relay authenticated")
			}
		case "rconnect":
			if len(args) != 1 {
				fmt.Println("usage: rconnect <peer>")
				continue
			}
			if err := c.ConnectToPeerViaRelay(args[0]); err != nil {
				fmt.Println("!", err)
			}
		case "rsend":
			if len(args) < 2 {
				fmt.Println("usage: rsend <peer> <text>")
				continue
			}
			if !c.SendTextViaRelay(args[0], strings.Join(args[1:], " ")) {
				fmt.Println("! relay send failed")
			}
		case "rdisconnect":
			if len(args) != 1 {
				fmt.Println("usage: rdisconnect <peer>")
				continue
			}
			c.DisconnectFromPeerViaRelay(args[0])
		case "help":
			fmt.Print(replHelp)
		case "quit", "exit":
			return
		default:
			fmt.Printf("unknown command %q (try help)\n", cmd)
		}
	}
}

const replHelp = `commands:
  list                 request the peer directory
  connect <peer>       open a direct data channel
  send <peer> <text>   send text over the direct channel
  broadcast <text>     send text to every connected peer
  peers                show peers with open channels
  disconnect <peer>    close the direct channel
  auth <secret>        authenticate for relay operations
  rconnect <peer>      establish a relay pair
  rsend <peer> <text>  send text through the relay
  rdisconnect <peer>   tear the relay pair down
  help                 show this help
  quit                 exit
`
