package signalserver

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/peerlink/peerlink/internal/protocol"
)

const writeWait = 1 * time.Second

// clientSession is one connected WebSocket. The identifier and the relay
// authentication flag are guarded by the hub mutex; the write path has its
// own mutex so forwards captured under the hub lock can send outside it.
type clientSession struct {
	conn *websocket.Conn
	log  *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once

	// Guarded by Hub.mu.
	id          string
	relayAuthed bool
}

func newClientSession(conn *websocket.Conn, log *slog.Logger) *clientSession {
	return &clientSession{conn: conn, log: log}
}

func (c *clientSession) send(env protocol.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// sendError delivers a human-readable error envelope. Send failures on a
// live-looking socket are logged and otherwise ignored.
func (c *clientSession) sendError(to, message string) {
	err := c.send(protocol.Envelope{Type: protocol.TypeError, To: to, Payload: message})
	if err != nil {
		c.log.Debug("error envelope send failed", "err", err)
	}
}

func (c *clientSession) closeWith(code int, reason string) {
	c.closeOnce.Do(func() {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		_ = c.conn.Close()
	})
}
