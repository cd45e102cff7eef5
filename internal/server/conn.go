package server

import (
	"net"
	"sync"

	"github.com/redgreen/redgreen-server/internal/wire"
)

// secureConn binds a TCP connection to its per-session sealed codec.
// Writes are serialized so the room tick loop and the session can share the
// connection; reads have a single owner at any time (session loop, then the
// room's ingest goroutine).
type secureConn struct {
	conn    net.Conn
	codec   *wire.SealedCodec
	writeMu sync.Mutex
}

func newSecureConn(conn net.Conn, codec *wire.SealedCodec) *secureConn {
	return &secureConn{conn: conn, codec: codec}
}

// SendFrame seals and writes one frame.
func (c *secureConn) SendFrame(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.codec.WriteFrame(c.conn, payload)
}

// RecvFrame reads and opens one frame.
func (c *secureConn) RecvFrame() ([]byte, error) {
	return c.codec.ReadFrame(c.conn)
}

// Close tears the underlying connection down.
func (c *secureConn) Close() error {
	return c.conn.Close()
}
