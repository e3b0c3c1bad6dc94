package registry

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"

	"github.com/bootwake/bootwaked/internal/boot"
	"github.com/bootwake/bootwaked/internal/frame"
	"github.com/bootwake/bootwaked/internal/wire"
)

// replayConn prepends already-consumed bytes onto conn's read stream, so a
// frame read once to inspect its contents can be handed to a second reader
// as though nothing had been read at all.
type replayConn struct {
	net.Conn
	buf *bytes.Reader
}

func (c *replayConn) Read(p []byte) (int, error) {
	if c.buf.Len() > 0 {
		return c.buf.Read(p)
	}
	return c.Conn.Read(p)
}

// peekHostHandshakeMac reads the opening frame far enough to learn the
// connecting host's MAC — needed to route the connection before the real
// handshake runs — then returns a conn that replays those exact bytes to
// whichever reader performs that handshake next.
func peekHostHandshakeMac(conn net.Conn) (boot.MacAddress, net.Conn, error) {
	payload, err := frame.NewReader(conn).ReadFrame()
	if err != nil {
		return boot.MacAddress{}, nil, fmt.Errorf("registry: read handshake frame: %w", err)
	}
	hs, err := wire.DecodeHostHandshake(payload)
	if err != nil {
		return boot.MacAddress{}, nil, fmt.Errorf("registry: decode handshake: %w", err)
	}

	var lenPrefix [8]byte
	binary.LittleEndian.PutUint64(lenPrefix[:], uint64(len(payload)))
	replay := append(append([]byte(nil), lenPrefix[:]...), payload...)

	return hs.Mac, &replayConn{Conn: conn, buf: bytes.NewReader(replay)}, nil
}
