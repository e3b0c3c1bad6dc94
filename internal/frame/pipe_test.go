package frame

import (
	"net"
	"testing"

	"golang.org/x/net/nettest"
)

// newPipe returns a connected in-memory duplex pair for exercising reader
// and writer halves concurrently, the same shape net.Pipe gives production
// TCP connections.
func newPipe() (net.Conn, net.Conn) {
	return net.Pipe()
}

// TestPipeConformance runs the standard net.Conn conformance suite against
// the in-memory pipe the other tests in this package build frames over, so
// a future swap to a different test transport can't silently break a
// net.Conn contract the frame reader/writer relies on (deadlines, concurrent
// half-close, etc).
func TestPipeConformance(t *testing.T) {
	nettest.TestConn(t, func() (c1, c2 net.Conn, stop func(), err error) {
		c1, c2 = net.Pipe()
		return c1, c2, func() { c1.Close(); c2.Close() }, nil
	})
}
