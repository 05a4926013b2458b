// Package transport provides the datagram socket used by the RTP media
// server.
//
// The Transport interface is intentionally small so the RTP server can be
// tested against an in-memory implementation:
//
//	type Transport interface {
//	    Send(data []byte, addr net.Addr) error
//	    Close() error
//	    LocalAddr() net.Addr
//	    RegisterHandler(handler DatagramHandler)
//	}
//
// # UDP Transport
//
//	t, err := NewUDPTransport(":10000")
//	t.RegisterHandler(func(data []byte, addr net.Addr) {
//	    // parse RTP
//	})
//
// A single goroutine reads the socket and invokes the handler inline, so
// datagrams from one socket are delivered in arrival order. Handlers must
// not block. Datagrams larger than limits.MaxDatagramSize are rejected on
// send and truncated on receive.
//
// # Thread Safety
//
// Send, LocalAddr and RegisterHandler are safe for concurrent use. Close
// waits for the read goroutine to exit, after which the handler is never
// invoked again.
package transport
