package transport

import (
	"net"
)

// DatagramHandler processes one received datagram. The data slice is only
// valid for the duration of the call; handlers that keep it must copy it.
type DatagramHandler func(data []byte, addr net.Addr)

// Transport defines the interface for the datagram socket used by the RTP
// server. The abstraction lets tests substitute an in-memory transport.
type Transport interface {
	// Send writes one datagram to the specified address.
	Send(data []byte, addr net.Addr) error

	// Close shuts down the transport. No handler call is in progress or
	// started after Close returns.
	Close() error

	// LocalAddr returns the local address the transport is listening on.
	LocalAddr() net.Addr

	// RegisterHandler sets the handler invoked for every received datagram.
	RegisterHandler(handler DatagramHandler)
}

// ListenFunc binds a transport on a listen address such as ":10000".
type ListenFunc func(listenAddr string) (Transport, error)
