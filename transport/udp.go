package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/opd-ai/callbridge/limits"
	"github.com/sirupsen/logrus"
)

// readTimeout bounds each blocking read so the loop can observe shutdown.
const readTimeout = 100 * time.Millisecond

// UDPTransport implements Transport on a single UDP socket.
//
// Received datagrams are handled one at a time on a single goroutine, in
// arrival order. Handlers therefore never run concurrently with each other.
type UDPTransport struct {
	conn       net.PacketConn
	listenAddr net.Addr
	handler    DatagramHandler
	mu         sync.RWMutex
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	closeOnce  sync.Once
}

// NewUDPTransport binds a UDP socket on listenAddr and starts its receive loop.
func NewUDPTransport(listenAddr string) (Transport, error) {
	conn, err := net.ListenPacket("udp", listenAddr)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	transport := &UDPTransport{
		conn:       conn,
		listenAddr: conn.LocalAddr(),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	logrus.WithFields(logrus.Fields{
		"function":   "NewUDPTransport",
		"local_addr": transport.listenAddr.String(),
	}).Info("UDP transport listening")

	go transport.processPackets()

	return transport, nil
}

// RegisterHandler sets the handler for received datagrams.
func (t *UDPTransport) RegisterHandler(handler DatagramHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.handler = handler
}

// Send writes a datagram to the specified address.
func (t *UDPTransport) Send(data []byte, addr net.Addr) error {
	if err := limits.ValidateDatagramSize(data); err != nil {
		return err
	}
	_, err := t.conn.WriteTo(data, addr)
	return err
}

// Close shuts down the transport and waits for the receive loop to exit.
func (t *UDPTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.cancel()
		err = t.conn.Close()
		<-t.done

		logrus.WithFields(logrus.Fields{
			"function":   "UDPTransport.Close",
			"local_addr": t.listenAddr.String(),
		}).Info("UDP transport closed")
	})
	return err
}

// processPackets handles incoming packets until the transport is closed.
func (t *UDPTransport) processPackets() {
	defer close(t.done)
	buffer := make([]byte, limits.MaxDatagramSize)

	for {
		select {
		case <-t.ctx.Done():
			return
		default:
			if !t.processIncomingPacket(buffer) {
				return
			}
		}
	}
}

// processIncomingPacket reads and dispatches a single datagram. It returns
// false once the socket can no longer be read.
func (t *UDPTransport) processIncomingPacket(buffer []byte) bool {
	data, addr, err := t.readPacketData(buffer)
	if err != nil {
		return !t.handleReadError(err)
	}

	t.mu.RLock()
	handler := t.handler
	t.mu.RUnlock()

	if handler != nil {
		handler(data, addr)
	}
	return true
}

// readPacketData reads data from the connection with timeout handling.
func (t *UDPTransport) readPacketData(buffer []byte) ([]byte, net.Addr, error) {
	_ = t.conn.SetReadDeadline(time.Now().Add(readTimeout))

	n, addr, err := t.conn.ReadFrom(buffer)
	if err != nil {
		return nil, nil, err
	}

	return buffer[:n], addr, nil
}

// handleReadError classifies a read error and reports whether it is fatal
// for the receive loop.
func (t *UDPTransport) handleReadError(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return false
	}
	// Oversized datagrams and ICMP-induced errors are transient on UDP.
	logrus.WithFields(logrus.Fields{
		"function": "UDPTransport.handleReadError",
		"error":    err.Error(),
	}).Debug("Transient UDP read error")
	return false
}

// LocalAddr returns the local address the transport is listening on.
func (t *UDPTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}
