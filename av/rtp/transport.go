// Package rtp provides the RTP transport server.
//
// This file binds the shared UDP port, routes inbound RTP packets to the
// owning call session and sends outbound frames with the session's
// sequence number and timestamp.
package rtp

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/opd-ai/callbridge/av/audio"
	"github.com/opd-ai/callbridge/limits"
	"github.com/opd-ai/callbridge/transport"
	"github.com/sirupsen/logrus"
)

var (
	// ErrBind indicates the UDP socket could not be bound.
	ErrBind = errors.New("failed to bind rtp port")

	// ErrServerRunning indicates Start was called while the server was not stopped.
	ErrServerRunning = errors.New("rtp server already running")
)

// ServerState is the lifecycle state of a Server.
type ServerState int32

const (
	// ServerStopped means no socket is bound.
	ServerStopped ServerState = iota
	// ServerStarting means the socket is being bound.
	ServerStarting
	// ServerListening means the socket is bound and packets are processed.
	ServerListening
)

// String returns the state name.
func (s ServerState) String() string {
	switch s {
	case ServerStopped:
		return "stopped"
	case ServerStarting:
		return "starting"
	case ServerListening:
		return "listening"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Direction tells which leg an audio frame came from.
type Direction int

const (
	// DirectionInbound is audio received from the telephony side.
	DirectionInbound Direction = iota
	// DirectionOutbound is audio sent to the telephony side.
	DirectionOutbound
)

// AudioFrame is a block of decoded PCM16 audio belonging to one call.
type AudioFrame struct {
	CallID         string
	Samples        []int16
	SampleRate     int
	Channels       int
	Direction      Direction
	SequenceNumber uint16
	Timestamp      uint32
}

// FrameHandler receives decoded inbound frames. Handlers run on the receive
// goroutine and must not block.
type FrameHandler func(frame AudioFrame)

// dropReason indexes the per-kind drop counters.
type dropReason int

const (
	dropTooShort dropReason = iota
	dropBadVersion
	dropMalformed
	dropUnknownSession
	dropPayloadMismatch
	dropDecode
	dropReasonCount
)

var dropReasonNames = [dropReasonCount]string{
	"too_short",
	"unsupported_version",
	"malformed",
	"unknown_session",
	"payload_type_mismatch",
	"decode_failed",
}

// ServerStats is a snapshot of the server counters.
type ServerStats struct {
	PacketsReceived       uint64
	FramesEmitted         uint64
	PacketsSent           uint64
	SendErrors            uint64
	DroppedTooShort       uint64
	DroppedBadVersion     uint64
	DroppedMalformed      uint64
	DroppedUnknownSession uint64
	DroppedPayloadType    uint64
	DroppedDecode         uint64
}

// Server is the RTP transport server for all calls.
//
// One UDP port serves every session. Inbound packets are processed on the
// single receive goroutine of the underlying transport, in arrival order.
type Server struct {
	mu        sync.RWMutex
	state     ServerState
	transport transport.Transport
	listen    transport.ListenFunc
	registry  *Registry
	handlers  []FrameHandler

	received    atomic.Uint64
	emitted     atomic.Uint64
	sent        atomic.Uint64
	sendErrors  atomic.Uint64
	dropped     [dropReasonCount]atomic.Uint64
	dropLogged  [dropReasonCount]atomic.Bool
	sendLogOnce atomic.Bool
}

// NewServer creates a stopped server that binds real UDP sockets.
func NewServer() *Server {
	return NewServerWithListener(transport.NewUDPTransport, NewRegistry())
}

// NewServerWithListener creates a stopped server using the given listener
// and registry. Nil arguments fall back to the defaults.
func NewServerWithListener(listen transport.ListenFunc, registry *Registry) *Server {
	if listen == nil {
		listen = transport.NewUDPTransport
	}
	if registry == nil {
		registry = NewRegistry()
	}
	return &Server{
		state:    ServerStopped,
		listen:   listen,
		registry: registry,
	}
}

// Start binds the UDP port and begins processing packets.
//
// Parameters:
//   - port: UDP port to bind on all interfaces, 0 for an ephemeral port
//
// Returns:
//   - error: ErrServerRunning when not stopped, ErrBind wrapping the OS error
func (s *Server) Start(port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != ServerStopped {
		return fmt.Errorf("%w: state %s", ErrServerRunning, s.state)
	}
	s.state = ServerStarting

	listenAddr := fmt.Sprintf(":%d", port)
	t, err := s.listen(listenAddr)
	if err != nil {
		s.state = ServerStopped
		logrus.WithFields(logrus.Fields{
			"function": "Server.Start",
			"port":     port,
			"error":    err.Error(),
		}).Error("Failed to bind RTP port")
		return fmt.Errorf("%w: port %d: %w", ErrBind, port, err)
	}

	localPort := port
	if udpAddr, ok := t.LocalAddr().(*net.UDPAddr); ok {
		localPort = udpAddr.Port
	}
	s.registry.SetLocalPort(localPort)

	s.transport = t
	s.state = ServerListening
	t.RegisterHandler(s.handleDatagram)

	logrus.WithFields(logrus.Fields{
		"function":   "Server.Start",
		"local_addr": t.LocalAddr().String(),
	}).Info("RTP server listening")

	return nil
}

// Stop closes the socket and ends every session. Stopping a stopped server
// does nothing.
func (s *Server) Stop() error {
	s.mu.Lock()
	t := s.transport
	s.transport = nil
	wasRunning := s.state != ServerStopped
	s.state = ServerStopped
	s.mu.Unlock()

	s.registry.Clear()

	if !wasRunning || t == nil {
		return nil
	}

	// Close waits for the receive goroutine, so it must run without s.mu held.
	if err := t.Close(); err != nil {
		return fmt.Errorf("failed to close rtp transport: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Server.Stop",
	}).Info("RTP server stopped")
	return nil
}

// State returns the current lifecycle state.
func (s *Server) State() ServerState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// LocalAddr returns the bound address, or nil when stopped.
func (s *Server) LocalAddr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.transport == nil {
		return nil
	}
	return s.transport.LocalAddr()
}

// Registry returns the session registry used by the server.
func (s *Server) Registry() *Registry {
	return s.registry
}

// CreateSession registers a session for a call. See Registry.Create.
func (s *Server) CreateSession(callID, address string, port int, payloadType PayloadType) (*Session, error) {
	return s.registry.Create(callID, address, port, payloadType)
}

// EndSession ends the session for a call. Unknown calls are ignored.
func (s *Server) EndSession(callID string) {
	s.registry.End(callID)
}

// Session returns the active session for a call.
func (s *Server) Session(callID string) (*Session, bool) {
	session := s.registry.Find(callID)
	return session, session != nil
}

// OnAudioFrame subscribes a handler to decoded inbound frames.
func (s *Server) OnAudioFrame(handler FrameHandler) {
	if handler == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, handler)
}

// Send encodes one frame of 8 kHz mono PCM16 and sends it to the call's
// remote endpoint.
//
// It returns false without side effects when the call has no active session,
// the session has no remote endpoint yet, the server is stopped, or the frame
// is empty or too large for one datagram. Network errors are logged and
// counted but still return true: the frame was consumed and the counters
// advanced.
func (s *Server) Send(callID string, pcm []int16) bool {
	if len(pcm) == 0 {
		return false
	}
	if err := limits.ValidateFrameSamples(len(pcm)); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Server.Send",
			"call_id":  callID,
			"error":    err.Error(),
		}).Debug("Rejecting outbound frame")
		return false
	}

	s.mu.RLock()
	t := s.transport
	s.mu.RUnlock()
	if t == nil {
		return false
	}

	session := s.registry.Find(callID)
	if session == nil {
		return false
	}

	payload, err := audio.EncodeBuffer(pcm, session.PayloadType())
	if err != nil {
		return false
	}

	header, dst, ok := session.nextHeader(len(pcm))
	if !ok {
		return false
	}

	data, err := Serialize(header, payload)
	if err != nil {
		return false
	}

	err = t.Send(data, dst)
	session.recordSent(len(data), err)
	if err != nil {
		s.sendErrors.Add(1)
		fields := logrus.Fields{
			"function": "Server.Send",
			"call_id":  callID,
			"remote":   dst.String(),
			"error":    err.Error(),
		}
		if s.sendLogOnce.CompareAndSwap(false, true) {
			logrus.WithFields(fields).Warn("Failed to send RTP packet")
		} else {
			logrus.WithFields(fields).Debug("Failed to send RTP packet")
		}
		return true
	}

	s.sent.Add(1)
	return true
}

// Stats returns a snapshot of the server counters.
func (s *Server) Stats() ServerStats {
	return ServerStats{
		PacketsReceived:       s.received.Load(),
		FramesEmitted:         s.emitted.Load(),
		PacketsSent:           s.sent.Load(),
		SendErrors:            s.sendErrors.Load(),
		DroppedTooShort:       s.dropped[dropTooShort].Load(),
		DroppedBadVersion:     s.dropped[dropBadVersion].Load(),
		DroppedMalformed:      s.dropped[dropMalformed].Load(),
		DroppedUnknownSession: s.dropped[dropUnknownSession].Load(),
		DroppedPayloadType:    s.dropped[dropPayloadMismatch].Load(),
		DroppedDecode:         s.dropped[dropDecode].Load(),
	}
}

// handleDatagram runs on the transport receive goroutine.
func (s *Server) handleDatagram(data []byte, addr net.Addr) {
	s.received.Add(1)

	packet, err := Parse(data)
	if err != nil {
		switch {
		case errors.Is(err, ErrTooShort):
			s.drop(dropTooShort, addr, err)
		case errors.Is(err, ErrUnsupportedVersion):
			s.drop(dropBadVersion, addr, err)
		default:
			s.drop(dropMalformed, addr, err)
		}
		return
	}

	src, ok := addr.(*net.UDPAddr)
	if !ok {
		resolved, err := net.ResolveUDPAddr("udp", addr.String())
		if err != nil {
			s.drop(dropUnknownSession, addr, err)
			return
		}
		src = resolved
	}

	session := s.registry.Resolve(src, packet.SSRC, true)
	if session == nil {
		s.drop(dropUnknownSession, addr, nil)
		return
	}

	// Telephone-event and comfort-noise packets share the stream but are
	// not G.711 audio.
	if packet.PayloadType != session.PayloadType() {
		s.drop(dropPayloadMismatch, addr, nil)
		return
	}

	samples, err := audio.DecodeBuffer(packet.Payload, session.PayloadType())
	if err != nil {
		s.drop(dropDecode, addr, err)
		return
	}
	session.recordReceived(len(data))
	if len(samples) == 0 {
		// Keepalive: the endpoint is learned but there is no audio to emit.
		return
	}

	s.mu.RLock()
	handlers := s.handlers
	s.mu.RUnlock()

	frame := AudioFrame{
		CallID:         session.CallID(),
		Samples:        samples,
		SampleRate:     ClockRate,
		Channels:       audio.Channels,
		Direction:      DirectionInbound,
		SequenceNumber: packet.SequenceNumber,
		Timestamp:      packet.Timestamp,
	}
	for _, handler := range handlers {
		handler(frame)
	}
	s.emitted.Add(1)
}

func (s *Server) drop(reason dropReason, addr net.Addr, err error) {
	s.dropped[reason].Add(1)
	if !s.dropLogged[reason].CompareAndSwap(false, true) {
		return
	}

	fields := logrus.Fields{
		"function": "Server.handleDatagram",
		"reason":   dropReasonNames[reason],
	}
	if addr != nil {
		fields["source"] = addr.String()
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	logrus.WithFields(fields).Debug("Dropping inbound datagram")
}
