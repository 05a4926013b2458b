package rtp

import (
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/opd-ai/callbridge/av/audio"
	"github.com/sirupsen/logrus"
)

var (
	// ErrInvalidCallID indicates an empty call identifier.
	ErrInvalidCallID = errors.New("call id cannot be empty")

	// ErrSessionExists indicates a session is already registered for the call.
	ErrSessionExists = errors.New("session already exists")

	// ErrInvalidEndpoint indicates a remote address or port that cannot be used.
	ErrInvalidEndpoint = errors.New("invalid remote endpoint")
)

// RandomSource supplies the initial SSRC and sequence number of new
// sessions. It does not need to be cryptographically strong.
type RandomSource interface {
	Uint32() uint32
}

type defaultRandom struct{}

func (defaultRandom) Uint32() uint32 { return rand.Uint32() }

// Statistics tracks per-session traffic counters.
type Statistics struct {
	PacketsSent     uint64
	PacketsReceived uint64
	BytesSent       uint64
	BytesReceived   uint64
	SendErrors      uint64
}

// Session represents the RTP state of a single call.
//
// The sequence number and timestamp advance only through the transport
// server's send path. Once ended a session never becomes active again.
type Session struct {
	mu          sync.RWMutex
	callID      string
	remote      *net.UDPAddr
	localPort   int
	payloadType PayloadType
	ssrc        uint32
	sequence    uint16
	timestamp   uint32
	active      bool
	created     time.Time

	remoteSSRC    uint32
	hasRemoteSSRC bool

	stats Statistics
}

// CallID returns the call this session belongs to.
func (s *Session) CallID() string {
	return s.callID
}

// RemoteAddr returns a copy of the current remote endpoint, or nil when the
// endpoint has not been provided or learned yet.
func (s *Session) RemoteAddr() *net.UDPAddr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneAddr(s.remote)
}

// LocalPort returns the transport port the session was created on.
func (s *Session) LocalPort() int {
	return s.localPort
}

// PayloadType returns the negotiated G.711 variant.
func (s *Session) PayloadType() PayloadType {
	return s.payloadType
}

// SSRC returns the synchronization source used for outbound packets.
func (s *Session) SSRC() uint32 {
	return s.ssrc
}

// SequenceNumber returns the sequence number of the next outbound packet.
func (s *Session) SequenceNumber() uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sequence
}

// Timestamp returns the timestamp of the next outbound packet.
func (s *Session) Timestamp() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timestamp
}

// Active reports whether the session can still send and receive.
func (s *Session) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Created returns the session creation time.
func (s *Session) Created() time.Time {
	return s.created
}

// RemoteSSRC returns the SSRC latched from the first inbound packet.
func (s *Session) RemoteSSRC() (uint32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.remoteSSRC, s.hasRemoteSSRC
}

// Statistics returns a snapshot of the session counters.
func (s *Session) Statistics() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// nextHeader reserves the header for an outbound frame of the given number
// of samples and advances the counters. It fails when the session has ended
// or has no remote endpoint.
func (s *Session) nextHeader(samples int) (Header, *net.UDPAddr, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active || s.remote == nil {
		return Header{}, nil, false
	}

	h := Header{
		Version:        Version,
		PayloadType:    s.payloadType,
		SequenceNumber: s.sequence,
		Timestamp:      s.timestamp,
		SSRC:           s.ssrc,
	}
	s.sequence++
	s.timestamp += uint32(samples)

	return h, cloneAddr(s.remote), true
}

func (s *Session) recordSent(bytes int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.stats.SendErrors++
		return
	}
	s.stats.PacketsSent++
	s.stats.BytesSent += uint64(bytes)
}

func (s *Session) recordReceived(bytes int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.PacketsReceived++
	s.stats.BytesReceived += uint64(bytes)
}

func (s *Session) deactivate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
}

// Registry maps call identifiers and remote endpoints to sessions.
//
// All methods are safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	sessions   map[string]*Session // callID -> Session
	byEndpoint map[string]*Session // "ip:port" -> Session
	random     RandomSource
	localPort  int
}

// NewRegistry creates an empty registry using math/rand/v2 for SSRC and
// initial sequence numbers.
func NewRegistry() *Registry {
	return NewRegistryWithRandomSource(defaultRandom{})
}

// NewRegistryWithRandomSource creates an empty registry drawing identifiers
// from the given source.
func NewRegistryWithRandomSource(random RandomSource) *Registry {
	if random == nil {
		random = defaultRandom{}
	}
	return &Registry{
		sessions:   make(map[string]*Session),
		byEndpoint: make(map[string]*Session),
		random:     random,
	}
}

// SetLocalPort records the port new sessions report as their local port.
func (r *Registry) SetLocalPort(port int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.localPort = port
}

// Create registers a new active session for a call.
//
// The remote endpoint may be provisional: it is replaced when media arrives
// from a different source and the session can be resolved unambiguously.
// An empty address leaves the endpoint unknown until the first packet.
//
// Parameters:
//   - callID: Call identifier, must be non-empty and unused
//   - address: Remote IP address or host name, may be empty
//   - port: Remote UDP port
//   - payloadType: PCMU or PCMA
//
// Returns:
//   - *Session: The new session
//   - error: ErrInvalidCallID, ErrSessionExists, ErrInvalidEndpoint or
//     audio.ErrUnsupportedPayloadType
func (r *Registry) Create(callID, address string, port int, payloadType PayloadType) (*Session, error) {
	if callID == "" {
		return nil, ErrInvalidCallID
	}
	if !payloadType.Valid() {
		return nil, fmt.Errorf("call %s: %w", callID, unsupportedPayloadType(payloadType))
	}

	var remote *net.UDPAddr
	if address != "" {
		if port <= 0 || port > 65535 {
			return nil, fmt.Errorf("%w: port %d", ErrInvalidEndpoint, port)
		}
		addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(address, strconv.Itoa(port)))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidEndpoint, err)
		}
		remote = addr
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[callID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, callID)
	}

	session := &Session{
		callID:      callID,
		remote:      remote,
		localPort:   r.localPort,
		payloadType: payloadType,
		ssrc:        r.random.Uint32(),
		sequence:    uint16(r.random.Uint32()),
		timestamp:   0,
		active:      true,
		created:     time.Now(),
	}

	r.sessions[callID] = session
	if remote != nil {
		key := endpointKey(remote)
		if previous, taken := r.byEndpoint[key]; taken {
			logrus.WithFields(logrus.Fields{
				"function": "Registry.Create",
				"call_id":  callID,
				"previous": previous.callID,
				"endpoint": key,
			}).Warn("Remote endpoint already registered, replacing mapping")
		}
		r.byEndpoint[key] = session
	}

	logrus.WithFields(logrus.Fields{
		"function":     "Registry.Create",
		"call_id":      callID,
		"remote":       keyOf(remote),
		"payload_type": payloadType.String(),
		"ssrc":         session.ssrc,
	}).Info("RTP session created")

	return session, nil
}

// Find returns the session for a call, or nil.
func (r *Registry) Find(callID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[callID]
}

// FindByEndpoint resolves a session from the source of an inbound packet.
//
// An exact endpoint match wins. Otherwise, when exactly one session is
// active, that session is re-pointed to the new endpoint and returned.
// In every other case the result is nil.
func (r *Registry) FindByEndpoint(address string, port int) *Session {
	ip := net.ParseIP(address)
	if ip == nil || port <= 0 || port > 65535 {
		return nil
	}
	return r.Resolve(&net.UDPAddr{IP: ip, Port: port}, 0, false)
}

// Resolve maps an inbound packet source to a session.
//
// Resolution order: exact endpoint match, then a session whose latched
// remote SSRC equals ssrc, then the single active session. A session found
// by the last two rules has its remote endpoint replaced by src. The first
// packet resolved to a session latches its SSRC when hasSSRC is set.
func (r *Registry) Resolve(src *net.UDPAddr, ssrc uint32, hasSSRC bool) *Session {
	if src == nil {
		return nil
	}
	key := endpointKey(src)

	r.mu.Lock()
	defer r.mu.Unlock()

	if session, ok := r.byEndpoint[key]; ok {
		if hasSSRC {
			session.latchSSRC(ssrc)
		}
		return session
	}

	var match *Session
	if hasSSRC {
		for _, session := range r.sessions {
			if latched, ok := session.RemoteSSRC(); ok && latched == ssrc {
				match = session
				break
			}
		}
	}
	if match == nil && len(r.sessions) == 1 {
		for _, session := range r.sessions {
			match = session
		}
	}
	if match == nil {
		return nil
	}

	r.repoint(match, src, key)
	if hasSSRC {
		match.latchSSRC(ssrc)
	}
	return match
}

// repoint must be called with r.mu held.
func (r *Registry) repoint(session *Session, src *net.UDPAddr, key string) {
	session.mu.Lock()
	old := session.remote
	session.remote = cloneAddr(src)
	session.mu.Unlock()

	if old != nil {
		oldKey := endpointKey(old)
		if r.byEndpoint[oldKey] == session {
			delete(r.byEndpoint, oldKey)
		}
	}
	r.byEndpoint[key] = session

	logrus.WithFields(logrus.Fields{
		"function": "Registry.repoint",
		"call_id":  session.callID,
		"previous": keyOf(old),
		"remote":   key,
	}).Info("Learned remote media endpoint")
}

func (s *Session) latchSSRC(ssrc uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasRemoteSSRC {
		s.remoteSSRC = ssrc
		s.hasRemoteSSRC = true
	}
}

// End deactivates and removes the session for a call. Ending an unknown or
// already ended call does nothing.
func (r *Registry) End(callID string) {
	r.mu.Lock()
	session, ok := r.sessions[callID]
	if ok {
		r.remove(session)
	}
	r.mu.Unlock()

	if ok {
		logrus.WithFields(logrus.Fields{
			"function": "Registry.End",
			"call_id":  callID,
		}).Info("RTP session ended")
	}
}

// remove must be called with r.mu held.
func (r *Registry) remove(session *Session) {
	session.deactivate()
	delete(r.sessions, session.callID)
	for key, s := range r.byEndpoint {
		if s == session {
			delete(r.byEndpoint, key)
		}
	}
}

// Active returns a snapshot of all active sessions.
func (r *Registry) Active() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	return sessions
}

// Clear ends every session.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, session := range r.sessions {
		session.deactivate()
	}
	r.sessions = make(map[string]*Session)
	r.byEndpoint = make(map[string]*Session)
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func endpointKey(addr *net.UDPAddr) string {
	return net.JoinHostPort(addr.IP.String(), strconv.Itoa(addr.Port))
}

func keyOf(addr *net.UDPAddr) string {
	if addr == nil {
		return ""
	}
	return endpointKey(addr)
}

func cloneAddr(addr *net.UDPAddr) *net.UDPAddr {
	if addr == nil {
		return nil
	}
	ip := make(net.IP, len(addr.IP))
	copy(ip, addr.IP)
	return &net.UDPAddr{IP: ip, Port: addr.Port, Zone: addr.Zone}
}

func unsupportedPayloadType(pt PayloadType) error {
	return fmt.Errorf("%w: %d", audio.ErrUnsupportedPayloadType, uint8(pt))
}
