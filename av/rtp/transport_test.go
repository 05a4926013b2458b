package rtp

import (
	"encoding/binary"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/callbridge/av/audio"
	"github.com/opd-ai/callbridge/limits"
	"github.com/opd-ai/callbridge/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockTransport records sent datagrams and lets tests inject received ones.
type MockTransport struct {
	mu      sync.Mutex
	handler transport.DatagramHandler
	sent    []sentDatagram
	sendErr error
	closed  bool
	local   *net.UDPAddr
}

type sentDatagram struct {
	data []byte
	addr net.Addr
}

func NewMockTransport() *MockTransport {
	return &MockTransport{local: &net.UDPAddr{IP: net.IPv4zero, Port: 10000}}
}

func (m *MockTransport) Send(data []byte, addr net.Addr) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	m.sent = append(m.sent, sentDatagram{data: buf, addr: addr})
	return nil
}

func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockTransport) LocalAddr() net.Addr { return m.local }

func (m *MockTransport) RegisterHandler(handler transport.DatagramHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
}

func (m *MockTransport) deliver(data []byte, addr net.Addr) {
	m.mu.Lock()
	handler := m.handler
	m.mu.Unlock()
	if handler != nil {
		handler(data, addr)
	}
}

func (m *MockTransport) sentDatagrams() []sentDatagram {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sentDatagram, len(m.sent))
	copy(out, m.sent)
	return out
}

func newTestServer(t *testing.T) (*Server, *MockTransport) {
	t.Helper()
	mock := NewMockTransport()
	listen := func(string) (transport.Transport, error) { return mock, nil }
	server := NewServerWithListener(listen, NewRegistryWithRandomSource(fixedRandom(0x00010203)))
	require.NoError(t, server.Start(10000))
	t.Cleanup(func() { server.Stop() })
	return server, mock
}

func collectFrames(server *Server) func() []AudioFrame {
	var mu sync.Mutex
	var frames []AudioFrame
	server.OnAudioFrame(func(frame AudioFrame) {
		mu.Lock()
		frames = append(frames, frame)
		mu.Unlock()
	})
	return func() []AudioFrame {
		mu.Lock()
		defer mu.Unlock()
		out := make([]AudioFrame, len(frames))
		copy(out, frames)
		return out
	}
}

func TestServer_StartStop(t *testing.T) {
	server, mock := newTestServer(t)
	assert.Equal(t, ServerListening, server.State())
	assert.Equal(t, mock.local, server.LocalAddr())

	err := server.Start(10000)
	assert.ErrorIs(t, err, ErrServerRunning)

	_, err = server.CreateSession("call-1", "10.0.0.5", 40000, PayloadTypePCMU)
	require.NoError(t, err)

	require.NoError(t, server.Stop())
	assert.Equal(t, ServerStopped, server.State())
	assert.True(t, mock.closed)
	assert.Equal(t, 0, server.Registry().Len())
	assert.Nil(t, server.LocalAddr())

	// Stopping twice is harmless.
	assert.NoError(t, server.Stop())
}

func TestServer_StartBindFailure(t *testing.T) {
	osErr := errors.New("address already in use")
	listen := func(string) (transport.Transport, error) { return nil, osErr }
	server := NewServerWithListener(listen, nil)

	err := server.Start(10000)
	assert.ErrorIs(t, err, ErrBind)
	assert.ErrorIs(t, err, osErr)
	assert.Equal(t, ServerStopped, server.State())
}

func TestServer_StartRealSocketConflict(t *testing.T) {
	first := NewServer()
	require.NoError(t, first.Start(0))
	defer first.Stop()

	port := first.LocalAddr().(*net.UDPAddr).Port
	second := NewServer()
	err := second.Start(port)
	assert.ErrorIs(t, err, ErrBind)
	assert.Equal(t, ServerStopped, second.State())
}

func TestServer_SendFrame(t *testing.T) {
	server, mock := newTestServer(t)
	session, err := server.CreateSession("call-1", "10.0.0.5", 40000, PayloadTypePCMU)
	require.NoError(t, err)
	startSeq := session.SequenceNumber()

	frame := make([]int16, SamplesPerFrame)
	require.True(t, server.Send("call-1", frame))

	sent := mock.sentDatagrams()
	require.Len(t, sent, 1)
	data := sent[0].data
	assert.Len(t, data, 172)
	assert.Equal(t, "10.0.0.5:40000", sent[0].addr.String())
	assert.Equal(t, byte(0x80), data[0])
	assert.Equal(t, byte(0x00), data[1])
	assert.Equal(t, startSeq, binary.BigEndian.Uint16(data[2:4]))
	assert.Equal(t, uint32(0), binary.BigEndian.Uint32(data[4:8]))
	assert.Equal(t, session.SSRC(), binary.BigEndian.Uint32(data[8:12]))
	for _, b := range data[12:] {
		assert.Equal(t, audio.EncodeMuLaw(0), b)
	}

	assert.Equal(t, startSeq+1, session.SequenceNumber())
	assert.Equal(t, uint32(160), session.Timestamp())
	assert.Equal(t, uint64(1), session.Statistics().PacketsSent)
	assert.Equal(t, uint64(1), server.Stats().PacketsSent)
}

func TestServer_SendCountersMonotonic(t *testing.T) {
	server, mock := newTestServer(t)
	session, err := server.CreateSession("call-1", "10.0.0.5", 40000, PayloadTypePCMA)
	require.NoError(t, err)
	start := session.SequenceNumber()

	sizes := []int{160, 80, 160, 1}
	for _, n := range sizes {
		require.True(t, server.Send("call-1", make([]int16, n)))
	}

	sent := mock.sentDatagrams()
	require.Len(t, sent, len(sizes))
	var wantTS uint32
	for i, d := range sent {
		packet, err := Parse(d.data)
		require.NoError(t, err)
		assert.Equal(t, start+uint16(i), packet.SequenceNumber)
		assert.Equal(t, wantTS, packet.Timestamp)
		assert.Equal(t, PayloadTypePCMA, packet.PayloadType)
		assert.Len(t, packet.Payload, sizes[i])
		wantTS += uint32(sizes[i])
	}
}

func TestServer_SendRejected(t *testing.T) {
	server, mock := newTestServer(t)
	session, err := server.CreateSession("call-1", "10.0.0.5", 40000, PayloadTypePCMU)
	require.NoError(t, err)
	_, err = server.CreateSession("no-endpoint", "", 0, PayloadTypePCMU)
	require.NoError(t, err)
	seq := session.SequenceNumber()

	assert.False(t, server.Send("unknown", make([]int16, 160)))
	assert.False(t, server.Send("call-1", nil))
	assert.False(t, server.Send("call-1", make([]int16, 9000)))
	assert.False(t, server.Send("call-1", make([]int16, 1600)))
	assert.False(t, server.Send("call-1", make([]int16, limits.MaxFrameSamples+1)))
	assert.False(t, server.Send("no-endpoint", make([]int16, 160)))

	server.EndSession("call-1")
	assert.False(t, server.Send("call-1", make([]int16, 160)))

	assert.Empty(t, mock.sentDatagrams())
	assert.Equal(t, seq, session.SequenceNumber())
}

func TestServer_SendLargestFrameFitsDatagram(t *testing.T) {
	require.Equal(t, HeaderSize, limits.RTPHeaderSize)

	server, mock := newTestServer(t)
	_, err := server.CreateSession("call-1", "10.0.0.5", 40000, PayloadTypePCMU)
	require.NoError(t, err)

	require.True(t, server.Send("call-1", make([]int16, limits.MaxFrameSamples)))
	sent := mock.sentDatagrams()
	require.Len(t, sent, 1)
	assert.NoError(t, limits.ValidateDatagramSize(sent[0].data))
}

func TestServer_SendNetworkErrorStillConsumes(t *testing.T) {
	server, mock := newTestServer(t)
	session, err := server.CreateSession("call-1", "10.0.0.5", 40000, PayloadTypePCMU)
	require.NoError(t, err)
	seq := session.SequenceNumber()

	mock.sendErr = errors.New("network unreachable")
	assert.True(t, server.Send("call-1", make([]int16, 160)))
	assert.Equal(t, seq+1, session.SequenceNumber())
	assert.Equal(t, uint64(1), session.Statistics().SendErrors)
	assert.Equal(t, uint64(1), server.Stats().SendErrors)
}

func TestServer_SendWhileStopped(t *testing.T) {
	server := NewServerWithListener(nil, nil)
	_, err := server.CreateSession("call-1", "10.0.0.5", 40000, PayloadTypePCMU)
	require.NoError(t, err)
	assert.False(t, server.Send("call-1", make([]int16, 160)))
}

func buildPacket(t *testing.T, pt PayloadType, seq uint16, ssrc uint32, samples []int16) []byte {
	t.Helper()
	payload, err := audio.EncodeBuffer(samples, pt)
	require.NoError(t, err)
	data, err := Serialize(Header{PayloadType: pt, SequenceNumber: seq, Timestamp: uint32(seq) * 160, SSRC: ssrc}, payload)
	require.NoError(t, err)
	return data
}

func TestServer_ReceiveFrame(t *testing.T) {
	server, mock := newTestServer(t)
	frames := collectFrames(server)
	_, err := server.CreateSession("call-1", "10.0.0.5", 40000, PayloadTypePCMU)
	require.NoError(t, err)

	samples := make([]int16, 160)
	for i := range samples {
		samples[i] = int16(i * 100)
	}
	mock.deliver(buildPacket(t, PayloadTypePCMU, 7, 99, samples), udpAddr(t, "10.0.0.5:40000"))

	got := frames()
	require.Len(t, got, 1)
	frame := got[0]
	assert.Equal(t, "call-1", frame.CallID)
	assert.Equal(t, 8000, frame.SampleRate)
	assert.Equal(t, 1, frame.Channels)
	assert.Equal(t, DirectionInbound, frame.Direction)
	assert.Equal(t, uint16(7), frame.SequenceNumber)
	require.Len(t, frame.Samples, 160)
	for i, s := range frame.Samples {
		assert.Equal(t, audio.DecodeMuLaw(audio.EncodeMuLaw(samples[i])), s)
	}
}

func TestServer_ReceiveOrdering(t *testing.T) {
	server, mock := newTestServer(t)
	frames := collectFrames(server)
	_, err := server.CreateSession("call-1", "10.0.0.5", 40000, PayloadTypePCMA)
	require.NoError(t, err)

	src := udpAddr(t, "10.0.0.5:40000")
	for seq := uint16(0); seq < 10; seq++ {
		mock.deliver(buildPacket(t, PayloadTypePCMA, seq, 5, make([]int16, 160)), src)
	}

	got := frames()
	require.Len(t, got, 10)
	for i, frame := range got {
		assert.Equal(t, uint16(i), frame.SequenceNumber)
	}
}

func TestServer_ReceiveDrops(t *testing.T) {
	server, mock := newTestServer(t)
	frames := collectFrames(server)
	_, err := server.CreateSession("a", "10.0.0.5", 40000, PayloadTypePCMU)
	require.NoError(t, err)
	_, err = server.CreateSession("b", "10.0.0.6", 40000, PayloadTypePCMU)
	require.NoError(t, err)

	src := udpAddr(t, "10.0.0.5:40000")
	mock.deliver([]byte{0x80, 0, 0, 0, 0}, src)
	mock.deliver(append([]byte{0x40}, make([]byte, 20)...), src)
	mock.deliver(buildPacket(t, PayloadTypePCMU, 1, 1, make([]int16, 160)), udpAddr(t, "192.0.2.1:5000"))
	event, err := Serialize(Header{PayloadType: 101, SequenceNumber: 2, SSRC: 1}, []byte{1, 0, 0, 160})
	require.NoError(t, err)
	mock.deliver(event, src)

	assert.Empty(t, frames())
	stats := server.Stats()
	assert.Equal(t, uint64(4), stats.PacketsReceived)
	assert.Equal(t, uint64(1), stats.DroppedTooShort)
	assert.Equal(t, uint64(1), stats.DroppedBadVersion)
	assert.Equal(t, uint64(1), stats.DroppedUnknownSession)
	assert.Equal(t, uint64(1), stats.DroppedPayloadType)
	assert.Equal(t, uint64(0), stats.FramesEmitted)
}

func TestServer_SymmetricLearning(t *testing.T) {
	server, mock := newTestServer(t)
	frames := collectFrames(server)
	_, err := server.CreateSession("call-1", "10.0.0.5", 40000, PayloadTypePCMU)
	require.NoError(t, err)

	actual := udpAddr(t, "203.0.113.7:62000")
	mock.deliver(buildPacket(t, PayloadTypePCMU, 1, 77, make([]int16, 160)), actual)
	require.Len(t, frames(), 1)
	assert.Equal(t, "call-1", frames()[0].CallID)

	require.True(t, server.Send("call-1", make([]int16, 160)))
	sent := mock.sentDatagrams()
	require.Len(t, sent, 1)
	assert.Equal(t, actual.String(), sent[0].addr.String())
}

func TestServer_ReceiveKeepaliveEmitsNoFrame(t *testing.T) {
	server, mock := newTestServer(t)
	frames := collectFrames(server)
	session, err := server.CreateSession("call-1", "", 0, PayloadTypePCMU)
	require.NoError(t, err)

	keepalive, err := Serialize(Header{PayloadType: PayloadTypePCMU, SequenceNumber: 1, SSRC: 42}, nil)
	require.NoError(t, err)
	require.Len(t, keepalive, HeaderSize)

	src := udpAddr(t, "198.51.100.4:30000")
	mock.deliver(keepalive, src)

	assert.Empty(t, frames())
	assert.Equal(t, uint64(0), server.Stats().FramesEmitted)
	assert.Equal(t, uint64(1), session.Statistics().PacketsReceived)
	require.NotNil(t, session.RemoteAddr())
	assert.Equal(t, src.String(), session.RemoteAddr().String())
}

func TestServer_ReceiveAfterEnd(t *testing.T) {
	server, mock := newTestServer(t)
	frames := collectFrames(server)
	_, err := server.CreateSession("call-1", "10.0.0.5", 40000, PayloadTypePCMU)
	require.NoError(t, err)
	server.EndSession("call-1")

	mock.deliver(buildPacket(t, PayloadTypePCMU, 1, 1, make([]int16, 160)), udpAddr(t, "10.0.0.5:40000"))
	assert.Empty(t, frames())
}

func TestServer_UDPLoopback(t *testing.T) {
	server := NewServer()
	require.NoError(t, server.Start(0))
	defer server.Stop()

	received := make(chan AudioFrame, 1)
	server.OnAudioFrame(func(frame AudioFrame) { received <- frame })

	peer, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer peer.Close()
	peerAddr := peer.LocalAddr().(*net.UDPAddr)

	_, err = server.CreateSession("call-1", "127.0.0.1", peerAddr.Port, PayloadTypePCMU)
	require.NoError(t, err)

	serverPort := server.LocalAddr().(*net.UDPAddr).Port
	_, err = peer.WriteTo(buildPacket(t, PayloadTypePCMU, 1, 1, make([]int16, 160)), &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: serverPort})
	require.NoError(t, err)

	select {
	case frame := <-received:
		assert.Equal(t, "call-1", frame.CallID)
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
	}

	require.True(t, server.Send("call-1", make([]int16, 160)))
	buf := make([]byte, 1500)
	require.NoError(t, peer.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := peer.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, 172, n)
}
