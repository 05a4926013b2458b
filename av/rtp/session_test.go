package rtp

import (
	"net"
	"sync"
	"testing"

	"github.com/opd-ai/callbridge/av/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedRandom returns the same value on every call.
type fixedRandom uint32

func (f fixedRandom) Uint32() uint32 { return uint32(f) }

func udpAddr(t *testing.T, s string) *net.UDPAddr {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp", s)
	require.NoError(t, err)
	return addr
}

func TestRegistry_Create(t *testing.T) {
	tests := []struct {
		name        string
		callID      string
		address     string
		port        int
		payloadType PayloadType
		wantErr     error
	}{
		{"pcmu", "call-1", "10.0.0.5", 40000, PayloadTypePCMU, nil},
		{"pcma", "call-2", "10.0.0.6", 40002, PayloadTypePCMA, nil},
		{"unknown endpoint", "call-3", "", 0, PayloadTypePCMU, nil},
		{"empty call id", "", "10.0.0.5", 40000, PayloadTypePCMU, ErrInvalidCallID},
		{"bad payload type", "call-4", "10.0.0.5", 40000, 18, audio.ErrUnsupportedPayloadType},
		{"port zero", "call-5", "10.0.0.5", 0, PayloadTypePCMU, ErrInvalidEndpoint},
		{"port too large", "call-6", "10.0.0.5", 70000, PayloadTypePCMU, ErrInvalidEndpoint},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := NewRegistryWithRandomSource(fixedRandom(0x12345678))
			registry.SetLocalPort(10000)

			session, err := registry.Create(tt.callID, tt.address, tt.port, tt.payloadType)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, session)
				assert.Equal(t, 0, registry.Len())
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.callID, session.CallID())
			assert.Equal(t, tt.payloadType, session.PayloadType())
			assert.Equal(t, uint32(0x12345678), session.SSRC())
			assert.Equal(t, uint16(0x5678), session.SequenceNumber())
			assert.Equal(t, uint32(0), session.Timestamp())
			assert.Equal(t, 10000, session.LocalPort())
			assert.True(t, session.Active())
			assert.Same(t, session, registry.Find(tt.callID))

			if tt.address == "" {
				assert.Nil(t, session.RemoteAddr())
			} else {
				assert.Equal(t, tt.port, session.RemoteAddr().Port)
			}
		})
	}
}

func TestRegistry_CreateDuplicate(t *testing.T) {
	registry := NewRegistry()
	first, err := registry.Create("call-1", "10.0.0.5", 40000, PayloadTypePCMU)
	require.NoError(t, err)

	_, err = registry.Create("call-1", "10.0.0.9", 40000, PayloadTypePCMA)
	assert.ErrorIs(t, err, ErrSessionExists)
	assert.Same(t, first, registry.Find("call-1"))
	assert.Equal(t, 1, registry.Len())
}

func TestRegistry_End(t *testing.T) {
	registry := NewRegistry()
	session, err := registry.Create("call-1", "10.0.0.5", 40000, PayloadTypePCMU)
	require.NoError(t, err)

	registry.End("call-1")
	assert.False(t, session.Active())
	assert.Nil(t, registry.Find("call-1"))
	assert.Nil(t, registry.FindByEndpoint("10.0.0.5", 40000))

	// Idempotent, and unknown calls are ignored.
	registry.End("call-1")
	registry.End("never-existed")
	assert.Equal(t, 0, registry.Len())

	_, _, ok := session.nextHeader(160)
	assert.False(t, ok, "ended session must not produce headers")
}

func TestRegistry_Clear(t *testing.T) {
	registry := NewRegistry()
	a, _ := registry.Create("a", "10.0.0.5", 40000, PayloadTypePCMU)
	b, _ := registry.Create("b", "10.0.0.6", 40000, PayloadTypePCMU)

	registry.Clear()
	assert.Equal(t, 0, registry.Len())
	assert.Empty(t, registry.Active())
	assert.False(t, a.Active())
	assert.False(t, b.Active())
}

func TestRegistry_FindByEndpoint_Exact(t *testing.T) {
	registry := NewRegistry()
	a, _ := registry.Create("a", "10.0.0.5", 40000, PayloadTypePCMU)
	b, _ := registry.Create("b", "10.0.0.6", 40000, PayloadTypePCMU)

	assert.Same(t, a, registry.FindByEndpoint("10.0.0.5", 40000))
	assert.Same(t, b, registry.FindByEndpoint("10.0.0.6", 40000))
	assert.Nil(t, registry.FindByEndpoint("10.0.0.7", 40000))
	assert.Nil(t, registry.FindByEndpoint("not-an-ip", 40000))
}

func TestRegistry_FindByEndpoint_LearnsSingleSession(t *testing.T) {
	registry := NewRegistry()
	session, _ := registry.Create("call-1", "10.0.0.5", 40000, PayloadTypePCMU)

	found := registry.FindByEndpoint("192.0.2.10", 50000)
	require.Same(t, session, found)
	assert.Equal(t, "192.0.2.10:50000", session.RemoteAddr().String())

	// The old endpoint no longer resolves through the index, but with a
	// single session it is learned back.
	assert.Same(t, session, registry.FindByEndpoint("10.0.0.5", 40000))
	assert.Equal(t, "10.0.0.5:40000", session.RemoteAddr().String())
}

func TestRegistry_FindByEndpoint_AmbiguousDrops(t *testing.T) {
	registry := NewRegistry()
	a, _ := registry.Create("a", "10.0.0.5", 40000, PayloadTypePCMU)
	registry.Create("b", "10.0.0.6", 40000, PayloadTypePCMU)

	assert.Nil(t, registry.FindByEndpoint("192.0.2.10", 50000))
	assert.Equal(t, "10.0.0.5:40000", a.RemoteAddr().String())
}

func TestRegistry_Resolve_LatchedSSRC(t *testing.T) {
	registry := NewRegistry()
	a, _ := registry.Create("a", "10.0.0.5", 40000, PayloadTypePCMU)
	registry.Create("b", "10.0.0.6", 40000, PayloadTypePCMU)

	require.Same(t, a, registry.Resolve(udpAddr(t, "10.0.0.5:40000"), 0xAAAA, true))
	ssrc, ok := a.RemoteSSRC()
	require.True(t, ok)
	assert.Equal(t, uint32(0xAAAA), ssrc)

	// Same stream moves to a new port: attributed by SSRC.
	moved := udpAddr(t, "10.0.0.5:41000")
	assert.Same(t, a, registry.Resolve(moved, 0xAAAA, true))
	assert.Equal(t, "10.0.0.5:41000", a.RemoteAddr().String())

	// Unknown stream from an unknown source stays unresolved.
	assert.Nil(t, registry.Resolve(udpAddr(t, "10.0.0.9:41000"), 0xBBBB, true))
}

func TestRegistry_Resolve_UnknownEndpointLearnedFromFirstPacket(t *testing.T) {
	registry := NewRegistry()
	session, _ := registry.Create("call-1", "", 0, PayloadTypePCMU)

	src := udpAddr(t, "198.51.100.4:30000")
	assert.Same(t, session, registry.Resolve(src, 1, true))
	assert.Equal(t, src.String(), session.RemoteAddr().String())
}

func TestSession_NextHeaderAdvancesCounters(t *testing.T) {
	registry := NewRegistryWithRandomSource(fixedRandom(0xFFFE))
	session, err := registry.Create("call-1", "10.0.0.5", 40000, PayloadTypePCMA)
	require.NoError(t, err)
	session.timestamp = 0xFFFFFF00

	first, dst, ok := session.nextHeader(160)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.5:40000", dst.String())
	assert.Equal(t, uint16(0xFFFE), first.SequenceNumber)
	assert.Equal(t, uint32(0xFFFFFF00), first.Timestamp)
	assert.Equal(t, PayloadTypePCMA, first.PayloadType)

	second, _, _ := session.nextHeader(160)
	assert.Equal(t, uint16(0xFFFF), second.SequenceNumber)
	assert.Equal(t, uint32(0xFFFFFFA0), second.Timestamp)

	third, _, _ := session.nextHeader(160)
	assert.Equal(t, uint16(0), third.SequenceNumber, "sequence wraps")
	assert.Equal(t, uint32(0x40), third.Timestamp, "timestamp wraps")
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	registry := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			callID := string(rune('a' + i))
			_, err := registry.Create(callID, "10.0.0.5", 40000+i, PayloadTypePCMU)
			assert.NoError(t, err)
			registry.Find(callID)
			registry.Active()
			registry.End(callID)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, registry.Len())
}
