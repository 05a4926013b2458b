// Package rtp provides the RTP packet model for the telephony leg.
//
// This file handles RTP header parsing and serialization. It uses the
// pion/rtp library for the wire encoding and adds the strict checks the
// transport relies on: minimum header length and version 2 only.
//
// Design principles:
// - Fixed 12-byte header on output: no padding, extension or CSRC list
// - Tolerant input: extensions and CSRCs are skipped, payload kept verbatim
// - Pure functions, no I/O
package rtp

import (
	"errors"
	"fmt"
	"time"

	"github.com/opd-ai/callbridge/av/audio"
	"github.com/pion/rtp"
)

const (
	// Version is the only RTP version accepted and emitted.
	Version = 2
	// HeaderSize is the size of the fixed RTP header.
	HeaderSize = 12
	// ClockRate is the RTP clock rate of G.711 audio.
	ClockRate = audio.SampleRate
	// SamplesPerFrame is the number of samples in one 20 ms frame.
	SamplesPerFrame = 160
	// FrameDuration is the packetization interval.
	FrameDuration = 20 * time.Millisecond
)

// PayloadType identifies the G.711 variant carried by a session.
type PayloadType = audio.PayloadType

const (
	// PayloadTypePCMU is G.711 µ-law.
	PayloadTypePCMU = audio.PayloadTypePCMU
	// PayloadTypePCMA is G.711 A-law.
	PayloadTypePCMA = audio.PayloadTypePCMA
)

var (
	// ErrTooShort indicates fewer than HeaderSize bytes.
	ErrTooShort = errors.New("rtp packet too short")

	// ErrUnsupportedVersion indicates a version field other than 2.
	ErrUnsupportedVersion = errors.New("unsupported rtp version")

	// ErrMalformed indicates a header whose CSRC, extension or padding
	// fields run past the end of the packet.
	ErrMalformed = errors.New("malformed rtp packet")

	// ErrInvalidPayloadType indicates a payload type that does not fit in 7 bits.
	ErrInvalidPayloadType = errors.New("invalid payload type")
)

// Header holds the RTP header fields used by the transport.
type Header struct {
	Version        uint8
	PayloadType    PayloadType
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32
}

// Packet is a parsed RTP packet.
type Packet struct {
	Header
	Payload []byte
}

// Parse decodes an RTP packet.
//
// The returned payload aliases data; callers that keep it past the lifetime
// of data must copy it.
//
// Parameters:
//   - data: Raw datagram bytes
//
// Returns:
//   - *Packet: Parsed header and payload
//   - error: ErrTooShort, ErrUnsupportedVersion or ErrMalformed
func Parse(data []byte) (*Packet, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooShort, len(data))
	}
	if version := data[0] >> 6; version != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	packet := &rtp.Packet{}
	if err := packet.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	return &Packet{
		Header: Header{
			Version:        packet.Version,
			PayloadType:    PayloadType(packet.PayloadType),
			SequenceNumber: packet.SequenceNumber,
			Timestamp:      packet.Timestamp,
			SSRC:           packet.SSRC,
		},
		Payload: packet.Payload,
	}, nil
}

// Serialize encodes a header and payload into an RTP packet.
//
// The output always starts with a 12-byte version 2 header with the marker,
// padding and extension bits clear and no CSRC list, followed by the payload
// verbatim. The Version field of h is ignored.
func Serialize(h Header, payload []byte) ([]byte, error) {
	if h.PayloadType > 0x7F {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPayloadType, uint8(h.PayloadType))
	}

	packet := &rtp.Packet{
		Header: rtp.Header{
			Version:        Version,
			Padding:        false,
			Extension:      false,
			Marker:         false,
			PayloadType:    uint8(h.PayloadType),
			SequenceNumber: h.SequenceNumber,
			Timestamp:      h.Timestamp,
			SSRC:           h.SSRC,
		},
		Payload: payload,
	}

	data, err := packet.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal RTP packet: %w", err)
	}
	return data, nil
}
