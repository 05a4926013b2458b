// Package limits provides centralized size limits for the media path.
// This ensures consistent validation across the UDP transport and the
// browser bridge.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxDatagramSize is the largest UDP datagram read or written by the
	// transport. It matches a typical Ethernet MTU; G.711 frames are far smaller.
	MaxDatagramSize = 1500

	// RTPHeaderSize is the fixed RTP header written in front of every frame.
	RTPHeaderSize = 12

	// MaxFrameSamples bounds a single outbound audio frame. G.711 carries one
	// byte per sample, so a frame must fit one datagram after the RTP header.
	MaxFrameSamples = MaxDatagramSize - RTPHeaderSize

	// MaxMicrophoneMessage bounds the decoded PCM16 payload of one browser
	// microphone message (one second of 48 kHz stereo).
	MaxMicrophoneMessage = 48000 * 2 * 2
)

var (
	// ErrDatagramEmpty indicates an empty datagram was provided
	ErrDatagramEmpty = errors.New("empty datagram")

	// ErrDatagramTooLarge indicates a datagram exceeds MaxDatagramSize
	ErrDatagramTooLarge = errors.New("datagram too large")

	// ErrAudioTooLarge indicates an audio buffer exceeds its limit
	ErrAudioTooLarge = errors.New("audio buffer too large")
)

// ValidateDatagramSize validates a datagram against MaxDatagramSize.
func ValidateDatagramSize(data []byte) error {
	if len(data) == 0 {
		return ErrDatagramEmpty
	}
	if len(data) > MaxDatagramSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrDatagramTooLarge, len(data), MaxDatagramSize)
	}
	return nil
}

// ValidateFrameSamples validates the sample count of one outbound frame.
func ValidateFrameSamples(n int) error {
	if n > MaxFrameSamples {
		return fmt.Errorf("%w: %d samples exceeds limit %d", ErrAudioTooLarge, n, MaxFrameSamples)
	}
	return nil
}

// ValidateMicrophonePayload validates the decoded size of a microphone message.
func ValidateMicrophonePayload(size int) error {
	if size > MaxMicrophoneMessage {
		return fmt.Errorf("%w: %d bytes exceeds limit %d", ErrAudioTooLarge, size, MaxMicrophoneMessage)
	}
	return nil
}
