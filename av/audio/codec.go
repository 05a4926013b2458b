package audio

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// PayloadType is the static RTP payload type identifying a G.711 variant.
type PayloadType uint8

const (
	// PayloadTypePCMU is G.711 µ-law (RFC 3551 static payload type 0).
	PayloadTypePCMU PayloadType = 0
	// PayloadTypePCMA is G.711 A-law (RFC 3551 static payload type 8).
	PayloadTypePCMA PayloadType = 8
)

const (
	// SampleRate is the fixed G.711 sampling rate in Hz.
	SampleRate = 8000
	// Channels is the fixed G.711 channel count.
	Channels = 1
	// BytesPerSample is the size of one linear PCM16 sample.
	BytesPerSample = 2
)

var (
	// ErrInvalidAudioLength indicates a PCM16 byte buffer with an odd length.
	ErrInvalidAudioLength = errors.New("invalid audio length")

	// ErrUnsupportedPayloadType indicates a payload type other than PCMU or PCMA.
	ErrUnsupportedPayloadType = errors.New("unsupported payload type")
)

// String returns the RTP encoding name of the payload type.
func (pt PayloadType) String() string {
	switch pt {
	case PayloadTypePCMU:
		return "PCMU"
	case PayloadTypePCMA:
		return "PCMA"
	default:
		return fmt.Sprintf("PT(%d)", uint8(pt))
	}
}

// Valid reports whether the payload type is one of the G.711 variants.
func (pt PayloadType) Valid() bool {
	return pt == PayloadTypePCMU || pt == PayloadTypePCMA
}

// The batch conversions below wrap the per-sample companding functions in
// g711.go, keyed by RTP payload type.

// DecodeBuffer expands a G.711 payload into linear PCM samples.
//
// The output has exactly one sample per input byte, in the same order.
func DecodeBuffer(payload []byte, pt PayloadType) ([]int16, error) {
	var decode func(byte) int16
	switch pt {
	case PayloadTypePCMU:
		decode = DecodeMuLaw
	case PayloadTypePCMA:
		decode = DecodeALaw
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedPayloadType, uint8(pt))
	}

	samples := make([]int16, len(payload))
	for i, b := range payload {
		samples[i] = decode(b)
	}
	return samples, nil
}

// EncodeBuffer compresses linear PCM samples into a G.711 payload.
//
// The output has exactly one byte per input sample, in the same order.
func EncodeBuffer(samples []int16, pt PayloadType) ([]byte, error) {
	var encode func(int16) byte
	switch pt {
	case PayloadTypePCMU:
		encode = EncodeMuLaw
	case PayloadTypePCMA:
		encode = EncodeALaw
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedPayloadType, uint8(pt))
	}

	payload := make([]byte, len(samples))
	for i, s := range samples {
		payload[i] = encode(s)
	}
	return payload, nil
}

// BytesToPCM16 converts little-endian PCM16 bytes into samples.
//
// An odd byte count is rejected with ErrInvalidAudioLength; the buffer is
// never silently truncated.
func BytesToPCM16(data []byte) ([]int16, error) {
	if len(data)%BytesPerSample != 0 {
		logrus.WithFields(logrus.Fields{
			"function":  "BytesToPCM16",
			"data_size": len(data),
		}).Debug("Rejecting PCM16 buffer with odd length")
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of samples", ErrInvalidAudioLength, len(data))
	}

	samples := make([]int16, len(data)/BytesPerSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*BytesPerSample:]))
	}
	return samples, nil
}

// PCM16ToBytes converts samples into little-endian PCM16 bytes.
func PCM16ToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*BytesPerSample:], uint16(s))
	}
	return data
}
