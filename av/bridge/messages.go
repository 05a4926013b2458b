package bridge

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/opd-ai/callbridge/av/audio"
	"github.com/opd-ai/callbridge/limits"
)

// Channel event names.
const (
	EventRTPAudio        = "rtp-audio"
	EventMicrophoneAudio = "microphone-audio"
	EventRingbackAudio   = "ringback-audio"
	EventCallState       = "call-state"
)

// FormatPCM16 is the only audio format carried on the channel: signed
// 16-bit little-endian mono PCM.
const FormatPCM16 = "pcm16"

// Accepted microphone sample rates.
const (
	MinMicrophoneRate = 8000
	MaxMicrophoneRate = 48000
)

var (
	// ErrUnexpectedEvent indicates a message with an event the receiver does not handle.
	ErrUnexpectedEvent = errors.New("unexpected event")

	// ErrUnsupportedFormat indicates an audio format other than pcm16.
	ErrUnsupportedFormat = errors.New("unsupported audio format")

	// ErrInvalidSampleRate indicates a sample rate outside the accepted range.
	ErrInvalidSampleRate = errors.New("invalid sample rate")

	// ErrInvalidAudioData indicates audio data that is not valid base64.
	ErrInvalidAudioData = errors.New("invalid audio data")
)

// Message is the JSON envelope exchanged with the browser.
type Message struct {
	Event      string `json:"event"`
	CallID     string `json:"callId"`
	AudioData  string `json:"audioData,omitempty"`
	SampleRate int    `json:"sampleRate,omitempty"`
	Format     string `json:"format,omitempty"`
	State      string `json:"state,omitempty"`
}

// NewAudioMessage builds an audio event carrying base64 PCM16LE samples.
func NewAudioMessage(event, callID string, samples []int16, sampleRate int) Message {
	return Message{
		Event:      event,
		CallID:     callID,
		AudioData:  base64.StdEncoding.EncodeToString(audio.PCM16ToBytes(samples)),
		SampleRate: sampleRate,
		Format:     FormatPCM16,
	}
}

// NewStateMessage builds a call-state event.
func NewStateMessage(callID, state string) Message {
	return Message{
		Event:  EventCallState,
		CallID: callID,
		State:  state,
	}
}

// DecodeMicrophone validates a microphone-audio message and returns its
// samples and sample rate. A missing sample rate means 8000 Hz and a missing
// format means pcm16.
//
// Returns:
//   - []int16: Decoded mono samples
//   - int: Sample rate of the samples
//   - error: ErrUnexpectedEvent, ErrUnsupportedFormat, ErrInvalidSampleRate,
//     ErrInvalidAudioData, limits.ErrAudioTooLarge or audio.ErrInvalidAudioLength
func (m Message) DecodeMicrophone() ([]int16, int, error) {
	if m.Event != EventMicrophoneAudio {
		return nil, 0, fmt.Errorf("%w: %q", ErrUnexpectedEvent, m.Event)
	}
	if m.Format != "" && m.Format != FormatPCM16 {
		return nil, 0, fmt.Errorf("%w: %q", ErrUnsupportedFormat, m.Format)
	}

	rate := m.SampleRate
	if rate == 0 {
		rate = audio.SampleRate
	}
	if rate < MinMicrophoneRate || rate > MaxMicrophoneRate {
		return nil, 0, fmt.Errorf("%w: %d", ErrInvalidSampleRate, rate)
	}

	if err := limits.ValidateMicrophonePayload(base64.StdEncoding.DecodedLen(len(m.AudioData))); err != nil {
		return nil, 0, err
	}
	raw, err := base64.StdEncoding.DecodeString(m.AudioData)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrInvalidAudioData, err)
	}

	samples, err := audio.BytesToPCM16(raw)
	if err != nil {
		return nil, 0, err
	}
	return samples, rate, nil
}
