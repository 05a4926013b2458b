// Package audio provides sample rate conversion for browser microphone audio.
//
// Browsers capture at 44.1 kHz or 48 kHz (sometimes 16 kHz) while the
// telephony leg runs at 8 kHz. The resampler converts a continuous stream of
// PCM16 chunks down (or up) to the G.711 rate.
package audio

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Resampler provides audio sample rate conversion functionality.
//
// Uses linear interpolation, which is adequate for narrowband voice. A
// Resampler keeps position state between calls and must be used for a single
// stream only.
type Resampler struct {
	inputRate  uint32
	outputRate uint32
	channels   int
	lastSample []int16 // Previous frame for interpolation across chunk boundaries
	position   float64 // Current fractional position in input stream
}

// ResamplerConfig holds configuration for creating a resampler.
type ResamplerConfig struct {
	InputRate  uint32 // Input sample rate in Hz
	OutputRate uint32 // Output sample rate in Hz
	Channels   int    // Number of audio channels (1=mono, 2=stereo)
}

// NewResampler creates a new audio resampler instance.
func NewResampler(config ResamplerConfig) (*Resampler, error) {
	if config.InputRate == 0 || config.OutputRate == 0 {
		logrus.WithFields(logrus.Fields{
			"function":    "NewResampler",
			"input_rate":  config.InputRate,
			"output_rate": config.OutputRate,
			"error":       "invalid sample rates",
		}).Error("Sample rate validation failed")
		return nil, fmt.Errorf("invalid sample rates: input=%d, output=%d", config.InputRate, config.OutputRate)
	}

	if config.Channels < 1 || config.Channels > 2 {
		logrus.WithFields(logrus.Fields{
			"function": "NewResampler",
			"channels": config.Channels,
			"error":    "unsupported channel count",
		}).Error("Channel count validation failed")
		return nil, fmt.Errorf("unsupported channel count: %d (must be 1 or 2)", config.Channels)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "NewResampler",
		"input_rate":  config.InputRate,
		"output_rate": config.OutputRate,
		"channels":    config.Channels,
	}).Debug("Audio resampler created")

	return &Resampler{
		inputRate:  config.InputRate,
		outputRate: config.OutputRate,
		channels:   config.Channels,
		lastSample: make([]int16, config.Channels),
	}, nil
}

// InputRate returns the configured input sample rate.
func (r *Resampler) InputRate() uint32 {
	return r.inputRate
}

// Resample converts audio samples from the input rate to the output rate.
//
// Parameters:
//   - input: Interleaved PCM16 samples at the input rate
//
// Returns:
//   - []int16: Interleaved PCM16 samples at the output rate
//   - error: Empty or misaligned input
func (r *Resampler) Resample(input []int16) ([]int16, error) {
	if len(input) == 0 {
		return nil, fmt.Errorf("empty input samples")
	}
	if len(input)%r.channels != 0 {
		return nil, fmt.Errorf("input samples (%d) not aligned to channel count (%d)", len(input), r.channels)
	}

	if r.inputRate == r.outputRate {
		result := make([]int16, len(input))
		copy(result, input)
		return result, nil
	}

	ratio := float64(r.inputRate) / float64(r.outputRate)
	inputFrames := len(input) / r.channels

	output := make([]int16, 0, int(float64(inputFrames)/ratio+1)*r.channels)
	last := float64(inputFrames - 1)
	for r.position < last {
		index := int(r.position)
		frac := r.position - float64(index)
		if r.position < 0 {
			index = -1
			frac = r.position + 1
		}
		for ch := 0; ch < r.channels; ch++ {
			output = append(output, r.interpolate(input, index, frac, ch))
		}
		r.position += ratio
	}

	r.position -= float64(inputFrames)
	copy(r.lastSample, input[len(input)-r.channels:])

	return output, nil
}

// interpolate blends the samples at index and index+1 for one channel. Index
// -1 refers to the last frame of the previous chunk.
func (r *Resampler) interpolate(input []int16, index int, frac float64, ch int) int16 {
	var s1 int16
	if index < 0 {
		s1 = r.lastSample[ch]
	} else {
		s1 = input[index*r.channels+ch]
	}
	s2 := input[(index+1)*r.channels+ch]
	return int16(float64(s1)*(1.0-frac) + float64(s2)*frac)
}

// Reset clears the resampler stream state.
func (r *Resampler) Reset() {
	r.position = 0
	for i := range r.lastSample {
		r.lastSample[i] = 0
	}
}
