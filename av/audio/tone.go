package audio

import (
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	toneAmplitude = 0.25 * math.MaxInt16
	toneFade      = 5 * time.Millisecond
)

// GenerateTone synthesizes a mono PCM16 sine tone with a short linear fade at
// both ends so that back-to-back tones do not click.
func GenerateTone(freqHz float64, duration time.Duration, sampleRate uint32) []int16 {
	n := int(duration.Seconds() * float64(sampleRate))
	if n <= 0 || freqHz <= 0 {
		return nil
	}

	fade := int(toneFade.Seconds() * float64(sampleRate))
	if fade*2 > n {
		fade = n / 2
	}

	samples := make([]int16, n)
	step := 2 * math.Pi * freqHz / float64(sampleRate)
	for i := range samples {
		gain := 1.0
		switch {
		case i < fade:
			gain = float64(i) / float64(fade)
		case i >= n-fade:
			gain = float64(n-1-i) / float64(fade)
		}
		samples[i] = int16(toneAmplitude * gain * math.Sin(step*float64(i)))
	}
	return samples
}

// ToneSpec describes the two tones of a ringback cadence.
type ToneSpec struct {
	FrequencyA float64
	FrequencyB float64
	Duration   time.Duration
}

// ToneBank owns the synthesized ringback buffers shared by every ringing call.
//
// The buffers are created on the first Acquire and freed when the last holder
// calls Release, so an idle process holds no tone memory. The bank is safe for
// concurrent use.
type ToneBank struct {
	mu     sync.Mutex
	spec   ToneSpec
	refs   int
	toneA  []int16
	toneB  []int16
	builds int
}

// NewToneBank creates an empty tone bank for the given tone specification.
func NewToneBank(spec ToneSpec) *ToneBank {
	return &ToneBank{spec: spec}
}

// Acquire returns the ringback tones, synthesizing them if no other holder
// currently has them. Every Acquire must be paired with one Release.
func (b *ToneBank) Acquire() (toneA, toneB []int16) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.refs == 0 {
		b.toneA = GenerateTone(b.spec.FrequencyA, b.spec.Duration, SampleRate)
		b.toneB = GenerateTone(b.spec.FrequencyB, b.spec.Duration, SampleRate)
		b.builds++
		logrus.WithFields(logrus.Fields{
			"function":    "ToneBank.Acquire",
			"frequency_a": b.spec.FrequencyA,
			"frequency_b": b.spec.FrequencyB,
			"duration":    b.spec.Duration.String(),
		}).Debug("Synthesized ringback tones")
	}
	b.refs++
	return b.toneA, b.toneB
}

// Release drops one reference; the last release frees the buffers.
// Releasing an unheld bank is a no-op.
func (b *ToneBank) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.refs == 0 {
		return
	}
	b.refs--
	if b.refs == 0 {
		b.toneA = nil
		b.toneB = nil
	}
}

// Holders returns the number of outstanding Acquire calls.
func (b *ToneBank) Holders() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refs
}
