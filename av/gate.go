package av

import (
	"fmt"
	"sync"
	"time"

	"github.com/opd-ai/callbridge/av/audio"
	"github.com/sirupsen/logrus"
)

// RingbackConfig describes the ringback cadence: tone A, gap, tone B,
// pause, repeated until media opens.
type RingbackConfig struct {
	FrequencyA   float64
	FrequencyB   float64
	ToneDuration time.Duration
	Gap          time.Duration
	Pause        time.Duration
}

// DefaultRingbackConfig returns the standard cadence.
func DefaultRingbackConfig() RingbackConfig {
	return RingbackConfig{
		FrequencyA:   440,
		FrequencyB:   480,
		ToneDuration: 400 * time.Millisecond,
		Gap:          200 * time.Millisecond,
		Pause:        2000 * time.Millisecond,
	}
}

// withDefaults fills zero fields from DefaultRingbackConfig.
func (c RingbackConfig) withDefaults() RingbackConfig {
	d := DefaultRingbackConfig()
	if c.FrequencyA <= 0 {
		c.FrequencyA = d.FrequencyA
	}
	if c.FrequencyB <= 0 {
		c.FrequencyB = d.FrequencyB
	}
	if c.ToneDuration <= 0 {
		c.ToneDuration = d.ToneDuration
	}
	if c.Gap <= 0 {
		c.Gap = d.Gap
	}
	if c.Pause <= 0 {
		c.Pause = d.Pause
	}
	return c
}

// ToneSpec returns the tone bank specification for the cadence.
func (c RingbackConfig) ToneSpec() audio.ToneSpec {
	c = c.withDefaults()
	return audio.ToneSpec{
		FrequencyA: c.FrequencyA,
		FrequencyB: c.FrequencyB,
		Duration:   c.ToneDuration,
	}
}

// ToneSink plays a block of 8 kHz ringback audio for a call.
type ToneSink func(callID string, samples []int16)

// StateFunc observes presented state changes.
type StateFunc func(callID string, state CallState)

// ringback phases
const (
	phaseToneA = iota
	phaseGap
	phaseToneB
	phasePause
	phaseCount
)

// GateConfig holds the collaborators of a MediaGate.
type GateConfig struct {
	Ringback RingbackConfig
	Clock    Clock
	Tones    *audio.ToneBank
	Play     ToneSink
}

// MediaGate decides which call state is presented to the user.
//
// Signaling may report a call as answered before any audio path exists.
// The gate presents Connected only once the call is answered AND media has
// opened; until then the call stays Ringing and a local ringback plays.
// Opening media cancels the ringback immediately, including a timer
// callback already in flight.
//
// Tone and state callbacks run with the gate locked and must not call back
// into the gate.
type MediaGate struct {
	mu        sync.Mutex
	callID    string
	started   bool
	answered  bool
	mediaOpen bool
	ended     bool
	presented CallState

	config RingbackConfig
	clock  Clock
	tones  *audio.ToneBank
	play   ToneSink

	ringing    bool
	generation uint64
	timer      Timer
	toneA      []int16
	toneB      []int16
	plays      int

	onState []StateFunc
}

// NewMediaGate creates an Idle gate for a call.
func NewMediaGate(callID string, config GateConfig) *MediaGate {
	rb := config.Ringback.withDefaults()
	clock := config.Clock
	if clock == nil {
		clock = DefaultClock{}
	}
	tones := config.Tones
	if tones == nil {
		tones = audio.NewToneBank(rb.ToneSpec())
	}
	return &MediaGate{
		callID:    callID,
		presented: CallStateIdle,
		config:    rb,
		clock:     clock,
		tones:     tones,
		play:      config.Play,
	}
}

// OnStateChange registers an observer of presented state changes.
func (g *MediaGate) OnStateChange(fn StateFunc) {
	if fn == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onState = append(g.onState, fn)
}

// StartRinging moves an Idle call to Ringing and starts the ringback.
// Calling it again while ringing does nothing.
func (g *MediaGate) StartRinging() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ended {
		return g.invalid("start ringing")
	}
	g.started = true
	g.refreshLocked()
	return nil
}

// SignalAnswered records that signaling reports the call as answered.
// The call is presented as Connected only once media is open as well.
func (g *MediaGate) SignalAnswered() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ended {
		return g.invalid("answer")
	}
	g.started = true
	g.answered = true
	g.refreshLocked()
	return nil
}

// SetMediaOpen records that bridged media is flowing and cancels the
// ringback. No tone plays after SetMediaOpen returns.
func (g *MediaGate) SetMediaOpen() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ended {
		return g.invalid("open media")
	}
	g.mediaOpen = true
	g.refreshLocked()
	return nil
}

// End moves the call to the terminal Ended state. Ending twice does nothing.
func (g *MediaGate) End() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ended {
		return
	}
	g.ended = true
	g.refreshLocked()
}

// State returns the presented state.
func (g *MediaGate) State() CallState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.presented
}

// MediaOpen reports whether media has opened.
func (g *MediaGate) MediaOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mediaOpen
}

// Answered reports whether signaling answered the call.
func (g *MediaGate) Answered() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.answered
}

// RingbackActive reports whether the ringback cadence is running.
func (g *MediaGate) RingbackActive() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ringing
}

// TonesPlayed returns the number of ringback tones played so far.
func (g *MediaGate) TonesPlayed() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.plays
}

func (g *MediaGate) invalid(action string) error {
	return fmt.Errorf("%w: cannot %s call %s in state %s", ErrInvalidTransition, action, g.callID, g.presented)
}

// refreshLocked recomputes the presented state and starts or stops the
// ringback to match.
func (g *MediaGate) refreshLocked() {
	next := g.computeLocked()
	if next != g.presented {
		previous := g.presented
		g.presented = next
		logrus.WithFields(logrus.Fields{
			"function":   "MediaGate.refresh",
			"call_id":    g.callID,
			"from":       previous.String(),
			"to":         next.String(),
			"answered":   g.answered,
			"media_open": g.mediaOpen,
		}).Info("Call state changed")
		for _, fn := range g.onState {
			fn(g.callID, next)
		}
	}

	wantRingback := g.presented == CallStateRinging && !g.mediaOpen
	switch {
	case wantRingback && !g.ringing:
		g.startRingbackLocked()
	case !wantRingback && g.ringing:
		g.stopRingbackLocked()
	}
}

func (g *MediaGate) computeLocked() CallState {
	switch {
	case g.ended:
		return CallStateEnded
	case g.answered && g.mediaOpen:
		return CallStateConnected
	case g.started:
		return CallStateRinging
	default:
		return CallStateIdle
	}
}

func (g *MediaGate) startRingbackLocked() {
	g.toneA, g.toneB = g.tones.Acquire()
	g.ringing = true
	logrus.WithFields(logrus.Fields{
		"function": "MediaGate.startRingback",
		"call_id":  g.callID,
	}).Debug("Ringback started")
	g.enterPhaseLocked(phaseToneA)
}

func (g *MediaGate) stopRingbackLocked() {
	// Any callback already in flight sees a stale generation and returns.
	g.generation++
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.tones.Release()
	g.toneA, g.toneB = nil, nil
	g.ringing = false
	logrus.WithFields(logrus.Fields{
		"function": "MediaGate.stopRingback",
		"call_id":  g.callID,
		"tones":    g.plays,
	}).Debug("Ringback stopped")
}

func (g *MediaGate) enterPhaseLocked(phase int) {
	var wait time.Duration
	switch phase {
	case phaseToneA:
		g.playLocked(g.toneA)
		wait = g.config.ToneDuration
	case phaseGap:
		wait = g.config.Gap
	case phaseToneB:
		g.playLocked(g.toneB)
		wait = g.config.ToneDuration
	case phasePause:
		wait = g.config.Pause
	}

	g.generation++
	generation := g.generation
	next := (phase + 1) % phaseCount
	g.timer = g.clock.AfterFunc(wait, func() {
		g.advance(generation, next)
	})
}

func (g *MediaGate) advance(generation uint64, phase int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if generation != g.generation || !g.ringing {
		return
	}
	g.enterPhaseLocked(phase)
}

func (g *MediaGate) playLocked(samples []int16) {
	g.plays++
	if g.play != nil && len(samples) > 0 {
		g.play(g.callID, samples)
	}
}
