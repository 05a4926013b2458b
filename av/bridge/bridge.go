package bridge

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/opd-ai/callbridge/av/audio"
	"github.com/opd-ai/callbridge/av/rtp"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
)

// DefaultQueueDepth is the per-call queue length used when none is configured.
// At 20 ms per frame it holds one second of audio.
const DefaultQueueDepth = 50

// ErrInvalidCallID indicates an empty call identifier.
var ErrInvalidCallID = errors.New("call id cannot be empty")

// Transport sends one frame of 8 kHz PCM16 to a call's telephony leg.
// *rtp.Server satisfies it.
type Transport interface {
	Send(callID string, pcm []int16) bool
}

// Channel is a duplex JSON message stream to the browser.
// *websocket.Conn satisfies it.
type Channel interface {
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
	Close() error
}

// MediaOpenFunc is called once per call when the first RTP frame is
// forwarded to the browser.
type MediaOpenFunc func(callID string)

// Config holds bridge options.
type Config struct {
	// QueueDepth bounds the audio messages queued per call.
	QueueDepth int
}

// Stats is a snapshot of the bridge counters.
type Stats struct {
	Links           int
	FramesForwarded uint64
	FramesDropped   uint64
	FramesUnlinked  uint64
	FramesSent      uint64
	MicrophoneFails uint64
	// MicrophoneForeign counts microphone messages naming another call.
	MicrophoneForeign uint64
}

// Bridge binds RTP sessions to browser channels, one channel per call.
type Bridge struct {
	mu          sync.Mutex
	transport   Transport
	queueDepth  int
	links       map[string]*link
	opened      map[string]bool
	onMediaOpen []MediaOpenFunc
	stats       Stats
}

// link is one attached channel.
type link struct {
	id      string
	callID  string
	channel Channel
	queue   *messageQueue
	cancel  context.CancelFunc

	// Owned by the read pump.
	resampler     *audio.Resampler
	pending       []int16
	foreignLogged bool

	closeOnce sync.Once
}

// NewBridge creates a bridge sending microphone audio through transport.
func NewBridge(transport Transport, config Config) *Bridge {
	depth := config.QueueDepth
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	return &Bridge{
		transport:  transport,
		queueDepth: depth,
		links:      make(map[string]*link),
		opened:     make(map[string]bool),
	}
}

// OnMediaOpen registers a media-open callback. Callbacks run on the
// goroutine delivering the first frame and must not block.
func (b *Bridge) OnMediaOpen(fn MediaOpenFunc) {
	if fn == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onMediaOpen = append(b.onMediaOpen, fn)
}

// Attach binds ch to a call and pumps messages until the channel fails, the
// link is detached or replaced, or ctx is done. A previous link for the same
// call is closed first. The channel is closed on return.
//
// Parameters:
//   - ctx: Lifetime of the link
//   - callID: Call to bind
//   - ch: Browser channel
//
// Returns:
//   - error: The read error that ended the link, nil when it was ended locally
func (b *Bridge) Attach(ctx context.Context, callID string, ch Channel) error {
	if callID == "" {
		ch.Close()
		return ErrInvalidCallID
	}

	ctx, cancel := context.WithCancel(ctx)
	l := &link{
		id:      uuid.NewString(),
		callID:  callID,
		channel: ch,
		queue:   newMessageQueue(b.queueDepth),
		cancel:  cancel,
	}

	b.mu.Lock()
	previous := b.links[callID]
	b.links[callID] = l
	b.stats.Links = len(b.links)
	b.mu.Unlock()

	if previous != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Bridge.Attach",
			"call_id":  callID,
			"previous": previous.id,
			"link_id":  l.id,
		}).Info("Replacing browser channel")
		previous.close()
	}

	logrus.WithFields(logrus.Fields{
		"function": "Bridge.Attach",
		"call_id":  callID,
		"link_id":  l.id,
	}).Info("Browser channel attached")

	// ReadJSON has no context; closing the channel unblocks it.
	stop := context.AfterFunc(ctx, l.close)
	defer stop()

	var readErr, writeErr error
	var wg conc.WaitGroup
	wg.Go(func() {
		defer cancel()
		readErr = b.readPump(ctx, l)
	})
	wg.Go(func() {
		defer cancel()
		writeErr = b.writePump(ctx, l)
	})
	wg.Wait()

	l.close()

	b.mu.Lock()
	if b.links[callID] == l {
		delete(b.links, callID)
	}
	b.stats.Links = len(b.links)
	b.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Bridge.Attach",
		"call_id":  callID,
		"link_id":  l.id,
		"dropped":  l.queue.Dropped(),
	}).Info("Browser channel detached")

	if readErr != nil {
		return readErr
	}
	return writeErr
}

// Detach closes the channel of a call and forgets its media-open state.
func (b *Bridge) Detach(callID string) {
	b.mu.Lock()
	l := b.links[callID]
	delete(b.links, callID)
	delete(b.opened, callID)
	b.stats.Links = len(b.links)
	b.mu.Unlock()

	if l != nil {
		l.close()
	}
}

// Attached reports whether a channel is bound to the call.
func (b *Bridge) Attached(callID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.links[callID] != nil
}

// MediaOpen reports whether media has been forwarded for the call.
func (b *Bridge) MediaOpen(callID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opened[callID]
}

// Stats returns a snapshot of the bridge counters.
func (b *Bridge) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// HandleFrame forwards a decoded inbound RTP frame to the call's channel.
// It never blocks; frames for calls without a channel are discarded.
func (b *Bridge) HandleFrame(frame rtp.AudioFrame) {
	if frame.Direction != rtp.DirectionInbound {
		return
	}

	b.mu.Lock()
	l := b.links[frame.CallID]
	if l == nil {
		b.stats.FramesUnlinked++
		b.mu.Unlock()
		return
	}
	first := !b.opened[frame.CallID]
	if first {
		b.opened[frame.CallID] = true
	}
	callbacks := b.onMediaOpen
	b.stats.FramesForwarded++
	b.mu.Unlock()

	msg := NewAudioMessage(EventRTPAudio, frame.CallID, frame.Samples, frame.SampleRate)
	if l.queue.Push(msg) {
		b.mu.Lock()
		b.stats.FramesDropped++
		b.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "Bridge.HandleFrame",
			"call_id":  frame.CallID,
			"dropped":  l.queue.Dropped(),
		}).Debug("Browser channel behind, dropped oldest frame")
	}

	if first {
		logrus.WithFields(logrus.Fields{
			"function": "Bridge.HandleFrame",
			"call_id":  frame.CallID,
		}).Info("Media open")
		for _, fn := range callbacks {
			fn(frame.CallID)
		}
	}
}

// PushTone sends locally synthesized ringback audio to the call's channel.
// It reports false when no channel is attached.
func (b *Bridge) PushTone(callID string, samples []int16, sampleRate int) bool {
	return b.push(callID, NewAudioMessage(EventRingbackAudio, callID, samples, sampleRate))
}

// PushState sends the presented call state to the call's channel.
// It reports false when no channel is attached.
func (b *Bridge) PushState(callID, state string) bool {
	return b.push(callID, NewStateMessage(callID, state))
}

func (b *Bridge) push(callID string, msg Message) bool {
	b.mu.Lock()
	l := b.links[callID]
	b.mu.Unlock()
	if l == nil {
		return false
	}
	if l.queue.Push(msg) {
		b.mu.Lock()
		b.stats.FramesDropped++
		b.mu.Unlock()
	}
	return true
}

func (b *Bridge) writePump(ctx context.Context, l *link) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.queue.Ready():
			for {
				msg, ok := l.queue.Pop()
				if !ok {
					break
				}
				if err := l.channel.WriteJSON(msg); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					logrus.WithFields(logrus.Fields{
						"function": "Bridge.writePump",
						"call_id":  l.callID,
						"link_id":  l.id,
						"error":    err.Error(),
					}).Debug("Browser channel write failed")
					return err
				}
			}
		}
	}
}

func (b *Bridge) readPump(ctx context.Context, l *link) error {
	for {
		var msg Message
		if err := l.channel.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		b.handleMessage(l, msg)
	}
}

func (b *Bridge) handleMessage(l *link, msg Message) {
	fields := logrus.Fields{
		"function": "Bridge.handleMessage",
		"call_id":  l.callID,
		"link_id":  l.id,
	}

	if msg.Event != EventMicrophoneAudio {
		fields["event"] = msg.Event
		logrus.WithFields(fields).Debug("Ignoring channel message")
		return
	}
	if msg.CallID != "" && msg.CallID != l.callID {
		b.mu.Lock()
		b.stats.MicrophoneForeign++
		b.mu.Unlock()
		fields["message_call_id"] = msg.CallID
		if !l.foreignLogged {
			l.foreignLogged = true
			logrus.WithFields(fields).Warn("Microphone audio for another call")
		} else {
			logrus.WithFields(fields).Debug("Microphone audio for another call")
		}
		return
	}

	samples, rate, err := msg.DecodeMicrophone()
	if err != nil {
		b.mu.Lock()
		b.stats.MicrophoneFails++
		b.mu.Unlock()
		fields["error"] = err.Error()
		logrus.WithFields(fields).Warn("Rejected microphone audio")
		return
	}

	samples, err = l.resample(samples, rate)
	if err != nil {
		fields["error"] = err.Error()
		logrus.WithFields(fields).Warn("Failed to resample microphone audio")
		return
	}

	l.pending = append(l.pending, samples...)
	sent := 0
	for len(l.pending) >= rtp.SamplesPerFrame {
		frame := make([]int16, rtp.SamplesPerFrame)
		copy(frame, l.pending[:rtp.SamplesPerFrame])
		l.pending = l.pending[rtp.SamplesPerFrame:]
		if b.transport != nil && b.transport.Send(l.callID, frame) {
			sent++
		}
	}
	l.pending = append([]int16(nil), l.pending...)

	if sent > 0 {
		b.mu.Lock()
		b.stats.FramesSent += uint64(sent)
		b.mu.Unlock()
	}
}

// resample converts samples to 8 kHz, keeping interpolation state across
// messages of the same rate.
func (l *link) resample(samples []int16, rate int) ([]int16, error) {
	if len(samples) == 0 || rate == audio.SampleRate {
		return samples, nil
	}
	if l.resampler == nil || l.resampler.InputRate() != uint32(rate) {
		r, err := audio.NewResampler(audio.ResamplerConfig{
			InputRate:  uint32(rate),
			OutputRate: audio.SampleRate,
			Channels:   audio.Channels,
		})
		if err != nil {
			return nil, err
		}
		l.resampler = r
	}
	return l.resampler.Resample(samples)
}

func (l *link) close() {
	l.closeOnce.Do(func() {
		l.cancel()
		l.channel.Close()
	})
}
