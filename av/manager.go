package av

import (
	"fmt"
	"sort"
	"sync"

	"github.com/opd-ai/callbridge/av/audio"
	"github.com/opd-ai/callbridge/av/bridge"
	"github.com/opd-ai/callbridge/av/rtp"
	"github.com/opd-ai/callbridge/transport"
	"github.com/sirupsen/logrus"
)

// ManagerConfig holds the options of a Manager.
type ManagerConfig struct {
	// QueueDepth bounds the per-call browser queue. Zero uses the bridge default.
	QueueDepth int
	// Ringback is the local ringback cadence.
	Ringback RingbackConfig
	// Clock drives the ringback timers. If nil, DefaultClock is used.
	Clock Clock
	// Listen binds the RTP socket. If nil, a real UDP socket is used.
	Listen transport.ListenFunc
}

// Manager ties together the RTP transport server, the browser bridge and
// one media gate per call. It is the surface the signaling layer drives.
type Manager struct {
	mu     sync.RWMutex
	server *rtp.Server
	bridge *bridge.Bridge
	clock  Clock
	config RingbackConfig
	tones  *audio.ToneBank
	calls  map[string]*MediaGate
}

// NewManager creates a manager with a stopped RTP server.
func NewManager(config ManagerConfig) *Manager {
	clock := config.Clock
	if clock == nil {
		clock = DefaultClock{}
	}
	ringback := config.Ringback.withDefaults()

	server := rtp.NewServerWithListener(config.Listen, rtp.NewRegistry())
	m := &Manager{
		server: server,
		bridge: bridge.NewBridge(server, bridge.Config{QueueDepth: config.QueueDepth}),
		clock:  clock,
		config: ringback,
		tones:  audio.NewToneBank(ringback.ToneSpec()),
		calls:  make(map[string]*MediaGate),
	}

	server.OnAudioFrame(m.bridge.HandleFrame)
	m.bridge.OnMediaOpen(m.MediaOpened)

	return m
}

// Server returns the RTP transport server.
func (m *Manager) Server() *rtp.Server {
	return m.server
}

// Bridge returns the browser bridge.
func (m *Manager) Bridge() *bridge.Bridge {
	return m.bridge
}

// Tones returns the shared ringback tone bank.
func (m *Manager) Tones() *audio.ToneBank {
	return m.tones
}

// Start binds the RTP port. A bind failure is returned unchanged for the
// caller to decide on a retry.
func (m *Manager) Start(port int) error {
	logrus.WithFields(logrus.Fields{
		"function": "Manager.Start",
		"port":     port,
	}).Debug("Starting call manager")

	if err := m.server.Start(port); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Manager.Start",
		"port":     port,
	}).Info("Call manager started")
	return nil
}

// Stop ends every call and closes the RTP socket.
func (m *Manager) Stop() error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.calls))
	for callID := range m.calls {
		ids = append(ids, callID)
	}
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":          "Manager.Stop",
		"active_call_count": len(ids),
	}).Info("Ending all active calls before shutdown")

	for _, callID := range ids {
		m.CallEnded(callID)
	}
	return m.server.Stop()
}

// MediaReady is called when signaling knows the remote media endpoint of a
// call. It creates the RTP session and starts presenting the call as
// ringing.
//
// Parameters:
//   - callID: Call identifier
//   - address: Remote media IP address, may be provisional
//   - port: Remote media UDP port
//   - payloadType: Negotiated G.711 variant
//
// Returns:
//   - error: ErrCallAlreadyActive or a session creation error
func (m *Manager) MediaReady(callID, address string, port int, payloadType rtp.PayloadType) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.calls[callID]; exists {
		return fmt.Errorf("%w: %s", ErrCallAlreadyActive, callID)
	}

	if _, err := m.server.CreateSession(callID, address, port, payloadType); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.MediaReady",
			"call_id":  callID,
			"error":    err.Error(),
		}).Error("Failed to create RTP session")
		return err
	}

	gate := NewMediaGate(callID, GateConfig{
		Ringback: m.config,
		Clock:    m.clock,
		Tones:    m.tones,
		Play:     m.playTone,
	})
	gate.OnStateChange(m.pushState)
	m.calls[callID] = gate

	return gate.StartRinging()
}

// Answered records that signaling reports the call answered.
func (m *Manager) Answered(callID string) error {
	gate, err := m.gate(callID)
	if err != nil {
		return err
	}
	return gate.SignalAnswered()
}

// MediaOpened records that media is flowing for the call. Unknown calls are
// ignored.
func (m *Manager) MediaOpened(callID string) {
	gate, err := m.gate(callID)
	if err != nil {
		return
	}
	if err := gate.SetMediaOpen(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.MediaOpened",
			"call_id":  callID,
			"error":    err.Error(),
		}).Debug("Ignoring media open")
	}
}

// CallEnded tears down a call: the gate ends, the RTP session is removed and
// the browser channel is closed. Unknown calls are still evicted from the
// transport and bridge.
func (m *Manager) CallEnded(callID string) {
	m.mu.Lock()
	gate := m.calls[callID]
	delete(m.calls, callID)
	m.mu.Unlock()

	if gate != nil {
		gate.End()
	}
	m.server.EndSession(callID)
	m.bridge.Detach(callID)

	logrus.WithFields(logrus.Fields{
		"function": "Manager.CallEnded",
		"call_id":  callID,
	}).Info("Call ended")
}

// CallState returns a snapshot of a call.
func (m *Manager) CallState(callID string) (CallInfo, error) {
	gate, err := m.gate(callID)
	if err != nil {
		return CallInfo{}, err
	}
	return m.info(callID, gate), nil
}

// Calls returns snapshots of all calls ordered by call id.
func (m *Manager) Calls() []CallInfo {
	m.mu.RLock()
	gates := make(map[string]*MediaGate, len(m.calls))
	for callID, gate := range m.calls {
		gates[callID] = gate
	}
	m.mu.RUnlock()

	infos := make([]CallInfo, 0, len(gates))
	for callID, gate := range gates {
		infos = append(infos, m.info(callID, gate))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].CallID < infos[j].CallID })
	return infos
}

// CallCount returns the number of calls.
func (m *Manager) CallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.calls)
}

func (m *Manager) gate(callID string) (*MediaGate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	gate, ok := m.calls[callID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCallNotFound, callID)
	}
	return gate, nil
}

func (m *Manager) info(callID string, gate *MediaGate) CallInfo {
	info := CallInfo{
		CallID:         callID,
		State:          gate.State().String(),
		Answered:       gate.Answered(),
		MediaOpen:      gate.MediaOpen(),
		RingbackActive: gate.RingbackActive(),
		Attached:       m.bridge.Attached(callID),
	}
	if session, ok := m.server.Session(callID); ok {
		if remote := session.RemoteAddr(); remote != nil {
			info.RemoteAddress = remote.String()
		}
		info.PayloadType = session.PayloadType().String()
		stats := session.Statistics()
		info.PacketsSent = stats.PacketsSent
		info.PacketsRecv = stats.PacketsReceived
	}
	return info
}

func (m *Manager) playTone(callID string, samples []int16) {
	m.bridge.PushTone(callID, samples, audio.SampleRate)
}

func (m *Manager) pushState(callID string, state CallState) {
	m.bridge.PushState(callID, state.String())
}
