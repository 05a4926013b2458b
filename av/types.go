package av

import "fmt"

// CallState is the call state presented to the browser.
type CallState uint32

const (
	// CallStateIdle indicates media has not been announced yet
	CallStateIdle CallState = iota
	// CallStateRinging indicates the far end is being alerted, or has
	// answered without audio flowing yet
	CallStateRinging
	// CallStateConnected indicates the call is answered and media is flowing
	CallStateConnected
	// CallStateEnded indicates the call is over; it is terminal
	CallStateEnded
)

// String returns the lower-case state name used on the wire.
func (s CallState) String() string {
	switch s {
	case CallStateIdle:
		return "idle"
	case CallStateRinging:
		return "ringing"
	case CallStateConnected:
		return "connected"
	case CallStateEnded:
		return "ended"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(s))
	}
}

// CallInfo is a snapshot of one call.
type CallInfo struct {
	CallID         string `json:"callId"`
	State          string `json:"state"`
	Answered       bool   `json:"answered"`
	MediaOpen      bool   `json:"mediaOpen"`
	RingbackActive bool   `json:"ringbackActive"`
	Attached       bool   `json:"attached"`
	RemoteAddress  string `json:"remoteAddress,omitempty"`
	PayloadType    string `json:"payloadType,omitempty"`
	PacketsSent    uint64 `json:"packetsSent"`
	PacketsRecv    uint64 `json:"packetsReceived"`
}
