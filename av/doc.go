// Package av drives the media side of bridged telephone calls.
//
// A Manager owns the RTP transport server (package av/rtp), the browser
// bridge (package av/bridge) and one MediaGate per call. The signaling
// layer, which lives outside this module, reports call events to the
// Manager:
//
//	manager := av.NewManager(av.ManagerConfig{})
//	if err := manager.Start(10000); err != nil {
//	    log.Fatal(err) // bind failure, the caller decides whether to retry
//	}
//	defer manager.Stop()
//
//	manager.MediaReady("call-1", "10.0.0.5", 40000, rtp.PayloadTypePCMU)
//	manager.Answered("call-1")
//	// ...
//	manager.CallEnded("call-1")
//
// # Media Gate
//
// Telephony backends often report a call as answered before any audio path
// exists. The MediaGate therefore presents Connected only when the call is
// answered and the bridge has forwarded the first RTP frame. Until then the
// call is presented as Ringing and a local two-tone ringback is pushed to
// the browser:
//
//	tone A (440 Hz, 400 ms), gap (200 ms), tone B (480 Hz, 400 ms), pause (2 s)
//
// The cadence repeats until media opens, at which point it stops at once,
// even mid-pattern.
//
// # Deterministic Testing
//
// Ringback timers are scheduled through the Clock interface, so tests can
// substitute a manual clock and step the cadence explicitly.
package av
