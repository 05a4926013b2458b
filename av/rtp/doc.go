// Package rtp carries call audio between the telephony provider and the
// bridge over RTP on a single shared UDP port.
//
// It uses the pion/rtp library for standards-compliant header encoding and
// adds session bookkeeping for many concurrent calls.
//
// # Architecture Overview
//
//   - Parse and Serialize: RTP header and payload encoding
//   - Session: per-call SSRC, sequence number, timestamp and remote endpoint
//   - Registry: call and endpoint lookup, with remote endpoint learning
//   - Server: the UDP socket, inbound routing and outbound sending
//
// # Sending Audio
//
// Each call sends 20 ms frames of 8 kHz PCM16:
//
//	server := rtp.NewServer()
//	if err := server.Start(10000); err != nil {
//	    log.Fatal(err)
//	}
//	defer server.Stop()
//
//	if _, err := server.CreateSession("call-1", "10.0.0.5", 40000, rtp.PayloadTypePCMU); err != nil {
//	    log.Fatal(err)
//	}
//	server.Send("call-1", frame) // 160 samples
//
// Every accepted frame advances the session sequence number by one and the
// timestamp by the number of samples, both with wraparound.
//
// # Receiving Audio
//
// Inbound packets are processed in arrival order on one goroutine and
// delivered as decoded frames:
//
//	server.OnAudioFrame(func(frame rtp.AudioFrame) {
//	    // frame.CallID, frame.Samples at 8 kHz mono
//	})
//
// Packets that fail to parse, or that cannot be attributed to a call, are
// dropped and counted in Server.Stats.
//
// # Endpoint Learning
//
// The endpoint announced for a call may differ from where media actually
// comes from, for instance behind NAT. A packet from an unknown source is
// attributed to the session whose latched remote SSRC matches, or to the only
// active session when there is exactly one. The session then sends to the
// new source.
//
// # Thread Safety
//
// Server, Registry and Session are safe for concurrent use.
package rtp
