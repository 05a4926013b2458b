// Package limits provides centralized size constants and validation functions
// for the media path.
//
// # Limits
//
//   - MaxDatagramSize (1500 bytes): the largest UDP datagram the RTP transport
//     reads or writes. A 20 ms G.711 frame is 172 bytes on the wire.
//
//   - MaxFrameSamples (1488 samples): the largest frame accepted by a single
//     RTP send. With one byte per G.711 sample and the 12-byte RTP header it
//     fills exactly one datagram, so a frame that passes never fails on size
//     at the socket.
//
//   - MaxMicrophoneMessage (192000 bytes): the largest decoded PCM16 payload of
//     one browser microphone message.
//
// # Validation Functions
//
//	if err := limits.ValidateDatagramSize(data); err != nil {
//	    // ErrDatagramEmpty or ErrDatagramTooLarge
//	}
//
// Errors wrap the sentinels so callers can classify them with errors.Is.
package limits
