// Package bridge connects RTP call audio to a browser streaming channel.
//
// Each call has at most one attached channel, normally a websocket. Decoded
// RTP frames are base64 encoded and pushed to the browser as "rtp-audio"
// events; "microphone-audio" events from the browser are decoded, resampled
// to 8 kHz and sent back over RTP in 20 ms frames.
//
// # Backpressure
//
// Frames are not buffered for jitter. A bounded queue per call sits between
// the RTP receive goroutine and the channel writer; when the browser falls
// behind, the oldest queued audio messages are dropped so the receive path
// never blocks. Call-state messages are never dropped and keep their place
// in the stream.
//
// # Channel Paths
//
// The server exposes a primary and a fallback path. DialChannel tries the
// fallback only when the primary cannot be established.
package bridge
