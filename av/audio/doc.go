// Package audio implements the signal-processing half of the telephony media
// path: G.711 companding, PCM16 byte conversion, sample rate conversion and
// ringback tone synthesis.
//
// # G.711
//
// The µ-law and A-law functions operate on one sample at a time and carry no
// state, so batch conversion preserves sample order 1:1 and decoding an
// encoded buffer twice yields the same result:
//
//	payload, err := audio.EncodeBuffer(samples, audio.PayloadTypePCMU)
//	samples, err := audio.DecodeBuffer(payload, audio.PayloadTypePCMU)
//
// # Browser PCM
//
// Browsers exchange little-endian PCM16. BytesToPCM16 rejects buffers with an
// odd byte count with ErrInvalidAudioLength instead of truncating them.
//
// # Resampler
//
// Microphone audio arrives at the browser capture rate and is converted to
// 8 kHz with linear interpolation:
//
//	r, err := audio.NewResampler(audio.ResamplerConfig{
//	    InputRate:  48000,
//	    OutputRate: audio.SampleRate,
//	    Channels:   1,
//	})
//	narrow, err := r.Resample(wide)
//
// # Ringback tones
//
// ToneBank owns the ringback buffers shared by all ringing calls. Buffers are
// synthesized on the first Acquire and freed on the last Release.
package audio
