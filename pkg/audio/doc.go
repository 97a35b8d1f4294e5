// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines Format, Buffer types and sample conversion functions
// Package audio provides the sample and format types shared by the FLAC
// encoder, decoder, sources and outputs.
//
// Samples are int32 values in the native range of the stream's bit depth
// (a 16-bit stream holds values in [-32768, 32767]) and are interleaved by
// channel. Helpers convert between that layout and packed little-endian PCM:
//   - PackSamples / UnpackSamples: int32 ↔ 16 or 24-bit packed bytes
//   - Interleave / Deinterleave: per-channel ↔ interleaved slices
//   - ScaleTo24Bit, SampleToInt16: range conversion for playback
//
// Example:
//
//	format := audio.Format{
//	    Codec:      audio.CodecPCM,
//	    SampleRate: 44100,
//	    Channels:   2,
//	    BitDepth:   16,
//	}
//
//	data, err := audio.PackSamples(samples, format.BitDepth)
package audio
