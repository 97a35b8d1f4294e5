// ABOUTME: Audio resampling package using linear interpolation
// ABOUTME: Converts audio between different sample rates
// Package resample provides audio sample rate conversion.
//
// Uses linear interpolation for converting between sample rates and keeps
// state between calls, so a stream may be fed in chunks of any size.
//
// Example:
//
//	src, _ := source.Open("input.wav")
//	rs, _ := resample.NewSource(src, 48000)
//	enc, _ := encode.NewFileFromSource(rs, "output.flac", cfg)
package resample
