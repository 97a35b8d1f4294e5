// ABOUTME: PCM source package for feeding the FLAC encoder
// ABOUTME: Provides the Source interface and file, tone and capture sources
// Package source provides PCM sample sources.
//
// Supports: WAV (16 and 24-bit), MP3, FLAC, a sine test tone and, when built
// with the portaudio tag, the default capture device.
//
// Example:
//
//	src, err := source.Open("input.wav")
//	samples, err := source.ReadAll(src)
package source
