//go:build !portaudio

// ABOUTME: PortAudio stub when library not available
// ABOUTME: Provides compile-time placeholder when PortAudio not installed
package output

import (
	"errors"
)

// ErrPortAudioUnavailable is returned when built without the portaudio tag
var ErrPortAudioUnavailable = errors.New("PortAudio support not enabled (build with -tags portaudio)")

// PortAudio output implementation (stub)
type PortAudio struct{}

// NewPortAudio creates a new PortAudio output
func NewPortAudio() *PortAudio {
	return &PortAudio{}
}

// Open initializes PortAudio
func (p *PortAudio) Open(sampleRate, channels, bitDepth int) error {
	return ErrPortAudioUnavailable
}

// Write outputs audio samples
func (p *PortAudio) Write(samples []int32) error {
	return ErrPortAudioUnavailable
}

// Close releases resources
func (p *PortAudio) Close() error {
	return nil
}
