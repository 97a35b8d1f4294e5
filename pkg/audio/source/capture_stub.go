//go:build !portaudio

// ABOUTME: Capture source stub when PortAudio is not available
// ABOUTME: Provides compile-time placeholder when built without the portaudio tag
package source

import (
	"context"
	"errors"
)

// ErrCaptureUnavailable is returned when built without PortAudio
var ErrCaptureUnavailable = errors.New("audio capture not enabled (build with -tags portaudio)")

// CaptureSource records from the default input device (stub)
type CaptureSource struct{}

// NewCapture always fails without PortAudio
func NewCapture(ctx context.Context, sampleRate, channels, framesPerBuffer int) (*CaptureSource, error) {
	return nil, ErrCaptureUnavailable
}

func (s *CaptureSource) Read(samples []int32) (int, error) { return 0, ErrCaptureUnavailable }
func (s *CaptureSource) SampleRate() int                   { return 0 }
func (s *CaptureSource) Channels() int                     { return 0 }
func (s *CaptureSource) BitDepth() int                     { return 16 }
func (s *CaptureSource) Close() error                      { return nil }
