// ABOUTME: Test tone generator source
// ABOUTME: Generates a sine wave at a configurable frequency and bit depth
package source

import (
	"io"
	"math"
	"sync"
	"time"
)

// ToneConfig configures a ToneSource. Zero values use 440Hz, 44.1kHz,
// stereo, 16-bit and an endless tone.
type ToneConfig struct {
	Frequency  float64
	SampleRate int
	Channels   int
	BitDepth   int
	Amplitude  float64
	Duration   time.Duration
}

// ToneSource generates a sine wave
type ToneSource struct {
	cfg         ToneConfig
	sampleMu    sync.Mutex
	sampleIndex uint64
	total       uint64
}

// NewTone creates a new test tone generator
func NewTone(cfg ToneConfig) *ToneSource {
	if cfg.Frequency == 0 {
		cfg.Frequency = 440.0
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 44100
	}
	if cfg.Channels == 0 {
		cfg.Channels = 2
	}
	if cfg.BitDepth == 0 {
		cfg.BitDepth = 16
	}
	if cfg.Amplitude == 0 {
		cfg.Amplitude = 0.5
	}

	s := &ToneSource{cfg: cfg}
	if cfg.Duration > 0 {
		s.total = uint64(cfg.Duration.Seconds() * float64(cfg.SampleRate))
	}
	return s
}

func (s *ToneSource) Read(samples []int32) (int, error) {
	s.sampleMu.Lock()
	defer s.sampleMu.Unlock()

	frames := uint64(len(samples) / s.cfg.Channels)
	if s.total > 0 {
		if s.sampleIndex >= s.total {
			return 0, io.EOF
		}
		frames = min(frames, s.total-s.sampleIndex)
	}

	peak := float64(int64(1)<<(s.cfg.BitDepth-1) - 1)
	for i := uint64(0); i < frames; i++ {
		t := float64(s.sampleIndex+i) / float64(s.cfg.SampleRate)
		value := int32(math.Sin(2*math.Pi*s.cfg.Frequency*t) * peak * s.cfg.Amplitude)
		for ch := 0; ch < s.cfg.Channels; ch++ {
			samples[int(i)*s.cfg.Channels+ch] = value
		}
	}

	s.sampleIndex += frames
	return int(frames) * s.cfg.Channels, nil
}

func (s *ToneSource) SampleRate() int { return s.cfg.SampleRate }
func (s *ToneSource) Channels() int   { return s.cfg.Channels }
func (s *ToneSource) BitDepth() int   { return s.cfg.BitDepth }
func (s *ToneSource) Close() error    { return nil }
