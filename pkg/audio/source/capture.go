//go:build portaudio

// ABOUTME: Microphone capture source using PortAudio
// ABOUTME: Reads 16-bit input frames from the default input device
package source

import (
	"context"
	"fmt"
	"io"

	"github.com/gordonklaus/portaudio"
)

// CaptureSource records from the default input device until its context ends
type CaptureSource struct {
	ctx        context.Context
	stream     *portaudio.Stream
	buffer     []int16
	pending    []int16
	sampleRate int
	channels   int
}

// NewCapture opens the default input device
func NewCapture(ctx context.Context, sampleRate, channels, framesPerBuffer int) (*CaptureSource, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	s := &CaptureSource{
		ctx:        ctx,
		buffer:     make([]int16, framesPerBuffer*channels),
		sampleRate: sampleRate,
		channels:   channels,
	}

	stream, err := portaudio.OpenDefaultStream(channels, 0, float64(sampleRate), framesPerBuffer, s.buffer)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to start input stream: %w", err)
	}

	s.stream = stream
	return s, nil
}

func (s *CaptureSource) Read(samples []int32) (int, error) {
	read := 0
	for read < len(samples) {
		if len(s.pending) == 0 {
			if err := s.ctx.Err(); err != nil {
				if read > 0 {
					return read, nil
				}
				return 0, io.EOF
			}
			if err := s.stream.Read(); err != nil {
				return read, fmt.Errorf("failed to read input: %w", err)
			}
			s.pending = s.buffer
		}

		n := min(len(samples)-read, len(s.pending))
		for i := 0; i < n; i++ {
			samples[read+i] = int32(s.pending[i])
		}
		s.pending = s.pending[n:]
		read += n
	}
	return read, nil
}

func (s *CaptureSource) SampleRate() int { return s.sampleRate }
func (s *CaptureSource) Channels() int   { return s.channels }
func (s *CaptureSource) BitDepth() int   { return 16 }
func (s *CaptureSource) Close() error {
	if s.stream != nil {
		s.stream.Stop()
		s.stream.Close()
	}
	return portaudio.Terminate()
}
