//go:build portaudio

// ABOUTME: PortAudio output implementation
// ABOUTME: Cross-platform blocking audio output using PortAudio
package output

import (
	"fmt"

	"github.com/Resonate-Protocol/flacrelay/pkg/audio"
	"github.com/gordonklaus/portaudio"
)

const portAudioFrames = 1024

// PortAudio output implementation
type PortAudio struct {
	stream   *portaudio.Stream
	buffer   []int16
	bitDepth int
}

// NewPortAudio creates a new PortAudio output
func NewPortAudio() *PortAudio {
	return &PortAudio{}
}

// Open initializes PortAudio with a blocking stream
func (p *PortAudio) Open(sampleRate, channels, bitDepth int) error {
	if _, err := audio.BytesPerSample(bitDepth); err != nil {
		return err
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	p.buffer = make([]int16, portAudioFrames*channels)
	stream, err := portaudio.OpenDefaultStream(0, channels, float64(sampleRate), portAudioFrames, p.buffer)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("failed to open stream: %w", err)
	}

	p.stream = stream
	p.bitDepth = bitDepth
	return stream.Start()
}

// Write outputs audio samples, padding the last buffer with silence
func (p *PortAudio) Write(samples []int32) error {
	if p.stream == nil {
		return fmt.Errorf("output not opened")
	}

	converted := audio.ToInt16(samples, p.bitDepth)
	for len(converted) > 0 {
		n := copy(p.buffer, converted)
		clear(p.buffer[n:])
		converted = converted[n:]
		if err := p.stream.Write(); err != nil {
			return fmt.Errorf("portaudio write failed: %w", err)
		}
	}
	return nil
}

// Close releases resources
func (p *PortAudio) Close() error {
	if p.stream != nil {
		if err := p.stream.Stop(); err != nil {
			return err
		}
		if err := p.stream.Close(); err != nil {
			return err
		}
		p.stream = nil
	}
	return portaudio.Terminate()
}
