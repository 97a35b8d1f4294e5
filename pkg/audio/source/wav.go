// ABOUTME: WAV file source
// ABOUTME: Reads 16 and 24-bit PCM WAV files with go-audio/wav
package source

import (
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVSource reads from a WAV file
type WAVSource struct {
	file       *os.File
	decoder    *wav.Decoder
	buf        goaudio.IntBuffer
	sampleRate int
	channels   int
	bitDepth   int
}

// NewWAV opens a WAV file
func NewWAV(path string) (*WAVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAV file: %w", err)
	}

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		f.Close()
		return nil, fmt.Errorf("invalid WAV file: %s", path)
	}
	if err := decoder.FwdToPCM(); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to locate WAV data: %w", err)
	}

	bitDepth := int(decoder.BitDepth)
	if bitDepth != 16 && bitDepth != 24 {
		f.Close()
		return nil, fmt.Errorf("unsupported WAV bit depth: %d (supported: 16, 24)", bitDepth)
	}

	return &WAVSource{
		file:       f,
		decoder:    decoder,
		sampleRate: int(decoder.SampleRate),
		channels:   int(decoder.NumChans),
		bitDepth:   bitDepth,
	}, nil
}

func (s *WAVSource) Read(samples []int32) (int, error) {
	if cap(s.buf.Data) < len(samples) {
		s.buf.Data = make([]int, len(samples))
	}
	s.buf.Data = s.buf.Data[:len(samples)]
	s.buf.Format = &goaudio.Format{NumChannels: s.channels, SampleRate: s.sampleRate}

	n, err := s.decoder.PCMBuffer(&s.buf)
	if err != nil {
		return 0, fmt.Errorf("failed to read WAV data: %w", err)
	}
	if n == 0 {
		return 0, io.EOF
	}

	for i := 0; i < n; i++ {
		samples[i] = int32(s.buf.Data[i])
	}
	return n, nil
}

func (s *WAVSource) SampleRate() int { return s.sampleRate }
func (s *WAVSource) Channels() int   { return s.channels }
func (s *WAVSource) BitDepth() int   { return s.bitDepth }
func (s *WAVSource) Close() error {
	return s.file.Close()
}
