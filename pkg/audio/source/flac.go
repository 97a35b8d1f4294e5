// ABOUTME: FLAC file source
// ABOUTME: Reads native-depth samples from a FLAC file for re-encoding
package source

import (
	"fmt"
	"io"
	"os"

	"github.com/mewkiz/flac"
)

// FLACSource reads from a FLAC file
type FLACSource struct {
	file       *os.File
	stream     *flac.Stream
	sampleRate int
	channels   int
	bitDepth   int
	pending    []int32
}

// NewFLAC opens a FLAC file
func NewFLAC(path string) (*FLACSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open FLAC file: %w", err)
	}

	stream, err := flac.New(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode FLAC: %w", err)
	}

	info := stream.Info
	return &FLACSource{
		file:       f,
		stream:     stream,
		sampleRate: int(info.SampleRate),
		channels:   int(info.NChannels),
		bitDepth:   int(info.BitsPerSample),
	}, nil
}

func (s *FLACSource) Read(samples []int32) (int, error) {
	read := 0
	for read < len(samples) {
		if len(s.pending) == 0 {
			frame, err := s.stream.ParseNext()
			if err != nil {
				if err == io.EOF && read > 0 {
					return read, nil
				}
				return read, err
			}
			for i := 0; i < int(frame.BlockSize); i++ {
				for ch := 0; ch < s.channels; ch++ {
					s.pending = append(s.pending, frame.Subframes[ch].Samples[i])
				}
			}
		}

		n := copy(samples[read:], s.pending)
		s.pending = s.pending[n:]
		read += n
	}
	return read, nil
}

func (s *FLACSource) SampleRate() int { return s.sampleRate }
func (s *FLACSource) Channels() int   { return s.channels }
func (s *FLACSource) BitDepth() int   { return s.bitDepth }
func (s *FLACSource) Close() error {
	return s.file.Close()
}
