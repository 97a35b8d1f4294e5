// ABOUTME: PCM source abstraction for the FLAC encoder
// ABOUTME: Opens WAV, MP3 and FLAC files or generates a test tone
package source

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrUnsupportedFormat is returned by Open for unknown file types
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Source provides interleaved PCM samples in the native range of BitDepth
type Source interface {
	// Read fills samples and returns how many were written. It returns
	// io.EOF once the source is exhausted.
	Read(samples []int32) (int, error)
	// SampleRate returns the sample rate of the audio
	SampleRate() int
	// Channels returns the number of channels
	Channels() int
	// BitDepth returns the bit depth of the samples
	BitDepth() int
	// Close closes the audio source
	Close() error
}

// Open creates a source from a file path. An empty path returns a
// ten second test tone.
func Open(path string) (Source, error) {
	if path == "" {
		return NewTone(ToneConfig{Duration: 10 * time.Second}), nil
	}

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("audio file not found: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".wav", ".wave":
		return NewWAV(path)
	case ".mp3":
		return NewMP3(path)
	case ".flac":
		return NewFLAC(path)
	default:
		return nil, fmt.Errorf("%w: %s (supported: .wav, .mp3, .flac)", ErrUnsupportedFormat, ext)
	}
}

// ReadAll drains a source into a single interleaved slice
func ReadAll(src Source) ([]int32, error) {
	var out []int32
	buf := make([]int32, 4096*src.Channels())
	for {
		n, err := src.Read(buf)
		out = append(out, buf[:n]...)
		if err != nil {
			if isEOF(err) {
				return out, nil
			}
			return out, err
		}
	}
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF)
}
