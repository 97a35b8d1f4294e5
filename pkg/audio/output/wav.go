// ABOUTME: WAV file output implementation
// ABOUTME: Writes played samples to a WAV file with go-audio/wav for headless runs
package output

import (
	"fmt"
	"os"

	"github.com/Resonate-Protocol/flacrelay/pkg/audio"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAV writes samples to a file instead of a device
type WAV struct {
	path string
	file *os.File
	enc  *wav.Encoder
	buf  goaudio.IntBuffer
}

// NewWAV creates an output that writes to path on Open
func NewWAV(path string) *WAV {
	return &WAV{path: path}
}

// Open creates the file
func (w *WAV) Open(sampleRate, channels, bitDepth int) error {
	if _, err := audio.BytesPerSample(bitDepth); err != nil {
		return err
	}
	if w.file != nil {
		return fmt.Errorf("wav output already open: %s", w.path)
	}

	f, err := os.Create(w.path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", w.path, err)
	}
	w.file = f
	w.enc = wav.NewEncoder(f, sampleRate, bitDepth, channels, 1)
	w.buf = goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		SourceBitDepth: bitDepth,
	}
	return nil
}

// Write appends samples to the file
func (w *WAV) Write(samples []int32) error {
	if w.enc == nil {
		return fmt.Errorf("output not initialized")
	}
	w.buf.Data = w.buf.Data[:0]
	for _, s := range samples {
		w.buf.Data = append(w.buf.Data, int(s))
	}
	return w.enc.Write(&w.buf)
}

// Close finalizes the WAV header and closes the file
func (w *WAV) Close() error {
	if w.enc == nil {
		return nil
	}
	err := w.enc.Close()
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	w.enc, w.file = nil, nil
	return err
}
