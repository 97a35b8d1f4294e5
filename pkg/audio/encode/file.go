// ABOUTME: Audio file to FLAC file encoder
// ABOUTME: Streams a WAV, MP3 or FLAC source through the encoder into a seekable file
package encode

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Resonate-Protocol/flacrelay/pkg/audio/source"
	"github.com/Resonate-Protocol/flacrelay/pkg/relay"
)

const fileReadFrames = 8192

// FileEncoder encodes an audio file into a FLAC file
type FileEncoder struct {
	src    source.Source
	out    *os.File
	output string
	enc    *StreamEncoder
}

// DefaultOutputPath replaces the extension of input with .flac
func DefaultOutputPath(input string) string {
	return strings.TrimSuffix(input, filepath.Ext(input)) + ".flac"
}

// NewFile opens inputPath and creates outputPath. Sample rate, channels and
// bit depth come from the source; the rest of cfg applies as given.
func NewFile(inputPath, outputPath string, cfg Config) (*FileEncoder, error) {
	src, err := source.Open(inputPath)
	if err != nil {
		return nil, &relay.InitError{Status: relay.InitErrorOpeningFile, Err: err}
	}

	if outputPath == "" {
		outputPath = DefaultOutputPath(inputPath)
	}
	f, err := NewFileFromSource(src, outputPath, cfg)
	if err != nil {
		src.Close()
		return nil, err
	}
	return f, nil
}

// NewFileFromSource encodes an already opened source into outputPath.
// The encoder takes ownership of src.
func NewFileFromSource(src source.Source, outputPath string, cfg Config) (*FileEncoder, error) {
	out, err := os.Create(outputPath)
	if err != nil {
		return nil, &relay.InitError{Status: relay.InitErrorOpeningFile, Err: err}
	}

	f := &FileEncoder{src: src, out: out, output: outputPath}

	cfg.SampleRate = src.SampleRate()
	cfg.Channels = src.Channels()
	cfg.BitDepth = src.BitDepth()
	cfg.Push = relay.PushFunc(f.write)

	enc, err := NewStream(cfg)
	if err != nil {
		out.Close()
		os.Remove(outputPath)
		return nil, err
	}
	f.enc = enc
	return f, nil
}

func (f *FileEncoder) write(buf []byte, info relay.ChunkInfo) error {
	_, err := f.out.Write(buf)
	return err
}

// OutputPath returns the path of the FLAC file
func (f *FileEncoder) OutputPath() string {
	return f.output
}

// Encoder returns the underlying stream encoder
func (f *FileEncoder) Encoder() *StreamEncoder {
	return f.enc
}

// Process encodes the whole source, then rewrites the stream header with
// the completed STREAMINFO block. The output file is removed on failure.
func (f *FileEncoder) Process() error {
	err := f.encode()
	err = errors.Join(err, f.enc.Finish())

	if err == nil {
		if _, werr := f.out.WriteAt(f.enc.Header(), 0); werr != nil {
			err = fmt.Errorf("failed to update stream header: %w", werr)
		}
	}

	err = errors.Join(err, f.out.Close())
	if err != nil {
		os.Remove(f.output)
	}
	return errors.Join(err, f.src.Close())
}

func (f *FileEncoder) encode() error {
	buf := make([]int32, fileReadFrames*f.src.Channels())
	for {
		n, err := f.src.Read(buf)
		if n > 0 {
			if perr := f.enc.Process(buf[:n]); perr != nil {
				return perr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read source: %w", err)
		}
	}
}
