// ABOUTME: FLAC file to WAV file decoder
// ABOUTME: Drives a pull decoder from a file and writes decoded PCM with go-audio/wav
package decode

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Resonate-Protocol/flacrelay/pkg/audio"
	"github.com/Resonate-Protocol/flacrelay/pkg/relay"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/rs/zerolog"
)

const fileReadSize = 64 * 1024

// FileDecoder decodes a FLAC file into a WAV file
type FileDecoder struct {
	input  *os.File
	output string
	temp   bool
	log    *zerolog.Logger

	dec     *PullDecoder
	readBuf []byte

	outFile *os.File
	wav     *wav.Encoder
	ints    goaudio.IntBuffer
}

// NewFile opens inputPath for decoding. When outputPath is empty the WAV
// file is written to a temporary file.
func NewFile(inputPath, outputPath string, logger *zerolog.Logger) (*FileDecoder, error) {
	input, err := os.Open(inputPath)
	if err != nil {
		return nil, &relay.InitError{Status: relay.InitErrorOpeningFile, Err: err}
	}

	d := &FileDecoder{
		input:   input,
		output:  outputPath,
		log:     logger,
		readBuf: make([]byte, fileReadSize),
	}

	if d.output == "" {
		tmp, err := os.CreateTemp("", "flacrelay-*.wav")
		if err != nil {
			input.Close()
			return nil, &relay.InitError{Status: relay.InitErrorOpeningFile, Err: err}
		}
		d.output = tmp.Name()
		d.temp = true
		tmp.Close()
	}

	dec, err := NewPull(relay.PullFunc(d.read), StreamConfig{Push: relay.PushFunc(d.write), Logger: logger}, relay.OverflowAbort)
	if err != nil {
		input.Close()
		return nil, err
	}
	d.dec = dec
	return d, nil
}

// OutputPath returns the path of the WAV file
func (d *FileDecoder) OutputPath() string {
	return d.output
}

func (d *FileDecoder) read(maxBytes int) ([]byte, error) {
	if maxBytes > len(d.readBuf) {
		d.readBuf = make([]byte, maxBytes)
	}
	n, err := d.input.Read(d.readBuf[:maxBytes])
	if n > 0 {
		return d.readBuf[:n], nil
	}
	if err == io.EOF {
		return nil, nil
	}
	return nil, err
}

func (d *FileDecoder) write(buf []byte, info relay.ChunkInfo) error {
	if d.wav == nil {
		out, err := os.Create(d.output)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", d.output, err)
		}
		d.outFile = out
		d.wav = wav.NewEncoder(out, info.SampleRate, info.BitDepth, info.Channels, 1)
		d.ints.Format = &goaudio.Format{NumChannels: info.Channels, SampleRate: info.SampleRate}
		d.ints.SourceBitDepth = info.BitDepth
	}

	samples, err := audio.UnpackSamples(buf, info.BitDepth)
	if err != nil {
		return err
	}
	d.ints.Data = d.ints.Data[:0]
	for _, s := range samples {
		d.ints.Data = append(d.ints.Data, int(s))
	}
	return d.wav.Write(&d.ints)
}

// Process decodes the whole file and returns the decoded audio read back
// from the WAV file
func (d *FileDecoder) Process() (*audio.Buffer, error) {
	processErr := d.dec.Process()
	finishErr := d.dec.Finish()
	closeErr := d.close()

	if err := errors.Join(processErr, finishErr, closeErr); err != nil {
		return nil, err
	}
	if d.dec.Stats().ChunksPushed == 0 {
		return nil, fmt.Errorf("no audio frames decoded from %s", d.input.Name())
	}

	if d.log != nil {
		d.log.Info().Str("output", d.output).Int64("bytes", d.dec.Stats().BytesPushed).Msg("decoded flac file")
	}
	return ReadWAV(d.output)
}

// Remove deletes the output file when it was a temporary file
func (d *FileDecoder) Remove() error {
	if !d.temp {
		return nil
	}
	return os.Remove(d.output)
}

func (d *FileDecoder) close() error {
	var errs []error
	if d.wav != nil {
		errs = append(errs, d.wav.Close())
		d.wav = nil
	}
	if d.outFile != nil {
		errs = append(errs, d.outFile.Close())
		d.outFile = nil
	}
	errs = append(errs, d.input.Close())
	return errors.Join(errs...)
}

// ReadWAV loads a whole WAV file as native-depth samples
func ReadWAV(path string) (*audio.Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("invalid wav file: %s", path)
	}

	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to read wav data: %w", err)
	}

	samples := make([]int32, len(pcm.Data))
	for i, s := range pcm.Data {
		samples[i] = int32(s)
	}

	return &audio.Buffer{
		Samples: samples,
		Format: audio.Format{
			Codec:      audio.CodecWAV,
			SampleRate: int(dec.SampleRate),
			Channels:   int(dec.NumChans),
			BitDepth:   int(dec.BitDepth),
		},
	}, nil
}
