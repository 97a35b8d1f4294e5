// ABOUTME: Tests for the streaming FLAC decoders
// ABOUTME: Covers chunked submission, direct pull, file decoding and malformed input
package decode

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Resonate-Protocol/flacrelay/pkg/audio"
	"github.com/Resonate-Protocol/flacrelay/pkg/relay"
	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildFLAC encodes interleaved samples as verbatim frames of blockSize
func buildFLAC(t *testing.T, samples []int32, channels, bitDepth, blockSize int) []byte {
	t.Helper()
	var out bytes.Buffer
	info := &meta.StreamInfo{
		BlockSizeMin:  uint16(blockSize),
		BlockSizeMax:  uint16(blockSize),
		SampleRate:    44100,
		NChannels:     uint8(channels),
		BitsPerSample: uint8(bitDepth),
		NSamples:      uint64(len(samples) / channels),
	}
	enc, err := flac.NewEncoder(&out, info)
	require.NoError(t, err)

	frames := len(samples) / channels
	for num, start := uint64(0), 0; start < frames; num, start = num+1, start+blockSize {
		end := min(start+blockSize, frames)
		block := audio.Deinterleave(samples[start*channels:end*channels], channels)
		subframes := make([]*frame.Subframe, channels)
		for c := range block {
			subframes[c] = &frame.Subframe{
				SubHeader: frame.SubHeader{Pred: frame.PredVerbatim},
				Samples:   block[c],
				NSamples:  end - start,
			}
		}
		require.NoError(t, enc.WriteFrame(&frame.Frame{
			Header: frame.Header{
				HasFixedBlockSize: true,
				BlockSize:         uint16(end - start),
				SampleRate:        44100,
				Channels:          frame.Channels(channels - 1),
				BitsPerSample:     uint8(bitDepth),
				Num:               num,
			},
			Subframes: subframes,
		}))
	}
	require.NoError(t, enc.Close())
	return out.Bytes()
}

func ramp(frames, channels int, scale int32) []int32 {
	samples := make([]int32, frames*channels)
	for i := range samples {
		samples[i] = (int32(i%997) - 498) * scale
	}
	return samples
}

type bufferCollector struct {
	mu      sync.Mutex
	samples []int32
	frames  int
	format  audio.Format
}

func (c *bufferCollector) add(buf *audio.Buffer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = append(c.samples, buf.Samples...)
	c.frames++
	c.format = buf.Format
	return nil
}

func TestStreamDecoderChunked(t *testing.T) {
	want := ramp(5000, 2, 60)
	data := buildFLAC(t, want, 2, 16, 1024)

	for _, chunk := range []int{1, 7, 4096, len(data)} {
		c := &bufferCollector{}
		dec, err := NewStream(StreamConfig{Callback: c.add})
		require.NoError(t, err)

		for off := 0; off < len(data); off += chunk {
			require.NoError(t, dec.Process(data[off:min(off+chunk, len(data))]))
		}
		require.NoError(t, dec.Finish())

		assert.Equal(t, want, c.samples, "chunk size %d", chunk)
		assert.Equal(t, 5, c.frames)
		assert.Equal(t, audio.Format{Codec: audio.CodecPCM, SampleRate: 44100, Channels: 2, BitDepth: 16}, c.format)
		assert.Equal(t, StateEndOfStream, dec.State())
		assert.Equal(t, int64(len(data)), dec.Stats().BytesSubmitted)
	}
}

func TestStreamDecoderPushReceivesPackedPCM(t *testing.T) {
	want := ramp(300, 1, 16000)
	data := buildFLAC(t, want, 1, 24, 128)

	var pcm bytes.Buffer
	var infos []relay.ChunkInfo
	dec, err := NewStream(StreamConfig{Push: relay.PushFunc(func(buf []byte, info relay.ChunkInfo) error {
		pcm.Write(buf)
		infos = append(infos, info)
		return nil
	})})
	require.NoError(t, err)
	require.NoError(t, dec.Process(data))
	require.NoError(t, dec.Finish())

	got, err := audio.UnpackSamples(pcm.Bytes(), 24)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.Len(t, infos, 3)
	assert.Equal(t, []int{128, 128, 44}, []int{infos[0].Samples, infos[1].Samples, infos[2].Samples})
	for i, info := range infos {
		assert.Equal(t, uint64(i), info.Frame)
		assert.Equal(t, info.Samples*3, info.Bytes)
	}
}

func TestStreamDecoderEmptyInput(t *testing.T) {
	dec, err := NewStream(StreamConfig{})
	require.NoError(t, err)
	require.NoError(t, dec.Process(nil))
	require.NoError(t, dec.Finish())
	assert.Equal(t, StateEndOfStream, dec.State())
	assert.Zero(t, dec.Format())
}

func TestStreamDecoderInvalidData(t *testing.T) {
	dec, err := NewStream(StreamConfig{})
	require.NoError(t, err)
	require.NoError(t, dec.Process([]byte("this is certainly not a flac stream")))

	err = dec.Finish()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flac metadata")
	assert.Equal(t, StateAborted, dec.State())
}

func TestStreamDecoderCallbackError(t *testing.T) {
	data := buildFLAC(t, ramp(4096, 2, 1), 2, 16, 1024)
	errStop := errors.New("stop")

	calls := 0
	dec, err := NewStream(StreamConfig{Callback: func(*audio.Buffer) error {
		calls++
		return errStop
	}})
	require.NoError(t, err)
	require.NoError(t, dec.Process(data))

	err = dec.Finish()
	assert.ErrorIs(t, err, errStop)
	assert.Equal(t, 1, calls)
	assert.Equal(t, StateAborted, dec.State())
}

func TestStreamDecoderAbort(t *testing.T) {
	data := buildFLAC(t, ramp(4096, 2, 3), 2, 16, 1024)
	errGone := errors.New("peer went away")

	dec, err := NewStream(StreamConfig{})
	require.NoError(t, err)
	require.NoError(t, dec.Process(data[:len(data)/2]))

	dec.Abort(errGone)
	err = dec.Finish()
	assert.ErrorIs(t, err, errGone)
	assert.Error(t, dec.Process(data[len(data)/2:]))
}

func TestPullDecoder(t *testing.T) {
	want := ramp(2500, 2, 30)
	data := buildFLAC(t, want, 2, 16, 1000)
	r := bytes.NewReader(data)

	c := &bufferCollector{}
	dec, err := NewPull(relay.PullFunc(func(max int) ([]byte, error) {
		buf := make([]byte, min(max, 333))
		n, _ := r.Read(buf)
		return buf[:n], nil
	}), StreamConfig{Callback: c.add}, relay.OverflowAbort)
	require.NoError(t, err)

	more, err := dec.ProcessSingle()
	require.NoError(t, err)
	require.True(t, more)
	assert.Equal(t, 44100, dec.Format().SampleRate)
	assert.Equal(t, StateSearchForFrameSync, dec.State())

	require.NoError(t, dec.Process())
	require.NoError(t, dec.Finish())
	assert.Equal(t, want, c.samples)
	assert.Equal(t, 3, c.frames)
}

func TestPullDecoderOverDelivery(t *testing.T) {
	dec, err := NewPull(relay.PullFunc(func(max int) ([]byte, error) {
		return make([]byte, max+1), nil
	}), StreamConfig{}, relay.OverflowAbort)
	require.NoError(t, err)

	err = dec.Process()
	assert.ErrorIs(t, err, relay.ErrProtocolViolation)
	dec.Finish()
}

func TestFileDecoder(t *testing.T) {
	want := ramp(3000, 2, 50)
	dir := t.TempDir()
	input := filepath.Join(dir, "in.flac")
	require.NoError(t, os.WriteFile(input, buildFLAC(t, want, 2, 16, 1152), 0o644))

	output := filepath.Join(dir, "out.wav")
	dec, err := NewFile(input, output, nil)
	require.NoError(t, err)
	assert.Equal(t, output, dec.OutputPath())

	buf, err := dec.Process()
	require.NoError(t, err)
	assert.Equal(t, want, buf.Samples)
	assert.Equal(t, audio.Format{Codec: audio.CodecWAV, SampleRate: 44100, Channels: 2, BitDepth: 16}, buf.Format)

	require.NoError(t, dec.Remove())
	_, err = os.Stat(output)
	assert.NoError(t, err, "non-temporary output must survive Remove")
}

func TestFileDecoderTempOutput(t *testing.T) {
	input := filepath.Join(t.TempDir(), "in.flac")
	require.NoError(t, os.WriteFile(input, buildFLAC(t, ramp(100, 1, 9), 1, 16, 64), 0o644))

	dec, err := NewFile(input, "", nil)
	require.NoError(t, err)
	_, err = dec.Process()
	require.NoError(t, err)

	require.NoError(t, dec.Remove())
	_, err = os.Stat(dec.OutputPath())
	assert.True(t, os.IsNotExist(err))
}

func TestFileDecoderMissingInput(t *testing.T) {
	_, err := NewFile(filepath.Join(t.TempDir(), "missing.flac"), "", nil)

	var initErr *relay.InitError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, relay.InitErrorOpeningFile, initErr.Status)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "search_for_metadata", StateSearchForMetadata.String())
	assert.Equal(t, "end_of_stream", StateEndOfStream.String())
	assert.Equal(t, "state(42)", State(42).String())
}
