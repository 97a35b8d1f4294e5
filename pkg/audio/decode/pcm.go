// ABOUTME: PCM audio decoder
// ABOUTME: Decodes packed 16-bit and 24-bit PCM into native-depth int32 samples
package decode

import (
	"fmt"

	"github.com/Resonate-Protocol/flacrelay/pkg/audio"
)

// PCMDecoder decodes little-endian PCM. Bytes that do not complete a
// sample frame are kept for the next call.
type PCMDecoder struct {
	bitDepth  int
	frameSize int
	remainder []byte
}

// NewPCM creates a new PCM decoder
func NewPCM(format audio.Format) (*PCMDecoder, error) {
	if format.Codec != audio.CodecPCM {
		return nil, fmt.Errorf("invalid codec for PCM decoder: %s", format.Codec)
	}
	if format.BitDepth != 16 && format.BitDepth != 24 {
		return nil, fmt.Errorf("unsupported bit depth: %d (supported: 16, 24)", format.BitDepth)
	}
	if format.Channels < 1 {
		return nil, fmt.Errorf("invalid channel count: %d", format.Channels)
	}

	return &PCMDecoder{
		bitDepth:  format.BitDepth,
		frameSize: format.FrameBytes(),
	}, nil
}

// Decode converts PCM bytes to interleaved samples
func (d *PCMDecoder) Decode(data []byte) ([]int32, error) {
	if len(d.remainder) > 0 {
		data = append(d.remainder, data...)
		d.remainder = nil
	}

	whole := len(data) - len(data)%d.frameSize
	if whole < len(data) {
		d.remainder = append([]byte(nil), data[whole:]...)
	}
	return audio.UnpackSamples(data[:whole], d.bitDepth)
}

// Pending returns the number of buffered bytes of an incomplete frame
func (d *PCMDecoder) Pending() int {
	return len(d.remainder)
}

// Close releases resources
func (d *PCMDecoder) Close() error {
	if len(d.remainder) > 0 {
		return fmt.Errorf("%d trailing bytes do not form a complete sample frame", len(d.remainder))
	}
	return nil
}
