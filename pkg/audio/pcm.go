// ABOUTME: Native-depth PCM packing and channel layout helpers
// ABOUTME: Converts between interleaved int32 samples and little-endian bytes
package audio

import (
	"encoding/binary"
	"fmt"
)

// BytesPerSample returns the packed size of one sample at bitDepth
func BytesPerSample(bitDepth int) (int, error) {
	switch bitDepth {
	case 16:
		return 2, nil
	case 24:
		return 3, nil
	default:
		return 0, fmt.Errorf("unsupported bit depth: %d (supported: 16, 24)", bitDepth)
	}
}

// PackSamples packs native-depth samples as little-endian signed PCM
func PackSamples(samples []int32, bitDepth int) ([]byte, error) {
	width, err := BytesPerSample(bitDepth)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(samples)*width)
	AppendSamples(out[:0], samples, bitDepth)
	return out, nil
}

// AppendSamples appends packed samples to dst. bitDepth must be 16 or 24.
func AppendSamples(dst []byte, samples []int32, bitDepth int) []byte {
	if bitDepth == 24 {
		for _, s := range samples {
			b := SampleTo24Bit(s)
			dst = append(dst, b[0], b[1], b[2])
		}
		return dst
	}
	for _, s := range samples {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(int16(s)))
	}
	return dst
}

// UnpackSamples reads little-endian signed PCM into native-depth samples.
// A trailing partial sample is an error.
func UnpackSamples(data []byte, bitDepth int) ([]int32, error) {
	width, err := BytesPerSample(bitDepth)
	if err != nil {
		return nil, err
	}
	if len(data)%width != 0 {
		return nil, fmt.Errorf("pcm data length %d is not a multiple of %d", len(data), width)
	}

	samples := make([]int32, len(data)/width)
	if width == 3 {
		for i := range samples {
			samples[i] = SampleFrom24Bit([3]byte{data[i*3], data[i*3+1], data[i*3+2]})
		}
		return samples, nil
	}
	for i := range samples {
		samples[i] = int32(int16(binary.LittleEndian.Uint16(data[i*2:])))
	}
	return samples, nil
}

// Interleave merges per-channel sample slices into one interleaved slice.
// All channels must have the same length.
func Interleave(channels [][]int32) []int32 {
	if len(channels) == 0 {
		return nil
	}
	n := len(channels[0])
	out := make([]int32, 0, n*len(channels))
	for i := 0; i < n; i++ {
		for _, ch := range channels {
			out = append(out, ch[i])
		}
	}
	return out
}

// Deinterleave splits interleaved samples into per-channel slices
func Deinterleave(samples []int32, channels int) [][]int32 {
	if channels <= 0 {
		return nil
	}
	frames := len(samples) / channels
	out := make([][]int32, channels)
	for c := range out {
		out[c] = make([]int32, frames)
	}
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			out[c][i] = samples[i*channels+c]
		}
	}
	return out
}

// ToInt16 converts native-depth samples to int16
func ToInt16(samples []int32, bitDepth int) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = SampleToInt16(ScaleTo24Bit(s, bitDepth))
	}
	return out
}

// FromInt16 widens int16 samples to int32 without rescaling
func FromInt16(samples []int16) []int32 {
	out := make([]int32, len(samples))
	for i, s := range samples {
		out[i] = int32(s)
	}
	return out
}
