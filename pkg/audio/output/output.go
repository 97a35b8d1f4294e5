// ABOUTME: Audio output interface definition
// ABOUTME: Common interface for audio playback backends
package output

import (
	"github.com/Resonate-Protocol/flacrelay/pkg/audio"
)

// Output represents an audio output device
type Output interface {
	// Open initializes the output device. bitDepth describes the samples
	// passed to Write, not the device format.
	Open(sampleRate, channels, bitDepth int) error

	// Write outputs interleaved native-depth samples (blocks until written)
	Write(samples []int32) error

	// Close releases output resources
	Close() error
}

// applyVolume scales native-depth samples to 24-bit and applies volume and
// mute with clipping protection
func applyVolume(samples []int32, bitDepth, volume int, muted bool) []int32 {
	multiplier := getVolumeMultiplier(volume, muted)

	result := make([]int32, len(samples))
	for i, sample := range samples {
		scaled := int64(float64(audio.ScaleTo24Bit(sample, bitDepth)) * multiplier)

		// Clamp to 24-bit range to prevent overflow
		if scaled > audio.Max24Bit {
			scaled = audio.Max24Bit
		} else if scaled < audio.Min24Bit {
			scaled = audio.Min24Bit
		}

		result[i] = int32(scaled)
	}

	return result
}

// getVolumeMultiplier calculates volume multiplier
func getVolumeMultiplier(volume int, muted bool) float64 {
	if muted {
		return 0.0
	}
	return float64(volume) / 100.0
}

func clampVolume(volume int) int {
	if volume < 0 {
		return 0
	}
	if volume > 100 {
		return 100
	}
	return volume
}
