// ABOUTME: Tests for native-depth PCM packing
// ABOUTME: Tests pack/unpack, interleaving and format helpers
package audio

import (
	"reflect"
	"testing"
	"time"
)

func TestPackUnpackSamples(t *testing.T) {
	tests := []struct {
		name     string
		bitDepth int
		samples  []int32
		expected []byte
	}{
		{"16-bit", 16, []int32{0, 1, -1, 32767, -32768}, []byte{0, 0, 1, 0, 0xFF, 0xFF, 0xFF, 0x7F, 0x00, 0x80}},
		{"24-bit", 24, []int32{0x123456, -256, Max24Bit}, []byte{0x56, 0x34, 0x12, 0x00, 0xFF, 0xFF, 0xFF, 0xFF, 0x7F}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			packed, err := PackSamples(tt.samples, tt.bitDepth)
			if err != nil {
				t.Fatalf("pack failed: %v", err)
			}
			if !reflect.DeepEqual(packed, tt.expected) {
				t.Errorf("expected %v, got %v", tt.expected, packed)
			}

			unpacked, err := UnpackSamples(packed, tt.bitDepth)
			if err != nil {
				t.Fatalf("unpack failed: %v", err)
			}
			if !reflect.DeepEqual(unpacked, tt.samples) {
				t.Errorf("expected %v, got %v", tt.samples, unpacked)
			}
		})
	}
}

func TestPackSamples_UnsupportedBitDepth(t *testing.T) {
	if _, err := PackSamples([]int32{1}, 8); err == nil {
		t.Fatal("expected error for 8-bit samples")
	}
}

func TestUnpackSamples_PartialSample(t *testing.T) {
	if _, err := UnpackSamples([]byte{1, 2, 3}, 16); err == nil {
		t.Fatal("expected error for trailing partial sample")
	}
}

func TestInterleave(t *testing.T) {
	left := []int32{1, 2, 3}
	right := []int32{-1, -2, -3}

	interleaved := Interleave([][]int32{left, right})
	expected := []int32{1, -1, 2, -2, 3, -3}
	if !reflect.DeepEqual(interleaved, expected) {
		t.Fatalf("expected %v, got %v", expected, interleaved)
	}

	channels := Deinterleave(interleaved, 2)
	if !reflect.DeepEqual(channels[0], left) || !reflect.DeepEqual(channels[1], right) {
		t.Errorf("deinterleave mismatch: %v", channels)
	}
}

func TestToInt16(t *testing.T) {
	got := ToInt16([]int32{100 << 8, -1}, 24)
	if got[0] != 100 || got[1] != -1 {
		t.Errorf("unexpected 24-bit conversion: %v", got)
	}

	got = ToInt16([]int32{1234, -1234}, 16)
	if got[0] != 1234 || got[1] != -1234 {
		t.Errorf("unexpected 16-bit conversion: %v", got)
	}
}

func TestFormatValidate(t *testing.T) {
	tests := []struct {
		name    string
		format  Format
		wantErr bool
	}{
		{"valid", Format{SampleRate: 44100, Channels: 2, BitDepth: 16}, false},
		{"zero rate", Format{SampleRate: 0, Channels: 2, BitDepth: 16}, true},
		{"too many channels", Format{SampleRate: 44100, Channels: 9, BitDepth: 16}, true},
		{"8-bit", Format{SampleRate: 44100, Channels: 1, BitDepth: 8}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.format.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("expected error=%v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestBufferDuration(t *testing.T) {
	b := &Buffer{
		Samples: make([]int32, 48000*2),
		Format:  Format{SampleRate: 48000, Channels: 2, BitDepth: 16},
	}
	if b.Frames() != 48000 {
		t.Errorf("expected 48000 frames, got %d", b.Frames())
	}
	if b.Duration() != time.Second {
		t.Errorf("expected 1s, got %v", b.Duration())
	}
	if b.Format.FrameBytes() != 4 {
		t.Errorf("expected 4 bytes per frame, got %d", b.Format.FrameBytes())
	}
}
