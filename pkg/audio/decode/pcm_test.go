// ABOUTME: Tests for PCM decoder
// ABOUTME: Tests 16-bit and 24-bit PCM decoding and split frames
package decode

import (
	"reflect"
	"testing"

	"github.com/Resonate-Protocol/flacrelay/pkg/audio"
)

func TestNewPCM(t *testing.T) {
	tests := []struct {
		name    string
		format  audio.Format
		wantErr string
	}{
		{"valid 16-bit", audio.Format{Codec: "pcm", SampleRate: 48000, Channels: 2, BitDepth: 16}, ""},
		{"valid 24-bit", audio.Format{Codec: "pcm", SampleRate: 48000, Channels: 2, BitDepth: 24}, ""},
		{"wrong codec", audio.Format{Codec: "flac", SampleRate: 48000, Channels: 2, BitDepth: 16}, "invalid codec for PCM decoder: flac"},
		{"8-bit", audio.Format{Codec: "pcm", SampleRate: 48000, Channels: 2, BitDepth: 8}, "unsupported bit depth: 8 (supported: 16, 24)"},
		{"no channels", audio.Format{Codec: "pcm", SampleRate: 48000, Channels: 0, BitDepth: 16}, "invalid channel count: 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoder, err := NewPCM(tt.format)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("failed to create decoder: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if decoder != nil {
				t.Fatal("expected decoder to be nil")
			}
			if err.Error() != tt.wantErr {
				t.Errorf("expected error %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestPCMDecode16Bit(t *testing.T) {
	decoder, err := NewPCM(audio.Format{Codec: "pcm", SampleRate: 48000, Channels: 2, BitDepth: 16})
	if err != nil {
		t.Fatalf("failed to create decoder: %v", err)
	}

	// 0x0100 = 256, 0x0302 = 770
	output, err := decoder.Decode([]byte{0x00, 0x01, 0x02, 0x03})
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	expected := []int32{256, 770}
	if !reflect.DeepEqual(output, expected) {
		t.Errorf("expected %v, got %v", expected, output)
	}
}

func TestPCMDecode24Bit(t *testing.T) {
	decoder, err := NewPCM(audio.Format{Codec: "pcm", SampleRate: 96000, Channels: 1, BitDepth: 24})
	if err != nil {
		t.Fatalf("failed to create decoder: %v", err)
	}

	output, err := decoder.Decode([]byte{0x56, 0x34, 0x12, 0x00, 0xFF, 0xFF})
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	expected := []int32{0x123456, -256}
	if !reflect.DeepEqual(output, expected) {
		t.Errorf("expected %v, got %v", expected, output)
	}
}

func TestPCMDecodeSplitFrames(t *testing.T) {
	decoder, err := NewPCM(audio.Format{Codec: "pcm", SampleRate: 48000, Channels: 2, BitDepth: 16})
	if err != nil {
		t.Fatalf("failed to create decoder: %v", err)
	}

	first, err := decoder.Decode([]byte{0x01, 0x00, 0x02})
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(first) != 0 {
		t.Errorf("expected no samples from a partial frame, got %v", first)
	}
	if decoder.Pending() != 3 {
		t.Errorf("expected 3 pending bytes, got %d", decoder.Pending())
	}
	if err := decoder.Close(); err == nil {
		t.Error("expected Close to report trailing bytes")
	}

	second, err := decoder.Decode([]byte{0x00, 0x03, 0x00})
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	expected := []int32{1, 2}
	if !reflect.DeepEqual(second, expected) {
		t.Errorf("expected %v, got %v", expected, second)
	}
	if decoder.Pending() != 2 {
		t.Errorf("expected 2 pending bytes, got %d", decoder.Pending())
	}
}
