// ABOUTME: Oto-based audio output implementation
// ABOUTME: Handles PCM playback with software volume control using oto library
package output

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/Resonate-Protocol/flacrelay/pkg/audio"
	"github.com/ebitengine/oto/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Oto output implementation using oto library
type Oto struct {
	log        zerolog.Logger
	otoCtx     *oto.Context
	player     *oto.Player
	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter
	sampleRate int
	channels   int
	bitDepth   int
	volume     int
	muted      bool
	ready      bool
	buf        []byte
}

// NewOto creates a new Oto output
func NewOto() *Oto {
	return &Oto{
		log:    log.With().Str("component", "output").Str("backend", "oto").Logger(),
		volume: 100,
	}
}

// Open initializes the output device. The device always plays 16-bit PCM.
func (o *Oto) Open(sampleRate, channels, bitDepth int) error {
	if _, err := audio.BytesPerSample(bitDepth); err != nil {
		return err
	}

	// If already initialized with same format, reuse the existing context
	if o.otoCtx != nil && o.sampleRate == sampleRate && o.channels == channels {
		o.bitDepth = bitDepth
		o.log.Debug().Msg("audio output already initialized with same format, reusing context")
		return nil
	}

	// oto allows one context per process
	if o.otoCtx != nil {
		return fmt.Errorf("format change (%dHz %dch -> %dHz %dch) not supported by oto",
			o.sampleRate, o.channels, sampleRate, channels)
	}

	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
	}

	ctx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return fmt.Errorf("failed to create oto context: %w", err)
	}

	<-readyChan

	o.otoCtx = ctx
	o.sampleRate = sampleRate
	o.channels = channels
	o.bitDepth = bitDepth

	// Create pipe for continuous streaming
	o.pipeReader, o.pipeWriter = io.Pipe()

	// Create persistent player that reads from the pipe
	o.player = o.otoCtx.NewPlayer(o.pipeReader)
	o.player.Play()

	o.ready = true

	o.log.Info().
		Int("sample_rate", sampleRate).
		Int("channels", channels).
		Int("bit_depth", bitDepth).
		Msg("audio output initialized")

	return nil
}

// Write outputs audio samples (blocks until written)
func (o *Oto) Write(samples []int32) error {
	if !o.ready {
		return fmt.Errorf("output not initialized")
	}

	o.buf = encodeInt16LE(o.buf[:0], applyVolume(samples, o.bitDepth, o.volume, o.muted))

	// This blocks until the player has consumed the data
	if _, err := o.pipeWriter.Write(o.buf); err != nil {
		return fmt.Errorf("pipe write failed: %w", err)
	}

	return nil
}

// encodeInt16LE reduces 24-bit samples to little-endian 16-bit PCM
func encodeInt16LE(dst []byte, samples []int32) []byte {
	for _, s := range samples {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(audio.SampleToInt16(s)))
	}
	return dst
}

// Close releases output resources
func (o *Oto) Close() error {
	if o.pipeWriter != nil {
		o.pipeWriter.Close()
		o.pipeWriter = nil
	}
	if o.player != nil {
		o.player.Close()
		o.player = nil
	}
	if o.pipeReader != nil {
		o.pipeReader.Close()
		o.pipeReader = nil
	}
	if o.otoCtx != nil {
		if err := o.otoCtx.Suspend(); err != nil {
			return err
		}
		o.ready = false
	}
	return nil
}

// SetVolume sets the volume (0-100)
func (o *Oto) SetVolume(volume int) {
	o.volume = clampVolume(volume)
	o.log.Debug().Int("volume", o.volume).Msg("volume set")
}

// SetMuted sets mute state
func (o *Oto) SetMuted(muted bool) {
	o.muted = muted
	o.log.Debug().Bool("muted", muted).Msg("mute set")
}

// GetVolume returns current volume
func (o *Oto) GetVolume() int {
	return o.volume
}

// IsMuted returns mute state
func (o *Oto) IsMuted() bool {
	return o.muted
}
