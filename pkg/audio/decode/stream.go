// ABOUTME: Streaming FLAC decoders built on the relay
// ABOUTME: Queue-fed background decoder and direct-pull synchronous decoder
package decode

import (
	"time"

	"github.com/Resonate-Protocol/flacrelay/pkg/audio"
	"github.com/Resonate-Protocol/flacrelay/pkg/relay"
	"github.com/rs/zerolog"
)

// BufferFunc receives one decoded frame. The buffer is owned by the callee.
type BufferFunc func(buf *audio.Buffer) error

// StreamConfig configures a streaming decoder
type StreamConfig struct {
	// Callback receives each decoded frame as samples
	Callback BufferFunc

	// Push receives each decoded frame as packed PCM before Callback.
	// The slice is only valid during the call.
	Push relay.Pusher

	FinishTimeout time.Duration
	Logger        *zerolog.Logger
}

type sink struct {
	push     relay.Pusher
	callback BufferFunc
}

func (s *sink) Push(buf []byte, info relay.ChunkInfo) error {
	if s.push != nil {
		if err := s.push.Push(buf, info); err != nil {
			return err
		}
	}
	if s.callback == nil {
		return nil
	}

	samples, err := audio.UnpackSamples(buf, info.BitDepth)
	if err != nil {
		return err
	}
	return s.callback(&audio.Buffer{
		Samples: samples,
		Format: audio.Format{
			Codec:      audio.CodecPCM,
			SampleRate: info.SampleRate,
			Channels:   info.Channels,
			BitDepth:   info.BitDepth,
		},
	})
}

// StreamDecoder decodes FLAC bytes submitted in arbitrary chunks on a
// background worker. Decoded frames are delivered on the worker goroutine.
type StreamDecoder struct {
	relay  *relay.Relay
	engine *flacEngine
}

// NewStream creates a decoder and starts its worker
func NewStream(cfg StreamConfig) (*StreamDecoder, error) {
	d := &StreamDecoder{engine: newFLACEngine()}
	d.relay = relay.New(relay.Config{
		Push:          &sink{push: cfg.Push, callback: cfg.Callback},
		FinishTimeout: cfg.FinishTimeout,
		Logger:        cfg.Logger,
	})

	if err := d.relay.Bind(d.engine); err != nil {
		return nil, err
	}
	if err := d.relay.Start(); err != nil {
		d.relay.Finish()
		return nil, err
	}
	return d, nil
}

// Process queues FLAC bytes for decoding and returns immediately
func (d *StreamDecoder) Process(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return d.relay.Submit(data)
}

// Finish waits for queued data to be decoded and stops the worker. It
// returns the error that stopped decoding, if any.
func (d *StreamDecoder) Finish() error {
	return d.relay.Finish()
}

// Abort stops decoding with err without waiting for queued data. A
// following Finish joins the worker and reports err.
func (d *StreamDecoder) Abort(err error) {
	d.relay.Abort(err)
}

// State returns the decoding stage
func (d *StreamDecoder) State() State {
	return d.engine.current()
}

// Format returns the stream format, zero until metadata has been read
func (d *StreamDecoder) Format() audio.Format {
	return d.engine.Format()
}

// Stats returns relay counters
func (d *StreamDecoder) Stats() relay.Stats {
	return d.relay.Stats()
}

// PullDecoder decodes FLAC bytes fetched from a Puller on the caller's goroutine
type PullDecoder struct {
	relay  *relay.Relay
	engine *flacEngine
}

// NewPull creates a decoder reading from pull
func NewPull(pull relay.Puller, cfg StreamConfig, overflow relay.OverflowPolicy) (*PullDecoder, error) {
	d := &PullDecoder{engine: newFLACEngine()}
	d.relay = relay.New(relay.Config{
		Pull:          pull,
		Push:          &sink{push: cfg.Push, callback: cfg.Callback},
		Overflow:      overflow,
		FinishTimeout: cfg.FinishTimeout,
		Logger:        cfg.Logger,
	})

	if err := d.relay.Bind(d.engine); err != nil {
		return nil, err
	}
	return d, nil
}

// Process decodes until the puller reports end of stream
func (d *PullDecoder) Process() error {
	return d.relay.Process()
}

// ProcessSingle decodes the metadata or a single frame
func (d *PullDecoder) ProcessSingle() (bool, error) {
	return d.relay.ProcessSingle()
}

// Finish releases the decoder
func (d *PullDecoder) Finish() error {
	return d.relay.Finish()
}

// State returns the decoding stage
func (d *PullDecoder) State() State {
	return d.engine.current()
}

// Format returns the stream format, zero until metadata has been read
func (d *PullDecoder) Format() audio.Format {
	return d.engine.Format()
}

// Stats returns relay counters
func (d *PullDecoder) Stats() relay.Stats {
	return d.relay.Stats()
}
