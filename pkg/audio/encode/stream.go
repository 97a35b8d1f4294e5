// ABOUTME: Streaming FLAC encoder built on the relay
// ABOUTME: Accepts interleaved samples and forwards the header and frames as they are produced
package encode

import (
	"fmt"
	"time"

	"github.com/Resonate-Protocol/flacrelay/pkg/audio"
	"github.com/Resonate-Protocol/flacrelay/pkg/relay"
	"github.com/mewkiz/flac/meta"
	"github.com/rs/zerolog"
)

// Config configures a FLAC encoder
type Config struct {
	SampleRate int
	Channels   int
	// BitDepth defaults to 16
	BitDepth int
	// BlockSize in samples per channel; 0 selects 1152 for levels 0-2 and 4096 above
	BlockSize int
	// CompressionLevel 0-8 selects the default block size and, above 0,
	// constant subframes for constant channel blocks. Other subframes are
	// verbatim at every level, so levels 3-8 produce identical output.
	CompressionLevel int
	// Verify decodes every emitted frame and compares it with the input
	Verify bool

	// Push receives the stream header (Samples == 0) followed by one chunk
	// per encoded frame. The slice is only valid during the call.
	Push relay.Pusher

	FinishTimeout time.Duration
	Logger        *zerolog.Logger
}

// DefaultConfig returns a 16-bit configuration at the default compression level
func DefaultConfig(sampleRate, channels int) Config {
	return Config{
		SampleRate:       sampleRate,
		Channels:         channels,
		BitDepth:         16,
		CompressionLevel: DefaultCompressionLevel,
	}
}

// StreamEncoder encodes samples on the caller's goroutine. Encoded chunks
// are pushed from within Process and Finish. It is not safe for concurrent use.
type StreamEncoder struct {
	cfg    Config
	relay  *relay.Relay
	engine *flacEngine
}

// NewStream creates an encoder. The stream header is pushed before it returns.
func NewStream(cfg Config) (*StreamEncoder, error) {
	if cfg.BitDepth == 0 {
		cfg.BitDepth = 16
	}
	if cfg.BlockSize == 0 {
		cfg.BlockSize = blockSizeFor(cfg.CompressionLevel)
	}

	e := &StreamEncoder{cfg: cfg, engine: newFLACEngine(cfg)}
	e.relay = relay.New(relay.Config{
		Push:          cfg.Push,
		FinishTimeout: cfg.FinishTimeout,
		Logger:        cfg.Logger,
	})

	if err := e.relay.Bind(e.engine); err != nil {
		return nil, err
	}
	return e, nil
}

// Process encodes interleaved samples in the native range of the configured
// bit depth. Complete blocks are encoded immediately; the remainder waits
// for more samples or Finish.
func (e *StreamEncoder) Process(samples []int32) error {
	if len(samples)%e.cfg.Channels != 0 {
		return fmt.Errorf("sample count %d is not a multiple of %d channels", len(samples), e.cfg.Channels)
	}
	if err := checkRange(samples, e.cfg.BitDepth); err != nil {
		return err
	}

	data, err := audio.PackSamples(samples, e.cfg.BitDepth)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if err := e.relay.Submit(data); err != nil {
		return err
	}

	for e.relay.Buffered() >= e.engine.BlockBytes() {
		if _, err := e.relay.ProcessSingle(); err != nil {
			return err
		}
	}
	return nil
}

// ProcessInt16 encodes interleaved 16-bit samples
func (e *StreamEncoder) ProcessInt16(samples []int16) error {
	if e.cfg.BitDepth != 16 {
		return fmt.Errorf("int16 input requires a 16-bit encoder, configured for %d bits", e.cfg.BitDepth)
	}
	return e.Process(audio.FromInt16(samples))
}

// Finish encodes any buffered samples and completes the stream
func (e *StreamEncoder) Finish() error {
	return e.relay.Finish()
}

// State returns the encoder state
func (e *StreamEncoder) State() State {
	return e.engine.current()
}

// Config returns the resolved configuration
func (e *StreamEncoder) Config() Config {
	return e.cfg
}

// StreamInfo returns the completed STREAMINFO block, nil before Finish
func (e *StreamEncoder) StreamInfo() *meta.StreamInfo {
	return e.engine.streamInfo()
}

// Header returns the stream header. After Finish it reflects the completed
// STREAMINFO block and has the same length as the header pushed at start.
func (e *StreamEncoder) Header() []byte {
	return e.engine.headerBytes()
}

// Stats returns relay counters
func (e *StreamEncoder) Stats() relay.Stats {
	return e.relay.Stats()
}

func checkRange(samples []int32, bitDepth int) error {
	hi := int32(1)<<(bitDepth-1) - 1
	lo := -hi - 1
	for i, s := range samples {
		if s > hi || s < lo {
			return fmt.Errorf("sample %d value %d out of range for %d-bit audio", i, s, bitDepth)
		}
	}
	return nil
}
