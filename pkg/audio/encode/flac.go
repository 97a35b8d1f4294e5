// ABOUTME: FLAC encoding engine driven through a streaming relay
// ABOUTME: Reads packed PCM blocks from the relay and forwards encoded frames
package encode

import (
	"bytes"
	"crypto/md5"
	"errors"
	"fmt"
	"hash"
	"sync"

	"github.com/Resonate-Protocol/flacrelay/pkg/audio"
	"github.com/Resonate-Protocol/flacrelay/pkg/relay"
	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
)

const (
	// DefaultCompressionLevel matches the reference encoder default
	DefaultCompressionLevel = 5
	// MaxCompressionLevel is the highest accepted compression level
	MaxCompressionLevel = 8

	minBlockSize  = 16
	maxBlockSize  = 65535
	maxSampleRate = 655350
	maxChannels   = 8
)

// ErrVerifyMismatch is reported when verification decodes different samples
var ErrVerifyMismatch = errors.New("verify: decoded audio does not match input")

// State is the state of a FLAC encoder
type State int

const (
	StateUninitialized State = iota
	StateOK
	StateVerifyMismatch
	StateClientError
	StateFramingError
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateOK:
		return "ok"
	case StateVerifyMismatch:
		return "verify_mismatch_in_audio_data"
	case StateClientError:
		return "client_error"
	case StateFramingError:
		return "framing_error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// blockSizeFor returns the block size used when none is configured
func blockSizeFor(level int) int {
	if level <= 2 {
		return 1152
	}
	return 4096
}

func (c *Config) validate() error {
	if c.Channels < 1 || c.Channels > maxChannels {
		return relay.NewInitError(relay.InitInvalidChannels, "%d channels (supported: 1-%d)", c.Channels, maxChannels)
	}
	if c.BitDepth != 16 && c.BitDepth != 24 {
		return relay.NewInitError(relay.InitInvalidBitsPerSample, "%d bits (supported: 16, 24)", c.BitDepth)
	}
	if c.SampleRate < 1 || c.SampleRate > maxSampleRate {
		return relay.NewInitError(relay.InitInvalidSampleRate, "%d Hz", c.SampleRate)
	}
	if c.CompressionLevel < 0 || c.CompressionLevel > MaxCompressionLevel {
		return relay.NewInitError(relay.InitInvalidCompressionLevel, "level %d (supported: 0-%d)", c.CompressionLevel, MaxCompressionLevel)
	}
	if c.BlockSize < minBlockSize || c.BlockSize > maxBlockSize {
		return relay.NewInitError(relay.InitInvalidBlockSize, "%d samples (supported: %d-%d)", c.BlockSize, minBlockSize, maxBlockSize)
	}
	return nil
}

// flacEngine implements relay.Engine with the mewkiz/flac encoder. Each
// step reads one block of packed PCM and emits one frame.
type flacEngine struct {
	cfg   Config
	relay *relay.Relay

	out      bytes.Buffer
	enc      *flac.Encoder
	info     meta.StreamInfo
	block    []byte
	frameLen int

	frame    uint64
	nsamples uint64
	md5      hash.Hash
	minFrame uint32
	maxFrame uint32
	verify   *verifier

	mu     sync.Mutex
	state  State
	final  *meta.StreamInfo
	header []byte
}

func newFLACEngine(cfg Config) *flacEngine {
	return &flacEngine{cfg: cfg, state: StateUninitialized}
}

func (e *flacEngine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *flacEngine) current() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// State implements relay.Engine
func (e *flacEngine) State() fmt.Stringer {
	return e.current()
}

func (e *flacEngine) Init(r *relay.Relay) error {
	if e.enc != nil {
		return &relay.InitError{Status: relay.InitAlreadyInitialized}
	}
	if err := e.cfg.validate(); err != nil {
		return err
	}

	e.relay = r
	e.frameLen = e.cfg.Channels * (e.cfg.BitDepth / 8)
	e.block = make([]byte, e.cfg.BlockSize*e.frameLen)
	e.md5 = md5.New()
	e.info = meta.StreamInfo{
		BlockSizeMin:  uint16(e.cfg.BlockSize),
		BlockSizeMax:  uint16(e.cfg.BlockSize),
		SampleRate:    uint32(e.cfg.SampleRate),
		NChannels:     uint8(e.cfg.Channels),
		BitsPerSample: uint8(e.cfg.BitDepth),
	}

	header, enc, err := encodeHeader(&e.out, e.info)
	if err != nil {
		return err
	}
	e.enc = enc

	if e.cfg.Verify {
		v, err := newVerifier(e.cfg)
		if err != nil {
			return err
		}
		e.verify = v
		if err := v.feed(header, nil); err != nil {
			return err
		}
	}

	if r.Forward(header, e.chunkInfo(0)) == relay.WriteAbort {
		e.setState(StateClientError)
		return relay.ErrAborted
	}

	e.mu.Lock()
	e.header = append([]byte(nil), header...)
	e.state = StateOK
	e.mu.Unlock()

	r.Logger().Debug().
		Int("sample_rate", e.cfg.SampleRate).
		Int("channels", e.cfg.Channels).
		Int("bit_depth", e.cfg.BitDepth).
		Int("block_size", e.cfg.BlockSize).
		Int("compression_level", e.cfg.CompressionLevel).
		Bool("verify", e.cfg.Verify).
		Msg("flac encoder initialized")
	return nil
}

// encodeHeader writes the fLaC signature and STREAMINFO block into out and
// returns a copy of those bytes together with the encoder positioned after them
func encodeHeader(out *bytes.Buffer, info meta.StreamInfo) ([]byte, *flac.Encoder, error) {
	out.Reset()
	enc, err := flac.NewEncoder(out, &info)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to write stream header: %w", err)
	}
	header := append([]byte(nil), out.Bytes()...)
	out.Reset()
	return header, enc, nil
}

func (e *flacEngine) chunkInfo(samples int) relay.ChunkInfo {
	return relay.ChunkInfo{
		Samples:    samples,
		Frame:      e.frame,
		Channels:   e.cfg.Channels,
		SampleRate: e.cfg.SampleRate,
		BitDepth:   e.cfg.BitDepth,
	}
}

// BlockBytes returns the packed size of one full block
func (e *flacEngine) BlockBytes() int {
	return len(e.block)
}

func (e *flacEngine) ProcessSingle() (bool, error) {
	if e.enc == nil {
		return false, relay.ErrNotActive
	}
	if e.current() != StateOK {
		return false, nil
	}

	n, status := e.relay.Fill(e.block)
	switch status {
	case relay.ReadAbort:
		return false, relay.ErrAborted
	case relay.ReadEndOfStream:
		return false, nil
	}
	if n == 0 {
		return true, nil
	}
	if n%e.frameLen != 0 {
		e.setState(StateFramingError)
		return false, fmt.Errorf("input ends with a partial sample frame (%d trailing bytes)", n%e.frameLen)
	}

	if err := e.encodeBlock(e.block[:n]); err != nil {
		return false, err
	}
	return true, nil
}

func (e *flacEngine) ProcessUntilEndOfStream() error {
	for {
		more, err := e.ProcessSingle()
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
}

func (e *flacEngine) encodeBlock(pcm []byte) error {
	samples, err := audio.UnpackSamples(pcm, e.cfg.BitDepth)
	if err != nil {
		return err
	}
	blockSize := len(samples) / e.cfg.Channels
	channels := audio.Deinterleave(samples, e.cfg.Channels)

	subframes := make([]*frame.Subframe, len(channels))
	for c, ch := range channels {
		pred := frame.PredVerbatim
		if e.cfg.CompressionLevel > 0 && isConstant(ch) {
			pred = frame.PredConstant
		}
		subframes[c] = &frame.Subframe{
			SubHeader: frame.SubHeader{Pred: pred},
			Samples:   ch,
			NSamples:  blockSize,
		}
	}

	f := &frame.Frame{
		Header: frame.Header{
			HasFixedBlockSize: true,
			BlockSize:         uint16(blockSize),
			SampleRate:        uint32(e.cfg.SampleRate),
			Channels:          frame.Channels(e.cfg.Channels - 1),
			BitsPerSample:     uint8(e.cfg.BitDepth),
			Num:               e.frame,
		},
		Subframes: subframes,
	}

	e.out.Reset()
	if err := e.enc.WriteFrame(f); err != nil {
		e.setState(StateFramingError)
		return fmt.Errorf("failed to encode frame %d: %w", e.frame, err)
	}
	encoded := e.out.Bytes()

	e.md5.Write(pcm)
	size := uint32(len(encoded))
	if e.minFrame == 0 || size < e.minFrame {
		e.minFrame = size
	}
	if size > e.maxFrame {
		e.maxFrame = size
	}

	if e.verify != nil {
		if err := e.verify.feed(encoded, samples); err != nil {
			e.setState(StateVerifyMismatch)
			return err
		}
	}

	if e.relay.Forward(encoded, e.chunkInfo(blockSize)) == relay.WriteAbort {
		e.setState(StateClientError)
		return relay.ErrAborted
	}

	e.frame++
	e.nsamples += uint64(blockSize)
	return nil
}

func isConstant(samples []int32) bool {
	for _, s := range samples[1:] {
		if s != samples[0] {
			return false
		}
	}
	return len(samples) > 0
}

// Finish encodes the trailing partial block, completes the STREAMINFO
// block and checks the verify decoder
func (e *flacEngine) Finish() error {
	if e.enc == nil {
		return nil
	}

	var errs []error
	if e.current() == StateOK && e.relay.State() != relay.StateErrored {
		errs = append(errs, e.ProcessUntilEndOfStream())
	}

	info := e.info
	info.NSamples = e.nsamples
	info.FrameSizeMin = e.minFrame
	info.FrameSizeMax = e.maxFrame
	copy(info.MD5sum[:], e.md5.Sum(nil))

	var scratch bytes.Buffer
	header, _, err := encodeHeader(&scratch, info)
	errs = append(errs, err)
	errs = append(errs, e.enc.Close())
	e.enc = nil

	if e.verify != nil {
		if err := e.verify.finish(); err != nil {
			e.setState(StateVerifyMismatch)
			errs = append(errs, err)
		}
		e.verify = nil
	}

	e.mu.Lock()
	e.final = &info
	if header != nil {
		e.header = header
	}
	e.mu.Unlock()

	e.relay.Logger().Debug().
		Uint64("frames", e.frame).
		Uint64("samples", e.nsamples).
		Msg("flac encoder finished")
	return errors.Join(errs...)
}

func (e *flacEngine) streamInfo() *meta.StreamInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.final == nil {
		return nil
	}
	info := *e.final
	return &info
}

func (e *flacEngine) headerBytes() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]byte(nil), e.header...)
}
