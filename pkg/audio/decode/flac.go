// ABOUTME: FLAC decoding engine driven through a streaming relay
// ABOUTME: Parses frames with mewkiz/flac and forwards interleaved PCM chunks
package decode

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/Resonate-Protocol/flacrelay/pkg/audio"
	"github.com/Resonate-Protocol/flacrelay/pkg/relay"
	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
)

// ErrUnsupportedBitDepth is returned for streams that are not 16 or 24-bit
var ErrUnsupportedBitDepth = errors.New("unsupported bit depth")

// State is the decoding stage of a FLAC decoder
type State int

const (
	StateUninitialized State = iota
	StateSearchForMetadata
	StateReadMetadata
	StateSearchForFrameSync
	StateReadFrame
	StateEndOfStream
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateSearchForMetadata:
		return "search_for_metadata"
	case StateReadMetadata:
		return "read_metadata"
	case StateSearchForFrameSync:
		return "search_for_frame_sync"
	case StateReadFrame:
		return "read_frame"
	case StateEndOfStream:
		return "end_of_stream"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// flacEngine implements relay.Engine on top of mewkiz/flac. The stream is
// opened lazily on the first step so that Init never blocks on input.
type flacEngine struct {
	relay  *relay.Relay
	stream *flac.Stream
	pcm    []byte
	frame  uint64

	mu     sync.Mutex
	state  State
	format audio.Format
}

func newFLACEngine() *flacEngine {
	return &flacEngine{state: StateUninitialized}
}

func (e *flacEngine) Init(r *relay.Relay) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateUninitialized {
		return &relay.InitError{Status: relay.InitAlreadyInitialized}
	}
	e.relay = r
	e.state = StateSearchForMetadata
	return nil
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

// Format returns the stream format once metadata has been read
func (e *flacEngine) Format() audio.Format {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.format
}

func (e *flacEngine) ProcessSingle() (bool, error) {
	switch e.current() {
	case StateUninitialized:
		return false, relay.ErrNotActive
	case StateEndOfStream, StateAborted:
		return false, nil
	case StateSearchForMetadata:
		return e.readMetadata()
	default:
		return e.readFrame()
	}
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

func (e *flacEngine) readMetadata() (bool, error) {
	e.setState(StateReadMetadata)

	stream, err := flac.New(e.relay)
	if err != nil {
		if isEOF(err) && e.relay.Stats().BytesServed == 0 {
			e.setState(StateEndOfStream)
			return false, nil
		}
		e.setState(StateAborted)
		return false, fmt.Errorf("failed to read flac metadata: %w", err)
	}

	info := stream.Info
	format := audio.Format{
		Codec:      audio.CodecPCM,
		SampleRate: int(info.SampleRate),
		Channels:   int(info.NChannels),
		BitDepth:   int(info.BitsPerSample),
	}
	if _, err := audio.BytesPerSample(format.BitDepth); err != nil {
		e.setState(StateAborted)
		return false, fmt.Errorf("%w: %d (supported: 16, 24)", ErrUnsupportedBitDepth, format.BitDepth)
	}

	e.mu.Lock()
	e.stream = stream
	e.format = format
	e.state = StateSearchForFrameSync
	e.mu.Unlock()

	e.relay.Logger().Debug().
		Int("sample_rate", format.SampleRate).
		Int("channels", format.Channels).
		Int("bit_depth", format.BitDepth).
		Uint64("total_samples", info.NSamples).
		Msg("flac stream info")
	return true, nil
}

func (e *flacEngine) readFrame() (bool, error) {
	e.setState(StateReadFrame)

	f, err := e.stream.ParseNext()
	if err != nil {
		if isEOF(err) && e.relay.State() != relay.StateErrored {
			e.setState(StateEndOfStream)
			return false, nil
		}
		e.setState(StateAborted)
		if rerr := e.relay.Err(); rerr != nil {
			return false, rerr
		}
		return false, fmt.Errorf("failed to decode frame %d: %w", e.frame, err)
	}

	info := e.chunkInfo(f)
	e.pcm = appendFrame(e.pcm[:0], f, info.BitDepth)
	if e.relay.Forward(e.pcm, info) == relay.WriteAbort {
		e.setState(StateAborted)
		return false, relay.ErrAborted
	}

	e.frame++
	e.setState(StateSearchForFrameSync)
	return true, nil
}

func (e *flacEngine) chunkInfo(f *frame.Frame) relay.ChunkInfo {
	format := e.Format()
	info := relay.ChunkInfo{
		Samples:    int(f.BlockSize),
		Frame:      e.frame,
		Channels:   len(f.Subframes),
		SampleRate: int(f.SampleRate),
		BitDepth:   int(f.BitsPerSample),
	}
	if info.Samples == 0 && len(f.Subframes) > 0 {
		info.Samples = f.Subframes[0].NSamples
	}
	if info.SampleRate == 0 {
		info.SampleRate = format.SampleRate
	}
	if info.BitDepth == 0 {
		info.BitDepth = format.BitDepth
	}
	return info
}

// appendFrame interleaves the subframes of f as little-endian PCM
func appendFrame(dst []byte, f *frame.Frame, bitDepth int) []byte {
	if len(f.Subframes) == 0 {
		return dst
	}
	n := len(f.Subframes[0].Samples)
	sample := make([]int32, len(f.Subframes))
	for i := 0; i < n; i++ {
		for c, sub := range f.Subframes {
			sample[c] = sub.Samples[i]
		}
		dst = audio.AppendSamples(dst, sample, bitDepth)
	}
	return dst
}

func (e *flacEngine) Finish() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stream = nil
	e.pcm = nil
	return nil
}

func isEOF(err error) bool {
	return err == io.EOF || errors.Is(err, io.EOF)
}
