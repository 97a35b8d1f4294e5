// ABOUTME: Relay type definitions
// ABOUTME: States, result codes, caller callbacks and the codec engine boundary
package relay

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// State is the lifecycle state of a Relay
type State int

const (
	StateUninitialized State = iota
	StateActive
	StateEndOfStream
	StateErrored
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateActive:
		return "active"
	case StateEndOfStream:
		return "end_of_stream"
	case StateErrored:
		return "errored"
	case StateFinished:
		return "finished"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further input will be requested in this state
func (s State) Terminal() bool {
	return s == StateEndOfStream || s == StateErrored || s == StateFinished
}

// ReadStatus is the result code the pull side hands back to the engine
type ReadStatus int

const (
	ReadContinue ReadStatus = iota
	ReadEndOfStream
	ReadAbort
)

func (s ReadStatus) String() string {
	switch s {
	case ReadContinue:
		return "continue"
	case ReadEndOfStream:
		return "end_of_stream"
	case ReadAbort:
		return "abort"
	default:
		return fmt.Sprintf("read_status(%d)", int(s))
	}
}

// WriteStatus is the result code the push side hands back to the engine
type WriteStatus int

const (
	WriteContinue WriteStatus = iota
	WriteAbort
)

func (s WriteStatus) String() string {
	if s == WriteContinue {
		return "continue"
	}
	return "abort"
}

// ChunkInfo describes one output chunk produced by the engine.
// Samples is per channel and is zero for the stream header.
type ChunkInfo struct {
	Bytes      int
	Samples    int
	Frame      uint64
	Channels   int
	SampleRate int
	BitDepth   int
}

// Puller supplies input bytes on demand. An empty result means end of stream.
type Puller interface {
	Pull(maxBytes int) ([]byte, error)
}

// PullFunc adapts a function to Puller
type PullFunc func(maxBytes int) ([]byte, error)

// Pull calls f(maxBytes)
func (f PullFunc) Pull(maxBytes int) ([]byte, error) {
	return f(maxBytes)
}

// Pusher consumes output chunks. buf is only valid for the duration of the call.
type Pusher interface {
	Push(buf []byte, info ChunkInfo) error
}

// PushFunc adapts a function to Pusher
type PushFunc func(buf []byte, info ChunkInfo) error

// Push calls f(buf, info)
func (f PushFunc) Push(buf []byte, info ChunkInfo) error {
	return f(buf, info)
}

// Engine is the codec engine driven by a Relay. The engine reads its input
// through Relay.Fill (or Relay.Read) and emits output through Relay.Forward.
type Engine interface {
	// Init performs the handshake with the relay it will read from and write to
	Init(r *Relay) error

	// ProcessSingle processes one unit of work (a metadata block or a frame).
	// It returns false once the end of stream has been reached.
	ProcessSingle() (bool, error)

	// ProcessUntilEndOfStream processes until input is exhausted
	ProcessUntilEndOfStream() error

	// Finish flushes buffered state and releases the engine
	Finish() error

	// State reports the engine's own state
	State() fmt.Stringer
}

// OverflowPolicy decides what happens when a Puller returns more bytes than requested
type OverflowPolicy int

const (
	// OverflowAbort fails the stream with ErrProtocolViolation
	OverflowAbort OverflowPolicy = iota
	// OverflowCarry serves the requested bytes and keeps the rest for the next request
	OverflowCarry
)

// DefaultFinishTimeout bounds how long Finish waits for the background worker
const DefaultFinishTimeout = 3 * time.Second

// Config configures a Relay
type Config struct {
	// Pull selects direct-pull mode. When nil the relay reads from the
	// queue filled by Submit.
	Pull Puller

	// Push receives output chunks. May be nil when output is discarded.
	Push Pusher

	Overflow      OverflowPolicy
	FinishTimeout time.Duration

	// Logger defaults to the global zerolog logger
	Logger *zerolog.Logger
}

// Stats holds relay counters
type Stats struct {
	BytesSubmitted int64
	BytesServed    int64
	PullCalls      int64
	ChunksPushed   int64
	BytesPushed    int64
	SamplesPushed  int64
}
