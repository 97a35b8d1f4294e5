// ABOUTME: Relay error taxonomy
// ABOUTME: Initialization, processing and protocol errors surfaced to callers
package relay

import (
	"errors"
	"fmt"
)

var (
	// ErrAborted is reported when processing stopped because of an abort result code
	ErrAborted = errors.New("relay: aborted")

	// ErrProtocolViolation is reported when a Puller returns more bytes than requested
	ErrProtocolViolation = errors.New("relay: pull returned more bytes than requested")

	// ErrInputClosed is returned by Submit after the end of stream was signalled
	ErrInputClosed = errors.New("relay: input closed")

	// ErrFinishTimeout is reported when the background worker does not stop in time
	ErrFinishTimeout = errors.New("relay: timed out waiting for worker")

	// ErrNotActive is returned when processing is requested outside the active state
	ErrNotActive = errors.New("relay: not active")

	// ErrInputOpen is reported when a synchronous relay runs out of queued
	// input before the end of input was signalled
	ErrInputOpen = errors.New("relay: queued input exhausted before end of input")

	// ErrWorkerRunning is returned when the caller drives a relay owned by its worker
	ErrWorkerRunning = errors.New("relay: background worker running")
)

// InitStatus classifies an initialization failure
type InitStatus int

const (
	InitEngineError InitStatus = iota
	InitInvalidChannels
	InitInvalidBitsPerSample
	InitInvalidSampleRate
	InitInvalidBlockSize
	InitInvalidCompressionLevel
	InitAlreadyInitialized
	InitErrorOpeningFile
)

func (s InitStatus) String() string {
	switch s {
	case InitInvalidChannels:
		return "invalid number of channels"
	case InitInvalidBitsPerSample:
		return "invalid bits per sample"
	case InitInvalidSampleRate:
		return "invalid sample rate"
	case InitInvalidBlockSize:
		return "invalid block size"
	case InitInvalidCompressionLevel:
		return "invalid compression level"
	case InitAlreadyInitialized:
		return "already initialized"
	case InitErrorOpeningFile:
		return "error opening file"
	default:
		return "engine error"
	}
}

// InitError is returned when the engine rejects its configuration
type InitError struct {
	Status InitStatus
	Err    error
}

func (e *InitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("initialization failed: %s", e.Status)
	}
	return fmt.Sprintf("initialization failed: %s: %v", e.Status, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// NewInitError builds an InitError with a formatted cause
func NewInitError(status InitStatus, format string, args ...any) *InitError {
	return &InitError{Status: status, Err: fmt.Errorf(format, args...)}
}

// ProcessError is a fatal condition raised while relaying data
type ProcessError struct {
	Op  string
	Err error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("processing failed during %s: %v", e.Op, e.Err)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

func processError(op string, err error) error {
	var pe *ProcessError
	if errors.As(err, &pe) {
		return err
	}
	return &ProcessError{Op: op, Err: err}
}
