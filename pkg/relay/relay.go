// ABOUTME: Streaming relay between a pull-based codec engine and its caller
// ABOUTME: Owns the pending input queue, excess carry and lifecycle state
package relay

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Relay adapts the engine's "give me N bytes now" reads to a caller that
// submits arbitrary sized chunks, and forwards engine output to the caller.
type Relay struct {
	id  string
	cfg Config
	log zerolog.Logger

	mu          sync.Mutex
	cond        *sync.Cond
	pending     [][]byte
	buffered    int
	inputClosed bool
	carry       []byte
	state       State
	err         error
	engine      Engine
	worker      chan struct{}
	finishing   bool
	stats       Stats
}

// New creates an uninitialized relay
func New(cfg Config) *Relay {
	if cfg.FinishTimeout <= 0 {
		cfg.FinishTimeout = DefaultFinishTimeout
	}

	base := log.Logger
	if cfg.Logger != nil {
		base = *cfg.Logger
	}

	id := uuid.New().String()
	r := &Relay{
		id:    id,
		cfg:   cfg,
		log:   base.With().Str("component", "relay").Str("relay_id", id).Logger(),
		state: StateUninitialized,
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// ID returns the relay identifier used in log output
func (r *Relay) ID() string {
	return r.id
}

// Logger returns the relay's contextual logger
func (r *Relay) Logger() *zerolog.Logger {
	return &r.log
}

// State returns the current lifecycle state
func (r *Relay) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Err returns the first captured error, if any
func (r *Relay) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Stats returns a snapshot of the relay counters
func (r *Relay) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Buffered returns the number of bytes queued and carried but not yet served
func (r *Relay) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buffered + len(r.carry)
}

// InputClosed reports whether the end of input has been signalled
func (r *Relay) InputClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inputClosed
}

// Bind performs the handshake with the engine. On failure the engine is
// finished, the relay stays uninitialized and an *InitError is returned.
func (r *Relay) Bind(e Engine) error {
	r.mu.Lock()
	if r.engine != nil || r.state != StateUninitialized {
		r.mu.Unlock()
		return &InitError{Status: InitAlreadyInitialized}
	}
	r.engine = e
	r.state = StateActive
	r.mu.Unlock()

	if err := safeCall(func() error { return e.Init(r) }); err != nil {
		if ferr := safeCall(e.Finish); ferr != nil {
			r.log.Debug().Err(ferr).Msg("release after failed init")
		}

		r.mu.Lock()
		if r.err != nil && !errors.Is(err, r.err) {
			err = fmt.Errorf("%w: %w", err, r.err)
		}
		r.engine = nil
		r.state = StateUninitialized
		r.err = nil
		r.carry = nil
		r.mu.Unlock()

		var ie *InitError
		if !errors.As(err, &ie) {
			ie = &InitError{Status: InitEngineError, Err: err}
		}
		r.log.Error().Err(ie).Msg("engine init failed")
		return ie
	}

	r.log.Debug().Msg("engine bound")
	return nil
}

// Submit queues a copy of data for the engine. An empty submission marks the
// end of input.
func (r *Relay) Submit(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateErrored {
		return r.err
	}
	if r.inputClosed || r.state == StateFinished {
		return ErrInputClosed
	}

	if len(data) == 0 {
		r.inputClosed = true
		r.cond.Broadcast()
		return nil
	}

	chunk := make([]byte, len(data))
	copy(chunk, data)
	r.pending = append(r.pending, chunk)
	r.buffered += len(chunk)
	r.stats.BytesSubmitted += int64(len(chunk))
	r.cond.Broadcast()
	return nil
}

// CloseInput marks the end of input. Safe to call more than once.
func (r *Relay) CloseInput() {
	r.mu.Lock()
	r.inputClosed = true
	r.cond.Broadcast()
	r.mu.Unlock()
}

// Abort puts the relay in the errored state, waking a blocked read
func (r *Relay) Abort(err error) {
	if err == nil {
		err = ErrAborted
	}
	r.mu.Lock()
	r.failLocked(err)
	r.mu.Unlock()
}

func (r *Relay) failLocked(err error) {
	if r.err == nil {
		r.err = err
		r.log.Error().Err(err).Str("state", r.state.String()).Msg("relay errored")
	}
	if r.state != StateFinished {
		r.state = StateErrored
	}
	r.cond.Broadcast()
}

func (r *Relay) abortErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	return ErrAborted
}

// Fill satisfies an engine read of up to len(buf) bytes. It returns fewer
// bytes only at the end of input, or when a direct-pull supplier returns a
// short chunk.
func (r *Relay) Fill(buf []byte) (int, ReadStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateErrored {
		return 0, ReadAbort
	}

	n := copy(buf, r.carry)
	r.carry = r.carry[n:]
	if len(r.carry) == 0 {
		r.carry = nil
	}
	if n == len(buf) {
		r.stats.BytesServed += int64(n)
		return n, ReadContinue
	}

	if r.state.Terminal() {
		if n > 0 {
			r.stats.BytesServed += int64(n)
			return n, ReadContinue
		}
		return 0, ReadEndOfStream
	}

	if r.cfg.Pull != nil {
		return r.pullLocked(buf, n)
	}
	return r.dequeueLocked(buf, n)
}

func (r *Relay) dequeueLocked(buf []byte, n int) (int, ReadStatus) {
	for {
		if r.state == StateErrored {
			return 0, ReadAbort
		}

		for n < len(buf) && len(r.pending) > 0 {
			head := r.pending[0]
			c := copy(buf[n:], head)
			n += c
			r.buffered -= c
			if c == len(head) {
				r.pending[0] = nil
				r.pending = r.pending[1:]
			} else {
				r.pending[0] = head[c:]
			}
		}

		if n == len(buf) {
			break
		}
		if r.inputClosed {
			if n == 0 {
				r.endOfStreamLocked()
				return 0, ReadEndOfStream
			}
			break
		}
		if r.state == StateFinished {
			return n, ReadEndOfStream
		}
		if r.worker == nil {
			// the caller's goroutine is inside the engine; nobody else can submit
			if n > 0 {
				break
			}
			r.failLocked(processError("pull", ErrInputOpen))
			return 0, ReadAbort
		}
		r.cond.Wait()
	}

	r.stats.BytesServed += int64(n)
	return n, ReadContinue
}

func (r *Relay) pullLocked(buf []byte, n int) (int, ReadStatus) {
	want := len(buf) - n
	r.stats.PullCalls++
	pull := r.cfg.Pull

	r.mu.Unlock()
	var data []byte
	err := safeCall(func() error {
		var perr error
		data, perr = pull.Pull(want)
		return perr
	})
	r.mu.Lock()

	if r.state == StateErrored {
		return 0, ReadAbort
	}
	if err != nil {
		r.failLocked(processError("pull", err))
		return 0, ReadAbort
	}

	if len(data) > want {
		if r.cfg.Overflow != OverflowCarry {
			r.failLocked(processError("pull", fmt.Errorf("%w: requested %d, got %d", ErrProtocolViolation, want, len(data))))
			return 0, ReadAbort
		}
		r.carry = append([]byte(nil), data[want:]...)
		data = data[:want]
		r.log.Debug().Int("requested", want).Int("carried", len(r.carry)).Msg("pull over-delivered")
	}

	if len(data) == 0 {
		r.endOfStreamLocked()
		if n == 0 {
			return 0, ReadEndOfStream
		}
	}

	n += copy(buf[n:], data)
	r.stats.BytesServed += int64(n)
	return n, ReadContinue
}

func (r *Relay) endOfStreamLocked() {
	if r.state == StateActive || r.state == StateUninitialized {
		r.state = StateEndOfStream
		r.log.Debug().Msg("end of stream")
	}
	r.cond.Broadcast()
}

// Read implements io.Reader on top of Fill
func (r *Relay) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n, status := r.Fill(p)
	switch status {
	case ReadEndOfStream:
		return n, io.EOF
	case ReadAbort:
		return n, r.abortErr()
	}
	return n, nil
}

// Forward hands one output chunk to the consumer on the calling goroutine.
// A consumer error puts the relay in the errored state and WriteAbort is
// returned. Once errored the consumer is not called again.
func (r *Relay) Forward(buf []byte, info ChunkInfo) WriteStatus {
	r.mu.Lock()
	if r.state == StateErrored || r.state == StateFinished {
		r.mu.Unlock()
		return WriteAbort
	}
	push := r.cfg.Push
	r.mu.Unlock()

	if info.Bytes == 0 {
		info.Bytes = len(buf)
	}

	if push != nil {
		if err := safeCall(func() error { return push.Push(buf, info) }); err != nil {
			r.mu.Lock()
			r.failLocked(processError("push", err))
			r.mu.Unlock()
			return WriteAbort
		}
	}

	r.mu.Lock()
	r.stats.ChunksPushed++
	r.stats.BytesPushed += int64(len(buf))
	r.stats.SamplesPushed += int64(info.Samples)
	r.mu.Unlock()
	return WriteContinue
}

func (r *Relay) processingEngine() (Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.engine == nil:
		return nil, ErrNotActive
	case r.worker != nil:
		return nil, ErrWorkerRunning
	case r.state == StateErrored:
		return nil, r.err
	case r.state == StateFinished:
		return nil, ErrNotActive
	}
	return r.engine, nil
}

// Process runs the engine until end of stream on the calling goroutine.
// Without a Puller the end of input must be signalled first, otherwise
// ErrInputOpen is returned and the relay is left unchanged.
func (r *Relay) Process() error {
	e, err := r.processingEngine()
	if err != nil {
		return err
	}
	r.mu.Lock()
	open := r.cfg.Pull == nil && !r.inputClosed
	r.mu.Unlock()
	if open {
		return ErrInputOpen
	}
	r.run(e)
	return r.Err()
}

// ProcessSingle runs one engine step on the calling goroutine. Without a
// Puller a step never waits for input: it reads what is queued, and a step
// that finds the queue empty before the end of input fails with ErrInputOpen.
func (r *Relay) ProcessSingle() (more bool, err error) {
	e, err := r.processingEngine()
	if err != nil {
		return false, err
	}

	func() {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("panic: %v", p)
			}
		}()
		more, err = e.ProcessSingle()
	}()

	if err != nil {
		r.mu.Lock()
		r.failLocked(processError("process", err))
		err = r.err
		r.mu.Unlock()
		return false, err
	}
	return more, r.Err()
}

func (r *Relay) run(e Engine) {
	if err := safeCall(e.ProcessUntilEndOfStream); err != nil {
		r.mu.Lock()
		r.failLocked(processError("process", err))
		r.mu.Unlock()
	}
}

// Start runs the engine on a background worker. Input is supplied with
// Submit and the worker is joined by Finish.
func (r *Relay) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.engine == nil || r.state != StateActive {
		if r.state == StateErrored {
			return r.err
		}
		return ErrNotActive
	}
	if r.worker != nil {
		return ErrWorkerRunning
	}

	done := make(chan struct{})
	r.worker = done
	e := r.engine

	go func() {
		defer close(done)
		r.run(e)
		r.log.Debug().Msg("worker exited")
	}()

	r.log.Debug().Msg("worker started")
	return nil
}

// Finish signals end of input, joins the worker within the finish timeout,
// then finishes the engine. It returns the first captured error. Calling it
// again is a no-op returning nil.
func (r *Relay) Finish() error {
	r.mu.Lock()
	if r.finishing {
		r.mu.Unlock()
		return nil
	}
	r.finishing = true
	r.inputClosed = true
	r.cond.Broadcast()
	done := r.worker
	e := r.engine
	timeout := r.cfg.FinishTimeout
	r.mu.Unlock()

	if done != nil {
		timer := time.NewTimer(timeout)
		defer timer.Stop()

		select {
		case <-done:
		case <-timer.C:
			r.mu.Lock()
			r.failLocked(processError("finish", ErrFinishTimeout))
			err := r.err
			r.mu.Unlock()

			r.log.Warn().Dur("timeout", timeout).Msg("worker did not stop, engine released when it exits")
			go func() {
				<-done
				if e != nil {
					_ = safeCall(e.Finish)
				}
				r.mu.Lock()
				r.state = StateFinished
				r.mu.Unlock()
			}()
			return err
		}
	}

	var finishErr error
	if e != nil {
		finishErr = safeCall(e.Finish)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if finishErr != nil {
		r.failLocked(processError("finish", finishErr))
	}
	r.state = StateFinished
	r.cond.Broadcast()
	r.log.Debug().Int64("bytes_served", r.stats.BytesServed).Int64("chunks_pushed", r.stats.ChunksPushed).Msg("relay finished")
	return r.err
}

// Reset clears queued input, carry and any captured error, returning the
// relay to the active state. It fails while a worker runs or after Finish.
func (r *Relay) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.worker != nil {
		select {
		case <-r.worker:
			r.worker = nil
		default:
			return ErrWorkerRunning
		}
	}
	if r.state == StateFinished || r.finishing {
		return ErrNotActive
	}

	r.pending = nil
	r.buffered = 0
	r.carry = nil
	r.inputClosed = false
	r.err = nil
	if r.engine != nil {
		r.state = StateActive
	} else {
		r.state = StateUninitialized
	}
	r.cond.Broadcast()
	return nil
}

func safeCall(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn()
}
