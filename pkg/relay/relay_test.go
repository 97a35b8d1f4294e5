// ABOUTME: Tests for the streaming relay
// ABOUTME: Covers slicing, ordering, end of stream, errors and both scheduling models
package relay

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sliceEngine reads fixed size slices and forwards each one unchanged
type sliceEngine struct {
	r        *Relay
	size     int
	initErr  error
	got      []byte
	reads    []int
	finished int
}

func (e *sliceEngine) Init(r *Relay) error {
	if e.initErr != nil {
		return e.initErr
	}
	e.r = r
	return nil
}

func (e *sliceEngine) ProcessSingle() (bool, error) {
	buf := make([]byte, e.size)
	n, status := e.r.Fill(buf)
	switch status {
	case ReadAbort:
		return false, ErrAborted
	case ReadEndOfStream:
		return false, nil
	}
	e.got = append(e.got, buf[:n]...)
	e.reads = append(e.reads, n)
	if e.r.Forward(buf[:n], ChunkInfo{Samples: n}) == WriteAbort {
		return false, ErrAborted
	}
	return true, nil
}

func (e *sliceEngine) ProcessUntilEndOfStream() error {
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

func (e *sliceEngine) Finish() error {
	e.finished++
	return nil
}

func (e *sliceEngine) State() fmt.Stringer {
	return StateActive
}

func fillSizes(t *testing.T, r *Relay, size, calls int) ([]int, []ReadStatus) {
	t.Helper()
	var sizes []int
	var statuses []ReadStatus
	for i := 0; i < calls; i++ {
		n, status := r.Fill(make([]byte, size))
		sizes = append(sizes, n)
		statuses = append(statuses, status)
	}
	return sizes, statuses
}

func TestFillSlicesSingleChunk(t *testing.T) {
	r := New(Config{})
	require.NoError(t, r.Submit(make([]byte, 1000)))
	r.CloseInput()

	sizes, statuses := fillSizes(t, r, 300, 5)

	assert.Equal(t, []int{300, 300, 300, 100, 0}, sizes)
	assert.Equal(t, []ReadStatus{ReadContinue, ReadContinue, ReadContinue, ReadContinue, ReadEndOfStream}, statuses)
	assert.Equal(t, StateEndOfStream, r.State())
}

func TestFillSpansChunkBoundaries(t *testing.T) {
	r := New(Config{})
	require.NoError(t, r.Submit(make([]byte, 50)))
	require.NoError(t, r.Submit(make([]byte, 4000)))
	require.NoError(t, r.Submit(nil))

	sizes, statuses := fillSizes(t, r, 1024, 5)

	assert.Equal(t, []int{1024, 1024, 1024, 978, 0}, sizes)
	assert.Equal(t, ReadEndOfStream, statuses[4])

	total := 0
	for _, n := range sizes {
		total += n
	}
	assert.Equal(t, 4050, total)
}

func TestPullErrorIsSticky(t *testing.T) {
	calls := 0
	failure := errors.New("device unplugged")
	r := New(Config{Pull: PullFunc(func(maxBytes int) ([]byte, error) {
		calls++
		if calls == 3 {
			return nil, failure
		}
		return make([]byte, maxBytes), nil
	})})

	sizes, statuses := fillSizes(t, r, 64, 5)

	assert.Equal(t, []int{64, 64, 0, 0, 0}, sizes)
	assert.Equal(t, []ReadStatus{ReadContinue, ReadContinue, ReadAbort, ReadAbort, ReadAbort}, statuses)
	assert.Equal(t, 3, calls)
	assert.Equal(t, StateErrored, r.State())

	var pe *ProcessError
	require.ErrorAs(t, r.Err(), &pe)
	assert.Equal(t, "pull", pe.Op)
	assert.ErrorIs(t, r.Err(), failure)
}

func TestFinishTwice(t *testing.T) {
	e := &sliceEngine{size: 16}
	r := New(Config{})
	require.NoError(t, r.Bind(e))
	require.NoError(t, r.Submit([]byte("abc")))
	r.CloseInput()

	require.NoError(t, r.Process())
	require.NoError(t, r.Finish())
	require.NoError(t, r.Finish())

	assert.Equal(t, 1, e.finished)
	assert.Equal(t, StateFinished, r.State())
}

func TestOrderPreservation(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))

	for trial := 0; trial < 50; trial++ {
		r := New(Config{})
		var want []byte
		for i := rng.IntN(20); i >= 0; i-- {
			chunk := make([]byte, rng.IntN(700)+1)
			for j := range chunk {
				chunk[j] = byte(rng.IntN(256))
			}
			want = append(want, chunk...)
			require.NoError(t, r.Submit(chunk))
		}
		r.CloseInput()

		var got []byte
		for {
			size := rng.IntN(900)
			buf := make([]byte, size)
			n, status := r.Fill(buf)
			require.LessOrEqual(t, n, size)
			if status == ReadEndOfStream {
				break
			}
			require.Equal(t, ReadContinue, status)
			got = append(got, buf[:n]...)
		}

		require.True(t, bytes.Equal(want, got), "trial %d: delivered bytes differ", trial)
	}
}

func TestPullOverDelivery(t *testing.T) {
	supply := func() PullFunc {
		sent := false
		return func(maxBytes int) ([]byte, error) {
			if sent {
				return nil, nil
			}
			sent = true
			return []byte("0123456789"), nil
		}
	}

	t.Run("abort", func(t *testing.T) {
		r := New(Config{Pull: supply()})

		n, status := r.Fill(make([]byte, 4))

		assert.Equal(t, 0, n)
		assert.Equal(t, ReadAbort, status)
		assert.ErrorIs(t, r.Err(), ErrProtocolViolation)
	})

	t.Run("carry", func(t *testing.T) {
		r := New(Config{Pull: supply(), Overflow: OverflowCarry})

		var got []byte
		for {
			buf := make([]byte, 4)
			n, status := r.Fill(buf)
			require.LessOrEqual(t, n, 4)
			if status != ReadContinue {
				require.Equal(t, ReadEndOfStream, status)
				break
			}
			got = append(got, buf[:n]...)
		}

		assert.Equal(t, "0123456789", string(got))
		assert.Equal(t, int64(2), r.Stats().PullCalls)
	})
}

func TestCarryDrainedBeforePull(t *testing.T) {
	calls := 0
	r := New(Config{Overflow: OverflowCarry, Pull: PullFunc(func(maxBytes int) ([]byte, error) {
		calls++
		return bytes.Repeat([]byte{byte(calls)}, maxBytes*3), nil
	})})

	buf := make([]byte, 8)
	n, _ := r.Fill(buf)
	require.Equal(t, 8, n)

	n, _ = r.Fill(buf)
	require.Equal(t, 8, n)
	n, _ = r.Fill(buf)
	require.Equal(t, 8, n)

	assert.Equal(t, 1, calls)
	assert.Equal(t, bytes.Repeat([]byte{1}, 8), buf)
}

func TestNoPullAfterEndOfStream(t *testing.T) {
	calls := 0
	r := New(Config{Pull: PullFunc(func(maxBytes int) ([]byte, error) {
		calls++
		if calls == 1 {
			return []byte("xyz"), nil
		}
		return nil, nil
	})})

	sizes, statuses := fillSizes(t, r, 10, 4)

	assert.Equal(t, []int{3, 0, 0, 0}, sizes)
	assert.Equal(t, []ReadStatus{ReadContinue, ReadEndOfStream, ReadEndOfStream, ReadEndOfStream}, statuses)
	assert.Equal(t, 2, calls)
}

func TestReadReturnsEOF(t *testing.T) {
	r := New(Config{})
	require.NoError(t, r.Submit([]byte("hello ")))
	require.NoError(t, r.Submit([]byte("world")))
	r.CloseInput()

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestReadReturnsCapturedError(t *testing.T) {
	failure := errors.New("boom")
	r := New(Config{Pull: PullFunc(func(int) ([]byte, error) { return nil, failure })})

	_, err := r.Read(make([]byte, 4))
	assert.ErrorIs(t, err, failure)
}

func TestForwardConsumerError(t *testing.T) {
	calls := 0
	failure := errors.New("disk full")
	r := New(Config{Push: PushFunc(func(buf []byte, info ChunkInfo) error {
		calls++
		if calls == 2 {
			return failure
		}
		return nil
	})})

	assert.Equal(t, WriteContinue, r.Forward([]byte("a"), ChunkInfo{}))
	assert.Equal(t, WriteAbort, r.Forward([]byte("b"), ChunkInfo{}))
	assert.Equal(t, WriteAbort, r.Forward([]byte("c"), ChunkInfo{}))

	assert.Equal(t, 2, calls)
	assert.Equal(t, StateErrored, r.State())
	assert.ErrorIs(t, r.Err(), failure)
}

func TestForwardRecoversPanic(t *testing.T) {
	r := New(Config{Push: PushFunc(func([]byte, ChunkInfo) error {
		panic("consumer exploded")
	})})

	assert.Equal(t, WriteAbort, r.Forward([]byte("a"), ChunkInfo{}))
	require.Error(t, r.Err())
	assert.Contains(t, r.Err().Error(), "consumer exploded")
}

func TestForwardFillsByteCount(t *testing.T) {
	var infos []ChunkInfo
	r := New(Config{Push: PushFunc(func(buf []byte, info ChunkInfo) error {
		infos = append(infos, info)
		return nil
	})})

	r.Forward([]byte("abcd"), ChunkInfo{Samples: 2, Frame: 7})

	require.Len(t, infos, 1)
	assert.Equal(t, 4, infos[0].Bytes)
	assert.Equal(t, uint64(7), infos[0].Frame)
	assert.Equal(t, int64(2), r.Stats().SamplesPushed)
}

func TestSynchronousProcess(t *testing.T) {
	var out bytes.Buffer
	e := &sliceEngine{size: 5}
	r := New(Config{Push: PushFunc(func(buf []byte, info ChunkInfo) error {
		out.Write(buf)
		return nil
	})})
	require.NoError(t, r.Bind(e))
	assert.Equal(t, StateActive, r.State())

	require.NoError(t, r.Submit([]byte("synchronous ")))
	require.NoError(t, r.Submit([]byte("relay")))
	r.CloseInput()

	require.NoError(t, r.Process())
	assert.Equal(t, StateEndOfStream, r.State())
	assert.Equal(t, "synchronous relay", out.String())
	assert.Equal(t, []int{5, 5, 5, 2}, e.reads)
}

func TestSynchronousProcessRequiresClosedInput(t *testing.T) {
	e := &sliceEngine{size: 4}
	r := New(Config{})
	require.NoError(t, r.Bind(e))
	require.NoError(t, r.Submit([]byte("abcdef")))

	done := make(chan error, 1)
	go func() { done <- r.Process() }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrInputOpen)
	case <-time.After(2 * time.Second):
		t.Fatal("Process blocked waiting for input")
	}
	assert.Equal(t, StateActive, r.State())
	assert.Empty(t, e.got)

	r.CloseInput()
	require.NoError(t, r.Process())
	assert.Equal(t, "abcdef", string(e.got))
	assert.Equal(t, StateEndOfStream, r.State())
}

func TestProcessSingleDoesNotWaitForInput(t *testing.T) {
	e := &sliceEngine{size: 4}
	r := New(Config{})
	require.NoError(t, r.Bind(e))
	require.NoError(t, r.Submit([]byte("abcdef")))

	step := func() (bool, error) {
		type result struct {
			more bool
			err  error
		}
		done := make(chan result, 1)
		go func() {
			more, err := r.ProcessSingle()
			done <- result{more, err}
		}()
		select {
		case res := <-done:
			return res.more, res.err
		case <-time.After(2 * time.Second):
			t.Fatal("ProcessSingle blocked waiting for input")
			return false, nil
		}
	}

	more, err := step()
	require.NoError(t, err)
	assert.True(t, more)

	more, err = step()
	require.NoError(t, err)
	assert.True(t, more)
	assert.Equal(t, []int{4, 2}, e.reads)

	more, err = step()
	assert.False(t, more)
	assert.ErrorIs(t, err, ErrInputOpen)
	assert.Equal(t, StateErrored, r.State())
	assert.Equal(t, "abcdef", string(e.got))
}

func TestProcessSingle(t *testing.T) {
	e := &sliceEngine{size: 4}
	r := New(Config{})
	require.NoError(t, r.Bind(e))
	require.NoError(t, r.Submit([]byte("abcdef")))
	r.CloseInput()

	more, err := r.ProcessSingle()
	require.NoError(t, err)
	assert.True(t, more)

	more, err = r.ProcessSingle()
	require.NoError(t, err)
	assert.True(t, more)

	more, err = r.ProcessSingle()
	require.NoError(t, err)
	assert.False(t, more)

	assert.Equal(t, "abcdef", string(e.got))
}

func TestBackgroundWorker(t *testing.T) {
	var mu sync.Mutex
	var out bytes.Buffer
	e := &sliceEngine{size: 7}
	r := New(Config{Push: PushFunc(func(buf []byte, info ChunkInfo) error {
		mu.Lock()
		defer mu.Unlock()
		out.Write(buf)
		return nil
	})})
	require.NoError(t, r.Bind(e))
	require.NoError(t, r.Start())

	var want bytes.Buffer
	for i := 0; i < 100; i++ {
		chunk := []byte(fmt.Sprintf("chunk-%03d;", i))
		want.Write(chunk)
		require.NoError(t, r.Submit(chunk))
	}

	require.NoError(t, r.Finish())
	assert.Equal(t, StateFinished, r.State())
	assert.Equal(t, want.String(), out.String())
	assert.Equal(t, 1, e.finished)
}

func TestBackgroundWorkerRejectsSynchronousCalls(t *testing.T) {
	r := New(Config{})
	require.NoError(t, r.Bind(&sliceEngine{size: 8}))
	require.NoError(t, r.Start())

	assert.ErrorIs(t, r.Process(), ErrWorkerRunning)
	assert.ErrorIs(t, r.Start(), ErrWorkerRunning)

	require.NoError(t, r.Finish())
}

func TestBackgroundConsumerErrorSurfacesAtFinish(t *testing.T) {
	failure := errors.New("consumer rejected chunk")
	r := New(Config{Push: PushFunc(func([]byte, ChunkInfo) error { return failure })})
	require.NoError(t, r.Bind(&sliceEngine{size: 2}))
	require.NoError(t, r.Start())
	require.NoError(t, r.Submit([]byte("abcd")))

	err := r.Finish()
	require.Error(t, err)
	assert.ErrorIs(t, err, failure)
	assert.Nil(t, r.Finish())
}

func TestAbortUnblocksWorker(t *testing.T) {
	r := New(Config{})
	require.NoError(t, r.Bind(&sliceEngine{size: 1024}))
	require.NoError(t, r.Start())
	require.NoError(t, r.Submit([]byte("partial")))

	cancelled := errors.New("cancelled by caller")
	r.Abort(cancelled)

	err := r.Finish()
	assert.ErrorIs(t, err, cancelled)
	assert.ErrorIs(t, r.Submit([]byte("late")), cancelled)
}

// blockingEngine ignores the relay and blocks until released
type blockingEngine struct {
	release  chan struct{}
	finished chan struct{}
}

func (e *blockingEngine) Init(*Relay) error            { return nil }
func (e *blockingEngine) ProcessSingle() (bool, error) { return false, nil }
func (e *blockingEngine) State() fmt.Stringer          { return StateActive }

func (e *blockingEngine) ProcessUntilEndOfStream() error {
	<-e.release
	return nil
}

func (e *blockingEngine) Finish() error {
	close(e.finished)
	return nil
}

func TestFinishTimeout(t *testing.T) {
	e := &blockingEngine{release: make(chan struct{}), finished: make(chan struct{})}
	r := New(Config{FinishTimeout: 50 * time.Millisecond})
	require.NoError(t, r.Bind(e))
	require.NoError(t, r.Start())

	start := time.Now()
	err := r.Finish()
	assert.ErrorIs(t, err, ErrFinishTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)

	select {
	case <-e.finished:
		t.Fatal("engine finished while worker still running")
	default:
	}

	close(e.release)
	select {
	case <-e.finished:
	case <-time.After(2 * time.Second):
		t.Fatal("engine not released after worker exit")
	}
}

// panicEngine panics while processing
type panicEngine struct{ sliceEngine }

func (e *panicEngine) ProcessUntilEndOfStream() error {
	panic("engine bug")
}

func TestWorkerPanicCaptured(t *testing.T) {
	r := New(Config{})
	require.NoError(t, r.Bind(&panicEngine{sliceEngine{size: 4}}))
	require.NoError(t, r.Start())

	err := r.Finish()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine bug")
}

func TestBindFailure(t *testing.T) {
	e := &sliceEngine{initErr: NewInitError(InitInvalidSampleRate, "sample rate %d out of range", 0)}
	r := New(Config{})

	err := r.Bind(e)

	var ie *InitError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, InitInvalidSampleRate, ie.Status)
	assert.Equal(t, StateUninitialized, r.State())
	assert.Equal(t, 1, e.finished)
	assert.NoError(t, r.Err())
}

func TestBindWrapsPlainErrors(t *testing.T) {
	r := New(Config{})
	err := r.Bind(&sliceEngine{initErr: errors.New("no memory")})

	var ie *InitError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, InitEngineError, ie.Status)
}

func TestBindTwice(t *testing.T) {
	r := New(Config{})
	require.NoError(t, r.Bind(&sliceEngine{size: 1}))

	var ie *InitError
	require.ErrorAs(t, r.Bind(&sliceEngine{size: 1}), &ie)
	assert.Equal(t, InitAlreadyInitialized, ie.Status)
}

func TestSubmitAfterClose(t *testing.T) {
	r := New(Config{})
	r.CloseInput()
	assert.ErrorIs(t, r.Submit([]byte("x")), ErrInputClosed)
}

func TestSubmitCopiesInput(t *testing.T) {
	r := New(Config{})
	data := []byte("abc")
	require.NoError(t, r.Submit(data))
	data[0] = 'z'
	r.CloseInput()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestReset(t *testing.T) {
	calls := 0
	r := New(Config{Pull: PullFunc(func(maxBytes int) ([]byte, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("transient")
		}
		return []byte("ok"), nil
	})})

	_, status := r.Fill(make([]byte, 2))
	require.Equal(t, ReadAbort, status)

	require.NoError(t, r.Reset())
	assert.NoError(t, r.Err())

	buf := make([]byte, 2)
	n, status := r.Fill(buf)
	assert.Equal(t, ReadContinue, status)
	assert.Equal(t, "ok", string(buf[:n]))
}

func TestResetAfterFinish(t *testing.T) {
	r := New(Config{})
	require.NoError(t, r.Finish())
	assert.ErrorIs(t, r.Reset(), ErrNotActive)
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateUninitialized, "uninitialized"},
		{StateActive, "active"},
		{StateEndOfStream, "end_of_stream"},
		{StateErrored, "errored"},
		{StateFinished, "finished"},
		{State(42), "state(42)"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.state.String())
		})
	}
}
