// ABOUTME: Encoder verification through a second decoder
// ABOUTME: Decodes emitted frames in the background and compares them to the input
package encode

import (
	"fmt"
	"sync"

	"github.com/Resonate-Protocol/flacrelay/pkg/audio"
	"github.com/Resonate-Protocol/flacrelay/pkg/audio/decode"
)

type verifier struct {
	dec *decode.StreamDecoder

	mu       sync.Mutex
	expected []int32
	checked  int
	err      error
}

func newVerifier(cfg Config) (*verifier, error) {
	v := &verifier{}
	dec, err := decode.NewStream(decode.StreamConfig{
		Callback:      v.check,
		FinishTimeout: cfg.FinishTimeout,
		Logger:        cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start verify decoder: %w", err)
	}
	v.dec = dec
	return v, nil
}

// feed queues encoded bytes for the verify decoder along with the samples
// they are expected to decode to
func (v *verifier) feed(encoded []byte, samples []int32) error {
	v.mu.Lock()
	if v.err != nil {
		err := v.err
		v.mu.Unlock()
		return err
	}
	v.expected = append(v.expected, samples...)
	v.mu.Unlock()

	return v.dec.Process(encoded)
}

func (v *verifier) check(buf *audio.Buffer) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if len(buf.Samples) > len(v.expected) {
		v.err = fmt.Errorf("%w: %d unexpected samples after sample %d", ErrVerifyMismatch, len(buf.Samples)-len(v.expected), v.checked)
		return v.err
	}
	for i, s := range buf.Samples {
		if s != v.expected[i] {
			v.err = fmt.Errorf("%w: sample %d: expected %d, got %d", ErrVerifyMismatch, v.checked+i, v.expected[i], s)
			return v.err
		}
	}

	v.expected = v.expected[len(buf.Samples):]
	v.checked += len(buf.Samples)
	return nil
}

func (v *verifier) finish() error {
	finishErr := v.dec.Finish()

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.err != nil {
		return v.err
	}
	if finishErr != nil {
		return fmt.Errorf("verify decoder failed: %w", finishErr)
	}
	if len(v.expected) > 0 {
		return fmt.Errorf("%w: %d samples were never decoded", ErrVerifyMismatch, len(v.expected))
	}
	return nil
}
