// ABOUTME: Streaming linear resampler for interleaved integer samples
// ABOUTME: Carries the last input frame across calls so chunking does not change the output
package resample

import "fmt"

// Resampler performs linear interpolation to convert between sample rates
type Resampler struct {
	inputRate  int
	outputRate int
	channels   int
	step       float64

	// position of the next output frame, relative to buf[0]
	position float64
	buf      []int32
	prev     []int32
	havePrev bool
}

// New creates a new resampler
func New(inputRate, outputRate, channels int) (*Resampler, error) {
	if inputRate <= 0 || outputRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates %d -> %d", inputRate, outputRate)
	}
	if channels < 1 {
		return nil, fmt.Errorf("invalid channel count %d", channels)
	}
	return &Resampler{
		inputRate:  inputRate,
		outputRate: outputRate,
		channels:   channels,
		step:       float64(inputRate) / float64(outputRate),
		prev:       make([]int32, channels),
	}, nil
}

// OutputRate returns the target sample rate
func (r *Resampler) OutputRate() int {
	return r.outputRate
}

// Process converts interleaved input frames and appends the result to dst.
// The final input frame is held back until the next call or Flush.
func (r *Resampler) Process(dst, input []int32) ([]int32, error) {
	if len(input)%r.channels != 0 {
		return dst, fmt.Errorf("sample count %d is not a multiple of %d channels", len(input), r.channels)
	}
	if len(input) == 0 {
		return dst, nil
	}

	r.buf = r.buf[:0]
	if r.havePrev {
		r.buf = append(r.buf, r.prev...)
	}
	r.buf = append(r.buf, input...)
	frames := len(r.buf) / r.channels

	for {
		idx := int(r.position)
		if idx+1 >= frames {
			break
		}
		frac := r.position - float64(idx)
		a := r.buf[idx*r.channels:]
		b := r.buf[(idx+1)*r.channels:]
		for ch := 0; ch < r.channels; ch++ {
			v := float64(a[ch])*(1-frac) + float64(b[ch])*frac
			dst = append(dst, int32(v))
		}
		r.position += r.step
	}

	copy(r.prev, r.buf[(frames-1)*r.channels:])
	r.havePrev = true
	r.position -= float64(frames - 1)
	return dst, nil
}

// Flush emits the frames that fall on or after the held-back input frame
func (r *Resampler) Flush(dst []int32) []int32 {
	if !r.havePrev {
		return dst
	}
	for r.position < 1 {
		dst = append(dst, r.prev...)
		r.position += r.step
	}
	r.Reset()
	return dst
}

// Reset drops any held-back state
func (r *Resampler) Reset() {
	r.position = 0
	r.havePrev = false
	for i := range r.prev {
		r.prev[i] = 0
	}
}

// OutputFrames estimates how many frames inputFrames produce
func (r *Resampler) OutputFrames(inputFrames int) int {
	return int(float64(inputFrames) / r.step)
}
