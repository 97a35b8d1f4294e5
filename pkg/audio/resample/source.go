// ABOUTME: Source adapter that changes the sample rate of another source
// ABOUTME: Lets encoders produce FLAC at a rate different from the input file
package resample

import (
	"errors"
	"io"

	"github.com/Resonate-Protocol/flacrelay/pkg/audio/source"
)

const sourceReadFrames = 4096

// Source resamples an underlying source
type Source struct {
	src     source.Source
	r       *Resampler
	scratch []int32
	pending []int32
	eof     bool
}

var _ source.Source = (*Source)(nil)

// NewSource wraps src so that it reports and produces sampleRate
func NewSource(src source.Source, sampleRate int) (*Source, error) {
	r, err := New(src.SampleRate(), sampleRate, src.Channels())
	if err != nil {
		return nil, err
	}
	return &Source{
		src:     src,
		r:       r,
		scratch: make([]int32, sourceReadFrames*src.Channels()),
	}, nil
}

func (s *Source) Read(samples []int32) (int, error) {
	for len(s.pending) < len(samples) && !s.eof {
		n, err := s.src.Read(s.scratch)
		if n > 0 {
			var perr error
			if s.pending, perr = s.r.Process(s.pending, s.scratch[:n]); perr != nil {
				return 0, perr
			}
		}
		if errors.Is(err, io.EOF) {
			s.pending = s.r.Flush(s.pending)
			s.eof = true
		} else if err != nil {
			return 0, err
		}
	}

	if len(s.pending) == 0 {
		return 0, io.EOF
	}
	n := copy(samples, s.pending)
	s.pending = s.pending[:copy(s.pending, s.pending[n:])]
	return n, nil
}

func (s *Source) SampleRate() int { return s.r.OutputRate() }
func (s *Source) Channels() int   { return s.src.Channels() }
func (s *Source) BitDepth() int   { return s.src.BitDepth() }
func (s *Source) Close() error    { return s.src.Close() }
