// Package sampler defines the order in which a random-access leaf visits its
// rows. Samplers are re-armed per pass, so an epoch boundary resets them and
// a fixed seed reproduces the same order on every run.
package sampler

import (
	"errors"
	"fmt"
	"math/rand"
)

// ErrExhausted is returned by Next once the current pass has yielded every
// index. Reset starts the next pass.
var ErrExhausted = errors.New("sampler: pass exhausted")

// Sampler yields row indices for one pass over a dataset.
type Sampler interface {
	// Name identifies the sampler kind.
	Name() string
	// Reset re-arms the sampler for a pass over numRows rows.
	Reset(numRows int64) error
	// Next returns up to n indices, or ErrExhausted once the pass is done.
	Next(n int) ([]int64, error)
	fmt.Stringer
}

// Sequential visits rows in index order with a configurable start and stride.
type Sequential struct {
	start  int64
	stride int64

	numRows int64
	pos     int64
}

// NewSequential returns a sequential sampler. A stride below one is treated
// as one.
func NewSequential(start, stride int64) *Sequential {
	if start < 0 {
		start = 0
	}
	if stride < 1 {
		stride = 1
	}
	return &Sequential{start: start, stride: stride, pos: -1}
}

func (s *Sequential) Name() string { return "sequential" }

func (s *Sequential) String() string {
	return fmt.Sprintf("sequential(start=%d,stride=%d)", s.start, s.stride)
}

func (s *Sequential) Reset(numRows int64) error {
	if numRows < 0 {
		return fmt.Errorf("sampler: negative row count %d", numRows)
	}
	s.numRows = numRows
	s.pos = s.start
	return nil
}

func (s *Sequential) Next(n int) ([]int64, error) {
	if s.pos < 0 {
		return nil, errors.New("sampler: Next before Reset")
	}
	if s.pos >= s.numRows {
		return nil, ErrExhausted
	}
	out := make([]int64, 0, n)
	for len(out) < n && s.pos < s.numRows {
		out = append(out, s.pos)
		s.pos += s.stride
	}
	return out, nil
}

// Random visits rows in a seeded pseudo-random order. Each Reset advances an
// internal epoch counter so successive passes shuffle differently while the
// whole sequence of passes stays reproducible for a given seed.
type Random struct {
	seed        int64
	replacement bool

	epoch   int64
	numRows int64
	rng     *rand.Rand
	perm    []int64
	pos     int
	served  int64
}

// NewRandom returns a random-order sampler. With replacement the pass still
// ends after numRows draws.
func NewRandom(seed int64, replacement bool) *Random {
	return &Random{seed: seed, replacement: replacement}
}

func (s *Random) Name() string { return "random" }

func (s *Random) String() string {
	return fmt.Sprintf("random(seed=%d,replacement=%t)", s.seed, s.replacement)
}

func (s *Random) Reset(numRows int64) error {
	if numRows < 0 {
		return fmt.Errorf("sampler: negative row count %d", numRows)
	}
	s.numRows = numRows
	s.rng = rand.New(rand.NewSource(s.seed + s.epoch))
	s.epoch++
	s.served = 0
	s.pos = 0
	s.perm = nil
	if !s.replacement && numRows > 0 {
		s.perm = make([]int64, numRows)
		for i, v := range s.rng.Perm(int(numRows)) {
			s.perm[i] = int64(v)
		}
	}
	return nil
}

func (s *Random) Next(n int) ([]int64, error) {
	if s.rng == nil {
		return nil, errors.New("sampler: Next before Reset")
	}
	if s.served >= s.numRows {
		return nil, ErrExhausted
	}
	out := make([]int64, 0, n)
	for len(out) < n && s.served < s.numRows {
		if s.replacement {
			out = append(out, s.rng.Int63n(s.numRows))
		} else {
			out = append(out, s.perm[s.pos])
			s.pos++
		}
		s.served++
	}
	return out, nil
}
