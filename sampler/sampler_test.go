package sampler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, s Sampler, batch int) []int64 {
	t.Helper()
	var all []int64
	for {
		idx, err := s.Next(batch)
		if err == ErrExhausted {
			return all
		}
		require.NoError(t, err)
		all = append(all, idx...)
	}
}

func TestSequential_CoversRangeInOrder(t *testing.T) {
	s := NewSequential(0, 1)
	require.NoError(t, s.Reset(5))
	assert.Equal(t, []int64{0, 1, 2, 3, 4}, drain(t, s, 2))

	// Second pass repeats the order.
	require.NoError(t, s.Reset(5))
	assert.Equal(t, []int64{0, 1, 2, 3, 4}, drain(t, s, 5))
}

func TestSequential_StartAndStride(t *testing.T) {
	s := NewSequential(1, 2)
	require.NoError(t, s.Reset(6))
	assert.Equal(t, []int64{1, 3, 5}, drain(t, s, 10))
}

func TestSequential_NextBeforeReset(t *testing.T) {
	s := NewSequential(0, 1)
	_, err := s.Next(1)
	assert.Error(t, err)
}

func TestRandom_SameSeedSameOrder(t *testing.T) {
	a := NewRandom(42, false)
	b := NewRandom(42, false)
	require.NoError(t, a.Reset(16))
	require.NoError(t, b.Reset(16))
	assert.Equal(t, drain(t, a, 4), drain(t, b, 4))
}

func TestRandom_PassesDiffer(t *testing.T) {
	s := NewRandom(42, false)
	require.NoError(t, s.Reset(16))
	first := drain(t, s, 16)
	require.NoError(t, s.Reset(16))
	second := drain(t, s, 16)

	assert.Len(t, first, 16)
	assert.Len(t, second, 16)
	assert.NotEqual(t, first, second)

	// Without replacement each pass is a permutation.
	seen := make(map[int64]bool, 16)
	for _, v := range second {
		assert.False(t, seen[v])
		seen[v] = true
	}
}

func TestRandom_WithReplacementEndsPass(t *testing.T) {
	s := NewRandom(7, true)
	require.NoError(t, s.Reset(8))
	got := drain(t, s, 3)
	assert.Len(t, got, 8)
	for _, v := range got {
		assert.GreaterOrEqual(t, v, int64(0))
		assert.Less(t, v, int64(8))
	}
}
