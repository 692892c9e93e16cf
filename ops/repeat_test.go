package ops

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarungka/weave/tree"
)

func TestRepeat_ReplaysSubtree(t *testing.T) {
	gen, err := NewGenerator(GeneratorConfig{NumRows: 4})
	require.NoError(t, err)
	repeatN, err := NewRepeat(RepeatConfig{Count: 3})
	require.NoError(t, err)

	tr, it := buildAndLaunch(t, pass("head", 1), repeatN, gen)
	res := drain(t, it)

	assert.Len(t, res.rows, 12, "three passes over four rows")
	assert.Equal(t, 1, res.eoe, "inner boundaries are swallowed")
	assert.Equal(t, []int64{0, 1, 2, 3, 0, 1, 2, 3, 0, 1, 2, 3}, res.ids)

	require.NoError(t, waitTree(t, tr))
	assert.Equal(t, tree.TreeFinished, tr.State())
	assert.Equal(t, tree.StateTerminated, repeatN.State())
	assert.Equal(t, tree.StateTerminated, gen.State())
}

func TestRepeat_NestedMultiplies(t *testing.T) {
	gen, err := NewGenerator(GeneratorConfig{NumRows: 2})
	require.NoError(t, err)
	inner, err := NewRepeat(RepeatConfig{Count: 3})
	require.NoError(t, err)
	outer, err := NewRepeat(RepeatConfig{Count: 2})
	require.NoError(t, err)

	tr, it := buildAndLaunch(t, pass("head", 1), outer, inner, gen)
	res := drain(t, it)

	assert.Len(t, res.rows, 12, "2 outer passes x 3 inner passes x 2 rows")
	assert.Equal(t, 1, res.eoe)
	require.NoError(t, waitTree(t, tr))
	assert.Equal(t, tree.TreeFinished, tr.State())
}

// Every consumer fetching through the repeat pops its own copy of a boundary
// marker; the pass bookkeeping must count copies, not boundaries.
func TestRepeat_MultiConsumerBoundary(t *testing.T) {
	gen, err := NewGenerator(GeneratorConfig{NumRows: 3})
	require.NoError(t, err)
	repeatN, err := NewRepeat(RepeatConfig{Count: 2})
	require.NoError(t, err)

	tr, it := buildAndLaunch(t, pass("pmap", 3), repeatN, gen)
	res := drain(t, it)

	assert.Len(t, res.rows, 6)
	assert.ElementsMatch(t, []int64{0, 1, 2, 0, 1, 2}, res.ids)
	assert.Equal(t, 1, res.eoe)
	require.NoError(t, waitTree(t, tr))
	assert.Equal(t, tree.TreeFinished, tr.State())
}

func TestRepeat_OpsBetweenRepeatAndLeafReset(t *testing.T) {
	gen, err := NewGenerator(GeneratorConfig{NumRows: 5})
	require.NoError(t, err)
	batchN, err := NewBatch(BatchConfig{Size: 2})
	require.NoError(t, err)
	repeatN, err := NewRepeat(RepeatConfig{Count: 2})
	require.NoError(t, err)

	// The batch below the repeat flushes a short buffer at each boundary;
	// rows must not leak across passes.
	tr, it := buildAndLaunch(t, pass("head", 1), repeatN, batchN, gen)

	var sizes []int
	var eoe int
	for {
		b, err := it.Next()
		require.NoError(t, err)
		if b.IsEOF() {
			break
		}
		if b.IsEOE() {
			eoe++
			continue
		}
		sizes = append(sizes, b.NumRows())
	}
	assert.Equal(t, []int{2, 2, 1, 2, 2, 1}, sizes)
	assert.Equal(t, 1, eoe)
	require.NoError(t, waitTree(t, tr))
}

func TestRepeat_CountValidation(t *testing.T) {
	_, err := NewRepeat(RepeatConfig{Count: 0})
	assert.Error(t, err)
	_, err = NewRepeat(RepeatConfig{Count: -2})
	assert.Error(t, err)
}

func TestRepeat_NodeIsInlined(t *testing.T) {
	repeatN, err := NewRepeat(RepeatConfig{Count: 2})
	require.NoError(t, err)
	assert.True(t, repeatN.IsInlined())
	assert.Equal(t, 2, repeatN.Op().(*RepeatOp).Count())
}
