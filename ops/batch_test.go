package ops

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarungka/weave/tree"
)

// drainSizes collects data buffer sizes and the epoch boundary count.
func drainSizes(t *testing.T, it *tree.Iterator) (sizes []int, eoe int) {
	t.Helper()
	for {
		b, err := it.Next()
		require.NoError(t, err)
		if b.IsEOF() {
			return sizes, eoe
		}
		if b.IsEOE() {
			eoe++
			continue
		}
		sizes = append(sizes, b.NumRows())
	}
}

func TestBatch_Regroups(t *testing.T) {
	leaf := tree.NewNode(&seqLeaf{rows: 7, epochs: 1}, 16)
	batchN, err := NewBatch(BatchConfig{Size: 3})
	require.NoError(t, err)

	tr, it := buildAndLaunch(t, batchN, leaf)
	sizes, eoe := drainSizes(t, it)

	assert.Equal(t, []int{3, 3, 1}, sizes, "partial batch flushes at the boundary")
	assert.Equal(t, 1, eoe)
	require.NoError(t, waitTree(t, tr))
}

func TestBatch_DropRemainder(t *testing.T) {
	leaf := tree.NewNode(&seqLeaf{rows: 7, epochs: 1}, 16)
	batchN, err := NewBatch(BatchConfig{Size: 3, DropRemainder: true})
	require.NoError(t, err)

	tr, it := buildAndLaunch(t, batchN, leaf)
	sizes, eoe := drainSizes(t, it)

	assert.Equal(t, []int{3, 3}, sizes, "remainder dropped at the boundary")
	assert.Equal(t, 1, eoe)
	require.NoError(t, waitTree(t, tr))
}

func TestBatch_NeverBatchesAcrossEpochs(t *testing.T) {
	leaf := tree.NewNode(&seqLeaf{rows: 4, epochs: 2}, 16)
	batchN, err := NewBatch(BatchConfig{Size: 3})
	require.NoError(t, err)

	tr, it := buildAndLaunch(t, batchN, leaf)
	sizes, eoe := drainSizes(t, it)

	assert.Equal(t, []int{3, 1, 3, 1}, sizes)
	assert.Equal(t, 2, eoe)
	require.NoError(t, waitTree(t, tr))
}

func TestBatch_ExactMultipleLeavesNoRemainder(t *testing.T) {
	leaf := tree.NewNode(&seqLeaf{rows: 6, epochs: 1}, 16)
	batchN, err := NewBatch(BatchConfig{Size: 2})
	require.NoError(t, err)

	tr, it := buildAndLaunch(t, batchN, leaf)
	sizes, _ := drainSizes(t, it)

	assert.Equal(t, []int{2, 2, 2}, sizes)
	require.NoError(t, waitTree(t, tr))
}

func TestBatch_SizeValidation(t *testing.T) {
	_, err := NewBatch(BatchConfig{Size: 0})
	assert.Error(t, err)
	_, err = NewBatch(BatchConfig{Size: -1})
	assert.Error(t, err)
}
