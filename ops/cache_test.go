package ops

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarungka/weave/sampler"
	"github.com/tarungka/weave/tree"
)

func TestCache_ServesEveryPassFromStore(t *testing.T) {
	client := testCacheClient(t)
	gen, err := NewGenerator(GeneratorConfig{NumRows: 6})
	require.NoError(t, err)
	counting := tree.NewNode(&countingOp{}, 8)
	cacheN, err := NewCache(CacheOpConfig{Client: client})
	require.NoError(t, err)
	repeatN, err := NewRepeat(RepeatConfig{Count: 3})
	require.NoError(t, err)

	tr, it := buildAndLaunch(t, pass("head", 1), repeatN, cacheN, counting, gen)
	res := drain(t, it)
	require.NoError(t, waitTree(t, tr))

	assert.Len(t, res.rows, 18, "three served passes")
	assert.Equal(t, 1, res.eoe)
	assert.Equal(t, []int64{
		0, 1, 2, 3, 4, 5,
		0, 1, 2, 3, 4, 5,
		0, 1, 2, 3, 4, 5,
	}, res.ids, "sampler order, the handed-over sequential sampler")

	counter := counting.Op().(*countingOp)
	assert.Equal(t, int64(6), counter.dataRows.Load(), "the subtree below the cache ran exactly one build pass")
	assert.Equal(t, int64(6), client.Len())
	assert.Equal(t, tree.TreeFinished, tr.State())
}

func TestCache_ReplaysInSamplerOrder(t *testing.T) {
	client := testCacheClient(t)
	gen, err := NewGenerator(GeneratorConfig{
		NumRows: 6,
		Sampler: sampler.NewRandom(5, false),
	})
	require.NoError(t, err)
	counting := tree.NewNode(&countingOp{}, 8)
	cacheN, err := NewCache(CacheOpConfig{Client: client})
	require.NoError(t, err)
	repeatN, err := NewRepeat(RepeatConfig{Count: 2})
	require.NoError(t, err)

	tr, it := buildAndLaunch(t, pass("head", 1), repeatN, cacheN, counting, gen)
	res := drain(t, it)
	require.NoError(t, waitTree(t, tr))

	require.Len(t, res.ids, 12)
	assert.ElementsMatch(t, []int64{0, 1, 2, 3, 4, 5}, res.ids[:6])
	assert.ElementsMatch(t, []int64{0, 1, 2, 3, 4, 5}, res.ids[6:])
	assert.Equal(t, int64(6), counting.Op().(*countingOp).dataRows.Load(),
		"random access replays come from the store, not the leaf")
}

func TestCache_TeesSequentialChildOnFirstPass(t *testing.T) {
	client := testCacheClient(t)
	leaf := tree.NewNode(&seqLeaf{rows: 5, epochs: 1}, 16)
	cacheN, err := NewCache(CacheOpConfig{Client: client})
	require.NoError(t, err)
	repeatN, err := NewRepeat(RepeatConfig{Count: 2})
	require.NoError(t, err)

	tr, it := buildAndLaunch(t, pass("head", 1), repeatN, cacheN, leaf)
	res := drain(t, it)
	require.NoError(t, waitTree(t, tr))

	assert.Equal(t, []string{
		"row-0", "row-1", "row-2", "row-3", "row-4",
		"row-0", "row-1", "row-2", "row-3", "row-4",
	}, res.rows, "first pass tees through, second replays in scan order")
	assert.Equal(t, 1, res.eoe)
	assert.Equal(t, int64(5), client.Len())
	assert.Equal(t, tree.StateTerminated, leaf.State(), "leaf retired after its single run")
}

func TestCache_WithoutRepeatServesOnePass(t *testing.T) {
	client := testCacheClient(t)
	gen, err := NewGenerator(GeneratorConfig{NumRows: 4})
	require.NoError(t, err)
	cacheN, err := NewCache(CacheOpConfig{Client: client})
	require.NoError(t, err)

	tr, it := buildAndLaunch(t, pass("head", 1), cacheN, gen)
	res := drain(t, it)
	require.NoError(t, waitTree(t, tr))

	assert.Equal(t, []int64{0, 1, 2, 3}, res.ids)
	assert.Equal(t, 1, res.eoe)
	assert.Equal(t, tree.TreeFinished, tr.State())
}

func TestCache_BatchRowsShapeReplay(t *testing.T) {
	client := testCacheClient(t)
	gen, err := NewGenerator(GeneratorConfig{NumRows: 6})
	require.NoError(t, err)
	cacheN, err := NewCache(CacheOpConfig{Client: client, BatchRows: 4})
	require.NoError(t, err)

	tr, it := buildAndLaunch(t, pass("head", 1), cacheN, gen)
	sizes, eoe := drainSizes(t, it)
	require.NoError(t, waitTree(t, tr))

	assert.Equal(t, []int{4, 2}, sizes)
	assert.Equal(t, 1, eoe)
}

// A cache needs its child to end after one epoch; a second epoch is a marker
// protocol violation.
func TestCache_MultiEpochChildFails(t *testing.T) {
	client := testCacheClient(t)
	leaf := tree.NewNode(&seqLeaf{rows: 2, epochs: 2}, 16)
	cacheN, err := NewCache(CacheOpConfig{Client: client})
	require.NoError(t, err)

	tr, _ := buildAndLaunch(t, pass("head", 1), cacheN, leaf)
	err = waitTree(t, tr)
	require.Error(t, err)
	assert.ErrorIs(t, err, tree.ErrProtocol)
	assert.Equal(t, tree.TreeFailed, tr.State())
}

func TestCache_RequiresClient(t *testing.T) {
	_, err := NewCache(CacheOpConfig{})
	assert.Error(t, err)
}
