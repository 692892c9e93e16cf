package ops

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tarungka/weave/buffer"
	"github.com/tarungka/weave/cache"
	"github.com/tarungka/weave/tree"
)

// passOp forwards buffers unchanged through the managed fetch.
type passOp struct {
	name    string
	workers int
}

func (o *passOp) Name() string    { return o.name }
func (o *passOp) NumWorkers() int { return o.workers }

func (o *passOp) Run(n *tree.Node, workerID int) error {
	for {
		b, err := n.GetNextInput(0, workerID)
		if err != nil {
			return err
		}
		if b.IsEOF() {
			return nil
		}
		if err := n.Emit(workerID, b); err != nil {
			return err
		}
	}
}

func pass(name string, workers int) *tree.Node {
	return tree.NewNode(&passOp{name: name, workers: workers}, 8)
}

// countingOp forwards buffers and counts the data ones, to observe how often
// the subtree below actually ran.
type countingOp struct {
	dataBuffers atomic.Int64
	dataRows    atomic.Int64
}

func (o *countingOp) Name() string    { return "counting" }
func (o *countingOp) NumWorkers() int { return 1 }

func (o *countingOp) Run(n *tree.Node, workerID int) error {
	for {
		b, err := n.GetNextInput(0, workerID)
		if err != nil {
			return err
		}
		if b.IsEOF() {
			return nil
		}
		o.dataBuffers.Add(1)
		o.dataRows.Add(int64(b.NumRows()))
		if err := n.Emit(workerID, b); err != nil {
			return err
		}
	}
}

// seqLeaf is a plain sequential leaf: it emits its rows, closes each epoch,
// ends the stream and exits. It never parks, so it only works outside repeat
// scopes (or shielded below a cache).
type seqLeaf struct {
	rows   int
	epochs int
}

func (o *seqLeaf) Name() string    { return "seqLeaf" }
func (o *seqLeaf) NumWorkers() int { return 1 }

func (o *seqLeaf) ComputeColumnMap(n *tree.Node) (map[string]int, error) {
	return map[string]int{"payload": 0}, nil
}

func (o *seqLeaf) Run(n *tree.Node, workerID int) error {
	seq := int64(0)
	epochs := o.epochs
	if epochs <= 0 {
		epochs = 1
	}
	for e := 0; e < epochs; e++ {
		for i := 0; i < o.rows; i++ {
			row := buffer.Row{ID: seq, Cols: [][]byte{[]byte(fmt.Sprintf("row-%d", seq))}}
			if err := n.Emit(workerID, buffer.New(seq, []buffer.Row{row})); err != nil {
				return err
			}
			seq++
		}
		if err := n.Emit(workerID, buffer.NewEOE()); err != nil {
			return err
		}
	}
	return n.Emit(workerID, buffer.NewEOF())
}

// waitTree guards Wait with a deadline so protocol bugs surface as failures,
// not hung tests.
func waitTree(t *testing.T, tr *tree.Tree) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- tr.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("tree did not finish")
		return nil
	}
}

// buildAndLaunch assembles a root-to-leaf chain, prepares it and launches it.
func buildAndLaunch(t *testing.T, chain ...*tree.Node) (*tree.Tree, *tree.Iterator) {
	t.Helper()
	for i := 0; i+1 < len(chain); i++ {
		require.NoError(t, chain[i].AddChild(chain[i+1]))
	}
	tr := tree.New()
	require.NoError(t, tr.AssignRoot(chain[0]))
	require.NoError(t, tr.Prepare())
	it, err := tree.NewIterator(tr)
	require.NoError(t, err)
	require.NoError(t, tr.Launch())
	return tr, it
}

// streamResult is everything drain saw before the end of the stream.
type streamResult struct {
	rows []string // first column of each row, arrival order
	ids  []int64
	eoe  int
}

// drain consumes the iterator to the end of the stream.
func drain(t *testing.T, it *tree.Iterator) streamResult {
	t.Helper()
	var res streamResult
	for {
		b, err := it.Next()
		require.NoError(t, err)
		if b.IsEOF() {
			return res
		}
		if b.IsEOE() {
			res.eoe++
			continue
		}
		for _, row := range b.Rows() {
			res.ids = append(res.ids, row.ID)
			res.rows = append(res.rows, string(row.Cols[0]))
		}
	}
}

// testCacheClient builds an in-memory row store client, closed with the test.
func testCacheClient(t *testing.T) *cache.Client {
	t.Helper()
	store, err := cache.New(&cache.Config{InMemory: true})
	require.NoError(t, err)
	client := cache.NewClient(store)
	t.Cleanup(func() { _ = client.Close() })
	return client
}
