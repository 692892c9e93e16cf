package ops

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/tarungka/weave/buffer"
	"github.com/tarungka/weave/tree"
)

// ShuffleConfig configures a bounded-memory row shuffler.
type ShuffleConfig struct {
	// BufferSize is the reservoir size; larger means better mixing. Must be
	// at least 2.
	BufferSize int

	// Seed makes the shuffle reproducible. Each pass under a repeat derives
	// its own stream from seed and the pass number.
	Seed int64

	QueueSize int
}

// ShuffleOp mixes row order inside an epoch with a fixed-size reservoir:
// every incoming row evicts a random resident once the reservoir is full, and
// the epoch boundary drains the remainder in shuffled order. Rows never cross
// epochs.
type ShuffleOp struct {
	size int
	seed int64

	mu    sync.Mutex
	epoch int64
	rng   *rand.Rand
	pool  []buffer.Row
	seq   int64
}

// NewShuffle builds a shuffle node from cfg. A single worker keeps the
// reservoir coherent.
func NewShuffle(cfg ShuffleConfig) (*tree.Node, error) {
	if cfg.BufferSize < 2 {
		return nil, fmt.Errorf("ops: shuffle buffer size %d must be at least 2", cfg.BufferSize)
	}
	op := &ShuffleOp{
		size: cfg.BufferSize,
		seed: cfg.Seed,
		rng:  rand.New(rand.NewSource(cfg.Seed)),
	}
	return tree.NewNode(op, queueOrDefault(cfg.QueueSize)), nil
}

func (o *ShuffleOp) Name() string { return "shuffle" }

func (o *ShuffleOp) NumWorkers() int { return 1 }

func (o *ShuffleOp) Fingerprint() string {
	return fmt.Sprintf("size=%d,seed=%d", o.size, o.seed)
}

func (o *ShuffleOp) Run(n *tree.Node, workerID int) error {
	for {
		b, err := n.GetNextInput(0, workerID)
		if err != nil {
			return err
		}
		if b.IsEOF() {
			return nil
		}
		for _, row := range b.Rows() {
			evicted, ok := o.exchange(row)
			if !ok {
				continue
			}
			if err := o.emitRow(n, workerID, evicted); err != nil {
				return err
			}
		}
	}
}

// exchange inserts a row, evicting a random resident once the reservoir is
// full.
func (o *ShuffleOp) exchange(row buffer.Row) (buffer.Row, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.pool) < o.size {
		o.pool = append(o.pool, row)
		return buffer.Row{}, false
	}
	i := o.rng.Intn(o.size)
	evicted := o.pool[i]
	o.pool[i] = row
	return evicted, true
}

func (o *ShuffleOp) emitRow(n *tree.Node, workerID int, row buffer.Row) error {
	o.mu.Lock()
	seq := o.seq
	o.seq++
	o.mu.Unlock()
	return n.Emit(workerID, buffer.New(seq, []buffer.Row{row}))
}

// EOEReceived drains the reservoir in shuffled order, then forwards the epoch
// boundary.
func (o *ShuffleOp) EOEReceived(n *tree.Node, workerID int) error {
	o.mu.Lock()
	rest := o.pool
	o.pool = nil
	o.rng.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })
	o.mu.Unlock()
	for _, row := range rest {
		if err := o.emitRow(n, workerID, row); err != nil {
			return err
		}
	}
	return n.Emit(workerID, buffer.NewEOE())
}

// Reset discards leftovers and re-seeds for the next pass so every pass
// shuffles differently but reproducibly.
func (o *ShuffleOp) Reset(n *tree.Node) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pool = nil
	o.epoch++
	o.rng = rand.New(rand.NewSource(o.seed + o.epoch))
	return nil
}
