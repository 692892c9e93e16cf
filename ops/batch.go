package ops

import (
	"fmt"
	"sync"

	"github.com/tarungka/weave/buffer"
	"github.com/tarungka/weave/tree"
)

// BatchConfig configures a row re-grouping op.
type BatchConfig struct {
	// Size is the number of rows per output buffer.
	Size int

	// DropRemainder discards the rows left over at an epoch boundary instead
	// of flushing a short buffer.
	DropRemainder bool

	QueueSize int
}

// BatchOp re-groups incoming rows into fixed-size buffers. Epoch boundaries
// flush the partial batch (or drop it), so rows never batch across epochs.
type BatchOp struct {
	size          int
	dropRemainder bool

	mu      sync.Mutex
	pending []buffer.Row
	seq     int64
}

// NewBatch builds a batch node from cfg. A single worker keeps row order.
func NewBatch(cfg BatchConfig) (*tree.Node, error) {
	if cfg.Size <= 0 {
		return nil, fmt.Errorf("ops: batch size %d must be positive", cfg.Size)
	}
	op := &BatchOp{
		size:          cfg.Size,
		dropRemainder: cfg.DropRemainder,
	}
	return tree.NewNode(op, queueOrDefault(cfg.QueueSize)), nil
}

func (o *BatchOp) Name() string { return "batch" }

func (o *BatchOp) NumWorkers() int { return 1 }

func (o *BatchOp) Fingerprint() string {
	return fmt.Sprintf("size=%d,drop=%t", o.size, o.dropRemainder)
}

func (o *BatchOp) Run(n *tree.Node, workerID int) error {
	for {
		b, err := n.GetNextInput(0, workerID)
		if err != nil {
			return err
		}
		if b.IsEOF() {
			return nil
		}
		for _, out := range o.absorb(b.Rows()) {
			if err := n.Emit(workerID, out); err != nil {
				return err
			}
		}
	}
}

// absorb appends rows to the pending batch and cuts full buffers. Emission
// happens outside the lock; the boundary hooks run in the same worker
// goroutine, so the lock only guards against Reset from a repeat boundary.
func (o *BatchOp) absorb(rows []buffer.Row) []*buffer.Buffer {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending = append(o.pending, rows...)
	var out []*buffer.Buffer
	for len(o.pending) >= o.size {
		chunk := o.pending[:o.size:o.size]
		o.pending = o.pending[o.size:]
		out = append(out, buffer.New(o.seq, chunk))
		o.seq++
	}
	return out
}

func (o *BatchOp) takePending() (*buffer.Buffer, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.pending) == 0 {
		return nil, false
	}
	b := buffer.New(o.seq, o.pending)
	o.seq++
	o.pending = nil
	return b, true
}

// EOEReceived flushes or drops the partial batch before forwarding the epoch
// boundary.
func (o *BatchOp) EOEReceived(n *tree.Node, workerID int) error {
	if b, ok := o.takePending(); ok && !o.dropRemainder {
		if err := n.Emit(workerID, b); err != nil {
			return err
		}
	}
	return n.Emit(workerID, buffer.NewEOE())
}

// EOFReceived flushes the partial batch before the stream ends. A stream that
// follows the marker protocol closes its last epoch first, so this is usually
// empty.
func (o *BatchOp) EOFReceived(n *tree.Node, workerID int) error {
	if b, ok := o.takePending(); ok && !o.dropRemainder {
		if err := n.Emit(workerID, b); err != nil {
			return err
		}
	}
	return n.Emit(workerID, buffer.NewEOF())
}

// Reset drops rows buffered from the aborted pass.
func (o *BatchOp) Reset(n *tree.Node) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending = nil
	return nil
}
