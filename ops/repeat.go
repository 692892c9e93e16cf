package ops

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tarungka/weave/buffer"
	"github.com/tarungka/weave/internal/logger"
	"github.com/tarungka/weave/tree"
)

// RepeatConfig configures an epoch multiplier.
type RepeatConfig struct {
	// Count is the total number of passes over the subtree below, including
	// the first. Must be at least 1; the optimizer prunes count-1 repeats.
	Count int
}

// RepeatOp replays the subtree below it Count times. It is inlined: consumer
// fetches flow through it, it swallows the epoch boundaries of all passes but
// the last, and at each swallowed boundary it re-arms the subtree for another
// pass. The boundary of the final pass is forwarded upward as the single
// epoch boundary of the repeated dataset.
//
// Every consumer fetching through this node delivers one copy of each child
// boundary marker. The first copy of a boundary decides forward or swallow;
// the last copy performs the re-arm (or, for the outermost repeat, releases
// the epoch sources so they end the stream).
type RepeatOp struct {
	count     int
	outermost bool
	logger    zerolog.Logger

	mu      sync.Mutex
	copies  int
	seen    int
	passes  int
	forward bool
}

// NewRepeat builds an inlined repeat node from cfg.
func NewRepeat(cfg RepeatConfig) (*tree.Node, error) {
	if cfg.Count < 1 {
		return nil, fmt.Errorf("ops: repeat count %d must be at least 1", cfg.Count)
	}
	op := &RepeatOp{
		count:  cfg.Count,
		logger: logger.GetLogger("ops").With().Str("op", "repeat").Logger(),
	}
	return tree.NewNode(op, 0), nil
}

func (o *RepeatOp) Name() string { return "repeat" }

func (o *RepeatOp) NumWorkers() int { return 0 }

// Count is the configured number of passes.
func (o *RepeatOp) Count() int { return o.count }

func (o *RepeatOp) Fingerprint() string { return fmt.Sprintf("count=%d", o.count) }

// Run never executes; inlined ops serve fetches instead of running workers.
func (o *RepeatOp) Run(n *tree.Node, workerID int) error {
	return fmt.Errorf("%w: repeat is inlined and runs no workers", tree.ErrInvalidTopology)
}

// PrepareNodePre marks the epoch sources below. Only the outermost repeat on
// a path may end them; nested repeats hand their boundary upward instead.
func (o *RepeatOp) PrepareNodePre(n *tree.Node) error {
	o.outermost = !hasRepeatAncestor(n)
	markEpochSources(n, o.outermost)
	return nil
}

// PrepareNodePost pins the marker copy count. Consumer fetch chains are fixed
// once the tree is prepared.
func (o *RepeatOp) PrepareNodePost(n *tree.Node) error {
	o.copies = n.NumConsumers()
	return nil
}

// Reset re-arms the pass counters; an enclosing repeat calls this between its
// own passes.
func (o *RepeatOp) Reset(n *tree.Node) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.passes = 0
	o.seen = 0
	o.forward = false
	return nil
}

// GetNextBuffer serves one consumer fetch. Data and end-of-stream flow
// through; epoch boundaries go through the pass bookkeeping and are swallowed
// until the final pass.
func (o *RepeatOp) GetNextBuffer(n *tree.Node, workerID int, retryOnEOE bool) (*buffer.Buffer, error) {
	for {
		b, err := n.GetNextBuffer(0, workerID, false)
		if err != nil {
			return nil, err
		}
		if !b.IsEOE() {
			return b, nil
		}
		forward, err := o.boundary(n)
		if err != nil {
			return nil, err
		}
		if forward {
			return b, nil
		}
	}
}

// boundary accounts for one popped copy of a child epoch marker and reports
// whether that copy is forwarded. The re-arm must wait for the last copy:
// resetting while a sibling consumer still owes a pop would let the next pass
// race the current boundary.
func (o *RepeatOp) boundary(n *tree.Node) (bool, error) {
	o.mu.Lock()
	if o.seen == 0 {
		o.passes++
		o.forward = o.passes >= o.count
	}
	o.seen++
	forward := o.forward
	last := o.seen >= o.copies
	if last {
		o.seen = 0
	}
	passes := o.passes
	o.mu.Unlock()

	if !last {
		return forward, nil
	}
	if forward {
		if o.outermost {
			o.logger.Debug().Int("passes", passes).Msg("repeat exhausted, releasing sources")
			releaseEpochSources(n)
		}
		return forward, nil
	}
	o.logger.Trace().Int("pass", passes).Int("count", o.count).Msg("repeat boundary, re-arming subtree")
	if err := resetForNextPass(n); err != nil {
		return false, err
	}
	return forward, nil
}
