package ops

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/tarungka/weave/buffer"
	"github.com/tarungka/weave/cache"
	"github.com/tarungka/weave/internal/logger"
	"github.com/tarungka/weave/metrics"
	"github.com/tarungka/weave/sampler"
	"github.com/tarungka/weave/tree"
)

// CacheOpConfig configures a row cache layer.
type CacheOpConfig struct {
	// Client is the backing row store. Each cache node needs its own; row
	// ids from different leaves would collide in a shared store.
	Client *cache.Client

	// BatchRows is the number of rows per replayed buffer. Defaults to 1.
	BatchRows int

	QueueSize int
}

// CacheOp stores the child's rows and replays them from the store on later
// passes, shielding the subtree below from repeats: the child runs exactly
// one build pass.
//
// With a random-access child the leaf hands its sampler over during prepare
// and scans sequentially; the cache then serves every pass, the first one
// included, in sampler order from the store. With a sequential child
// (streaming source) the first pass tees through while building and later
// passes replay in scan order.
type CacheOp struct {
	client       *cache.Client
	batchRows    int
	smp          sampler.Sampler
	randomAccess bool

	gate   *epochGate
	built  atomic.Bool
	seq    int64
	mHits  prometheus.Counter
	mMiss  prometheus.Counter
	logger zerolog.Logger
}

// NewCache builds a cache node from cfg.
func NewCache(cfg CacheOpConfig) (*tree.Node, error) {
	if cfg.Client == nil {
		return nil, errors.New("ops: cache needs a row store client")
	}
	batch := cfg.BatchRows
	if batch <= 0 {
		batch = 1
	}
	op := &CacheOp{
		client:    cfg.Client,
		batchRows: batch,
		gate:      newEpochGate(),
		mHits:     metrics.CacheHits.WithLabelValues("cache"),
		mMiss:     metrics.CacheMisses.WithLabelValues("cache"),
		logger:    logger.GetLogger("ops").With().Str("op", "cache").Logger(),
	}
	return tree.NewNode(op, queueOrDefault(cfg.QueueSize)), nil
}

func (o *CacheOp) Name() string { return "cache" }

func (o *CacheOp) NumWorkers() int { return 1 }

func (o *CacheOp) Fingerprint() string {
	smp := "none"
	if o.smp != nil {
		smp = o.smp.Name()
	}
	return fmt.Sprintf("random=%t,sampler=%s,batch=%d", o.randomAccess, smp, o.batchRows)
}

// CacheSampler takes over a leaf's sampler during prepare.
func (o *CacheOp) CacheSampler(s sampler.Sampler, randomAccess bool) error {
	if o.smp != nil {
		return fmt.Errorf("%w: cache already holds a sampler", tree.ErrInvalidTopology)
	}
	o.smp = s
	o.randomAccess = randomAccess
	return nil
}

// Reset re-arms the gate for one more replay pass.
func (o *CacheOp) Reset(n *tree.Node) error {
	o.gate.resume()
	return nil
}

func (o *CacheOp) releaseEpochs() { o.gate.release() }

func (o *CacheOp) Run(n *tree.Node, workerID int) error {
	replaySampled := o.randomAccess && o.smp != nil

	// Build pass: absorb the child's single run. A random-access child is
	// swallowed entirely; a sequential child tees through so the first pass
	// costs no extra latency.
	for {
		b, err := n.GetNextBuffer(0, workerID, false)
		if err != nil {
			return err
		}
		if b.IsEOE() {
			break
		}
		if b.IsEOF() {
			// Child ended without closing an epoch; nothing to replay.
			return n.Emit(workerID, buffer.NewEOF())
		}
		if err := o.client.Put(b.Rows()); err != nil {
			return fmt.Errorf("cache build: %w", err)
		}
		o.mMiss.Add(float64(b.NumRows()))
		if !replaySampled {
			if err := n.Emit(workerID, b); err != nil {
				return err
			}
		}
	}

	// The child was never marked for repeats, so its end of stream follows
	// the boundary directly. Draining it retires the subtree's workers.
	b, err := n.GetNextBuffer(0, workerID, false)
	if err != nil {
		return err
	}
	if !b.IsEOF() {
		return fmt.Errorf("%w: cache expected end of stream after build pass", tree.ErrProtocol)
	}
	o.built.Store(true)
	size, szErr := o.client.SizeOnDisk()
	if szErr != nil {
		size = -1
	}
	o.logger.Debug().Int64("rows", o.client.Len()).Int64("bytes", size).
		Bool("sampled", replaySampled).Msg("row cache built")

	if replaySampled {
		if err := o.servePass(n, workerID); err != nil {
			return err
		}
	}
	if err := n.Emit(workerID, buffer.NewEOE()); err != nil {
		return err
	}
	if !n.ControlFlag(tree.CtrlRepeated) {
		return n.Emit(workerID, buffer.NewEOF())
	}
	for {
		again, err := o.gate.wait(n.Tree().Context())
		if err != nil {
			return err
		}
		if !again {
			return n.Emit(workerID, buffer.NewEOF())
		}
		if err := o.servePass(n, workerID); err != nil {
			return err
		}
		if err := n.Emit(workerID, buffer.NewEOE()); err != nil {
			return err
		}
	}
}

// servePass replays one full pass from the store, in sampler order when the
// cache holds one, otherwise in ascending row-id order.
func (o *CacheOp) servePass(n *tree.Node, workerID int) error {
	if o.randomAccess && o.smp != nil {
		return o.serveSampled(n, workerID)
	}
	return o.serveScan(n, workerID)
}

func (o *CacheOp) serveSampled(n *tree.Node, workerID int) error {
	if err := o.smp.Reset(o.client.Len()); err != nil {
		return fmt.Errorf("cache sampler reset: %w", err)
	}
	for {
		ids, err := o.smp.Next(o.batchRows)
		if errors.Is(err, sampler.ErrExhausted) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("cache sampler next: %w", err)
		}
		rows, err := o.client.GetByID(ids)
		if err != nil {
			return fmt.Errorf("cache replay: %w", err)
		}
		o.mHits.Add(float64(len(rows)))
		if err := n.Emit(workerID, buffer.New(o.seq, rows)); err != nil {
			return err
		}
		o.seq++
	}
}

func (o *CacheOp) serveScan(n *tree.Node, workerID int) error {
	from := int64(0)
	for {
		rows, next, err := o.client.Scan(from, o.batchRows)
		if err != nil {
			return fmt.Errorf("cache replay: %w", err)
		}
		if len(rows) > 0 {
			o.mHits.Add(float64(len(rows)))
			if err := n.Emit(workerID, buffer.New(o.seq, rows)); err != nil {
				return err
			}
			o.seq++
		}
		if next < 0 {
			return nil
		}
		from = next
	}
}
