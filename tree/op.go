package tree

import (
	"github.com/tarungka/weave/buffer"
	"github.com/tarungka/weave/sampler"
)

// Op is the behavior a Node runs. The node owns topology, connectors, state
// and the control-message protocol; the op owns what happens to the rows.
//
// Ops with NumWorkers() >= 1 get that many dedicated goroutines, each calling
// Run with its worker id. Inlined ops report NumWorkers() == 0, are built with
// queue size 0, and implement Fetcher instead: they serve fetches in the
// caller's goroutine and never run workers of their own.
type Op interface {
	// Name identifies the op kind. It is used in logs, metrics labels and
	// structural fingerprints, so it must be stable for a given op type.
	Name() string

	// NumWorkers is the number of goroutines the tree launches for this op.
	// Zero means the op is inlined.
	NumWorkers() int

	// Run is the worker body. It returns nil after the end-of-stream marker
	// has been handled, or the error that aborted this worker.
	Run(n *Node, workerID int) error
}

// The interfaces below are optional capabilities. The node detects them with
// type assertions at the call site; an op implements only what it overrides.

// EOEHandler replaces the default end-of-epoch handling (re-emit the marker
// downstream). Ops that buffer rows override this to flush before the epoch
// closes.
type EOEHandler interface {
	EOEReceived(n *Node, workerID int) error
}

// EOFHandler replaces the default end-of-stream handling (re-emit the marker
// downstream). Ops that hold external resources override this to flush and
// release them before the stream ends.
type EOFHandler interface {
	EOFReceived(n *Node, workerID int) error
}

// Resetter re-arms op state for a fresh pass over the data. Invoked through
// Node.Reset, typically from a repeat boundary.
type Resetter interface {
	Reset(n *Node) error
}

// ColumnMapper replaces the default column-map computation (inherit the
// single child's map). Leaves and ops that add, drop or rename columns
// implement this.
type ColumnMapper interface {
	ComputeColumnMap(n *Node) (map[string]int, error)
}

// PrePreparer runs op-specific setup during the top-down prepare walk, after
// the node's base pre-action.
type PrePreparer interface {
	PrepareNodePre(n *Node) error
}

// PostPreparer runs op-specific setup during the bottom-up prepare walk,
// after the node's base post-action (connector allocation, column map).
type PostPreparer interface {
	PrepareNodePost(n *Node) error
}

// WorkerConnectorRegistrar allocates internal worker-to-worker channels for
// parallel ops. No-op for everything else.
type WorkerConnectorRegistrar interface {
	RegisterWorkerConnectors(n *Node) error
}

// Fetcher serves raw buffer fetches for inlined ops. The call runs in the
// consuming goroutine; implementations that keep state across calls must
// synchronize it themselves, keeping in mind concurrent callers.
type Fetcher interface {
	GetNextBuffer(n *Node, workerID int, retryOnEOE bool) (*buffer.Buffer, error)
}

// PreAcceptor overrides visitor dispatch for the downward (pre-order) visit.
// Implementations downcast the pass to their type-specific visitor interface
// and fall back to the pass's generic PreVisit.
type PreAcceptor interface {
	PreAccept(n *Node, p Pass) (bool, error)
}

// Acceptor overrides visitor dispatch for the upward (post-order) visit.
type Acceptor interface {
	Accept(n *Node, p Pass) (bool, error)
}

// Fingerprinter feeds op configuration into GenerateCRC. The string must be
// deterministic and must change whenever configuration that affects output
// changes.
type Fingerprinter interface {
	Fingerprint() string
}

// SamplerCache is implemented by caching ops that can replay a leaf's rows.
// Leaves hand their sampler over during prepare via SaveSamplerForCache;
// randomAccess tells the cache whether it may replay by row id or must
// replay in sequential scan order.
type SamplerCache interface {
	CacheSampler(s sampler.Sampler, randomAccess bool) error
}
