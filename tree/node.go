// Package tree implements the execution core of the preprocessing pipeline:
// a tree of operator nodes, each running on its own worker goroutine(s),
// passing bounded buffers of rows downstream through connectors, with
// in-band markers for end-of-epoch and end-of-stream.
//
// A Node is the concrete tree node: it owns the topology edges, the output
// connector, the run state and the control-message protocol. Operator
// behavior plugs in through the Op interface and its optional capabilities
// (see op.go). The Tree is the owner: it assigns ids, drives the two-phase
// prepare and launches workers.
package tree

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/tarungka/weave/buffer"
	"github.com/tarungka/weave/connector"
	"github.com/tarungka/weave/internal/logger"
	"github.com/tarungka/weave/metrics"
	"github.com/tarungka/weave/sampler"
)

// InvalidID marks a node that has not been attached to a tree yet.
const InvalidID = -1

// OpState is a node's run state. It starts Idle, becomes Running when the
// first worker enters the run loop and Terminated on clean shutdown or fatal
// error. It never regresses from Terminated.
type OpState int32

const (
	StateIdle OpState = iota
	StateRunning
	StateTerminated
)

func (s OpState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ControlFlags are runtime behavior bits, set only during the prepare phase
// and read by op run loops.
type ControlFlags uint32

const (
	CtrlNone ControlFlags = 0
	// CtrlRepeated marks an epoch source (a leaf, or a cache shielding one)
	// on a repeat path: it must park at epoch boundaries and wait for the
	// repeat op to re-arm or release it.
	CtrlRepeated ControlFlags = 1 << 0
	// CtrlLastRepeat marks an epoch source whose nearest repeat ancestor is
	// the outermost repeat, the one that owns stream termination.
	CtrlLastRepeat ControlFlags = 1 << 1
)

// Node is one operator node in an execution tree.
//
// Topology edges (children, parents) are guarded by the owning tree's
// topology lock once the node is attached; a detached node is built and
// wired single-threaded by contract. The column map has its own lock
// because downstream worker threads query it while (rarely) it is
// recomputed. Run state and control flags are atomics. Everything else is
// owned by this node's workers.
type Node struct {
	op Op

	id   int
	tree *Tree

	children []*Node
	parents  []*Node

	queueSize int
	conn      *connector.Connector

	state       atomic.Int32
	ctrl        atomic.Uint32
	workersLeft atomic.Int32

	colMu  sync.RWMutex
	colMap map[string]int

	smp sampler.Sampler

	logger zerolog.Logger

	mRows    prometheus.Counter
	mBuffers prometheus.Counter
	mEpochs  prometheus.Counter
	mFetch   prometheus.Observer
}

// NewNode wraps op in a detached node. queueSize is the per-producer
// capacity of the node's output connector; zero makes the node inlined (no
// connector of its own, fetches are served by the op's Fetcher and
// size/capacity queries delegate to the single child).
func NewNode(op Op, queueSize int) *Node {
	if queueSize < 0 {
		queueSize = 0
	}
	name := op.Name()
	return &Node{
		op:        op,
		id:        InvalidID,
		queueSize: queueSize,
		logger:    logger.GetLogger("tree").With().Str("op", name).Logger(),
		mRows:     metrics.RowsProcessed.WithLabelValues(name),
		mBuffers:  metrics.BuffersEmitted.WithLabelValues(name),
		mEpochs:   metrics.Epochs.WithLabelValues(name),
		mFetch:    metrics.FetchWait.WithLabelValues(name),
	}
}

// Op returns the node's operator.
func (n *Node) Op() Op { return n.op }

// ID returns the tree-assigned id, or InvalidID while detached.
func (n *Node) ID() int { return n.id }

// Name returns the op name.
func (n *Node) Name() string { return n.op.Name() }

// String renders the node identity for logs and errors.
func (n *Node) String() string {
	return fmt.Sprintf("%s(id=%d)", n.op.Name(), n.id)
}

// Tree returns the owning tree, nil while detached.
func (n *Node) Tree() *Tree { return n.tree }

// State returns the node's run state.
func (n *Node) State() OpState { return OpState(n.state.Load()) }

// markRunning flips Idle to Running. Terminated is absorbing.
func (n *Node) markRunning() {
	if n.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		n.logger.Debug().Msg("node running")
	}
}

// terminate moves the node to its terminal state, from anywhere.
func (n *Node) terminate() {
	if OpState(n.state.Swap(int32(StateTerminated))) != StateTerminated {
		n.logger.Debug().Msg("node terminated")
	}
}

// ControlFlag reports whether every bit in f is set.
func (n *Node) ControlFlag(f ControlFlags) bool {
	return ControlFlags(n.ctrl.Load())&f == f
}

// SetControlFlag sets the given bits. Prepare-time only.
func (n *Node) SetControlFlag(f ControlFlags) {
	for {
		old := n.ctrl.Load()
		if n.ctrl.CompareAndSwap(old, old|uint32(f)) {
			return
		}
	}
}

// ClearControlFlag clears the given bits. Prepare-time only.
func (n *Node) ClearControlFlag(f ControlFlags) {
	for {
		old := n.ctrl.Load()
		if n.ctrl.CompareAndSwap(old, old&^uint32(f)) {
			return
		}
	}
}

// Sampler returns the node's sampler, nil for most non-leaf nodes.
func (n *Node) Sampler() sampler.Sampler { return n.smp }

// SetSampler replaces the node's sampler. Prepare-time only: a cache layer
// takes a random-access leaf's sampler over and the leaf falls back to a
// sequential scan.
func (n *Node) SetSampler(s sampler.Sampler) { n.smp = s }

// IsInlined reports whether the node buffers nothing of its own.
func (n *Node) IsInlined() bool { return n.queueSize == 0 }

// QueueSize returns the configured per-producer connector capacity.
func (n *Node) QueueSize() int { return n.queueSize }

// topology lock helpers. A detached node has no lock; building a detached
// subtree is single-threaded by contract.

func (n *Node) topoLock() {
	if n.tree != nil {
		n.tree.topoMu.Lock()
	}
}

func (n *Node) topoUnlock() {
	if n.tree != nil {
		n.tree.topoMu.Unlock()
	}
}

func (n *Node) topoRLock() {
	if n.tree != nil {
		n.tree.topoMu.RLock()
	}
}

func (n *Node) topoRUnlock() {
	if n.tree != nil {
		n.tree.topoMu.RUnlock()
	}
}

// AddChild appends child to this node's child sequence and registers this
// node as one of the child's parents. A child already present fails with
// ErrInvalidTopology, as does linking across two different trees. A detached
// child (and its subtree) is associated into this node's tree implicitly.
func (n *Node) AddChild(child *Node) error {
	if child == nil {
		return fmt.Errorf("%w: nil child", ErrInvalidTopology)
	}
	if child == n {
		return fmt.Errorf("%w: %s cannot be its own child", ErrInvalidTopology, n)
	}
	n.topoLock()
	defer n.topoUnlock()

	if n.tree != nil && child.tree != nil && child.tree != n.tree {
		return fmt.Errorf("%w: %s belongs to another tree", ErrInvalidTopology, child)
	}
	for _, c := range n.children {
		if c == child {
			return fmt.Errorf("%w: %s is already a child of %s", ErrInvalidTopology, child, n)
		}
	}
	if n.tree != nil && child.tree == nil {
		if err := n.tree.associateLocked(child); err != nil {
			return err
		}
	}
	n.children = append(n.children, child)
	child.parents = append(child.parents, n)
	n.logger.Debug().Int("child", child.id).Int("parent", n.id).Msg("added child")
	return nil
}

// RemoveChild unlinks child from this node. A missing edge fails with
// ErrNotFound. The child stays associated with the tree; only the edge is
// removed.
func (n *Node) RemoveChild(child *Node) error {
	if child == nil {
		return fmt.Errorf("%w: nil child", ErrNotFound)
	}
	n.topoLock()
	defer n.topoUnlock()

	ci := indexOfNode(n.children, child)
	if ci < 0 {
		return fmt.Errorf("%w: %s is not a child of %s", ErrNotFound, child, n)
	}
	pi := indexOfNode(child.parents, n)
	if pi < 0 {
		return fmt.Errorf("%w: %s does not list %s as parent", ErrNotFound, child, n)
	}
	n.children = removeNodeAt(n.children, ci)
	child.parents = removeNodeAt(child.parents, pi)
	n.logger.Debug().Int("child", child.id).Int("parent", n.id).Msg("removed child")
	return nil
}

// Remove splices this node out of the tree: its single parent is linked
// directly to its single child at the position this node occupied, and the
// node is left fully detached and disassociated. Any other shape fails with
// ErrInvalidTopology; re-homing several children across several parents has
// no defensible ordering.
func (n *Node) Remove() error {
	n.topoLock()
	defer n.topoUnlock()

	if len(n.parents) != 1 || len(n.children) != 1 {
		return fmt.Errorf("%w: remove needs exactly one parent and one child, %s has %d/%d",
			ErrInvalidTopology, n, len(n.parents), len(n.children))
	}
	parent := n.parents[0]
	child := n.children[0]

	ci := indexOfNode(parent.children, n)
	if ci < 0 {
		return fmt.Errorf("%w: edge %s->%s is one-sided", ErrInvalidTopology, parent, n)
	}
	pi := indexOfNode(child.parents, n)
	if pi < 0 {
		return fmt.Errorf("%w: edge %s->%s is one-sided", ErrInvalidTopology, n, child)
	}

	parent.children[ci] = child
	child.parents[pi] = parent
	n.parents = nil
	n.children = nil

	n.logger.Debug().Int("parent", parent.id).Int("child", child.id).Msg("spliced node out")
	if n.tree != nil {
		return n.tree.disassociateLocked(n)
	}
	return nil
}

// InsertAsParent makes newNode the sole parent of this node: every existing
// parent is re-pointed to newNode in place (order preserved) and this node
// becomes newNode's only child. newNode must be fresh, with no edges of its
// own. Used to splice in adapter nodes, caching layers in particular,
// without disturbing the rest of the tree.
func (n *Node) InsertAsParent(newNode *Node) error {
	if newNode == nil {
		return fmt.Errorf("%w: nil node", ErrInvalidTopology)
	}
	if newNode == n {
		return fmt.Errorf("%w: %s cannot be its own parent", ErrInvalidTopology, n)
	}
	n.topoLock()
	defer n.topoUnlock()

	if len(newNode.children) != 0 || len(newNode.parents) != 0 {
		return fmt.Errorf("%w: inserted node %s already has edges", ErrInvalidTopology, newNode)
	}
	if n.tree != nil && newNode.tree != nil && newNode.tree != n.tree {
		return fmt.Errorf("%w: %s belongs to another tree", ErrInvalidTopology, newNode)
	}
	if n.tree != nil && newNode.tree == nil {
		if err := n.tree.associateLocked(newNode); err != nil {
			return err
		}
	}

	for _, p := range n.parents {
		ci := indexOfNode(p.children, n)
		if ci < 0 {
			return fmt.Errorf("%w: edge %s->%s is one-sided", ErrInvalidTopology, p, n)
		}
		p.children[ci] = newNode
		newNode.parents = append(newNode.parents, p)
	}
	newNode.children = []*Node{n}
	n.parents = []*Node{newNode}

	if n.tree != nil && n.tree.root == n {
		n.tree.root = newNode
	}
	n.logger.Debug().Int("inserted", newNode.id).Int("below", n.id).Msg("inserted parent")
	return nil
}

// Child returns the i-th child. An out-of-range index is a programming
// error and panics.
func (n *Node) Child(i int) *Node {
	n.topoRLock()
	defer n.topoRUnlock()
	if i < 0 || i >= len(n.children) {
		panic(fmt.Sprintf("tree: %s child index %d out of range [0,%d)", n, i, len(n.children)))
	}
	return n.children[i]
}

// Children returns a snapshot of the child sequence.
func (n *Node) Children() []*Node {
	n.topoRLock()
	defer n.topoRUnlock()
	out := make([]*Node, len(n.children))
	copy(out, n.children)
	return out
}

// Parents returns a snapshot of the parent back-references.
func (n *Node) Parents() []*Node {
	n.topoRLock()
	defer n.topoRUnlock()
	out := make([]*Node, len(n.parents))
	copy(out, n.parents)
	return out
}

// NumChildren returns the number of children.
func (n *Node) NumChildren() int {
	n.topoRLock()
	defer n.topoRUnlock()
	return len(n.children)
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool { return n.NumChildren() == 0 }

func indexOfNode(s []*Node, want *Node) int {
	for i, v := range s {
		if v == want {
			return i
		}
	}
	return -1
}

func removeNodeAt(s []*Node, i int) []*Node {
	return append(s[:i], s[i+1:]...)
}

// NumConsumers returns how many goroutines pop this node's output: the
// worker count of the nearest non-inlined ancestor, or one for the root,
// whose connector is popped by the tree iterator. Valid once topology is
// final.
func (n *Node) NumConsumers() int {
	n.topoRLock()
	defer n.topoRUnlock()
	p := n
	for len(p.parents) > 0 {
		p = p.parents[0]
		if !p.IsInlined() {
			if w := p.op.NumWorkers(); w > 0 {
				return w
			}
			return 1
		}
	}
	return 1
}

// CreateConnector allocates the output connector with explicit producer and
// consumer counts. Prepare calls this; it is exposed for ops that need a
// custom shape.
func (n *Node) CreateConnector(producers, consumers int) error {
	if n.IsInlined() {
		return fmt.Errorf("%w: inlined node %s takes no connector", ErrInvalidTopology, n)
	}
	c, err := connector.New(n.String(), producers, consumers, n.queueSize)
	if err != nil {
		return err
	}
	n.conn = c
	return nil
}

// Connector returns the output connector, nil before prepare or when
// inlined.
func (n *Node) Connector() *connector.Connector { return n.conn }

// ConnectorSize returns the number of buffers held by this node's output
// connector. Inlined nodes delegate to their single child.
func (n *Node) ConnectorSize() int {
	if n.IsInlined() {
		if n.NumChildren() == 0 {
			return 0
		}
		return n.Child(0).ConnectorSize()
	}
	if n.conn == nil {
		return 0
	}
	return n.conn.Size()
}

// ConnectorCapacity returns the total capacity of this node's output
// connector. Inlined nodes delegate to their single child.
func (n *Node) ConnectorCapacity() int {
	if n.IsInlined() {
		if n.NumChildren() == 0 {
			return 0
		}
		return n.Child(0).ConnectorCapacity()
	}
	if n.conn == nil {
		return 0
	}
	return n.conn.Capacity()
}

// ConnectorOutBufferCount returns the cumulative number of buffers popped
// from this node's connector, or -1 when it has none.
func (n *Node) ConnectorOutBufferCount() int64 {
	if n.conn == nil {
		return -1
	}
	return n.conn.OutBufferCount()
}

// GetNextBuffer pops the next buffer from the childIdx-th child, raw. An
// end-of-epoch marker is returned as-is unless retryOnEOE is set, in which
// case the marker is discarded and the pop retried, hiding single epoch
// boundaries from callers that want one continuous stream. Inlined children
// serve the fetch in this goroutine through their op's Fetcher.
func (n *Node) GetNextBuffer(childIdx, workerID int, retryOnEOE bool) (*buffer.Buffer, error) {
	child := n.Child(childIdx)
	for {
		b, err := child.fetchFrom(workerID, retryOnEOE)
		if err != nil {
			return nil, err
		}
		if b.IsEOE() && retryOnEOE {
			continue
		}
		return b, nil
	}
}

// fetchFrom produces the next buffer flowing out of this node, either by
// popping its connector or, for inlined nodes, by running the op's Fetcher
// in the caller's goroutine.
func (n *Node) fetchFrom(workerID int, retryOnEOE bool) (*buffer.Buffer, error) {
	if n.IsInlined() {
		f, ok := n.op.(Fetcher)
		if !ok {
			return nil, fmt.Errorf("%w: inlined op %s does not serve fetches", ErrInvalidTopology, n)
		}
		n.markRunning()
		b, err := f.GetNextBuffer(n, workerID, retryOnEOE)
		if err != nil {
			return nil, err
		}
		if b.IsEOF() {
			n.terminate()
		}
		return b, nil
	}
	if n.conn == nil {
		return nil, fmt.Errorf("%w: %s has no connector", ErrNotPrepared, n)
	}
	start := time.Now()
	b, err := n.conn.Pop(workerID)
	n.mFetch.Observe(time.Since(start).Seconds())
	return b, err
}

// GetNextInput is the managed fetch: it pops from the childIdx-th child and
// handles control markers in place. End-of-epoch markers run the node's EOE
// handling and the fetch continues; the end-of-stream marker runs the EOF
// handling and is returned so the caller can terminate its run loop.
func (n *Node) GetNextInput(childIdx, workerID int) (*buffer.Buffer, error) {
	for {
		b, err := n.GetNextBuffer(childIdx, workerID, false)
		if err != nil {
			return nil, err
		}
		if b.IsEOE() {
			if err := n.EOEReceived(workerID); err != nil {
				return nil, err
			}
			continue
		}
		if b.IsEOF() {
			if err := n.EOFReceived(workerID); err != nil {
				return nil, err
			}
		}
		return b, nil
	}
}

// Emit pushes a buffer into this node's output connector in the workerID-th
// producer slot.
func (n *Node) Emit(workerID int, b *buffer.Buffer) error {
	if n.conn == nil {
		return fmt.Errorf("%w: %s has no connector to emit into", ErrNotPrepared, n)
	}
	if err := n.conn.Push(workerID, b); err != nil {
		return err
	}
	n.mBuffers.Inc()
	if b.IsEOE() {
		n.mEpochs.Inc()
	}
	if nr := b.NumRows(); nr > 0 {
		n.mRows.Add(float64(nr))
	}
	return nil
}

// EOEReceived handles an end-of-epoch marker popped by this node's managed
// fetch. The default flows a fresh marker to the output; ops override via
// the EOEHandler capability to flush buffered state first.
func (n *Node) EOEReceived(workerID int) error {
	if h, ok := n.op.(EOEHandler); ok {
		return h.EOEReceived(n, workerID)
	}
	return n.Emit(workerID, buffer.NewEOE())
}

// EOFReceived handles the end-of-stream marker. The default flows a fresh
// marker to the output; ops override via the EOFHandler capability to flush
// and release resources first.
func (n *Node) EOFReceived(workerID int) error {
	if h, ok := n.op.(EOFHandler); ok {
		return h.EOFReceived(n, workerID)
	}
	return n.Emit(workerID, buffer.NewEOF())
}

// PrepareNodePreAction is the base top-down prepare step. The base itself
// has nothing to set up; it runs the op's PrePreparer hook when present.
func (n *Node) PrepareNodePreAction() error {
	if p, ok := n.op.(PrePreparer); ok {
		if err := p.PrepareNodePre(n); err != nil {
			return fmt.Errorf("prepare pre %s: %w", n, err)
		}
	}
	return nil
}

// PrepareNodePostAction is the base bottom-up prepare step: allocate the
// output connector, let parallel ops register their worker connectors,
// compute the column map, then run the op's PostPreparer hook.
func (n *Node) PrepareNodePostAction() error {
	if !n.IsInlined() {
		producers := n.op.NumWorkers()
		if producers < 1 {
			producers = 1
		}
		if err := n.CreateConnector(producers, n.NumConsumers()); err != nil {
			return fmt.Errorf("prepare post %s: %w", n, err)
		}
	}
	if r, ok := n.op.(WorkerConnectorRegistrar); ok {
		if err := r.RegisterWorkerConnectors(n); err != nil {
			return fmt.Errorf("prepare post %s: %w", n, err)
		}
	}
	if err := n.computeColumnMap(); err != nil {
		return fmt.Errorf("prepare post %s: %w", n, err)
	}
	if p, ok := n.op.(PostPreparer); ok {
		if err := p.PrepareNodePost(n); err != nil {
			return fmt.Errorf("prepare post %s: %w", n, err)
		}
	}
	return nil
}

// computeColumnMap fills the column map: the op's ColumnMapper when present,
// otherwise inherit the single child's map verbatim. Zero or several
// children without an override is an error; such ops must say what their
// columns are.
func (n *Node) computeColumnMap() error {
	if m, ok := n.op.(ColumnMapper); ok {
		cm, err := m.ComputeColumnMap(n)
		if err != nil {
			return err
		}
		n.setColumnMap(cm)
		return nil
	}
	if n.HasColumnMap() {
		n.logger.Warn().Msg("column map already set, keeping it")
		return nil
	}
	if n.NumChildren() != 1 {
		return fmt.Errorf("op %s has %d children and no column mapper", n, n.NumChildren())
	}
	child := n.Child(0)
	cm := child.ColumnNameMap()
	if len(cm) == 0 {
		return fmt.Errorf("child %s of %s has an empty column map", child, n)
	}
	n.setColumnMap(cm)
	return nil
}

func (n *Node) setColumnMap(m map[string]int) {
	n.colMu.Lock()
	defer n.colMu.Unlock()
	n.colMap = m
}

// ColumnNameMap returns a copy of the column-name to column-index mapping.
func (n *Node) ColumnNameMap() map[string]int {
	n.colMu.RLock()
	defer n.colMu.RUnlock()
	out := make(map[string]int, len(n.colMap))
	for k, v := range n.colMap {
		out[k] = v
	}
	return out
}

// HasColumnMap reports whether the column map has been computed and is
// non-empty.
func (n *Node) HasColumnMap() bool {
	n.colMu.RLock()
	defer n.colMu.RUnlock()
	return len(n.colMap) > 0
}

// Reset restores this node for a fresh pass over the data. The base is a
// no-op; stateful ops hook in through the Resetter capability.
func (n *Node) Reset() error {
	if r, ok := n.op.(Resetter); ok {
		if err := r.Reset(n); err != nil {
			return fmt.Errorf("reset %s: %w", n, err)
		}
	}
	return nil
}

// ResetSubtree resets this node and every node below it, pre-order.
func (n *Node) ResetSubtree() error {
	if err := n.Reset(); err != nil {
		return err
	}
	for _, c := range n.Children() {
		if err := c.ResetSubtree(); err != nil {
			return err
		}
	}
	return nil
}

// SaveSamplerForCache registers this leaf's sampler with the nearest
// ancestor cache layer, when one exists. Random-access leaves hand the
// sampler over and fall back to a plain sequential scan, letting the cache
// replay rows by id in sampler order; sequential-only leaves register with
// randomAccess false and the cache replays by scan order. Without a cache
// ancestor this does nothing.
func (n *Node) SaveSamplerForCache(randomAccess bool) error {
	n.topoRLock()
	var sc SamplerCache
	for p := n; len(p.parents) > 0; {
		p = p.parents[0]
		if c, ok := p.op.(SamplerCache); ok {
			sc = c
			break
		}
	}
	n.topoRUnlock()
	if sc == nil {
		return nil
	}
	if err := sc.CacheSampler(n.smp, randomAccess); err != nil {
		return err
	}
	if randomAccess {
		n.logger.Debug().Msg("sampler moved to cache, leaf scans sequentially")
		n.SetSampler(sampler.NewSequential(0, 1))
	}
	return nil
}
