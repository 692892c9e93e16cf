package tree

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tarungka/weave/connector"
	"github.com/tarungka/weave/internal/logger"
	"github.com/tarungka/weave/metrics"
)

// TreeState tracks where a tree is in its lifecycle.
type TreeState int32

const (
	TreeBuilding TreeState = iota
	TreePrepared
	TreeExecuting
	TreeFinished
	TreeFailed
)

func (s TreeState) String() string {
	switch s {
	case TreeBuilding:
		return "building"
	case TreePrepared:
		return "prepared"
	case TreeExecuting:
		return "executing"
	case TreeFinished:
		return "finished"
	case TreeFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Tree owns the nodes of one execution tree. It is the only entity that
// assigns node ids and back-references, drives the two-phase prepare, spawns
// the worker goroutines and fans a shutdown out to every connector so no
// sibling stays blocked after a failure.
type Tree struct {
	runID  uuid.UUID
	logger zerolog.Logger

	// topoMu guards every node's child/parent edges and the registry. All
	// node mutation and edge reads go through it once a node is attached.
	topoMu   sync.RWMutex
	registry map[int]*Node
	nextID   int
	root     *Node

	state atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc

	wg sync.WaitGroup

	errMu  sync.Mutex
	runErr error

	shutdownOnce sync.Once
}

// New creates an empty tree in the building state.
func New() *Tree {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.New()
	return &Tree{
		runID:    id,
		logger:   logger.GetLogger("tree").With().Str("run_id", id.String()).Logger(),
		registry: make(map[int]*Node),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// RunID returns the unique id of this tree instance.
func (t *Tree) RunID() uuid.UUID { return t.runID }

// State returns the tree's lifecycle state.
func (t *Tree) State() TreeState { return TreeState(t.state.Load()) }

func (t *Tree) setState(s TreeState) { t.state.Store(int32(s)) }

// Context returns a context cancelled on shutdown. Leaf ops that poll
// external systems observe it.
func (t *Tree) Context() context.Context { return t.ctx }

// Done returns a channel closed on shutdown, for ops parked on internal
// signals.
func (t *Tree) Done() <-chan struct{} { return t.ctx.Done() }

// Associate assigns n (and every node reachable below it) an id and the
// back-reference to this tree. Nodes already associated elsewhere fail with
// ErrInvalidTopology.
func (t *Tree) Associate(n *Node) error {
	if n == nil {
		return fmt.Errorf("%w: nil node", ErrInvalidTopology)
	}
	t.topoMu.Lock()
	defer t.topoMu.Unlock()
	return t.associateLocked(n)
}

// associateLocked walks n's subtree assigning ids. Callers hold topoMu.
func (t *Tree) associateLocked(n *Node) error {
	if n.tree == t {
		return nil
	}
	if n.tree != nil {
		return fmt.Errorf("%w: %s already belongs to another tree", ErrInvalidTopology, n)
	}
	n.id = t.nextID
	t.nextID++
	n.tree = t
	n.logger = n.logger.With().Int("id", n.id).Logger()
	t.registry[n.id] = n
	n.logger.Debug().Msg("associated node")
	for _, c := range n.children {
		if err := t.associateLocked(c); err != nil {
			return err
		}
	}
	return nil
}

// disassociateLocked removes a fully detached node from the registry and
// clears its identity. Callers hold topoMu.
func (t *Tree) disassociateLocked(n *Node) error {
	if n.tree != t {
		return fmt.Errorf("%w: %s is not in this tree", ErrNotFound, n)
	}
	if len(n.parents) != 0 || len(n.children) != 0 {
		return fmt.Errorf("%w: %s still has edges", ErrInvalidTopology, n)
	}
	delete(t.registry, n.id)
	if t.root == n {
		t.root = nil
	}
	n.logger.Debug().Msg("disassociated node")
	n.id = InvalidID
	n.tree = nil
	return nil
}

// AssignRoot associates n's subtree and makes n the root.
func (t *Tree) AssignRoot(n *Node) error {
	if err := t.Associate(n); err != nil {
		return err
	}
	t.topoMu.Lock()
	defer t.topoMu.Unlock()
	t.root = n
	return nil
}

// Root returns the root node, nil until assigned.
func (t *Tree) Root() *Node {
	t.topoMu.RLock()
	defer t.topoMu.RUnlock()
	return t.root
}

// Lookup returns the node with the given id.
func (t *Tree) Lookup(id int) (*Node, bool) {
	t.topoMu.RLock()
	defer t.topoMu.RUnlock()
	n, ok := t.registry[id]
	return n, ok
}

// NumNodes returns how many nodes are associated with the tree.
func (t *Tree) NumNodes() int {
	t.topoMu.RLock()
	defer t.topoMu.RUnlock()
	return len(t.registry)
}

// nodes returns a registry snapshot.
func (t *Tree) nodes() []*Node {
	t.topoMu.RLock()
	defer t.topoMu.RUnlock()
	out := make([]*Node, 0, len(t.registry))
	for _, n := range t.registry {
		out = append(out, n)
	}
	return out
}

// Optimize runs the given rewrite passes over the tree, in order. Structural
// rewrites happen between runs only; a prepared or executing tree rejects
// them with ErrTreeActive.
func (t *Tree) Optimize(passes ...Pass) error {
	if t.State() != TreeBuilding {
		return fmt.Errorf("%w: optimize needs a building tree, state is %s", ErrTreeActive, t.State())
	}
	root := t.Root()
	if root == nil {
		return fmt.Errorf("%w: no root assigned", ErrInvalidTopology)
	}
	for _, p := range passes {
		modified, err := Walk(root, p)
		if err != nil {
			return fmt.Errorf("tree: optimize pass %T: %w", p, err)
		}
		t.logger.Debug().Str("pass", fmt.Sprintf("%T", p)).Bool("modified", modified).Msg("ran optimize pass")
		// A pass may have replaced the root.
		root = t.Root()
		if root == nil {
			return fmt.Errorf("%w: pass %T removed the root", ErrInvalidTopology, p)
		}
	}
	return nil
}

// Prepare drives the two-phase setup: PrepareNodePreAction top-down (root to
// leaves) before any worker exists, then PrepareNodePostAction bottom-up
// (leaves to root) once the topology is final. After Prepare the tree is
// ready to launch.
func (t *Tree) Prepare() error {
	if t.State() != TreeBuilding {
		return fmt.Errorf("%w: prepare needs a building tree, state is %s", ErrTreeActive, t.State())
	}
	root := t.Root()
	if root == nil {
		return fmt.Errorf("%w: no root assigned", ErrInvalidTopology)
	}
	if root.IsInlined() {
		return fmt.Errorf("%w: root %s is inlined, the iterator needs its connector", ErrInvalidTopology, root)
	}
	if err := prepareNodePre(root); err != nil {
		return err
	}
	if err := prepareNodePost(root); err != nil {
		return err
	}
	t.setState(TreePrepared)
	t.logger.Info().Int("nodes", t.NumNodes()).Str("crc", fmt.Sprintf("%08x", GenerateCRC(root))).Msg("tree prepared")
	return nil
}

func prepareNodePre(n *Node) error {
	if err := n.PrepareNodePreAction(); err != nil {
		return err
	}
	for _, c := range n.Children() {
		if err := prepareNodePre(c); err != nil {
			return err
		}
	}
	return nil
}

func prepareNodePost(n *Node) error {
	for _, c := range n.Children() {
		if err := prepareNodePost(c); err != nil {
			return err
		}
	}
	return n.PrepareNodePostAction()
}

// Launch spawns the worker goroutines, leaves first so consumers find their
// producers already live. Inlined ops get no workers of their own.
func (t *Tree) Launch() error {
	if t.State() != TreePrepared {
		return fmt.Errorf("%w: launch needs a prepared tree, state is %s", ErrTreeActive, t.State())
	}
	root := t.Root()
	if root == nil {
		return fmt.Errorf("%w: no root assigned", ErrInvalidTopology)
	}
	t.setState(TreeExecuting)
	t.launchNode(root)
	t.logger.Info().Msg("tree executing")
	return nil
}

func (t *Tree) launchNode(n *Node) {
	for _, c := range n.Children() {
		t.launchNode(c)
	}
	w := n.op.NumWorkers()
	if w < 1 {
		return
	}
	n.workersLeft.Store(int32(w))
	for id := 0; id < w; id++ {
		t.wg.Add(1)
		go t.runWorker(n, id)
	}
}

func (t *Tree) runWorker(n *Node, workerID int) {
	defer t.wg.Done()
	n.markRunning()
	err := n.op.Run(n, workerID)
	switch {
	case err == nil:
		n.logger.Trace().Int("worker", workerID).Msg("worker done")
	case errors.Is(err, connector.ErrInterrupted), errors.Is(err, context.Canceled):
		// A graceful stop tears the connectors down under blocked workers.
		n.logger.Debug().Int("worker", workerID).Msg("worker stopped")
	default:
		if prior := t.Err(); prior != nil && errors.Is(err, prior) {
			// Unblocked by another op's failure; that one is already recorded.
			n.logger.Debug().Int("worker", workerID).Msg("worker stopped")
			break
		}
		opErr := &OpError{Op: n.op.Name(), ID: n.id, Worker: workerID, Err: err}
		n.logger.Error().Err(err).Int("worker", workerID).Msg("worker failed")
		metrics.OpErrors.WithLabelValues(n.op.Name()).Inc()
		t.fail(opErr)
	}
	if n.workersLeft.Add(-1) == 0 {
		n.terminate()
	}
}

// fail records the first fatal error and tears the run down.
func (t *Tree) fail(err error) {
	t.errMu.Lock()
	if t.runErr == nil {
		t.runErr = err
	}
	t.errMu.Unlock()
	t.Shutdown(err)
}

// Err returns the first fatal error of the run, nil so far.
func (t *Tree) Err() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.runErr
}

// Shutdown tears the run down: it cancels the tree context (waking parked
// epoch sources and polling leaves), interrupts every connector (waking
// blocked producers and consumers) and marks every node terminated. A nil
// cause is a graceful stop after end-of-stream; a non-nil cause is recorded
// and surfaced by Wait. Idempotent; the first cause wins.
func (t *Tree) Shutdown(cause error) {
	t.shutdownOnce.Do(func() {
		if cause != nil {
			t.errMu.Lock()
			if t.runErr == nil {
				t.runErr = cause
			}
			t.errMu.Unlock()
			t.logger.Warn().Err(cause).Msg("shutting down tree")
		} else {
			t.logger.Debug().Msg("shutting down tree")
		}
		t.cancel()
		for _, n := range t.nodes() {
			if n.conn != nil {
				n.conn.Interrupt(cause)
			}
			n.terminate()
		}
	})
}

// Wait blocks until every worker has exited, then reports the run outcome:
// nil and a finished tree after clean end-of-stream, the first fatal error
// and a failed tree otherwise.
func (t *Tree) Wait() error {
	t.wg.Wait()
	err := t.Err()
	if err != nil {
		t.setState(TreeFailed)
		t.logger.Error().Err(err).Msg("tree failed")
		return err
	}
	t.setState(TreeFinished)
	t.logger.Info().Msg("tree finished")
	return nil
}
