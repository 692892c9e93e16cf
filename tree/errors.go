package tree

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTopology is returned when a mutation would break the tree
	// shape: cycles, duplicate edges, cross-tree links, or a splice on a
	// node with more than one parent or child.
	ErrInvalidTopology = errors.New("tree: invalid topology")

	// ErrNotFound is returned when a node or edge does not exist.
	ErrNotFound = errors.New("tree: not found")

	// ErrTreeActive is returned when a mutation or optimize runs against a
	// tree that is executing. Topology changes happen between runs.
	ErrTreeActive = errors.New("tree: tree is executing")

	// ErrNotPrepared is returned when a run-time operation needs connectors
	// or column maps that only Prepare builds.
	ErrNotPrepared = errors.New("tree: tree is not prepared")

	// ErrEndOfStream is returned by iterators after the end-of-stream
	// marker has been delivered.
	ErrEndOfStream = errors.New("tree: end of stream")

	// ErrProtocol is returned when control markers arrive out of order, such
	// as a stream ending without closing its epoch.
	ErrProtocol = errors.New("tree: control marker protocol violation")
)

// OpError carries a failure out of an operator's run loop, keeping the
// operator's identity with the cause.
type OpError struct {
	Op     string
	ID     int
	Worker int
	Err    error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("tree: op %s(id=%d) worker %d: %v", e.Op, e.ID, e.Worker, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }
