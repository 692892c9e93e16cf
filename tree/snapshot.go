package tree

import "fmt"

// NodeSnapshot is a point-in-time view of one node, safe to serialize.
type NodeSnapshot struct {
	ID                int    `json:"id"`
	Name              string `json:"name"`
	State             string `json:"state"`
	Workers           int    `json:"workers"`
	Inlined           bool   `json:"inlined"`
	Leaf              bool   `json:"leaf"`
	ConnectorSize     int    `json:"connector_size"`
	ConnectorCapacity int    `json:"connector_capacity"`
	OutBuffers        int64  `json:"out_buffers"`
	Children          []int  `json:"children"`
}

// TreeSnapshot is a point-in-time view of the whole tree, used by the debug
// HTTP endpoints.
type TreeSnapshot struct {
	RunID string         `json:"run_id"`
	State string         `json:"state"`
	CRC   string         `json:"crc"`
	Nodes []NodeSnapshot `json:"nodes"`
}

// Snapshot captures the tree for inspection. Sizes and states are sampled
// individually, so concurrent execution may yield a slightly torn but always
// well-formed view.
func (t *Tree) Snapshot() TreeSnapshot {
	snap := TreeSnapshot{
		RunID: t.runID.String(),
		State: t.State().String(),
	}
	root := t.Root()
	if root != nil {
		snap.CRC = fmt.Sprintf("%08x", GenerateCRC(root))
		collectSnapshot(root, &snap)
	}
	return snap
}

func collectSnapshot(n *Node, snap *TreeSnapshot) {
	children := n.Children()
	ids := make([]int, len(children))
	for i, c := range children {
		ids[i] = c.ID()
	}
	snap.Nodes = append(snap.Nodes, NodeSnapshot{
		ID:                n.ID(),
		Name:              n.op.Name(),
		State:             n.State().String(),
		Workers:           n.op.NumWorkers(),
		Inlined:           n.IsInlined(),
		Leaf:              len(children) == 0,
		ConnectorSize:     n.ConnectorSize(),
		ConnectorCapacity: n.ConnectorCapacity(),
		OutBuffers:        n.ConnectorOutBufferCount(),
		Children:          ids,
	})
	for _, c := range children {
		collectSnapshot(c, snap)
	}
}

// NodeSnapshotByID captures a single node's view, for the per-node endpoint.
func (t *Tree) NodeSnapshotByID(id int) (NodeSnapshot, bool) {
	n, ok := t.Lookup(id)
	if !ok {
		return NodeSnapshot{}, false
	}
	children := n.Children()
	ids := make([]int, len(children))
	for i, c := range children {
		ids[i] = c.ID()
	}
	return NodeSnapshot{
		ID:                n.ID(),
		Name:              n.op.Name(),
		State:             n.State().String(),
		Workers:           n.op.NumWorkers(),
		Inlined:           n.IsInlined(),
		Leaf:              len(children) == 0,
		ConnectorSize:     n.ConnectorSize(),
		ConnectorCapacity: n.ConnectorCapacity(),
		OutBuffers:        n.ConnectorOutBufferCount(),
		Children:          ids,
	}, true
}
