package opt

import (
	"errors"

	"github.com/tarungka/weave/ops"
	"github.com/tarungka/weave/tree"
)

// PrunePass splices out structural no-ops: repeats that run a single pass and
// identity projections. The spliced node's child takes its place, so the
// stream the consumer sees is unchanged.
type PrunePass struct {
	// Removed counts the nodes this pass spliced out.
	Removed int
}

func (p *PrunePass) PreVisit(n *tree.Node) (bool, error) { return false, nil }

func (p *PrunePass) Visit(n *tree.Node) (bool, error) { return false, nil }

func (p *PrunePass) VisitRepeat(n *tree.Node, op *ops.RepeatOp) (bool, error) {
	if op.Count() > 1 {
		return false, nil
	}
	return p.splice(n)
}

func (p *PrunePass) VisitProject(n *tree.Node, op *ops.ProjectOp) (bool, error) {
	if !op.IsIdentity() {
		return false, nil
	}
	return p.splice(n)
}

func (p *PrunePass) splice(n *tree.Node) (bool, error) {
	if err := n.Remove(); err != nil {
		// Root and fan-in shapes cannot splice; leave them in place.
		if errors.Is(err, tree.ErrInvalidTopology) {
			return false, nil
		}
		return false, err
	}
	p.Removed++
	return true, nil
}
