// Package ops provides the operators that run inside an execution tree:
// leaves that produce rows (generator, kafka reader), row transforms (map,
// batch, shuffle, project), sinks (save), epoch control (repeat) and the row
// cache layer. Each op plugs into the tree.Op contract and implements only
// the capabilities it needs.
package ops

import (
	"github.com/tarungka/weave/tree"
)

const defaultQueueSize = 16

func queueOrDefault(v int) int {
	if v <= 0 {
		return defaultQueueSize
	}
	return v
}

// epochSource is implemented by ops that park at epoch boundaries under a
// repeat. Resuming goes through the Resetter capability; release is the
// terminal signal after the last pass.
type epochSource interface {
	releaseEpochs()
}

// markEpochSources flags the epoch sources below a repeat: leaves, and cache
// layers. A cache shields its subtree: the wrapped chain runs one build pass
// and is never marked or reset.
func markEpochSources(n *tree.Node, outermost bool) {
	for _, c := range n.Children() {
		markEpochSourcesRec(c, outermost)
	}
}

func markEpochSourcesRec(n *tree.Node, outermost bool) {
	_, shield := n.Op().(tree.SamplerCache)
	if shield || n.IsLeaf() {
		n.SetControlFlag(tree.CtrlRepeated)
		if outermost {
			n.SetControlFlag(tree.CtrlLastRepeat)
		}
		if shield {
			return
		}
	}
	for _, c := range n.Children() {
		markEpochSourcesRec(c, outermost)
	}
}

// releaseEpochSources ends every epoch source below the repeat; released
// sources emit the terminal end-of-stream marker and exit.
func releaseEpochSources(n *tree.Node) {
	for _, c := range n.Children() {
		releaseEpochSourcesRec(c)
	}
}

func releaseEpochSourcesRec(n *tree.Node) {
	if src, ok := n.Op().(epochSource); ok {
		src.releaseEpochs()
	}
	if _, shield := n.Op().(tree.SamplerCache); shield {
		return
	}
	for _, c := range n.Children() {
		releaseEpochSourcesRec(c)
	}
}

// resetForNextPass re-arms the subtree under a repeat for one more pass,
// stopping below cache layers (their subtrees replay from the store, not from
// a fresh run).
func resetForNextPass(n *tree.Node) error {
	for _, c := range n.Children() {
		if err := resetNodeRec(c); err != nil {
			return err
		}
	}
	return nil
}

func resetNodeRec(n *tree.Node) error {
	if err := n.Reset(); err != nil {
		return err
	}
	if _, shield := n.Op().(tree.SamplerCache); shield {
		return nil
	}
	for _, c := range n.Children() {
		if err := resetNodeRec(c); err != nil {
			return err
		}
	}
	return nil
}

// hasRepeatAncestor reports whether n sits under another repeat, walking
// primary parents toward the root.
func hasRepeatAncestor(n *tree.Node) bool {
	for p := n.Parents(); len(p) > 0; p = p[0].Parents() {
		if _, ok := p[0].Op().(*RepeatOp); ok {
			return true
		}
	}
	return false
}
