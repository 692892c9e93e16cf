package ops

import "github.com/tarungka/weave/tree"

// Type-specific visitor interfaces. A rewrite pass that cares about one op
// kind implements the matching interface; the op's Accept downcasts the pass
// and falls back to its generic Visit.

// RepeatVisitor handles repeat nodes during the upward visit.
type RepeatVisitor interface {
	VisitRepeat(n *tree.Node, op *RepeatOp) (bool, error)
}

// ProjectVisitor handles project nodes during the upward visit.
type ProjectVisitor interface {
	VisitProject(n *tree.Node, op *ProjectOp) (bool, error)
}

// GeneratorVisitor handles generator leaves during the upward visit.
type GeneratorVisitor interface {
	VisitGenerator(n *tree.Node, op *GeneratorOp) (bool, error)
}

func (o *RepeatOp) Accept(n *tree.Node, p tree.Pass) (bool, error) {
	if v, ok := p.(RepeatVisitor); ok {
		return v.VisitRepeat(n, o)
	}
	return p.Visit(n)
}

func (o *ProjectOp) Accept(n *tree.Node, p tree.Pass) (bool, error) {
	if v, ok := p.(ProjectVisitor); ok {
		return v.VisitProject(n, o)
	}
	return p.Visit(n)
}

func (o *GeneratorOp) Accept(n *tree.Node, p tree.Pass) (bool, error) {
	if v, ok := p.(GeneratorVisitor); ok {
		return v.VisitGenerator(n, o)
	}
	return p.Visit(n)
}
