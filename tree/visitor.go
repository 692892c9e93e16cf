package tree

// Pass is a tree-rewrite pass. PreVisit runs top-down on the way into a
// node's subtree, Visit runs bottom-up on the way out; both report whether
// they modified the tree. These are the generic hooks; ops that want
// type-specific treatment implement PreAcceptor/Acceptor and downcast the
// pass to their own visitor interface (double dispatch).
type Pass interface {
	PreVisit(n *Node) (modified bool, err error)
	Visit(n *Node) (modified bool, err error)
}

// PreAccept dispatches the downward visit: to the op's PreAcceptor when it
// has one, otherwise to the pass's generic PreVisit.
func (n *Node) PreAccept(p Pass) (bool, error) {
	if a, ok := n.op.(PreAcceptor); ok {
		return a.PreAccept(n, p)
	}
	return p.PreVisit(n)
}

// Accept dispatches the upward visit: to the op's Acceptor when it has one,
// otherwise to the pass's generic Visit.
func (n *Node) Accept(p Pass) (bool, error) {
	if a, ok := n.op.(Acceptor); ok {
		return a.Accept(n, p)
	}
	return p.Visit(n)
}

// Walk runs one full pass over the subtree rooted at n: PreAccept on every
// node top-down, then Accept on every node bottom-up, depth first. The child
// list is snapshotted before descending, so a pass may rewrite nodes it has
// already visited (splice itself out, wrap a visited child) without breaking
// the traversal; rewriting not-yet-visited siblings or ancestors mid-walk is
// outside the visitor contract. Returns whether any visit reported a
// modification.
func Walk(n *Node, p Pass) (bool, error) {
	modified, err := n.PreAccept(p)
	if err != nil {
		return modified, err
	}
	for _, c := range n.Children() {
		m, err := Walk(c, p)
		modified = modified || m
		if err != nil {
			return modified, err
		}
	}
	m, err := n.Accept(p)
	return modified || m, err
}
