// Package opt holds tree rewrite passes that run between building a pipeline
// and preparing it: cache injection over random-access leaves and pruning of
// structural no-ops.
package opt

import (
	"errors"

	"github.com/tarungka/weave/cache"
	"github.com/tarungka/weave/ops"
	"github.com/tarungka/weave/tree"
)

// InjectCachePass wraps every random-access leaf in a cache layer so repeats
// replay rows from the store instead of re-running the leaf.
type InjectCachePass struct {
	// NewClient supplies a fresh backing store per injected layer. Row ids
	// from different leaves would collide in a shared store.
	NewClient func() (*cache.Client, error)

	BatchRows int
	QueueSize int

	// Injected counts the layers this pass added.
	Injected int
}

func (p *InjectCachePass) PreVisit(n *tree.Node) (bool, error) { return false, nil }

func (p *InjectCachePass) Visit(n *tree.Node) (bool, error) { return false, nil }

// VisitGenerator wraps the leaf unless a cache already sits directly above.
func (p *InjectCachePass) VisitGenerator(n *tree.Node, op *ops.GeneratorOp) (bool, error) {
	for _, parent := range n.Parents() {
		if _, ok := parent.Op().(*ops.CacheOp); ok {
			return false, nil
		}
	}
	if p.NewClient == nil {
		return false, errors.New("opt: cache injection needs a store factory")
	}
	client, err := p.NewClient()
	if err != nil {
		return false, err
	}
	cacheN, err := ops.NewCache(ops.CacheOpConfig{
		Client:    client,
		BatchRows: p.BatchRows,
		QueueSize: p.QueueSize,
	})
	if err != nil {
		return false, err
	}
	if err := n.InsertAsParent(cacheN); err != nil {
		return false, err
	}
	p.Injected++
	return true, nil
}
