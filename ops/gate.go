package ops

import (
	"context"
	"sync"
)

// epochGate parks an epoch source between passes. resume re-arms it for one
// more pass; release ends it for good. The reset token is buffered so resume
// may fire before the source actually reaches the gate.
type epochGate struct {
	resetCh   chan struct{}
	releaseCh chan struct{}
	once      sync.Once
}

func newEpochGate() *epochGate {
	return &epochGate{
		resetCh:   make(chan struct{}, 1),
		releaseCh: make(chan struct{}),
	}
}

func (g *epochGate) resume() {
	select {
	case g.resetCh <- struct{}{}:
	default:
	}
}

// release is idempotent.
func (g *epochGate) release() {
	g.once.Do(func() { close(g.releaseCh) })
}

// wait blocks until the gate is resumed (true), released (false) or the
// context ends.
func (g *epochGate) wait(ctx context.Context) (bool, error) {
	select {
	case <-g.resetCh:
		return true, nil
	case <-g.releaseCh:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
