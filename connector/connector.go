// Package connector provides the bounded FIFO channel that links a producing
// node to its consuming parent. A connector keeps one queue per producer and
// merges them with a strict round-robin discipline, so the interleave seen by
// consumers depends only on what each producer pushed, never on goroutine
// timing. Control markers (EOE, EOF) act as barriers: the connector waits for
// one copy from every producer, coalesces them, and delivers exactly one copy
// to every consumer.
package connector

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/tarungka/weave/buffer"
	"github.com/tarungka/weave/internal/logger"
)

var (
	// ErrInterrupted is returned from Push and Pop after Interrupt has been
	// called with no cause of its own.
	ErrInterrupted = errors.New("connector: interrupted")
)

// Connector is a bounded multi-producer multi-consumer buffer channel.
//
// Producers own one queue each; Push blocks while the producer's queue is
// full. Consumers take strict turns; Pop blocks until it is the calling
// consumer's turn and the next queue in the producer rotation has a buffer.
// A queue whose head is a control marker is parked until every queue is
// parked, at which point the markers are coalesced and fanned out, one copy
// per consumer.
type Connector struct {
	name string

	mu   sync.Mutex
	cond *sync.Cond

	queues   [][]*buffer.Buffer
	capacity int // per producer queue

	producers int
	consumers int

	expectConsumer int    // whose turn the next pop is
	popFrom        int    // producer queue the rotation serves next
	parked         []bool // queue head is a marker awaiting alignment

	marker       *buffer.Buffer // coalesced marker being fanned out
	markerServed int            // consumers served so far

	outCount atomic.Int64

	intMu  sync.Mutex
	intErr error

	logger zerolog.Logger
}

// New creates a connector with the given producer and consumer counts and a
// per-producer queue capacity. Counts and capacity must be at least one; an
// inlined node expresses "capacity zero" by having no connector at all.
func New(name string, producers, consumers, capacity int) (*Connector, error) {
	if producers < 1 || consumers < 1 {
		return nil, fmt.Errorf("connector %q: need at least one producer and one consumer, got %d/%d", name, producers, consumers)
	}
	if capacity < 1 {
		return nil, fmt.Errorf("connector %q: capacity must be positive, got %d", name, capacity)
	}
	c := &Connector{
		name:      name,
		queues:    make([][]*buffer.Buffer, producers),
		capacity:  capacity,
		producers: producers,
		consumers: consumers,
		parked:    make([]bool, producers),
		logger:    logger.GetLogger("connector").With().Str("connector", name).Logger(),
	}
	c.cond = sync.NewCond(&c.mu)
	c.logger.Debug().Int("producers", producers).Int("consumers", consumers).Int("capacity", capacity).Msg("created connector")
	return c, nil
}

// Name returns the connector's name.
func (c *Connector) Name() string { return c.name }

// Push appends a buffer to the producer's queue, blocking while the queue is
// full. It returns the interrupt cause once the connector is interrupted.
func (c *Connector) Push(producerID int, b *buffer.Buffer) error {
	if producerID < 0 || producerID >= c.producers {
		return fmt.Errorf("connector %q: producer id %d out of range [0,%d)", c.name, producerID, c.producers)
	}
	if b == nil {
		return fmt.Errorf("connector %q: nil buffer", c.name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.queues[producerID]) >= c.capacity {
		if err := c.interrupted(); err != nil {
			return err
		}
		c.cond.Wait()
	}
	if err := c.interrupted(); err != nil {
		return err
	}
	c.queues[producerID] = append(c.queues[producerID], b)
	c.cond.Broadcast()
	return nil
}

// Pop removes and returns the next buffer for the given consumer. It blocks
// until it is this consumer's turn and a buffer is available, and returns the
// interrupt cause once the connector is interrupted.
func (c *Connector) Pop(consumerID int) (*buffer.Buffer, error) {
	if consumerID < 0 || consumerID >= c.consumers {
		return nil, fmt.Errorf("connector %q: consumer id %d out of range [0,%d)", c.name, consumerID, c.consumers)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		if err := c.interrupted(); err != nil {
			return nil, err
		}

		if c.expectConsumer != consumerID {
			c.cond.Wait()
			continue
		}

		// Marker fan-out takes priority over data.
		if c.marker != nil {
			return c.serveMarker(), nil
		}

		if c.allParked() {
			c.coalesceMarkers()
			return c.serveMarker(), nil
		}

		i := c.popFrom
		if c.parked[i] {
			c.popFrom = (c.popFrom + 1) % c.producers
			continue
		}
		if len(c.queues[i]) == 0 {
			c.cond.Wait()
			continue
		}

		head := c.queues[i][0]
		if !head.IsData() {
			c.parked[i] = true
			c.popFrom = (c.popFrom + 1) % c.producers
			continue
		}

		c.queues[i] = c.queues[i][1:]
		c.popFrom = (c.popFrom + 1) % c.producers
		c.advanceTurn()
		c.outCount.Add(1)
		c.cond.Broadcast()
		return head, nil
	}
}

// serveMarker hands the pending marker to the consumer whose turn it is.
// Callers hold c.mu and have checked c.marker != nil or just coalesced.
func (c *Connector) serveMarker() *buffer.Buffer {
	m := c.marker
	c.markerServed++
	if c.markerServed == c.consumers {
		c.marker = nil
		c.markerServed = 0
	}
	c.advanceTurn()
	c.outCount.Add(1)
	c.cond.Broadcast()
	return m
}

// coalesceMarkers consumes the aligned marker column. EOF wins if the heads
// disagree, which only happens when a producer failed mid-epoch. Callers
// hold c.mu.
func (c *Connector) coalesceMarkers() {
	m := c.queues[0][0]
	for i := range c.queues {
		if c.queues[i][0].IsEOF() {
			m = c.queues[i][0]
		}
		c.queues[i] = c.queues[i][1:]
		c.parked[i] = false
	}
	c.marker = m
	c.markerServed = 0
}

func (c *Connector) allParked() bool {
	for _, p := range c.parked {
		if !p {
			return false
		}
	}
	return true
}

func (c *Connector) advanceTurn() {
	c.expectConsumer = (c.expectConsumer + 1) % c.consumers
}

func (c *Connector) interrupted() error {
	c.intMu.Lock()
	defer c.intMu.Unlock()
	return c.intErr
}

// Interrupt wakes every blocked producer and consumer. They, and all later
// calls, fail with cause, or ErrInterrupted when cause is nil. The first
// cause wins; repeated interrupts are no-ops.
func (c *Connector) Interrupt(cause error) {
	if cause == nil {
		cause = ErrInterrupted
	}
	c.intMu.Lock()
	if c.intErr != nil {
		c.intMu.Unlock()
		return
	}
	c.intErr = cause
	c.intMu.Unlock()

	c.logger.Debug().Err(cause).Msg("interrupting connector")
	c.mu.Lock()
	c.cond.Broadcast()
	c.mu.Unlock()
}

// Reset drops all buffered data and re-arms an interrupted connector so the
// tree can be run again.
func (c *Connector) Reset() {
	c.intMu.Lock()
	c.intErr = nil
	c.intMu.Unlock()

	c.mu.Lock()
	for i := range c.queues {
		c.queues[i] = nil
		c.parked[i] = false
	}
	c.marker = nil
	c.markerServed = 0
	c.expectConsumer = 0
	c.popFrom = 0
	c.mu.Unlock()
	c.logger.Trace().Msg("reset connector")
}

// Size returns the number of buffers currently held.
func (c *Connector) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, q := range c.queues {
		n += len(q)
	}
	if c.marker != nil {
		n++
	}
	return n
}

// Capacity returns the total capacity across producer queues.
func (c *Connector) Capacity() int {
	return c.capacity * c.producers
}

// OutBufferCount returns the cumulative number of buffers popped.
func (c *Connector) OutBufferCount() int64 {
	return c.outCount.Load()
}
