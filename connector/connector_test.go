package connector

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarungka/weave/buffer"
)

func dataBuf(seq int64) *buffer.Buffer {
	return buffer.New(seq, []buffer.Row{{ID: seq, Cols: [][]byte{[]byte("x")}}})
}

func TestConnector_FIFOOrder(t *testing.T) {
	c, err := New("fifo", 1, 1, 8)
	require.NoError(t, err)

	for i := int64(0); i < 5; i++ {
		require.NoError(t, c.Push(0, dataBuf(i)))
	}
	require.NoError(t, c.Push(0, buffer.NewEOE()))
	require.NoError(t, c.Push(0, buffer.NewEOF()))

	for i := int64(0); i < 5; i++ {
		b, err := c.Pop(0)
		require.NoError(t, err)
		assert.Equal(t, i, b.Seq())
	}
	b, err := c.Pop(0)
	require.NoError(t, err)
	assert.True(t, b.IsEOE())
	b, err = c.Pop(0)
	require.NoError(t, err)
	assert.True(t, b.IsEOF())

	assert.Equal(t, int64(7), c.OutBufferCount())
}

// Two producers racing with sleeps must still merge in strict queue rotation,
// with the epoch marker delivered once after both queues drained.
func TestConnector_DeterministicMerge(t *testing.T) {
	c, err := New("merge", 2, 1, 8)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, c.Push(0, dataBuf(100)))
		time.Sleep(20 * time.Millisecond)
		assert.NoError(t, c.Push(0, buffer.NewEOE()))
	}()
	go func() {
		defer wg.Done()
		time.Sleep(10 * time.Millisecond)
		assert.NoError(t, c.Push(1, dataBuf(200)))
		assert.NoError(t, c.Push(1, dataBuf(201)))
		assert.NoError(t, c.Push(1, dataBuf(202)))
		assert.NoError(t, c.Push(1, buffer.NewEOE()))
	}()

	var got []int64
	for i := 0; i < 4; i++ {
		b, err := c.Pop(0)
		require.NoError(t, err)
		require.True(t, b.IsData())
		got = append(got, b.Seq())
	}
	b, err := c.Pop(0)
	require.NoError(t, err)
	assert.True(t, b.IsEOE())

	wg.Wait()
	// Rotation serves queue 0, queue 1, then queue 0 again; queue 0 is
	// parked on its marker, so the remainder comes from queue 1.
	assert.Equal(t, []int64{100, 200, 201, 202}, got)
}

func TestConnector_Backpressure(t *testing.T) {
	c, err := New("bp", 1, 1, 2)
	require.NoError(t, err)

	require.NoError(t, c.Push(0, dataBuf(0)))
	require.NoError(t, c.Push(0, dataBuf(1)))

	done := make(chan error, 1)
	go func() { done <- c.Push(0, dataBuf(2)) }()

	select {
	case <-done:
		t.Fatal("push should block while the queue is full")
	case <-time.After(50 * time.Millisecond):
	}

	b, err := c.Pop(0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), b.Seq())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("push should complete once space frees up")
	}
}

// Every consumer must receive its own copy of a control marker exactly once.
func TestConnector_MarkerFanout(t *testing.T) {
	const consumers = 3
	c, err := New("fanout", 1, consumers, 8)
	require.NoError(t, err)

	for i := int64(0); i < consumers; i++ {
		require.NoError(t, c.Push(0, dataBuf(i)))
	}
	require.NoError(t, c.Push(0, buffer.NewEOE()))

	var wg sync.WaitGroup
	results := make([][]int64, consumers) // data seqs, then -1 for the marker
	for id := 0; id < consumers; id++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for {
				b, err := c.Pop(id)
				if !assert.NoError(t, err) {
					return
				}
				if b.IsEOE() {
					results[id] = append(results[id], -1)
					return
				}
				results[id] = append(results[id], b.Seq())
			}
		}(id)
	}
	wg.Wait()

	for id := 0; id < consumers; id++ {
		assert.Equal(t, []int64{int64(id), -1}, results[id], "consumer %d", id)
	}
}

func TestConnector_InterruptUnblocksPop(t *testing.T) {
	c, err := New("int-pop", 1, 1, 1)
	require.NoError(t, err)

	popDone := make(chan error, 1)
	go func() {
		_, err := c.Pop(0)
		popDone <- err
	}()

	time.Sleep(20 * time.Millisecond)
	c.Interrupt(nil)

	select {
	case err := <-popDone:
		assert.ErrorIs(t, err, ErrInterrupted)
	case <-time.After(time.Second):
		t.Fatal("blocked pop not interrupted")
	}
}

func TestConnector_InterruptUnblocksPush(t *testing.T) {
	c, err := New("int-push", 1, 1, 1)
	require.NoError(t, err)
	require.NoError(t, c.Push(0, dataBuf(0)))

	pushDone := make(chan error, 1)
	go func() { pushDone <- c.Push(0, dataBuf(1)) }()

	time.Sleep(20 * time.Millisecond)
	c.Interrupt(nil)

	select {
	case err := <-pushDone:
		assert.ErrorIs(t, err, ErrInterrupted)
	case <-time.After(time.Second):
		t.Fatal("blocked push not interrupted")
	}

	// Later calls fail fast.
	assert.ErrorIs(t, c.Push(0, dataBuf(3)), ErrInterrupted)
	_, err = c.Pop(0)
	assert.ErrorIs(t, err, ErrInterrupted)
}

func TestConnector_ResetReArms(t *testing.T) {
	c, err := New("reset", 1, 1, 4)
	require.NoError(t, err)

	require.NoError(t, c.Push(0, dataBuf(0)))
	c.Interrupt(nil)
	_, err = c.Pop(0)
	require.ErrorIs(t, err, ErrInterrupted)

	c.Reset()
	assert.Equal(t, 0, c.Size())
	require.NoError(t, c.Push(0, dataBuf(9)))
	b, err := c.Pop(0)
	require.NoError(t, err)
	assert.Equal(t, int64(9), b.Seq())
}

func TestConnector_SizeAndCapacity(t *testing.T) {
	c, err := New("size", 2, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, 6, c.Capacity())

	require.NoError(t, c.Push(0, dataBuf(0)))
	require.NoError(t, c.Push(1, dataBuf(1)))
	assert.Equal(t, 2, c.Size())
}

func TestConnector_RejectsBadArgs(t *testing.T) {
	_, err := New("bad", 0, 1, 1)
	assert.Error(t, err)
	_, err = New("bad", 1, 1, 0)
	assert.Error(t, err)

	c, err := New("ok", 1, 1, 1)
	require.NoError(t, err)
	assert.Error(t, c.Push(5, dataBuf(0)))
	_, err = c.Pop(5)
	assert.Error(t, err)
	assert.Error(t, c.Push(0, nil))
}
