package engine

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func named(name string) *command {
	return newCommand(name, nil)
}

func TestCommandQueue_EnqueueDequeue(t *testing.T) {
	q := newCommandQueue()

	ok := q.Enqueue(named("pack.purchase"))
	require.True(t, ok, "enqueue should succeed")

	got, ok := q.TryDequeue()
	require.True(t, ok, "dequeue should succeed")
	assert.Equal(t, "pack.purchase", got.name)
}

func TestCommandQueue_FIFO(t *testing.T) {
	q := newCommandQueue()

	for _, n := range []string{"A", "B", "C"} {
		q.Enqueue(named(n))
	}

	for _, want := range []string{"A", "B", "C"} {
		c, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, c.name)
	}
}

func TestCommandQueue_TryDequeue_Empty(t *testing.T) {
	q := newCommandQueue()

	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestCommandQueue_WaitSignalsOnEnqueue(t *testing.T) {
	q := newCommandQueue()

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Enqueue(named("late"))
	}()

	select {
	case <-q.Wait():
		c, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, "late", c.name)
	case <-time.After(time.Second):
		t.Fatal("wait did not signal")
	}
}

func TestCommandQueue_Close_WakesWaiter(t *testing.T) {
	q := newCommandQueue()

	done := make(chan struct{})
	go func() {
		<-q.Wait()
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("wait did not unblock after close")
	}

	// Idempotent
	q.Close()
}

func TestCommandQueue_Enqueue_AfterClose(t *testing.T) {
	q := newCommandQueue()
	q.Close()

	ok := q.Enqueue(named("after-close"))
	assert.False(t, ok, "enqueue after close should return false")
}

func TestCommandQueue_Drain(t *testing.T) {
	q := newCommandQueue()
	q.Enqueue(named("1"))
	q.Enqueue(named("2"))
	q.Close()

	left := q.Drain()
	require.Len(t, left, 2)
	assert.Equal(t, "1", left[0].name)
	assert.Equal(t, 0, q.Len())
}

func TestCommandQueue_Len(t *testing.T) {
	q := newCommandQueue()

	assert.Equal(t, 0, q.Len())

	q.Enqueue(named("1"))
	assert.Equal(t, 1, q.Len())

	q.Enqueue(named("2"))
	assert.Equal(t, 2, q.Len())

	q.TryDequeue()
	assert.Equal(t, 1, q.Len())

	q.TryDequeue()
	assert.Equal(t, 0, q.Len())
}

func TestCommandQueue_ThreadSafe(t *testing.T) {
	q := newCommandQueue()

	const producers = 10
	const perProducer = 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(named(fmt.Sprintf("%d-%d", id, i)))
			}
		}(p)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for {
		c, ok := q.TryDequeue()
		if !ok {
			break
		}
		seen[c.name] = true
	}
	assert.Len(t, seen, producers*perProducer)
}
