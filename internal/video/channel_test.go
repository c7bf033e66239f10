package video

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannel_DropOldest(t *testing.T) {
	var evicted []int
	ch := NewChannel[int](2, func(v int) { evicted = append(evicted, v) })

	assert.False(t, ch.Push(1))
	assert.False(t, ch.Push(2))
	assert.True(t, ch.Push(3), "pushing into a full channel evicts")
	assert.Equal(t, 2, ch.Len())
	assert.Equal(t, []int{1}, evicted)

	v, ok := ch.TryPop()
	require.True(t, ok)
	assert.Equal(t, 2, v)
	v, ok = ch.TryPop()
	require.True(t, ok)
	assert.Equal(t, 3, v)

	_, ok = ch.TryPop()
	assert.False(t, ok)

	pushed, dropped := ch.Stats()
	assert.Equal(t, uint64(3), pushed)
	assert.Equal(t, uint64(1), dropped)
}

func TestChannel_NeverExceedsCapacity(t *testing.T) {
	ch := NewChannel[int](FrameChannelCapacity, nil)
	for i := 0; i < 100; i++ {
		ch.Push(i)
		assert.LessOrEqual(t, ch.Len(), FrameChannelCapacity)
	}
	// Only the two newest survive, in order.
	a, _ := ch.TryPop()
	b, _ := ch.TryPop()
	assert.Equal(t, []int{98, 99}, []int{a, b})
}

func TestChannel_PopTimeout(t *testing.T) {
	ch := NewChannel[int](2, nil)

	start := time.Now()
	_, err := ch.Pop(context.Background(), 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrPopTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestChannel_PopCancelled(t *testing.T) {
	ch := NewChannel[int](2, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ch.Pop(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestChannel_PopWakesOnPush(t *testing.T) {
	ch := NewChannel[int](2, nil)
	go func() {
		time.Sleep(20 * time.Millisecond)
		ch.Push(7)
	}()

	v, err := ch.Pop(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestChannel_ConcurrentNoDuplicates(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[int]int)
	record := func(v int) {
		mu.Lock()
		seen[v]++
		mu.Unlock()
	}
	ch := NewChannel[int](2, record)

	const total = 5000
	ctx, cancel := context.WithCancel(context.Background())
	var consumers sync.WaitGroup
	for i := 0; i < 3; i++ {
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			for {
				v, err := ch.Pop(ctx, 10*time.Millisecond)
				if err == ErrPopTimeout {
					continue
				}
				if err != nil {
					return
				}
				record(v)
			}
		}()
	}

	for i := 0; i < total; i++ {
		ch.Push(i)
	}
	time.Sleep(50 * time.Millisecond)
	cancel()
	consumers.Wait()
	ch.Drain()

	require.Len(t, seen, total, "every item is either popped or evicted")
	for v, n := range seen {
		if n != 1 {
			t.Fatalf("item %d observed %d times", v, n)
		}
	}
}

func TestChannel_DrainReleasesItems(t *testing.T) {
	var released []int
	ch := NewChannel[int](2, func(v int) { released = append(released, v) })
	ch.Push(1)
	ch.Push(2)

	assert.Equal(t, 2, ch.Drain())
	assert.Equal(t, []int{1, 2}, released)
	assert.Equal(t, 0, ch.Len())
}

func TestChannel_WaitNotFull(t *testing.T) {
	ch := NewChannel[int](2, nil)
	ch.Push(1)
	assert.True(t, ch.WaitNotFull(context.Background(), 10*time.Millisecond))

	ch.Push(2)
	assert.False(t, ch.WaitNotFull(context.Background(), 20*time.Millisecond))

	go func() {
		time.Sleep(10 * time.Millisecond)
		ch.TryPop()
	}()
	assert.True(t, ch.WaitNotFull(context.Background(), time.Second))
}
