package video

import (
	"context"
	"sync"
	"time"
)

// FrameChannelCapacity is the hand-off depth between capture and
// processing. Two frames bound latency to at most one stale frame.
const FrameChannelCapacity = 2

// Channel is a bounded FIFO that never blocks the producer: pushing into
// a full channel evicts the oldest item. Eviction and insert happen under
// one lock, so consumers never observe an item twice or more than
// capacity items at once.
type Channel[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	onEvict  func(T)

	notEmpty chan struct{}
	notFull  chan struct{}

	pushed  uint64
	dropped uint64
}

// NewChannel creates a channel holding at most capacity items. onEvict,
// if set, receives every item that leaves without being popped.
func NewChannel[T any](capacity int, onEvict func(T)) *Channel[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Channel[T]{
		items:    make([]T, 0, capacity),
		capacity: capacity,
		onEvict:  onEvict,
		notEmpty: make(chan struct{}, 1),
		notFull:  make(chan struct{}, 1),
	}
}

// NewFrameChannel returns the capacity-2 frame channel used by the pipeline.
func NewFrameChannel() *Channel[*Frame] {
	return NewChannel[*Frame](FrameChannelCapacity, CloseFrame)
}

// Push inserts v, evicting the oldest item when full. It reports whether
// an item was evicted.
func (c *Channel[T]) Push(v T) bool {
	var (
		old     T
		evicted bool
	)

	c.mu.Lock()
	if len(c.items) == c.capacity {
		old = c.shiftLocked()
		evicted = true
		c.dropped++
	}
	c.items = append(c.items, v)
	c.pushed++
	c.mu.Unlock()

	if evicted && c.onEvict != nil {
		c.onEvict(old)
	}
	signal(c.notEmpty)
	return evicted
}

// Pop removes the oldest item, waiting up to timeout. It returns
// ErrPopTimeout when nothing arrived, or ctx.Err() when cancelled.
func (c *Channel[T]) Pop(ctx context.Context, timeout time.Duration) (T, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if v, ok := c.TryPop(); ok {
			return v, nil
		}

		var zero T
		select {
		case <-c.notEmpty:
		case <-timer.C:
			return zero, ErrPopTimeout
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// TryPop removes the oldest item without waiting.
func (c *Channel[T]) TryPop() (T, bool) {
	c.mu.Lock()
	if len(c.items) == 0 {
		c.mu.Unlock()
		var zero T
		return zero, false
	}
	v := c.shiftLocked()
	more := len(c.items) > 0
	c.mu.Unlock()

	signal(c.notFull)
	if more {
		signal(c.notEmpty)
	}
	return v, true
}

// WaitNotFull blocks until there is room for one more item without
// eviction. It returns false on timeout or cancellation.
func (c *Channel[T]) WaitNotFull(ctx context.Context, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		c.mu.Lock()
		room := len(c.items) < c.capacity
		c.mu.Unlock()
		if room {
			return true
		}

		select {
		case <-c.notFull:
		case <-timer.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

// Drain empties the channel, handing every item to onEvict, and returns
// how many were removed.
func (c *Channel[T]) Drain() int {
	c.mu.Lock()
	items := c.items
	c.items = make([]T, 0, c.capacity)
	c.mu.Unlock()

	if c.onEvict != nil {
		for _, v := range items {
			c.onEvict(v)
		}
	}
	signal(c.notFull)
	return len(items)
}

func (c *Channel[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *Channel[T]) Cap() int { return c.capacity }

// Stats returns how many items were pushed and how many were evicted.
func (c *Channel[T]) Stats() (pushed, dropped uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pushed, c.dropped
}

func (c *Channel[T]) shiftLocked() T {
	v := c.items[0]
	var zero T
	copy(c.items, c.items[1:])
	c.items[len(c.items)-1] = zero
	c.items = c.items[:len(c.items)-1]
	return v
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
