// internal/machine/tickclock.go

package machine

import (
	"sync"
	"sync/atomic"
	"time"
)

// TickClock is the simulated timer interrupt source. It raises ticks on Ch
// and counts them atomically; the machine takes them at its next
// preemption point.
type TickClock struct {
	Ch       chan struct{}
	count    atomic.Int64
	dropped  atomic.Int64
	stop     chan struct{}
	stopOnce sync.Once
}

// NewTickClock creates a clock that can hold buffer untaken ticks.
func NewTickClock(buffer int) *TickClock {
	return &TickClock{
		Ch:   make(chan struct{}, buffer),
		stop: make(chan struct{}),
	}
}

// Start begins raising ticks at the given interval.
func (c *TickClock) Start(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.Fire()
			case <-c.stop:
				return
			}
		}
	}()
}

// Fire raises one tick. A tick raised while the buffer is full is lost, as
// an interrupt would be while its pending flag is still set.
func (c *TickClock) Fire() {
	c.count.Add(1)
	select {
	case c.Ch <- struct{}{}:
	default:
		c.dropped.Add(1)
	}
}

// Stop stops a started clock. It is safe to call more than once.
func (c *TickClock) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Count returns how many ticks were raised.
func (c *TickClock) Count() int64 {
	return c.count.Load()
}

// Dropped returns how many ticks were lost to a full buffer.
func (c *TickClock) Dropped() int64 {
	return c.dropped.Load()
}
