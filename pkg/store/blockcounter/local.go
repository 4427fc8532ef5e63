package blockcounter

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	count     int64
	expiresAt time.Time
}

// LocalCounter is an in-process, mutex-guarded BlockCounter for dev and tests.
type LocalCounter struct {
	mu    sync.Mutex
	data  map[string]entry
	clock func() time.Time
}

// NewLocalCounter returns a LocalCounter using the real wall clock.
func NewLocalCounter() *LocalCounter {
	return NewLocalCounterWithClock(time.Now)
}

// NewLocalCounterWithClock returns a LocalCounter with an injectable clock,
// for deterministic circuit-breaker tests.
func NewLocalCounterWithClock(clock func() time.Time) *LocalCounter {
	return &LocalCounter{data: make(map[string]entry), clock: clock}
}

func (c *LocalCounter) Increment(_ context.Context, key string, window time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock()
	e, ok := c.data[key]
	if !ok || !now.Before(e.expiresAt) {
		e = entry{count: 0, expiresAt: now.Add(window)}
	}
	e.count++
	c.data[key] = e
	return e.count, nil
}

func (c *LocalCounter) Get(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.data[key]
	if !ok || !c.clock().Before(e.expiresAt) {
		return 0, nil
	}
	return e.count, nil
}

func (c *LocalCounter) Reset(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}
