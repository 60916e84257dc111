package ratelimiter

import (
	"sync"
	"time"
)

// FixedWindowCounter allows at most limit calls per window.
type FixedWindowCounter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu    sync.Mutex
	count int
	start time.Time
}

// NewFixedWindowCounter creates a counter whose first window starts now.
func NewFixedWindowCounter(limit int, window time.Duration) *FixedWindowCounter {
	return newFixedWindowCounter(limit, window, time.Now)
}

func newFixedWindowCounter(limit int, window time.Duration, now func() time.Time) *FixedWindowCounter {
	return &FixedWindowCounter{limit: limit, window: window, now: now, start: now()}
}

// Allow counts the call against the current window.
func (c *FixedWindowCounter) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if now.Sub(c.start) >= c.window {
		// 按窗口对齐，而不是从本次调用开始计时
		c.start = c.start.Add(now.Sub(c.start).Truncate(c.window))
		c.count = 0
	}
	if c.count >= c.limit {
		return false
	}
	c.count++
	return true
}
