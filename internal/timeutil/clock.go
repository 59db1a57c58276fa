// Package timeutil provides a testable abstraction over wall-clock time.
package timeutil

import (
	"sync"
	"time"
)

// Clock is the time source used to stamp runs and measure per-file duration.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Since returns the duration since t.
	Since(t time.Time) time.Duration
}

// RealClock implements Clock using the standard time package.
type RealClock struct{}

// Now returns the current time.
func (RealClock) Now() time.Time {
	return time.Now()
}

// Since returns the duration since t.
func (RealClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}

// MockClock is a Clock for tests. It only moves when told to, and can
// optionally step forward by a fixed amount on every Now call so that
// consecutive readings differ.
type MockClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewMockClock creates a new MockClock set to the given time.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

// Now returns the mocked current time, then applies the auto step.
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

// Set sets the mock clock to a specific time.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the mock clock forward by d.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// AutoStep makes every subsequent Now call advance the clock by d.
func (c *MockClock) AutoStep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.step = d
}

// Since returns the duration between t and the current mocked time. It does
// not apply the auto step.
func (c *MockClock) Since(t time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now.Sub(t)
}
