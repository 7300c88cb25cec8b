// Package timeutil provides the clock the frame loop measures delta time with.
package timeutil

import (
	"sync"
	"time"
)

// Clock is the time source for frame deltas and fix timestamps.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker delivers ticks on C. Like time.Ticker it drops ticks for a slow
// reader rather than queueing them.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// RealClock is the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) NewTicker(d time.Duration) Ticker { return wallTicker{time.NewTicker(d)} }

type wallTicker struct{ t *time.Ticker }

func (w wallTicker) C() <-chan time.Time { return w.t.C }
func (w wallTicker) Stop()               { w.t.Stop() }

// MockClock only moves when told to. Tickers created from it fire on their
// own schedule as the clock is advanced past each due time.
type MockClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers map[*MockTicker]struct{}
}

func NewMockClock(start time.Time) *MockClock {
	return &MockClock{now: start, tickers: make(map[*MockTicker]struct{})}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d. A ticker due once or more in that
// span delivers a single tick, stamped with the new time.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	due := make([]*MockTicker, 0, len(c.tickers))
	for t := range c.tickers {
		due = append(due, t)
	}
	c.mu.Unlock()

	for _, t := range due {
		t.advanceTo(now)
	}
}

// Step advances the clock by frame n times, as a render loop at a fixed
// frame time would.
func (c *MockClock) Step(n int, frame time.Duration) {
	for i := 0; i < n; i++ {
		c.Advance(frame)
	}
}

func (c *MockClock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("timeutil: non-positive ticker interval")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &MockTicker{clock: c, ch: make(chan time.Time, 1), every: d, due: c.now.Add(d)}
	c.tickers[t] = struct{}{}
	return t
}

// MockTicker is a Ticker driven by a MockClock.
type MockTicker struct {
	clock *MockClock
	ch    chan time.Time
	every time.Duration

	mu  sync.Mutex
	due time.Time
}

func (t *MockTicker) C() <-chan time.Time { return t.ch }

// Stop detaches the ticker from its clock. It does not drain C.
func (t *MockTicker) Stop() {
	t.clock.mu.Lock()
	delete(t.clock.tickers, t)
	t.clock.mu.Unlock()
}

// Fire delivers a tick immediately, regardless of schedule.
func (t *MockTicker) Fire(at time.Time) { t.send(at) }

func (t *MockTicker) advanceTo(now time.Time) {
	t.mu.Lock()
	if now.Before(t.due) {
		t.mu.Unlock()
		return
	}
	for !now.Before(t.due) {
		t.due = t.due.Add(t.every)
	}
	t.mu.Unlock()
	t.send(now)
}

func (t *MockTicker) send(at time.Time) {
	select {
	case t.ch <- at:
	default:
	}
}
