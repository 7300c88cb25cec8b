// Package frame drives the per-frame update of the session registry.
package frame

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"time"

	"github.com/banshee-data/xrsession/internal/monitoring"
	"github.com/banshee-data/xrsession/internal/timeutil"
)

// DefaultMaxDelta caps dt after a stall (debugger, backgrounded tab, slow
// init) so backends do not integrate a multi-second jump.
const DefaultMaxDelta = 0.25

// Updater is ticked once per frame. *session.Registry satisfies it.
type Updater interface {
	UpdateAll(dt float64)
}

// Stats counts dispatcher activity.
type Stats struct {
	Ticks     uint64
	Dropped   uint64
	LastDelta float64
}

// Dispatcher turns render-loop ticks into dt values and forwards them.
type Dispatcher struct {
	target   Updater
	clock    timeutil.Clock
	maxDelta float64

	last    time.Time
	running atomic.Bool

	ticks     atomic.Uint64
	dropped   atomic.Uint64
	lastDelta atomic.Uint64 // float64 bits
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithMaxDelta overrides DefaultMaxDelta. Zero or negative disables the cap.
func WithMaxDelta(seconds float64) Option {
	return func(d *Dispatcher) { d.maxDelta = seconds }
}

// New returns a dispatcher feeding target. A nil clock uses the wall clock.
func New(target Updater, clock timeutil.Clock, opts ...Option) *Dispatcher {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	d := &Dispatcher{target: target, clock: clock, maxDelta: DefaultMaxDelta}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Tick measures the time since the previous tick and forwards it. The first
// tick forwards 0. It returns false when the call was dropped because another
// tick was still running.
func (d *Dispatcher) Tick() bool {
	if !d.running.CompareAndSwap(false, true) {
		d.dropped.Add(1)
		monitoring.Tracef("frame: nested tick dropped")
		return false
	}
	defer d.running.Store(false)

	now := d.clock.Now()
	var dt float64
	if !d.last.IsZero() {
		dt = now.Sub(d.last).Seconds()
	}
	d.last = now
	if dt < 0 {
		dt = 0
	}
	if d.maxDelta > 0 && dt > d.maxDelta {
		monitoring.Tracef("frame: dt %.3fs clamped to %.3fs", dt, d.maxDelta)
		dt = d.maxDelta
	}
	d.forward(dt)
	return true
}

// TickDelta forwards a caller-supplied dt, for hosts whose render loop
// already measures frame time.
func (d *Dispatcher) TickDelta(dt float64) bool {
	if !d.running.CompareAndSwap(false, true) {
		d.dropped.Add(1)
		monitoring.Tracef("frame: nested tick dropped")
		return false
	}
	defer d.running.Store(false)
	d.last = d.clock.Now()
	d.forward(dt)
	return true
}

func (d *Dispatcher) forward(dt float64) {
	d.ticks.Add(1)
	d.lastDelta.Store(math.Float64bits(dt))
	d.target.UpdateAll(dt)
}

// Reset forgets the previous tick so the next one forwards 0, for a host
// resuming after a pause.
func (d *Dispatcher) Reset() {
	if d.running.Load() {
		return
	}
	d.last = time.Time{}
}

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Ticks:     d.ticks.Load(),
		Dropped:   d.dropped.Load(),
		LastDelta: math.Float64frombits(d.lastDelta.Load()),
	}
}

// Run ticks at hz until ctx ends or maxTicks ticks have run (0 means no
// limit). It is the render loop for headless hosts.
func (d *Dispatcher) Run(ctx context.Context, hz float64, maxTicks uint64) error {
	if hz <= 0 {
		return errors.New("frame: hz must be positive")
	}
	ticker := d.clock.NewTicker(time.Duration(float64(time.Second) / hz))
	defer ticker.Stop()

	monitoring.Diagf("frame: headless loop at %.1f Hz", hz)
	var n uint64
	for {
		select {
		case <-ctx.Done():
			monitoring.Diagf("frame: headless loop stopped after %d ticks", n)
			return ctx.Err()
		case <-ticker.C():
			if d.Tick() {
				n++
			}
			if maxTicks > 0 && n >= maxTicks {
				monitoring.Diagf("frame: headless loop reached %d ticks", n)
				return nil
			}
		}
	}
}
