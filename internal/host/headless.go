// Package host runs the frame dispatcher: a headless ticker for servers and
// tests, and the top-down plot the window host draws.
package host

import (
	"context"
	"errors"

	"github.com/banshee-data/xrsession/internal/monitoring"
	"github.com/banshee-data/xrsession/internal/xr/frame"
)

// HeadlessConfig controls RunHeadless.
type HeadlessConfig struct {
	Hz float64
	// MaxTicks stops the loop after this many ticks. Zero runs until ctx ends.
	MaxTicks uint64
}

// RunHeadless ticks d until ctx is cancelled or MaxTicks is reached.
// Cancellation is a clean stop and returns nil.
func RunHeadless(ctx context.Context, d *frame.Dispatcher, cfg HeadlessConfig) error {
	if cfg.Hz <= 0 {
		cfg.Hz = 60
	}
	err := d.Run(ctx, cfg.Hz, cfg.MaxTicks)
	st := d.Stats()
	monitoring.Diagf("host: headless stopped: %d ticks, %d dropped", st.Ticks, st.Dropped)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
