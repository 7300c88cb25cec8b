package session

import (
	"context"
	"fmt"

	"github.com/banshee-data/xrsession/internal/xr"
)

// Backend code is external; a panic in it must surface as an error at the
// registry boundary rather than take down the render goroutine.

func callInit(ctx context.Context, b xr.Backend, res xr.Resources) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = xr.Recovered(p)
		}
	}()
	return b.Init(ctx, res)
}

func callUpdate(b xr.Backend, dt float64) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = xr.Recovered(p)
		}
	}()
	return b.Update(dt)
}

func callDispose(b xr.Backend) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = xr.Recovered(p)
		}
	}()
	return b.Dispose()
}

func cancelledError(cause error) error {
	if cause == nil {
		return xr.ErrRegistrationCancelled
	}
	return fmt.Errorf("%w: %w", xr.ErrRegistrationCancelled, cause)
}
