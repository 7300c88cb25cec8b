package xr

import (
	"context"
	"sync"

	"github.com/banshee-data/xrsession/internal/scene"
)

// Resources are the shared, read-mostly render handles every backend gets at
// init. A backend may add and remove its own nodes under Scene but must not
// touch nodes it does not own.
type Resources struct {
	Scene    *scene.Node
	Camera   *scene.Camera
	Renderer scene.Renderer
}

// Backend is one tracking modality driven by the session runtime.
//
// Update and Dispose are mandatory; embed Base for no-op defaults. Update runs
// on the render goroutine and must not block. Dispose must release every
// handle the backend holds and be safe to call more than once.
type Backend interface {
	Kind() Kind
	Init(ctx context.Context, res Resources) error
	Update(dt float64) error
	Dispose() error
	// Internal exposes backend-specific state for advanced consumers. The
	// runtime never interprets it.
	Internal() any
}

// Base supplies no-op Update, Dispose and Internal.
type Base struct{}

func (Base) Update(float64) error { return nil }
func (Base) Dispose() error       { return nil }
func (Base) Internal() any        { return nil }

// DisposeOnce runs a backend's teardown exactly once. The first call's error
// is returned to every caller.
type DisposeOnce struct {
	once sync.Once
	err  error
}

// Do runs fn on the first call only.
func (d *DisposeOnce) Do(fn func() error) error {
	d.once.Do(func() { d.err = fn() })
	return d.err
}
