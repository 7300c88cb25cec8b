// Package immersive is the headset session backend. The headset runtime sits
// behind Runtime; this package only negotiates the session mode, probes for
// support and forwards frames.
package immersive

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/banshee-data/xrsession/internal/monitoring"
	"github.com/banshee-data/xrsession/internal/xr"
)

var (
	ErrNoRuntime   = errors.New("immersive: no runtime")
	ErrUnsupported = errors.New("immersive: session mode not supported")
)

// Runtime is the headset runtime.
type Runtime interface {
	IsSessionSupported(ctx context.Context, mode SessionMode) (bool, error)
	RequestSession(ctx context.Context, mode SessionMode) (Session, error)
}

// Session is one running headset session.
type Session interface {
	Frame(dt float64) error
	End() error
}

// Supported reports whether rt can run mode. A failing probe is logged and
// counts as unsupported.
func Supported(ctx context.Context, rt Runtime, mode Mode) bool {
	if rt == nil {
		return false
	}
	sm, err := mode.SessionMode()
	if err != nil {
		monitoring.Opsf("immersive: support check for %q: %v", mode, err)
		return false
	}
	ok, err := rt.IsSessionSupported(ctx, sm)
	if err != nil {
		monitoring.Opsf("immersive: support check for %s failed: %v", sm, err)
		return false
	}
	return ok
}

// Options configures a Backend.
type Options struct {
	Mode    Mode
	Runtime Runtime
}

// Backend implements xr.Backend for headset sessions.
type Backend struct {
	opts Options

	mu      sync.Mutex
	session Session
	frames  uint64

	dispose xr.DisposeOnce
}

// New returns an uninitialized immersive backend. An empty mode means AR.
func New(opts Options) *Backend {
	if opts.Mode == "" {
		opts.Mode = ModeAR
	}
	return &Backend{opts: opts}
}

func (b *Backend) Kind() xr.Kind { return xr.KindImmersive }

// Init probes for support and requests the session.
func (b *Backend) Init(ctx context.Context, _ xr.Resources) error {
	if b.opts.Runtime == nil {
		return ErrNoRuntime
	}
	sm, err := b.opts.Mode.SessionMode()
	if err != nil {
		return err
	}
	if !Supported(ctx, b.opts.Runtime, b.opts.Mode) {
		return fmt.Errorf("%w: %s", ErrUnsupported, sm)
	}
	s, err := b.opts.Runtime.RequestSession(ctx, sm)
	if err != nil {
		return fmt.Errorf("immersive: request %s session: %w", sm, err)
	}
	b.mu.Lock()
	b.session = s
	b.mu.Unlock()
	monitoring.Diagf("immersive: %s session started", sm)
	return nil
}

// Update forwards the frame to the session.
func (b *Backend) Update(dt float64) error {
	b.mu.Lock()
	s := b.session
	b.frames++
	b.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Frame(dt)
}

// Dispose ends the session.
func (b *Backend) Dispose() error {
	return b.dispose.Do(func() error {
		b.mu.Lock()
		s := b.session
		b.session = nil
		b.mu.Unlock()
		if s == nil {
			return nil
		}
		monitoring.Diagf("immersive: session ended")
		return s.End()
	})
}

// ActiveMode returns the mode of the running session.
func (b *Backend) ActiveMode() (Mode, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return "", false
	}
	return b.opts.Mode, true
}

// Internals is what Internal exposes.
type Internals struct {
	Mode    Mode
	Session Session
	Frames  uint64
}

func (b *Backend) Internal() any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Internals{Mode: b.opts.Mode, Session: b.session, Frames: b.frames}
}

var _ xr.Backend = (*Backend)(nil)
