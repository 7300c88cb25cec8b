// Package geolocation is the GPS-driven backend. Fixes come from an NMEA
// receiver behind serialmux or from a fake position, pass the accuracy and
// distance filters, move the camera and resolve geographic anchors.
package geolocation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/banshee-data/xrsession/internal/geo"
	"github.com/banshee-data/xrsession/internal/monitoring"
	"github.com/banshee-data/xrsession/internal/scene"
	"github.com/banshee-data/xrsession/internal/timeutil"
	"github.com/banshee-data/xrsession/internal/xr"
	"github.com/banshee-data/xrsession/internal/xr/anchor"
)

// DefaultMinAccuracy drops fixes whose estimated error exceeds 1 km.
const DefaultMinAccuracy = 1000.0

const (
	SourceGPS  = "gps"
	SourceFake = "fake"
)

var (
	ErrNoScene  = errors.New("geolocation: a scene is required")
	ErrNoOrigin = errors.New("geolocation: no fix yet")
)

// Position is one accepted GPS reading.
type Position struct {
	Coord      geo.Coord `json:"coord"`
	Accuracy   float64   `json:"accuracy_m"`
	Satellites int       `json:"satellites,omitempty"`
	Time       time.Time `json:"time"`
	Source     string    `json:"source"`
}

// Fix is the resolution event anchors wait for.
type Fix struct {
	Position      Position `json:"position"`
	DistanceMoved float64  `json:"distance_moved_m"`
}

// LineSource is a subscribable stream of receiver lines. *serialmux.SerialMux
// and *serialmux.DisabledSerialMux satisfy it.
type LineSource interface {
	Subscribe() (string, chan string)
	Unsubscribe(string)
}

// OrientationSource reports device heading in radians.
type OrientationSource interface {
	Orientation() (yaw, pitch float64, ok bool)
}

// Options configures a Backend.
type Options struct {
	// FakeLat and FakeLon, when both set, inject a fake fix during Init.
	FakeLat *float64
	FakeLon *float64

	// MinDistance drops fixes closer than this many metres to the previous
	// accepted one. The first fix is always accepted.
	MinDistance float64
	// MinAccuracy drops fixes whose accuracy estimate is worse than this many
	// metres. Zero means DefaultMinAccuracy.
	MinAccuracy float64

	Receiver    LineSource
	Orientation OrientationSource
	Clock       timeutil.Clock
}

// Backend implements xr.Backend for location-based sessions.
type Backend struct {
	opts  Options
	clock timeutil.Clock

	res     xr.Resources
	root    *scene.Node
	anchors *anchor.Registry[Target, Fix]

	mu      sync.Mutex
	origin  geo.Origin
	last    *Position
	fix     Fix
	hasFix  bool
	subs    map[int]func(Fix)
	nextSub int
	dropped uint64

	recvID  string
	stop    chan struct{}
	wg      sync.WaitGroup
	dispose xr.DisposeOnce
}

// New returns an uninitialized geolocation backend.
func New(opts Options) *Backend {
	if opts.MinAccuracy <= 0 {
		opts.MinAccuracy = DefaultMinAccuracy
	}
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	b := &Backend{
		opts:  opts,
		clock: clock,
		subs:  make(map[int]func(Fix)),
		stop:  make(chan struct{}),
	}
	b.anchors = anchor.New[Target, Fix](placer{b})
	return b
}

func (b *Backend) Kind() xr.Kind { return xr.KindGeolocation }

// Init attaches the backend's root group to the scene, starts reading the
// receiver and injects the fake fix if one is configured.
func (b *Backend) Init(ctx context.Context, res xr.Resources) error {
	if res.Scene == nil {
		return ErrNoScene
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b.res = res
	b.root = scene.NewGroup("geolocation")
	res.Scene.Add(b.root)
	if res.Camera != nil && res.Renderer != nil {
		scene.FitCamera(res.Camera, res.Renderer)
	}

	if err := b.anchors.Bind(b); err != nil {
		return err
	}

	if b.opts.Receiver != nil {
		id, lines := b.opts.Receiver.Subscribe()
		b.recvID = id
		b.wg.Add(1)
		go b.readReceiver(lines)
	}

	if b.opts.FakeLat != nil && b.opts.FakeLon != nil {
		b.SetFakeFix(*b.opts.FakeLat, *b.opts.FakeLon)
	}
	monitoring.Diagf("geolocation: initialized (receiver=%v, fake=%v)",
		b.opts.Receiver != nil, b.opts.FakeLat != nil && b.opts.FakeLon != nil)
	return nil
}

func (b *Backend) readReceiver(lines chan string) {
	defer b.wg.Done()
	dec := &sentenceDecoder{now: b.clock.Now}
	for {
		select {
		case <-b.stop:
			return
		case line, ok := <-lines:
			if !ok {
				monitoring.Diagf("geolocation: receiver stream closed")
				return
			}
			pos, ok, err := dec.decode(line)
			if err != nil {
				monitoring.Opsf("geolocation: gps error: %v", err)
				continue
			}
			if ok {
				b.HandlePosition(pos)
			}
		}
	}
}

// SetFakeFix injects a position as if the receiver had reported it.
func (b *Backend) SetFakeFix(lat, lon float64) {
	b.HandlePosition(Position{
		Coord:  geo.Coord{Lat: lat, Lon: lon},
		Time:   b.clock.Now(),
		Source: SourceFake,
	})
}

// HandlePosition filters pos and, if accepted, moves the camera and emits a
// Fix to subscribers. It reports whether the position was accepted.
func (b *Backend) HandlePosition(pos Position) bool {
	if pos.Accuracy > b.opts.MinAccuracy {
		b.drop("accuracy %.1fm worse than %.1fm", pos.Accuracy, b.opts.MinAccuracy)
		return false
	}

	b.mu.Lock()
	var moved float64
	if b.last != nil {
		moved = geo.Distance(b.last.Coord, pos.Coord)
		if moved < b.opts.MinDistance {
			b.mu.Unlock()
			b.drop("moved %.1fm, below %.1fm", moved, b.opts.MinDistance)
			return false
		}
	}
	if !b.origin.IsSet() {
		b.origin = geo.NewOrigin(pos.Coord)
		monitoring.Diagf("geolocation: origin at %.6f,%.6f", pos.Coord.Lat, pos.Coord.Lon)
	}
	p := pos
	b.last = &p
	fix := Fix{Position: pos, DistanceMoved: moved}
	b.fix, b.hasFix = fix, true
	origin := b.origin
	subs := make([]func(Fix), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.Unlock()

	if cam := b.res.Camera; cam != nil {
		// The camera keeps its eye height; only the ground position follows GPS.
		w := origin.ToWorld(geo.Coord{Lat: pos.Coord.Lat, Lon: pos.Coord.Lon})
		w.Y = cam.Position().Y
		cam.SetPosition(w)
	}
	monitoring.Tracef("geolocation: fix %.6f,%.6f acc=%.1fm moved=%.1fm (%s)",
		pos.Coord.Lat, pos.Coord.Lon, pos.Accuracy, moved, pos.Source)

	for _, fn := range subs {
		fn(fix)
	}
	return true
}

func (b *Backend) drop(format string, args ...any) {
	b.mu.Lock()
	b.dropped++
	b.mu.Unlock()
	monitoring.Tracef("geolocation: fix dropped: "+format, args...)
}

// Subscribe registers fn for every accepted fix. The returned func cancels it.
func (b *Backend) Subscribe(fn func(Fix)) (cancel func()) {
	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// LastKnown returns the most recent accepted fix.
func (b *Backend) LastKnown() (Fix, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fix, b.hasFix
}

// Origin returns the world origin, set by the first accepted fix.
func (b *Backend) Origin() geo.Origin {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.origin
}

// Dropped returns how many fixes the filters rejected.
func (b *Backend) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Anchors returns the backend's anchor registry.
func (b *Backend) Anchors() *anchor.Registry[Target, Fix] { return b.anchors }

// Update applies device orientation to the camera and turns billboard
// anchors toward it.
func (b *Backend) Update(float64) error {
	cam := b.res.Camera
	if cam == nil {
		return nil
	}
	if o := b.opts.Orientation; o != nil {
		if yaw, pitch, ok := o.Orientation(); ok {
			cam.SetHeading(yaw, pitch)
		}
	}
	eye := cam.WorldPosition()
	b.anchors.ForEachAttached(func(_ string, e anchor.Entry[Target, Fix]) {
		if e.Target.Billboard {
			e.Node.LookAt(eye)
		}
	})
	return nil
}

// Dispose stops the receiver stream, detaches every anchor and removes the
// backend's root group. It is safe to call more than once.
func (b *Backend) Dispose() error {
	return b.dispose.Do(func() error {
		close(b.stop)
		if b.opts.Receiver != nil && b.recvID != "" {
			b.opts.Receiver.Unsubscribe(b.recvID)
		}
		b.wg.Wait()
		b.anchors.Close()
		if b.root != nil {
			b.root.RemoveFromParent()
		}
		b.mu.Lock()
		clear(b.subs)
		b.mu.Unlock()
		monitoring.Diagf("geolocation: disposed")
		return nil
	})
}

// Internals is what Internal exposes.
type Internals struct {
	Root    *scene.Node
	Origin  geo.Origin
	Anchors *anchor.Registry[Target, Fix]
}

func (b *Backend) Internal() any {
	return Internals{Root: b.root, Origin: b.Origin(), Anchors: b.anchors}
}

var (
	_ xr.Backend         = (*Backend)(nil)
	_ anchor.Source[Fix] = (*Backend)(nil)
)
