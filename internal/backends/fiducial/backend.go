// Package fiducial is the marker-tracking backend. It initialises a Detector
// under a timeout, runs detection each frame while the source is ready and
// turns marker visibility into found/lost callbacks.
package fiducial

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/xrsession/internal/monitoring"
	"github.com/banshee-data/xrsession/internal/scene"
	"github.com/banshee-data/xrsession/internal/xr"
	"github.com/banshee-data/xrsession/internal/xr/anchor"
)

// DefaultInitTimeout bounds each detector init stage.
const DefaultInitTimeout = 10 * time.Second

var (
	ErrNoDetector = errors.New("fiducial: a detector is required")
	ErrNoScene    = errors.New("fiducial: a scene is required")
)

// Ready is the resolution marker anchors wait for: the detector controller
// exists and can take over nodes.
type Ready struct {
	Frame uint64
}

// Options configures a Backend.
type Options struct {
	Detector Detector
	Params   Params
	// InitTimeout bounds source init and context init separately. Zero means
	// DefaultInitTimeout.
	InitTimeout time.Duration
}

// Anchor declares content that follows a marker.
type Anchor struct {
	Marker   Marker
	Node     *scene.Node
	OnAttach func()
	OnFound  func()
	OnLost   func()
}

type tracked struct {
	marker   Marker
	tracker  *anchor.VisibilityTracker
	controls Controls
}

// Backend implements xr.Backend for marker sessions.
type Backend struct {
	opts    Options
	det     Detector
	res     xr.Resources
	root    *scene.Node
	anchors *anchor.Registry[Marker, Ready]

	mu      sync.Mutex
	byNode  map[*scene.Node]*tracked
	subs    map[int]func(Ready)
	nextSub int
	ready   *Ready
	frames  uint64
	inited  bool

	dispose xr.DisposeOnce
}

// New returns an uninitialized fiducial backend.
func New(opts Options) *Backend {
	if opts.InitTimeout <= 0 {
		opts.InitTimeout = DefaultInitTimeout
	}
	opts.Params = opts.Params.WithDefaults()
	b := &Backend{
		opts:   opts,
		det:    opts.Detector,
		byNode: make(map[*scene.Node]*tracked),
		subs:   make(map[int]func(Ready)),
	}
	b.anchors = anchor.New[Marker, Ready](placer{b})
	return b
}

func (b *Backend) Kind() xr.Kind { return xr.KindFiducial }

// Init brings up the detector source and then its context, each under
// InitTimeout, and fits the camera and renderer to the calibration.
func (b *Backend) Init(ctx context.Context, res xr.Resources) error {
	if b.det == nil {
		return ErrNoDetector
	}
	if res.Scene == nil {
		return ErrNoScene
	}
	if err := b.opts.Params.Validate(); err != nil {
		return err
	}
	p := b.opts.Params

	if err := b.stage(ctx, "source", func(ctx context.Context) error {
		return b.det.InitSource(ctx, p)
	}); err != nil {
		return err
	}

	var cal Calibration
	if err := b.stage(ctx, "context", func(ctx context.Context) error {
		var err error
		cal, err = b.det.InitContext(ctx, p)
		return err
	}); err != nil {
		// The source is already open.
		if derr := b.det.Dispose(); derr != nil {
			monitoring.Opsf("fiducial: dispose after failed init: %v", derr)
		}
		return err
	}

	b.res = res
	if res.Camera != nil {
		res.Camera.SetFOV(cal.FOV)
	}
	if res.Renderer != nil && cal.Width > 0 && cal.Height > 0 {
		res.Renderer.SetSize(cal.Width, cal.Height)
	}
	scene.FitCamera(res.Camera, res.Renderer)

	b.root = scene.NewGroup("fiducial")
	res.Scene.Add(b.root)
	if err := b.anchors.Bind(b); err != nil {
		return err
	}

	b.mu.Lock()
	b.inited = true
	b.mu.Unlock()
	monitoring.Diagf("fiducial: initialized (source=%s mode=%s matrix=%s)",
		p.SourceType, p.DetectionMode, p.MatrixCodeType)
	return nil
}

// stage runs fn under InitTimeout. A detector that ignores ctx is abandoned
// when the deadline passes.
func (b *Backend) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, b.opts.InitTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- xr.Recovered(p)
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("fiducial: %s init: %w", name, err)
		}
		return nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("fiducial: %s init after %s: %w", name, b.opts.InitTimeout, xr.ErrInitTimeout)
		}
		return fmt.Errorf("fiducial: %s init: %w", name, ctx.Err())
	}
}

// Update resolves pending markers once the controller exists, runs one
// detection pass and samples every marker's visibility. Markers whose Track
// failed are retried every frame. Nothing happens while the source is not
// ready.
func (b *Backend) Update(float64) error {
	b.mu.Lock()
	inited := b.inited
	b.mu.Unlock()
	if !inited || !b.det.SourceReady() {
		return nil
	}

	b.mu.Lock()
	b.frames++
	frame := b.frames
	wasReady := b.ready != nil
	needReady := !wasReady && b.det.ControllerReady()
	var subs []func(Ready)
	if needReady {
		b.ready = &Ready{Frame: frame}
		for _, fn := range b.subs {
			subs = append(subs, fn)
		}
	}
	b.mu.Unlock()
	if needReady {
		monitoring.Diagf("fiducial: controller ready at frame %d", frame)
		for _, fn := range subs {
			fn(Ready{Frame: frame})
		}
	} else if wasReady {
		b.anchors.Retry()
	}

	if err := b.det.Process(); err != nil {
		return fmt.Errorf("fiducial: detection: %w", err)
	}
	b.sample()
	return nil
}

func (b *Backend) sample() {
	b.mu.Lock()
	trackers := make([]*anchor.VisibilityTracker, 0, len(b.byNode))
	for _, t := range b.byNode {
		trackers = append(trackers, t.tracker)
	}
	b.mu.Unlock()
	for _, tr := range trackers {
		tr.Sample()
	}
}

// AddMarker declares a. The node is hidden until the detector has taken it
// over and then shown only while the marker is in view. An empty id is
// generated.
func (b *Backend) AddMarker(id string, a Anchor) (string, error) {
	if a.Node == nil {
		return "", anchor.ErrNoNode
	}
	b.mu.Lock()
	if _, dup := b.byNode[a.Node]; dup {
		b.mu.Unlock()
		return "", fmt.Errorf("fiducial: node %q already tracks a marker", a.Node.Name())
	}
	t := &tracked{
		marker:  a.Marker,
		tracker: anchor.NewVisibilityTracker(a.Node, a.OnFound, a.OnLost),
	}
	b.byNode[a.Node] = t
	b.mu.Unlock()

	id, err := b.anchors.RegisterAnchor(id, anchor.Entry[Marker, Ready]{
		Target:   a.Marker,
		Node:     a.Node,
		OnAttach: a.OnAttach,
	})
	if err != nil {
		b.mu.Lock()
		delete(b.byNode, a.Node)
		b.mu.Unlock()
		return "", err
	}
	return id, nil
}

// RemoveMarker withdraws id and releases its detector controls.
func (b *Backend) RemoveMarker(id string) {
	var node *scene.Node
	b.anchors.ForEach(func(eid string, e anchor.Entry[Marker, Ready], _ bool) {
		if eid == id {
			node = e.Node
		}
	})
	b.anchors.UnregisterAnchor(id)
	if node != nil {
		b.mu.Lock()
		delete(b.byNode, node)
		b.mu.Unlock()
	}
}

// Markers returns the marker registry.
func (b *Backend) Markers() *anchor.Registry[Marker, Ready] { return b.anchors }

// Subscribe implements anchor.Source. The callback fires once, when the
// detector controller first reports ready.
func (b *Backend) Subscribe(fn func(Ready)) (cancel func()) {
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

// LastKnown implements anchor.Source.
func (b *Backend) LastKnown() (Ready, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ready == nil {
		return Ready{}, false
	}
	return *b.ready, true
}

type placer struct{ b *Backend }

// Place hands node to the detector and parents it under the backend root.
func (p placer) Place(node *scene.Node, m Marker, _ Ready) error {
	p.b.mu.Lock()
	t, ok := p.b.byNode[node]
	p.b.mu.Unlock()
	if !ok {
		return fmt.Errorf("fiducial: node %q is not a marker node", node.Name())
	}
	controls, err := p.b.det.Track(node, m)
	if err != nil {
		return fmt.Errorf("track %s: %w", m.Key(), err)
	}
	p.b.mu.Lock()
	t.controls = controls
	p.b.mu.Unlock()
	if p.b.root != nil {
		p.b.root.Add(node)
	}
	t.tracker.SetInitialized()
	return nil
}

func (p placer) Detach(node *scene.Node) {
	p.b.mu.Lock()
	t := p.b.byNode[node]
	delete(p.b.byNode, node)
	p.b.mu.Unlock()
	if t != nil && t.controls != nil {
		t.controls.Dispose()
	}
	node.SetVisible(false)
	node.RemoveFromParent()
}

// Dispose releases every marker's controls, then the detector.
func (b *Backend) Dispose() error {
	return b.dispose.Do(func() error {
		b.anchors.Close()
		b.mu.Lock()
		inited := b.inited
		b.inited = false
		clear(b.byNode)
		clear(b.subs)
		b.mu.Unlock()
		if b.root != nil {
			b.root.RemoveFromParent()
		}
		if !inited {
			return nil
		}
		monitoring.Diagf("fiducial: disposed")
		return b.det.Dispose()
	})
}

// Internals is what Internal exposes.
type Internals struct {
	Detector Detector
	Root     *scene.Node
	Markers  *anchor.Registry[Marker, Ready]
}

func (b *Backend) Internal() any {
	return Internals{Detector: b.det, Root: b.root, Markers: b.anchors}
}

var (
	_ xr.Backend           = (*Backend)(nil)
	_ anchor.Source[Ready] = (*Backend)(nil)
)
