package fiducial

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/xrsession/internal/scene"
	"github.com/banshee-data/xrsession/internal/xr"
)

func newResources() xr.Resources {
	return xr.Resources{
		Scene:    scene.NewGroup("scene"),
		Camera:   scene.NewCamera(75),
		Renderer: scene.NewHeadlessRenderer(1920, 1080),
	}
}

// stubDetector lets tests control each init stage.
type stubDetector struct {
	*ReplayDetector
	sourceGate  chan struct{}
	contextErr  error
	sourceReady atomic.Bool
	disposed    atomic.Int32
}

func newStub() *stubDetector {
	s := &stubDetector{ReplayDetector: NewReplayDetector(nil)}
	s.sourceReady.Store(true)
	return s
}

func (s *stubDetector) InitSource(ctx context.Context, p Params) error {
	if s.sourceGate != nil {
		<-s.sourceGate // ignores ctx
	}
	return s.ReplayDetector.InitSource(ctx, p)
}

func (s *stubDetector) InitContext(ctx context.Context, p Params) (Calibration, error) {
	if s.contextErr != nil {
		return Calibration{}, s.contextErr
	}
	return s.ReplayDetector.InitContext(ctx, p)
}

func (s *stubDetector) SourceReady() bool { return s.sourceReady.Load() && s.ReplayDetector.SourceReady() }

func (s *stubDetector) Dispose() error {
	s.disposed.Add(1)
	return s.ReplayDetector.Dispose()
}

func TestInit_SourceTimeout(t *testing.T) {
	det := newStub()
	det.sourceGate = make(chan struct{})
	defer close(det.sourceGate)

	b := New(Options{Detector: det, InitTimeout: 20 * time.Millisecond})
	err := b.Init(context.Background(), newResources())
	require.Error(t, err)
	assert.ErrorIs(t, err, xr.ErrInitTimeout)
	assert.Contains(t, err.Error(), "source")
}

func TestInit_ContextFailureReleasesSource(t *testing.T) {
	det := newStub()
	det.contextErr = errors.New("no camera parameters")

	b := New(Options{Detector: det})
	err := b.Init(context.Background(), newResources())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context init")
	assert.Equal(t, int32(1), det.disposed.Load())

	require.NoError(t, b.Dispose())
	assert.Equal(t, int32(1), det.disposed.Load(), "never-initialized backend does not dispose again")
}

func TestInit_Validation(t *testing.T) {
	assert.ErrorIs(t, New(Options{}).Init(context.Background(), newResources()), ErrNoDetector)
	assert.ErrorIs(t, New(Options{Detector: newStub()}).Init(context.Background(), xr.Resources{}), ErrNoScene)

	b := New(Options{Detector: newStub(), Params: Params{DetectionMode: "infrared"}})
	assert.Error(t, b.Init(context.Background(), newResources()))
}

func TestInit_AppliesCalibration(t *testing.T) {
	det := newStub()
	det.Calibration = Calibration{FOV: 42, Width: 1280, Height: 720}
	res := newResources()

	b := New(Options{Detector: det})
	require.NoError(t, b.Init(context.Background(), res))
	defer b.Dispose()

	assert.Equal(t, 42.0, res.Camera.FOV())
	w, h := res.Renderer.Size()
	assert.Equal(t, 1280, w)
	assert.Equal(t, 720, h)
	assert.InDelta(t, 1280.0/720.0, res.Camera.Aspect(), 1e-9)
}

func TestMarker_FoundLostAfterLateController(t *testing.T) {
	det := NewReplayDetector([][]string{{}, {"barcode:5"}, {"barcode:5", "pattern:hiro.patt"}, {}})
	det.ControllerDelay = 1
	res := newResources()

	b := New(Options{Detector: det})

	var attached, found, lost int
	node := scene.NewGroup("cube")
	// Declared before the backend is even initialized.
	id, err := b.AddMarker("", Anchor{
		Marker:   Marker{Barcode: 5},
		Node:     node,
		OnAttach: func() { attached++ },
		OnFound:  func() { found++ },
		OnLost:   func() { lost++ },
	})
	require.NoError(t, err)
	require.NoError(t, b.Init(context.Background(), res))
	defer b.Dispose()

	node.SetVisible(true)
	require.NoError(t, b.Update(0))
	assert.False(t, b.Markers().Attached(id), "controller not ready yet")
	assert.False(t, node.Visible(), "hidden until tracked")
	assert.Zero(t, attached)

	require.NoError(t, b.Update(0))
	assert.True(t, b.Markers().Attached(id))
	assert.Equal(t, 1, attached)
	assert.Equal(t, 1, found)
	assert.Equal(t, "fiducial", node.Parent().Name())

	require.NoError(t, b.Update(0))
	assert.Equal(t, 1, found, "still in view")

	require.NoError(t, b.Update(0))
	assert.Equal(t, 1, lost)
	assert.Equal(t, 1, attached)

	ready, ok := b.LastKnown()
	require.True(t, ok)
	assert.Equal(t, uint64(2), ready.Frame)
}

func TestMarker_AddedAfterReadyAttachesImmediately(t *testing.T) {
	det := NewReplayDetector([][]string{{"pattern:hiro.patt"}})
	b := New(Options{Detector: det})
	require.NoError(t, b.Init(context.Background(), newResources()))
	defer b.Dispose()
	require.NoError(t, b.Update(0))

	var found int
	node := scene.NewGroup("hiro")
	id, err := b.AddMarker("hiro", Anchor{Marker: Marker{PatternURL: "hiro.patt"}, Node: node, OnFound: func() { found++ }})
	require.NoError(t, err)
	assert.Equal(t, "hiro", id)
	assert.True(t, b.Markers().Attached(id))
	assert.Equal(t, 1, det.Tracking())

	require.NoError(t, b.Update(0))
	assert.Equal(t, 1, found)

	b.RemoveMarker(id)
	assert.Zero(t, det.Tracking(), "controls released")
	assert.Nil(t, node.Parent())
	assert.False(t, node.Visible())

	_, err = b.AddMarker("again", Anchor{Marker: Marker{PatternURL: "hiro.patt"}, Node: node})
	assert.NoError(t, err, "node is reusable after removal")
}

func TestMarker_UnknownTypeStaysPending(t *testing.T) {
	det := NewReplayDetector(nil)
	b := New(Options{Detector: det})
	require.NoError(t, b.Init(context.Background(), newResources()))
	defer b.Dispose()
	require.NoError(t, b.Update(0))

	id, err := b.AddMarker("", Anchor{Node: scene.NewGroup("blank")})
	require.NoError(t, err)
	assert.False(t, b.Markers().Attached(id))

	_, err = b.AddMarker("", Anchor{})
	assert.Error(t, err)
}

func TestMarker_DuplicateNodeRejected(t *testing.T) {
	b := New(Options{Detector: NewReplayDetector(nil)})
	node := scene.NewGroup("n")
	_, err := b.AddMarker("a", Anchor{Marker: Marker{Barcode: 1}, Node: node})
	require.NoError(t, err)
	_, err = b.AddMarker("b", Anchor{Marker: Marker{Barcode: 2}, Node: node})
	assert.Error(t, err)

	// A duplicate id leaves no stale node behind.
	other := scene.NewGroup("o")
	_, err = b.AddMarker("a", Anchor{Marker: Marker{Barcode: 3}, Node: other})
	require.Error(t, err)
	_, err = b.AddMarker("c", Anchor{Marker: Marker{Barcode: 3}, Node: other})
	assert.NoError(t, err)
}

func TestUpdate_SkippedWhileSourceNotReady(t *testing.T) {
	det := newStub()
	b := New(Options{Detector: det})
	require.NoError(t, b.Init(context.Background(), newResources()))
	defer b.Dispose()

	det.sourceReady.Store(false)
	require.NoError(t, b.Update(0))
	assert.Zero(t, det.Processed())
	_, ok := b.LastKnown()
	assert.False(t, ok)

	det.sourceReady.Store(true)
	require.NoError(t, b.Update(0))
	assert.Equal(t, 1, det.Processed())
}

func TestUpdate_BeforeInitIsNoop(t *testing.T) {
	b := New(Options{Detector: NewReplayDetector(nil)})
	assert.NoError(t, b.Update(0))
}

func TestDispose(t *testing.T) {
	det := newStub()
	res := newResources()
	b := New(Options{Detector: det})
	require.NoError(t, b.Init(context.Background(), res))
	require.NoError(t, b.Update(0))
	_, err := b.AddMarker("", Anchor{Marker: Marker{Barcode: 9}, Node: scene.NewGroup("m")})
	require.NoError(t, err)

	require.NoError(t, b.Dispose())
	require.NoError(t, b.Dispose())
	assert.Equal(t, int32(1), det.disposed.Load())
	assert.Empty(t, res.Scene.Children())
	assert.Zero(t, b.Markers().Len())
}

func TestMarker_TypeAndKey(t *testing.T) {
	tests := []struct {
		m   Marker
		typ MarkerType
		key string
	}{
		{Marker{PatternURL: "hiro.patt", Barcode: 3}, MarkerPattern, "pattern:hiro.patt"},
		{Marker{Barcode: 3}, MarkerBarcode, "barcode:3"},
		{Marker{}, MarkerUnknown, "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.typ, tt.m.Type())
		assert.Equal(t, tt.key, tt.m.Key())
	}
}

func TestParams(t *testing.T) {
	p := Params{}.WithDefaults()
	assert.Equal(t, Params{
		SourceType:          "webcam",
		CameraParametersURL: DefaultCameraParameters,
		DetectionMode:       "mono",
		PatternRatio:        0.5,
		MatrixCodeType:      "3x3",
	}, p)
	assert.NoError(t, p.Validate())

	assert.Error(t, Params{SourceType: "sonar"}.Validate())
	assert.Error(t, Params{MatrixCodeType: "5x5"}.Validate())
	assert.Error(t, Params{PatternRatio: 1}.Validate())
}

func TestParseReplay(t *testing.T) {
	frames, err := ParseReplay(strings.NewReader("# header\nbarcode:1\n\nbarcode:1 pattern:hiro.patt\n"))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"barcode:1"}, {}, {"barcode:1", "pattern:hiro.patt"}}, frames)
}

// flakyTracker fails the first Track call.
type flakyTracker struct {
	*ReplayDetector
	failures atomic.Int32
}

func (f *flakyTracker) Track(node *scene.Node, m Marker) (Controls, error) {
	if f.failures.Add(-1) >= 0 {
		return nil, errors.New("controls not ready")
	}
	return f.ReplayDetector.Track(node, m)
}

func TestMarker_TrackFailureRetriedNextFrame(t *testing.T) {
	det := &flakyTracker{ReplayDetector: NewReplayDetector([][]string{{}, {"barcode:5"}})}
	det.failures.Store(1)
	b := New(Options{Detector: det})

	var attached, found int
	node := scene.NewGroup("cube")
	id, err := b.AddMarker("", Anchor{
		Marker:   Marker{Barcode: 5},
		Node:     node,
		OnAttach: func() { attached++ },
		OnFound:  func() { found++ },
	})
	require.NoError(t, err)
	require.NoError(t, b.Init(context.Background(), newResources()))
	defer b.Dispose()

	require.NoError(t, b.Update(0))
	assert.False(t, b.Markers().Attached(id), "first Track failed")
	assert.False(t, node.Visible())

	require.NoError(t, b.Update(0))
	assert.True(t, b.Markers().Attached(id))
	assert.Equal(t, 1, attached)
	assert.Equal(t, 1, det.Tracking())
	assert.Equal(t, 1, found)

	require.NoError(t, b.Update(0))
	assert.Equal(t, 1, attached, "attaches once")
}
