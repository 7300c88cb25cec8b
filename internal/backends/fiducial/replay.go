package fiducial

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/banshee-data/xrsession/internal/scene"
)

// ReplayDetector plays back a recorded sequence of detection frames. Each
// frame lists the marker keys in view; tracked nodes are shown while their
// key is listed. The sequence loops.
type ReplayDetector struct {
	Calibration Calibration
	// ControllerDelay is the number of ControllerReady calls that report
	// false after context init, mirroring trackers whose controller appears a
	// frame or two late.
	ControllerDelay int

	mu        sync.Mutex
	frames    [][]string
	pos       int
	sourceOK  bool
	contextOK bool
	delay     int
	tracked   map[*scene.Node]string
	disposed  bool
	processed int
}

// NewReplayDetector returns a detector replaying frames.
func NewReplayDetector(frames [][]string) *ReplayDetector {
	return &ReplayDetector{
		Calibration: Calibration{FOV: 60, Width: 640, Height: 480},
		frames:      frames,
		tracked:     make(map[*scene.Node]string),
	}
}

// ParseReplay reads one frame per line, marker keys separated by spaces.
// Blank lines are frames with nothing in view; lines starting with # are
// skipped.
func ParseReplay(r io.Reader) ([][]string, error) {
	var frames [][]string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "#") {
			continue
		}
		frames = append(frames, strings.Fields(line))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read replay: %w", err)
	}
	return frames, nil
}

func (d *ReplayDetector) InitSource(ctx context.Context, _ Params) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sourceOK = true
	return nil
}

func (d *ReplayDetector) InitContext(ctx context.Context, _ Params) (Calibration, error) {
	if err := ctx.Err(); err != nil {
		return Calibration{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.sourceOK {
		return Calibration{}, errors.New("replay: source not initialized")
	}
	d.contextOK = true
	d.delay = d.ControllerDelay
	return d.Calibration, nil
}

func (d *ReplayDetector) SourceReady() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sourceOK && !d.disposed
}

func (d *ReplayDetector) ControllerReady() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.contextOK {
		return false
	}
	if d.delay > 0 {
		d.delay--
		return false
	}
	return true
}

type replayControls struct {
	d    *ReplayDetector
	node *scene.Node
}

func (c replayControls) Dispose() {
	c.d.mu.Lock()
	delete(c.d.tracked, c.node)
	c.d.mu.Unlock()
}

func (d *ReplayDetector) Track(node *scene.Node, m Marker) (Controls, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.contextOK {
		return nil, errors.New("replay: controller not ready")
	}
	if m.Type() == MarkerUnknown {
		return nil, errors.New("replay: marker has neither pattern nor barcode")
	}
	d.tracked[node] = m.Key()
	return replayControls{d: d, node: node}, nil
}

// Process advances one frame and sets each tracked node's visibility.
func (d *ReplayDetector) Process() error {
	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		return errors.New("replay: disposed")
	}
	var frame []string
	if len(d.frames) > 0 {
		frame = d.frames[d.pos%len(d.frames)]
		d.pos++
	}
	d.processed++
	tracked := make(map[*scene.Node]string, len(d.tracked))
	for n, k := range d.tracked {
		tracked[n] = k
	}
	d.mu.Unlock()

	for node, key := range tracked {
		visible := false
		for _, k := range frame {
			if k == key {
				visible = true
				break
			}
		}
		node.SetVisible(visible)
	}
	return nil
}

// Processed returns how many frames have been processed.
func (d *ReplayDetector) Processed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.processed
}

// Tracking returns how many nodes currently have controls.
func (d *ReplayDetector) Tracking() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tracked)
}

func (d *ReplayDetector) Dispose() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disposed = true
	clear(d.tracked)
	return nil
}

var _ Detector = (*ReplayDetector)(nil)
