package anchor

import (
	"sync"

	"github.com/banshee-data/xrsession/internal/monitoring"
	"github.com/banshee-data/xrsession/internal/scene"
)

// Edge is the result of one visibility sample.
type Edge int

const (
	EdgeNone Edge = iota
	EdgeFound
	EdgeLost
)

func (e Edge) String() string {
	switch e {
	case EdgeFound:
		return "found"
	case EdgeLost:
		return "lost"
	default:
		return "none"
	}
}

// VisibilityTracker turns a polled visible flag into found/lost edges.
//
// Node is owned by an external tracker that toggles its visibility once it
// has taken over the node's transform. Until SetInitialized is called the
// node is forced hidden so it never flashes at the origin.
type VisibilityTracker struct {
	Node    *scene.Node
	OnFound func()
	OnLost  func()

	mu          sync.Mutex
	initialized bool
	visible     bool
}

// NewVisibilityTracker hides node and returns an uninitialized tracker.
func NewVisibilityTracker(node *scene.Node, onFound, onLost func()) *VisibilityTracker {
	node.SetVisible(false)
	return &VisibilityTracker{Node: node, OnFound: onFound, OnLost: onLost}
}

// SetInitialized marks the node's transform as owned by the tracker.
func (v *VisibilityTracker) SetInitialized() {
	v.mu.Lock()
	v.initialized = true
	v.mu.Unlock()
}

// Initialized reports whether SetInitialized has been called.
func (v *VisibilityTracker) Initialized() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.initialized
}

// Sample reads the node's visible flag and reports the edge, if any.
func (v *VisibilityTracker) Sample() Edge {
	v.mu.Lock()
	if !v.initialized {
		v.mu.Unlock()
		v.Node.SetVisible(false)
		return EdgeNone
	}
	v.mu.Unlock()
	return v.Observe(v.Node.Visible())
}

// Observe feeds one visibility sample and fires OnFound on a rising edge or
// OnLost on a falling one. Repeated samples of the same state fire nothing.
func (v *VisibilityTracker) Observe(visible bool) Edge {
	v.mu.Lock()
	if visible == v.visible {
		v.mu.Unlock()
		return EdgeNone
	}
	v.visible = visible
	v.mu.Unlock()

	edge, fn := EdgeLost, v.OnLost
	if visible {
		edge, fn = EdgeFound, v.OnFound
	}
	monitoring.Tracef("anchor %s: %s", v.Node.Name(), edge)
	if fn != nil {
		func() {
			defer func() {
				if p := recover(); p != nil {
					monitoring.Opsf("anchor %s %s callback panicked: %v", v.Node.Name(), edge, p)
				}
			}()
			fn()
		}()
	}
	return edge
}

// Visible returns the last observed state.
func (v *VisibilityTracker) Visible() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.visible
}
