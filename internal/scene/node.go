// Package scene is the small in-process scene graph the session runtime hands
// to backends. It carries only what the runtime and the tracking backends
// touch: parenting, visibility, position and heading. Geometry and drawing
// belong to whatever engine renders the graph.
package scene

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"
)

// graphMu guards parent/child links across every graph. Structural edits are
// rare compared to per-frame reads, so one lock keeps reparenting deadlock-free.
var graphMu sync.RWMutex

// Node is a group in the scene graph.
type Node struct {
	name string

	// guarded by graphMu
	parent   *Node
	children []*Node

	mu       sync.RWMutex
	visible  bool
	position r3.Vec
	yaw      float64
	pitch    float64
}

// NewGroup returns an empty, visible node.
func NewGroup(name string) *Node {
	return &Node{name: name, visible: true}
}

// Name returns the node's name.
func (n *Node) Name() string { return n.name }

// Add parents child under n, detaching it from any previous parent first.
func (n *Node) Add(child *Node) {
	if child == nil || child == n {
		return
	}
	graphMu.Lock()
	defer graphMu.Unlock()
	if child.parent != nil {
		child.parent.removeLocked(child)
	}
	child.parent = n
	n.children = append(n.children, child)
}

// Remove detaches child from n. It reports whether child was a child of n.
func (n *Node) Remove(child *Node) bool {
	graphMu.Lock()
	defer graphMu.Unlock()
	if child == nil || child.parent != n {
		return false
	}
	n.removeLocked(child)
	return true
}

// RemoveFromParent detaches n from its owner. Detaching an orphan is a no-op.
func (n *Node) RemoveFromParent() bool {
	graphMu.Lock()
	defer graphMu.Unlock()
	if n.parent == nil {
		return false
	}
	n.parent.removeLocked(n)
	return true
}

func (n *Node) removeLocked(child *Node) {
	for i, c := range n.children {
		if c == child {
			n.children = append(n.children[:i], n.children[i+1:]...)
			break
		}
	}
	child.parent = nil
}

// Parent returns the node's owner, or nil.
func (n *Node) Parent() *Node {
	graphMu.RLock()
	defer graphMu.RUnlock()
	return n.parent
}

// Children returns a copy of the node's children.
func (n *Node) Children() []*Node {
	graphMu.RLock()
	defer graphMu.RUnlock()
	out := make([]*Node, len(n.children))
	copy(out, n.children)
	return out
}

// Walk visits n and its descendants depth first. fn returning false prunes
// the subtree below the visited node.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.Children() {
		c.Walk(fn)
	}
}

// Visible reports the node's own visibility flag.
func (n *Node) Visible() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.visible
}

// SetVisible sets the node's own visibility flag.
func (n *Node) SetVisible(v bool) {
	n.mu.Lock()
	n.visible = v
	n.mu.Unlock()
}

// Position returns the position relative to the parent.
func (n *Node) Position() r3.Vec {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.position
}

// SetPosition sets the position relative to the parent.
func (n *Node) SetPosition(p r3.Vec) {
	n.mu.Lock()
	n.position = p
	n.mu.Unlock()
}

// WorldPosition sums positions up the parent chain. Nodes carry no rotation
// into their children, so this is exact for the graph.
func (n *Node) WorldPosition() r3.Vec {
	graphMu.RLock()
	defer graphMu.RUnlock()
	var p r3.Vec
	for cur := n; cur != nil; cur = cur.parent {
		cur.mu.RLock()
		p = r3.Add(p, cur.position)
		cur.mu.RUnlock()
	}
	return p
}

// Heading returns yaw and pitch in radians.
func (n *Node) Heading() (yaw, pitch float64) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.yaw, n.pitch
}

// LookAt turns the node to face target, given in world space.
func (n *Node) LookAt(target r3.Vec) {
	d := r3.Sub(target, n.WorldPosition())
	if r3.Norm(d) == 0 {
		return
	}
	yaw := math.Atan2(d.X, d.Z)
	pitch := math.Atan2(d.Y, math.Hypot(d.X, d.Z))
	n.mu.Lock()
	n.yaw, n.pitch = yaw, pitch
	n.mu.Unlock()
}

// SetHeading sets yaw and pitch in radians.
func (n *Node) SetHeading(yaw, pitch float64) {
	n.mu.Lock()
	n.yaw, n.pitch = yaw, pitch
	n.mu.Unlock()
}
