package geolocation

import (
	"fmt"

	"github.com/banshee-data/xrsession/internal/geo"
	"github.com/banshee-data/xrsession/internal/scene"
	"github.com/banshee-data/xrsession/internal/xr/anchor"
)

// Target is where a geographic anchor goes.
type Target struct {
	Coord geo.Coord
	// Path, when set, makes the anchor a line or polygon: the node is placed
	// at Path[0] and carries one child per vertex at its local offset.
	Path   []geo.Coord
	Closed bool
	// Billboard turns the node toward the camera every frame once placed.
	Billboard bool
}

// Anchor is a geographic anchor declaration.
type Anchor struct {
	Target   Target
	Node     *scene.Node
	OnAttach func()
	OnFix    func(Fix)
}

type placer struct{ b *Backend }

// Place projects the target relative to the world origin and parents node
// under the backend root.
func (p placer) Place(node *scene.Node, t Target, _ Fix) error {
	origin := p.b.Origin()
	if !origin.IsSet() {
		return ErrNoOrigin
	}
	if p.b.root == nil {
		return ErrNoScene
	}
	node.SetPosition(origin.ToWorld(t.Coord))
	p.b.root.Add(node)
	return nil
}

func (placer) Detach(node *scene.Node) { node.RemoveFromParent() }

// RegisterAnchor declares a. It attaches on the next accepted fix, or at once
// if a fix has already been accepted. An empty id is generated.
func (b *Backend) RegisterAnchor(id string, a Anchor) (string, error) {
	if len(a.Target.Path) > 0 {
		a.Target.Coord = a.Target.Path[0]
		if err := buildPath(a.Node, a.Target.Path, a.Target.Closed); err != nil {
			return "", err
		}
	}
	return b.anchors.RegisterAnchor(id, anchor.Entry[Target, Fix]{
		Target:             a.Target,
		Node:               a.Node,
		OnAttach:           a.OnAttach,
		OnResolutionUpdate: a.OnFix,
	})
}

// UnregisterAnchor withdraws id, detaching its node if placed.
func (b *Backend) UnregisterAnchor(id string) { b.anchors.UnregisterAnchor(id) }

// VertexName is the name of a path node's i-th vertex child.
func VertexName(i int) string { return fmt.Sprintf("vertex-%d", i) }

// buildPath gives node one child per vertex at its offset from path[0]. A
// closed path repeats the first vertex at the end.
func buildPath(node *scene.Node, path []geo.Coord, closed bool) error {
	if node == nil {
		return anchor.ErrNoNode
	}
	if closed && len(path) < 3 {
		return fmt.Errorf("geolocation: polygon needs at least 3 vertices, got %d", len(path))
	}
	if !closed && len(path) < 2 {
		return fmt.Errorf("geolocation: line needs at least 2 vertices, got %d", len(path))
	}
	offsets := geo.LocalPath(path)
	if closed {
		offsets = append(offsets, offsets[0])
	}
	for i, off := range offsets {
		v := scene.NewGroup(VertexName(i))
		v.SetPosition(off)
		node.Add(v)
	}
	return nil
}
