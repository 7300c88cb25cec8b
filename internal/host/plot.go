package host

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/xrsession/internal/scene"
)

// View maps world metres onto a top-down screen centred on the camera.
type View struct {
	Width, Height  int
	MetresPerPixel float64
}

// ToScreen projects w to pixel coordinates. North (-Z) is up and east (+X)
// is right.
func (v View) ToScreen(w, centre r3.Vec) (x, y float64) {
	mpp := v.MetresPerPixel
	if mpp <= 0 {
		mpp = 1
	}
	x = (w.X-centre.X)/mpp + float64(v.Width)/2
	y = (w.Z-centre.Z)/mpp + float64(v.Height)/2
	return x, y
}

// Mark is one visible node on the plot.
type Mark struct {
	Name string
	X, Y float64
	// Parent indexes the mark of the nearest visible ancestor drawn on the
	// plot, or -1.
	Parent int
}

// Plot collects every visible node under root, excluding root itself, in
// screen coordinates. Hidden nodes prune their subtree.
func Plot(root *scene.Node, centre r3.Vec, v View) []Mark {
	if root == nil {
		return nil
	}
	var marks []Mark
	var walk func(n *scene.Node, parent int)
	walk = func(n *scene.Node, parent int) {
		for _, c := range n.Children() {
			if !c.Visible() {
				continue
			}
			x, y := v.ToScreen(c.WorldPosition(), centre)
			marks = append(marks, Mark{Name: c.Name(), X: x, Y: y, Parent: parent})
			walk(c, len(marks)-1)
		}
	}
	walk(root, -1)
	return marks
}
