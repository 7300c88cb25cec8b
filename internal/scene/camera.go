package scene

import "sync"

// Camera is the shared viewpoint. Backends may move it (orientation sensors)
// and adjust its aspect; projection math is left to the renderer.
type Camera struct {
	*Node

	mu     sync.Mutex
	fov    float64
	aspect float64
}

// NewCamera returns a camera with the given vertical field of view in degrees.
func NewCamera(fov float64) *Camera {
	return &Camera{Node: NewGroup("camera"), fov: fov, aspect: 1}
}

// FOV returns the vertical field of view in degrees.
func (c *Camera) FOV() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fov
}

// SetFOV replaces the vertical field of view. Non-positive values are
// ignored.
func (c *Camera) SetFOV(fov float64) {
	if fov <= 0 {
		return
	}
	c.mu.Lock()
	c.fov = fov
	c.mu.Unlock()
}

// Aspect returns width / height.
func (c *Camera) Aspect() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aspect
}

// SetAspect updates width / height. Non-positive values are ignored.
func (c *Camera) SetAspect(a float64) {
	if a <= 0 {
		return
	}
	c.mu.Lock()
	c.aspect = a
	c.mu.Unlock()
}

// Renderer is the drawing surface handed to backends at init.
type Renderer interface {
	SetSize(width, height int)
	Size() (width, height int)
}

// HeadlessRenderer records its size and draws nothing.
type HeadlessRenderer struct {
	mu     sync.Mutex
	width  int
	height int
}

// NewHeadlessRenderer returns a renderer of the given size.
func NewHeadlessRenderer(width, height int) *HeadlessRenderer {
	return &HeadlessRenderer{width: width, height: height}
}

// SetSize implements Renderer.
func (r *HeadlessRenderer) SetSize(width, height int) {
	r.mu.Lock()
	r.width, r.height = width, height
	r.mu.Unlock()
}

// Size implements Renderer.
func (r *HeadlessRenderer) Size() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.width, r.height
}

// FitCamera matches the camera aspect to the renderer.
func FitCamera(c *Camera, r Renderer) {
	if c == nil || r == nil {
		return
	}
	w, h := r.Size()
	if h > 0 {
		c.SetAspect(float64(w) / float64(h))
	}
}
