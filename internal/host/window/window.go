// Package window hosts the session in a desktop window. ebiten drives the
// render loop; each Update ticks the frame dispatcher and Draw plots the scene
// top-down around the camera.
package window

import (
	"context"
	"errors"
	"image/color"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/vector"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/xrsession/internal/host"
	"github.com/banshee-data/xrsession/internal/monitoring"
	"github.com/banshee-data/xrsession/internal/scene"
	"github.com/banshee-data/xrsession/internal/version"
	"github.com/banshee-data/xrsession/internal/xr"
	"github.com/banshee-data/xrsession/internal/xr/frame"
)

// Config sizes the window.
type Config struct {
	Width, Height  int
	TPS            int
	MetresPerPixel float64
}

var (
	background = color.RGBA{0x10, 0x14, 0x1c, 0xff}
	markColour = color.RGBA{0x3c, 0xc8, 0x8c, 0xff}
	edgeColour = color.RGBA{0x50, 0x78, 0xb4, 0xff}
	camColour  = color.RGBA{0xf0, 0xc8, 0x3c, 0xff}
)

// Game implements ebiten.Game over a running session.
type Game struct {
	ctx  context.Context
	disp *frame.Dispatcher
	res  xr.Resources
	view host.View
}

func New(ctx context.Context, d *frame.Dispatcher, res xr.Resources, cfg Config) *Game {
	return &Game{
		ctx:  ctx,
		disp: d,
		res:  res,
		view: host.View{Width: cfg.Width, Height: cfg.Height, MetresPerPixel: cfg.MetresPerPixel},
	}
}

// Update ends the game once ctx is done, otherwise ticks the session.
func (g *Game) Update() error {
	if g.ctx.Err() != nil {
		return ebiten.Termination
	}
	g.disp.TickDelta(1 / float64(ebiten.TPS()))
	return nil
}

func (g *Game) Draw(screen *ebiten.Image) {
	screen.Fill(background)
	var cam r3.Vec
	if g.res.Camera != nil {
		cam = g.res.Camera.WorldPosition()
	}
	marks := host.Plot(g.res.Scene, cam, g.view)
	for _, m := range marks {
		if m.Parent >= 0 {
			p := marks[m.Parent]
			vector.StrokeLine(screen, float32(p.X), float32(p.Y), float32(m.X), float32(m.Y), 1, edgeColour, true)
		}
	}
	for _, m := range marks {
		vector.DrawFilledRect(screen, float32(m.X)-2, float32(m.Y)-2, 4, 4, markColour, false)
	}
	cx, cy := float32(g.view.Width)/2, float32(g.view.Height)/2
	vector.DrawFilledCircle(screen, cx, cy, 4, camColour, true)
}

// Layout keeps the logical screen at the window size and resizes the shared
// renderer to match, so backends see the real aspect.
func (g *Game) Layout(outsideWidth, outsideHeight int) (int, int) {
	if outsideWidth != g.view.Width || outsideHeight != g.view.Height {
		g.view.Width, g.view.Height = outsideWidth, outsideHeight
		if g.res.Renderer != nil {
			g.res.Renderer.SetSize(outsideWidth, outsideHeight)
			scene.FitCamera(g.res.Camera, g.res.Renderer)
		}
	}
	return outsideWidth, outsideHeight
}

// Run opens the window and blocks until it is closed or ctx ends.
func Run(ctx context.Context, d *frame.Dispatcher, res xr.Resources, cfg Config) error {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = 800, 600
	}
	if cfg.TPS <= 0 {
		cfg.TPS = 60
	}
	if cfg.MetresPerPixel <= 0 {
		cfg.MetresPerPixel = 0.25
	}
	ebiten.SetWindowTitle("xrsession (" + version.String() + ")")
	ebiten.SetWindowSize(cfg.Width, cfg.Height)
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetTPS(cfg.TPS)

	monitoring.Diagf("window: %dx%d at %d TPS", cfg.Width, cfg.Height, cfg.TPS)
	err := ebiten.RunGame(New(ctx, d, res, cfg))
	if errors.Is(err, ebiten.Termination) {
		return nil
	}
	return err
}
