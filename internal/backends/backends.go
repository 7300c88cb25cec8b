// Package backends constructs tracking backends from their options.
//
// Options is sealed: only the three variants below implement it. New and
// every other consumer go through Visitor, which has one method per kind, so
// a new kind does not compile until each visitor handles it.
package backends

import (
	"errors"
	"fmt"

	"github.com/banshee-data/xrsession/internal/backends/fiducial"
	"github.com/banshee-data/xrsession/internal/backends/geolocation"
	"github.com/banshee-data/xrsession/internal/backends/immersive"
	"github.com/banshee-data/xrsession/internal/xr"
)

// ErrNoOptions is returned for a nil Options.
var ErrNoOptions = errors.New("backends: no options")

// Options selects a backend kind and carries its configuration.
type Options interface {
	Kind() xr.Kind
	sealed()
}

type FiducialOptions struct{ fiducial.Options }
type GeolocationOptions struct{ geolocation.Options }
type ImmersiveOptions struct{ immersive.Options }

func (FiducialOptions) Kind() xr.Kind    { return xr.KindFiducial }
func (GeolocationOptions) Kind() xr.Kind { return xr.KindGeolocation }
func (ImmersiveOptions) Kind() xr.Kind   { return xr.KindImmersive }

func (FiducialOptions) sealed()    {}
func (GeolocationOptions) sealed() {}
func (ImmersiveOptions) sealed()   {}

// Visitor handles each kind of Options.
type Visitor[T any] interface {
	Fiducial(FiducialOptions) T
	Geolocation(GeolocationOptions) T
	Immersive(ImmersiveOptions) T
}

// Match dispatches o to the visitor method for its kind.
func Match[T any](o Options, v Visitor[T]) (T, error) {
	switch o := o.(type) {
	case FiducialOptions:
		return v.Fiducial(o), nil
	case *FiducialOptions:
		return v.Fiducial(*o), nil
	case GeolocationOptions:
		return v.Geolocation(o), nil
	case *GeolocationOptions:
		return v.Geolocation(*o), nil
	case ImmersiveOptions:
		return v.Immersive(o), nil
	case *ImmersiveOptions:
		return v.Immersive(*o), nil
	}
	var zero T
	if o == nil {
		return zero, ErrNoOptions
	}
	return zero, fmt.Errorf("backends: unhandled options %T", o)
}

type constructor struct{}

func (constructor) Fiducial(o FiducialOptions) xr.Backend {
	return fiducial.New(o.Options)
}

func (constructor) Geolocation(o GeolocationOptions) xr.Backend {
	return geolocation.New(o.Options)
}

func (constructor) Immersive(o ImmersiveOptions) xr.Backend {
	return immersive.New(o.Options)
}

// New returns an uninitialized backend for o.
func New(o Options) (xr.Backend, error) {
	return Match[xr.Backend](o, constructor{})
}

// describer renders options for logs and the debug surface.
type describer struct{}

func (describer) Fiducial(o FiducialOptions) string {
	p := o.Params.WithDefaults()
	return fmt.Sprintf("fiducial source=%s mode=%s matrix=%s", p.SourceType, p.DetectionMode, p.MatrixCodeType)
}

func (describer) Geolocation(o GeolocationOptions) string {
	switch {
	case o.FakeLat != nil && o.FakeLon != nil:
		return fmt.Sprintf("geolocation fake=%.6f,%.6f", *o.FakeLat, *o.FakeLon)
	case o.Receiver != nil:
		return "geolocation receiver"
	default:
		return "geolocation idle"
	}
}

func (describer) Immersive(o ImmersiveOptions) string {
	mode := o.Mode
	if mode == "" {
		mode = immersive.ModeAR
	}
	return "immersive mode=" + string(mode)
}

// Describe returns a one-line summary of o.
func Describe(o Options) string {
	s, err := Match[string](o, describer{})
	if err != nil {
		return err.Error()
	}
	return s
}
