package backends

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/xrsession/internal/backends/fiducial"
	"github.com/banshee-data/xrsession/internal/backends/geolocation"
	"github.com/banshee-data/xrsession/internal/backends/immersive"
	"github.com/banshee-data/xrsession/internal/xr"
)

func TestNew_EachKind(t *testing.T) {
	lat, lon := 51.05, -0.72
	tests := []struct {
		name string
		opts Options
		want xr.Kind
		desc string
	}{
		{"fiducial", FiducialOptions{fiducial.Options{Detector: fiducial.NewReplayDetector(nil)}}, xr.KindFiducial, "fiducial source=webcam mode=mono matrix=3x3"},
		{"geolocation", GeolocationOptions{geolocation.Options{FakeLat: &lat, FakeLon: &lon}}, xr.KindGeolocation, "geolocation fake=51.050000,-0.720000"},
		{"geolocation pointer", &GeolocationOptions{}, xr.KindGeolocation, "geolocation idle"},
		{"immersive", ImmersiveOptions{immersive.Options{Mode: immersive.ModeVR}}, xr.KindImmersive, "immersive mode=vr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := New(tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, b.Kind())
			assert.Equal(t, tt.want, tt.opts.Kind())
			assert.Equal(t, tt.desc, Describe(tt.opts))
		})
	}
}

func TestNew_NilOptions(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrNoOptions)
	assert.Equal(t, ErrNoOptions.Error(), Describe(nil))
}

type kindCounter map[xr.Kind]int

func (c kindCounter) Fiducial(FiducialOptions) int       { return c.add(xr.KindFiducial) }
func (c kindCounter) Geolocation(GeolocationOptions) int { return c.add(xr.KindGeolocation) }
func (c kindCounter) Immersive(ImmersiveOptions) int     { return c.add(xr.KindImmersive) }

func (c kindCounter) add(k xr.Kind) int {
	c[k]++
	return c[k]
}

func TestMatch_CustomVisitor(t *testing.T) {
	c := kindCounter{}
	for _, o := range []Options{FiducialOptions{}, ImmersiveOptions{}, &ImmersiveOptions{}} {
		_, err := Match[int](o, c)
		require.NoError(t, err)
	}
	assert.Equal(t, kindCounter{xr.KindFiducial: 1, xr.KindImmersive: 2}, c)
}
