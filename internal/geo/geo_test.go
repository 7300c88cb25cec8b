package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestProjectRoundTrip(t *testing.T) {
	for _, c := range []Coord{{Lat: 0, Lon: 0}, {Lat: 51.05, Lon: -0.72}, {Lat: -33.86, Lon: 151.21}} {
		x, y := Project(c.Lon, c.Lat)
		lon, lat := Unproject(x, y)
		assert.InDelta(t, c.Lon, lon, 1e-9)
		assert.InDelta(t, c.Lat, lat, 1e-9)
	}
}

func TestOrigin_ToWorldAxes(t *testing.T) {
	o := NewOrigin(Coord{Lat: 51.05, Lon: -0.72})
	require.True(t, o.IsSet())

	assert.Equal(t, r3.Vec{}, o.ToWorld(Coord{Lat: 51.05, Lon: -0.72}))

	east := o.ToWorld(Coord{Lat: 51.05, Lon: -0.719})
	assert.Greater(t, east.X, 0.0)
	assert.InDelta(t, 0, east.Z, 1e-6)

	north := o.ToWorld(Coord{Lat: 51.051, Lon: -0.72, Alt: 12})
	assert.Less(t, north.Z, 0.0)
	assert.Equal(t, 12.0, north.Y)
}

func TestDistance(t *testing.T) {
	// one degree of latitude is ~111.2 km on the mean sphere
	d := Distance(Coord{Lat: 0, Lon: 0}, Coord{Lat: 1, Lon: 0})
	assert.InDelta(t, 111195, d, 5)
	assert.Zero(t, Distance(Coord{Lat: 10, Lon: 10}, Coord{Lat: 10, Lon: 10}))
}

func TestLocalPath(t *testing.T) {
	assert.Nil(t, LocalPath(nil))

	path := LocalPath([]Coord{
		{Lat: 51.05, Lon: -0.72, Alt: 10},
		{Lat: 51.05, Lon: -0.719, Alt: 15},
	})
	require.Len(t, path, 2)
	assert.Equal(t, r3.Vec{}, path[0])
	assert.Greater(t, path[1].X, 0.0)
	assert.Equal(t, 5.0, path[1].Y)
}
