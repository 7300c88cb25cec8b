// Package geo converts geographic coordinates into the session's world space.
//
// World space follows the location-based AR convention: the first GPS fix is
// the origin, +X points east, +Y is altitude and -Z points north. Coordinates
// are projected with spherical Mercator, which is what consumer map stacks
// use and is accurate enough over the few kilometres an AR scene spans.
package geo

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// EarthRadius is the spherical-Mercator radius in metres.
const EarthRadius = 6378137.0

// haversineRadius is the mean Earth radius used for great-circle distances.
const haversineRadius = 6371000.0

// Coord is a WGS84 position. Alt is metres above the reference surface.
type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
	Alt float64 `json:"alt"`
}

// Project returns spherical-Mercator easting and northing in metres.
func Project(lon, lat float64) (x, y float64) {
	x = EarthRadius * lon * math.Pi / 180
	y = EarthRadius * math.Log(math.Tan(math.Pi/4+lat*math.Pi/360))
	return x, y
}

// Unproject inverts Project.
func Unproject(x, y float64) (lon, lat float64) {
	lon = x / EarthRadius * 180 / math.Pi
	lat = (2*math.Atan(math.Exp(y/EarthRadius)) - math.Pi/2) * 180 / math.Pi
	return lon, lat
}

// Origin anchors world space at a projected position.
type Origin struct {
	x, y float64
	set  bool
}

// NewOrigin returns an origin at c.
func NewOrigin(c Coord) Origin {
	x, y := Project(c.Lon, c.Lat)
	return Origin{x: x, y: y, set: true}
}

// IsSet reports whether the origin has been fixed.
func (o Origin) IsSet() bool { return o.set }

// ToWorld converts c to world coordinates relative to o.
func (o Origin) ToWorld(c Coord) r3.Vec {
	x, y := Project(c.Lon, c.Lat)
	return r3.Vec{X: x - o.x, Y: c.Alt, Z: -(y - o.y)}
}

// Distance returns the great-circle distance between a and b in metres.
func Distance(a, b Coord) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * haversineRadius * math.Asin(math.Min(1, math.Sqrt(h)))
}

// LocalPath returns the offsets of path from its first vertex, in world
// units. A node placed at path[0] can parent geometry built from these.
func LocalPath(path []Coord) []r3.Vec {
	if len(path) == 0 {
		return nil
	}
	origin := NewOrigin(path[0])
	out := make([]r3.Vec, len(path))
	for i, c := range path {
		v := origin.ToWorld(c)
		v.Y = c.Alt - path[0].Alt
		out[i] = v
	}
	return out
}
