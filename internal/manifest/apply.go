package manifest

import (
	"fmt"

	"github.com/banshee-data/xrsession/internal/backends/fiducial"
	"github.com/banshee-data/xrsession/internal/backends/geolocation"
	"github.com/banshee-data/xrsession/internal/geo"
	"github.com/banshee-data/xrsession/internal/monitoring"
	"github.com/banshee-data/xrsession/internal/scene"
)

func (a *GeoAnchor) coord() geo.Coord {
	c := geo.Coord{Lat: a.Lat, Lon: a.Lon}
	if a.Alt != nil {
		c.Alt = *a.Alt
	}
	return c
}

func (l *GeoLine) path() []geo.Coord {
	out := make([]geo.Coord, len(l.Points))
	for i, p := range l.Points {
		out[i] = geo.Coord{Lat: p[0], Lon: p[1]}
		if len(p) == 3 {
			out[i].Alt = p[2]
		}
	}
	return out
}

// ApplyGeo registers every geo_anchor and geo_line with b, one new group node
// per block named after it. It returns the registered ids.
func (m *Manifest) ApplyGeo(b *geolocation.Backend) ([]string, error) {
	var ids []string
	for _, a := range m.GeoAnchors {
		name := a.Name
		id, err := b.RegisterAnchor(name, geolocation.Anchor{
			Target: geolocation.Target{
				Coord:     a.coord(),
				Billboard: a.Billboard != nil && *a.Billboard,
			},
			Node:     scene.NewGroup(name),
			OnAttach: func() { monitoring.Diagf("manifest: geo_anchor %s attached", name) },
		})
		if err != nil {
			return ids, fmt.Errorf("geo_anchor %q: %w", name, err)
		}
		ids = append(ids, id)
	}
	for _, l := range m.GeoLines {
		name := l.Name
		id, err := b.RegisterAnchor(name, geolocation.Anchor{
			Target: geolocation.Target{
				Path:   l.path(),
				Closed: l.Closed != nil && *l.Closed,
			},
			Node:     scene.NewGroup(name),
			OnAttach: func() { monitoring.Diagf("manifest: geo_line %s attached", name) },
		})
		if err != nil {
			return ids, fmt.Errorf("geo_line %q: %w", name, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ApplyMarkers registers every marker block with b.
func (m *Manifest) ApplyMarkers(b *fiducial.Backend) ([]string, error) {
	var ids []string
	for _, mk := range m.Markers {
		name := mk.Name
		marker := fiducial.Marker{}
		if mk.Pattern != nil {
			marker.PatternURL = *mk.Pattern
		}
		if mk.Barcode != nil {
			marker.Barcode = *mk.Barcode
		}
		id, err := b.AddMarker(name, fiducial.Anchor{
			Marker:   marker,
			Node:     scene.NewGroup(name),
			OnAttach: func() { monitoring.Diagf("manifest: marker %s tracked", name) },
			OnFound:  func() { monitoring.Diagf("manifest: marker %s found", name) },
			OnLost:   func() { monitoring.Diagf("manifest: marker %s lost", name) },
		})
		if err != nil {
			return ids, fmt.Errorf("marker %q: %w", name, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
