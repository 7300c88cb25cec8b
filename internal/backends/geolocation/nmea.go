package geolocation

import (
	"fmt"
	"time"

	"github.com/adrianmo/go-nmea"

	"github.com/banshee-data/xrsession/internal/geo"
)

// uere is the user-equivalent range error, in metres, used to turn HDOP into
// a horizontal accuracy estimate.
const uere = 5.0

// sentenceDecoder turns receiver lines into positions. GGA is preferred since
// it carries altitude and HDOP; RMC is used only by receivers that never send
// GGA.
type sentenceDecoder struct {
	sawGGA bool
	now    func() time.Time
}

// decode returns the position carried by line. ok is false for sentences that
// carry no usable fix (other types, no satellite lock).
func (d *sentenceDecoder) decode(line string) (pos Position, ok bool, err error) {
	s, err := nmea.Parse(line)
	if err != nil {
		return Position{}, false, fmt.Errorf("parse %q: %w", line, err)
	}

	switch m := s.(type) {
	case nmea.GGA:
		d.sawGGA = true
		if m.FixQuality == nmea.Invalid {
			return Position{}, false, nil
		}
		return Position{
			Coord:      geo.Coord{Lat: m.Latitude, Lon: m.Longitude, Alt: m.Altitude},
			Accuracy:   m.HDOP * uere,
			Satellites: int(m.NumSatellites),
			Time:       d.now(),
			Source:     SourceGPS,
		}, true, nil

	case nmea.RMC:
		if d.sawGGA || m.Validity != nmea.ValidRMC {
			return Position{}, false, nil
		}
		return Position{
			Coord:  geo.Coord{Lat: m.Latitude, Lon: m.Longitude},
			Time:   d.now(),
			Source: SourceGPS,
		}, true, nil
	}
	return Position{}, false, nil
}
