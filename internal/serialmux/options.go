package serialmux

import (
	"fmt"
	"slices"
	"strings"

	"go.bug.st/serial"
)

// DefaultBaudRate is the NMEA 0183 standard rate most receivers boot at.
const DefaultBaudRate = 9600

// receiverBaudRates are the rates GPS modules can be switched between,
// 4800 (NMEA 0183 legacy) up to the 921600 some u-blox parts accept.
var receiverBaudRates = []int{4800, 9600, 19200, 38400, 57600, 115200, 230400, 460800, 921600}

var parities = map[string]serial.Parity{
	"N": serial.NoParity,
	"E": serial.EvenParity,
	"O": serial.OddParity,
}

// PortOptions are the line settings for the receiver's serial port. The JSON
// tags match the gps_serial block of the session config and the journal.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// Normalise fills zero fields with 9600 8N1 and canonicalises parity to a
// single letter.
func (o PortOptions) Normalise() (PortOptions, error) {
	if o.BaudRate <= 0 {
		o.BaudRate = DefaultBaudRate
	}
	if o.DataBits == 0 {
		o.DataBits = 8
	}
	if o.StopBits == 0 {
		o.StopBits = 1
	}
	o.Parity = canonicalParity(o.Parity)

	switch {
	case !slices.Contains(receiverBaudRates, o.BaudRate):
		return o, fmt.Errorf("baud rate %d not supported by GPS receivers", o.BaudRate)
	case o.DataBits < 7 || o.DataBits > 8:
		return o, fmt.Errorf("data bits %d: NMEA needs 7 or 8", o.DataBits)
	case o.StopBits != 1 && o.StopBits != 2:
		return o, fmt.Errorf("stop bits %d: want 1 or 2", o.StopBits)
	}
	if _, ok := parities[o.Parity]; !ok {
		return o, fmt.Errorf("parity %q: want none, even or odd", o.Parity)
	}
	return o, nil
}

func canonicalParity(p string) string {
	p = strings.ToUpper(strings.TrimSpace(p))
	switch p {
	case "", "NONE":
		return "N"
	case "EVEN":
		return "E"
	case "ODD":
		return "O"
	}
	return p
}

// Equal compares the normalised forms, so "" and "none" match.
func (o PortOptions) Equal(other PortOptions) (bool, error) {
	a, err := o.Normalise()
	if err != nil {
		return false, err
	}
	b, err := other.Normalise()
	if err != nil {
		return false, err
	}
	return a == b, nil
}

func (o PortOptions) String() string {
	n, err := o.Normalise()
	if err != nil {
		return fmt.Sprintf("invalid(%d %d%s%d)", o.BaudRate, o.DataBits, o.Parity, o.StopBits)
	}
	return fmt.Sprintf("%d %d%s%d", n.BaudRate, n.DataBits, n.Parity, n.StopBits)
}

// SerialMode converts the options for go.bug.st/serial.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	n, err := o.Normalise()
	if err != nil {
		return nil, err
	}
	mode := &serial.Mode{
		BaudRate: n.BaudRate,
		DataBits: n.DataBits,
		Parity:   parities[n.Parity],
		StopBits: serial.OneStopBit,
	}
	if n.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	return mode, nil
}
