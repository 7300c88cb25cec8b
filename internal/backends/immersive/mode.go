package immersive

import "fmt"

// Mode is the simplified immersive mode applications ask for.
type Mode string

const (
	ModeAR     Mode = "ar"
	ModeVR     Mode = "vr"
	ModeInline Mode = "inline"
)

// Modes lists every Mode.
var Modes = []Mode{ModeAR, ModeVR, ModeInline}

// SessionMode is the headset runtime's own session mode name.
type SessionMode string

const (
	SessionImmersiveAR SessionMode = "immersive-ar"
	SessionImmersiveVR SessionMode = "immersive-vr"
	SessionInline      SessionMode = "inline"
)

// SessionMode maps m to the runtime session mode.
func (m Mode) SessionMode() (SessionMode, error) {
	switch m {
	case ModeAR:
		return SessionImmersiveAR, nil
	case ModeVR:
		return SessionImmersiveVR, nil
	case ModeInline:
		return SessionInline, nil
	}
	return "", fmt.Errorf("immersive: unknown mode %q", string(m))
}

// Mode maps a runtime session mode back to its simplified mode.
func (s SessionMode) Mode() (Mode, error) {
	switch s {
	case SessionImmersiveAR:
		return ModeAR, nil
	case SessionImmersiveVR:
		return ModeVR, nil
	case SessionInline:
		return ModeInline, nil
	}
	return "", fmt.Errorf("immersive: unknown session mode %q", string(s))
}

// ParseMode accepts either a simplified or a runtime mode name.
func ParseMode(s string) (Mode, error) {
	if m := Mode(s); m.valid() {
		return m, nil
	}
	return SessionMode(s).Mode()
}

func (m Mode) valid() bool {
	_, err := m.SessionMode()
	return err == nil
}
