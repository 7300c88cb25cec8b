package xr

import "fmt"

// Kind identifies a backend modality. The set is closed: adding a kind means
// adding a constructor to internal/backends, whose visitor makes the change a
// compile error everywhere it is not handled.
type Kind uint8

const (
	KindFiducial Kind = iota + 1
	KindGeolocation
	KindImmersive
)

// Kinds lists every kind in registration-snapshot order.
var Kinds = []Kind{KindFiducial, KindGeolocation, KindImmersive}

func (k Kind) String() string {
	switch k {
	case KindFiducial:
		return "fiducial"
	case KindGeolocation:
		return "geolocation"
	case KindImmersive:
		return "immersive"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// SessionType returns the session type a backend of this kind claims unless
// the caller registers it under another one.
func (k Kind) SessionType() SessionType {
	return SessionType(k.String())
}

// ParseKind converts a kind name back to a Kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown backend kind %q", s)
}

// SessionType is the discriminator the compatibility policy works on. It is
// usually a Kind's name, but sessions without a backend (or with a custom
// hardware claim) may register their own.
type SessionType string

const (
	SessionFiducial    SessionType = "fiducial"
	SessionGeolocation SessionType = "geolocation"
	SessionImmersive   SessionType = "immersive"
)

// State is a backend slot's position in its lifecycle.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateDisposing
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateDisposing:
		return "disposing"
	case StateDisposed:
		return "disposed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}
