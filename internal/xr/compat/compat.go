// Package compat decides which session types may be active together.
//
// The policy is pure: it looks only at the set it is given and the candidate.
// It is total (every pair has an answer) and symmetric (Conflicts(a, b) ==
// Conflicts(b, a)), so the order sessions register in never changes the
// outcome.
package compat

import (
	"sort"

	"github.com/banshee-data/xrsession/internal/xr"
)

// Pair is an unordered pair of session types that cannot coexist.
type Pair [2]xr.SessionType

func (p Pair) matches(a, b xr.SessionType) bool {
	return (p[0] == a && p[1] == b) || (p[0] == b && p[1] == a)
}

// cameraConflict is the one hard rule: marker tracking and location-based
// tracking each open the camera exclusively.
var cameraConflict = Pair{xr.SessionFiducial, xr.SessionGeolocation}

// Policy is the compatibility rule set.
type Policy struct {
	// ImmersiveExclusive makes an immersive session exclusive with both
	// camera-based sessions. Leave it off when the immersive transport does
	// not claim the camera itself.
	ImmersiveExclusive bool

	// Exclusive adds further conflicting pairs.
	Exclusive []Pair
}

// DefaultPolicy carries only the camera rule.
func DefaultPolicy() Policy { return Policy{} }

// Conflicts reports whether a and b cannot be active at the same time. A
// session type always conflicts with itself: one session per type.
func (p Policy) Conflicts(a, b xr.SessionType) bool {
	_, ok := p.conflict(a, b)
	return ok
}

// conflict returns the reason of the first rule that keeps a and b apart.
func (p Policy) conflict(a, b xr.SessionType) (string, bool) {
	if a == b {
		return "session type already active", true
	}
	if cameraConflict.matches(a, b) {
		return "both claim exclusive camera/video hardware", true
	}
	if p.ImmersiveExclusive && (a == xr.SessionImmersive || b == xr.SessionImmersive) {
		other := a
		if a == xr.SessionImmersive {
			other = b
		}
		if other == xr.SessionFiducial || other == xr.SessionGeolocation {
			return "immersive session is exclusive with camera-based tracking", true
		}
	}
	for _, pair := range p.Exclusive {
		if pair.matches(a, b) {
			return "configured as mutually exclusive: " + string(pair[0]) + " and " + string(pair[1]), true
		}
	}
	return "", false
}

// Admissible returns nil when candidate may join active, or an
// *xr.IncompatibleSessionError naming the conflict.
func (p Policy) Admissible(active Set, candidate xr.SessionType) error {
	for _, t := range active.Slice() {
		reason, ok := p.conflict(t, candidate)
		if !ok {
			continue
		}
		return &xr.IncompatibleSessionError{
			Candidate: candidate,
			Active:    active.Slice(),
			Reason:    reason,
		}
	}
	return nil
}

// Set is an immutable set of session types. The zero value is empty.
type Set struct {
	m map[xr.SessionType]struct{}
}

// NewSet returns a set holding types.
func NewSet(types ...xr.SessionType) Set {
	s := Set{m: make(map[xr.SessionType]struct{}, len(types))}
	for _, t := range types {
		s.m[t] = struct{}{}
	}
	return s
}

// Has reports membership.
func (s Set) Has(t xr.SessionType) bool {
	_, ok := s.m[t]
	return ok
}

// Len returns the number of members.
func (s Set) Len() int { return len(s.m) }

// With returns a copy of s including t.
func (s Set) With(t xr.SessionType) Set {
	out := Set{m: make(map[xr.SessionType]struct{}, len(s.m)+1)}
	for k := range s.m {
		out.m[k] = struct{}{}
	}
	out.m[t] = struct{}{}
	return out
}

// Without returns a copy of s excluding t.
func (s Set) Without(t xr.SessionType) Set {
	out := Set{m: make(map[xr.SessionType]struct{}, len(s.m))}
	for k := range s.m {
		if k != t {
			out.m[k] = struct{}{}
		}
	}
	return out
}

// Union returns a copy of s including every member of o.
func (s Set) Union(o Set) Set {
	out := Set{m: make(map[xr.SessionType]struct{}, len(s.m)+len(o.m))}
	for k := range s.m {
		out.m[k] = struct{}{}
	}
	for k := range o.m {
		out.m[k] = struct{}{}
	}
	return out
}

// Slice returns the members in sorted order.
func (s Set) Slice() []xr.SessionType {
	out := make([]xr.SessionType, 0, len(s.m))
	for k := range s.m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
