package compat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/xrsession/internal/xr"
)

var allTypes = []xr.SessionType{
	xr.SessionFiducial,
	xr.SessionGeolocation,
	xr.SessionImmersive,
	"custom",
}

func TestPolicy_SymmetricAndTotal(t *testing.T) {
	policies := map[string]Policy{
		"default":   DefaultPolicy(),
		"immersive": {ImmersiveExclusive: true},
		"extra":     {Exclusive: []Pair{{"custom", xr.SessionImmersive}}},
	}
	for name, p := range policies {
		t.Run(name, func(t *testing.T) {
			for _, a := range allTypes {
				for _, b := range allTypes {
					assert.Equal(t, p.Conflicts(a, b), p.Conflicts(b, a), "%s/%s", a, b)

					errAB := p.Admissible(NewSet(a), b)
					errBA := p.Admissible(NewSet(b), a)
					assert.Equal(t, errAB == nil, errBA == nil, "%s then %s", a, b)
				}
			}
		})
	}
}

func TestPolicy_DefaultRules(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		a, b xr.SessionType
		want bool
	}{
		{xr.SessionFiducial, xr.SessionGeolocation, true},
		{xr.SessionFiducial, xr.SessionImmersive, false},
		{xr.SessionGeolocation, xr.SessionImmersive, false},
		{xr.SessionFiducial, xr.SessionFiducial, true},
		{"custom", xr.SessionGeolocation, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Conflicts(tt.a, tt.b), "%s/%s", tt.a, tt.b)
	}
}

func TestPolicy_ImmersiveExclusive(t *testing.T) {
	p := Policy{ImmersiveExclusive: true}
	assert.True(t, p.Conflicts(xr.SessionImmersive, xr.SessionFiducial))
	assert.True(t, p.Conflicts(xr.SessionGeolocation, xr.SessionImmersive))
	assert.False(t, p.Conflicts(xr.SessionImmersive, "custom"))
}

func TestPolicy_AdmissibleError(t *testing.T) {
	p := DefaultPolicy()
	active := NewSet(xr.SessionFiducial, xr.SessionImmersive)

	err := p.Admissible(active, xr.SessionGeolocation)
	var incompatible *xr.IncompatibleSessionError
	require.ErrorAs(t, err, &incompatible)
	assert.Equal(t, xr.SessionGeolocation, incompatible.Candidate)
	assert.Equal(t, []xr.SessionType{xr.SessionFiducial, xr.SessionImmersive}, incompatible.Active)

	err = p.Admissible(active, xr.SessionFiducial)
	require.ErrorAs(t, err, &incompatible)
	assert.Equal(t, "session type already active", incompatible.Reason)

	assert.NoError(t, p.Admissible(Set{}, xr.SessionGeolocation))
}

func TestSet_Immutable(t *testing.T) {
	var empty Set
	assert.Zero(t, empty.Len())
	assert.False(t, empty.Has(xr.SessionFiducial))

	a := empty.With(xr.SessionFiducial)
	b := a.With(xr.SessionImmersive)
	c := b.Without(xr.SessionFiducial)

	assert.Equal(t, 0, empty.Len())
	assert.Equal(t, []xr.SessionType{xr.SessionFiducial}, a.Slice())
	assert.Equal(t, []xr.SessionType{xr.SessionFiducial, xr.SessionImmersive}, b.Slice())
	assert.Equal(t, []xr.SessionType{xr.SessionImmersive}, c.Slice())
	assert.Equal(t, 2, a.Union(c).Len())
}

func TestPolicy_AdmissibleReasonNamesRule(t *testing.T) {
	tests := []struct {
		name      string
		policy    Policy
		active    Set
		candidate xr.SessionType
		want      string
	}{
		{"camera", DefaultPolicy(), NewSet(xr.SessionFiducial), xr.SessionGeolocation, "both claim exclusive camera/video hardware"},
		{"same type", DefaultPolicy(), NewSet(xr.SessionImmersive), xr.SessionImmersive, "session type already active"},
		{"immersive", Policy{ImmersiveExclusive: true}, NewSet(xr.SessionImmersive), xr.SessionFiducial, "immersive session is exclusive with camera-based tracking"},
		{"extra pair", Policy{Exclusive: []Pair{{"custom", xr.SessionImmersive}}}, NewSet(xr.SessionImmersive), "custom", "configured as mutually exclusive: custom and immersive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var incompatible *xr.IncompatibleSessionError
			require.ErrorAs(t, tt.policy.Admissible(tt.active, tt.candidate), &incompatible)
			assert.Equal(t, tt.want, incompatible.Reason)
		})
	}
}
