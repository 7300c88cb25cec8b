package xr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKind_RoundTrip(t *testing.T) {
	for _, k := range Kinds {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
		assert.Equal(t, SessionType(k.String()), k.SessionType())
	}

	_, err := ParseKind("webxr")
	assert.Error(t, err)
	assert.Equal(t, "kind(9)", Kind(9).String())
}

func TestKind_SessionTypeConstants(t *testing.T) {
	assert.Equal(t, SessionFiducial, KindFiducial.SessionType())
	assert.Equal(t, SessionGeolocation, KindGeolocation.SessionType())
	assert.Equal(t, SessionImmersive, KindImmersive.SessionType())
}

func TestErrors_Unwrap(t *testing.T) {
	cause := errors.New("camera denied")

	var initErr error = &BackendInitError{Kind: KindFiducial, Err: cause}
	assert.ErrorIs(t, initErr, cause)
	assert.Contains(t, initErr.Error(), "fiducial")

	var target *BackendInitError
	require.ErrorAs(t, initErr, &target)
	assert.Equal(t, KindFiducial, target.Kind)

	assert.ErrorIs(t, &BackendUpdateError{Kind: KindGeolocation, Err: cause}, cause)
	assert.ErrorIs(t, &BackendDisposeError{Kind: KindImmersive, Err: cause}, cause)
	assert.ErrorIs(t, &AttachmentError{AnchorID: "a", Err: cause}, cause)
}

func TestIncompatibleSessionError_Message(t *testing.T) {
	err := &IncompatibleSessionError{
		Candidate: SessionGeolocation,
		Active:    []SessionType{SessionFiducial},
		Reason:    "camera",
	}
	assert.Equal(t, `incompatible sessions: cannot add "geolocation" alongside [fiducial]: camera`, err.Error())
}

func TestRecovered(t *testing.T) {
	assert.NoError(t, Recovered(nil))

	cause := errors.New("boom")
	assert.ErrorIs(t, Recovered(cause), cause)

	var pe *PanicError
	require.ErrorAs(t, Recovered("bad"), &pe)
	assert.Equal(t, "bad", pe.Value)
}

func TestDisposeOnce(t *testing.T) {
	var d DisposeOnce
	calls := 0
	fn := func() error {
		calls++
		return errors.New("first")
	}
	assert.EqualError(t, d.Do(fn), "first")
	assert.EqualError(t, d.Do(fn), "first")
	assert.Equal(t, 1, calls)
}

func TestBaseDefaults(t *testing.T) {
	var b Base
	assert.NoError(t, b.Update(0.016))
	assert.NoError(t, b.Dispose())
	assert.Nil(t, b.Internal())
}
