package xr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrClosed is returned by registries that have been shut down.
	ErrClosed = errors.New("xr: registry closed")
	// ErrRegistrationCancelled is returned when the caller withdrew a
	// registration before init finished. The backend is never activated.
	ErrRegistrationCancelled = errors.New("xr: registration cancelled")
	// ErrInitTimeout marks a backend init that did not finish in time.
	ErrInitTimeout = errors.New("xr: backend initialization timeout")
)

// IncompatibleSessionError is returned when admitting a session type would
// put two hardware-exclusive sessions side by side. No state was changed.
type IncompatibleSessionError struct {
	Candidate SessionType
	Active    []SessionType
	Reason    string
}

func (e *IncompatibleSessionError) Error() string {
	active := make([]string, len(e.Active))
	for i, t := range e.Active {
		active[i] = string(t)
	}
	return fmt.Sprintf("incompatible sessions: cannot add %q alongside [%s]: %s",
		e.Candidate, strings.Join(active, ", "), e.Reason)
}

// BackendInitError is returned when a backend's init failed. The backend
// never entered the active set.
type BackendInitError struct {
	Kind Kind
	Err  error
}

func (e *BackendInitError) Error() string {
	return fmt.Sprintf("%s backend init failed: %v", e.Kind, e.Err)
}

func (e *BackendInitError) Unwrap() error { return e.Err }

// BackendUpdateError reports a failed per-frame update. The backend stays
// active and is ticked again next frame.
type BackendUpdateError struct {
	Kind Kind
	Err  error
}

func (e *BackendUpdateError) Error() string {
	return fmt.Sprintf("%s backend update failed: %v", e.Kind, e.Err)
}

func (e *BackendUpdateError) Unwrap() error { return e.Err }

// BackendDisposeError reports a failed teardown. Unregistration completed
// regardless.
type BackendDisposeError struct {
	Kind Kind
	Err  error
}

func (e *BackendDisposeError) Error() string {
	return fmt.Sprintf("%s backend dispose failed: %v", e.Kind, e.Err)
}

func (e *BackendDisposeError) Unwrap() error { return e.Err }

// AttachmentError reports content that could not be placed at its resolved
// reference. The anchor stays pending and is retried on the next resolution.
type AttachmentError struct {
	AnchorID string
	Err      error
}

func (e *AttachmentError) Error() string {
	return fmt.Sprintf("anchor %s attach failed: %v", e.AnchorID, e.Err)
}

func (e *AttachmentError) Unwrap() error { return e.Err }

// PanicError carries a recovered panic from backend or callback code.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Recovered converts a recover() value to an error, or nil.
func Recovered(r any) error {
	if r == nil {
		return nil
	}
	if err, ok := r.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return &PanicError{Value: r}
}
