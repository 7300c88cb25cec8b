package immersive

import (
	"context"
	"errors"
	"sync"
)

// NullRuntime simulates a headset runtime that supports a fixed set of modes.
// Its sessions count frames and draw nothing.
type NullRuntime struct {
	Modes []SessionMode

	mu       sync.Mutex
	sessions []*NullSession
}

func (r *NullRuntime) IsSessionSupported(ctx context.Context, mode SessionMode) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	for _, m := range r.Modes {
		if m == mode {
			return true, nil
		}
	}
	return false, nil
}

func (r *NullRuntime) RequestSession(ctx context.Context, mode SessionMode) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := &NullSession{Mode: mode}
	r.mu.Lock()
	r.sessions = append(r.sessions, s)
	r.mu.Unlock()
	return s, nil
}

// Sessions returns every session requested so far.
func (r *NullRuntime) Sessions() []*NullSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*NullSession(nil), r.sessions...)
}

// NullSession is a session of NullRuntime.
type NullSession struct {
	Mode SessionMode

	mu     sync.Mutex
	frames int
	ended  bool
}

var errSessionEnded = errors.New("immersive: session ended")

func (s *NullSession) Frame(float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return errSessionEnded
	}
	s.frames++
	return nil
}

func (s *NullSession) End() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = true
	return nil
}

// Frames returns how many frames the session has seen.
func (s *NullSession) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Ended reports whether End was called.
func (s *NullSession) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

var _ Runtime = (*NullRuntime)(nil)
