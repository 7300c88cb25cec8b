// Package session owns the set of active tracking backends.
//
// The Registry admits backends through the compatibility policy, runs their
// asynchronous init, ticks them once per frame and disposes them on
// unregister. All writes to the backend map and the session-type set happen
// under one mutex; the per-frame path reads an immutable snapshot and never
// takes it.
package session

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/banshee-data/xrsession/internal/monitoring"
	"github.com/banshee-data/xrsession/internal/xr"
	"github.com/banshee-data/xrsession/internal/xr/compat"
)

// EventType labels a lifecycle event.
type EventType string

const (
	EventRegistered   EventType = "registered"
	EventRejected     EventType = "rejected"
	EventInitFailed   EventType = "init_failed"
	EventCancelled    EventType = "cancelled"
	EventUnregistered EventType = "unregistered"
	EventUpdateFailed EventType = "update_failed"
	EventDisposeError EventType = "dispose_failed"
)

// Event describes a lifecycle transition. Err is set for failures.
type Event struct {
	Type        EventType
	Kind        xr.Kind
	SessionType xr.SessionType
	InstanceID  string
	Err         error
}

// Options configures a Registry.
type Options struct {
	Policy compat.Policy

	// OnEvent observes lifecycle transitions. It is called synchronously and
	// outside the registry lock; it must not block. Update failures are
	// reported here too, on the render goroutine.
	OnEvent func(Event)
}

type slot struct {
	backend     xr.Backend
	kind        xr.Kind
	sessionType xr.SessionType
	id          string
	state       atomic.Int32

	// guarded by Registry.mu
	cancelled bool
	cancel    context.CancelFunc
}

func (s *slot) loadState() xr.State { return xr.State(s.state.Load()) }

// Registry holds the active backends, at most one per kind.
type Registry struct {
	policy  compat.Policy
	onEvent func(Event)

	mu       sync.Mutex
	closed   bool
	slots    map[xr.Kind]*slot
	pending  map[xr.Backend]*slot
	types    compat.Set // session types of active slots plus backendless sessions
	snapshot atomic.Pointer[[]*slot]

	ticking atomic.Bool
}

// New returns an empty Registry.
func New(opts Options) *Registry {
	r := &Registry{
		policy:  opts.Policy,
		onEvent: opts.OnEvent,
		slots:   make(map[xr.Kind]*slot),
		pending: make(map[xr.Backend]*slot),
	}
	empty := []*slot{}
	r.snapshot.Store(&empty)
	return r
}

// reservedLocked is the set the policy checks against: active session types
// plus every registration still initializing, so two racing registrations
// cannot both pass the check.
func (r *Registry) reservedLocked() compat.Set {
	set := r.types
	for _, s := range r.pending {
		set = set.With(s.sessionType)
	}
	return set
}

// Register admits b under sessionType (b.Kind().SessionType() when empty),
// initializes it with res and activates it.
//
// It returns *xr.IncompatibleSessionError without calling init when the
// policy rejects the combination, *xr.BackendInitError when init fails, and
// an error wrapping xr.ErrRegistrationCancelled when ctx ends or b is
// unregistered before init returns. In every failure case the registry is
// left as it was. A cancelled init that later succeeds is disposed at once.
func (r *Registry) Register(ctx context.Context, b xr.Backend, res xr.Resources, sessionType xr.SessionType) error {
	kind := b.Kind()
	if sessionType == "" {
		sessionType = kind.SessionType()
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return xr.ErrClosed
	}
	if err := r.admitLocked(b, kind, sessionType); err != nil {
		r.mu.Unlock()
		monitoring.Opsf("register %s rejected: %v", kind, err)
		r.emit(Event{Type: EventRejected, Kind: kind, SessionType: sessionType, Err: err})
		return err
	}
	initCtx, cancel := context.WithCancel(ctx)
	s := &slot{backend: b, kind: kind, sessionType: sessionType, id: uuid.NewString(), cancel: cancel}
	s.state.Store(int32(xr.StateInitializing))
	r.pending[b] = s
	r.mu.Unlock()

	monitoring.Diagf("register %s (%s) instance=%s: initializing", kind, sessionType, s.id)

	done := make(chan error, 1)
	go func() { done <- callInit(initCtx, b, res) }()

	select {
	case err := <-done:
		defer cancel()
		return r.finish(initCtx, s, err)
	case <-initCtx.Done():
		// Caller gave up, or Unregister or Close withdrew the slot. The
		// reservation is released now; a late init result is reaped.
		r.mu.Lock()
		r.abandonLocked(s)
		r.mu.Unlock()
		cancel()
		go func() { _ = r.finish(initCtx, s, <-done) }()
		return cancelledError(ctx.Err())
	}
}

// abandonLocked withdraws a pending slot and frees its reservation.
func (r *Registry) abandonLocked(s *slot) {
	s.cancelled = true
	if r.pending[s.backend] == s {
		delete(r.pending, s.backend)
	}
}

func (r *Registry) admitLocked(b xr.Backend, kind xr.Kind, sessionType xr.SessionType) error {
	reserved := r.reservedLocked()
	if err := r.policy.Admissible(reserved, sessionType); err != nil {
		return err
	}
	if _, busy := r.slots[kind]; busy {
		return &xr.IncompatibleSessionError{Candidate: sessionType, Active: reserved.Slice(), Reason: kind.String() + " backend already registered"}
	}
	for _, p := range r.pending {
		if p.kind == kind || p.backend == b {
			return &xr.IncompatibleSessionError{Candidate: sessionType, Active: reserved.Slice(), Reason: kind.String() + " backend already initializing"}
		}
	}
	return nil
}

// finish settles a pending slot once its init has returned.
func (r *Registry) finish(ctx context.Context, s *slot, initErr error) error {
	r.mu.Lock()
	if r.pending[s.backend] == s {
		delete(r.pending, s.backend)
	}

	if initErr != nil {
		cancelled := s.cancelled
		s.state.Store(int32(xr.StateUninitialized))
		r.mu.Unlock()
		err := &xr.BackendInitError{Kind: s.kind, Err: initErr}
		if cancelled {
			monitoring.Diagf("register %s instance=%s: init failed after cancellation: %v", s.kind, s.id, initErr)
			return cancelledError(err)
		}
		monitoring.Opsf("register %s instance=%s: %v", s.kind, s.id, err)
		r.emit(Event{Type: EventInitFailed, Kind: s.kind, SessionType: s.sessionType, InstanceID: s.id, Err: err})
		return err
	}

	if s.cancelled || r.closed || ctx.Err() != nil {
		s.state.Store(int32(xr.StateDisposing))
		r.mu.Unlock()
		monitoring.Diagf("register %s instance=%s: cancelled during init, disposing", s.kind, s.id)
		r.dispose(s)
		r.emit(Event{Type: EventCancelled, Kind: s.kind, SessionType: s.sessionType, InstanceID: s.id})
		return cancelledError(ctx.Err())
	}

	r.slots[s.kind] = s
	r.types = r.types.With(s.sessionType)
	s.state.Store(int32(xr.StateReady))
	r.publishLocked()
	r.mu.Unlock()

	monitoring.Diagf("register %s (%s) instance=%s: active", s.kind, s.sessionType, s.id)
	r.emit(Event{Type: EventRegistered, Kind: s.kind, SessionType: s.sessionType, InstanceID: s.id})
	return nil
}

// Unregister removes b and disposes it. Dispose failures are reported, never
// returned. Unregistering an absent backend is a no-op; unregistering one
// that is still initializing cancels its registration.
func (r *Registry) Unregister(b xr.Backend) {
	if b == nil {
		return
	}
	r.mu.Lock()
	if p, ok := r.pending[b]; ok {
		r.abandonLocked(p)
		r.mu.Unlock()
		p.cancel()
		monitoring.Diagf("unregister %s instance=%s: cancelling pending init", p.kind, p.id)
		return
	}
	s, ok := r.slots[b.Kind()]
	if !ok || s.backend != b {
		r.mu.Unlock()
		return
	}
	r.removeLocked(s)
	r.mu.Unlock()

	r.dispose(s)
	monitoring.Diagf("unregister %s instance=%s: disposed", s.kind, s.id)
	r.emit(Event{Type: EventUnregistered, Kind: s.kind, SessionType: s.sessionType, InstanceID: s.id})
}

func (r *Registry) removeLocked(s *slot) {
	delete(r.slots, s.kind)
	r.types = r.types.Without(s.sessionType)
	// A tick already holding the old snapshot checks state before calling
	// Update, so the backend is not ticked again after this point.
	s.state.Store(int32(xr.StateDisposing))
	r.publishLocked()
}

func (r *Registry) dispose(s *slot) {
	if err := callDispose(s.backend); err != nil {
		derr := &xr.BackendDisposeError{Kind: s.kind, Err: err}
		monitoring.Opsf("%v", derr)
		r.emit(Event{Type: EventDisposeError, Kind: s.kind, SessionType: s.sessionType, InstanceID: s.id, Err: derr})
	}
	s.state.Store(int32(xr.StateDisposed))
}

func (r *Registry) publishLocked() {
	next := make([]*slot, 0, len(r.slots))
	for _, s := range r.slots {
		next = append(next, s)
	}
	sort.Slice(next, func(i, j int) bool { return next[i].kind < next[j].kind })
	r.snapshot.Store(&next)
}

// UpdateAll ticks every active backend with dt seconds. A failing backend is
// reported and skipped; the rest are still ticked. Calls made while a tick is
// already running (a backend ticking the registry) are dropped.
func (r *Registry) UpdateAll(dt float64) {
	if !r.ticking.CompareAndSwap(false, true) {
		monitoring.Opsf("UpdateAll re-entered during a tick; ignoring nested call")
		return
	}
	defer r.ticking.Store(false)

	for _, s := range *r.snapshot.Load() {
		if s.loadState() != xr.StateReady {
			continue
		}
		if err := callUpdate(s.backend, dt); err != nil {
			uerr := &xr.BackendUpdateError{Kind: s.kind, Err: err}
			monitoring.Opsf("%v", uerr)
			r.emit(Event{Type: EventUpdateFailed, Kind: s.kind, SessionType: s.sessionType, InstanceID: s.id, Err: uerr})
		}
	}
}

// AddSessionType claims a session type with no backend behind it, for
// sessions whose transport lives outside the registry. It is checked against
// the policy like a backend registration.
func (r *Registry) AddSessionType(t xr.SessionType) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return xr.ErrClosed
	}
	if err := r.policy.Admissible(r.reservedLocked(), t); err != nil {
		r.mu.Unlock()
		monitoring.Opsf("session type %s rejected: %v", t, err)
		r.emit(Event{Type: EventRejected, SessionType: t, Err: err})
		return err
	}
	r.types = r.types.With(t)
	r.mu.Unlock()
	monitoring.Diagf("session type %s added", t)
	return nil
}

// RemoveSessionType releases a type claimed with AddSessionType. Types owned
// by an active backend are released by Unregister instead.
func (r *Registry) RemoveSessionType(t xr.SessionType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.slots {
		if s.sessionType == t {
			return
		}
	}
	r.types = r.types.Without(t)
}

// Close unregisters every backend, cancels pending registrations and
// rejects further ones.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	var withdrawn []*slot
	for _, p := range r.pending {
		withdrawn = append(withdrawn, p)
	}
	for _, p := range withdrawn {
		r.abandonLocked(p)
	}
	active := *r.snapshot.Load()
	for _, s := range active {
		r.removeLocked(s)
	}
	r.types = compat.Set{}
	r.mu.Unlock()

	for _, p := range withdrawn {
		p.cancel()
	}

	for _, s := range active {
		r.dispose(s)
		r.emit(Event{Type: EventUnregistered, Kind: s.kind, SessionType: s.sessionType, InstanceID: s.id})
	}
}

// Backends returns the active backends ordered by kind.
func (r *Registry) Backends() []xr.Backend {
	snap := *r.snapshot.Load()
	out := make([]xr.Backend, 0, len(snap))
	for _, s := range snap {
		out = append(out, s.backend)
	}
	return out
}

// Backend returns the active backend of kind k.
func (r *Registry) Backend(k xr.Kind) (xr.Backend, bool) {
	for _, s := range *r.snapshot.Load() {
		if s.kind == k {
			return s.backend, true
		}
	}
	return nil, false
}

// Has reports whether a backend of kind k is active.
func (r *Registry) Has(k xr.Kind) bool {
	_, ok := r.Backend(k)
	return ok
}

// State returns b's lifecycle state as seen by this registry.
func (r *Registry) State(b xr.Backend) xr.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.pending[b]; ok {
		return p.loadState()
	}
	if s, ok := r.slots[b.Kind()]; ok && s.backend == b {
		return s.loadState()
	}
	return xr.StateUninitialized
}

// SessionTypes returns the active session types in sorted order.
func (r *Registry) SessionTypes() []xr.SessionType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.types.Slice()
}

// IsImmersive reports whether an immersive session is active.
func (r *Registry) IsImmersive() bool {
	if r.Has(xr.KindImmersive) {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.types.Has(xr.SessionImmersive)
}

// Status is a point-in-time view of one active backend.
type Status struct {
	Kind        string `json:"kind"`
	SessionType string `json:"session_type"`
	InstanceID  string `json:"instance_id"`
	State       string `json:"state"`
}

// Statuses describes every active or initializing backend.
func (r *Registry) Statuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, 0, len(r.slots)+len(r.pending))
	add := func(s *slot) {
		out = append(out, Status{
			Kind:        s.kind.String(),
			SessionType: string(s.sessionType),
			InstanceID:  s.id,
			State:       s.loadState().String(),
		})
	}
	for _, s := range r.slots {
		add(s)
	}
	for _, s := range r.pending {
		add(s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

func (r *Registry) emit(ev Event) {
	if r.onEvent == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			monitoring.Opsf("session event observer panicked: %v", p)
		}
	}()
	r.onEvent(ev)
}
