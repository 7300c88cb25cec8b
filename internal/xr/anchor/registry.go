// Package anchor binds scene content to real-world references that resolve
// later: a GPS fix, a marker tracker becoming ready.
//
// A Registry subscribes once to its backend's resolution Source. Entries can
// be registered before or after the first resolution; either way each entry
// is placed by the backend's Placer and its OnAttach fires exactly once.
// Placement failures are logged as *xr.AttachmentError and retried on the
// next resolution.
package anchor

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/xrsession/internal/monitoring"
	"github.com/banshee-data/xrsession/internal/scene"
	"github.com/banshee-data/xrsession/internal/xr"
)

var (
	// ErrAlreadyBound is returned by Bind on a registry that already has a
	// source.
	ErrAlreadyBound = errors.New("anchor: registry already bound to a source")
	// ErrDuplicateID is returned when an id is registered twice.
	ErrDuplicateID = errors.New("anchor: duplicate anchor id")
	// ErrNoNode is returned for entries without a content node.
	ErrNoNode = errors.New("anchor: entry has no node")
)

// Source emits resolution values. Subscribe is called once per registry; the
// returned func cancels the subscription.
type Source[R any] interface {
	Subscribe(fn func(R)) (cancel func())
	LastKnown() (R, bool)
}

// Placer is the backend's native "place object at reference" primitive.
// Place parents node wherever the backend wants it given the entry's target
// and the current resolution. Detach undoes it.
type Placer[T, R any] interface {
	Place(node *scene.Node, target T, res R) error
	Detach(node *scene.Node)
}

// Entry is one piece of content waiting for its reference.
type Entry[T, R any] struct {
	Target T
	Node   *scene.Node

	// OnAttach fires once, after the first successful placement.
	OnAttach func()
	// OnResolutionUpdate fires for every resolution, attached or not.
	OnResolutionUpdate func(R)
}

type record[T, R any] struct {
	id    string
	seq   uint64
	entry Entry[T, R]

	mu       sync.Mutex
	attached bool
	removed  bool
}

// Registry tracks the entries of one backend.
type Registry[T, R any] struct {
	placer Placer[T, R]

	// pass serializes resolution passes so entries see resolutions in order.
	pass sync.Mutex

	mu      sync.Mutex
	entries map[string]*record[T, R]
	seq     uint64
	last    R
	hasLast bool
	cancel  func()
}

// New returns an unbound Registry that places entries with placer.
func New[T, R any](placer Placer[T, R]) *Registry[T, R] {
	return &Registry[T, R]{
		placer:  placer,
		entries: make(map[string]*record[T, R]),
	}
}

// Bind subscribes the registry to src. A value src already holds is treated
// as the last-known resolution.
func (r *Registry[T, R]) Bind(src Source[R]) error {
	r.mu.Lock()
	if r.cancel != nil {
		r.mu.Unlock()
		return ErrAlreadyBound
	}
	r.cancel = func() {}
	r.mu.Unlock()

	cancel := src.Subscribe(r.Resolve)

	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()

	if res, ok := src.LastKnown(); ok {
		r.Resolve(res)
	}
	return nil
}

// RegisterAnchor stores e under id and returns the id, generating one when
// id is empty. If a resolution has already happened the entry is placed
// before RegisterAnchor returns. It waits for a running resolution pass, so
// it must not be called from an entry callback.
func (r *Registry[T, R]) RegisterAnchor(id string, e Entry[T, R]) (string, error) {
	if e.Node == nil {
		return "", ErrNoNode
	}
	if id == "" {
		id = uuid.NewString()
	}

	r.mu.Lock()
	if _, dup := r.entries[id]; dup {
		r.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	r.seq++
	rec := &record[T, R]{id: id, seq: r.seq, entry: e}
	r.entries[id] = rec
	r.mu.Unlock()

	// Wait out a running pass so the entry is not placed against an older
	// resolution than the one that pass delivers.
	r.pass.Lock()
	defer r.pass.Unlock()
	last, hasLast := r.LastKnown()

	monitoring.Diagf("anchor %s registered (resolved=%v)", id, hasLast)
	if hasLast {
		r.attach(rec, last)
	}
	return id, nil
}

// UnregisterAnchor removes id, detaching its node if it was placed.
// Unknown or never-attached entries are a no-op.
func (r *Registry[T, R]) UnregisterAnchor(id string) {
	r.mu.Lock()
	rec, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()
	if !ok {
		return
	}

	rec.mu.Lock()
	rec.removed = true
	wasAttached := rec.attached
	rec.attached = false
	rec.mu.Unlock()

	if wasAttached {
		r.placer.Detach(rec.entry.Node)
		monitoring.Diagf("anchor %s detached", id)
	}
}

// Resolve handles one resolution: it records res as last known, tries to
// place every unattached entry and reports res to every entry.
func (r *Registry[T, R]) Resolve(res R) {
	r.pass.Lock()
	defer r.pass.Unlock()

	r.mu.Lock()
	r.last, r.hasLast = res, true
	recs := r.sortedLocked()
	r.mu.Unlock()

	for _, rec := range recs {
		r.attach(rec, res)
		if cb := rec.entry.OnResolutionUpdate; cb != nil {
			rec.mu.Lock()
			removed := rec.removed
			rec.mu.Unlock()
			if !removed {
				r.callback(rec.id, func() { cb(res) })
			}
		}
	}
}

// Retry re-attempts placement of every unattached entry against the last
// resolution, without reporting it to OnResolutionUpdate. It returns the
// number of entries still unattached.
func (r *Registry[T, R]) Retry() int {
	r.pass.Lock()
	defer r.pass.Unlock()

	r.mu.Lock()
	last, hasLast := r.last, r.hasLast
	recs := r.sortedLocked()
	r.mu.Unlock()

	var pending int
	for _, rec := range recs {
		if hasLast {
			r.attach(rec, last)
		}
		rec.mu.Lock()
		if !rec.attached && !rec.removed {
			pending++
		}
		rec.mu.Unlock()
	}
	return pending
}

// attach places rec if it is not placed yet. OnAttach runs outside the
// record lock.
func (r *Registry[T, R]) attach(rec *record[T, R], res R) {
	rec.mu.Lock()
	if rec.attached || rec.removed {
		rec.mu.Unlock()
		return
	}
	err := r.place(rec, res)
	if err != nil {
		rec.mu.Unlock()
		monitoring.Opsf("%v", &xr.AttachmentError{AnchorID: rec.id, Err: err})
		return
	}
	rec.attached = true
	rec.mu.Unlock()

	monitoring.Diagf("anchor %s attached", rec.id)
	if cb := rec.entry.OnAttach; cb != nil {
		r.callback(rec.id, cb)
	}
}

func (r *Registry[T, R]) place(rec *record[T, R], res R) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = xr.Recovered(p)
		}
	}()
	return r.placer.Place(rec.entry.Node, rec.entry.Target, res)
}

func (r *Registry[T, R]) callback(id string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			monitoring.Opsf("anchor %s callback panicked: %v", id, p)
		}
	}()
	fn()
}

func (r *Registry[T, R]) sortedLocked() []*record[T, R] {
	recs := make([]*record[T, R], 0, len(r.entries))
	for _, rec := range r.entries {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].seq < recs[j].seq })
	return recs
}

// Attached reports whether id is currently placed.
func (r *Registry[T, R]) Attached(id string) bool {
	r.mu.Lock()
	rec, ok := r.entries[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.attached
}

// ForEach calls fn for every entry in registration order.
func (r *Registry[T, R]) ForEach(fn func(id string, e Entry[T, R], attached bool)) {
	r.mu.Lock()
	recs := r.sortedLocked()
	r.mu.Unlock()
	for _, rec := range recs {
		rec.mu.Lock()
		attached, removed := rec.attached, rec.removed
		rec.mu.Unlock()
		if !removed {
			fn(rec.id, rec.entry, attached)
		}
	}
}

// ForEachAttached calls fn for every placed entry in registration order.
func (r *Registry[T, R]) ForEachAttached(fn func(id string, e Entry[T, R])) {
	r.ForEach(func(id string, e Entry[T, R], attached bool) {
		if attached {
			fn(id, e)
		}
	})
}

// LastKnown returns the most recent resolution.
func (r *Registry[T, R]) LastKnown() (R, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last, r.hasLast
}

// Len returns the number of registered entries.
func (r *Registry[T, R]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close cancels the source subscription and unregisters every entry.
func (r *Registry[T, R]) Close() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, id := range ids {
		r.UnregisterAnchor(id)
	}
}
