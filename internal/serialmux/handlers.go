package serialmux

import (
	"sync"
	"time"
)

// ReceiverState holds counters and the latest sentence of each type seen from
// the receiver, for the admin routes.
type ReceiverState struct {
	mu      sync.Mutex
	counts  map[string]uint64
	latest  map[string]string
	corrupt uint64
	lastAt  time.Time
	now     func() time.Time
}

// ReceiverSnapshot is a copy of ReceiverState suitable for JSON.
type ReceiverSnapshot struct {
	Counts  map[string]uint64 `json:"counts"`
	Latest  map[string]string `json:"latest"`
	Corrupt uint64            `json:"corrupt"`
	LastAt  time.Time         `json:"last_at"`
}

func NewReceiverState() *ReceiverState {
	return &ReceiverState{
		counts: make(map[string]uint64),
		latest: make(map[string]string),
		now:    time.Now,
	}
}

// Observe records one line read from the receiver.
func (r *ReceiverState) Observe(line string) {
	kind := ClassifySentence(line)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[kind]++
	r.latest[kind] = line
	r.lastAt = r.now()
}

// ObserveCorrupt counts a line that failed its checksum.
func (r *ReceiverState) ObserveCorrupt(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.corrupt++
	r.lastAt = r.now()
}

// Snapshot returns a copy of the current state.
func (r *ReceiverState) Snapshot() ReceiverSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := ReceiverSnapshot{
		Counts:  make(map[string]uint64, len(r.counts)),
		Latest:  make(map[string]string, len(r.latest)),
		Corrupt: r.corrupt,
		LastAt:  r.lastAt,
	}
	for k, v := range r.counts {
		snap.Counts[k] = v
	}
	for k, v := range r.latest {
		snap.Latest[k] = v
	}
	return snap
}
