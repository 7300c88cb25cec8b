package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/banshee-data/xrsession/internal/db"
	"github.com/banshee-data/xrsession/internal/monitoring"
	"github.com/banshee-data/xrsession/internal/serialmux"
)

// ReceiverFactory opens a GPS receiver mux on path. It is injected so the
// manager can be tested and so different runtime modes (real, mock, disabled)
// can supply their own constructors.
type ReceiverFactory func(path string, opts serialmux.PortOptions) (serialmux.SerialMuxInterface, error)

// ReceiverConfigSnapshot describes the configuration applied to the running
// receiver.
type ReceiverConfigSnapshot struct {
	ConfigID int                   `json:"config_id,omitempty"`
	Name     string                `json:"name,omitempty"`
	PortPath string                `json:"port_path"`
	Source   string                `json:"source"`
	Options  serialmux.PortOptions `json:"options"`
}

// ReloadResult is returned to API clients when a reload request is processed.
type ReloadResult struct {
	Success bool                    `json:"success"`
	Message string                  `json:"message"`
	Config  *ReceiverConfigSnapshot `json:"config,omitempty"`
}

// ReceiverManager wraps the GPS receiver mux and lets its port configuration
// be hot-reloaded from the journal. It implements SerialMuxInterface itself,
// so the geolocation backend and the debug routes hold the manager rather
// than a mux that may be replaced.
//
// Subscribers receive channels from an internal fanout, not from the mux. A
// background goroutine subscribes to the current mux and forwards every line;
// after a reload it reconnects to the new mux, so subscriptions survive.
type ReceiverManager struct {
	mu       sync.RWMutex
	current  serialmux.SerialMuxInterface
	snapshot *ReceiverConfigSnapshot
	closed   bool

	db      *db.DB
	factory ReceiverFactory
	state   *serialmux.ReceiverState

	reloadMu sync.Mutex

	done        chan struct{}
	fanoutMu    sync.RWMutex
	subscribers map[string]chan string
	nextSub     uint64
}

// NewReceiverManager starts the fanout loop, which runs until Close.
func NewReceiverManager(database *db.DB, initial serialmux.SerialMuxInterface, snapshot ReceiverConfigSnapshot, factory ReceiverFactory) *ReceiverManager {
	mgr := &ReceiverManager{
		current:     initial,
		db:          database,
		factory:     factory,
		state:       serialmux.NewReceiverState(),
		done:        make(chan struct{}),
		subscribers: make(map[string]chan string),
	}
	if snapshot.PortPath != "" {
		snap := snapshot
		mgr.snapshot = &snap
	}
	go mgr.runFanout()
	return mgr
}

// CurrentMux returns the mux in use. Reconfigure through ReloadConfig.
func (m *ReceiverManager) CurrentMux() serialmux.SerialMuxInterface {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Snapshot returns a copy of the active configuration.
func (m *ReceiverManager) Snapshot() ReceiverConfigSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.snapshot == nil {
		return ReceiverConfigSnapshot{}
	}
	return *m.snapshot
}

// State returns sentence counters across every mux the manager has used.
func (m *ReceiverManager) State() serialmux.ReceiverSnapshot { return m.state.Snapshot() }

func (m *ReceiverManager) runFanout() {
	var subID string
	var subCh chan string
	var subMux serialmux.SerialMuxInterface

	defer func() {
		if subID != "" && subMux != nil {
			subMux.Unsubscribe(subID)
		}
		m.fanoutMu.Lock()
		for _, ch := range m.subscribers {
			close(ch)
		}
		m.subscribers = make(map[string]chan string)
		m.fanoutMu.Unlock()
		monitoring.Diagf("receiver fanout terminated")
	}()

	for {
		if subID == "" {
			mux := m.CurrentMux()
			if mux == nil {
				select {
				case <-m.done:
					return
				case <-time.After(250 * time.Millisecond):
					continue
				}
			}
			subID, subCh = mux.Subscribe()
			subMux = mux
			if subID == "" {
				select {
				case <-m.done:
					return
				case <-time.After(250 * time.Millisecond):
					continue
				}
			}
		}

		select {
		case <-m.done:
			return
		case line, ok := <-subCh:
			if !ok {
				// The mux was closed, most likely by a reload.
				subID, subCh, subMux = "", nil, nil
				monitoring.Diagf("receiver fanout: subscription closed, reconnecting")
				select {
				case <-m.done:
					return
				case <-time.After(50 * time.Millisecond):
				}
				continue
			}
			m.state.Observe(line)

			m.fanoutMu.RLock()
			for _, ch := range m.subscribers {
				select {
				case ch <- line:
				default:
					monitoring.Tracef("receiver fanout: subscriber full, dropping line")
				}
			}
			m.fanoutMu.RUnlock()
		}
	}
}

// Subscribe returns a channel that stays valid across reloads. After Close it
// returns a closed channel.
func (m *ReceiverManager) Subscribe() (string, chan string) {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		ch := make(chan string)
		close(ch)
		return "", ch
	}

	ch := make(chan string, 16)
	m.fanoutMu.Lock()
	m.nextSub++
	id := fmt.Sprintf("receiver-%d", m.nextSub)
	m.subscribers[id] = ch
	m.fanoutMu.Unlock()
	return id, ch
}

// Unsubscribe closes and removes the channel for id.
func (m *ReceiverManager) Unsubscribe(id string) {
	m.fanoutMu.Lock()
	defer m.fanoutMu.Unlock()
	if ch, ok := m.subscribers[id]; ok {
		close(ch)
		delete(m.subscribers, id)
	}
}

func (m *ReceiverManager) active() (serialmux.SerialMuxInterface, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errors.New("receiver manager is closed")
	}
	if m.current == nil {
		return nil, errors.New("receiver unavailable")
	}
	return m.current, nil
}

// SendCommand delegates to the current mux.
func (m *ReceiverManager) SendCommand(command string) error {
	mux, err := m.active()
	if err != nil {
		return err
	}
	return mux.SendCommand(command)
}

// Initialise delegates to the current mux.
func (m *ReceiverManager) Initialise() error {
	mux, err := m.active()
	if err != nil {
		return err
	}
	return mux.Initialise()
}

// Monitor runs the current mux's Monitor and re-attaches to the replacement
// after a reload.
func (m *ReceiverManager) Monitor(ctx context.Context) error {
	for {
		mux := m.CurrentMux()
		if mux == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(250 * time.Millisecond):
				continue
			}
		}

		err := mux.Monitor(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		wait := 100 * time.Millisecond
		if err != nil && !errors.Is(err, context.Canceled) {
			monitoring.Opsf("receiver monitor terminated with error: %v", err)
			wait = 500 * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Close closes the current mux and stops the fanout, closing every
// subscriber channel. Call it only at shutdown.
func (m *ReceiverManager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	if m.current != nil {
		if err := m.current.Close(); err != nil {
			monitoring.Opsf("failed to close receiver during shutdown: %v", err)
		}
	}
	m.current = nil
	m.mu.Unlock()

	close(m.done)
	return nil
}

// AttachAdminRoutes mounts the receiver debug routes against the manager.
func (m *ReceiverManager) AttachAdminRoutes(mux *http.ServeMux) {
	serialmux.AttachAdminRoutesFor(mux, m, m.State)
}

// ReloadConfig applies the first enabled stored configuration, swapping the
// mux if the port or options changed.
func (m *ReceiverManager) ReloadConfig(ctx context.Context) (*ReloadResult, error) {
	if m.factory == nil {
		return nil, errors.New("receiver factory not configured")
	}
	if m.db == nil {
		return nil, errors.New("database not configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	configs, err := m.db.GetEnabledSerialConfigs()
	if err != nil {
		return nil, fmt.Errorf("failed to load receiver configurations: %w", err)
	}
	if len(configs) == 0 {
		return nil, errors.New("no enabled receiver configurations found")
	}

	cfg := configs[0]
	normalised, err := serialmux.PortOptions{
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		StopBits: cfg.StopBits,
		Parity:   cfg.Parity,
	}.Normalise()
	if err != nil {
		return nil, fmt.Errorf("invalid receiver configuration: %w", err)
	}
	snap := ReceiverConfigSnapshot{
		ConfigID: cfg.ID,
		Name:     cfg.Name,
		PortPath: cfg.PortPath,
		Source:   "database",
		Options:  normalised,
	}

	current := m.Snapshot()
	same, err := current.Options.Equal(normalised)
	if err != nil {
		// An unset current snapshot has zero options; treat as changed.
		same = false
	}
	if current.PortPath == cfg.PortPath && same {
		return &ReloadResult{
			Success: true,
			Message: fmt.Sprintf("Receiver configuration %q already active", cfg.Name),
			Config:  &snap,
		}, nil
	}

	// The port cannot be opened twice, so release it before opening the new one.
	m.mu.Lock()
	old := m.current
	m.current = nil
	m.mu.Unlock()
	if old != nil {
		monitoring.Diagf("closing current receiver before reload")
		if err := old.Close(); err != nil {
			monitoring.Opsf("failed to close previous receiver: %v", err)
		}
	}

	next, err := m.factory(cfg.PortPath, normalised)
	if err != nil {
		return nil, fmt.Errorf("failed to open receiver %s: %w", cfg.PortPath, err)
	}
	if err := next.Initialise(); err != nil {
		next.Close()
		return nil, fmt.Errorf("failed to initialise receiver: %w", err)
	}

	m.mu.Lock()
	m.current = next
	m.snapshot = &snap
	m.mu.Unlock()
	monitoring.Diagf("receiver reloaded: %s on %s (%s)", cfg.Name, cfg.PortPath, normalised)

	return &ReloadResult{
		Success: true,
		Message: fmt.Sprintf("Reloaded receiver configuration %q", cfg.Name),
		Config:  &snap,
	}, nil
}

var _ serialmux.SerialMuxInterface = (*ReceiverManager)(nil)
