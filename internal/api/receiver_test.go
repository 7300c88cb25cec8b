package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/xrsession/internal/db"
	"github.com/banshee-data/xrsession/internal/serialmux"
	"github.com/banshee-data/xrsession/internal/xr/session"
)

const gga = "GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,"

func testSnapshot() ReceiverConfigSnapshot {
	return ReceiverConfigSnapshot{
		PortPath: "/dev/test",
		Options:  serialmux.PortOptions{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "N"},
		Source:   "test",
	}
}

// recordingFactory hands out mock muxes and remembers every open.
type recordingFactory struct {
	mu    sync.Mutex
	paths []string
	err   error
}

func (f *recordingFactory) open(path string, _ serialmux.PortOptions) (serialmux.SerialMuxInterface, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.paths = append(f.paths, path)
	return serialmux.NewMockSerialMux([]string{gga}, 5*time.Millisecond), nil
}

func (f *recordingFactory) opened() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

func TestReceiverManager_SubscribeAndUnsubscribe(t *testing.T) {
	mgr := NewReceiverManager(nil, serialmux.NewDisabledSerialMux(), testSnapshot(), nil)
	defer mgr.Close()

	id, ch := mgr.Subscribe()
	require.NotEmpty(t, id)

	select {
	case <-ch:
		t.Fatal("channel should stay open and empty")
	case <-time.After(10 * time.Millisecond):
	}

	mgr.Unsubscribe(id)
	select {
	case _, ok := <-ch:
		assert.False(t, ok, "unsubscribe closes the channel")
	case <-time.After(100 * time.Millisecond):
		t.Fatal("channel was not closed")
	}
}

func TestReceiverManager_ForwardsLinesAndCountsState(t *testing.T) {
	mgr := NewReceiverManager(nil, serialmux.NewMockSerialMux([]string{gga}, 5*time.Millisecond), testSnapshot(), nil)
	defer mgr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgr.Monitor(ctx)

	_, ch := mgr.Subscribe()
	select {
	case line := <-ch:
		assert.Contains(t, line, "GPGGA")
	case <-time.After(2 * time.Second):
		t.Fatal("no line forwarded")
	}
	assert.Eventually(t, func() bool {
		return mgr.State().Counts["GGA"] > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReceiverManager_CloseStopsEverything(t *testing.T) {
	mgr := NewReceiverManager(nil, serialmux.NewDisabledSerialMux(), testSnapshot(), nil)
	_, ch := mgr.Subscribe()

	require.NoError(t, mgr.Close())
	require.NoError(t, mgr.Close(), "close is idempotent")

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscriber channel not closed on shutdown")
	}
	assert.Error(t, mgr.SendCommand("PMTK000"))

	id, late := mgr.Subscribe()
	assert.Empty(t, id)
	_, ok := <-late
	assert.False(t, ok)
}

func TestReceiverManager_ReloadConfig(t *testing.T) {
	database := newTestDB(t)
	factory := &recordingFactory{}
	mgr := NewReceiverManager(database, serialmux.NewDisabledSerialMux(), testSnapshot(), factory.open)
	defer mgr.Close()

	_, err := mgr.ReloadConfig(context.Background())
	assert.ErrorContains(t, err, "no enabled receiver configurations")

	require.NoError(t, database.CreateSerialConfig(&db.SerialConfig{
		Name: "usb", PortPath: "/dev/ttyUSB0", BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "N", Enabled: true,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgr.Monitor(ctx)
	_, ch := mgr.Subscribe()

	res, err := mgr.ReloadConfig(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "/dev/ttyUSB0", mgr.Snapshot().PortPath)
	assert.Equal(t, "database", mgr.Snapshot().Source)
	assert.Equal(t, []string{"/dev/ttyUSB0"}, factory.opened())

	select {
	case line := <-ch:
		assert.Contains(t, line, "GPGGA", "subscription survives the swap")
	case <-time.After(2 * time.Second):
		t.Fatal("no line after reload")
	}

	res, err = mgr.ReloadConfig(context.Background())
	require.NoError(t, err)
	assert.Contains(t, res.Message, "already active")
	assert.Len(t, factory.opened(), 1, "unchanged config does not reopen the port")
}

func TestReceiverManager_ReloadErrors(t *testing.T) {
	mgr := NewReceiverManager(nil, nil, ReceiverConfigSnapshot{}, nil)
	defer mgr.Close()
	_, err := mgr.ReloadConfig(context.Background())
	assert.ErrorContains(t, err, "factory")

	database := newTestDB(t)
	require.NoError(t, database.CreateSerialConfig(&db.SerialConfig{
		Name: "usb", PortPath: "/dev/ttyUSB0", BaudRate: 9600, Enabled: true,
	}))
	factory := &recordingFactory{err: errors.New("permission denied")}
	mgr2 := NewReceiverManager(database, nil, ReceiverConfigSnapshot{}, factory.open)
	defer mgr2.Close()
	_, err = mgr2.ReloadConfig(context.Background())
	assert.ErrorContains(t, err, "permission denied")
	assert.Error(t, mgr2.Initialise(), "no receiver after a failed reload")
}

func TestReloadRoute(t *testing.T) {
	database := newTestDB(t)
	require.NoError(t, database.CreateSerialConfig(&db.SerialConfig{
		Name: "usb", PortPath: "/dev/ttyUSB0", BaudRate: 9600, Enabled: true,
	}))
	factory := &recordingFactory{}
	mgr := NewReceiverManager(database, nil, ReceiverConfigSnapshot{}, factory.open)
	defer mgr.Close()

	reg := session.New(session.Options{})
	t.Cleanup(reg.Close)
	s := NewServer(reg, database, mgr)

	w := do(t, s, http.MethodGet, "/api/gps/reload", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = do(t, s, http.MethodPost, "/api/gps/reload", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"success":true`)

	req := httptest.NewRequest(http.MethodPost, "/command", strings.NewReader("command=PMTK000"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.ServeMux().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSendCommand_ThroughManager(t *testing.T) {
	reg := session.New(session.Options{})
	t.Cleanup(reg.Close)
	mgr := NewReceiverManager(nil, serialmux.NewDisabledSerialMux(), testSnapshot(), nil)
	t.Cleanup(func() { mgr.Close() })
	mux := NewServer(reg, nil, mgr).ServeMux()

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/command", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)
		return w
	}
	assert.Equal(t, http.StatusBadRequest, post("command=+").Code)
	w := post("command=PMTK220%2C1000")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Command sent")
}
