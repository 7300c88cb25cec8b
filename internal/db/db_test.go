package db

import (
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/xrsession/internal/backends/geolocation"
	"github.com/banshee-data/xrsession/internal/geo"
	"github.com/banshee-data/xrsession/internal/xr"
	"github.com/banshee-data/xrsession/internal/xr/session"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewDB_MigratesToLatest(t *testing.T) {
	db := newTestDB(t)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(3), version)

	for _, table := range []string{"fixes", "session_events", "gps_serial_config"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		assert.NoError(t, err, table)
	}

	// Reopening an existing journal is a no-op migration.
	path := db.path
	require.NoError(t, db.Close())
	again, err := NewDB(path)
	require.NoError(t, err)
	again.Close()
}

func TestPragmasApplied(t *testing.T) {
	db := newTestDB(t)

	var journalMode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var busyTimeout int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	assert.Equal(t, 5000, busyTimeout)
}

func TestMigrateDown(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.MigrateDown())

	version, _, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)

	require.NoError(t, db.MigrateUp())
	version, _, err = db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(3), version)
}

func TestFixes(t *testing.T) {
	db := newTestDB(t)

	_, ok, err := db.LastFix()
	require.NoError(t, err)
	assert.False(t, ok)

	t0 := time.Unix(1700000000, 0)
	first := geolocation.Fix{Position: geolocation.Position{
		Coord:      geo.Coord{Lat: 51.05, Lon: -0.72, Alt: 12},
		Accuracy:   4.5,
		Satellites: 8,
		Time:       t0,
		Source:     geolocation.SourceGPS,
	}}
	second := geolocation.Fix{
		Position: geolocation.Position{
			Coord:  geo.Coord{Lat: 51.0502, Lon: -0.72},
			Time:   t0.Add(time.Second),
			Source: geolocation.SourceFake,
		},
		DistanceMoved: 22.2,
	}
	require.NoError(t, db.RecordFix(first))
	require.NoError(t, db.RecordFix(second))

	last, ok, err := db.LastFix()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, last.Position.Time.Equal(second.Position.Time))
	assert.Equal(t, second.DistanceMoved, last.DistanceMoved)

	fixes, err := db.RecentFixes(10)
	require.NoError(t, err)
	require.Len(t, fixes, 2)
	equalTime := cmp.Comparer(func(a, b time.Time) bool { return a.Equal(b) })
	if diff := cmp.Diff([]geolocation.Fix{second, first}, fixes, equalTime); diff != "" {
		t.Errorf("RecentFixes mismatch (-want +got):\n%s", diff)
	}

	fixes, err = db.RecentFixes(1)
	require.NoError(t, err)
	assert.Len(t, fixes, 1)
}

func TestSessionEvents(t *testing.T) {
	db := newTestDB(t)
	t0 := time.Unix(1700000000, 0)

	require.NoError(t, db.RecordSessionEvent(session.Event{
		Type:        session.EventRegistered,
		Kind:        xr.KindGeolocation,
		SessionType: xr.SessionGeolocation,
		InstanceID:  "abc",
	}, t0))
	require.NoError(t, db.RecordSessionEvent(session.Event{
		Type: session.EventRejected,
		Kind: xr.KindFiducial,
		Err:  errors.New("incompatible"),
	}, t0.Add(time.Millisecond)))
	require.NoError(t, db.RecordSessionEvent(session.Event{Type: session.EventUnregistered}, t0.Add(2*time.Millisecond)))

	events, err := db.RecentSessionEvents(10)
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, "unregistered", events[0].Type)
	assert.Empty(t, events[0].Kind)
	assert.Equal(t, "rejected", events[1].Type)
	assert.Equal(t, "incompatible", events[1].Error)
	assert.Equal(t, SessionEvent{
		ID:          events[2].ID,
		At:          events[2].At,
		Type:        "registered",
		Kind:        "geolocation",
		SessionType: "geolocation",
		InstanceID:  "abc",
	}, events[2])
	assert.True(t, events[2].At.Equal(t0))
}

func TestSerialConfigCRUD(t *testing.T) {
	db := newTestDB(t)

	cfg := &SerialConfig{Name: "usb", PortPath: "/dev/ttyUSB0", BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "N", Enabled: true}
	require.NoError(t, db.CreateSerialConfig(cfg))
	require.NotZero(t, cfg.ID)

	off := &SerialConfig{Name: "spare", PortPath: "/dev/ttyACM0", BaudRate: 4800, DataBits: 8, StopBits: 1, Parity: "N"}
	require.NoError(t, db.CreateSerialConfig(off))

	all, err := db.GetSerialConfigs()
	require.NoError(t, err)
	assert.Len(t, all, 2)

	enabled, err := db.GetEnabledSerialConfigs()
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, "usb", enabled[0].Name)

	cfg.BaudRate = 38400
	require.NoError(t, db.UpdateSerialConfig(cfg))
	got, err := db.GetSerialConfig(cfg.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 38400, got.BaudRate)
	assert.True(t, got.Enabled)

	require.NoError(t, db.DeleteSerialConfig(cfg.ID))
	got, err = db.GetSerialConfig(cfg.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.Error(t, db.DeleteSerialConfig(cfg.ID))
	assert.Error(t, db.UpdateSerialConfig(&SerialConfig{ID: 999, Name: "ghost"}))
	assert.Error(t, db.CreateSerialConfig(&SerialConfig{Name: "spare", PortPath: "/dev/null"}), "names are unique")
}

func TestAttachAdminRoutes(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.RecordFix(geolocation.Fix{Position: geolocation.Position{Source: geolocation.SourceFake}}))

	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	req := httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "backup-")

	gz, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	data, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.True(t, len(data) > 16 && string(data[:15]) == "SQLite format 3", "backup is a sqlite file")
}
