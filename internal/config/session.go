// Package config loads the session configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/xrsession/internal/backends/fiducial"
	"github.com/banshee-data/xrsession/internal/backends/immersive"
	"github.com/banshee-data/xrsession/internal/serialmux"
	"github.com/banshee-data/xrsession/internal/xr"
)

// DefaultConfigPath is the checked-in example configuration.
const DefaultConfigPath = "config/session.defaults.json"

// SessionConfig is the root of the session configuration file. Every field is
// optional; the Get* methods supply defaults, and command-line flags override
// whatever the file sets.
type SessionConfig struct {
	// Loop
	Hz                 *float64 `json:"hz,omitempty"`
	ImmersiveExclusive *bool    `json:"immersive_exclusive,omitempty"`
	InitTimeout        *string  `json:"init_timeout,omitempty"` // duration string like "10s"

	// Backends to register at start, e.g. ["geolocation"].
	Sessions []string `json:"sessions,omitempty"`

	// GPS receiver
	GPSPort         *string                `json:"gps_port,omitempty"`
	GPSSerial       *serialmux.PortOptions `json:"gps_serial,omitempty"`
	FakeLat         *float64               `json:"fake_lat,omitempty"`
	FakeLon         *float64               `json:"fake_lon,omitempty"`
	GPSMinDistanceM *float64               `json:"gps_min_distance_m,omitempty"`
	GPSMinAccuracyM *float64               `json:"gps_min_accuracy_m,omitempty"`

	// Fiducial detector
	Fiducial   *fiducial.Params `json:"fiducial,omitempty"`
	ReplayPath *string          `json:"fiducial_replay,omitempty"`

	// Immersive
	ImmersiveMode *string `json:"immersive_mode,omitempty"`

	// Process
	DBPath   *string `json:"db_path,omitempty"`
	Listen   *string `json:"listen,omitempty"`
	LogLevel *string `json:"log_level,omitempty"`
}

// LoadSessionConfig loads a SessionConfig from a JSON file. The path must have
// a .json extension and the file must be under 1MB. Unknown keys are
// rejected so typos surface at startup.
func LoadSessionConfig(path string) (*SessionConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	f, err := os.Open(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	defer f.Close()

	cfg := &SessionConfig{}
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *SessionConfig) Validate() error {
	if c.Hz != nil && (*c.Hz <= 0 || *c.Hz > 1000) {
		return fmt.Errorf("hz must be in (0, 1000], got %g", *c.Hz)
	}
	if c.InitTimeout != nil && *c.InitTimeout != "" {
		d, err := time.ParseDuration(*c.InitTimeout)
		if err != nil {
			return fmt.Errorf("invalid init_timeout '%s': %w", *c.InitTimeout, err)
		}
		if d <= 0 {
			return fmt.Errorf("init_timeout must be positive, got %s", d)
		}
	}
	seen := make(map[xr.Kind]bool)
	for _, s := range c.Sessions {
		k, err := xr.ParseKind(s)
		if err != nil {
			return fmt.Errorf("sessions: %w", err)
		}
		if seen[k] {
			return fmt.Errorf("sessions: %s listed twice", k)
		}
		seen[k] = true
	}
	if c.GPSSerial != nil {
		if _, err := c.GPSSerial.Normalise(); err != nil {
			return fmt.Errorf("gps_serial: %w", err)
		}
	}
	if (c.FakeLat == nil) != (c.FakeLon == nil) {
		return fmt.Errorf("fake_lat and fake_lon must be set together")
	}
	if c.FakeLat != nil && (*c.FakeLat < -90 || *c.FakeLat > 90) {
		return fmt.Errorf("fake_lat must be between -90 and 90, got %g", *c.FakeLat)
	}
	if c.FakeLon != nil && (*c.FakeLon < -180 || *c.FakeLon > 180) {
		return fmt.Errorf("fake_lon must be between -180 and 180, got %g", *c.FakeLon)
	}
	if c.GPSMinDistanceM != nil && *c.GPSMinDistanceM < 0 {
		return fmt.Errorf("gps_min_distance_m must be non-negative, got %g", *c.GPSMinDistanceM)
	}
	if c.GPSMinAccuracyM != nil && *c.GPSMinAccuracyM <= 0 {
		return fmt.Errorf("gps_min_accuracy_m must be positive, got %g", *c.GPSMinAccuracyM)
	}
	if c.Fiducial != nil {
		if err := c.Fiducial.Validate(); err != nil {
			return err
		}
	}
	if c.ImmersiveMode != nil {
		if _, err := immersive.ParseMode(*c.ImmersiveMode); err != nil {
			return err
		}
	}
	if c.LogLevel != nil {
		switch *c.LogLevel {
		case "off", "error", "warn", "info", "debug", "trace":
		default:
			return fmt.Errorf("unknown log_level %q", *c.LogLevel)
		}
	}
	return nil
}

// GetHz returns the frame rate of the headless loop.
func (c *SessionConfig) GetHz() float64 {
	if c.Hz == nil {
		return 60
	}
	return *c.Hz
}

func (c *SessionConfig) GetImmersiveExclusive() bool {
	if c.ImmersiveExclusive == nil {
		return false
	}
	return *c.ImmersiveExclusive
}

// GetInitTimeout parses and returns the InitTimeout as a time.Duration.
func (c *SessionConfig) GetInitTimeout() time.Duration {
	if c.InitTimeout == nil || *c.InitTimeout == "" {
		return fiducial.DefaultInitTimeout
	}
	d, err := time.ParseDuration(*c.InitTimeout)
	if err != nil {
		return fiducial.DefaultInitTimeout
	}
	return d
}

// GetSessions returns the kinds to register at start, geolocation if unset.
func (c *SessionConfig) GetSessions() []xr.Kind {
	if len(c.Sessions) == 0 {
		return []xr.Kind{xr.KindGeolocation}
	}
	kinds := make([]xr.Kind, 0, len(c.Sessions))
	for _, s := range c.Sessions {
		if k, err := xr.ParseKind(s); err == nil {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// GetGPSPort returns the receiver device path. Empty disables the receiver.
func (c *SessionConfig) GetGPSPort() string {
	if c.GPSPort == nil {
		return ""
	}
	return *c.GPSPort
}

// GetGPSSerial returns normalised port options, 9600 8N1 by default.
func (c *SessionConfig) GetGPSSerial() serialmux.PortOptions {
	var opts serialmux.PortOptions
	if c.GPSSerial != nil {
		opts = *c.GPSSerial
	}
	n, err := opts.Normalise()
	if err != nil {
		n, _ = serialmux.PortOptions{}.Normalise()
	}
	return n
}

// GetFakeFix returns the fake position and whether one is configured.
func (c *SessionConfig) GetFakeFix() (lat, lon float64, ok bool) {
	if c.FakeLat == nil || c.FakeLon == nil {
		return 0, 0, false
	}
	return *c.FakeLat, *c.FakeLon, true
}

func (c *SessionConfig) GetGPSMinDistanceM() float64 {
	if c.GPSMinDistanceM == nil {
		return 0
	}
	return *c.GPSMinDistanceM
}

func (c *SessionConfig) GetGPSMinAccuracyM() float64 {
	if c.GPSMinAccuracyM == nil {
		return 1000
	}
	return *c.GPSMinAccuracyM
}

// GetFiducial returns detector params with defaults filled.
func (c *SessionConfig) GetFiducial() fiducial.Params {
	var p fiducial.Params
	if c.Fiducial != nil {
		p = *c.Fiducial
	}
	return p.WithDefaults()
}

func (c *SessionConfig) GetReplayPath() string {
	if c.ReplayPath == nil {
		return ""
	}
	return *c.ReplayPath
}

// GetImmersiveMode returns the requested immersive mode, ar by default.
func (c *SessionConfig) GetImmersiveMode() immersive.Mode {
	if c.ImmersiveMode == nil {
		return immersive.ModeAR
	}
	m, err := immersive.ParseMode(*c.ImmersiveMode)
	if err != nil {
		return immersive.ModeAR
	}
	return m
}

// GetDBPath returns the journal path. Empty disables the journal.
func (c *SessionConfig) GetDBPath() string {
	if c.DBPath == nil {
		return "xrsession.db"
	}
	return *c.DBPath
}

func (c *SessionConfig) GetListen() string {
	if c.Listen == nil {
		return "127.0.0.1:8089"
	}
	return *c.Listen
}

func (c *SessionConfig) GetLogLevel() string {
	if c.LogLevel == nil {
		return "info"
	}
	return *c.LogLevel
}
