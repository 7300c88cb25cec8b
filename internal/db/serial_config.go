package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SerialConfig is a stored GPS receiver port configuration.
type SerialConfig struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	PortPath    string `json:"port_path"`
	BaudRate    int    `json:"baud_rate"`
	DataBits    int    `json:"data_bits"`
	StopBits    int    `json:"stop_bits"`
	Parity      string `json:"parity"`
	Enabled     bool   `json:"enabled"`
	Description string `json:"description"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

const serialConfigColumns = `id, name, port_path, baud_rate, data_bits, stop_bits, parity, enabled, description, created_at, updated_at`

func scanSerialConfig(s scanner) (SerialConfig, error) {
	var c SerialConfig
	var enabled int
	err := s.Scan(&c.ID, &c.Name, &c.PortPath, &c.BaudRate, &c.DataBits, &c.StopBits,
		&c.Parity, &enabled, &c.Description, &c.CreatedAt, &c.UpdatedAt)
	c.Enabled = enabled == 1
	return c, err
}

// GetSerialConfigs returns all serial configurations
func (db *DB) GetSerialConfigs() ([]SerialConfig, error) {
	return db.querySerialConfigs(`SELECT ` + serialConfigColumns + ` FROM gps_serial_config ORDER BY created_at ASC, id ASC`)
}

// GetEnabledSerialConfigs returns all enabled serial configurations
func (db *DB) GetEnabledSerialConfigs() ([]SerialConfig, error) {
	return db.querySerialConfigs(`SELECT ` + serialConfigColumns + ` FROM gps_serial_config WHERE enabled = 1 ORDER BY created_at ASC, id ASC`)
}

func (db *DB) querySerialConfigs(query string) ([]SerialConfig, error) {
	rows, err := db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query serial configs: %w", err)
	}
	defer rows.Close()

	var configs []SerialConfig
	for rows.Next() {
		c, err := scanSerialConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan serial config: %w", err)
		}
		configs = append(configs, c)
	}
	return configs, rows.Err()
}

// GetSerialConfig returns a single serial configuration by ID, or nil if it
// does not exist.
func (db *DB) GetSerialConfig(id int) (*SerialConfig, error) {
	c, err := scanSerialConfig(db.QueryRow(`SELECT `+serialConfigColumns+` FROM gps_serial_config WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get serial config: %w", err)
	}
	return &c, nil
}

// CreateSerialConfig inserts c and sets its ID and timestamps.
func (db *DB) CreateSerialConfig(c *SerialConfig) error {
	now := time.Now().Unix()
	res, err := db.Exec(
		`INSERT INTO gps_serial_config (name, port_path, baud_rate, data_bits, stop_bits, parity, enabled, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Name, c.PortPath, c.BaudRate, c.DataBits, c.StopBits, c.Parity, boolInt(c.Enabled), c.Description, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create serial config: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get serial config id: %w", err)
	}
	c.ID = int(id)
	c.CreatedAt, c.UpdatedAt = now, now
	return nil
}

// UpdateSerialConfig overwrites the stored row with c.
func (db *DB) UpdateSerialConfig(c *SerialConfig) error {
	now := time.Now().Unix()
	res, err := db.Exec(
		`UPDATE gps_serial_config
		SET name = ?, port_path = ?, baud_rate = ?, data_bits = ?, stop_bits = ?, parity = ?, enabled = ?, description = ?, updated_at = ?
		WHERE id = ?`,
		c.Name, c.PortPath, c.BaudRate, c.DataBits, c.StopBits, c.Parity, boolInt(c.Enabled), c.Description, now, c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update serial config: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("serial config %d not found", c.ID)
	}
	c.UpdatedAt = now
	return nil
}

// DeleteSerialConfig removes the configuration with id.
func (db *DB) DeleteSerialConfig(id int) error {
	res, err := db.Exec(`DELETE FROM gps_serial_config WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete serial config: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("serial config %d not found", id)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
