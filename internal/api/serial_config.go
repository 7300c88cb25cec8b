package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/banshee-data/xrsession/internal/db"
	"github.com/banshee-data/xrsession/internal/monitoring"
	"github.com/banshee-data/xrsession/internal/serialmux"
)

// Most consumer GPS receivers talk NMEA at 9600 8N1.
const defaultReceiverBaud = 9600

// SerialConfigRequest is the body for creating or updating a receiver port.
type SerialConfigRequest struct {
	Name        string `json:"name"`
	PortPath    string `json:"port_path"`
	BaudRate    int    `json:"baud_rate"`
	DataBits    int    `json:"data_bits"`
	StopBits    int    `json:"stop_bits"`
	Parity      string `json:"parity"`
	Enabled     bool   `json:"enabled"`
	Description string `json:"description"`
}

// toConfig validates req and fills defaults.
func (req SerialConfigRequest) toConfig(id int) (*db.SerialConfig, error) {
	if req.Name == "" {
		return nil, errors.New("Name is required")
	}
	if req.PortPath == "" {
		return nil, errors.New("Port path is required")
	}
	if !isValidPortPath(req.PortPath) {
		return nil, errors.New("Invalid port path. Must start with /dev/tty or /dev/serial")
	}
	if req.BaudRate == 0 {
		req.BaudRate = defaultReceiverBaud
	}
	opts, err := serialmux.PortOptions{
		BaudRate: req.BaudRate,
		DataBits: req.DataBits,
		StopBits: req.StopBits,
		Parity:   req.Parity,
	}.Normalise()
	if err != nil {
		return nil, err
	}
	return &db.SerialConfig{
		ID:          id,
		Name:        req.Name,
		PortPath:    req.PortPath,
		BaudRate:    opts.BaudRate,
		DataBits:    opts.DataBits,
		StopBits:    opts.StopBits,
		Parity:      opts.Parity,
		Enabled:     req.Enabled,
		Description: req.Description,
	}, nil
}

// handleSerialConfigsOrCreate handles GET and POST to /api/gps/configs
func (s *Server) handleSerialConfigsOrCreate(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		http.Error(w, "Journal disabled", http.StatusServiceUnavailable)
		return
	}
	switch r.Method {
	case http.MethodGet:
		s.handleSerialConfigs(w)
	case http.MethodPost:
		s.handleCreateSerialConfig(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSerialConfigs(w http.ResponseWriter) {
	configs, err := s.db.GetSerialConfigs()
	if err != nil {
		monitoring.Opsf("Error fetching serial configs: %v", err)
		http.Error(w, "Failed to fetch receiver configurations", http.StatusInternalServerError)
		return
	}
	if configs == nil {
		configs = []db.SerialConfig{}
	}
	writeJSON(w, http.StatusOK, configs)
}

// handleSerialConfigByID handles GET/PUT/DELETE /api/gps/configs/:id
func (s *Server) handleSerialConfigByID(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		http.Error(w, "Journal disabled", http.StatusServiceUnavailable)
		return
	}
	pathParts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/gps/configs/"), "/")
	if len(pathParts) == 0 || pathParts[0] == "" {
		http.Error(w, "Missing config ID", http.StatusBadRequest)
		return
	}
	id, err := strconv.Atoi(pathParts[0])
	if err != nil {
		http.Error(w, "Invalid config ID", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleGetSerialConfig(w, id)
	case http.MethodPut:
		s.handleUpdateSerialConfig(w, r, id)
	case http.MethodDelete:
		s.handleDeleteSerialConfig(w, id)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleGetSerialConfig(w http.ResponseWriter, id int) {
	config, err := s.db.GetSerialConfig(id)
	if err != nil {
		monitoring.Opsf("Error fetching serial config %d: %v", id, err)
		http.Error(w, "Failed to fetch receiver configuration", http.StatusInternalServerError)
		return
	}
	if config == nil {
		http.Error(w, "Configuration not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, config)
}

func (s *Server) handleCreateSerialConfig(w http.ResponseWriter, r *http.Request) {
	var req SerialConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	config, err := req.toConfig(0)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.db.CreateSerialConfig(config); err != nil {
		monitoring.Opsf("Error creating serial config: %v", err)
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			http.Error(w, "Configuration with this name already exists", http.StatusConflict)
			return
		}
		http.Error(w, "Failed to create receiver configuration", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, config)
}

func (s *Server) handleUpdateSerialConfig(w http.ResponseWriter, r *http.Request, id int) {
	var req SerialConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	config, err := req.toConfig(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.db.UpdateSerialConfig(config); err != nil {
		monitoring.Opsf("Error updating serial config %d: %v", id, err)
		if strings.Contains(err.Error(), "not found") {
			http.Error(w, "Configuration not found", http.StatusNotFound)
			return
		}
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			http.Error(w, "Configuration with this name already exists", http.StatusConflict)
			return
		}
		http.Error(w, "Failed to update receiver configuration", http.StatusInternalServerError)
		return
	}

	updated, err := s.db.GetSerialConfig(id)
	if err != nil || updated == nil {
		monitoring.Opsf("Error fetching updated config: %v", err)
		http.Error(w, "Configuration updated but failed to fetch", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteSerialConfig(w http.ResponseWriter, id int) {
	if err := s.db.DeleteSerialConfig(id); err != nil {
		monitoring.Opsf("Error deleting serial config %d: %v", id, err)
		if strings.Contains(err.Error(), "not found") {
			http.Error(w, "Configuration not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to delete receiver configuration", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// isValidPortPath validates that a port path is in an allowed format
func isValidPortPath(path string) bool {
	return strings.HasPrefix(path, "/dev/tty") || strings.HasPrefix(path, "/dev/serial")
}
