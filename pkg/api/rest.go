package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/jwoglom/fakecadence/pkg/attribute"
	"github.com/jwoglom/fakecadence/pkg/peripheral"
	"github.com/jwoglom/fakecadence/pkg/settings"
)

func writeJSON(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("Failed to encode response: %v", err)
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func readJSON(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read request body")
	}
	defer func() {
		if err := r.Body.Close(); err != nil {
			log.Debugf("Error closing request body: %v", err)
		}
	}()
	if err := json.Unmarshal(body, v); err != nil {
		return errors.Wrap(err, "failed to parse request")
	}
	return nil
}

func success(w http.ResponseWriter, message string) {
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "success",
		"message": message,
	}); err != nil {
		log.Errorf("Failed to encode response: %v", err)
	}
}

// handleStateAPI returns the case and peripheral state
func (s *Server) handleStateAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	st, err := s.currentState(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to read state: %v", err), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, st)
}

// handleAttributesAPI lists characteristics or reads and pushes one by name
func (s *Server) handleAttributesAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	name := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/attributes"), "/")

	switch r.Method {
	case http.MethodGet:
		snap, err := s.p.Snapshot(r.Context())
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to read attributes: %v", err), http.StatusServiceUnavailable)
			return
		}
		if name == "" {
			writeJSON(w, snap.Characteristics)
			return
		}
		c, ok := snap.Find(name)
		if !ok {
			http.Error(w, fmt.Sprintf("Characteristic not found: %s", name), http.StatusNotFound)
			return
		}
		writeJSON(w, c)

	case http.MethodPut:
		// PUT /api/attributes/{name} - set the value and notify subscribers
		if name == "" {
			http.Error(w, "Characteristic name is required", http.StatusBadRequest)
			return
		}
		var req struct {
			Value string `json:"value"`
		}
		if err := readJSON(r, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.updateCharacteristic(r.Context(), name, req.Value); err != nil {
			http.Error(w, fmt.Sprintf("Failed to update %s: %v", name, err), statusFor(err))
			return
		}
		success(w, fmt.Sprintf("Value updated for %s", name))

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleCaseAPI reads or changes the physical case state
func (s *Server) handleCaseAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, s.caseState.Snapshot())

	case http.MethodPost:
		var req struct {
			Open            *bool `json:"open"`
			Toggle          bool  `json:"toggle"`
			BlisterDetected *bool `json:"blisterDetected"`
		}
		if err := readJSON(r, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var err error
		switch {
		case req.Toggle:
			_, err = s.caseState.Toggle()
		case req.Open != nil:
			err = s.caseState.SetOpen(*req.Open)
		}
		if err == nil && req.BlisterDetected != nil {
			err = s.caseState.SetDetected(*req.BlisterDetected)
		}
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to update case: %v", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, s.caseState.Snapshot())

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleMessagesAPI returns or clears the strings written to the blister pack
func (s *Server) handleMessagesAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, map[string]interface{}{
			"messages": s.caseState.GetMessages(),
			"text":     s.caseState.Text(),
		})
	case http.MethodDelete:
		s.caseState.ClearMessages()
		success(w, "Messages cleared")
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleAdvertisingAPI reads or toggles advertising
func (s *Server) handleAdvertisingAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	switch r.Method {
	case http.MethodGet:
		snap, err := s.p.Snapshot(r.Context())
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to read advertising state: %v", err), http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, snap.Advertising)

	case http.MethodPost:
		var req struct {
			Advertising bool `json:"advertising"`
		}
		if err := readJSON(r, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var err error
		if req.Advertising {
			err = s.p.StartAdvertising(r.Context())
		} else {
			err = s.p.StopAdvertising(r.Context())
		}
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to set advertising: %v", err), http.StatusServiceUnavailable)
			return
		}
		success(w, fmt.Sprintf("Advertising set to %v", req.Advertising))

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleSettingsAPI handles the RESTful value script API
func (s *Server) handleSettingsAPI(w http.ResponseWriter, r *http.Request) {
	if s.settingsManager == nil {
		http.Error(w, "Settings manager not initialized", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	// Parse the path to extract the characteristic name
	path := strings.TrimPrefix(r.URL.Path, "/api/settings")
	path = strings.Trim(path, "/")

	switch r.Method {
	case http.MethodGet:
		if path == "" {
			writeJSON(w, s.settingsManager.GetAllScripts())
			return
		}
		script, err := s.settingsManager.GetScript(path)
		if err != nil {
			http.Error(w, fmt.Sprintf("Script not found: %s", err), http.StatusNotFound)
			return
		}
		writeJSON(w, script)

	case http.MethodPut:
		s.handleUpdateScript(w, r, path)

	case http.MethodDelete:
		if err := s.settingsManager.DeleteScript(path); err != nil {
			http.Error(w, fmt.Sprintf("Failed to delete script: %v", err), http.StatusNotFound)
			return
		}
		success(w, fmt.Sprintf("Script removed for %s", path))

	case http.MethodPost:
		// POST /api/settings/{name}/reset - rewind the script
		if !strings.HasSuffix(path, "/reset") {
			http.Error(w, "Invalid POST endpoint", http.StatusNotFound)
			return
		}
		name := strings.TrimSuffix(path, "/reset")
		if err := s.settingsManager.ResetState(name); err != nil {
			http.Error(w, fmt.Sprintf("Failed to reset state: %v", err), http.StatusNotFound)
			return
		}
		success(w, fmt.Sprintf("State reset for %s", name))

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleUpdateScript(w http.ResponseWriter, r *http.Request, name string) {
	if name == "" {
		http.Error(w, "Characteristic name is required", http.StatusBadRequest)
		return
	}

	var script settings.ValueScript
	if err := readJSON(r, &script); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.settingsManager.SetScript(name, &script); err != nil {
		http.Error(w, fmt.Sprintf("Failed to set script: %v", err), http.StatusBadRequest)
		return
	}
	success(w, fmt.Sprintf("Script updated for %s", name))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, attribute.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, peripheral.ErrStopped), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}
