package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleListDevices returns every ready device.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.sup.Devices(r.Context())
	if err != nil {
		s.writeSupervisorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleGetDevice returns one ready device by serial.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")

	devices, err := s.sup.Devices(r.Context())
	if err != nil {
		s.writeSupervisorError(w, err)
		return
	}
	for _, d := range devices {
		if d.Serial == serial {
			writeJSON(w, http.StatusOK, d)
			return
		}
	}
	writeNotFound(w, "device not found")
}

// handleListHistory returns every device ever attached, most recent first.
func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "history is not configured")
		return
	}

	entries, err := s.history.ListHistory(r.Context())
	if err != nil {
		s.logger.Error("listing device history", "error", err)
		writeInternalError(w, "failed to list device history")
		return
	}
	if entries == nil {
		writeJSON(w, http.StatusOK, map[string]any{"history": []any{}, "count": 0})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"history": entries,
		"count":   len(entries),
	})
}
