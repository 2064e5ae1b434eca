package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/nerrad567/gridd/internal/supervisor"
)

// handleStatus returns the supervisor snapshot.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.sup.Status(r.Context())
	if err != nil {
		s.writeSupervisorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleEnable starts device detection.
func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	s.changeRunState(w, r, "enable", s.sup.Enable)
}

// handleDisable stops device detection and every worker. The response is
// 202 because draining continues after the request returns.
func (s *Server) handleDisable(w http.ResponseWriter, r *http.Request) {
	s.changeRunState(w, r, "disable", s.sup.Disable)
}

func (s *Server) changeRunState(w http.ResponseWriter, r *http.Request, action string, fn func(context.Context) error) {
	if err := fn(r.Context()); err != nil {
		s.writeSupervisorError(w, err)
		return
	}
	s.logger.Info("run state change requested", "action", action)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"action": action,
	})
}

// writeSupervisorError maps supervisor errors onto HTTP statuses.
func (s *Server) writeSupervisorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, supervisor.ErrNotApplicable):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, supervisor.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "supervisor is stopped")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "request cancelled")
	default:
		s.logger.Error("supervisor request failed", "error", err)
		writeInternalError(w, "supervisor request failed")
	}
}
