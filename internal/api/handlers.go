package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mattjoyce/wearpkg/internal/install"
)

const maxBodyBytes = 1 << 20

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		QueueDepth:    s.installer.QueueDepth(),
		Outstanding:   s.installer.Outstanding(),
		WorkerState:   s.installer.CurrentState().String(),
	}
	if s.guard != nil {
		resp.GuardReferences = s.guard.Count()
		resp.GuardActive = s.guard.Active()
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleInstall handles POST /install
func (s *Server) handleInstall(w http.ResponseWriter, r *http.Request) {
	var req install.InstallRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.AdmitTimeout)
	defer cancel()

	id, err := s.installer.SubmitInstall(ctx, req)
	if err != nil {
		s.writeAdmissionError(w, req.PackageName, err)
		return
	}
	respondJSON(w, http.StatusAccepted, SubmitResponse{RequestID: id, Status: "queued", Package: req.PackageName})
}

// handleUninstall handles POST /uninstall
func (s *Server) handleUninstall(w http.ResponseWriter, r *http.Request) {
	var req install.UninstallRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.AdmitTimeout)
	defer cancel()

	id, err := s.installer.SubmitUninstall(ctx, req)
	if err != nil {
		s.writeAdmissionError(w, req.PackageName, err)
		return
	}
	respondJSON(w, http.StatusAccepted, SubmitResponse{RequestID: id, Status: "queued", Package: req.PackageName})
}

func (s *Server) writeAdmissionError(w http.ResponseWriter, packageName string, err error) {
	switch {
	case errors.Is(err, install.ErrInvalidRequest):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, install.ErrStopped):
		s.writeError(w, http.StatusServiceUnavailable, "installer is shutting down")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		s.writeError(w, http.StatusServiceUnavailable, "request queue is full")
	default:
		s.logger.Error("failed to admit request", "package", packageName, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to admit request")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
