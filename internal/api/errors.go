package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/gamepanel/control-plane/internal/backup"
	"github.com/gamepanel/control-plane/internal/scheduler"
)

var (
	// ErrValidation marks a request body/parameter that failed input validation.
	ErrValidation = errors.New("validation failed")
	// ErrConflict marks a duplicate id or port, or an operation refused
	// because of a conflicting server state.
	ErrConflict = errors.New("conflict")
)

var serverIDPattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

func validServerID(id string) bool {
	return id != "" && serverIDPattern.MatchString(id)
}

// writeDomainErr maps a Scheduler/Backup/validation error to the HTTP
// status and error code from the error-kind table.
func (s *Server) writeDomainErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scheduler.ErrNotFound), errors.Is(err, scheduler.ErrNoActiveServer), errors.Is(err, backup.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "Resource not found.", nil)
	case errors.Is(err, scheduler.ErrRunning), errors.Is(err, backup.ErrRunning), errors.Is(err, ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err.Error(), nil)
	case errors.Is(err, backup.ErrNoDataVolumes), errors.Is(err, ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error(), nil)
	default:
		s.logger.Error("api_runtime_failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "runtime_failed", "Operation failed.", map[string]any{"error": err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, errCode, message string, details any) {
	writeJSON(w, code, ErrorEnvelope{Error: ErrorBody{Code: errCode, Message: message, Details: details}})
}
