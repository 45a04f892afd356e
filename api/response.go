package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/scrawlsbenches/rollout/deploy"
	"github.com/scrawlsbenches/rollout/target"
)

// envelope is a standard JSON response wrapper.
type envelope struct {
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Data: data})
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Error: message})
}

// writeDomainError maps domain sentinel errors to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, deploy.ErrNotFound):
		WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, deploy.ErrValidation), errors.Is(err, deploy.ErrNoTargets):
		WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, deploy.ErrAlreadyStarted),
		errors.Is(err, deploy.ErrStateConflict),
		errors.Is(err, target.ErrClaimed):
		WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, deploy.ErrNotApproved):
		WriteError(w, http.StatusForbidden, err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, err.Error())
	}
}
