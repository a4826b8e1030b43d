package api

import (
	"errors"
	"net/http"

	"github.com/ShayCichocki/swarm/internal/agents"
	"github.com/ShayCichocki/swarm/internal/comms"
	"github.com/ShayCichocki/swarm/internal/conflict"
	"github.com/ShayCichocki/swarm/internal/coordinator"
	"github.com/ShayCichocki/swarm/internal/learning"
	"github.com/ShayCichocki/swarm/internal/memory"
)

// apiError is the error body every failed call returns.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

// badRequestError wraps body decode failures.
type badRequestError struct {
	err error
}

func (e *badRequestError) Error() string { return e.err.Error() }
func (e *badRequestError) Unwrap() error { return e.err }

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: apiError{Code: code, Message: message}})
}

// writeMappedError translates domain sentinel errors into HTTP codes.
func writeMappedError(w http.ResponseWriter, err error) {
	var bad *badRequestError
	if errors.As(err, &bad) {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	switch {
	case errors.Is(err, agents.ErrAgentNotFound),
		errors.Is(err, coordinator.ErrTaskNotFound),
		errors.Is(err, coordinator.ErrTeamNotFound),
		errors.Is(err, conflict.ErrConflictNotFound),
		errors.Is(err, learning.ErrKnowledgeNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())

	case errors.Is(err, agents.ErrInvalidAgentType),
		errors.Is(err, agents.ErrInvalidCapability),
		errors.Is(err, coordinator.ErrInvalidTask),
		errors.Is(err, coordinator.ErrInvalidTeam),
		errors.Is(err, coordinator.ErrCycleDetected),
		errors.Is(err, coordinator.ErrDependencyUnmet),
		errors.Is(err, conflict.ErrInvalidConflict),
		errors.Is(err, learning.ErrInvalidKnowledge),
		errors.Is(err, memory.ErrInvalidTier),
		errors.Is(err, comms.ErrInvalidMessage):
		writeError(w, http.StatusBadRequest, "invalid_argument", err.Error())

	case errors.Is(err, agents.ErrInvalidTransition),
		errors.Is(err, coordinator.ErrInvalidTransition),
		errors.Is(err, conflict.ErrConflictUnresolved),
		errors.Is(err, memory.ErrVersionConflict):
		writeError(w, http.StatusConflict, "conflict", err.Error())

	case errors.Is(err, agents.ErrResourceExhausted),
		errors.Is(err, agents.ErrTooManyAgents):
		writeError(w, http.StatusTooManyRequests, "resource_exhausted", err.Error())

	default:
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}
