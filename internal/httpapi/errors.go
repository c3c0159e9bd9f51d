package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mattsolo1/grove-batch/internal/batcherr"
)

// Error codes returned in the envelope below.
const (
	CodeJobNotFound  = "JOB_NOT_FOUND"
	CodeUnitNotFound = "UNIT_NOT_FOUND"
	CodeDBError      = "DB_ERROR"
	CodeServerError  = "SERVER_ERROR"
)

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes the {"error":{"code","message"}} envelope every
// handler on this surface uses for a non-2xx response.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Error: errorBody{Code: code, Message: message}})
}

// writeStoreError classifies an error surfaced from the Store or
// Orchestrator into the right HTTP status and error code. Unrecognized
// errors default to SERVER_ERROR rather than leaking a raw 500 with no
// code, since every response on this surface carries the envelope.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, batcherr.ErrJobNotFound):
		WriteError(w, http.StatusNotFound, CodeJobNotFound, err.Error())
	case errors.Is(err, batcherr.ErrUnitNotFound):
		WriteError(w, http.StatusNotFound, CodeUnitNotFound, err.Error())
	case errors.Is(err, batcherr.ErrStaleVersion), errors.Is(err, batcherr.ErrInvariantViolation):
		WriteError(w, http.StatusConflict, CodeDBError, err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, CodeServerError, err.Error())
	}
}

// writeCommandError is writeStoreError specialized for the unit
// kill/restart commands. A missing unit, or a kill of a unit that is
// not processing (KillUnit reports that as ErrUnitNotFound), maps to
// UNIT_NOT_FOUND; any other failure, such as restarting a unit that is
// not failed, is an operator-visible precondition rather than a server
// fault.
func writeCommandError(w http.ResponseWriter, err error) {
	if errors.Is(err, batcherr.ErrUnitNotFound) {
		WriteError(w, http.StatusNotFound, CodeUnitNotFound, err.Error())
		return
	}
	WriteError(w, http.StatusConflict, CodeDBError, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
