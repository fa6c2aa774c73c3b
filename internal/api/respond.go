package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/fieldcert/fieldcert/internal/inspection/lifecycle"
	"github.com/fieldcert/fieldcert/internal/log"
	"github.com/fieldcert/fieldcert/internal/queue/store"
)

// decodeBody binds a JSON request body. An absent body leaves v at its zero
// value; downstream validation decides whether that is acceptable.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithComponentFromContext(r.Context(), "api").Error().Err(err).Msg("response encode failed")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, kind, detail string) {
	writeJSON(w, r, status, errorBody{Error: kind, Detail: detail})
}

// writeDomainError maps the core error taxonomy onto HTTP statuses. Invalid
// transitions are conflicts with the session's current state, not server
// faults; the caller is expected to refetch the session and re-render.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, lifecycle.ErrSessionNotFound), errors.Is(err, store.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, lifecycle.ErrValidation):
		writeError(w, r, http.StatusBadRequest, "validation", err.Error())
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		writeError(w, r, http.StatusConflict, "invalid_transition", err.Error())
	default:
		log.WithComponentFromContext(r.Context(), "api").Error().Err(err).Msg("request failed")
		writeError(w, r, http.StatusInternalServerError, "internal", "internal server error")
	}
}
