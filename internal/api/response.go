// internal/api/response.go
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github-insights/internal/database"
	custom_errors "github-insights/internal/errors"
	"github-insights/internal/github"
	"github-insights/internal/xp"
)

type errorResponse struct {
	Error string `json:"error"`
}

func badParam(name, reason string) error {
	return fmt.Errorf("invalid '%s' parameter: %s", name, reason)
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, `{"error":"Internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, errorResponse{Error: message})
}

// fail maps err to a status code. Server-side failures are logged and their detail withheld.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	var ce *custom_errors.ConfigError
	switch {
	case errors.As(err, &ce):
		respondWithError(w, http.StatusBadRequest, ce.Error())
	case errors.Is(err, database.ErrNotFound), errors.Is(err, custom_errors.ErrNotFound):
		respondWithError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, xp.ErrUnknownPeriod), errors.Is(err, github.ErrMalformedEvent):
		respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, github.ErrInvalidSignature):
		respondWithError(w, http.StatusUnauthorized, "Invalid signature")
	default:
		h.logger.Error(msg, "path", r.URL.Path, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
	}
}
