package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/domain"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Code      string `json:"code,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, kind, msg string) {
	respondJSON(w, status, ErrorResponse{Error: kind, Message: msg})
}

// mapError translates domain error kinds to HTTP status codes.
// All mapping lives here so individual handlers stay concise.
func mapError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{
		Error:   string(domain.KindOf(err)),
		Message: err.Error(),
		Code:    domain.RuleOf(err),
	}
	var status int
	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrBusinessRule):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrConcurrency):
		status = http.StatusConflict
		resp.Retryable = true
	case errors.Is(err, domain.ErrForbidden):
		status = http.StatusForbidden
	default:
		// Unclassified errors are infrastructure failures; never leak them.
		respondError(w, http.StatusInternalServerError, "internal", "internal server error")
		return
	}
	respondJSON(w, status, resp)
}

// decodeJSON reads an optional JSON body into v. An empty body leaves v
// untouched.
func decodeJSON(r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	err := json.NewDecoder(r.Body).Decode(v)
	return err == nil || errors.Is(err, io.EOF)
}

// dayParam parses ?date=YYYY-MM-DD. A missing date yields the zero time,
// which the service reads as today.
func dayParam(r *http.Request) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("date"))
	if raw == "" {
		return time.Time{}, nil
	}
	return domain.ParseDay(raw)
}
