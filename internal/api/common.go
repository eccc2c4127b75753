// Package api exposes the HTTP surface: account auth, conversation control
// and fitness data passthrough.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gymstat/coach-bot/internal/errs"
	"github.com/gymstat/coach-bot/internal/gymstat"
	"github.com/gymstat/coach-bot/internal/logging"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps an internal error to a response. Internal detail goes to
// the log under the request ID; the client only sees the category.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	message := "internal error"

	switch {
	case errors.Is(err, errs.ErrInvalidState):
		status, message = http.StatusConflict, "no active conversation for this operation"
	case errors.Is(err, gymstat.ErrEmailTaken):
		status, message = http.StatusConflict, "email already registered"
	case errors.Is(err, errs.ErrRateLimit):
		status, message = http.StatusTooManyRequests, "rate limited, try again later"
	case errors.Is(err, errs.ErrAuth), errors.Is(err, errs.ErrNotAuthorized):
		status, message = http.StatusUnauthorized, "authentication required"
	case errors.Is(err, errs.ErrTransient), errors.Is(err, errs.ErrProvider):
		status, message = http.StatusBadGateway, "upstream service unavailable"
	}

	log.Printf("api: [%s] %s %s -> %d: %v", logging.GetRequestID(r.Context()), r.Method, r.URL.Path, status, err)
	writeJSON(w, status, map[string]string{"error": message})
}

// ownerParam parses the {ownerID} route segment.
func ownerParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "ownerID"), 10, 64)
	return id, err == nil && id != 0
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return false
	}
	return true
}
