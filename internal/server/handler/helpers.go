package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/flashbot/internal/domain"
	"github.com/alanyoungcy/flashbot/internal/executor"
)

// maxBodyBytes bounds request bodies accepted by the POST endpoints.
const maxBodyBytes = 1 << 20

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseListOpts extracts pagination and time bounds from the query string.
// Defaults: limit=50 (max 500), offset=0. since/until are RFC 3339.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	opts := domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
	if t, err := time.Parse(time.RFC3339, q.Get("since")); err == nil {
		opts.Since = &t
	}
	if t, err := time.Parse(time.RFC3339, q.Get("until")); err == nil {
		opts.Until = &t
	}
	return opts
}

// statusFor maps a request failure to an HTTP status. Engine aborts that
// reached the gate are reported as 422 with the failure kind in the body.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrBadSignature), errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrReentrantCall), errors.Is(err, executor.ErrDuplicate), errors.Is(err, domain.ErrLockHeld):
		return http.StatusConflict
	case errors.Is(err, executor.ErrMalformed), errors.Is(err, executor.ErrExpired),
		errors.Is(err, domain.ErrInvalidManeuver), errors.Is(err, domain.ErrInvalidRoute),
		errors.Is(err, domain.ErrUnknownStrategy):
		return http.StatusBadRequest
	case errors.Is(err, executor.ErrStrategyDisabled):
		return http.StatusForbidden
	case errors.Is(err, executor.ErrStopped):
		return http.StatusServiceUnavailable
	case domain.KindOf(err) != "internal":
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
