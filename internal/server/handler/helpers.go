package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/polyhedge/internal/domain"
)

// maxBodyBytes caps request bodies; every request here is a handful of
// numbers.
const maxBodyBytes = 64 << 10

// errorBody is the JSON shape of every failed response.
type errorBody struct {
	Success bool      `json:"success"`
	Error   errorInfo `json:"error"`
}

type errorInfo struct {
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

// kindStatus maps domain.KindOf codes to HTTP status codes. Unknown kinds
// are internal errors.
var kindStatus = map[string]int{
	"invalid_input":     http.StatusBadRequest,
	"already_open":      http.StatusConflict,
	"no_position":       http.StatusConflict,
	"not_triggered":     http.StatusUnprocessableEntity,
	"duplicate_request": http.StatusConflict,
	"busy":              http.StatusLocked,
	"persistence":       http.StatusServiceUnavailable,
	"rate_limited":      http.StatusTooManyRequests,
	"unauthorized":      http.StatusUnauthorized,
	"not_found":         http.StatusNotFound,
}

// StatusFor returns the HTTP status code for err.
func StatusFor(err error) int {
	if status, ok := kindStatus[domain.KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"success":false,"error":{"kind":"internal","reason":"encode response"}}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends err as an error body with the status its kind maps to.
// Internal errors are logged and their text is not exposed.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	kind := domain.KindOf(err)
	reason := domain.ReasonOf(err)
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		reason = "internal error"
	}
	WriteErrorBody(w, status, kind, reason)
}

// WriteErrorBody writes an error body directly. Middleware uses it so that
// rejected requests share the handlers' error shape.
func WriteErrorBody(w http.ResponseWriter, status int, kind, reason string) {
	writeJSON(w, status, errorBody{Error: errorInfo{Kind: kind, Reason: reason}})
}

// decodeBody reads a JSON request body into v. An empty body leaves v
// untouched and fields v does not declare are ignored.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return domain.InvalidInput("malformed request body: %v", err)
	}
	return nil
}

// parseListOpts extracts pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) (domain.ListOpts, error) {
	q := r.URL.Query()
	opts := domain.ListOpts{Limit: 50}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return opts, domain.InvalidInput("limit must be a positive integer, got %q", v)
		}
		opts.Limit = min(n, 500)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, domain.InvalidInput("offset must be a non-negative integer, got %q", v)
		}
		opts.Offset = n
	}
	return opts, nil
}
