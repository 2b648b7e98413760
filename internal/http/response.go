package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"scadenze/internal/core"
	applog "scadenze/internal/log"
	"scadenze/internal/middleware/trace"
	"scadenze/internal/schedule"
)

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "component", "http", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg, RequestID: trace.FromRequest(r)})
}

// badRequest marks a malformed parameter.
type badRequest struct {
	param string
	err   error
}

func (e *badRequest) Error() string { return "invalid " + e.param + ": " + e.err.Error() }
func (e *badRequest) Unwrap() error { return e.err }

func invalidParam(param string, err error) error {
	return &badRequest{param: param, err: err}
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var br *badRequest
	switch {
	case errors.As(err, &br):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrInvalidScheduleDefinition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrItemNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrInvalidOccurrenceID),
		errors.Is(err, core.ErrInvalidYearMonth),
		errors.Is(err, schedule.ErrInvalidCount):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status. Server errors are logged and
// their detail withheld from the client.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		applog.FromContext(r.Context()).Failure(r.Context(), "Request failed", err,
			applog.FieldPath, r.URL.Path)
		writeError(w, r, status, "internal error")
		return
	}
	writeError(w, r, status, err.Error())
}
