package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/mathgaling/tutor/internal/platform/apperr"
)

const maxBodyBytes = 1 << 20

// statusNoContentAvailable is reported when a component has nothing to serve.
const statusNoContentAvailable = "no_content_available"

type errorBody struct {
	Error  string              `json:"error"`
	Status string              `json:"status,omitempty"`
	Fields []apperr.FieldError `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

// writeError maps engine errors onto HTTP statuses. Unknown errors are logged
// and reported without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *apperr.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: verr.Msg, Fields: verr.Fields})
	case errors.Is(err, apperr.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, apperr.ErrNoContentAvailable):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error(), Status: statusNoContentAvailable})
	case errors.Is(err, apperr.ErrConcurrencyConflict):
		writeJSON(w, http.StatusConflict, errorBody{Error: "the knowledge state changed concurrently, retry the request"})
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: http.StatusText(http.StatusInternalServerError)})
	}
}

// decodeJSON reads a JSON body into v, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return apperr.Validation("request body is required")
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.Validation("invalid JSON body: %v", err)
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := r.PathValue(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, &apperr.ValidationError{
			Msg:    "invalid path parameter",
			Fields: []apperr.FieldError{{Field: name, Message: name + " must be a positive integer"}},
		}
	}
	return id, nil
}

// queryInt returns the named query parameter, or 0 when it is absent.
func queryInt(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, &apperr.ValidationError{
			Msg:    "invalid query parameter",
			Fields: []apperr.FieldError{{Field: name, Message: name + " must be a non-negative integer"}},
		}
	}
	return v, nil
}

// writeFailed logs a failure after the response status was already sent.
func writeFailed(r *http.Request, err error) {
	slog.Warn("failed to write response", "method", r.Method, "path", r.URL.Path, "error", err)
}
