package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

const maxBodyBytes = 1 << 20

// apiError is the flat JSON body every failed request receives.
type apiError struct {
	Status    int    `json:"-"`
	Code      string `json:"error"`
	Message   string `json:"message,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (e *apiError) Error() string {
	return e.Code + ": " + e.Message
}

func validationError(format string, args ...any) *apiError {
	return &apiError{Status: http.StatusBadRequest, Code: "VALIDATION_ERROR", Message: fmt.Sprintf(format, args...)}
}

func notFound(message string) *apiError {
	return &apiError{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: message}
}

var (
	errStore = &apiError{
		Status:  http.StatusInternalServerError,
		Code:    "STORE_ERROR",
		Message: "Something went wrong on our side. Please try again.",
	}
	errUpstream = &apiError{
		Status:  http.StatusBadGateway,
		Code:    "UPSTREAM_ERROR",
		Message: "The writing service failed to respond. Please try again.",
	}
	errUpstreamTimeout = &apiError{
		Status:    http.StatusGatewayTimeout,
		Code:      "UPSTREAM_TIMEOUT",
		Message:   "The writing service took too long to respond. Please try again.",
		Retryable: true,
	}
	errInternal = &apiError{
		Status:  http.StatusInternalServerError,
		Code:    "INTERNAL_ERROR",
		Message: "Something went wrong on our side. Please try again.",
	}
	errUnauthorized = &apiError{
		Status: http.StatusUnauthorized,
		Code:   "Invalid API key",
	}
)

func writeError(w http.ResponseWriter, e *apiError) {
	writeJSON(w, e.Status, e)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a bounded JSON body into v. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) *apiError {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case errors.As(err, &tooLarge):
			return &apiError{Status: http.StatusRequestEntityTooLarge, Code: "VALIDATION_ERROR", Message: "Request body is too large"}
		default:
			return validationError("Invalid JSON body")
		}
	}
	return nil
}

func parseIDParam(r *http.Request) (int64, error) {
	idStr := r.PathValue("id")
	return strconv.ParseInt(idStr, 10, 64)
}
