// Package httpjson writes JSON responses and parses common query
// parameters for the API handlers.
package httpjson

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// ErrorBody is the payload of every error response.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Write encodes v with the given status.
func Write(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Error writes an ErrorBody.
func Error(w http.ResponseWriter, status int, msg string) {
	Write(w, status, ErrorBody{Error: msg})
}

// ServerError writes a 500 carrying err as message.
func ServerError(w http.ResponseWriter, err error) {
	Write(w, http.StatusInternalServerError, ErrorBody{Error: "internal server error", Message: err.Error()})
}

// Int parses the query parameter name. A missing value yields def; values
// outside [lo, hi] are rejected.
func Int(r *http.Request, name string, def, lo, hi int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("%s must be an integer between %d and %d", name, lo, hi)
	}
	return n, nil
}

// Float parses the query parameter name like Int. ok is false when absent.
func Float(r *http.Request, name string, lo, hi float64) (v float64, ok bool, err error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return 0, false, nil
	}
	v, err = strconv.ParseFloat(s, 64)
	if err != nil || v < lo || v > hi {
		return 0, false, fmt.Errorf("%s must be a number between %g and %g", name, lo, hi)
	}
	return v, true, nil
}
