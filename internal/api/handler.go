// Package api provides shared HTTP helpers and the health endpoints.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// DefaultMaxRequestBodySize bounds JSON request bodies (1MB).
const DefaultMaxRequestBodySize = 1 << 20

// ErrRequestTooLarge is returned by DecodeJSON when the body exceeds the limit.
var ErrRequestTooLarge = errors.New("request body too large")

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// DecodeJSON decodes a size-limited request body into v. An empty body leaves
// v untouched.
func DecodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, v interface{}) error {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxRequestBodySize
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return ErrRequestTooLarge
	}
	return err
}
