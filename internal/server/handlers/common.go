// Package handlers implements the HTTP API of the garden server.
package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/pysugar/metric-garden/internal/auth/session"
	"github.com/pysugar/metric-garden/internal/errs"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeErrorMessage answers with a JSON {"error": msg} body.
func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeError answers with the status mapped from err. Server-side failures
// hide the cause behind fallback.
func writeError(w http.ResponseWriter, err error, fallback string) {
	status := errs.HTTPStatus(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		msg = fallback
	}
	writeErrorMessage(w, status, msg)
}

// requireUser returns the signed-in user, answering 401 when there is none.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := session.UserID(r.Context())
	if !ok {
		writeErrorMessage(w, http.StatusUnauthorized, "Not authenticated")
		return "", false
	}
	return userID, true
}

// decodeBody reads a JSON request body into dst, answering 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		log.Printf("⚠️ Invalid request body on %s: %v", r.URL.Path, err)
		writeErrorMessage(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// NotConfiguredHandler answers 503 for a feature that is switched off.
func NotConfiguredHandler(feature string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeErrorMessage(w, http.StatusServiceUnavailable, feature+" is not configured")
	}
}
