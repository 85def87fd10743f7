package handlers

import (
	"net/http"

	"github.com/pysugar/metric-garden/internal/version"
)

// HealthHandler handles GET /healthz.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, struct {
			Status string `json:"status"`
			version.BuildInfo
		}{Status: "ok", BuildInfo: version.Info()})
	}
}
