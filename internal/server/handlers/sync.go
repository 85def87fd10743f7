package handlers

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/pysugar/metric-garden/internal/monitor"
	"github.com/pysugar/metric-garden/internal/orchestrator"
)

// DailyRunner runs the batch sync. *orchestrator.Orchestrator implements it.
type DailyRunner interface {
	RunDaily(ctx context.Context) (*orchestrator.JobSummary, error)
}

// UserSyncer runs one user's sync. *orchestrator.Orchestrator implements it.
type UserSyncer interface {
	SyncUser(ctx context.Context, userID string) (*orchestrator.UserResult, error)
}

// CronHandler handles GET/POST /api/cron/daily-metrics. The route is guarded
// by the cron secret middleware.
func CronHandler(runner DailyRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := runner.RunDaily(r.Context())
		if err != nil {
			log.Printf("❌ Cron daily metrics failed: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"success":   false,
				"error":     "Failed to run daily metrics sync",
				"timestamp": time.Now().UTC(),
			})
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

// SyncHandler handles POST /api/metrics/sync for the signed-in user.
func SyncHandler(syncer UserSyncer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}

		result, err := syncer.SyncUser(r.Context(), userID)
		if err != nil {
			log.Printf("❌ Sync failed for user %s: %v", userID, err)
			writeError(w, err, "Failed to sync metrics")
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"date":    result.Date.Format("2006-01-02"),
			"metrics": map[string]any{
				"sessions": result.Metrics.Sessions,
				"revenue":  result.Metrics.Revenue.StringFixed(2),
				"payments": result.Metrics.Payments,
			},
			"rewards": map[string]any{
				"growthPointsEarned": result.GrowthPointsEarned,
				"seedsEarned":        result.SeedsEarned,
				"newBalance":         result.NewBalance,
			},
			"garden": map[string]any{
				"plantsGrown":    result.Growth.PlantsGrown,
				"plantsUpgraded": result.Growth.PlantsUpgraded,
				"newRank":        result.NewRank,
			},
		})
	}
}

// RotateCronSecretHandler handles POST /api/cron/secret/rotate. The caller
// proves the current secret and receives the new one.
func RotateCronSecretHandler(rotate func() string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		secret := rotate()
		writeJSON(w, http.StatusOK, map[string]string{"cron_secret": secret})
	}
}

// RunHistory lists recent batch runs. *monitor.RunMonitor implements it.
type RunHistory interface {
	Recent(limit int) []orchestrator.JobSummary
	Stats() monitor.Stats
}

// RunsHandler handles GET /api/cron/runs?limit=N.
func RunsHandler(history RunHistory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				writeErrorMessage(w, http.StatusBadRequest, "limit must be a non-negative integer")
				return
			}
			limit = n
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"stats": history.Stats(),
			"runs":  history.Recent(limit),
		})
	}
}
