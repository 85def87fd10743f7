package orchestrator

import (
	"context"
	"log"
	"time"
)

// StartDailyLoop runs RunDaily once a day at hourUTC:00 until ctx is done.
// It is the in-process alternative to an external cron hitting the trigger
// endpoint.
func (o *Orchestrator) StartDailyLoop(ctx context.Context, hourUTC int) {
	log.Printf("🌱 Daily sync loop scheduled at %02d:00 UTC", hourUTC)
	for {
		next := nextRun(o.now(), hourUTC)
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Printf("🛑 Daily sync loop stopped")
			return
		case <-timer.C:
		}

		if _, err := o.RunDaily(ctx); err != nil {
			log.Printf("❌ Scheduled daily sync failed: %v", err)
		}
	}
}

// nextRun returns the first hourUTC:00 strictly after now.
func nextRun(now time.Time, hourUTC int) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), hourUTC, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
