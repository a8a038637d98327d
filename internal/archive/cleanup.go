package archive

import (
	"context"
	"log/slog"
	"time"
)

// ExpiredRecording identifies one answer whose retention window has passed.
type ExpiredRecording struct {
	CallerID string
	StepKey  string
}

// ExpiredDeleter removes recording rows older than the given number of days
// from the ledger and reports which answers they covered.
type ExpiredDeleter interface {
	DeleteOlderThan(ctx context.Context, days int) ([]ExpiredRecording, error)
}

// StartCleanupTicker runs a background goroutine that periodically expires
// recordings older than maxDays: the ledger rows are deleted, the WAV files
// are removed from disk, and each affected caller's metadata document is
// rewritten to match what remains. A maxDays of 0 disables retention. The
// goroutine stops when ctx is cancelled.
func StartCleanupTicker(ctx context.Context, a *Archive, deleter ExpiredDeleter, maxDays int, interval time.Duration) {
	if maxDays <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				expired, err := deleter.DeleteOlderThan(ctx, maxDays)
				if err != nil {
					slog.Error("recording retention cleanup failed", "error", err)
					continue
				}
				if len(expired) == 0 {
					continue
				}

				slog.Info("recording retention cleanup", "expired", len(expired), "max_days", maxDays)

				callers := make(map[string]bool)
				for _, e := range expired {
					if err := a.Remove(e.CallerID, e.StepKey); err != nil {
						slog.Warn("failed to remove expired answer",
							"caller_id", e.CallerID,
							"step", e.StepKey,
							"error", err,
						)
					}
					callers[e.CallerID] = true
				}

				for callerID := range callers {
					if err := a.FlushMetadata(callerID); err != nil {
						slog.Warn("failed to reflush metadata after cleanup",
							"caller_id", callerID,
							"error", err,
						)
					}
				}
			}
		}
	}()
}
