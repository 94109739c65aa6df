package orchestrators

import (
	"context"
	"log/slog"
	"time"
)

// Refresher reconciles one cached session with its identity provider.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// RefreshDeps supplies the sessions to refresh on each pass.
type RefreshDeps struct {
	Sessions func() []Refresher
}

// ExecuteRefreshSessions refreshes every live session once. Failures are logged and counted.
// PRE: deps.Sessions is non-nil
// POST: Returns how many sessions refreshed and failed
func ExecuteRefreshSessions(ctx context.Context, deps RefreshDeps) (refreshed, failed int) {
	for _, s := range deps.Sessions() {
		if err := ctx.Err(); err != nil {
			return refreshed, failed
		}
		if err := s.Refresh(ctx); err != nil {
			failed++
			slog.Warn("auth_event", "event", "session_refresh_failed", "error", err.Error())
			continue
		}
		refreshed++
	}
	return refreshed, failed
}

// StartRefreshWorker periodically refreshes live sessions so tokens are renewed
// before they expire and remote sign-outs are noticed.
// PRE: stopCh is provided to signal shutdown
// POST: Worker runs until stopCh is closed
func StartRefreshWorker(deps RefreshDeps, interval time.Duration, stopCh <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), interval)
				refreshed, failed := ExecuteRefreshSessions(ctx, deps)
				cancel()
				if failed > 0 {
					slog.Warn("auth_event", "event", "session_refresh_pass", "refreshed", refreshed, "failed", failed)
				}
			case <-stopCh:
				slog.Info("auth_event", "event", "refresh_worker_stopped")
				return
			}
		}
	}()
}
