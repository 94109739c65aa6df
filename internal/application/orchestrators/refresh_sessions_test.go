package orchestrators

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingRefresher struct {
	calls atomic.Int32
	err   error
}

// Refresh counts calls.
// PRE: none
// POST: returns the configured error
func (r *countingRefresher) Refresh(_ context.Context) error {
	r.calls.Add(1)
	return r.err
}

// TestRefreshSessions_CountsFailures verifies one failing session does not stop the pass.
func TestRefreshSessions_CountsFailures(t *testing.T) {
	ok1, bad, ok2 := &countingRefresher{}, &countingRefresher{err: errors.New("provider down")}, &countingRefresher{}
	deps := RefreshDeps{Sessions: func() []Refresher { return []Refresher{ok1, bad, ok2} }}

	refreshed, failed := ExecuteRefreshSessions(context.Background(), deps)
	if refreshed != 2 || failed != 1 {
		t.Errorf("expected 2 refreshed 1 failed, got %d %d", refreshed, failed)
	}
	if ok2.calls.Load() != 1 {
		t.Error("session after the failure was not refreshed")
	}
}

// TestRefreshSessions_CancelledContext verifies a cancelled pass stops early.
func TestRefreshSessions_CancelledContext(t *testing.T) {
	r := &countingRefresher{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	refreshed, failed := ExecuteRefreshSessions(ctx, RefreshDeps{Sessions: func() []Refresher { return []Refresher{r} }})
	if refreshed != 0 || failed != 0 || r.calls.Load() != 0 {
		t.Errorf("expected no work, got refreshed=%d failed=%d calls=%d", refreshed, failed, r.calls.Load())
	}
}

// TestStartRefreshWorker_TicksUntilStopped verifies the worker refreshes on each tick and stops.
func TestStartRefreshWorker_TicksUntilStopped(t *testing.T) {
	r := &countingRefresher{}
	stop := make(chan struct{})
	StartRefreshWorker(RefreshDeps{Sessions: func() []Refresher { return []Refresher{r} }}, 10*time.Millisecond, stop)

	deadline := time.Now().Add(2 * time.Second)
	for r.calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	close(stop)
	if r.calls.Load() < 2 {
		t.Fatalf("expected at least 2 refreshes, got %d", r.calls.Load())
	}
}
