package quota

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/DukeRupert/parley/internal/domain"
	"github.com/DukeRupert/parley/internal/metrics"
)

type refresher interface {
	needsReconcile() bool
	FetchLimits(ctx context.Context) domain.Entitlement
}

// Reconciler periodically re-fetches the entitlement of a free user who has
// reached the daily limit, so the allowance comes back after midnight and
// plan changes made elsewhere are picked up.
type Reconciler struct {
	target   refresher
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

func newReconciler(target refresher, interval time.Duration, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		target:   target,
		interval: interval,
		logger:   logger,
	}
}

// Start launches the loop. It is a no-op while the loop is already running
// and after Close.
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done

	go r.run(ctx, done)
}

// Stop cancels the loop and waits for it to exit. Safe to call before Start
// and more than once.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Close stops the loop for good. Later calls to Start do nothing.
func (r *Reconciler) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.Stop()
}

// Running reports whether Start was called without a matching Stop.
func (r *Reconciler) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancel != nil
}

func (r *Reconciler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Debug("reconciler started", "interval", r.interval)

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("reconciler stopped")
			return
		case <-ticker.C:
			if !r.target.needsReconcile() {
				continue
			}
			metrics.ReconcileRunsTotal.Inc()
			e := r.target.FetchLimits(ctx)
			r.logger.Debug("entitlement reconciled",
				"can_send", e.CanSend,
				"used", e.MessagesUsed,
				"limit", e.DailyLimit,
			)
		}
	}
}
