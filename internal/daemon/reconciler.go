package daemon

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper compares the compositor's windows against the server's and
// fixes the difference. It returns how many windows were dropped and adopted.
type Sweeper func(ctx context.Context) (dropped, adopted int, err error)

// ReconcilerConfig holds configuration for the reconciler.
type ReconcilerConfig struct {
	Interval time.Duration
	Logger   *slog.Logger
}

// Reconciler periodically checks for window drift and corrects it. Drift
// happens when destroy or create notifications are lost, e.g. across a
// server grab by another client.
type Reconciler struct {
	interval time.Duration
	sweep    Sweeper
	logger   *slog.Logger
	reset    chan time.Duration
}

// NewReconciler creates a reconciler. An interval of zero disables the
// periodic pass; ReconcileNow still works.
func NewReconciler(cfg ReconcilerConfig, sweep Sweeper) *Reconciler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Reconciler{
		interval: cfg.Interval,
		sweep:    sweep,
		logger:   logger,
		reset:    make(chan time.Duration, 1),
	}
}

// SetInterval changes the period of a running reconciler.
func (r *Reconciler) SetInterval(d time.Duration) {
	select {
	case <-r.reset:
	default:
	}
	r.reset <- d
}

// Run starts the reconciliation loop. Blocks until context is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	var (
		ticker *time.Ticker
		tick   <-chan time.Time
	)
	start := func(d time.Duration) {
		if ticker != nil {
			ticker.Stop()
			ticker, tick = nil, nil
		}
		if d > 0 {
			ticker = time.NewTicker(d)
			tick = ticker.C
		}
	}
	start(r.interval)
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	r.logger.Info("reconciler started", "interval", r.interval)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return
		case d := <-r.reset:
			if d != r.interval {
				r.logger.Info("reconciler interval changed", "interval", d)
				r.interval = d
				start(d)
			}
		case <-tick:
			r.reconcile(ctx)
		}
	}
}

// reconcile performs a single reconciliation pass.
func (r *Reconciler) reconcile(ctx context.Context) {
	// Recover from panics to prevent crashing the daemon
	defer func() {
		if err := recover(); err != nil {
			r.logger.Error("reconciler panic recovered", "error", err)
		}
	}()

	dropped, adopted, err := r.sweep(ctx)
	if err != nil {
		r.logger.Error("reconciler: sweep failed", "error", err)
		return
	}
	if dropped > 0 || adopted > 0 {
		r.logger.Info("reconciler: window drift corrected",
			"dropped", dropped,
			"adopted", adopted)
	}
}

// ReconcileNow triggers an immediate reconciliation pass.
func (r *Reconciler) ReconcileNow(ctx context.Context) {
	r.reconcile(ctx)
}
