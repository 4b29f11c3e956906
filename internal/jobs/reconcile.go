// Package jobs runs background work on a cron schedule.
//
// The only job today is the ledger audit: replay every user's history and
// compare it with the stored balance. It never repairs anything. An
// inconsistency means a bug or a manual edit, and a human should look.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sakif/waste-rewards/internal/service"
)

// DefaultRunTimeout bounds one full audit pass.
const DefaultRunTimeout = 10 * time.Minute

// Reconciler is the part of service.Recorder the audit needs.
type Reconciler interface {
	ReconcileAll(ctx context.Context) ([]service.Reconciliation, error)
}

// ReconcileScheduler runs Reconciler.ReconcileAll on a cron schedule.
type ReconcileScheduler struct {
	cron       *cron.Cron
	reconciler Reconciler
	logger     *slog.Logger
	runTimeout time.Duration

	// base is cancelled by Stop so an audit in progress winds down.
	base   context.Context
	cancel context.CancelFunc
}

// NewReconcileScheduler validates spec (standard five-field cron or a
// descriptor such as "@every 1h") and registers the audit. Overlapping runs
// are skipped rather than queued.
func NewReconcileScheduler(spec string, reconciler Reconciler, logger *slog.Logger) (*ReconcileScheduler, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	base, cancel := context.WithCancel(context.Background())

	s := &ReconcileScheduler{
		cron:       c,
		reconciler: reconciler,
		logger:     logger,
		runTimeout: DefaultRunTimeout,
		base:       base,
		cancel:     cancel,
	}

	if _, err := c.AddFunc(spec, func() { s.RunOnce(s.base) }); err != nil {
		cancel()
		return nil, fmt.Errorf("jobs: invalid reconcile schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *ReconcileScheduler) Start() {
	s.cron.Start()
	s.logger.Info("reconcile scheduler started")
}

// Stop cancels a running audit and waits for it to return.
func (s *ReconcileScheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("reconcile scheduler stopped")
}

// RunOnce performs one audit pass and returns how many users were found
// inconsistent. Per-user details are logged by the recorder.
func (s *ReconcileScheduler) RunOnce(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()

	start := time.Now()
	results, err := s.reconciler.ReconcileAll(ctx)

	inconsistent := 0
	for _, r := range results {
		if !r.Consistent {
			inconsistent++
		}
	}

	attrs := []any{
		slog.Int("users", len(results)),
		slog.Int("inconsistent", inconsistent),
		slog.Duration("duration", time.Since(start)),
	}
	switch {
	case err != nil:
		s.logger.Error("reconcile run incomplete", append(attrs, slog.String("error", err.Error()))...)
	case inconsistent > 0:
		s.logger.Error("reconcile run found inconsistent ledgers", attrs...)
	default:
		s.logger.Info("reconcile run complete", attrs...)
	}
	return inconsistent
}
