// Package reaper recovers from crashed or hung dial attempts: it releases
// stale contact locks and abandons entries stuck in dialing.
package reaper

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/acme/predictive-dialer/internal/app"
	"github.com/acme/predictive-dialer/internal/domain"
)

// Worker sweeps stale locks and timed-out dials on an interval.
type Worker struct {
	container *app.Container
}

// New creates a new reaper worker.
func New(container *app.Container) *Worker {
	return &Worker{container: container}
}

// Run executes the sweep loop until cancelled.
func (w *Worker) Run(ctx context.Context) error {
	locking := w.container.Config.Locking.Normalize()

	ticker := time.NewTicker(locking.SweepInterval)
	defer ticker.Stop()

	for {
		if err := w.Sweep(ctx); err != nil && ctx.Err() == nil {
			w.container.Logger.Error("reaper sweep failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sweep runs one recovery pass. A lock older than the lock timeout belongs
// to a dead worker and is released; a dialing entry older than the dial
// timeout lost its outcome report and is force-abandoned.
func (w *Worker) Sweep(ctx context.Context) error {
	tracer := otel.Tracer("dialer.reaper")
	sctx, span := tracer.Start(ctx, "reaper.sweep")
	defer span.End()

	repos := w.container.Repositories()
	coord := w.container.Services().Coordinator
	logger := w.container.Logger
	locking := w.container.Config.Locking.Normalize()
	now := time.Now().UTC()

	released, err := repos.Contacts.ReleaseStaleLocks(sctx, now.Add(-locking.LockTimeout))
	if err != nil {
		span.RecordError(err)
		return err
	}
	if released > 0 {
		logger.Info("released stale locks", zap.Int64("count", released))
	}
	span.SetAttributes(attribute.Int64("locks.released", released))

	abandoned, err := repos.Queue.ForceAbandonStale(sctx, now.Add(-locking.DialTimeout), now)
	if err != nil {
		span.RecordError(err)
		return err
	}
	for _, entry := range abandoned {
		coord.SettleForced(sctx, entry, domain.CallOutcomeAbandoned, "dial timeout")
		logger.Warn("abandoned stale dial",
			zap.String("queue_id", entry.ID.String()),
			zap.String("campaign_id", entry.CampaignID.String()))
	}
	span.SetAttributes(attribute.Int("entries.abandoned", len(abandoned)))

	return nil
}
