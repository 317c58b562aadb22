// Package outcome consumes gateway outcome reports and settles queue
// entries through the coordinator.
package outcome

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/predictive-dialer/internal/app"
	"github.com/acme/predictive-dialer/internal/queue"
	apperrors "github.com/acme/predictive-dialer/pkg/errors"
)

// Worker consumes outcome events and records them against queue entries.
type Worker struct {
	container *app.Container
}

// New creates a new outcome worker.
func New(container *app.Container) *Worker {
	return &Worker{container: container}
}

// Run processes outcome events until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	cfg := w.container.Config
	groupID := cfg.Kafka.ConsumerGroupID + "-outcome"
	reader := w.container.Kafka.NewReader(cfg.Kafka.OutcomeTopic, groupID)
	defer reader.Close()

	coord := w.container.Services().Coordinator
	logger := w.container.Logger

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("outcome worker: fetch", zap.Error(err))
			continue
		}

		var report queue.OutcomeMessage
		if err := json.Unmarshal(msg.Value, &report); err != nil {
			logger.Error("outcome worker: unmarshal", zap.Error(err))
			_ = reader.CommitMessages(ctx, msg)
			continue
		}

		tracer := otel.Tracer("dialer.outcomeworker")
		sctx, span := tracer.Start(ctx, "dial.outcome", trace.WithAttributes(
			attribute.String("queue.id", report.QueueID.String()),
			attribute.String("campaign.id", report.CampaignID.String()),
			attribute.String("outcome", report.Outcome),
		))

		if _, err := coord.HandleGatewayOutcome(sctx, report); err != nil {
			span.RecordError(err)
			// A duplicate terminal report arrives as an invalid transition;
			// the entry is already settled, so the message is just committed.
			if apperrors.Is(err, apperrors.ErrInvalidTransition) || apperrors.Is(err, apperrors.ErrNotFound) {
				logger.Debug("outcome worker: entry already settled",
					zap.String("queue_id", report.QueueID.String()),
					zap.String("outcome", report.Outcome))
			} else {
				logger.Error("outcome worker: record outcome",
					zap.String("queue_id", report.QueueID.String()),
					zap.Error(err))
			}
		}

		if err := reader.CommitMessages(sctx, msg); err != nil {
			span.RecordError(err)
			logger.Error("outcome worker: commit", zap.Error(err))
		}
		span.End()
	}
}
