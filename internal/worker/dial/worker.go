// Package dial consumes dial requests and drives the telephony gateway.
package dial

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/predictive-dialer/internal/app"
	"github.com/acme/predictive-dialer/internal/domain"
	"github.com/acme/predictive-dialer/internal/queue"
	"github.com/acme/predictive-dialer/internal/service/concurrency"
)

// Worker consumes dial request events and places calls via the gateway.
type Worker struct {
	container *app.Container
	limiter   *concurrency.Limiter
}

// New creates a new dial worker instance.
func New(container *app.Container) *Worker {
	return &Worker{
		container: container,
		limiter:   container.Limiters().Concurrency,
	}
}

// Run starts the worker loop.
func (w *Worker) Run(ctx context.Context) error {
	cfg := w.container.Config
	reader := w.container.Kafka.NewReader(cfg.Kafka.DialTopic, cfg.Kafka.ConsumerGroupID)
	defer reader.Close()

	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.container.Logger.Error("dial worker: fetch message", zap.Error(err))
			continue
		}

		if err := w.processMessage(ctx, reader, m); err != nil {
			w.container.Logger.Error("dial worker: process", zap.Error(err))
		}
	}
}

func (w *Worker) processMessage(ctx context.Context, reader *kafka.Reader, m kafka.Message) error {
	var req queue.DialRequestMessage
	if err := json.Unmarshal(m.Value, &req); err != nil {
		// poison message, drop it
		_ = reader.CommitMessages(ctx, m)
		return fmt.Errorf("unmarshal dial request: %w", err)
	}

	tracer := otel.Tracer("dialer.dialworker")
	sctx, span := tracer.Start(ctx, "dial.place", trace.WithAttributes(
		attribute.String("queue.id", req.QueueID.String()),
		attribute.String("campaign.id", req.CampaignID.String()),
		attribute.Int("attempt", req.AttemptNum),
	))
	defer span.End()

	release, err := w.waitForSlot(sctx, req)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if release != nil {
		defer release()
	}

	cfg := w.container.Config
	provider := w.container.Providers().Telephony
	publisher := w.container.Dispatchers().OutcomePublisher

	timeout := cfg.Gateway.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	callCtx, cancel := context.WithTimeout(sctx, timeout)
	result, callErr := provider.PlaceCall(callCtx, req)
	cancel()

	outcome := queue.OutcomeMessage{
		QueueID:    req.QueueID,
		CampaignID: req.CampaignID,
		ContactID:  req.ContactID,
		Phone:      req.Phone,
		Outcome:    string(result.Outcome),
		AttemptNum: req.AttemptNum,
		Error:      result.Error,
		OccurredAt: time.Now().UTC(),
	}
	if result.Duration > 0 {
		outcome.DurationMs = int64(result.Duration / time.Millisecond)
	}

	if callErr != nil {
		span.RecordError(callErr)
		outcome.Outcome = string(domain.CallOutcomeFailed)
		if outcome.Error == "" {
			outcome.Error = callErr.Error()
		}
	}

	if err := publisher.PublishOutcome(sctx, outcome); err != nil {
		span.RecordError(err)
		w.container.Logger.Error("dial worker: publish outcome", zap.Error(err))
	}

	if err := reader.CommitMessages(sctx, m); err != nil {
		span.RecordError(err)
		return fmt.Errorf("commit message: %w", err)
	}
	return nil
}

func (w *Worker) waitForSlot(ctx context.Context, req queue.DialRequestMessage) (func(), error) {
	limiter := w.limiter
	if limiter == nil || req.CampaignID == uuid.Nil {
		return nil, nil
	}

	limit := req.ConcurrencyLimit
	if limit <= 0 {
		limit = w.container.Config.Throttle.DefaultPerCampaign
	}
	if limit <= 0 {
		return nil, nil
	}

	for {
		acquired, err := limiter.Acquire(ctx, req.CampaignID, limit)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		if acquired {
			release := func() {
				if err := limiter.Release(context.Background(), req.CampaignID); err != nil {
					w.container.Logger.Warn("dial worker: release slot", zap.Error(err))
				}
			}
			return release, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}
