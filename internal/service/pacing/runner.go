package pacing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/predictive-dialer/internal/domain"
	"github.com/acme/predictive-dialer/internal/queue"
	"github.com/acme/predictive-dialer/internal/repository"
	"github.com/acme/predictive-dialer/internal/service/coordinator"
	apperrors "github.com/acme/predictive-dialer/pkg/errors"
	"github.com/acme/predictive-dialer/pkg/logger"
)

// pacerOwner is the lock owner id stamped on contacts claimed by the loop.
const pacerOwner = "pacer"

// Coordinator is the slice of the coordinator the runner drives each tick.
type Coordinator interface {
	GenerateQueue(ctx context.Context, campaignID uuid.UUID, maxRecords int) ([]*domain.DialQueueEntry, error)
	NextContact(ctx context.Context, campaignID uuid.UUID, agentID string) (*coordinator.Assignment, error)
	RecordOutcome(ctx context.Context, in coordinator.RecordOutcomeInput) (*domain.DialQueueEntry, error)
	CampaignStats(ctx context.Context, campaignID uuid.UUID) (*domain.QueueStats, error)
}

// Dispatcher hands a claimed dial to the gateway pipeline.
type Dispatcher interface {
	DispatchDial(ctx context.Context, msg queue.DialRequestMessage) error
}

// Runner drives the pacing loop: every tick it recomputes the pacing
// decision per active campaign and originates that many calls.
type Runner struct {
	configs    repository.DialerConfigRepository
	metrics    repository.MetricsStore
	presence   repository.PresenceRegistry
	coord      Coordinator
	dispatcher Dispatcher
	policy     Policy
	fetchLimit int
	clock      Clock
	log        *logger.Logger
}

// NewRunner builds a pacing runner.
func NewRunner(
	configs repository.DialerConfigRepository,
	metrics repository.MetricsStore,
	presence repository.PresenceRegistry,
	coord Coordinator,
	dispatcher Dispatcher,
	policy Policy,
	fetchLimit int,
	clock Clock,
	log *logger.Logger,
) *Runner {
	if policy.TickInterval <= 0 {
		policy.TickInterval = 10 * time.Second
	}
	if fetchLimit <= 0 {
		fetchLimit = 100
	}
	if clock == nil {
		clock = RealClock()
	}
	return &Runner{
		configs:    configs,
		metrics:    metrics,
		presence:   presence,
		coord:      coord,
		dispatcher: dispatcher,
		policy:     policy,
		fetchLimit: fetchLimit,
		clock:      clock,
		log:        log,
	}
}

// Run executes the pacing loop until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	ticker := r.clock.NewTicker(r.policy.TickInterval)
	defer ticker.Stop()

	for {
		if err := r.Tick(ctx); err != nil && ctx.Err() == nil {
			r.log.Error("pacing tick failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
		}
	}
}

// Tick runs one pacing pass over every active autodial campaign.
func (r *Runner) Tick(ctx context.Context) error {
	tracer := otel.Tracer("dialer.pacer")
	tctx, span := tracer.Start(ctx, "pacer.tick")
	defer span.End()

	configs, err := r.configs.ListActive(tctx, r.fetchLimit)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("pacing: list active configs: %w", err)
	}
	span.SetAttributes(attribute.Int("campaign.count", len(configs)))

	for _, cfg := range configs {
		if !cfg.Paceable() {
			continue
		}
		cctx, cspan := tracer.Start(tctx, "pacer.campaign", trace.WithAttributes(
			attribute.String("campaign.id", cfg.CampaignID.String()),
		))
		if err := r.tickCampaign(cctx, *cfg); err != nil {
			cspan.RecordError(err)
			r.log.Error("campaign pacing failed",
				zap.String("campaign_id", cfg.CampaignID.String()),
				zap.Error(err))
		}
		cspan.End()
	}
	return nil
}

func (r *Runner) tickCampaign(ctx context.Context, cfg domain.DialerConfig) error {
	campaign := cfg.CampaignID.String()
	now := r.clock.Now()

	agents, err := r.presence.AvailableCount(ctx, cfg.CampaignID, now)
	if err != nil {
		return fmt.Errorf("available agents: %w", err)
	}

	stats, err := r.coord.CampaignStats(ctx, cfg.CampaignID)
	if err != nil {
		return fmt.Errorf("campaign stats: %w", err)
	}
	active := int(stats.TotalDialing + stats.TotalConnected)

	// Refresh the gauge-style signals before deciding; rates keep their
	// smoothed values from outcome events.
	metrics, err := r.metrics.Apply(ctx, cfg.CampaignID, domain.MetricsSample{
		AvailableAgents: &agents,
		ActiveCalls:     &active,
	}, r.policy.SmoothingWeight)
	if err != nil {
		if !apperrors.Is(err, apperrors.ErrNotFound) {
			return fmt.Errorf("refresh metrics: %w", err)
		}
		metrics = domain.DefaultMetrics()
		metrics.AvailableAgents = agents
		metrics.ActiveCalls = active
	}

	multiplier, err := r.metrics.Multiplier(ctx, cfg.CampaignID)
	if err != nil {
		if !apperrors.Is(err, apperrors.ErrNotFound) {
			return fmt.Errorf("read multiplier: %w", err)
		}
		multiplier = cfg.PacingMultiplier
	}

	decision := Compute(r.policy, cfg, metrics, multiplier)

	callsPerMinuteGauge.WithLabelValues(campaign).Set(decision.CallsPerMinute)
	availableAgentsGauge.WithLabelValues(campaign).Set(float64(agents))
	abandonRateGauge.WithLabelValues(campaign).Set(metrics.AbandonRate)

	if decision.Throttled {
		throttleCounter.WithLabelValues(campaign).Inc()
		if err := r.metrics.SetMultiplier(ctx, cfg.CampaignID, decision.Multiplier); err != nil {
			r.log.Warn("persist multiplier failed",
				zap.String("campaign_id", campaign),
				zap.Error(err))
		}
		r.log.Info("abandon threshold breached, throttling",
			zap.String("campaign_id", campaign),
			zap.Float64("abandon_rate", metrics.AbandonRate),
			zap.Float64("multiplier", decision.Multiplier))
	}

	r.log.Debug("pacing decision",
		zap.String("campaign_id", campaign),
		zap.Int("available_agents", agents),
		zap.Int("active_calls", active),
		zap.Float64("calls_per_minute", decision.CallsPerMinute),
		zap.Int("calls_to_place", decision.CallsToPlace))

	if decision.CallsToPlace == 0 {
		return nil
	}

	if _, err := r.coord.GenerateQueue(ctx, cfg.CampaignID, decision.CallsToPlace); err != nil {
		return fmt.Errorf("generate queue: %w", err)
	}

	return r.originate(ctx, cfg, decision.CallsToPlace)
}

// originate claims up to n queued entries and dispatches a dial for each.
// Running out of claimable entries ends the pass early; it is not an error.
func (r *Runner) originate(ctx context.Context, cfg domain.DialerConfig, n int) error {
	campaign := cfg.CampaignID.String()
	for i := 0; i < n; i++ {
		assignment, err := r.coord.NextContact(ctx, cfg.CampaignID, pacerOwner)
		if err != nil {
			if apperrors.Is(err, apperrors.ErrNoEligibleContacts) {
				r.log.Debug("no claimable entries left",
					zap.String("campaign_id", campaign),
					zap.Int("placed", i))
				return nil
			}
			return fmt.Errorf("next contact: %w", err)
		}

		msg := queue.DialRequestMessage{
			QueueID:          assignment.Entry.ID,
			CampaignID:       cfg.CampaignID,
			ContactID:        assignment.Contact.ID,
			Phone:            assignment.Contact.Phone,
			AttemptNum:       assignment.Contact.AttemptCount + 1,
			ConcurrencyLimit: cfg.MaxConcurrentCalls,
			EnqueuedAt:       r.clock.Now(),
		}
		if err := r.dispatcher.DispatchDial(ctx, msg); err != nil {
			r.log.Error("dial dispatch failed",
				zap.String("campaign_id", campaign),
				zap.String("queue_id", assignment.Entry.ID.String()),
				zap.Error(err))
			r.failPlacement(ctx, assignment)
			continue
		}
		callsPlacedCounter.WithLabelValues(campaign).Inc()
	}
	return nil
}

// failPlacement settles an entry whose dial never reached the gateway: the
// entry fails, the contact unlocks and becomes retry eligible.
func (r *Runner) failPlacement(ctx context.Context, assignment *coordinator.Assignment) {
	if _, err := r.coord.RecordOutcome(ctx, coordinator.RecordOutcomeInput{
		QueueID: assignment.Entry.ID,
		Status:  domain.QueueStatusFailed,
		Outcome: domain.CallOutcomeFailed,
		Error:   apperrors.ErrGatewayPlacement.Error(),
	}); err != nil {
		r.log.Warn("settle failed placement",
			zap.String("queue_id", assignment.Entry.ID.String()),
			zap.Error(err))
	}
}
