// Package dialer owns the per-campaign dialer lifecycle: starting and
// stopping the pacing state and reporting live status.
package dialer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/acme/predictive-dialer/internal/config"
	"github.com/acme/predictive-dialer/internal/domain"
	"github.com/acme/predictive-dialer/internal/repository"
	"github.com/acme/predictive-dialer/internal/service/pacing"
	apperrors "github.com/acme/predictive-dialer/pkg/errors"
)

// Service manages dialer configuration and live status per campaign.
type Service struct {
	configs repository.DialerConfigRepository
	metrics repository.MetricsStore
	queue   repository.DialQueueRepository
	policy  pacing.Policy
	now     func() time.Time
}

// NewService constructs a dialer service.
func NewService(
	configs repository.DialerConfigRepository,
	metrics repository.MetricsStore,
	queue repository.DialQueueRepository,
	pacingCfg config.PacingConfig,
) *Service {
	pacingCfg = pacingCfg.Normalize()
	return &Service{
		configs: configs,
		metrics: metrics,
		queue:   queue,
		policy: pacing.Policy{
			TickInterval:     pacingCfg.TickInterval,
			ConnectRateFloor: pacingCfg.ConnectRateFloor,
			ThrottleFactor:   pacingCfg.ThrottleFactor,
			SmoothingWeight:  pacingCfg.SmoothingWeight,
		},
		now: time.Now,
	}
}

// StartInput captures dialer start parameters.
type StartInput struct {
	CampaignID           uuid.UUID
	DialMethod           domain.DialMethod
	DialSpeed            float64
	MaxConcurrentCalls   int
	AbandonRateThreshold float64
	PacingMultiplier     float64
	RetryDelay           time.Duration
}

// Start activates the dialer for a campaign. An invalid configuration is a
// fatal validation error; nothing is persisted. Live metrics are seeded
// with conservative defaults so the first ticks do not overdial.
func (s *Service) Start(ctx context.Context, in StartInput) (*domain.DialerConfig, error) {
	now := s.now().UTC()
	cfg := &domain.DialerConfig{
		CampaignID:           in.CampaignID,
		DialMethod:           in.DialMethod,
		DialSpeed:            in.DialSpeed,
		MaxConcurrentCalls:   in.MaxConcurrentCalls,
		AbandonRateThreshold: in.AbandonRateThreshold,
		PacingMultiplier:     in.PacingMultiplier,
		RetryDelay:           in.RetryDelay,
		IsActive:             true,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if cfg.PacingMultiplier == 0 {
		cfg.PacingMultiplier = 1
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrValidation, err)
	}

	if err := s.configs.Upsert(ctx, cfg); err != nil {
		return nil, fmt.Errorf("dialer service: store config: %w", err)
	}
	if err := s.metrics.Init(ctx, cfg.CampaignID, domain.DefaultMetrics(), cfg.PacingMultiplier); err != nil {
		return nil, fmt.Errorf("dialer service: seed metrics: %w", err)
	}
	return cfg, nil
}

// Stop deactivates the dialer for a campaign and discards its live metrics.
// Queue entries already in flight are left to finish.
func (s *Service) Stop(ctx context.Context, campaignID uuid.UUID) error {
	if err := s.configs.SetActive(ctx, campaignID, false); err != nil {
		return fmt.Errorf("dialer service: deactivate: %w", err)
	}
	if err := s.metrics.Discard(ctx, campaignID); err != nil && !apperrors.Is(err, apperrors.ErrNotFound) {
		return fmt.Errorf("dialer service: discard metrics: %w", err)
	}
	return nil
}

// UpdateMetrics folds a partial metrics observation into the campaign's
// live metrics and returns the smoothed result.
func (s *Service) UpdateMetrics(ctx context.Context, campaignID uuid.UUID, sample domain.MetricsSample) (domain.DialerMetrics, error) {
	metrics, err := s.metrics.Apply(ctx, campaignID, sample, s.policy.SmoothingWeight)
	if err != nil {
		return domain.DialerMetrics{}, err
	}
	return metrics, nil
}

// Status is the live view of one campaign's dialer.
type Status struct {
	Config            *domain.DialerConfig
	Metrics           domain.DialerMetrics
	Queue             *domain.QueueStats
	Multiplier        float64
	CurrentPacing     float64
	CallsNextTick     int
	EstimatedWaitTime float64 // seconds until an agent frees up, rough
}

// Status reports the current configuration, metrics, queue counters, and
// the pacing rate the next tick would use.
func (s *Service) Status(ctx context.Context, campaignID uuid.UUID) (*Status, error) {
	cfg, err := s.configs.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	stats, err := s.queue.Stats(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("dialer service: read queue stats: %w", err)
	}

	metrics, err := s.metrics.Get(ctx, campaignID)
	if err != nil {
		if !apperrors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("dialer service: read metrics: %w", err)
		}
		metrics = domain.DefaultMetrics()
	}
	multiplier, err := s.metrics.Multiplier(ctx, campaignID)
	if err != nil {
		if !apperrors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("dialer service: read multiplier: %w", err)
		}
		multiplier = cfg.PacingMultiplier
	}

	decision := pacing.Compute(s.policy, *cfg, metrics, multiplier)

	status := &Status{
		Config:        cfg,
		Metrics:       metrics,
		Queue:         stats,
		Multiplier:    multiplier,
		CurrentPacing: decision.CallsPerMinute,
		CallsNextTick: decision.CallsToPlace,
	}
	if metrics.ActiveCalls > 0 {
		agents := metrics.AvailableAgents
		if agents < 1 {
			agents = 1
		}
		status.EstimatedWaitTime = metrics.AverageCallTime * float64(metrics.ActiveCalls) / float64(agents)
	}
	return status, nil
}
