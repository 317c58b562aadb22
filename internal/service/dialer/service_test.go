package dialer

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/predictive-dialer/internal/config"
	"github.com/acme/predictive-dialer/internal/domain"
	"github.com/acme/predictive-dialer/internal/repository"
	"github.com/acme/predictive-dialer/internal/repository/memory"
	apperrors "github.com/acme/predictive-dialer/pkg/errors"
)

type fixture struct {
	svc     *Service
	configs *memory.DialerConfigRepository
	metrics *memory.MetricsStore
	queue   *memory.DialQueueRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	configs := memory.NewDialerConfigRepository()
	metrics := memory.NewMetricsStore()
	queue := memory.NewDialQueueRepository()
	return &fixture{
		svc:     NewService(configs, metrics, queue, config.PacingConfig{}),
		configs: configs,
		metrics: metrics,
		queue:   queue,
	}
}

func startInput(campaignID uuid.UUID) StartInput {
	return StartInput{
		CampaignID:           campaignID,
		DialMethod:           domain.DialMethodAutodial,
		MaxConcurrentCalls:   50,
		AbandonRateThreshold: 0.03,
	}
}

func TestStartSeedsDefaults(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	campaignID := uuid.New()

	cfg, err := fx.svc.Start(ctx, startInput(campaignID))
	require.NoError(t, err)
	assert.True(t, cfg.IsActive)
	assert.Equal(t, 1.0, cfg.PacingMultiplier, "zero multiplier defaults to 1")

	metrics, err := fx.metrics.Get(ctx, campaignID)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultMetrics(), metrics)

	multiplier, err := fx.metrics.Multiplier(ctx, campaignID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, multiplier)
}

func TestStartRejectsInvalidConfig(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	campaignID := uuid.New()

	in := startInput(campaignID)
	in.AbandonRateThreshold = 1.5
	_, err := fx.svc.Start(ctx, in)
	require.ErrorIs(t, err, apperrors.ErrValidation)

	// Nothing persisted on validation failure.
	_, err = fx.configs.Get(ctx, campaignID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestStopDeactivatesAndDiscards(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	campaignID := uuid.New()

	_, err := fx.svc.Start(ctx, startInput(campaignID))
	require.NoError(t, err)
	require.NoError(t, fx.svc.Stop(ctx, campaignID))

	cfg, err := fx.configs.Get(ctx, campaignID)
	require.NoError(t, err)
	assert.False(t, cfg.IsActive)

	_, err = fx.metrics.Get(ctx, campaignID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestStopUnknownCampaign(t *testing.T) {
	fx := newFixture(t)
	err := fx.svc.Stop(context.Background(), uuid.New())
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestUpdateMetricsSmooths(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	campaignID := uuid.New()

	_, err := fx.svc.Start(ctx, startInput(campaignID))
	require.NoError(t, err)

	conn := 1.0
	metrics, err := fx.svc.UpdateMetrics(ctx, campaignID, domain.MetricsSample{ConnectionRate: &conn})
	require.NoError(t, err)
	// 0.85*0.3 + 0.15*1.0
	assert.InDelta(t, 0.405, metrics.ConnectionRate, 1e-9)
}

func TestStatusComputesPacing(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	campaignID := uuid.New()

	_, err := fx.svc.Start(ctx, startInput(campaignID))
	require.NoError(t, err)

	agents := 10
	active := 5
	act := 120.0
	_, err = fx.metrics.Apply(ctx, campaignID, domain.MetricsSample{
		AvailableAgents: &agents,
		ActiveCalls:     &active,
		AverageCallTime: &act,
	}, 0)
	require.NoError(t, err)

	entry := &domain.DialQueueEntry{
		ID:         uuid.New(),
		CampaignID: campaignID,
		ContactID:  uuid.New(),
		Status:     domain.QueueStatusQueued,
	}
	require.NoError(t, fx.queue.Enqueue(ctx, entry))

	status, err := fx.svc.Status(ctx, campaignID)
	require.NoError(t, err)
	require.NotNil(t, status.Queue)
	assert.Equal(t, int64(1), status.Queue.TotalQueued)
	// 10 agents * (60/120) per minute, lifted by the 0.3 connection rate.
	assert.InDelta(t, 16.666, status.CurrentPacing, 0.01)
	assert.Equal(t, 2, status.CallsNextTick)
	assert.Equal(t, 1.0, status.Multiplier)
	// 120s average call, 5 active calls over 10 agents.
	assert.InDelta(t, 60.0, status.EstimatedWaitTime, 1e-9)
}

func TestStatusUnknownCampaign(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.svc.Status(context.Background(), uuid.New())
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
