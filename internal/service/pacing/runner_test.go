package pacing

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/predictive-dialer/internal/config"
	"github.com/acme/predictive-dialer/internal/domain"
	"github.com/acme/predictive-dialer/internal/queue"
	"github.com/acme/predictive-dialer/internal/repository/memory"
	"github.com/acme/predictive-dialer/internal/service/coordinator"
	"github.com/acme/predictive-dialer/pkg/logger"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) NewTicker(time.Duration) Ticker {
	return &fakeTicker{ch: make(chan time.Time)}
}

type fakeTicker struct {
	ch chan time.Time
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               {}

type captureDispatcher struct {
	mu   sync.Mutex
	msgs []queue.DialRequestMessage
	err  error
}

func (d *captureDispatcher) DispatchDial(ctx context.Context, msg queue.DialRequestMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.msgs = append(d.msgs, msg)
	return nil
}

func (d *captureDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.msgs)
}

type runnerFixture struct {
	campaignID uuid.UUID
	runner     *Runner
	coord      *coordinator.Service
	contacts   *memory.ContactStore
	queue      *memory.DialQueueRepository
	metrics    *memory.MetricsStore
	presence   *memory.PresenceRegistry
	dispatcher *captureDispatcher
	clock      *fakeClock
}

func newRunnerFixture(t *testing.T, agents, contacts int) *runnerFixture {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	campaignID := uuid.New()
	configs := memory.NewDialerConfigRepository()
	require.NoError(t, configs.Upsert(ctx, &domain.DialerConfig{
		CampaignID:           campaignID,
		DialMethod:           domain.DialMethodAutodial,
		MaxConcurrentCalls:   50,
		AbandonRateThreshold: 0.05,
		PacingMultiplier:     1,
		IsActive:             true,
	}))

	metrics := memory.NewMetricsStore()
	require.NoError(t, metrics.Init(ctx, campaignID, domain.DefaultMetrics(), 1))

	presence := memory.NewPresenceRegistry(time.Minute)
	for i := 0; i < agents; i++ {
		require.NoError(t, presence.Heartbeat(ctx, campaignID, fmt.Sprintf("agent-%d", i), now))
	}

	contactStore := memory.NewContactStore()
	queueRepo := memory.NewDialQueueRepository()
	clock := &fakeClock{now: now}

	coord := coordinator.New(
		contactStore, queueRepo, configs, metrics, memory.NewAttemptStore(),
		config.PacingConfig{}, logger.Nop(),
	).WithClock(clock.Now)

	inputs := make([]coordinator.ContactInput, 0, contacts)
	for i := 0; i < contacts; i++ {
		inputs = append(inputs, coordinator.ContactInput{Phone: fmt.Sprintf("+155500000%02d", i)})
	}
	if len(inputs) > 0 {
		_, err := coord.ImportContacts(ctx, campaignID, inputs)
		require.NoError(t, err)
	}

	dispatcher := &captureDispatcher{}
	runner := NewRunner(configs, metrics, presence, coord, dispatcher, testPolicy(), 100, clock, logger.Nop())

	return &runnerFixture{
		campaignID: campaignID,
		runner:     runner,
		coord:      coord,
		contacts:   contactStore,
		queue:      queueRepo,
		metrics:    metrics,
		presence:   presence,
		dispatcher: dispatcher,
		clock:      clock,
	}
}

func TestTickPlacesPacedCalls(t *testing.T) {
	ctx := context.Background()
	fx := newRunnerFixture(t, 10, 5)

	require.NoError(t, fx.runner.Tick(ctx))

	// 10 agents at the default metrics pace at 16.67/min, two calls per 10s tick.
	assert.Equal(t, 2, fx.dispatcher.count())

	stats, err := fx.queue.Stats(ctx, fx.campaignID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalDialing)
	assert.Equal(t, int64(0), stats.TotalQueued)

	for _, msg := range fx.dispatcher.msgs {
		contact, err := fx.contacts.Get(ctx, msg.ContactID)
		require.NoError(t, err)
		assert.True(t, contact.Locked)
		assert.Equal(t, 1, msg.AttemptNum)
	}
}

func TestTickNoAgentsNoCalls(t *testing.T) {
	ctx := context.Background()
	fx := newRunnerFixture(t, 0, 5)

	require.NoError(t, fx.runner.Tick(ctx))

	assert.Zero(t, fx.dispatcher.count())
	stats, err := fx.queue.Stats(ctx, fx.campaignID)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalQueued)
	assert.Zero(t, stats.TotalDialing)
}

func TestTickThrottlePersistsShrinkingMultiplier(t *testing.T) {
	ctx := context.Background()
	fx := newRunnerFixture(t, 10, 10)

	// Push the smoothed abandon rate over the 0.05 threshold.
	one := 1.0
	_, err := fx.metrics.Apply(ctx, fx.campaignID, domain.MetricsSample{AbandonRate: &one}, 0.5)
	require.NoError(t, err)

	require.NoError(t, fx.runner.Tick(ctx))
	m1, err := fx.metrics.Multiplier(ctx, fx.campaignID)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, m1, 1e-9)

	require.NoError(t, fx.runner.Tick(ctx))
	m2, err := fx.metrics.Multiplier(ctx, fx.campaignID)
	require.NoError(t, err)
	assert.Less(t, m2, m1)
}

func TestTickDispatchFailureSettlesEntry(t *testing.T) {
	ctx := context.Background()
	fx := newRunnerFixture(t, 10, 5)
	fx.dispatcher.err = fmt.Errorf("broker down")

	require.NoError(t, fx.runner.Tick(ctx))

	stats, err := fx.queue.Stats(ctx, fx.campaignID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalFailed)
	assert.Zero(t, stats.TotalDialing)

	// Contacts claimed for the failed placements must be unlocked again.
	dialable, err := fx.contacts.FetchDialable(ctx, fx.campaignID, 100, fx.clock.now.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, dialable, 5)
}

func TestTickQueueExhaustionEndsPassCleanly(t *testing.T) {
	ctx := context.Background()
	// Pacing wants two calls this tick but only one contact exists; the
	// pass ends at exhaustion without an error.
	fx := newRunnerFixture(t, 10, 1)

	require.NoError(t, fx.runner.Tick(ctx))
	assert.Equal(t, 1, fx.dispatcher.count())

	stats, err := fx.queue.Stats(ctx, fx.campaignID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalDialing)
	assert.Zero(t, stats.TotalQueued)
}

func TestTickSkipsNonAutodialCampaigns(t *testing.T) {
	ctx := context.Background()
	fx := newRunnerFixture(t, 10, 5)

	cfgRepo := memory.NewDialerConfigRepository()
	require.NoError(t, cfgRepo.Upsert(ctx, &domain.DialerConfig{
		CampaignID:           fx.campaignID,
		DialMethod:           domain.DialMethodManualPreview,
		MaxConcurrentCalls:   50,
		AbandonRateThreshold: 0.05,
		PacingMultiplier:     1,
		IsActive:             true,
	}))
	fx.runner.configs = cfgRepo

	require.NoError(t, fx.runner.Tick(ctx))
	assert.Zero(t, fx.dispatcher.count())
}
