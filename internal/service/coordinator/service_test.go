package coordinator

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
	apperrors "github.com/acme/predictive-dialer/pkg/errors"
	"github.com/acme/predictive-dialer/pkg/logger"
)

type fixture struct {
	campaignID uuid.UUID
	svc        *Service
	contacts   *memory.ContactStore
	queue      *memory.DialQueueRepository
	metrics    *memory.MetricsStore
	configs    *memory.DialerConfigRepository
	attempts   *memory.AttemptStore
	now        time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fx := &fixture{
		campaignID: uuid.New(),
		contacts:   memory.NewContactStore(),
		queue:      memory.NewDialQueueRepository(),
		metrics:    memory.NewMetricsStore(),
		configs:    memory.NewDialerConfigRepository(),
		attempts:   memory.NewAttemptStore(),
		now:        time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	fx.svc = New(
		fx.contacts, fx.queue, fx.configs, fx.metrics, fx.attempts,
		config.PacingConfig{}, logger.Nop(),
	).WithClock(func() time.Time { return fx.now })
	return fx
}

func (fx *fixture) importContacts(t *testing.T, n int) []*domain.Contact {
	t.Helper()
	inputs := make([]ContactInput, 0, n)
	for i := 0; i < n; i++ {
		inputs = append(inputs, ContactInput{Phone: fmt.Sprintf("+155501000%02d", i)})
	}
	contacts, err := fx.svc.ImportContacts(context.Background(), fx.campaignID, inputs)
	require.NoError(t, err)
	return contacts
}

func TestImportContactsRejectsEmptyPhone(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.svc.ImportContacts(context.Background(), fx.campaignID, []ContactInput{{Phone: ""}})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestGenerateQueueOneEntryPerContact(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.importContacts(t, 3)

	entries, err := fx.svc.GenerateQueue(ctx, fx.campaignID, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	// A second pass finds the same contacts but each is skipped for its
	// existing active entry.
	entries, err = fx.svc.GenerateQueue(ctx, fx.campaignID, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)

	stats, err := fx.queue.Stats(ctx, fx.campaignID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalQueued)
}

func TestNextContactClaimsAndLocks(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.importContacts(t, 1)
	_, err := fx.svc.GenerateQueue(ctx, fx.campaignID, 10)
	require.NoError(t, err)

	assignment, err := fx.svc.NextContact(ctx, fx.campaignID, "agent-1")
	require.NoError(t, err)
	require.NotNil(t, assignment)
	assert.Equal(t, domain.QueueStatusDialing, assignment.Entry.Status)
	assert.True(t, assignment.Contact.Locked)
	require.NotNil(t, assignment.Entry.AssignedAgentID)
	assert.Equal(t, "agent-1", *assignment.Entry.AssignedAgentID)

	// Nothing left to claim.
	assignment, err = fx.svc.NextContact(ctx, fx.campaignID, "agent-2")
	assert.ErrorIs(t, err, apperrors.ErrNoEligibleContacts)
	assert.Nil(t, assignment)
}

func TestNextContactConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.importContacts(t, 1)
	_, err := fx.svc.GenerateQueue(ctx, fx.campaignID, 10)
	require.NoError(t, err)

	const claimers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			assignment, err := fx.svc.NextContact(ctx, fx.campaignID, fmt.Sprintf("agent-%d", n))
			if err != nil {
				if !apperrors.Is(err, apperrors.ErrNoEligibleContacts) {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if assignment != nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, winners)

	stats, err := fx.queue.Stats(ctx, fx.campaignID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalDialing)
	assert.Zero(t, stats.TotalQueued)
}

func TestNextContactSkipsLockedContact(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	contacts := fx.importContacts(t, 2)
	_, err := fx.svc.GenerateQueue(ctx, fx.campaignID, 10)
	require.NoError(t, err)

	require.NoError(t, fx.contacts.TryLock(ctx, contacts[0].ID, "other-worker", fx.now))

	assignment, err := fx.svc.NextContact(ctx, fx.campaignID, "agent-1")
	require.NoError(t, err)
	require.NotNil(t, assignment)
	assert.NotEqual(t, contacts[0].ID, assignment.Contact.ID)
}

func claim(t *testing.T, fx *fixture) *Assignment {
	t.Helper()
	assignment, err := fx.svc.NextContact(context.Background(), fx.campaignID, "agent-1")
	require.NoError(t, err)
	require.NotNil(t, assignment)
	return assignment
}

func TestRecordOutcomeCompletedUnlocksAndRecords(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.importContacts(t, 1)
	_, err := fx.svc.GenerateQueue(ctx, fx.campaignID, 10)
	require.NoError(t, err)
	assignment := claim(t, fx)

	_, err = fx.svc.RecordOutcome(ctx, RecordOutcomeInput{
		QueueID: assignment.Entry.ID,
		Status:  domain.QueueStatusConnected,
		Outcome: domain.CallOutcomeAnswered,
	})
	require.NoError(t, err)

	entry, err := fx.svc.RecordOutcome(ctx, RecordOutcomeInput{
		QueueID:  assignment.Entry.ID,
		Status:   domain.QueueStatusCompleted,
		Outcome:  domain.CallOutcomeAnswered,
		Duration: 90 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.QueueStatusCompleted, entry.Status)

	contact, err := fx.contacts.Get(ctx, assignment.Contact.ID)
	require.NoError(t, err)
	assert.False(t, contact.Locked)
	assert.Equal(t, 1, contact.AttemptCount)
	assert.Equal(t, domain.ContactStatusAnswered, contact.Status)
	assert.Nil(t, contact.NextRetryAt)

	attempts, _, err := fx.attempts.ListByCampaign(ctx, fx.campaignID, 10, nil)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, domain.CallOutcomeAnswered, attempts[0].Outcome)

	metrics, err := fx.metrics.Get(ctx, fx.campaignID)
	require.NoError(t, err)
	assert.Greater(t, metrics.ConnectionRate, 0.3)
}

func TestRecordOutcomeSecondTerminalRejected(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.importContacts(t, 1)
	_, err := fx.svc.GenerateQueue(ctx, fx.campaignID, 10)
	require.NoError(t, err)
	assignment := claim(t, fx)

	_, err = fx.svc.RecordOutcome(ctx, RecordOutcomeInput{
		QueueID: assignment.Entry.ID,
		Status:  domain.QueueStatusFailed,
		Outcome: domain.CallOutcomeNoAnswer,
	})
	require.NoError(t, err)

	_, err = fx.svc.RecordOutcome(ctx, RecordOutcomeInput{
		QueueID: assignment.Entry.ID,
		Status:  domain.QueueStatusFailed,
		Outcome: domain.CallOutcomeNoAnswer,
	})
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)

	// The duplicate changed nothing: still one attempt on record.
	contact, err := fx.contacts.Get(ctx, assignment.Contact.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, contact.AttemptCount)
}

func TestRecordOutcomeRetryableSetsRetryTimer(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.importContacts(t, 1)
	_, err := fx.svc.GenerateQueue(ctx, fx.campaignID, 10)
	require.NoError(t, err)
	assignment := claim(t, fx)

	_, err = fx.svc.RecordOutcome(ctx, RecordOutcomeInput{
		QueueID: assignment.Entry.ID,
		Status:  domain.QueueStatusFailed,
		Outcome: domain.CallOutcomeBusy,
	})
	require.NoError(t, err)

	contact, err := fx.contacts.Get(ctx, assignment.Contact.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ContactStatusBusy, contact.Status)
	require.NotNil(t, contact.NextRetryAt)
	assert.Equal(t, fx.now.Add(5*time.Minute), *contact.NextRetryAt)

	// Not dialable until the retry timer passes.
	dialable, err := fx.contacts.FetchDialable(ctx, fx.campaignID, 10, fx.now.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, dialable)

	dialable, err = fx.contacts.FetchDialable(ctx, fx.campaignID, 10, fx.now.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Len(t, dialable, 1)
}

func TestRecordOutcomeExhaustionPinsMaxAttempts(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	_, err := fx.svc.ImportContacts(ctx, fx.campaignID, []ContactInput{{Phone: "+15550001111", MaxAttempts: 2}})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		fx.now = fx.now.Add(10 * time.Minute)
		_, err := fx.svc.GenerateQueue(ctx, fx.campaignID, 10)
		require.NoError(t, err)
		assignment := claim(t, fx)
		_, err = fx.svc.RecordOutcome(ctx, RecordOutcomeInput{
			QueueID: assignment.Entry.ID,
			Status:  domain.QueueStatusFailed,
			Outcome: domain.CallOutcomeNoAnswer,
		})
		require.NoError(t, err)
	}

	dialable, err := fx.contacts.FetchDialable(ctx, fx.campaignID, 10, fx.now.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, dialable)

	// And no further entries are generated.
	entries, err := fx.svc.GenerateQueue(ctx, fx.campaignID, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestHandleGatewayOutcomeAnsweredCompletes(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.importContacts(t, 1)
	_, err := fx.svc.GenerateQueue(ctx, fx.campaignID, 10)
	require.NoError(t, err)
	assignment := claim(t, fx)

	entry, err := fx.svc.HandleGatewayOutcome(ctx, gatewayReport(assignment, "answered", 45000))
	require.NoError(t, err)
	assert.Equal(t, domain.QueueStatusCompleted, entry.Status)
}

func TestHandleGatewayOutcomeFailureKinds(t *testing.T) {
	cases := []struct {
		outcome string
		want    domain.QueueStatus
	}{
		{"no_answer", domain.QueueStatusFailed},
		{"busy", domain.QueueStatusFailed},
		{"abandoned", domain.QueueStatusAbandoned},
	}

	for _, tc := range cases {
		t.Run(tc.outcome, func(t *testing.T) {
			ctx := context.Background()
			fx := newFixture(t)
			fx.importContacts(t, 1)
			_, err := fx.svc.GenerateQueue(ctx, fx.campaignID, 10)
			require.NoError(t, err)
			assignment := claim(t, fx)

			entry, err := fx.svc.HandleGatewayOutcome(ctx, gatewayReport(assignment, tc.outcome, 0))
			require.NoError(t, err)
			assert.Equal(t, tc.want, entry.Status)
		})
	}
}

func TestAbandonedOutcomeRaisesAbandonRate(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	require.NoError(t, fx.metrics.Init(ctx, fx.campaignID, domain.DefaultMetrics(), 1))
	fx.importContacts(t, 1)
	_, err := fx.svc.GenerateQueue(ctx, fx.campaignID, 10)
	require.NoError(t, err)
	assignment := claim(t, fx)

	_, err = fx.svc.RecordOutcome(ctx, RecordOutcomeInput{
		QueueID: assignment.Entry.ID,
		Status:  domain.QueueStatusAbandoned,
		Outcome: domain.CallOutcomeAbandoned,
	})
	require.NoError(t, err)

	metrics, err := fx.metrics.Get(ctx, fx.campaignID)
	require.NoError(t, err)
	assert.Greater(t, metrics.AbandonRate, 0.0)
}

func TestSettleForcedReleasesContact(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.importContacts(t, 1)
	_, err := fx.svc.GenerateQueue(ctx, fx.campaignID, 10)
	require.NoError(t, err)
	assignment := claim(t, fx)

	// The sweeper abandons the entry directly; the coordinator settles the
	// contact side afterwards.
	fx.now = fx.now.Add(10 * time.Minute)
	abandoned, err := fx.queue.ForceAbandonStale(ctx, fx.now.Add(-5*time.Minute), fx.now)
	require.NoError(t, err)
	require.Len(t, abandoned, 1)

	fx.svc.SettleForced(ctx, abandoned[0], domain.CallOutcomeAbandoned, "dial timeout")

	contact, err := fx.contacts.Get(ctx, assignment.Contact.ID)
	require.NoError(t, err)
	assert.False(t, contact.Locked, "forced settle must release the lock")
	assert.Equal(t, 1, contact.AttemptCount)
	require.NotNil(t, contact.NextRetryAt)

	attempts, _, err := fx.attempts.ListByCampaign(ctx, fx.campaignID, 10, nil)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, domain.CallOutcomeAbandoned, attempts[0].Outcome)
}

func gatewayReport(assignment *Assignment, outcome string, durationMs int64) queue.OutcomeMessage {
	return queue.OutcomeMessage{
		QueueID:    assignment.Entry.ID,
		CampaignID: assignment.Entry.CampaignID,
		ContactID:  assignment.Contact.ID,
		Phone:      assignment.Contact.Phone,
		Outcome:    outcome,
		AttemptNum: 1,
		DurationMs: durationMs,
		OccurredAt: time.Now().UTC(),
	}
}
