// Package coordinator glues the contact store, the dial queue, and the live
// metrics together. It owns queue generation, the lock-then-claim contact
// handoff, and outcome recording.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/predictive-dialer/internal/config"
	"github.com/acme/predictive-dialer/internal/domain"
	"github.com/acme/predictive-dialer/internal/queue"
	"github.com/acme/predictive-dialer/internal/repository"
	"github.com/acme/predictive-dialer/internal/service/common"
	apperrors "github.com/acme/predictive-dialer/pkg/errors"
	"github.com/acme/predictive-dialer/pkg/logger"
)

// Assignment is one claimed dial: the queue entry already moved to dialing
// and the contact it holds the lock on.
type Assignment struct {
	Entry   *domain.DialQueueEntry
	Contact *domain.Contact
}

// RecordOutcomeInput carries one observed call result into the queue state
// machine.
type RecordOutcomeInput struct {
	QueueID  uuid.UUID
	Status   domain.QueueStatus
	Outcome  domain.CallOutcome
	Notes    *string
	Duration time.Duration
	Error    string
}

// Service coordinates contacts and the dial queue for all campaigns.
type Service struct {
	contacts repository.ContactStore
	queue    repository.DialQueueRepository
	configs  repository.DialerConfigRepository
	metrics  repository.MetricsStore
	attempts repository.AttemptStore
	pacing   config.PacingConfig
	log      *logger.Logger
	now      func() time.Time
}

// New builds a coordinator service.
func New(
	contacts repository.ContactStore,
	queue repository.DialQueueRepository,
	configs repository.DialerConfigRepository,
	metrics repository.MetricsStore,
	attempts repository.AttemptStore,
	pacing config.PacingConfig,
	log *logger.Logger,
) *Service {
	return &Service{
		contacts: contacts,
		queue:    queue,
		configs:  configs,
		metrics:  metrics,
		attempts: attempts,
		pacing:   pacing.Normalize(),
		log:      log,
		now:      time.Now,
	}
}

// WithClock overrides the service clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// ContactInput is one contact to import.
type ContactInput struct {
	Phone       string
	ListID      uuid.UUID
	MaxAttempts int
}

// ImportContacts bulk-inserts contacts for a campaign, unlocked and not yet
// attempted.
func (s *Service) ImportContacts(ctx context.Context, campaignID uuid.UUID, inputs []ContactInput) ([]*domain.Contact, error) {
	now := s.now().UTC()
	contacts := make([]*domain.Contact, 0, len(inputs))
	for _, in := range inputs {
		if in.Phone == "" {
			return nil, fmt.Errorf("%w: phone is required", apperrors.ErrValidation)
		}
		maxAttempts := in.MaxAttempts
		if maxAttempts <= 0 {
			maxAttempts = 3
		}
		contacts = append(contacts, &domain.Contact{
			ID:          uuid.New(),
			CampaignID:  campaignID,
			ListID:      in.ListID,
			Phone:       in.Phone,
			Status:      domain.ContactStatusNotAttempted,
			MaxAttempts: maxAttempts,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
	if err := s.contacts.BulkInsert(ctx, contacts); err != nil {
		return nil, fmt.Errorf("coordinator: import contacts: %w", err)
	}
	return contacts, nil
}

// GenerateQueue pulls up to maxRecords eligible contacts and enqueues one
// entry each. Contacts that already hold a non-terminal entry are skipped,
// not failed. Contacts are not locked here; the lock is taken at claim time.
func (s *Service) GenerateQueue(ctx context.Context, campaignID uuid.UUID, maxRecords int) ([]*domain.DialQueueEntry, error) {
	if maxRecords <= 0 {
		maxRecords = s.pacing.MaxQueueBatch
	}
	now := s.now()

	contacts, err := s.contacts.FetchDialable(ctx, campaignID, maxRecords, now)
	if err != nil {
		return nil, fmt.Errorf("coordinator: fetch dialable: %w", err)
	}

	entries := make([]*domain.DialQueueEntry, 0, len(contacts))
	for _, c := range contacts {
		if _, err := s.queue.ActiveEntryForContact(ctx, c.ID); err == nil {
			continue
		} else if !apperrors.Is(err, apperrors.ErrNotFound) {
			return entries, fmt.Errorf("coordinator: check active entry for %s: %w", c.ID, err)
		}
		entry := &domain.DialQueueEntry{
			ID:         uuid.New(),
			CampaignID: campaignID,
			ListID:     c.ListID,
			ContactID:  c.ID,
			Status:     domain.QueueStatusQueued,
			Priority:   c.AttemptCount,
			QueuedAt:   now,
		}
		if err := s.queue.Enqueue(ctx, entry); err != nil {
			// The active-entry check above leaves a race window; the enqueue
			// guard closes it.
			if apperrors.Is(err, apperrors.ErrConflict) {
				continue
			}
			return entries, fmt.Errorf("coordinator: enqueue contact %s: %w", c.ID, err)
		}
		entries = append(entries, entry)
	}

	s.log.Debug("queue generated",
		zap.String("campaign_id", campaignID.String()),
		zap.Int("candidates", len(contacts)),
		zap.Int("enqueued", len(entries)))
	return entries, nil
}

// NextContact claims the highest-priority queued entry for the agent. The
// contact lock is acquired first; only then is the entry moved to dialing.
// A lost race on either step releases what was taken and moves to the next
// candidate. When no claimable entry exists ErrNoEligibleContacts is
// returned; callers treat it as "nothing to do", not a failure.
func (s *Service) NextContact(ctx context.Context, campaignID uuid.UUID, agentID string) (*Assignment, error) {
	now := s.now()

	candidates, err := s.queue.PeekQueued(ctx, campaignID, s.pacing.NextContactRetry)
	if err != nil {
		return nil, fmt.Errorf("coordinator: peek queued: %w", err)
	}

	for _, cand := range candidates {
		if err := s.contacts.TryLock(ctx, cand.ContactID, agentID, now); err != nil {
			if apperrors.Is(err, apperrors.ErrAlreadyLocked) || apperrors.Is(err, apperrors.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("coordinator: lock contact %s: %w", cand.ContactID, err)
		}

		entry, err := s.queue.MarkDialing(ctx, cand.ID, agentID, now)
		if err != nil {
			// Another claimer won the entry between peek and claim. Give the
			// lock back and keep going.
			if unlockErr := s.contacts.Unlock(ctx, cand.ContactID); unlockErr != nil {
				s.log.Warn("unlock after lost claim failed",
					zap.String("contact_id", cand.ContactID.String()),
					zap.Error(unlockErr))
			}
			if apperrors.Is(err, apperrors.ErrInvalidTransition) || apperrors.Is(err, apperrors.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("coordinator: claim entry %s: %w", cand.ID, err)
		}

		contact, err := s.contacts.Get(ctx, entry.ContactID)
		if err != nil {
			return nil, fmt.Errorf("coordinator: load contact %s: %w", entry.ContactID, err)
		}
		return &Assignment{Entry: entry, Contact: contact}, nil
	}

	return nil, apperrors.ErrNoEligibleContacts
}

// RecordOutcome applies one observed result to a queue entry. Illegal
// transitions, including a second terminal report for the same entry, are
// rejected with ErrInvalidTransition and change nothing. On a terminal
// transition the contact lock is released, the attempt is recorded, and the
// campaign metrics are fed.
func (s *Service) RecordOutcome(ctx context.Context, in RecordOutcomeInput) (*domain.DialQueueEntry, error) {
	now := s.now()

	var outcome *domain.CallOutcome
	if in.Outcome != "" {
		outcome = &in.Outcome
	}
	entry, err := s.queue.Transition(ctx, in.QueueID, in.Status, outcome, in.Notes, now)
	if err != nil {
		return nil, err
	}
	if !entry.Status.Terminal() {
		return entry, nil
	}

	s.settleContact(ctx, entry, in, now)
	s.feedMetrics(ctx, entry, in)
	s.appendAttempt(ctx, entry, in, now)
	return entry, nil
}

// settleContact releases the contact lock and records the attempt result.
// Failures here are logged, not returned: the transition already happened
// and the stale-lock sweeper will recover a missed unlock.
func (s *Service) settleContact(ctx context.Context, entry *domain.DialQueueEntry, in RecordOutcomeInput, now time.Time) {
	if err := s.contacts.Unlock(ctx, entry.ContactID); err != nil && !apperrors.Is(err, apperrors.ErrNotFound) {
		s.log.Warn("contact unlock failed",
			zap.String("contact_id", entry.ContactID.String()),
			zap.Error(err))
	}

	status := domain.StatusForOutcome(in.Outcome)
	var nextRetry *time.Time
	if in.Outcome.Retryable() {
		t := now.Add(s.retryDelay(ctx, entry.CampaignID))
		nextRetry = &t
	}
	if _, err := s.contacts.RecordAttempt(ctx, entry.ContactID, status, now, nextRetry); err != nil {
		s.log.Warn("record attempt failed",
			zap.String("contact_id", entry.ContactID.String()),
			zap.Error(err))
	}
}

func (s *Service) retryDelay(ctx context.Context, campaignID uuid.UUID) time.Duration {
	cfg, err := s.configs.Get(ctx, campaignID)
	if err != nil || cfg.RetryDelay <= 0 {
		return 5 * time.Minute
	}
	return cfg.RetryDelay
}

// feedMetrics folds the terminal result into the campaign's live metrics.
// completed counts as a connection, abandoned counts against the abandon
// rate, everything else is a miss.
func (s *Service) feedMetrics(ctx context.Context, entry *domain.DialQueueEntry, in RecordOutcomeInput) {
	var (
		connected = 0.0
		abandoned = 0.0
		sample    domain.MetricsSample
	)
	switch entry.Status {
	case domain.QueueStatusCompleted:
		connected = 1
		if in.Duration > 0 {
			secs := in.Duration.Seconds()
			sample.AverageCallTime = &secs
		}
	case domain.QueueStatusAbandoned:
		abandoned = 1
	}
	sample.ConnectionRate = &connected
	sample.AbandonRate = &abandoned

	if _, err := s.metrics.Apply(ctx, entry.CampaignID, sample, s.pacing.SmoothingWeight); err != nil {
		if !apperrors.Is(err, apperrors.ErrNotFound) {
			s.log.Warn("metrics apply failed",
				zap.String("campaign_id", entry.CampaignID.String()),
				zap.Error(err))
		}
	}
}

func (s *Service) appendAttempt(ctx context.Context, entry *domain.DialQueueEntry, in RecordOutcomeInput, now time.Time) {
	attemptNum := 1
	if contact, err := s.contacts.Get(ctx, entry.ContactID); err == nil {
		attemptNum = contact.AttemptCount
	}
	attempt := domain.DialAttempt{
		ID:         uuid.New(),
		CampaignID: entry.CampaignID,
		ContactID:  entry.ContactID,
		QueueID:    entry.ID,
		AttemptNum: attemptNum,
		Outcome:    in.Outcome,
		Error:      in.Error,
		Duration:   in.Duration,
		CreatedAt:  now,
	}
	if err := s.attempts.Append(ctx, attempt); err != nil {
		s.log.Warn("attempt append failed",
			zap.String("queue_id", entry.ID.String()),
			zap.Error(err))
	}
}

// HandleGatewayOutcome drives the state machine from a gateway report. An
// answered call passes through connected before completing; every other
// outcome fails or abandons the entry directly.
func (s *Service) HandleGatewayOutcome(ctx context.Context, msg queue.OutcomeMessage) (*domain.DialQueueEntry, error) {
	outcome := domain.CallOutcome(msg.Outcome)
	duration := time.Duration(msg.DurationMs) * time.Millisecond

	if outcome == domain.CallOutcomeAnswered {
		if _, err := s.queue.Transition(ctx, msg.QueueID, domain.QueueStatusConnected, nil, nil, s.now()); err != nil {
			return nil, err
		}
		return s.RecordOutcome(ctx, RecordOutcomeInput{
			QueueID:  msg.QueueID,
			Status:   domain.QueueStatusCompleted,
			Outcome:  outcome,
			Duration: duration,
			Error:    msg.Error,
		})
	}

	status := domain.QueueStatusFailed
	if outcome == domain.CallOutcomeAbandoned {
		status = domain.QueueStatusAbandoned
	}
	return s.RecordOutcome(ctx, RecordOutcomeInput{
		QueueID:  msg.QueueID,
		Status:   status,
		Outcome:  outcome,
		Duration: duration,
		Error:    msg.Error,
	})
}

// SettleForced settles the contact side of an entry that was already moved
// to a terminal state outside the normal transition path, such as a dial
// timeout sweep.
func (s *Service) SettleForced(ctx context.Context, entry *domain.DialQueueEntry, outcome domain.CallOutcome, errMsg string) {
	now := s.now()
	in := RecordOutcomeInput{QueueID: entry.ID, Outcome: outcome, Error: errMsg}
	s.settleContact(ctx, entry, in, now)
	s.feedMetrics(ctx, entry, in)
	s.appendAttempt(ctx, entry, in, now)
}

// CampaignStats returns the queue counters for a campaign.
func (s *Service) CampaignStats(ctx context.Context, campaignID uuid.UUID) (*domain.QueueStats, error) {
	return s.queue.Stats(ctx, campaignID)
}

// ListAttemptsResult carries one page of attempt history.
type ListAttemptsResult struct {
	Attempts    []domain.DialAttempt
	PagingState []byte
}

// ListAttempts pages through a campaign's attempt history.
func (s *Service) ListAttempts(ctx context.Context, campaignID uuid.UUID, limit int, pagingState []byte) (*ListAttemptsResult, error) {
	attempts, next, err := s.attempts.ListByCampaign(ctx, campaignID, limit, pagingState)
	if err != nil {
		return nil, err
	}
	return &ListAttemptsResult{Attempts: attempts, PagingState: next}, nil
}

// EncodePagingState converts the paging state to base64 for API responses.
func EncodePagingState(state []byte) string {
	if len(state) == 0 {
		return ""
	}
	return common.EncodeBase64(state)
}

// DecodePagingState decodes a base64 token to paging state bytes.
func DecodePagingState(token string) ([]byte, error) {
	if token == "" {
		return nil, nil
	}
	return common.DecodeBase64(token)
}
