package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/acme/predictive-dialer/internal/domain"
	apperrors "github.com/acme/predictive-dialer/pkg/errors"
)

var (
	// ErrNotFound indicates the entity was not located.
	ErrNotFound = apperrors.ErrNotFound
	// ErrConflict indicates a unique constraint violation.
	ErrConflict = apperrors.ErrConflict
	// ErrAlreadyLocked indicates the contact is held by another owner.
	ErrAlreadyLocked = apperrors.ErrAlreadyLocked
	// ErrInvalidTransition indicates an illegal queue state change.
	ErrInvalidTransition = apperrors.ErrInvalidTransition
)

// ContactStore manages contact persistence, eligibility reads, and the
// locking protocol. Implementations must make TryLock a single conditional
// state transition, never lock-then-check.
type ContactStore interface {
	BulkInsert(ctx context.Context, contacts []*domain.Contact) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Contact, error)
	// FetchDialable returns at most limit eligible contacts for the campaign,
	// fresh contacts before retries, fewer attempts first. Pure read.
	FetchDialable(ctx context.Context, campaignID uuid.UUID, limit int, now time.Time) ([]*domain.Contact, error)
	// TryLock acquires the contact if and only if it is unlocked; returns
	// ErrAlreadyLocked otherwise.
	TryLock(ctx context.Context, contactID uuid.UUID, ownerID string, now time.Time) error
	Unlock(ctx context.Context, contactID uuid.UUID) error
	// ReleaseStaleLocks force-releases locks acquired before the cutoff and
	// returns how many were released.
	ReleaseStaleLocks(ctx context.Context, cutoff time.Time) (int64, error)
	// RecordAttempt bumps the attempt counter and applies the post-attempt
	// status and retry timer. AttemptCount never decreases.
	RecordAttempt(ctx context.Context, contactID uuid.UUID, status domain.ContactStatus, attemptedAt time.Time, nextRetryAt *time.Time) (*domain.Contact, error)
	UpdateStatus(ctx context.Context, contactID uuid.UUID, status domain.ContactStatus) error
}

// DialQueueRepository owns dial queue entry lifecycle.
type DialQueueRepository interface {
	// Enqueue inserts a queued entry, rejecting with ErrConflict when another
	// non-terminal entry exists for the same contact.
	Enqueue(ctx context.Context, entry *domain.DialQueueEntry) error
	Get(ctx context.Context, queueID uuid.UUID) (*domain.DialQueueEntry, error)
	// Transition applies a state change, validating the queue state machine.
	// Illegal transitions return ErrInvalidTransition.
	Transition(ctx context.Context, queueID uuid.UUID, next domain.QueueStatus, outcome *domain.CallOutcome, notes *string, at time.Time) (*domain.DialQueueEntry, error)
	// PeekQueued returns up to limit queued entries in priority order without
	// modifying them.
	PeekQueued(ctx context.Context, campaignID uuid.UUID, limit int) ([]*domain.DialQueueEntry, error)
	// MarkDialing moves a queued entry to dialing and stamps the agent in one
	// conditional update. A caller losing the race gets ErrInvalidTransition.
	MarkDialing(ctx context.Context, queueID uuid.UUID, agentID string, at time.Time) (*domain.DialQueueEntry, error)
	// ActiveEntryForContact returns the non-terminal entry for a contact, if any.
	ActiveEntryForContact(ctx context.Context, contactID uuid.UUID) (*domain.DialQueueEntry, error)
	// ForceAbandonStale abandons dialing entries older than the cutoff with a
	// synthetic outcome and returns the affected entries.
	ForceAbandonStale(ctx context.Context, cutoff time.Time, at time.Time) ([]*domain.DialQueueEntry, error)
	Stats(ctx context.Context, campaignID uuid.UUID) (*domain.QueueStats, error)
}

// DialerConfigRepository persists per-campaign pacing configuration.
type DialerConfigRepository interface {
	Upsert(ctx context.Context, cfg *domain.DialerConfig) error
	Get(ctx context.Context, campaignID uuid.UUID) (*domain.DialerConfig, error)
	SetActive(ctx context.Context, campaignID uuid.UUID, active bool) error
	ListActive(ctx context.Context, limit int) ([]*domain.DialerConfig, error)
}

// MetricsStore holds live DialerMetrics and the pacing multiplier per
// campaign. Updates must be read-modify-write atomic; concurrent outcome
// events must never lose a smoothing step.
type MetricsStore interface {
	Init(ctx context.Context, campaignID uuid.UUID, metrics domain.DialerMetrics, multiplier float64) error
	Get(ctx context.Context, campaignID uuid.UUID) (domain.DialerMetrics, error)
	// Apply folds the sample into the stored metrics atomically using the
	// given history weight and returns the smoothed result.
	Apply(ctx context.Context, campaignID uuid.UUID, sample domain.MetricsSample, historyWeight float64) (domain.DialerMetrics, error)
	Multiplier(ctx context.Context, campaignID uuid.UUID) (float64, error)
	SetMultiplier(ctx context.Context, campaignID uuid.UUID, multiplier float64) error
	Discard(ctx context.Context, campaignID uuid.UUID) error
}

// PresenceRegistry tracks agent availability per campaign.
type PresenceRegistry interface {
	Heartbeat(ctx context.Context, campaignID uuid.UUID, agentID string, now time.Time) error
	MarkBusy(ctx context.Context, campaignID uuid.UUID, agentID string) error
	AvailableCount(ctx context.Context, campaignID uuid.UUID, now time.Time) (int, error)
}

// AttemptStore appends dial attempt history.
type AttemptStore interface {
	Append(ctx context.Context, attempt domain.DialAttempt) error
	ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit int, pagingState []byte) ([]domain.DialAttempt, []byte, error)
}
