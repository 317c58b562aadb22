package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acme/predictive-dialer/internal/domain"
	"github.com/acme/predictive-dialer/internal/repository"
)

// DialQueueRepository is the in-memory repository.DialQueueRepository.
// All transitions run under one mutex, matching the row-level serialization
// the SQL implementation gets from conditional updates.
type DialQueueRepository struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*domain.DialQueueEntry
}

// NewDialQueueRepository constructs an empty queue.
func NewDialQueueRepository() *DialQueueRepository {
	return &DialQueueRepository{entries: make(map[uuid.UUID]*domain.DialQueueEntry)}
}

// Enqueue inserts a queued entry, rejecting a second active entry per contact.
func (r *DialQueueRepository) Enqueue(ctx context.Context, entry *domain.DialQueueEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.ContactID == entry.ContactID && !e.Status.Terminal() {
			return fmt.Errorf("dial queue: contact %s has an active entry: %w", entry.ContactID, repository.ErrConflict)
		}
	}
	clone := *entry
	r.entries[entry.ID] = &clone
	return nil
}

// Get returns a copy of the entry.
func (r *DialQueueRepository) Get(ctx context.Context, queueID uuid.UUID) (*domain.DialQueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[queueID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *e
	return &clone, nil
}

// Transition applies a status change under the queue state machine.
func (r *DialQueueRepository) Transition(ctx context.Context, queueID uuid.UUID, next domain.QueueStatus, outcome *domain.CallOutcome, notes *string, at time.Time) (*domain.DialQueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[queueID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if !domain.CanTransition(e.Status, next) {
		return nil, fmt.Errorf("dial queue: %s -> %s: %w", e.Status, next, repository.ErrInvalidTransition)
	}
	e.Status = next
	if outcome != nil {
		o := *outcome
		e.Outcome = &o
	}
	if notes != nil {
		n := *notes
		e.Notes = &n
	}
	if next.Terminal() {
		completed := at
		e.CompletedAt = &completed
	}
	clone := *e
	return &clone, nil
}

// PeekQueued lists queued entries in priority order without modifying them.
func (r *DialQueueRepository) PeekQueued(ctx context.Context, campaignID uuid.UUID, limit int) ([]*domain.DialQueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var queued []*domain.DialQueueEntry
	for _, e := range r.entries {
		if e.CampaignID == campaignID && e.Status == domain.QueueStatusQueued {
			clone := *e
			queued = append(queued, &clone)
		}
	}
	sort.Slice(queued, func(i, j int) bool {
		if queued[i].Priority != queued[j].Priority {
			return queued[i].Priority < queued[j].Priority
		}
		return queued[i].QueuedAt.Before(queued[j].QueuedAt)
	})
	if limit > 0 && len(queued) > limit {
		queued = queued[:limit]
	}
	return queued, nil
}

// MarkDialing moves a queued entry to dialing; losers of the race get
// ErrInvalidTransition and fall through to the next candidate.
func (r *DialQueueRepository) MarkDialing(ctx context.Context, queueID uuid.UUID, agentID string, at time.Time) (*domain.DialQueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[queueID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if e.Status != domain.QueueStatusQueued {
		return nil, fmt.Errorf("dial queue: %s -> dialing: %w", e.Status, repository.ErrInvalidTransition)
	}
	e.Status = domain.QueueStatusDialing
	agent := agentID
	dialed := at
	e.AssignedAgentID = &agent
	e.DialedAt = &dialed
	clone := *e
	return &clone, nil
}

// ActiveEntryForContact returns the non-terminal entry for the contact.
func (r *DialQueueRepository) ActiveEntryForContact(ctx context.Context, contactID uuid.UUID) (*domain.DialQueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.ContactID == contactID && !e.Status.Terminal() {
			clone := *e
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

// ForceAbandonStale abandons dialing entries started before the cutoff.
func (r *DialQueueRepository) ForceAbandonStale(ctx context.Context, cutoff time.Time, at time.Time) ([]*domain.DialQueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var abandoned []*domain.DialQueueEntry
	for _, e := range r.entries {
		if e.Status == domain.QueueStatusDialing && e.DialedAt != nil && e.DialedAt.Before(cutoff) {
			e.Status = domain.QueueStatusAbandoned
			outcome := domain.CallOutcomeAbandoned
			notes := "dial timeout exceeded"
			completed := at
			e.Outcome = &outcome
			e.Notes = &notes
			e.CompletedAt = &completed
			clone := *e
			abandoned = append(abandoned, &clone)
		}
	}
	return abandoned, nil
}

// Stats aggregates per-campaign queue counters.
func (r *DialQueueRepository) Stats(ctx context.Context, campaignID uuid.UUID) (*domain.QueueStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := &domain.QueueStats{}
	for _, e := range r.entries {
		if e.CampaignID != campaignID {
			continue
		}
		switch e.Status {
		case domain.QueueStatusQueued:
			stats.TotalQueued++
		case domain.QueueStatusDialing:
			stats.TotalDialing++
		case domain.QueueStatusConnected:
			stats.TotalConnected++
		case domain.QueueStatusCompleted:
			stats.TotalCompleted++
		case domain.QueueStatusFailed:
			stats.TotalFailed++
		case domain.QueueStatusAbandoned:
			stats.TotalAbandoned++
		}
	}
	return stats, nil
}
