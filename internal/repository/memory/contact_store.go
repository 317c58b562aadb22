package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acme/predictive-dialer/internal/domain"
	"github.com/acme/predictive-dialer/internal/repository"
	"github.com/acme/predictive-dialer/internal/service/eligibility"
)

// ContactStore is the in-memory repository.ContactStore for single-instance
// deployments and tests. The mutex makes TryLock the same acquire-if-unlocked
// conditional transition the SQL store expresses.
type ContactStore struct {
	mu       sync.Mutex
	contacts map[uuid.UUID]*domain.Contact
}

// NewContactStore constructs an empty store.
func NewContactStore() *ContactStore {
	return &ContactStore{contacts: make(map[uuid.UUID]*domain.Contact)}
}

// BulkInsert adds contacts, skipping existing ids.
func (s *ContactStore) BulkInsert(ctx context.Context, contacts []*domain.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range contacts {
		if _, ok := s.contacts[c.ID]; ok {
			continue
		}
		clone := *c
		s.contacts[c.ID] = &clone
	}
	return nil
}

// Get returns a copy of the contact.
func (s *ContactStore) Get(ctx context.Context, id uuid.UUID) (*domain.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *c
	return &clone, nil
}

// FetchDialable applies the eligibility policy over the campaign's contacts.
func (s *ContactStore) FetchDialable(ctx context.Context, campaignID uuid.UUID, limit int, now time.Time) ([]*domain.Contact, error) {
	s.mu.Lock()
	var pool []*domain.Contact
	for _, c := range s.contacts {
		if c.CampaignID == campaignID {
			clone := *c
			pool = append(pool, &clone)
		}
	}
	s.mu.Unlock()

	return eligibility.Select(pool, limit, now), nil
}

// TryLock acquires the contact if unlocked; ErrAlreadyLocked otherwise.
func (s *ContactStore) TryLock(ctx context.Context, contactID uuid.UUID, ownerID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[contactID]
	if !ok {
		return repository.ErrNotFound
	}
	if c.Locked {
		return repository.ErrAlreadyLocked
	}
	c.Locked = true
	owner := ownerID
	lockedAt := now
	c.LockedBy = &owner
	c.LockedAt = &lockedAt
	c.UpdatedAt = now
	return nil
}

// Unlock releases the contact.
func (s *ContactStore) Unlock(ctx context.Context, contactID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[contactID]
	if !ok {
		return repository.ErrNotFound
	}
	c.Locked = false
	c.LockedBy = nil
	c.LockedAt = nil
	return nil
}

// ReleaseStaleLocks force-releases locks acquired before the cutoff.
func (s *ContactStore) ReleaseStaleLocks(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var released int64
	for _, c := range s.contacts {
		if c.Locked && c.LockedAt != nil && c.LockedAt.Before(cutoff) {
			c.Locked = false
			c.LockedBy = nil
			c.LockedAt = nil
			released++
		}
	}
	return released, nil
}

// RecordAttempt bumps the counter and applies the post-attempt status,
// pinning the contact to max_attempts once exhausted.
func (s *ContactStore) RecordAttempt(ctx context.Context, contactID uuid.UUID, status domain.ContactStatus, attemptedAt time.Time, nextRetryAt *time.Time) (*domain.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[contactID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c.AttemptCount++
	if c.AttemptCount >= c.MaxAttempts {
		c.Status = domain.ContactStatusMaxAttempts
	} else {
		c.Status = status
	}
	at := attemptedAt
	c.LastAttemptAt = &at
	c.NextRetryAt = nextRetryAt
	c.UpdatedAt = attemptedAt
	clone := *c
	return &clone, nil
}

// UpdateStatus sets the status directly.
func (s *ContactStore) UpdateStatus(ctx context.Context, contactID uuid.UUID, status domain.ContactStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[contactID]
	if !ok {
		return repository.ErrNotFound
	}
	c.Status = status
	return nil
}
