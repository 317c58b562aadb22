package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/predictive-dialer/internal/domain"
	"github.com/acme/predictive-dialer/internal/repository"
)

func seedContact(t *testing.T, store *ContactStore, campaignID uuid.UUID) *domain.Contact {
	t.Helper()
	c := &domain.Contact{
		ID:          uuid.New(),
		CampaignID:  campaignID,
		ListID:      uuid.New(),
		Phone:       "+15550001111",
		Status:      domain.ContactStatusNotAttempted,
		MaxAttempts: 3,
		CreatedAt:   time.Now(),
	}
	if err := store.BulkInsert(context.Background(), []*domain.Contact{c}); err != nil {
		t.Fatalf("seed contact: %v", err)
	}
	return c
}

func TestTryLockSecondAcquirerRejected(t *testing.T) {
	ctx := context.Background()
	store := NewContactStore()
	c := seedContact(t, store, uuid.New())
	now := time.Now()

	if err := store.TryLock(ctx, c.ID, "agent-1", now); err != nil {
		t.Fatalf("first lock: %v", err)
	}
	err := store.TryLock(ctx, c.ID, "agent-2", now)
	if !errors.Is(err, repository.ErrAlreadyLocked) {
		t.Fatalf("expected ErrAlreadyLocked, got %v", err)
	}

	got, err := store.Get(ctx, c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Locked || got.LockedBy == nil || *got.LockedBy != "agent-1" {
		t.Fatalf("lock owner should remain agent-1, got %+v", got)
	}
}

func TestTryLockAfterUnlock(t *testing.T) {
	ctx := context.Background()
	store := NewContactStore()
	c := seedContact(t, store, uuid.New())
	now := time.Now()

	if err := store.TryLock(ctx, c.ID, "agent-1", now); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := store.Unlock(ctx, c.ID); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if err := store.TryLock(ctx, c.ID, "agent-2", now); err != nil {
		t.Fatalf("relock after unlock: %v", err)
	}
}

func TestTryLockUnknownContact(t *testing.T) {
	store := NewContactStore()
	err := store.TryLock(context.Background(), uuid.New(), "agent-1", time.Now())
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReleaseStaleLocks(t *testing.T) {
	ctx := context.Background()
	store := NewContactStore()
	campaignID := uuid.New()
	stale := seedContact(t, store, campaignID)
	fresh := seedContact(t, store, campaignID)

	now := time.Now()
	if err := store.TryLock(ctx, stale.ID, "pacer", now.Add(-2*time.Minute)); err != nil {
		t.Fatalf("lock stale: %v", err)
	}
	if err := store.TryLock(ctx, fresh.ID, "pacer", now.Add(-10*time.Second)); err != nil {
		t.Fatalf("lock fresh: %v", err)
	}

	released, err := store.ReleaseStaleLocks(ctx, now.Add(-90*time.Second))
	if err != nil {
		t.Fatalf("release stale locks: %v", err)
	}
	if released != 1 {
		t.Fatalf("expected 1 released lock, got %d", released)
	}

	got, _ := store.Get(ctx, stale.ID)
	if got.Locked {
		t.Fatal("stale lock should be released")
	}
	got, _ = store.Get(ctx, fresh.ID)
	if !got.Locked {
		t.Fatal("fresh lock must survive the sweep")
	}
}

func TestRecordAttemptPinsMaxAttempts(t *testing.T) {
	ctx := context.Background()
	store := NewContactStore()
	c := seedContact(t, store, uuid.New())
	now := time.Now()

	got, err := store.RecordAttempt(ctx, c.ID, domain.ContactStatusBusy, now, nil)
	if err != nil {
		t.Fatalf("record attempt: %v", err)
	}
	if got.AttemptCount != 1 || got.Status != domain.ContactStatusBusy {
		t.Fatalf("expected 1 busy attempt, got count=%d status=%s", got.AttemptCount, got.Status)
	}

	store.RecordAttempt(ctx, c.ID, domain.ContactStatusNoAnswer, now, nil)
	got, err = store.RecordAttempt(ctx, c.ID, domain.ContactStatusNoAnswer, now, nil)
	if err != nil {
		t.Fatalf("record attempt: %v", err)
	}
	if got.Status != domain.ContactStatusMaxAttempts {
		t.Fatalf("third attempt of three should pin max_attempts, got %s", got.Status)
	}
	if got.Dialable(now) {
		t.Fatal("exhausted contact must not be dialable")
	}
}

func TestEnqueueRejectsSecondActiveEntry(t *testing.T) {
	ctx := context.Background()
	repo := NewDialQueueRepository()
	campaignID := uuid.New()
	contactID := uuid.New()
	now := time.Now()

	first := &domain.DialQueueEntry{ID: uuid.New(), CampaignID: campaignID, ContactID: contactID, Status: domain.QueueStatusQueued, QueuedAt: now}
	if err := repo.Enqueue(ctx, first); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	dup := &domain.DialQueueEntry{ID: uuid.New(), CampaignID: campaignID, ContactID: contactID, Status: domain.QueueStatusQueued, QueuedAt: now}
	if err := repo.Enqueue(ctx, dup); !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	// Once the first entry is terminal the contact may be enqueued again.
	outcome := domain.CallOutcomeAbandoned
	if _, err := repo.Transition(ctx, first.ID, domain.QueueStatusAbandoned, &outcome, nil, now); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := repo.Enqueue(ctx, dup); err != nil {
		t.Fatalf("enqueue after terminal entry: %v", err)
	}
}

func TestActiveEntryForContact(t *testing.T) {
	ctx := context.Background()
	repo := NewDialQueueRepository()
	contactID := uuid.New()
	now := time.Now()

	if _, err := repo.ActiveEntryForContact(ctx, contactID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound with no entries, got %v", err)
	}

	entry := &domain.DialQueueEntry{ID: uuid.New(), CampaignID: uuid.New(), ContactID: contactID, Status: domain.QueueStatusQueued, QueuedAt: now}
	if err := repo.Enqueue(ctx, entry); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	got, err := repo.ActiveEntryForContact(ctx, contactID)
	if err != nil {
		t.Fatalf("active entry: %v", err)
	}
	if got.ID != entry.ID {
		t.Fatalf("expected entry %s, got %s", entry.ID, got.ID)
	}

	outcome := domain.CallOutcomeAbandoned
	if _, err := repo.Transition(ctx, entry.ID, domain.QueueStatusAbandoned, &outcome, nil, now); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if _, err := repo.ActiveEntryForContact(ctx, contactID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("terminal entry should not be active, got %v", err)
	}
}

func TestMarkDialingSingleWinner(t *testing.T) {
	ctx := context.Background()
	repo := NewDialQueueRepository()
	now := time.Now()
	entry := &domain.DialQueueEntry{ID: uuid.New(), CampaignID: uuid.New(), ContactID: uuid.New(), Status: domain.QueueStatusQueued, QueuedAt: now}
	if err := repo.Enqueue(ctx, entry); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	won, err := repo.MarkDialing(ctx, entry.ID, "agent-1", now)
	if err != nil {
		t.Fatalf("mark dialing: %v", err)
	}
	if won.Status != domain.QueueStatusDialing || won.AssignedAgentID == nil || *won.AssignedAgentID != "agent-1" {
		t.Fatalf("unexpected winning entry: %+v", won)
	}

	if _, err := repo.MarkDialing(ctx, entry.ID, "agent-2", now); !errors.Is(err, repository.ErrInvalidTransition) {
		t.Fatalf("loser should get ErrInvalidTransition, got %v", err)
	}
}

func TestTransitionRejectsDuplicateTerminal(t *testing.T) {
	ctx := context.Background()
	repo := NewDialQueueRepository()
	now := time.Now()
	entry := &domain.DialQueueEntry{ID: uuid.New(), CampaignID: uuid.New(), ContactID: uuid.New(), Status: domain.QueueStatusQueued, QueuedAt: now}
	if err := repo.Enqueue(ctx, entry); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := repo.MarkDialing(ctx, entry.ID, "agent-1", now); err != nil {
		t.Fatalf("mark dialing: %v", err)
	}

	outcome := domain.CallOutcomeFailed
	got, err := repo.Transition(ctx, entry.ID, domain.QueueStatusFailed, &outcome, nil, now)
	if err != nil {
		t.Fatalf("transition to failed: %v", err)
	}
	if got.CompletedAt == nil {
		t.Fatal("terminal transition should stamp CompletedAt")
	}

	if _, err := repo.Transition(ctx, entry.ID, domain.QueueStatusAbandoned, &outcome, nil, now); !errors.Is(err, repository.ErrInvalidTransition) {
		t.Fatalf("second terminal transition should fail, got %v", err)
	}
}

func TestPeekQueuedOrdersByPriority(t *testing.T) {
	ctx := context.Background()
	repo := NewDialQueueRepository()
	campaignID := uuid.New()
	now := time.Now()

	retry := &domain.DialQueueEntry{ID: uuid.New(), CampaignID: campaignID, ContactID: uuid.New(), Status: domain.QueueStatusQueued, Priority: 2, QueuedAt: now}
	fresh := &domain.DialQueueEntry{ID: uuid.New(), CampaignID: campaignID, ContactID: uuid.New(), Status: domain.QueueStatusQueued, Priority: 0, QueuedAt: now.Add(time.Second)}
	for _, e := range []*domain.DialQueueEntry{retry, fresh} {
		if err := repo.Enqueue(ctx, e); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	queued, err := repo.PeekQueued(ctx, campaignID, 10)
	if err != nil {
		t.Fatalf("peek queued: %v", err)
	}
	if len(queued) != 2 || queued[0].ID != fresh.ID {
		t.Fatalf("fresh contact should be peeked first, got %+v", queued)
	}
}

func TestForceAbandonStale(t *testing.T) {
	ctx := context.Background()
	repo := NewDialQueueRepository()
	campaignID := uuid.New()
	now := time.Now()

	stale := &domain.DialQueueEntry{ID: uuid.New(), CampaignID: campaignID, ContactID: uuid.New(), Status: domain.QueueStatusQueued, QueuedAt: now.Add(-10 * time.Minute)}
	fresh := &domain.DialQueueEntry{ID: uuid.New(), CampaignID: campaignID, ContactID: uuid.New(), Status: domain.QueueStatusQueued, QueuedAt: now}
	for _, e := range []*domain.DialQueueEntry{stale, fresh} {
		if err := repo.Enqueue(ctx, e); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	if _, err := repo.MarkDialing(ctx, stale.ID, "pacer", now.Add(-10*time.Minute)); err != nil {
		t.Fatalf("mark dialing: %v", err)
	}
	if _, err := repo.MarkDialing(ctx, fresh.ID, "pacer", now); err != nil {
		t.Fatalf("mark dialing: %v", err)
	}

	abandoned, err := repo.ForceAbandonStale(ctx, now.Add(-5*time.Minute), now)
	if err != nil {
		t.Fatalf("force abandon: %v", err)
	}
	if len(abandoned) != 1 || abandoned[0].ID != stale.ID {
		t.Fatalf("expected only the stale entry abandoned, got %+v", abandoned)
	}
	if abandoned[0].Outcome == nil || *abandoned[0].Outcome != domain.CallOutcomeAbandoned {
		t.Fatalf("abandoned entry should carry a synthetic outcome, got %+v", abandoned[0])
	}

	got, _ := repo.Get(ctx, fresh.ID)
	if got.Status != domain.QueueStatusDialing {
		t.Fatalf("fresh dialing entry must survive the sweep, got %s", got.Status)
	}

	stats, err := repo.Stats(ctx, campaignID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalAbandoned != 1 || stats.TotalDialing != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
