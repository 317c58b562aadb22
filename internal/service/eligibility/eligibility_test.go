package eligibility

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/predictive-dialer/internal/domain"
)

func contact(status domain.ContactStatus, attempts int, created time.Time) *domain.Contact {
	return &domain.Contact{
		ID:           uuid.New(),
		Phone:        "+15550000000",
		Status:       status,
		AttemptCount: attempts,
		MaxAttempts:  3,
		CreatedAt:    created,
	}
}

func TestFilterExcludesIneligible(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	retryAt := now.Add(time.Hour)

	locked := contact(domain.ContactStatusNotAttempted, 0, now)
	locked.Locked = true

	exhausted := contact(domain.ContactStatusNoAnswer, 3, now)

	waiting := contact(domain.ContactStatusBusy, 1, now)
	waiting.NextRetryAt = &retryAt

	pool := []*domain.Contact{
		locked,
		contact(domain.ContactStatusMaxAttempts, 2, now),
		contact(domain.ContactStatusDoNotCall, 0, now),
		contact(domain.ContactStatusInvalid, 0, now),
		exhausted,
		waiting,
		contact(domain.ContactStatusNotAttempted, 0, now),
	}

	eligible := Filter(pool, now)
	if len(eligible) != 1 {
		t.Fatalf("expected 1 eligible contact, got %d", len(eligible))
	}
	if eligible[0].Status != domain.ContactStatusNotAttempted {
		t.Fatalf("unexpected eligible contact status %s", eligible[0].Status)
	}
}

func TestFilterRetryTimerElapsed(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	retryAt := now.Add(-time.Minute)

	c := contact(domain.ContactStatusBusy, 1, now)
	c.NextRetryAt = &retryAt

	if got := Filter([]*domain.Contact{c}, now); len(got) != 1 {
		t.Fatalf("expected contact with elapsed retry timer to be eligible")
	}
}

func TestOrderFreshBeforeRetriesThenFewestAttempts(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	twice := contact(domain.ContactStatusNoAnswer, 2, base)
	once := contact(domain.ContactStatusBusy, 1, base.Add(time.Minute))
	freshLate := contact(domain.ContactStatusNotAttempted, 0, base.Add(2*time.Minute))
	freshEarly := contact(domain.ContactStatusNotAttempted, 0, base)

	pool := []*domain.Contact{twice, once, freshLate, freshEarly}
	Order(pool)

	want := []*domain.Contact{freshEarly, freshLate, once, twice}
	for i := range want {
		if pool[i].ID != want[i].ID {
			t.Fatalf("position %d: expected %s, got %s", i, want[i].ID, pool[i].ID)
		}
	}
}

func TestSelectAppliesLimit(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	pool := []*domain.Contact{
		contact(domain.ContactStatusNotAttempted, 0, now),
		contact(domain.ContactStatusNotAttempted, 0, now.Add(time.Second)),
		contact(domain.ContactStatusNotAttempted, 0, now.Add(2*time.Second)),
	}

	if got := Select(pool, 2, now); len(got) != 2 {
		t.Fatalf("expected 2 contacts, got %d", len(got))
	}
}
