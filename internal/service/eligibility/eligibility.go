// Package eligibility holds the contact selection policy: which contacts are
// dialable at a given instant and in what order they should be attempted.
// The SQL contact store mirrors this policy in its query; the in-memory store
// applies it directly, so both backends select identically.
package eligibility

import (
	"sort"
	"time"

	"github.com/acme/predictive-dialer/internal/domain"
)

// Filter returns the contacts dialable at now, preserving input order.
func Filter(contacts []*domain.Contact, now time.Time) []*domain.Contact {
	var out []*domain.Contact
	for _, c := range contacts {
		if c.Dialable(now) {
			out = append(out, c)
		}
	}
	return out
}

// Order sorts contacts in place by dial priority: never-attempted contacts
// before any retry, then fewer attempts first so fresh retries beat
// repeatedly-failed ones, then insertion order for stability.
func Order(contacts []*domain.Contact) {
	sort.SliceStable(contacts, func(i, j int) bool {
		a, b := contacts[i], contacts[j]
		aFresh := a.Status == domain.ContactStatusNotAttempted
		bFresh := b.Status == domain.ContactStatusNotAttempted
		if aFresh != bFresh {
			return aFresh
		}
		if a.AttemptCount != b.AttemptCount {
			return a.AttemptCount < b.AttemptCount
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

// Select filters then orders then truncates to limit. Pure; no side effects.
func Select(contacts []*domain.Contact, limit int, now time.Time) []*domain.Contact {
	eligible := Filter(contacts, now)
	Order(eligible)
	if limit > 0 && len(eligible) > limit {
		eligible = eligible[:limit]
	}
	return eligible
}
