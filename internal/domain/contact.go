package domain

import (
	"time"

	"github.com/google/uuid"
)

// ContactStatus enumerates dialability states of a contact.
type ContactStatus string

const (
	ContactStatusNotAttempted  ContactStatus = "not_attempted"
	ContactStatusAnswered      ContactStatus = "answered"
	ContactStatusNoAnswer      ContactStatus = "no_answer"
	ContactStatusBusy          ContactStatus = "busy"
	ContactStatusVoicemail     ContactStatus = "voicemail"
	ContactStatusRetryEligible ContactStatus = "retry_eligible"
	ContactStatusMaxAttempts   ContactStatus = "max_attempts"
	ContactStatusDoNotCall     ContactStatus = "do_not_call"
	ContactStatusInvalid       ContactStatus = "invalid"
)

// Contact models a dialable record owned by a campaign list.
type Contact struct {
	ID            uuid.UUID
	CampaignID    uuid.UUID
	ListID        uuid.UUID
	Phone         string
	Status        ContactStatus
	AttemptCount  int
	MaxAttempts   int
	Locked        bool
	LockedBy      *string
	LockedAt      *time.Time
	LastAttemptAt *time.Time
	NextRetryAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Dialable reports whether the contact satisfies every eligibility
// constraint at the given instant: unlocked, not excluded by status,
// attempts remaining, and past any retry timer.
func (c *Contact) Dialable(now time.Time) bool {
	if c.Locked {
		return false
	}
	switch c.Status {
	case ContactStatusMaxAttempts, ContactStatusDoNotCall, ContactStatusInvalid:
		return false
	}
	if c.AttemptCount >= c.MaxAttempts {
		return false
	}
	if c.NextRetryAt != nil && c.NextRetryAt.After(now) {
		return false
	}
	return true
}

// StatusForOutcome maps a call outcome to the contact status recorded after
// the attempt. Attempt exhaustion is pinned by the contact store itself.
func StatusForOutcome(outcome CallOutcome) ContactStatus {
	switch outcome {
	case CallOutcomeAnswered:
		return ContactStatusAnswered
	case CallOutcomeNoAnswer:
		return ContactStatusNoAnswer
	case CallOutcomeBusy:
		return ContactStatusBusy
	case CallOutcomeVoicemail:
		return ContactStatusVoicemail
	default:
		return ContactStatusRetryEligible
	}
}

// CallOutcome is the gateway-reported disposition of a dial attempt.
type CallOutcome string

const (
	CallOutcomeAnswered  CallOutcome = "answered"
	CallOutcomeNoAnswer  CallOutcome = "no_answer"
	CallOutcomeBusy      CallOutcome = "busy"
	CallOutcomeVoicemail CallOutcome = "voicemail"
	CallOutcomeFailed    CallOutcome = "failed"
	CallOutcomeAbandoned CallOutcome = "abandoned"
)

// Retryable reports whether the outcome should put the contact back into
// the retry pool.
func (o CallOutcome) Retryable() bool {
	switch o {
	case CallOutcomeNoAnswer, CallOutcomeBusy, CallOutcomeFailed, CallOutcomeAbandoned:
		return true
	}
	return false
}
