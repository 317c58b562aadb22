package queue

import (
	"time"

	"github.com/google/uuid"
)

// DialRequestMessage instructs the dial worker to place one outbound call.
type DialRequestMessage struct {
	QueueID          uuid.UUID `json:"queue_id"`
	CampaignID       uuid.UUID `json:"campaign_id"`
	ContactID        uuid.UUID `json:"contact_id"`
	Phone            string    `json:"phone"`
	AttemptNum       int       `json:"attempt_num"`
	ConcurrencyLimit int       `json:"concurrency_limit"`
	EnqueuedAt       time.Time `json:"enqueued_at"`
}

// OutcomeMessage reports the gateway result of one dial attempt.
type OutcomeMessage struct {
	QueueID    uuid.UUID `json:"queue_id"`
	CampaignID uuid.UUID `json:"campaign_id"`
	ContactID  uuid.UUID `json:"contact_id"`
	Phone      string    `json:"phone"`
	Outcome    string    `json:"outcome"`
	AttemptNum int       `json:"attempt_num"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
