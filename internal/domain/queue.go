package domain

import (
	"time"

	"github.com/google/uuid"
)

// QueueStatus enumerates lifecycle stages of a dial queue entry.
type QueueStatus string

const (
	QueueStatusQueued    QueueStatus = "queued"
	QueueStatusDialing   QueueStatus = "dialing"
	QueueStatusConnected QueueStatus = "connected"
	QueueStatusCompleted QueueStatus = "completed"
	QueueStatusFailed    QueueStatus = "failed"
	QueueStatusAbandoned QueueStatus = "abandoned"
)

// Terminal reports whether the status admits no further transitions.
func (s QueueStatus) Terminal() bool {
	switch s {
	case QueueStatusCompleted, QueueStatusFailed, QueueStatusAbandoned:
		return true
	}
	return false
}

// queueTransitions is the allowed state machine:
// queued -> dialing -> {connected -> completed, failed};
// queued|dialing -> abandoned. Everything else is rejected.
var queueTransitions = map[QueueStatus][]QueueStatus{
	QueueStatusQueued:    {QueueStatusDialing, QueueStatusAbandoned},
	QueueStatusDialing:   {QueueStatusConnected, QueueStatusFailed, QueueStatusAbandoned},
	QueueStatusConnected: {QueueStatusCompleted, QueueStatusFailed},
}

// CanTransition reports whether from -> to is a legal queue transition.
func CanTransition(from, to QueueStatus) bool {
	for _, next := range queueTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// DialQueueEntry binds one in-flight dial attempt to a campaign. Exactly one
// non-terminal entry may exist per contact at any time.
type DialQueueEntry struct {
	ID              uuid.UUID
	CampaignID      uuid.UUID
	ListID          uuid.UUID
	ContactID       uuid.UUID
	Status          QueueStatus
	AssignedAgentID *string
	Priority        int
	QueuedAt        time.Time
	DialedAt        *time.Time
	CompletedAt     *time.Time
	Outcome         *CallOutcome
	Notes           *string
}

// QueueStats aggregates per-campaign queue counters.
type QueueStats struct {
	TotalQueued    int64
	TotalDialing   int64
	TotalConnected int64
	TotalCompleted int64
	TotalFailed    int64
	TotalAbandoned int64
}

// SuccessRate is completed over all terminal entries.
func (s QueueStats) SuccessRate() float64 {
	terminal := s.TotalCompleted + s.TotalFailed + s.TotalAbandoned
	if terminal == 0 {
		return 0
	}
	return float64(s.TotalCompleted) / float64(terminal)
}
