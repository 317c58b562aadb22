package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/acme/predictive-dialer/internal/domain"
)

// AttemptStore persists the append-only dial attempt history in Scylla,
// partitioned by campaign and day bucket to keep partitions bounded.
type AttemptStore struct {
	session *gocql.Session
}

// NewAttemptStore creates a new attempt store.
func NewAttemptStore(session *gocql.Session) *AttemptStore {
	return &AttemptStore{session: session}
}

// Append writes one attempt record.
func (s *AttemptStore) Append(ctx context.Context, attempt domain.DialAttempt) error {
	bucket := bucketDate(attempt.CreatedAt)
	durationMs := int64(attempt.Duration / time.Millisecond)
	if err := s.session.Query(`INSERT INTO dial_attempts_by_campaign
		(campaign_id, bucket, attempt_id, contact_id, queue_id, attempt_number, outcome, error, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		attempt.CampaignID.String(), bucket, attempt.ID.String(), attempt.ContactID.String(),
		attempt.QueueID.String(), attempt.AttemptNum, string(attempt.Outcome), attempt.Error,
		durationMs, attempt.CreatedAt,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("attempt store: append: %w", err)
	}
	return nil
}

// ListByCampaign pages through attempt history for a campaign.
func (s *AttemptStore) ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit int, pagingState []byte) ([]domain.DialAttempt, []byte, error) {
	if limit <= 0 {
		limit = 100
	}

	query := s.session.Query(`SELECT bucket, attempt_id, contact_id, queue_id, attempt_number, outcome, error, duration_ms, created_at
		FROM dial_attempts_by_campaign WHERE campaign_id = ?`, campaignID.String()).WithContext(ctx)
	query = query.PageSize(limit)
	if len(pagingState) > 0 {
		query = query.PageState(pagingState)
	}

	iter := query.Iter()
	attempts := make([]domain.DialAttempt, 0, limit)

	var (
		bucket     time.Time
		attemptID  string
		contactID  string
		queueID    string
		attemptNum int
		outcome    string
		errMsg     string
		durationMs int64
		createdAt  time.Time
	)

	for iter.Scan(&bucket, &attemptID, &contactID, &queueID, &attemptNum, &outcome, &errMsg, &durationMs, &createdAt) {
		id, err := uuid.Parse(attemptID)
		if err != nil {
			continue
		}
		cid, err := uuid.Parse(contactID)
		if err != nil {
			continue
		}
		qid, err := uuid.Parse(queueID)
		if err != nil {
			continue
		}

		attempts = append(attempts, domain.DialAttempt{
			ID:         id,
			CampaignID: campaignID,
			ContactID:  cid,
			QueueID:    qid,
			AttemptNum: attemptNum,
			Outcome:    domain.CallOutcome(outcome),
			Error:      errMsg,
			Duration:   time.Duration(durationMs) * time.Millisecond,
			CreatedAt:  createdAt,
		})
	}

	if err := iter.Close(); err != nil {
		return nil, nil, fmt.Errorf("attempt store: iter close: %w", err)
	}

	return attempts, iter.PageState(), nil
}

func bucketDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
