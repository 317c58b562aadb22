package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/predictive-dialer/internal/domain"
	"github.com/acme/predictive-dialer/internal/repository"
)

// ContactStore implements repository.ContactStore on Postgres. Eligibility
// filtering happens in SQL so contact volumes never require in-process scans,
// and TryLock is a single conditional update.
type ContactStore struct {
	db *sqlx.DB
}

// NewContactStore constructs the store.
func NewContactStore(db *sqlx.DB) *ContactStore {
	return &ContactStore{db: db}
}

// BulkInsert inserts a batch of contacts, ignoring duplicates by id.
func (s *ContactStore) BulkInsert(ctx context.Context, contacts []*domain.Contact) error {
	if len(contacts) == 0 {
		return nil
	}

	query := `INSERT INTO contacts (
		id, campaign_id, list_id, phone, status, attempt_count, max_attempts,
		locked, locked_by, locked_at, last_attempt_at, next_retry_at, created_at, updated_at
	) VALUES (:id, :campaign_id, :list_id, :phone, :status, :attempt_count, :max_attempts,
		:locked, :locked_by, :locked_at, :last_attempt_at, :next_retry_at, :created_at, :updated_at)
	ON CONFLICT (id) DO NOTHING`

	rows := make([]map[string]any, 0, len(contacts))
	for _, c := range contacts {
		rows = append(rows, map[string]any{
			"id":              c.ID,
			"campaign_id":     c.CampaignID,
			"list_id":         c.ListID,
			"phone":           c.Phone,
			"status":          string(c.Status),
			"attempt_count":   c.AttemptCount,
			"max_attempts":    c.MaxAttempts,
			"locked":          c.Locked,
			"locked_by":       c.LockedBy,
			"locked_at":       c.LockedAt,
			"last_attempt_at": c.LastAttemptAt,
			"next_retry_at":   c.NextRetryAt,
			"created_at":      c.CreatedAt,
			"updated_at":      c.UpdatedAt,
		})
	}

	if _, err := s.db.NamedExecContext(ctx, query, rows); err != nil {
		return fmt.Errorf("contacts: bulk insert: %w", err)
	}
	return nil
}

// Get fetches one contact by id.
func (s *ContactStore) Get(ctx context.Context, id uuid.UUID) (*domain.Contact, error) {
	row := s.db.QueryRowxContext(ctx, `SELECT `+contactColumns+` FROM contacts WHERE id = $1`, id)
	var rec contactRecord
	if err := row.StructScan(&rec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("contacts: get: %w", err)
	}
	return rec.toModel(), nil
}

// FetchDialable selects eligible contacts for the campaign: unlocked, not
// excluded by status, attempts remaining, past the retry timer. Fresh
// contacts sort before retries, then fewer attempts first.
func (s *ContactStore) FetchDialable(ctx context.Context, campaignID uuid.UUID, limit int, now time.Time) ([]*domain.Contact, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryxContext(ctx, `SELECT `+contactColumns+`
		FROM contacts
		WHERE campaign_id = $1
		  AND locked = false
		  AND status NOT IN ('max_attempts', 'do_not_call', 'invalid')
		  AND attempt_count < max_attempts
		  AND (next_retry_at IS NULL OR next_retry_at <= $2)
		ORDER BY (status <> 'not_attempted') ASC, attempt_count ASC, created_at ASC
		LIMIT $3`, campaignID, now, limit)
	if err != nil {
		return nil, fmt.Errorf("contacts: fetch dialable: %w", err)
	}
	defer rows.Close()

	var results []*domain.Contact
	for rows.Next() {
		var rec contactRecord
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("contacts: scan: %w", err)
		}
		results = append(results, rec.toModel())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("contacts: rows err: %w", err)
	}
	return results, nil
}

// TryLock acquires the contact only if it is currently unlocked.
func (s *ContactStore) TryLock(ctx context.Context, contactID uuid.UUID, ownerID string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE contacts
		SET locked = true, locked_by = $2, locked_at = $3, updated_at = $3
		WHERE id = $1 AND locked = false`, contactID, ownerID, now)
	if err != nil {
		return fmt.Errorf("contacts: try lock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("contacts: try lock rows: %w", err)
	}
	if affected == 1 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRowxContext(ctx, `SELECT EXISTS(SELECT 1 FROM contacts WHERE id = $1)`, contactID).Scan(&exists); err != nil {
		return fmt.Errorf("contacts: try lock check: %w", err)
	}
	if !exists {
		return repository.ErrNotFound
	}
	return repository.ErrAlreadyLocked
}

// Unlock releases the contact lock unconditionally.
func (s *ContactStore) Unlock(ctx context.Context, contactID uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE contacts
		SET locked = false, locked_by = NULL, locked_at = NULL, updated_at = NOW()
		WHERE id = $1`, contactID); err != nil {
		return fmt.Errorf("contacts: unlock: %w", err)
	}
	return nil
}

// ReleaseStaleLocks force-releases locks older than the cutoff. An unreleased
// lock past the cutoff is treated as a crashed worker, not a permanent hold.
func (s *ContactStore) ReleaseStaleLocks(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE contacts
		SET locked = false, locked_by = NULL, locked_at = NULL, updated_at = NOW()
		WHERE locked = true AND locked_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("contacts: release stale locks: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("contacts: release stale rows: %w", err)
	}
	return affected, nil
}

// RecordAttempt increments the attempt counter and applies the post-attempt
// status. A contact reaching its attempt ceiling is pinned to max_attempts
// regardless of the requested status.
func (s *ContactStore) RecordAttempt(ctx context.Context, contactID uuid.UUID, status domain.ContactStatus, attemptedAt time.Time, nextRetryAt *time.Time) (*domain.Contact, error) {
	row := s.db.QueryRowxContext(ctx, `UPDATE contacts
		SET attempt_count = attempt_count + 1,
		    status = CASE WHEN attempt_count + 1 >= max_attempts THEN 'max_attempts' ELSE $2 END,
		    last_attempt_at = $3,
		    next_retry_at = $4,
		    updated_at = $3
		WHERE id = $1
		RETURNING `+contactColumns, contactID, string(status), attemptedAt, nextRetryAt)

	var rec contactRecord
	if err := row.StructScan(&rec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("contacts: record attempt: %w", err)
	}
	return rec.toModel(), nil
}

// UpdateStatus sets the contact status directly.
func (s *ContactStore) UpdateStatus(ctx context.Context, contactID uuid.UUID, status domain.ContactStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE contacts SET status = $2, updated_at = NOW() WHERE id = $1`, contactID, string(status))
	if err != nil {
		return fmt.Errorf("contacts: update status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("contacts: update status rows: %w", err)
	}
	if affected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

const contactColumns = `id, campaign_id, list_id, phone, status, attempt_count, max_attempts,
	locked, locked_by, locked_at, last_attempt_at, next_retry_at, created_at, updated_at`

type contactRecord struct {
	ID            uuid.UUID      `db:"id"`
	CampaignID    uuid.UUID      `db:"campaign_id"`
	ListID        uuid.UUID      `db:"list_id"`
	Phone         string         `db:"phone"`
	Status        string         `db:"status"`
	AttemptCount  int            `db:"attempt_count"`
	MaxAttempts   int            `db:"max_attempts"`
	Locked        bool           `db:"locked"`
	LockedBy      sql.NullString `db:"locked_by"`
	LockedAt      sql.NullTime   `db:"locked_at"`
	LastAttemptAt sql.NullTime   `db:"last_attempt_at"`
	NextRetryAt   sql.NullTime   `db:"next_retry_at"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

func (r contactRecord) toModel() *domain.Contact {
	contact := &domain.Contact{
		ID:           r.ID,
		CampaignID:   r.CampaignID,
		ListID:       r.ListID,
		Phone:        r.Phone,
		Status:       domain.ContactStatus(r.Status),
		AttemptCount: r.AttemptCount,
		MaxAttempts:  r.MaxAttempts,
		Locked:       r.Locked,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.LockedBy.Valid {
		v := r.LockedBy.String
		contact.LockedBy = &v
	}
	if r.LockedAt.Valid {
		t := r.LockedAt.Time
		contact.LockedAt = &t
	}
	if r.LastAttemptAt.Valid {
		t := r.LastAttemptAt.Time
		contact.LastAttemptAt = &t
	}
	if r.NextRetryAt.Valid {
		t := r.NextRetryAt.Time
		contact.NextRetryAt = &t
	}
	return contact
}
