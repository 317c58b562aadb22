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

// DialQueueRepository implements repository.DialQueueRepository on Postgres.
// Transitions are conditional updates guarded by the current status, so
// concurrent callers racing on one entry serialize at the row level.
type DialQueueRepository struct {
	db *sqlx.DB
}

// NewDialQueueRepository constructs the repository.
func NewDialQueueRepository(db *sqlx.DB) *DialQueueRepository {
	return &DialQueueRepository{db: db}
}

// Enqueue inserts a queued entry unless another non-terminal entry already
// exists for the contact. Defense in depth alongside the contact lock.
func (r *DialQueueRepository) Enqueue(ctx context.Context, entry *domain.DialQueueEntry) error {
	res, err := r.db.ExecContext(ctx, `INSERT INTO dial_queue (
			id, campaign_id, list_id, contact_id, status, priority, queued_at
		)
		SELECT $1, $2, $3, $4, $5, $6, $7
		WHERE NOT EXISTS (
			SELECT 1 FROM dial_queue
			WHERE contact_id = $4 AND status IN ('queued', 'dialing', 'connected')
		)`,
		entry.ID, entry.CampaignID, entry.ListID, entry.ContactID,
		string(entry.Status), entry.Priority, entry.QueuedAt)
	if err != nil {
		return fmt.Errorf("dial queue: enqueue: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("dial queue: enqueue rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("dial queue: contact %s has an active entry: %w", entry.ContactID, repository.ErrConflict)
	}
	return nil
}

// Get fetches one entry by id.
func (r *DialQueueRepository) Get(ctx context.Context, queueID uuid.UUID) (*domain.DialQueueEntry, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT `+queueColumns+` FROM dial_queue WHERE id = $1`, queueID)
	var rec queueRecord
	if err := row.StructScan(&rec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("dial queue: get: %w", err)
	}
	return rec.toModel(), nil
}

// Transition applies a status change, enforcing the queue state machine.
// Terminal entries are immutable; illegal moves return ErrInvalidTransition.
func (r *DialQueueRepository) Transition(ctx context.Context, queueID uuid.UUID, next domain.QueueStatus, outcome *domain.CallOutcome, notes *string, at time.Time) (*domain.DialQueueEntry, error) {
	froms := legalPredecessors(next)
	if len(froms) == 0 {
		return nil, fmt.Errorf("dial queue: no state leads to %s: %w", next, repository.ErrInvalidTransition)
	}

	var outcomeStr *string
	if outcome != nil {
		v := string(*outcome)
		outcomeStr = &v
	}

	var completedAt *time.Time
	if next.Terminal() {
		completedAt = &at
	}

	row := r.db.QueryRowxContext(ctx, `UPDATE dial_queue
		SET status = $2,
		    outcome = COALESCE($3, outcome),
		    notes = COALESCE($4, notes),
		    completed_at = COALESCE($5, completed_at)
		WHERE id = $1 AND status = ANY($6)
		RETURNING `+queueColumns,
		queueID, string(next), outcomeStr, notes, completedAt, statusStrings(froms))

	var rec queueRecord
	if err := row.StructScan(&rec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, r.transitionFailure(ctx, queueID, next)
		}
		return nil, fmt.Errorf("dial queue: transition: %w", err)
	}
	return rec.toModel(), nil
}

// transitionFailure distinguishes a missing entry from an illegal move.
func (r *DialQueueRepository) transitionFailure(ctx context.Context, queueID uuid.UUID, next domain.QueueStatus) error {
	var current string
	err := r.db.QueryRowxContext(ctx, `SELECT status FROM dial_queue WHERE id = $1`, queueID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("dial queue: transition check: %w", err)
	}
	return fmt.Errorf("dial queue: %s -> %s: %w", current, next, repository.ErrInvalidTransition)
}

// PeekQueued lists queued entries in priority order without modifying them.
func (r *DialQueueRepository) PeekQueued(ctx context.Context, campaignID uuid.UUID, limit int) ([]*domain.DialQueueEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.QueryxContext(ctx, `SELECT `+queueColumns+` FROM dial_queue
		WHERE campaign_id = $1 AND status = 'queued'
		ORDER BY priority ASC, queued_at ASC
		LIMIT $2`, campaignID, limit)
	if err != nil {
		return nil, fmt.Errorf("dial queue: peek queued: %w", err)
	}
	defer rows.Close()

	var results []*domain.DialQueueEntry
	for rows.Next() {
		var rec queueRecord
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("dial queue: peek scan: %w", err)
		}
		results = append(results, rec.toModel())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dial queue: peek rows: %w", err)
	}
	return results, nil
}

// MarkDialing moves a queued entry to dialing in one conditional update;
// racing claimers lose cleanly and fall through to the next candidate.
func (r *DialQueueRepository) MarkDialing(ctx context.Context, queueID uuid.UUID, agentID string, at time.Time) (*domain.DialQueueEntry, error) {
	row := r.db.QueryRowxContext(ctx, `UPDATE dial_queue
		SET status = 'dialing', assigned_agent_id = $2, dialed_at = $3
		WHERE id = $1 AND status = 'queued'
		RETURNING `+queueColumns, queueID, agentID, at)

	var rec queueRecord
	if err := row.StructScan(&rec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, r.transitionFailure(ctx, queueID, domain.QueueStatusDialing)
		}
		return nil, fmt.Errorf("dial queue: mark dialing: %w", err)
	}
	return rec.toModel(), nil
}

// ActiveEntryForContact returns the non-terminal entry for a contact, if any.
func (r *DialQueueRepository) ActiveEntryForContact(ctx context.Context, contactID uuid.UUID) (*domain.DialQueueEntry, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT `+queueColumns+` FROM dial_queue
		WHERE contact_id = $1 AND status IN ('queued', 'dialing', 'connected')
		LIMIT 1`, contactID)
	var rec queueRecord
	if err := row.StructScan(&rec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("dial queue: active entry: %w", err)
	}
	return rec.toModel(), nil
}

// ForceAbandonStale abandons dialing entries whose attempt started before the
// cutoff, guaranteeing no entry stays in dialing forever.
func (r *DialQueueRepository) ForceAbandonStale(ctx context.Context, cutoff time.Time, at time.Time) ([]*domain.DialQueueEntry, error) {
	rows, err := r.db.QueryxContext(ctx, `UPDATE dial_queue
		SET status = 'abandoned', outcome = 'abandoned', notes = 'dial timeout exceeded', completed_at = $2
		WHERE status = 'dialing' AND dialed_at < $1
		RETURNING `+queueColumns, cutoff, at)
	if err != nil {
		return nil, fmt.Errorf("dial queue: force abandon: %w", err)
	}
	defer rows.Close()

	var results []*domain.DialQueueEntry
	for rows.Next() {
		var rec queueRecord
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("dial queue: force abandon scan: %w", err)
		}
		results = append(results, rec.toModel())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dial queue: force abandon rows: %w", err)
	}
	return results, nil
}

// Stats aggregates per-campaign queue counters.
func (r *DialQueueRepository) Stats(ctx context.Context, campaignID uuid.UUID) (*domain.QueueStats, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT
			COUNT(*) FILTER (WHERE status = 'queued')    AS total_queued,
			COUNT(*) FILTER (WHERE status = 'dialing')   AS total_dialing,
			COUNT(*) FILTER (WHERE status = 'connected') AS total_connected,
			COUNT(*) FILTER (WHERE status = 'completed') AS total_completed,
			COUNT(*) FILTER (WHERE status = 'failed')    AS total_failed,
			COUNT(*) FILTER (WHERE status = 'abandoned') AS total_abandoned
		FROM dial_queue WHERE campaign_id = $1`, campaignID)

	var stats domain.QueueStats
	if err := row.Scan(&stats.TotalQueued, &stats.TotalDialing, &stats.TotalConnected,
		&stats.TotalCompleted, &stats.TotalFailed, &stats.TotalAbandoned); err != nil {
		return nil, fmt.Errorf("dial queue: stats: %w", err)
	}
	return &stats, nil
}

func legalPredecessors(next domain.QueueStatus) []domain.QueueStatus {
	all := []domain.QueueStatus{
		domain.QueueStatusQueued, domain.QueueStatusDialing, domain.QueueStatusConnected,
		domain.QueueStatusCompleted, domain.QueueStatusFailed, domain.QueueStatusAbandoned,
	}
	var froms []domain.QueueStatus
	for _, from := range all {
		if domain.CanTransition(from, next) {
			froms = append(froms, from)
		}
	}
	return froms
}

func statusStrings(statuses []domain.QueueStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}

const queueColumns = `id, campaign_id, list_id, contact_id, status, assigned_agent_id,
	priority, queued_at, dialed_at, completed_at, outcome, notes`

type queueRecord struct {
	ID              uuid.UUID      `db:"id"`
	CampaignID      uuid.UUID      `db:"campaign_id"`
	ListID          uuid.UUID      `db:"list_id"`
	ContactID       uuid.UUID      `db:"contact_id"`
	Status          string         `db:"status"`
	AssignedAgentID sql.NullString `db:"assigned_agent_id"`
	Priority        int            `db:"priority"`
	QueuedAt        time.Time      `db:"queued_at"`
	DialedAt        sql.NullTime   `db:"dialed_at"`
	CompletedAt     sql.NullTime   `db:"completed_at"`
	Outcome         sql.NullString `db:"outcome"`
	Notes           sql.NullString `db:"notes"`
}

func (r queueRecord) toModel() *domain.DialQueueEntry {
	entry := &domain.DialQueueEntry{
		ID:         r.ID,
		CampaignID: r.CampaignID,
		ListID:     r.ListID,
		ContactID:  r.ContactID,
		Status:     domain.QueueStatus(r.Status),
		Priority:   r.Priority,
		QueuedAt:   r.QueuedAt,
	}
	if r.AssignedAgentID.Valid {
		v := r.AssignedAgentID.String
		entry.AssignedAgentID = &v
	}
	if r.DialedAt.Valid {
		t := r.DialedAt.Time
		entry.DialedAt = &t
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		entry.CompletedAt = &t
	}
	if r.Outcome.Valid {
		o := domain.CallOutcome(r.Outcome.String)
		entry.Outcome = &o
	}
	if r.Notes.Valid {
		n := r.Notes.String
		entry.Notes = &n
	}
	return entry
}
