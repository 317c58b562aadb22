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

// DialerConfigRepository implements repository.DialerConfigRepository.
type DialerConfigRepository struct {
	db *sqlx.DB
}

// NewDialerConfigRepository builds the repository.
func NewDialerConfigRepository(db *sqlx.DB) *DialerConfigRepository {
	return &DialerConfigRepository{db: db}
}

// Upsert inserts or replaces the campaign's pacing configuration.
func (r *DialerConfigRepository) Upsert(ctx context.Context, cfg *domain.DialerConfig) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO dialer_configs (
			campaign_id, dial_method, dial_speed, max_concurrent_calls,
			abandon_rate_threshold, pacing_multiplier, is_active, retry_delay_ms, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (campaign_id) DO UPDATE SET
			dial_method = EXCLUDED.dial_method,
			dial_speed = EXCLUDED.dial_speed,
			max_concurrent_calls = EXCLUDED.max_concurrent_calls,
			abandon_rate_threshold = EXCLUDED.abandon_rate_threshold,
			pacing_multiplier = EXCLUDED.pacing_multiplier,
			is_active = EXCLUDED.is_active,
			retry_delay_ms = EXCLUDED.retry_delay_ms,
			updated_at = EXCLUDED.updated_at`,
		cfg.CampaignID, string(cfg.DialMethod), cfg.DialSpeed, cfg.MaxConcurrentCalls,
		cfg.AbandonRateThreshold, cfg.PacingMultiplier, cfg.IsActive,
		cfg.RetryDelay.Milliseconds(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("dialer configs: upsert: %w", err)
	}
	return nil
}

// Get retrieves the configuration for a campaign.
func (r *DialerConfigRepository) Get(ctx context.Context, campaignID uuid.UUID) (*domain.DialerConfig, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT `+dialerConfigColumns+`
		FROM dialer_configs WHERE campaign_id = $1`, campaignID)
	var rec dialerConfigRecord
	if err := row.StructScan(&rec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("dialer configs: get: %w", err)
	}
	return rec.toModel(), nil
}

// SetActive flips the active flag.
func (r *DialerConfigRepository) SetActive(ctx context.Context, campaignID uuid.UUID, active bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE dialer_configs
		SET is_active = $2, updated_at = NOW() WHERE campaign_id = $1`, campaignID, active)
	if err != nil {
		return fmt.Errorf("dialer configs: set active: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("dialer configs: set active rows: %w", err)
	}
	if affected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListActive returns active configurations for the pacing runner.
func (r *DialerConfigRepository) ListActive(ctx context.Context, limit int) ([]*domain.DialerConfig, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryxContext(ctx, `SELECT `+dialerConfigColumns+`
		FROM dialer_configs WHERE is_active = true
		ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("dialer configs: list active: %w", err)
	}
	defer rows.Close()

	var results []*domain.DialerConfig
	for rows.Next() {
		var rec dialerConfigRecord
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("dialer configs: scan: %w", err)
		}
		results = append(results, rec.toModel())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dialer configs: rows err: %w", err)
	}
	return results, nil
}

const dialerConfigColumns = `campaign_id, dial_method, dial_speed, max_concurrent_calls,
	abandon_rate_threshold, pacing_multiplier, is_active, retry_delay_ms, created_at, updated_at`

type dialerConfigRecord struct {
	CampaignID           uuid.UUID `db:"campaign_id"`
	DialMethod           string    `db:"dial_method"`
	DialSpeed            float64   `db:"dial_speed"`
	MaxConcurrentCalls   int       `db:"max_concurrent_calls"`
	AbandonRateThreshold float64   `db:"abandon_rate_threshold"`
	PacingMultiplier     float64   `db:"pacing_multiplier"`
	IsActive             bool      `db:"is_active"`
	RetryDelayMs         int64     `db:"retry_delay_ms"`
	CreatedAt            time.Time `db:"created_at"`
	UpdatedAt            time.Time `db:"updated_at"`
}

func (r dialerConfigRecord) toModel() *domain.DialerConfig {
	return &domain.DialerConfig{
		CampaignID:           r.CampaignID,
		DialMethod:           domain.DialMethod(r.DialMethod),
		DialSpeed:            r.DialSpeed,
		MaxConcurrentCalls:   r.MaxConcurrentCalls,
		AbandonRateThreshold: r.AbandonRateThreshold,
		PacingMultiplier:     r.PacingMultiplier,
		IsActive:             r.IsActive,
		RetryDelay:           time.Duration(r.RetryDelayMs) * time.Millisecond,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
}
