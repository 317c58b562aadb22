package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DialMethod selects how a campaign's contacts are dialed.
type DialMethod string

const (
	DialMethodAutodial      DialMethod = "AUTODIAL"
	DialMethodManualDial    DialMethod = "MANUAL_DIAL"
	DialMethodManualPreview DialMethod = "MANUAL_PREVIEW"
	DialMethodSkip          DialMethod = "SKIP"
)

// DialerConfig holds per-campaign pacing configuration.
type DialerConfig struct {
	CampaignID           uuid.UUID
	DialMethod           DialMethod
	DialSpeed            float64
	MaxConcurrentCalls   int
	AbandonRateThreshold float64
	PacingMultiplier     float64
	IsActive             bool
	RetryDelay           time.Duration
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Validate rejects configurations that must never reach the pacing loop.
func (c DialerConfig) Validate() error {
	if c.CampaignID == uuid.Nil {
		return fmt.Errorf("campaign id is required")
	}
	switch c.DialMethod {
	case DialMethodAutodial, DialMethodManualDial, DialMethodManualPreview, DialMethodSkip:
	default:
		return fmt.Errorf("unknown dial method %q", c.DialMethod)
	}
	if c.AbandonRateThreshold <= 0 || c.AbandonRateThreshold >= 1 {
		return fmt.Errorf("abandon rate threshold must be in (0,1), got %v", c.AbandonRateThreshold)
	}
	if c.MaxConcurrentCalls < 1 {
		return fmt.Errorf("max concurrent calls must be >= 1, got %d", c.MaxConcurrentCalls)
	}
	if c.PacingMultiplier < 0 {
		return fmt.Errorf("pacing multiplier must be non-negative, got %v", c.PacingMultiplier)
	}
	return nil
}

// Paceable reports whether the pacing loop should run for this config.
func (c DialerConfig) Paceable() bool {
	return c.IsActive && c.DialMethod == DialMethodAutodial
}

// DialerMetrics is the per-campaign live feedback signal driving pacing.
// Values are smoothed, never overwritten wholesale.
type DialerMetrics struct {
	AvailableAgents int
	ActiveCalls     int
	AverageCallTime float64 // seconds
	ConnectionRate  float64
	AbandonRate     float64
}

// DefaultMetrics seeds conservative values when a dialer starts cold.
func DefaultMetrics() DialerMetrics {
	return DialerMetrics{
		AvailableAgents: 0,
		ActiveCalls:     0,
		AverageCallTime: 120,
		ConnectionRate:  0.3,
		AbandonRate:     0,
	}
}

// MetricsSample is a partial observation folded into DialerMetrics via
// weighted smoothing. Nil fields leave the current value untouched.
type MetricsSample struct {
	AvailableAgents *int
	ActiveCalls     *int
	AverageCallTime *float64
	ConnectionRate  *float64
	AbandonRate     *float64
}

// Smooth folds a sample into the metrics with the given weight toward
// history. Gauge-style counts (agents, active calls) are replaced outright;
// the rate and duration signals are exponentially smoothed.
func (m DialerMetrics) Smooth(sample MetricsSample, historyWeight float64) DialerMetrics {
	if historyWeight < 0 {
		historyWeight = 0
	}
	if historyWeight > 1 {
		historyWeight = 1
	}
	next := m
	if sample.AvailableAgents != nil {
		next.AvailableAgents = *sample.AvailableAgents
	}
	if sample.ActiveCalls != nil {
		next.ActiveCalls = *sample.ActiveCalls
	}
	if sample.AverageCallTime != nil {
		next.AverageCallTime = historyWeight*m.AverageCallTime + (1-historyWeight)**sample.AverageCallTime
	}
	if sample.ConnectionRate != nil {
		next.ConnectionRate = clampFraction(historyWeight*m.ConnectionRate + (1-historyWeight)**sample.ConnectionRate)
	}
	if sample.AbandonRate != nil {
		next.AbandonRate = clampFraction(historyWeight*m.AbandonRate + (1-historyWeight)**sample.AbandonRate)
	}
	return next
}

func clampFraction(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// DialAttempt captures one gateway attempt outcome for observability.
type DialAttempt struct {
	ID         uuid.UUID
	CampaignID uuid.UUID
	ContactID  uuid.UUID
	QueueID    uuid.UUID
	AttemptNum int
	Outcome    CallOutcome
	Error      string
	Duration   time.Duration
	CreatedAt  time.Time
}
