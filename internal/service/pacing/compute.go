// Package pacing implements the predictive pacing feedback loop: a pure
// decision function plus a per-campaign tick runner that feeds decisions
// into queue generation and dial dispatch.
package pacing

import (
	"math"
	"time"

	"github.com/acme/predictive-dialer/internal/domain"
)

// Policy carries the loop-wide pacing knobs, independent of any campaign.
type Policy struct {
	TickInterval     time.Duration
	ConnectRateFloor float64
	ThrottleFactor   float64
	SmoothingWeight  float64
}

// Decision is the output of one pacing computation.
type Decision struct {
	// CallsPerMinute is the pacing rate after the concurrency ceiling.
	CallsPerMinute float64
	// CallsToPlace is the whole number of calls to originate this tick.
	CallsToPlace int
	// Multiplier is the pacing multiplier after any throttling this tick.
	Multiplier float64
	// Throttled reports whether the abandon threshold was breached.
	Throttled bool
}

// Compute derives how many calls to place this tick from the campaign
// config, the live metrics, and the current pacing multiplier.
//
// With no available agents the rate is zero regardless of the other
// signals. The connection rate is floored so a cold campaign cannot
// divide toward infinity, and a breached abandon threshold shrinks the
// multiplier before the rate is capped at the concurrency ceiling.
func Compute(p Policy, cfg domain.DialerConfig, m domain.DialerMetrics, multiplier float64) Decision {
	d := Decision{Multiplier: multiplier}
	if d.Multiplier <= 0 {
		d.Multiplier = 1
	}
	if m.AvailableAgents <= 0 {
		d.CallsPerMinute = 0
		d.CallsToPlace = 0
		return d
	}

	act := m.AverageCallTime
	if act <= 0 {
		act = domain.DefaultMetrics().AverageCallTime
	}
	perAgentPerMinute := 60.0 / act
	target := float64(m.AvailableAgents) * perAgentPerMinute

	floor := p.ConnectRateFloor
	if floor <= 0 {
		floor = 0.1
	}
	adjusted := target / math.Max(m.ConnectionRate, floor)

	if m.AbandonRate > cfg.AbandonRateThreshold {
		factor := p.ThrottleFactor
		if factor <= 0 || factor >= 1 {
			factor = 0.8
		}
		d.Multiplier *= factor
		d.Throttled = true
	}

	rate := adjusted * d.Multiplier
	if cfg.DialSpeed > 0 && rate > cfg.DialSpeed {
		rate = cfg.DialSpeed
	}
	if ceiling := float64(cfg.MaxConcurrentCalls); cfg.MaxConcurrentCalls > 0 && rate > ceiling {
		rate = ceiling
	}
	d.CallsPerMinute = rate

	tickMinutes := p.TickInterval.Minutes()
	if tickMinutes <= 0 {
		tickMinutes = (10 * time.Second).Minutes()
	}
	d.CallsToPlace = int(math.Floor(rate * tickMinutes))
	return d
}
