package mock

import (
	"context"
	"math/rand"
	"time"

	"github.com/acme/predictive-dialer/internal/config"
	"github.com/acme/predictive-dialer/internal/domain"
	"github.com/acme/predictive-dialer/internal/queue"
	"github.com/acme/predictive-dialer/internal/telephony"
)

// Provider simulates outbound call behaviour for environments without a real
// telephony bridge.
type Provider struct {
	timeout time.Duration
	rng     *rand.Rand
}

// NewProvider constructs a mock provider.
func NewProvider(cfg config.GatewayConfig) *Provider {
	return &Provider{
		timeout: cfg.RequestTimeout,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// PlaceCall simulates a call attempt with a plausible outcome mix.
func (p *Provider) PlaceCall(ctx context.Context, msg queue.DialRequestMessage) (telephony.Result, error) {
	ringTime := time.Duration(1+p.rng.Intn(4)) * time.Second

	select {
	case <-ctx.Done():
		return telephony.Result{Outcome: domain.CallOutcomeFailed, Duration: ringTime, Error: ctx.Err().Error()}, ctx.Err()
	case <-time.After(ringTime):
	}

	roll := p.rng.Float64()
	switch {
	case roll < 0.30:
		talkTime := time.Duration(30+p.rng.Intn(180)) * time.Second
		return telephony.Result{Outcome: domain.CallOutcomeAnswered, Duration: ringTime + talkTime}, nil
	case roll < 0.55:
		return telephony.Result{Outcome: domain.CallOutcomeNoAnswer, Duration: ringTime}, nil
	case roll < 0.70:
		return telephony.Result{Outcome: domain.CallOutcomeBusy, Duration: ringTime}, nil
	case roll < 0.90:
		return telephony.Result{Outcome: domain.CallOutcomeVoicemail, Duration: ringTime}, nil
	default:
		return telephony.Result{Outcome: domain.CallOutcomeFailed, Duration: ringTime, Error: "simulated gateway failure"}, nil
	}
}
