package telephony

import (
	"context"
	"time"

	"github.com/acme/predictive-dialer/internal/domain"
	"github.com/acme/predictive-dialer/internal/queue"
)

// Result captures the outcome of a telephony attempt. The core has no
// opinion on call audio or signaling; the provider reduces everything to a
// disposition and a duration.
type Result struct {
	Outcome  domain.CallOutcome
	Duration time.Duration
	Error    string
}

// Provider abstracts the telephony integration.
type Provider interface {
	PlaceCall(ctx context.Context, msg queue.DialRequestMessage) (Result, error)
}
