package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acme/predictive-dialer/internal/domain"
	"github.com/acme/predictive-dialer/internal/repository"
)

// MetricsStore is the in-memory repository.MetricsStore. The mutex serializes
// read-modify-write so concurrent outcome events never lose a smoothing step.
type MetricsStore struct {
	mu          sync.Mutex
	metrics     map[uuid.UUID]domain.DialerMetrics
	multipliers map[uuid.UUID]float64
}

// NewMetricsStore constructs an empty store.
func NewMetricsStore() *MetricsStore {
	return &MetricsStore{
		metrics:     make(map[uuid.UUID]domain.DialerMetrics),
		multipliers: make(map[uuid.UUID]float64),
	}
}

// Init seeds metrics and multiplier for a campaign.
func (s *MetricsStore) Init(ctx context.Context, campaignID uuid.UUID, metrics domain.DialerMetrics, multiplier float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics[campaignID] = metrics
	s.multipliers[campaignID] = multiplier
	return nil
}

// Get reads the current snapshot.
func (s *MetricsStore) Get(ctx context.Context, campaignID uuid.UUID) (domain.DialerMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.metrics[campaignID]
	if !ok {
		return domain.DialerMetrics{}, repository.ErrNotFound
	}
	return m, nil
}

// Apply folds the sample in atomically and returns the smoothed result.
func (s *MetricsStore) Apply(ctx context.Context, campaignID uuid.UUID, sample domain.MetricsSample, historyWeight float64) (domain.DialerMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.metrics[campaignID]
	if !ok {
		current = domain.DefaultMetrics()
	}
	next := current.Smooth(sample, historyWeight)
	s.metrics[campaignID] = next
	return next, nil
}

// Multiplier reads the pacing multiplier.
func (s *MetricsStore) Multiplier(ctx context.Context, campaignID uuid.UUID) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.multipliers[campaignID]
	if !ok {
		return 0, repository.ErrNotFound
	}
	return m, nil
}

// SetMultiplier stores the pacing multiplier.
func (s *MetricsStore) SetMultiplier(ctx context.Context, campaignID uuid.UUID, multiplier float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.multipliers[campaignID] = multiplier
	return nil
}

// Discard drops the campaign's state.
func (s *MetricsStore) Discard(ctx context.Context, campaignID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.metrics, campaignID)
	delete(s.multipliers, campaignID)
	return nil
}

// PresenceRegistry is the in-memory repository.PresenceRegistry.
type PresenceRegistry struct {
	mu     sync.Mutex
	ttl    time.Duration
	agents map[uuid.UUID]map[string]time.Time // expiry per agent
}

// NewPresenceRegistry constructs the registry.
func NewPresenceRegistry(ttl time.Duration) *PresenceRegistry {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &PresenceRegistry{ttl: ttl, agents: make(map[uuid.UUID]map[string]time.Time)}
}

// Heartbeat marks the agent available until the TTL elapses.
func (p *PresenceRegistry) Heartbeat(ctx context.Context, campaignID uuid.UUID, agentID string, now time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	pool, ok := p.agents[campaignID]
	if !ok {
		pool = make(map[string]time.Time)
		p.agents[campaignID] = pool
	}
	pool[agentID] = now.Add(p.ttl)
	return nil
}

// MarkBusy removes the agent from the available pool.
func (p *PresenceRegistry) MarkBusy(ctx context.Context, campaignID uuid.UUID, agentID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pool, ok := p.agents[campaignID]; ok {
		delete(pool, agentID)
	}
	return nil
}

// AvailableCount prunes expired heartbeats and counts live agents.
func (p *PresenceRegistry) AvailableCount(ctx context.Context, campaignID uuid.UUID, now time.Time) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pool, ok := p.agents[campaignID]
	if !ok {
		return 0, nil
	}
	count := 0
	for agent, expiry := range pool {
		if expiry.Before(now) {
			delete(pool, agent)
			continue
		}
		count++
	}
	return count, nil
}

// DialerConfigRepository is the in-memory repository.DialerConfigRepository.
type DialerConfigRepository struct {
	mu      sync.Mutex
	configs map[uuid.UUID]*domain.DialerConfig
}

// NewDialerConfigRepository constructs an empty repository.
func NewDialerConfigRepository() *DialerConfigRepository {
	return &DialerConfigRepository{configs: make(map[uuid.UUID]*domain.DialerConfig)}
}

// Upsert inserts or replaces the config.
func (r *DialerConfigRepository) Upsert(ctx context.Context, cfg *domain.DialerConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *cfg
	if existing, ok := r.configs[cfg.CampaignID]; ok {
		clone.CreatedAt = existing.CreatedAt
	} else if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now().UTC()
	}
	clone.UpdatedAt = time.Now().UTC()
	r.configs[cfg.CampaignID] = &clone
	return nil
}

// Get retrieves the config for a campaign.
func (r *DialerConfigRepository) Get(ctx context.Context, campaignID uuid.UUID) (*domain.DialerConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.configs[campaignID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *cfg
	return &clone, nil
}

// SetActive flips the active flag.
func (r *DialerConfigRepository) SetActive(ctx context.Context, campaignID uuid.UUID, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.configs[campaignID]
	if !ok {
		return repository.ErrNotFound
	}
	cfg.IsActive = active
	cfg.UpdatedAt = time.Now().UTC()
	return nil
}

// ListActive returns active configs in creation order.
func (r *DialerConfigRepository) ListActive(ctx context.Context, limit int) ([]*domain.DialerConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.DialerConfig
	for _, cfg := range r.configs {
		if cfg.IsActive {
			clone := *cfg
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AttemptStore is the in-memory repository.AttemptStore.
type AttemptStore struct {
	mu       sync.Mutex
	attempts []domain.DialAttempt
}

// NewAttemptStore constructs an empty store.
func NewAttemptStore() *AttemptStore {
	return &AttemptStore{}
}

// Append records one attempt.
func (s *AttemptStore) Append(ctx context.Context, attempt domain.DialAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, attempt)
	return nil
}

// ListByCampaign returns attempts for a campaign, newest last. Paging state
// is not supported in memory; a nil state is always returned.
func (s *AttemptStore) ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit int, pagingState []byte) ([]domain.DialAttempt, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.DialAttempt
	for _, a := range s.attempts {
		if a.CampaignID == campaignID {
			out = append(out, a)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil, nil
}
