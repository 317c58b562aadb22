package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// PresenceRegistry tracks available agents per campaign in a ZSET scored by
// heartbeat expiry. An agent stays counted while its heartbeat is fresh;
// marking busy removes it until the next heartbeat.
type PresenceRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

// NewPresenceRegistry constructs the registry.
func NewPresenceRegistry(client *redis.Client, ttl time.Duration) *PresenceRegistry {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &PresenceRegistry{client: client, ttl: ttl}
}

// Heartbeat marks the agent available until the TTL elapses.
func (p *PresenceRegistry) Heartbeat(ctx context.Context, campaignID uuid.UUID, agentID string, now time.Time) error {
	expiry := float64(now.Add(p.ttl).UnixMilli())
	if err := p.client.ZAdd(ctx, p.key(campaignID), redis.Z{Score: expiry, Member: agentID}).Err(); err != nil {
		return fmt.Errorf("presence: heartbeat: %w", err)
	}
	return nil
}

// MarkBusy removes the agent from the available pool.
func (p *PresenceRegistry) MarkBusy(ctx context.Context, campaignID uuid.UUID, agentID string) error {
	if err := p.client.ZRem(ctx, p.key(campaignID), agentID).Err(); err != nil {
		return fmt.Errorf("presence: mark busy: %w", err)
	}
	return nil
}

// AvailableCount prunes expired heartbeats then counts live agents.
func (p *PresenceRegistry) AvailableCount(ctx context.Context, campaignID uuid.UUID, now time.Time) (int, error) {
	key := p.key(campaignID)
	cutoff := fmt.Sprintf("%d", now.UnixMilli())

	if err := p.client.ZRemRangeByScore(ctx, key, "-inf", "("+cutoff).Err(); err != nil {
		return 0, fmt.Errorf("presence: prune: %w", err)
	}
	count, err := p.client.ZCount(ctx, key, cutoff, "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("presence: count: %w", err)
	}
	return int(count), nil
}

func (p *PresenceRegistry) key(campaignID uuid.UUID) string {
	return fmt.Sprintf("dialer:campaign:%s:agents", campaignID.String())
}
