package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/acme/predictive-dialer/internal/domain"
	"github.com/acme/predictive-dialer/internal/repository"
)

// MetricsStore keeps per-campaign DialerMetrics in a Redis hash. The
// smoothing step runs inside a Lua script so concurrent outcome events can
// never interleave a read-modify-write and lose an update.
type MetricsStore struct {
	client *redis.Client
}

// NewMetricsStore constructs the store.
func NewMetricsStore(client *redis.Client) *MetricsStore {
	return &MetricsStore{client: client}
}

// applyScript folds a sample into the stored metrics. ARGV[1] is the history
// weight; ARGV[2..6] are available_agents, active_calls, avg_call_time,
// connection_rate, abandon_rate, each empty when the sample omits the field.
// Counts are replaced, rates and durations smoothed; rates clamp to [0,1].
var applyScript = redis.NewScript(`
local key = KEYS[1]
local w = tonumber(ARGV[1])

local function fetch(field, default)
  local v = redis.call('HGET', key, field)
  if v then return tonumber(v) end
  return default
end

local agents = fetch('available_agents', 0)
local active = fetch('active_calls', 0)
local act = fetch('avg_call_time', 120)
local conn = fetch('connection_rate', 0.3)
local aband = fetch('abandon_rate', 0)

if ARGV[2] ~= '' then agents = tonumber(ARGV[2]) end
if ARGV[3] ~= '' then active = tonumber(ARGV[3]) end
if ARGV[4] ~= '' then act = w * act + (1 - w) * tonumber(ARGV[4]) end
if ARGV[5] ~= '' then
  conn = w * conn + (1 - w) * tonumber(ARGV[5])
  if conn < 0 then conn = 0 elseif conn > 1 then conn = 1 end
end
if ARGV[6] ~= '' then
  aband = w * aband + (1 - w) * tonumber(ARGV[6])
  if aband < 0 then aband = 0 elseif aband > 1 then aband = 1 end
end

redis.call('HSET', key,
  'available_agents', agents,
  'active_calls', active,
  'avg_call_time', act,
  'connection_rate', conn,
  'abandon_rate', aband)

return {tostring(agents), tostring(active), tostring(act), tostring(conn), tostring(aband)}
`)

// Init seeds metrics and multiplier for a campaign whose dialer is starting.
func (s *MetricsStore) Init(ctx context.Context, campaignID uuid.UUID, metrics domain.DialerMetrics, multiplier float64) error {
	key := s.key(campaignID)
	if err := s.client.HSet(ctx, key,
		"available_agents", metrics.AvailableAgents,
		"active_calls", metrics.ActiveCalls,
		"avg_call_time", metrics.AverageCallTime,
		"connection_rate", metrics.ConnectionRate,
		"abandon_rate", metrics.AbandonRate,
		"multiplier", multiplier,
	).Err(); err != nil {
		return fmt.Errorf("metrics store: init: %w", err)
	}
	return nil
}

// Get reads the current metrics snapshot.
func (s *MetricsStore) Get(ctx context.Context, campaignID uuid.UUID) (domain.DialerMetrics, error) {
	values, err := s.client.HGetAll(ctx, s.key(campaignID)).Result()
	if err != nil {
		return domain.DialerMetrics{}, fmt.Errorf("metrics store: get: %w", err)
	}
	if len(values) == 0 {
		return domain.DialerMetrics{}, repository.ErrNotFound
	}
	return parseMetrics(values)
}

// Apply folds the sample into the stored metrics atomically.
func (s *MetricsStore) Apply(ctx context.Context, campaignID uuid.UUID, sample domain.MetricsSample, historyWeight float64) (domain.DialerMetrics, error) {
	args := []any{
		formatFloat(historyWeight),
		formatOptInt(sample.AvailableAgents),
		formatOptInt(sample.ActiveCalls),
		formatOptFloat(sample.AverageCallTime),
		formatOptFloat(sample.ConnectionRate),
		formatOptFloat(sample.AbandonRate),
	}

	raw, err := applyScript.Run(ctx, s.client, []string{s.key(campaignID)}, args...).Slice()
	if err != nil {
		return domain.DialerMetrics{}, fmt.Errorf("metrics store: apply: %w", err)
	}
	if len(raw) != 5 {
		return domain.DialerMetrics{}, fmt.Errorf("metrics store: unexpected reply length %d", len(raw))
	}

	var out domain.DialerMetrics
	agents, err := toFloat(raw[0])
	if err != nil {
		return out, fmt.Errorf("metrics store: parse agents: %w", err)
	}
	active, err := toFloat(raw[1])
	if err != nil {
		return out, fmt.Errorf("metrics store: parse active: %w", err)
	}
	out.AvailableAgents = int(agents)
	out.ActiveCalls = int(active)
	if out.AverageCallTime, err = toFloat(raw[2]); err != nil {
		return out, fmt.Errorf("metrics store: parse avg call time: %w", err)
	}
	if out.ConnectionRate, err = toFloat(raw[3]); err != nil {
		return out, fmt.Errorf("metrics store: parse connection rate: %w", err)
	}
	if out.AbandonRate, err = toFloat(raw[4]); err != nil {
		return out, fmt.Errorf("metrics store: parse abandon rate: %w", err)
	}
	return out, nil
}

// Multiplier reads the persisted pacing multiplier.
func (s *MetricsStore) Multiplier(ctx context.Context, campaignID uuid.UUID) (float64, error) {
	v, err := s.client.HGet(ctx, s.key(campaignID), "multiplier").Result()
	if err == redis.Nil {
		return 0, repository.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("metrics store: multiplier: %w", err)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("metrics store: parse multiplier: %w", err)
	}
	return f, nil
}

// SetMultiplier persists the pacing multiplier.
func (s *MetricsStore) SetMultiplier(ctx context.Context, campaignID uuid.UUID, multiplier float64) error {
	if err := s.client.HSet(ctx, s.key(campaignID), "multiplier", multiplier).Err(); err != nil {
		return fmt.Errorf("metrics store: set multiplier: %w", err)
	}
	return nil
}

// Discard drops the campaign's metrics when its dialer stops.
func (s *MetricsStore) Discard(ctx context.Context, campaignID uuid.UUID) error {
	if err := s.client.Del(ctx, s.key(campaignID)).Err(); err != nil {
		return fmt.Errorf("metrics store: discard: %w", err)
	}
	return nil
}

func (s *MetricsStore) key(campaignID uuid.UUID) string {
	return fmt.Sprintf("dialer:campaign:%s:metrics", campaignID.String())
}

func parseMetrics(values map[string]string) (domain.DialerMetrics, error) {
	var m domain.DialerMetrics
	var err error
	if m.AvailableAgents, err = parseIntField(values, "available_agents"); err != nil {
		return m, err
	}
	if m.ActiveCalls, err = parseIntField(values, "active_calls"); err != nil {
		return m, err
	}
	if m.AverageCallTime, err = parseFloatField(values, "avg_call_time"); err != nil {
		return m, err
	}
	if m.ConnectionRate, err = parseFloatField(values, "connection_rate"); err != nil {
		return m, err
	}
	if m.AbandonRate, err = parseFloatField(values, "abandon_rate"); err != nil {
		return m, err
	}
	return m, nil
}

func parseIntField(values map[string]string, field string) (int, error) {
	v, ok := values[field]
	if !ok {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("metrics store: parse %s: %w", field, err)
	}
	return int(f), nil
}

func parseFloatField(values map[string]string, field string) (float64, error) {
	v, ok := values[field]
	if !ok {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("metrics store: parse %s: %w", field, err)
	}
	return f, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatOptFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

func formatOptInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case string:
		return strconv.ParseFloat(t, 64)
	case int64:
		return float64(t), nil
	case float64:
		return t, nil
	default:
		return 0, fmt.Errorf("unexpected redis value type %T", v)
	}
}
