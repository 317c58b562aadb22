package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the full configuration surface for the application.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Scylla    ScyllaConfig    `mapstructure:"scylla"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Pacing    PacingConfig    `mapstructure:"pacing"`
	Locking   LockingConfig   `mapstructure:"locking"`
	Presence  PresenceConfig  `mapstructure:"presence"`
	Throttle  ThrottleConfig  `mapstructure:"throttle"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
}

type AppConfig struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

type ScyllaConfig struct {
	Hosts       []string      `mapstructure:"hosts"`
	Port        int           `mapstructure:"port"`
	Keyspace    string        `mapstructure:"keyspace"`
	Consistency string        `mapstructure:"consistency"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type KafkaConfig struct {
	Brokers         []string      `mapstructure:"brokers"`
	ClientID        string        `mapstructure:"client_id"`
	DialTopic       string        `mapstructure:"dial_topic"`
	OutcomeTopic    string        `mapstructure:"outcome_topic"`
	ConsumerGroupID string        `mapstructure:"consumer_group_id"`
	CommitInterval  time.Duration `mapstructure:"commit_interval"`
}

type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

type TelemetryConfig struct {
	Endpoint        string        `mapstructure:"endpoint"`
	ServiceName     string        `mapstructure:"service_name"`
	SampleRatio     float64       `mapstructure:"sample_ratio"`
	TracingEnabled  bool          `mapstructure:"tracing_enabled"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// PacingConfig holds the pacing policy knobs. The throttle factor and
// connect-rate floor are policy parameters rather than constants; the
// defaults match the values the loop was originally run with.
type PacingConfig struct {
	TickInterval     time.Duration `mapstructure:"tick_interval"`
	ConnectRateFloor float64       `mapstructure:"connect_rate_floor"`
	ThrottleFactor   float64       `mapstructure:"throttle_factor"`
	SmoothingWeight  float64       `mapstructure:"smoothing_weight"`
	MaxQueueBatch    int           `mapstructure:"max_queue_batch"`
	NextContactRetry int           `mapstructure:"next_contact_retry"`
	ConfigFetchLimit int           `mapstructure:"config_fetch_limit"`
}

// Normalize applies defaults for unset pacing fields.
func (p PacingConfig) Normalize() PacingConfig {
	if p.TickInterval <= 0 {
		p.TickInterval = 10 * time.Second
	}
	if p.ConnectRateFloor <= 0 {
		p.ConnectRateFloor = 0.1
	}
	if p.ThrottleFactor <= 0 || p.ThrottleFactor >= 1 {
		p.ThrottleFactor = 0.8
	}
	if p.SmoothingWeight <= 0 || p.SmoothingWeight >= 1 {
		p.SmoothingWeight = 0.85
	}
	if p.MaxQueueBatch <= 0 {
		p.MaxQueueBatch = 100
	}
	if p.NextContactRetry <= 0 {
		p.NextContactRetry = 5
	}
	if p.ConfigFetchLimit <= 0 {
		p.ConfigFetchLimit = 100
	}
	return p
}

type LockingConfig struct {
	LockTimeout   time.Duration `mapstructure:"lock_timeout"`
	DialTimeout   time.Duration `mapstructure:"dial_timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// Normalize applies defaults for unset locking fields.
func (l LockingConfig) Normalize() LockingConfig {
	if l.LockTimeout <= 0 {
		l.LockTimeout = 90 * time.Second
	}
	if l.DialTimeout <= 0 {
		l.DialTimeout = 5 * time.Minute
	}
	if l.SweepInterval <= 0 {
		l.SweepInterval = 30 * time.Second
	}
	return l
}

type PresenceConfig struct {
	HeartbeatTTL time.Duration `mapstructure:"heartbeat_ttl"`
}

type ThrottleConfig struct {
	DefaultPerCampaign int           `mapstructure:"default_per_campaign"`
	SlotTTL            time.Duration `mapstructure:"slot_ttl"`
}

type GatewayConfig struct {
	ProviderName   string        `mapstructure:"provider_name"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// Load reads configuration from file and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvPrefix("DIALER")
	v.SetEnvKeyReplacer(NewEnvReplacer())

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file: %w", err)
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal config: %w", err)
	}

	cfg.Pacing = cfg.Pacing.Normalize()
	cfg.Locking = cfg.Locking.Normalize()

	return cfg, nil
}

// NewEnvReplacer standardizes environment variable names.
func NewEnvReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_", "-", "_")
}
