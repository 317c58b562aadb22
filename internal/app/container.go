package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/acme/predictive-dialer/internal/config"
	"github.com/acme/predictive-dialer/internal/infra/db"
	"github.com/acme/predictive-dialer/internal/infra/redis"
	"github.com/acme/predictive-dialer/internal/queue"
	"github.com/acme/predictive-dialer/internal/repository"
	pgrepo "github.com/acme/predictive-dialer/internal/repository/postgres"
	redisrepo "github.com/acme/predictive-dialer/internal/repository/redis"
	scyllarepo "github.com/acme/predictive-dialer/internal/repository/scylla"
	"github.com/acme/predictive-dialer/internal/service/concurrency"
	coordsvc "github.com/acme/predictive-dialer/internal/service/coordinator"
	dialersvc "github.com/acme/predictive-dialer/internal/service/dialer"
	telephonySvc "github.com/acme/predictive-dialer/internal/telephony"
	telephonyMock "github.com/acme/predictive-dialer/internal/telephony/mock"
	"github.com/acme/predictive-dialer/pkg/logger"
)

// Container wires together shared infrastructure dependencies.
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	Postgres *db.Postgres
	Scylla   *db.Scylla
	Redis    *redis.Client
	Kafka    *queue.Kafka

	// lazily initialised components
	components struct {
		once         sync.Once
		repositories *repositories
		services     *services
		dispatchers  *dispatchers
		providers    *providers
		limiters     *limiters
	}
}

type repositories struct {
	Contacts repository.ContactStore
	Queue    repository.DialQueueRepository
	Configs  repository.DialerConfigRepository
	Metrics  repository.MetricsStore
	Presence repository.PresenceRegistry
	Attempts repository.AttemptStore
}

type services struct {
	Dialer      *dialersvc.Service
	Coordinator *coordsvc.Service
}

type dispatchers struct {
	DialDispatcher   *queue.DialDispatcher
	OutcomePublisher *queue.OutcomePublisher
}

type providers struct {
	Telephony telephonySvc.Provider
}

type limiters struct {
	Concurrency *concurrency.Limiter
}

// Build constructs a container for the given configuration path.
func Build(ctx context.Context, configPath string) (*Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	lg, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, err
	}

	pg, err := db.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("bootstrap postgres: %w", err)
	}

	scylla, err := db.NewScylla(cfg.Scylla)
	if err != nil {
		return nil, fmt.Errorf("bootstrap scylla: %w", err)
	}

	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("bootstrap redis: %w", err)
	}

	kafka, err := queue.NewKafka(cfg.Kafka)
	if err != nil {
		return nil, fmt.Errorf("bootstrap kafka: %w", err)
	}

	container := &Container{
		Config:   cfg,
		Logger:   lg,
		Postgres: pg,
		Scylla:   scylla,
		Redis:    redisClient,
		Kafka:    kafka,
	}

	return container, nil
}

func (c *Container) initComponents() {
	c.components.once.Do(func() {
		repos := &repositories{
			Contacts: pgrepo.NewContactStore(c.Postgres.DB()),
			Queue:    pgrepo.NewDialQueueRepository(c.Postgres.DB()),
			Configs:  pgrepo.NewDialerConfigRepository(c.Postgres.DB()),
			Metrics:  redisrepo.NewMetricsStore(c.Redis.Inner()),
			Presence: redisrepo.NewPresenceRegistry(c.Redis.Inner(), c.Config.Presence.HeartbeatTTL),
			Attempts: scyllarepo.NewAttemptStore(c.Scylla.Session()),
		}

		disp := &dispatchers{
			DialDispatcher:   queue.NewDialDispatcher(c.Kafka, c.Config.Kafka.DialTopic),
			OutcomePublisher: queue.NewOutcomePublisher(c.Kafka, c.Config.Kafka.OutcomeTopic),
		}

		services := &services{
			Dialer: dialersvc.NewService(
				repos.Configs,
				repos.Metrics,
				repos.Queue,
				c.Config.Pacing,
			),
			Coordinator: coordsvc.New(
				repos.Contacts,
				repos.Queue,
				repos.Configs,
				repos.Metrics,
				repos.Attempts,
				c.Config.Pacing,
				c.Logger,
			),
		}

		providers := &providers{
			Telephony: telephonyMock.NewProvider(c.Config.Gateway),
		}

		limiters := &limiters{
			Concurrency: concurrency.NewLimiter(c.Redis.Inner(), c.Config.Throttle.DefaultPerCampaign, c.Config.Throttle.SlotTTL),
		}

		c.components.repositories = repos
		c.components.dispatchers = disp
		c.components.services = services
		c.components.providers = providers
		c.components.limiters = limiters
	})
}

// Repositories exposes initialized repositories.
func (c *Container) Repositories() *repositories {
	c.initComponents()
	return c.components.repositories
}

// Services exposes initialized services.
func (c *Container) Services() *services {
	c.initComponents()
	return c.components.services
}

// Dispatchers exposes Kafka dispatchers.
func (c *Container) Dispatchers() *dispatchers {
	c.initComponents()
	return c.components.dispatchers
}

// Providers exposes external providers.
func (c *Container) Providers() *providers {
	c.initComponents()
	return c.components.providers
}

// Limiters exposes limiter utilities.
func (c *Container) Limiters() *limiters {
	c.initComponents()
	return c.components.limiters
}

// Close releases all held resources.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if d := c.components.dispatchers; d != nil {
		if d.DialDispatcher != nil {
			if err := d.DialDispatcher.Close(); err != nil {
				errs = append(errs, fmt.Errorf("dial dispatcher close: %w", err))
			}
		}
		if d.OutcomePublisher != nil {
			if err := d.OutcomePublisher.Close(); err != nil {
				errs = append(errs, fmt.Errorf("outcome publisher close: %w", err))
			}
		}
	}
	if c.Kafka != nil {
		if err := c.Kafka.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka close: %w", err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if c.Scylla != nil {
		if err := c.Scylla.Close(); err != nil {
			errs = append(errs, fmt.Errorf("scylla close: %w", err))
		}
	}
	if c.Postgres != nil {
		if err := c.Postgres.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres close: %w", err))
		}
	}
	if c.Logger != nil {
		c.Logger.Sync()
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// EnsureTopics ensures required Kafka topics exist.
func (c *Container) EnsureTopics(ctx context.Context) error {
	topics := []string{c.Config.Kafka.DialTopic, c.Config.Kafka.OutcomeTopic}
	return c.Kafka.EnsureTopics(ctx, topics, 48, 1)
}
