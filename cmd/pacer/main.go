package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/acme/predictive-dialer/internal/app"
	"github.com/acme/predictive-dialer/internal/service/pacing"
	"github.com/acme/predictive-dialer/internal/telemetry"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath := flag.String("config", getEnv("CONFIG_FILE", "configs/config.yaml"), "path to configuration file")
	flag.Parse()

	container, err := app.Build(ctx, *configPath)
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer container.Close(context.Background())

	shutdown, err := telemetry.Setup(ctx, container.Config.Telemetry, container.Config.App.Name+"-pacer")
	if err != nil {
		log.Fatalf("failed to initialize telemetry: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	if err := container.EnsureTopics(ctx); err != nil {
		log.Fatalf("failed to ensure kafka topics: %v", err)
	}

	repos := container.Repositories()
	pacingCfg := container.Config.Pacing.Normalize()

	runner := pacing.NewRunner(
		repos.Configs,
		repos.Metrics,
		repos.Presence,
		container.Services().Coordinator,
		container.Dispatchers().DialDispatcher,
		pacing.Policy{
			TickInterval:     pacingCfg.TickInterval,
			ConnectRateFloor: pacingCfg.ConnectRateFloor,
			ThrottleFactor:   pacingCfg.ThrottleFactor,
			SmoothingWeight:  pacingCfg.SmoothingWeight,
		},
		pacingCfg.ConfigFetchLimit,
		pacing.RealClock(),
		container.Logger,
	)
	if err := runner.Run(ctx); err != nil {
		log.Fatalf("pacer terminated: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
