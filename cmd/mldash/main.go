package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"batchml/internal/api"
	"batchml/internal/cfg"
	"batchml/internal/common"
	"batchml/internal/metrics"
	"batchml/internal/ml"
	"batchml/internal/storage"

	"github.com/alexflint/go-arg"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type args struct {
	Config string `arg:"--config" help:"YAML configuration file (overrides CONFIG_FILE)"`
	Port   int    `arg:"--port" help:"HTTP port (overrides configuration)"`
	Pretty bool   `arg:"--pretty" help:"human readable console logs instead of JSON"`
}

func (args) Description() string {
	return "Model workbench service: upload datasets, train and compare regression models."
}

func main() {
	var a args
	arg.MustParse(&a)

	if a.Config != "" {
		os.Setenv(common.EnvConfigFile, a.Config)
	}

	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	if a.Port != 0 {
		c.Port = a.Port
	}

	zerolog.SetGlobalLevel(c.Level())
	if a.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	srv, cleanup := initializeServer(c)
	defer cleanup()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	waitForShutdown(srv, errCh)
}

// initializeServer opens the stores and wires the service.
func initializeServer(c cfg.Settings) (*api.Server, func()) {
	if err := os.MkdirAll(c.DataPath, 0o755); err != nil {
		log.Fatal().Err(err).Str("path", c.DataPath).Msg("failed to create data directory")
	}
	datasets, err := storage.NewDatasetStore(c.DataPath)
	if err != nil {
		log.Fatal().Err(err).Msg("dataset store initialization failed")
	}

	deps := api.Deps{
		Datasets: datasets,
		Registry: ml.NewRegistry(),
	}

	var storeOpts []storage.StoreOption
	if c.MetricsEnabled {
		mw := metrics.NewWrapper(metrics.New())
		deps.Metrics = mw
		deps.Gatherer = prometheus.DefaultGatherer
		storeOpts = append(storeOpts, storage.WithStoreMetrics(mw))
	}
	deps.Models = storage.NewModelStore(c.ModelStorePath, storeOpts...)

	srv, err := api.NewServer(api.NewConfig(c), deps)
	if err != nil {
		datasets.Close()
		log.Fatal().Err(err).Msg("server initialization failed")
	}

	log.Info().
		Str("models", c.ModelStorePath).
		Str("data", c.DataPath).
		Int("batch_size", c.BatchSize).
		Bool("metrics", c.MetricsEnabled).
		Msg("Workbench configured")

	return srv, func() {
		if err := datasets.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close dataset store")
		}
	}
}

// waitForShutdown waits for a shutdown signal or a server failure and stops
// the server gracefully.
func waitForShutdown(srv *api.Server, errCh <-chan error) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("server failed")
		}
	}

	log.Info().Msg("shutting down gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("shutdown timeout, forcing exit")
	}
}
