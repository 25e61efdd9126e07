package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/sabbour/aks-autoinstrumentation-sample/internal/config"
	"github.com/sabbour/aks-autoinstrumentation-sample/internal/logging"
	"github.com/sabbour/aks-autoinstrumentation-sample/internal/reload"
	"github.com/sabbour/aks-autoinstrumentation-sample/internal/service"
	"github.com/sabbour/aks-autoinstrumentation-sample/telemetry"
)

const appName = "sample-server"

func main() {
	cfgPath := flag.String("config", "", "Path to YAML configuration file")
	envFile := flag.String("env-file", "", "Path to a .env file")
	configCheck := flag.Bool("config-check", false, "Print the resolved configuration and exit")
	healthcheck := flag.Bool("healthcheck", false, "Connect to every store, ping and exit")
	flag.Parse()

	cfg, err := config.Load(*cfgPath, *envFile)
	if err != nil {
		if *configCheck {
			fmt.Fprintf(os.Stderr, "configuration invalid: %v\n", err)
			os.Exit(1)
		}
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if *configCheck {
		os.Exit(executeConfigCheck(cfg))
	}
	if *healthcheck {
		if err := executeHealthCheck(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "health check failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	collector, err := newTelemetryCollector(cfg.Telemetry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "telemetry disabled: %v\n", err)
		collector = telemetry.Noop()
	}

	if cfg.HotReload && cfg.Source != "" {
		if err := runWithHotReload(ctx, *cfgPath, *envFile, cfg, collector); err != nil && !errors.Is(err, context.Canceled) {
			log.Fatal().Err(err).Msg("service stopped")
		}
		return
	}

	logger, cleanup, err := logging.Setup(cfg.Logging, appName)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup logger")
	}
	defer cleanup()
	log.Logger = logger

	srv, err := service.New(ctx, cfg, logger, service.WithTelemetry(collector, nil))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create service")
	}
	defer srv.Close()

	if err := srv.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("service stopped with error")
	}
}

func executeConfigCheck(cfg *config.Config) int {
	out, err := yaml.Marshal(cfg.Redacted())
	if err != nil {
		fmt.Fprintf(os.Stderr, "render configuration: %v\n", err)
		return 1
	}
	if _, err := os.Stdout.Write(out); err != nil {
		return 1
	}
	fmt.Println("Configuration check completed successfully.")
	return 0
}

func executeHealthCheck(cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout()*2)
	defer cancel()
	return service.Check(ctx, cfg, zerolog.Nop(), nil)
}

func runWithHotReload(ctx context.Context, cfgPath, envFile string, initialCfg *config.Config, collector telemetry.Collector) error {
	watcher := reload.NewWatcher(initialCfg)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	cfg := initialCfg
	for {
		logger, cleanup, err := logging.Setup(cfg.Logging, appName)
		if err != nil {
			return err
		}
		log.Logger = logger

		srv, err := service.New(ctx, cfg, logger, service.WithTelemetry(collector, nil))
		if err != nil {
			cleanup()
			return err
		}

		runCtx, cancelRun := context.WithCancel(ctx)
		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Run(runCtx)
		}()

		var changed []string
	loop:
		for {
			select {
			case <-ctx.Done():
				cancelRun()
				err := <-errCh
				srv.Close()
				cleanup()
				if err != nil {
					return err
				}
				return ctx.Err()
			case err := <-errCh:
				cancelRun()
				srv.Close()
				cleanup()
				return err
			case <-ticker.C:
				changes := watcher.Changed()
				if len(changes) == 0 {
					continue
				}
				newCfg, err := config.Load(cfgPath, envFile)
				if err != nil {
					logger.Error().Err(err).Strs("files", changes).Msg("failed to reload configuration")
					continue
				}
				logger.Info().Strs("files", changes).Msg("configuration changed, restarting")
				cancelRun()
				if err := <-errCh; err != nil {
					logger.Error().Err(err).Msg("service stopped during reload")
				}
				srv.Close()
				cleanup()
				watcher.Update(newCfg)
				changed = changes
				cfg = newCfg
				break loop
			}
		}

		for _, file := range changed {
			collector.IncHotReload(file)
		}
	}
}

func newTelemetryCollector(cfg config.TelemetryConfig) (telemetry.Collector, error) {
	if !cfg.Enabled() {
		return telemetry.Noop(), nil
	}
	return telemetry.NewPrometheusCollector(nil)
}
