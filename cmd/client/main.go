package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/sabbour/aks-autoinstrumentation-sample/internal/config"
	"github.com/sabbour/aks-autoinstrumentation-sample/internal/logging"
	"github.com/sabbour/aks-autoinstrumentation-sample/internal/poller"
	"github.com/sabbour/aks-autoinstrumentation-sample/telemetry"
)

func main() {
	cfgPath := flag.String("config", "", "Path to YAML configuration file")
	envFile := flag.String("env-file", "", "Path to a .env file")
	once := flag.Bool("once", false, "Run a single poll round and exit")
	flag.Parse()

	cfg, err := config.Load(*cfgPath, *envFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger, cleanup, err := logging.Setup(cfg.Logging, "sample-client")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup logger")
	}
	defer cleanup()
	log.Logger = logger

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	p := poller.New(cfg.Client, &http.Client{}, logger.With().Str("component", "poller").Logger(), telemetry.Noop())
	if *once {
		for _, res := range p.RunOnce(ctx) {
			if res.Err != nil {
				cleanup()
				os.Exit(1)
			}
		}
		return
	}
	if err := p.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("poller stopped")
	}
}
