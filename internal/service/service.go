package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/sabbour/aks-autoinstrumentation-sample/internal/config"
	"github.com/sabbour/aks-autoinstrumentation-sample/internal/outbound"
	"github.com/sabbour/aks-autoinstrumentation-sample/internal/router"
	"github.com/sabbour/aks-autoinstrumentation-sample/internal/stores"
	"github.com/sabbour/aks-autoinstrumentation-sample/telemetry"
)

// Service owns the store registry, the demo HTTP listener and the optional admin listener.
type Service struct {
	cfg       *config.Config
	logger    zerolog.Logger
	collector telemetry.Collector

	stores *stores.Registry
	server *httpServer
	admin  *adminServer
}

// Option configures the service during construction.
type Option func(*settings)

type settings struct {
	factories map[stores.Kind]stores.Factory
	client    outbound.Doer
	collector telemetry.Collector
	gatherer  prometheus.Gatherer
}

// WithStoreFactories replaces the backing-store factories.
func WithStoreFactories(factories map[stores.Kind]stores.Factory) Option {
	return func(s *settings) {
		s.factories = factories
	}
}

// WithHTTPClient sets the client used for outbound demo requests.
func WithHTTPClient(client outbound.Doer) Option {
	return func(s *settings) {
		s.client = client
	}
}

// WithTelemetry installs a collector and the gatherer served on /metrics.
func WithTelemetry(collector telemetry.Collector, gatherer prometheus.Gatherer) Option {
	return func(s *settings) {
		if collector != nil {
			s.collector = collector
		}
		if gatherer != nil {
			s.gatherer = gatherer
		}
	}
}

// New connects every enabled store and then opens the listeners. Any store that cannot be
// reached aborts construction.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts ...Option) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config must not be nil")
	}
	set := settings{collector: telemetry.Noop(), gatherer: prometheus.DefaultGatherer}
	for _, opt := range opts {
		opt(&set)
	}

	registry, err := stores.Bootstrap(ctx, cfg, set.factories, logger.With().Str("component", "stores").Logger())
	if err != nil {
		return nil, err
	}
	for _, kind := range registry.Kinds() {
		set.collector.SetStoreUp(string(kind), true)
	}

	caller := outbound.NewCaller(set.client, logger.With().Str("component", "outbound").Logger(), set.collector)
	handlers := router.NewHandlers(registry, caller, cfg.Outbound, cfg.Mongo)
	rt := router.New(handlers.Routes(),
		router.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
		router.WithCollector(set.collector),
	)
	httpLogger := logger.With().Str("component", "http").Logger()
	handler := router.Chain(rt, router.RequestID(), router.Logging(httpLogger), router.Recovery())

	svc := &Service{cfg: cfg, logger: logger, collector: set.collector, stores: registry}
	svc.server, err = newHTTPServer(cfg.Server, handler, httpLogger)
	if err != nil {
		svc.Close()
		return nil, err
	}
	if cfg.Telemetry.Enabled() {
		adminLogger := logger.With().Str("component", "admin").Logger()
		svc.admin, err = newAdminServer(cfg.Telemetry.Listen, registry, set.gatherer, set.collector, adminLogger)
		if err != nil {
			svc.Close()
			return nil, err
		}
	}
	return svc, nil
}

// Addr returns the bound address of the demo listener.
func (s *Service) Addr() string {
	if s == nil {
		return ""
	}
	return s.server.addr()
}

// AdminAddr returns the bound address of the admin listener, if enabled.
func (s *Service) AdminAddr() string {
	if s == nil || s.admin == nil {
		return ""
	}
	return s.admin.addr()
}

// Run serves demo requests until the context is cancelled, then shuts down gracefully.
func (s *Service) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.serve()
	}()
	s.logger.Info().Str("listen", s.Addr()).Strs("stores", kindNames(s.stores.Kinds())).Msg("server started")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	wait := s.cfg.Server.ShutdownWait.Duration
	if wait <= 0 {
		wait = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	if err := s.server.shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

// Close releases listeners and store handles.
func (s *Service) Close() error {
	if s == nil {
		return nil
	}
	s.server.close()
	s.admin.close()
	if err := s.stores.Close(); err != nil {
		s.logger.Error().Err(err).Msg("close stores")
		return err
	}
	return nil
}

// Check connects and pings every enabled store, then releases them.
func Check(ctx context.Context, cfg *config.Config, logger zerolog.Logger, factories map[stores.Kind]stores.Factory) error {
	registry, err := stores.Bootstrap(ctx, cfg, factories, logger)
	if err != nil {
		return err
	}
	defer registry.Close()
	var errs []error
	for kind, err := range registry.Ping(ctx) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", kind, err))
		}
	}
	return errors.Join(errs...)
}

func kindNames(kinds []stores.Kind) []string {
	names := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		names = append(names, string(kind))
	}
	return names
}
