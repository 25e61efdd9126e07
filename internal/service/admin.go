package service

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sabbour/aks-autoinstrumentation-sample/internal/stores"
	"github.com/sabbour/aks-autoinstrumentation-sample/telemetry"
)

const healthPingTimeout = 2 * time.Second

type adminServer struct {
	logger    zerolog.Logger
	stores    *stores.Registry
	collector telemetry.Collector
	server    *http.Server
	ln        net.Listener
}

type healthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Stores    map[string]string `json:"stores"`
}

func newAdminServer(listen string, registry *stores.Registry, gatherer prometheus.Gatherer, collector telemetry.Collector, logger zerolog.Logger) (*adminServer, error) {
	server := &adminServer{logger: logger, stores: registry, collector: collector}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", server.handleHealth)

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	server.server = srv
	server.ln = ln

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("admin server stopped")
		}
	}()

	logger.Info().Str("listen", ln.Addr().String()).Msg("admin server started")
	return server, nil
}

func (s *adminServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
	defer cancel()

	resp := healthResponse{Status: "ok", Timestamp: time.Now().UTC(), Stores: map[string]string{}}
	for kind, err := range s.stores.Ping(ctx) {
		s.collector.SetStoreUp(string(kind), err == nil)
		if err != nil {
			resp.Status = "degraded"
			resp.Stores[string(kind)] = err.Error()
			continue
		}
		resp.Stores[string(kind)] = "ok"
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error().Err(err).Msg("encode health response")
	}
}

func (s *adminServer) addr() string {
	if s == nil || s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *adminServer) close() {
	if s == nil || s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil && err != context.Canceled {
		s.logger.Error().Err(err).Msg("shutdown admin server")
	}
}
