package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sabbour/aks-autoinstrumentation-sample/internal/config"
)

type httpServer struct {
	logger   zerolog.Logger
	listener net.Listener
	server   *http.Server
	stopOnce sync.Once
}

func newHTTPServer(cfg config.ServerConfig, handler http.Handler, logger zerolog.Logger) (*httpServer, error) {
	listen := cfg.Listen
	if listen == "" {
		listen = ":8080"
	}
	listener, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, fmt.Errorf("listen http server on %s: %w", listen, err)
	}
	return &httpServer{
		logger:   logger,
		listener: listener,
		server: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

func (s *httpServer) serve() error {
	if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve http: %w", err)
	}
	return nil
}

func (s *httpServer) shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	var err error
	s.stopOnce.Do(func() {
		err = s.server.Shutdown(ctx)
		s.logger.Info().Msg("http server stopped")
	})
	return err
}

func (s *httpServer) close() {
	if s == nil {
		return
	}
	s.stopOnce.Do(func() {
		_ = s.server.Close()
		_ = s.listener.Close()
		s.logger.Info().Msg("http server stopped")
	})
}

func (s *httpServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
