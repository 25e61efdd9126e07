// Package poller implements the companion client that polls the demo server.
package poller

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sabbour/aks-autoinstrumentation-sample/internal/config"
	"github.com/sabbour/aks-autoinstrumentation-sample/internal/outbound"
	"github.com/sabbour/aks-autoinstrumentation-sample/telemetry"
)

const maxLoggedBody = 4 << 10

// Result is the outcome of one GET against the server.
type Result struct {
	Path   string
	Status int
	Body   string
	Err    error
}

// Poller issues GET requests for every configured path once per interval.
type Poller struct {
	client    outbound.Doer
	baseURL   string
	paths     []string
	interval  time.Duration
	timeout   time.Duration
	logger    zerolog.Logger
	collector telemetry.Collector
}

// New builds a poller from the client section of the configuration.
func New(cfg config.ClientConfig, client outbound.Doer, logger zerolog.Logger, collector telemetry.Collector) *Poller {
	if client == nil {
		client = &http.Client{}
	}
	if collector == nil {
		collector = telemetry.Noop()
	}
	interval := cfg.Interval.Duration
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Poller{
		client:    client,
		baseURL:   strings.TrimRight(cfg.BaseURL(), "/"),
		paths:     append([]string(nil), cfg.Paths...),
		interval:  interval,
		timeout:   cfg.Timeout.Duration,
		logger:    logger,
		collector: collector,
	}
}

// Run polls until the context is cancelled. The first round starts after one interval.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	p.logger.Info().Str("server", p.baseURL).Strs("paths", p.paths).Dur("interval", p.interval).Msg("poller started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.RunOnce(ctx)
		}
	}
}

// RunOnce requests every path concurrently and returns the results in path order.
func (p *Poller) RunOnce(ctx context.Context) []Result {
	results := make([]Result, len(p.paths))
	var wg sync.WaitGroup
	for i, path := range p.paths {
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			results[i] = p.fetch(ctx, path)
		}(i, path)
	}
	wg.Wait()

	for _, res := range results {
		if res.Err != nil {
			p.collector.IncPoll(res.Path, outbound.OutcomeError)
			p.logger.Error().Err(res.Err).Str("path", res.Path).Msg("poll failed")
			continue
		}
		p.collector.IncPoll(res.Path, outbound.OutcomeOK)
		p.logger.Info().Str("path", res.Path).Int("status", res.Status).Msg(res.Body)
	}
	return results
}

func (p *Poller) fetch(ctx context.Context, path string) Result {
	res := Result{Path: path}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		res.Err = fmt.Errorf("build request: %w", err)
		return res
	}
	resp, err := p.client.Do(req)
	if err != nil {
		res.Err = err
		return res
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxLoggedBody))
	if err != nil {
		res.Err = fmt.Errorf("read body: %w", err)
		return res
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	res.Status = resp.StatusCode
	res.Body = string(body)
	return res
}
