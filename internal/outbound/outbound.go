// Package outbound issues the plain HTTP demo requests with explicit cancellation.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/sabbour/aks-autoinstrumentation-sample/telemetry"
)

// Outcomes recorded per call.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
)

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Caller performs outbound GET requests and drains their bodies.
type Caller struct {
	client    Doer
	logger    zerolog.Logger
	collector telemetry.Collector
}

// NewCaller builds a caller. A nil client uses a dedicated *http.Client without a global timeout;
// deadlines come from the per-call context.
func NewCaller(client Doer, logger zerolog.Logger, collector telemetry.Collector) *Caller {
	if client == nil {
		client = &http.Client{}
	}
	if collector == nil {
		collector = telemetry.Noop()
	}
	return &Caller{client: client, logger: logger, collector: collector}
}

// Get fetches rawURL and reads the response to the end. A positive timeout aborts the request
// once it elapses. The returned error is nil only when the body was read completely.
func (c *Caller) Get(ctx context.Context, target, rawURL string, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	start := time.Now()
	err := c.get(ctx, rawURL)
	outcome := classify(err)
	c.collector.IncOutbound(target, outcome)

	event := c.logger.Debug()
	if err != nil {
		event = c.logger.Warn().Err(err)
	}
	event.Str("target", target).Str("url", rawURL).Str("outcome", outcome).
		Dur("elapsed", time.Since(start)).Msg("outbound request finished")
	return err
}

func (c *Caller) get(ctx context.Context, rawURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	return nil
}

func classify(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, context.DeadlineExceeded):
		return OutcomeTimeout
	default:
		return OutcomeError
	}
}
