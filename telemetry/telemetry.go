package telemetry

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector captures telemetry events emitted by the server and the polling client.
//
// Implementations may forward metrics to Prometheus, loggers or other monitoring systems.
// Hooks run inline on the request path and must be cheap.
type Collector interface {
	ObserveRequest(route string, code int, elapsed time.Duration)
	SetStoreUp(store string, up bool)
	IncOutbound(target, outcome string)
	IncPoll(path, outcome string)
	IncHotReload(file string)
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) ObserveRequest(string, int, time.Duration) {}
func (noopCollector) SetStoreUp(string, bool)                   {}
func (noopCollector) IncOutbound(string, string)                {}
func (noopCollector) IncPoll(string, string)                    {}
func (noopCollector) IncHotReload(string)                       {}

// PrometheusCollector exposes telemetry via Prometheus.
type PrometheusCollector struct {
	requests   *prometheus.CounterVec
	durations  *prometheus.HistogramVec
	storeUp    *prometheus.GaugeVec
	outbound   *prometheus.CounterVec
	polls      *prometheus.CounterVec
	hotReloads *prometheus.CounterVec
}

// NewPrometheusCollector registers the required metrics with the provided registerer.
// Metrics already registered by an earlier collector are reused.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	var err error
	p := &PrometheusCollector{}
	if p.requests, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sample_http_requests_total",
		Help: "Number of demo requests served per route and status code.",
	}, []string{"route", "code"})); err != nil {
		return nil, err
	}
	if p.durations, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sample_http_request_duration_seconds",
		Help:    "Latency of demo requests per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})); err != nil {
		return nil, err
	}
	if p.storeUp, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sample_store_up",
		Help: "Whether the backing store answered its last ping (1) or not (0).",
	}, []string{"store"})); err != nil {
		return nil, err
	}
	if p.outbound, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sample_outbound_requests_total",
		Help: "Outbound demo requests per target and outcome.",
	}, []string{"target", "outcome"})); err != nil {
		return nil, err
	}
	if p.polls, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sample_poll_requests_total",
		Help: "Requests issued by the polling client per path and outcome.",
	}, []string{"path", "outcome"})); err != nil {
		return nil, err
	}
	if p.hotReloads, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sample_config_hot_reload_total",
		Help: "Number of hot reload operations triggered per configuration source file.",
	}, []string{"file"})); err != nil {
		return nil, err
	}
	return p, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, err
	}
	return c, nil
}

// ObserveRequest records one served request.
func (p *PrometheusCollector) ObserveRequest(route string, code int, elapsed time.Duration) {
	if p == nil {
		return
	}
	p.requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	p.durations.WithLabelValues(route).Observe(elapsed.Seconds())
}

// SetStoreUp updates the liveness gauge of a store.
func (p *PrometheusCollector) SetStoreUp(store string, up bool) {
	if p == nil {
		return
	}
	value := 0.0
	if up {
		value = 1
	}
	p.storeUp.WithLabelValues(store).Set(value)
}

// IncOutbound counts an outbound demo request.
func (p *PrometheusCollector) IncOutbound(target, outcome string) {
	if p == nil {
		return
	}
	p.outbound.WithLabelValues(target, outcome).Inc()
}

// IncPoll counts a request issued by the polling client.
func (p *PrometheusCollector) IncPoll(path, outcome string) {
	if p == nil {
		return
	}
	p.polls.WithLabelValues(path, outcome).Inc()
}

// IncHotReload increments the counter for the provided file path.
func (p *PrometheusCollector) IncHotReload(file string) {
	if p == nil {
		return
	}
	p.hotReloads.WithLabelValues(file).Inc()
}
