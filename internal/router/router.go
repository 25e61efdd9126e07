// Package router dispatches demo requests through a declarative path table.
package router

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/sabbour/aks-autoinstrumentation-sample/telemetry"
)

const (
	defaultMaxBodyBytes = 1 << 20
	unmatchedRoute      = "unmatched"
)

// Request carries the buffered inbound request into a handler.
type Request struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// Response is the single terminal write for a request.
type Response struct {
	Status int
	Body   string
}

// Text builds a plain-text response.
func Text(status int, body string) Response {
	return Response{Status: status, Body: body}
}

// HandlerFunc serves one route. It must always return a response.
type HandlerFunc func(ctx context.Context, req Request) Response

// Route maps an exact path to its handler.
type Route struct {
	Path    string
	Handler HandlerFunc
}

// Router matches the full request path against its routes. Unmatched paths get 404.
type Router struct {
	routes       map[string]HandlerFunc
	maxBodyBytes int64
	collector    telemetry.Collector
}

// Option configures a Router.
type Option func(*Router)

// WithMaxBodyBytes bounds the buffered request body.
func WithMaxBodyBytes(limit int64) Option {
	return func(r *Router) {
		if limit > 0 {
			r.maxBodyBytes = limit
		}
	}
}

// WithCollector records per-route metrics.
func WithCollector(collector telemetry.Collector) Option {
	return func(r *Router) {
		if collector != nil {
			r.collector = collector
		}
	}
}

// New builds a router from routes. A later route with the same path replaces an earlier one.
func New(routes []Route, opts ...Option) *Router {
	r := &Router{
		routes:       make(map[string]HandlerFunc, len(routes)),
		maxBodyBytes: defaultMaxBodyBytes,
		collector:    telemetry.Noop(),
	}
	for _, route := range routes {
		r.routes[route.Path] = route.Handler
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ServeHTTP buffers the body, dispatches and writes the response.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	route := unmatchedRoute
	handler, ok := r.routes[req.URL.Path]
	if ok {
		route = req.URL.Path
	}

	resp := r.dispatch(w, req, handler)
	write(w, resp)
	r.collector.ObserveRequest(route, resp.Status, time.Since(start))
}

func (r *Router) dispatch(w http.ResponseWriter, req *http.Request, handler HandlerFunc) Response {
	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, r.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return Text(http.StatusRequestEntityTooLarge, "Request body too large")
		}
		zerolog.Ctx(req.Context()).Warn().Err(err).Msg("read request body")
		return Text(http.StatusBadRequest, "Bad request")
	}
	if handler == nil {
		return Text(http.StatusNotFound, "Not found")
	}
	return handler(req.Context(), Request{
		Method: req.Method,
		Path:   req.URL.Path,
		Header: req.Header,
		Body:   body,
	})
}

func write(w http.ResponseWriter, resp Response) {
	if resp.Status == 0 {
		resp.Status = http.StatusOK
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(resp.Status)
	_, _ = io.WriteString(w, resp.Body)
}
