package router

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sabbour/aks-autoinstrumentation-sample/internal/config"
	"github.com/sabbour/aks-autoinstrumentation-sample/internal/outbound"
	"github.com/sabbour/aks-autoinstrumentation-sample/internal/stores"
)

const (
	greeting    = "Hello World!"
	mysqlQuery  = "SELECT 1 + 1 as solution"
	redisKey    = "mykey"
	redisValue  = "Hello from redis"
	redisSetKey = "vehicles"
)

var stateDocuments = []stores.Document{
	{{Key: "state", Value: "Washington"}, {Key: "coast", Value: "west"}},
	{{Key: "state", Value: "New York"}, {Key: "shape", Value: "east"}},
	{{Key: "state", Value: "South Carolina"}, {Key: "shape", Value: "east"}},
}

var vehicles = []stores.ScoredMember{
	{Score: 4, Member: "car"},
	{Score: 2, Member: "bike"},
}

// Getter performs the outbound demo requests.
type Getter interface {
	Get(ctx context.Context, target, rawURL string, timeout time.Duration) error
}

var _ Getter = (*outbound.Caller)(nil)

// Handlers implements the demo routes on top of the store registry.
type Handlers struct {
	stores   *stores.Registry
	outbound Getter
	targets  config.OutboundConfig
	mongo    config.MongoConfig
}

// NewHandlers wires the demo handlers.
func NewHandlers(registry *stores.Registry, getter Getter, targets config.OutboundConfig, mongo config.MongoConfig) *Handlers {
	return &Handlers{stores: registry, outbound: getter, targets: targets, mongo: mongo}
}

// Routes returns the demo route table.
func (h *Handlers) Routes() []Route {
	return []Route{
		{Path: "/", Handler: h.greet},
		{Path: "/mysql", Handler: h.mysql},
		{Path: "/mongo", Handler: h.mongoInsert},
		{Path: "/postgres", Handler: h.postgres},
		{Path: "/redis", Handler: h.redis},
		{Path: "/http", Handler: h.outboundDone},
		{Path: "/exception", Handler: h.abortedOutbound},
	}
}

func (h *Handlers) greet(context.Context, Request) Response {
	return Text(http.StatusOK, greeting)
}

func (h *Handlers) mysql(ctx context.Context, _ Request) Response {
	store, err := h.stores.Relational()
	if err != nil {
		return unavailable(ctx, err)
	}
	value, err := store.QueryScalar(ctx, mysqlQuery)
	if err != nil {
		return failed(ctx, stores.KindMySQL, "", err)
	}
	return Text(http.StatusOK, fmt.Sprintf("%s: %s", mysqlQuery, value))
}

func (h *Handlers) mongoInsert(ctx context.Context, _ Request) Response {
	store, err := h.stores.Documents()
	if err != nil {
		return unavailable(ctx, err)
	}
	ids, err := store.InsertMany(ctx, h.mongo.Database, h.mongo.Collection, stateDocuments)
	if err != nil {
		return failed(ctx, stores.KindMongo, "Error: ", err)
	}
	zerolog.Ctx(ctx).Info().Int("inserted", len(ids)).Msg("documents inserted")
	lines := make([]string, 0, len(ids))
	for _, id := range ids {
		lines = append(lines, "Inserted a document with id "+id)
	}
	return Text(http.StatusOK, strings.Join(lines, "\n"))
}

func (h *Handlers) postgres(ctx context.Context, _ Request) Response {
	store, err := h.stores.Clock()
	if err != nil {
		return unavailable(ctx, err)
	}
	now, err := store.Now(ctx)
	if err != nil {
		return failed(ctx, stores.KindPostgres, "Postgres error: ", err)
	}
	return Text(http.StatusOK, "Postgres connected and queried at "+now.Format(time.RFC3339Nano))
}

func (h *Handlers) redis(ctx context.Context, _ Request) Response {
	store, err := h.stores.KeyValue()
	if err != nil {
		return unavailable(ctx, err)
	}
	if err := store.Set(ctx, redisKey, redisValue); err != nil {
		return failed(ctx, stores.KindRedis, "Error: ", err)
	}
	value, err := store.Get(ctx, redisKey)
	if err != nil {
		return failed(ctx, stores.KindRedis, "Error: ", err)
	}
	zerolog.Ctx(ctx).Debug().Str("key", redisKey).Str("value", value).Msg("key read back")

	added, err := store.ZAdd(ctx, redisSetKey, vehicles...)
	if err != nil {
		return failed(ctx, stores.KindRedis, "Error: ", err)
	}
	return Text(http.StatusOK, fmt.Sprintf("Added %d items.", added))
}

// outboundDone answers Done once the outbound call finished, whatever its outcome.
func (h *Handlers) outboundDone(ctx context.Context, _ Request) Response {
	_ = h.outbound.Get(ctx, "http", h.targets.HTTPURL, h.targets.HTTPTimeout.Duration)
	return Text(http.StatusOK, "Done")
}

// abortedOutbound calls an unreachable target that is aborted after the configured timeout.
func (h *Handlers) abortedOutbound(ctx context.Context, _ Request) Response {
	_ = h.outbound.Get(ctx, "exception", h.targets.ExceptionURL, h.targets.ExceptionTimeout.Duration)
	return Text(http.StatusOK, "Done")
}

func unavailable(ctx context.Context, err error) Response {
	zerolog.Ctx(ctx).Warn().Err(err).Msg("store unavailable")
	return Text(http.StatusServiceUnavailable, err.Error())
}

func failed(ctx context.Context, kind stores.Kind, prefix string, err error) Response {
	zerolog.Ctx(ctx).Error().Err(err).Str("store", string(kind)).Msg("store operation failed")
	return Text(http.StatusInternalServerError, prefix+err.Error())
}
