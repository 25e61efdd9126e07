// Package stores owns the long-lived connection handles to the backing stores and the
// bootstrapper that establishes them at startup.
package stores

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sabbour/aks-autoinstrumentation-sample/internal/config"
)

// Kind identifies a backing store.
type Kind string

const (
	// KindMySQL is relational-A.
	KindMySQL Kind = "mysql"
	// KindMongo is the document store.
	KindMongo Kind = "mongo"
	// KindPostgres is relational-B.
	KindPostgres Kind = "postgres"
	// KindRedis is the key-value store.
	KindRedis Kind = "redis"
)

// Order is the fixed sequence in which stores are connected.
var Order = []Kind{KindMySQL, KindMongo, KindPostgres, KindRedis}

// ErrNotConnected is returned when a store has no registered handle.
var ErrNotConnected = errors.New("not connected")

// Handle represents an established session with one backing store.
//
// Implementations must be safe for concurrent use by multiple request handlers.
type Handle interface {
	Kind() Kind
	Ping(ctx context.Context) error
	Close() error
}

// ScalarQuerier runs a query returning a single scalar value.
type ScalarQuerier interface {
	Handle
	QueryScalar(ctx context.Context, query string) (string, error)
}

// ClockQuerier reports the store's current time.
type ClockQuerier interface {
	Handle
	Now(ctx context.Context) (time.Time, error)
}

// Field is one ordered key/value pair of a Document.
type Field struct {
	Key   string
	Value interface{}
}

// Document is an ordered set of fields.
type Document []Field

// DocumentStore inserts documents into a collection.
type DocumentStore interface {
	Handle
	InsertMany(ctx context.Context, database, collection string, docs []Document) ([]string, error)
}

// ScoredMember is a sorted set entry.
type ScoredMember struct {
	Score  float64
	Member string
}

// KeyValueStore offers the key and sorted set operations of the key-value store.
type KeyValueStore interface {
	Handle
	Set(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (string, error)
	ZAdd(ctx context.Context, key string, members ...ScoredMember) (int64, error)
}

// Factory constructs a handle for one store kind from the resolved configuration.
// Bootstrap pings the returned handle, so factories need not open a connection eagerly.
type Factory func(ctx context.Context, cfg *config.Config) (Handle, error)

// Registry holds the connected handles. It is immutable after construction apart from Close.
type Registry struct {
	mu      sync.RWMutex
	handles map[Kind]Handle
}

// NewRegistry wraps already connected handles.
func NewRegistry(handles ...Handle) *Registry {
	r := &Registry{handles: make(map[Kind]Handle, len(handles))}
	for _, h := range handles {
		if h != nil {
			r.handles[h.Kind()] = h
		}
	}
	return r
}

// Lookup returns the handle registered for kind.
func (r *Registry) Lookup(kind Kind) (Handle, error) {
	if r == nil {
		return nil, fmt.Errorf("%s: %w", kind, ErrNotConnected)
	}
	r.mu.RLock()
	h, ok := r.handles[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", kind, ErrNotConnected)
	}
	return h, nil
}

func lookupAs[T Handle](r *Registry, kind Kind) (T, error) {
	var zero T
	h, err := r.Lookup(kind)
	if err != nil {
		return zero, err
	}
	typed, ok := h.(T)
	if !ok {
		return zero, fmt.Errorf("%s: handle %T does not support this operation", kind, h)
	}
	return typed, nil
}

// Relational returns the relational-A handle.
func (r *Registry) Relational() (ScalarQuerier, error) {
	return lookupAs[ScalarQuerier](r, KindMySQL)
}

// Documents returns the document store handle.
func (r *Registry) Documents() (DocumentStore, error) {
	return lookupAs[DocumentStore](r, KindMongo)
}

// Clock returns the relational-B handle.
func (r *Registry) Clock() (ClockQuerier, error) {
	return lookupAs[ClockQuerier](r, KindPostgres)
}

// KeyValue returns the key-value handle.
func (r *Registry) KeyValue() (KeyValueStore, error) {
	return lookupAs[KeyValueStore](r, KindRedis)
}

// Kinds lists registered store kinds in connection order.
func (r *Registry) Kinds() []Kind {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]Kind, 0, len(r.handles))
	for _, kind := range Order {
		if _, ok := r.handles[kind]; ok {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

// Ping pings every registered handle and reports the per-store result.
func (r *Registry) Ping(ctx context.Context) map[Kind]error {
	results := make(map[Kind]error)
	for _, kind := range r.Kinds() {
		h, err := r.Lookup(kind)
		if err == nil {
			err = h.Ping(ctx)
		}
		results[kind] = err
	}
	return results
}

// Close releases every handle.
func (r *Registry) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, kind := range Order {
		h, ok := r.handles[kind]
		if !ok {
			continue
		}
		if err := h.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", kind, err))
		}
	}
	r.handles = nil
	return errors.Join(errs...)
}

// Enabled reports whether kind is switched on in cfg.
func Enabled(cfg *config.Config, kind Kind) bool {
	switch kind {
	case KindMySQL:
		return cfg.MySQL.Enabled
	case KindMongo:
		return cfg.Mongo.Enabled
	case KindPostgres:
		return cfg.Postgres.Enabled
	case KindRedis:
		return cfg.Redis.Enabled
	}
	return false
}

// Bootstrap connects every enabled store, one at a time in Order. The first failure closes
// the handles opened so far and is returned.
func Bootstrap(ctx context.Context, cfg *config.Config, factories map[Kind]Factory, logger zerolog.Logger) (*Registry, error) {
	if cfg == nil {
		return nil, errors.New("config must not be nil")
	}
	if factories == nil {
		factories = DefaultFactories()
	}
	registry := &Registry{handles: make(map[Kind]Handle, len(Order))}
	for _, kind := range Order {
		if !Enabled(cfg, kind) {
			logger.Info().Str("store", string(kind)).Msg("store disabled")
			continue
		}
		handle, err := connect(ctx, cfg, kind, factories[kind])
		if err != nil {
			if closeErr := registry.Close(); closeErr != nil {
				logger.Error().Err(closeErr).Msg("close stores after failed bootstrap")
			}
			return nil, fmt.Errorf("connect %s: %w", kind, err)
		}
		registry.handles[kind] = handle
		logger.Info().Str("store", string(kind)).Msg("store connected")
	}
	return registry, nil
}

func connect(ctx context.Context, cfg *config.Config, kind Kind, factory Factory) (Handle, error) {
	if factory == nil {
		return nil, fmt.Errorf("no factory registered")
	}
	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout())
	defer cancel()

	handle, err := factory(connectCtx, cfg)
	if err != nil {
		return nil, err
	}
	if handle.Kind() != kind {
		_ = handle.Close()
		return nil, fmt.Errorf("factory returned %s handle", handle.Kind())
	}
	if err := handle.Ping(connectCtx); err != nil {
		_ = handle.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return handle, nil
}
