package stores

import (
	"context"

	"github.com/sabbour/aks-autoinstrumentation-sample/internal/config"
)

// DefaultFactories returns the production factories for every store kind.
func DefaultFactories() map[Kind]Factory {
	return map[Kind]Factory{
		KindMySQL: func(_ context.Context, cfg *config.Config) (Handle, error) {
			return OpenSQL(cfg.MySQL)
		},
		KindMongo: func(ctx context.Context, cfg *config.Config) (Handle, error) {
			return OpenMongo(ctx, cfg.Mongo.URI())
		},
		KindPostgres: func(ctx context.Context, cfg *config.Config) (Handle, error) {
			return OpenPostgres(ctx, cfg.Postgres.URL())
		},
		KindRedis: func(_ context.Context, cfg *config.Config) (Handle, error) {
			return OpenRedis(cfg.Redis.URL)
		},
	}
}
