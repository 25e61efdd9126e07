package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// rowQuerier is the subset of *pgxpool.Pool used by PostgresStore.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore is the relational-B handle.
type PostgresStore struct {
	pool rowQuerier
}

// OpenPostgres creates a pgx pool for connString. Connections are established lazily.
func OpenPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Kind implements Handle.
func (p *PostgresStore) Kind() Kind { return KindPostgres }

// Ping implements Handle.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close implements Handle.
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}

// Now runs SELECT NOW().
func (p *PostgresStore) Now(ctx context.Context) (time.Time, error) {
	var now time.Time
	if err := p.pool.QueryRow(ctx, "SELECT NOW()").Scan(&now); err != nil {
		return time.Time{}, err
	}
	return now, nil
}
