package stores

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
)

type fakeRow struct {
	value time.Time
	err   error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*time.Time)) = r.value
	return nil
}

type fakePool struct {
	row    fakeRow
	query  string
	closed bool
}

func (p *fakePool) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	p.query = sql
	return p.row
}

func (p *fakePool) Ping(context.Context) error { return p.row.err }

func (p *fakePool) Close() { p.closed = true }

func TestPostgresStoreNow(t *testing.T) {
	want := time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)
	pool := &fakePool{row: fakeRow{value: want}}
	store := &PostgresStore{pool: pool}

	got, err := store.Now(context.Background())
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.Equal(t, "SELECT NOW()", pool.query)
	require.Equal(t, KindPostgres, store.Kind())

	require.NoError(t, store.Close())
	require.True(t, pool.closed)
}

func TestPostgresStoreNowError(t *testing.T) {
	boom := errors.New("relation does not exist")
	store := &PostgresStore{pool: &fakePool{row: fakeRow{err: boom}}}

	_, err := store.Now(context.Background())
	require.ErrorIs(t, err, boom)
	require.ErrorIs(t, store.Ping(context.Background()), boom)
}

func TestOpenPostgresRejectsMalformedURL(t *testing.T) {
	_, err := OpenPostgres(context.Background(), "postgres://%zz")
	require.Error(t, err)
}
