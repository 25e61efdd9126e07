package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sabbour/aks-autoinstrumentation-sample/internal/config"
	"github.com/sabbour/aks-autoinstrumentation-sample/internal/stores"
)

type stubSQL struct {
	value string
	err   error
	query string
}

func (s *stubSQL) Kind() stores.Kind            { return stores.KindMySQL }
func (s *stubSQL) Ping(context.Context) error   { return nil }
func (s *stubSQL) Close() error                 { return nil }
func (s *stubSQL) QueryScalar(_ context.Context, query string) (string, error) {
	s.query = query
	return s.value, s.err
}

type stubDocuments struct {
	ids  []string
	err  error
	got  []stores.Document
	dest string
}

func (s *stubDocuments) Kind() stores.Kind          { return stores.KindMongo }
func (s *stubDocuments) Ping(context.Context) error { return nil }
func (s *stubDocuments) Close() error               { return nil }
func (s *stubDocuments) InsertMany(_ context.Context, database, collection string, docs []stores.Document) ([]string, error) {
	s.got = docs
	s.dest = database + "." + collection
	return s.ids, s.err
}

type stubClock struct {
	now time.Time
	err error
}

func (s *stubClock) Kind() stores.Kind                    { return stores.KindPostgres }
func (s *stubClock) Ping(context.Context) error           { return nil }
func (s *stubClock) Close() error                         { return nil }
func (s *stubClock) Now(context.Context) (time.Time, error) { return s.now, s.err }

type stubKV struct {
	mu      sync.Mutex
	values  map[string]string
	members map[string]map[string]float64
	setErr  error
}

func newStubKV() *stubKV {
	return &stubKV{values: map[string]string{}, members: map[string]map[string]float64{}}
}

func (s *stubKV) Kind() stores.Kind          { return stores.KindRedis }
func (s *stubKV) Ping(context.Context) error { return nil }
func (s *stubKV) Close() error               { return nil }
func (s *stubKV) Set(_ context.Context, key, value string) error {
	if s.setErr != nil {
		return s.setErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}
func (s *stubKV) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[key], nil
}
func (s *stubKV) ZAdd(_ context.Context, key string, members ...stores.ScoredMember) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.members[key]
	if set == nil {
		set = map[string]float64{}
		s.members[key] = set
	}
	var added int64
	for _, m := range members {
		if _, ok := set[m.Member]; !ok {
			added++
		}
		set[m.Member] = m.Score
	}
	return added, nil
}

type stubGetter struct {
	mu    sync.Mutex
	calls []string
	err   error
	wait  bool
}

func (g *stubGetter) Get(ctx context.Context, target, rawURL string, timeout time.Duration) error {
	g.mu.Lock()
	g.calls = append(g.calls, target+" "+rawURL+" "+timeout.String())
	g.mu.Unlock()
	if g.wait && timeout > 0 {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		<-ctx.Done()
		return ctx.Err()
	}
	return g.err
}

type fixture struct {
	sql    *stubSQL
	docs   *stubDocuments
	clock  *stubClock
	kv     *stubKV
	getter *stubGetter
	cfg    *config.Config
}

func newFixture() *fixture {
	return &fixture{
		sql:    &stubSQL{value: "2"},
		docs:   &stubDocuments{ids: []string{"a1", "b2", "c3"}},
		clock:  &stubClock{now: time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC)},
		kv:     newStubKV(),
		getter: &stubGetter{},
		cfg:    config.Default(),
	}
}

func (f *fixture) handler(logger zerolog.Logger, handles ...stores.Handle) http.Handler {
	if handles == nil {
		handles = []stores.Handle{f.sql, f.docs, f.clock, f.kv}
	}
	h := NewHandlers(stores.NewRegistry(handles...), f.getter, f.cfg.Outbound, f.cfg.Mongo)
	r := New(h.Routes(), WithMaxBodyBytes(f.cfg.Server.MaxBodyBytes))
	return Chain(r, RequestID(), Logging(logger), Recovery())
}

func serve(t *testing.T, handler http.Handler, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRouteTable(t *testing.T) {
	f := newFixture()
	handler := f.handler(zerolog.New(io.Discard))

	cases := []struct {
		path string
		body string
	}{
		{"/", "Hello World!"},
		{"/mysql", "SELECT 1 + 1 as solution: 2"},
		{"/mongo", "Inserted a document with id a1\nInserted a document with id b2\nInserted a document with id c3"},
		{"/postgres", "Postgres connected and queried at 2026-10-14T08:00:00Z"},
		{"/redis", "Added 2 items."},
		{"/http", "Done"},
		{"/exception", "Done"},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			rec := serve(t, handler, http.MethodGet, tc.path, nil)
			require.Equal(t, http.StatusOK, rec.Code)
			require.Equal(t, tc.body, rec.Body.String())
			require.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
			require.NotEmpty(t, rec.Header().Get(RequestIDHeader))
		})
	}

	require.Equal(t, "SELECT 1 + 1 as solution", f.sql.query)
	require.Equal(t, "myStateDB.states", f.docs.dest)
	require.Len(t, f.docs.got, 3)
	require.Equal(t, "Hello from redis", f.kv.values["mykey"])
	require.Equal(t, []string{
		"http http://bing.com/ 0s",
		"exception http://test.com:65530/ 2s",
	}, f.getter.calls)
}

func TestRedisSecondCallAddsNothing(t *testing.T) {
	f := newFixture()
	handler := f.handler(zerolog.New(io.Discard))

	require.Equal(t, "Added 2 items.", serve(t, handler, http.MethodGet, "/redis", nil).Body.String())
	require.Equal(t, "Added 0 items.", serve(t, handler, http.MethodGet, "/redis", nil).Body.String())
}

func TestUnknownPathIsNotFound(t *testing.T) {
	f := newFixture()
	rec := serve(t, f.handler(zerolog.New(io.Discard)), http.MethodGet, "/unknown-path", nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "Not found", rec.Body.String())
}

func TestExactMatchOnly(t *testing.T) {
	f := newFixture()
	handler := f.handler(zerolog.New(io.Discard))

	require.Equal(t, http.StatusNotFound, serve(t, handler, http.MethodGet, "/mysql/", nil).Code)
	require.Equal(t, http.StatusNotFound, serve(t, handler, http.MethodGet, "/MYSQL", nil).Code)
	rec := serve(t, handler, http.MethodGet, "/mysql?debug=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestGreetingIgnoresStoreState(t *testing.T) {
	f := newFixture()
	rec := serve(t, f.handler(zerolog.New(io.Discard), []stores.Handle{}...), http.MethodPost, "/", strings.NewReader("payload"))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Hello World!", rec.Body.String())
}

func TestStoreFailuresBecomeErrorText(t *testing.T) {
	f := newFixture()
	f.sql.err = errors.New("Table 'my_db.x' doesn't exist")
	f.docs.err = errors.New("not authorized on myStateDB")
	f.clock.err = errors.New("connection reset")
	f.kv.setErr = errors.New("READONLY")
	handler := f.handler(zerolog.New(io.Discard))

	cases := map[string]string{
		"/mysql":    "Table 'my_db.x' doesn't exist",
		"/mongo":    "Error: not authorized on myStateDB",
		"/postgres": "Postgres error: connection reset",
		"/redis":    "Error: READONLY",
	}
	for path, body := range cases {
		rec := serve(t, handler, http.MethodGet, path, nil)
		require.Equal(t, http.StatusInternalServerError, rec.Code, path)
		require.Equal(t, body, rec.Body.String(), path)
	}
}

func TestMissingStoreIsUnavailable(t *testing.T) {
	f := newFixture()
	handler := f.handler(zerolog.New(io.Discard), f.sql)

	rec := serve(t, handler, http.MethodGet, "/redis", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "redis: not connected", rec.Body.String())

	require.Equal(t, http.StatusOK, serve(t, handler, http.MethodGet, "/mysql", nil).Code)
}

func TestOutboundFailureStillDone(t *testing.T) {
	f := newFixture()
	f.getter.err = errors.New("dial tcp: no such host")

	rec := serve(t, f.handler(zerolog.New(io.Discard)), http.MethodGet, "/http", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Done", rec.Body.String())
}

func TestExceptionCompletesWithinTimeout(t *testing.T) {
	f := newFixture()
	f.cfg.Outbound.ExceptionTimeout = config.Duration{Duration: 150 * time.Millisecond}
	f.getter.wait = true

	start := time.Now()
	rec := serve(t, f.handler(zerolog.New(io.Discard)), http.MethodGet, "/exception", nil)
	elapsed := time.Since(start)

	require.Equal(t, "Done", rec.Body.String())
	require.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
	require.Less(t, elapsed, time.Second)
}

func TestBodyLimit(t *testing.T) {
	f := newFixture()
	f.cfg.Server.MaxBodyBytes = 8
	handler := f.handler(zerolog.New(io.Discard))

	rec := serve(t, handler, http.MethodPost, "/", strings.NewReader("0123456789"))
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = serve(t, handler, http.MethodPost, "/", strings.NewReader("01234567"))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDPropagatesToLogs(t *testing.T) {
	var buf bytes.Buffer
	f := newFixture()
	handler := f.handler(zerolog.New(&buf))

	req := httptest.NewRequest(http.MethodGet, "/mysql", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	require.Equal(t, "req-42", entry["request_id"])
	require.Equal(t, "/mysql", entry["path"])
	require.Equal(t, float64(200), entry["status"])
}

func TestRecoveryReturns500(t *testing.T) {
	r := New([]Route{{Path: "/boom", Handler: func(context.Context, Request) Response {
		panic("kaboom")
	}}})
	handler := Chain(r, RequestID(), Logging(zerolog.New(io.Discard)), Recovery())

	rec := serve(t, handler, http.MethodGet, "/boom", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "Internal server error", rec.Body.String())
}

func TestConcurrentRequestsKeepTheirOwnBodies(t *testing.T) {
	f := newFixture()
	srv := httptest.NewServer(f.handler(zerolog.New(io.Discard)))
	defer srv.Close()

	want := map[string]string{
		"/":         "Hello World!",
		"/mysql":    "SELECT 1 + 1 as solution: 2",
		"/postgres": "Postgres connected and queried at 2026-10-14T08:00:00Z",
		"/http":     "Done",
	}

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := 0; i < 16; i++ {
		for path, body := range want {
			wg.Add(1)
			go func(path, body string) {
				defer wg.Done()
				resp, err := srv.Client().Get(srv.URL + path)
				if err != nil {
					errs <- err
					return
				}
				defer resp.Body.Close()
				got, err := io.ReadAll(resp.Body)
				if err != nil {
					errs <- err
					return
				}
				if string(got) != body {
					errs <- errors.New(path + ": got " + string(got))
				}
			}(path, body)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}
