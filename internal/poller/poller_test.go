package poller

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sabbour/aks-autoinstrumentation-sample/internal/config"
	"github.com/sabbour/aks-autoinstrumentation-sample/telemetry"
)

type pollRecorder struct {
	telemetry.Collector
	mu     sync.Mutex
	counts map[string]int
}

func newPollRecorder() *pollRecorder {
	return &pollRecorder{Collector: telemetry.Noop(), counts: map[string]int{}}
}

func (r *pollRecorder) IncPoll(path, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[path+" "+outcome]++
}

func (r *pollRecorder) count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[key]
}

func clientConfig(t *testing.T, rawURL string, paths ...string) config.ClientConfig {
	t.Helper()
	host, portStr, err := net.SplitHostPort(rawURL[len("http://"):])
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return config.ClientConfig{
		Host:     host,
		Port:     port,
		Interval: config.Duration{Duration: 20 * time.Millisecond},
		Timeout:  config.Duration{Duration: time.Second},
		Paths:    paths,
	}
}

func demoServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			_, _ = w.Write([]byte("Hello World!"))
		case "/mysql":
			_, _ = w.Write([]byte("SELECT 1 + 1 as solution: 2"))
		case "/slow":
			time.Sleep(200 * time.Millisecond)
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestRunOnceFetchesEveryPath(t *testing.T) {
	srv := demoServer()
	defer srv.Close()

	var buf bytes.Buffer
	rec := newPollRecorder()
	p := New(clientConfig(t, srv.URL, "/", "/mysql"), srv.Client(), zerolog.New(&buf), rec)

	results := p.RunOnce(context.Background())
	require.Len(t, results, 2)
	require.Equal(t, "/", results[0].Path)
	require.Equal(t, "Hello World!", results[0].Body)
	require.Equal(t, "SELECT 1 + 1 as solution: 2", results[1].Body)
	require.Equal(t, 1, rec.count("/ ok"))
	require.Equal(t, 1, rec.count("/mysql ok"))
	require.Contains(t, buf.String(), `"message":"SELECT 1 + 1 as solution: 2"`)
}

func TestRunOnceRecordsTimeoutAsError(t *testing.T) {
	srv := demoServer()
	defer srv.Close()

	cfg := clientConfig(t, srv.URL, "/slow", "/")
	cfg.Timeout = config.Duration{Duration: 20 * time.Millisecond}
	var buf bytes.Buffer
	rec := newPollRecorder()
	p := New(cfg, srv.Client(), zerolog.New(&buf), rec)

	results := p.RunOnce(context.Background())
	require.ErrorIs(t, results[0].Err, context.DeadlineExceeded)
	require.NoError(t, results[1].Err)
	require.Equal(t, 1, rec.count("/slow error"))
	require.Contains(t, buf.String(), `"level":"error"`)
}

func TestRunOnceUnreachableServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	rec := newPollRecorder()
	p := New(clientConfig(t, "http://"+addr, "/"), nil, zerolog.Nop(), rec)
	results := p.RunOnce(context.Background())
	require.Error(t, results[0].Err)
	require.Equal(t, 1, rec.count("/ error"))
}

func TestRunPollsUntilCancelled(t *testing.T) {
	srv := demoServer()
	defer srv.Close()

	rec := newPollRecorder()
	p := New(clientConfig(t, srv.URL, "/"), srv.Client(), zerolog.Nop(), rec)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return rec.count("/ ok") >= 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}
