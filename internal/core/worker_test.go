package core_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-shellworker/internal/clients"
	"github.com/tinywideclouds/go-shellworker/internal/core"
	"github.com/tinywideclouds/go-shellworker/internal/display"
	"github.com/tinywideclouds/go-shellworker/internal/storage/memory"
	"github.com/tinywideclouds/go-shellworker/pkg/worker"
)

const testOrigin = "https://app.example.com"

// fakeFetcher serves canned responses by path. A hanging path never resolves
// until its context is cancelled.
type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string]*worker.Response
	failures  map[string]error
	hang      map[string]bool
	calls     []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		responses: make(map[string]*worker.Response),
		failures:  make(map[string]error),
		hang:      make(map[string]bool),
	}
}

func (f *fakeFetcher) serve(path string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[path] = &worker.Response{Status: status, Header: http.Header{}, Body: []byte(body)}
	delete(f.failures, path)
}

func (f *fakeFetcher) fail(path string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[path] = err
}

func (f *fakeFetcher) hangOn(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hang[path] = true
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeFetcher) Fetch(ctx context.Context, req *worker.Request) (*worker.Response, error) {
	path := req.URL.Path
	if req.URL.Host != "app.example.com" {
		path = req.URL.Host + path
	}

	f.mu.Lock()
	f.calls = append(f.calls, req.Key())
	resp, err, hang := f.responses[path], f.failures[path], f.hang[path]
	f.mu.Unlock()

	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return &worker.Response{Status: http.StatusNotFound, Header: http.Header{}}, nil
	}
	return resp.Clone(), nil
}

type failingDisplay struct{}

func (failingDisplay) Show(context.Context, worker.Descriptor) (worker.Descriptor, error) {
	return worker.Descriptor{}, errors.New("notifications blocked")
}

func (failingDisplay) Close(context.Context, worker.Descriptor) error { return nil }

type fixture struct {
	worker   *core.Worker
	fetcher  *fakeFetcher
	storage  *memory.Storage
	tray     *display.Tray
	registry *clients.Registry
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(version string, manifest ...string) core.Config {
	origin, _ := url.Parse(testOrigin)
	return core.Config{
		CacheVersion:  version,
		ShellManifest: manifest,
		Origin:        origin,
		Defaults: core.NotificationDefaults{
			Title: "New activity",
			Body:  "Open the app",
			URL:   "/",
		},
	}
}

func newFixture(t *testing.T, cfg core.Config, storage *memory.Storage, fetcher *fakeFetcher) *fixture {
	t.Helper()
	if storage == nil {
		storage = memory.NewStorage()
	}
	if fetcher == nil {
		fetcher = newFakeFetcher()
	}
	tray := display.NewTray(newLogger())
	registry := clients.NewRegistry(newLogger())

	w, err := core.New(cfg, storage, fetcher, tray, registry, newLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close(context.Background()) })

	return &fixture{worker: w, fetcher: fetcher, storage: storage, tray: tray, registry: registry}
}

// activated installs and activates a worker over the given manifest, served
// with status 200 and body "shell <path>".
func activated(t *testing.T, manifest ...string) *fixture {
	t.Helper()
	fetcher := newFakeFetcher()
	for _, p := range manifest {
		fetcher.serve(p, http.StatusOK, "shell "+p)
	}
	f := newFixture(t, testConfig("shell-v1", manifest...), nil, fetcher)
	ctx := context.Background()
	require.NoError(t, f.worker.OnInstall(ctx))
	require.NoError(t, f.worker.OnActivate(ctx))
	return f
}

func mustRequest(t *testing.T, method, rawURL string) *worker.Request {
	t.Helper()
	req, err := worker.NewRequest(rawURL)
	require.NoError(t, err)
	req.Method = method
	return req
}

func bucketKeys(t *testing.T, s *memory.Storage, name string) []string {
	t.Helper()
	ctx := context.Background()
	ok, err := s.Has(ctx, name)
	require.NoError(t, err)
	if !ok {
		return nil
	}
	b, err := s.Open(ctx, name)
	require.NoError(t, err)
	keys, err := b.Keys(ctx)
	require.NoError(t, err)
	return keys
}

func TestNew_Validation(t *testing.T) {
	storage := memory.NewStorage()
	fetcher := newFakeFetcher()
	tray := display.NewTray(newLogger())
	registry := clients.NewRegistry(newLogger())

	_, err := core.New(testConfig(""), storage, fetcher, tray, registry, newLogger())
	assert.Error(t, err, "cache version is required")

	cfg := testConfig("v1")
	cfg.Origin = &url.URL{Path: "/relative"}
	_, err = core.New(cfg, storage, fetcher, tray, registry, newLogger())
	assert.Error(t, err, "origin must be absolute")

	_, err = core.New(testConfig("v1"), nil, fetcher, tray, registry, newLogger())
	assert.Error(t, err)

	w, err := core.New(testConfig("v1"), storage, fetcher, tray, registry, newLogger())
	require.NoError(t, err)
	assert.Equal(t, core.StateParsed, w.State())
	assert.Equal(t, "parsed", w.State().String())
}
