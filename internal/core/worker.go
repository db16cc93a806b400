// Package core is the app-shell worker: it installs and versions the cache
// bucket, intercepts fetches, routes push payloads to notifications and routes
// notification clicks to client windows. It knows nothing about the hosting
// runtime; the host package feeds it lifecycle events.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/tinywideclouds/go-shellworker/pkg/worker"
)

// State is the lifecycle position of a worker.
type State int

const (
	StateParsed State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActivated
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	case StateRedundant:
		return "redundant"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// NotificationDefaults fill any field a push payload leaves out.
type NotificationDefaults struct {
	Title string
	Body  string
	Tag   string
	Icon  string
	Badge string
	URL   string
}

// Config is everything a worker version is built from.
type Config struct {
	// CacheVersion is the full bucket name. Changing it on deploy is what
	// retires the previous bucket.
	CacheVersion  string
	ShellManifest []string
	Origin        *url.URL
	SkipWaiting   bool
	Defaults      NotificationDefaults
}

// Worker is one version of the app-shell worker.
type Worker struct {
	cfg     Config
	storage worker.CacheStorage
	fetcher worker.Fetcher
	display worker.Displayer
	clients worker.ClientSet
	logger  *slog.Logger

	mu          sync.RWMutex
	state       State
	bucket      worker.Bucket
	skipWaiting bool
	closed      bool

	// lifetime bounds background work; cancelled on Close.
	lifetime context.Context
	cancel   context.CancelFunc
	bg       sync.WaitGroup
}

// New assembles a worker in the parsed state.
func New(
	cfg Config,
	storage worker.CacheStorage,
	fetcher worker.Fetcher,
	display worker.Displayer,
	clients worker.ClientSet,
	logger *slog.Logger,
) (*Worker, error) {
	if cfg.CacheVersion == "" {
		return nil, errors.New("cache version is required")
	}
	if cfg.Origin == nil || cfg.Origin.Scheme == "" || cfg.Origin.Host == "" {
		return nil, errors.New("absolute origin is required")
	}
	if storage == nil || fetcher == nil || display == nil || clients == nil {
		return nil, errors.New("storage, fetcher, displayer and client set are required")
	}
	if cfg.Defaults.URL == "" {
		cfg.Defaults.URL = "/"
	}

	lifetime, cancel := context.WithCancel(context.Background())
	return &Worker{
		cfg:      cfg,
		storage:  storage,
		fetcher:  fetcher,
		display:  display,
		clients:  clients,
		logger:   logger.With("component", "Worker", "cache_version", cfg.CacheVersion),
		state:    StateParsed,
		lifetime: lifetime,
		cancel:   cancel,
	}, nil
}

func (w *Worker) Config() Config {
	return w.cfg
}

func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// SkipWaitingRequested reports whether a successful install asked to be
// activated without waiting for the previous version's clients to close.
func (w *Worker) SkipWaitingRequested() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.skipWaiting
}

func (w *Worker) transition(from, to State) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != from {
		return fmt.Errorf("worker is %s, want %s", w.state, from)
	}
	w.state = to
	return nil
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// goBackground runs fn under the worker lifetime. It returns false once the
// worker is closed.
func (w *Worker) goBackground(fn func(ctx context.Context)) bool {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return false
	}
	w.bg.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.bg.Done()
		fn(w.lifetime)
	}()
	return true
}

// Drain waits for background work to settle without cancelling it.
func (w *Worker) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close marks the worker redundant, cancels its background work and waits
// for it to stop.
func (w *Worker) Close(ctx context.Context) error {
	w.mu.Lock()
	w.closed = true
	w.state = StateRedundant
	w.mu.Unlock()

	w.cancel()
	return w.Drain(ctx)
}

// resolve turns a manifest entry or notification URL into an absolute URL
// under the origin.
func (w *Worker) resolve(raw string) (*url.URL, error) {
	ref, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	return w.cfg.Origin.ResolveReference(ref), nil
}

func (w *Worker) sameOrigin(u *url.URL) bool {
	return u != nil && u.Scheme == w.cfg.Origin.Scheme && u.Host == w.cfg.Origin.Host
}
