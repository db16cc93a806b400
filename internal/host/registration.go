// Package host plays the part of the platform for the worker core: it keeps
// the installing, waiting and active worker slots, runs install before
// activate, and routes events to whichever worker is active.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/tinywideclouds/go-shellworker/internal/core"
	"github.com/tinywideclouds/go-shellworker/pkg/worker"
)

// Factory builds a parsed worker for a configuration.
type Factory func(cfg core.Config) (*core.Worker, error)

// Registration owns the worker versions for one origin.
type Registration struct {
	newWorker Factory
	fetcher   worker.Fetcher
	logger    *slog.Logger

	// updateMu serializes Register and ActivateWaiting.
	updateMu sync.Mutex

	mu      sync.RWMutex
	active  *core.Worker
	waiting *core.Worker
}

// NewRegistration creates an empty registration. The fetcher serves requests
// while no worker is active.
func NewRegistration(newWorker Factory, fetcher worker.Fetcher, logger *slog.Logger) *Registration {
	return &Registration{
		newWorker: newWorker,
		fetcher:   fetcher,
		logger:    logger.With("component", "Registration"),
	}
}

func (r *Registration) Active() *core.Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

func (r *Registration) Waiting() *core.Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.waiting
}

// Register installs a new worker version. An install failure discards the
// new worker and leaves the active one serving. A successful install is
// activated at once when it asked to skip waiting; otherwise it waits for
// ActivateWaiting. Registering the configuration the active worker already
// runs is a no-op.
func (r *Registration) Register(ctx context.Context, cfg core.Config) (*core.Worker, error) {
	r.updateMu.Lock()
	defer r.updateMu.Unlock()

	if current := r.Active(); current != nil && sameVersion(current.Config(), cfg) {
		r.logger.Debug("Worker unchanged; skipping update", "cache_version", cfg.CacheVersion)
		return current, nil
	}

	w, err := r.newWorker(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker: %w", err)
	}

	log := r.logger.With("cache_version", cfg.CacheVersion)
	log.Info("Installing worker")
	if err := w.OnInstall(ctx); err != nil {
		_ = w.Close(context.WithoutCancel(ctx))
		log.Error("Install failed; keeping previous worker", "err", err)
		return nil, err
	}

	r.mu.Lock()
	previousWaiting := r.waiting
	r.waiting = w
	r.mu.Unlock()
	if previousWaiting != nil {
		_ = previousWaiting.Close(ctx)
	}

	if !w.SkipWaitingRequested() && r.Active() != nil {
		log.Info("Worker installed and waiting")
		return w, nil
	}
	if err := r.activateWaiting(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

// ActivateWaiting promotes the waiting worker, as happens once the clients
// of the previous version have gone.
func (r *Registration) ActivateWaiting(ctx context.Context) error {
	r.updateMu.Lock()
	defer r.updateMu.Unlock()
	return r.activateWaiting(ctx)
}

func (r *Registration) activateWaiting(ctx context.Context) error {
	r.mu.Lock()
	next := r.waiting
	if next == nil {
		r.mu.Unlock()
		return errors.New("no waiting worker")
	}
	previous := r.active
	r.waiting = nil
	// Requests pass straight to the network until next is activated.
	r.active = nil
	r.mu.Unlock()

	if previous != nil {
		if err := previous.Close(ctx); err != nil {
			r.logger.Warn("Previous worker did not drain", "err", err)
		}
	}

	if err := next.OnActivate(ctx); err != nil {
		_ = next.Close(ctx)
		return fmt.Errorf("activate worker: %w", err)
	}

	r.mu.Lock()
	r.active = next
	r.mu.Unlock()
	r.logger.Info("Worker is active", "cache_version", next.Config().CacheVersion)
	return nil
}

// Fetch routes a request through the active worker, or straight to the
// network when none is active.
func (r *Registration) Fetch(ctx context.Context, req *worker.Request) (*worker.Response, error) {
	if w := r.Active(); w != nil {
		return w.OnFetch(ctx, req)
	}
	resp, err := r.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", worker.ErrNetwork, err)
	}
	return resp, nil
}

func (r *Registration) Push(ctx context.Context, payload []byte) (worker.Descriptor, error) {
	w := r.Active()
	if w == nil {
		return worker.Descriptor{}, worker.ErrNotActive
	}
	return w.OnPush(ctx, payload)
}

func (r *Registration) NotificationClick(ctx context.Context, d worker.Descriptor) error {
	w := r.Active()
	if w == nil {
		return worker.ErrNotActive
	}
	return w.OnNotificationClick(ctx, d)
}

// Close retires every worker, waiting for their background work.
func (r *Registration) Close(ctx context.Context) error {
	r.updateMu.Lock()
	defer r.updateMu.Unlock()

	r.mu.Lock()
	workers := []*core.Worker{r.active, r.waiting}
	r.active, r.waiting = nil, nil
	r.mu.Unlock()

	var errs []error
	for _, w := range workers {
		if w == nil {
			continue
		}
		if err := w.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func sameVersion(a, b core.Config) bool {
	return a.CacheVersion == b.CacheVersion && slices.Equal(a.ShellManifest, b.ShellManifest)
}
