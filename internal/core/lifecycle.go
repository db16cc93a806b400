package core

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/tinywideclouds/go-shellworker/pkg/worker"
)

// OnInstall populates the worker's bucket with the whole shell manifest.
//
// Every entry is fetched before anything is written, so a single unreachable
// or non-2xx asset leaves storage untouched and the worker redundant. The
// previous version, if any, keeps serving.
func (w *Worker) OnInstall(ctx context.Context) error {
	if err := w.transition(StateParsed, StateInstalling); err != nil {
		return fmt.Errorf("%w: %w", worker.ErrInstall, err)
	}
	w.logger.Info("Caching app shell", "assets", len(w.cfg.ShellManifest))

	reqs := make([]*worker.Request, 0, len(w.cfg.ShellManifest))
	for _, entry := range w.cfg.ShellManifest {
		u, err := w.resolve(entry)
		if err != nil {
			w.setState(StateRedundant)
			return fmt.Errorf("%w: bad manifest entry %q: %w", worker.ErrInstall, entry, err)
		}
		reqs = append(reqs, &worker.Request{Method: http.MethodGet, URL: u, Header: make(http.Header)})
	}

	// 1. Fetch everything; first failure cancels the rest.
	fetched := make([]*worker.Response, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	for i, req := range reqs {
		g.Go(func() error {
			resp, err := w.fetcher.Fetch(gctx, req)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", req.URL, err)
			}
			if !resp.OK() {
				return fmt.Errorf("fetch %s: status %d", req.URL, resp.Status)
			}
			fetched[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		w.setState(StateRedundant)
		w.logger.Error("App shell install failed", "err", err)
		return fmt.Errorf("%w: %w", worker.ErrInstall, err)
	}

	// 2. Write. A bucket this install created is removed again on failure.
	existed, err := w.storage.Has(ctx, w.cfg.CacheVersion)
	if err != nil {
		w.setState(StateRedundant)
		return fmt.Errorf("%w: check bucket: %w", worker.ErrInstall, err)
	}
	bucket, err := w.storage.Open(ctx, w.cfg.CacheVersion)
	if err != nil {
		w.setState(StateRedundant)
		return fmt.Errorf("%w: open bucket: %w", worker.ErrInstall, err)
	}
	for i, req := range reqs {
		if err := bucket.Put(ctx, req, fetched[i]); err != nil {
			if !existed {
				if _, delErr := w.storage.Delete(ctx, w.cfg.CacheVersion); delErr != nil {
					w.logger.Warn("Failed to remove partial bucket", "err", delErr)
				}
			}
			w.setState(StateRedundant)
			return fmt.Errorf("%w: store %s: %w", worker.ErrInstall, req.URL, err)
		}
	}

	w.mu.Lock()
	w.bucket = bucket
	w.state = StateInstalled
	w.skipWaiting = w.cfg.SkipWaiting
	w.mu.Unlock()

	w.logger.Info("App shell cached", "assets", len(reqs), "skip_waiting", w.cfg.SkipWaiting)
	return nil
}

// OnActivate removes every bucket but the current one, then claims the open
// clients. Neither a failed deletion nor a failed claim stops activation.
func (w *Worker) OnActivate(ctx context.Context) error {
	if err := w.transition(StateInstalled, StateActivating); err != nil {
		return err
	}

	names, err := w.storage.Keys(ctx)
	if err != nil {
		w.logger.Warn("Failed to list cache buckets; skipping cleanup", "err", err)
	}

	var g errgroup.Group
	for _, name := range names {
		if name == w.cfg.CacheVersion {
			continue
		}
		g.Go(func() error {
			w.logger.Info("Removing old cache", "bucket", name)
			if _, err := w.storage.Delete(ctx, name); err != nil {
				w.logger.Warn("Failed to remove old cache", "bucket", name, "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := w.clients.Claim(ctx, w.cfg.CacheVersion); err != nil {
		w.logger.Warn("Failed to claim clients", "err", err)
	}

	w.setState(StateActivated)
	w.logger.Info("Worker activated")
	return nil
}
