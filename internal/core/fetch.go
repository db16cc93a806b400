package core

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tinywideclouds/go-shellworker/pkg/worker"
)

type legResult struct {
	resp *worker.Response
	err  error
}

// Intercepts reports whether the request falls under the cache policy:
// a same-origin GET seen by an activated worker.
func (w *Worker) Intercepts(req *worker.Request) bool {
	if req == nil || req.Method != http.MethodGet || !w.sameOrigin(req.URL) {
		return false
	}
	return w.State() == StateActivated
}

// OnFetch answers an intercepted request, cache first.
//
// The network leg always starts. A cached entry is returned at once and the
// leg carries on in the background to refresh it; its outcome is never
// reported. Without a cached entry the leg's result is returned, or
// worker.ErrNetwork if it failed. Only 2xx responses are stored.
func (w *Worker) OnFetch(ctx context.Context, req *worker.Request) (*worker.Response, error) {
	if !w.Intercepts(req) {
		return w.passThrough(ctx, req)
	}

	w.mu.RLock()
	bucket := w.bucket
	w.mu.RUnlock()

	leg, started := w.networkLeg(bucket, req.Clone())
	if !started {
		return w.passThrough(ctx, req)
	}

	cached, ok, err := bucket.Match(ctx, req)
	if err != nil {
		w.logger.Warn("Cache lookup failed; treating as miss", "key", req.Key(), "err", err)
	}
	if err == nil && ok {
		return cached, nil
	}

	select {
	case res := <-leg:
		if res.err != nil {
			return nil, fmt.Errorf("%w: %w", worker.ErrNetwork, res.err)
		}
		return res.resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// networkLeg fetches req and stores a clone of a 2xx response. The channel
// is buffered so the leg never blocks on an absent reader.
func (w *Worker) networkLeg(bucket worker.Bucket, req *worker.Request) (<-chan legResult, bool) {
	out := make(chan legResult, 1)
	started := w.goBackground(func(ctx context.Context) {
		resp, err := w.fetcher.Fetch(ctx, req)
		if err != nil {
			w.logger.Debug("Network leg failed", "key", req.Key(), "err", err)
			out <- legResult{err: err}
			return
		}
		if resp.OK() {
			if err := bucket.Put(ctx, req, resp.Clone()); err != nil {
				w.logger.Warn("Failed to refresh cache entry", "key", req.Key(), "err", err)
			}
		}
		out <- legResult{resp: resp}
	})
	return out, started
}

// passThrough reflects the network response with no caching.
func (w *Worker) passThrough(ctx context.Context, req *worker.Request) (*worker.Response, error) {
	resp, err := w.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", worker.ErrNetwork, err)
	}
	return resp, nil
}
