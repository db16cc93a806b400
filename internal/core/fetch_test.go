package core_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-shellworker/pkg/worker"
)

func TestOnFetch_HitDoesNotWaitForNetwork(t *testing.T) {
	f := activated(t, "/app.js")
	f.fetcher.hangOn("/app.js")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	start := time.Now()
	resp, err := f.worker.OnFetch(ctx, mustRequest(t, http.MethodGet, testOrigin+"/app.js"))

	require.NoError(t, err)
	assert.Equal(t, "shell /app.js", string(resp.Body))
	assert.Less(t, time.Since(start), time.Second)
}

func TestOnFetch_HitRefreshesInBackground(t *testing.T) {
	ctx := context.Background()
	f := activated(t, "/app.js")
	f.fetcher.serve("/app.js", http.StatusOK, "shell /app.js v2")

	resp, err := f.worker.OnFetch(ctx, mustRequest(t, http.MethodGet, testOrigin+"/app.js"))
	require.NoError(t, err)
	assert.Equal(t, "shell /app.js", string(resp.Body), "the cached copy is served")

	require.NoError(t, f.worker.Drain(ctx))

	bucket, err := f.storage.Open(ctx, "shell-v1")
	require.NoError(t, err)
	refreshed, ok, err := bucket.Match(ctx, mustRequest(t, http.MethodGet, testOrigin+"/app.js"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "shell /app.js v2", string(refreshed.Body))
}

func TestOnFetch_HitSurvivesNetworkFailure(t *testing.T) {
	ctx := context.Background()
	f := activated(t, "/")
	f.fetcher.fail("/", errors.New("offline"))

	resp, err := f.worker.OnFetch(ctx, mustRequest(t, http.MethodGet, testOrigin+"/"))
	require.NoError(t, err)
	assert.Equal(t, "shell /", string(resp.Body))

	require.NoError(t, f.worker.Drain(ctx))
	bucket, _ := f.storage.Open(ctx, "shell-v1")
	kept, ok, err := bucket.Match(ctx, mustRequest(t, http.MethodGet, testOrigin+"/"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "shell /", string(kept.Body))
}

func TestOnFetch_MissPopulatesCache(t *testing.T) {
	ctx := context.Background()
	f := activated(t, "/")
	f.fetcher.serve("/data.json", http.StatusOK, `{"fresh":true}`)

	req := mustRequest(t, http.MethodGet, testOrigin+"/data.json")
	resp, err := f.worker.OnFetch(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, `{"fresh":true}`, string(resp.Body))

	// The caller's copy is independent of the stored one.
	resp.Body[0] = 'X'

	bucket, err := f.storage.Open(ctx, "shell-v1")
	require.NoError(t, err)
	stored, ok, err := bucket.Match(ctx, req)
	require.NoError(t, err)
	require.True(t, ok, "a miss is stored before the response is returned")
	assert.Equal(t, `{"fresh":true}`, string(stored.Body))
}

func TestOnFetch_MissNetworkFailure(t *testing.T) {
	f := activated(t, "/")
	f.fetcher.fail("/offline", errors.New("no route to host"))

	_, err := f.worker.OnFetch(context.Background(), mustRequest(t, http.MethodGet, testOrigin+"/offline"))
	assert.ErrorIs(t, err, worker.ErrNetwork)
}

func TestOnFetch_MissErrorStatusIsNotStored(t *testing.T) {
	ctx := context.Background()
	f := activated(t, "/")

	resp, err := f.worker.OnFetch(ctx, mustRequest(t, http.MethodGet, testOrigin+"/missing"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.Status)

	assert.NotContains(t, bucketKeys(t, f.storage, "shell-v1"), "GET https://app.example.com/missing")
}

func TestOnFetch_FragmentIgnored(t *testing.T) {
	f := activated(t, "/app.js")
	f.fetcher.hangOn("/app.js")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := f.worker.OnFetch(ctx, mustRequest(t, http.MethodGet, testOrigin+"/app.js#section"))
	require.NoError(t, err)
	assert.Equal(t, "shell /app.js", string(resp.Body))
}

func TestOnFetch_PassThroughIsNeverCached(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name   string
		method string
		url    string
		serve  string
	}{
		{"POST", http.MethodPost, testOrigin + "/api/items", "/api/items"},
		{"PUT", http.MethodPut, testOrigin + "/api/items/1", "/api/items/1"},
		{"Cross-origin GET", http.MethodGet, "https://cdn.example.net/lib.js", "cdn.example.net/lib.js"},
		{"Other scheme", http.MethodGet, "http://app.example.com/app.js", "/app.js"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := activated(t, "/")
			f.fetcher.serve(tc.serve, http.StatusOK, "network")

			req := mustRequest(t, tc.method, tc.url)
			assert.False(t, f.worker.Intercepts(req))

			resp, err := f.worker.OnFetch(ctx, req)
			require.NoError(t, err)
			assert.Equal(t, "network", string(resp.Body))
			require.NoError(t, f.worker.Drain(ctx))

			for _, key := range bucketKeys(t, f.storage, "shell-v1") {
				assert.False(t, strings.HasSuffix(key, tc.url), "unexpected cache key %s", key)
			}
			assert.Len(t, bucketKeys(t, f.storage, "shell-v1"), 1)
		})
	}
}

func TestOnFetch_PassThroughNetworkFailure(t *testing.T) {
	f := activated(t, "/")
	f.fetcher.fail("/api/items", errors.New("offline"))

	_, err := f.worker.OnFetch(context.Background(), mustRequest(t, http.MethodPost, testOrigin+"/api/items"))
	assert.ErrorIs(t, err, worker.ErrNetwork)
}

func TestOnFetch_NotActivatedPassesThrough(t *testing.T) {
	ctx := context.Background()
	fetcher := newFakeFetcher()
	fetcher.serve("/", http.StatusOK, "index")
	fetcher.serve("/late.js", http.StatusOK, "late")

	f := newFixture(t, testConfig("shell-v1", "/"), nil, fetcher)
	require.NoError(t, f.worker.OnInstall(ctx))

	req := mustRequest(t, http.MethodGet, testOrigin+"/late.js")
	assert.False(t, f.worker.Intercepts(req))
	resp, err := f.worker.OnFetch(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "late", string(resp.Body))
	assert.NotContains(t, bucketKeys(t, f.storage, "shell-v1"), "GET https://app.example.com/late.js")
}

func TestClose_CancelsHangingRefresh(t *testing.T) {
	f := activated(t, "/app.js")
	f.fetcher.hangOn("/app.js")

	_, err := f.worker.OnFetch(context.Background(), mustRequest(t, http.MethodGet, testOrigin+"/app.js"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.worker.Close(ctx), "closing cancels the background leg")

	// A closed worker serves straight from the network.
	f.fetcher.serve("/other", http.StatusOK, "direct")
	calls := f.fetcher.callCount()
	resp, err := f.worker.OnFetch(context.Background(), mustRequest(t, http.MethodGet, testOrigin+"/other"))
	require.NoError(t, err)
	assert.Equal(t, "direct", string(resp.Body))
	assert.Equal(t, calls+1, f.fetcher.callCount())
}
