package memory_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-shellworker/internal/storage/memory"
	"github.com/tinywideclouds/go-shellworker/pkg/worker"
)

func req(t *testing.T, raw string) *worker.Request {
	t.Helper()
	r, err := worker.NewRequest(raw)
	require.NoError(t, err)
	return r
}

func TestStorage_Buckets(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStorage()

	for _, name := range []string{"shell-v2", "shell-v1", "other"} {
		_, err := s.Open(ctx, name)
		require.NoError(t, err)
	}
	names, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"shell-v2", "shell-v1", "other"}, names, "creation order")

	ok, err := s.Has(ctx, "shell-v1")
	require.NoError(t, err)
	assert.True(t, ok)

	deleted, err := s.Delete(ctx, "shell-v1")
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = s.Delete(ctx, "shell-v1")
	require.NoError(t, err)
	assert.False(t, deleted)

	names, _ = s.Keys(ctx)
	assert.Equal(t, []string{"shell-v2", "other"}, names)
}

func TestBucket_PutMatch(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStorage()
	b, err := s.Open(ctx, "shell-v1")
	require.NoError(t, err)

	resp := &worker.Response{Status: http.StatusOK, Header: http.Header{"Content-Type": {"text/html"}}, Body: []byte("<html>")}
	require.NoError(t, b.Put(ctx, req(t, "https://app.example.com/"), resp))

	// Storage keeps its own copy.
	resp.Body[0] = 'X'

	got, ok, err := b.Match(ctx, req(t, "https://app.example.com/#top"))
	require.NoError(t, err)
	require.True(t, ok, "fragments are not part of the key")
	assert.Equal(t, "<html>", string(got.Body))
	assert.Equal(t, "text/html", got.Header.Get("Content-Type"))

	got.Body[0] = 'Y'
	again, _, _ := b.Match(ctx, req(t, "https://app.example.com/"))
	assert.Equal(t, "<html>", string(again.Body))

	_, ok, err = b.Match(ctx, req(t, "https://app.example.com/missing"))
	require.NoError(t, err)
	assert.False(t, ok)

	replacement := &worker.Response{Status: http.StatusOK, Header: http.Header{}, Body: []byte("v2")}
	require.NoError(t, b.Put(ctx, req(t, "https://app.example.com/"), replacement))
	got, _, _ = b.Match(ctx, req(t, "https://app.example.com/"))
	assert.Equal(t, "v2", string(got.Body))

	keys, err := b.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"GET https://app.example.com/"}, keys)
}

func TestBucket_OpenReturnsSameBucket(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStorage()
	a, _ := s.Open(ctx, "shell-v1")
	require.NoError(t, a.Put(ctx, req(t, "https://app.example.com/a"), &worker.Response{Status: 200}))

	b, _ := s.Open(ctx, "shell-v1")
	_, ok, err := b.Match(ctx, req(t, "https://app.example.com/a"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBucket_WriteAfterDelete(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStorage()
	b, _ := s.Open(ctx, "shell-v1")

	_, err := s.Delete(ctx, "shell-v1")
	require.NoError(t, err)

	err = b.Put(ctx, req(t, "https://app.example.com/"), &worker.Response{Status: 200})
	assert.ErrorIs(t, err, worker.ErrBucketDeleted)

	_, ok, err := b.Match(ctx, req(t, "https://app.example.com/"))
	require.NoError(t, err)
	assert.False(t, ok)

	fresh, _ := s.Open(ctx, "shell-v1")
	keys, _ := fresh.Keys(ctx)
	assert.Empty(t, keys, "a re-created bucket starts empty")
}
