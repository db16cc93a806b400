// --- File: internal/storage/cache/devicestore.go ---
package cache

import (
	"context"
	"fmt"
	"time"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"

	"github.com/tinywideclouds/go-shellworker/pkg/dispatch"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get decodes the value into dest, or returns ErrCacheMiss.
	Get(ctx context.Context, key string, dest any) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

// CachedDeviceStore is a Decorator that adds read-aside caching to any
// DeviceStore. Every write invalidates the user's entry.
type CachedDeviceStore struct {
	realStore dispatch.DeviceStore
	cache     CacheClient
	ttl       time.Duration
}

func NewCachedDeviceStore(realStore dispatch.DeviceStore, cache CacheClient, ttl time.Duration) *CachedDeviceStore {
	return &CachedDeviceStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
	}
}

// --- READ PATH (Read-Aside) ---

func (s *CachedDeviceStore) Fetch(ctx context.Context, user urn.URN) (*dispatch.Devices, error) {
	key := s.cacheKey(user)

	var cached dispatch.Devices
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	}

	fresh, err := s.realStore.Fetch(ctx, user)
	if err != nil {
		return nil, err
	}

	// Caching is an optimization; a Redis outage falls back to the store.
	_ = s.cache.Set(ctx, key, fresh, s.ttl)

	return fresh, nil
}

// --- WRITE PATHS (Invalidate-on-Write) ---

func (s *CachedDeviceStore) RegisterFCM(ctx context.Context, user urn.URN, token string) error {
	if err := s.realStore.RegisterFCM(ctx, user, token); err != nil {
		return err
	}
	return s.invalidate(ctx, user)
}

func (s *CachedDeviceStore) UnregisterFCM(ctx context.Context, user urn.URN, token string) error {
	if err := s.realStore.UnregisterFCM(ctx, user, token); err != nil {
		return err
	}
	return s.invalidate(ctx, user)
}

func (s *CachedDeviceStore) RegisterAPNS(ctx context.Context, user urn.URN, token string) error {
	if err := s.realStore.RegisterAPNS(ctx, user, token); err != nil {
		return err
	}
	return s.invalidate(ctx, user)
}

func (s *CachedDeviceStore) UnregisterAPNS(ctx context.Context, user urn.URN, token string) error {
	if err := s.realStore.UnregisterAPNS(ctx, user, token); err != nil {
		return err
	}
	return s.invalidate(ctx, user)
}

func (s *CachedDeviceStore) RegisterWeb(ctx context.Context, user urn.URN, sub notification.WebPushSubscription) error {
	if err := s.realStore.RegisterWeb(ctx, user, sub); err != nil {
		return err
	}
	return s.invalidate(ctx, user)
}

// UnregisterWeb must clear the cache even though the write succeeded, so a
// dead subscription stops receiving mirrors immediately.
func (s *CachedDeviceStore) UnregisterWeb(ctx context.Context, user urn.URN, endpoint string) error {
	if err := s.realStore.UnregisterWeb(ctx, user, endpoint); err != nil {
		return err
	}
	return s.invalidate(ctx, user)
}

func (s *CachedDeviceStore) invalidate(ctx context.Context, user urn.URN) error {
	return s.cache.Del(ctx, s.cacheKey(user))
}

func (s *CachedDeviceStore) cacheKey(user urn.URN) string {
	return fmt.Sprintf("sw:devices:%s", user.String())
}
