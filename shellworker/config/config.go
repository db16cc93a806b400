// --- File: shellworker/config/config.go ---
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendBadger = "badger"
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type VapidConfig struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
	TTLSeconds      int
}

type APNSConfig struct {
	Enabled      bool
	KeyID        string
	TeamID       string
	BundleID     string
	P8KeyContent string
	Sandbox      bool
}

// StorageConfig selects where cache buckets live.
type StorageConfig struct {
	Backend    string
	BadgerPath string // empty runs badger in memory
}

// NotificationConfig holds the values a push falls back to when its payload
// leaves a field out.
type NotificationConfig struct {
	Title string
	Body  string
	Tag   string
	Icon  string
	Badge string
	URL   string
}

// MirrorConfig controls copying shown notifications to the owner's devices.
type MirrorConfig struct {
	Enabled  bool
	OwnerURN string
	FCM      bool
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID  string
	ListenAddr string

	Origin        string
	CachePrefix   string
	CacheVersion  string
	ShellManifest []string
	SkipWaiting   bool
	MaxBodyBytes  int64
	Notification  NotificationConfig
	Storage       StorageConfig

	SubscriptionID         string
	SubscriptionDLQTopicID string
	TopicID                string
	NumPipelineWorkers     int
	PubsubConsumerConfig   *messagepipeline.GooglePubsubConsumerConfig

	CorsConfig middleware.CorsConfig
	Redis      RedisConfig
	Vapid      VapidConfig
	APNS       APNSConfig
	Mirror     MirrorConfig
}

// BucketName is the cache bucket for the configured version.
func (c *Config) BucketName() string {
	if c.CachePrefix == "" {
		return c.CacheVersion
	}
	return c.CachePrefix + "-" + c.CacheVersion
}

// PipelineEnabled reports whether pushes are consumed from Pub/Sub.
func (c *Config) PipelineEnabled() bool {
	return c.SubscriptionID != ""
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	override := func(key string, apply func(string)) {
		if val := os.Getenv(key); val != "" {
			logger.Debug("Overriding config value", "key", key, "source", "env")
			apply(val)
		}
	}

	override("PROJECT_ID", func(v string) { cfg.ProjectID = v })
	override("PORT", func(v string) { cfg.ListenAddr = ":" + v })
	override("ORIGIN", func(v string) { cfg.Origin = v })
	override("CACHE_VERSION", func(v string) { cfg.CacheVersion = v })
	override("SKIP_WAITING", func(v string) {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.SkipWaiting = b
		}
	})
	override("STORAGE_BACKEND", func(v string) { cfg.Storage.Backend = v })
	override("BADGER_PATH", func(v string) { cfg.Storage.BadgerPath = v })

	override("SUBSCRIPTION_ID", func(v string) {
		cfg.SubscriptionID = v
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(v)
	})
	override("SUBSCRIPTION_DLQ_TOPIC_ID", func(v string) { cfg.SubscriptionDLQTopicID = v })
	override("NUM_PIPELINE_WORKERS", func(v string) {
		if workers, err := strconv.Atoi(v); err == nil && workers > 0 {
			cfg.NumPipelineWorkers = workers
		}
	})

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	override("VAPID_PUBLIC_KEY", func(v string) { cfg.Vapid.PublicKey = v })
	override("VAPID_PRIVATE_KEY", func(v string) { cfg.Vapid.PrivateKey = v })
	override("VAPID_SUB_EMAIL", func(v string) { cfg.Vapid.SubscriberEmail = v })

	override("APNS_KEY_ID", func(v string) { cfg.APNS.KeyID = v })
	override("APNS_TEAM_ID", func(v string) { cfg.APNS.TeamID = v })
	override("APNS_BUNDLE_ID", func(v string) { cfg.APNS.BundleID = v })
	override("APNS_P8_KEY", func(v string) {
		cfg.APNS.P8KeyContent = v
		cfg.APNS.Enabled = true
	})

	override("MIRROR_OWNER_URN", func(v string) {
		cfg.Mirror.OwnerURN = v
		cfg.Mirror.Enabled = true
	})

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		rawOrigins := strings.Split(corsOrigins, ",")
		var cleanOrigins []string
		for _, o := range rawOrigins {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	// Final Validation
	if cfg.Origin == "" {
		return nil, fmt.Errorf("origin is required (set via YAML or ORIGIN env var)")
	}
	if u, err := url.Parse(cfg.Origin); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("origin %q must be an absolute URL", cfg.Origin)
	}
	if cfg.CacheVersion == "" {
		return nil, fmt.Errorf("cache_version is required (set via YAML or CACHE_VERSION env var)")
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = BackendMemory
	}
	switch cfg.Storage.Backend {
	case BackendMemory, BackendBadger:
	case BackendRedis:
		if cfg.Redis.Addr == "" {
			return nil, fmt.Errorf("storage backend %q requires redis.addr", BackendRedis)
		}
		cfg.Redis.Enabled = true
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	if cfg.PipelineEnabled() && cfg.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required when subscription_id is set")
	}
	if cfg.Mirror.Enabled {
		if cfg.ProjectID == "" {
			return nil, fmt.Errorf("project_id is required when mirroring is enabled")
		}
		if cfg.Mirror.OwnerURN == "" {
			return nil, fmt.Errorf("mirror.owner_urn is required when mirroring is enabled")
		}
	}

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 10 << 20
	}

	if cfg.PubsubConsumerConfig == nil && cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}
