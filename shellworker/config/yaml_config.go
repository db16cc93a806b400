// --- File: shellworker/config/yaml_config.go ---
package config

import (
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

type YamlVapidConfig struct {
	PublicKey       string `yaml:"public_key"`
	PrivateKey      string `yaml:"private_key"`
	SubscriberEmail string `yaml:"subscriber_email"`
	TTLSeconds      int    `yaml:"ttl_seconds"`
}

type YamlAPNSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	KeyID    string `yaml:"key_id"`
	TeamID   string `yaml:"team_id"`
	BundleID string `yaml:"bundle_id"`
	Sandbox  bool   `yaml:"sandbox"`
}

type YamlStorageConfig struct {
	Backend    string `yaml:"backend"`
	BadgerPath string `yaml:"badger_path"`
}

type YamlNotificationConfig struct {
	Title string `yaml:"title"`
	Body  string `yaml:"body"`
	Tag   string `yaml:"tag"`
	Icon  string `yaml:"icon"`
	Badge string `yaml:"badge"`
	URL   string `yaml:"url"`
}

type YamlMirrorConfig struct {
	Enabled  bool   `yaml:"enabled"`
	OwnerURN string `yaml:"owner_urn"`
	FCM      bool   `yaml:"fcm"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID              string                 `yaml:"project_id"`
	ListenAddr             string                 `yaml:"listen_addr"`
	Origin                 string                 `yaml:"origin"`
	CachePrefix            string                 `yaml:"cache_prefix"`
	CacheVersion           string                 `yaml:"cache_version"`
	ShellManifest          []string               `yaml:"shell_manifest"`
	SkipWaiting            bool                   `yaml:"skip_waiting"`
	MaxBodyBytes           int64                  `yaml:"max_body_bytes"`
	Notification           YamlNotificationConfig `yaml:"notification"`
	Storage                YamlStorageConfig      `yaml:"storage"`
	TopicID                string                 `yaml:"topic_id"`
	SubscriptionID         string                 `yaml:"subscription_id"`
	SubscriptionDLQTopicID string                 `yaml:"subscription_dlq_topic_id"`
	CorsConfig             YamlCorsConfig         `yaml:"cors"`
	RedisConfig            YamlRedisConfig        `yaml:"redis"`
	VapidConfig            YamlVapidConfig        `yaml:"vapid"`
	APNSConfig             YamlAPNSConfig         `yaml:"apns"`
	Mirror                 YamlMirrorConfig       `yaml:"mirror"`
	NumPipelineWorkers     int                    `yaml:"num_pipeline_workers"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
// The APNs signing key is never read from YAML; it arrives through the
// environment.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	cfg := &Config{
		ProjectID:     baseCfg.ProjectID,
		ListenAddr:    baseCfg.ListenAddr,
		Origin:        baseCfg.Origin,
		CachePrefix:   baseCfg.CachePrefix,
		CacheVersion:  baseCfg.CacheVersion,
		ShellManifest: baseCfg.ShellManifest,
		SkipWaiting:   baseCfg.SkipWaiting,
		MaxBodyBytes:  baseCfg.MaxBodyBytes,
		Notification: NotificationConfig{
			Title: baseCfg.Notification.Title,
			Body:  baseCfg.Notification.Body,
			Tag:   baseCfg.Notification.Tag,
			Icon:  baseCfg.Notification.Icon,
			Badge: baseCfg.Notification.Badge,
			URL:   baseCfg.Notification.URL,
		},
		Storage: StorageConfig{
			Backend:    baseCfg.Storage.Backend,
			BadgerPath: baseCfg.Storage.BadgerPath,
		},
		TopicID:        baseCfg.TopicID,
		SubscriptionID: baseCfg.SubscriptionID,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
		},
		Vapid: VapidConfig{
			PublicKey:       baseCfg.VapidConfig.PublicKey,
			PrivateKey:      baseCfg.VapidConfig.PrivateKey,
			SubscriberEmail: baseCfg.VapidConfig.SubscriberEmail,
			TTLSeconds:      baseCfg.VapidConfig.TTLSeconds,
		},
		APNS: APNSConfig{
			Enabled:  baseCfg.APNSConfig.Enabled,
			KeyID:    baseCfg.APNSConfig.KeyID,
			TeamID:   baseCfg.APNSConfig.TeamID,
			BundleID: baseCfg.APNSConfig.BundleID,
			Sandbox:  baseCfg.APNSConfig.Sandbox,
		},
		Mirror: MirrorConfig{
			Enabled:  baseCfg.Mirror.Enabled,
			OwnerURN: baseCfg.Mirror.OwnerURN,
			FCM:      baseCfg.Mirror.FCM,
		},
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.NumPipelineWorkers,
	}

	if cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"origin", cfg.Origin,
		"cache_version", cfg.CacheVersion,
		"storage", cfg.Storage.Backend,
	)

	return cfg, nil
}
