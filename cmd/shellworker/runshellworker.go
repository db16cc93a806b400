// --- File: cmd/shellworker/runshellworker.go ---
package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"

	firebase "firebase.google.com/go/v4"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-shellworker/internal/clients"
	"github.com/tinywideclouds/go-shellworker/internal/core"
	"github.com/tinywideclouds/go-shellworker/internal/display"
	"github.com/tinywideclouds/go-shellworker/internal/host"
	"github.com/tinywideclouds/go-shellworker/internal/network"
	"github.com/tinywideclouds/go-shellworker/internal/platform/apns"
	"github.com/tinywideclouds/go-shellworker/internal/platform/fcm"
	"github.com/tinywideclouds/go-shellworker/internal/platform/web"
	badgerStore "github.com/tinywideclouds/go-shellworker/internal/storage/badger"
	"github.com/tinywideclouds/go-shellworker/internal/storage/cache"
	fsStore "github.com/tinywideclouds/go-shellworker/internal/storage/firestore"
	"github.com/tinywideclouds/go-shellworker/internal/storage/memory"
	"github.com/tinywideclouds/go-shellworker/pkg/dispatch"
	"github.com/tinywideclouds/go-shellworker/pkg/worker"

	"github.com/tinywideclouds/go-shellworker/shellworker"
	"github.com/tinywideclouds/go-shellworker/shellworker/config"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"
)

//go:embed local.yaml
var configFile []byte

func main() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-shellworker")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, _ := config.NewConfigFromYaml(&yamlCfg, logger)
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- Redis (shared by bucket storage and the device cache) ---
	var redisClient *cache.RedisClient
	if cfg.Redis.Enabled {
		logger.Info("Connecting to Redis...", "addr", cfg.Redis.Addr)
		redisClient, err = cache.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Error("Failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		defer redisClient.Close()
	}

	// --- Cache Storage ---
	var storage worker.CacheStorage
	switch cfg.Storage.Backend {
	case config.BackendRedis:
		storage = cache.NewBucketStorage(redisClient.Raw(), "sw:")
	case config.BackendBadger:
		db, err := badgerStore.Open(cfg.Storage.BadgerPath)
		if err != nil {
			logger.Error("Failed to open badger storage", "path", cfg.Storage.BadgerPath, "err", err)
			os.Exit(1)
		}
		defer db.Close()
		storage = db
	default:
		storage = memory.NewStorage()
	}
	logger.Info("CacheStorage initialized", "backend", cfg.Storage.Backend)

	// --- Display ---
	tray := display.NewTray(logger)
	var displayer worker.Displayer = tray
	var deviceStore dispatch.DeviceStore

	if cfg.Mirror.Enabled {
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Error("Firestore client failed", "err", err)
			os.Exit(1)
		}
		defer fsClient.Close()

		deviceStore = fsStore.NewFirestoreStore(fsClient)
		logger.Info("DeviceStore initialized", "type", "firestore")
		if redisClient != nil {
			deviceStore = cache.NewCachedDeviceStore(deviceStore, redisClient, 24*time.Hour)
			logger.Info("DeviceStore upgraded", "type", "redis_cached_firestore")
		}

		fanout, err := newFanout(ctx, cfg, tray, deviceStore, logger)
		if err != nil {
			logger.Error("Failed to set up notification mirroring", "err", err)
			os.Exit(1)
		}
		displayer = fanout
	}

	// --- Worker Host ---
	registry := clients.NewRegistry(logger)
	fetcher := network.NewFetcher(&http.Client{}, cfg.MaxBodyBytes, logger)
	newWorker := func(wc core.Config) (*core.Worker, error) {
		return core.New(wc, storage, fetcher, displayer, registry, logger)
	}
	registration := host.NewRegistration(newWorker, fetcher, logger)

	// --- Auth ---
	authMiddleware := newAuthMiddleware(logger)

	// --- Consumer (optional) ---
	var consumer messagepipeline.MessageConsumer
	if cfg.PipelineEnabled() {
		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Error("PubSub client failed", "err", err)
			os.Exit(1)
		}
		defer psClient.Close()

		consumer, err = newPushConsumer(ctx, cfg, psClient, logger)
		if err != nil {
			logger.Error("PubSub consumer failed", "err", err)
			os.Exit(1)
		}
	}

	service, err := shellworker.New(cfg, shellworker.Components{
		Registration: registration,
		Tray:         tray,
		Clients:      registry,
		DeviceStore:  deviceStore,
		Consumer:     consumer,
	}, authMiddleware, logger)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = service.Shutdown(shutdownCtx)
	}()

	logger.Info("Starting service...", "origin", cfg.Origin, "cache_version", cfg.BucketName())
	if err := service.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Service shutdown with error", "err", err)
		os.Exit(1)
	}
}

// newFanout wires the remote transports notifications are mirrored to.
func newFanout(
	ctx context.Context,
	cfg *config.Config,
	tray *display.Tray,
	store dispatch.DeviceStore,
	logger *slog.Logger,
) (*display.Fanout, error) {
	owner, err := urn.Parse(cfg.Mirror.OwnerURN)
	if err != nil {
		return nil, fmt.Errorf("invalid mirror owner urn: %w", err)
	}

	var opts []display.Option

	// A. Android/Web via FCM
	if cfg.Mirror.FCM {
		fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Firebase App: %w", err)
		}
		fcmMessaging, err := fbApp.Messaging(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create FCM messaging client: %w", err)
		}
		opts = append(opts, display.WithFCM(fcm.NewDispatcher(fcmMessaging, logger)))
	}

	// B. iOS via APNs
	if cfg.APNS.Enabled {
		apnsDispatcher, err := apns.NewDispatcher(apns.Config{
			KeyID:        cfg.APNS.KeyID,
			TeamID:       cfg.APNS.TeamID,
			BundleID:     cfg.APNS.BundleID,
			P8KeyContent: cfg.APNS.P8KeyContent,
			Sandbox:      cfg.APNS.Sandbox,
		}, logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, display.WithAPNS(apnsDispatcher))
	}

	// C. Browsers via VAPID
	if cfg.Vapid.PrivateKey == "" || cfg.Vapid.PublicKey == "" {
		logger.Warn("VAPID keys missing in configuration. Web Push mirroring disabled.")
	} else {
		logger.Info("Web Dispatcher enabled", "public_key", cfg.Vapid.PublicKey)
		opts = append(opts, display.WithWeb(web.NewDispatcher(cfg.Vapid, logger)))
	}

	return display.NewFanout(tray, store, owner, logger, opts...), nil
}

func newAuthMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	identityURL := os.Getenv("IDENTITY_SERVICE_URL")
	if identityURL == "" {
		identityURL = "http://localhost:3000"
	}
	jwksURL, err := middleware.DiscoverAndValidateJWTConfig(identityURL, middleware.RSA256, logger)
	if err != nil {
		logger.Warn("Identity service unavailable; protected routes will reject requests", "err", err)
	}
	authMiddleware, err := middleware.NewJWKSAuthMiddleware(jwksURL, logger)
	if err != nil {
		logger.Warn("JWKS middleware unavailable; protected routes will reject requests", "err", err)
		return func(http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "authentication unavailable", http.StatusServiceUnavailable)
			})
		}
	}
	return authMiddleware
}

func newPushConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := convertPubsub(cfg.ProjectID, cfg.PubsubConsumerConfig.SubscriptionID, "subscriptions")

	subConfig := &pubsubpb.Subscription{
		Name:                  sub,
		Topic:                 convertPubsub(cfg.ProjectID, cfg.TopicID, "topics"),
		AckDeadlineSeconds:    10,
		EnableMessageOrdering: false,
	}
	if cfg.SubscriptionDLQTopicID != "" {
		subConfig.DeadLetterPolicy = &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     convertPubsub(cfg.ProjectID, cfg.SubscriptionDLQTopicID, "topics"),
			MaxDeliveryAttempts: 5,
		}
	}
	logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
	_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
		} else {
			logger.Error("Failed to create subscription", "sub", subConfig.Name, "err", err)
			return nil, fmt.Errorf("could not create sub: %s", sub)
		}
	}

	return messagepipeline.NewGooglePubsubConsumer(
		messagepipeline.NewGooglePubsubConsumerDefaults(subConfig.Name), psClient, logger,
	)
}

type PS string

func convertPubsub(project, id string, ps PS) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, ps, id)
}
