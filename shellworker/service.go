// --- File: shellworker/service.go ---
// Package shellworker assembles the app-shell worker host: the fetch proxy,
// the event and client endpoints, device registration and the optional
// Pub/Sub push pipeline.
package shellworker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-shellworker/internal/api"
	"github.com/tinywideclouds/go-shellworker/internal/clients"
	"github.com/tinywideclouds/go-shellworker/internal/core"
	"github.com/tinywideclouds/go-shellworker/internal/display"
	"github.com/tinywideclouds/go-shellworker/internal/host"
	"github.com/tinywideclouds/go-shellworker/internal/pipeline"
	"github.com/tinywideclouds/go-shellworker/pkg/dispatch"
	"github.com/tinywideclouds/go-shellworker/shellworker/config"
)

// Components are the pieces the service routes to. Consumer and DeviceStore
// are optional.
type Components struct {
	Registration *host.Registration
	Tray         *display.Tray
	Clients      *clients.Registry
	DeviceStore  dispatch.DeviceStore
	Consumer     messagepipeline.MessageConsumer
}

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[pipeline.PushEvent]
	deployment      *deployment
	registration    *host.Registration
	logger          *slog.Logger
}

// WorkerConfig maps the service configuration onto a worker version.
func WorkerConfig(cfg *config.Config) (core.Config, error) {
	origin, err := url.Parse(cfg.Origin)
	if err != nil {
		return core.Config{}, fmt.Errorf("invalid origin: %w", err)
	}
	return core.Config{
		CacheVersion:  cfg.BucketName(),
		ShellManifest: cfg.ShellManifest,
		Origin:        origin,
		SkipWaiting:   cfg.SkipWaiting,
		Defaults: core.NotificationDefaults{
			Title: cfg.Notification.Title,
			Body:  cfg.Notification.Body,
			Tag:   cfg.Notification.Tag,
			Icon:  cfg.Notification.Icon,
			Badge: cfg.Notification.Badge,
			URL:   cfg.Notification.URL,
		},
	}, nil
}

// New assembles the service.
func New(
	cfg *config.Config,
	parts Components,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) (*Wrapper, error) {
	if parts.Registration == nil || parts.Tray == nil || parts.Clients == nil {
		return nil, errors.New("registration, tray and client registry are required")
	}
	workerCfg, err := WorkerConfig(cfg)
	if err != nil {
		return nil, err
	}

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Pipeline (optional)
	var streamingService *messagepipeline.StreamingService[pipeline.PushEvent]
	if parts.Consumer != nil {
		processor := pipeline.NewProcessor(parts.Registration, logger)
		streamingService, err = messagepipeline.NewStreamingService(
			messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
			parts.Consumer,
			pipeline.PushEventTransformer,
			processor,
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create streaming service: %w", err)
		}
	}

	// 3. APIs
	deploy := &deployment{registration: parts.Registration, cfg: workerCfg}
	fetchAPI := api.NewFetchAPI(parts.Registration, workerCfg.Origin, logger)
	eventAPI := api.NewEventAPI(parts.Registration, parts.Tray, logger)
	clientAPI := api.NewClientAPI(parts.Clients, logger)
	lifecycleAPI := api.NewLifecycleAPI(deploy, logger)

	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)
	if authMiddleware == nil {
		authMiddleware = func(h http.Handler) http.Handler { return h }
	}

	open := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(handlerFunc))
	}
	protected := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(authMiddleware(handlerFunc)))
	}

	// Events
	open("POST /api/v1/push", eventAPI.Push)
	open("POST /api/v1/notificationclick", eventAPI.NotificationClick)
	open("GET /api/v1/notifications", eventAPI.ListNotifications)

	// Client windows
	open("POST /api/v1/clients", clientAPI.Register)
	open("GET /api/v1/clients", clientAPI.List)
	open("GET /api/v1/clients/{id}", clientAPI.Get)
	open("PUT /api/v1/clients/{id}", clientAPI.Navigate)
	open("DELETE /api/v1/clients/{id}", clientAPI.Forget)

	// Deploy control
	open("GET /api/v1/lifecycle", lifecycleAPI.Status)
	protected("POST /api/v1/lifecycle/update", lifecycleAPI.Update)
	protected("POST /api/v1/lifecycle/activate", lifecycleAPI.ActivateWaiting)

	// Device registration
	if parts.DeviceStore != nil {
		deviceAPI := api.NewDeviceAPI(parts.DeviceStore, logger)
		protected("POST /api/v1/register/fcm", deviceAPI.RegisterFCM)
		protected("POST /api/v1/register/apns", deviceAPI.RegisterAPNS)
		protected("POST /api/v1/register/web", deviceAPI.RegisterWeb)
		protected("POST /api/v1/unregister/fcm", deviceAPI.UnregisterFCM)
		protected("POST /api/v1/unregister/apns", deviceAPI.UnregisterAPNS)
		protected("POST /api/v1/unregister/web", deviceAPI.UnregisterWeb)
	}

	// CORS preflight for the API namespace
	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	// Everything else is a fetch through the worker.
	mux.Handle("/", fetchAPI)

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		deployment:      deploy,
		registration:    parts.Registration,
		logger:          logger,
	}, nil
}

// Install registers the configured worker version. A failed install leaves
// the service passing requests through, and can be retried from the
// lifecycle endpoint.
func (w *Wrapper) Install(ctx context.Context) error {
	if err := w.deployment.Update(ctx); err != nil {
		return err
	}
	status := w.deployment.Status()
	w.logger.Info("Worker registered", "active", status.Active, "waiting", status.Waiting)
	return nil
}

func (w *Wrapper) Start(ctx context.Context) error {
	if err := w.Install(ctx); err != nil {
		w.logger.Warn("Initial install failed; serving from network", "err", err)
	}
	if w.pipelineService != nil {
		w.logger.Info("Push pipeline starting...")
		if err := w.pipelineService.Start(ctx); err != nil {
			return fmt.Errorf("failed to start processing service: %w", err)
		}
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if w.pipelineService != nil {
		if err := w.pipelineService.Stop(ctx); err != nil {
			w.logger.Error("Processing pipeline shutdown failed.", "err", err)
			finalErr = err
		}
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	if err := w.registration.Close(ctx); err != nil {
		w.logger.Error("Worker drain failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
