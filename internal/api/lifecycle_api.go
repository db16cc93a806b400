package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"
)

// VersionStatus describes the worker slots of the registration.
type VersionStatus struct {
	Active       string `json:"active,omitempty"`
	ActiveState  string `json:"active_state,omitempty"`
	Waiting      string `json:"waiting,omitempty"`
	WaitingState string `json:"waiting_state,omitempty"`
}

// Lifecycle is what the service exposes for deploy control.
type Lifecycle interface {
	// Update installs the configured version and activates it as the
	// registration allows.
	Update(ctx context.Context) error
	// ActivateWaiting promotes a waiting version.
	ActivateWaiting(ctx context.Context) error
	Status() VersionStatus
}

type LifecycleAPI struct {
	Lifecycle Lifecycle
	Logger    *slog.Logger
}

func NewLifecycleAPI(lifecycle Lifecycle, logger *slog.Logger) *LifecycleAPI {
	return &LifecycleAPI{
		Lifecycle: lifecycle,
		Logger:    logger,
	}
}

func (api *LifecycleAPI) Update(w http.ResponseWriter, r *http.Request) {
	if err := api.Lifecycle.Update(r.Context()); err != nil {
		api.Logger.Error("Lifecycle update failed", "err", err)
		response.WriteJSONError(w, http.StatusConflict, "install failed; previous version kept")
		return
	}
	writeJSON(w, http.StatusOK, api.Lifecycle.Status())
}

func (api *LifecycleAPI) ActivateWaiting(w http.ResponseWriter, r *http.Request) {
	if err := api.Lifecycle.ActivateWaiting(r.Context()); err != nil {
		response.WriteJSONError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, api.Lifecycle.Status())
}

func (api *LifecycleAPI) Status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, api.Lifecycle.Status())
}
