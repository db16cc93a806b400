package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-shellworker/internal/display"
	"github.com/tinywideclouds/go-shellworker/pkg/worker"
)

// maxPushPayload matches the 4 KiB ceiling push services put on payloads.
const maxPushPayload = 4096

// EventRouter is the part of the registration that handles push and click
// events.
type EventRouter interface {
	Push(ctx context.Context, payload []byte) (worker.Descriptor, error)
	NotificationClick(ctx context.Context, d worker.Descriptor) error
}

// EventAPI delivers push and notification-click events over HTTP.
type EventAPI struct {
	Router EventRouter
	Tray   *display.Tray
	Logger *slog.Logger
}

func NewEventAPI(router EventRouter, tray *display.Tray, logger *slog.Logger) *EventAPI {
	return &EventAPI{
		Router: router,
		Tray:   tray,
		Logger: logger,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Push treats the raw body as the push payload; an empty body is a push
// without payload.
func (api *EventAPI) Push(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPushPayload+1))
	if err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "unreadable payload")
		return
	}
	if len(body) > maxPushPayload {
		response.WriteJSONError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}
	var payload []byte
	if len(body) > 0 {
		payload = body
	}

	shown, err := api.Router.Push(r.Context(), payload)
	if err != nil {
		if errors.Is(err, worker.ErrNotActive) {
			response.WriteJSONError(w, http.StatusServiceUnavailable, "no active worker")
			return
		}
		api.Logger.Warn("Push: display failed", "err", err)
		response.WriteJSONError(w, http.StatusBadGateway, "display failed")
		return
	}
	writeJSON(w, http.StatusCreated, shown)
}

type notificationClickRequest struct {
	ID         string            `json:"id"`
	Descriptor worker.Descriptor `json:"notification"`
}

// NotificationClick accepts either {"id": ...} naming a visible notification
// or {"notification": {...}} carrying the descriptor back.
func (api *EventAPI) NotificationClick(w http.ResponseWriter, r *http.Request) {
	var req notificationClickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	d := req.Descriptor
	if req.ID != "" {
		visible, ok := api.Tray.Get(req.ID)
		if !ok {
			response.WriteJSONError(w, http.StatusNotFound, "unknown notification")
			return
		}
		d = visible
	}

	if err := api.Router.NotificationClick(r.Context(), d); err != nil {
		if errors.Is(err, worker.ErrNotActive) {
			response.WriteJSONError(w, http.StatusServiceUnavailable, "no active worker")
			return
		}
		// Best effort: the click is consumed either way.
		api.Logger.Warn("NotificationClick: window routing failed", "err", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (api *EventAPI) ListNotifications(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, api.Tray.Visible())
}
