package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-shellworker/internal/clients"
)

// ClientAPI lets application windows announce themselves, report
// navigations and learn whether the worker focused them.
type ClientAPI struct {
	Registry *clients.Registry
	Logger   *slog.Logger
}

func NewClientAPI(registry *clients.Registry, logger *slog.Logger) *ClientAPI {
	return &ClientAPI{
		Registry: registry,
		Logger:   logger,
	}
}

type clientLocation struct {
	URL string `json:"url"`
}

func (api *ClientAPI) Register(w http.ResponseWriter, r *http.Request) {
	var req clientLocation
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.URL == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing url")
		return
	}
	writeJSON(w, http.StatusCreated, api.Registry.Register(req.URL))
}

func (api *ClientAPI) Navigate(w http.ResponseWriter, r *http.Request) {
	var req clientLocation
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.URL == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing url")
		return
	}
	win, err := api.Registry.Navigate(r.PathValue("id"), req.URL)
	if errors.Is(err, clients.ErrUnknownClient) {
		response.WriteJSONError(w, http.StatusNotFound, "unknown client")
		return
	}
	writeJSON(w, http.StatusOK, win)
}

func (api *ClientAPI) Get(w http.ResponseWriter, r *http.Request) {
	win, ok := api.Registry.Get(r.PathValue("id"))
	if !ok {
		response.WriteJSONError(w, http.StatusNotFound, "unknown client")
		return
	}
	writeJSON(w, http.StatusOK, win)
}

func (api *ClientAPI) Forget(w http.ResponseWriter, r *http.Request) {
	if !api.Registry.Forget(r.PathValue("id")) {
		response.WriteJSONError(w, http.StatusNotFound, "unknown client")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (api *ClientAPI) List(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, api.Registry.List())
}
