package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-shellworker/pkg/worker"
)

// maxRequestBody bounds pass-through request bodies.
const maxRequestBody = 10 << 20

// Fetcher is the part of the registration the proxy drives.
type Fetcher interface {
	Fetch(ctx context.Context, req *worker.Request) (*worker.Response, error)
}

// FetchAPI fronts the upstream origin. Every request it receives is handed to
// the active worker as a fetch event.
type FetchAPI struct {
	Fetcher Fetcher
	Origin  *url.URL
	Logger  *slog.Logger
}

func NewFetchAPI(fetcher Fetcher, origin *url.URL, logger *slog.Logger) *FetchAPI {
	return &FetchAPI{
		Fetcher: fetcher,
		Origin:  origin,
		Logger:  logger,
	}
}

// toWorkerRequest maps an incoming request onto the origin. An absolute-form
// request line (proxy use) keeps its own host, which may be cross-origin.
func (api *FetchAPI) toWorkerRequest(r *http.Request) (*worker.Request, error) {
	var target url.URL
	if r.URL.IsAbs() {
		target = *r.URL
	} else {
		target = *api.Origin
		target.Path = r.URL.Path
		target.RawPath = r.URL.RawPath
		target.RawQuery = r.URL.RawQuery
	}

	req := &worker.Request{
		Method: r.Method,
		URL:    &target,
		Header: r.Header.Clone(),
	}
	req.Header.Del("Host")

	if r.Method != http.MethodGet && r.Method != http.MethodHead && r.Body != nil {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
		if err != nil {
			return nil, err
		}
		req.Body = body
	}
	return req, nil
}

func (api *FetchAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req, err := api.toWorkerRequest(r)
	if err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "unreadable request body")
		return
	}

	resp, err := api.Fetcher.Fetch(r.Context(), req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			api.Logger.Debug("Client went away during fetch", "url", req.URL.String())
			return
		}
		if errors.Is(err, worker.ErrNetwork) {
			api.Logger.Warn("Fetch failed with no cached fallback", "url", req.URL.String(), "err", err)
			response.WriteJSONError(w, http.StatusBadGateway, "network error")
			return
		}
		api.Logger.Error("Fetch failed", "url", req.URL.String(), "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "fetch failed")
		return
	}

	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(resp.Body)))
	w.WriteHeader(resp.Status)
	if r.Method != http.MethodHead {
		_, _ = w.Write(resp.Body)
	}
}
