// Package network performs the network leg of intercepted requests.
package network

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-shellworker/pkg/worker"
)

// hopHeaders are connection-scoped and never forwarded or stored.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Fetcher buffers whole upstream responses into snapshots.
type Fetcher struct {
	client  *http.Client
	maxBody int64
	logger  *slog.Logger
}

// NewFetcher creates a fetcher. A maxBody of zero or less means unlimited.
func NewFetcher(client *http.Client, maxBody int64, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	return &Fetcher{
		client:  client,
		maxBody: maxBody,
		logger:  logger.With("component", "Fetcher"),
	}
}

func (f *Fetcher) Fetch(ctx context.Context, req *worker.Request) (*worker.Response, error) {
	var reqBody io.Reader
	if len(req.Body) > 0 {
		reqBody = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	stripHop(httpReq.Header)

	res, err := f.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	var body io.Reader = res.Body
	if f.maxBody > 0 {
		body = io.LimitReader(res.Body, f.maxBody+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read body of %s: %w", req.URL, err)
	}
	if f.maxBody > 0 && int64(len(data)) > f.maxBody {
		return nil, fmt.Errorf("body of %s exceeds %d bytes", req.URL, f.maxBody)
	}

	header := res.Header.Clone()
	stripHop(header)
	f.logger.Debug("Fetched", "url", req.URL.String(), "status", res.StatusCode, "bytes", len(data))
	return &worker.Response{Status: res.StatusCode, Header: header, Body: data}, nil
}

func stripHop(h http.Header) {
	for _, k := range hopHeaders {
		h.Del(k)
	}
}
