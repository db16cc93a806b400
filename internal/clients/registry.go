// Package clients tracks the application windows open under the worker's
// origin. Windows register themselves and report navigations; the worker
// focuses, opens and claims them.
package clients

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tinywideclouds/go-shellworker/pkg/worker"
)

var ErrUnknownClient = errors.New("unknown client")

// Window is a snapshot of one open window.
type Window struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	Controller string    `json:"controller,omitempty"`
	Focused    bool      `json:"focused"`
	OpenedBy   string    `json:"opened_by,omitempty"`
	SeenAt     time.Time `json:"seen_at"`
}

type Registry struct {
	mu      sync.RWMutex
	windows map[string]*Window
	order   []string
	now     func() time.Time
	logger  *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		windows: make(map[string]*Window),
		now:     time.Now,
		logger:  logger.With("component", "ClientRegistry"),
	}
}

// Register records a newly opened window. It is uncontrolled until claimed.
func (r *Registry) Register(url string) Window {
	return r.add(url, "")
}

func (r *Registry) add(url, openedBy string) Window {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := &Window{ID: uuid.NewString(), URL: url, OpenedBy: openedBy, SeenAt: r.now()}
	r.windows[w.ID] = w
	r.order = append(r.order, w.ID)
	r.logger.Debug("Client registered", "client_id", w.ID, "url", url)
	return *w
}

// Navigate updates a window's location and marks it seen.
func (r *Registry) Navigate(id, url string) (Window, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.windows[id]
	if !ok {
		return Window{}, ErrUnknownClient
	}
	w.URL = url
	w.SeenAt = r.now()
	return *w, nil
}

// Forget removes a closed window.
func (r *Registry) Forget(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.windows[id]; !ok {
		return false
	}
	delete(r.windows, id)
	for i, wid := range r.order {
		if wid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

func (r *Registry) Get(id string) (Window, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.windows[id]
	if !ok {
		return Window{}, false
	}
	return *w, true
}

// List returns every window in registration order.
func (r *Registry) List() []Window {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Window, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.windows[id])
	}
	return out
}

// ControlledBy counts windows controlled by the given version.
func (r *Registry) ControlledBy(version string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, w := range r.windows {
		if w.Controller == version {
			n++
		}
	}
	return n
}

func (r *Registry) focus(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	target, ok := r.windows[id]
	if !ok {
		return ErrUnknownClient
	}
	for _, w := range r.windows {
		w.Focused = false
	}
	target.Focused = true
	return nil
}

// --- worker.ClientSet ---

func (r *Registry) MatchAll(_ context.Context) ([]worker.Client, error) {
	windows := r.List()
	out := make([]worker.Client, 0, len(windows))
	for _, w := range windows {
		out = append(out, &handle{registry: r, id: w.ID, url: w.URL})
	}
	return out, nil
}

// OpenWindow records a window opened on the worker's behalf and focuses it.
func (r *Registry) OpenWindow(_ context.Context, url string) (worker.Client, error) {
	w := r.add(url, "worker")
	if err := r.focus(w.ID); err != nil {
		return nil, err
	}
	return &handle{registry: r, id: w.ID, url: w.URL}, nil
}

func (r *Registry) Claim(_ context.Context, version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.windows {
		w.Controller = version
	}
	r.logger.Info("Clients claimed", "controller", version, "count", len(r.windows))
	return nil
}

type handle struct {
	registry *Registry
	id       string
	url      string
}

func (h *handle) ID() string  { return h.id }
func (h *handle) URL() string { return h.url }

func (h *handle) Focus(_ context.Context) error {
	return h.registry.focus(h.id)
}
