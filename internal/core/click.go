package core

import (
	"context"
	"fmt"

	"github.com/tinywideclouds/go-shellworker/pkg/worker"
)

// OnNotificationClick dismisses the clicked notification and brings its
// target into view: an open window already at the target is focused,
// otherwise a new one is opened.
func (w *Worker) OnNotificationClick(ctx context.Context, d worker.Descriptor) error {
	if err := w.display.Close(ctx, d); err != nil {
		w.logger.Warn("Failed to close notification", "id", d.ID, "err", err)
	}

	target := w.clickTarget(d.Data.URL)

	clients, err := w.clients.MatchAll(ctx)
	if err != nil {
		w.logger.Warn("Failed to list clients; opening new window", "err", err)
	}
	for _, c := range clients {
		if w.sameLocation(c.URL(), target) {
			if err := c.Focus(ctx); err != nil {
				return fmt.Errorf("focus client %s: %w", c.ID(), err)
			}
			w.logger.Debug("Focused existing client", "client_id", c.ID(), "url", target)
			return nil
		}
	}

	if _, err := w.clients.OpenWindow(ctx, target); err != nil {
		return fmt.Errorf("open window %s: %w", target, err)
	}
	w.logger.Debug("Opened new client", "url", target)
	return nil
}

// clickTarget resolves the notification URL against the origin, falling back
// to the default URL when it is empty or malformed.
func (w *Worker) clickTarget(raw string) string {
	if raw != "" {
		if u, err := w.resolve(raw); err == nil {
			return u.String()
		}
	}
	u, err := w.resolve(w.cfg.Defaults.URL)
	if err != nil {
		return w.cfg.Origin.String()
	}
	return u.String()
}

// sameLocation compares two locations resolved against the origin, so a
// window that reported a relative URL still matches. Fragments are ignored.
func (w *Worker) sameLocation(a, b string) bool {
	ua, err := w.resolve(a)
	if err != nil {
		return false
	}
	ub, err := w.resolve(b)
	if err != nil {
		return false
	}
	ua.Fragment, ua.RawFragment = "", ""
	ub.Fragment, ub.RawFragment = "", ""
	return ua.String() == ub.String()
}
