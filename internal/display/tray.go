// Package display shows notifications: the local tray of visible
// notifications and the fan-out that mirrors them to registered devices.
package display

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/tinywideclouds/go-shellworker/pkg/worker"
)

var ErrUnknownNotification = errors.New("unknown notification")

// Tray is the set of currently visible notifications. A notification with a
// tag replaces the visible one carrying the same tag, keeping its position.
type Tray struct {
	mu      sync.RWMutex
	visible []worker.Descriptor
	logger  *slog.Logger
}

func NewTray(logger *slog.Logger) *Tray {
	return &Tray{logger: logger.With("component", "Tray")}
}

func (t *Tray) Show(_ context.Context, d worker.Descriptor) (worker.Descriptor, error) {
	d.ID = uuid.NewString()

	t.mu.Lock()
	defer t.mu.Unlock()
	if d.Tag != "" {
		for i, v := range t.visible {
			if v.Tag == d.Tag {
				t.visible[i] = d
				t.logger.Debug("Notification replaced", "tag", d.Tag, "id", d.ID)
				return d, nil
			}
		}
	}
	t.visible = append(t.visible, d)
	t.logger.Debug("Notification shown", "tag", d.Tag, "id", d.ID)
	return d, nil
}

// Close dismisses by ID, or by tag when the descriptor has no ID.
func (t *Tray) Close(_ context.Context, d worker.Descriptor) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, v := range t.visible {
		if (d.ID != "" && v.ID == d.ID) || (d.ID == "" && d.Tag != "" && v.Tag == d.Tag) {
			t.visible = append(t.visible[:i], t.visible[i+1:]...)
			return nil
		}
	}
	return ErrUnknownNotification
}

// Get looks up a visible notification.
func (t *Tray) Get(id string) (worker.Descriptor, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, v := range t.visible {
		if v.ID == id {
			return v, true
		}
	}
	return worker.Descriptor{}, false
}

// Visible returns the notifications on screen, oldest first.
func (t *Tray) Visible() []worker.Descriptor {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]worker.Descriptor(nil), t.visible...)
}
