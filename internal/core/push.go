package core

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tinywideclouds/go-shellworker/pkg/worker"
)

// BuildDescriptor turns a push payload into a notification descriptor.
//
// A nil payload means no payload at all and yields the defaults. A JSON object
// is merged over the defaults field by field; missing, empty or non-string
// fields keep their default. A JSON string becomes the body unquoted; anything
// else is treated as text and becomes the body. data.url takes precedence over a top-level url.
func BuildDescriptor(payload []byte, defaults NotificationDefaults) worker.Descriptor {
	d := worker.Descriptor{
		Title: defaults.Title,
		Body:  defaults.Body,
		Tag:   defaults.Tag,
		Icon:  defaults.Icon,
		Badge: defaults.Badge,
		Data:  worker.NotificationData{URL: defaults.URL},
	}
	if payload == nil {
		return d
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		text := string(payload)
		var quoted string
		if json.Unmarshal(payload, &quoted) == nil {
			text = quoted
		}
		if text != "" {
			d.Body = text
		}
		return d
	}

	override(&d.Title, fields, "title")
	override(&d.Body, fields, "body")
	override(&d.Tag, fields, "tag")
	override(&d.Icon, fields, "icon")
	override(&d.Badge, fields, "badge")
	override(&d.Data.URL, fields, "url")

	if raw, ok := fields["data"]; ok {
		var data map[string]json.RawMessage
		if json.Unmarshal(raw, &data) == nil {
			override(&d.Data.URL, data, "url")
		}
	}
	return d
}

func override(dst *string, fields map[string]json.RawMessage, key string) {
	raw, ok := fields[key]
	if !ok {
		return
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil || v == "" {
		return
	}
	*dst = v
}

// OnPush displays exactly one notification for the payload and waits for the
// display to settle. Display failures are returned for logging; they are
// never retried.
func (w *Worker) OnPush(ctx context.Context, payload []byte) (worker.Descriptor, error) {
	d := BuildDescriptor(payload, w.cfg.Defaults)

	shown, err := w.display.Show(ctx, d)
	if err != nil {
		w.logger.Warn("Failed to display notification", "tag", d.Tag, "err", err)
		return d, fmt.Errorf("display notification: %w", err)
	}
	w.logger.Debug("Notification displayed", "id", shown.ID, "tag", shown.Tag)
	return shown, nil
}
