package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-shellworker/pkg/worker"
)

// PushRouter is the part of the registration the processor drives.
type PushRouter interface {
	Push(ctx context.Context, payload []byte) (worker.Descriptor, error)
}

// NewProcessor routes each push event to the active worker. Display failures
// are logged and acknowledged: a notification is never retried.
func NewProcessor(router PushRouter, logger *slog.Logger) messagepipeline.StreamProcessor[PushEvent] {
	return func(ctx context.Context, original messagepipeline.Message, event *PushEvent) error {
		procLogger := logger.With("pubsub_msg_id", original.ID)

		shown, err := router.Push(ctx, event.Data)
		switch {
		case errors.Is(err, worker.ErrNotActive):
			procLogger.Warn("No active worker; dropping push")
		case err != nil:
			procLogger.Error("Push display failed", "err", err)
		default:
			procLogger.Info("Push displayed", "notification_id", shown.ID, "tag", shown.Tag)
		}
		return nil
	}
}
