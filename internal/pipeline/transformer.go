// --- File: internal/pipeline/transformer.go ---
// Package pipeline turns Pub/Sub push messages into worker push events.
package pipeline

import (
	"context"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
)

// PushEvent is one delivered push. A nil Data means the push carried no
// payload.
type PushEvent struct {
	MessageID string
	Data      []byte
}

// PushEventTransformer wraps the raw message payload. It never skips: any
// payload, even one that is not JSON, still produces a notification.
func PushEventTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*PushEvent, bool, error) {
	event := &PushEvent{MessageID: msg.ID}
	if len(msg.Payload) > 0 {
		event.Data = append([]byte(nil), msg.Payload...)
	}
	return event, false, nil
}
