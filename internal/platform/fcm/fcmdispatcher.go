// --- File: internal/platform/fcm/fcmdispatcher.go ---
package fcm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"firebase.google.com/go/v4/messaging"

	"github.com/tinywideclouds/go-shellworker/pkg/worker"
)

// MessagingClient defines the subset of the Firebase Messaging API we use.
type MessagingClient interface {
	SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

type Dispatcher struct {
	client MessagingClient
	logger *slog.Logger
}

// NewDispatcher accepts the concrete client but stores it as the interface.
// *messaging.Client satisfies it.
func NewDispatcher(client MessagingClient, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client: client,
		logger: logger.With("component", "FCMDispatcher"),
	}
}

// buildMessage carries the tag on every platform block so Android and
// browsers collapse repeats the way the tray does.
func buildMessage(tokens []string, d worker.Descriptor) *messaging.MulticastMessage {
	data := map[string]string{"url": d.Data.URL}
	if d.Tag != "" {
		data["tag"] = d.Tag
	}

	msg := &messaging.MulticastMessage{
		Tokens: tokens,
		Data:   data,
		Notification: &messaging.Notification{
			Title: d.Title,
			Body:  d.Body,
		},
		Android: &messaging.AndroidConfig{
			CollapseKey: d.Tag,
			Notification: &messaging.AndroidNotification{
				Tag: d.Tag,
			},
		},
		Webpush: &messaging.WebpushConfig{
			Notification: &messaging.WebpushNotification{
				Title: d.Title,
				Body:  d.Body,
				Icon:  d.Icon,
				Badge: d.Badge,
				Tag:   d.Tag,
			},
		},
	}
	// FCM only accepts absolute https links.
	if strings.HasPrefix(d.Data.URL, "https://") {
		msg.Webpush.FCMOptions = &messaging.WebpushFCMOptions{Link: d.Data.URL}
	}
	return msg
}

func (d *Dispatcher) Dispatch(ctx context.Context, tokens []string, desc worker.Descriptor) (string, []string, error) {
	if len(tokens) == 0 {
		return "skipped: no tokens", nil, nil
	}

	br, err := d.client.SendEachForMulticast(ctx, buildMessage(tokens, desc))
	if err != nil {
		if messaging.IsInvalidArgument(err) {
			d.logger.Error("FCM rejected batch as InvalidArgument (dropping)", "err", err)
			return "skipped: invalid_argument", nil, nil
		}
		return "", nil, fmt.Errorf("fcm transport failed: %w", err)
	}

	var invalidTokens []string
	failedOther := 0

	if br.FailureCount > 0 {
		for idx, resp := range br.Responses {
			if resp.Success {
				continue
			}
			if messaging.IsInvalidArgument(resp.Error) || messaging.IsRegistrationTokenNotRegistered(resp.Error) {
				invalidTokens = append(invalidTokens, tokens[idx])
				continue
			}
			failedOther++
		}
	}

	receipt := fmt.Sprintf("success:%d invalid:%d failed:%d", br.SuccessCount, len(invalidTokens), failedOther)
	if failedOther > 0 {
		return receipt, invalidTokens, fmt.Errorf("batch had %d delivery errors", failedOther)
	}
	return receipt, invalidTokens, nil
}
