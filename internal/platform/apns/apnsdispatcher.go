// --- File: internal/platform/apns/apnsdispatcher.go ---
// Package apns provides the client for the Apple Push Notification Service.
package apns

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"

	"github.com/tinywideclouds/go-shellworker/pkg/worker"
)

// maxCollapseID is the APNs limit on apns-collapse-id.
const maxCollapseID = 64

// APNSClient defines the subset of the apns2.Client methods we use.
type APNSClient interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

type Dispatcher struct {
	client APNSClient
	topic  string // App Bundle ID
	logger *slog.Logger
}

// Config holds the credentials required to sign APNs tokens.
type Config struct {
	KeyID    string
	TeamID   string
	BundleID string
	// P8KeyContent is the raw string content of the .p8 file
	P8KeyContent string
	Sandbox      bool
}

// NewDispatcher parses the P8 key immediately to fail fast on bad credentials.
func NewDispatcher(cfg Config, logger *slog.Logger) (*Dispatcher, error) {
	authKey, err := token.AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})
	if cfg.Sandbox {
		client = client.Development()
	} else {
		client = client.Production()
	}

	return NewDispatcherWithClient(client, cfg.BundleID, logger), nil
}

func NewDispatcherWithClient(client APNSClient, bundleID string, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client: client,
		topic:  bundleID,
		logger: logger.With("component", "APNSDispatcher"),
	}
}

func buildNotification(deviceToken, topic string, d worker.Descriptor) *apns2.Notification {
	p := payload.NewPayload().
		AlertTitle(d.Title).
		AlertBody(d.Body).
		Custom("url", d.Data.URL)
	if d.Tag != "" {
		p = p.ThreadID(d.Tag)
	}

	n := &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       topic,
		Payload:     p,
	}
	if d.Tag != "" && len(d.Tag) <= maxCollapseID {
		n.CollapseID = d.Tag
	}
	return n
}

// Dispatch sends one request per token; APNs has no multicast endpoint.
func (d *Dispatcher) Dispatch(ctx context.Context, tokens []string, desc worker.Descriptor) (string, []string, error) {
	if len(tokens) == 0 {
		return "skipped: no tokens", nil, nil
	}

	var invalidTokens []string
	successCount := 0
	failureCount := 0

	for _, deviceToken := range tokens {
		res, err := d.client.PushWithContext(ctx, buildNotification(deviceToken, d.topic, desc))
		if err != nil {
			d.logger.Error("APNs transport failed", "token", deviceToken, "err", err)
			failureCount++
			continue
		}

		if res.Sent() {
			successCount++
			continue
		}
		failureCount++
		switch res.Reason {
		case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
			invalidTokens = append(invalidTokens, deviceToken)
		default:
			d.logger.Warn("APNs rejected notification", "reason", res.Reason, "status", res.StatusCode)
		}
	}

	receipt := fmt.Sprintf("success:%d invalid:%d total_fail:%d", successCount, len(invalidTokens), failureCount)
	return receipt, invalidTokens, nil
}
