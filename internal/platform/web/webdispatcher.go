package web

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"

	"github.com/tinywideclouds/go-shellworker/pkg/worker"
	"github.com/tinywideclouds/go-shellworker/shellworker/config"
)

// topicPattern is what a push service accepts as a Topic header.
var topicPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,32}$`)

type Dispatcher struct {
	subscriber string
	privateKey string
	publicKey  string
	ttl        int
	logger     *slog.Logger
	httpClient *http.Client
}

func NewDispatcher(cfg config.VapidConfig, logger *slog.Logger) *Dispatcher {
	ttl := cfg.TTLSeconds
	if ttl <= 0 {
		ttl = 60
	}
	return &Dispatcher{
		privateKey: cfg.PrivateKey,
		publicKey:  cfg.PublicKey,
		subscriber: cfg.SubscriberEmail,
		ttl:        ttl,
		logger:     logger.With("component", "WebPushDispatcher"),
		httpClient: &http.Client{},
	}
}

// Payload is the push message body. It has the same shape the push router
// decodes, so a browser-side worker reading it gets the same descriptor.
func Payload(d worker.Descriptor) ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"title": d.Title,
		"body":  d.Body,
		"tag":   d.Tag,
		"icon":  d.Icon,
		"badge": d.Badge,
		"url":   d.Data.URL,
		"data":  map[string]string{"url": d.Data.URL},
	})
}

// Dispatch returns the subscriptions the push service reported as gone.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	subs []notification.WebPushSubscription,
	desc worker.Descriptor,
) (string, []notification.WebPushSubscription, error) {

	var invalidSubs []notification.WebPushSubscription
	successCount := 0
	failureCount := 0

	payloadBytes, err := Payload(desc)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	// The tag doubles as the push Topic so the push service collapses
	// undelivered messages the same way the tray does.
	topic := ""
	if topicPattern.MatchString(desc.Tag) {
		topic = desc.Tag
	}

	for _, sub := range subs {
		s := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys: webpush.Keys{
				P256dh: base64.RawURLEncoding.EncodeToString(sub.Keys.P256dh),
				Auth:   base64.RawURLEncoding.EncodeToString(sub.Keys.Auth),
			},
		}

		resp, err := webpush.SendNotificationWithContext(ctx, payloadBytes, s, &webpush.Options{
			Subscriber:      d.subscriber,
			VAPIDPublicKey:  d.publicKey,
			VAPIDPrivateKey: d.privateKey,
			TTL:             d.ttl,
			Topic:           topic,
			HTTPClient:      d.httpClient,
		})
		if err != nil {
			// Transport error (DNS, Timeout) - Log and skip, don't delete
			d.logger.Error("WebPush transport error", "endpoint", sub.Endpoint, "err", err)
			failureCount++
			continue
		}
		_ = resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusCreated:
			successCount++
		case http.StatusGone, http.StatusNotFound:
			invalidSubs = append(invalidSubs, sub)
			failureCount++
		default:
			d.logger.Warn("WebPush rejected", "status", resp.StatusCode, "endpoint", sub.Endpoint)
			failureCount++
		}
	}

	receipt := fmt.Sprintf("success:%d invalid:%d total_fail:%d", successCount, len(invalidSubs), failureCount)
	return receipt, invalidSubs, nil
}
