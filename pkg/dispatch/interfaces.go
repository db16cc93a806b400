// --- File: pkg/dispatch/interfaces.go ---
package dispatch

import (
	"context"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"

	"github.com/tinywideclouds/go-shellworker/pkg/worker"
)

// Dispatcher delivers a notification to a batch of platform device tokens
// (FCM, APNs). It returns a receipt and the tokens the platform reported as
// dead, which the caller should unregister.
type Dispatcher interface {
	Dispatch(ctx context.Context, tokens []string, d worker.Descriptor) (string, []string, error)
}

// WebDispatcher delivers a notification to Web Push subscriptions and returns
// the subscriptions that are gone.
type WebDispatcher interface {
	Dispatch(ctx context.Context, subs []notification.WebPushSubscription, d worker.Descriptor) (string, []notification.WebPushSubscription, error)
}

// Devices are the remote display targets registered for one user.
type Devices struct {
	FCMTokens        []string                           `json:"fcm_tokens"`
	APNSTokens       []string                           `json:"apns_tokens"`
	WebSubscriptions []notification.WebPushSubscription `json:"web_subscriptions"`
}

// Empty reports whether no device is registered.
func (d *Devices) Empty() bool {
	return len(d.FCMTokens) == 0 && len(d.APNSTokens) == 0 && len(d.WebSubscriptions) == 0
}

// DeviceStore remembers where a user's notifications should be mirrored.
type DeviceStore interface {
	RegisterFCM(ctx context.Context, user urn.URN, token string) error
	UnregisterFCM(ctx context.Context, user urn.URN, token string) error

	RegisterAPNS(ctx context.Context, user urn.URN, token string) error
	UnregisterAPNS(ctx context.Context, user urn.URN, token string) error

	RegisterWeb(ctx context.Context, user urn.URN, sub notification.WebPushSubscription) error
	UnregisterWeb(ctx context.Context, user urn.URN, endpoint string) error

	// Fetch returns every registered device for the user.
	Fetch(ctx context.Context, user urn.URN) (*Devices, error)
}
