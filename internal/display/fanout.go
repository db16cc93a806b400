package display

import (
	"context"
	"log/slog"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-shellworker/pkg/dispatch"
	"github.com/tinywideclouds/go-shellworker/pkg/worker"
)

// Fanout shows a notification in the tray, then mirrors it to every device
// registered for the owner. Remote delivery is best effort: failures are
// logged, dead devices are unregistered, and Show still succeeds.
type Fanout struct {
	tray   *Tray
	store  dispatch.DeviceStore
	owner  urn.URN
	fcm    dispatch.Dispatcher
	apns   dispatch.Dispatcher
	web    dispatch.WebDispatcher
	logger *slog.Logger
}

// Option configures a Fanout.
type Option func(*Fanout)

// WithFCM mirrors notifications to FCM tokens.
func WithFCM(d dispatch.Dispatcher) Option {
	return func(f *Fanout) { f.fcm = d }
}

// WithAPNS mirrors notifications to APNs tokens.
func WithAPNS(d dispatch.Dispatcher) Option {
	return func(f *Fanout) { f.apns = d }
}

// WithWeb mirrors notifications to Web Push subscriptions.
func WithWeb(d dispatch.WebDispatcher) Option {
	return func(f *Fanout) { f.web = d }
}

// NewFanout builds the displayer. A nil store disables mirroring.
func NewFanout(tray *Tray, store dispatch.DeviceStore, owner urn.URN, logger *slog.Logger, opts ...Option) *Fanout {
	f := &Fanout{
		tray:   tray,
		store:  store,
		owner:  owner,
		logger: logger.With("component", "Fanout"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Fanout) Show(ctx context.Context, d worker.Descriptor) (worker.Descriptor, error) {
	shown, err := f.tray.Show(ctx, d)
	if err != nil {
		return shown, err
	}
	if f.store != nil {
		f.mirror(ctx, shown)
	}
	return shown, nil
}

func (f *Fanout) Close(ctx context.Context, d worker.Descriptor) error {
	return f.tray.Close(ctx, d)
}

func (f *Fanout) mirror(ctx context.Context, d worker.Descriptor) {
	log := f.logger.With("owner", f.owner.String(), "notification_id", d.ID, "tag", d.Tag)

	// 1. Fetch & Fan-Out
	devices, err := f.store.Fetch(ctx, f.owner)
	if err != nil {
		log.Error("Failed to fetch devices", "err", err)
		return
	}
	if devices.Empty() {
		log.Debug("No devices registered; tray only.")
		return
	}

	// 2. Path A: FCM (Mobile)
	if f.fcm != nil && len(devices.FCMTokens) > 0 {
		receipt, invalid, err := f.fcm.Dispatch(ctx, devices.FCMTokens, d)
		for _, t := range invalid {
			if err := f.store.UnregisterFCM(ctx, f.owner, t); err != nil {
				log.Warn("Failed to delete FCM token", "token", t, "err", err)
			}
		}
		if err != nil {
			log.Error("FCM Dispatch failed", "err", err)
		} else {
			log.Info("FCM Dispatched", "receipt", receipt)
		}
	}

	// 3. Path B: APNs
	if f.apns != nil && len(devices.APNSTokens) > 0 {
		receipt, invalid, err := f.apns.Dispatch(ctx, devices.APNSTokens, d)
		for _, t := range invalid {
			if err := f.store.UnregisterAPNS(ctx, f.owner, t); err != nil {
				log.Warn("Failed to delete APNs token", "token", t, "err", err)
			}
		}
		if err != nil {
			log.Error("APNs Dispatch failed", "err", err)
		} else {
			log.Info("APNs Dispatched", "receipt", receipt)
		}
	}

	// 4. Path C: Web (VAPID), cleaned up by endpoint
	if f.web != nil && len(devices.WebSubscriptions) > 0 {
		receipt, invalid, err := f.web.Dispatch(ctx, devices.WebSubscriptions, d)
		for _, sub := range invalid {
			if err := f.store.UnregisterWeb(ctx, f.owner, sub.Endpoint); err != nil {
				log.Warn("Failed to delete Web subscription", "endpoint", sub.Endpoint, "err", err)
			}
		}
		if err != nil {
			log.Error("Web Dispatch failed", "err", err)
		} else {
			log.Info("Web Dispatched", "receipt", receipt)
		}
	}
}
