package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"

	"github.com/tinywideclouds/go-shellworker/pkg/dispatch"
)

const (
	platformFCM  = "fcm"
	platformAPNS = "apns"
	platformWeb  = "web"
)

// FirestoreStore implements dispatch.DeviceStore using Google Cloud Firestore.
type FirestoreStore struct {
	client *firestore.Client
}

func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

// deviceRecord holds either a platform token or a web subscription.
type deviceRecord struct {
	Platform        string                            `firestore:"platform"`
	Token           string                            `firestore:"token,omitempty"`
	WebSubscription *notification.WebPushSubscription `firestore:"web_subscription,omitempty"`
	UpdatedAt       time.Time                         `firestore:"updated_at"`
}

func (s *FirestoreStore) registerToken(ctx context.Context, user urn.URN, platform, token string) error {
	record := deviceRecord{
		Platform:  platform,
		Token:     token,
		UpdatedAt: time.Now(),
	}
	// Hashed token as doc ID prevents duplicates and hot-spotting.
	_, err := s.deviceRef(user, hashKey(platform, token)).Set(ctx, record)
	return err
}

func (s *FirestoreStore) unregister(ctx context.Context, user urn.URN, platform, id string) error {
	_, err := s.deviceRef(user, hashKey(platform, id)).Delete(ctx)
	return err
}

func (s *FirestoreStore) RegisterFCM(ctx context.Context, user urn.URN, token string) error {
	return s.registerToken(ctx, user, platformFCM, token)
}

func (s *FirestoreStore) UnregisterFCM(ctx context.Context, user urn.URN, token string) error {
	return s.unregister(ctx, user, platformFCM, token)
}

func (s *FirestoreStore) RegisterAPNS(ctx context.Context, user urn.URN, token string) error {
	return s.registerToken(ctx, user, platformAPNS, token)
}

func (s *FirestoreStore) UnregisterAPNS(ctx context.Context, user urn.URN, token string) error {
	return s.unregister(ctx, user, platformAPNS, token)
}

// RegisterWeb keys the subscription by its endpoint URL.
func (s *FirestoreStore) RegisterWeb(ctx context.Context, user urn.URN, sub notification.WebPushSubscription) error {
	record := deviceRecord{
		Platform:        platformWeb,
		WebSubscription: &sub,
		UpdatedAt:       time.Now(),
	}
	_, err := s.deviceRef(user, hashKey(platformWeb, sub.Endpoint)).Set(ctx, record)
	return err
}

func (s *FirestoreStore) UnregisterWeb(ctx context.Context, user urn.URN, endpoint string) error {
	return s.unregister(ctx, user, platformWeb, endpoint)
}

func (s *FirestoreStore) Fetch(ctx context.Context, user urn.URN) (*dispatch.Devices, error) {
	iter := s.devicesCollection(user).Documents(ctx)
	defer iter.Stop()

	devices := &dispatch.Devices{
		FCMTokens:        make([]string, 0),
		APNSTokens:       make([]string, 0),
		WebSubscriptions: make([]notification.WebPushSubscription, 0),
	}

	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var record deviceRecord
		if err := doc.DataTo(&record); err != nil {
			// Skip corrupt rows.
			continue
		}

		switch {
		case record.Platform == platformWeb && record.WebSubscription != nil:
			devices.WebSubscriptions = append(devices.WebSubscriptions, *record.WebSubscription)
		case record.Platform == platformAPNS && record.Token != "":
			devices.APNSTokens = append(devices.APNSTokens, record.Token)
		case record.Token != "":
			devices.FCMTokens = append(devices.FCMTokens, record.Token)
		}
	}

	return devices, nil
}

// deviceRef: users/{userID}/devices/{deviceHash}
func (s *FirestoreStore) deviceRef(user urn.URN, docID string) *firestore.DocumentRef {
	return s.devicesCollection(user).Doc(docID)
}

func (s *FirestoreStore) devicesCollection(user urn.URN) *firestore.CollectionRef {
	return s.client.Collection("users").Doc(user.String()).Collection("devices")
}

func hashKey(platform, id string) string {
	sum := sha256.Sum256([]byte(platform + ":" + id))
	return hex.EncodeToString(sum[:])
}
