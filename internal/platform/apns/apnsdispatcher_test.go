// --- File: internal/platform/apns/apnsdispatcher_test.go ---
package apns

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"github.com/sideshow/apns2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-shellworker/pkg/worker"
)

type MockAPNSClient struct {
	mock.Mock
}

func (m *MockAPNSClient) PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error) {
	args := m.Called(n)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*apns2.Response), args.Error(1)
}

func TestBuildNotification(t *testing.T) {
	t.Run("Tag becomes thread and collapse id", func(t *testing.T) {
		n := buildNotification("token-1", "com.test.app", worker.Descriptor{
			Title: "Hello iOS",
			Body:  "body",
			Tag:   "inbox",
			Data:  worker.NotificationData{URL: "/inbox"},
		})

		assert.Equal(t, "token-1", n.DeviceToken)
		assert.Equal(t, "com.test.app", n.Topic)
		assert.Equal(t, "inbox", n.CollapseID)

		raw, err := json.Marshal(n.Payload)
		require.NoError(t, err)
		assert.Contains(t, string(raw), `"thread-id":"inbox"`)
		assert.Contains(t, string(raw), `"url":"/inbox"`)
		assert.Contains(t, string(raw), `"title":"Hello iOS"`)
	})

	t.Run("Oversized tag is not a collapse id", func(t *testing.T) {
		n := buildNotification("token-1", "com.test.app", worker.Descriptor{Tag: strings.Repeat("x", maxCollapseID+1)})
		assert.Empty(t, n.CollapseID)
	})

	t.Run("No tag", func(t *testing.T) {
		n := buildNotification("token-1", "com.test.app", worker.Descriptor{Title: "t"})
		assert.Empty(t, n.CollapseID)
		raw, err := json.Marshal(n.Payload)
		require.NoError(t, err)
		assert.NotContains(t, string(raw), "thread-id")
	})
}

func TestDispatch_Internal(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()
	desc := worker.Descriptor{Title: "Hello iOS", Tag: "inbox", Data: worker.NotificationData{URL: "/"}}

	t.Run("Happy Path - Success", func(t *testing.T) {
		mockClient := new(MockAPNSClient)
		dispatcher := NewDispatcherWithClient(mockClient, "com.test.app", logger)

		mockResponse := &apns2.Response{StatusCode: http.StatusOK}
		mockClient.On("PushWithContext", mock.MatchedBy(func(n *apns2.Notification) bool {
			return n.DeviceToken == "token-1" && n.Topic == "com.test.app"
		})).Return(mockResponse, nil)

		receipt, invalid, err := dispatcher.Dispatch(ctx, []string{"token-1"}, desc)

		require.NoError(t, err)
		assert.Empty(t, invalid)
		assert.Contains(t, receipt, "success:1")
		mockClient.AssertExpectations(t)
	})

	t.Run("Self-Healing - Bad Device Token", func(t *testing.T) {
		mockClient := new(MockAPNSClient)
		dispatcher := NewDispatcherWithClient(mockClient, "com.test.app", logger)

		mockResponse := &apns2.Response{
			StatusCode: http.StatusBadRequest,
			Reason:     apns2.ReasonBadDeviceToken,
		}
		mockClient.On("PushWithContext", mock.Anything).Return(mockResponse, nil)

		_, invalid, err := dispatcher.Dispatch(ctx, []string{"bad-token"}, desc)

		require.NoError(t, err)
		assert.Equal(t, []string{"bad-token"}, invalid)
	})

	t.Run("Transport Failure - Best Effort", func(t *testing.T) {
		mockClient := new(MockAPNSClient)
		dispatcher := NewDispatcherWithClient(mockClient, "com.test.app", logger)

		mockClient.On("PushWithContext", mock.Anything).Return(nil, errors.New("connection refused"))

		receipt, invalid, err := dispatcher.Dispatch(ctx, []string{"token-1"}, desc)

		require.NoError(t, err)
		assert.Empty(t, invalid)
		assert.Contains(t, receipt, "total_fail:1")
	})

	t.Run("No tokens", func(t *testing.T) {
		mockClient := new(MockAPNSClient)
		dispatcher := NewDispatcherWithClient(mockClient, "com.test.app", logger)

		receipt, _, err := dispatcher.Dispatch(ctx, nil, desc)
		require.NoError(t, err)
		assert.Contains(t, receipt, "skipped")
		mockClient.AssertNotCalled(t, "PushWithContext", mock.Anything)
	})
}
