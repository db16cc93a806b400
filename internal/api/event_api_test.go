package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-shellworker/internal/api"
	"github.com/tinywideclouds/go-shellworker/internal/display"
	"github.com/tinywideclouds/go-shellworker/pkg/worker"
)

type MockEventRouter struct {
	mock.Mock
}

func (m *MockEventRouter) Push(ctx context.Context, payload []byte) (worker.Descriptor, error) {
	args := m.Called(ctx, payload)
	return args.Get(0).(worker.Descriptor), args.Error(1)
}

func (m *MockEventRouter) NotificationClick(ctx context.Context, d worker.Descriptor) error {
	return m.Called(ctx, d).Error(0)
}

func setupEventAPI() (*api.EventAPI, *MockEventRouter, *display.Tray) {
	router := new(MockEventRouter)
	tray := display.NewTray(newTestLogger())
	return api.NewEventAPI(router, tray, newTestLogger()), router, tray
}

func TestPush(t *testing.T) {
	t.Run("Passes raw body and returns descriptor", func(t *testing.T) {
		apiHandler, router, _ := setupEventAPI()
		body := []byte(`{"title":"Hi"}`)
		router.On("Push", mock.Anything, body).Return(worker.Descriptor{ID: "n-1", Title: "Hi"}, nil)

		w := httptest.NewRecorder()
		apiHandler.Push(w, httptest.NewRequest(http.MethodPost, "/api/v1/push", bytes.NewReader(body)))

		require.Equal(t, http.StatusCreated, w.Code)
		var shown worker.Descriptor
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &shown))
		assert.Equal(t, "n-1", shown.ID)
		router.AssertExpectations(t)
	})

	t.Run("Empty body is a push without payload", func(t *testing.T) {
		apiHandler, router, _ := setupEventAPI()
		router.On("Push", mock.Anything, []byte(nil)).Return(worker.Descriptor{ID: "n-2"}, nil)

		w := httptest.NewRecorder()
		apiHandler.Push(w, httptest.NewRequest(http.MethodPost, "/api/v1/push", nil))

		assert.Equal(t, http.StatusCreated, w.Code)
		router.AssertExpectations(t)
	})

	t.Run("Oversized payload", func(t *testing.T) {
		apiHandler, router, _ := setupEventAPI()

		w := httptest.NewRecorder()
		apiHandler.Push(w, httptest.NewRequest(http.MethodPost, "/api/v1/push", strings.NewReader(strings.Repeat("a", 4097))))

		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		router.AssertNotCalled(t, "Push", mock.Anything, mock.Anything)
	})

	t.Run("No active worker", func(t *testing.T) {
		apiHandler, router, _ := setupEventAPI()
		router.On("Push", mock.Anything, mock.Anything).Return(worker.Descriptor{}, worker.ErrNotActive)

		w := httptest.NewRecorder()
		apiHandler.Push(w, httptest.NewRequest(http.MethodPost, "/api/v1/push", strings.NewReader("hello")))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("Display failure", func(t *testing.T) {
		apiHandler, router, _ := setupEventAPI()
		router.On("Push", mock.Anything, mock.Anything).Return(worker.Descriptor{}, errors.New("tray full"))

		w := httptest.NewRecorder()
		apiHandler.Push(w, httptest.NewRequest(http.MethodPost, "/api/v1/push", strings.NewReader("hello")))

		assert.Equal(t, http.StatusBadGateway, w.Code)
	})
}

func TestNotificationClick(t *testing.T) {
	t.Run("By visible id", func(t *testing.T) {
		apiHandler, router, tray := setupEventAPI()
		shown, err := tray.Show(context.Background(), worker.Descriptor{Title: "Hi", Data: worker.NotificationData{URL: "/inbox"}})
		require.NoError(t, err)

		router.On("NotificationClick", mock.Anything, shown).Return(nil)

		w := httptest.NewRecorder()
		apiHandler.NotificationClick(w, httptest.NewRequest(http.MethodPost, "/api/v1/notificationclick",
			strings.NewReader(`{"id":"`+shown.ID+`"}`)))

		assert.Equal(t, http.StatusNoContent, w.Code)
		router.AssertExpectations(t)
	})

	t.Run("By descriptor", func(t *testing.T) {
		apiHandler, router, _ := setupEventAPI()
		router.On("NotificationClick", mock.Anything, mock.MatchedBy(func(d worker.Descriptor) bool {
			return d.Data.URL == "/settings" && d.Tag == "prefs"
		})).Return(nil)

		w := httptest.NewRecorder()
		apiHandler.NotificationClick(w, httptest.NewRequest(http.MethodPost, "/api/v1/notificationclick",
			strings.NewReader(`{"notification":{"tag":"prefs","data":{"url":"/settings"}}}`)))

		assert.Equal(t, http.StatusNoContent, w.Code)
		router.AssertExpectations(t)
	})

	t.Run("Unknown id", func(t *testing.T) {
		apiHandler, _, _ := setupEventAPI()

		w := httptest.NewRecorder()
		apiHandler.NotificationClick(w, httptest.NewRequest(http.MethodPost, "/api/v1/notificationclick",
			strings.NewReader(`{"id":"missing"}`)))

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Routing failure still consumes the click", func(t *testing.T) {
		apiHandler, router, _ := setupEventAPI()
		router.On("NotificationClick", mock.Anything, mock.Anything).Return(errors.New("focus failed"))

		w := httptest.NewRecorder()
		apiHandler.NotificationClick(w, httptest.NewRequest(http.MethodPost, "/api/v1/notificationclick",
			strings.NewReader(`{"notification":{"title":"x"}}`)))

		assert.Equal(t, http.StatusNoContent, w.Code)
	})
}

func TestListNotifications(t *testing.T) {
	apiHandler, _, tray := setupEventAPI()
	_, _ = tray.Show(context.Background(), worker.Descriptor{Title: "one", Tag: "a"})
	_, _ = tray.Show(context.Background(), worker.Descriptor{Title: "two", Tag: "a"})

	w := httptest.NewRecorder()
	apiHandler.ListNotifications(w, httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var visible []worker.Descriptor
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &visible))
	require.Len(t, visible, 1)
	assert.Equal(t, "two", visible[0].Title)
}
