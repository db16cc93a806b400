package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-shellworker/internal/api"
)

type MockLifecycle struct {
	mock.Mock
}

func (m *MockLifecycle) Update(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockLifecycle) ActivateWaiting(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockLifecycle) Status() api.VersionStatus {
	return m.Called().Get(0).(api.VersionStatus)
}

func TestLifecycleAPI(t *testing.T) {
	status := api.VersionStatus{Active: "shell-v2", ActiveState: "activated"}

	t.Run("Update", func(t *testing.T) {
		lifecycle := new(MockLifecycle)
		lifecycle.On("Update", mock.Anything).Return(nil)
		lifecycle.On("Status").Return(status)

		w := httptest.NewRecorder()
		api.NewLifecycleAPI(lifecycle, newTestLogger()).Update(w, httptest.NewRequest(http.MethodPost, "/api/v1/lifecycle/update", nil))

		require.Equal(t, http.StatusOK, w.Code)
		var got api.VersionStatus
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, status, got)
	})

	t.Run("Update failure keeps previous version", func(t *testing.T) {
		lifecycle := new(MockLifecycle)
		lifecycle.On("Update", mock.Anything).Return(errors.New("install failed"))

		w := httptest.NewRecorder()
		api.NewLifecycleAPI(lifecycle, newTestLogger()).Update(w, httptest.NewRequest(http.MethodPost, "/api/v1/lifecycle/update", nil))

		assert.Equal(t, http.StatusConflict, w.Code)
		lifecycle.AssertNotCalled(t, "Status")
	})

	t.Run("Activate without waiting worker", func(t *testing.T) {
		lifecycle := new(MockLifecycle)
		lifecycle.On("ActivateWaiting", mock.Anything).Return(errors.New("no waiting worker"))

		w := httptest.NewRecorder()
		api.NewLifecycleAPI(lifecycle, newTestLogger()).ActivateWaiting(w, httptest.NewRequest(http.MethodPost, "/api/v1/lifecycle/activate", nil))

		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("Status", func(t *testing.T) {
		lifecycle := new(MockLifecycle)
		lifecycle.On("Status").Return(status)

		w := httptest.NewRecorder()
		api.NewLifecycleAPI(lifecycle, newTestLogger()).Status(w, httptest.NewRequest(http.MethodGet, "/api/v1/lifecycle", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "shell-v2")
	})
}
