package register

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/billing-sync/internal/models"
	"github.com/magabrotheeeer/billing-sync/internal/storage/repository"
)

type ServiceMock struct {
	mock.Mock
}

func (m *ServiceMock) Register(ctx context.Context, email, password string) (string, error) {
	args := m.Called(ctx, email, password)
	return args.String(0), args.Error(1)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func TestRegisterHandler_ServeHTTP(t *testing.T) {
	valid := models.DummyUser{Email: "user1@example.com", Password: "password123"}

	tests := []struct {
		name           string
		requestBody    any
		mockSetup      func(m *ServiceMock)
		wantStatusCode int
		wantError      string
		wantStatus     string
	}{
		{
			name:        "valid registration",
			requestBody: valid,
			mockSetup: func(m *ServiceMock) {
				m.On("Register", mock.Anything, "user1@example.com", "password123").Return("uid-1", nil).Once()
			},
			wantStatusCode: http.StatusCreated,
			wantStatus:     "OK",
		},
		{
			name:           "invalid json body",
			requestBody:    "not a json",
			mockSetup:      func(*ServiceMock) {},
			wantStatusCode: http.StatusBadRequest,
			wantError:      "invalid request body",
			wantStatus:     "Error",
		},
		{
			name:           "validation error - missing password",
			requestBody:    models.DummyUser{Email: "user1@example.com"},
			mockSetup:      func(*ServiceMock) {},
			wantStatusCode: http.StatusUnprocessableEntity,
			wantError:      "field Password is a required field",
			wantStatus:     "Error",
		},
		{
			name:        "duplicate email",
			requestBody: valid,
			mockSetup: func(m *ServiceMock) {
				m.On("Register", mock.Anything, mock.Anything, mock.Anything).
					Return("", fmt.Errorf("auth.Register: %w", repository.ErrUserExists)).Once()
			},
			wantStatusCode: http.StatusConflict,
			wantError:      "user already exists",
			wantStatus:     "Error",
		},
		{
			name:        "storage error",
			requestBody: valid,
			mockSetup: func(m *ServiceMock) {
				m.On("Register", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("db error")).Once()
			},
			wantStatusCode: http.StatusInternalServerError,
			wantError:      "failed to register user",
			wantStatus:     "Error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(ServiceMock)
			tt.mockSetup(svc)
			handler := New(newNoopLogger(), svc)

			var bodyBytes []byte
			switch v := tt.requestBody.(type) {
			case string:
				bodyBytes = []byte(v)
			default:
				var err error
				bodyBytes, err = json.Marshal(tt.requestBody)
				if err != nil {
					t.Fatal(err)
				}
			}

			req := httptest.NewRequest(http.MethodPost, "/register", bytes.NewReader(bodyBytes))
			req = req.WithContext(context.WithValue(req.Context(), middleware.RequestIDKey, "reqid123"))
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatusCode, rec.Code)

			var got map[string]any
			assert.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
			assert.Equal(t, tt.wantStatus, got["status"])
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, got["error"])
			} else {
				data, ok := got["data"].(map[string]any)
				assert.True(t, ok)
				assert.Equal(t, "uid-1", data["user_uid"])
			}

			svc.AssertExpectations(t)
		})
	}
}
