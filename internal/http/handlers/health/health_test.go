package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type checkerFunc func(ctx context.Context) map[string]error

func (f checkerFunc) Check(ctx context.Context) map[string]error { return f(ctx) }

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		failed     map[string]error
		wantStatus int
		wantBody   string
	}{
		{
			name:       "healthy",
			failed:     map[string]error{},
			wantStatus: http.StatusOK,
			wantBody:   `{"status":"ok"}`,
		},
		{
			name:       "redis down",
			failed:     map[string]error{"redis": errors.New("dial tcp: refused")},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   `{"status":"unavailable","dependencies":{"redis":"dial tcp: refused"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(checkerFunc(func(context.Context) map[string]error { return tt.failed }))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			var got any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.JSONEq(t, tt.wantBody, rec.Body.String())
		})
	}
}
