package health

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startServer поднимает gRPC-сервер на bufconn и возвращает клиента health-сервиса.
func startServer(t *testing.T, c *Checker) healthpb.HealthClient {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	s := grpc.NewServer()
	c.Register(s)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func TestChecker_Check(t *testing.T) {
	dbErr := errors.New("connection refused")
	healthy := true

	c := NewChecker(newTestLogger(), time.Minute, map[string]Pinger{
		"redis": PingerFunc(func(context.Context) error { return nil }),
		"postgres": PingerFunc(func(context.Context) error {
			if healthy {
				return nil
			}
			return dbErr
		}),
	})
	client := startServer(t, c)
	ctx := context.Background()

	assert.Empty(t, c.Check(ctx))
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	healthy = false
	failed := c.Check(ctx)
	require.Len(t, failed, 1)
	assert.ErrorIs(t, failed["postgres"], dbErr)
	assert.Equal(t, failed, c.Last())

	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{Service: ""})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())
}

func TestChecker_RunStopsOnCancel(t *testing.T) {
	calls := make(chan struct{}, 10)
	c := NewChecker(newTestLogger(), 5*time.Millisecond, map[string]Pinger{
		"redis": PingerFunc(func(context.Context) error {
			select {
			case calls <- struct{}{}:
			default:
			}
			return nil
		}),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	for range 2 {
		select {
		case <-calls:
		case <-time.After(time.Second):
			t.Fatal("checker did not run")
		}
	}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("checker did not stop")
	}
}
