// Package health следит за зависимостями сервиса и публикует их состояние
// через стандартный gRPC health-сервис.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/magabrotheeeer/billing-sync/internal/lib/sl"
)

// ServiceName имя сервиса в gRPC health-протоколе.
const ServiceName = "billing-sync"

// Pinger проверяет доступность зависимости.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc позволяет использовать функцию как Pinger.
type PingerFunc func(ctx context.Context) error

// Ping вызывает f(ctx).
func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// Checker опрашивает зависимости и хранит последний результат.
type Checker struct {
	pingers  map[string]Pinger
	server   *health.Server
	interval time.Duration
	timeout  time.Duration
	log      *slog.Logger

	mu   sync.RWMutex
	last map[string]error
}

// NewChecker создаёт Checker. interval задаёт период фоновой проверки.
func NewChecker(log *slog.Logger, interval time.Duration, pingers map[string]Pinger) *Checker {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Checker{
		pingers:  pingers,
		server:   health.NewServer(),
		interval: interval,
		timeout:  2 * time.Second,
		log:      log,
		last:     make(map[string]error),
	}
}

// Register регистрирует health-сервис на gRPC-сервере.
func (c *Checker) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, c.server)
}

// Check опрашивает все зависимости и обновляет статус gRPC health-сервиса.
// Возвращает ошибки по именам зависимостей; пустая карта: всё доступно.
func (c *Checker) Check(ctx context.Context) map[string]error {
	const op = "health.Check"

	failed := make(map[string]error)
	for name, p := range c.pingers {
		pctx, cancel := context.WithTimeout(ctx, c.timeout)
		err := p.Ping(pctx)
		cancel()
		if err != nil {
			failed[name] = fmt.Errorf("%s: %s: %w", op, name, err)
		}
	}

	status := healthpb.HealthCheckResponse_SERVING
	if len(failed) > 0 {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		for _, name := range sortedKeys(failed) {
			c.log.Warn("dependency unavailable", slog.String("dependency", name), sl.Err(failed[name]))
		}
	}
	c.server.SetServingStatus("", status)
	c.server.SetServingStatus(ServiceName, status)

	c.mu.Lock()
	c.last = failed
	c.mu.Unlock()
	return failed
}

// Last возвращает результат последней проверки.
func (c *Checker) Last() map[string]error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]error, len(c.last))
	for k, v := range c.last {
		out[k] = v
	}
	return out
}

// Run периодически вызывает Check до отмены ctx, после чего
// переводит сервис в NOT_SERVING.
func (c *Checker) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			c.server.Shutdown()
			return nil
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

func sortedKeys(m map[string]error) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
