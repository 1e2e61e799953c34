// Package billingsync собирает HTTP-приложение синхронизации тарифа:
// хранилище, сессии, обработку вебхуков, проверку тарифа и health-сервер.
package billingsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/streadway/amqp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/magabrotheeeer/billing-sync/internal/billing"
	"github.com/magabrotheeeer/billing-sync/internal/cache"
	"github.com/magabrotheeeer/billing-sync/internal/config"
	"github.com/magabrotheeeer/billing-sync/internal/gate"
	"github.com/magabrotheeeer/billing-sync/internal/grpc/health"
	"github.com/magabrotheeeer/billing-sync/internal/http/middlewarectx"
	"github.com/magabrotheeeer/billing-sync/internal/lib/jwt"
	"github.com/magabrotheeeer/billing-sync/internal/lib/sl"
	"github.com/magabrotheeeer/billing-sync/internal/metrics"
	"github.com/magabrotheeeer/billing-sync/internal/migrations"
	"github.com/magabrotheeeer/billing-sync/internal/rabbitmq"
	authservice "github.com/magabrotheeeer/billing-sync/internal/services/auth"
	"github.com/magabrotheeeer/billing-sync/internal/services/reconcile"
	sessionservice "github.com/magabrotheeeer/billing-sync/internal/services/session"
	webhookservice "github.com/magabrotheeeer/billing-sync/internal/services/webhook"
	"github.com/magabrotheeeer/billing-sync/internal/storage/repository"
)

const shutdownTimeout = 15 * time.Second

// App держит запущенные компоненты сервиса.
type App struct {
	server     *http.Server
	grpcServer *grpc.Server
	grpcAddr   string
	checker    *health.Checker
	logger     *slog.Logger
	db         *repository.Storage
	cache      *cache.Cache
	amqpConn   *amqp.Connection
}

// New поднимает зависимости и собирает приложение.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "billingsync.New"

	db, err := repository.New(ctx, cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	sessionStore := cache.NewSessionStore(cacheRedis)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	opts := []reconcile.Option{reconcile.WithMetrics(m)}
	var amqpConn *amqp.Connection
	if cfg.RabbitMQConnection != "" {
		amqpConn, err = rabbitmq.Connect(ctx, cfg.RabbitMQConnection, cfg.Retries, cfg.RetryDelay)
		if err != nil {
			_ = cacheRedis.Close()
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		ch, err := rabbitmq.SetupChannel(amqpConn, cfg.Exchange, rabbitmq.GetPlanChangeQueues())
		if err != nil {
			_ = amqpConn.Close()
			_ = cacheRedis.Close()
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		opts = append(opts, reconcile.WithNotifier(rabbitmq.NewPublisher(ch, cfg.Exchange)))
		logger.Info("plan change notifications enabled", slog.String("exchange", cfg.Exchange))
	}

	tokens := jwt.NewMaker(cfg.JWTSecretKey, cfg.TokenTTL)
	sessions := sessionservice.New(logger, db, sessionStore, tokens)
	authService := authservice.NewAuthService(db, sessions)

	engine := reconcile.New(logger, db, sessionStore, opts...)
	normalizer := billing.NewNormalizer(billing.NewStripeClient(cfg.Stripe.SecretKey, nil), logger)
	verifier := billing.NewVerifier(cfg.WebhookSecret, cfg.SignatureTolerance)
	processor := webhookservice.New(logger, verifier, normalizer, engine, db, m)

	checker := health.NewChecker(logger, cfg.HealthInterval, map[string]health.Pinger{
		"postgres": db,
		"redis":    cacheRedis,
	})
	var grpcServer *grpc.Server
	if cfg.AddressGRPC != "" {
		grpcServer = grpc.NewServer()
		checker.Register(grpcServer)
	}

	router := chi.NewRouter()
	handler := RegisterRoutes(router, logger, Routes{
		Auth:     authService,
		Sessions: sessions,
		Webhooks: processor,
		Health:   checker,
		Metrics:  m,
		Gatherer: reg,
		PlanGate: middlewarectx.PlanGateConfig{
			RefreshParam: cfg.RefreshParam,
			UpsellURL:    cfg.UpsellURL,
			CookieName:   cfg.CookieName,
			Options: gate.Options{
				RefreshTimeout: cfg.RefreshTimeout,
				SettleDelay:    cfg.SettleDelay,
				Attempts:       cfg.SettleAttempts,
				Multiplier:     cfg.SettleMultiplier,
			},
		},
		Cookie:    cfg.CookieName,
		CORSAllow: cfg.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      handler,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server:     srv,
		grpcServer: grpcServer,
		grpcAddr:   cfg.AddressGRPC,
		checker:    checker,
		logger:     logger,
		db:         db,
		cache:      cacheRedis,
		amqpConn:   amqpConn,
	}, nil
}

// Run запускает HTTP- и gRPC-серверы и блокируется до отмены ctx
// или ошибки одного из них.
func (a *App) Run(ctx context.Context) error {
	var lis net.Listener
	if a.grpcServer != nil {
		var err error
		if lis, err = net.Listen("tcp", a.grpcAddr); err != nil {
			a.close()
			return fmt.Errorf("grpc listen: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.checker.Run(gctx)
	})

	if lis != nil {
		g.Go(func() error {
			a.logger.Info("gRPC health server starting on", slog.String("address", a.grpcAddr))
			if err := a.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		if a.grpcServer != nil {
			a.grpcServer.GracefulStop()
		}
		return a.server.Shutdown(timeoutCtx)
	})

	err := g.Wait()
	a.close()
	return err
}

func (a *App) close() {
	if a.amqpConn != nil {
		if err := a.amqpConn.Close(); err != nil {
			a.logger.Warn("failed to close rabbitmq connection", sl.Err(err))
		}
	}
	if err := a.cache.Close(); err != nil {
		a.logger.Warn("failed to close redis", sl.Err(err))
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warn("failed to close postgres", sl.Err(err))
	}
}
