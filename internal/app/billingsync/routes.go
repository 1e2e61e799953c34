package billingsync

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	httpSwagger "github.com/swaggo/http-swagger"
	"golang.org/x/time/rate"

	_ "github.com/magabrotheeeer/billing-sync/docs"
	"github.com/magabrotheeeer/billing-sync/internal/http/handlers/app/me"
	"github.com/magabrotheeeer/billing-sync/internal/http/handlers/auth/login"
	"github.com/magabrotheeeer/billing-sync/internal/http/handlers/auth/register"
	"github.com/magabrotheeeer/billing-sync/internal/http/handlers/billing/webhook"
	"github.com/magabrotheeeer/billing-sync/internal/http/handlers/health"
	"github.com/magabrotheeeer/billing-sync/internal/http/handlers/session/refresh"
	"github.com/magabrotheeeer/billing-sync/internal/http/middlewarectx"
	"github.com/magabrotheeeer/billing-sync/internal/metrics"
	authservice "github.com/magabrotheeeer/billing-sync/internal/services/auth"
	sessionservice "github.com/magabrotheeeer/billing-sync/internal/services/session"
	webhookservice "github.com/magabrotheeeer/billing-sync/internal/services/webhook"
)

// Лимит на открытые ручки регистрации и входа.
const (
	authRateLimit = rate.Limit(5)
	authRateBurst = 10
)

// Routes зависимости, из которых собирается роутер.
type Routes struct {
	Auth      *authservice.AuthService
	Sessions  *sessionservice.Service
	Webhooks  *webhookservice.Processor
	Health    health.Checker
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer
	PlanGate  middlewarectx.PlanGateConfig
	Cookie    string
	CORSAllow []string
}

// RegisterRoutes регистрирует все маршруты приложения и возвращает
// обработчик, обёрнутый в CORS.
func RegisterRoutes(r chi.Router, logger *slog.Logger, deps Routes) http.Handler {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.URLFormat,
	)

	r.Route("/api/v1", func(r chi.Router) {
		// Вебхук без аутентификации, подлинность проверяется по подписи
		r.Post("/webhooks/stripe", webhook.New(logger, deps.Webhooks).ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.RateLimit(rate.NewLimiter(authRateLimit, authRateBurst), logger))
			r.Post("/register", register.New(logger, deps.Auth).ServeHTTP)
			r.Post("/login", login.New(logger, deps.Auth, deps.Cookie).ServeHTTP)
		})

		// Группа с аутентификацией по сессии
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.SessionAuth(deps.Sessions, deps.Cookie, logger))
			r.Post("/session/refresh", refresh.New(logger, deps.Sessions, deps.Cookie).ServeHTTP)

			r.Route("/app", func(r chi.Router) {
				r.Use(middlewarectx.PlanGate(deps.PlanGate, deps.Sessions, deps.Sessions, deps.Metrics, logger))
				r.Get("/me", me.New(logger).ServeHTTP)
			})
		})
	})

	r.Get("/health", health.New(deps.Health).ServeHTTP)
	r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	// Swagger docs endpoint
	r.Get("/docs/*", httpSwagger.WrapHandler)

	return cors.New(cors.Options{
		AllowedOrigins:   deps.CORSAllow,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{middlewarectx.TokenHeader},
		AllowCredentials: true,
	}).Handler(r)
}
