// Package middlewarectx содержит HTTP middleware: аутентификацию по сессии,
// проверку тарифа и ограничение частоты запросов.
package middlewarectx

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/billing-sync/internal/http/response"
	"github.com/magabrotheeeer/billing-sync/internal/lib/sl"
	"github.com/magabrotheeeer/billing-sync/internal/models"
)

// Key тип для ключей контекста HTTP-запроса.
type Key string

// SessionKey ключ текущей сессии в контексте.
const SessionKey Key = "session"

// TokenHeader заголовок, в котором отдаётся новый токен после ротации сессии.
const TokenHeader = "X-Session-Token"

// Authenticator проверяет токен и возвращает живую сессию. Непустой второй
// результат означает, что сессия пересобрана и клиенту нужен новый токен.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.Session, string, error)
}

// WithSession кладёт сессию в контекст.
func WithSession(ctx context.Context, sess *models.Session) context.Context {
	return context.WithValue(ctx, SessionKey, sess)
}

// SessionFromContext возвращает сессию, положенную SessionAuth.
func SessionFromContext(ctx context.Context) (*models.Session, bool) {
	sess, ok := ctx.Value(SessionKey).(*models.Session)
	return sess, ok && sess != nil
}

// SetSessionCookie выставляет cookie с токеном сессии.
func SetSessionCookie(w http.ResponseWriter, name, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}

// SessionAuth проверяет токен из заголовка Authorization (Bearer) или cookie
// cookieName. В случае успеха кладёт сессию в контекст, иначе отвечает 401.
// Токен пересобранной сессии отдаётся в cookie и заголовке TokenHeader.
func SessionAuth(auth Authenticator, cookieName string, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middlewarectx.SessionAuth"
			log := log.With(
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)

			token := tokenFromRequest(r, cookieName)
			if token == "" {
				log.Info("missing session token")
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.Error("missing session token"))
				return
			}

			sess, rebuilt, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				log.Info("invalid or expired session", sl.Err(err))
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.Error("invalid or expired session"))
				return
			}
			if rebuilt != "" {
				log.Info("session rebuilt, issuing new token", slog.String("user_uid", sess.UserUID))
				SetSessionCookie(w, cookieName, rebuilt, sess.ExpiresAt)
				w.Header().Set(TokenHeader, rebuilt)
			}
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sess)))
		})
	}
}

func tokenFromRequest(r *http.Request, cookieName string) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if c, err := r.Cookie(cookieName); err == nil {
		return c.Value
	}
	return ""
}
