// Package refresh реализует обновление сессии по запросу клиента.
package refresh

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/billing-sync/internal/http/middlewarectx"
	"github.com/magabrotheeeer/billing-sync/internal/http/response"
	"github.com/magabrotheeeer/billing-sync/internal/lib/sl"
	"github.com/magabrotheeeer/billing-sync/internal/models"
)

// Service перечитывает пользователя в новую сессию и подписывает токен.
type Service interface {
	Refresh(ctx context.Context, sess *models.Session) (*models.Session, error)
	Token(sess *models.Session) (string, error)
}

// Response результат обновления. Refreshed=false означает, что сессия не изменилась.
type Response struct {
	Refreshed bool    `json:"refreshed"`
	Plan      *string `json:"plan"`
	Token     string  `json:"token"`
}

type Handler struct {
	log        *slog.Logger
	service    Service
	cookieName string
}

func New(log *slog.Logger, service Service, cookieName string) *Handler {
	return &Handler{
		log:        log,
		service:    service,
		cookieName: cookieName,
	}
}

// ServeHTTP godoc
// @Summary Обновить сессию
// @Description Перечитывает тариф пользователя в новую сессию. Всегда отвечает 200, неудача отражается в поле refreshed.
// @Tags Session
// @Produce  json
// @Security BearerAuth
// @Success 200 {object} Response "Результат обновления"
// @Failure 401 {object} response.ErrorResponse "Нет сессии"
// @Router /session/refresh [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.session.refresh"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	sess, ok := middlewarectx.SessionFromContext(r.Context())
	if !ok {
		log.Error("no session in context")
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("missing session"))
		return
	}
	resp := Response{Plan: sess.Plan}

	fresh, err := h.service.Refresh(r.Context(), sess)
	if err != nil {
		log.Warn("session refresh failed", slog.String("user_uid", sess.UserUID), sl.Err(err))
		render.JSON(w, r, resp)
		return
	}
	token, err := h.service.Token(fresh)
	if err != nil {
		log.Error("failed to sign refreshed session", sl.Err(err))
		render.JSON(w, r, resp)
		return
	}

	middlewarectx.SetSessionCookie(w, h.cookieName, token, fresh.ExpiresAt)
	w.Header().Set(middlewarectx.TokenHeader, token)
	render.JSON(w, r, Response{
		Refreshed: true,
		Plan:      fresh.Plan,
		Token:     token,
	})
}
