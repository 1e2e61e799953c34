// Package me отдаёт данные текущей сессии на защищённой странице.
package me

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/billing-sync/internal/http/middlewarectx"
	"github.com/magabrotheeeer/billing-sync/internal/http/response"
)

// View представление пользователя для клиента.
type View struct {
	UserUID string  `json:"user_uid"`
	Email   string  `json:"email"`
	Plan    *string `json:"plan"`
}

type Handler struct {
	log *slog.Logger
}

func New(log *slog.Logger) *Handler {
	return &Handler{log: log}
}

// ServeHTTP godoc
// @Summary Текущий пользователь
// @Description Доступно только с активным тарифом. Параметр refresh запускает принудительное обновление сессии.
// @Tags App
// @Produce  json
// @Security BearerAuth
// @Param refresh query string false "Принудительно обновить сессию"
// @Success 200 {object} response.Response "Данные пользователя"
// @Success 303 "Перенаправление на оформление подписки"
// @Failure 401 {object} response.ErrorResponse "Нет сессии"
// @Failure 402 {object} response.PaymentRequiredResponse "Нужна подписка"
// @Router /app/me [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.app.me"

	sess, ok := middlewarectx.SessionFromContext(r.Context())
	if !ok {
		h.log.Error("no session in context",
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("missing session"))
		return
	}

	render.JSON(w, r, response.StatusOKWithData(View{
		UserUID: sess.UserUID,
		Email:   sess.Email,
		Plan:    sess.Plan,
	}))
}
