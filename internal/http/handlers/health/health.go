// Package health отдаёт состояние зависимостей сервиса по HTTP.
package health

import (
	"context"
	"net/http"

	"github.com/go-chi/render"
)

// Checker опрашивает зависимости.
type Checker interface {
	Check(ctx context.Context) map[string]error
}

type Handler struct {
	checker Checker
}

func New(checker Checker) *Handler {
	return &Handler{checker: checker}
}

// ServeHTTP godoc
// @Summary Проверка состояния
// @Tags Health
// @Produce  json
// @Success 200 {object} map[string]any "Все зависимости доступны"
// @Failure 503 {object} map[string]any "Есть недоступные зависимости"
// @Router /health [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	failed := h.checker.Check(r.Context())
	if len(failed) == 0 {
		render.JSON(w, r, map[string]any{"status": "ok"})
		return
	}

	deps := make(map[string]string, len(failed))
	for name, err := range failed {
		deps[name] = err.Error()
	}
	render.Status(r, http.StatusServiceUnavailable)
	render.JSON(w, r, map[string]any{
		"status":       "unavailable",
		"dependencies": deps,
	})
}
