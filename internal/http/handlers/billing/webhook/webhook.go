// Package webhook реализует HTTP-обработчик событий платёжного провайдера.
package webhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/billing-sync/internal/billing"
	"github.com/magabrotheeeer/billing-sync/internal/http/response"
	"github.com/magabrotheeeer/billing-sync/internal/lib/sl"
)

// MaxBodyBytes предел размера тела события.
const MaxBodyBytes = 65536

// Processor проверяет и применяет событие.
type Processor interface {
	Process(ctx context.Context, rawBody []byte, signatureHeader string) (billing.Intent, error)
}

type Handler struct {
	log       *slog.Logger // Логгер для записи информации и ошибок
	processor Processor
}

func New(log *slog.Logger, processor Processor) *Handler {
	return &Handler{
		log:       log,
		processor: processor,
	}
}

// ServeHTTP godoc
// @Summary Вебхук платёжного провайдера
// @Description Принимает подписанное событие Stripe и синхронизирует тариф пользователя.
// @Tags Billing
// @Accept  json
// @Produce  json
// @Param Stripe-Signature header string true "Подпись события"
// @Success 200 {object} response.WebhookAck "Событие принято"
// @Failure 400 {object} response.ErrorResponse "Неверная подпись"
// @Failure 500 {object} response.ErrorResponse "Ошибка обработки, провайдер повторит доставку"
// @Router /webhooks/stripe [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.billing.webhook"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)
	defer r.Body.Close()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		log.Error("failed to read webhook body", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("webhook error"))
		return
	}

	intent, err := h.processor.Process(r.Context(), body, r.Header.Get(billing.SignatureHeader))
	if errors.Is(err, billing.ErrAuthentication) {
		log.Warn("webhook signature rejected", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("webhook error"))
		return
	}
	if err != nil {
		log.Error("failed to process webhook event", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("webhook processing failed"))
		return
	}

	log.Debug("webhook accepted", slog.String("intent", intent.Kind.String()))
	render.JSON(w, r, response.WebhookAck{Received: true})
}
