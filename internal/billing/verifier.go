package billing

import (
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// SignatureHeader заголовок, в котором Stripe передаёт подпись.
const SignatureHeader = "Stripe-Signature"

// Verifier проверяет подпись тела вебхука общим секретом и разбирает конверт события.
type Verifier struct {
	secret    string
	tolerance time.Duration
}

// NewVerifier создаёт Verifier с секретом подписи и допустимым возрастом подписи.
func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &Verifier{
		secret:    secret,
		tolerance: tolerance,
	}
}

// Verify возвращает событие, если подпись корректна. Любая ошибка оборачивает
// ErrAuthentication. Неизвестные типы событий здесь ошибкой не считаются.
func (v *Verifier) Verify(rawBody []byte, signatureHeader string) (stripe.Event, error) {
	const op = "billing.Verify"
	if strings.TrimSpace(signatureHeader) == "" {
		return stripe.Event{}, fmt.Errorf("%s: %w: signature header is missing", op, ErrAuthentication)
	}
	if v.secret == "" {
		return stripe.Event{}, fmt.Errorf("%s: %w: webhook secret is not configured", op, ErrAuthentication)
	}

	event, err := webhook.ConstructEventWithOptions(rawBody, signatureHeader, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%s: %w: %w", op, ErrAuthentication, err)
	}
	return event, nil
}
