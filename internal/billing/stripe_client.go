package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

// StripeClient явный клиент Stripe API без глобального stripe.Key.
type StripeClient struct {
	api *client.API
}

// NewStripeClient создаёт клиент с секретным ключом. backends может быть nil,
// тогда используются стандартные адреса Stripe.
func NewStripeClient(secretKey string, backends *stripe.Backends) *StripeClient {
	return &StripeClient{api: client.New(secretKey, backends)}
}

// GetSubscription получает подписку по идентификатору.
// Ответ 404 / resource_missing превращается в ErrMissingReference.
func (c *StripeClient) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	const op = "billing.GetSubscription"
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := c.api.Subscriptions.Get(id, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) &&
			(stripeErr.HTTPStatusCode == http.StatusNotFound || stripeErr.Code == stripe.ErrorCodeResourceMissing) {
			return nil, fmt.Errorf("%s: %s: %w", op, id, ErrMissingReference)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sub, nil
}
