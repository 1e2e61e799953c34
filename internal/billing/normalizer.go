package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/stripe/stripe-go/v82"
)

// Типы событий, которые влияют на тариф.
const (
	EventInvoicePaid              stripe.EventType = "invoice.paid"
	EventSubscriptionCreated      stripe.EventType = "customer.subscription.created"
	EventSubscriptionUpdated      stripe.EventType = "customer.subscription.updated"
	EventSubscriptionDeleted      stripe.EventType = "customer.subscription.deleted"
	EventCheckoutSessionCompleted stripe.EventType = "checkout.session.completed"
)

// MetadataUserIDKey ключ метаданных подписки с идентификатором пользователя.
const MetadataUserIDKey = "userId"

// SubscriptionFetcher получает подписку у провайдера по идентификатору.
// Ненайденная подписка должна возвращаться как ErrMissingReference.
type SubscriptionFetcher interface {
	GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
}

// Normalizer сводит событие провайдера к одному из канонических намерений.
//
// Провайдер шлёт несколько пересекающихся событий на один и тот же переход
// (checkout, создание подписки, первый оплаченный счёт), все они дают одинаковый
// Activate, поэтому повторы безвредны.
type Normalizer struct {
	fetcher SubscriptionFetcher
	log     *slog.Logger
}

// NewNormalizer создаёт Normalizer.
func NewNormalizer(fetcher SubscriptionFetcher, log *slog.Logger) *Normalizer {
	return &Normalizer{
		fetcher: fetcher,
		log:     log,
	}
}

// invoiceObject поля счёта, нужные для поиска подписки. Ссылка на подписку
// лежит в поле subscription у старых версий API и в parent.subscription_details
// у новых.
type invoiceObject struct {
	ID           string               `json:"id"`
	Subscription *stripe.Subscription `json:"subscription"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription *stripe.Subscription `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func (i invoiceObject) subscriptionID() string {
	if i.Subscription != nil && i.Subscription.ID != "" {
		return i.Subscription.ID
	}
	if i.Parent != nil && i.Parent.SubscriptionDetails != nil && i.Parent.SubscriptionDetails.Subscription != nil {
		return i.Parent.SubscriptionDetails.Subscription.ID
	}
	return ""
}

// Normalize переводит событие в намерение.
func (n *Normalizer) Normalize(ctx context.Context, event stripe.Event) (Intent, error) {
	const op = "billing.Normalize"

	var (
		intent Intent
		err    error
	)
	switch event.Type {
	case EventInvoicePaid:
		intent, err = n.fromInvoicePaid(ctx, event)
	case EventSubscriptionCreated:
		intent, err = n.fromSubscriptionCreated(event)
	case EventSubscriptionDeleted:
		intent, err = n.fromSubscriptionDeleted(event)
	case EventCheckoutSessionCompleted:
		intent, err = n.fromCheckoutCompleted(ctx, event)
	case EventSubscriptionUpdated:
		intent = Ignore("subscription update does not change plan")
	default:
		intent = Ignore("unhandled event type")
	}
	if err != nil {
		return Intent{}, fmt.Errorf("%s: %s: %w", op, event.Type, err)
	}
	intent.EventType = string(event.Type)
	return intent, nil
}

func (n *Normalizer) fromInvoicePaid(ctx context.Context, event stripe.Event) (Intent, error) {
	var invoice invoiceObject
	if err := decodeObject(event, &invoice); err != nil {
		return Intent{}, err
	}

	sub, err := n.resolveSubscription(ctx, invoice.subscriptionID())
	if errors.Is(err, ErrMissingReference) {
		n.log.Info("invoice is not linked to a subscription",
			slog.String("event_id", event.ID),
			slog.String("invoice_id", invoice.ID),
		)
		return Ignore(ErrMissingReference.Error()), nil
	}
	if err != nil {
		return Intent{}, err
	}

	userUID := sub.Metadata[MetadataUserIDKey]
	if userUID == "" {
		return Intent{}, ErrMissingMetadata
	}
	return Activate(userUID, sub.ID, customerID(sub)), nil
}

func (n *Normalizer) fromSubscriptionCreated(event stripe.Event) (Intent, error) {
	var sub stripe.Subscription
	if err := decodeObject(event, &sub); err != nil {
		return Intent{}, err
	}

	userUID := sub.Metadata[MetadataUserIDKey]
	if userUID == "" {
		n.log.Warn("created subscription has no user id in metadata",
			slog.String("event_id", event.ID),
			slog.String("subscription_id", sub.ID),
		)
		return Ignore(ErrMissingMetadata.Error()), nil
	}
	return Activate(userUID, sub.ID, customerID(&sub)), nil
}

func (n *Normalizer) fromSubscriptionDeleted(event stripe.Event) (Intent, error) {
	var sub stripe.Subscription
	if err := decodeObject(event, &sub); err != nil {
		return Intent{}, err
	}

	userUID := sub.Metadata[MetadataUserIDKey]
	if userUID == "" {
		return Intent{}, ErrMissingMetadata
	}
	return Deactivate(userUID), nil
}

func (n *Normalizer) fromCheckoutCompleted(ctx context.Context, event stripe.Event) (Intent, error) {
	var session stripe.CheckoutSession
	if err := decodeObject(event, &session); err != nil {
		return Intent{}, err
	}

	var subID string
	if session.Subscription != nil {
		subID = session.Subscription.ID
	}
	sub, err := n.resolveSubscription(ctx, subID)
	if errors.Is(err, ErrMissingReference) {
		return Ignore("checkout session without subscription"), nil
	}
	if err != nil {
		return Intent{}, err
	}

	userUID := sub.Metadata[MetadataUserIDKey]
	if userUID == "" {
		n.log.Warn("checkout subscription has no user id in metadata",
			slog.String("event_id", event.ID),
			slog.String("subscription_id", sub.ID),
		)
		return Ignore(ErrMissingMetadata.Error()), nil
	}
	return Activate(userUID, sub.ID, customerID(sub)), nil
}

func (n *Normalizer) resolveSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	if id == "" {
		return nil, ErrMissingReference
	}
	sub, err := n.fetcher.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, ErrMissingReference
	}
	return sub, nil
}

func decodeObject(event stripe.Event, v any) error {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return errors.New("event has no data object")
	}
	if err := json.Unmarshal(event.Data.Raw, v); err != nil {
		return fmt.Errorf("decode event object: %w", err)
	}
	return nil
}

func customerID(sub *stripe.Subscription) string {
	if sub.Customer == nil {
		return ""
	}
	return sub.Customer.ID
}
