package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

// Event types emitted by Stripe that the engine reacts to.
const (
	EventIntentSucceeded = "payment_intent.succeeded"
	EventIntentFailed    = "payment_intent.payment_failed"
	EventIntentCanceled  = "payment_intent.canceled"
)

// ErrInvalidSignature is returned when the webhook payload fails verification.
var ErrInvalidSignature = errors.New("payments: invalid webhook signature")

// WebhookEvent is the normalised view of a verified PSP notification.
type WebhookEvent struct {
	ID       string
	Type     string
	IntentID string
	OrderID  string
	UserID   string
	Amount   int64
	Currency string
}

// StripeWebhookVerifier validates and decodes Stripe webhook deliveries.
type StripeWebhookVerifier struct {
	secret string
}

// NewStripeWebhookVerifier constructs a verifier for the given endpoint secret.
func NewStripeWebhookVerifier(secret string) (*StripeWebhookVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("stripe: webhook secret is required")
	}
	return &StripeWebhookVerifier{secret: secret}, nil
}

// Verify checks the Stripe-Signature header against the raw payload and
// decodes the enclosed payment intent.
func (v *StripeWebhookVerifier) Verify(payload []byte, signature string) (WebhookEvent, error) {
	if v == nil {
		return WebhookEvent{}, errors.New("stripe: verifier is nil")
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := WebhookEvent{
		ID:   event.ID,
		Type: string(event.Type),
	}

	switch out.Type {
	case EventIntentSucceeded, EventIntentFailed, EventIntentCanceled:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return WebhookEvent{}, fmt.Errorf("stripe: decode payment intent: %w", err)
		}
		out.IntentID = intent.ID
		out.Amount = intent.Amount
		out.Currency = strings.ToUpper(string(intent.Currency))
		out.OrderID = strings.TrimSpace(intent.Metadata["orderId"])
		out.UserID = strings.TrimSpace(intent.Metadata["userId"])
	}

	return out, nil
}
