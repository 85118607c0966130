package payments

import (
	"context"

	"github.com/cinetek/api/internal/services"
)

// Gateway adapts the provider Manager to the order service contract.
type Gateway struct {
	manager *Manager
}

// NewGateway wraps the manager for consumption by the order service.
func NewGateway(manager *Manager) *Gateway {
	return &Gateway{manager: manager}
}

// CreateIntent opens a payment intent for the order through the routed provider.
func (g *Gateway) CreateIntent(ctx context.Context, req services.PaymentIntentRequest) (services.PaymentIntent, error) {
	intent, err := g.manager.CreateIntent(ctx, PaymentContext{Currency: req.Currency}, IntentRequest{
		OrderID:     req.OrderID,
		UserID:      req.UserID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Description: req.Description,
		Metadata:    req.Metadata,
	})
	if err != nil {
		return services.PaymentIntent{}, err
	}
	return services.PaymentIntent{
		ID:           intent.ID,
		ClientSecret: intent.ClientSecret,
		Status:       string(intent.Status),
	}, nil
}

// CancelIntent voids the intent through the default provider.
func (g *Gateway) CancelIntent(ctx context.Context, intentID string) error {
	return g.manager.CancelIntent(ctx, PaymentContext{}, intentID)
}

var _ services.PaymentProvider = (*Gateway)(nil)
