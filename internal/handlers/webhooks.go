package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cinetek/api/internal/payments"
	"github.com/cinetek/api/internal/platform/httpx"
	"github.com/cinetek/api/internal/services"
)

const maxWebhookBodySize = 256 * 1024

// WebhookHandlers receives PSP notifications and reconciles order state.
type WebhookHandlers struct {
	verifier *payments.StripeWebhookVerifier
	orders   services.OrderService
}

// NewWebhookHandlers wires the PSP verifier and order service.
func NewWebhookHandlers(verifier *payments.StripeWebhookVerifier, orders services.OrderService) *WebhookHandlers {
	return &WebhookHandlers{verifier: verifier, orders: orders}
}

// Routes registers the webhook endpoints on the provided router.
func (h *WebhookHandlers) Routes(r chi.Router) {
	r.Post("/payments/stripe", h.stripeEvent)
}

func (h *WebhookHandlers) stripeEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h == nil || h.verifier == nil || h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "webhook processing is not available", http.StatusServiceUnavailable))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize+1))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
		return
	}
	if len(body) > maxWebhookBodySize {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "webhook payload exceeds limit", http.StatusRequestEntityTooLarge))
		return
	}

	event, err := h.verifier.Verify(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, payments.ErrInvalidSignature) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to decode webhook payload", http.StatusBadRequest))
		return
	}

	switch event.Type {
	case payments.EventIntentSucceeded:
		h.handleIntentSucceeded(w, r, event)
	case payments.EventIntentCanceled:
		h.handleIntentCanceled(w, r, event)
	default:
		// Unhandled event types are acknowledged so the PSP stops retrying.
		writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ignored"})
	}
}

func (h *WebhookHandlers) handleIntentSucceeded(w http.ResponseWriter, r *http.Request, event payments.WebhookEvent) {
	ctx := r.Context()
	if event.OrderID == "" || event.IntentID == "" {
		writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	_, err := h.orders.MarkPaid(ctx, services.MarkOrderPaidCommand{
		OrderID:         event.OrderID,
		PaymentIntentID: event.IntentID,
		ActorID:         "psp:stripe",
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrOrderInvalidState), errors.Is(err, services.ErrOrderNotFound):
			// Replays and late deliveries are acknowledged; the order already
			// reached a terminal state or was purged.
			writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ignored"})
		case errors.Is(err, services.ErrOrderConflict):
			httpx.WriteError(ctx, w, httpx.NewError("intent_mismatch", "payment intent does not match the order", http.StatusConflict))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unable to process payment notification", http.StatusInternalServerError))
		}
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "processed"})
}

func (h *WebhookHandlers) handleIntentCanceled(w http.ResponseWriter, r *http.Request, event payments.WebhookEvent) {
	ctx := r.Context()
	if event.OrderID == "" {
		writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	_, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID: event.OrderID,
		ActorID: "psp:stripe",
		Reason:  "payment_canceled",
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrOrderInvalidState), errors.Is(err, services.ErrOrderNotFound):
			writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ignored"})
		default:
			httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unable to process cancellation notification", http.StatusInternalServerError))
		}
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "processed"})
}
