package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/cinetek/api/internal/domain"
	"github.com/cinetek/api/internal/payments"
	"github.com/cinetek/api/internal/services"
)

const testWebhookSecret = "whsec_test_secret"

func signStripePayload(t *testing.T, payload string) string {
	t.Helper()
	timestamp := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	fmt.Fprintf(mac, "%d.%s", timestamp, payload)
	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

func newWebhookRouter(t *testing.T, orders services.OrderService) chi.Router {
	t.Helper()
	verifier, err := payments.NewStripeWebhookVerifier(testWebhookSecret)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	handler := NewWebhookHandlers(verifier, orders)
	router := chi.NewRouter()
	router.Route("/webhooks", handler.Routes)
	return router
}

func stripeIntentEventJSON(eventType, intentID, orderID string) string {
	return fmt.Sprintf(`{
		"id": "evt_1",
		"type": %q,
		"data": {
			"object": {
				"id": %q,
				"object": "payment_intent",
				"amount": 4200,
				"currency": "eur",
				"metadata": {"orderId": %q, "userId": "user-4"}
			}
		}
	}`, eventType, intentID, orderID)
}

func TestWebhookHandlersIntentSucceededMarksPaid(t *testing.T) {
	var captured services.MarkOrderPaidCommand
	orders := &stubOrderService{
		markPaidFunc: func(ctx context.Context, cmd services.MarkOrderPaidCommand) (services.Order, error) {
			captured = cmd
			return services.Order{ID: cmd.OrderID, Status: domain.OrderStatusPaid}, nil
		},
	}

	router := newWebhookRouter(t, orders)

	payload := stripeIntentEventJSON("payment_intent.succeeded", "pi_123", "ord_01")
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/stripe", strings.NewReader(payload))
	req.Header.Set("Stripe-Signature", signStripePayload(t, payload))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_01" || captured.PaymentIntentID != "pi_123" {
		t.Fatalf("unexpected mark paid command: %#v", captured)
	}
	if captured.ActorID != "psp:stripe" {
		t.Fatalf("expected PSP actor, got %q", captured.ActorID)
	}
}

func TestWebhookHandlersRejectsBadSignature(t *testing.T) {
	orders := &stubOrderService{
		markPaidFunc: func(ctx context.Context, cmd services.MarkOrderPaidCommand) (services.Order, error) {
			t.Fatalf("mark paid should not run for unverified payloads")
			return services.Order{}, nil
		},
	}

	router := newWebhookRouter(t, orders)

	payload := stripeIntentEventJSON("payment_intent.succeeded", "pi_123", "ord_01")
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/stripe", strings.NewReader(payload))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestWebhookHandlersReplayAcknowledged(t *testing.T) {
	orders := &stubOrderService{
		markPaidFunc: func(ctx context.Context, cmd services.MarkOrderPaidCommand) (services.Order, error) {
			return services.Order{}, services.ErrOrderInvalidState
		},
	}

	router := newWebhookRouter(t, orders)

	payload := stripeIntentEventJSON("payment_intent.succeeded", "pi_123", "ord_01")
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/stripe", strings.NewReader(payload))
	req.Header.Set("Stripe-Signature", signStripePayload(t, payload))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected replay to be acknowledged with 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestWebhookHandlersIntentMismatchConflict(t *testing.T) {
	orders := &stubOrderService{
		markPaidFunc: func(ctx context.Context, cmd services.MarkOrderPaidCommand) (services.Order, error) {
			return services.Order{}, services.ErrOrderConflict
		},
	}

	router := newWebhookRouter(t, orders)

	payload := stripeIntentEventJSON("payment_intent.succeeded", "pi_other", "ord_01")
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/stripe", strings.NewReader(payload))
	req.Header.Set("Stripe-Signature", signStripePayload(t, payload))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestWebhookHandlersIntentCanceledCancelsOrder(t *testing.T) {
	var captured services.CancelOrderCommand
	orders := &stubOrderService{
		cancelFunc: func(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			captured = cmd
			return services.Order{ID: cmd.OrderID, Status: domain.OrderStatusCancelled}, nil
		},
	}

	router := newWebhookRouter(t, orders)

	payload := stripeIntentEventJSON("payment_intent.canceled", "pi_123", "ord_01")
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/stripe", strings.NewReader(payload))
	req.Header.Set("Stripe-Signature", signStripePayload(t, payload))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_01" || captured.Reason != "payment_canceled" {
		t.Fatalf("unexpected cancel command: %#v", captured)
	}
}

func TestWebhookHandlersIgnoresUnhandledEvents(t *testing.T) {
	router := newWebhookRouter(t, &stubOrderService{})

	payload := `{"id":"evt_2","type":"charge.refunded","data":{"object":{}}}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/stripe", strings.NewReader(payload))
	req.Header.Set("Stripe-Signature", signStripePayload(t, payload))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "ignored") {
		t.Fatalf("expected ignored status, got %s", rr.Body.String())
	}
}
