package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/cinetek/api/internal/domain"
	"github.com/cinetek/api/internal/platform/auth"
	"github.com/cinetek/api/internal/platform/httpx"
	"github.com/cinetek/api/internal/platform/pagination"
	"github.com/cinetek/api/internal/services"
)

const (
	defaultOrderPageSize   = 20
	maxOrderPageSize       = 100
	maxOrderSubmitBodySize = 8 * 1024
	maxOrderCancelBodySize = 4 * 1024

	orderSubmitQuota  = 10
	orderSubmitWindow = time.Minute
)

var validOrderStatuses = map[domain.OrderStatus]struct{}{
	domain.OrderStatusPendingPayment: {},
	domain.OrderStatusPaid:           {},
	domain.OrderStatusFulfilled:      {},
	domain.OrderStatusCancelled:      {},
}

// OrderHandlers exposes order submission and read endpoints for authenticated users.
type OrderHandlers struct {
	authn    *auth.Authenticator
	orders   services.OrderService
	throttle *submitThrottle
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{
		authn:    authn,
		orders:   orders,
		throttle: newSubmitThrottle(orderSubmitQuota, orderSubmitWindow, nil),
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.submitOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)
}

type submitOrderRequest struct {
	Metadata map[string]any `json:"metadata"`
}

func (h *OrderHandlers) submitOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid, ok := h.requireOrderIdentity(ctx, w)
	if !ok {
		return
	}

	if wait, ok := h.throttle.Take(uid); !ok {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many order submissions, retry later", http.StatusTooManyRequests))
		return
	}

	var req submitOrderRequest
	body, err := readLimitedBody(r, maxOrderSubmitBodySize)
	if err != nil && !errors.Is(err, errEmptyBody) {
		writeCartBodyError(ctx, w, err)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
			return
		}
	}

	order, err := h.orders.Submit(ctx, services.SubmitOrderCommand{
		UserID:   uid,
		Metadata: cloneMap(req.Metadata),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderResponse(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid, ok := h.requireOrderIdentity(ctx, w)
	if !ok {
		return
	}

	query := r.URL.Query()
	statuses := make([]domain.OrderStatus, 0)
	for _, raw := range query["status"] {
		for _, value := range strings.Split(raw, ",") {
			status, ok := parseOrderStatus(value)
			if !ok {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a valid order status", http.StatusBadRequest))
				return
			}
			statuses = append(statuses, status)
		}
	}

	pager, err := pagination.FromRequest(r, pagination.Options{
		DefaultPageSize: defaultOrderPageSize,
		MaxPageSize:     maxOrderPageSize,
	})
	if err != nil {
		writePaginationError(ctx, w, err)
		return
	}

	page, err := h.orders.ListOrders(ctx, services.OrderListFilter{
		UserID:   uid,
		Statuses: statuses,
		Pager: services.Pagination{
			PageSize:  pager.PageSize,
			PageToken: pager.PageToken,
		},
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}

	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid, ok := h.requireOrderIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID, services.OrderReadOptions{UserID: uid})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderResponse(order)})
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid, ok := h.requireOrderIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req cancelOrderRequest
	body, err := readLimitedBody(r, maxOrderCancelBodySize)
	if err != nil && !errors.Is(err, errEmptyBody) {
		writeCartBodyError(ctx, w, err)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
			return
		}
	}

	// Ownership check happens before the cancel so an intruder sees 404, not 409.
	if _, err := h.orders.GetOrder(ctx, orderID, services.OrderReadOptions{UserID: uid}); err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	cancelled, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID: orderID,
		ActorID: uid,
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderResponse(cancelled)})
}

func (h *OrderHandlers) requireOrderIdentity(ctx context.Context, w http.ResponseWriter) (string, bool) {
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return "", false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return "", false
	}
	return strings.TrimSpace(identity.UID), true
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID          string `json:"id"`
	OrderNumber int64  `json:"order_number"`
	Status      string `json:"status"`
	Currency    string `json:"currency"`
	GrandTotal  int64  `json:"grand_total"`
	CreatedAt   string `json:"created_at"`
}

type orderResponse struct {
	Order orderDetailPayload `json:"order"`
}

type orderDetailPayload struct {
	ID              string              `json:"id"`
	OrderNumber     int64               `json:"order_number"`
	UserID          string              `json:"user_id"`
	CartID          string              `json:"cart_id,omitempty"`
	Status          string              `json:"status"`
	Currency        string              `json:"currency"`
	GrandTotal      int64               `json:"grand_total"`
	Payload         domain.OrderPayload `json:"payload"`
	PaymentIntentID string              `json:"payment_intent_id,omitempty"`
	Metadata        map[string]any      `json:"metadata,omitempty"`
	CreatedAt       string              `json:"created_at"`
	UpdatedAt       string              `json:"updated_at,omitempty"`
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:          strings.TrimSpace(order.ID),
		OrderNumber: order.Number,
		Status:      strings.TrimSpace(string(order.Status)),
		Currency:    strings.ToUpper(strings.TrimSpace(order.Currency)),
		GrandTotal:  order.GrandTotal,
		CreatedAt:   formatTime(order.CreatedAt),
	}
}

func buildOrderResponse(order services.Order) orderDetailPayload {
	return orderDetailPayload{
		ID:              strings.TrimSpace(order.ID),
		OrderNumber:     order.Number,
		UserID:          strings.TrimSpace(order.UserID),
		CartID:          strings.TrimSpace(order.CartID),
		Status:          strings.TrimSpace(string(order.Status)),
		Currency:        strings.ToUpper(strings.TrimSpace(order.Currency)),
		GrandTotal:      order.GrandTotal,
		Payload:         order.Payload,
		PaymentIntentID: strings.TrimSpace(order.PaymentIntentID),
		Metadata:        cloneMap(order.Metadata),
		CreatedAt:       formatTime(order.CreatedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
	}
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "cart has no items to submit", http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrStockInsufficient):
		httpx.WriteError(ctx, w, httpx.NewError("stock_insufficient", "insufficient stock for one or more articles", http.StatusConflict))
	case errors.Is(err, services.ErrPricingInvariant):
		httpx.WriteError(ctx, w, httpx.NewError("pricing_invariant", "cart pricing produced an invalid total", http.StatusUnprocessableEntity))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

func parseOrderStatus(raw string) (domain.OrderStatus, bool) {
	status := domain.OrderStatus(strings.TrimSpace(strings.ToLower(raw)))
	if _, ok := validOrderStatuses[status]; !ok {
		return "", false
	}
	return status, true
}
