package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/cinetek/api/internal/domain"
	"github.com/cinetek/api/internal/repositories"
)

const (
	orderEventSubmitted = "order.submitted"
	orderEventPaid      = "order.paid"
	orderEventCancelled = "order.cancelled"

	orderIDPrefix      = "ord_"
	orderCounterName   = "orders"
	orderEventIDPrefix = "oev_"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates optimistic concurrency conflicts or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderEmptyCart indicates the cart holds no items to submit.
	ErrOrderEmptyCart = errors.New("order: cart is empty")
)

var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPendingPayment: {domain.OrderStatusPaid, domain.OrderStatusCancelled},
	domain.OrderStatusPaid:           {domain.OrderStatusFulfilled, domain.OrderStatusCancelled},
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Counters    repositories.CounterRepository
	Carts       CartService
	Pricer      PricingService
	Stock       StockService
	Payments    PaymentProvider
	Events      OrderEventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders   repositories.OrderRepository
	counters repositories.CounterRepository
	carts    CartService
	pricer   PricingService
	stock    StockService
	payments PaymentProvider
	events   OrderEventPublisher
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("order service: cart service is required")
	}
	if deps.Pricer == nil {
		return nil, errors.New("order service: pricer is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:   deps.Orders,
		counters: deps.Counters,
		carts:    deps.Carts,
		pricer:   deps.Pricer,
		stock:    deps.Stock,
		payments: deps.Payments,
		events:   deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// Submit freezes the user's cart into an order: the cart is repriced, the wire
// payload is built, stock is reserved, a payment intent is opened and the cart
// is cleared once the order document is stored.
func (s *orderService) Submit(ctx context.Context, cmd SubmitOrderCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}

	cart, err := s.carts.GetOrCreateCart(ctx, userID)
	if err != nil {
		return Order{}, s.mapCartError(err)
	}
	if len(cart.Items) == 0 {
		return Order{}, ErrOrderEmptyCart
	}

	pricing, err := s.pricer.Calculate(ctx, PriceCartCommand{Cart: cart})
	if err != nil {
		return Order{}, s.mapPricingError(err)
	}
	payload, err := s.pricer.BuildOrderPayload(cart, pricing)
	if err != nil {
		return Order{}, s.mapPricingError(err)
	}

	now := s.now()
	number, err := s.counters.Next(ctx, orderCounterName, 1)
	if err != nil {
		return Order{}, fmt.Errorf("order: allocate order number: %w", err)
	}

	order := Order{
		ID:         orderIDPrefix + s.newID(),
		Number:     number,
		UserID:     userID,
		CartID:     strings.TrimSpace(cart.ID),
		Status:     domain.OrderStatusPendingPayment,
		Currency:   pricing.Currency,
		GrandTotal: pricing.GrandTotal,
		Payload:    payload,
		Metadata:   cloneAndMergeMetadata(cart.Metadata, cmd.Metadata),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	stockLines := articleStockLines(cart.Items)
	if len(stockLines) > 0 {
		if s.stock == nil {
			return Order{}, errors.New("order service: stock service is required for article orders")
		}
		if err := s.stock.Reserve(ctx, StockReserveCommand{OrderID: order.ID, Lines: stockLines}); err != nil {
			return Order{}, err
		}
	}

	if s.payments != nil && order.GrandTotal > 0 {
		intent, err := s.payments.CreateIntent(ctx, PaymentIntentRequest{
			OrderID:     order.ID,
			UserID:      userID,
			Amount:      order.GrandTotal,
			Currency:    order.Currency,
			Description: fmt.Sprintf("commande %d", order.Number),
			Metadata:    map[string]string{"orderId": order.ID},
		})
		if err != nil {
			s.releaseStock(ctx, order.ID, stockLines)
			return Order{}, fmt.Errorf("order: create payment intent: %w", err)
		}
		order.PaymentIntentID = intent.ID
		if intent.ClientSecret != "" {
			order.Metadata = ensureMap(order.Metadata)
			order.Metadata["paymentClientSecret"] = intent.ClientSecret
		}
	}

	if err := s.orders.Insert(ctx, domain.Order(order)); err != nil {
		s.releaseStock(ctx, order.ID, stockLines)
		s.cancelIntent(ctx, order.PaymentIntentID)
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		EventID:    orderEventIDPrefix + s.newID(),
		Type:       orderEventSubmitted,
		OrderID:    order.ID,
		UserID:     userID,
		GrandTotal: order.GrandTotal,
		Currency:   order.Currency,
		OccurredAt: now,
		Metadata:   maps.Clone(order.Metadata),
	})

	if err := s.carts.ClearCart(ctx, userID); err != nil {
		// The order exists either way; the stale cart only costs the user a manual clear.
		s.logger(ctx, "order.cart_clear_failed", map[string]any{
			"orderID": order.ID,
			"userID":  userID,
			"error":   err.Error(),
		})
	}

	return order, nil
}

// GetOrder returns a single order, restricted to its owner unless opts.Admin is set.
func (s *orderService) GetOrder(ctx context.Context, orderID string, opts OrderReadOptions) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if !opts.Admin && !strings.EqualFold(order.UserID, strings.TrimSpace(opts.UserID)) {
		return Order{}, ErrOrderNotFound
	}

	return order, nil
}

// ListOrders returns orders matching the filter, newest first.
func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	statuses := make([]string, 0, len(filter.Statuses))
	for _, status := range filter.Statuses {
		statuses = append(statuses, string(status))
	}

	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		UserID:     strings.TrimSpace(filter.UserID),
		Status:     statuses,
		Pagination: filter.Pager,
	})
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// MarkPaid transitions a pending order to paid and commits its stock reservation.
func (s *orderService) MarkPaid(ctx context.Context, cmd MarkOrderPaidCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if err := checkTransition(order.Status, domain.OrderStatusPaid); err != nil {
		return Order{}, err
	}

	if intent := strings.TrimSpace(cmd.PaymentIntentID); intent != "" {
		if order.PaymentIntentID != "" && order.PaymentIntentID != intent {
			return Order{}, fmt.Errorf("%w: payment intent mismatch", ErrOrderConflict)
		}
		order.PaymentIntentID = intent
	}

	if lines := payloadStockLines(order.Payload); len(lines) > 0 && s.stock != nil {
		if err := s.stock.Commit(ctx, StockCommitCommand{OrderID: order.ID, Lines: lines}); err != nil {
			return Order{}, err
		}
	}

	previous := order.Status
	order.Status = domain.OrderStatusPaid
	order.UpdatedAt = s.now()

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		EventID:    orderEventIDPrefix + s.newID(),
		Type:       orderEventPaid,
		OrderID:    order.ID,
		UserID:     order.UserID,
		GrandTotal: order.GrandTotal,
		Currency:   order.Currency,
		OccurredAt: order.UpdatedAt,
		Metadata: map[string]any{
			"previousStatus": string(previous),
			"actorId":        strings.TrimSpace(cmd.ActorID),
		},
	})

	return order, nil
}

// Cancel voids a pending or paid order, releasing any held stock and
// cancelling the open payment intent.
func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if err := checkTransition(order.Status, domain.OrderStatusCancelled); err != nil {
		return Order{}, err
	}

	// Reserved stock only exists while payment is pending; paid orders
	// already committed their reservation.
	if order.Status == domain.OrderStatusPendingPayment {
		if lines := payloadStockLines(order.Payload); len(lines) > 0 && s.stock != nil {
			if err := s.stock.Release(ctx, StockReleaseCommand{OrderID: order.ID, Lines: lines}); err != nil {
				return Order{}, err
			}
		}
		s.cancelIntent(ctx, order.PaymentIntentID)
	}

	previous := order.Status
	order.Status = domain.OrderStatusCancelled
	order.UpdatedAt = s.now()
	if reason := strings.TrimSpace(cmd.Reason); reason != "" {
		order.Metadata = ensureMap(order.Metadata)
		order.Metadata["cancelReason"] = reason
	}

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		EventID:    orderEventIDPrefix + s.newID(),
		Type:       orderEventCancelled,
		OrderID:    order.ID,
		UserID:     order.UserID,
		GrandTotal: order.GrandTotal,
		Currency:   order.Currency,
		OccurredAt: order.UpdatedAt,
		Metadata: map[string]any{
			"previousStatus": string(previous),
			"actorId":        strings.TrimSpace(cmd.ActorID),
		},
	})

	return order, nil
}

func (s *orderService) releaseStock(ctx context.Context, orderID string, lines []StockLine) {
	if s.stock == nil || len(lines) == 0 {
		return
	}
	if err := s.stock.Release(ctx, StockReleaseCommand{OrderID: orderID, Lines: lines}); err != nil {
		s.logger(ctx, "order.stock_release_failed", map[string]any{
			"orderID": orderID,
			"error":   err.Error(),
		})
	}
}

func (s *orderService) cancelIntent(ctx context.Context, intentID string) {
	if s.payments == nil || strings.TrimSpace(intentID) == "" {
		return
	}
	if err := s.payments.CancelIntent(ctx, intentID); err != nil {
		s.logger(ctx, "order.payment_cancel_failed", map[string]any{
			"intentID": intentID,
			"error":    err.Error(),
		})
	}
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event_publish_failed", map[string]any{
			"type":  event.Type,
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *orderService) mapCartError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrCartInvalidInput):
		return fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	case errors.Is(err, ErrCartNotFound):
		return ErrOrderEmptyCart
	default:
		return err
	}
}

func (s *orderService) mapPricingError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrPricingInvalidInput):
		return fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	default:
		return err
	}
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func checkTransition(from, to domain.OrderStatus) error {
	for _, allowed := range orderStateTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrOrderInvalidState, from, to)
}

func articleStockLines(items []domain.LineItem) []StockLine {
	lines := make([]StockLine, 0)
	for _, item := range items {
		if item.Category != CategoryArticle || item.Quantity <= 0 {
			continue
		}
		lines = append(lines, StockLine{MediaID: item.MediaID, Quantity: int64(item.Quantity)})
	}
	return lines
}

func payloadStockLines(payload domain.OrderPayload) []StockLine {
	lines := make([]StockLine, 0, len(payload.Articles))
	for _, article := range payload.Articles {
		if article.Quantity <= 0 {
			continue
		}
		lines = append(lines, StockLine{MediaID: article.ID, Quantity: int64(article.Quantity)})
	}
	return lines
}

func cloneAndMergeMetadata(base map[string]any, extra map[string]any) map[string]any {
	if len(base) == 0 && len(extra) == 0 {
		return nil
	}
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func ensureMap(values map[string]any) map[string]any {
	if values == nil {
		return map[string]any{}
	}
	return values
}
