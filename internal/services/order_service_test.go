package services

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	domain "github.com/cinetek/api/internal/domain"
	"github.com/cinetek/api/internal/repositories"
)

func newTestOrderService(t *testing.T, deps OrderServiceDeps) OrderService {
	t.Helper()

	if deps.Clock == nil {
		deps.Clock = func() time.Time {
			return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		}
	}
	if deps.IDGenerator == nil {
		counter := 0
		deps.IDGenerator = func() string {
			counter++
			return "TESTID" + strconv.Itoa(counter)
		}
	}

	svc, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}
	return svc
}

func pricedTestCart(userID string) domain.Cart {
	return domain.Cart{
		ID:       "cart-" + userID,
		UserID:   userID,
		Currency: "EUR",
		Items: []domain.LineItem{
			{ID: "line-1", MediaID: "med_article", Title: "Figurine", Category: domain.CategoryArticle, UnitPrice: 1500, Quantity: 2},
			{ID: "line-2", MediaID: "med_film", Title: "Le Film", Category: domain.CategoryFilm, UnitPrice: 200, Quantity: 1},
		},
	}
}

func testPricingResult() PricingResult {
	return PricingResult{
		Currency:   "EUR",
		GrandTotal: 3200,
		SubtotalsByCategory: map[domain.Category]int64{
			domain.CategoryArticle: 3000,
			domain.CategoryFilm:    200,
		},
	}
}

func testOrderPayload() domain.OrderPayload {
	return domain.OrderPayload{
		Total: 3200,
		Articles: []domain.ArticlePayload{
			{ID: "med_article", Price: 1500, Title: "Figurine", Quantity: 2},
		},
		Contents: []domain.ContentPayload{
			{ID: "med_film", Price: 200, Type: "film", Title: "Le Film"},
		},
	}
}

func TestOrderServiceSubmitCreatesOrderAndClearsCart(t *testing.T) {
	cart := pricedTestCart("user-1")

	var cleared bool
	carts := &stubOrderCartService{
		getOrCreateFunc: func(context.Context, string) (domain.Cart, error) {
			return cart, nil
		},
		clearFunc: func(_ context.Context, userID string) error {
			if userID != "user-1" {
				t.Fatalf("unexpected user cleared: %s", userID)
			}
			cleared = true
			return nil
		},
	}

	pricer := &stubPricer{
		calculateFunc: func(context.Context, PriceCartCommand) (PricingResult, error) {
			return testPricingResult(), nil
		},
		payloadFunc: func(Cart, PricingResult) (OrderPayload, error) {
			return testOrderPayload(), nil
		},
	}

	var inserted domain.Order
	orders := &stubOrderRepository{
		insertFunc: func(_ context.Context, order domain.Order) error {
			inserted = order
			return nil
		},
	}

	var reserved StockReserveCommand
	stock := &stubStockService{
		reserveFunc: func(_ context.Context, cmd StockReserveCommand) error {
			reserved = cmd
			return nil
		},
	}

	var intentReq PaymentIntentRequest
	payments := &stubPaymentProvider{
		createFunc: func(_ context.Context, req PaymentIntentRequest) (PaymentIntent, error) {
			intentReq = req
			return PaymentIntent{ID: "pi_123", ClientSecret: "secret_abc"}, nil
		},
	}

	var published []OrderEvent
	events := &stubEventPublisher{
		publishFunc: func(_ context.Context, event OrderEvent) error {
			published = append(published, event)
			return nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders: orders,
		Counters: &stubCounterRepository{nextFunc: func(_ context.Context, name string, _ int64) (int64, error) {
			if name != "orders" {
				t.Fatalf("unexpected counter name: %s", name)
			}
			return 42, nil
		}},
		Carts:    carts,
		Pricer:   pricer,
		Stock:    stock,
		Payments: payments,
		Events:   events,
	})

	order, err := svc.Submit(context.Background(), SubmitOrderCommand{UserID: "user-1"})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	if order.Number != 42 {
		t.Fatalf("expected order number 42, got %d", order.Number)
	}
	if order.Status != domain.OrderStatusPendingPayment {
		t.Fatalf("expected pending_payment status, got %s", order.Status)
	}
	if order.GrandTotal != 3200 || order.Currency != "EUR" {
		t.Fatalf("unexpected totals: %d %s", order.GrandTotal, order.Currency)
	}
	if order.Payload.Total != 3200 {
		t.Fatalf("expected payload total 3200, got %d", order.Payload.Total)
	}
	if order.PaymentIntentID != "pi_123" {
		t.Fatalf("expected payment intent id recorded, got %q", order.PaymentIntentID)
	}
	if secret, _ := order.Metadata["paymentClientSecret"].(string); secret != "secret_abc" {
		t.Fatalf("expected client secret in metadata, got %v", order.Metadata["paymentClientSecret"])
	}

	if inserted.ID != order.ID {
		t.Fatalf("inserted order mismatch: %q vs %q", inserted.ID, order.ID)
	}
	if intentReq.Amount != 3200 || intentReq.Currency != "EUR" {
		t.Fatalf("unexpected intent request: %+v", intentReq)
	}
	if intentReq.Description != "commande 42" {
		t.Fatalf("unexpected intent description: %q", intentReq.Description)
	}

	if reserved.OrderID != order.ID {
		t.Fatalf("expected reservation for order %s, got %s", order.ID, reserved.OrderID)
	}
	if len(reserved.Lines) != 1 || reserved.Lines[0].MediaID != "med_article" || reserved.Lines[0].Quantity != 2 {
		t.Fatalf("unexpected reserved lines: %+v", reserved.Lines)
	}

	if len(published) != 1 || published[0].Type != "order.submitted" {
		t.Fatalf("expected a single order.submitted event, got %+v", published)
	}
	if !cleared {
		t.Fatal("expected cart to be cleared after submit")
	}
}

func TestOrderServiceSubmitEmptyCart(t *testing.T) {
	carts := &stubOrderCartService{
		getOrCreateFunc: func(_ context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{ID: "cart-" + userID, UserID: userID, Currency: "EUR"}, nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:   &stubOrderRepository{},
		Counters: &stubCounterRepository{},
		Carts:    carts,
		Pricer:   passthroughPricer(),
	})

	if _, err := svc.Submit(context.Background(), SubmitOrderCommand{UserID: "user-1"}); !errors.Is(err, ErrOrderEmptyCart) {
		t.Fatalf("expected ErrOrderEmptyCart, got %v", err)
	}
}

func TestOrderServiceSubmitPaymentFailureReleasesStock(t *testing.T) {
	carts := &stubOrderCartService{
		getOrCreateFunc: func(context.Context, string) (domain.Cart, error) {
			return pricedTestCart("user-1"), nil
		},
	}
	pricer := &stubPricer{
		calculateFunc: func(context.Context, PriceCartCommand) (PricingResult, error) {
			return testPricingResult(), nil
		},
		payloadFunc: func(Cart, PricingResult) (OrderPayload, error) {
			return testOrderPayload(), nil
		},
	}

	var released bool
	stock := &stubStockService{
		releaseFunc: func(context.Context, StockReleaseCommand) error {
			released = true
			return nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:   &stubOrderRepository{},
		Counters: &stubCounterRepository{},
		Carts:    carts,
		Pricer:   pricer,
		Stock:    stock,
		Payments: &stubPaymentProvider{
			createFunc: func(context.Context, PaymentIntentRequest) (PaymentIntent, error) {
				return PaymentIntent{}, errors.New("psp down")
			},
		},
	})

	if _, err := svc.Submit(context.Background(), SubmitOrderCommand{UserID: "user-1"}); err == nil {
		t.Fatal("expected payment failure to surface")
	}
	if !released {
		t.Fatal("expected reserved stock to be released after payment failure")
	}
}

func TestOrderServiceSubmitInsertFailureUnwinds(t *testing.T) {
	carts := &stubOrderCartService{
		getOrCreateFunc: func(context.Context, string) (domain.Cart, error) {
			return pricedTestCart("user-1"), nil
		},
	}
	pricer := &stubPricer{
		calculateFunc: func(context.Context, PriceCartCommand) (PricingResult, error) {
			return testPricingResult(), nil
		},
		payloadFunc: func(Cart, PricingResult) (OrderPayload, error) {
			return testOrderPayload(), nil
		},
	}

	var released, cancelled bool
	stock := &stubStockService{
		releaseFunc: func(context.Context, StockReleaseCommand) error {
			released = true
			return nil
		},
	}
	payments := &stubPaymentProvider{
		createFunc: func(context.Context, PaymentIntentRequest) (PaymentIntent, error) {
			return PaymentIntent{ID: "pi_999"}, nil
		},
		cancelFunc: func(_ context.Context, intentID string) error {
			if intentID != "pi_999" {
				t.Fatalf("unexpected intent cancelled: %s", intentID)
			}
			cancelled = true
			return nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders: &stubOrderRepository{
			insertFunc: func(context.Context, domain.Order) error {
				return &repositoryErrorStub{unavailable: true}
			},
		},
		Counters: &stubCounterRepository{},
		Carts:    carts,
		Pricer:   pricer,
		Stock:    stock,
		Payments: payments,
	})

	if _, err := svc.Submit(context.Background(), SubmitOrderCommand{UserID: "user-1"}); err == nil {
		t.Fatal("expected insert failure to surface")
	}
	if !released {
		t.Fatal("expected reserved stock to be released after insert failure")
	}
	if !cancelled {
		t.Fatal("expected payment intent to be cancelled after insert failure")
	}
}

func TestOrderServiceGetOrderEnforcesOwnership(t *testing.T) {
	orders := &stubOrderRepository{
		findFunc: func(_ context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, UserID: "owner", Status: domain.OrderStatusPendingPayment}, nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:   orders,
		Counters: &stubCounterRepository{},
		Carts:    &stubOrderCartService{},
		Pricer:   passthroughPricer(),
	})

	if _, err := svc.GetOrder(context.Background(), "ord_1", OrderReadOptions{UserID: "intruder"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound for foreign reader, got %v", err)
	}

	if _, err := svc.GetOrder(context.Background(), "ord_1", OrderReadOptions{UserID: "owner"}); err != nil {
		t.Fatalf("expected owner read to succeed, got %v", err)
	}

	if _, err := svc.GetOrder(context.Background(), "ord_1", OrderReadOptions{Admin: true}); err != nil {
		t.Fatalf("expected admin read to succeed, got %v", err)
	}
}

func TestOrderServiceMarkPaidCommitsStock(t *testing.T) {
	stored := domain.Order{
		ID:              "ord_1",
		UserID:          "user-1",
		Status:          domain.OrderStatusPendingPayment,
		Currency:        "EUR",
		GrandTotal:      3200,
		PaymentIntentID: "pi_123",
		Payload:         testOrderPayload(),
	}

	var updated domain.Order
	orders := &stubOrderRepository{
		findFunc: func(context.Context, string) (domain.Order, error) {
			return stored, nil
		},
		updateFunc: func(_ context.Context, order domain.Order) error {
			updated = order
			return nil
		},
	}

	var committed StockCommitCommand
	stock := &stubStockService{
		commitFunc: func(_ context.Context, cmd StockCommitCommand) error {
			committed = cmd
			return nil
		},
	}

	var published []OrderEvent
	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:   orders,
		Counters: &stubCounterRepository{},
		Carts:    &stubOrderCartService{},
		Pricer:   passthroughPricer(),
		Stock:    stock,
		Events: &stubEventPublisher{publishFunc: func(_ context.Context, event OrderEvent) error {
			published = append(published, event)
			return nil
		}},
	})

	order, err := svc.MarkPaid(context.Background(), MarkOrderPaidCommand{OrderID: "ord_1", PaymentIntentID: "pi_123", ActorID: "webhook"})
	if err != nil {
		t.Fatalf("MarkPaid returned error: %v", err)
	}

	if order.Status != domain.OrderStatusPaid {
		t.Fatalf("expected paid status, got %s", order.Status)
	}
	if updated.Status != domain.OrderStatusPaid {
		t.Fatalf("expected update with paid status, got %s", updated.Status)
	}
	if len(committed.Lines) != 1 || committed.Lines[0].MediaID != "med_article" || committed.Lines[0].Quantity != 2 {
		t.Fatalf("unexpected committed lines: %+v", committed.Lines)
	}
	if len(published) != 1 || published[0].Type != "order.paid" {
		t.Fatalf("expected order.paid event, got %+v", published)
	}
}

func TestOrderServiceMarkPaidRejectsIntentMismatch(t *testing.T) {
	orders := &stubOrderRepository{
		findFunc: func(context.Context, string) (domain.Order, error) {
			return domain.Order{ID: "ord_1", Status: domain.OrderStatusPendingPayment, PaymentIntentID: "pi_123"}, nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:   orders,
		Counters: &stubCounterRepository{},
		Carts:    &stubOrderCartService{},
		Pricer:   passthroughPricer(),
	})

	if _, err := svc.MarkPaid(context.Background(), MarkOrderPaidCommand{OrderID: "ord_1", PaymentIntentID: "pi_other"}); !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected ErrOrderConflict, got %v", err)
	}
}

func TestOrderServiceMarkPaidRejectsInvalidTransition(t *testing.T) {
	orders := &stubOrderRepository{
		findFunc: func(context.Context, string) (domain.Order, error) {
			return domain.Order{ID: "ord_1", Status: domain.OrderStatusCancelled}, nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:   orders,
		Counters: &stubCounterRepository{},
		Carts:    &stubOrderCartService{},
		Pricer:   passthroughPricer(),
	})

	if _, err := svc.MarkPaid(context.Background(), MarkOrderPaidCommand{OrderID: "ord_1"}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState, got %v", err)
	}
}

func TestOrderServiceCancelPendingReleasesStock(t *testing.T) {
	orders := &stubOrderRepository{
		findFunc: func(context.Context, string) (domain.Order, error) {
			return domain.Order{
				ID:              "ord_1",
				UserID:          "user-1",
				Status:          domain.OrderStatusPendingPayment,
				PaymentIntentID: "pi_123",
				Payload:         testOrderPayload(),
			}, nil
		},
		updateFunc: func(context.Context, domain.Order) error { return nil },
	}

	var released bool
	stock := &stubStockService{
		releaseFunc: func(_ context.Context, cmd StockReleaseCommand) error {
			if cmd.OrderID != "ord_1" {
				t.Fatalf("unexpected release order: %s", cmd.OrderID)
			}
			released = true
			return nil
		},
	}

	var cancelledIntent string
	payments := &stubPaymentProvider{
		cancelFunc: func(_ context.Context, intentID string) error {
			cancelledIntent = intentID
			return nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:   orders,
		Counters: &stubCounterRepository{},
		Carts:    &stubOrderCartService{},
		Pricer:   passthroughPricer(),
		Stock:    stock,
		Payments: payments,
	})

	order, err := svc.Cancel(context.Background(), CancelOrderCommand{OrderID: "ord_1", ActorID: "user-1", Reason: "changed my mind"})
	if err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}

	if order.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled status, got %s", order.Status)
	}
	if !released {
		t.Fatal("expected pending reservation to be released")
	}
	if cancelledIntent != "pi_123" {
		t.Fatalf("expected intent pi_123 cancelled, got %q", cancelledIntent)
	}
	if reason, _ := order.Metadata["cancelReason"].(string); reason != "changed my mind" {
		t.Fatalf("expected cancel reason recorded, got %v", order.Metadata["cancelReason"])
	}
}

func TestOrderServiceCancelPaidSkipsRelease(t *testing.T) {
	orders := &stubOrderRepository{
		findFunc: func(context.Context, string) (domain.Order, error) {
			return domain.Order{ID: "ord_1", Status: domain.OrderStatusPaid, Payload: testOrderPayload()}, nil
		},
		updateFunc: func(context.Context, domain.Order) error { return nil },
	}

	stock := &stubStockService{
		releaseFunc: func(context.Context, StockReleaseCommand) error {
			t.Fatal("release must not run for paid orders")
			return nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:   orders,
		Counters: &stubCounterRepository{},
		Carts:    &stubOrderCartService{},
		Pricer:   passthroughPricer(),
		Stock:    stock,
	})

	if _, err := svc.Cancel(context.Background(), CancelOrderCommand{OrderID: "ord_1"}); err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}
}

func TestOrderServiceListOrdersMapsFilter(t *testing.T) {
	var captured repositories.OrderListFilter
	orders := &stubOrderRepository{
		listFunc: func(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
			captured = filter
			return domain.CursorPage[domain.Order]{Items: []domain.Order{{ID: "ord_1"}}, NextPageToken: "next"}, nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:   orders,
		Counters: &stubCounterRepository{},
		Carts:    &stubOrderCartService{},
		Pricer:   passthroughPricer(),
	})

	page, err := svc.ListOrders(context.Background(), OrderListFilter{
		UserID:   " user-1 ",
		Statuses: []OrderStatus{domain.OrderStatusPaid},
		Pager:    Pagination{PageSize: 10},
	})
	if err != nil {
		t.Fatalf("ListOrders returned error: %v", err)
	}

	if captured.UserID != "user-1" {
		t.Fatalf("expected trimmed user id, got %q", captured.UserID)
	}
	if len(captured.Status) != 1 || captured.Status[0] != "paid" {
		t.Fatalf("unexpected status filter: %+v", captured.Status)
	}
	if len(page.Items) != 1 || page.NextPageToken != "next" {
		t.Fatalf("unexpected page: %+v", page)
	}
}

type stubOrderRepository struct {
	insertFunc func(ctx context.Context, order domain.Order) error
	updateFunc func(ctx context.Context, order domain.Order) error
	findFunc   func(ctx context.Context, orderID string) (domain.Order, error)
	listFunc   func(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
}

func (s *stubOrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if s.insertFunc == nil {
		return nil
	}
	return s.insertFunc(ctx, order)
}

func (s *stubOrderRepository) Update(ctx context.Context, order domain.Order) error {
	if s.updateFunc == nil {
		return nil
	}
	return s.updateFunc(ctx, order)
}

func (s *stubOrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findFunc == nil {
		return domain.Order{}, &repositoryErrorStub{notFound: true}
	}
	return s.findFunc(ctx, orderID)
}

func (s *stubOrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listFunc == nil {
		return domain.CursorPage[domain.Order]{}, nil
	}
	return s.listFunc(ctx, filter)
}

type stubCounterRepository struct {
	nextFunc func(ctx context.Context, counterID string, step int64) (int64, error)
}

func (s *stubCounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if s.nextFunc == nil {
		return 1, nil
	}
	return s.nextFunc(ctx, counterID, step)
}

func (s *stubCounterRepository) Configure(context.Context, string, repositories.CounterConfig) error {
	return nil
}

type stubOrderCartService struct {
	getOrCreateFunc func(ctx context.Context, userID string) (domain.Cart, error)
	clearFunc       func(ctx context.Context, userID string) error
}

func (s *stubOrderCartService) GetOrCreateCart(ctx context.Context, userID string) (Cart, error) {
	if s.getOrCreateFunc == nil {
		return Cart{}, nil
	}
	return s.getOrCreateFunc(ctx, userID)
}

func (s *stubOrderCartService) AddItem(context.Context, AddCartItemCommand) (Cart, error) {
	return Cart{}, errors.New("not implemented")
}

func (s *stubOrderCartService) UpdateItem(context.Context, UpdateCartItemCommand) (Cart, error) {
	return Cart{}, errors.New("not implemented")
}

func (s *stubOrderCartService) RemoveItem(context.Context, RemoveCartItemCommand) (Cart, error) {
	return Cart{}, errors.New("not implemented")
}

func (s *stubOrderCartService) SetDelivery(context.Context, SetDeliveryCommand) (Cart, error) {
	return Cart{}, errors.New("not implemented")
}

func (s *stubOrderCartService) ClearCart(ctx context.Context, userID string) error {
	if s.clearFunc == nil {
		return nil
	}
	return s.clearFunc(ctx, userID)
}

type stubStockService struct {
	reserveFunc func(ctx context.Context, cmd StockReserveCommand) error
	releaseFunc func(ctx context.Context, cmd StockReleaseCommand) error
	commitFunc  func(ctx context.Context, cmd StockCommitCommand) error
	getFunc     func(ctx context.Context, mediaID string) (ArticleStock, error)
}

func (s *stubStockService) Reserve(ctx context.Context, cmd StockReserveCommand) error {
	if s.reserveFunc == nil {
		return nil
	}
	return s.reserveFunc(ctx, cmd)
}

func (s *stubStockService) Release(ctx context.Context, cmd StockReleaseCommand) error {
	if s.releaseFunc == nil {
		return nil
	}
	return s.releaseFunc(ctx, cmd)
}

func (s *stubStockService) Commit(ctx context.Context, cmd StockCommitCommand) error {
	if s.commitFunc == nil {
		return nil
	}
	return s.commitFunc(ctx, cmd)
}

func (s *stubStockService) Get(ctx context.Context, mediaID string) (ArticleStock, error) {
	if s.getFunc == nil {
		return ArticleStock{}, nil
	}
	return s.getFunc(ctx, mediaID)
}

type stubPaymentProvider struct {
	createFunc func(ctx context.Context, req PaymentIntentRequest) (PaymentIntent, error)
	cancelFunc func(ctx context.Context, intentID string) error
}

func (s *stubPaymentProvider) CreateIntent(ctx context.Context, req PaymentIntentRequest) (PaymentIntent, error) {
	if s.createFunc == nil {
		return PaymentIntent{ID: "pi_stub"}, nil
	}
	return s.createFunc(ctx, req)
}

func (s *stubPaymentProvider) CancelIntent(ctx context.Context, intentID string) error {
	if s.cancelFunc == nil {
		return nil
	}
	return s.cancelFunc(ctx, intentID)
}

type stubEventPublisher struct {
	publishFunc func(ctx context.Context, event OrderEvent) error
}

func (s *stubEventPublisher) PublishOrderEvent(ctx context.Context, event OrderEvent) error {
	if s.publishFunc == nil {
		return nil
	}
	return s.publishFunc(ctx, event)
}
