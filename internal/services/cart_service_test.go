package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/cinetek/api/internal/domain"
)

func intPtr(v int) *int {
	return &v
}

func timePtr(v time.Time) *time.Time {
	return &v
}

func passthroughPricer() *stubPricer {
	return &stubPricer{
		calculateFunc: func(ctx context.Context, cmd PriceCartCommand) (PricingResult, error) {
			var subtotal int64
			for _, item := range cmd.Cart.Items {
				subtotal += item.UnitPrice * int64(item.Quantity)
			}
			return PricingResult{Currency: cmd.Cart.Currency, GrandTotal: subtotal}, nil
		},
	}
}

func newTestCartService(t *testing.T, repo *stubCartRepository, media *stubMediaFinder, pricer *stubPricer, now time.Time) CartService {
	t.Helper()
	if pricer == nil {
		pricer = passthroughPricer()
	}
	counter := 0
	service, err := NewCartService(CartServiceDeps{
		Repository:      repo,
		Media:           media,
		Pricer:          pricer,
		Clock:           func() time.Time { return now },
		DefaultCurrency: "EUR",
		IDGenerator: func() string {
			counter++
			return "item-" + string(rune('0'+counter))
		},
	})
	if err != nil {
		t.Fatalf("unexpected error constructing cart service: %v", err)
	}
	return service
}

func TestCartServiceGetOrCreateCartReturnsExisting(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	repo := &stubCartRepository{
		getFunc: func(ctx context.Context, userID string) (domain.Cart, error) {
			if userID != "user-123" {
				t.Fatalf("unexpected user id %q", userID)
			}
			return domain.Cart{
				ID:       "user-123",
				UserID:   "user-123",
				Currency: "eur",
				Items: []domain.LineItem{
					{ID: "item-1", MediaID: "med-1", Category: domain.CategoryArticle, Quantity: 2, UnitPrice: 500},
				},
				UpdatedAt: now.Add(-time.Hour),
			}, nil
		},
	}

	service := newTestCartService(t, repo, nil, nil, now)

	cart, err := service.GetOrCreateCart(context.Background(), " user-123 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cart.Currency != "EUR" {
		t.Fatalf("expected currency uppercased EUR, got %q", cart.Currency)
	}
	if cart.Pricing == nil {
		t.Fatalf("expected pricing attached")
	}
	if cart.Pricing.GrandTotal != 1000 {
		t.Fatalf("expected grand total 1000, got %d", cart.Pricing.GrandTotal)
	}
}

func TestCartServiceGetOrCreateCartLazyCreates(t *testing.T) {
	now := time.Date(2025, 3, 11, 9, 30, 0, 0, time.UTC)
	var upserted domain.Cart

	repo := &stubCartRepository{
		getFunc: func(ctx context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{}, &repositoryErrorStub{notFound: true}
		},
		upsertFunc: func(ctx context.Context, cart domain.Cart, expected *time.Time) (domain.Cart, error) {
			if expected != nil {
				t.Fatalf("expected unconditional upsert for a fresh cart")
			}
			upserted = cart
			return cart, nil
		},
	}

	service := newTestCartService(t, repo, nil, nil, now)

	cart, err := service.GetOrCreateCart(context.Background(), "guest-5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if upserted.ID != "guest-5" {
		t.Fatalf("expected upserted cart id guest-5, got %q", upserted.ID)
	}
	if len(cart.Items) != 0 {
		t.Fatalf("expected empty items")
	}
	if cart.CreatedAt != now {
		t.Fatalf("expected created at %v, got %v", now, cart.CreatedAt)
	}
}

func TestCartServiceAddItemUsesCatalogPrice(t *testing.T) {
	now := time.Date(2025, 3, 12, 8, 0, 0, 0, time.UTC)
	var saved domain.Cart

	repo := &stubCartRepository{
		getFunc: func(ctx context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{}, &repositoryErrorStub{notFound: true}
		},
		upsertFunc: func(ctx context.Context, cart domain.Cart, expected *time.Time) (domain.Cart, error) {
			saved = cart
			return cart, nil
		},
	}
	media := &stubMediaFinder{
		findFunc: func(ctx context.Context, mediaID string) (domain.Media, error) {
			return domain.Media{ID: mediaID, Kind: domain.MediaKindArticle, Title: "Mug collector", UnitPrice: 1500, Published: true}, nil
		},
	}

	service := newTestCartService(t, repo, media, nil, now)

	cart, err := service.AddItem(context.Background(), AddCartItemCommand{
		UserID:   "user-1",
		MediaID:  "med-9",
		Category: CategoryArticle,
		Quantity: 3,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(saved.Items) != 1 {
		t.Fatalf("expected 1 saved item, got %d", len(saved.Items))
	}
	item := saved.Items[0]
	if item.UnitPrice != 1500 {
		t.Fatalf("expected catalog unit price 1500, got %d", item.UnitPrice)
	}
	if item.Quantity != 3 {
		t.Fatalf("expected quantity 3, got %d", item.Quantity)
	}
	if item.Title != "Mug collector" {
		t.Fatalf("expected catalog title, got %q", item.Title)
	}
	if cart.Pricing == nil || cart.Pricing.GrandTotal != 4500 {
		t.Fatalf("expected repriced total 4500, got %+v", cart.Pricing)
	}
}

func TestCartServiceAddItemMergesArticleLines(t *testing.T) {
	now := time.Date(2025, 3, 12, 8, 0, 0, 0, time.UTC)
	var saved domain.Cart

	repo := &stubCartRepository{
		getFunc: func(ctx context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{
				ID:     userID,
				UserID: userID,
				Items: []domain.LineItem{
					{ID: "item-old", MediaID: "med-9", Category: domain.CategoryArticle, Quantity: 1, UnitPrice: 1500},
				},
				UpdatedAt: now.Add(-time.Minute),
			}, nil
		},
		upsertFunc: func(ctx context.Context, cart domain.Cart, expected *time.Time) (domain.Cart, error) {
			if expected == nil {
				t.Fatalf("expected optimistic precondition for existing cart")
			}
			saved = cart
			return cart, nil
		},
	}
	media := &stubMediaFinder{
		findFunc: func(ctx context.Context, mediaID string) (domain.Media, error) {
			return domain.Media{ID: mediaID, Kind: domain.MediaKindArticle, UnitPrice: 1500, Published: true}, nil
		},
	}

	service := newTestCartService(t, repo, media, nil, now)

	if _, err := service.AddItem(context.Background(), AddCartItemCommand{
		UserID:   "user-1",
		MediaID:  "med-9",
		Category: CategoryArticle,
		Quantity: 2,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(saved.Items) != 1 {
		t.Fatalf("expected merged line, got %d lines", len(saved.Items))
	}
	if saved.Items[0].Quantity != 3 {
		t.Fatalf("expected merged quantity 3, got %d", saved.Items[0].Quantity)
	}
}

func TestCartServiceAddItemRejectsUnknownCategory(t *testing.T) {
	now := time.Date(2025, 3, 12, 8, 0, 0, 0, time.UTC)
	service := newTestCartService(t, &stubCartRepository{}, &stubMediaFinder{}, nil, now)

	_, err := service.AddItem(context.Background(), AddCartItemCommand{
		UserID:   "user-1",
		MediaID:  "med-1",
		Category: Category("bundle"),
	})
	if !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected ErrCartInvalidInput, got %v", err)
	}
}

func TestCartServiceAddItemRejectsSeasonOutsideCatalog(t *testing.T) {
	now := time.Date(2025, 3, 12, 8, 0, 0, 0, time.UTC)
	media := &stubMediaFinder{
		findFunc: func(ctx context.Context, mediaID string) (domain.Media, error) {
			return domain.Media{ID: mediaID, Kind: domain.MediaKindSeries, AvailableSeasons: []int{1, 2}, Published: true}, nil
		},
	}
	service := newTestCartService(t, &stubCartRepository{}, media, nil, now)

	_, err := service.AddItem(context.Background(), AddCartItemCommand{
		UserID:        "user-1",
		MediaID:       "med-2",
		Category:      CategorySeries,
		SeasonNumbers: []int{1, 3},
	})
	if !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected ErrCartInvalidInput, got %v", err)
	}
}

func TestCartServiceAddItemRejectsMangaDoubleSelection(t *testing.T) {
	now := time.Date(2025, 3, 12, 8, 0, 0, 0, time.UTC)
	media := &stubMediaFinder{
		findFunc: func(ctx context.Context, mediaID string) (domain.Media, error) {
			return domain.Media{ID: mediaID, Kind: domain.MediaKindManga, AvailableSeasons: []int{1}, EpisodeCount: 80, Published: true}, nil
		},
	}
	service := newTestCartService(t, &stubCartRepository{}, media, nil, now)

	_, err := service.AddItem(context.Background(), AddCartItemCommand{
		UserID:        "user-1",
		MediaID:       "med-3",
		Category:      CategoryManga,
		SeasonNumbers: []int{1},
		Episodes:      &EpisodeRange{Start: 1, End: 40},
	})
	if !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected ErrCartInvalidInput, got %v", err)
	}
}

func TestCartServiceAddItemRejectsCategoryKindMismatch(t *testing.T) {
	now := time.Date(2025, 3, 12, 8, 0, 0, 0, time.UTC)
	media := &stubMediaFinder{
		findFunc: func(ctx context.Context, mediaID string) (domain.Media, error) {
			return domain.Media{ID: mediaID, Kind: domain.MediaKindManga, Published: true}, nil
		},
	}
	service := newTestCartService(t, &stubCartRepository{}, media, nil, now)

	_, err := service.AddItem(context.Background(), AddCartItemCommand{
		UserID:   "user-1",
		MediaID:  "med-3",
		Category: CategoryFilm,
	})
	if !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected ErrCartInvalidInput, got %v", err)
	}
}

func TestCartServiceUpdateItemRejectsQuantityOnSeries(t *testing.T) {
	now := time.Date(2025, 3, 13, 10, 0, 0, 0, time.UTC)
	repo := &stubCartRepository{
		getFunc: func(ctx context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{
				ID:     userID,
				UserID: userID,
				Items: []domain.LineItem{
					{ID: "item-1", MediaID: "med-2", Category: domain.CategorySeries, SeasonNumbers: []int{1}, Quantity: 1},
				},
				UpdatedAt: now.Add(-time.Minute),
			}, nil
		},
	}
	service := newTestCartService(t, repo, &stubMediaFinder{}, nil, now)

	_, err := service.UpdateItem(context.Background(), UpdateCartItemCommand{
		UserID:   "user-1",
		ItemID:   "item-1",
		Quantity: intPtr(4),
	})
	if !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected ErrCartInvalidInput, got %v", err)
	}
}

func TestCartServiceUpdateItemDetectsConcurrentChange(t *testing.T) {
	now := time.Date(2025, 3, 13, 10, 0, 0, 0, time.UTC)
	repo := &stubCartRepository{
		getFunc: func(ctx context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{
				ID:     userID,
				UserID: userID,
				Items: []domain.LineItem{
					{ID: "item-1", MediaID: "med-9", Category: domain.CategoryArticle, Quantity: 1, UnitPrice: 100},
				},
				UpdatedAt: now.Add(-time.Minute),
			}, nil
		},
	}
	service := newTestCartService(t, repo, &stubMediaFinder{}, nil, now)

	_, err := service.UpdateItem(context.Background(), UpdateCartItemCommand{
		UserID:    "user-1",
		ItemID:    "item-1",
		Quantity:  intPtr(2),
		UpdatedAt: timePtr(now.Add(-time.Hour)),
	})
	if !errors.Is(err, ErrCartConflict) {
		t.Fatalf("expected ErrCartConflict, got %v", err)
	}
}

func TestCartServiceRemoveItemMissing(t *testing.T) {
	now := time.Date(2025, 3, 13, 10, 0, 0, 0, time.UTC)
	repo := &stubCartRepository{
		getFunc: func(ctx context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{ID: userID, UserID: userID, UpdatedAt: now.Add(-time.Minute)}, nil
		},
	}
	service := newTestCartService(t, repo, nil, nil, now)

	_, err := service.RemoveItem(context.Background(), RemoveCartItemCommand{
		UserID: "user-1",
		ItemID: "item-404",
	})
	if !errors.Is(err, ErrCartNotFound) {
		t.Fatalf("expected ErrCartNotFound, got %v", err)
	}
}

func TestCartServiceSetDeliveryRequiresAddress(t *testing.T) {
	now := time.Date(2025, 3, 14, 15, 0, 0, 0, time.UTC)
	service := newTestCartService(t, &stubCartRepository{}, nil, nil, now)

	_, err := service.SetDelivery(context.Background(), SetDeliveryCommand{
		UserID:   "user-1",
		Delivery: DeliveryOption{Requested: true, Address: "   "},
	})
	if !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected ErrCartInvalidInput, got %v", err)
	}
}

func TestCartServiceSetDeliveryRepricesWithFee(t *testing.T) {
	now := time.Date(2025, 3, 14, 15, 0, 0, 0, time.UTC)
	var saved domain.Cart
	repo := &stubCartRepository{
		getFunc: func(ctx context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{
				ID:     userID,
				UserID: userID,
				Items: []domain.LineItem{
					{ID: "item-1", MediaID: "med-9", Category: domain.CategoryArticle, Quantity: 1, UnitPrice: 200},
				},
				UpdatedAt: now.Add(-time.Minute),
			}, nil
		},
		upsertFunc: func(ctx context.Context, cart domain.Cart, expected *time.Time) (domain.Cart, error) {
			saved = cart
			return cart, nil
		},
	}
	pricer := &stubPricer{
		calculateFunc: func(ctx context.Context, cmd PriceCartCommand) (PricingResult, error) {
			total := int64(200)
			var fee int64
			if cmd.Cart.Delivery.Requested {
				fee = 1000
			}
			return PricingResult{Currency: "EUR", DeliveryFee: fee, GrandTotal: total + fee}, nil
		},
	}
	service := newTestCartService(t, repo, nil, pricer, now)

	cart, err := service.SetDelivery(context.Background(), SetDeliveryCommand{
		UserID:   "user-1",
		Delivery: DeliveryOption{Requested: true, Address: "12 rue des Lilas, Paris"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !saved.Delivery.Requested || saved.Delivery.Address == "" {
		t.Fatalf("expected delivery stored, got %+v", saved.Delivery)
	}
	if cart.Pricing == nil || cart.Pricing.GrandTotal != 1200 {
		t.Fatalf("expected repriced total 1200, got %+v", cart.Pricing)
	}
}

func TestCartServiceClearCartResets(t *testing.T) {
	now := time.Date(2025, 3, 15, 11, 0, 0, 0, time.UTC)
	var saved domain.Cart
	repo := &stubCartRepository{
		upsertFunc: func(ctx context.Context, cart domain.Cart, expected *time.Time) (domain.Cart, error) {
			saved = cart
			return cart, nil
		},
	}
	service := newTestCartService(t, repo, nil, nil, now)

	if err := service.ClearCart(context.Background(), "user-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(saved.Items) != 0 || saved.Pricing != nil {
		t.Fatalf("expected reset cart, got %+v", saved)
	}
}

func TestCartServicePricingFailureMapsToInvalidInput(t *testing.T) {
	now := time.Date(2025, 3, 15, 11, 0, 0, 0, time.UTC)
	repo := &stubCartRepository{
		getFunc: func(ctx context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{ID: userID, UserID: userID, UpdatedAt: now.Add(-time.Minute)}, nil
		},
	}
	pricer := &stubPricer{
		calculateFunc: func(ctx context.Context, cmd PriceCartCommand) (PricingResult, error) {
			return PricingResult{}, ErrPricingInvalidInput
		},
	}
	service := newTestCartService(t, repo, nil, pricer, now)

	_, err := service.GetOrCreateCart(context.Background(), "user-1")
	if !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected ErrCartInvalidInput, got %v", err)
	}
}

type stubCartRepository struct {
	getFunc    func(ctx context.Context, userID string) (domain.Cart, error)
	upsertFunc func(ctx context.Context, cart domain.Cart, expected *time.Time) (domain.Cart, error)
	deleteFunc func(ctx context.Context, userID string) error
}

func (s *stubCartRepository) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, userID)
	}
	return domain.Cart{}, &repositoryErrorStub{notFound: true}
}

func (s *stubCartRepository) UpsertCart(ctx context.Context, cart domain.Cart, expected *time.Time) (domain.Cart, error) {
	if s.upsertFunc != nil {
		return s.upsertFunc(ctx, cart, expected)
	}
	return cart, nil
}

func (s *stubCartRepository) DeleteCart(ctx context.Context, userID string) error {
	if s.deleteFunc != nil {
		return s.deleteFunc(ctx, userID)
	}
	return nil
}

type stubMediaFinder struct {
	findFunc func(ctx context.Context, mediaID string) (domain.Media, error)
}

func (s *stubMediaFinder) FindPublishedByID(ctx context.Context, mediaID string) (domain.Media, error) {
	if s.findFunc != nil {
		return s.findFunc(ctx, mediaID)
	}
	return domain.Media{}, errors.New("not implemented")
}

type stubPricer struct {
	calculateFunc func(ctx context.Context, cmd PriceCartCommand) (PricingResult, error)
	payloadFunc   func(cart Cart, pricing PricingResult) (OrderPayload, error)
}

func (s *stubPricer) Calculate(ctx context.Context, cmd PriceCartCommand) (PricingResult, error) {
	if s.calculateFunc != nil {
		return s.calculateFunc(ctx, cmd)
	}
	return PricingResult{}, nil
}

func (s *stubPricer) BuildOrderPayload(cart Cart, pricing PricingResult) (OrderPayload, error) {
	if s.payloadFunc != nil {
		return s.payloadFunc(cart, pricing)
	}
	return OrderPayload{Total: pricing.GrandTotal}, nil
}

type repositoryErrorStub struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *repositoryErrorStub) Error() string {
	return "repository error"
}

func (e *repositoryErrorStub) IsNotFound() bool {
	return e.notFound
}

func (e *repositoryErrorStub) IsConflict() bool {
	return e.conflict
}

func (e *repositoryErrorStub) IsUnavailable() bool {
	return e.unavailable
}
