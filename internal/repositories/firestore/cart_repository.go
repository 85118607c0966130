package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/cinetek/api/internal/domain"
	pfirestore "github.com/cinetek/api/internal/platform/firestore"
	"github.com/cinetek/api/internal/repositories"
)

const (
	cartCollection = "carts"
)

// CartRepository persists cart documents within Firestore. One cart per user,
// keyed by the user ID.
type CartRepository struct {
	base     *pfirestore.BaseRepository[cartDocument]
	provider *pfirestore.Provider
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[cartDocument](provider, cartCollection, nil, nil)
	return &CartRepository{
		base:     base,
		provider: provider,
	}, nil
}

// UpsertCart persists the full cart document using the user ID as document
// identifier. When expectedUpdate is provided the write is conditional on the
// stored document not having moved past that timestamp.
func (r *CartRepository) UpsertCart(ctx context.Context, cart domain.Cart, expectedUpdate *time.Time) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}

	cartID := strings.TrimSpace(cart.UserID)
	if cartID == "" {
		cartID = strings.TrimSpace(cart.ID)
	}
	if cartID == "" {
		return domain.Cart{}, errors.New("cart repository: cart id is required")
	}

	now := time.Now().UTC()
	if !cart.UpdatedAt.IsZero() {
		now = cart.UpdatedAt.UTC()
	}
	createdAt := cart.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = now
	}

	doc := encodeCartDocument(cart, createdAt, now)

	var result pfirestore.MutationResult
	var err error
	if expectedUpdate == nil || expectedUpdate.IsZero() {
		result, err = r.base.Set(ctx, cartID, doc)
	} else {
		updates := []firestore.Update{
			{Path: "currency", Value: doc.Currency},
			{Path: "itemsCount", Value: doc.ItemsCount},
			{Path: "updatedAt", Value: doc.UpdatedAt},
		}
		if len(doc.Items) == 0 {
			updates = append(updates, firestore.Update{Path: "items", Value: firestore.Delete})
		} else {
			updates = append(updates, firestore.Update{Path: "items", Value: doc.Items})
		}
		if doc.Delivery == nil {
			updates = append(updates, firestore.Update{Path: "delivery", Value: firestore.Delete})
		} else {
			updates = append(updates, firestore.Update{Path: "delivery", Value: doc.Delivery})
		}
		if doc.Pricing == nil {
			updates = append(updates, firestore.Update{Path: "pricing", Value: firestore.Delete})
		} else {
			updates = append(updates, firestore.Update{Path: "pricing", Value: doc.Pricing})
		}
		if len(doc.Metadata) == 0 {
			updates = append(updates, firestore.Update{Path: "metadata", Value: firestore.Delete})
		} else {
			updates = append(updates, firestore.Update{Path: "metadata", Value: doc.Metadata})
		}
		result, err = r.base.Update(ctx, cartID, updates, firestore.LastUpdateTime(expectedUpdate.UTC()))
	}
	if err != nil {
		return domain.Cart{}, err
	}

	saved := cloneCart(cart)
	saved.ID = cartID
	saved.UserID = cartID
	saved.CreatedAt = createdAt
	saved.UpdatedAt = result.UpdateTime
	return saved, nil
}

// GetCart loads the cart for the given user ID.
func (r *CartRepository) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}

	doc, err := r.base.Get(ctx, uid)
	if err != nil {
		return domain.Cart{}, err
	}

	cart := decodeCartDocument(doc.ID, doc.Data)
	if !doc.UpdateTime.IsZero() {
		cart.UpdatedAt = doc.UpdateTime
	}
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = doc.CreateTime
	}
	return cart, nil
}

// DeleteCart removes the cart document entirely.
func (r *CartRepository) DeleteCart(ctx context.Context, userID string) error {
	if r == nil || r.base == nil {
		return errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return errors.New("cart repository: user id is required")
	}
	return r.base.Delete(ctx, uid)
}

func encodeCartDocument(cart domain.Cart, createdAt, updatedAt time.Time) cartDocument {
	doc := cartDocument{
		Currency:   strings.ToUpper(strings.TrimSpace(cart.Currency)),
		Metadata:   cloneAnyMap(cart.Metadata),
		ItemsCount: len(cart.Items),
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
	}

	if cart.Delivery.Requested || strings.TrimSpace(cart.Delivery.Address) != "" || strings.TrimSpace(cart.Delivery.Note) != "" {
		doc.Delivery = &cartDeliveryDocument{
			Requested: cart.Delivery.Requested,
			Address:   strings.TrimSpace(cart.Delivery.Address),
			Note:      strings.TrimSpace(cart.Delivery.Note),
		}
	}

	for _, item := range cart.Items {
		itemDoc := cartItemDocument{
			ID:        strings.TrimSpace(item.ID),
			MediaID:   strings.TrimSpace(item.MediaID),
			Title:     strings.TrimSpace(item.Title),
			Category:  string(item.Category),
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			Seasons:   cloneInts(item.SeasonNumbers),
			AddedAt:   item.AddedAt.UTC(),
		}
		if item.Episodes != nil {
			itemDoc.EpisodeStart = &item.Episodes.Start
			itemDoc.EpisodeEnd = &item.Episodes.End
		}
		doc.Items = append(doc.Items, itemDoc)
	}

	if cart.Pricing != nil {
		doc.Pricing = encodePricingDocument(*cart.Pricing)
	}
	return doc
}

func decodeCartDocument(id string, doc cartDocument) domain.Cart {
	cart := domain.Cart{
		ID:        id,
		UserID:    id,
		Currency:  strings.ToUpper(strings.TrimSpace(doc.Currency)),
		Items:     []domain.LineItem{},
		Metadata:  cloneAnyMap(doc.Metadata),
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}

	if doc.Delivery != nil {
		cart.Delivery = domain.DeliveryOption{
			Requested: doc.Delivery.Requested,
			Address:   doc.Delivery.Address,
			Note:      doc.Delivery.Note,
		}
	}

	for _, itemDoc := range doc.Items {
		item := domain.LineItem{
			ID:            itemDoc.ID,
			MediaID:       itemDoc.MediaID,
			Title:         itemDoc.Title,
			Category:      domain.Category(itemDoc.Category),
			UnitPrice:     itemDoc.UnitPrice,
			Quantity:      itemDoc.Quantity,
			SeasonNumbers: cloneInts(itemDoc.Seasons),
			AddedAt:       itemDoc.AddedAt,
		}
		if itemDoc.EpisodeStart != nil && itemDoc.EpisodeEnd != nil {
			item.Episodes = &domain.EpisodeRange{Start: *itemDoc.EpisodeStart, End: *itemDoc.EpisodeEnd}
		}
		cart.Items = append(cart.Items, item)
	}

	if doc.Pricing != nil {
		pricing := decodePricingDocument(*doc.Pricing)
		cart.Pricing = &pricing
	}
	return cart
}

func encodePricingDocument(pricing domain.PricingResult) *cartPricingDocument {
	doc := &cartPricingDocument{
		Currency:        pricing.Currency,
		DeliveryFee:     pricing.DeliveryFee,
		GrandTotal:      pricing.GrandTotal,
		SeasonPoolSize:  pricing.SeasonPoolSize,
		FreeSeasonUnits: pricing.FreeSeasonUnits,
		FilmBundles:     pricing.FilmBundles,
		Subtotals:       map[string]int64{},
		Discounts:       map[string]int64{},
	}
	for category, amount := range pricing.SubtotalsByCategory {
		doc.Subtotals[string(category)] = amount
	}
	for category, amount := range pricing.DiscountsByCategory {
		doc.Discounts[string(category)] = amount
	}
	for _, line := range pricing.Lines {
		doc.Lines = append(doc.Lines, cartLinePricingDocument{
			ItemID:   line.ItemID,
			Category: string(line.Category),
			Amount:   line.Amount,
			Units:    line.Units,
		})
	}
	return doc
}

func decodePricingDocument(doc cartPricingDocument) domain.PricingResult {
	pricing := domain.PricingResult{
		Currency:            doc.Currency,
		SubtotalsByCategory: map[domain.Category]int64{},
		DiscountsByCategory: map[domain.Category]int64{},
		DeliveryFee:         doc.DeliveryFee,
		GrandTotal:          doc.GrandTotal,
		SeasonPoolSize:      doc.SeasonPoolSize,
		FreeSeasonUnits:     doc.FreeSeasonUnits,
		FilmBundles:         doc.FilmBundles,
	}
	for category, amount := range doc.Subtotals {
		pricing.SubtotalsByCategory[domain.Category(category)] = amount
	}
	for category, amount := range doc.Discounts {
		pricing.DiscountsByCategory[domain.Category(category)] = amount
	}
	for _, line := range doc.Lines {
		pricing.Lines = append(pricing.Lines, domain.LinePricing{
			ItemID:   line.ItemID,
			Category: domain.Category(line.Category),
			Amount:   line.Amount,
			Units:    line.Units,
		})
	}
	return pricing
}

func cloneCart(cart domain.Cart) domain.Cart {
	dup := cart
	if cart.Items != nil {
		dup.Items = make([]domain.LineItem, len(cart.Items))
		copy(dup.Items, cart.Items)
	}
	if cart.Metadata != nil {
		dup.Metadata = cloneAnyMap(cart.Metadata)
	}
	return dup
}

func cloneAnyMap(values map[string]any) map[string]any {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

func cloneInts(values []int) []int {
	if len(values) == 0 {
		return nil
	}
	return append([]int(nil), values...)
}

type cartDocument struct {
	Currency   string                `firestore:"currency"`
	Items      []cartItemDocument    `firestore:"items,omitempty"`
	Delivery   *cartDeliveryDocument `firestore:"delivery,omitempty"`
	Pricing    *cartPricingDocument  `firestore:"pricing,omitempty"`
	Metadata   map[string]any        `firestore:"metadata,omitempty"`
	ItemsCount int                   `firestore:"itemsCount"`
	CreatedAt  time.Time             `firestore:"createdAt"`
	UpdatedAt  time.Time             `firestore:"updatedAt"`
}

type cartItemDocument struct {
	ID           string    `firestore:"id"`
	MediaID      string    `firestore:"mediaId"`
	Title        string    `firestore:"title"`
	Category     string    `firestore:"category"`
	UnitPrice    int64     `firestore:"unitPrice"`
	Quantity     int       `firestore:"quantity"`
	Seasons      []int     `firestore:"seasons,omitempty"`
	EpisodeStart *int      `firestore:"episodeStart,omitempty"`
	EpisodeEnd   *int      `firestore:"episodeEnd,omitempty"`
	AddedAt      time.Time `firestore:"addedAt"`
}

type cartDeliveryDocument struct {
	Requested bool   `firestore:"requested"`
	Address   string `firestore:"address,omitempty"`
	Note      string `firestore:"note,omitempty"`
}

type cartPricingDocument struct {
	Currency        string                    `firestore:"currency"`
	Subtotals       map[string]int64          `firestore:"subtotals"`
	Discounts       map[string]int64          `firestore:"discounts"`
	DeliveryFee     int64                     `firestore:"deliveryFee"`
	GrandTotal      int64                     `firestore:"grandTotal"`
	SeasonPoolSize  int                       `firestore:"seasonPoolSize"`
	FreeSeasonUnits int                       `firestore:"freeSeasonUnits"`
	FilmBundles     int                       `firestore:"filmBundles"`
	Lines           []cartLinePricingDocument `firestore:"lines,omitempty"`
}

type cartLinePricingDocument struct {
	ItemID   string `firestore:"itemId"`
	Category string `firestore:"category"`
	Amount   int64  `firestore:"amount"`
	Units    int    `firestore:"units"`
}

var _ repositories.CartRepository = (*CartRepository)(nil)
