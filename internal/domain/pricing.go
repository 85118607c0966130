package domain

// PricingResult captures the full monetary outcome of pricing a cart. All
// amounts are integer minor units. A result is a pure function of the cart
// contents and the pricing configuration; pricing the same cart twice yields
// identical results.
type PricingResult struct {
	Currency            string
	SubtotalsByCategory map[Category]int64
	DiscountsByCategory map[Category]int64
	DeliveryFee         int64
	GrandTotal          int64
	SeasonPoolSize      int
	FreeSeasonUnits     int
	FilmBundles         int
	Lines               []LinePricing
	Metadata            map[string]any
}

// LinePricing stores the per-line outputs of a pricing run, keyed back to the
// originating line item.
type LinePricing struct {
	ItemID   string
	Category Category
	Amount   int64
	Units    int
}

// Subtotal returns the sum of all category subtotals before discounts and
// delivery.
func (r PricingResult) Subtotal() int64 {
	var total int64
	for _, amount := range r.SubtotalsByCategory {
		total += amount
	}
	return total
}

// DiscountTotal returns the sum of all category discounts.
func (r PricingResult) DiscountTotal() int64 {
	var total int64
	for _, amount := range r.DiscountsByCategory {
		total += amount
	}
	return total
}

// OrderPayload is the frozen order document handed to order creation. Field
// names follow the established storefront wire contract and must not change.
type OrderPayload struct {
	Total          int64               `json:"total"`
	Articles       []ArticlePayload    `json:"articles"`
	Contents       []ContentPayload    `json:"contents"`
	DeliveryInfo   DeliveryInfoPayload `json:"deliveryInfo"`
	FilmDiscount   int64               `json:"filmDiscount"`
	SeriesDiscount int64               `json:"seriesDiscount"`
}

// ArticlePayload describes one physical article line inside an order payload.
type ArticlePayload struct {
	ID       string `json:"id"`
	Price    int64  `json:"prix"`
	Title    string `json:"titre"`
	Quantity int    `json:"quantite"`
}

// ContentPayload describes one digital media line inside an order payload.
// Seasons is present for series and manga season selections; the episode
// bounds are present for manga episode ranges.
type ContentPayload struct {
	ID           string `json:"id"`
	Price        int64  `json:"prix"`
	Type         string `json:"type"`
	Title        string `json:"titre"`
	Seasons      []int  `json:"saisons,omitempty"`
	EpisodeStart *int   `json:"episode_start,omitempty"`
	EpisodeEnd   *int   `json:"episode_end,omitempty"`
}

// DeliveryInfoPayload carries the delivery request on an order payload.
type DeliveryInfoPayload struct {
	IsRequired bool   `json:"isRequired"`
	Address    string `json:"address"`
	Note       string `json:"note"`
}
