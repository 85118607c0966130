package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var (
	// ErrPricingInvalidInput signals bad cart data such as an unknown category or an inverted episode range.
	ErrPricingInvalidInput = errors.New("pricing engine: invalid input")
	// ErrPricingInvariant is returned when a pricing run produces an impossible figure such as a negative net subtotal.
	ErrPricingInvariant = errors.New("pricing engine: invariant violation")
)

// Default tariff values. Every one of them can be overridden through
// PricingConfig; the defaults reproduce the storefront's published rates.
const (
	DefaultFilmUnitPrice     int64 = 200
	DefaultFilmBundleSize          = 3
	DefaultFilmBundlePrice   int64 = 500
	DefaultSeasonUnitPrice   int64 = 500
	DefaultSeasonsForFree          = 4
	DefaultEpisodesPerUnit         = 40
	DefaultEpisodeBlockPrice int64 = 500
	DefaultDeliveryFee       int64 = 1000
)

// PricingConfig carries the tariff constants driving the engine. Amounts are
// integer minor units.
type PricingConfig struct {
	Currency          string
	FilmUnitPrice     int64
	FilmBundleSize    int
	FilmBundlePrice   int64
	SeasonUnitPrice   int64
	SeasonsForFree    int
	EpisodesPerUnit   int
	EpisodeBlockPrice int64
	DeliveryFee       int64
}

// DefaultPricingConfig returns the published storefront tariff.
func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		Currency:          "EUR",
		FilmUnitPrice:     DefaultFilmUnitPrice,
		FilmBundleSize:    DefaultFilmBundleSize,
		FilmBundlePrice:   DefaultFilmBundlePrice,
		SeasonUnitPrice:   DefaultSeasonUnitPrice,
		SeasonsForFree:    DefaultSeasonsForFree,
		EpisodesPerUnit:   DefaultEpisodesPerUnit,
		EpisodeBlockPrice: DefaultEpisodeBlockPrice,
		DeliveryFee:       DefaultDeliveryFee,
	}
}

// Validate checks that the tariff is internally consistent.
func (c PricingConfig) Validate() error {
	if strings.TrimSpace(c.Currency) == "" {
		return errors.New("pricing config: currency is required")
	}
	if c.FilmUnitPrice < 0 || c.FilmBundlePrice < 0 || c.SeasonUnitPrice < 0 || c.EpisodeBlockPrice < 0 || c.DeliveryFee < 0 {
		return errors.New("pricing config: amounts cannot be negative")
	}
	if c.FilmBundleSize <= 0 {
		return errors.New("pricing config: film bundle size must be positive")
	}
	if c.SeasonsForFree <= 0 {
		return errors.New("pricing config: seasons-for-free threshold must be positive")
	}
	if c.EpisodesPerUnit <= 0 {
		return errors.New("pricing config: episodes per unit must be positive")
	}
	if c.FilmBundlePrice > int64(c.FilmBundleSize)*c.FilmUnitPrice {
		return errors.New("pricing config: film bundle price exceeds the bundled unit prices")
	}
	return nil
}

// PricingEngine prices carts. A run is a pure function of the cart and the
// configured tariff: classify every line, price it by category, resolve the
// cross-category discounts, apply the delivery fee, and report the result.
// The engine performs no I/O and keeps no state between runs.
type PricingEngine struct {
	config PricingConfig
	now    func() time.Time
	logger func(context.Context, string, map[string]any)
}

// PricingEngineDeps bundles the construction inputs for NewPricingEngine.
type PricingEngineDeps struct {
	Config PricingConfig
	Now    func() time.Time
	Logger func(context.Context, string, map[string]any)
}

// NewPricingEngine validates the tariff and builds an engine.
func NewPricingEngine(deps PricingEngineDeps) (*PricingEngine, error) {
	if err := deps.Config.Validate(); err != nil {
		return nil, err
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	engine := &PricingEngine{
		config: deps.Config,
		now: func() time.Time {
			return now().UTC()
		},
		logger: logger,
	}

	return engine, nil
}

// PriceCartCommand is the input to a pricing run.
type PriceCartCommand struct {
	Cart Cart
}

// lineClass is the result of classifying a line item. The category set is
// closed; classifyLine rejects anything outside it.
type lineClass int

const (
	classArticle lineClass = iota
	classFilm
	classSeriesSeasons
	classMangaSeasons
	classMangaEpisodes
)

func classifyLine(item LineItem) (lineClass, error) {
	switch item.Category {
	case CategoryArticle:
		return classArticle, nil
	case CategoryFilm:
		return classFilm, nil
	case CategorySeries:
		if item.Episodes != nil {
			return 0, fmt.Errorf("%w: item %s: episode ranges only apply to manga", ErrPricingInvalidInput, item.ID)
		}
		return classSeriesSeasons, nil
	case CategoryManga:
		if item.Episodes != nil && len(item.SeasonNumbers) > 0 {
			return 0, fmt.Errorf("%w: item %s selects both seasons and an episode range", ErrPricingInvalidInput, item.ID)
		}
		if item.Episodes != nil {
			return classMangaEpisodes, nil
		}
		return classMangaSeasons, nil
	default:
		return 0, fmt.Errorf("%w: item %s has unknown category %q", ErrPricingInvalidInput, item.ID, item.Category)
	}
}

// Calculate runs the pricing pipeline over the cart. Unknown categories,
// inverted episode ranges, and a delivery request without an address abort
// the whole run; an empty cart prices to zero without error.
func (e *PricingEngine) Calculate(ctx context.Context, cmd PriceCartCommand) (PricingResult, error) {
	cart := cmd.Cart
	if err := e.validateCartInput(cart); err != nil {
		return PricingResult{}, err
	}

	cfg := e.config
	subtotals := make(map[Category]int64)
	discounts := make(map[Category]int64)
	lines := make([]LinePricing, 0, len(cart.Items))

	var filmCount int
	var seasonPool int
	var seriesSeasonUnits int
	var mangaSeasonUnits int

	for _, item := range cart.Items {
		class, err := classifyLine(item)
		if err != nil {
			return PricingResult{}, err
		}

		var amount int64
		var units int
		switch class {
		case classArticle:
			quantity := int64(item.Quantity)
			if item.UnitPrice > 0 && quantity > 0 && item.UnitPrice > math.MaxInt64/quantity {
				return PricingResult{}, fmt.Errorf("%w: item %s subtotal overflow", ErrPricingInvalidInput, item.ID)
			}
			amount = item.UnitPrice * quantity
			units = item.Quantity
		case classFilm:
			// Films carry a fixed catalog price; any client-supplied unit
			// price is ignored.
			amount = cfg.FilmUnitPrice
			units = 1
			filmCount++
		case classSeriesSeasons:
			units = len(item.SeasonNumbers)
			amount = cfg.SeasonUnitPrice * int64(units)
			seasonPool += units
			seriesSeasonUnits += units
		case classMangaSeasons:
			units = len(item.SeasonNumbers)
			amount = cfg.SeasonUnitPrice * int64(units)
			seasonPool += units
			mangaSeasonUnits += units
		case classMangaEpisodes:
			episodes := item.Episodes.Count()
			units = (episodes + cfg.EpisodesPerUnit - 1) / cfg.EpisodesPerUnit
			amount = cfg.EpisodeBlockPrice * int64(units)
		}

		if amount < 0 {
			return PricingResult{}, fmt.Errorf("%w: negative amount for item %s", ErrPricingInvalidInput, item.ID)
		}
		if amount > 0 && subtotals[item.Category] > math.MaxInt64-amount {
			return PricingResult{}, fmt.Errorf("%w: cart subtotal overflow", ErrPricingInvalidInput)
		}
		subtotals[item.Category] += amount
		lines = append(lines, LinePricing{ItemID: item.ID, Category: item.Category, Amount: amount, Units: units})
	}

	// Season pool discount: series and manga seasons share one counter. The
	// discount is deducted once, attributed to the series subtotal first and
	// the remainder to manga.
	freeUnits := seasonPool / cfg.SeasonsForFree
	seasonDiscount := int64(freeUnits) * cfg.SeasonUnitPrice
	if seasonDiscount > 0 {
		seriesShare := seasonDiscount
		if max := subtotals[CategorySeries]; seriesShare > max {
			seriesShare = max
		}
		mangaShare := seasonDiscount - seriesShare
		if max := subtotals[CategoryManga]; mangaShare > max {
			e.logger(ctx, "pricing_discount_clamped", map[string]any{
				"pool":     "season",
				"discount": seasonDiscount,
				"subtotal": subtotals[CategorySeries] + subtotals[CategoryManga],
			})
			mangaShare = max
		}
		if seriesShare > 0 {
			discounts[CategorySeries] += seriesShare
		}
		if mangaShare > 0 {
			discounts[CategoryManga] += mangaShare
		}
	}

	// Film bundle discount: every full bundle collapses to the bundle price.
	bundles := filmCount / cfg.FilmBundleSize
	bundleSaving := int64(cfg.FilmBundleSize)*cfg.FilmUnitPrice - cfg.FilmBundlePrice
	filmDiscount := int64(bundles) * bundleSaving
	if filmDiscount > 0 {
		if max := subtotals[CategoryFilm]; filmDiscount > max {
			e.logger(ctx, "pricing_discount_clamped", map[string]any{
				"pool":     "film",
				"discount": filmDiscount,
				"subtotal": max,
			})
			filmDiscount = max
		}
		discounts[CategoryFilm] += filmDiscount
	}

	var subtotal, discountTotal int64
	for _, amount := range subtotals {
		subtotal += amount
	}
	for _, amount := range discounts {
		discountTotal += amount
	}

	net := subtotal - discountTotal
	if net < 0 {
		return PricingResult{}, fmt.Errorf("%w: net subtotal %d below zero", ErrPricingInvariant, net)
	}

	var deliveryFee int64
	if cart.Delivery.Requested {
		deliveryFee = cfg.DeliveryFee
	}

	result := PricingResult{
		Currency:            cfg.Currency,
		SubtotalsByCategory: subtotals,
		DiscountsByCategory: discounts,
		DeliveryFee:         deliveryFee,
		GrandTotal:          net + deliveryFee,
		SeasonPoolSize:      seasonPool,
		FreeSeasonUnits:     freeUnits,
		FilmBundles:         bundles,
		Lines:               lines,
		Metadata: map[string]any{
			"netSubtotal":       net,
			"seriesSeasonUnits": seriesSeasonUnits,
			"mangaSeasonUnits":  mangaSeasonUnits,
			"pricedAt":          e.now(),
		},
	}

	return result, nil
}

func (e *PricingEngine) validateCartInput(cart Cart) error {
	if cart.Delivery.Requested && strings.TrimSpace(cart.Delivery.Address) == "" {
		return fmt.Errorf("%w: delivery requested without an address", ErrPricingInvalidInput)
	}

	for _, item := range cart.Items {
		if !KnownCategory(item.Category) {
			return fmt.Errorf("%w: item %s has unknown category %q", ErrPricingInvalidInput, item.ID, item.Category)
		}
		switch item.Category {
		case CategoryArticle:
			if item.Quantity <= 0 {
				return fmt.Errorf("%w: item %s quantity must be positive", ErrPricingInvalidInput, item.ID)
			}
			if item.UnitPrice < 0 {
				return fmt.Errorf("%w: item %s unit price cannot be negative", ErrPricingInvalidInput, item.ID)
			}
		case CategorySeries, CategoryManga:
			for _, season := range item.SeasonNumbers {
				if season <= 0 {
					return fmt.Errorf("%w: item %s has invalid season number %d", ErrPricingInvalidInput, item.ID, season)
				}
			}
			if item.Episodes != nil {
				if item.Episodes.Start <= 0 {
					return fmt.Errorf("%w: item %s episode range must start at 1 or above", ErrPricingInvalidInput, item.ID)
				}
				if item.Episodes.End < item.Episodes.Start {
					return fmt.Errorf("%w: item %s episode range ends before it starts", ErrPricingInvalidInput, item.ID)
				}
			}
		}
	}
	return nil
}

// BuildOrderPayload freezes a priced cart into the order payload handed to
// order creation. The pricing result must come from a Calculate run over the
// same cart.
func (e *PricingEngine) BuildOrderPayload(cart Cart, pricing PricingResult) (OrderPayload, error) {
	if pricing.GrandTotal < 0 {
		return OrderPayload{}, fmt.Errorf("%w: grand total %d below zero", ErrPricingInvariant, pricing.GrandTotal)
	}
	amounts := make(map[string]int64, len(pricing.Lines))
	for _, line := range pricing.Lines {
		amounts[line.ItemID] = line.Amount
	}

	payload := OrderPayload{
		Total:    pricing.GrandTotal,
		Articles: []ArticlePayload{},
		Contents: []ContentPayload{},
		DeliveryInfo: DeliveryInfoPayload{
			IsRequired: cart.Delivery.Requested,
			Address:    cart.Delivery.Address,
			Note:       cart.Delivery.Note,
		},
		FilmDiscount:   pricing.DiscountsByCategory[CategoryFilm],
		SeriesDiscount: pricing.DiscountsByCategory[CategorySeries] + pricing.DiscountsByCategory[CategoryManga],
	}

	for _, item := range cart.Items {
		amount, ok := amounts[item.ID]
		if !ok {
			return OrderPayload{}, fmt.Errorf("%w: item %s missing from pricing result", ErrPricingInvariant, item.ID)
		}
		switch item.Category {
		case CategoryArticle:
			payload.Articles = append(payload.Articles, ArticlePayload{
				ID:       item.MediaID,
				Price:    amount,
				Title:    item.Title,
				Quantity: item.Quantity,
			})
		case CategoryFilm, CategorySeries, CategoryManga:
			content := ContentPayload{
				ID:    item.MediaID,
				Price: amount,
				Type:  string(item.Category),
				Title: item.Title,
			}
			if len(item.SeasonNumbers) > 0 {
				content.Seasons = append([]int(nil), item.SeasonNumbers...)
			}
			if item.Episodes != nil {
				start := item.Episodes.Start
				end := item.Episodes.End
				content.EpisodeStart = &start
				content.EpisodeEnd = &end
			}
			payload.Contents = append(payload.Contents, content)
		default:
			return OrderPayload{}, fmt.Errorf("%w: item %s has unknown category %q", ErrPricingInvalidInput, item.ID, item.Category)
		}
	}

	return payload, nil
}
