package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/cinetek/api/internal/domain"
	"github.com/cinetek/api/internal/repositories"
)

var (
	errCartRepositoryRequired = errors.New("cart service: repository is required")
	errCartPricerRequired     = errors.New("cart service: pricer is required")
	errCartClockRequired      = errors.New("cart service: clock is required")
)

const maxDeliveryNoteLength = 500

// ErrCartInvalidInput indicates the caller supplied invalid input.
var ErrCartInvalidInput = errors.New("cart service: invalid input")

// ErrCartUnavailable indicates the cart service cannot fulfil the request due to missing dependencies or backend issues.
var ErrCartUnavailable = errors.New("cart service: unavailable")

// ErrCartNotFound indicates the requested cart or cart item does not exist.
var ErrCartNotFound = errors.New("cart service: not found")

// ErrCartConflict indicates the cart could not be updated due to concurrent modifications.
var ErrCartConflict = errors.New("cart service: conflict")

type mediaFinder interface {
	FindPublishedByID(ctx context.Context, mediaID string) (domain.Media, error)
}

// CartServiceDeps wires the repository, catalog lookup and pricing dependencies for cart operations.
type CartServiceDeps struct {
	Repository      repositories.CartRepository
	Media           mediaFinder
	Pricer          PricingService
	Clock           func() time.Time
	DefaultCurrency string
	Logger          func(context.Context, string, map[string]any)
	IDGenerator     func() string
}

type cartService struct {
	repo     repositories.CartRepository
	media    mediaFinder
	pricer   PricingService
	newID    func() string
	now      func() time.Time
	currency string
	logger   func(context.Context, string, map[string]any)
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Repository == nil {
		return nil, errCartRepositoryRequired
	}
	if deps.Pricer == nil {
		return nil, errCartPricerRequired
	}
	if deps.Clock == nil {
		return nil, errCartClockRequired
	}

	defaultCurrency := strings.ToUpper(strings.TrimSpace(deps.DefaultCurrency))
	if defaultCurrency == "" {
		defaultCurrency = "EUR"
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	service := &cartService{
		repo:     deps.Repository,
		media:    deps.Media,
		pricer:   deps.Pricer,
		newID:    idGen,
		now:      func() time.Time { return deps.Clock().UTC() },
		currency: defaultCurrency,
		logger:   logger,
	}
	return service, nil
}

// GetOrCreateCart loads the active cart for the user, creating an empty cart when absent.
func (s *cartService) GetOrCreateCart(ctx context.Context, userID string) (Cart, error) {
	if s == nil || s.repo == nil {
		return Cart{}, ErrCartUnavailable
	}

	uid := strings.TrimSpace(userID)
	if uid == "" {
		return Cart{}, ErrCartInvalidInput
	}

	cart, err := s.repo.GetCart(ctx, uid)
	if err != nil {
		if isRepoNotFound(err) {
			saved, err := s.repo.UpsertCart(ctx, s.newCart(uid), nil)
			if err != nil {
				return Cart{}, s.translateRepoError(err)
			}
			cart = saved
		} else {
			return Cart{}, s.translateRepoError(err)
		}
	}

	normalised := s.normaliseCart(cart, uid)
	return s.priceCart(ctx, normalised)
}

// AddItem resolves the catalog entry server-side and appends or merges a cart line.
func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error) {
	if s == nil || s.repo == nil {
		return Cart{}, ErrCartUnavailable
	}

	userID := strings.TrimSpace(cmd.UserID)
	mediaID := strings.TrimSpace(cmd.MediaID)
	if userID == "" || mediaID == "" {
		return Cart{}, ErrCartInvalidInput
	}
	if !KnownCategory(cmd.Category) {
		return Cart{}, fmt.Errorf("%w: unknown category %q", ErrCartInvalidInput, cmd.Category)
	}

	media, err := s.resolveMedia(ctx, mediaID, cmd.Category)
	if err != nil {
		return Cart{}, err
	}

	item := domain.LineItem{
		ID:        s.newID(),
		MediaID:   media.ID,
		Title:     media.Title,
		Category:  cmd.Category,
		UnitPrice: media.UnitPrice,
		Quantity:  cmd.Quantity,
		AddedAt:   s.now(),
	}

	switch cmd.Category {
	case CategoryArticle:
		if item.Quantity <= 0 {
			item.Quantity = 1
		}
		if len(cmd.SeasonNumbers) > 0 || cmd.Episodes != nil {
			return Cart{}, fmt.Errorf("%w: articles carry no season or episode selection", ErrCartInvalidInput)
		}
	case CategoryFilm:
		item.Quantity = 1
		if len(cmd.SeasonNumbers) > 0 || cmd.Episodes != nil {
			return Cart{}, fmt.Errorf("%w: films carry no season or episode selection", ErrCartInvalidInput)
		}
	case CategorySeries:
		if cmd.Episodes != nil {
			return Cart{}, fmt.Errorf("%w: series are sold by season", ErrCartInvalidInput)
		}
		seasons, err := s.validateSeasons(cmd.SeasonNumbers, media)
		if err != nil {
			return Cart{}, err
		}
		item.Quantity = 1
		item.SeasonNumbers = seasons
	case CategoryManga:
		if len(cmd.SeasonNumbers) > 0 && cmd.Episodes != nil {
			return Cart{}, fmt.Errorf("%w: manga selection must be seasons or an episode range, not both", ErrCartInvalidInput)
		}
		item.Quantity = 1
		if cmd.Episodes != nil {
			episodes, err := s.validateEpisodes(*cmd.Episodes, media)
			if err != nil {
				return Cart{}, err
			}
			item.Episodes = &episodes
		} else {
			seasons, err := s.validateSeasons(cmd.SeasonNumbers, media)
			if err != nil {
				return Cart{}, err
			}
			item.SeasonNumbers = seasons
		}
	}

	cart, exists, err := s.loadCart(ctx, userID)
	if err != nil {
		return Cart{}, err
	}
	previous := time.Time{}
	if exists {
		previous = cart.UpdatedAt
	}

	if merged := mergeCartLine(cart.Items, item); merged >= 0 {
		cart.Items[merged].Quantity += item.Quantity
	} else {
		cart.Items = append(cart.Items, item)
	}

	return s.saveAndPrice(ctx, cart, previous)
}

// UpdateItem adjusts the quantity or selection of an existing cart line.
func (s *cartService) UpdateItem(ctx context.Context, cmd UpdateCartItemCommand) (Cart, error) {
	if s == nil || s.repo == nil {
		return Cart{}, ErrCartUnavailable
	}

	userID := strings.TrimSpace(cmd.UserID)
	itemID := strings.TrimSpace(cmd.ItemID)
	if userID == "" || itemID == "" {
		return Cart{}, ErrCartInvalidInput
	}
	if cmd.Quantity == nil && cmd.SeasonNumbers == nil && cmd.Episodes == nil {
		return Cart{}, ErrCartInvalidInput
	}

	cart, exists, err := s.loadCart(ctx, userID)
	if err != nil {
		return Cart{}, err
	}
	if err := s.checkExpected(cart, cmd.UpdatedAt); err != nil {
		return Cart{}, err
	}
	previous := time.Time{}
	if exists {
		previous = cart.UpdatedAt
	}

	idx := indexOfCartLine(cart.Items, itemID)
	if idx < 0 {
		return Cart{}, ErrCartNotFound
	}
	line := cart.Items[idx]

	if cmd.Quantity != nil {
		if line.Category != CategoryArticle {
			return Cart{}, fmt.Errorf("%w: quantity applies to articles only", ErrCartInvalidInput)
		}
		if *cmd.Quantity <= 0 {
			return Cart{}, fmt.Errorf("%w: quantity must be positive", ErrCartInvalidInput)
		}
		line.Quantity = *cmd.Quantity
	}

	if cmd.SeasonNumbers != nil {
		if line.Category != CategorySeries && line.Category != CategoryManga {
			return Cart{}, fmt.Errorf("%w: season selection applies to series and manga only", ErrCartInvalidInput)
		}
		if cmd.Episodes != nil {
			return Cart{}, fmt.Errorf("%w: manga selection must be seasons or an episode range, not both", ErrCartInvalidInput)
		}
		media, err := s.resolveMedia(ctx, line.MediaID, line.Category)
		if err != nil {
			return Cart{}, err
		}
		seasons, err := s.validateSeasons(cmd.SeasonNumbers, media)
		if err != nil {
			return Cart{}, err
		}
		line.SeasonNumbers = seasons
		line.Episodes = nil
	}

	if cmd.Episodes != nil {
		if line.Category != CategoryManga {
			return Cart{}, fmt.Errorf("%w: episode ranges apply to manga only", ErrCartInvalidInput)
		}
		media, err := s.resolveMedia(ctx, line.MediaID, line.Category)
		if err != nil {
			return Cart{}, err
		}
		episodes, err := s.validateEpisodes(*cmd.Episodes, media)
		if err != nil {
			return Cart{}, err
		}
		line.Episodes = &episodes
		line.SeasonNumbers = nil
	}

	cart.Items[idx] = line
	return s.saveAndPrice(ctx, cart, previous)
}

// RemoveItem drops a cart line and reprices the remainder.
func (s *cartService) RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error) {
	if s == nil || s.repo == nil {
		return Cart{}, ErrCartUnavailable
	}

	userID := strings.TrimSpace(cmd.UserID)
	itemID := strings.TrimSpace(cmd.ItemID)
	if userID == "" || itemID == "" {
		return Cart{}, ErrCartInvalidInput
	}

	cart, exists, err := s.loadCart(ctx, userID)
	if err != nil {
		return Cart{}, err
	}
	if err := s.checkExpected(cart, cmd.UpdatedAt); err != nil {
		return Cart{}, err
	}
	previous := time.Time{}
	if exists {
		previous = cart.UpdatedAt
	}

	idx := indexOfCartLine(cart.Items, itemID)
	if idx < 0 {
		return Cart{}, ErrCartNotFound
	}
	cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)

	return s.saveAndPrice(ctx, cart, previous)
}

// SetDelivery records the delivery request for the cart.
func (s *cartService) SetDelivery(ctx context.Context, cmd SetDeliveryCommand) (Cart, error) {
	if s == nil || s.repo == nil {
		return Cart{}, ErrCartUnavailable
	}

	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Cart{}, ErrCartInvalidInput
	}

	delivery := domain.DeliveryOption{
		Requested: cmd.Delivery.Requested,
		Address:   strings.TrimSpace(cmd.Delivery.Address),
		Note:      strings.TrimSpace(cmd.Delivery.Note),
	}
	if delivery.Requested && delivery.Address == "" {
		return Cart{}, fmt.Errorf("%w: delivery requires an address", ErrCartInvalidInput)
	}
	if len(delivery.Note) > maxDeliveryNoteLength {
		return Cart{}, fmt.Errorf("%w: delivery note must be %d characters or fewer", ErrCartInvalidInput, maxDeliveryNoteLength)
	}

	cart, exists, err := s.loadCart(ctx, userID)
	if err != nil {
		return Cart{}, err
	}
	if err := s.checkExpected(cart, cmd.UpdatedAt); err != nil {
		return Cart{}, err
	}
	previous := time.Time{}
	if exists {
		previous = cart.UpdatedAt
	}

	cart.Delivery = delivery
	return s.saveAndPrice(ctx, cart, previous)
}

// ClearCart resets the cart to an empty state. Clearing an absent cart is a no-op.
func (s *cartService) ClearCart(ctx context.Context, userID string) error {
	if s == nil || s.repo == nil {
		return ErrCartUnavailable
	}

	uid := strings.TrimSpace(userID)
	if uid == "" {
		return ErrCartInvalidInput
	}

	if _, err := s.repo.UpsertCart(ctx, s.newCart(uid), nil); err != nil {
		return s.translateRepoError(err)
	}
	return nil
}

// loadCart fetches and normalises the user's cart. The second return reports
// whether a stored document exists; new carts must be written without a
// concurrency precondition.
func (s *cartService) loadCart(ctx context.Context, userID string) (domain.Cart, bool, error) {
	cart, err := s.repo.GetCart(ctx, userID)
	if err != nil {
		if isRepoNotFound(err) {
			return s.newCart(userID), false, nil
		}
		return domain.Cart{}, false, s.translateRepoError(err)
	}
	return s.normaliseCart(cart, userID), true, nil
}

func (s *cartService) checkExpected(cart domain.Cart, expected *time.Time) error {
	if expected == nil {
		return nil
	}
	if expected.IsZero() || cart.UpdatedAt.IsZero() {
		return ErrCartConflict
	}
	if !cart.UpdatedAt.UTC().Truncate(time.Millisecond).Equal(expected.UTC().Truncate(time.Millisecond)) {
		return ErrCartConflict
	}
	return nil
}

// saveAndPrice reprices the cart, persists it with optimistic concurrency and
// returns the stored state.
func (s *cartService) saveAndPrice(ctx context.Context, cart domain.Cart, previousUpdatedAt time.Time) (Cart, error) {
	cart.UpdatedAt = s.now()
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = cart.UpdatedAt
	}

	priced, err := s.priceCart(ctx, cart)
	if err != nil {
		return Cart{}, err
	}

	var expected *time.Time
	if !previousUpdatedAt.IsZero() {
		ts := previousUpdatedAt.UTC()
		expected = &ts
	}

	saved, err := s.repo.UpsertCart(ctx, priced, expected)
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}
	return s.normaliseCart(saved, cart.UserID), nil
}

func (s *cartService) priceCart(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	result, err := s.pricer.Calculate(ctx, PriceCartCommand{Cart: cart})
	if err != nil {
		s.logger(ctx, "cart.pricing_failed", map[string]any{
			"userID": cart.UserID,
			"error":  err.Error(),
		})
		return domain.Cart{}, translatePricingError(err)
	}
	resultCopy := result
	cart.Pricing = &resultCopy
	return cart, nil
}

func (s *cartService) resolveMedia(ctx context.Context, mediaID string, category Category) (domain.Media, error) {
	if s.media == nil {
		return domain.Media{}, ErrCartUnavailable
	}
	media, err := s.media.FindPublishedByID(ctx, mediaID)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.Media{}, fmt.Errorf("%w: media %s not found", ErrCartInvalidInput, mediaID)
		}
		return domain.Media{}, s.translateRepoError(err)
	}
	if !categoryMatchesKind(category, media.Kind) {
		return domain.Media{}, fmt.Errorf("%w: media %s is not a %s", ErrCartInvalidInput, mediaID, category)
	}
	return media, nil
}

func (s *cartService) validateSeasons(seasons []int, media domain.Media) ([]int, error) {
	if len(seasons) == 0 {
		return nil, nil
	}
	out := make([]int, 0, len(seasons))
	for _, season := range seasons {
		if season <= 0 {
			return nil, fmt.Errorf("%w: season numbers must be positive", ErrCartInvalidInput)
		}
		if len(media.AvailableSeasons) > 0 && !containsInt(media.AvailableSeasons, season) {
			return nil, fmt.Errorf("%w: media %s has no season %d", ErrCartInvalidInput, media.ID, season)
		}
		out = append(out, season)
	}
	sort.Ints(out)
	return out, nil
}

func (s *cartService) validateEpisodes(r domain.EpisodeRange, media domain.Media) (domain.EpisodeRange, error) {
	if r.Start < 1 {
		return domain.EpisodeRange{}, fmt.Errorf("%w: episode range must start at 1 or later", ErrCartInvalidInput)
	}
	if r.End < r.Start {
		return domain.EpisodeRange{}, fmt.Errorf("%w: episode range end precedes start", ErrCartInvalidInput)
	}
	if media.EpisodeCount > 0 && r.End > media.EpisodeCount {
		return domain.EpisodeRange{}, fmt.Errorf("%w: media %s has only %d episodes", ErrCartInvalidInput, media.ID, media.EpisodeCount)
	}
	return r, nil
}

func (s *cartService) newCart(userID string) domain.Cart {
	now := s.now()
	return domain.Cart{
		ID:        userID,
		UserID:    userID,
		Currency:  s.currency,
		Items:     []domain.LineItem{},
		Metadata:  map[string]any{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *cartService) normaliseCart(cart domain.Cart, userID string) domain.Cart {
	if cart.ID = strings.TrimSpace(cart.ID); cart.ID == "" {
		cart.ID = userID
	}
	cart.UserID = strings.TrimSpace(firstNonEmpty(cart.UserID, userID))
	cart.Currency = strings.ToUpper(strings.TrimSpace(firstNonEmpty(cart.Currency, s.currency)))
	if cart.Items == nil {
		cart.Items = []domain.LineItem{}
	}
	if cart.Metadata == nil {
		cart.Metadata = map[string]any{}
	}
	cart.Delivery.Address = strings.TrimSpace(cart.Delivery.Address)
	cart.Delivery.Note = strings.TrimSpace(cart.Delivery.Note)
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = s.now()
	}
	if cart.UpdatedAt.IsZero() {
		cart.UpdatedAt = s.now()
	}
	return cart
}

func (s *cartService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrCartNotFound
		case repoErr.IsConflict():
			return ErrCartConflict
		case repoErr.IsUnavailable():
			return ErrCartUnavailable
		}
		return ErrCartUnavailable
	}
	return ErrCartUnavailable
}

func translatePricingError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPricingInvalidInput) {
		return ErrCartInvalidInput
	}
	return ErrCartUnavailable
}

func categoryMatchesKind(category Category, kind domain.MediaKind) bool {
	switch category {
	case CategoryArticle:
		return kind == domain.MediaKindArticle
	case CategoryFilm:
		return kind == domain.MediaKindFilm
	case CategorySeries:
		return kind == domain.MediaKindSeries
	case CategoryManga:
		return kind == domain.MediaKindManga
	}
	return false
}

// mergeCartLine returns the index of an existing article line for the same
// media, or -1 when the new line must be appended. Only articles merge;
// season and episode selections always keep their own line.
func mergeCartLine(items []domain.LineItem, item domain.LineItem) int {
	if item.Category != CategoryArticle {
		return -1
	}
	for i, existing := range items {
		if existing.Category == CategoryArticle && existing.MediaID == item.MediaID {
			return i
		}
	}
	return -1
}

func indexOfCartLine(items []domain.LineItem, itemID string) int {
	target := strings.TrimSpace(itemID)
	if target == "" {
		return -1
	}
	for i, item := range items {
		if strings.EqualFold(strings.TrimSpace(item.ID), target) {
			return i
		}
	}
	return -1
}

func containsInt(values []int, target int) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
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
