package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/cinetek/api/internal/domain"
	"github.com/cinetek/api/internal/platform/auth"
	"github.com/cinetek/api/internal/platform/httpx"
	"github.com/cinetek/api/internal/services"
)

// CartHandlers exposes authenticated cart endpoints for the current user.
type CartHandlers struct {
	authn *auth.Authenticator
	carts services.CartService
}

const maxCartBodySize = 16 * 1024

// NewCartHandlers constructs handlers enforcing Firebase authentication before invoking the cart service.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService) *CartHandlers {
	return &CartHandlers{
		authn: authn,
		carts: carts,
	}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/items", h.addItem)
	r.Patch("/items/{itemID}", h.updateItem)
	r.Delete("/items/{itemID}", h.removeItem)
	r.Put("/delivery", h.setDelivery)
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}

	cart, err := h.carts.GetOrCreateCart(ctx, uid)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	payload := cartResponse{Cart: buildCartPayload(cart)}
	setCartResponseHeaders(w, cart)
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}

	if err := h.carts.ClearCart(ctx, uid); err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeCartBodyError(ctx, w, err)
		return
	}

	req, err := parseAddCartItemRequest(body)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	cmd := services.AddCartItemCommand{
		UserID:        uid,
		MediaID:       req.mediaID,
		Category:      domain.Category(req.category),
		Quantity:      req.quantity,
		SeasonNumbers: req.seasons,
		Episodes:      req.episodes,
	}

	cart, err := h.carts.AddItem(ctx, cmd)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	payload := cartResponse{Cart: buildCartPayload(cart)}
	setCartResponseHeaders(w, cart)
	writeJSONResponse(w, http.StatusCreated, payload)
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}

	itemID := strings.TrimSpace(chi.URLParam(r, "itemID"))
	if itemID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "item id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeCartBodyError(ctx, w, err)
		return
	}

	req, err := parseUpdateCartItemRequest(body)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	cmd := services.UpdateCartItemCommand{
		UserID:        uid,
		ItemID:        itemID,
		Quantity:      req.quantity,
		SeasonNumbers: req.seasons,
		Episodes:      req.episodes,
	}
	expected, err := expectedUpdatedAt(r, req.updatedAt)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	cmd.UpdatedAt = expected

	cart, err := h.carts.UpdateItem(ctx, cmd)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	payload := cartResponse{Cart: buildCartPayload(cart)}
	setCartResponseHeaders(w, cart)
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}

	itemID := strings.TrimSpace(chi.URLParam(r, "itemID"))
	if itemID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "item id is required", http.StatusBadRequest))
		return
	}

	cmd := services.RemoveCartItemCommand{UserID: uid, ItemID: itemID}
	expected, err := expectedUpdatedAt(r, nil)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	cmd.UpdatedAt = expected

	cart, err := h.carts.RemoveItem(ctx, cmd)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	payload := cartResponse{Cart: buildCartPayload(cart)}
	setCartResponseHeaders(w, cart)
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *CartHandlers) setDelivery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeCartBodyError(ctx, w, err)
		return
	}

	req, err := parseSetDeliveryRequest(body)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	cmd := services.SetDeliveryCommand{
		UserID: uid,
		Delivery: domain.DeliveryOption{
			Requested: req.requested,
			Address:   req.address,
			Note:      req.note,
		},
	}
	expected, err := expectedUpdatedAt(r, req.updatedAt)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	cmd.UpdatedAt = expected

	cart, err := h.carts.SetDelivery(ctx, cmd)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	payload := cartResponse{Cart: buildCartPayload(cart)}
	setCartResponseHeaders(w, cart)
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *CartHandlers) requireIdentity(ctx context.Context, w http.ResponseWriter) (string, bool) {
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return "", false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return "", false
	}
	return identity.UID, true
}

func (h *CartHandlers) writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPricingInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_cart_state", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_not_found", "cart or item not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartConflict):
		httpx.WriteError(ctx, w, httpx.NewError("cart_conflict", "cart has been modified; refresh and retry", http.StatusConflict))
	case errors.Is(err, services.ErrPricingInvariant):
		httpx.WriteError(ctx, w, httpx.NewError("pricing_invariant", "cart pricing produced an invalid total", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCartUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "cart operation failed", http.StatusInternalServerError))
	}
}

func writeCartBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

// expectedUpdatedAt resolves the optimistic-concurrency timestamp from the
// request body or, failing that, the If-Unmodified-Since header.
func expectedUpdatedAt(r *http.Request, fromBody *time.Time) (*time.Time, error) {
	if fromBody != nil {
		return fromBody, nil
	}
	ifUnmodified := strings.TrimSpace(r.Header.Get("If-Unmodified-Since"))
	if ifUnmodified == "" {
		return nil, nil
	}
	parsed, err := time.Parse(http.TimeFormat, ifUnmodified)
	if err != nil {
		return nil, errors.New("If-Unmodified-Since must be a valid HTTP-date")
	}
	return &parsed, nil
}

func setCartResponseHeaders(w http.ResponseWriter, cart services.Cart) {
	cacheControl := "no-store, no-cache, max-age=0, must-revalidate"
	w.Header().Set("Cache-Control", cacheControl)
	w.Header().Set("Pragma", "no-cache")
	if !cart.UpdatedAt.IsZero() {
		w.Header().Set("Last-Modified", cart.UpdatedAt.UTC().Format(http.TimeFormat))
	}
	if etag := buildCartETag(cart); etag != "" {
		w.Header().Set("ETag", etag)
	}
}

func buildCartPayload(cart services.Cart) cartPayload {
	payload := cartPayload{
		ID:         strings.TrimSpace(cart.ID),
		UserID:     strings.TrimSpace(cart.UserID),
		Currency:   strings.ToUpper(strings.TrimSpace(cart.Currency)),
		ItemsCount: len(cart.Items),
		Items:      buildCartItems(cart.Items),
		Delivery: cartDeliveryPayload{
			Requested: cart.Delivery.Requested,
			Address:   strings.TrimSpace(cart.Delivery.Address),
			Note:      strings.TrimSpace(cart.Delivery.Note),
		},
		Metadata: cloneMap(cart.Metadata),
	}

	if cart.Pricing != nil {
		pricing := buildPricingPayload(*cart.Pricing)
		payload.Pricing = &pricing
	}
	if !cart.UpdatedAt.IsZero() {
		payload.UpdatedAt = formatTime(cart.UpdatedAt)
	}

	return payload
}

func buildCartItems(items []services.LineItem) []cartItemPayload {
	if len(items) == 0 {
		return []cartItemPayload{}
	}

	payload := make([]cartItemPayload, 0, len(items))
	for _, item := range items {
		entry := cartItemPayload{
			ID:       strings.TrimSpace(item.ID),
			MediaID:  strings.TrimSpace(item.MediaID),
			Title:    strings.TrimSpace(item.Title),
			Category: string(item.Category),
			Quantity: item.Quantity,
		}
		if item.Category == domain.CategoryArticle {
			entry.UnitPrice = item.UnitPrice
		}
		if len(item.SeasonNumbers) > 0 {
			entry.Seasons = append([]int(nil), item.SeasonNumbers...)
		}
		if item.Episodes != nil {
			entry.Episodes = &episodeRangePayload{
				Start: item.Episodes.Start,
				End:   item.Episodes.End,
			}
		}
		if !item.AddedAt.IsZero() {
			entry.AddedAt = formatTime(item.AddedAt)
		}
		payload = append(payload, entry)
	}
	return payload
}

func buildPricingPayload(pricing services.PricingResult) cartPricingPayload {
	payload := cartPricingPayload{
		Currency:       strings.ToUpper(strings.TrimSpace(pricing.Currency)),
		Subtotal:       pricing.Subtotal(),
		DiscountTotal:  pricing.DiscountTotal(),
		DeliveryFee:    pricing.DeliveryFee,
		GrandTotal:     pricing.GrandTotal,
		SeasonPoolSize: pricing.SeasonPoolSize,
		FreeSeasons:    pricing.FreeSeasonUnits,
		FilmBundles:    pricing.FilmBundles,
		Subtotals:      map[string]int64{},
		Discounts:      map[string]int64{},
	}
	for category, amount := range pricing.SubtotalsByCategory {
		payload.Subtotals[string(category)] = amount
	}
	for category, amount := range pricing.DiscountsByCategory {
		payload.Discounts[string(category)] = amount
	}
	if len(pricing.Lines) > 0 {
		payload.Lines = make([]linePricingPayload, 0, len(pricing.Lines))
		for _, line := range pricing.Lines {
			payload.Lines = append(payload.Lines, linePricingPayload{
				ItemID:   line.ItemID,
				Category: string(line.Category),
				Amount:   line.Amount,
				Units:    line.Units,
			})
		}
	}
	return payload
}

func buildCartETag(cart services.Cart) string {
	if strings.TrimSpace(cart.ID) == "" || cart.UpdatedAt.IsZero() {
		return ""
	}
	input := fmt.Sprintf("%s:%d", strings.TrimSpace(cart.ID), cart.UpdatedAt.UTC().UnixNano())
	sum := sha256.Sum256([]byte(input))
	token := hex.EncodeToString(sum[:8])
	return fmt.Sprintf(`W/"%s"`, token)
}

func cloneMap(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

type cartPayload struct {
	ID         string              `json:"id"`
	UserID     string              `json:"user_id"`
	Currency   string              `json:"currency"`
	ItemsCount int                 `json:"items_count"`
	Items      []cartItemPayload   `json:"items"`
	Delivery   cartDeliveryPayload `json:"delivery"`
	Pricing    *cartPricingPayload `json:"pricing,omitempty"`
	Metadata   map[string]any      `json:"metadata,omitempty"`
	UpdatedAt  string              `json:"updated_at,omitempty"`
}

type cartDeliveryPayload struct {
	Requested bool   `json:"requested"`
	Address   string `json:"address,omitempty"`
	Note      string `json:"note,omitempty"`
}

type cartItemPayload struct {
	ID        string               `json:"id"`
	MediaID   string               `json:"media_id"`
	Title     string               `json:"title,omitempty"`
	Category  string               `json:"category"`
	UnitPrice int64                `json:"unit_price,omitempty"`
	Quantity  int                  `json:"quantity,omitempty"`
	Seasons   []int                `json:"seasons,omitempty"`
	Episodes  *episodeRangePayload `json:"episodes,omitempty"`
	AddedAt   string               `json:"added_at,omitempty"`
}

type episodeRangePayload struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type cartPricingPayload struct {
	Currency       string               `json:"currency"`
	Subtotal       int64                `json:"subtotal"`
	DiscountTotal  int64                `json:"discount_total"`
	DeliveryFee    int64                `json:"delivery_fee"`
	GrandTotal     int64                `json:"grand_total"`
	SeasonPoolSize int                  `json:"season_pool_size,omitempty"`
	FreeSeasons    int                  `json:"free_seasons,omitempty"`
	FilmBundles    int                  `json:"film_bundles,omitempty"`
	Subtotals      map[string]int64     `json:"subtotals"`
	Discounts      map[string]int64     `json:"discounts"`
	Lines          []linePricingPayload `json:"lines,omitempty"`
}

type linePricingPayload struct {
	ItemID   string `json:"item_id"`
	Category string `json:"category"`
	Amount   int64  `json:"amount"`
	Units    int    `json:"units"`
}

type addCartItemRequest struct {
	mediaID  string
	category string
	quantity int
	seasons  []int
	episodes *domain.EpisodeRange
}

func parseAddCartItemRequest(body []byte) (addCartItemRequest, error) {
	var req addCartItemRequest
	if len(strings.TrimSpace(string(body))) == 0 {
		return req, errEmptyBody
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return req, errors.New("invalid JSON payload")
	}

	for key, value := range raw {
		switch key {
		case "media_id":
			if err := unmarshalRequiredString(value, &req.mediaID); err != nil {
				return req, errors.New("media_id must be a non-empty string")
			}
		case "category":
			if err := unmarshalRequiredString(value, &req.category); err != nil {
				return req, errors.New("category must be a non-empty string")
			}
		case "quantity":
			if isJSONNull(value) {
				continue
			}
			if err := json.Unmarshal(value, &req.quantity); err != nil {
				return req, errors.New("quantity must be an integer")
			}
		case "seasons":
			if isJSONNull(value) {
				continue
			}
			if err := json.Unmarshal(value, &req.seasons); err != nil {
				return req, errors.New("seasons must be an array of integers")
			}
		case "episodes":
			episodes, err := parseEpisodeRange(value)
			if err != nil {
				return req, err
			}
			req.episodes = episodes
		default:
			return req, fmt.Errorf("field %q is not editable", key)
		}
	}

	if req.mediaID == "" {
		return req, errors.New("media_id is required")
	}
	if req.category == "" {
		return req, errors.New("category is required")
	}
	return req, nil
}

type updateCartItemRequest struct {
	quantity  *int
	seasons   []int
	episodes  *domain.EpisodeRange
	updatedAt *time.Time
}

func parseUpdateCartItemRequest(body []byte) (updateCartItemRequest, error) {
	var req updateCartItemRequest
	if len(strings.TrimSpace(string(body))) == 0 {
		return req, errEmptyBody
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return req, errors.New("invalid JSON payload")
	}

	edited := false
	for key, value := range raw {
		switch key {
		case "quantity":
			if isJSONNull(value) {
				return req, errors.New("quantity must be an integer")
			}
			var quantity int
			if err := json.Unmarshal(value, &quantity); err != nil {
				return req, errors.New("quantity must be an integer")
			}
			req.quantity = &quantity
			edited = true
		case "seasons":
			if isJSONNull(value) {
				continue
			}
			if err := json.Unmarshal(value, &req.seasons); err != nil {
				return req, errors.New("seasons must be an array of integers")
			}
			edited = true
		case "episodes":
			episodes, err := parseEpisodeRange(value)
			if err != nil {
				return req, err
			}
			req.episodes = episodes
			edited = true
		case "updated_at":
			if isJSONNull(value) {
				continue
			}
			var ts string
			if err := json.Unmarshal(value, &ts); err != nil {
				return req, errors.New("updated_at must be a string")
			}
			parsed, err := parseRFC3339(strings.TrimSpace(ts))
			if err != nil {
				return req, fmt.Errorf("updated_at must be RFC3339 timestamp: %w", err)
			}
			req.updatedAt = &parsed
		default:
			return req, fmt.Errorf("field %q is not editable", key)
		}
	}

	if !edited {
		return req, errNoEditableFields
	}
	return req, nil
}

type setDeliveryRequest struct {
	requested bool
	address   string
	note      string
	updatedAt *time.Time
}

func parseSetDeliveryRequest(body []byte) (setDeliveryRequest, error) {
	var req setDeliveryRequest
	if len(strings.TrimSpace(string(body))) == 0 {
		return req, errEmptyBody
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return req, errors.New("invalid JSON payload")
	}

	seenRequested := false
	for key, value := range raw {
		switch key {
		case "requested":
			if isJSONNull(value) {
				return req, errors.New("requested must be a boolean")
			}
			if err := json.Unmarshal(value, &req.requested); err != nil {
				return req, errors.New("requested must be a boolean")
			}
			seenRequested = true
		case "address":
			if isJSONNull(value) {
				continue
			}
			if err := json.Unmarshal(value, &req.address); err != nil {
				return req, errors.New("address must be a string")
			}
			req.address = strings.TrimSpace(req.address)
		case "note":
			if isJSONNull(value) {
				continue
			}
			if err := json.Unmarshal(value, &req.note); err != nil {
				return req, errors.New("note must be a string")
			}
			req.note = strings.TrimSpace(req.note)
		case "updated_at":
			if isJSONNull(value) {
				continue
			}
			var ts string
			if err := json.Unmarshal(value, &ts); err != nil {
				return req, errors.New("updated_at must be a string")
			}
			parsed, err := parseRFC3339(strings.TrimSpace(ts))
			if err != nil {
				return req, fmt.Errorf("updated_at must be RFC3339 timestamp: %w", err)
			}
			req.updatedAt = &parsed
		default:
			return req, fmt.Errorf("field %q is not editable", key)
		}
	}

	if !seenRequested {
		return req, errors.New("requested is required")
	}
	return req, nil
}

func parseEpisodeRange(value json.RawMessage) (*domain.EpisodeRange, error) {
	if isJSONNull(value) {
		return nil, nil
	}
	var bounds struct {
		Start *int `json:"start"`
		End   *int `json:"end"`
	}
	decoder := json.NewDecoder(strings.NewReader(string(value)))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&bounds); err != nil {
		return nil, errors.New("episodes must be an object with start and end")
	}
	if bounds.Start == nil || bounds.End == nil {
		return nil, errors.New("episodes requires both start and end")
	}
	return &domain.EpisodeRange{Start: *bounds.Start, End: *bounds.End}, nil
}

func unmarshalRequiredString(value json.RawMessage, dst *string) error {
	if isJSONNull(value) {
		return errors.New("null")
	}
	var s string
	if err := json.Unmarshal(value, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return errors.New("empty")
	}
	*dst = s
	return nil
}
