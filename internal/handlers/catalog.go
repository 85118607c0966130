package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/cinetek/api/internal/domain"
	"github.com/cinetek/api/internal/platform/httpx"
	"github.com/cinetek/api/internal/platform/pagination"
	"github.com/cinetek/api/internal/services"
)

const (
	defaultCatalogPageSize = 24
	maxCatalogPageSize     = 100
	catalogCacheControl    = "public, max-age=300"
)

var validMediaKinds = map[domain.MediaKind]struct{}{
	domain.MediaKindFilm:    {},
	domain.MediaKindSeries:  {},
	domain.MediaKindManga:   {},
	domain.MediaKindArticle: {},
}

// PublicHandlers exposes unauthenticated catalog endpoints.
type PublicHandlers struct {
	catalog services.CatalogService
	stock   services.StockService
}

// PublicOption customises construction of PublicHandlers.
type PublicOption func(*PublicHandlers)

// WithPublicCatalogService injects the catalog service dependency.
func WithPublicCatalogService(svc services.CatalogService) PublicOption {
	return func(h *PublicHandlers) {
		h.catalog = svc
	}
}

// WithPublicStockService injects the stock service used to surface article availability.
func WithPublicStockService(svc services.StockService) PublicOption {
	return func(h *PublicHandlers) {
		h.stock = svc
	}
}

// NewPublicHandlers constructs handlers for public catalog endpoints.
func NewPublicHandlers(opts ...PublicOption) *PublicHandlers {
	handler := &PublicHandlers{}
	for _, opt := range opts {
		if opt != nil {
			opt(handler)
		}
	}
	return handler
}

// Routes registers public catalog endpoints against the provided router.
func (h *PublicHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/catalog", h.listMedia)
	r.Get("/catalog/{mediaID}", h.getMedia)
}

func (h *PublicHandlers) listMedia(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()

	pager, err := pagination.FromRequest(r, pagination.Options{
		DefaultPageSize: defaultCatalogPageSize,
		MaxPageSize:     maxCatalogPageSize,
	})
	if err != nil {
		writePaginationError(ctx, w, err)
		return
	}

	filter := services.MediaListFilter{
		Search:        strings.TrimSpace(query.Get("q")),
		PublishedOnly: true,
		Pager: services.Pagination{
			PageSize:  pager.PageSize,
			PageToken: pager.PageToken,
		},
	}

	if kindRaw := strings.TrimSpace(query.Get("kind")); kindRaw != "" {
		kind := domain.MediaKind(strings.ToLower(kindRaw))
		if _, ok := validMediaKinds[kind]; !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "kind must be one of article, film, series, manga", http.StatusBadRequest))
			return
		}
		filter.Kind = &kind
	}

	page, err := h.catalog.ListMedia(ctx, filter)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	items := make([]mediaPayload, 0, len(page.Items))
	for _, media := range page.Items {
		items = append(items, buildMediaPayload(media))
	}

	w.Header().Set("Cache-Control", catalogCacheControl)
	writeJSONResponse(w, http.StatusOK, mediaListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *PublicHandlers) getMedia(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}

	mediaID := strings.TrimSpace(chi.URLParam(r, "mediaID"))
	if mediaID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "media id is required", http.StatusBadRequest))
		return
	}

	media, err := h.catalog.GetMedia(ctx, mediaID)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	if !media.Published {
		httpx.WriteError(ctx, w, httpx.NewError("media_not_found", "media not found", http.StatusNotFound))
		return
	}

	payload := mediaResponse{Media: buildMediaPayload(media)}

	if media.Kind == domain.MediaKindArticle && h.stock != nil {
		if stock, err := h.stock.Get(ctx, media.ID); err == nil {
			payload.Media.Stock = &mediaStockPayload{
				Available: stock.Available,
				Reserved:  stock.Reserved,
			}
		}
	}

	w.Header().Set("Cache-Control", catalogCacheControl)
	writeJSONResponse(w, http.StatusOK, payload)
}

type mediaListResponse struct {
	Items         []mediaPayload `json:"items"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type mediaResponse struct {
	Media mediaPayload `json:"media"`
}

type mediaPayload struct {
	ID               string             `json:"id"`
	Kind             string             `json:"kind"`
	Title            string             `json:"title"`
	Description      string             `json:"description,omitempty"`
	CoverURL         string             `json:"cover_url,omitempty"`
	UnitPrice        int64              `json:"unit_price,omitempty"`
	AvailableSeasons []int              `json:"available_seasons,omitempty"`
	EpisodeCount     int                `json:"episode_count,omitempty"`
	Stock            *mediaStockPayload `json:"stock,omitempty"`
	CreatedAt        string             `json:"created_at,omitempty"`
	UpdatedAt        string             `json:"updated_at,omitempty"`
}

type mediaStockPayload struct {
	Available int64 `json:"available"`
	Reserved  int64 `json:"reserved"`
}

func buildMediaPayload(media services.Media) mediaPayload {
	payload := mediaPayload{
		ID:           strings.TrimSpace(media.ID),
		Kind:         string(media.Kind),
		Title:        strings.TrimSpace(media.Title),
		Description:  strings.TrimSpace(media.Description),
		CoverURL:     strings.TrimSpace(media.CoverURL),
		EpisodeCount: media.EpisodeCount,
		CreatedAt:    formatTime(media.CreatedAt),
		UpdatedAt:    formatTime(media.UpdatedAt),
	}
	if media.Kind == domain.MediaKindArticle {
		payload.UnitPrice = media.UnitPrice
	}
	if len(media.AvailableSeasons) > 0 {
		payload.AvailableSeasons = append([]int(nil), media.AvailableSeasons...)
	}
	return payload
}

// writePaginationError maps paging parse failures onto the request error
// envelope shared by every list endpoint.
func writePaginationError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pagination.ErrInvalidPageSize):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
	case errors.Is(err, pagination.ErrInvalidPageToken):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_token is not a valid cursor", http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid paging parameters", http.StatusBadRequest))
	}
}

func writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCatalogNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("media_not_found", "media not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("catalog_error", "failed to process catalog request", http.StatusInternalServerError))
	}
}
