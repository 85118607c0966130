package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/cinetek/api/internal/domain"
	"github.com/cinetek/api/internal/services"
)

type stubCatalogService struct {
	getFunc    func(ctx context.Context, mediaID string) (services.Media, error)
	listFunc   func(ctx context.Context, filter services.MediaListFilter) (domain.CursorPage[services.Media], error)
	upsertFunc func(ctx context.Context, cmd services.UpsertMediaCommand) (services.Media, error)
	deleteFunc func(ctx context.Context, cmd services.DeleteMediaCommand) error
}

func (s *stubCatalogService) GetMedia(ctx context.Context, mediaID string) (services.Media, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, mediaID)
	}
	return services.Media{}, nil
}

func (s *stubCatalogService) ListMedia(ctx context.Context, filter services.MediaListFilter) (domain.CursorPage[services.Media], error) {
	if s.listFunc != nil {
		return s.listFunc(ctx, filter)
	}
	return domain.CursorPage[services.Media]{}, nil
}

func (s *stubCatalogService) UpsertMedia(ctx context.Context, cmd services.UpsertMediaCommand) (services.Media, error) {
	if s.upsertFunc != nil {
		return s.upsertFunc(ctx, cmd)
	}
	return services.Media{}, nil
}

func (s *stubCatalogService) DeleteMedia(ctx context.Context, cmd services.DeleteMediaCommand) error {
	if s.deleteFunc != nil {
		return s.deleteFunc(ctx, cmd)
	}
	return nil
}

var _ services.CatalogService = (*stubCatalogService)(nil)

type stubStockService struct {
	getFunc func(ctx context.Context, mediaID string) (services.ArticleStock, error)
}

func (s *stubStockService) Reserve(ctx context.Context, cmd services.StockReserveCommand) error {
	return nil
}

func (s *stubStockService) Release(ctx context.Context, cmd services.StockReleaseCommand) error {
	return nil
}

func (s *stubStockService) Commit(ctx context.Context, cmd services.StockCommitCommand) error {
	return nil
}

func (s *stubStockService) Get(ctx context.Context, mediaID string) (services.ArticleStock, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, mediaID)
	}
	return services.ArticleStock{}, nil
}

var _ services.StockService = (*stubStockService)(nil)

func newPublicRouter(catalog services.CatalogService, stock services.StockService) chi.Router {
	handler := NewPublicHandlers(
		WithPublicCatalogService(catalog),
		WithPublicStockService(stock),
	)
	router := chi.NewRouter()
	router.Route("/public", handler.Routes)
	return router
}

func TestPublicHandlersListMedia(t *testing.T) {
	now := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	var captured services.MediaListFilter
	catalog := &stubCatalogService{
		listFunc: func(ctx context.Context, filter services.MediaListFilter) (domain.CursorPage[services.Media], error) {
			captured = filter
			return domain.CursorPage[services.Media]{
				Items: []services.Media{
					{
						ID:               "med-series",
						Kind:             domain.MediaKindSeries,
						Title:            "Signal Hill",
						AvailableSeasons: []int{1, 2, 3},
						Published:        true,
						CreatedAt:        now,
					},
				},
				NextPageToken: "tok-2",
			}, nil
		},
	}

	router := newPublicRouter(catalog, &stubStockService{})

	req := httptest.NewRequest(http.MethodGet, "/public/catalog?kind=series&q=signal&page_size=10", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if cc := rr.Header().Get("Cache-Control"); cc != catalogCacheControl {
		t.Fatalf("expected public cache control, got %q", cc)
	}
	if captured.Kind == nil || *captured.Kind != domain.MediaKindSeries {
		t.Fatalf("expected series kind filter, got %#v", captured.Kind)
	}
	if captured.Search != "signal" {
		t.Fatalf("expected search filter, got %q", captured.Search)
	}
	if !captured.PublishedOnly {
		t.Fatalf("expected published-only listing")
	}
	if captured.Pager.PageSize != 10 {
		t.Fatalf("expected page size 10, got %d", captured.Pager.PageSize)
	}

	var resp mediaListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].ID != "med-series" {
		t.Fatalf("unexpected items: %#v", resp.Items)
	}
	if len(resp.Items[0].AvailableSeasons) != 3 {
		t.Fatalf("expected 3 seasons, got %v", resp.Items[0].AvailableSeasons)
	}
	if resp.NextPageToken != "tok-2" {
		t.Fatalf("expected next page token tok-2, got %q", resp.NextPageToken)
	}
}

func TestPublicHandlersListMediaRejectsBadPaging(t *testing.T) {
	router := newPublicRouter(&stubCatalogService{}, &stubStockService{})

	for _, target := range []string{
		"/public/catalog?page_size=dix",
		"/public/catalog?page_token=%25%25broken%25%25",
	} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected status 400, got %d: %s", target, rr.Code, rr.Body.String())
		}
	}
}

func TestPublicHandlersListMediaRejectsUnknownKind(t *testing.T) {
	router := newPublicRouter(&stubCatalogService{}, &stubStockService{})

	req := httptest.NewRequest(http.MethodGet, "/public/catalog?kind=podcast", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestPublicHandlersGetMediaArticleIncludesStock(t *testing.T) {
	catalog := &stubCatalogService{
		getFunc: func(ctx context.Context, mediaID string) (services.Media, error) {
			return services.Media{
				ID:        "med-mug",
				Kind:      domain.MediaKindArticle,
				Title:     "Storefront Mug",
				UnitPrice: 1250,
				Published: true,
			}, nil
		},
	}
	stock := &stubStockService{
		getFunc: func(ctx context.Context, mediaID string) (services.ArticleStock, error) {
			if mediaID != "med-mug" {
				t.Fatalf("unexpected media id %q", mediaID)
			}
			return services.ArticleStock{MediaID: mediaID, Available: 12, Reserved: 3}, nil
		},
	}

	router := newPublicRouter(catalog, stock)

	req := httptest.NewRequest(http.MethodGet, "/public/catalog/med-mug", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp mediaResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Media.UnitPrice != 1250 {
		t.Fatalf("expected unit price 1250, got %d", resp.Media.UnitPrice)
	}
	if resp.Media.Stock == nil || resp.Media.Stock.Available != 12 || resp.Media.Stock.Reserved != 3 {
		t.Fatalf("expected stock payload, got %#v", resp.Media.Stock)
	}
}

func TestPublicHandlersGetMediaHidesUnpublished(t *testing.T) {
	catalog := &stubCatalogService{
		getFunc: func(ctx context.Context, mediaID string) (services.Media, error) {
			return services.Media{ID: mediaID, Kind: domain.MediaKindFilm, Published: false}, nil
		},
	}

	router := newPublicRouter(catalog, &stubStockService{})

	req := httptest.NewRequest(http.MethodGet, "/public/catalog/med-draft", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestPublicHandlersGetMediaNotFound(t *testing.T) {
	catalog := &stubCatalogService{
		getFunc: func(ctx context.Context, mediaID string) (services.Media, error) {
			return services.Media{}, services.ErrCatalogNotFound
		},
	}

	router := newPublicRouter(catalog, &stubStockService{})

	req := httptest.NewRequest(http.MethodGet, "/public/catalog/med-404", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d: %s", rr.Code, rr.Body.String())
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON error body: %v", err)
	}
	if body["error"] != "media_not_found" {
		t.Fatalf("expected media_not_found error, got %v", body["error"])
	}
}

func TestPublicHandlersListMediaUnavailable(t *testing.T) {
	catalog := &stubCatalogService{
		listFunc: func(ctx context.Context, filter services.MediaListFilter) (domain.CursorPage[services.Media], error) {
			return domain.CursorPage[services.Media]{}, services.ErrCatalogUnavailable
		},
	}

	router := newPublicRouter(catalog, &stubStockService{})

	req := httptest.NewRequest(http.MethodGet, "/public/catalog", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d: %s", rr.Code, rr.Body.String())
	}
}
