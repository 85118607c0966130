package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/cinetek/api/internal/domain"
	"github.com/cinetek/api/internal/repositories"
)

type stubMediaRepository struct {
	findFunc          func(ctx context.Context, mediaID string) (domain.Media, error)
	findPublishedFunc func(ctx context.Context, mediaID string) (domain.Media, error)
	listFunc          func(ctx context.Context, filter repositories.MediaListFilter) (domain.CursorPage[domain.Media], error)
	upsertFunc        func(ctx context.Context, media domain.Media) (domain.Media, error)
	deleteFunc        func(ctx context.Context, mediaID string) error
}

func (s *stubMediaRepository) FindByID(ctx context.Context, mediaID string) (domain.Media, error) {
	if s.findFunc == nil {
		return domain.Media{}, &repositoryErrorStub{notFound: true}
	}
	return s.findFunc(ctx, mediaID)
}

func (s *stubMediaRepository) FindPublishedByID(ctx context.Context, mediaID string) (domain.Media, error) {
	if s.findPublishedFunc == nil {
		return domain.Media{}, &repositoryErrorStub{notFound: true}
	}
	return s.findPublishedFunc(ctx, mediaID)
}

func (s *stubMediaRepository) List(ctx context.Context, filter repositories.MediaListFilter) (domain.CursorPage[domain.Media], error) {
	if s.listFunc == nil {
		return domain.CursorPage[domain.Media]{}, nil
	}
	return s.listFunc(ctx, filter)
}

func (s *stubMediaRepository) Upsert(ctx context.Context, media domain.Media) (domain.Media, error) {
	if s.upsertFunc == nil {
		return media, nil
	}
	return s.upsertFunc(ctx, media)
}

func (s *stubMediaRepository) Delete(ctx context.Context, mediaID string) error {
	if s.deleteFunc == nil {
		return nil
	}
	return s.deleteFunc(ctx, mediaID)
}

type stubAuditService struct {
	records []AuditLogRecord
}

func (s *stubAuditService) Record(_ context.Context, record AuditLogRecord) {
	s.records = append(s.records, record)
}

func (s *stubAuditService) List(context.Context, AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error) {
	return domain.CursorPage[domain.AuditLogEntry]{}, nil
}

type stubCoverSigner struct {
	signFunc func(ctx context.Context, objectPath string) (string, error)
}

func (s *stubCoverSigner) CoverURL(ctx context.Context, objectPath string) (string, error) {
	if s.signFunc == nil {
		return "https://cdn.example.com/" + objectPath, nil
	}
	return s.signFunc(ctx, objectPath)
}

func newTestCatalogService(t *testing.T, deps CatalogServiceDeps) CatalogService {
	t.Helper()

	if deps.Clock == nil {
		deps.Clock = func() time.Time {
			return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		}
	}
	if deps.IDGenerator == nil {
		deps.IDGenerator = func() string { return "FIXEDID" }
	}

	svc, err := NewCatalogService(deps)
	if err != nil {
		t.Fatalf("NewCatalogService returned error: %v", err)
	}
	return svc
}

func TestCatalogServiceGetMediaResolvesCover(t *testing.T) {
	media := &stubMediaRepository{
		findPublishedFunc: func(_ context.Context, mediaID string) (domain.Media, error) {
			return domain.Media{ID: mediaID, Title: "Le Film", Kind: domain.MediaKindFilm, CoverPath: "covers/le-film.jpg", Published: true}, nil
		},
	}

	svc := newTestCatalogService(t, CatalogServiceDeps{
		Media:  media,
		Covers: &stubCoverSigner{},
	})

	got, err := svc.GetMedia(context.Background(), "med_1")
	if err != nil {
		t.Fatalf("GetMedia returned error: %v", err)
	}
	if got.CoverURL != "https://cdn.example.com/covers/le-film.jpg" {
		t.Fatalf("unexpected cover url: %q", got.CoverURL)
	}
}

func TestCatalogServiceGetMediaSignFailureIsSoft(t *testing.T) {
	media := &stubMediaRepository{
		findPublishedFunc: func(_ context.Context, mediaID string) (domain.Media, error) {
			return domain.Media{ID: mediaID, CoverPath: "covers/x.jpg"}, nil
		},
	}

	svc := newTestCatalogService(t, CatalogServiceDeps{
		Media: media,
		Covers: &stubCoverSigner{signFunc: func(context.Context, string) (string, error) {
			return "", errors.New("signer down")
		}},
	})

	got, err := svc.GetMedia(context.Background(), "med_1")
	if err != nil {
		t.Fatalf("expected soft failure, got error: %v", err)
	}
	if got.CoverURL != "" {
		t.Fatalf("expected empty cover url, got %q", got.CoverURL)
	}
}

func TestCatalogServiceGetMediaNotFound(t *testing.T) {
	svc := newTestCatalogService(t, CatalogServiceDeps{Media: &stubMediaRepository{}})

	if _, err := svc.GetMedia(context.Background(), "med_missing"); !errors.Is(err, ErrCatalogNotFound) {
		t.Fatalf("expected ErrCatalogNotFound, got %v", err)
	}
	if _, err := svc.GetMedia(context.Background(), "  "); !errors.Is(err, ErrCatalogInvalidInput) {
		t.Fatalf("expected ErrCatalogInvalidInput for blank id, got %v", err)
	}
}

func TestCatalogServiceListMediaBuildsSearchKey(t *testing.T) {
	var captured repositories.MediaListFilter
	media := &stubMediaRepository{
		listFunc: func(_ context.Context, filter repositories.MediaListFilter) (domain.CursorPage[domain.Media], error) {
			captured = filter
			return domain.CursorPage[domain.Media]{}, nil
		},
	}

	svc := newTestCatalogService(t, CatalogServiceDeps{Media: media})

	kind := domain.MediaKindSeries
	_, err := svc.ListMedia(context.Background(), MediaListFilter{
		Kind:          &kind,
		Search:        "  L'Attaque des Titans!  ",
		PublishedOnly: true,
		Pager:         Pagination{PageSize: 20},
	})
	if err != nil {
		t.Fatalf("ListMedia returned error: %v", err)
	}

	if captured.SearchKey != "l-attaque-des-titans" {
		t.Fatalf("unexpected search key: %q", captured.SearchKey)
	}
	if captured.Kind == nil || *captured.Kind != domain.MediaKindSeries {
		t.Fatalf("expected kind filter to pass through, got %+v", captured.Kind)
	}
	if !captured.PublishedOnly {
		t.Fatal("expected published-only filter to pass through")
	}
}

func TestCatalogServiceUpsertMediaCreates(t *testing.T) {
	var saved domain.Media
	media := &stubMediaRepository{
		upsertFunc: func(_ context.Context, m domain.Media) (domain.Media, error) {
			saved = m
			return m, nil
		},
	}
	audit := &stubAuditService{}

	svc := newTestCatalogService(t, CatalogServiceDeps{Media: media, Audit: audit})

	got, err := svc.UpsertMedia(context.Background(), UpsertMediaCommand{
		Kind:        domain.MediaKindFilm,
		Title:       "  Le Grand Film  ",
		Description: "<p>Un classique</p><script>alert(1)</script>",
		UnitPrice:   200,
		Published:   true,
		ActorID:     "admin-1",
	})
	if err != nil {
		t.Fatalf("UpsertMedia returned error: %v", err)
	}

	if got.ID != "med_FIXEDID" {
		t.Fatalf("expected generated id with prefix, got %q", got.ID)
	}
	if got.Title != "Le Grand Film" {
		t.Fatalf("expected trimmed title, got %q", got.Title)
	}
	if strings.Contains(saved.Description, "script") {
		t.Fatalf("expected sanitized description, got %q", saved.Description)
	}
	if saved.SearchKey != "le-grand-film" {
		t.Fatalf("unexpected search key: %q", saved.SearchKey)
	}

	if len(audit.records) != 1 {
		t.Fatalf("expected one audit record, got %d", len(audit.records))
	}
	if audit.records[0].Action != "catalog.media.upsert" || audit.records[0].EntityID != got.ID {
		t.Fatalf("unexpected audit record: %+v", audit.records[0])
	}
}

func TestCatalogServiceUpsertMediaPreservesCreatedAt(t *testing.T) {
	created := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	existingID := "med_existing"

	var saved domain.Media
	media := &stubMediaRepository{
		findFunc: func(_ context.Context, mediaID string) (domain.Media, error) {
			return domain.Media{ID: mediaID, CreatedAt: created}, nil
		},
		upsertFunc: func(_ context.Context, m domain.Media) (domain.Media, error) {
			saved = m
			return m, nil
		},
	}

	svc := newTestCatalogService(t, CatalogServiceDeps{Media: media})

	_, err := svc.UpsertMedia(context.Background(), UpsertMediaCommand{
		MediaID:   &existingID,
		Kind:      domain.MediaKindManga,
		Title:     "One Saga",
		UnitPrice: 500,
	})
	if err != nil {
		t.Fatalf("UpsertMedia returned error: %v", err)
	}

	if !saved.CreatedAt.Equal(created) {
		t.Fatalf("expected original creation time preserved, got %v", saved.CreatedAt)
	}
	if saved.UpdatedAt.Equal(created) {
		t.Fatal("expected update time to advance")
	}
}

func TestCatalogServiceUpsertMediaValidation(t *testing.T) {
	svc := newTestCatalogService(t, CatalogServiceDeps{Media: &stubMediaRepository{}})

	cases := []struct {
		name string
		cmd  UpsertMediaCommand
	}{
		{"blank title", UpsertMediaCommand{Kind: domain.MediaKindFilm}},
		{"unknown kind", UpsertMediaCommand{Kind: "cartoon", Title: "X"}},
		{"negative price", UpsertMediaCommand{Kind: domain.MediaKindFilm, Title: "X", UnitPrice: -1}},
		{"negative episode count", UpsertMediaCommand{Kind: domain.MediaKindManga, Title: "X", EpisodeCount: -1}},
		{"zero season number", UpsertMediaCommand{Kind: domain.MediaKindSeries, Title: "X", AvailableSeasons: []int{0}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.UpsertMedia(context.Background(), tc.cmd); !errors.Is(err, ErrCatalogInvalidInput) {
				t.Fatalf("expected ErrCatalogInvalidInput, got %v", err)
			}
		})
	}
}

func TestCatalogServiceUpsertMediaSetsArticleStock(t *testing.T) {
	var setStock domain.ArticleStock
	stock := &stubStockRepository{
		setFunc: func(_ context.Context, s domain.ArticleStock) error {
			setStock = s
			return nil
		},
	}

	svc := newTestCatalogService(t, CatalogServiceDeps{
		Media: &stubMediaRepository{},
		Stock: stock,
	})

	qty := int64(25)
	got, err := svc.UpsertMedia(context.Background(), UpsertMediaCommand{
		Kind:      domain.MediaKindArticle,
		Title:     "Figurine",
		UnitPrice: 1500,
		Stock:     &qty,
	})
	if err != nil {
		t.Fatalf("UpsertMedia returned error: %v", err)
	}

	if setStock.MediaID != got.ID || setStock.Available != 25 {
		t.Fatalf("unexpected stock write: %+v", setStock)
	}
}

func TestCatalogServiceUpsertMediaRejectsStockOnDigitalKinds(t *testing.T) {
	svc := newTestCatalogService(t, CatalogServiceDeps{
		Media: &stubMediaRepository{},
		Stock: &stubStockRepository{},
	})

	qty := int64(5)
	_, err := svc.UpsertMedia(context.Background(), UpsertMediaCommand{
		Kind:      domain.MediaKindFilm,
		Title:     "Le Film",
		UnitPrice: 200,
		Stock:     &qty,
	})
	if !errors.Is(err, ErrCatalogInvalidInput) {
		t.Fatalf("expected ErrCatalogInvalidInput, got %v", err)
	}
}

func TestCatalogServiceDeleteMediaAudits(t *testing.T) {
	var deleted string
	media := &stubMediaRepository{
		deleteFunc: func(_ context.Context, mediaID string) error {
			deleted = mediaID
			return nil
		},
	}
	audit := &stubAuditService{}

	svc := newTestCatalogService(t, CatalogServiceDeps{Media: media, Audit: audit})

	if err := svc.DeleteMedia(context.Background(), DeleteMediaCommand{MediaID: "med_1", ActorID: "admin-1"}); err != nil {
		t.Fatalf("DeleteMedia returned error: %v", err)
	}

	if deleted != "med_1" {
		t.Fatalf("expected med_1 deleted, got %q", deleted)
	}
	if len(audit.records) != 1 || audit.records[0].Action != "catalog.media.delete" {
		t.Fatalf("unexpected audit records: %+v", audit.records)
	}
}

func TestCatalogServiceUpsertMediaNormalizesAttributes(t *testing.T) {
	var saved domain.Media
	media := &stubMediaRepository{
		upsertFunc: func(_ context.Context, m domain.Media) (domain.Media, error) {
			saved = m
			return m, nil
		},
	}

	svc := newTestCatalogService(t, CatalogServiceDeps{Media: media})

	_, err := svc.UpsertMedia(context.Background(), UpsertMediaCommand{
		Kind:      domain.MediaKindManga,
		Title:     "Léon: Édition Intégrale",
		UnitPrice: 150,
		Attributes: map[string]string{
			" publisher ": "  Kana  ",
			"isbn":        "978-2-505-11965-4",
			"  ":          "dropped",
		},
	})
	if err != nil {
		t.Fatalf("UpsertMedia returned error: %v", err)
	}

	if saved.SearchKey != "leon-edition-integrale" {
		t.Fatalf("expected accent-folded search key, got %q", saved.SearchKey)
	}
	want := map[string]string{"publisher": "Kana", "isbn": "978-2-505-11965-4"}
	if len(saved.Attributes) != len(want) {
		t.Fatalf("unexpected attributes: %+v", saved.Attributes)
	}
	for k, v := range want {
		if saved.Attributes[k] != v {
			t.Fatalf("attribute %q = %q, want %q", k, saved.Attributes[k], v)
		}
	}
}
