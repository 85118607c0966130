package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/cinetek/api/internal/domain"
	"github.com/cinetek/api/internal/platform/textutil"
	"github.com/cinetek/api/internal/repositories"
)

const (
	mediaIDPrefix         = "med_"
	maxMediaTitleLength   = 300
	maxDescriptionLength  = 5000
	auditActionMediaWrite = "catalog.media.upsert"
	auditActionMediaDrop  = "catalog.media.delete"
)

var (
	// ErrCatalogInvalidInput indicates the caller supplied invalid data to a catalog operation.
	ErrCatalogInvalidInput = errors.New("catalog service: invalid input")
	// ErrCatalogNotFound indicates the requested media does not exist or is unpublished.
	ErrCatalogNotFound = errors.New("catalog service: not found")
	// ErrCatalogUnavailable indicates the backend cannot serve catalog reads or writes.
	ErrCatalogUnavailable = errors.New("catalog service: unavailable")
)

// CoverURLSigner resolves a storage object path into a time-limited public URL.
type CoverURLSigner interface {
	CoverURL(ctx context.Context, objectPath string) (string, error)
}

// CatalogServiceDeps bundles constructor inputs for the catalog service.
type CatalogServiceDeps struct {
	Media       repositories.MediaRepository
	Stock       repositories.StockRepository
	Audit       AuditLogService
	Covers      CoverURLSigner
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type catalogService struct {
	media       repositories.MediaRepository
	stock       repositories.StockRepository
	audit       AuditLogService
	covers      CoverURLSigner
	clock       func() time.Time
	newID       func() string
	logger      func(context.Context, string, map[string]any)
	description *bluemonday.Policy
}

// NewCatalogService constructs the catalog service with the supplied dependencies.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Media == nil {
		return nil, errors.New("catalog service: media repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &catalogService{
		media:       deps.Media,
		stock:       deps.Stock,
		audit:       deps.Audit,
		covers:      deps.Covers,
		clock:       func() time.Time { return clock().UTC() },
		newID:       idGen,
		logger:      logger,
		description: bluemonday.UGCPolicy(),
	}, nil
}

// GetMedia returns a published catalog entry with its cover URL resolved.
func (s *catalogService) GetMedia(ctx context.Context, mediaID string) (Media, error) {
	mediaID = strings.TrimSpace(mediaID)
	if mediaID == "" {
		return Media{}, fmt.Errorf("%w: media id is required", ErrCatalogInvalidInput)
	}

	media, err := s.media.FindPublishedByID(ctx, mediaID)
	if err != nil {
		return Media{}, s.mapRepositoryError(err)
	}

	s.resolveCover(ctx, &media)
	return media, nil
}

// ListMedia returns catalog entries matching the filter.
func (s *catalogService) ListMedia(ctx context.Context, filter MediaListFilter) (domain.CursorPage[Media], error) {
	repoFilter := repositories.MediaListFilter{
		Kind:          filter.Kind,
		SearchKey:     textutil.SearchKey(filter.Search),
		PublishedOnly: filter.PublishedOnly,
		Pagination: domain.Pagination{
			PageSize:  filter.Pager.PageSize,
			PageToken: strings.TrimSpace(filter.Pager.PageToken),
		},
	}

	page, err := s.media.List(ctx, repoFilter)
	if err != nil {
		return domain.CursorPage[Media]{}, s.mapRepositoryError(err)
	}

	for i := range page.Items {
		s.resolveCover(ctx, &page.Items[i])
	}
	return page, nil
}

// UpsertMedia creates or updates a catalog entry. Admin only.
func (s *catalogService) UpsertMedia(ctx context.Context, cmd UpsertMediaCommand) (Media, error) {
	title := strings.TrimSpace(cmd.Title)
	if title == "" {
		return Media{}, fmt.Errorf("%w: title is required", ErrCatalogInvalidInput)
	}
	if len(title) > maxMediaTitleLength {
		return Media{}, fmt.Errorf("%w: title must be %d characters or fewer", ErrCatalogInvalidInput, maxMediaTitleLength)
	}
	if !knownMediaKind(cmd.Kind) {
		return Media{}, fmt.Errorf("%w: unknown media kind %q", ErrCatalogInvalidInput, cmd.Kind)
	}
	if cmd.UnitPrice < 0 {
		return Media{}, fmt.Errorf("%w: unit price must not be negative", ErrCatalogInvalidInput)
	}
	if cmd.EpisodeCount < 0 {
		return Media{}, fmt.Errorf("%w: episode count must not be negative", ErrCatalogInvalidInput)
	}
	for _, season := range cmd.AvailableSeasons {
		if season <= 0 {
			return Media{}, fmt.Errorf("%w: season numbers must be positive", ErrCatalogInvalidInput)
		}
	}

	description := strings.TrimSpace(s.description.Sanitize(cmd.Description))
	if len(description) > maxDescriptionLength {
		return Media{}, fmt.Errorf("%w: description must be %d characters or fewer", ErrCatalogInvalidInput, maxDescriptionLength)
	}

	now := s.clock()
	media := domain.Media{
		Kind:             cmd.Kind,
		Title:            title,
		Description:      description,
		CoverPath:        strings.TrimSpace(cmd.CoverPath),
		UnitPrice:        cmd.UnitPrice,
		AvailableSeasons: cmd.AvailableSeasons,
		EpisodeCount:     cmd.EpisodeCount,
		SearchKey:        textutil.SearchKey(title),
		Attributes:       textutil.NormalizeStringMap(cmd.Attributes),
		Published:        cmd.Published,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if cmd.MediaID != nil && strings.TrimSpace(*cmd.MediaID) != "" {
		media.ID = strings.TrimSpace(*cmd.MediaID)
		existing, err := s.media.FindByID(ctx, media.ID)
		if err == nil {
			media.CreatedAt = existing.CreatedAt
		} else if !isRepoNotFound(err) {
			return Media{}, s.mapRepositoryError(err)
		}
	} else {
		media.ID = mediaIDPrefix + s.newID()
	}

	saved, err := s.media.Upsert(ctx, media)
	if err != nil {
		return Media{}, s.mapRepositoryError(err)
	}

	if cmd.Stock != nil {
		if saved.Kind != domain.MediaKindArticle {
			return Media{}, fmt.Errorf("%w: stock applies to articles only", ErrCatalogInvalidInput)
		}
		if *cmd.Stock < 0 {
			return Media{}, fmt.Errorf("%w: stock must not be negative", ErrCatalogInvalidInput)
		}
		if s.stock == nil {
			return Media{}, errors.New("catalog service: stock repository is required for article stock")
		}
		if err := s.stock.Set(ctx, domain.ArticleStock{
			MediaID:   saved.ID,
			Available: *cmd.Stock,
			UpdatedAt: now,
		}); err != nil {
			return Media{}, fmt.Errorf("catalog service: set stock: %w", err)
		}
	}

	s.recordAudit(ctx, auditActionMediaWrite, cmd.ActorID, saved.ID, map[string]any{
		"kind":      string(saved.Kind),
		"published": saved.Published,
	})

	s.resolveCover(ctx, &saved)
	return saved, nil
}

// DeleteMedia removes a catalog entry. Admin only.
func (s *catalogService) DeleteMedia(ctx context.Context, cmd DeleteMediaCommand) error {
	mediaID := strings.TrimSpace(cmd.MediaID)
	if mediaID == "" {
		return fmt.Errorf("%w: media id is required", ErrCatalogInvalidInput)
	}

	if err := s.media.Delete(ctx, mediaID); err != nil {
		return s.mapRepositoryError(err)
	}

	s.recordAudit(ctx, auditActionMediaDrop, cmd.ActorID, mediaID, nil)
	return nil
}

func (s *catalogService) resolveCover(ctx context.Context, media *domain.Media) {
	if media == nil || s.covers == nil || strings.TrimSpace(media.CoverPath) == "" {
		return
	}
	url, err := s.covers.CoverURL(ctx, media.CoverPath)
	if err != nil {
		s.logger(ctx, "catalog.cover_sign_failed", map[string]any{
			"mediaID": media.ID,
			"error":   err.Error(),
		})
		return
	}
	media.CoverURL = url
}

func (s *catalogService) recordAudit(ctx context.Context, action, actorID, mediaID string, metadata map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, AuditLogRecord{
		Actor:    strings.TrimSpace(actorID),
		Action:   action,
		Entity:   "media",
		EntityID: mediaID,
		Metadata: metadata,
	})
}

func (s *catalogService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCatalogNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
		}
	}
	return err
}

func knownMediaKind(kind MediaKind) bool {
	switch kind {
	case domain.MediaKindFilm, domain.MediaKindSeries, domain.MediaKindManga, domain.MediaKindArticle:
		return true
	}
	return false
}
