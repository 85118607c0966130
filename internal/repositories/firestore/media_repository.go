package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/cinetek/api/internal/domain"
	pfirestore "github.com/cinetek/api/internal/platform/firestore"
	"github.com/cinetek/api/internal/platform/pagination"
	"github.com/cinetek/api/internal/repositories"
)

const mediaCollection = "media"

// MediaRepository stores catalog entries for films, series, manga, and articles.
type MediaRepository struct {
	base *pfirestore.BaseRepository[mediaDocument]
}

// NewMediaRepository constructs a Firestore-backed media repository.
func NewMediaRepository(provider *pfirestore.Provider) (*MediaRepository, error) {
	if provider == nil {
		return nil, errors.New("media repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[mediaDocument](provider, mediaCollection, nil, nil)
	return &MediaRepository{base: base}, nil
}

// FindByID fetches a single catalog entry regardless of publication state.
func (r *MediaRepository) FindByID(ctx context.Context, mediaID string) (domain.Media, error) {
	if r == nil || r.base == nil {
		return domain.Media{}, errors.New("media repository not initialised")
	}
	mediaID = strings.TrimSpace(mediaID)
	if mediaID == "" {
		return domain.Media{}, errors.New("media repository: media id is required")
	}
	doc, err := r.base.Get(ctx, mediaID)
	if err != nil {
		return domain.Media{}, err
	}
	return decodeMediaDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// FindPublishedByID fetches a published catalog entry. Unpublished entries
// surface as not-found.
func (r *MediaRepository) FindPublishedByID(ctx context.Context, mediaID string) (domain.Media, error) {
	media, err := r.FindByID(ctx, mediaID)
	if err != nil {
		return domain.Media{}, err
	}
	if !media.Published {
		return domain.Media{}, pfirestore.NewNotFoundError("media.get", fmt.Sprintf("media %s not published", mediaID))
	}
	return media, nil
}

// List returns catalog entries matching the filter ordered by most recent update.
func (r *MediaRepository) List(ctx context.Context, filter repositories.MediaListFilter) (domain.CursorPage[domain.Media], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Media]{}, errors.New("media repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	searchKey := strings.TrimSpace(filter.SearchKey)

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return domain.CursorPage[domain.Media]{}, fmt.Errorf("media repository: %w", err)
		}
		startAfter = []any{cursor.At, cursor.DocID}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.Kind != nil {
			q = q.Where("kind", "==", string(*filter.Kind))
		}
		if filter.PublishedOnly {
			q = q.Where("published", "==", true)
		}
		if searchKey != "" {
			// Prefix match over the normalised search key.
			q = q.Where("searchKey", ">=", searchKey).
				Where("searchKey", "<", searchKey+"\uf8ff").
				OrderBy("searchKey", firestore.Asc)
			if fetchLimit > 0 {
				q = q.Limit(fetchLimit)
			}
			return q
		}

		q = q.OrderBy("updatedAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Media]{}, err
	}

	valueDocs := docs
	nextToken := ""
	if searchKey == "" && limit > 0 && len(valueDocs) == fetchLimit {
		last := valueDocs[len(valueDocs)-1]
		tokenTime := last.Data.UpdatedAt
		if tokenTime.IsZero() {
			tokenTime = last.UpdateTime
		}
		nextToken = pagination.EncodeCursor(pagination.Cursor{At: tokenTime, DocID: last.ID})
		valueDocs = valueDocs[:len(valueDocs)-1]
	}

	items := make([]domain.Media, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, decodeMediaDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime))
	}

	return domain.CursorPage[domain.Media]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

// Upsert stores the catalog entry under its ID.
func (r *MediaRepository) Upsert(ctx context.Context, media domain.Media) (domain.Media, error) {
	if r == nil || r.base == nil {
		return domain.Media{}, errors.New("media repository not initialised")
	}
	mediaID := strings.TrimSpace(media.ID)
	if mediaID == "" {
		return domain.Media{}, errors.New("media repository: media id is required")
	}
	doc := encodeMediaDocument(media)
	result, err := r.base.Set(ctx, mediaID, doc)
	if err != nil {
		return domain.Media{}, err
	}
	saved := media
	saved.ID = mediaID
	saved.UpdatedAt = result.UpdateTime
	return saved, nil
}

// Delete removes the catalog entry.
func (r *MediaRepository) Delete(ctx context.Context, mediaID string) error {
	if r == nil || r.base == nil {
		return errors.New("media repository not initialised")
	}
	mediaID = strings.TrimSpace(mediaID)
	if mediaID == "" {
		return errors.New("media repository: media id is required")
	}
	return r.base.Delete(ctx, mediaID)
}

type mediaDocument struct {
	Kind             string            `firestore:"kind"`
	Title            string            `firestore:"title"`
	Description      string            `firestore:"description,omitempty"`
	CoverPath        string            `firestore:"coverPath,omitempty"`
	UnitPrice        int64             `firestore:"unitPrice,omitempty"`
	AvailableSeasons []int             `firestore:"availableSeasons,omitempty"`
	EpisodeCount     int               `firestore:"episodeCount,omitempty"`
	SearchKey        string            `firestore:"searchKey"`
	Attributes       map[string]string `firestore:"attributes,omitempty"`
	Published        bool              `firestore:"published"`
	CreatedAt        time.Time         `firestore:"createdAt"`
	UpdatedAt        time.Time         `firestore:"updatedAt"`
}

func encodeMediaDocument(media domain.Media) mediaDocument {
	return mediaDocument{
		Kind:             strings.TrimSpace(string(media.Kind)),
		Title:            strings.TrimSpace(media.Title),
		Description:      media.Description,
		CoverPath:        strings.TrimSpace(media.CoverPath),
		UnitPrice:        media.UnitPrice,
		AvailableSeasons: cloneInts(media.AvailableSeasons),
		EpisodeCount:     media.EpisodeCount,
		SearchKey:        strings.TrimSpace(media.SearchKey),
		Attributes:       cloneStringMap(media.Attributes),
		Published:        media.Published,
		CreatedAt:        media.CreatedAt.UTC(),
		UpdatedAt:        media.UpdatedAt.UTC(),
	}
}

func decodeMediaDocument(id string, doc mediaDocument, createTime, updateTime time.Time) domain.Media {
	media := domain.Media{
		ID:               id,
		Kind:             domain.MediaKind(doc.Kind),
		Title:            doc.Title,
		Description:      doc.Description,
		CoverPath:        doc.CoverPath,
		UnitPrice:        doc.UnitPrice,
		AvailableSeasons: cloneInts(doc.AvailableSeasons),
		EpisodeCount:     doc.EpisodeCount,
		SearchKey:        doc.SearchKey,
		Attributes:       cloneStringMap(doc.Attributes),
		Published:        doc.Published,
		CreatedAt:        doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
	}
	if media.CreatedAt.IsZero() {
		media.CreatedAt = createTime
	}
	if media.UpdatedAt.IsZero() {
		media.UpdatedAt = updateTime
	}
	return media
}

func cloneStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

var _ repositories.MediaRepository = (*MediaRepository)(nil)
