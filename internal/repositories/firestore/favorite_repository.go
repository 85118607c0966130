package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/cinetek/api/internal/domain"
	pfirestore "github.com/cinetek/api/internal/platform/firestore"
	"github.com/cinetek/api/internal/platform/pagination"
	"github.com/cinetek/api/internal/repositories"
)

const favoriteCollectionPattern = "users/%s/favorites"

// FavoriteRepository persists media favorites per user.
type FavoriteRepository struct {
	provider *pfirestore.Provider
}

// NewFavoriteRepository constructs a Firestore-backed favorite repository.
func NewFavoriteRepository(provider *pfirestore.Provider) (*FavoriteRepository, error) {
	if provider == nil {
		return nil, errors.New("favorite repository requires firestore provider")
	}
	return &FavoriteRepository{provider: provider}, nil
}

// List returns favorites ordered by most recent addition.
func (r *FavoriteRepository) List(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Favorite], error) {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return domain.CursorPage[domain.Favorite]{}, err
	}

	limit := pager.PageSize
	if limit < 0 {
		limit = 0
	}

	query := coll.OrderBy("addedAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
	var fetchLimit int
	if limit > 0 {
		fetchLimit = limit + 1
		query = query.Limit(fetchLimit)
	}

	if token := strings.TrimSpace(pager.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return domain.CursorPage[domain.Favorite]{}, fmt.Errorf("favorites.list: %w", err)
		}
		query = query.StartAfter(cursor.At, cursor.DocID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	type favoriteRow struct {
		data  domain.Favorite
		docID string
	}

	var rows []favoriteRow
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Favorite]{}, pfirestore.WrapError("favorites.list", err)
		}
		fav, err := decodeFavoriteDocument(strings.TrimSpace(userID), snap)
		if err != nil {
			return domain.CursorPage[domain.Favorite]{}, err
		}
		rows = append(rows, favoriteRow{data: fav, docID: snap.Ref.ID})
	}

	nextToken := ""
	if limit > 0 && len(rows) == fetchLimit {
		last := rows[len(rows)-1]
		nextToken = pagination.EncodeCursor(pagination.Cursor{At: last.data.CreatedAt, DocID: last.docID})
		rows = rows[:len(rows)-1]
	}

	items := make([]domain.Favorite, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.data)
	}

	return domain.CursorPage[domain.Favorite]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

// Put stores or preserves a favorite. The boolean reports whether a new
// document was created.
func (r *FavoriteRepository) Put(ctx context.Context, userID string, mediaID string, addedAt time.Time, limit int) (bool, error) {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return false, err
	}

	mediaID = strings.TrimSpace(mediaID)
	if mediaID == "" {
		return false, errors.New("favorite repository: media id is required")
	}

	created := false
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docRef := coll.Doc(mediaID)
		if _, err := tx.Get(docRef); err == nil {
			created = false
			return nil
		} else if status.Code(err) != codes.NotFound {
			return err
		}

		if limit > 0 {
			countQuery := coll.Select("addedAt").Limit(limit)
			iter := tx.Documents(countQuery)
			snaps, err := iter.GetAll()
			if err != nil {
				return err
			}
			if len(snaps) >= limit {
				return status.Error(codes.FailedPrecondition, "favorite limit reached")
			}
		}

		doc := favoriteDocument{
			MediaRef: mediaDocPath(mediaID),
			AddedAt:  addedAt.UTC(),
		}
		if err := tx.Set(docRef, doc); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, pfirestore.WrapError("favorites.put", err)
	}
	return created, nil
}

// Delete removes the favorite document.
func (r *FavoriteRepository) Delete(ctx context.Context, userID string, mediaID string) error {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return err
	}
	mediaID = strings.TrimSpace(mediaID)
	if mediaID == "" {
		return errors.New("favorite repository: media id is required")
	}
	if _, err := coll.Doc(mediaID).Delete(ctx); err != nil {
		return pfirestore.WrapError("favorites.delete", err)
	}
	return nil
}

func (r *FavoriteRepository) collection(ctx context.Context, userID string) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("favorite repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return nil, errors.New("favorite repository: user id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	path := fmt.Sprintf(favoriteCollectionPattern, uid)
	return client.Collection(path), nil
}

func decodeFavoriteDocument(userID string, snapshot *firestore.DocumentSnapshot) (domain.Favorite, error) {
	var doc favoriteDocument
	if err := snapshot.DataTo(&doc); err != nil {
		return domain.Favorite{}, fmt.Errorf("decode favorite %s: %w", snapshot.Ref.ID, err)
	}
	mediaID := snapshot.Ref.ID
	if trimmed := extractMediaID(doc.MediaRef); trimmed != "" {
		mediaID = trimmed
	}
	return domain.Favorite{
		UserID:    userID,
		MediaID:   mediaID,
		CreatedAt: doc.AddedAt,
	}, nil
}

type favoriteDocument struct {
	MediaRef string    `firestore:"mediaRef"`
	AddedAt  time.Time `firestore:"addedAt"`
}

func mediaDocPath(mediaID string) string {
	trimmed := strings.TrimSpace(mediaID)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "/media/") {
		return trimmed
	}
	if strings.HasPrefix(trimmed, "media/") {
		return "/" + trimmed
	}
	return "/media/" + trimmed
}

func extractMediaID(ref string) string {
	trimmed := strings.TrimSpace(ref)
	if trimmed == "" {
		return ""
	}
	trimmed = strings.TrimPrefix(trimmed, "/")
	const prefix = "media/"
	if strings.HasPrefix(trimmed, prefix) {
		return trimmed[len(prefix):]
	}
	return trimmed
}

// Ensure interface compliance.
var _ repositories.FavoriteRepository = (*FavoriteRepository)(nil)
