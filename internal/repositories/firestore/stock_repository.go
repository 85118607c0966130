package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/cinetek/api/internal/domain"
	pfirestore "github.com/cinetek/api/internal/platform/firestore"
	"github.com/cinetek/api/internal/repositories"
)

const stockCollection = "articleStock"

type stockDocument struct {
	Available int64     `firestore:"available"`
	Reserved  int64     `firestore:"reserved"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// StockRepository manages article stock levels backed by Firestore
// transactions. Reservations move quantity from the available pool to the
// reserved pool; commits burn reserved quantity; releases return it.
type StockRepository struct {
	provider *pfirestore.Provider
	stocks   *pfirestore.BaseRepository[stockDocument]
}

// NewStockRepository constructs a Firestore-backed stock repository.
func NewStockRepository(provider *pfirestore.Provider) (*StockRepository, error) {
	if provider == nil {
		return nil, errors.New("stock repository requires firestore provider")
	}
	stocks := pfirestore.NewBaseRepository[stockDocument](provider, stockCollection, nil, nil)
	return &StockRepository{provider: provider, stocks: stocks}, nil
}

// Get returns the stock record for one article.
func (r *StockRepository) Get(ctx context.Context, mediaID string) (domain.ArticleStock, error) {
	if r == nil || r.stocks == nil {
		return domain.ArticleStock{}, errors.New("stock repository not initialised")
	}
	id := strings.TrimSpace(mediaID)
	if id == "" {
		return domain.ArticleStock{}, repositories.NewStockError(repositories.StockErrorInvalidInput, "media id is required", nil)
	}
	doc, err := r.stocks.Get(ctx, id)
	if err != nil {
		return domain.ArticleStock{}, err
	}
	return domain.ArticleStock{
		MediaID:   doc.ID,
		Available: doc.Data.Available,
		Reserved:  doc.Data.Reserved,
		UpdatedAt: doc.Data.UpdatedAt,
	}, nil
}

// Set replaces the stock record for one article.
func (r *StockRepository) Set(ctx context.Context, stock domain.ArticleStock) error {
	if r == nil || r.stocks == nil {
		return errors.New("stock repository not initialised")
	}
	id := strings.TrimSpace(stock.MediaID)
	if id == "" {
		return repositories.NewStockError(repositories.StockErrorInvalidInput, "media id is required", nil)
	}
	if stock.Available < 0 || stock.Reserved < 0 {
		return repositories.NewStockError(repositories.StockErrorInvalidInput, "stock quantities cannot be negative", nil)
	}
	updatedAt := stock.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	_, err := r.stocks.Set(ctx, id, stockDocument{
		Available: stock.Available,
		Reserved:  stock.Reserved,
		UpdatedAt: updatedAt,
	})
	return err
}

// Reserve moves the requested quantities from available to reserved in a
// single transaction. Any shortfall aborts the whole batch.
func (r *StockRepository) Reserve(ctx context.Context, lines []repositories.StockAdjustment, now time.Time) error {
	return r.adjust(ctx, lines, now, func(doc *stockDocument, qty int64, mediaID string) error {
		if doc.Available < qty {
			return repositories.NewStockError(repositories.StockErrorInsufficient, fmt.Sprintf("insufficient stock for %s", mediaID), nil)
		}
		doc.Available -= qty
		doc.Reserved += qty
		return nil
	})
}

// Release returns reserved quantities to the available pool.
func (r *StockRepository) Release(ctx context.Context, lines []repositories.StockAdjustment, now time.Time) error {
	return r.adjust(ctx, lines, now, func(doc *stockDocument, qty int64, mediaID string) error {
		if doc.Reserved < qty {
			qty = doc.Reserved
		}
		doc.Reserved -= qty
		doc.Available += qty
		return nil
	})
}

// Commit burns reserved quantities after an order is settled.
func (r *StockRepository) Commit(ctx context.Context, lines []repositories.StockAdjustment, now time.Time) error {
	return r.adjust(ctx, lines, now, func(doc *stockDocument, qty int64, mediaID string) error {
		if doc.Reserved < qty {
			return repositories.NewStockError(repositories.StockErrorInvalidInput, fmt.Sprintf("commit exceeds reservation for %s", mediaID), nil)
		}
		doc.Reserved -= qty
		return nil
	})
}

func (r *StockRepository) adjust(ctx context.Context, lines []repositories.StockAdjustment, now time.Time, apply func(doc *stockDocument, qty int64, mediaID string) error) error {
	if r == nil || r.provider == nil {
		return errors.New("stock repository not initialised")
	}
	if len(lines) == 0 {
		return nil
	}
	now = now.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		for _, line := range lines {
			mediaID := strings.TrimSpace(line.MediaID)
			if mediaID == "" {
				return repositories.NewStockError(repositories.StockErrorInvalidInput, "media id is required", nil)
			}
			if line.Quantity <= 0 {
				return repositories.NewStockError(repositories.StockErrorInvalidInput, fmt.Sprintf("quantity for %s must be > 0", mediaID), nil)
			}

			ref, err := r.stocks.DocumentRef(ctx, mediaID)
			if err != nil {
				return err
			}
			snap, err := tx.Get(ref)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return repositories.NewStockError(repositories.StockErrorNotFound, fmt.Sprintf("stock %s not found", mediaID), err)
				}
				return err
			}
			var doc stockDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode stock %s: %w", mediaID, err)
			}
			if err := apply(&doc, line.Quantity, mediaID); err != nil {
				return err
			}
			doc.UpdatedAt = now
			if err := tx.Set(ref, doc); err != nil {
				return err
			}
		}
		return nil
	})
}

var _ repositories.StockRepository = (*StockRepository)(nil)
