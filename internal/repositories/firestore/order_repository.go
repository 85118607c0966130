package firestore

import (
	"context"
	"encoding/json"
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

const ordersCollection = "orders"

// OrderRepository persists submitted orders within Firestore.
type OrderRepository struct {
	base *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil)
	return &OrderRepository{base: base}, nil
}

// Insert stores a new order document. The ID must be unique.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	doc, err := encodeOrderDocument(order)
	if err != nil {
		return err
	}
	if _, err := docRef.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Update replaces the persisted order state with the provided snapshot.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	doc, err := encodeOrderDocument(order)
	if err != nil {
		return err
	}
	if _, err := r.base.Set(ctx, orderID, doc); err != nil {
		return err
	}
	return nil
}

// FindByID fetches a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrderDocument(doc.ID, doc.Data)
}

// List returns orders matching the filter ordered by most recent creation.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("order repository: %w", err)
		}
		startAfter = []any{cursor.At, cursor.DocID}
	}

	statusFilters := make([]string, 0, len(filter.Status))
	for _, status := range filter.Status {
		trimmed := strings.ToLower(strings.TrimSpace(status))
		if trimmed != "" {
			statusFilters = append(statusFilters, trimmed)
		}
	}

	userID := strings.TrimSpace(filter.UserID)

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if userID != "" {
			q = q.Where("userId", "==", userID)
		}
		if len(statusFilters) == 1 {
			q = q.Where("status", "==", statusFilters[0])
		} else if len(statusFilters) > 1 {
			// Firestore in clause supports up to 10 values.
			if len(statusFilters) > 10 {
				statusFilters = statusFilters[:10]
			}
			q = q.Where("status", "in", statusFilters)
		}
		if filter.DateRange.From != nil {
			q = q.Where("createdAt", ">=", filter.DateRange.From.UTC())
		}
		if filter.DateRange.To != nil {
			q = q.Where("createdAt", "<=", filter.DateRange.To.UTC())
		}

		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	valueDocs := docs
	nextToken := ""
	if limit > 0 && len(valueDocs) == fetchLimit {
		last := valueDocs[len(valueDocs)-1]
		tokenTime := last.Data.CreatedAt
		if tokenTime.IsZero() {
			tokenTime = last.CreateTime
		}
		nextToken = pagination.EncodeCursor(pagination.Cursor{At: tokenTime, DocID: last.ID})
		valueDocs = valueDocs[:len(valueDocs)-1]
	}

	items := make([]domain.Order, 0, len(valueDocs))
	for _, doc := range valueDocs {
		order, decodeErr := decodeOrderDocument(doc.ID, doc.Data)
		if decodeErr != nil {
			return domain.CursorPage[domain.Order]{}, decodeErr
		}
		items = append(items, order)
	}

	return domain.CursorPage[domain.Order]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

type orderDocument struct {
	Number          int64          `firestore:"number"`
	UserID          string         `firestore:"userId"`
	CartID          string         `firestore:"cartId"`
	Status          string         `firestore:"status"`
	Currency        string         `firestore:"currency"`
	GrandTotal      int64          `firestore:"grandTotal"`
	Payload         string         `firestore:"payload"`
	PaymentIntentID string         `firestore:"paymentIntentId,omitempty"`
	Metadata        map[string]any `firestore:"metadata,omitempty"`
	CreatedAt       time.Time      `firestore:"createdAt"`
	UpdatedAt       time.Time      `firestore:"updatedAt"`
}

// The payload is stored as canonical JSON rather than a nested document so the
// wire-contract field names survive Firestore round-trips untouched.
func encodeOrderDocument(order domain.Order) (orderDocument, error) {
	payload, err := json.Marshal(order.Payload)
	if err != nil {
		return orderDocument{}, fmt.Errorf("order repository: encode payload: %w", err)
	}
	return orderDocument{
		Number:          order.Number,
		UserID:          strings.TrimSpace(order.UserID),
		CartID:          strings.TrimSpace(order.CartID),
		Status:          strings.ToLower(strings.TrimSpace(string(order.Status))),
		Currency:        strings.ToUpper(strings.TrimSpace(order.Currency)),
		GrandTotal:      order.GrandTotal,
		Payload:         string(payload),
		PaymentIntentID: strings.TrimSpace(order.PaymentIntentID),
		Metadata:        cloneAnyMap(order.Metadata),
		CreatedAt:       order.CreatedAt.UTC(),
		UpdatedAt:       order.UpdatedAt.UTC(),
	}, nil
}

func decodeOrderDocument(id string, doc orderDocument) (domain.Order, error) {
	order := domain.Order{
		ID:              id,
		Number:          doc.Number,
		UserID:          doc.UserID,
		CartID:          doc.CartID,
		Status:          domain.OrderStatus(doc.Status),
		Currency:        doc.Currency,
		GrandTotal:      doc.GrandTotal,
		PaymentIntentID: doc.PaymentIntentID,
		Metadata:        cloneAnyMap(doc.Metadata),
		CreatedAt:       doc.CreatedAt,
		UpdatedAt:       doc.UpdatedAt,
	}
	if strings.TrimSpace(doc.Payload) != "" {
		if err := json.Unmarshal([]byte(doc.Payload), &order.Payload); err != nil {
			return domain.Order{}, fmt.Errorf("order repository: decode payload for %s: %w", id, err)
		}
	}
	return order, nil
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
