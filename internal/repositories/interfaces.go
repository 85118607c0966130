package repositories

import (
	"context"
	"time"

	domain "github.com/cinetek/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Carts() CartRepository
	Orders() OrderRepository
	Media() MediaRepository
	Stock() StockRepository
	Users() UserRepository
	Favorites() FavoriteRepository
	AuditLogs() AuditLogRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CartRepository owns cart persistence with optimistic locking guarantees.
type CartRepository interface {
	UpsertCart(ctx context.Context, cart domain.Cart, expectedUpdate *time.Time) (domain.Cart, error)
	GetCart(ctx context.Context, userID string) (domain.Cart, error)
	DeleteCart(ctx context.Context, userID string) error
}

// OrderRepository persists order documents and provides query helpers for users and admins.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// MediaRepository stores catalog entries for films, series, manga, and articles.
type MediaRepository interface {
	FindByID(ctx context.Context, mediaID string) (domain.Media, error)
	FindPublishedByID(ctx context.Context, mediaID string) (domain.Media, error)
	List(ctx context.Context, filter MediaListFilter) (domain.CursorPage[domain.Media], error)
	Upsert(ctx context.Context, media domain.Media) (domain.Media, error)
	Delete(ctx context.Context, mediaID string) error
}

// StockRepository manages article stock levels with transactional guarantees.
type StockRepository interface {
	Get(ctx context.Context, mediaID string) (domain.ArticleStock, error)
	Set(ctx context.Context, stock domain.ArticleStock) error
	Reserve(ctx context.Context, lines []StockAdjustment, now time.Time) error
	Release(ctx context.Context, lines []StockAdjustment, now time.Time) error
	Commit(ctx context.Context, lines []StockAdjustment, now time.Time) error
}

// StockAdjustment pairs an article with the quantity to move between pools.
type StockAdjustment struct {
	MediaID  string
	Quantity int64
}

// UserRepository stores user profile documents.
type UserRepository interface {
	FindByID(ctx context.Context, userID string) (domain.User, error)
	Upsert(ctx context.Context, user domain.User) (domain.User, error)
}

// FavoriteRepository tracks favorite media per user.
type FavoriteRepository interface {
	List(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Favorite], error)
	Put(ctx context.Context, userID string, mediaID string, addedAt time.Time, limit int) (bool, error)
	Delete(ctx context.Context, userID string, mediaID string) error
}

// AuditLogRepository persists immutable audit trail entries.
type AuditLogRepository interface {
	Append(ctx context.Context, entry domain.AuditLogEntry) error
	List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

type OrderListFilter struct {
	UserID     string
	Status     []string
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

type MediaListFilter struct {
	Kind          *domain.MediaKind
	SearchKey     string
	PublishedOnly bool
	Pagination    domain.Pagination
}

type AuditLogFilter struct {
	TargetRef  string
	Actor      string
	Action     string
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
