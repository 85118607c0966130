package services

import (
	"context"
	"time"

	domain "github.com/cinetek/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination          = domain.Pagination
	SortOrder           = domain.SortOrder
	Category            = domain.Category
	EpisodeRange        = domain.EpisodeRange
	LineItem            = domain.LineItem
	DeliveryOption      = domain.DeliveryOption
	Cart                = domain.Cart
	PricingResult       = domain.PricingResult
	LinePricing         = domain.LinePricing
	OrderPayload        = domain.OrderPayload
	ArticlePayload      = domain.ArticlePayload
	ContentPayload      = domain.ContentPayload
	DeliveryInfoPayload = domain.DeliveryInfoPayload
	Media               = domain.Media
	MediaKind           = domain.MediaKind
	ArticleStock        = domain.ArticleStock
	Order               = domain.Order
	OrderStatus         = domain.OrderStatus
	User                = domain.User
	Favorite            = domain.Favorite
)

// Re-exported category constants keep service-layer call sites terse.
const (
	CategoryArticle = domain.CategoryArticle
	CategoryFilm    = domain.CategoryFilm
	CategorySeries  = domain.CategorySeries
	CategoryManga   = domain.CategoryManga
)

// KnownCategory reports whether c belongs to the closed category set.
func KnownCategory(c Category) bool { return domain.KnownCategory(c) }

// PricingService prices carts and freezes priced carts into order payloads.
// Implementations must be pure: no I/O, identical output for identical input.
type PricingService interface {
	Calculate(ctx context.Context, cmd PriceCartCommand) (PricingResult, error)
	BuildOrderPayload(cart Cart, pricing PricingResult) (OrderPayload, error)
}

// CartService manages mutable cart state, repricing the cart on every mutation.
type CartService interface {
	GetOrCreateCart(ctx context.Context, userID string) (Cart, error)
	AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error)
	UpdateItem(ctx context.Context, cmd UpdateCartItemCommand) (Cart, error)
	RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error)
	SetDelivery(ctx context.Context, cmd SetDeliveryCommand) (Cart, error)
	ClearCart(ctx context.Context, userID string) error
}

// OrderService submits carts as orders and serves order reads.
type OrderService interface {
	Submit(ctx context.Context, cmd SubmitOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string, opts OrderReadOptions) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	MarkPaid(ctx context.Context, cmd MarkOrderPaidCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
}

// CatalogService serves the public media catalog and admin catalog writes.
type CatalogService interface {
	GetMedia(ctx context.Context, mediaID string) (Media, error)
	ListMedia(ctx context.Context, filter MediaListFilter) (domain.CursorPage[Media], error)
	UpsertMedia(ctx context.Context, cmd UpsertMediaCommand) (Media, error)
	DeleteMedia(ctx context.Context, cmd DeleteMediaCommand) error
}

// StockService centralizes article stock reservation, commit, and release.
type StockService interface {
	Reserve(ctx context.Context, cmd StockReserveCommand) error
	Release(ctx context.Context, cmd StockReleaseCommand) error
	Commit(ctx context.Context, cmd StockCommitCommand) error
	Get(ctx context.Context, mediaID string) (ArticleStock, error)
}

// UserService manages profile documents and media favorites.
type UserService interface {
	GetProfile(ctx context.Context, userID string) (User, error)
	UpdateProfile(ctx context.Context, cmd UpdateProfileCommand) (User, error)
	ListFavorites(ctx context.Context, userID string, pager Pagination) (domain.CursorPage[Favorite], error)
	ToggleFavorite(ctx context.Context, cmd ToggleFavoriteCommand) error
}

// SystemService aggregates utility endpoints (health checks, audit logs).
type SystemService interface {
	HealthReport(ctx context.Context) (domain.SystemHealthReport, error)
	ListAuditLogs(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error)
}

// AuditLogService centralizes immutable audit log persistence and retrieval.
type AuditLogService interface {
	Record(ctx context.Context, record AuditLogRecord)
	List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error)
}

// OrderEventPublisher accepts order lifecycle notifications for downstream processing.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent is the message published when an order changes state.
type OrderEvent struct {
	EventID    string         `json:"event_id"`
	Type       string         `json:"type"`
	OrderID    string         `json:"order_id"`
	UserID     string         `json:"user_id"`
	GrandTotal int64          `json:"grand_total"`
	Currency   string         `json:"currency"`
	OccurredAt time.Time      `json:"occurred_at"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// PaymentProvider abstracts the PSP used to collect order payments.
type PaymentProvider interface {
	CreateIntent(ctx context.Context, req PaymentIntentRequest) (PaymentIntent, error)
	CancelIntent(ctx context.Context, intentID string) error
}

// PaymentIntentRequest asks the PSP to prepare collection of an order total.
type PaymentIntentRequest struct {
	OrderID     string
	UserID      string
	Amount      int64
	Currency    string
	Description string
	Metadata    map[string]string
}

// PaymentIntent is the PSP-side handle for an order payment.
type PaymentIntent struct {
	ID           string
	ClientSecret string
	Status       string
}

type AddCartItemCommand struct {
	UserID        string
	MediaID       string
	Category      Category
	Quantity      int
	SeasonNumbers []int
	Episodes      *EpisodeRange
}

type UpdateCartItemCommand struct {
	UserID        string
	ItemID        string
	Quantity      *int
	SeasonNumbers []int
	Episodes      *EpisodeRange
	UpdatedAt     *time.Time
}

type RemoveCartItemCommand struct {
	UserID    string
	ItemID    string
	UpdatedAt *time.Time
}

type SetDeliveryCommand struct {
	UserID    string
	Delivery  DeliveryOption
	UpdatedAt *time.Time
}

type SubmitOrderCommand struct {
	UserID   string
	Metadata map[string]any
}

type OrderReadOptions struct {
	UserID string
	Admin  bool
}

type OrderListFilter struct {
	UserID   string
	Statuses []OrderStatus
	Pager    Pagination
}

type MarkOrderPaidCommand struct {
	OrderID         string
	PaymentIntentID string
	ActorID         string
}

type CancelOrderCommand struct {
	OrderID string
	ActorID string
	Reason  string
}

type MediaListFilter struct {
	Kind          *MediaKind
	Search        string
	PublishedOnly bool
	Pager         Pagination
}

type UpsertMediaCommand struct {
	MediaID          *string
	Kind             MediaKind
	Title            string
	Description      string
	CoverPath        string
	UnitPrice        int64
	AvailableSeasons []int
	EpisodeCount     int
	Attributes       map[string]string
	Published        bool
	Stock            *int64
	ActorID          string
}

type DeleteMediaCommand struct {
	MediaID string
	ActorID string
}

type StockReserveCommand struct {
	OrderID string
	Lines   []StockLine
}

type StockReleaseCommand struct {
	OrderID string
	Lines   []StockLine
}

type StockCommitCommand struct {
	OrderID string
	Lines   []StockLine
}

// StockLine pairs an article with a quantity.
type StockLine struct {
	MediaID  string
	Quantity int64
}

type UpdateProfileCommand struct {
	UserID      string
	DisplayName *string
	Locale      *string
}

type ToggleFavoriteCommand struct {
	UserID   string
	MediaID  string
	Favorite bool
}

// AuditLogRecord captures one admin-side mutation for the audit trail.
type AuditLogRecord struct {
	Actor    string
	Action   string
	Entity   string
	EntityID string
	Metadata map[string]any
}

type AuditLogFilter struct {
	Entity   string
	EntityID string
	Actor    string
	Since    *time.Time
	Until    *time.Time
	Pager    Pagination
}
