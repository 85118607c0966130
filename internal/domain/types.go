package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Category identifies the pricing category of a cart line item. The set is
// closed: every consumer dispatches over the four known values and treats
// anything else as invalid input.
type Category string

const (
	// CategoryArticle covers physical merchandise priced per unit.
	CategoryArticle Category = "article"
	// CategoryFilm covers single films sold at a fixed catalog price.
	CategoryFilm Category = "film"
	// CategorySeries covers series seasons priced per selected season.
	CategorySeries Category = "series"
	// CategoryManga covers manga sold per season or per episode range.
	CategoryManga Category = "manga"
)

// KnownCategory reports whether c is one of the four supported categories.
func KnownCategory(c Category) bool {
	switch c {
	case CategoryArticle, CategoryFilm, CategorySeries, CategoryManga:
		return true
	default:
		return false
	}
}

// EpisodeRange selects an inclusive run of manga episodes.
type EpisodeRange struct {
	Start int
	End   int
}

// Count returns the number of episodes covered by the range. The result is
// only meaningful for a validated range where End >= Start.
func (r EpisodeRange) Count() int {
	return r.End - r.Start + 1
}

// LineItem is a single cart entry. Exactly one pricing shape applies
// depending on Category: articles use UnitPrice and Quantity, films use
// neither, series and manga seasons use SeasonNumbers, and manga episode
// ranges use Episodes. Client-supplied prices are never trusted for media
// categories.
type LineItem struct {
	ID            string
	MediaID       string
	Title         string
	Category      Category
	UnitPrice     int64
	Quantity      int
	SeasonNumbers []int
	Episodes      *EpisodeRange
	AddedAt       time.Time
}

// DeliveryOption captures the delivery request attached to a cart. The fee is
// only charged when Requested is true and Address is non-blank; a request
// without an address is rejected before pricing completes.
type DeliveryOption struct {
	Requested bool
	Address   string
	Note      string
}

// Cart aggregates a user's pending line items together with the most recent
// pricing snapshot. The snapshot is recomputed from scratch on every
// mutation and never updated incrementally.
type Cart struct {
	ID        string
	UserID    string
	Currency  string
	Items     []LineItem
	Delivery  DeliveryOption
	Pricing   *PricingResult
	Metadata  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MediaKind enumerates catalog entry kinds. It mirrors Category so a catalog
// document directly determines the pricing behaviour of items referencing it.
type MediaKind string

const (
	// MediaKindFilm is a single film.
	MediaKindFilm MediaKind = "film"
	// MediaKindSeries is a multi-season series.
	MediaKindSeries MediaKind = "series"
	// MediaKindManga is a manga available per season or per episode range.
	MediaKindManga MediaKind = "manga"
	// MediaKindArticle is a physical merchandise article.
	MediaKindArticle MediaKind = "article"
)

// Media is a catalog entry for a sellable film, series, manga, or article.
type Media struct {
	ID               string
	Kind             MediaKind
	Title            string
	Description      string
	CoverPath        string
	CoverURL         string
	UnitPrice        int64
	AvailableSeasons []int
	EpisodeCount     int
	SearchKey        string
	Attributes       map[string]string
	Published        bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ArticleStock tracks sellable inventory for one physical article.
type ArticleStock struct {
	MediaID   string
	Available int64
	Reserved  int64
	UpdatedAt time.Time
}

// OrderStatus describes the lifecycle state of an order.
type OrderStatus string

const (
	// OrderStatusPendingPayment marks an order awaiting payment confirmation.
	OrderStatusPendingPayment OrderStatus = "pending_payment"
	// OrderStatusPaid marks an order whose payment settled.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusFulfilled marks an order that has been delivered or unlocked.
	OrderStatusFulfilled OrderStatus = "fulfilled"
	// OrderStatusCancelled marks an order cancelled before fulfilment.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Order is a submitted cart frozen into its payload form, together with the
// payment and fulfilment state tracked afterwards.
type Order struct {
	ID              string
	Number          int64
	UserID          string
	CartID          string
	Status          OrderStatus
	Currency        string
	GrandTotal      int64
	Payload         OrderPayload
	PaymentIntentID string
	Metadata        map[string]any
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// User stores the profile document backing an authenticated account.
type User struct {
	ID          string
	Email       string
	DisplayName string
	Locale      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Favorite records a user liking a catalog entry.
type Favorite struct {
	UserID    string
	MediaID   string
	CreatedAt time.Time
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency check.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// AuditLogEntry stores normalized audit information for admin use.
type AuditLogEntry struct {
	ID        string
	Actor     string
	Action    string
	TargetRef string
	Metadata  map[string]any
	RequestID string
	CreatedAt time.Time
}
