package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/cinetek/api/internal/domain"
	"github.com/cinetek/api/internal/platform/auth"
	"github.com/cinetek/api/internal/platform/httpx"
	"github.com/cinetek/api/internal/services"
)

const (
	maxCatalogRequestBody   = 256 * 1024
	defaultAuditLogPageSize = 50
	maxAuditLogPageSize     = 200
	maxAdminOrderActionBody = 8 * 1024
)

// AdminHandlers exposes admin catalog CRUD, order management and audit log endpoints.
type AdminHandlers struct {
	authn   *auth.Authenticator
	catalog services.CatalogService
	orders  services.OrderService
	system  services.SystemService
}

// NewAdminHandlers constructs admin handlers.
func NewAdminHandlers(authn *auth.Authenticator, catalog services.CatalogService, orders services.OrderService, system services.SystemService) *AdminHandlers {
	return &AdminHandlers{authn: authn, catalog: catalog, orders: orders, system: system}
}

// Routes registers admin endpoints.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin))
	}
	r.Route("/catalog", func(rt chi.Router) {
		rt.Get("/media", h.listMedia)
		rt.Post("/media", h.createMedia)
		rt.Put("/media/{mediaID}", h.updateMedia)
		rt.Delete("/media/{mediaID}", h.deleteMedia)
	})
	r.Route("/orders", func(rt chi.Router) {
		rt.Get("/", h.listOrders)
		rt.Get("/{orderID}", h.getOrder)
		rt.Post("/{orderID}:mark-paid", h.markOrderPaid)
		rt.Post("/{orderID}:cancel", h.cancelOrder)
	})
	r.Get("/audit-logs", h.listAuditLogs)
}

func (h *AdminHandlers) listMedia(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	filter := services.MediaListFilter{
		Search: strings.TrimSpace(query.Get("q")),
		Pager: services.Pagination{
			PageSize:  defaultCatalogPageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	}
	if kindRaw := strings.TrimSpace(query.Get("kind")); kindRaw != "" {
		kind := domain.MediaKind(strings.ToLower(kindRaw))
		if _, ok := validMediaKinds[kind]; !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "kind must be one of article, film, series, manga", http.StatusBadRequest))
			return
		}
		filter.Kind = &kind
	}
	if sizeRaw := strings.TrimSpace(query.Get("page_size")); sizeRaw != "" {
		if size, err := strconv.Atoi(sizeRaw); err == nil && size > 0 && size <= maxCatalogPageSize {
			filter.Pager.PageSize = size
		}
	}

	page, err := h.catalog.ListMedia(ctx, filter)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	items := make([]adminMediaPayload, 0, len(page.Items))
	for _, media := range page.Items {
		items = append(items, buildAdminMediaPayload(media))
	}
	writeJSONResponse(w, http.StatusOK, adminMediaListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *AdminHandlers) createMedia(w http.ResponseWriter, r *http.Request) {
	h.saveMedia(w, r, "")
}

func (h *AdminHandlers) updateMedia(w http.ResponseWriter, r *http.Request) {
	h.saveMedia(w, r, chi.URLParam(r, "mediaID"))
}

func (h *AdminHandlers) saveMedia(w http.ResponseWriter, r *http.Request, mediaID string) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	cmd, err := decodeAdminMediaRequest(r, mediaID)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	cmd.ActorID = identity.UID

	result, err := h.catalog.UpsertMedia(ctx, cmd)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	status := http.StatusOK
	if r.Method == http.MethodPost {
		status = http.StatusCreated
	}
	writeJSONResponse(w, status, adminMediaResponse{Media: buildAdminMediaPayload(result)})
}

func (h *AdminHandlers) deleteMedia(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	mediaID := strings.TrimSpace(chi.URLParam(r, "mediaID"))
	if mediaID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "media id is required", http.StatusBadRequest))
		return
	}

	if err := h.catalog.DeleteMedia(ctx, services.DeleteMediaCommand{
		MediaID: mediaID,
		ActorID: identity.UID,
	}); err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	statuses := make([]domain.OrderStatus, 0)
	for _, raw := range query["status"] {
		for _, value := range strings.Split(raw, ",") {
			status, ok := parseOrderStatus(value)
			if !ok {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a valid order status", http.StatusBadRequest))
				return
			}
			statuses = append(statuses, status)
		}
	}

	pageSize := defaultOrderPageSize
	if sizeRaw := strings.TrimSpace(query.Get("page_size")); sizeRaw != "" {
		if size, err := strconv.Atoi(sizeRaw); err == nil && size > 0 && size <= maxOrderPageSize {
			pageSize = size
		}
	}

	page, err := h.orders.ListOrders(ctx, services.OrderListFilter{
		UserID:   strings.TrimSpace(query.Get("user_id")),
		Statuses: statuses,
		Pager: services.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *AdminHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID, services.OrderReadOptions{Admin: true})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderResponse(order)})
}

type adminMarkPaidRequest struct {
	PaymentIntentID string `json:"payment_intent_id"`
}

func (h *AdminHandlers) markOrderPaid(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req adminMarkPaidRequest
	body, err := readLimitedBody(r, maxAdminOrderActionBody)
	if err != nil && !errors.Is(err, errEmptyBody) {
		writeCartBodyError(ctx, w, err)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
			return
		}
	}

	order, err := h.orders.MarkPaid(ctx, services.MarkOrderPaidCommand{
		OrderID:         orderID,
		PaymentIntentID: strings.TrimSpace(req.PaymentIntentID),
		ActorID:         identity.UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderResponse(order)})
}

func (h *AdminHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req cancelOrderRequest
	body, err := readLimitedBody(r, maxAdminOrderActionBody)
	if err != nil && !errors.Is(err, errEmptyBody) {
		writeCartBodyError(ctx, w, err)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
			return
		}
	}

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID: orderID,
		ActorID: identity.UID,
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderResponse(order)})
}

func (h *AdminHandlers) listAuditLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.system == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "system service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	filter := services.AuditLogFilter{
		Entity:   strings.TrimSpace(query.Get("entity")),
		EntityID: strings.TrimSpace(query.Get("entity_id")),
		Actor:    strings.TrimSpace(query.Get("actor")),
		Pager: services.Pagination{
			PageSize:  defaultAuditLogPageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	}
	if raw := strings.TrimSpace(query.Get("since")); raw != "" {
		ts, err := parseRFC3339(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "since must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		filter.Since = &ts
	}
	if raw := strings.TrimSpace(query.Get("until")); raw != "" {
		ts, err := parseRFC3339(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "until must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		filter.Until = &ts
	}
	if sizeRaw := strings.TrimSpace(query.Get("page_size")); sizeRaw != "" {
		if size, err := strconv.Atoi(sizeRaw); err == nil && size > 0 && size <= maxAuditLogPageSize {
			filter.Pager.PageSize = size
		}
	}

	page, err := h.system.ListAuditLogs(ctx, filter)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("audit_log_error", "failed to list audit logs", http.StatusInternalServerError))
		return
	}

	items := make([]auditLogPayload, 0, len(page.Items))
	for _, entry := range page.Items {
		items = append(items, auditLogPayload{
			ID:        entry.ID,
			Actor:     entry.Actor,
			Action:    entry.Action,
			TargetRef: entry.TargetRef,
			Metadata:  cloneMap(entry.Metadata),
			RequestID: entry.RequestID,
			CreatedAt: formatTime(entry.CreatedAt),
		})
	}
	writeJSONResponse(w, http.StatusOK, auditLogListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

type adminMediaListResponse struct {
	Items         []adminMediaPayload `json:"items"`
	NextPageToken string              `json:"next_page_token,omitempty"`
}

type adminMediaResponse struct {
	Media adminMediaPayload `json:"media"`
}

type adminMediaPayload struct {
	ID               string            `json:"id"`
	Kind             string            `json:"kind"`
	Title            string            `json:"title"`
	Description      string            `json:"description,omitempty"`
	CoverPath        string            `json:"cover_path,omitempty"`
	CoverURL         string            `json:"cover_url,omitempty"`
	UnitPrice        int64             `json:"unit_price,omitempty"`
	AvailableSeasons []int             `json:"available_seasons,omitempty"`
	EpisodeCount     int               `json:"episode_count,omitempty"`
	SearchKey        string            `json:"search_key,omitempty"`
	Attributes       map[string]string `json:"attributes,omitempty"`
	Published        bool              `json:"published"`
	CreatedAt        string            `json:"created_at,omitempty"`
	UpdatedAt        string            `json:"updated_at,omitempty"`
}

func buildAdminMediaPayload(media services.Media) adminMediaPayload {
	payload := adminMediaPayload{
		ID:           strings.TrimSpace(media.ID),
		Kind:         string(media.Kind),
		Title:        media.Title,
		Description:  media.Description,
		CoverPath:    media.CoverPath,
		CoverURL:     media.CoverURL,
		UnitPrice:    media.UnitPrice,
		EpisodeCount: media.EpisodeCount,
		SearchKey:    media.SearchKey,
		Attributes:   media.Attributes,
		Published:    media.Published,
		CreatedAt:    formatTime(media.CreatedAt),
		UpdatedAt:    formatTime(media.UpdatedAt),
	}
	if len(media.AvailableSeasons) > 0 {
		payload.AvailableSeasons = append([]int(nil), media.AvailableSeasons...)
	}
	return payload
}

type adminMediaRequest struct {
	ID               string            `json:"id"`
	Kind             string            `json:"kind"`
	Title            string            `json:"title"`
	Description      string            `json:"description"`
	CoverPath        string            `json:"cover_path"`
	UnitPrice        int64             `json:"unit_price"`
	AvailableSeasons []int             `json:"available_seasons"`
	EpisodeCount     int               `json:"episode_count"`
	Attributes       map[string]string `json:"attributes"`
	Published        bool              `json:"published"`
	Stock            *int64            `json:"stock"`
}

func decodeAdminMediaRequest(r *http.Request, overrideID string) (services.UpsertMediaCommand, error) {
	limited := io.LimitReader(r.Body, maxCatalogRequestBody)
	defer r.Body.Close()
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()

	var req adminMediaRequest
	if err := decoder.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return services.UpsertMediaCommand{}, errors.New("request body required")
		}
		return services.UpsertMediaCommand{}, fmt.Errorf("invalid request body: %w", err)
	}

	cmd := services.UpsertMediaCommand{
		Kind:         domain.MediaKind(strings.ToLower(strings.TrimSpace(req.Kind))),
		Title:        req.Title,
		Description:  req.Description,
		CoverPath:    strings.TrimSpace(req.CoverPath),
		UnitPrice:    req.UnitPrice,
		EpisodeCount: req.EpisodeCount,
		Attributes:   req.Attributes,
		Published:    req.Published,
		Stock:        req.Stock,
	}
	if len(req.AvailableSeasons) > 0 {
		cmd.AvailableSeasons = append([]int(nil), req.AvailableSeasons...)
	}

	id := strings.TrimSpace(overrideID)
	if id == "" {
		id = strings.TrimSpace(req.ID)
	}
	if id != "" {
		cmd.MediaID = &id
	}
	return cmd, nil
}

type auditLogListResponse struct {
	Items         []auditLogPayload `json:"items"`
	NextPageToken string            `json:"next_page_token,omitempty"`
}

type auditLogPayload struct {
	ID        string         `json:"id"`
	Actor     string         `json:"actor"`
	Action    string         `json:"action"`
	TargetRef string         `json:"target_ref,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	CreatedAt string         `json:"created_at"`
}
