package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/cinetek/api/internal/platform/auth"
	"github.com/cinetek/api/internal/platform/httpx"
	"github.com/cinetek/api/internal/platform/pagination"
	"github.com/cinetek/api/internal/services"
)

func (h *MeHandlers) favoriteRoutes(r chi.Router) {
	r.Get("/", h.listFavorites)
	r.Put("/{mediaID}", h.addFavorite)
	r.Delete("/{mediaID}", h.removeFavorite)
}

func (h *MeHandlers) listFavorites(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("profile_service_unavailable", "profile service is unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{})
	if err != nil {
		writePaginationError(ctx, w, err)
		return
	}

	page, err := h.users.ListFavorites(ctx, identity.UID, services.Pagination{
		PageSize:  params.PageSize,
		PageToken: params.PageToken,
	})
	if err != nil {
		writeFavoriteError(ctx, w, err)
		return
	}

	items := make([]favoritePayload, 0, len(page.Items))
	for _, fav := range page.Items {
		items = append(items, favoritePayload{
			MediaID: fav.MediaID,
			AddedAt: formatTime(fav.CreatedAt),
		})
	}

	writeJSONResponse(w, http.StatusOK, favoriteListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *MeHandlers) addFavorite(w http.ResponseWriter, r *http.Request) {
	h.toggleFavorite(w, r, true)
}

func (h *MeHandlers) removeFavorite(w http.ResponseWriter, r *http.Request) {
	h.toggleFavorite(w, r, false)
}

func (h *MeHandlers) toggleFavorite(w http.ResponseWriter, r *http.Request, favorite bool) {
	ctx := r.Context()
	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("profile_service_unavailable", "profile service is unavailable", http.StatusServiceUnavailable))
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

	err := h.users.ToggleFavorite(ctx, services.ToggleFavoriteCommand{
		UserID:   identity.UID,
		MediaID:  mediaID,
		Favorite: favorite,
	})
	if err != nil {
		writeFavoriteError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type favoriteListResponse struct {
	Items         []favoritePayload `json:"items"`
	NextPageToken string            `json:"next_page_token,omitempty"`
}

type favoritePayload struct {
	MediaID string `json:"media_id"`
	AddedAt string `json:"added_at"`
}

func writeFavoriteError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, services.ErrUserFavoriteLimit):
		httpx.WriteError(ctx, w, httpx.NewError("favorite_limit", "favorite limit reached", http.StatusConflict))
		return
	case errors.Is(err, services.ErrUserInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	httpx.WriteError(ctx, w, httpx.NewError("favorite_error", err.Error(), http.StatusInternalServerError))
}
