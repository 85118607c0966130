package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	firebaseauth "firebase.google.com/go/v4/auth"
	"golang.org/x/text/language"

	domain "github.com/cinetek/api/internal/domain"
	"github.com/cinetek/api/internal/repositories"
)

const (
	maxDisplayNameLength = 80
	defaultFavoriteLimit = 200

	auditActionProfileUpdate = "user.profile.update"
)

var (
	errUserIDRequired = errors.New("user: user id is required")

	// ErrUserInvalidInput indicates the caller supplied invalid profile data.
	ErrUserInvalidInput = errors.New("user: invalid input")
	// ErrUserNotFound indicates the profile does not exist.
	ErrUserNotFound = errors.New("user: not found")
	// ErrUserFavoriteLimit indicates the favorites list is full.
	ErrUserFavoriteLimit = errors.New("user: favorite limit reached")
	// ErrUserInvalidLanguageTag indicates the supplied locale tag is invalid.
	ErrUserInvalidLanguageTag = errors.New("user: invalid language tag")
)

// UserServiceDeps bundles collaborators for profile and favorites management.
type UserServiceDeps struct {
	Users         repositories.UserRepository
	Favorites     repositories.FavoriteRepository
	Media         repositories.MediaRepository
	Identity      *firebaseauth.Client
	Audit         AuditLogService
	Clock         func() time.Time
	FavoriteLimit int
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type userService struct {
	users         repositories.UserRepository
	favorites     repositories.FavoriteRepository
	media         repositories.MediaRepository
	identity      *firebaseauth.Client
	audit         AuditLogService
	clock         func() time.Time
	favoriteLimit int
	logger        func(context.Context, string, map[string]any)
}

// NewUserService wires dependencies into a concrete UserService implementation.
func NewUserService(deps UserServiceDeps) (UserService, error) {
	if deps.Users == nil {
		return nil, errors.New("user service: user repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	limit := deps.FavoriteLimit
	if limit <= 0 {
		limit = defaultFavoriteLimit
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &userService{
		users:         deps.Users,
		favorites:     deps.Favorites,
		media:         deps.Media,
		identity:      deps.Identity,
		audit:         deps.Audit,
		clock:         func() time.Time { return clock().UTC() },
		favoriteLimit: limit,
		logger:        logger,
	}, nil
}

// GetProfile returns the stored profile, provisioning it from the identity
// provider record on first access.
func (s *userService) GetProfile(ctx context.Context, userID string) (User, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return User{}, errUserIDRequired
	}

	user, err := s.users.FindByID(ctx, uid)
	if err == nil {
		return user, nil
	}
	if !isRepoNotFound(err) {
		return User{}, err
	}

	return s.provisionProfile(ctx, uid)
}

// UpdateProfile applies partial profile changes.
func (s *userService) UpdateProfile(ctx context.Context, cmd UpdateProfileCommand) (User, error) {
	uid := strings.TrimSpace(cmd.UserID)
	if uid == "" {
		return User{}, errUserIDRequired
	}
	if cmd.DisplayName == nil && cmd.Locale == nil {
		return User{}, fmt.Errorf("%w: no fields to update", ErrUserInvalidInput)
	}

	user, err := s.GetProfile(ctx, uid)
	if err != nil {
		return User{}, err
	}

	if cmd.DisplayName != nil {
		name := strings.TrimSpace(*cmd.DisplayName)
		if name == "" || utf8.RuneCountInString(name) > maxDisplayNameLength {
			return User{}, fmt.Errorf("%w: display name must be 1-%d characters", ErrUserInvalidInput, maxDisplayNameLength)
		}
		user.DisplayName = name
	}

	if cmd.Locale != nil {
		locale, err := normaliseLocale(*cmd.Locale)
		if err != nil {
			return User{}, err
		}
		user.Locale = locale
	}

	user.UpdatedAt = s.clock()
	saved, err := s.users.Upsert(ctx, user)
	if err != nil {
		return User{}, err
	}

	if s.audit != nil {
		s.audit.Record(ctx, AuditLogRecord{
			Actor:    uid,
			Action:   auditActionProfileUpdate,
			Entity:   "user",
			EntityID: uid,
		})
	}

	return saved, nil
}

// ListFavorites returns the user's favorite media, newest first.
func (s *userService) ListFavorites(ctx context.Context, userID string, pager Pagination) (domain.CursorPage[Favorite], error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.CursorPage[Favorite]{}, errUserIDRequired
	}
	if s.favorites == nil {
		return domain.CursorPage[Favorite]{}, errors.New("user service: favorite repository is required")
	}
	return s.favorites.List(ctx, uid, pager)
}

// ToggleFavorite adds or removes a catalog entry from the user's favorites.
func (s *userService) ToggleFavorite(ctx context.Context, cmd ToggleFavoriteCommand) error {
	uid := strings.TrimSpace(cmd.UserID)
	mediaID := strings.TrimSpace(cmd.MediaID)
	if uid == "" {
		return errUserIDRequired
	}
	if mediaID == "" {
		return fmt.Errorf("%w: media id is required", ErrUserInvalidInput)
	}
	if s.favorites == nil {
		return errors.New("user service: favorite repository is required")
	}

	if !cmd.Favorite {
		return s.favorites.Delete(ctx, uid, mediaID)
	}

	if s.media != nil {
		if _, err := s.media.FindPublishedByID(ctx, mediaID); err != nil {
			if isRepoNotFound(err) {
				return fmt.Errorf("%w: media %s not found", ErrUserInvalidInput, mediaID)
			}
			return err
		}
	}

	added, err := s.favorites.Put(ctx, uid, mediaID, s.clock(), s.favoriteLimit)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsConflict() {
			return fmt.Errorf("%w: %v", ErrUserFavoriteLimit, err)
		}
		return err
	}
	if !added {
		s.logger(ctx, "user.favorite_noop", map[string]any{
			"userID":  uid,
			"mediaID": mediaID,
		})
	}
	return nil
}

// provisionProfile creates the profile document from the identity provider record.
func (s *userService) provisionProfile(ctx context.Context, uid string) (User, error) {
	now := s.clock()
	user := domain.User{
		ID:        uid,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if s.identity != nil {
		record, err := s.identity.GetUser(ctx, uid)
		if err != nil {
			return User{}, fmt.Errorf("%w: %v", ErrUserNotFound, err)
		}
		user.Email = strings.TrimSpace(record.Email)
		user.DisplayName = strings.TrimSpace(record.DisplayName)
	}

	return s.users.Upsert(ctx, user)
}

func normaliseLocale(tag string) (string, error) {
	trimmed := strings.TrimSpace(tag)
	if trimmed == "" {
		return "", nil
	}
	parsed, err := language.Parse(trimmed)
	if err != nil {
		return "", errors.Join(ErrUserInvalidLanguageTag, err)
	}
	return parsed.String(), nil
}
