package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/cinetek/api/internal/domain"
)

type stubUserRepository struct {
	findFunc   func(ctx context.Context, userID string) (domain.User, error)
	upsertFunc func(ctx context.Context, user domain.User) (domain.User, error)
}

func (s *stubUserRepository) FindByID(ctx context.Context, userID string) (domain.User, error) {
	if s.findFunc == nil {
		return domain.User{}, &repositoryErrorStub{notFound: true}
	}
	return s.findFunc(ctx, userID)
}

func (s *stubUserRepository) Upsert(ctx context.Context, user domain.User) (domain.User, error) {
	if s.upsertFunc == nil {
		return user, nil
	}
	return s.upsertFunc(ctx, user)
}

type stubFavoriteRepository struct {
	listFunc   func(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Favorite], error)
	putFunc    func(ctx context.Context, userID, mediaID string, addedAt time.Time, limit int) (bool, error)
	deleteFunc func(ctx context.Context, userID, mediaID string) error
}

func (s *stubFavoriteRepository) List(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Favorite], error) {
	if s.listFunc == nil {
		return domain.CursorPage[domain.Favorite]{}, nil
	}
	return s.listFunc(ctx, userID, pager)
}

func (s *stubFavoriteRepository) Put(ctx context.Context, userID, mediaID string, addedAt time.Time, limit int) (bool, error) {
	if s.putFunc == nil {
		return true, nil
	}
	return s.putFunc(ctx, userID, mediaID, addedAt, limit)
}

func (s *stubFavoriteRepository) Delete(ctx context.Context, userID, mediaID string) error {
	if s.deleteFunc == nil {
		return nil
	}
	return s.deleteFunc(ctx, userID, mediaID)
}

func newTestUserService(t *testing.T, deps UserServiceDeps) UserService {
	t.Helper()

	if deps.Clock == nil {
		deps.Clock = func() time.Time {
			return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		}
	}

	svc, err := NewUserService(deps)
	if err != nil {
		t.Fatalf("NewUserService returned error: %v", err)
	}
	return svc
}

func TestUserServiceGetProfileReturnsStored(t *testing.T) {
	users := &stubUserRepository{
		findFunc: func(_ context.Context, userID string) (domain.User, error) {
			return domain.User{ID: userID, Email: "user@example.com", DisplayName: "Alex"}, nil
		},
	}

	svc := newTestUserService(t, UserServiceDeps{Users: users})

	user, err := svc.GetProfile(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetProfile returned error: %v", err)
	}
	if user.Email != "user@example.com" || user.DisplayName != "Alex" {
		t.Fatalf("unexpected profile: %+v", user)
	}
}

func TestUserServiceGetProfileProvisionsMissing(t *testing.T) {
	var upserted domain.User
	users := &stubUserRepository{
		findFunc: func(context.Context, string) (domain.User, error) {
			return domain.User{}, &repositoryErrorStub{notFound: true}
		},
		upsertFunc: func(_ context.Context, user domain.User) (domain.User, error) {
			upserted = user
			return user, nil
		},
	}

	svc := newTestUserService(t, UserServiceDeps{Users: users})

	user, err := svc.GetProfile(context.Background(), "user-new")
	if err != nil {
		t.Fatalf("GetProfile returned error: %v", err)
	}
	if user.ID != "user-new" {
		t.Fatalf("unexpected provisioned id: %q", user.ID)
	}
	if upserted.CreatedAt.IsZero() || upserted.UpdatedAt.IsZero() {
		t.Fatalf("expected timestamps on provisioned profile: %+v", upserted)
	}
}

func TestUserServiceGetProfileRequiresID(t *testing.T) {
	svc := newTestUserService(t, UserServiceDeps{Users: &stubUserRepository{}})

	if _, err := svc.GetProfile(context.Background(), "  "); err == nil {
		t.Fatal("expected error for blank user id")
	}
}

func TestUserServiceUpdateProfile(t *testing.T) {
	stored := domain.User{ID: "user-1", DisplayName: "Old", Locale: "en"}
	var saved domain.User
	users := &stubUserRepository{
		findFunc: func(context.Context, string) (domain.User, error) {
			return stored, nil
		},
		upsertFunc: func(_ context.Context, user domain.User) (domain.User, error) {
			saved = user
			return user, nil
		},
	}
	audit := &stubAuditService{}

	svc := newTestUserService(t, UserServiceDeps{Users: users, Audit: audit})

	name := "  Nouvelle Personne  "
	locale := "FR-fr"
	user, err := svc.UpdateProfile(context.Background(), UpdateProfileCommand{
		UserID:      "user-1",
		DisplayName: &name,
		Locale:      &locale,
	})
	if err != nil {
		t.Fatalf("UpdateProfile returned error: %v", err)
	}

	if user.DisplayName != "Nouvelle Personne" {
		t.Fatalf("expected trimmed display name, got %q", user.DisplayName)
	}
	if user.Locale != "fr-FR" {
		t.Fatalf("expected canonical locale fr-FR, got %q", user.Locale)
	}
	if saved.UpdatedAt.IsZero() {
		t.Fatal("expected update time to be set")
	}
	if len(audit.records) != 1 || audit.records[0].Action != "user.profile.update" {
		t.Fatalf("unexpected audit records: %+v", audit.records)
	}
}

func TestUserServiceUpdateProfileValidation(t *testing.T) {
	svc := newTestUserService(t, UserServiceDeps{Users: &stubUserRepository{
		findFunc: func(_ context.Context, userID string) (domain.User, error) {
			return domain.User{ID: userID}, nil
		},
	}})

	if _, err := svc.UpdateProfile(context.Background(), UpdateProfileCommand{UserID: "user-1"}); !errors.Is(err, ErrUserInvalidInput) {
		t.Fatalf("expected ErrUserInvalidInput for empty update, got %v", err)
	}

	blank := "   "
	if _, err := svc.UpdateProfile(context.Background(), UpdateProfileCommand{UserID: "user-1", DisplayName: &blank}); !errors.Is(err, ErrUserInvalidInput) {
		t.Fatalf("expected ErrUserInvalidInput for blank name, got %v", err)
	}

	long := strings.Repeat("x", 81)
	if _, err := svc.UpdateProfile(context.Background(), UpdateProfileCommand{UserID: "user-1", DisplayName: &long}); !errors.Is(err, ErrUserInvalidInput) {
		t.Fatalf("expected ErrUserInvalidInput for long name, got %v", err)
	}

	badTag := "not a locale"
	if _, err := svc.UpdateProfile(context.Background(), UpdateProfileCommand{UserID: "user-1", Locale: &badTag}); !errors.Is(err, ErrUserInvalidLanguageTag) {
		t.Fatalf("expected ErrUserInvalidLanguageTag, got %v", err)
	}
}

func TestUserServiceListFavorites(t *testing.T) {
	favorites := &stubFavoriteRepository{
		listFunc: func(_ context.Context, userID string, _ domain.Pagination) (domain.CursorPage[domain.Favorite], error) {
			return domain.CursorPage[domain.Favorite]{
				Items: []domain.Favorite{{UserID: userID, MediaID: "med_1"}},
			}, nil
		},
	}

	svc := newTestUserService(t, UserServiceDeps{Users: &stubUserRepository{}, Favorites: favorites})

	page, err := svc.ListFavorites(context.Background(), "user-1", Pagination{PageSize: 10})
	if err != nil {
		t.Fatalf("ListFavorites returned error: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].MediaID != "med_1" {
		t.Fatalf("unexpected favorites page: %+v", page)
	}
}

func TestUserServiceToggleFavoriteAddChecksCatalog(t *testing.T) {
	var putCalled bool
	favorites := &stubFavoriteRepository{
		putFunc: func(_ context.Context, userID, mediaID string, _ time.Time, limit int) (bool, error) {
			if limit != defaultFavoriteLimit {
				t.Fatalf("expected default favorite limit, got %d", limit)
			}
			putCalled = true
			return true, nil
		},
	}
	media := &stubMediaRepository{
		findPublishedFunc: func(_ context.Context, mediaID string) (domain.Media, error) {
			return domain.Media{ID: mediaID, Published: true}, nil
		},
	}

	svc := newTestUserService(t, UserServiceDeps{Users: &stubUserRepository{}, Favorites: favorites, Media: media})

	if err := svc.ToggleFavorite(context.Background(), ToggleFavoriteCommand{UserID: "user-1", MediaID: "med_1", Favorite: true}); err != nil {
		t.Fatalf("ToggleFavorite returned error: %v", err)
	}
	if !putCalled {
		t.Fatal("expected favorite to be stored")
	}
}

func TestUserServiceToggleFavoriteRejectsUnknownMedia(t *testing.T) {
	svc := newTestUserService(t, UserServiceDeps{
		Users:     &stubUserRepository{},
		Favorites: &stubFavoriteRepository{},
		Media:     &stubMediaRepository{},
	})

	err := svc.ToggleFavorite(context.Background(), ToggleFavoriteCommand{UserID: "user-1", MediaID: "med_missing", Favorite: true})
	if !errors.Is(err, ErrUserInvalidInput) {
		t.Fatalf("expected ErrUserInvalidInput, got %v", err)
	}
}

func TestUserServiceToggleFavoriteRemoveSkipsCatalogCheck(t *testing.T) {
	var deleted bool
	favorites := &stubFavoriteRepository{
		deleteFunc: func(_ context.Context, userID, mediaID string) error {
			if userID != "user-1" || mediaID != "med_1" {
				t.Fatalf("unexpected delete args: %s %s", userID, mediaID)
			}
			deleted = true
			return nil
		},
	}
	media := &stubMediaRepository{
		findPublishedFunc: func(context.Context, string) (domain.Media, error) {
			t.Fatal("catalog lookup must not run on removal")
			return domain.Media{}, nil
		},
	}

	svc := newTestUserService(t, UserServiceDeps{Users: &stubUserRepository{}, Favorites: favorites, Media: media})

	if err := svc.ToggleFavorite(context.Background(), ToggleFavoriteCommand{UserID: "user-1", MediaID: "med_1"}); err != nil {
		t.Fatalf("ToggleFavorite returned error: %v", err)
	}
	if !deleted {
		t.Fatal("expected favorite to be removed")
	}
}

func TestUserServiceToggleFavoriteLimit(t *testing.T) {
	favorites := &stubFavoriteRepository{
		putFunc: func(context.Context, string, string, time.Time, int) (bool, error) {
			return false, &repositoryErrorStub{conflict: true}
		},
	}
	media := &stubMediaRepository{
		findPublishedFunc: func(_ context.Context, mediaID string) (domain.Media, error) {
			return domain.Media{ID: mediaID}, nil
		},
	}

	svc := newTestUserService(t, UserServiceDeps{Users: &stubUserRepository{}, Favorites: favorites, Media: media})

	err := svc.ToggleFavorite(context.Background(), ToggleFavoriteCommand{UserID: "user-1", MediaID: "med_1", Favorite: true})
	if !errors.Is(err, ErrUserFavoriteLimit) {
		t.Fatalf("expected ErrUserFavoriteLimit, got %v", err)
	}
}

func TestNormaliseLocale(t *testing.T) {
	cases := map[string]string{
		"fr":    "fr",
		"FR-fr": "fr-FR",
		"en-US": "en-US",
		"  ":    "",
	}
	for input, want := range cases {
		got, err := normaliseLocale(input)
		if err != nil {
			t.Fatalf("normaliseLocale(%q) returned error: %v", input, err)
		}
		if got != want {
			t.Fatalf("normaliseLocale(%q) = %q, want %q", input, got, want)
		}
	}

	if _, err := normaliseLocale("!!"); !errors.Is(err, ErrUserInvalidLanguageTag) {
		t.Fatalf("expected ErrUserInvalidLanguageTag, got %v", err)
	}
}
