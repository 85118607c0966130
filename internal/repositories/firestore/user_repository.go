package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/cinetek/api/internal/domain"
	pfirestore "github.com/cinetek/api/internal/platform/firestore"
	"github.com/cinetek/api/internal/repositories"
)

const userCollection = "users"

// UserRepository persists user profile documents in Firestore.
type UserRepository struct {
	base *pfirestore.BaseRepository[userDocument]
}

// NewUserRepository constructs a Firestore-backed user repository.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[userDocument](provider, userCollection, nil, nil)
	return &UserRepository{base: base}, nil
}

// FindByID loads the user profile by UID.
func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.User, error) {
	if r == nil || r.base == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.User{}, errors.New("user repository: user id is required")
	}

	doc, err := r.base.Get(ctx, uid)
	if err != nil {
		return domain.User{}, err
	}

	user := decodeUserDocument(doc.ID, doc.Data)
	if user.CreatedAt.IsZero() {
		user.CreatedAt = doc.CreateTime
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = doc.UpdateTime
	}
	return user, nil
}

// Upsert stores the user profile under its UID.
func (r *UserRepository) Upsert(ctx context.Context, user domain.User) (domain.User, error) {
	if r == nil || r.base == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	uid := strings.TrimSpace(user.ID)
	if uid == "" {
		return domain.User{}, errors.New("user repository: user id is required")
	}

	now := time.Now().UTC()
	createdAt := user.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = now
	}
	doc := userDocument{
		Email:       strings.TrimSpace(user.Email),
		DisplayName: strings.TrimSpace(user.DisplayName),
		Locale:      strings.TrimSpace(user.Locale),
		CreatedAt:   createdAt,
		UpdatedAt:   now,
	}

	result, err := r.base.Set(ctx, uid, doc)
	if err != nil {
		return domain.User{}, err
	}

	saved := decodeUserDocument(uid, doc)
	saved.UpdatedAt = result.UpdateTime
	return saved, nil
}

type userDocument struct {
	Email       string    `firestore:"email,omitempty"`
	DisplayName string    `firestore:"displayName,omitempty"`
	Locale      string    `firestore:"locale,omitempty"`
	CreatedAt   time.Time `firestore:"createdAt"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

func decodeUserDocument(id string, doc userDocument) domain.User {
	return domain.User{
		ID:          id,
		Email:       doc.Email,
		DisplayName: doc.DisplayName,
		Locale:      doc.Locale,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}
}

var _ repositories.UserRepository = (*UserRepository)(nil)
