package service

import (
	"context"
	"errors"

	"clinicrooms/internal/domain"
	"clinicrooms/internal/models"

	"github.com/rs/zerolog"
)

type UserService struct {
	store  domain.UserStore
	logger *zerolog.Logger
}

func NewUserService(store domain.UserStore, logger *zerolog.Logger) *UserService {
	return &UserService{store: store, logger: logger}
}

// EnsureUser records the caller on first sight and refreshes profile fields
// from the token afterwards. It never changes the verification flag.
func (s *UserService) EnsureUser(ctx context.Context, id, email, name string) (*models.User, error) {
	if id == "" {
		return nil, domain.NewValidationError("user_id", "required")
	}

	existing, err := s.store.GetUser(ctx, id)
	switch {
	case err == nil:
		if (email == "" || email == existing.Email) && (name == "" || name == existing.Name) {
			return existing, nil
		}
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}

	if err := s.store.UpsertUser(ctx, &models.User{ID: id, Email: email, Name: name}); err != nil {
		return nil, err
	}
	if existing == nil {
		s.logger.Info().Str("user_id", id).Msg("New user registered")
	}
	return s.store.GetUser(ctx, id)
}

func (s *UserService) GetUser(ctx context.Context, id string) (*models.User, error) {
	return s.store.GetUser(ctx, id)
}
