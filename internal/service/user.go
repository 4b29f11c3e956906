package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/sakif/waste-rewards/internal/apperror"
	"github.com/sakif/waste-rewards/internal/model"
	"github.com/sakif/waste-rewards/internal/repository"
)

const (
	MaxEmailLength = 254
	MaxNameLength  = 100
)

// UserService registers the accounts the identity provider vouches for.
// It never authenticates anyone itself.
type UserService struct {
	users  repository.UserRepository
	logger *slog.Logger
}

func NewUserService(users repository.UserRepository, logger *slog.Logger) *UserService {
	return &UserService{users: users, logger: logger}
}

// Register returns the account for email, creating it on first login.
// Calling it again with the same email is a no-op that returns the same user.
func (s *UserService) Register(ctx context.Context, email, name string) (*model.User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	name = sanitizeText(name)
	if len(name) > MaxNameLength {
		return nil, apperror.ValidationFailed("name",
			fmt.Sprintf("name must be %d characters or less", MaxNameLength))
	}

	user, err := s.users.GetOrCreateByEmail(ctx, &model.User{Email: email, Name: name})
	if err != nil {
		s.logger.Error("failed to register user", slog.String("email", email), slog.String("error", err.Error()))
		return nil, fmt.Errorf("registering user %s: %w", email, err)
	}

	s.logger.Info("user registered", slog.String("userID", user.ID))
	return user, nil
}

func (s *UserService) GetByID(ctx context.Context, id string) (*model.User, error) {
	id, err := requireUserID(id)
	if err != nil {
		return nil, err
	}
	return s.users.GetUserByID(ctx, id)
}

func (s *UserService) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	return s.users.GetUserByEmail(ctx, email)
}

// normalizeEmail validates a bare address and lower-cases it, so
// "Ada@Example.com" and "ada@example.com" are one account.
func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", apperror.ValidationFailed("email", "email is required")
	}
	if len(email) > MaxEmailLength {
		return "", apperror.ValidationFailed("email",
			fmt.Sprintf("email must be %d characters or less", MaxEmailLength))
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperror.ValidationFailed("email", "email is not a valid address")
	}
	return email, nil
}
