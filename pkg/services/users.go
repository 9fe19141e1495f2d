package services

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"go.uber.org/zap"

	"github.com/planwatch/planwatch-engine/pkg/apperrors"
	"github.com/planwatch/planwatch-engine/pkg/models"
	"github.com/planwatch/planwatch-engine/pkg/repositories"
)

// UserService manages the recipients of deliveries.
type UserService interface {
	// Register returns the user with the email, creating it if needed.
	Register(ctx context.Context, email string) (*models.User, error)
	Get(ctx context.Context, id int64) (*models.User, error)
	// SetActive pauses or resumes every delivery to the user. Pending
	// deliveries stay queued while the user is inactive.
	SetActive(ctx context.Context, id int64, active bool) error
}

type userService struct {
	users  repositories.UserRepository
	logger *zap.Logger
}

// NewUserService creates a UserService.
func NewUserService(users repositories.UserRepository, logger *zap.Logger) UserService {
	return &userService{users: users, logger: logger.Named("user-service")}
}

var _ UserService = (*userService)(nil)

func (s *userService) Register(ctx context.Context, email string) (*models.User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	user, err := s.users.Add(ctx, email)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("Registered user", zap.Int64("user_id", user.ID))
	return user, nil
}

func (s *userService) Get(ctx context.Context, id int64) (*models.User, error) {
	return s.users.GetByID(ctx, id)
}

func (s *userService) SetActive(ctx context.Context, id int64, active bool) error {
	if err := s.users.SetActive(ctx, id, active); err != nil {
		return err
	}
	s.logger.Info("Updated user", zap.Int64("user_id", id), zap.Bool("active", active))
	return nil
}

// normalizeEmail accepts a bare address only, lowercased.
func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: %q", apperrors.ErrInvalidEmail, email)
	}
	return email, nil
}
