package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/crm-identity/internal/auth"
	"github.com/spec-kit/crm-identity/internal/domain"
	"github.com/spec-kit/crm-identity/internal/repository"
	apperrors "github.com/spec-kit/crm-identity/pkg/util"
)

// CreateUserInput holds the fields an administrator supplies for a new account.
type CreateUserInput struct {
	Name       string
	Email      string
	Password   string
	RoleID     string
	Department *string
}

// UpdateUserInput holds optional profile changes. Nil fields are left untouched.
type UpdateUserInput struct {
	Name       *string
	RoleID     *string
	Department *string
	Status     *domain.UserStatus
}

// UserService administers staff and customer accounts.
type UserService struct {
	users      repository.UserRepository
	roles      repository.RoleRepository
	logger     *zap.Logger
	bcryptCost int
}

// NewUserService builds the service.
func NewUserService(users repository.UserRepository, roles repository.RoleRepository, logger *zap.Logger, bcryptCost int) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{users: users, roles: roles, logger: logger, bcryptCost: bcryptCost}
}

// List returns users matching the filter.
func (s *UserService) List(ctx context.Context, filter repository.UserFilter) ([]domain.User, error) {
	users, err := s.users.List(ctx, filter)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return users, nil
}

// Get loads one user.
func (s *UserService) Get(ctx context.Context, id string) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewNotFound("user", map[string]any{"id": id})
	}
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return user, nil
}

// Create adds an ACTIVE account with the given role.
func (s *UserService) Create(ctx context.Context, in CreateUserInput) (*domain.User, error) {
	if len(in.Password) < MinPasswordLength {
		return nil, apperrors.NewValidationError("password too short", map[string]any{"password": "min"})
	}
	role, err := s.role(ctx, in.RoleID)
	if err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(in.Password, s.bcryptCost)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	user := &domain.User{
		Name:         strings.TrimSpace(in.Name),
		Email:        strings.TrimSpace(in.Email),
		PasswordHash: hash,
		RoleID:       role.ID,
		RoleCode:     role.Code,
		RoleName:     role.Name,
		Status:       domain.UserStatusActive,
		Department:   in.Department,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, apperrors.NewConflict("email already registered", nil)
		}
		return nil, apperrors.NewInternalError(err)
	}
	s.logger.Info("user created", zap.String("user_id", user.ID), zap.String("role", role.Code))
	return user, nil
}

// Update applies profile changes. Only ADMIN may change a role; the new role
// reaches the user's tokens at their next refresh.
func (s *UserService) Update(ctx context.Context, actor *domain.Identity, id string, in UpdateUserInput) (*domain.User, error) {
	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.RoleID != nil && *in.RoleID != user.RoleID {
		if actor == nil || actor.RoleCode != domain.RoleAdmin {
			return nil, apperrors.NewForbidden("only administrators can change roles")
		}
		role, err := s.role(ctx, *in.RoleID)
		if err != nil {
			return nil, err
		}
		s.logger.Info("user role changed",
			zap.String("user_id", user.ID),
			zap.String("from", user.RoleCode),
			zap.String("to", role.Code))
		user.RoleID, user.RoleCode, user.RoleName = role.ID, role.Code, role.Name
	}
	if in.Name != nil {
		user.Name = strings.TrimSpace(*in.Name)
	}
	if in.Department != nil {
		user.Department = in.Department
	}
	if in.Status != nil {
		if !in.Status.Valid() {
			return nil, apperrors.NewValidationError("invalid status", map[string]any{"status": string(*in.Status)})
		}
		user.Status = *in.Status
	}

	if err := s.users.Update(ctx, user); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("user", map[string]any{"id": id})
		}
		return nil, apperrors.NewInternalError(err)
	}
	return user, nil
}

func (s *UserService) role(ctx context.Context, id string) (*domain.Role, error) {
	role, err := s.roles.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewValidationError("unknown role", map[string]any{"roleId": id})
	}
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return role, nil
}
