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

// MinPasswordLength is enforced on every password a user chooses.
const MinPasswordLength = 8

var errInvalidCredentials = apperrors.NewUnauthorized("invalid email or password")

// Session is the credential pair handed out after a successful login or activation.
type Session struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int64
	User         *domain.User
}

// RefreshedAccess is the result of exchanging a refresh token.
type RefreshedAccess struct {
	AccessToken string
	ExpiresIn   int64
}

// AuthService coordinates registration, login and token refresh flows.
type AuthService struct {
	users       repository.UserRepository
	roles       repository.RoleRepository
	revocations repository.TokenRevocationRepository
	tokenMgr    *auth.TokenManager
	logger      *zap.Logger
	bcryptCost  int
}

// AuthDependencies encapsulates repo requirements for auth service.
type AuthDependencies struct {
	UserRepo       repository.UserRepository
	RoleRepo       repository.RoleRepository
	RevocationRepo repository.TokenRevocationRepository
	TokenManager   *auth.TokenManager
	Logger         *zap.Logger
	BcryptCost     int
}

// NewAuthService builds the service.
func NewAuthService(deps AuthDependencies) *AuthService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		users:       deps.UserRepo,
		roles:       deps.RoleRepo,
		revocations: deps.RevocationRepo,
		tokenMgr:    deps.TokenManager,
		logger:      logger,
		bcryptCost:  deps.BcryptCost,
	}
}

// Login authenticates an account of either audience. Only ACTIVE accounts may log in.
func (s *AuthService) Login(ctx context.Context, email, password string) (*Session, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		s.logger.Info("login rejected", zap.String("reason", "unknown_email"))
		return nil, errInvalidCredentials
	}
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	if user.Status != domain.UserStatusActive {
		s.logger.Info("login rejected", zap.String("user_id", user.ID), zap.String("reason", "status_"+strings.ToLower(string(user.Status))))
		return nil, apperrors.NewUnauthorized("account is disabled")
	}
	if err := auth.ComparePassword(user.PasswordHash, password); err != nil {
		s.logger.Info("login rejected", zap.String("user_id", user.ID), zap.String("reason", "bad_password"))
		return nil, errInvalidCredentials
	}

	return s.issueSession(user)
}

// Register creates a self-service CUSTOMER account.
func (s *AuthService) Register(ctx context.Context, name, email, password string) (*domain.User, error) {
	if len(password) < MinPasswordLength {
		return nil, apperrors.NewValidationError("password too short", map[string]any{"password": "min"})
	}
	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, apperrors.NewConflict("email already registered", nil)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewInternalError(err)
	}

	role, err := s.roles.GetByCode(ctx, domain.RoleCustomer)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	user := &domain.User{
		Name:         strings.TrimSpace(name),
		Email:        strings.TrimSpace(email),
		PasswordHash: hash,
		RoleID:       role.ID,
		RoleCode:     role.Code,
		RoleName:     role.Name,
		Status:       domain.UserStatusActive,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, apperrors.NewConflict("email already registered", nil)
		}
		return nil, apperrors.NewInternalError(err)
	}
	return user, nil
}

// Refresh exchanges a refresh token for an access token carrying the user's
// current role. The user is reloaded so suspensions and role changes apply.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*RefreshedAccess, error) {
	token, err := s.tokenMgr.VerifyRefresh(refreshToken)
	if err != nil {
		s.logger.Info("refresh rejected", zap.Error(err))
		return nil, apperrors.NewUnauthorized("refresh token is invalid or expired")
	}

	if s.revocations != nil && token.ID != "" {
		revoked, err := s.revocations.IsRevoked(ctx, token.ID)
		if err != nil {
			return nil, apperrors.NewInternalError(err)
		}
		if revoked {
			s.logger.Info("refresh rejected", zap.String("user_id", token.UserID), zap.String("reason", "revoked"))
			return nil, apperrors.NewUnauthorized("refresh token is invalid or expired")
		}
	}

	user, err := s.users.GetByID(ctx, token.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewUnauthorized("user not found or disabled")
	}
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	if user.Status != domain.UserStatusActive {
		s.logger.Info("refresh rejected", zap.String("user_id", user.ID), zap.String("reason", "inactive"))
		return nil, apperrors.NewUnauthorized("user not found or disabled")
	}

	access, expiresIn, err := s.tokenMgr.IssueAccess(user)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return &RefreshedAccess{AccessToken: access, ExpiresIn: expiresIn}, nil
}

// Logout revokes the caller's refresh token until its own expiry. An empty or
// unusable token, or one issued to another user, is accepted silently and left
// alone.
func (s *AuthService) Logout(ctx context.Context, userID, refreshToken string) error {
	if refreshToken == "" || s.revocations == nil {
		return nil
	}
	token, err := s.tokenMgr.VerifyRefresh(refreshToken)
	if err != nil || token.ID == "" {
		return nil
	}
	if token.UserID != userID {
		s.logger.Warn("logout presented another user's refresh token", zap.String("user_id", userID))
		return nil
	}
	if err := s.revocations.Revoke(ctx, token.ID, token.ExpiresAt); err != nil {
		return apperrors.NewInternalError(err)
	}
	return nil
}

// CurrentUser loads the caller's account.
func (s *AuthService) CurrentUser(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewNotFound("user", nil)
	}
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return user, nil
}

// ChangePassword verifies the current password before storing the new hash.
func (s *AuthService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if len(newPassword) < MinPasswordLength {
		return apperrors.NewValidationError("password too short", map[string]any{"newPassword": "min"})
	}
	user, err := s.CurrentUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := auth.ComparePassword(user.PasswordHash, currentPassword); err != nil {
		return errInvalidCredentials
	}

	hash, err := auth.HashPassword(newPassword, s.bcryptCost)
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return apperrors.NewInternalError(err)
	}
	return nil
}

func (s *AuthService) issueSession(user *domain.User) (*Session, error) {
	return newSession(s.tokenMgr, user)
}

func newSession(tokens *auth.TokenManager, user *domain.User) (*Session, error) {
	access, expiresIn, err := tokens.IssueAccess(user)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	refresh, err := tokens.IssueRefresh(user)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return &Session{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
		User:         user,
	}, nil
}
