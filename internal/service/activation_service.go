package service

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/crm-identity/internal/auth"
	"github.com/spec-kit/crm-identity/internal/domain"
	"github.com/spec-kit/crm-identity/internal/events"
	"github.com/spec-kit/crm-identity/internal/repository"
	apperrors "github.com/spec-kit/crm-identity/pkg/util"
)

const activationTokenBytes = 32

var errActivationLink = apperrors.NewUnauthorized("setup link is invalid or expired")

// ProvisionInput describes the customer account to create for a converted prospect.
type ProvisionInput struct {
	Email  string
	Name   string
	LeadID *string
}

// ProvisionResult carries the one-time setup secret back to the operator.
type ProvisionResult struct {
	UserID     string
	SetupToken string
	SetupURL   string
	ExpiresAt  time.Time
	Reissued   bool
}

// ActivationPreview is what a live setup token would activate.
type ActivationPreview struct {
	Email string
	Name  string
}

// ActivationService provisions customer accounts and lets them set a first password.
type ActivationService struct {
	users      repository.UserRepository
	roles      repository.RoleRepository
	tokenMgr   *auth.TokenManager
	dispatcher events.Dispatcher
	logger     *zap.Logger
	bcryptCost int
	tokenTTL   time.Duration
	now        func() time.Time
}

// ActivationDependencies groups the collaborators of ActivationService.
type ActivationDependencies struct {
	UserRepo     repository.UserRepository
	RoleRepo     repository.RoleRepository
	TokenManager *auth.TokenManager
	Dispatcher   events.Dispatcher
	Logger       *zap.Logger
	BcryptCost   int
	TokenTTL     time.Duration
	Now          func() time.Time
}

// NewActivationService builds the service.
func NewActivationService(deps ActivationDependencies) *ActivationService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := deps.TokenTTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &ActivationService{
		users:      deps.UserRepo,
		roles:      deps.RoleRepo,
		tokenMgr:   deps.TokenManager,
		dispatcher: deps.Dispatcher,
		logger:     logger,
		bcryptCost: deps.BcryptCost,
		tokenTTL:   ttl,
		now:        now,
	}
}

// Provision creates an INACTIVE customer account holding a fresh setup token.
// An account that was provisioned but never activated gets its token replaced;
// an activated account is a conflict.
func (s *ActivationService) Provision(ctx context.Context, actor *domain.Identity, in ProvisionInput) (*ProvisionResult, error) {
	email := strings.TrimSpace(in.Email)
	secret, err := auth.RandomSecret(activationTokenBytes)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	token := domain.ActivationToken{Value: secret, ExpiresAt: s.now().Add(s.tokenTTL)}

	existing, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		return s.reissue(ctx, actor, existing, token, in)
	case !errors.Is(err, repository.ErrNotFound):
		return nil, apperrors.NewInternalError(err)
	}

	role, err := s.roles.GetByCode(ctx, domain.RoleCustomer)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	// The placeholder is never disclosed; the account is unusable until activation.
	placeholder, err := auth.RandomSecret(activationTokenBytes)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	hash, err := auth.HashPassword(placeholder, s.bcryptCost)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	user := &domain.User{
		Email:        email,
		Name:         strings.TrimSpace(in.Name),
		PasswordHash: hash,
		RoleID:       role.ID,
		RoleCode:     role.Code,
		RoleName:     role.Name,
		Status:       domain.UserStatusInactive,
		Activation:   &token,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, apperrors.NewConflict("an account with this email already exists", nil)
		}
		return nil, apperrors.NewInternalError(err)
	}

	result := s.result(user.ID, token, false)
	s.logger.Info("customer account provisioned", zap.String("user_id", user.ID))
	s.publish(ctx, actor, user, in, result)
	return result, nil
}

func (s *ActivationService) reissue(ctx context.Context, actor *domain.Identity, user *domain.User, token domain.ActivationToken, in ProvisionInput) (*ProvisionResult, error) {
	if user.Activation == nil {
		return nil, apperrors.NewConflict("account is already activated", map[string]any{"userId": user.ID})
	}
	if err := s.users.ReissueActivationToken(ctx, user.ID, token); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, apperrors.NewConflict("account is already activated", map[string]any{"userId": user.ID})
		}
		return nil, apperrors.NewInternalError(err)
	}

	result := s.result(user.ID, token, true)
	s.logger.Info("activation token reissued", zap.String("user_id", user.ID))
	s.publish(ctx, actor, user, in, result)
	return result, nil
}

// Validate reports what a live token would activate without consuming it.
func (s *ActivationService) Validate(ctx context.Context, token string) (*ActivationPreview, error) {
	user, err := s.lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	return &ActivationPreview{Email: user.Email, Name: user.Name}, nil
}

// Activate consumes the token, stores the chosen password and logs the user in.
// The token is usable exactly once.
func (s *ActivationService) Activate(ctx context.Context, token, password string) (*Session, error) {
	if len(password) < MinPasswordLength {
		return nil, apperrors.NewValidationError("password too short", map[string]any{"password": "min"})
	}
	// Cheap rejection before paying for the hash.
	if _, err := s.lookup(ctx, token); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	user, err := s.users.ConsumeActivationToken(ctx, token, hash, s.now())
	if errors.Is(err, repository.ErrNotFound) {
		return nil, errActivationLink
	}
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	s.logger.Info("account activated", zap.String("user_id", user.ID))
	if s.dispatcher != nil {
		_ = s.dispatcher.Publish(ctx, events.Event{
			ID:        uuid.NewString(),
			Type:      events.EventAccountActivated,
			SubjectID: user.ID,
			Actor:     events.Actor{UserID: &user.ID, RoleCode: user.RoleCode},
			Timestamp: s.now(),
			Payload:   events.AccountActivatedPayload{Email: user.Email},
		})
	}
	return newSession(s.tokenMgr, user)
}

func (s *ActivationService) lookup(ctx context.Context, token string) (*domain.User, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errActivationLink
	}
	user, err := s.users.GetByActivationToken(ctx, token, s.now())
	if errors.Is(err, repository.ErrNotFound) {
		return nil, errActivationLink
	}
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	if user.Status == domain.UserStatusSuspended {
		return nil, errActivationLink
	}
	return user, nil
}

func (s *ActivationService) result(userID string, token domain.ActivationToken, reissued bool) *ProvisionResult {
	return &ProvisionResult{
		UserID:     userID,
		SetupToken: token.Value,
		SetupURL:   "/setup-password?token=" + url.QueryEscape(token.Value),
		ExpiresAt:  token.ExpiresAt,
		Reissued:   reissued,
	}
}

func (s *ActivationService) publish(ctx context.Context, actor *domain.Identity, user *domain.User, in ProvisionInput, result *ProvisionResult) {
	if s.dispatcher == nil {
		return
	}
	var by events.Actor
	if actor != nil {
		by = events.Actor{UserID: &actor.UserID, RoleCode: actor.RoleCode}
	}
	_ = s.dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventAccountProvisioned,
		SubjectID: user.ID,
		Actor:     by,
		Timestamp: s.now(),
		Payload: events.AccountProvisionedPayload{
			Email:     user.Email,
			Name:      user.Name,
			LeadID:    in.LeadID,
			SetupURL:  result.SetupURL,
			ExpiresAt: result.ExpiresAt,
			Reissued:  result.Reissued,
		},
	})
}
