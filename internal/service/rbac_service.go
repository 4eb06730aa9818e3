package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/crm-identity/internal/domain"
	"github.com/spec-kit/crm-identity/internal/events"
	"github.com/spec-kit/crm-identity/internal/rbac"
	"github.com/spec-kit/crm-identity/internal/repository"
	apperrors "github.com/spec-kit/crm-identity/pkg/util"
)

// PermissionReader resolves the effective permission list of a role.
type PermissionReader interface {
	RolePermissions(ctx context.Context, roleCode string) ([]string, error)
}

// PermissionUpdate reports the outcome of replacing a role's grant set.
type PermissionUpdate struct {
	Role    *domain.Role
	Applied []string
	Ignored []string
}

// RBACService manages roles and their permission grants. Every mutation
// invalidates the permission cache through the injected invalidator.
type RBACService struct {
	roles       repository.RoleRepository
	permissions repository.PermissionRepository
	users       repository.UserRepository
	resolver    PermissionReader
	invalidator rbac.Invalidator
	dispatcher  events.Dispatcher
	logger      *zap.Logger
}

// RBACDependencies groups the collaborators of RBACService.
type RBACDependencies struct {
	RoleRepo       repository.RoleRepository
	PermissionRepo repository.PermissionRepository
	UserRepo       repository.UserRepository
	Resolver       PermissionReader
	Invalidator    rbac.Invalidator
	Dispatcher     events.Dispatcher
	Logger         *zap.Logger
}

// NewRBACService builds the service.
func NewRBACService(deps RBACDependencies) *RBACService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RBACService{
		roles:       deps.RoleRepo,
		permissions: deps.PermissionRepo,
		users:       deps.UserRepo,
		resolver:    deps.Resolver,
		invalidator: deps.Invalidator,
		dispatcher:  deps.Dispatcher,
		logger:      logger,
	}
}

// ListRoles returns every role with its user and permission counts.
func (s *RBACService) ListRoles(ctx context.Context) ([]domain.Role, error) {
	roles, err := s.roles.List(ctx)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return roles, nil
}

// CreateRole adds a non-system role. Codes are stored upper-cased.
func (s *RBACService) CreateRole(ctx context.Context, code, name, description string) (*domain.Role, error) {
	code = domain.NormalizeRoleCode(code)
	if code == "" || strings.TrimSpace(name) == "" {
		return nil, apperrors.NewValidationError("code and name are required", nil)
	}

	if _, err := s.roles.GetByCode(ctx, code); err == nil {
		return nil, apperrors.NewConflict("role code already exists", map[string]any{"code": code})
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewInternalError(err)
	}

	role := &domain.Role{Code: code, Name: strings.TrimSpace(name), Description: strings.TrimSpace(description)}
	if err := s.roles.Create(ctx, role); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, apperrors.NewConflict("role code already exists", map[string]any{"code": code})
		}
		return nil, apperrors.NewInternalError(err)
	}
	s.invalidate(ctx, role.Code)
	s.logger.Info("role created", zap.String("role", role.Code))
	return role, nil
}

// DeleteRole removes a non-system role that no user holds.
func (s *RBACService) DeleteRole(ctx context.Context, actor *domain.Identity, code string) error {
	role, err := s.roleByCode(ctx, code)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return apperrors.NewForbidden("system roles cannot be deleted")
	}

	if err := s.roles.Delete(ctx, role.ID); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return apperrors.NewNotFound("role", map[string]any{"code": role.Code})
		case errors.Is(err, repository.ErrConflict):
			return apperrors.NewConflict("role is still assigned to users", map[string]any{"code": role.Code})
		}
		return apperrors.NewInternalError(err)
	}

	s.invalidate(ctx, role.Code)
	s.logger.Info("role deleted", zap.String("role", role.Code))
	s.publish(ctx, actor, events.EventRoleDeleted, role.ID, events.RoleDeletedPayload{RoleCode: role.Code})
	return nil
}

// ListPermissions returns the catalogue ordered by resource and action.
func (s *RBACService) ListPermissions(ctx context.Context) ([]domain.Permission, error) {
	perms, err := s.permissions.List(ctx)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return perms, nil
}

// GroupedPermissions returns the catalogue keyed by resource.
func (s *RBACService) GroupedPermissions(ctx context.Context) (map[string][]domain.Permission, error) {
	perms, err := s.ListPermissions(ctx)
	if err != nil {
		return nil, err
	}
	grouped := make(map[string][]domain.Permission)
	for _, p := range perms {
		grouped[p.Resource] = append(grouped[p.Resource], p)
	}
	return grouped, nil
}

// RolePermissions returns the codes stored for a role. ADMIN's stored rows are
// returned as-is; its universal grant is not materialised here.
func (s *RBACService) RolePermissions(ctx context.Context, code string) (*domain.Role, []string, error) {
	role, err := s.roleByCode(ctx, code)
	if err != nil {
		return nil, nil, err
	}
	codes, err := s.permissions.CodesForRole(ctx, role.Code)
	if err != nil {
		return nil, nil, apperrors.NewInternalError(err)
	}
	sort.Strings(codes)
	return role, codes, nil
}

// SetRolePermissions replaces the role's entire grant set in one transaction.
// Codes missing from the catalogue are skipped and reported back.
func (s *RBACService) SetRolePermissions(ctx context.Context, actor *domain.Identity, code string, codes []string) (*PermissionUpdate, error) {
	role, err := s.roleByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	requested := dedupe(codes)
	applied, err := s.permissions.ReplaceForRole(ctx, role.ID, requested)
	// A failed commit may still have landed, so the cached set is dropped either way.
	s.invalidate(ctx, role.Code)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("role", map[string]any{"code": role.Code})
		}
		return nil, apperrors.NewInternalError(err)
	}

	ignored := difference(requested, applied)
	if len(ignored) > 0 {
		s.logger.Warn("unknown permission codes ignored", zap.String("role", role.Code), zap.Strings("codes", ignored))
	}
	s.logger.Info("role permissions replaced", zap.String("role", role.Code), zap.Int("count", len(applied)))

	update := &PermissionUpdate{Role: role, Applied: applied, Ignored: ignored}
	s.publish(ctx, actor, events.EventRolePermissionsChanged, role.ID, events.RolePermissionsChangedPayload{
		RoleCode: role.Code,
		Applied:  applied,
		Ignored:  ignored,
	})
	return update, nil
}

// UserPermissions returns the permission codes of the user's role, or ["*"] for ADMIN.
func (s *RBACService) UserPermissions(ctx context.Context, userID string) ([]string, error) {
	user, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewNotFound("user", nil)
	}
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	if domain.GrantsAll(user.RoleCode) {
		return []string{domain.AllPermissions}, nil
	}
	codes, err := s.resolver.RolePermissions(ctx, user.RoleCode)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return codes, nil
}

func (s *RBACService) roleByCode(ctx context.Context, code string) (*domain.Role, error) {
	code = domain.NormalizeRoleCode(code)
	role, err := s.roles.GetByCode(ctx, code)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewNotFound("role", map[string]any{"code": code})
	}
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return role, nil
}

// invalidate never fails the mutation: the write is committed, and the
// broadcaster has already dropped the local entry before publishing.
func (s *RBACService) invalidate(ctx context.Context, roleCode string) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Invalidate(ctx, roleCode); err != nil {
		s.logger.Error("permission cache invalidation failed", zap.String("role", roleCode), zap.Error(err))
	}
}

func (s *RBACService) publish(ctx context.Context, actor *domain.Identity, eventType events.EventType, subjectID string, payload interface{}) {
	if s.dispatcher == nil {
		return
	}
	var by events.Actor
	if actor != nil {
		by = events.Actor{UserID: &actor.UserID, RoleCode: actor.RoleCode}
	}
	_ = s.dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		SubjectID: subjectID,
		Actor:     by,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}

func dedupe(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, code := range codes {
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	return out
}

func difference(all, subset []string) []string {
	keep := make(map[string]struct{}, len(subset))
	for _, code := range subset {
		keep[code] = struct{}{}
	}
	var out []string
	for _, code := range all {
		if _, ok := keep[code]; !ok {
			out = append(out, code)
		}
	}
	sort.Strings(out)
	return out
}
