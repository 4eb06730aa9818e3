package auth

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/crm-identity/internal/domain"
	apperrors "github.com/spec-kit/crm-identity/pkg/util"
)

// RequireRole ensures the attached identity holds one of the allowed role codes.
//
// Deprecated: prefer RequirePermission. Kept for coarse admin-only surfaces.
func (g *Gate) RequireRole(allowed ...string) fiber.Handler {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, role := range allowed {
		allowedSet[role] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		identity, ok := IdentityFromContext(c)
		if !ok {
			return g.reject("require_role", apperrors.NewUnauthorized("authentication required"))
		}
		if _, exists := allowedSet[identity.RoleCode]; !exists {
			return g.reject("require_role", apperrors.NewForbidden("insufficient role"))
		}
		g.metrics.RecordGateDecision("require_role", "allow")
		return c.Next()
	}
}

// RequirePermission ensures the attached identity's role grants permission.
// A resolver failure denies the request with INTERNAL_ERROR.
func (g *Gate) RequirePermission(permission string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		identity, ok := IdentityFromContext(c)
		if !ok {
			return g.reject("require_permission", apperrors.NewUnauthorized("authentication required"))
		}
		if domain.GrantsAll(identity.RoleCode) {
			g.metrics.RecordGateDecision("require_permission", "allow")
			return c.Next()
		}

		granted, err := g.permissions.HasPermission(c.UserContext(), identity.RoleCode, permission)
		if err != nil {
			g.logger.Error("permission check failed",
				zap.String("role", identity.RoleCode),
				zap.String("permission", permission),
				zap.Error(err))
			return g.reject("require_permission", apperrors.NewInternalError(err))
		}
		if !granted {
			return g.reject("require_permission", apperrors.NewForbidden("missing permission "+permission))
		}
		g.metrics.RecordGateDecision("require_permission", "allow")
		return c.Next()
	}
}

// CustomerOnly admits only CUSTOMER tokens.
func (g *Gate) CustomerOnly() fiber.Handler {
	return g.requireAudience("customer_only", domain.AudienceCustomer)
}

// StaffOnly admits every role except CUSTOMER.
func (g *Gate) StaffOnly() fiber.Handler {
	return g.requireAudience("staff_only", domain.AudienceStaff)
}

func (g *Gate) requireAudience(gate string, audience domain.Audience) fiber.Handler {
	return func(c *fiber.Ctx) error {
		identity, ok := IdentityFromContext(c)
		if !ok {
			var err error
			identity, err = g.authenticate(c)
			if err != nil {
				return g.reject(gate, err)
			}
			setIdentity(c, identity)
		}
		if domain.AudienceOf(identity.RoleCode) != audience {
			return g.reject(gate, apperrors.NewForbidden("not available for this account type"))
		}
		g.metrics.RecordGateDecision(gate, "allow")
		return c.Next()
	}
}
