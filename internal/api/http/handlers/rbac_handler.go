package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/crm-identity/internal/api/dto"
	"github.com/spec-kit/crm-identity/internal/service"
)

// RBACHandler exposes role and permission administration.
type RBACHandler struct {
	rbac *service.RBACService
}

// NewRBACHandler constructs handler.
func NewRBACHandler(rbacService *service.RBACService) *RBACHandler {
	return &RBACHandler{rbac: rbacService}
}

// ListRoles handles GET /api/v1/rbac/roles.
func (h *RBACHandler) ListRoles(c *fiber.Ctx) error {
	roles, err := h.rbac.ListRoles(c.UserContext())
	if err != nil {
		return err
	}
	out := make([]dto.RoleResponse, 0, len(roles))
	for i := range roles {
		out = append(out, dto.NewRoleResponse(&roles[i]))
	}
	return c.JSON(fiber.Map{"roles": out})
}

// CreateRole handles POST /api/v1/rbac/roles.
func (h *RBACHandler) CreateRole(c *fiber.Ctx) error {
	var req dto.CreateRoleRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	role, err := h.rbac.CreateRole(c.UserContext(), req.Code, req.Name, req.Description)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(dto.NewRoleResponse(role))
}

// DeleteRole handles DELETE /api/v1/rbac/roles/:roleCode.
func (h *RBACHandler) DeleteRole(c *fiber.Ctx) error {
	identity, err := currentIdentity(c)
	if err != nil {
		return err
	}
	if err := h.rbac.DeleteRole(c.UserContext(), identity, c.Params("roleCode")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ListPermissions handles GET /api/v1/rbac/permissions.
func (h *RBACHandler) ListPermissions(c *fiber.Ctx) error {
	perms, err := h.rbac.ListPermissions(c.UserContext())
	if err != nil {
		return err
	}
	out := make([]dto.PermissionResponse, 0, len(perms))
	for _, p := range perms {
		out = append(out, dto.NewPermissionResponse(p))
	}
	return c.JSON(fiber.Map{"permissions": out})
}

// GroupedPermissions handles GET /api/v1/rbac/permissions/grouped.
func (h *RBACHandler) GroupedPermissions(c *fiber.Ctx) error {
	grouped, err := h.rbac.GroupedPermissions(c.UserContext())
	if err != nil {
		return err
	}
	out := make(map[string][]dto.PermissionResponse, len(grouped))
	for resource, perms := range grouped {
		for _, p := range perms {
			out[resource] = append(out[resource], dto.NewPermissionResponse(p))
		}
	}
	return c.JSON(out)
}

// RolePermissions handles GET /api/v1/rbac/roles/:roleCode/permissions.
func (h *RBACHandler) RolePermissions(c *fiber.Ctx) error {
	role, codes, err := h.rbac.RolePermissions(c.UserContext(), c.Params("roleCode"))
	if err != nil {
		return err
	}
	if codes == nil {
		codes = []string{}
	}
	return c.JSON(dto.RolePermissionsResponse{Role: role.Code, Permissions: codes})
}

// SetRolePermissions handles PUT /api/v1/rbac/roles/:roleCode/permissions.
func (h *RBACHandler) SetRolePermissions(c *fiber.Ctx) error {
	identity, err := currentIdentity(c)
	if err != nil {
		return err
	}
	var req dto.SetRolePermissionsRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	update, err := h.rbac.SetRolePermissions(c.UserContext(), identity, c.Params("roleCode"), req.Permissions)
	if err != nil {
		return err
	}
	applied := update.Applied
	if applied == nil {
		applied = []string{}
	}
	return c.JSON(dto.RolePermissionsResponse{Role: update.Role.Code, Permissions: applied, Ignored: update.Ignored})
}
