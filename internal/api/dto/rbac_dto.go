package dto

import (
	"time"

	"github.com/spec-kit/crm-identity/internal/domain"
)

// CreateRoleRequest payload.
type CreateRoleRequest struct {
	Code        string `json:"code" validate:"required,max=40"`
	Name        string `json:"name" validate:"required,max=80"`
	Description string `json:"description" validate:"max=255"`
}

// SetRolePermissionsRequest replaces a role's grant set.
type SetRolePermissionsRequest struct {
	Permissions []string `json:"permissions" validate:"required,dive,max=80"`
}

// RoleResponse projection.
type RoleResponse struct {
	ID              string    `json:"id"`
	Code            string    `json:"code"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	IsSystem        bool      `json:"isSystem"`
	UserCount       int       `json:"userCount"`
	PermissionCount int       `json:"permissionCount"`
	CreatedAt       time.Time `json:"createdAt"`
}

// PermissionResponse projection.
type PermissionResponse struct {
	ID          string `json:"id"`
	Code        string `json:"code"`
	Resource    string `json:"resource"`
	Action      string `json:"action"`
	Description string `json:"description,omitempty"`
}

// RolePermissionsResponse lists a role's stored grants.
type RolePermissionsResponse struct {
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	Ignored     []string `json:"ignored,omitempty"`
}

// NewRoleResponse projects a role.
func NewRoleResponse(r *domain.Role) RoleResponse {
	return RoleResponse{
		ID:              r.ID,
		Code:            r.Code,
		Name:            r.Name,
		Description:     r.Description,
		IsSystem:        r.IsSystem,
		UserCount:       r.UserCount,
		PermissionCount: r.PermissionCount,
		CreatedAt:       r.CreatedAt,
	}
}

// NewPermissionResponse projects a permission.
func NewPermissionResponse(p domain.Permission) PermissionResponse {
	return PermissionResponse{
		ID:          p.ID,
		Code:        p.Code,
		Resource:    p.Resource,
		Action:      p.Action,
		Description: p.Description,
	}
}
