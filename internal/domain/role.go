package domain

import (
	"strings"
	"time"
)

// Role codes seeded as system roles.
const (
	RoleAdmin    = "ADMIN"
	RoleManager  = "MANAGER"
	RoleSales    = "SALES"
	RoleDelivery = "DELIVERY"
	RoleCustomer = "CUSTOMER"
)

// AllPermissions is returned in place of a permission list for ADMIN.
const AllPermissions = "*"

// Role is a named bundle of permissions. Every user holds exactly one.
type Role struct {
	ID              string
	Code            string
	Name            string
	Description     string
	IsSystem        bool
	UserCount       int
	PermissionCount int
	CreatedAt       time.Time
}

// Permission is an atomic resource:action grant.
type Permission struct {
	ID          string
	Code        string
	Resource    string
	Action      string
	Description string
}

// NormalizeRoleCode upper-cases and trims a role code.
func NormalizeRoleCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// SplitPermissionCode returns the resource and action parts of a resource:action code.
func SplitPermissionCode(code string) (resource, action string, ok bool) {
	resource, action, ok = strings.Cut(code, ":")
	if !ok || resource == "" || action == "" || strings.Contains(action, ":") {
		return "", "", false
	}
	return resource, action, true
}

// GrantsAll reports whether roleCode holds every permission unconditionally.
// ADMIN is never resolved through role_permissions rows so a missing or
// misconfigured grant set cannot lock administrators out.
func GrantsAll(roleCode string) bool {
	return roleCode == RoleAdmin
}
