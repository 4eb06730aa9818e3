package dto

import "github.com/spec-kit/crm-identity/internal/domain"

// ListUsersQuery holds the filters accepted by the user listing.
type ListUsersQuery struct {
	Search   string `query:"search" validate:"max=120"`
	RoleCode string `query:"roleCode" validate:"max=40"`
	Status   string `query:"status" validate:"omitempty,oneof=ACTIVE INACTIVE SUSPENDED"`
	Limit    int    `query:"limit" validate:"min=0,max=200"`
	Offset   int    `query:"offset" validate:"min=0"`
}

// CreateUserRequest payload for administrator-created accounts.
type CreateUserRequest struct {
	Name       string  `json:"name" validate:"required,max=120"`
	Email      string  `json:"email" validate:"required,email"`
	Password   string  `json:"password" validate:"required,min=8,max=72"`
	RoleID     string  `json:"roleId" validate:"required,uuid"`
	Department *string `json:"department" validate:"omitempty,max=120"`
}

// UpdateUserRequest holds optional profile changes.
type UpdateUserRequest struct {
	Name       *string            `json:"name" validate:"omitempty,min=1,max=120"`
	RoleID     *string            `json:"roleId" validate:"omitempty,uuid"`
	Department *string            `json:"department" validate:"omitempty,max=120"`
	Status     *domain.UserStatus `json:"status" validate:"omitempty,oneof=ACTIVE INACTIVE SUSPENDED"`
}
