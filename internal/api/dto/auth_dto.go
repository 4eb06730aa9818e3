package dto

import (
	"time"

	"github.com/spec-kit/crm-identity/internal/domain"
)

// LoginRequest payload for login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RegisterRequest payload for self-service customer registration.
type RegisterRequest struct {
	Name     string `json:"name" validate:"required,max=120"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// RefreshRequest payload for token refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

// LogoutRequest optionally names the refresh token to revoke.
type LogoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// ChangePasswordRequest payload for authenticated password changes.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=8,max=72"`
}

// UserSummary is the user block embedded in session responses.
type UserSummary struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Email     string  `json:"email"`
	Role      string  `json:"role"`
	RoleID    string  `json:"roleId"`
	AvatarURL *string `json:"avatarUrl"`
}

// SessionResponse is returned by login and password setup.
type SessionResponse struct {
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
	TokenType    string      `json:"tokenType"`
	ExpiresIn    int64       `json:"expiresIn"`
	User         UserSummary `json:"user"`
}

// RefreshResponse is returned by token refresh.
type RefreshResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int64  `json:"expiresIn"`
}

// UserResponse is the full account projection.
type UserResponse struct {
	ID         string            `json:"id"`
	Email      string            `json:"email"`
	Name       string            `json:"name"`
	RoleID     string            `json:"roleId"`
	RoleCode   string            `json:"roleCode"`
	RoleName   string            `json:"roleName"`
	Status     domain.UserStatus `json:"status"`
	Department *string           `json:"department"`
	AvatarURL  *string           `json:"avatarUrl"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// SessionStateResponse tells an optional-auth caller who it is, if anyone.
type SessionStateResponse struct {
	Authenticated bool             `json:"authenticated"`
	User          *domain.Identity `json:"user,omitempty"`
}

// NewUserSummary projects a user for session responses.
func NewUserSummary(u *domain.User) UserSummary {
	return UserSummary{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Role:      u.RoleCode,
		RoleID:    u.RoleID,
		AvatarURL: u.AvatarURL,
	}
}

// NewUserResponse projects a user for profile and admin responses.
func NewUserResponse(u *domain.User) UserResponse {
	return UserResponse{
		ID:         u.ID,
		Email:      u.Email,
		Name:       u.Name,
		RoleID:     u.RoleID,
		RoleCode:   u.RoleCode,
		RoleName:   u.RoleName,
		Status:     u.Status,
		Department: u.Department,
		AvatarURL:  u.AvatarURL,
		CreatedAt:  u.CreatedAt,
	}
}
