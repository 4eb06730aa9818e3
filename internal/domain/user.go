package domain

import "time"

// UserStatus represents lifecycle states for an account.
type UserStatus string

const (
	UserStatusActive    UserStatus = "ACTIVE"
	UserStatusInactive  UserStatus = "INACTIVE"
	UserStatusSuspended UserStatus = "SUSPENDED"
)

// Valid reports whether s is a known status.
func (s UserStatus) Valid() bool {
	switch s {
	case UserStatusActive, UserStatusInactive, UserStatusSuspended:
		return true
	}
	return false
}

// User is an account of either audience: staff working in the CRM or a portal customer.
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	RoleID       string
	RoleCode     string
	RoleName     string
	Status       UserStatus
	Department   *string
	AvatarURL    *string
	Activation   *ActivationToken
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ActivationToken is the one-time setup secret held by a provisioned account
// until its first password is set.
type ActivationToken struct {
	Value     string
	ExpiresAt time.Time
}

// Live reports whether the token can still be consumed at now.
func (t *ActivationToken) Live(now time.Time) bool {
	return t != nil && t.Value != "" && now.Before(t.ExpiresAt)
}
