package dto

import "time"

// ProvisionAccountRequest converts a prospect into a portal customer account.
type ProvisionAccountRequest struct {
	Email  string  `json:"email" validate:"required,email"`
	Name   string  `json:"name" validate:"required,max=120"`
	LeadID *string `json:"leadId" validate:"omitempty,uuid"`
}

// ProvisionAccountResponse carries the setup link for the operator.
type ProvisionAccountResponse struct {
	UserID     string    `json:"userId"`
	SetupToken string    `json:"setupToken"`
	SetupURL   string    `json:"setupUrl"`
	ExpiresAt  time.Time `json:"expiresAt"`
	Reissued   bool      `json:"reissued"`
}

// SetupTokenResponse answers a validation probe.
type SetupTokenResponse struct {
	Valid bool   `json:"valid"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// SetupPasswordRequest consumes a setup token.
type SetupPasswordRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}
